package notify

import (
	"context"

	"itam-api/internal/logger"

	"go.uber.org/zap"
)

// LogPublisher writes each message to the log instead of a broker. It serves
// deployments without AMQP_URL so the outbox still drains.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger.OrNop(log).Named("notify.log")}
}

func (p *LogPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.log.Info("notification", zap.String("routing_key", routingKey), zap.ByteString("body", body))
	return nil
}
