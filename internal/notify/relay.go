package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"itam-api/internal/logger"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/store"

	"go.uber.org/zap"
)

// Publisher hands one message to the delivery channel
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Envelope is the wire form of a relayed notification
type Envelope struct {
	ID                string                  `json:"id"`
	TenantID          string                  `json:"tenant_id"`
	UserID            string                  `json:"user_id"`
	Type              models.NotificationType `json:"type"`
	Title             string                  `json:"title"`
	Message           string                  `json:"message"`
	Link              *string                 `json:"link,omitempty"`
	RelatedEntityType *string                 `json:"related_entity_type,omitempty"`
	RelatedEntityID   *string                 `json:"related_entity_id,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

// RoutingKey is notification.<type>
func RoutingKey(t models.NotificationType) string {
	return "notification." + string(t)
}

// Relay moves undelivered notifications from the store to a Publisher.
// Delivery is at-least-once: a row is marked delivered only after it was published.
type Relay struct {
	store     store.Store
	pub       Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRelay builds a relay polling every interval
func NewRelay(st store.Store, pub Publisher, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{
		store:     st,
		pub:       pub,
		log:       logger.OrNop(log).Named("notify"),
		metrics:   m,
		interval:  interval,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Flush publishes one batch of pending notifications and returns how many were delivered.
// It stops at the first publish failure so ordering within a batch is kept.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.PendingNotifications(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	var delivered []string
	var pubErr error
	for _, n := range pending {
		body, err := json.Marshal(Envelope{
			ID:                n.ID,
			TenantID:          n.TenantID,
			UserID:            n.UserID,
			Type:              n.Type,
			Title:             n.Title,
			Message:           n.Message,
			Link:              n.Link,
			RelatedEntityType: n.RelatedEntityType,
			RelatedEntityID:   n.RelatedEntityID,
			CreatedAt:         n.CreatedAt,
		})
		if err != nil {
			pubErr = fmt.Errorf("encode notification %s: %w", n.ID, err)
			break
		}
		if err := r.pub.Publish(ctx, RoutingKey(n.Type), body); err != nil {
			pubErr = fmt.Errorf("publish notification %s: %w", n.ID, err)
			break
		}
		delivered = append(delivered, n.ID)
	}

	if len(delivered) > 0 {
		if err := r.store.MarkNotificationsDelivered(context.WithoutCancel(ctx), delivered, r.now()); err != nil {
			// published rows will be sent again on the next pass
			r.log.Error("mark notifications delivered", zap.Int("count", len(delivered)), zap.Error(err))
			return 0, err
		}
	}
	r.metrics.Relayed("ok", len(delivered))
	if pubErr != nil {
		r.metrics.Relayed("error", 1)
		return len(delivered), pubErr
	}
	return len(delivered), nil
}

// Run flushes on every tick until ctx is done. A full batch triggers an
// immediate follow-up flush.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("notification relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("notification relay stopped")
			return nil
		case <-ticker.C:
		}
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				r.log.Warn("notification relay pass failed", zap.Error(err))
				break
			}
			if n < r.batchSize {
				break
			}
		}
	}
}
