// Package notify queues notifications inside tenant transactions and relays
// them to the external delivery channel.
package notify

import (
	"context"
	"time"

	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/google/uuid"
)

// Message is the content shared by every recipient of one notification
type Message struct {
	Type              models.NotificationType
	Title             string
	Body              string
	Link              string
	RelatedEntityType string
	RelatedEntityID   string
}

// Outbox writes notification rows
type Outbox struct {
	now func() time.Time
}

// NewOutbox returns an outbox on the wall clock
func NewOutbox() *Outbox {
	return &Outbox{now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue writes one row per distinct, non-empty recipient and returns the rows written
func (o *Outbox) Enqueue(ctx context.Context, sc store.Scope, recipients []string, msg Message) ([]models.Notification, error) {
	now := o.now()
	var out []models.Notification
	for _, userID := range Dedupe(recipients) {
		n := models.Notification{
			ID:                uuid.NewString(),
			TenantID:          sc.TenantID(),
			UserID:            userID,
			Title:             msg.Title,
			Message:           msg.Body,
			Type:              msg.Type,
			Link:              optional(msg.Link),
			RelatedEntityType: optional(msg.RelatedEntityType),
			RelatedEntityID:   optional(msg.RelatedEntityID),
			CreatedAt:         now,
		}
		if err := sc.InsertNotification(ctx, &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Dedupe drops empty and repeated ids, keeping first-seen order
func Dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
