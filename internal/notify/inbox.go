package notify

import (
	"context"

	"itam-api/internal/models"
	"itam-api/internal/store"
)

// Inbox lists an actor's own notifications and marks them read
type Inbox struct {
	store store.Store
}

func NewInbox(st store.Store) *Inbox {
	return &Inbox{store: st}
}

func (i *Inbox) List(ctx context.Context, actor models.Actor, unreadOnly bool) ([]models.Notification, error) {
	out := []models.Notification{}
	err := i.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		rows, err := sc.ListNotifications(ctx, actor.UserID, unreadOnly)
		if err != nil {
			return err
		}
		out = append(out, rows...)
		return nil
	})
	return out, err
}

// MarkRead fails with models.ErrNotFound for another user's notification
func (i *Inbox) MarkRead(ctx context.Context, actor models.Actor, id string) error {
	return i.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		return sc.MarkNotificationRead(ctx, actor.UserID, id)
	})
}
