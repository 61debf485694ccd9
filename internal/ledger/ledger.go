// Package ledger is the append-only assignment audit trail. Records are
// inserted once and closed once; nothing here edits or deletes them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/google/uuid"
)

// Ledger stamps and writes custody records inside a tenant transaction
type Ledger struct {
	now func() time.Time
}

// New returns a ledger on the wall clock
func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// NewWithClock returns a ledger whose timestamps come from now
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// Assign opens a custody record. It fails with *models.AlreadyAssignedError
// while another record for the asset is open.
func (l *Ledger) Assign(ctx context.Context, sc store.Scope, assetID, userID, byUserID string, notes *string) (*models.AssetAssignment, error) {
	if userID == "" {
		return nil, models.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if _, err := l.Active(ctx, sc, assetID); err == nil {
		return nil, &models.AlreadyAssignedError{AssetID: assetID}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	a := &models.AssetAssignment{
		ID:               uuid.NewString(),
		TenantID:         sc.TenantID(),
		AssetID:          assetID,
		UserID:           userID,
		AssignedByUserID: byUserID,
		AssignedAt:       l.now(),
		Notes:            notes,
	}
	if err := sc.InsertAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Return closes a custody record. It fails with *models.NotActiveError when
// the record was already returned.
func (l *Ledger) Return(ctx context.Context, sc store.Scope, assignmentID, byUserID string, cond models.ReturnCondition, notes *string) (*models.AssetAssignment, error) {
	if !cond.Valid() {
		return nil, models.ValidationError{Field: "condition", Reason: fmt.Sprintf("unknown condition %q", cond)}
	}
	a, err := sc.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, &models.NotActiveError{AssignmentID: assignmentID}
	}
	at := l.now()
	if at.Before(a.AssignedAt) {
		at = a.AssignedAt
	}
	return sc.CloseAssignment(ctx, assignmentID, models.AssignmentReturn{
		ReturnedAt:       at,
		ReturnedByUserID: byUserID,
		Condition:        cond,
		Notes:            notes,
	})
}

// Active returns the open record of an asset or models.ErrNotFound
func (l *Ledger) Active(ctx context.Context, sc store.Scope, assetID string) (*models.AssetAssignment, error) {
	return sc.ActiveAssignment(ctx, assetID)
}

// Holder returns the user holding custody of an asset, or "" when none does
func (l *Ledger) Holder(ctx context.Context, sc store.Scope, assetID string) (string, error) {
	a, err := l.Active(ctx, sc, assetID)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return a.UserID, nil
}

// ForAsset lists an asset's custody history, oldest first
func (l *Ledger) ForAsset(ctx context.Context, sc store.Scope, assetID string) ([]models.AssetAssignment, error) {
	return sc.ListAssignmentsByAsset(ctx, assetID)
}

// ForUser lists every asset a user has held, oldest first
func (l *Ledger) ForUser(ctx context.Context, sc store.Scope, userID string) ([]models.AssetAssignment, error) {
	return sc.ListAssignmentsByUser(ctx, userID)
}
