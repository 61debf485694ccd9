// Package store defines the persistence capability of the core.
//
// Tenant-scoped rows are reachable only through a Scope, and a Scope exists
// only inside Store.InTenant, which binds it to one tenant id and one
// transaction. No method on Scope takes a tenant id.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"itam-api/internal/models"
)

// Store is implemented by the memory and postgres backends
type Store interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	SetTenantActive(ctx context.Context, id string, active bool) (*models.Tenant, error)

	// UpdateTenantPlan sets tier and limits only if current usage fits the new
	// limits. applied is false when it does not; t is then the unchanged row.
	UpdateTenantPlan(ctx context.Context, id string, tier models.Tier, limits models.Limits) (t *models.Tenant, applied bool, err error)

	// ReserveUsage atomically adds delta to the kind's counter if the tenant is
	// active and the result stays within its limit. applied is false otherwise;
	// t is then the current row.
	ReserveUsage(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (t *models.Tenant, applied bool, err error)

	// ReleaseUsage atomically subtracts delta from the kind's counter, floored at zero.
	ReleaseUsage(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, error)

	// InTenant runs fn in one transaction bound to tenantID. fn's error rolls
	// everything back. Returns models.ErrNotFound for an unknown tenant.
	InTenant(ctx context.Context, tenantID string, fn func(Scope) error) error

	// FindUserByEmail serves credential checks, which run before a tenant is known.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// PendingNotifications and MarkNotificationsDelivered serve the outbox relay.
	PendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotificationsDelivered(ctx context.Context, ids []string, at time.Time) error

	Close()
}

// Scope is a tenant-bound transactional handle
type Scope interface {
	TenantID() string
	Tenant(ctx context.Context) (*models.Tenant, error)

	AssetRepo
	AssignmentRepo
	MaintenanceRepo
	AttachmentRepo
	AlertRepo
	NotificationRepo
	UserRepo
}

// AssetRepo stores assets. UpdateAsset expects a.RowVersion to hold the version
// that was read and bumps it on success; a stale version yields models.ErrVersionConflict.
type AssetRepo interface {
	NextAssetTag(ctx context.Context) (string, error)
	InsertAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	UpdateAsset(ctx context.Context, a *models.Asset) error
	DeleteAsset(ctx context.Context, id string) error
	ListAssets(ctx context.Context, f models.AssetFilter) ([]models.Asset, int, error)
	ListWarrantyCandidates(ctx context.Context) ([]models.Asset, error)
}

// AssignmentRepo is the append-only assignment ledger. The only write after
// insert is CloseAssignment, which succeeds once per record.
type AssignmentRepo interface {
	// InsertAssignment fails with *models.AlreadyAssignedError when the asset has an open record.
	InsertAssignment(ctx context.Context, a *models.AssetAssignment) error
	GetAssignment(ctx context.Context, id string) (*models.AssetAssignment, error)
	// ActiveAssignment returns models.ErrNotFound when custody is closed.
	ActiveAssignment(ctx context.Context, assetID string) (*models.AssetAssignment, error)
	// CloseAssignment fails with *models.NotActiveError when already returned.
	CloseAssignment(ctx context.Context, id string, ret models.AssignmentReturn) (*models.AssetAssignment, error)
	ListAssignmentsByAsset(ctx context.Context, assetID string) ([]models.AssetAssignment, error)
	ListAssignmentsByUser(ctx context.Context, userID string) ([]models.AssetAssignment, error)
	CountAssignments(ctx context.Context, assetID string) (int, error)
}

// MaintenanceRepo stores service records. UpdateMaintenance follows the same
// row version contract as UpdateAsset.
type MaintenanceRepo interface {
	InsertMaintenance(ctx context.Context, m *models.Maintenance) error
	GetMaintenance(ctx context.Context, id string) (*models.Maintenance, error)
	UpdateMaintenance(ctx context.Context, m *models.Maintenance) error
	DeleteMaintenance(ctx context.Context, id string) error
	ListMaintenance(ctx context.Context, assetID string) ([]models.Maintenance, error)
	CountMaintenance(ctx context.Context, assetID string) (int, error)
}

// AttachmentRepo stores attachment metadata. Storage keys are unique and never rewritten.
type AttachmentRepo interface {
	InsertAttachment(ctx context.Context, a *models.Attachment) error
	GetAttachment(ctx context.Context, kind models.AttachmentOwnerKind, id string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, kind models.AttachmentOwnerKind, id string) error
	ListAttachments(ctx context.Context, kind models.AttachmentOwnerKind, ownerID string) ([]models.Attachment, error)
}

// AlertRepo stores warranty alerts
type AlertRepo interface {
	// InsertAlert returns false without writing when an unacknowledged alert with
	// the same asset, type and warranty end date already exists.
	InsertAlert(ctx context.Context, a *models.WarrantyAlert) (bool, error)
	GetAlert(ctx context.Context, id string) (*models.WarrantyAlert, error)
	// AcknowledgeAlert fails with *models.AlreadyAcknowledgedError on a second call.
	AcknowledgeAlert(ctx context.Context, id string, at time.Time, byUserID string) (*models.WarrantyAlert, error)
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.WarrantyAlert, error)
	DeleteAlertsForAsset(ctx context.Context, assetID string) error
}

// NotificationRepo stores queued notifications
type NotificationRepo interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// UserRepo stores tenant members
type UserRepo interface {
	// InsertUser fails with models.ErrConflict when the email is taken.
	InsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]models.User, error)
	ActiveUserIDsWithRole(ctx context.Context, role string) ([]string, error)
}

// DefaultMaxRetries bounds optimistic-concurrency retries
const DefaultMaxRetries = 3

// WithRetry reruns a whole tenant transaction when it lost a row version race.
func WithRetry(ctx context.Context, st Store, tenantID string, maxRetries int, fn func(Scope) error) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := st.InTenant(ctx, tenantID, fn)
		if !errors.Is(err, models.ErrVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("too much contention in tenant %q: %w", tenantID, models.ErrVersionConflict)
}
