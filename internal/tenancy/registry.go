// Package tenancy owns tenant identity, subscription tier and the usage
// counters that back quota enforcement.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"itam-api/internal/logger"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the tenant registry and quota enforcer
type Registry struct {
	store   store.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRegistry wires a registry over st. log and m may be nil.
func NewRegistry(st store.Store, log *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   st,
		log:     logger.OrNop(log).Named("tenancy"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Provision creates an active tenant with limits derived from its tier
func (r *Registry) Provision(ctx context.Context, req models.CreateTenantRequest) (*models.Tenant, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}
	slug, err := models.NormalizeSlug(req.Slug)
	if err != nil {
		return nil, err
	}
	tier := models.TierFree
	if req.Tier != "" {
		if tier, err = models.ParseTier(req.Tier); err != nil {
			return nil, err
		}
	}

	now := r.now()
	t := &models.Tenant{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Slug:      slug,
		Tier:      tier,
		IsActive:  true,
		Limits:    models.LimitsFor(tier),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant %q: %w", slug, err)
	}
	r.log.Info("tenant provisioned", zap.String("tenant_id", t.ID), zap.String("slug", slug), zap.String("tier", string(tier)))
	return t, nil
}

// Get returns a tenant with its current usage
func (r *Registry) Get(ctx context.Context, id string) (*models.Tenant, error) {
	return r.store.GetTenant(ctx, id)
}

// GetBySlug resolves a tenant by its normalized slug
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	norm, err := models.NormalizeSlug(slug)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return r.store.GetTenantBySlug(ctx, norm)
}

// List returns all tenants ordered by slug
func (r *Registry) List(ctx context.Context) ([]models.Tenant, error) {
	return r.store.ListTenants(ctx)
}

// SetActive toggles the tenant's active flag. Inactive tenants are denied every reservation.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*models.Tenant, error) {
	t, err := r.store.SetTenantActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	r.log.Info("tenant active flag changed", zap.String("tenant_id", id), zap.Bool("active", active))
	return t, nil
}

// ChangeTier moves a tenant to another tier and recomputes its limits. A
// downgrade below current usage is refused with *models.QuotaExceededError.
func (r *Registry) ChangeTier(ctx context.Context, id string, tier models.Tier) (*models.Tenant, error) {
	if !tier.Valid() {
		return nil, models.ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	limits := models.LimitsFor(tier)
	t, applied, err := r.store.UpdateTenantPlan(ctx, id, tier, limits)
	if err != nil {
		return nil, err
	}
	if !applied {
		kind, _ := t.Usage.Exceeds(limits)
		r.metrics.QuotaDenied(string(kind))
		return nil, &models.QuotaExceededError{Kind: kind, Limit: limits.For(kind), Attempted: t.Usage.For(kind)}
	}
	r.log.Info("tenant tier changed", zap.String("tenant_id", id), zap.String("tier", string(tier)))
	return t, nil
}

// TryReserve atomically claims delta units of kind for the tenant. It fails
// with *models.QuotaExceededError when current+delta would pass the limit and
// with models.ErrTenantInactive for a deactivated tenant.
func (r *Registry) TryReserve(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (*Reservation, error) {
	if !kind.Valid() {
		return nil, models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown resource kind %q", kind)}
	}
	if delta <= 0 {
		return nil, models.ValidationError{Field: "delta", Reason: "must be positive"}
	}
	t, applied, err := r.store.ReserveUsage(ctx, tenantID, kind, delta)
	if err != nil {
		return nil, err
	}
	if !applied {
		r.metrics.QuotaDenied(string(kind))
		if !t.IsActive {
			return nil, models.ErrTenantInactive
		}
		return nil, &models.QuotaExceededError{Kind: kind, Limit: t.Limits.For(kind), Attempted: t.Usage.For(kind) + delta}
	}
	r.log.Debug("quota reserved",
		zap.String("tenant_id", tenantID), zap.String("kind", string(kind)), zap.Int64("delta", delta))
	return &Reservation{registry: r, TenantID: tenantID, Kind: kind, Delta: delta}, nil
}

// Release gives back delta units of kind after an entity is deleted
func (r *Registry) Release(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) error {
	if delta <= 0 {
		return nil
	}
	if _, err := r.store.ReleaseUsage(ctx, tenantID, kind, delta); err != nil {
		return fmt.Errorf("release %d %s for tenant %s: %w", delta, kind, tenantID, err)
	}
	return nil
}

// WithReservation runs persist between a reservation and its confirmation.
// When persist fails the reservation is released before the error is returned.
func (r *Registry) WithReservation(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64, persist func() error) error {
	res, err := r.TryReserve(ctx, tenantID, kind, delta)
	if err != nil {
		return err
	}
	if err := persist(); err != nil {
		res.Release(ctx)
		return err
	}
	res.Confirm()
	return nil
}

// Reservation is a claimed but unconfirmed quota increment
type Reservation struct {
	registry *Registry
	TenantID string
	Kind     models.ResourceKind
	Delta    int64
	settled  bool
}

// Confirm marks the reservation as backed by a persisted entity
func (res *Reservation) Confirm() {
	res.settled = true
}

// Release undoes an unconfirmed reservation. It is a no-op once settled.
// Release runs on a context detached from cancellation so an aborted request
// still gives its units back.
func (res *Reservation) Release(ctx context.Context) {
	if res.settled {
		return
	}
	res.settled = true
	ctx = context.WithoutCancel(ctx)
	if err := res.registry.Release(ctx, res.TenantID, res.Kind, res.Delta); err != nil {
		res.registry.log.Error("compensating quota release failed",
			zap.String("tenant_id", res.TenantID), zap.String("kind", string(res.Kind)),
			zap.Int64("delta", res.Delta), zap.Error(err))
		return
	}
	res.registry.log.Warn("quota reservation released after failed persist",
		zap.String("tenant_id", res.TenantID), zap.String("kind", string(res.Kind)), zap.Int64("delta", res.Delta))
}

// IsQuotaExceeded reports whether err is a quota denial
func IsQuotaExceeded(err error) bool {
	var qe *models.QuotaExceededError
	return errors.As(err, &qe)
}
