// Package warranty derives expiring and expired warranty alerts from asset
// state. A scan is idempotent: an open alert for the same asset, type and
// end date is never created twice.
package warranty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"itam-api/internal/logger"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result summarizes one scan
type Result struct {
	Tenants int `json:"tenants"`
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

func (r *Result) add(o Result) {
	r.Tenants += o.Tenants
	r.Scanned += o.Scanned
	r.Created += o.Created
	r.Skipped += o.Skipped
}

// Engine is the warranty alert engine
type Engine struct {
	store   store.Store
	outbox  *notify.Outbox
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine wires the engine. log and m may be nil.
func NewEngine(st store.Store, outbox *notify.Outbox, log *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   st,
		outbox:  outbox,
		log:     logger.OrNop(log).Named("warranty"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the engine's clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Scan runs ScanTenant over every active tenant. A failing tenant does not
// stop the others; their errors are joined.
func (e *Engine) Scan(ctx context.Context) (Result, error) {
	tenants, err := e.store.ListTenants(ctx)
	if err != nil {
		e.metrics.ScanRun("error")
		return Result{}, fmt.Errorf("list tenants: %w", err)
	}
	var (
		total Result
		errs  []error
	)
	for _, t := range tenants {
		if !t.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.ScanTenant(ctx, t.ID)
		if err != nil {
			e.log.Error("warranty scan failed", zap.String("tenant_id", t.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
			continue
		}
		total.add(res)
	}
	if len(errs) > 0 {
		e.metrics.ScanRun("error")
	} else {
		e.metrics.ScanRun("ok")
	}
	e.log.Info("warranty scan finished",
		zap.Int("tenants", total.Tenants), zap.Int("scanned", total.Scanned),
		zap.Int("created", total.Created), zap.Int("skipped", total.Skipped))
	return total, errors.Join(errs...)
}

// ScanTenant classifies every non-retired asset with a warranty end date and
// records the alerts that do not exist yet, notifying the assignee and the
// tenant admins of each new one.
func (e *Engine) ScanTenant(ctx context.Context, tenantID string) (Result, error) {
	today := models.DateOnly(e.now())
	var (
		res     Result
		created []models.AlertType
	)
	err := e.store.InTenant(ctx, tenantID, func(sc store.Scope) error {
		res = Result{Tenants: 1}
		created = created[:0]

		candidates, err := sc.ListWarrantyCandidates(ctx)
		if err != nil {
			return err
		}
		var admins []string
		for i := range candidates {
			a := &candidates[i]
			res.Scanned++
			kind, days, ok := models.ClassifyWarranty(*a.WarrantyEnd, today)
			if !ok {
				continue
			}
			alert := &models.WarrantyAlert{
				ID:              uuid.NewString(),
				TenantID:        sc.TenantID(),
				AssetID:         a.ID,
				Type:            kind,
				WarrantyEndDate: models.DateOnly(*a.WarrantyEnd),
				DaysRemaining:   days,
				CreatedAt:       e.now(),
			}
			inserted, err := sc.InsertAlert(ctx, alert)
			if err != nil {
				return fmt.Errorf("insert alert for asset %s: %w", a.ID, err)
			}
			if !inserted {
				res.Skipped++
				continue
			}
			res.Created++
			created = append(created, kind)

			if admins == nil {
				if admins, err = sc.ActiveUserIDsWithRole(ctx, models.RoleTenantAdmin); err != nil {
					return err
				}
			}
			recipients := append([]string(nil), admins...)
			holder, err := custodyHolder(ctx, sc, a)
			if err != nil {
				return err
			}
			if holder != "" {
				recipients = append([]string{holder}, recipients...)
			}
			if _, err := e.outbox.Enqueue(ctx, sc, recipients, alertMessage(a, alert)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	for _, k := range created {
		e.metrics.AlertCreated(string(k))
	}
	return res, nil
}

// custodyHolder reads the holder from the open ledger record, which outlives
// AssignedToUserID while the asset sits in maintenance.
func custodyHolder(ctx context.Context, sc store.Scope, a *models.Asset) (string, error) {
	rec, err := sc.ActiveAssignment(ctx, a.ID)
	switch {
	case err == nil:
		return rec.UserID, nil
	case errors.Is(err, models.ErrNotFound):
		if a.AssignedToUserID != nil {
			return *a.AssignedToUserID, nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("custody of asset %s: %w", a.ID, err)
	}
}

func alertMessage(a *models.Asset, alert *models.WarrantyAlert) notify.Message {
	msg := notify.Message{
		Link:              "/assets/" + a.ID,
		RelatedEntityType: "warranty_alert",
		RelatedEntityID:   alert.ID,
	}
	end := alert.WarrantyEndDate.Format("2006-01-02")
	if alert.Type == models.AlertExpired {
		msg.Type = models.NotifyWarrantyExpired
		msg.Title = "Warranty expired"
		msg.Body = fmt.Sprintf("The warranty of %s (%s) expired on %s, %d days ago.", a.DisplayName(), a.Tag, end, -alert.DaysRemaining)
		return msg
	}
	msg.Type = models.NotifyWarrantyExpiring
	msg.Title = "Warranty expiring"
	msg.Body = fmt.Sprintf("The warranty of %s (%s) ends on %s, in %d days.", a.DisplayName(), a.Tag, end, alert.DaysRemaining)
	return msg
}

// Acknowledge marks an alert as seen. It fails with
// *models.AlreadyAcknowledgedError on a second call.
func (e *Engine) Acknowledge(ctx context.Context, actor models.Actor, alertID string) (*models.WarrantyAlert, error) {
	var out *models.WarrantyAlert
	err := e.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		out, err = sc.AcknowledgeAlert(ctx, alertID, e.now(), actor.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("warranty alert acknowledged",
		zap.String("tenant_id", actor.TenantID), zap.String("alert_id", alertID), zap.String("user_id", actor.UserID))
	return out, nil
}

// Get returns one alert
func (e *Engine) Get(ctx context.Context, actor models.Actor, alertID string) (*models.WarrantyAlert, error) {
	var out *models.WarrantyAlert
	err := e.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		out, err = sc.GetAlert(ctx, alertID)
		return err
	})
	return out, err
}

// List returns alerts of the actor's tenant, oldest first
func (e *Engine) List(ctx context.Context, actor models.Actor, f models.AlertFilter) ([]models.WarrantyAlert, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 200
	}
	var out []models.WarrantyAlert
	err := e.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		out, err = sc.ListAlerts(ctx, f)
		return err
	})
	return out, err
}
