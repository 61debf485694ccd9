// Package assets owns asset records and their lifecycle state machine.
// Every status change goes through move, which consults the transition table
// and keeps the assignee field in step with custody.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"itam-api/internal/attachments"
	"itam-api/internal/ledger"
	"itam-api/internal/logger"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/store"
	"itam-api/internal/tenancy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service is the asset lifecycle
type Service struct {
	store       store.Store
	tenants     *tenancy.Registry
	ledger      *ledger.Ledger
	attachments *attachments.Service
	outbox      *notify.Outbox
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService wires the asset lifecycle. log and m may be nil.
func NewService(st store.Store, tenants *tenancy.Registry, led *ledger.Ledger, atts *attachments.Service, outbox *notify.Outbox, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:       st,
		tenants:     tenants,
		ledger:      led,
		attachments: atts,
		outbox:      outbox,
		log:         logger.OrNop(log).Named("assets"),
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Transition is an applied asset status change
type Transition struct {
	AssetID string
	From    models.AssetStatus
	To      models.AssetStatus
}

// Observe logs and counts committed transitions
func (s *Service) Observe(ts ...Transition) {
	for _, t := range ts {
		s.metrics.Transition("asset", string(t.From), string(t.To))
		s.log.Info("asset status changed",
			zap.String("asset_id", t.AssetID), zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	}
}

// move applies ev to a and persists it. assignee is required for assign and
// ignored otherwise. Leaving maintenance restores the holder of an open
// custody record, if any.
func (s *Service) move(ctx context.Context, sc store.Scope, a *models.Asset, ev models.AssetEvent, assignee string) (Transition, error) {
	custodyOpen := false
	if ev == models.EventCompleteMaintenance {
		holder, err := s.ledger.Holder(ctx, sc, a.ID)
		if err != nil {
			return Transition{}, err
		}
		custodyOpen = holder != ""
		assignee = holder
	}
	from := a.Status
	to, err := models.NextAssetStatus(from, ev, custodyOpen)
	if err != nil {
		return Transition{}, err
	}

	a.Status = to
	if to == models.AssetInUse {
		if assignee == "" {
			return Transition{}, models.ValidationError{Field: "user_id", Reason: "is required"}
		}
		a.AssignedToUserID = &assignee
	} else {
		a.AssignedToUserID = nil
	}
	a.UpdatedAt = s.now()
	if err := a.Validate(); err != nil {
		return Transition{}, err
	}
	if err := sc.UpdateAsset(ctx, a); err != nil {
		return Transition{}, err
	}
	return Transition{AssetID: a.ID, From: from, To: to}, nil
}

// Create registers an asset. One Asset unit is reserved first and released
// again if the insert fails.
func (s *Service) Create(ctx context.Context, actor models.Actor, req models.CreateAssetRequest) (*models.Asset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var created *models.Asset
	err := s.tenants.WithReservation(ctx, actor.TenantID, models.ResourceAsset, 1, func() error {
		return s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
			tag, err := sc.NextAssetTag(ctx)
			if err != nil {
				return err
			}
			now := s.now()
			a := &models.Asset{
				ID:                uuid.NewString(),
				TenantID:          sc.TenantID(),
				Tag:               tag,
				Name:              trimmed(req.Name),
				DeviceType:        req.DeviceType,
				Manufacturer:      trimmed(req.Manufacturer),
				Model:             trimmed(req.Model),
				SerialNumber:      trimmed(req.SerialNumber),
				Location:          trimmed(req.Location),
				Notes:             req.Notes,
				Status:            models.AssetAvailable,
				WarrantyStart:     dateOnly(req.WarrantyStart),
				WarrantyEnd:       dateOnly(req.WarrantyEnd),
				PurchaseDate:      dateOnly(req.PurchaseDate),
				PurchaseCostCents: req.PurchaseCostCents,
				Vendor:            trimmed(req.Vendor),
				OrderNumber:       trimmed(req.OrderNumber),
				Specs:             req.Specs.Clone(),
				RowVersion:        1,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := a.Validate(); err != nil {
				return err
			}
			if err := sc.InsertAsset(ctx, a); err != nil {
				return err
			}
			created = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("asset created",
		zap.String("tenant_id", actor.TenantID), zap.String("asset_id", created.ID), zap.String("tag", created.Tag))
	return created, nil
}

// Get returns one asset of the actor's tenant
func (s *Service) Get(ctx context.Context, actor models.Actor, id string) (*models.Asset, error) {
	var a *models.Asset
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		a, err = sc.GetAsset(ctx, id)
		return err
	})
	return a, err
}

// List returns a page of assets and the total match count
func (s *Service) List(ctx context.Context, actor models.Actor, f models.AssetFilter) ([]models.Asset, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	if f.DeviceType != "" && !f.DeviceType.Valid() {
		return nil, 0, models.ValidationError{Field: "device_type", Reason: fmt.Sprintf("unknown device type %q", f.DeviceType)}
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var (
		out   []models.Asset
		total int
	)
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		out, total, err = sc.ListAssets(ctx, f)
		return err
	})
	return out, total, err
}

// Update edits descriptive fields. Status and custody are untouched.
func (s *Service) Update(ctx context.Context, actor models.Actor, id string, req models.UpdateAssetRequest) (*models.Asset, error) {
	var a *models.Asset
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		var err error
		a, err = sc.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if err := req.Apply(a); err != nil {
			return err
		}
		a.UpdatedAt = s.now()
		return sc.UpdateAsset(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Assign hands an Available asset to a user of the same tenant
func (s *Service) Assign(ctx context.Context, actor models.Actor, assetID string, req models.AssignAssetRequest) (*models.AssetAssignment, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}
	var (
		rec *models.AssetAssignment
		tr  Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		a, err := sc.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if a.Status == models.AssetInUse {
			return &models.AlreadyAssignedError{AssetID: a.ID}
		}
		user, err := sc.GetUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("assignee: %w", err)
		}
		if !user.IsActive {
			return models.ValidationError{Field: "user_id", Reason: "user is inactive"}
		}
		if _, err := models.NextAssetStatus(a.Status, models.EventAssign, false); err != nil {
			return err
		}
		rec, err = s.ledger.Assign(ctx, sc, a.ID, user.ID, actor.UserID, req.Notes)
		if err != nil {
			return err
		}
		tr, err = s.move(ctx, sc, a, models.EventAssign, user.ID)
		if err != nil {
			return err
		}
		_, err = s.outbox.Enqueue(ctx, sc, []string{user.ID}, notify.Message{
			Type:              models.NotifyAssetAssigned,
			Title:             "Asset assigned",
			Body:              fmt.Sprintf("%s (%s) has been assigned to you.", a.DisplayName(), a.Tag),
			Link:              "/assets/" + a.ID,
			RelatedEntityType: "asset",
			RelatedEntityID:   a.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Observe(tr)
	return rec, nil
}

// Return closes the asset's active assignment and makes it Available
func (s *Service) Return(ctx context.Context, actor models.Actor, assetID string, req models.ReturnAssetRequest) (*models.AssetAssignment, error) {
	cond, err := parseReturn(req)
	if err != nil {
		return nil, err
	}
	var (
		rec *models.AssetAssignment
		tr  Transition
	)
	err = store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		a, err := sc.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if _, err := models.NextAssetStatus(a.Status, models.EventReturn, false); err != nil {
			return err
		}
		active, err := s.ledger.Active(ctx, sc, a.ID)
		if err != nil {
			return fmt.Errorf("active assignment of asset %s: %w", a.ID, err)
		}
		if rec, err = s.ledger.Return(ctx, sc, active.ID, actor.UserID, cond, req.Notes); err != nil {
			return err
		}
		tr, err = s.move(ctx, sc, a, models.EventReturn, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Observe(tr)
	return rec, nil
}

// ReturnAssignment closes a custody record by its id. An InUse asset becomes
// Available; an asset in any other status keeps it.
func (s *Service) ReturnAssignment(ctx context.Context, actor models.Actor, assignmentID string, req models.ReturnAssetRequest) (*models.AssetAssignment, error) {
	cond, err := parseReturn(req)
	if err != nil {
		return nil, err
	}
	var (
		rec *models.AssetAssignment
		trs []Transition
	)
	err = store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		trs = nil
		cur, err := sc.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		a, err := sc.GetAsset(ctx, cur.AssetID)
		if err != nil {
			return err
		}
		if rec, err = s.ledger.Return(ctx, sc, cur.ID, actor.UserID, cond, req.Notes); err != nil {
			return err
		}
		if a.Status != models.AssetInUse {
			return nil
		}
		tr, err := s.move(ctx, sc, a, models.EventReturn, "")
		if err != nil {
			return err
		}
		trs = append(trs, tr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Observe(trs...)
	return rec, nil
}

// Retire moves an asset to its terminal status. Open custody is closed and an
// open maintenance record is cancelled.
func (s *Service) Retire(ctx context.Context, actor models.Actor, assetID string, req models.RetireAssetRequest) (*models.Asset, error) {
	note := "asset retired"
	if req.Reason != nil && strings.TrimSpace(*req.Reason) != "" {
		note += ": " + strings.TrimSpace(*req.Reason)
	}
	return s.terminate(ctx, actor, assetID, models.EventRetire, &note, true)
}

// ReportLost marks an asset Lost. Custody stays open for the audit trail.
func (s *Service) ReportLost(ctx context.Context, actor models.Actor, assetID string, notes *string) (*models.Asset, error) {
	return s.terminate(ctx, actor, assetID, models.EventReportLost, notes, false)
}

func (s *Service) terminate(ctx context.Context, actor models.Actor, assetID string, ev models.AssetEvent, notes *string, closeCustody bool) (*models.Asset, error) {
	var (
		a  *models.Asset
		tr Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		var err error
		a, err = sc.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if _, err := models.NextAssetStatus(a.Status, ev, false); err != nil {
			return err
		}
		if closeCustody {
			if err := s.closeCustody(ctx, sc, a.ID, actor.UserID, notes); err != nil {
				return err
			}
		}
		if err := s.cancelOpenMaintenance(ctx, sc, a.ID); err != nil {
			return err
		}
		tr, err = s.move(ctx, sc, a, ev, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Observe(tr)
	return a, nil
}

// Recover brings a Lost asset back to Available. confirm must be true.
// Custody left open when the asset was lost is closed by the confirming actor.
func (s *Service) Recover(ctx context.Context, actor models.Actor, assetID string, req models.RecoverAssetRequest) (*models.Asset, error) {
	if !req.Confirm {
		return nil, models.ErrConfirmationRequired
	}
	note := "asset recovered"
	if req.Notes != nil && strings.TrimSpace(*req.Notes) != "" {
		note += ": " + strings.TrimSpace(*req.Notes)
	}
	var (
		a  *models.Asset
		tr Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		var err error
		a, err = sc.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if _, err := models.NextAssetStatus(a.Status, models.EventRecover, false); err != nil {
			return err
		}
		if err := s.closeCustody(ctx, sc, a.ID, actor.UserID, &note); err != nil {
			return err
		}
		tr, err = s.move(ctx, sc, a, models.EventRecover, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Observe(tr)
	return a, nil
}

func (s *Service) closeCustody(ctx context.Context, sc store.Scope, assetID, byUserID string, notes *string) error {
	active, err := s.ledger.Active(ctx, sc, assetID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.ledger.Return(ctx, sc, active.ID, byUserID, models.ConditionGood, notes)
	return err
}

func (s *Service) cancelOpenMaintenance(ctx context.Context, sc store.Scope, assetID string) error {
	recs, err := sc.ListMaintenance(ctx, assetID)
	if err != nil {
		return err
	}
	for i := range recs {
		m := &recs[i]
		if m.Status.Terminal() {
			continue
		}
		to, err := models.NextMaintenanceStatus(m.Status, models.MaintenanceCancel)
		if err != nil {
			return err
		}
		now := s.now()
		m.Status = to
		m.CancelledAt = &now
		m.UpdatedAt = now
		if err := sc.UpdateMaintenance(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// EnterMaintenance moves an asset into Maintenance inside the caller's
// transaction. Custody is not closed.
func (s *Service) EnterMaintenance(ctx context.Context, sc store.Scope, assetID string) (*models.Asset, Transition, error) {
	a, err := sc.GetAsset(ctx, assetID)
	if err != nil {
		return nil, Transition{}, err
	}
	tr, err := s.move(ctx, sc, a, models.EventSendToMaintenance, "")
	if err != nil {
		return nil, Transition{}, err
	}
	return a, tr, nil
}

// LeaveMaintenance returns an asset from Maintenance to InUse when custody is
// still open, else to Available. An asset that already left Maintenance is
// returned unchanged with a zero Transition.
func (s *Service) LeaveMaintenance(ctx context.Context, sc store.Scope, assetID string) (*models.Asset, Transition, error) {
	a, err := sc.GetAsset(ctx, assetID)
	if err != nil {
		return nil, Transition{}, err
	}
	if a.Status != models.AssetMaintenance {
		return a, Transition{}, nil
	}
	tr, err := s.move(ctx, sc, a, models.EventCompleteMaintenance, "")
	if err != nil {
		return nil, Transition{}, err
	}
	return a, tr, nil
}

// Delete removes an asset that has never been assigned or serviced, together
// with its attachments and alerts, and gives back its quota.
func (s *Service) Delete(ctx context.Context, actor models.Actor, id string) error {
	var detached []models.Attachment
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		if _, err := sc.GetAsset(ctx, id); err != nil {
			return err
		}
		nAssign, err := sc.CountAssignments(ctx, id)
		if err != nil {
			return err
		}
		nMaint, err := sc.CountMaintenance(ctx, id)
		if err != nil {
			return err
		}
		if nAssign > 0 || nMaint > 0 {
			return models.ErrHasHistory
		}
		if detached, err = s.attachments.Detach(ctx, sc, models.OwnerAsset, id); err != nil {
			return err
		}
		if err := sc.DeleteAlertsForAsset(ctx, id); err != nil {
			return err
		}
		return sc.DeleteAsset(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := s.tenants.Release(context.WithoutCancel(ctx), actor.TenantID, models.ResourceAsset, 1); err != nil {
		s.log.Error("release asset quota", zap.String("tenant_id", actor.TenantID), zap.String("asset_id", id), zap.Error(err))
	}
	s.attachments.Reclaim(ctx, actor.TenantID, detached)
	s.log.Info("asset deleted", zap.String("tenant_id", actor.TenantID), zap.String("asset_id", id))
	return nil
}

// History is an asset with its custody and service records
type History struct {
	Asset       *models.Asset            `json:"asset"`
	Assignments []models.AssetAssignment `json:"assignments"`
	Maintenance []models.Maintenance     `json:"maintenance"`
}

// History returns the audit view of one asset
func (s *Service) History(ctx context.Context, actor models.Actor, id string) (*History, error) {
	h := &History{}
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		if h.Asset, err = sc.GetAsset(ctx, id); err != nil {
			return err
		}
		if h.Assignments, err = s.ledger.ForAsset(ctx, sc, id); err != nil {
			return err
		}
		h.Maintenance, err = sc.ListMaintenance(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// AssignmentsForUser lists the custody records of one user
func (s *Service) AssignmentsForUser(ctx context.Context, actor models.Actor, userID string) ([]models.AssetAssignment, error) {
	var out []models.AssetAssignment
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		if _, err := sc.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		out, err = s.ledger.ForUser(ctx, sc, userID)
		return err
	})
	return out, err
}

func parseReturn(req models.ReturnAssetRequest) (models.ReturnCondition, error) {
	if err := models.ValidateStruct(req); err != nil {
		return "", err
	}
	return models.ParseReturnCondition(req.Condition)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := models.DateOnly(*t)
	return &d
}
