// Package maintenance runs the service-record workflow of assets.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"time"

	"itam-api/internal/assets"
	"itam-api/internal/attachments"
	"itam-api/internal/logger"
	"itam-api/internal/metrics"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the maintenance workflow. Opening a record is what sends an
// asset to Maintenance; finishing or cancelling it brings the asset back.
type Service struct {
	store       store.Store
	assets      *assets.Service
	attachments *attachments.Service
	outbox      *notify.Outbox
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService wires the maintenance workflow. log and m may be nil.
func NewService(st store.Store, as *assets.Service, atts *attachments.Service, outbox *notify.Outbox, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:       st,
		assets:      as,
		attachments: atts,
		outbox:      outbox,
		log:         logger.OrNop(log).Named("maintenance"),
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a Pending record and moves the asset into Maintenance in the same transaction
func (s *Service) Create(ctx context.Context, actor models.Actor, assetID string, req models.CreateMaintenanceRequest) (*models.Maintenance, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var (
		m  *models.Maintenance
		tr assets.Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		var err error
		if _, tr, err = s.assets.EnterMaintenance(ctx, sc, assetID); err != nil {
			return err
		}
		now := s.now()
		m = &models.Maintenance{
			ID:              uuid.NewString(),
			TenantID:        sc.TenantID(),
			AssetID:         assetID,
			Type:            req.Type,
			Title:           req.Title,
			Description:     req.Description,
			Status:          models.MaintenancePending,
			ScheduledFor:    req.ScheduledFor,
			Technician:      req.Technician,
			CostCents:       req.CostCents,
			CreatedByUserID: actor.UserID,
			Attachments:     []models.Attachment{},
			RowVersion:      1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return sc.InsertMaintenance(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.assets.Observe(tr)
	s.log.Info("maintenance opened",
		zap.String("tenant_id", actor.TenantID), zap.String("maintenance_id", m.ID), zap.String("asset_id", assetID))
	return m, nil
}

// Get returns one record with its attachments
func (s *Service) Get(ctx context.Context, actor models.Actor, id string) (*models.Maintenance, error) {
	var m *models.Maintenance
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		m, err = sc.GetMaintenance(ctx, id)
		return err
	})
	return m, err
}

// List returns the records of one asset, or of the whole tenant when assetID is empty
func (s *Service) List(ctx context.Context, actor models.Actor, assetID string) ([]models.Maintenance, error) {
	var out []models.Maintenance
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		if assetID != "" {
			if _, err := sc.GetAsset(ctx, assetID); err != nil {
				return err
			}
		}
		var err error
		out, err = sc.ListMaintenance(ctx, assetID)
		return err
	})
	return out, err
}

// Start moves a Pending record to InProgress and stamps StartedAt
func (s *Service) Start(ctx context.Context, actor models.Actor, id string) (*models.Maintenance, error) {
	return s.step(ctx, actor, id, models.MaintenanceStart, func(m *models.Maintenance, now time.Time) error {
		m.StartedAt = &now
		return nil
	})
}

// Complete finishes an InProgress record and returns the asset to service
func (s *Service) Complete(ctx context.Context, actor models.Actor, id string, req models.CompleteMaintenanceRequest) (*models.Maintenance, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}
	return s.step(ctx, actor, id, models.MaintenanceComplete, func(m *models.Maintenance, now time.Time) error {
		m.CompletedAt = &now
		if req.Resolution != nil {
			m.Resolution = req.Resolution
		}
		if req.CostCents != nil {
			m.CostCents = req.CostCents
		}
		return nil
	})
}

// Cancel abandons a Pending or InProgress record and returns the asset to service
func (s *Service) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Maintenance, error) {
	return s.step(ctx, actor, id, models.MaintenanceCancel, func(m *models.Maintenance, now time.Time) error {
		m.CancelledAt = &now
		return nil
	})
}

func (s *Service) step(ctx context.Context, actor models.Actor, id string, ev models.MaintenanceEvent, stamp func(*models.Maintenance, time.Time) error) (*models.Maintenance, error) {
	var (
		m       *models.Maintenance
		from    models.MaintenanceStatus
		assetTr assets.Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		var err error
		assetTr = assets.Transition{}
		if m, err = sc.GetMaintenance(ctx, id); err != nil {
			return err
		}
		from = m.Status
		to, err := models.NextMaintenanceStatus(from, ev)
		if err != nil {
			return err
		}
		now := s.now()
		m.Status = to
		if err := stamp(m, now); err != nil {
			return err
		}
		m.UpdatedAt = now
		if err := m.Validate(); err != nil {
			return err
		}
		if err := sc.UpdateMaintenance(ctx, m); err != nil {
			return err
		}
		if !to.Terminal() {
			return nil
		}
		a, tr, err := s.assets.LeaveMaintenance(ctx, sc, m.AssetID)
		if err != nil {
			return err
		}
		assetTr = tr
		if to == models.MaintenanceCompleted {
			return s.notifyCompleted(ctx, sc, m, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition("maintenance", string(from), string(m.Status))
	if assetTr.AssetID != "" {
		s.assets.Observe(assetTr)
	}
	s.log.Info("maintenance status changed",
		zap.String("maintenance_id", id), zap.String("from", string(from)), zap.String("to", string(m.Status)))
	return m, nil
}

func (s *Service) notifyCompleted(ctx context.Context, sc store.Scope, m *models.Maintenance, a *models.Asset) error {
	recipients := []string{m.CreatedByUserID}
	if a.AssignedToUserID != nil {
		recipients = append(recipients, *a.AssignedToUserID)
	}
	_, err := s.outbox.Enqueue(ctx, sc, recipients, notify.Message{
		Type:              models.NotifyMaintenanceCompleted,
		Title:             "Maintenance completed",
		Body:              fmt.Sprintf("%q on %s (%s) is complete.", m.Title, a.DisplayName(), a.Tag),
		Link:              "/maintenance/" + m.ID,
		RelatedEntityType: "maintenance",
		RelatedEntityID:   m.ID,
	})
	return err
}

// Delete removes a record and its evidence files. Deleting an open record
// returns the asset to service as cancellation would.
func (s *Service) Delete(ctx context.Context, actor models.Actor, id string) error {
	var (
		detached []models.Attachment
		tr       assets.Transition
	)
	err := store.WithRetry(ctx, s.store, actor.TenantID, store.DefaultMaxRetries, func(sc store.Scope) error {
		tr = assets.Transition{}
		m, err := sc.GetMaintenance(ctx, id)
		if err != nil {
			return err
		}
		if detached, err = s.attachments.Detach(ctx, sc, models.OwnerMaintenance, id); err != nil {
			return err
		}
		if err := sc.DeleteMaintenance(ctx, id); err != nil {
			return err
		}
		if m.Status.Terminal() {
			return nil
		}
		_, tr, err = s.assets.LeaveMaintenance(ctx, sc, m.AssetID)
		return err
	})
	if err != nil {
		return err
	}
	if tr.AssetID != "" {
		s.assets.Observe(tr)
	}
	s.attachments.Reclaim(ctx, actor.TenantID, detached)
	s.log.Info("maintenance deleted", zap.String("tenant_id", actor.TenantID), zap.String("maintenance_id", id))
	return nil
}

// AddAttachment uploads evidence to a record that is not yet finished
func (s *Service) AddAttachment(ctx context.Context, actor models.Actor, id string, up models.Upload) (*models.Attachment, error) {
	return s.attachments.Upload(ctx, actor, models.OwnerMaintenance, id, up, func(ctx context.Context, sc store.Scope) error {
		m, err := sc.GetMaintenance(ctx, id)
		if err != nil {
			return err
		}
		if m.Status.Terminal() {
			return fmt.Errorf("maintenance %s is %s: %w", id, m.Status, models.ErrConflict)
		}
		return nil
	})
}

// RemoveAttachment deletes one evidence file and gives back its storage
func (s *Service) RemoveAttachment(ctx context.Context, actor models.Actor, id, attachmentID string) error {
	return s.attachments.Delete(ctx, actor, models.OwnerMaintenance, id, attachmentID, func(ctx context.Context, sc store.Scope) error {
		_, err := sc.GetMaintenance(ctx, id)
		return err
	})
}

// OpenAttachment streams one evidence file
func (s *Service) OpenAttachment(ctx context.Context, actor models.Actor, id, attachmentID string) (*models.Attachment, io.ReadCloser, error) {
	return s.attachments.Open(ctx, actor, models.OwnerMaintenance, id, attachmentID)
}
