// Package attachments stores file metadata for assets and maintenance records
// and keeps tenant storage usage in step with it.
package attachments

import (
	"context"
	"fmt"
	"io"
	"time"

	"itam-api/internal/blob"
	"itam-api/internal/logger"
	"itam-api/internal/models"
	"itam-api/internal/store"
	"itam-api/internal/tenancy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OwnerCheck rejects the change when the owning entity is missing, belongs to
// another tenant or no longer accepts attachments. Upload runs it once before
// reserving storage and again inside the insert transaction.
type OwnerCheck func(ctx context.Context, sc store.Scope) error

// Service handles uploads and deletes
type Service struct {
	store   store.Store
	tenants *tenancy.Registry
	blobs   blob.Store
	log     *zap.Logger
	now     func() time.Time
}

// NewService wires the attachment service
func NewService(st store.Store, tenants *tenancy.Registry, blobs blob.Store, log *zap.Logger) *Service {
	return &Service{
		store:   st,
		tenants: tenants,
		blobs:   blobs,
		log:     logger.OrNop(log).Named("attachments"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload checks the owner, reserves storage, writes the blob and records its
// metadata. Any failure after the reservation deletes the blob and releases
// the bytes.
func (s *Service) Upload(ctx context.Context, actor models.Actor, kind models.AttachmentOwnerKind, ownerID string, up models.Upload, check OwnerCheck) (*models.Attachment, error) {
	if !kind.Valid() {
		return nil, models.ValidationError{Field: "owner_kind", Reason: fmt.Sprintf("unknown owner kind %q", kind)}
	}
	if check != nil {
		if err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
			return check(ctx, sc)
		}); err != nil {
			return nil, err
		}
	}
	if up.Category == "" {
		up.Category = models.CategoryOther
	}
	if err := up.Validate(); err != nil {
		return nil, err
	}
	size := int64(len(up.Data))

	res, err := s.tenants.TryReserve(ctx, actor.TenantID, models.ResourceStorageBytes, size)
	if err != nil {
		return nil, err
	}

	key, err := s.blobs.Put(ctx, actor.TenantID, up.Data)
	if err != nil {
		res.Release(ctx)
		return nil, fmt.Errorf("store blob: %w", err)
	}

	att := &models.Attachment{
		ID:               uuid.NewString(),
		TenantID:         actor.TenantID,
		OwnerKind:        kind,
		OwnerID:          ownerID,
		FileName:         up.FileName,
		StorageKey:       key,
		ContentType:      up.ContentType,
		SizeBytes:        size,
		Category:         up.Category,
		UploadedByUserID: actor.UserID,
		UploadedAt:       s.now(),
	}
	err = s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		if check != nil {
			if err := check(ctx, sc); err != nil {
				return err
			}
		}
		return sc.InsertAttachment(ctx, att)
	})
	if err != nil {
		s.deleteBlob(ctx, key)
		res.Release(ctx)
		return nil, err
	}
	res.Confirm()

	s.log.Info("attachment stored",
		zap.String("tenant_id", actor.TenantID), zap.String("owner_kind", string(kind)),
		zap.String("owner_id", ownerID), zap.String("attachment_id", att.ID), zap.Int64("size", size))
	return att, nil
}

// Delete removes one attachment of the given owner, then releases its bytes and blob
func (s *Service) Delete(ctx context.Context, actor models.Actor, kind models.AttachmentOwnerKind, ownerID, id string, check OwnerCheck) error {
	var att *models.Attachment
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		att, err = sc.GetAttachment(ctx, kind, id)
		if err != nil {
			return err
		}
		if att.OwnerID != ownerID {
			return models.ErrNotFound
		}
		if check != nil {
			if err := check(ctx, sc); err != nil {
				return err
			}
		}
		return sc.DeleteAttachment(ctx, kind, id)
	})
	if err != nil {
		return err
	}
	s.Reclaim(ctx, actor.TenantID, []models.Attachment{*att})
	return nil
}

// List returns an owner's attachments in upload order
func (s *Service) List(ctx context.Context, actor models.Actor, kind models.AttachmentOwnerKind, ownerID string) ([]models.Attachment, error) {
	var out []models.Attachment
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		out, err = sc.ListAttachments(ctx, kind, ownerID)
		return err
	})
	return out, err
}

// Open returns an attachment's metadata and a reader over its bytes
func (s *Service) Open(ctx context.Context, actor models.Actor, kind models.AttachmentOwnerKind, ownerID, id string) (*models.Attachment, io.ReadCloser, error) {
	var att *models.Attachment
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		var err error
		att, err = sc.GetAttachment(ctx, kind, id)
		if err == nil && att.OwnerID != ownerID {
			err = models.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, att.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return att, rc, nil
}

// Detach deletes every attachment row of an owner inside sc and returns them.
// The caller passes the result to Reclaim once its transaction has committed.
func (s *Service) Detach(ctx context.Context, sc store.Scope, kind models.AttachmentOwnerKind, ownerID string) ([]models.Attachment, error) {
	atts, err := sc.ListAttachments(ctx, kind, ownerID)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		if err := sc.DeleteAttachment(ctx, kind, a.ID); err != nil {
			return nil, err
		}
	}
	return atts, nil
}

// Reclaim releases storage usage and deletes blobs of already deleted rows.
// Blob failures leave an orphan blob and are only logged.
func (s *Service) Reclaim(ctx context.Context, tenantID string, atts []models.Attachment) {
	if len(atts) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.tenants.Release(ctx, tenantID, models.ResourceStorageBytes, models.TotalSize(atts)); err != nil {
		s.log.Error("release storage usage", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	for _, a := range atts {
		s.deleteBlob(ctx, a.StorageKey)
	}
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn("blob delete failed", zap.String("storage_key", key), zap.Error(err))
	}
}
