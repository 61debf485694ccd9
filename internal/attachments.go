package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// readUpload parses a multipart body carrying "file" and an optional "category"
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (models.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, models.ValidationError{Field: "file", Reason: fmt.Sprintf("exceeds %d bytes", s.maxUploadBytes)})
			return models.Upload{}, false
		}
		s.writeError(w, r, models.ValidationError{Field: "body", Reason: "invalid multipart form: " + err.Error()})
		return models.Upload{}, false
	}
	category, err := models.ParseAttachmentCategory(r.FormValue("category"))
	if err != nil {
		s.writeError(w, r, err)
		return models.Upload{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, models.ValidationError{Field: "file", Reason: "is required"})
		return models.Upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read upload: %w", err))
		return models.Upload{}, false
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return models.Upload{
		FileName:    filepath.Base(header.Filename),
		ContentType: contentType,
		Category:    category,
		Data:        data,
	}, true
}

// streamAttachment writes the blob behind att and closes rc
func (s *Server) streamAttachment(w http.ResponseWriter, r *http.Request, att *models.Attachment, rc io.ReadCloser) {
	defer rc.Close()
	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.Log.Warn("stream attachment", zap.String("attachment_id", att.ID), zap.Error(err))
	}
}

func (s *Server) listAttachments(w http.ResponseWriter, r *http.Request, kind models.AttachmentOwnerKind, exists func(id string) error) {
	ownerID := chi.URLParam(r, "id")
	if err := exists(ownerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	atts, err := s.attachments.List(r.Context(), actor(r), kind, ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if atts == nil {
		atts = []models.Attachment{}
	}
	writeJSON(w, http.StatusOK, atts)
}

// assetExists is the owner check for asset attachments
func assetExists(id string) func(ctx context.Context, sc store.Scope) error {
	return func(ctx context.Context, sc store.Scope) error {
		_, err := sc.GetAsset(ctx, id)
		return err
	}
}

func (s *Server) listAssetAttachments(w http.ResponseWriter, r *http.Request) {
	s.listAttachments(w, r, models.OwnerAsset, func(id string) error {
		_, err := s.assets.Get(r.Context(), actor(r), id)
		return err
	})
}

func (s *Server) uploadAssetAttachment(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	att, err := s.attachments.Upload(r.Context(), actor(r), models.OwnerAsset, id, up, assetExists(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) downloadAssetAttachment(w http.ResponseWriter, r *http.Request) {
	att, rc, err := s.attachments.Open(r.Context(), actor(r), models.OwnerAsset, chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamAttachment(w, r, att, rc)
}

func (s *Server) deleteAssetAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.attachments.Delete(r.Context(), actor(r), models.OwnerAsset, id, chi.URLParam(r, "attachmentID"), assetExists(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
