package internal

import (
	"net/http"

	"itam-api/internal/models"

	"github.com/go-chi/chi/v5"
)

// listMaintenance lists the tenant's service records, optionally for one asset
func (s *Server) listMaintenance(w http.ResponseWriter, r *http.Request) {
	recs, err := s.maintenance.List(r.Context(), actor(r), r.URL.Query().Get("asset_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.Maintenance{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// createMaintenance opens a record and sends the asset to maintenance
func (s *Server) createMaintenance(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMaintenanceRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	m, err := s.maintenance.Create(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMaintenance(w http.ResponseWriter, r *http.Request) {
	m, err := s.maintenance.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) startMaintenance(w http.ResponseWriter, r *http.Request) {
	m, err := s.maintenance.Start(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) completeMaintenance(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteMaintenanceRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	m, err := s.maintenance.Complete(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) cancelMaintenance(w http.ResponseWriter, r *http.Request) {
	m, err := s.maintenance.Cancel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := s.maintenance.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMaintenanceAttachments(w http.ResponseWriter, r *http.Request) {
	s.listAttachments(w, r, models.OwnerMaintenance, func(id string) error {
		_, err := s.maintenance.Get(r.Context(), actor(r), id)
		return err
	})
}

func (s *Server) uploadMaintenanceAttachment(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	att, err := s.maintenance.AddAttachment(r.Context(), actor(r), chi.URLParam(r, "id"), up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) downloadMaintenanceAttachment(w http.ResponseWriter, r *http.Request) {
	att, rc, err := s.maintenance.OpenAttachment(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamAttachment(w, r, att, rc)
}

func (s *Server) deleteMaintenanceAttachment(w http.ResponseWriter, r *http.Request) {
	err := s.maintenance.RemoveAttachment(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
