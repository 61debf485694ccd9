package internal

import (
	"net/http"

	"itam-api/internal/models"

	"github.com/go-chi/chi/v5"
)

// listTenants handles listing all tenants (platform admin only)
func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenants.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

// createTenant provisions a tenant with its tier's limits
func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTenantRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	t, err := s.tenants.Provision(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.tenants.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// getOwnTenant returns the caller's tenant including its usage counters
func (s *Server) getOwnTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.tenants.Get(r.Context(), actor(r).TenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// changeTenantTier moves a tenant to another tier. It is refused when current
// usage would not fit the new limits.
func (s *Server) changeTenantTier(w http.ResponseWriter, r *http.Request) {
	var req models.ChangeTierRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := models.ValidateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tenants.ChangeTier(r.Context(), chi.URLParam(r, "id"), models.Tier(req.Tier))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (s *Server) setTenantActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := models.ValidateStruct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tenants.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
