package internal

import (
	"net/http"
	"strings"

	"itam-api/internal/models"

	"github.com/go-chi/chi/v5"
)

// listAssets handles asset listing with filters and pagination
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	q := r.URL.Query()

	f := models.AssetFilter{
		Status:           models.AssetStatus(strings.TrimSpace(q.Get("status"))),
		DeviceType:       models.DeviceType(strings.TrimSpace(q.Get("device_type"))),
		AssignedToUserID: strings.TrimSpace(q.Get("assigned_to")),
		Query:            params.q,
		Sort:             params.sort,
		Limit:            params.limit,
		Offset:           params.offset,
	}

	assets, total, err := s.assets.List(r.Context(), actor(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}
	sendListResponse(w, assets, total, params)
}

// getAsset handles getting a single asset by ID
func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.assets.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// createAsset registers an asset; it consumes one asset unit of the tenant's quota
func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssetRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	a, err := s.assets.Create(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// updateAsset edits descriptive fields; status moves only through lifecycle routes
func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateAssetRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	a, err := s.assets.Update(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteAsset removes an asset that has never been assigned or serviced
func (s *Server) deleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.assets.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAssetHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.assets.History(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) assignAsset(w http.ResponseWriter, r *http.Request) {
	var req models.AssignAssetRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	rec, err := s.assets.Assign(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// returnAsset closes the asset's open assignment
func (s *Server) returnAsset(w http.ResponseWriter, r *http.Request) {
	var req models.ReturnAssetRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	rec, err := s.assets.Return(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// returnAssignment closes one assignment record by its own id
func (s *Server) returnAssignment(w http.ResponseWriter, r *http.Request) {
	var req models.ReturnAssetRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	rec, err := s.assets.ReturnAssignment(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) retireAsset(w http.ResponseWriter, r *http.Request) {
	var req models.RetireAssetRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	a, err := s.assets.Retire(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type reportLostRequest struct {
	Notes *string `json:"notes,omitempty"`
}

func (s *Server) reportAssetLost(w http.ResponseWriter, r *http.Request) {
	var req reportLostRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	a, err := s.assets.ReportLost(r.Context(), actor(r), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// recoverAsset brings a lost asset back; the body must carry confirm=true
func (s *Server) recoverAsset(w http.ResponseWriter, r *http.Request) {
	var req models.RecoverAssetRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	a, err := s.assets.Recover(r.Context(), actor(r), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listAssetMaintenance(w http.ResponseWriter, r *http.Request) {
	recs, err := s.maintenance.List(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.Maintenance{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) listUserAssignments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.assets.AssignmentsForUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []models.AssetAssignment{}
	}
	writeJSON(w, http.StatusOK, recs)
}
