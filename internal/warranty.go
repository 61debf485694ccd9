package internal

import (
	"net/http"
	"strings"

	"itam-api/internal/models"
	"itam-api/internal/warranty"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listWarrantyAlerts(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	f := models.AlertFilter{
		AssetID:            strings.TrimSpace(r.URL.Query().Get("asset_id")),
		UnacknowledgedOnly: queryBool(r, "unacknowledged"),
		Limit:              params.limit,
		Offset:             params.offset,
	}
	alerts, err := s.warranty.List(r.Context(), actor(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.WarrantyAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) getWarrantyAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.warranty.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) acknowledgeWarrantyAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.warranty.Acknowledge(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// runWarrantyScan runs the scan across all tenants now. It goes through the
// scheduler when one is configured so a manual run never overlaps a tick.
func (s *Server) runWarrantyScan(w http.ResponseWriter, r *http.Request) {
	var (
		res warranty.Result
		err error
	)
	if s.scheduler != nil {
		res, err = s.scheduler.RunNow(r.Context())
	} else {
		res, err = s.warranty.Scan(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
