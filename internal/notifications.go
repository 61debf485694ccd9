package internal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// listNotifications returns the caller's own notifications, newest last.
// ?unread=true limits the list to unread ones.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.inbox.List(r.Context(), actor(r), queryBool(r, "unread"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.inbox.MarkRead(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
