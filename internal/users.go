package internal

import (
	"net/http"

	"itam-api/internal/models"

	"github.com/go-chi/chi/v5"
)

// loginUser handles user authentication
func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := s.users.Authenticate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Generate JWT token
	token, err := s.JWTManager.GenerateToken(user.ID, user.TenantID, user.Roles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token: token,
		User:  user.Redacted(),
	})
}

// getUserProfile returns the caller's own user record
func (s *Server) getUserProfile(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	u, err := s.users.Get(r.Context(), a, a.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// createUser adds a member to the caller's tenant; it consumes one user unit
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	u, err := s.users.Register(r.Context(), actor(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.List(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.User{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// deleteUser removes a member who never held an asset
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Remove(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
