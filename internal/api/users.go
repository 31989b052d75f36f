package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
)

// handleListUsers returns one page of accounts, newest first.
// Query parameters: page (default 1) and limit (default 10).
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := optionalInt(r.URL.Query(), "page")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := optionalInt(r.URL.Query(), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users, err := s.auth.ListUsers(r.Context(), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, users, "Users retrieved successfully")
}

// handleCreateUser creates an account with the same rules as sign-up.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.auth.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusCreated, user, "User created successfully")
}

// handleGetUser returns a single account.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, user, "User retrieved successfully")
}

// handleUpdateUser applies a partial update. Omitted fields keep their value.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.UpdateUserInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.auth.UpdateUser(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, user, "User updated successfully")
}

// handleDeleteUser removes an account and closes its live sessions.
// Deleting your own account also revokes the token used for the call.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.auth.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	if n := s.realtime.DisconnectUser(id); n > 0 {
		s.logger.Info("closed sessions of deleted user", "user_id", id, "sessions", n)
	}
	if identity, _ := identityFrom(r.Context()); identity.UserID == id {
		if err := s.auth.Logout(r.Context(), tokenFrom(r.Context()), ""); err != nil {
			s.logger.Warn("revoking token of deleted user failed", "user_id", id, "error", err)
		}
	}
	writeOKMessage[any](w, http.StatusOK, nil, "User deleted successfully")
}
