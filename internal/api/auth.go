package api

import (
	"net/http"
	"strings"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/auth"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the request body for POST /auth/refresh and the
// optional body of POST /auth/logout.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// handleRegister creates an account. Tokens are not issued; the client logs in next.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
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
	writeOKMessage(w, http.StatusCreated, user, "Sign-up successful")
}

// handleLogin verifies credentials and returns the user with a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, res, "Login successful")
}

// handleRefresh rotates a refresh token. The presented token is consumed
// whether or not the client receives the response.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeFailure(w, result.CodeBadRequest, "Refresh token is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, pair, "Token refreshed successfully")
}

// handleLogout revokes the caller's access token and, if the body names one,
// its refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	if err := s.auth.Logout(r.Context(), tokenFrom(r.Context()), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage[any](w, http.StatusOK, nil, "Sign-out successful")
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	user, err := s.auth.Me(r.Context(), identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, user)
}
