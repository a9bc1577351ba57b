package http

import (
	"errors"
	"net/http"
	"time"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/log"
	"freelance-erp/internal/storage"
)

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

func toUserResponse(u storage.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		ErrorResponse(http.StatusServiceUnavailable, "Authentication not configured").Write(w)
		return
	}
	body, err := ReadBody(r)
	if err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := DecodeJSON(body, &req); err != nil || req.Username == "" || req.Password == "" {
		BadRequestError("Username and password are required").Write(w)
		return
	}

	session, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		UnauthorizedError("Invalid credentials").Write(w)
		return
	}
	if err != nil {
		writeServiceError(w, r, log.OpLogin, err)
		return
	}

	maxAge := int(time.Until(time.Unix(session.Expires, 0)).Seconds())
	s.setSessionCookie(w, session.Token, maxAge)
	NewJSONResponse().Body(map[string]any{
		"ok":   true,
		"user": toUserResponse(session.User),
	}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookie(w)
	NewJSONResponse().Body(map[string]bool{"ok": true}).Write(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	NewJSONResponse().Body(map[string]any{"user": toUserResponse(user)}).Write(w)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	body, err := ReadBody(r)
	if err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := DecodeJSON(body, &req); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}

	err = s.auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		NewJSONResponse().Body(map[string]bool{"ok": true}).Write(w)
	case errors.Is(err, auth.ErrInvalidCredentials):
		UnauthorizedError("Current password is incorrect").Write(w)
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		BadRequestError(err.Error()).Write(w)
	default:
		writeServiceError(w, r, log.OpLogin, err)
	}
}
