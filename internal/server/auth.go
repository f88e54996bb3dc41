package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	shop "github.com/eugener/goshop/internal"
	"github.com/eugener/goshop/internal/app"
	"github.com/eugener/goshop/internal/auth"
)

type registerRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"display_name" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required_without=Username,omitempty,email"`
	Username string `json:"username" validate:"required_without=Email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type addressRequest struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type sessionResponse struct {
	User *shop.User `json:"user,omitempty"`
	*app.Session
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, sess, err := s.deps.Accounts.Register(r.Context(), app.RegisterOpts{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusCreated, "user registered successfully, verification email sent", sessionResponse{User: u, Session: sess})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	login := req.Email
	if login == "" {
		login = req.Username
	}
	u, sess, err := s.deps.Accounts.Login(r.Context(), login, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusOK, "user logged in successfully", sessionResponse{User: u, Session: sess})
}

// handleRefresh accepts the refresh token from the body or, for browser
// clients, from the refresh cookie.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	raw := req.RefreshToken
	if raw == "" {
		if c, err := r.Cookie(auth.RefreshCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		writeError(w, r, badRequest("refresh token is required"))
		return
	}
	sess, err := s.deps.Accounts.Refresh(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookies(w, sess)
	writeData(w, http.StatusOK, "token refreshed successfully", sessionResponse{Session: sess})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := shop.IdentityFromContext(r.Context())
	if err := s.deps.Accounts.Logout(r.Context(), id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	s.clearSessionCookies(w)
	writeData(w, http.StatusOK, "user logged out successfully", nil)
}

func (s *server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Accounts.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "email verified successfully", u)
}

func (s *server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	id := shop.IdentityFromContext(r.Context())
	addr, err := s.deps.Accounts.Address(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "address fetched successfully", addr)
}

func (s *server) handleSaveAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := shop.IdentityFromContext(r.Context())
	addr := &shop.Address{
		UserID:     id.UserID,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
	if err := s.deps.Accounts.SaveAddress(r.Context(), addr); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "address saved successfully", addr)
}

// --- Cookies ---

func (s *server) setSessionCookies(w http.ResponseWriter, sess *app.Session) {
	c := s.deps.Cookies
	http.SetCookie(w, s.cookie(auth.AccessCookie, sess.AccessToken, c.AccessTTL))
	http.SetCookie(w, s.cookie(auth.RefreshCookie, sess.RefreshToken, c.RefreshTTL))
}

func (s *server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{auth.AccessCookie, auth.RefreshCookie} {
		c := s.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (s *server) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.deps.Cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
