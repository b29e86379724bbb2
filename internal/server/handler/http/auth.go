// Package http provides the chi routes of the loopback presentation API:
// login, account administration, clinical records and audit read-back.
package http

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/atinyakov/CareKeeper/internal/middleware"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthService defines the authentication operations required by the
// HTTP handlers.
type AuthService interface {
	Authenticate(ctx context.Context, username, password, origin string) (service.AuthResult, error)
	Register(ctx context.Context, session models.Session, in service.NewAccount) (*models.Account, error)
	Unlock(ctx context.Context, session models.Session, username string) error
	ChangePassword(ctx context.Context, session models.Session, username, password string) error
	DeleteAccount(ctx context.Context, session models.Session, username string) error
	Accounts(ctx context.Context, session models.Session) ([]models.Account, error)
}

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	Issue(s models.Session) (string, time.Time, error)
}

// AuthHandler handles login and account administration requests.
type AuthHandler struct {
	AuthService AuthService
	Issuer      SessionIssuer
	Logger      *zap.Logger
	// Now defaults to time.Now; it only affects Retry-After.
	Now func() time.Time
}

// LoginRequest is the JSON payload of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
}

// LoginFailure describes a refused login: remaining attempts, or the end of
// the lockout.
type LoginFailure struct {
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	Remaining   int        `json:"remaining"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// Login handles POST /api/login.
//
// A wrong password answers 401 with the remaining attempts, a locked
// account answers 423 with lockedUntil and a Retry-After header. Empty
// credentials are still authenticated so the attempt is audited.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	res, err := h.AuthService.Authenticate(r.Context(), req.Username, req.Password, origin(r))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	if !res.OK() {
		failure := LoginFailure{Error: string(res.Reason), Attempts: res.Attempts, Remaining: res.Remaining}
		if res.Reason == service.ReasonBadCredentials {
			writeJSON(w, http.StatusUnauthorized, failure)
			return
		}
		until := res.LockedUntil
		failure.LockedUntil = &until
		w.Header().Set("Retry-After", strconv.Itoa(h.retryAfter(until)))
		writeJSON(w, http.StatusLocked, failure)
		return
	}

	session := models.SessionFor(res.Account)
	token, expires, err := h.Issuer.Issue(session)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  session.Username,
		Role:      session.Role,
	})
}

func (h *AuthHandler) retryAfter(until time.Time) int {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	secs := math.Ceil(until.Sub(now()).Seconds())
	if secs < 1 {
		return 1
	}
	return int(secs)
}

func origin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ListAccounts handles GET /api/accounts.
func (h *AuthHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.SessionFromContext(r.Context())
	accounts, err := h.AuthService.Accounts(r.Context(), session)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Register handles POST /api/accounts.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.NewAccount
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	session, _ := middleware.SessionFromContext(r.Context())
	acc, err := h.AuthService.Register(r.Context(), session, req)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// DeleteAccount handles DELETE /api/accounts/{username}.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.SessionFromContext(r.Context())
	if err := h.AuthService.DeleteAccount(r.Context(), session, chi.URLParam(r, "username")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlock handles POST /api/accounts/{username}/unlock.
func (h *AuthHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.SessionFromContext(r.Context())
	if err := h.AuthService.Unlock(r.Context(), session, chi.URLParam(r, "username")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles POST /api/accounts/{username}/password. The
// username "me" stands for the caller.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	session, _ := middleware.SessionFromContext(r.Context())
	username := chi.URLParam(r, "username")
	if username == "me" {
		username = session.Username
	}
	if err := h.AuthService.ChangePassword(r.Context(), session, username, req.Password); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
