package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/atinyakov/CareKeeper/internal/middleware"
	"github.com/atinyakov/CareKeeper/internal/models"
	"go.uber.org/zap"
)

// AuditTrail reads back the audit logs.
type AuditTrail interface {
	RecentLogins(session models.Session, n int) ([]models.LoginAttempt, error)
	RecentStatusChanges(ctx context.Context, session models.Session, n int) ([]models.StatusChange, error)
}

// AuditHandler serves the audit read-back endpoints.
type AuditHandler struct {
	Trail  AuditTrail
	Logger *zap.Logger
}

// Logins handles GET /api/audit/logins?limit=N.
func (h *AuditHandler) Logins(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	session, _ := middleware.SessionFromContext(r.Context())
	entries, err := h.Trail.RecentLogins(session, limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []models.LoginAttempt{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// StatusChanges handles GET /api/audit/status?limit=N.
func (h *AuditHandler) StatusChanges(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	session, _ := middleware.SessionFromContext(r.Context())
	entries, err := h.Trail.RecentStatusChanges(r.Context(), session, limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []models.StatusChange{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseLimit reads the limit query parameter; 0 means the service default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
