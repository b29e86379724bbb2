package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/atinyakov/CareKeeper/internal/middleware"
	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RecordService is the lifecycle manager of one record type.
type RecordService[R models.Record] interface {
	Create(ctx context.Context, rec R, actor string) (R, error)
	Edit(ctx context.Context, rec R, actor string) (R, error)
	Get(ctx context.Context, id string) (R, error)
	List(ctx context.Context) ([]R, error)
	Lock(ctx context.Context, id, actor string) (service.Outcome, error)
	Delete(ctx context.Context, id, actor string) (service.Outcome, error)
	FindByStatus(ctx context.Context, status models.Status) ([]R, error)
	FindOlderThan(ctx context.Context, years int) ([]R, error)
}

// RecordHandler serves the CRUD and lifecycle endpoints of one record
// type. Reads are open to every session; writes need CanWrite.
type RecordHandler[R models.Record] struct {
	// Path is the mount point under /api, e.g. "/patients".
	Path     string
	Service  RecordService[R]
	New      func() R
	CanWrite func(models.Session) bool
	Logger   *zap.Logger
}

// TransitionResponse reports the result of a lock or delete request.
type TransitionResponse struct {
	Applied bool          `json:"applied"`
	Reason  string        `json:"reason,omitempty"`
	Status  models.Status `json:"status,omitempty"`
}

// MountPath returns the mount point under /api.
func (h *RecordHandler[R]) MountPath() string { return h.Path }

// Routes registers the handler's endpoints on r.
func (h *RecordHandler[R]) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(h.CanWrite))
		r.Post("/", h.Create)
		r.Put("/{id}", h.Edit)
		r.Post("/{id}/lock", h.Lock)
		r.Delete("/{id}", h.Delete)
	})
}

// List handles GET /. The optional status and olderThan query parameters
// narrow the result; DELETED records only appear through status.
func (h *RecordHandler[R]) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		recs []R
		err  error
	)
	switch {
	case q.Has("status"):
		status, ok := models.ParseStatus(q.Get("status"))
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		recs, err = h.Service.FindByStatus(r.Context(), status)
	case q.Has("olderThan"):
		years, convErr := strconv.Atoi(q.Get("olderThan"))
		if convErr != nil {
			http.Error(w, "invalid olderThan", http.StatusBadRequest)
			return
		}
		recs, err = h.Service.FindOlderThan(r.Context(), years)
	default:
		recs, err = h.Service.List(r.Context())
	}
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if recs == nil {
		recs = []R{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get handles GET /{id}.
func (h *RecordHandler[R]) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create handles POST /.
func (h *RecordHandler[R]) Create(w http.ResponseWriter, r *http.Request) {
	rec := h.New()
	if err := decodeJSON(r, rec); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	session, _ := middleware.SessionFromContext(r.Context())
	created, err := h.Service.Create(r.Context(), rec, session.Username)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Edit handles PUT /{id}. The id in the path wins over the body.
func (h *RecordHandler[R]) Edit(w http.ResponseWriter, r *http.Request) {
	rec := h.New()
	if err := decodeJSON(r, rec); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	rec.SetRecordID(chi.URLParam(r, "id"))
	session, _ := middleware.SessionFromContext(r.Context())
	updated, err := h.Service.Edit(r.Context(), rec, session.Username)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Lock handles POST /{id}/lock.
func (h *RecordHandler[R]) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Lock, models.StatusLocked)
}

// Delete handles DELETE /{id}. The record is marked DELETED, not removed.
func (h *RecordHandler[R]) Delete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Delete, models.StatusDeleted)
}

func (h *RecordHandler[R]) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id, actor string) (service.Outcome, error),
	to models.Status,
) {
	session, _ := middleware.SessionFromContext(r.Context())
	out, err := apply(r.Context(), chi.URLParam(r, "id"), session.Username)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	switch {
	case out.Applied:
		writeJSON(w, http.StatusOK, TransitionResponse{Applied: true, Status: to})
	case out.Reason == service.RejectNotFound:
		writeJSON(w, http.StatusNotFound, TransitionResponse{Reason: string(out.Reason)})
	default:
		writeJSON(w, http.StatusConflict, TransitionResponse{Reason: string(out.Reason)})
	}
}
