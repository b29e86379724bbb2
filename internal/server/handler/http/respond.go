package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/CareKeeper/internal/repository"
	"github.com/atinyakov/CareKeeper/internal/service"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service and repository errors to status codes. Anything
// unrecognised is logged and reported as an internal error.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidAccount),
		errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, service.ErrNegativeAge):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrProtectedAccount),
		errors.Is(err, service.ErrRecordDeleted),
		errors.Is(err, repository.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
