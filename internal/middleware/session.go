// Package middleware provides HTTP middlewares for session authentication,
// role checks and request logging.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/atinyakov/CareKeeper/internal/models"
	"github.com/atinyakov/CareKeeper/internal/repository"
)

type ctxKey string

const sessionKey ctxKey = "session"

// TokenParser turns a bearer token into a session.
type TokenParser interface {
	Parse(token string) (models.Session, error)
}

// AccountLookup loads the account a session was issued for.
type AccountLookup interface {
	// GetByUsername returns repository.ErrNotFound for unknown users.
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
}

// SessionAuth enforces a valid bearer token on every request except the
// paths listed in public.
//
// The token only names the account: it is loaded from accounts on every
// request, a deleted account or a changed password ends the session, and
// the role comes from the stored account. On success the session is
// stored in the request context, so handlers can authorize with
// SessionFromContext.
func SessionAuth(parser TokenParser, accounts AccountLookup, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claimed, err := parser.Parse(token)
			if err != nil {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			acc, err := accounts.GetByUsername(r.Context(), claimed.Username)
			if errors.Is(err, repository.ErrNotFound) {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if claimed.Stamp != acc.SessionStamp() {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			session := models.SessionFor(acc)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole lets the request through only when allowed reports true for
// the session in the context.
func RequireRole(allowed func(models.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "missing session", http.StatusUnauthorized)
				return
			}
			if !allowed(s) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext extracts the session stored by SessionAuth.
func SessionFromContext(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionKey).(models.Session)
	return s, ok
}
