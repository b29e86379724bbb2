package http

import (
	"net/http"

	"github.com/atinyakov/CareKeeper/internal/middleware"
	"github.com/atinyakov/CareKeeper/internal/models"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RecordRoutes is a record handler that can be mounted under /api.
type RecordRoutes interface {
	MountPath() string
	Routes(r chi.Router)
}

// NewRouter constructs the HTTP handler of the presentation API.
//
// Routes:
//
//	POST   /api/login                           → authHandler.Login (public)
//	GET    /api/accounts                        → authHandler.ListAccounts
//	POST   /api/accounts                        → authHandler.Register
//	DELETE /api/accounts/{username}             → authHandler.DeleteAccount
//	POST   /api/accounts/{username}/unlock      → authHandler.Unlock
//	POST   /api/accounts/{username}/password    → authHandler.ChangePassword
//	GET    /api/audit/logins, /api/audit/status → auditHandler
//	*      /api/{records...}                    → each RecordRoutes
//	GET    /metrics                             → metrics (when not nil)
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. WithRequestLogging(logger)
//  3. AllowContentType("application/json") on /api
//  4. SessionAuth on /api, except /api/login; accounts resolves the
//     token's subject on every request
func NewRouter(
	authHandler *AuthHandler,
	auditHandler *AuditHandler,
	sessions middleware.TokenParser,
	accounts middleware.AccountLookup,
	metrics http.Handler,
	logger *zap.Logger,
	records ...RecordRoutes,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Use(middleware.SessionAuth(sessions, accounts, "/api/login"))

		r.Post("/login", authHandler.Login)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/{username}/password", authHandler.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.Session.CanManageAccounts))
				r.Get("/", authHandler.ListAccounts)
				r.Post("/", authHandler.Register)
				r.Delete("/{username}", authHandler.DeleteAccount)
				r.Post("/{username}/unlock", authHandler.Unlock)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.Session.IsAdmin))
			r.Get("/logins", auditHandler.Logins)
			r.Get("/status", auditHandler.StatusChanges)
		})

		for _, rec := range records {
			r.Route(rec.MountPath(), rec.Routes)
		}
	})

	return r
}
