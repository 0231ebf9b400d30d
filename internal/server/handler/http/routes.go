package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/timecapsule/internal/middleware"
	"github.com/atinyakov/timecapsule/internal/storage"
)

// Pinger reports whether a dependency is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter constructs and returns an HTTP handler that serves the time
// capsule API.
//
// Routes:
//
//	GET    /healthz                                 → 204 when db answers
//	GET    /uploads/*                               → uploads (when non-nil)
//	GET    /users                                   → userHandler.List
//	POST   /users                                   → userHandler.Create
//	GET    /users/{id}                              → userHandler.Get
//	PATCH  /users/{id}                              → userHandler.Update
//	DELETE /users/{id}                              → userHandler.Delete
//	POST   /capsules                                → capsuleHandler.Create
//	GET    /capsules                                → capsuleHandler.List
//	GET    /capsules/{id}                           → capsuleHandler.Get
//	PATCH  /capsules/{id}                           → capsuleHandler.Update
//	DELETE /capsules/{id}                           → capsuleHandler.Delete
//	POST   /capsules/{id}/content                   → capsuleHandler.UpsertContent
//	POST   /capsules/{id}/media                     → capsuleHandler.AddMedia
//	POST   /capsules/{id}/recipients                → capsuleHandler.AddRecipients
//	DELETE /capsules/{id}/recipients/{recipientId}  → capsuleHandler.RemoveRecipient
//
// Every /capsules route requires an identity accepted by verifier.
func NewRouter(
	userHandler *UserHandler,
	capsuleHandler *CapsuleHandler,
	verifier middleware.Verifier,
	uploads http.Handler,
	db Pinger,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)
	// Bodies must be JSON, or multipart for media uploads.
	r.Use(chiMiddleware.AllowContentType("application/json", "multipart/form-data"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if uploads != nil {
		r.Handle(storage.URLPrefix+"/*", http.StripPrefix(storage.URLPrefix+"/", uploads))
	}

	r.Route("/users", func(r chi.Router) {
		r.Get("/", userHandler.List)
		r.Post("/", userHandler.Create)
		r.Get("/{id}", userHandler.Get)
		r.Patch("/{id}", userHandler.Update)
		r.Delete("/{id}", userHandler.Delete)
	})

	r.Route("/capsules", func(r chi.Router) {
		r.Use(middleware.Authenticate(verifier))

		r.Post("/", capsuleHandler.Create)
		r.Get("/", capsuleHandler.List)
		r.Get("/{id}", capsuleHandler.Get)
		r.Patch("/{id}", capsuleHandler.Update)
		r.Delete("/{id}", capsuleHandler.Delete)
		r.Post("/{id}/content", capsuleHandler.UpsertContent)
		r.Post("/{id}/media", capsuleHandler.AddMedia)
		r.Post("/{id}/recipients", capsuleHandler.AddRecipients)
		r.Delete("/{id}/recipients/{recipientId}", capsuleHandler.RemoveRecipient)
	})

	return r
}
