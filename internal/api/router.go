package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/forgeops/engine/internal/api/handlers"
	mw "github.com/forgeops/engine/internal/api/middleware"
)

type Dependencies struct {
	DB                 *gorm.DB
	HMACSecret         []byte
	AuthHandler        *handlers.AuthHandler
	ProjectsHandler    *handlers.ProjectsHandler
	DeploymentsHandler *handlers.DeploymentsHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler(dep.DB)
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			protected.Route("/auth/providers", func(pr chi.Router) {
				pr.Post("/connect", dep.AuthHandler.ConnectProvider)
				pr.Post("/revoke", dep.AuthHandler.RevokeProvider)
			})

			protected.Route("/projects", func(pr chi.Router) {
				pr.Get("/", dep.ProjectsHandler.List)
				pr.Post("/", dep.ProjectsHandler.Create)
				pr.Get("/{id}", dep.ProjectsHandler.Get)
				pr.Delete("/{id}", dep.ProjectsHandler.Archive)
				pr.Get("/{id}/environments", dep.ProjectsHandler.ListEnvironments)
				pr.Post("/{id}/provision", dep.ProjectsHandler.RetryProvisioning)
			})

			protected.Put("/environments/{envID}/permissions", dep.ProjectsHandler.SetEnvironmentPermission)

			protected.Route("/deployments", func(dr chi.Router) {
				dr.Get("/", dep.DeploymentsHandler.List)
				dr.Post("/", dep.DeploymentsHandler.Create)
				dr.Get("/{id}", dep.DeploymentsHandler.Get)
				dr.Get("/{id}/approvals", dep.DeploymentsHandler.ListApprovals)
				dr.Post("/{id}/approve", dep.DeploymentsHandler.Approve)
				dr.Post("/{id}/reject", dep.DeploymentsHandler.Reject)
				dr.Post("/{id}/rollback", dep.DeploymentsHandler.Rollback)
			})
		})
	})

	return r
}
