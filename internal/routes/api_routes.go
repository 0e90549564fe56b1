package routes

import (
	"github.com/go-chi/chi/v5"

	"infinite-experiment/tourdesk/internal/api"
	"infinite-experiment/tourdesk/internal/middleware"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// RegisterAPIRoutes registers all API v1 routes and handlers
// This keeps API route registration separate from the main router setup
func RegisterAPIRoutes(r chi.Router, deps *api.Dependencies, handlers *api.Handlers) {

	// Signed downloads authenticate with the link token instead of a bearer token
	r.Group(func(public chi.Router) {
		if deps.Limiter != nil {
			public.Use(deps.Limiter.Middleware)
		}
		public.Get("/exports/{format}", handlers.DownloadExport())
	})

	// API v1 routes
	r.Route("/api/v1", func(v1 chi.Router) {
		if deps.Limiter != nil {
			v1.Use(deps.Limiter.Middleware)
		}
		v1.Use(middleware.AuthMiddleware(deps.Verifier)) // global: all routes must be authenticated

		// Provider group (provider + manager + admin)
		v1.Group(func(provider chi.Router) {
			provider.Use(middleware.IsProviderMiddleware())

			provider.Get("/orders/groups", handlers.GetGroups(entities.KindOrder))
			provider.Get("/passengers/groups", handlers.GetGroups(entities.KindPassenger))
			provider.Get("/notifications", handlers.GetNotifications())
			provider.Get("/live", handlers.LiveUpdates())

			// Manager-only group (manager + admin)
			provider.Group(func(manager chi.Router) {
				manager.Use(middleware.IsManagerMiddleware())

				for _, kind := range entities.Kinds {
					base := "/" + kind.Table()
					manager.Post(base, handlers.CreateRecord(kind))
					manager.Patch(base+"/{id}", handlers.UpdateRecord(kind))
					manager.Delete(base+"/{id}", handlers.DeleteRecord(kind))
				}
				manager.Post("/exports/link", handlers.CreateExportLink())

				// Admin-only group
				manager.Group(func(admin chi.Router) {
					admin.Use(middleware.IsAdminMiddleware())

					admin.Post("/admin/resync", handlers.TriggerResync())
					admin.Post("/admin/capabilities/reset", handlers.ResetCapabilities())
					admin.Get("/admin/sync-history", handlers.GetSyncHistory())
				})
			})
		})
	})
}
