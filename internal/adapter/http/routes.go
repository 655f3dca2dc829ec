package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AgentForge/internal/middleware"
)

// MountRoutes registers the health endpoint and the /api routes on r.
// limiter guards the deploy endpoint and may be nil.
func MountRoutes(r chi.Router, h *Handlers, limiter *middleware.RateLimiter) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Agents
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/by-name/{name}", h.GetAgentByName)
		r.Get("/agents/{id}", h.GetAgent)
		r.Patch("/agents/{id}", h.UpdateAgent)
		r.Delete("/agents/{id}", h.DeleteAgent)
		r.Get("/agents/{id}/blueprints", h.ListAgentBlueprints)
		r.Get("/agents/{id}/deployments", h.ListAgentDeployments)
		r.Get("/agents/{id}/logs", h.ListAgentLogs)

		// Blueprints
		r.Get("/blueprints", h.ListBlueprints)
		r.Get("/blueprints/{id}", h.GetBlueprint)

		// Deployments
		r.Get("/deployments", h.ListDeployments)
		r.Get("/deployments/{id}", h.GetDeployment)
		r.With(limiter.Handler).Post("/deploy", h.StartDeployment)

		// Activity & stats
		r.Get("/logs", h.ListActivity)
		r.Get("/stats", h.GetStats)
	})
}
