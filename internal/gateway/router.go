// ABOUTME: HTTP route table for the gateway built on chi
// ABOUTME: Health is public, /ws authenticates in-band, everything under /api needs a bearer token

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/switchboard-gateway/internal/auth"
)

// newRouter builds the HTTP handler.
func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Get("/ws", g.handleWebsocket)

	bearer := auth.BearerMiddleware(g.state.authn)
	r.Route("/api", func(r chi.Router) {
		r.With(g.limitByIP, bearer).Post("/chat", g.handleChat)

		r.Group(func(r chi.Router) {
			r.Use(bearer)

			r.Get("/agents", g.handleListAgents)
			r.Get("/templates", g.handleListTemplates)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", g.handleListTasks)
				r.Post("/", g.handleCreateTask)
				r.Delete("/{id}", g.handleDeleteTask)
				r.Post("/{id}/toggle", g.handleToggleTask)
				r.Post("/{id}/run", g.handleRunTask)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", g.handleQueryAudit)
				r.Get("/stats", g.handleAuditStats)
				r.Get("/stream", g.handleAuditStream)
			})

			r.Get("/conversations/{id}", g.handleGetConversation)
		})
	})

	return r
}
