package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afcen/overseer/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Directives
		r.Post("/directives", h.SubmitDirective)
		r.Get("/directives/{id}", h.GetDirective)

		// Peer channel
		r.Post("/peer/directives", h.SendPeerDirective)

		// Approvals
		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decision", h.DecideApproval)

		// Conflicts
		r.Get("/conflicts", h.ListConflicts)
		r.Get("/conflicts/{id}", h.GetConflict)
		r.Post("/conflicts/{id}/positions", h.SubmitPosition)

		// Audit log
		r.Get("/audit", h.QueryAudit)

		// Health
		r.Get("/health", h.Health)
	})

	// WebSocket event stream for operator consoles.
	r.Get("/ws", hub.HandleWS)
}
