package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/brokerlink/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermEventsRead)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))
				r.Get("/status", s.handleStatus)
				r.Get("/endpoints", s.handleEndpoints)
			})

			r.With(s.requirePermission(auth.PermEventsRead)).Get("/events", s.handleListEvents)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSessionControl))
				r.Post("/session/connect", s.handleConnect)
				r.Post("/session/disconnect", s.handleDisconnect)
			})

			r.With(s.requirePermission(auth.PermMessagePublish)).Post("/publish", s.handlePublish)
		})
	})

	return r
}
