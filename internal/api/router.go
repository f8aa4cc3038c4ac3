package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the REST API under /api and the realtime channel at /ws.
// ws may be nil when the realtime channel is disabled.
func NewRouter(apiHandler *APIHandler, ws http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", apiHandler.ListConversationsHandler)
			r.Post("/", apiHandler.CreateConversationHandler)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", apiHandler.GetConversationHandler)
				r.Patch("/", apiHandler.UpdateConversationHandler)
				r.Delete("/", apiHandler.DeleteConversationHandler)
				r.Get("/messages", apiHandler.ListMessagesHandler)
				r.Post("/messages", apiHandler.CreateMessageHandler)
			})
		})

		r.Post("/weather-agent/stream", apiHandler.StreamHandler)

		r.Get("/settings", apiHandler.GetSettingsHandler)
		r.Patch("/settings", apiHandler.UpdateSettingsHandler)
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}
