package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/health", s.handleHealth)

		// Instrument catalogue and telemetry endpoints
		r.Route("/instruments", func(r chi.Router) {
			r.Get("/", s.handleListInstruments)
			r.Post("/", s.handleCreateInstrument)

			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetInstrument)
				r.Put("/", s.handleUpdateInstrument)
				r.Delete("/", s.handleDeleteInstrument)

				r.Post("/subscribe", s.handleSubscribe)
				r.Post("/unsubscribe", s.handleUnsubscribe)
				r.Get("/calibration", s.handleCalibrationState)
				r.Get("/status", s.handleOperationStatus)
			})
		})

		// WebSocket endpoint for real-time broadcasts
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
