package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.frontendURL, "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/newsletter", func(r chi.Router) {
			r.Post("/subscribe", s.handleSubscribe)
			r.Get("/confirm", s.handleConfirm)
			r.Post("/unsubscribe", s.handleUnsubscribe)
			r.Get("/unsubscribe", s.handleUnsubscribeLink)
			r.Post("/resend-confirmation", s.handleResendConfirmation)
			r.Get("/stats", s.handleStats)
			r.Route("/subscribers/{email}", func(r chi.Router) {
				r.Get("/", s.handleCheckSubscriber)
				r.Post("/promo-used", s.handleMarkPromoUsed)
				r.Delete("/", s.handleErase)
			})
		})

		r.Post("/webhooks/mailerlite", s.handleMailerLiteWebhook)

		r.Route("/notify", func(r chi.Router) {
			r.Post("/artwork-created", s.handleNotify)
			r.Post("/artwork-removed", s.handleNotify)
			r.Post("/event-created", s.handleNotify)
		})

		r.Post("/admin/reconcile", s.handleReconcile)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
