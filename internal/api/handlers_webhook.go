package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Subscriber struct {
			Email  string `json:"email"`
			Status string `json:"status"`
		} `json:"subscriber"`
	} `json:"data"`
}

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

// handleMailerLiteWebhook ingests provider event batches. Each event is
// processed independently; one bad event never blocks the rest, and the
// provider always gets a 200 back so it does not retry the whole batch.
func (s *Server) handleMailerLiteWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		sig := r.Header.Get("X-MailerLite-Signature")
		if subtle.ConstantTimeCompare([]byte(sig), []byte(s.webhookSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	processed := 0
	for _, event := range payload.Events {
		if s.applyWebhookEvent(r, event) {
			processed++
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "processed": processed})
}

func (s *Server) applyWebhookEvent(r *http.Request, event webhookEvent) bool {
	email := event.Data.Subscriber.Email
	if email == "" {
		logger.Warn("webhook event without email", "type", event.Type)
		return false
	}

	kind := strings.TrimPrefix(event.Type, "subscriber.")
	var err error
	switch kind {
	case "double_opt_in", "active":
		_, _, err = s.registry.Confirm(r.Context(), email)
	case "unsubscribed":
		err = s.registry.Unsubscribe(r.Context(), email, "provider webhook")
	case "bounced":
		err = s.registry.MarkBounced(r.Context(), email)
	case "complaint", "junk", "spam_reported":
		err = s.registry.MarkComplained(r.Context(), email)
	case "open", "opened":
		err = s.registry.RecordOpen(r.Context(), email)
	case "click", "clicked":
		err = s.registry.RecordClick(r.Context(), email)
	default:
		logger.Debug("ignoring webhook event", "type", event.Type)
		return false
	}

	if err != nil {
		// Unknown local records and state mismatches are expected here: the
		// provider also tracks addresses we never saw. Log and move on.
		logger.Warn("webhook event skipped", "type", event.Type, "email", email, "error", err.Error())
		return false
	}
	return true
}
