package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

type notifyRequest struct {
	EntityID    string `json:"entity_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Price       string `json:"price"`
	Date        string `json:"date"`
	Location    string `json:"location"`
}

// handleNotify accepts a catalog trigger and enqueues it. The response is
// always 202: delivery happens out of band and the catalog app never waits
// on, or learns about, send outcomes.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	kind, ok := eventKindFromPath(r.URL.Path)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown notification trigger")
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	event := domain.CatalogEvent{
		Kind:        kind,
		EntityID:    req.EntityID,
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
		Date:        req.Date,
		Location:    req.Location,
		OccurredAt:  time.Now().UTC(),
	}

	if err := s.queue.Enqueue(r.Context(), event); err != nil {
		// Fire-and-forget: a queue hiccup is our problem, not the caller's.
		logger.Error("enqueue notification failed", "kind", string(kind), "error", err.Error())
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func eventKindFromPath(path string) (domain.CatalogEventKind, bool) {
	switch {
	case strings.HasSuffix(path, "/artwork-created"):
		return domain.EventArtworkCreated, true
	case strings.HasSuffix(path, "/artwork-removed"):
		return domain.EventArtworkRemoved, true
	case strings.HasSuffix(path, "/event-created"):
		return domain.EventEventCreated, true
	}
	return "", false
}
