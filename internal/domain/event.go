package domain

import "time"

// CatalogEventKind identifies which catalog mutation triggered a
// notification.
type CatalogEventKind string

const (
	EventArtworkCreated CatalogEventKind = "artwork_created"
	EventArtworkRemoved CatalogEventKind = "artwork_removed"
	EventEventCreated   CatalogEventKind = "event_created"
)

// CatalogEvent is the payload handed to the notification dispatcher when an
// artwork or gallery event changes. It carries only rendering fields; the
// dispatcher never reads the catalog store.
type CatalogEvent struct {
	Kind        CatalogEventKind `json:"kind"`
	EntityID    string           `json:"entity_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ImageURL    string           `json:"image_url,omitempty"`
	Price       string           `json:"price,omitempty"`
	Date        string           `json:"date,omitempty"`
	Location    string           `json:"location,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// DispatchResult reports the outcome of one notification fan-out.
// Failures are collected, never raised: a failed recipient must not abort
// the batch, and the triggering request never sees these errors.
type DispatchResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}
