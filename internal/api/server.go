// Package api is the HTTP boundary of the newsletter service. Handlers
// translate between wire formats and the registry's domain operations; no
// business rules live here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/mailerlite"
	"github.com/atelier-ec/newsletter/internal/reconcile"
	"github.com/atelier-ec/newsletter/internal/registry"
	"github.com/atelier-ec/newsletter/internal/token"
)

// Registry is the subscriber lifecycle surface the handlers call.
type Registry interface {
	Create(ctx context.Context, email string, consent domain.Consent) (*domain.Subscriber, error)
	Confirm(ctx context.Context, email string) (*domain.Subscriber, bool, error)
	Unsubscribe(ctx context.Context, email, reason string) error
	MarkBounced(ctx context.Context, email string) error
	MarkComplained(ctx context.Context, email string) error
	RotateConfirmationToken(ctx context.Context, email string) (*domain.Subscriber, error)
	Get(ctx context.Context, email string) (*domain.Subscriber, error)
	MarkPromoUsed(ctx context.Context, email string) error
	RecordOpen(ctx context.Context, email string) error
	RecordClick(ctx context.Context, email string) error
	Stats(ctx context.Context) (*domain.SubscriberStats, error)
	Erase(ctx context.Context, email string) error
}

// Provider is the remote-side surface the handlers touch. All calls are
// best-effort: failures degrade, they never fail the request.
type Provider interface {
	EnsureNewsletterSubscriber(ctx context.Context, email string, fields map[string]string) error
	MarkConfirmed(ctx context.Context, email string) error
	MarkUnsubscribed(ctx context.Context, email string) error
	GetSubscriber(ctx context.Context, email string) (*mailerlite.Subscriber, error)
	DeleteSubscriber(ctx context.Context, subscriberID string) error
}

// Enqueuer hands catalog events to the background dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, event domain.CatalogEvent) error
}

// Verifier checks inbound action tokens.
type Verifier interface {
	Verify(tokenString string, kind token.Kind) (string, error)
}

// Reconciler runs one reconciliation pass on demand.
type Reconciler interface {
	Run(ctx context.Context) reconcile.Result
}

// Server is the API server.
type Server struct {
	registry      Registry
	provider      Provider
	queue         Enqueuer
	tokens        Verifier
	reconciler    Reconciler
	frontendURL   string
	webhookSecret string
	handler       http.Handler
	server        *http.Server
}

// NewServer wires the handlers and routes.
func NewServer(reg Registry, provider Provider, queue Enqueuer, tokens Verifier, reconciler Reconciler, frontendURL, webhookSecret string) *Server {
	s := &Server{
		registry:      reg,
		provider:      provider,
		queue:         queue,
		tokens:        tokens,
		reconciler:    reconciler,
		frontendURL:   frontendURL,
		webhookSecret: webhookSecret,
	}
	s.handler = s.routes()
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Make the concrete service satisfy the interface at compile time.
var _ Registry = (*registry.Service)(nil)
