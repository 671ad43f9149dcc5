package registry

import (
	"context"
	"time"

	"github.com/atelier-ec/newsletter/internal/domain"
)

// Repository is the persistence boundary for subscriber records. All
// transition methods are guarded: they apply only when the current status
// allows the transition and report whether a row actually changed, so
// concurrent writers cannot regress the state machine.
type Repository interface {
	// Create inserts a new record. Returns ErrDuplicate when a record with
	// the same email already exists.
	Create(ctx context.Context, sub *domain.Subscriber) error

	// GetByEmail returns the record for a normalized address, or ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)

	// Confirm moves a pending record to confirmed. The promo code is only
	// written when none is stored yet; confirmed_at is set once.
	Confirm(ctx context.Context, email, promoCode string, at time.Time) (bool, error)

	// Unsubscribe moves a pending or confirmed record to unsubscribed,
	// recording the reason and timestamp once.
	Unsubscribe(ctx context.Context, email, reason string, at time.Time) (bool, error)

	// Suppress moves a pending or confirmed record to bounced or complained.
	Suppress(ctx context.Context, email string, status domain.SubscriberStatus, at time.Time) (bool, error)

	// Resubscribe moves an unsubscribed record back to pending with fresh
	// consent and new tokens. The historical unsubscribed_at is preserved.
	Resubscribe(ctx context.Context, email string, consent domain.Consent, confirmationToken, unsubscribeToken string) (bool, error)

	// SetConfirmationToken replaces the stored confirmation token.
	SetConfirmationToken(ctx context.Context, email, token string) error

	// MarkPromoUsed flips promo_used exactly once.
	MarkPromoUsed(ctx context.Context, email string, at time.Time) (bool, error)

	// IncrementSent bumps emails_sent and last_email_sent_at for each listed
	// address, returning how many rows changed.
	IncrementSent(ctx context.Context, emails []string, at time.Time) (int64, error)

	// IncrementOpened bumps emails_opened for the address.
	IncrementOpened(ctx context.Context, email string) error

	// IncrementClicked bumps emails_clicked for the address.
	IncrementClicked(ctx context.Context, email string) error

	// ListActive returns all confirmed subscribers. This is the only read
	// path broadcasts are allowed to use.
	ListActive(ctx context.Context) ([]*domain.Subscriber, error)

	// Stats returns the aggregate status breakdown.
	Stats(ctx context.Context) (*domain.SubscriberStats, error)

	// Delete removes the record entirely. Used for erasure requests only.
	Delete(ctx context.Context, email string) error
}
