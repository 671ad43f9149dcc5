package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

// TokenIssuer issues the signed tokens stored alongside a subscriber record.
type TokenIssuer interface {
	Confirmation(email string) (string, error)
	Unsubscribe(email string) (string, error)
}

// Service enforces the subscriber state machine on top of a Repository.
type Service struct {
	repo        Repository
	tokens      TokenIssuer
	promoPrefix string
	now         func() time.Time
}

// NewService creates a registry service. promoPrefix is the literal prefix of
// generated promo codes, e.g. "EC10" yields codes like "EC10-4F9A2C".
func NewService(repo Repository, tokens TokenIssuer, promoPrefix string) *Service {
	if promoPrefix == "" {
		promoPrefix = "EC10"
	}
	return &Service{
		repo:        repo,
		tokens:      tokens,
		promoPrefix: promoPrefix,
		now:         time.Now,
	}
}

// Create registers an address as a pending subscriber. Outcomes:
//   - no record: a pending record is created with both tokens.
//   - pending record: returned as-is, so a retried signup does not trigger a
//     second opt-in email from our side.
//   - unsubscribed record: treated as a resubscription, since the signup
//     carries fresh consent.
//   - confirmed record: ErrAlreadySubscribed.
//   - bounced or complained record: ErrSuppressed.
//
// Create is the one non-idempotent write in this package, so the store call
// is never retried.
func (s *Service) Create(ctx context.Context, email string, consent domain.Consent) (*domain.Subscriber, error) {
	email = domain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if !consent.Accepted {
		return nil, ErrConsentRequired
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup subscriber: %w", err)
	}
	if existing != nil {
		return s.createExisting(ctx, existing, consent)
	}

	sub, err := s.newPending(email, consent)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Lost a race with a concurrent signup. The other writer's
			// record is authoritative.
			raced, getErr := s.repo.GetByEmail(ctx, email)
			if getErr != nil {
				return nil, fmt.Errorf("resolve duplicate signup: %w", getErr)
			}
			return s.createExisting(ctx, raced, consent)
		}
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	logger.Info("subscriber created", "email", email, "source", string(consent.Source))
	return sub, nil
}

func (s *Service) createExisting(ctx context.Context, existing *domain.Subscriber, consent domain.Consent) (*domain.Subscriber, error) {
	switch existing.Status {
	case domain.StatusPending:
		return existing, nil
	case domain.StatusConfirmed:
		return nil, ErrAlreadySubscribed
	case domain.StatusUnsubscribed:
		return s.Resubscribe(ctx, existing.Email, consent)
	default:
		return nil, ErrSuppressed
	}
}

func (s *Service) newPending(email string, consent domain.Consent) (*domain.Subscriber, error) {
	confirmTok, err := s.tokens.Confirmation(email)
	if err != nil {
		return nil, fmt.Errorf("issue confirmation token: %w", err)
	}
	unsubTok, err := s.tokens.Unsubscribe(email)
	if err != nil {
		return nil, fmt.Errorf("issue unsubscribe token: %w", err)
	}

	source := consent.Source
	if source == "" {
		source = domain.SourceFrontForm
	}

	return &domain.Subscriber{
		ID:                uuid.New().String(),
		Email:             email,
		Status:            domain.StatusPending,
		ConsentAccepted:   true,
		ConsentIP:         consent.IP,
		ConsentUserAgent:  consent.UserAgent,
		Source:            source,
		ConfirmationToken: confirmTok,
		UnsubscribeToken:  unsubTok,
		CreatedAt:         s.now(),
	}, nil
}

// Confirm moves a pending subscriber to confirmed, assigning the promo code
// on first confirmation only. alreadyConfirmed reports a replayed
// confirmation, which is a success, not an error.
func (s *Service) Confirm(ctx context.Context, email string) (sub *domain.Subscriber, alreadyConfirmed bool, err error) {
	email = domain.NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}

	switch existing.Status {
	case domain.StatusConfirmed:
		return existing, true, nil
	case domain.StatusPending:
		// fall through to the guarded transition
	default:
		return nil, false, ErrNotPending
	}

	promo := existing.PromoCode
	if promo == "" {
		promo, err = s.generatePromoCode()
		if err != nil {
			return nil, false, err
		}
	}

	ok, err := s.retry(ctx, "confirm", func() (bool, error) {
		return s.repo.Confirm(ctx, email, promo, s.now())
	})
	if err != nil {
		return nil, false, fmt.Errorf("confirm subscriber: %w", err)
	}
	if !ok {
		// A webhook or a replayed token got there first. Re-read and report
		// whatever state won.
		raced, getErr := s.repo.GetByEmail(ctx, email)
		if getErr != nil {
			return nil, false, getErr
		}
		if raced.Status == domain.StatusConfirmed {
			return raced, true, nil
		}
		return nil, false, ErrNotPending
	}

	confirmed, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	logger.Info("subscriber confirmed", "email", email, "promo_code", confirmed.PromoCode)
	return confirmed, false, nil
}

// Unsubscribe records an opt-out. Already-unsubscribed and suppressed records
// are a no-op success so replayed links and webhook retries converge.
func (s *Service) Unsubscribe(ctx context.Context, email, reason string) error {
	email = domain.NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing.Status == domain.StatusUnsubscribed || existing.Status.Suppressed() {
		return nil
	}

	ok, err := s.retry(ctx, "unsubscribe", func() (bool, error) {
		return s.repo.Unsubscribe(ctx, email, reason, s.now())
	})
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if ok {
		logger.Info("subscriber unsubscribed", "email", email, "reason", reason)
	}
	return nil
}

// MarkBounced suppresses an address after a hard bounce.
func (s *Service) MarkBounced(ctx context.Context, email string) error {
	return s.suppress(ctx, email, domain.StatusBounced)
}

// MarkComplained suppresses an address after a spam complaint.
func (s *Service) MarkComplained(ctx context.Context, email string) error {
	return s.suppress(ctx, email, domain.StatusComplained)
}

func (s *Service) suppress(ctx context.Context, email string, status domain.SubscriberStatus) error {
	email = domain.NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing.Status == status || existing.Status == domain.StatusUnsubscribed {
		return nil
	}
	if existing.Status.Suppressed() {
		// Already suppressed for the other reason. Complaints outrank
		// bounces; a bounce never downgrades a complaint.
		if status == domain.StatusComplained {
			_, err := s.retry(ctx, "suppress", func() (bool, error) {
				return s.repo.Suppress(ctx, email, status, s.now())
			})
			return err
		}
		return nil
	}

	ok, err := s.retry(ctx, "suppress", func() (bool, error) {
		return s.repo.Suppress(ctx, email, status, s.now())
	})
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	if ok {
		logger.Warn("subscriber suppressed", "email", email, "status", string(status))
	}
	return nil
}

// Resubscribe moves an unsubscribed record back to pending with fresh consent
// and freshly issued tokens.
func (s *Service) Resubscribe(ctx context.Context, email string, consent domain.Consent) (*domain.Subscriber, error) {
	email = domain.NormalizeEmail(email)
	if !consent.Accepted {
		return nil, ErrConsentRequired
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	switch existing.Status {
	case domain.StatusUnsubscribed:
		// fall through
	case domain.StatusPending:
		return existing, nil
	case domain.StatusConfirmed:
		return nil, ErrAlreadySubscribed
	default:
		return nil, ErrNotUnsubscribed
	}

	confirmTok, err := s.tokens.Confirmation(email)
	if err != nil {
		return nil, fmt.Errorf("issue confirmation token: %w", err)
	}
	unsubTok, err := s.tokens.Unsubscribe(email)
	if err != nil {
		return nil, fmt.Errorf("issue unsubscribe token: %w", err)
	}

	if consent.Source == "" {
		consent.Source = domain.SourceFrontForm
	}

	ok, err := s.retry(ctx, "resubscribe", func() (bool, error) {
		return s.repo.Resubscribe(ctx, email, consent, confirmTok, unsubTok)
	})
	if err != nil {
		return nil, fmt.Errorf("resubscribe: %w", err)
	}
	if !ok {
		return nil, ErrNotUnsubscribed
	}

	logger.Info("subscriber resubscribed", "email", email)
	return s.repo.GetByEmail(ctx, email)
}

// RotateConfirmationToken issues a fresh confirmation token for a pending
// subscriber so the opt-in email can be resent.
func (s *Service) RotateConfirmationToken(ctx context.Context, email string) (*domain.Subscriber, error) {
	email = domain.NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing.Status != domain.StatusPending {
		return nil, ErrNotPending
	}

	tok, err := s.tokens.Confirmation(email)
	if err != nil {
		return nil, fmt.Errorf("issue confirmation token: %w", err)
	}
	if err := s.repo.SetConfirmationToken(ctx, email, tok); err != nil {
		return nil, fmt.Errorf("store confirmation token: %w", err)
	}

	existing.ConfirmationToken = tok
	return existing, nil
}

// Get returns the record for an address.
func (s *Service) Get(ctx context.Context, email string) (*domain.Subscriber, error) {
	return s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
}

// MarkPromoUsed redeems the one-time promo code.
func (s *Service) MarkPromoUsed(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing.PromoCode == "" {
		return ErrNotFound
	}
	if existing.PromoUsed {
		return ErrPromoAlreadyUsed
	}

	ok, err := s.retry(ctx, "mark promo used", func() (bool, error) {
		return s.repo.MarkPromoUsed(ctx, email, s.now())
	})
	if err != nil {
		return fmt.Errorf("mark promo used: %w", err)
	}
	if !ok {
		return ErrPromoAlreadyUsed
	}
	return nil
}

// RecordSend bumps send counters for the given recipients. Callers invoke
// this only after a send actually went out.
func (s *Service) RecordSend(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = domain.NormalizeEmail(e)
	}
	_, err := s.repo.IncrementSent(ctx, normalized, s.now())
	if err != nil {
		_, err = s.repo.IncrementSent(ctx, normalized, s.now())
	}
	return err
}

// RecordOpen bumps the open counter for an address.
func (s *Service) RecordOpen(ctx context.Context, email string) error {
	return s.repo.IncrementOpened(ctx, domain.NormalizeEmail(email))
}

// RecordClick bumps the click counter for an address.
func (s *Service) RecordClick(ctx context.Context, email string) error {
	return s.repo.IncrementClicked(ctx, domain.NormalizeEmail(email))
}

// ActiveForBroadcast returns the confirmed subscribers eligible for outbound
// mail. Pending, unsubscribed and suppressed records never appear here.
func (s *Service) ActiveForBroadcast(ctx context.Context) ([]*domain.Subscriber, error) {
	return s.repo.ListActive(ctx)
}

// Stats returns the aggregate status breakdown.
func (s *Service) Stats(ctx context.Context) (*domain.SubscriberStats, error) {
	return s.repo.Stats(ctx)
}

// Erase hard-deletes the record for a right-to-be-forgotten request.
func (s *Service) Erase(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if err := s.repo.Delete(ctx, email); err != nil {
		return err
	}
	logger.Info("subscriber erased", "email", email)
	return nil
}

// retry runs a guarded transition, retrying exactly once on a store failure.
// All callers are idempotent, so a double-applied write converges to the same
// state. Domain errors are never retried.
func (s *Service) retry(ctx context.Context, op string, fn func() (bool, error)) (bool, error) {
	ok, err := fn()
	if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return ok, err
	}
	logger.Warn("store write failed, retrying once", "op", op, "error", err.Error())
	return fn()
}

func (s *Service) generatePromoCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate promo code: %w", err)
	}
	return s.promoPrefix + "-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return ErrInvalidEmail
	}
	return nil
}
