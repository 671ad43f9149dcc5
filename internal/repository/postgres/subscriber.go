// Package postgres implements the registry repository against PostgreSQL.
//
// Every state transition is a guarded conditional UPDATE: the WHERE clause
// encodes the allowed source states and the caller learns from RowsAffected
// whether the transition applied. Concurrent writers therefore cannot regress
// the state machine regardless of interleaving.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/registry"
)

// SubscriberRepo implements registry.Repository against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

const subscriberColumns = `
	id, email, status,
	consent_accepted, consent_ip, consent_user_agent, source,
	promo_code, promo_used, promo_used_at,
	confirmation_token, unsubscribe_token,
	emails_sent, emails_opened, emails_clicked, last_email_sent_at,
	unsubscribe_reason,
	created_at, confirmed_at, unsubscribed_at`

func (r *SubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_subscribers (
			id, email, status,
			consent_accepted, consent_ip, consent_user_agent, source,
			confirmation_token, unsubscribe_token,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.Email, s.Status,
		s.ConsentAccepted, nullString(s.ConsentIP), nullString(s.ConsentUserAgent), s.Source,
		s.ConfirmationToken, s.UnsubscribeToken,
		s.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return registry.ErrDuplicate
		}
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE email = $1`,
		email,
	)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

func (r *SubscriberRepo) Confirm(ctx context.Context, email, promoCode string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET status = 'confirmed',
		    promo_code = COALESCE(promo_code, $2),
		    confirmed_at = COALESCE(confirmed_at, $3)
		WHERE email = $1 AND status = 'pending'
	`, email, promoCode, at)
	if err != nil {
		return false, fmt.Errorf("confirm subscriber: %w", err)
	}
	return oneRow(res)
}

func (r *SubscriberRepo) Unsubscribe(ctx context.Context, email, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET status = 'unsubscribed',
		    unsubscribe_reason = $2,
		    unsubscribed_at = COALESCE(unsubscribed_at, $3)
		WHERE email = $1 AND status IN ('pending', 'confirmed')
	`, email, nullString(reason), at)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	return oneRow(res)
}

func (r *SubscriberRepo) Suppress(ctx context.Context, email string, status domain.SubscriberStatus, at time.Time) (bool, error) {
	// complained may overwrite bounced, never the reverse.
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET status = $2, unsubscribed_at = COALESCE(unsubscribed_at, $3)
		WHERE email = $1
		  AND status IN ('pending', 'confirmed', 'bounced')
		  AND status <> $2
	`, email, status, at)
	if err != nil {
		return false, fmt.Errorf("suppress: %w", err)
	}
	return oneRow(res)
}

func (r *SubscriberRepo) Resubscribe(ctx context.Context, email string, consent domain.Consent, confirmationToken, unsubscribeToken string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET status = 'pending',
		    consent_accepted = $2,
		    consent_ip = $3,
		    consent_user_agent = $4,
		    source = $5,
		    confirmation_token = $6,
		    unsubscribe_token = $7
		WHERE email = $1 AND status = 'unsubscribed'
	`, email, consent.Accepted, nullString(consent.IP), nullString(consent.UserAgent),
		consent.Source, confirmationToken, unsubscribeToken,
	)
	if err != nil {
		return false, fmt.Errorf("resubscribe: %w", err)
	}
	return oneRow(res)
}

func (r *SubscriberRepo) SetConfirmationToken(ctx context.Context, email, token string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_subscribers SET confirmation_token = $2 WHERE email = $1`,
		email, token,
	)
	if err != nil {
		return fmt.Errorf("set confirmation token: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *SubscriberRepo) MarkPromoUsed(ctx context.Context, email string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET promo_used = true, promo_used_at = $2
		WHERE email = $1 AND promo_code IS NOT NULL AND promo_used = false
	`, email, at)
	if err != nil {
		return false, fmt.Errorf("mark promo used: %w", err)
	}
	return oneRow(res)
}

func (r *SubscriberRepo) IncrementSent(ctx context.Context, emails []string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE newsletter_subscribers
		SET emails_sent = emails_sent + 1, last_email_sent_at = $2
		WHERE email = ANY($1)
	`, pq.Array(emails), at)
	if err != nil {
		return 0, fmt.Errorf("increment sent: %w", err)
	}
	return res.RowsAffected()
}

func (r *SubscriberRepo) IncrementOpened(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_subscribers SET emails_opened = emails_opened + 1 WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("increment opened: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) IncrementClicked(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletter_subscribers SET emails_clicked = emails_clicked + 1 WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("increment clicked: %w", err)
	}
	return nil
}

func (r *SubscriberRepo) ListActive(ctx context.Context) ([]*domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE status = 'confirmed' ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *SubscriberRepo) Stats(ctx context.Context) (*domain.SubscriberStats, error) {
	var s domain.SubscriberStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'confirmed'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'unsubscribed'),
		       COUNT(*) FILTER (WHERE status = 'bounced'),
		       COUNT(*) FILTER (WHERE status = 'complained')
		FROM newsletter_subscribers
	`).Scan(&s.Total, &s.Confirmed, &s.Pending, &s.Unsubscribed, &s.Bounced, &s.Complained)
	if err != nil {
		return nil, fmt.Errorf("subscriber stats: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM newsletter_subscribers WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var (
		s                           domain.Subscriber
		consentIP, consentUA        sql.NullString
		promoCode, unsubReason      sql.NullString
		promoUsedAt, lastSentAt     sql.NullTime
		confirmedAt, unsubscribedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Email, &s.Status,
		&s.ConsentAccepted, &consentIP, &consentUA, &s.Source,
		&promoCode, &s.PromoUsed, &promoUsedAt,
		&s.ConfirmationToken, &s.UnsubscribeToken,
		&s.EmailsSent, &s.EmailsOpened, &s.EmailsClicked, &lastSentAt,
		&unsubReason,
		&s.CreatedAt, &confirmedAt, &unsubscribedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ConsentIP = consentIP.String
	s.ConsentUserAgent = consentUA.String
	s.PromoCode = promoCode.String
	s.UnsubscribeReason = unsubReason.String
	if promoUsedAt.Valid {
		s.PromoUsedAt = &promoUsedAt.Time
	}
	if lastSentAt.Valid {
		s.LastEmailSentAt = &lastSentAt.Time
	}
	if confirmedAt.Valid {
		s.ConfirmedAt = &confirmedAt.Time
	}
	if unsubscribedAt.Valid {
		s.UnsubscribedAt = &unsubscribedAt.Time
	}
	return &s, nil
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
