package domain

import (
	"strings"
	"time"
)

// SubscriberStatus enumerates the lifecycle states of a newsletter subscriber.
//
// pending → confirmed → unsubscribed, with bounced and complained reachable
// from any non-terminal state. bounced and complained are suppression states:
// once entered, the address never appears in outbound broadcasts again.
// The only way out of unsubscribed is an explicit resubscription with fresh
// consent, which moves the record back to pending.
type SubscriberStatus string

const (
	StatusPending      SubscriberStatus = "pending"
	StatusConfirmed    SubscriberStatus = "confirmed"
	StatusUnsubscribed SubscriberStatus = "unsubscribed"
	StatusBounced      SubscriberStatus = "bounced"
	StatusComplained   SubscriberStatus = "complained"
)

// Suppressed reports whether the status permanently excludes the address
// from broadcasts.
func (s SubscriberStatus) Suppressed() bool {
	return s == StatusBounced || s == StatusComplained
}

// SubscriberSource records where a signup came from.
type SubscriberSource string

const (
	SourceFrontForm   SubscriberSource = "front_form"
	SourceAdminImport SubscriberSource = "admin_import"
	SourceAPI         SubscriberSource = "api"
)

// Subscriber is one newsletter recipient, keyed by normalized email.
type Subscriber struct {
	ID     string           `json:"id" db:"id"`
	Email  string           `json:"email" db:"email"`
	Status SubscriberStatus `json:"status" db:"status"`

	// Consent provenance, captured at signup and immutable afterwards.
	ConsentAccepted  bool   `json:"consent_accepted" db:"consent_accepted"`
	ConsentIP        string `json:"consent_ip,omitempty" db:"consent_ip"`
	ConsentUserAgent string `json:"consent_user_agent,omitempty" db:"consent_user_agent"`

	Source SubscriberSource `json:"source" db:"source"`

	// PromoCode is assigned exactly once on first confirmation and never
	// regenerated.
	PromoCode   string     `json:"promo_code,omitempty" db:"promo_code"`
	PromoUsed   bool       `json:"promo_used" db:"promo_used"`
	PromoUsedAt *time.Time `json:"promo_used_at,omitempty" db:"promo_used_at"`

	// Last-issued tokens, kept for resend only. Tokens are self-verifying;
	// these copies are informational, not authoritative.
	ConfirmationToken string `json:"-" db:"confirmation_token"`
	UnsubscribeToken  string `json:"-" db:"unsubscribe_token"`

	EmailsSent      int        `json:"emails_sent" db:"emails_sent"`
	EmailsOpened    int        `json:"emails_opened" db:"emails_opened"`
	EmailsClicked   int        `json:"emails_clicked" db:"emails_clicked"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at,omitempty" db:"last_email_sent_at"`

	UnsubscribeReason string `json:"unsubscribe_reason,omitempty" db:"unsubscribe_reason"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
}

// Consent carries the provenance of a signup for legal defensibility.
type Consent struct {
	Accepted  bool
	IP        string
	UserAgent string
	Source    SubscriberSource
}

// SubscriberStats is the aggregate status breakdown exposed on /stats.
type SubscriberStats struct {
	Total        int `json:"total"`
	Confirmed    int `json:"confirmed"`
	Pending      int `json:"pending"`
	Unsubscribed int `json:"unsubscribed"`
	Bounced      int `json:"bounced"`
	Complained   int `json:"complained"`
}

// NormalizeEmail lower-cases and trims an address. Every path into the
// registry goes through this so the natural key is stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
