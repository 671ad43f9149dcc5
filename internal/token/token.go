package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atelier-ec/newsletter/internal/domain"
)

// Kind distinguishes the two token types via an embedded claim.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindUnsubscribe  Kind = "unsubscribe"
)

// Issuer signs and verifies subscriber action tokens against a shared secret.
// It is stateless and safe for concurrent use.
type Issuer struct {
	secret          []byte
	confirmationTTL time.Duration
	unsubscribeTTL  time.Duration
	now             func() time.Time
}

// NewIssuer creates an Issuer. Zero TTLs fall back to 48h for confirmation
// and 365 days for unsubscribe, matching the documented contract: short
// confirmation window, unsubscribe link valid for the life of a typical
// campaign relationship.
func NewIssuer(secret string, confirmationTTL, unsubscribeTTL time.Duration) *Issuer {
	if confirmationTTL <= 0 {
		confirmationTTL = 48 * time.Hour
	}
	if unsubscribeTTL <= 0 {
		unsubscribeTTL = 365 * 24 * time.Hour
	}
	return &Issuer{
		secret:          []byte(secret),
		confirmationTTL: confirmationTTL,
		unsubscribeTTL:  unsubscribeTTL,
		now:             time.Now,
	}
}

type claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Confirmation issues a confirmation token for the given address.
func (i *Issuer) Confirmation(email string) (string, error) {
	return i.sign(email, KindConfirmation, i.confirmationTTL)
}

// Unsubscribe issues a long-lived unsubscribe token for the given address.
func (i *Issuer) Unsubscribe(email string) (string, error) {
	return i.sign(email, KindUnsubscribe, i.unsubscribeTTL)
}

func (i *Issuer) sign(email string, kind Kind, ttl time.Duration) (string, error) {
	now := i.now()
	c := claims{
		Email: domain.NormalizeEmail(email),
		Type:  string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify validates signature, expiry and the type claim, returning the
// normalized email the token was issued for.
func (i *Issuer) Verify(tokenString string, expected Kind) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	if c.Type != string(expected) {
		return "", ErrWrongTokenType
	}
	if c.Email == "" {
		return "", ErrInvalidToken
	}
	return c.Email, nil
}
