package registry

import "errors"

var (
	// ErrNotFound means no subscriber record exists for the address.
	ErrNotFound = errors.New("subscriber not found")

	// ErrDuplicate is returned by Repository.Create when the address already
	// has a record. The service resolves the race by re-reading.
	ErrDuplicate = errors.New("subscriber already exists")

	// ErrAlreadySubscribed means the address is already confirmed.
	ErrAlreadySubscribed = errors.New("email already subscribed and confirmed")

	// ErrConsentRequired means the signup did not carry explicit consent.
	ErrConsentRequired = errors.New("explicit consent is required")

	// ErrInvalidEmail means the address failed validation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrSuppressed means the address bounced or complained and cannot be
	// re-added through the public signup path.
	ErrSuppressed = errors.New("email address is suppressed")

	// ErrNotPending means the operation only applies to pending subscribers.
	ErrNotPending = errors.New("subscriber is not pending confirmation")

	// ErrNotUnsubscribed means resubscription was requested for a record that
	// never unsubscribed.
	ErrNotUnsubscribed = errors.New("subscriber is not unsubscribed")

	// ErrPromoAlreadyUsed means the one-time promo code was already redeemed.
	ErrPromoAlreadyUsed = errors.New("promo code already used")
)
