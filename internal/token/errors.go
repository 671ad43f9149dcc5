package token

import "errors"

// Sentinel errors for token verification. Callers at the HTTP boundary must
// collapse all three into one generic failure so the end user never learns
// which defect occurred.
var (
	ErrInvalidToken   = errors.New("token is malformed or has a bad signature")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("token type does not match the requested action")
)
