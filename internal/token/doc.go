// Package token issues and verifies the signed, time-limited tokens that
// drive subscriber state transitions: confirmation (double opt-in) and
// unsubscribe.
//
// Tokens are self-contained HS256 JWTs. Verification needs no registry
// lookup; only after a token verifies does the caller touch the store. The
// cost is that an individual outstanding token cannot be revoked early,
// mitigated by the short confirmation lifetime.
//
// A type claim separates the two kinds so a confirmation token can never be
// replayed as an unsubscribe token or vice versa.
package token
