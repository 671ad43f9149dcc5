// Package registry owns the subscriber lifecycle. It is the single writer of
// subscriber state; every inbound path (signup form, token redemption,
// provider webhooks, reconciliation) funnels through the Service here so the
// state machine is enforced in one place.
//
// Transitions are monotonic: pending → confirmed → unsubscribed, with the
// suppression states bounced and complained reachable from pending or
// confirmed. The only exit from unsubscribed is an explicit resubscription
// with fresh consent. Every operation is idempotent, so webhook retries and
// token replays converge on the same final state instead of erroring.
package registry
