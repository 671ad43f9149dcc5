// Package reconcile pulls provider-side subscriber truth into the local
// registry. The flow is one-directional: remote status drives local
// transitions, and records that exist only locally are left untouched.
// Webhooks keep the two sides aligned in real time; this job repairs the
// drift left behind by missed webhooks and degraded provider syncs.
package reconcile

import (
	"context"
	"errors"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/mailerlite"
	"github.com/atelier-ec/newsletter/internal/pkg/distlock"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
	"github.com/atelier-ec/newsletter/internal/registry"
)

// Registry is the slice of the subscriber registry the job writes through.
type Registry interface {
	Get(ctx context.Context, email string) (*domain.Subscriber, error)
	Confirm(ctx context.Context, email string) (*domain.Subscriber, bool, error)
	Unsubscribe(ctx context.Context, email, reason string) error
	MarkBounced(ctx context.Context, email string) error
	MarkComplained(ctx context.Context, email string) error
}

// Provider lists the remote group membership.
type Provider interface {
	EnsureGroup(ctx context.Context) (string, error)
	ListGroupSubscribers(ctx context.Context, groupID, status, cursor string) ([]mailerlite.Subscriber, string, error)
}

// Result summarizes one reconciliation run. Err carries a page-level failure;
// the counts still reflect the progress made before it.
type Result struct {
	Checked   int    `json:"checked"`
	Updated   int    `json:"updated"`
	Confirmed int    `json:"confirmed"`
	Pages     int    `json:"pages"`
	Err       error  `json:"-"`
	ErrDetail string `json:"error,omitempty"`
}

// ErrAlreadyRunning means another process holds the reconciliation lock.
var ErrAlreadyRunning = errors.New("reconciliation already running")

// Reconciler walks the provider group and applies remote statuses locally.
type Reconciler struct {
	reg      Registry
	provider Provider
	lock     distlock.Lock
}

// New creates a reconciler. lock may be nil, in which case runs are not
// serialized across processes.
func New(reg Registry, provider Provider, lock distlock.Lock) *Reconciler {
	return &Reconciler{reg: reg, provider: provider, lock: lock}
}

// Run performs one full reconciliation pass. Per-record failures are logged
// and skipped; a page fetch failure ends the run with partial progress.
// When a lock is configured, overlapping runs are rejected with
// ErrAlreadyRunning instead of walking the group twice.
func (r *Reconciler) Run(ctx context.Context) Result {
	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			return Result{Err: err, ErrDetail: err.Error()}
		}
		if !ok {
			return Result{Err: ErrAlreadyRunning, ErrDetail: ErrAlreadyRunning.Error()}
		}
		defer func() {
			if err := r.lock.Release(ctx); err != nil {
				logger.Warn("release reconcile lock", "error", err.Error())
			}
		}()
	}
	return r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) Result {
	var result Result

	groupID, err := r.provider.EnsureGroup(ctx)
	if err != nil {
		result.Err = err
		result.ErrDetail = err.Error()
		return result
	}

	cursor := ""
	for {
		subs, next, err := r.provider.ListGroupSubscribers(ctx, groupID, "", cursor)
		if err != nil {
			logger.Error("reconcile page fetch failed", "page", result.Pages+1, "error", err.Error())
			result.Err = err
			result.ErrDetail = err.Error()
			return result
		}
		result.Pages++

		for _, remote := range subs {
			result.Checked++
			if r.apply(ctx, remote) {
				result.Updated++
				if remote.Status == mailerlite.RemoteStatusActive {
					result.Confirmed++
				}
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	logger.Info("reconciliation finished",
		"checked", result.Checked, "updated", result.Updated,
		"confirmed", result.Confirmed, "pages", result.Pages)
	return result
}

// apply pushes one remote record's status into the registry. Returns true
// when a local transition actually happened.
func (r *Reconciler) apply(ctx context.Context, remote mailerlite.Subscriber) bool {
	email := domain.NormalizeEmail(remote.Email)
	if email == "" {
		return false
	}

	local, err := r.reg.Get(ctx, email)
	if err != nil {
		// Remote-only records are the provider's business, not ours.
		if !errors.Is(err, registry.ErrNotFound) {
			logger.Warn("reconcile lookup failed", "email", email, "error", err.Error())
		}
		return false
	}

	switch remote.Status {
	case mailerlite.RemoteStatusActive:
		if local.Status != domain.StatusPending {
			return false
		}
		if _, already, err := r.reg.Confirm(ctx, email); err != nil || already {
			if err != nil {
				logger.Warn("reconcile confirm failed", "email", email, "error", err.Error())
			}
			return false
		}
		return true

	case mailerlite.RemoteStatusUnsubscribed:
		if local.Status != domain.StatusPending && local.Status != domain.StatusConfirmed {
			return false
		}
		if err := r.reg.Unsubscribe(ctx, email, "provider sync"); err != nil {
			logger.Warn("reconcile unsubscribe failed", "email", email, "error", err.Error())
			return false
		}
		return true

	case mailerlite.RemoteStatusBounced:
		if local.Status.Suppressed() {
			return false
		}
		if err := r.reg.MarkBounced(ctx, email); err != nil {
			logger.Warn("reconcile bounce failed", "email", email, "error", err.Error())
			return false
		}
		return local.Status != domain.StatusUnsubscribed

	case mailerlite.RemoteStatusJunk:
		if local.Status == domain.StatusComplained {
			return false
		}
		if err := r.reg.MarkComplained(ctx, email); err != nil {
			logger.Warn("reconcile complaint failed", "email", email, "error", err.Error())
			return false
		}
		return local.Status != domain.StatusUnsubscribed

	default:
		// unconfirmed and anything new the provider invents: no local change.
		return false
	}
}
