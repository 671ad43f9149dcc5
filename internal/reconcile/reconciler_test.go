package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/mailerlite"
	"github.com/atelier-ec/newsletter/internal/registry"
)

type fakeRegistry struct {
	subs map[string]*domain.Subscriber
}

func newFakeRegistry(subs ...*domain.Subscriber) *fakeRegistry {
	m := make(map[string]*domain.Subscriber)
	for _, s := range subs {
		m[s.Email] = s
	}
	return &fakeRegistry{subs: m}
}

func (f *fakeRegistry) Get(_ context.Context, email string) (*domain.Subscriber, error) {
	if s, ok := f.subs[email]; ok {
		return s, nil
	}
	return nil, registry.ErrNotFound
}

func (f *fakeRegistry) Confirm(_ context.Context, email string) (*domain.Subscriber, bool, error) {
	s, ok := f.subs[email]
	if !ok {
		return nil, false, registry.ErrNotFound
	}
	if s.Status == domain.StatusConfirmed {
		return s, true, nil
	}
	if s.Status != domain.StatusPending {
		return nil, false, registry.ErrNotPending
	}
	s.Status = domain.StatusConfirmed
	if s.PromoCode == "" {
		s.PromoCode = "EC10-AAAAAA"
	}
	return s, false, nil
}

func (f *fakeRegistry) Unsubscribe(_ context.Context, email, reason string) error {
	s, ok := f.subs[email]
	if !ok {
		return registry.ErrNotFound
	}
	if s.Status == domain.StatusPending || s.Status == domain.StatusConfirmed {
		s.Status = domain.StatusUnsubscribed
		s.UnsubscribeReason = reason
	}
	return nil
}

func (f *fakeRegistry) MarkBounced(_ context.Context, email string) error {
	return f.suppress(email, domain.StatusBounced)
}

func (f *fakeRegistry) MarkComplained(_ context.Context, email string) error {
	return f.suppress(email, domain.StatusComplained)
}

func (f *fakeRegistry) suppress(email string, status domain.SubscriberStatus) error {
	s, ok := f.subs[email]
	if !ok {
		return registry.ErrNotFound
	}
	if s.Status == domain.StatusPending || s.Status == domain.StatusConfirmed || s.Status == domain.StatusBounced {
		s.Status = status
	}
	return nil
}

type fakeProvider struct {
	pages    [][]mailerlite.Subscriber
	failPage int // 1-based page that fails; 0 means never
}

func (f *fakeProvider) EnsureGroup(context.Context) (string, error) { return "g1", nil }

func (f *fakeProvider) ListGroupSubscribers(_ context.Context, groupID, status, cursor string) ([]mailerlite.Subscriber, string, error) {
	page := 0
	if cursor != "" {
		page = int(cursor[0] - '0')
	}
	if f.failPage > 0 && page+1 == f.failPage {
		return nil, "", &mailerlite.ProviderError{Op: "list group subscribers", StatusCode: 500, Err: errors.New("boom")}
	}
	subs := f.pages[page]
	next := ""
	if page+1 < len(f.pages) {
		next = string(rune('0' + page + 1))
	}
	return subs, next, nil
}

func sub(email string, status domain.SubscriberStatus) *domain.Subscriber {
	return &domain.Subscriber{Email: email, Status: status}
}

func TestRun_PullsRemoteTruthInward(t *testing.T) {
	reg := newFakeRegistry(
		sub("pending-active@b.com", domain.StatusPending),
		sub("confirmed-unsub@b.com", domain.StatusConfirmed),
		sub("pending-bounced@b.com", domain.StatusPending),
		sub("confirmed-junk@b.com", domain.StatusConfirmed),
		sub("already-aligned@b.com", domain.StatusConfirmed),
		sub("local-only@b.com", domain.StatusPending),
	)
	provider := &fakeProvider{pages: [][]mailerlite.Subscriber{{
		{Email: "pending-active@b.com", Status: mailerlite.RemoteStatusActive},
		{Email: "confirmed-unsub@b.com", Status: mailerlite.RemoteStatusUnsubscribed},
		{Email: "pending-bounced@b.com", Status: mailerlite.RemoteStatusBounced},
		{Email: "confirmed-junk@b.com", Status: mailerlite.RemoteStatusJunk},
		{Email: "already-aligned@b.com", Status: mailerlite.RemoteStatusActive},
		{Email: "remote-only@b.com", Status: mailerlite.RemoteStatusActive},
		{Email: "still-unconfirmed@b.com", Status: mailerlite.RemoteStatusUnconfirmed},
	}}}

	result := New(reg, provider, nil).Run(context.Background())

	if result.Err != nil {
		t.Fatalf("Run: %v", result.Err)
	}
	if result.Checked != 7 || result.Pages != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Updated != 4 || result.Confirmed != 1 {
		t.Errorf("result = %+v", result)
	}

	assertStatus := func(email string, want domain.SubscriberStatus) {
		t.Helper()
		if got := reg.subs[email].Status; got != want {
			t.Errorf("%s = %s, want %s", email, got, want)
		}
	}
	assertStatus("pending-active@b.com", domain.StatusConfirmed)
	assertStatus("confirmed-unsub@b.com", domain.StatusUnsubscribed)
	assertStatus("pending-bounced@b.com", domain.StatusBounced)
	assertStatus("confirmed-junk@b.com", domain.StatusComplained)
	assertStatus("local-only@b.com", domain.StatusPending)

	if reg.subs["pending-active@b.com"].PromoCode == "" {
		t.Error("reconciled confirmation must assign a promo code")
	}
	if _, ok := reg.subs["remote-only@b.com"]; ok {
		t.Error("remote-only records must not be created locally")
	}
}

func TestRun_Pagination(t *testing.T) {
	reg := newFakeRegistry(
		sub("a@b.com", domain.StatusPending),
		sub("b@b.com", domain.StatusPending),
	)
	provider := &fakeProvider{pages: [][]mailerlite.Subscriber{
		{{Email: "a@b.com", Status: mailerlite.RemoteStatusActive}},
		{{Email: "b@b.com", Status: mailerlite.RemoteStatusActive}},
	}}

	result := New(reg, provider, nil).Run(context.Background())
	if result.Pages != 2 || result.Checked != 2 || result.Confirmed != 2 {
		t.Errorf("result = %+v", result)
	}
}

type fakeLock struct {
	held     bool
	released bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { return !f.held, nil }
func (f *fakeLock) Release(context.Context) error         { f.released = true; return nil }

func TestRun_LockedOut(t *testing.T) {
	reg := newFakeRegistry(sub("a@b.com", domain.StatusPending))
	provider := &fakeProvider{pages: [][]mailerlite.Subscriber{
		{{Email: "a@b.com", Status: mailerlite.RemoteStatusActive}},
	}}

	result := New(reg, provider, &fakeLock{held: true}).Run(context.Background())
	if !errors.Is(result.Err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", result.Err)
	}
	if reg.subs["a@b.com"].Status != domain.StatusPending {
		t.Error("locked-out run must not touch the registry")
	}
}

func TestRun_ReleasesLock(t *testing.T) {
	reg := newFakeRegistry()
	provider := &fakeProvider{pages: [][]mailerlite.Subscriber{{}}}
	lock := &fakeLock{}

	New(reg, provider, lock).Run(context.Background())
	if !lock.released {
		t.Error("lock not released after run")
	}
}

func TestRun_PageFailureKeepsPartialProgress(t *testing.T) {
	reg := newFakeRegistry(
		sub("a@b.com", domain.StatusPending),
		sub("b@b.com", domain.StatusPending),
	)
	provider := &fakeProvider{
		pages: [][]mailerlite.Subscriber{
			{{Email: "a@b.com", Status: mailerlite.RemoteStatusActive}},
			{{Email: "b@b.com", Status: mailerlite.RemoteStatusActive}},
		},
		failPage: 2,
	}

	result := New(reg, provider, nil).Run(context.Background())

	if result.Err == nil {
		t.Fatal("expected page failure to surface")
	}
	if result.Checked != 1 || result.Confirmed != 1 || result.Pages != 1 {
		t.Errorf("partial progress lost: %+v", result)
	}
	if reg.subs["a@b.com"].Status != domain.StatusConfirmed {
		t.Error("first page updates must persist")
	}
	if reg.subs["b@b.com"].Status != domain.StatusPending {
		t.Error("second page must be untouched")
	}
}
