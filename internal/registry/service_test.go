package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atelier-ec/newsletter/internal/domain"
)

type stubIssuer struct{ n int }

func (s *stubIssuer) Confirmation(email string) (string, error) {
	s.n++
	return fmt.Sprintf("confirm-%s-%d", email, s.n), nil
}

func (s *stubIssuer) Unsubscribe(email string) (string, error) {
	s.n++
	return fmt.Sprintf("unsub-%s-%d", email, s.n), nil
}

// mockRepo is an in-memory Repository with the same guarded-transition
// semantics as the Postgres implementation. failNext makes the next write
// fail once, for exercising the retry path.
type mockRepo struct {
	mu       sync.Mutex
	subs     map[string]*domain.Subscriber
	failNext int
}

func newMockRepo() *mockRepo {
	return &mockRepo{subs: make(map[string]*domain.Subscriber)}
}

func (m *mockRepo) maybeFail() error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("store unavailable")
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, sub *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return err
	}
	if _, ok := m.subs[sub.Email]; ok {
		return ErrDuplicate
	}
	cp := *sub
	m.subs[sub.Email] = &cp
	return nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *mockRepo) Confirm(_ context.Context, email, promoCode string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	sub, ok := m.subs[email]
	if !ok || sub.Status != domain.StatusPending {
		return false, nil
	}
	sub.Status = domain.StatusConfirmed
	if sub.PromoCode == "" {
		sub.PromoCode = promoCode
	}
	if sub.ConfirmedAt == nil {
		sub.ConfirmedAt = &at
	}
	return true, nil
}

func (m *mockRepo) Unsubscribe(_ context.Context, email, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	sub, ok := m.subs[email]
	if !ok || (sub.Status != domain.StatusPending && sub.Status != domain.StatusConfirmed) {
		return false, nil
	}
	sub.Status = domain.StatusUnsubscribed
	sub.UnsubscribeReason = reason
	sub.UnsubscribedAt = &at
	return true, nil
}

func (m *mockRepo) Suppress(_ context.Context, email string, status domain.SubscriberStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	sub, ok := m.subs[email]
	if !ok || sub.Status == domain.StatusUnsubscribed || sub.Status == status {
		return false, nil
	}
	sub.Status = status
	return true, nil
}

func (m *mockRepo) Resubscribe(_ context.Context, email string, consent domain.Consent, confirmTok, unsubTok string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	sub, ok := m.subs[email]
	if !ok || sub.Status != domain.StatusUnsubscribed {
		return false, nil
	}
	sub.Status = domain.StatusPending
	sub.ConsentAccepted = consent.Accepted
	sub.ConsentIP = consent.IP
	sub.ConsentUserAgent = consent.UserAgent
	sub.ConfirmationToken = confirmTok
	sub.UnsubscribeToken = unsubTok
	sub.ConfirmedAt = nil
	return true, nil
}

func (m *mockRepo) SetConfirmationToken(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[email]
	if !ok {
		return ErrNotFound
	}
	sub.ConfirmationToken = token
	return nil
}

func (m *mockRepo) MarkPromoUsed(_ context.Context, email string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[email]
	if !ok || sub.PromoCode == "" || sub.PromoUsed {
		return false, nil
	}
	sub.PromoUsed = true
	sub.PromoUsedAt = &at
	return true, nil
}

func (m *mockRepo) IncrementSent(_ context.Context, emails []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return 0, err
	}
	var n int64
	for _, e := range emails {
		if sub, ok := m.subs[e]; ok {
			sub.EmailsSent++
			sub.LastEmailSentAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) IncrementOpened(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[email]; ok {
		sub.EmailsOpened++
	}
	return nil
}

func (m *mockRepo) IncrementClicked(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[email]; ok {
		sub.EmailsClicked++
	}
	return nil
}

func (m *mockRepo) ListActive(_ context.Context) ([]*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscriber
	for _, sub := range m.subs {
		if sub.Status == domain.StatusConfirmed {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) Stats(_ context.Context) (*domain.SubscriberStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.SubscriberStats{}
	for _, sub := range m.subs {
		stats.Total++
		switch sub.Status {
		case domain.StatusConfirmed:
			stats.Confirmed++
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusUnsubscribed:
			stats.Unsubscribed++
		case domain.StatusBounced:
			stats.Bounced++
		case domain.StatusComplained:
			stats.Complained++
		}
	}
	return stats, nil
}

func (m *mockRepo) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[email]; !ok {
		return ErrNotFound
	}
	delete(m.subs, email)
	return nil
}

func newTestService(repo *mockRepo) *Service {
	return NewService(repo, &stubIssuer{}, "EC10")
}

func consent() domain.Consent {
	return domain.Consent{Accepted: true, IP: "203.0.113.9", UserAgent: "test", Source: domain.SourceFrontForm}
}

func TestCreate_NewSubscriber(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	sub, err := svc.Create(context.Background(), "  Collector@Example.COM ", consent())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.Email != "collector@example.com" {
		t.Errorf("email not normalized: %q", sub.Email)
	}
	if sub.Status != domain.StatusPending {
		t.Errorf("status = %s", sub.Status)
	}
	if sub.ConfirmationToken == "" || sub.UnsubscribeToken == "" {
		t.Error("expected both tokens to be issued")
	}
	if sub.ID == "" {
		t.Error("expected an ID")
	}
	if sub.PromoCode != "" {
		t.Error("promo code must not be assigned before confirmation")
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", domain.Consent{Accepted: false}); !errors.Is(err, ErrConsentRequired) {
		t.Errorf("expected ErrConsentRequired, got %v", err)
	}
	for _, bad := range []string{"", "not-an-email", "missing@dot", "two@@ats.com", "spaces in@addr.com"} {
		if _, err := svc.Create(ctx, bad, consent()); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("email %q: expected ErrInvalidEmail, got %v", bad, err)
		}
	}
}

func TestCreate_PendingIsIdempotent(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	first, err := svc.Create(ctx, "a@b.com", consent())
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Create(ctx, "a@b.com", consent())
	if err != nil {
		t.Fatalf("repeat Create: %v", err)
	}
	if second.ConfirmationToken != first.ConfirmationToken {
		t.Error("repeat signup must not rotate tokens")
	}
}

func TestCreate_ConfirmedRejected(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "a@b.com", consent()); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestCreate_SuppressedRejected(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkBounced(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "a@b.com", consent()); !errors.Is(err, ErrSuppressed) {
		t.Errorf("expected ErrSuppressed, got %v", err)
	}
}

func TestCreate_UnsubscribedBecomesResubscribe(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, "a@b.com", "too many emails"); err != nil {
		t.Fatal(err)
	}

	sub, err := svc.Create(ctx, "a@b.com", consent())
	if err != nil {
		t.Fatalf("Create after unsubscribe: %v", err)
	}
	if sub.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", sub.Status)
	}
	if sub.UnsubscribedAt == nil {
		t.Error("unsubscribed_at history must be preserved")
	}
}

func TestConfirm_AssignsPromoOnce(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}

	sub, already, err := svc.Confirm(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if already {
		t.Error("first confirmation reported as replay")
	}
	if !strings.HasPrefix(sub.PromoCode, "EC10-") || len(sub.PromoCode) != len("EC10-")+6 {
		t.Errorf("promo code format: %q", sub.PromoCode)
	}
	if code := sub.PromoCode[len("EC10-"):]; code != strings.ToUpper(code) {
		t.Errorf("promo suffix not upper-case: %q", code)
	}
	if sub.ConfirmedAt == nil {
		t.Error("confirmed_at not set")
	}

	again, already, err := svc.Confirm(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("replayed Confirm: %v", err)
	}
	if !already {
		t.Error("replayed confirmation not reported")
	}
	if again.PromoCode != sub.PromoCode {
		t.Errorf("promo code regenerated: %q vs %q", again.PromoCode, sub.PromoCode)
	}
}

func TestConfirm_UnknownAndWrongState(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, _, err := svc.Confirm(ctx, "ghost@b.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkComplained(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "a@b.com"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestConfirm_RetriesStoreFailureOnce(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}

	repo.failNext = 1
	sub, _, err := svc.Confirm(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("Confirm should survive one store failure: %v", err)
	}
	if sub.Status != domain.StatusConfirmed {
		t.Errorf("status = %s", sub.Status)
	}

	// Two consecutive failures exhaust the single retry.
	if err := svc.Unsubscribe(ctx, "a@b.com", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resubscribe(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	repo.failNext = 2
	if _, _, err := svc.Confirm(ctx, "a@b.com"); err == nil {
		t.Error("expected error after retry exhausted")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, "a@b.com", "first"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, "a@b.com", "second"); err != nil {
		t.Fatalf("replayed unsubscribe must succeed: %v", err)
	}

	sub, err := svc.Get(ctx, "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if sub.UnsubscribeReason != "first" {
		t.Errorf("reason overwritten by replay: %q", sub.UnsubscribeReason)
	}
}

func TestSuppression_Monotonic(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkComplained(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	// A later bounce never downgrades a complaint.
	if err := svc.MarkBounced(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	sub, _ := svc.Get(ctx, "a@b.com")
	if sub.Status != domain.StatusComplained {
		t.Errorf("status = %s, want complained", sub.Status)
	}

	// A complaint upgrades a bounce.
	if _, err := svc.Create(ctx, "b@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkBounced(ctx, "b@b.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkComplained(ctx, "b@b.com"); err != nil {
		t.Fatal(err)
	}
	sub, _ = svc.Get(ctx, "b@b.com")
	if sub.Status != domain.StatusComplained {
		t.Errorf("status = %s, want complained", sub.Status)
	}
}

func TestResubscribe(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	before, _ := svc.Get(ctx, "a@b.com")
	if err := svc.Unsubscribe(ctx, "a@b.com", "pause"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Resubscribe(ctx, "a@b.com", domain.Consent{Accepted: false}); !errors.Is(err, ErrConsentRequired) {
		t.Errorf("expected ErrConsentRequired, got %v", err)
	}

	sub, err := svc.Resubscribe(ctx, "a@b.com", consent())
	if err != nil {
		t.Fatalf("Resubscribe: %v", err)
	}
	if sub.Status != domain.StatusPending {
		t.Errorf("status = %s", sub.Status)
	}
	if sub.ConfirmationToken == before.ConfirmationToken {
		t.Error("resubscribe must issue fresh tokens")
	}

	// Re-confirming keeps the original promo code.
	confirmed, _, err := svc.Confirm(ctx, "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.PromoCode != before.PromoCode {
		t.Errorf("promo code regenerated on resubscribe: %q vs %q", confirmed.PromoCode, before.PromoCode)
	}

	if err := svc.MarkBounced(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resubscribe(ctx, "a@b.com", consent()); !errors.Is(err, ErrNotUnsubscribed) {
		t.Errorf("expected ErrNotUnsubscribed for suppressed record, got %v", err)
	}
}

func TestRotateConfirmationToken(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	first, err := svc.Create(ctx, "a@b.com", consent())
	if err != nil {
		t.Fatal(err)
	}
	rotated, err := svc.RotateConfirmationToken(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("RotateConfirmationToken: %v", err)
	}
	if rotated.ConfirmationToken == first.ConfirmationToken {
		t.Error("token not rotated")
	}

	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RotateConfirmationToken(ctx, "a@b.com"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestMarkPromoUsed(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if err := svc.MarkPromoUsed(ctx, "ghost@b.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	// Pending subscriber has no promo code yet.
	if err := svc.MarkPromoUsed(ctx, "a@b.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before confirmation, got %v", err)
	}

	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkPromoUsed(ctx, "a@b.com"); err != nil {
		t.Fatalf("MarkPromoUsed: %v", err)
	}
	if err := svc.MarkPromoUsed(ctx, "a@b.com"); !errors.Is(err, ErrPromoAlreadyUsed) {
		t.Errorf("expected ErrPromoAlreadyUsed, got %v", err)
	}

	sub, _ := svc.Get(ctx, "a@b.com")
	if !sub.PromoUsed || sub.PromoUsedAt == nil {
		t.Error("promo_used not recorded")
	}
}

func TestActiveForBroadcast_ConfirmedOnly(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	for _, e := range []string{"pending@b.com", "confirmed@b.com", "gone@b.com", "bounced@b.com"} {
		if _, err := svc.Create(ctx, e, consent()); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := svc.Confirm(ctx, "confirmed@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "gone@b.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, "gone@b.com", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkBounced(ctx, "bounced@b.com"); err != nil {
		t.Fatal(err)
	}

	active, err := svc.ActiveForBroadcast(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Email != "confirmed@b.com" {
		t.Errorf("unexpected active set: %+v", active)
	}
}

func TestRecordSend_CountsOnlyExisting(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "a@b.com"); err != nil {
		t.Fatal(err)
	}

	if err := svc.RecordSend(ctx, []string{"a@b.com", "ghost@b.com"}); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	if err := svc.RecordSend(ctx, nil); err != nil {
		t.Fatalf("empty RecordSend: %v", err)
	}

	sub, _ := svc.Get(ctx, "a@b.com")
	if sub.EmailsSent != 1 {
		t.Errorf("emails_sent = %d", sub.EmailsSent)
	}
	if sub.LastEmailSentAt == nil {
		t.Error("last_email_sent_at not set")
	}
}

func TestStats(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	for _, e := range []string{"p@b.com", "c@b.com", "u@b.com"} {
		if _, err := svc.Create(ctx, e, consent()); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := svc.Confirm(ctx, "c@b.com"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Confirm(ctx, "u@b.com"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unsubscribe(ctx, "u@b.com", ""); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Confirmed != 1 || stats.Unsubscribed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestErase(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a@b.com", consent()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Erase(ctx, "a@b.com"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, err := svc.Get(ctx, "a@b.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after erasure, got %v", err)
	}
	if err := svc.Erase(ctx, "a@b.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeat erasure, got %v", err)
	}
}
