package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/sequence"
	"github.com/gymowl/gymowl/pkg/tenants"
)

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *recordingArchiver) Archive(ctx context.Context, tenant *tenants.Tenant, inv *Invoice) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, inv.InvoiceNumber)
	return a.err
}

func (a *recordingArchiver) numbers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.archived...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *recordingNotifier) NotifyExpiring(ctx context.Context, tenant *tenants.Tenant, sub *Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, sub.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	tenants  *tenants.MemoryStore
	seq      *sequence.MemorySequence
	clock    *FixedClock
	archiver *recordingArchiver
	notifier *recordingNotifier
}

func newFixture(t *testing.T, now time.Time, tenantIDs ...string) *fixture {
	t.Helper()

	f := &fixture{
		store:    NewMemoryStore(),
		tenants:  tenants.NewMemoryStore(),
		seq:      sequence.NewMemorySequence(),
		clock:    NewFixedClock(now),
		archiver: &recordingArchiver{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.tenants, f.store, f.seq, observability.NewNopLogger(),
		WithClock(f.clock),
		WithArchiver(f.archiver, nil),
		WithNotifier(f.notifier),
	)

	for _, id := range tenantIDs {
		require.NoError(t, f.tenants.CreateTenant(context.Background(), &tenants.Tenant{
			TenantID:     id,
			Name:         "Gym " + id,
			Domain:       id + ".gymowl.test",
			ContactEmail: "owner@" + id + ".gymowl.test",
		}))
	}
	return f
}

func (f *fixture) tenant(t *testing.T, id string) *tenants.Tenant {
	t.Helper()
	tenant, err := f.tenants.GetTenant(context.Background(), id)
	require.NoError(t, err)
	return tenant
}

func date(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

// hookStore lets a test intercept individual store calls
type hookStore struct {
	*MemoryStore
	updateSubscription func(ctx context.Context, sub *Subscription) error
	listSubscriptions  func(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)
}

func (h *hookStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if h.updateSubscription != nil {
		return h.updateSubscription(ctx, sub)
	}
	return h.MemoryStore.UpdateSubscription(ctx, sub)
}

func (h *hookStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	if h.listSubscriptions != nil {
		return h.listSubscriptions(ctx, filter)
	}
	return h.MemoryStore.ListSubscriptions(ctx, filter)
}

// flakySequence fails the next n allocations, then defers to next
type flakySequence struct {
	mu   sync.Mutex
	n    int
	next InvoiceSequence
}

func (s *flakySequence) Next(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	fail := s.n > 0
	if fail {
		s.n--
	}
	s.mu.Unlock()
	if fail {
		return 0, errors.New("redis: i/o timeout")
	}
	return s.next.Next(ctx, name)
}
