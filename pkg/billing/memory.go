package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	invoices      map[string]*Invoice
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*Subscription),
		invoices:      make(map[string]*Invoice),
	}
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[sub.ID]; exists {
		return errors.New("duplicate subscription id " + sub.ID)
	}
	if sub.Status == SubscriptionStatusActive && m.activeLocked(sub.TenantID, sub.ID) != nil {
		return ErrActiveSubscriptionExists
	}

	stampCreate(&sub.CreatedAt, &sub.UpdatedAt)
	sub.Version = 1
	m.subscriptions[sub.ID] = sub.Clone()
	return nil
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subscriptions[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != sub.Version {
		return ErrVersionConflict
	}
	if sub.Status == SubscriptionStatusActive && m.activeLocked(sub.TenantID, sub.ID) != nil {
		return ErrActiveSubscriptionExists
	}

	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	sub.Version++
	m.subscriptions[sub.ID] = sub.Clone()
	return nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) GetActiveSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sub := m.activeLocked(tenantID, ""); sub != nil {
		return sub.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) activeLocked(tenantID, exceptID string) *Subscription {
	for _, sub := range m.subscriptions {
		if sub.TenantID == tenantID && sub.Status == SubscriptionStatusActive && sub.ID != exceptID {
			return sub
		}
	}
	return nil
}

// ListSubscriptions returns matching subscriptions ordered by end date
func (m *MemoryStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subscriptions {
		if filter.TenantID != "" && sub.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		if filter.AutoRenew != nil && sub.AutoRenew != *filter.AutoRenew {
			continue
		}
		if filter.RenewalReminderSent != nil && sub.RenewalReminderSent != *filter.RenewalReminderSent {
			continue
		}
		if !filter.EndFrom.IsZero() && sub.EndDate.Before(filter.EndFrom) {
			continue
		}
		if !filter.EndBefore.IsZero() && !sub.EndDate.Before(filter.EndBefore) {
			continue
		}
		out = append(out, sub.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndDate.Before(out[j].EndDate)
	})
	return out, nil
}

func (m *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[id]; !ok {
		return ErrNotFound
	}
	for _, inv := range m.invoices {
		if inv.SubscriptionID == id {
			return errors.New("subscription " + id + " still has invoices")
		}
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.invoices[inv.ID]; exists {
		return errors.New("duplicate invoice id " + inv.ID)
	}
	for _, other := range m.invoices {
		if other.InvoiceNumber == inv.InvoiceNumber {
			return errors.New("duplicate invoice number " + inv.InvoiceNumber)
		}
	}

	stampCreate(&inv.CreatedAt, &inv.UpdatedAt)
	inv.Version = 1
	m.invoices[inv.ID] = inv.Clone()
	return nil
}

func (m *MemoryStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.invoices[inv.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inv.Version {
		return ErrVersionConflict
	}

	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = time.Now()
	}
	inv.Version++
	m.invoices[inv.ID] = inv.Clone()
	return nil
}

func (m *MemoryStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (m *MemoryStore) DeleteInvoice(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(m.invoices, id)
	return nil
}

// ListInvoices returns matching invoices, newest issue date first
func (m *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Invoice{}
	for _, inv := range m.invoices {
		if filter.TenantID != "" && inv.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if !filter.DueBefore.IsZero() && !inv.DueDate.Before(filter.DueBefore) {
			continue
		}
		out = append(out, inv.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].InvoiceNumber > out[j].InvoiceNumber
		}
		return out[i].IssueDate.After(out[j].IssueDate)
	})
	return out, nil
}

func stampCreate(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now()
	}
	if updated.IsZero() {
		*updated = *created
	}
}
