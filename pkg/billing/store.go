package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gymowl/gymowl/pkg/tenants"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an update's version no longer matches
	ErrVersionConflict = errors.New("version conflict")

	// ErrActiveSubscriptionExists is returned when a write would leave a
	// tenant with two active subscriptions
	ErrActiveSubscriptionExists = errors.New("tenant already has an active subscription")
)

// TenantStore is the slice of the tenant registry the billing core needs
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*tenants.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *tenants.Tenant) error
}

// SubscriptionFilter selects subscriptions. Zero-valued fields are ignored.
// EndFrom is inclusive and EndBefore exclusive.
type SubscriptionFilter struct {
	TenantID            string
	Status              SubscriptionStatus
	AutoRenew           *bool
	RenewalReminderSent *bool
	EndFrom             time.Time
	EndBefore           time.Time
}

// InvoiceFilter selects invoices. DueBefore is exclusive.
type InvoiceFilter struct {
	TenantID  string
	Status    InvoiceStatus
	DueBefore time.Time
}

// SubscriptionStore persists subscriptions. UpdateSubscription succeeds only
// if the stored version equals sub.Version, and bumps sub.Version on success.
// DeleteSubscription only backs out a create that could not be completed.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, tenantID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// InvoiceStore persists invoices with the same versioning rules.
// ListInvoices orders by issue date, newest first.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
}

// Store persists subscriptions and invoices
type Store interface {
	SubscriptionStore
	InvoiceStore
}

// InvoiceSequence hands out invoice sequence numbers atomically
type InvoiceSequence interface {
	Next(ctx context.Context, name string) (int64, error)
}

// InvoiceArchiver receives generated invoices for rendering and delivery
type InvoiceArchiver interface {
	Archive(ctx context.Context, tenant *tenants.Tenant, inv *Invoice) error
}

// ReminderNotifier is told about subscriptions nearing their end date
type ReminderNotifier interface {
	NotifyExpiring(ctx context.Context, tenant *tenants.Tenant, sub *Subscription) error
}

func boolPtr(b bool) *bool {
	return &b
}
