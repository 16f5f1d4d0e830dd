package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymowl/gymowl/pkg/plans"
	"github.com/gymowl/gymowl/pkg/tenants"
)

func TestCreateSubscription_MonthlyGeneratesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{
		Plan:      plans.Monthly,
		AutoRenew: true,
	})
	require.NoError(t, err)

	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, date(2024, 1, 1, 10), sub.StartDate)
	assert.Equal(t, date(2024, 2, 1, 10), sub.EndDate)
	assert.True(t, sub.Price.Equal(decimal.NewFromInt(999)))
	assert.Equal(t, 5, sub.Features.MaxUsers)
	assert.Equal(t, 100, sub.Features.MaxMembers)
	require.Len(t, sub.InvoiceIDs, 1)

	inv, err := f.svc.GetInvoice(ctx, sub.InvoiceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "INV-2401-0001", inv.InvoiceNumber)
	assert.Equal(t, "999.00", inv.Amount.StringFixed(2))
	assert.Equal(t, "179.82", inv.Tax.StringFixed(2))
	assert.Equal(t, "1178.82", inv.TotalAmount.StringFixed(2))
	assert.Equal(t, DefaultCurrency, inv.Currency)
	assert.Equal(t, InvoiceStatusSent, inv.Status)
	assert.Equal(t, date(2024, 1, 8, 10), inv.DueDate)
	assert.Equal(t, sub.StartDate, inv.SubscriptionPeriod.StartDate)
	assert.Equal(t, sub.EndDate, inv.SubscriptionPeriod.EndDate)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Monthly Subscription Plan", inv.Items[0].Description)
	assert.Equal(t, 1, inv.Items[0].Quantity)

	tenant := f.tenant(t, "gym-1")
	assert.Equal(t, tenants.StatusActive, tenant.Status)
	assert.Equal(t, plans.Monthly, tenant.SubscriptionType)
	assert.True(t, tenant.AutoRenew)
	require.NotNil(t, tenant.SubscriptionEndDate)
	assert.Equal(t, sub.EndDate, *tenant.SubscriptionEndDate)
	require.NotNil(t, tenant.NextBillingDate)
	assert.Equal(t, sub.EndDate, *tenant.NextBillingDate)

	assert.Equal(t, []string{"INV-2401-0001"}, f.archiver.numbers())
}

func TestCreateSubscription_TaxForEveryPaidPlan(t *testing.T) {
	for _, plan := range []plans.PlanID{plans.Monthly, plans.Biannual, plans.Annual} {
		t.Run(string(plan), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, date(2024, 3, 15, 9), "gym-1")

			sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plan})
			require.NoError(t, err)

			invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
			require.NoError(t, err)
			require.Len(t, invoices, 1)

			inv := invoices[0]
			assert.True(t, inv.Amount.Equal(sub.Price))
			assert.True(t, inv.Tax.Equal(sub.Price.Mul(TaxRate).Round(2)))
			assert.True(t, inv.TotalAmount.Equal(inv.Amount.Add(inv.Tax)))
		})
	}
}

func TestCreateSubscription_TrialHasNoInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Trial})
	require.NoError(t, err)

	assert.Equal(t, date(2024, 1, 15, 10), sub.EndDate)
	assert.True(t, sub.Price.IsZero())
	assert.Empty(t, sub.InvoiceIDs)

	invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.Equal(t, tenants.StatusTrial, f.tenant(t, "gym-1").Status)
	assert.Zero(t, f.seq.Current(InvoiceSequenceName))
}

func TestCreateSubscription_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	past := date(2023, 12, 31, 0)

	tests := []struct {
		name     string
		tenantID string
		req      *CreateSubscriptionRequest
	}{
		{"missing tenant id", "", &CreateSubscriptionRequest{Plan: plans.Monthly}},
		{"nil request", "gym-1", nil},
		{"missing plan", "gym-1", &CreateSubscriptionRequest{}},
		{"unknown plan", "gym-1", &CreateSubscriptionRequest{Plan: "weekly"}},
		{"end date in the past", "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly, EndDate: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSubscription(ctx, tt.tenantID, tt.req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	subs, err := f.store.ListSubscriptions(ctx, SubscriptionFilter{TenantID: "gym-1"})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestCreateSubscription_EndDateOverride(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	end := date(2024, 1, 20, 0)

	sub, err := f.svc.CreateSubscription(context.Background(), "gym-1", &CreateSubscriptionRequest{
		Plan:    plans.Monthly,
		EndDate: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, end, sub.EndDate)
}

func TestCreateSubscription_TenantNotFound(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10))

	_, err := f.svc.CreateSubscription(context.Background(), "ghost", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, tenants.ErrTenantNotFound)
}

func TestCreateSubscription_SupersedesActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	trial, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Trial, AutoRenew: true})
	require.NoError(t, err)

	f.clock.Set(date(2024, 1, 5, 10))
	annual, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Annual, AutoRenew: true})
	require.NoError(t, err)

	old, err := f.store.GetSubscription(ctx, trial.ID)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusExpired, old.Status)
	assert.False(t, old.AutoRenew)

	active, err := f.store.GetActiveSubscription(ctx, "gym-1")
	require.NoError(t, err)
	assert.Equal(t, annual.ID, active.ID)
	assert.Equal(t, date(2025, 1, 5, 10), active.EndDate)

	tenant := f.tenant(t, "gym-1")
	assert.Equal(t, tenants.StatusActive, tenant.Status)
	assert.Equal(t, plans.Annual, tenant.SubscriptionType)
	assert.Equal(t, annual.EndDate, *tenant.SubscriptionEndDate)
}

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	_, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly, AutoRenew: true})
	require.NoError(t, err)

	f.clock.Set(date(2024, 1, 10, 12))
	sub, err := f.svc.CancelSubscription(ctx, "gym-1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)
	require.NotNil(t, sub.CancelledAt)
	assert.Equal(t, date(2024, 1, 10, 12), *sub.CancelledAt)

	tenant := f.tenant(t, "gym-1")
	assert.Equal(t, tenants.StatusInactive, tenant.Status)
	assert.False(t, tenant.AutoRenew)

	_, err = f.svc.CancelSubscription(ctx, "gym-1")
	require.Error(t, err)
	assert.True(t, IsNoActiveSubscription(err))

	_, err = f.svc.GetSubscriptionDetails(ctx, "gym-1")
	assert.True(t, IsNoActiveSubscription(err))
}

func TestCancelSubscription_NoneActive(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	_, err := f.svc.CancelSubscription(context.Background(), "gym-1")
	require.Error(t, err)
	assert.True(t, IsNoActiveSubscription(err))
}

func TestCancelSubscription_VersionConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	_, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Trial})
	require.NoError(t, err)

	hooked := &hookStore{MemoryStore: f.store}
	hooked.updateSubscription = func(ctx context.Context, sub *Subscription) error {
		return ErrVersionConflict
	}
	svc := NewService(f.tenants, hooked, f.seq, nil, WithClock(f.clock))

	_, err = svc.CancelSubscription(ctx, "gym-1")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, tenants.StatusTrial, f.tenant(t, "gym-1").Status)
}

func TestGetSubscriptionDetails_InvoiceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)

	f.clock.Set(date(2024, 1, 2, 10))
	_, err = f.svc.GenerateInvoice(ctx, "gym-1", sub)
	require.NoError(t, err)

	details, err := f.svc.GetSubscriptionDetails(ctx, "gym-1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, details.Subscription.ID)
	require.Len(t, details.Invoices, 2)
	assert.Equal(t, "INV-2401-0001", details.Invoices[0].InvoiceNumber)
	assert.Equal(t, "INV-2401-0002", details.Invoices[1].InvoiceNumber)

	invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "INV-2401-0002", invoices[0].InvoiceNumber)
}

func TestGenerateInvoice_SequenceIsGlobal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 31, 23), "gym-1", "gym-2")

	_, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)

	f.clock.Set(date(2024, 2, 1, 1))
	sub, err := f.svc.CreateSubscription(ctx, "gym-2", &CreateSubscriptionRequest{Plan: plans.Annual})
	require.NoError(t, err)

	inv, err := f.svc.GetInvoice(ctx, sub.InvoiceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "INV-2402-0002", inv.InvoiceNumber)
}

func TestGenerateInvoice_SequenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	svc := NewService(f.tenants, f.store, failingSequence{}, nil, WithClock(f.clock))

	_, err := svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	_, err = f.store.GetActiveSubscription(ctx, "gym-1")
	assert.ErrorIs(t, err, ErrNotFound)
	invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
	require.NoError(t, err)
	assert.Empty(t, invoices)

	tenant := f.tenant(t, "gym-1")
	assert.Equal(t, tenants.StatusTrial, tenant.Status)
	assert.Equal(t, plans.Trial, tenant.SubscriptionType)
	assert.Nil(t, tenant.SubscriptionEndDate)
}

func TestCreateSubscription_SequenceFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	trial, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Trial, AutoRenew: true})
	require.NoError(t, err)

	svc := NewService(f.tenants, f.store, failingSequence{}, nil, WithClock(f.clock))
	f.clock.Set(date(2024, 1, 5, 10))
	_, err = svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Annual})
	require.Error(t, err)

	active, err := f.store.GetActiveSubscription(ctx, "gym-1")
	require.NoError(t, err)
	assert.Equal(t, trial.ID, active.ID)
	assert.True(t, active.AutoRenew)

	tenant := f.tenant(t, "gym-1")
	assert.Equal(t, plans.Trial, tenant.SubscriptionType)
	assert.Equal(t, trial.EndDate, *tenant.SubscriptionEndDate)
}

func TestCreateSubscription_TenantUpdateFailureUndoesWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	trial, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Trial, AutoRenew: true})
	require.NoError(t, err)

	broken := &brokenTenantStore{MemoryStore: f.tenants, err: errors.New("pq: connection reset")}
	svc := NewService(broken, f.store, f.seq, nil, WithClock(f.clock), WithArchiver(f.archiver, nil))
	f.clock.Set(date(2024, 1, 5, 10))
	_, err = svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.Error(t, err)

	active, err := f.store.GetActiveSubscription(ctx, "gym-1")
	require.NoError(t, err)
	assert.Equal(t, trial.ID, active.ID)
	assert.Equal(t, SubscriptionStatusActive, active.Status)

	subs, err := f.store.ListSubscriptions(ctx, SubscriptionFilter{TenantID: "gym-1"})
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.Empty(t, f.archiver.numbers())
}

func TestGenerateInvoice_AttachFailureRemovesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")

	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)

	hooked := &hookStore{MemoryStore: f.store}
	hooked.updateSubscription = func(ctx context.Context, sub *Subscription) error {
		return ErrVersionConflict
	}
	svc := NewService(f.tenants, hooked, f.seq, nil, WithClock(f.clock), WithArchiver(f.archiver, nil))

	_, err = svc.GenerateInvoice(ctx, "gym-1", sub)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Len(t, sub.InvoiceIDs, 1)

	invoices, err := f.svc.GetTenantInvoices(ctx, "gym-1")
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
	assert.Equal(t, []string{"INV-2401-0001"}, f.archiver.numbers())
}

type failingSequence struct{}

func (failingSequence) Next(ctx context.Context, name string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

// brokenTenantStore reads normally but rejects every write
type brokenTenantStore struct {
	*tenants.MemoryStore
	err error
}

func (b *brokenTenantStore) UpdateTenant(ctx context.Context, tenant *tenants.Tenant) error {
	return b.err
}

func TestGenerateInvoice_ArchiveFailureIsNotReturned(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	f.archiver.err = errors.New("s3 unavailable")

	sub, err := f.svc.CreateSubscription(context.Background(), "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)
	assert.Len(t, sub.InvoiceIDs, 1)
}

func TestGetInvoice_NotFound(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10))

	_, err := f.svc.GetInvoice(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestMarkInvoiceAsPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)
	invoiceID := sub.InvoiceIDs[0]

	f.clock.Set(date(2024, 1, 3, 14))
	inv, err := f.svc.MarkInvoiceAsPaid(ctx, invoiceID, PaymentRequest{TransactionID: "txn_123", PaymentMethod: "upi"})
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.PaidDate)
	assert.Equal(t, date(2024, 1, 3, 14), *inv.PaidDate)
	assert.Equal(t, "txn_123", inv.TransactionID)
	assert.Equal(t, "upi", inv.PaymentMethod)

	t.Run("same transaction is idempotent", func(t *testing.T) {
		f.clock.Set(date(2024, 1, 4, 9))
		again, err := f.svc.MarkInvoiceAsPaid(ctx, invoiceID, PaymentRequest{TransactionID: "txn_123"})
		require.NoError(t, err)
		assert.Equal(t, inv.Version, again.Version)
		assert.Equal(t, date(2024, 1, 3, 14), *again.PaidDate)
	})

	t.Run("different transaction is rejected", func(t *testing.T) {
		_, err := f.svc.MarkInvoiceAsPaid(ctx, invoiceID, PaymentRequest{TransactionID: "txn_999"})
		assert.True(t, IsValidation(err))
	})

	t.Run("no transaction is rejected", func(t *testing.T) {
		_, err := f.svc.MarkInvoiceAsPaid(ctx, invoiceID, PaymentRequest{})
		assert.True(t, IsValidation(err))
	})
}

func TestMarkInvoiceAsPaid_Cancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)

	inv, err := f.store.GetInvoice(ctx, sub.InvoiceIDs[0])
	require.NoError(t, err)
	inv.Status = InvoiceStatusCancelled
	require.NoError(t, f.store.UpdateInvoice(ctx, inv))

	_, err = f.svc.MarkInvoiceAsPaid(ctx, inv.ID, PaymentRequest{TransactionID: "txn_1"})
	assert.True(t, IsValidation(err))
}

func TestMarkInvoiceAsPaid_NotFound(t *testing.T) {
	f := newFixture(t, date(2024, 1, 1, 10))

	_, err := f.svc.MarkInvoiceAsPaid(context.Background(), "missing", PaymentRequest{})
	assert.True(t, IsNotFound(err))
}

func TestSendInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 1, 1, 10), "gym-1")
	sub, err := f.svc.CreateSubscription(ctx, "gym-1", &CreateSubscriptionRequest{Plan: plans.Monthly})
	require.NoError(t, err)

	inv, err := f.svc.SendInvoice(ctx, sub.InvoiceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "INV-2401-0001", inv.InvoiceNumber)
	assert.Equal(t, []string{"INV-2401-0001", "INV-2401-0001"}, f.archiver.numbers())

	f.archiver.err = errors.New("bucket gone")
	_, err = f.svc.SendInvoice(ctx, sub.InvoiceIDs[0])
	assert.True(t, IsPersistence(err))
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-2401-0001", FormatInvoiceNumber(date(2024, 1, 1, 0), 1))
	assert.Equal(t, "INV-2412-12345", FormatInvoiceNumber(date(2024, 12, 9, 0), 12345))
}

func TestErrorKinds(t *testing.T) {
	wrapped := storeError(ErrNotFound, "invoice %s", "x")
	assert.True(t, IsNotFound(wrapped))
	assert.ErrorIs(t, wrapped, ErrNotFound)

	assert.True(t, IsConflict(storeError(ErrVersionConflict, "update")))
	assert.True(t, IsConflict(storeError(ErrActiveSubscriptionExists, "create")))
	assert.True(t, IsPersistence(storeError(errors.New("boom"), "create")))
	assert.Nil(t, storeError(nil, "noop"))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "invoice x: record not found", wrapped.Error())
}
