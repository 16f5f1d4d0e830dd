package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/plans"
)

var subscriptionRowColumns = []string{
	"id", "tenant_id", "plan", "status", "start_date", "end_date", "price", "auto_renew",
	"cancelled_at", "renewal_reminder_sent", "renewal_reminder_date", "features",
	"invoice_ids", "version", "created_at", "updated_at",
}

var invoiceRowColumns = []string{
	"id", "invoice_number", "tenant_id", "subscription_id", "amount", "tax", "total_amount",
	"currency", "status", "issue_date", "due_date", "paid_date", "period_start", "period_end",
	"items", "notes", "payment_method", "transaction_id", "version", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, nil), mock
}

func TestPostgresStore_CreateSubscription(t *testing.T) {
	store, mock := newMockStore(t)
	start := date(2024, 1, 1, 10)

	sub := &Subscription{
		ID:        "sub-1",
		TenantID:  "gym-1",
		Plan:      plans.Monthly,
		Status:    SubscriptionStatusActive,
		StartDate: start,
		EndDate:   date(2024, 2, 1, 10),
		Price:     decimal.NewFromInt(999),
		AutoRenew: true,
		CreatedAt: start,
		UpdatedAt: start,
	}

	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs("sub-1", "gym-1", "monthly", "active", start, sub.EndDate, sqlmock.AnyArg(),
			true, nil, false, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), start, start).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	assert.Equal(t, int64(1), sub.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSubscription_SecondActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: oneActivePerTenant})

	err := store.CreateSubscription(context.Background(), &Subscription{ID: "sub-2", TenantID: "gym-1"})
	assert.ErrorIs(t, err, ErrActiveSubscriptionExists)
	assert.True(t, IsConflict(storeError(err, "create")))
}

func TestPostgresStore_UpdateSubscription(t *testing.T) {
	store, mock := newMockStore(t)
	sub := &Subscription{ID: "sub-1", TenantID: "gym-1", Version: 3, UpdatedAt: date(2024, 1, 2, 0)}

	mock.ExpectQuery(`UPDATE subscriptions SET (.+) WHERE id = \$1 AND version = \$2`).
		WithArgs("sub-1", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))

	require.NoError(t, store.UpdateSubscription(context.Background(), sub))
	assert.Equal(t, int64(4), sub.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubscription_StaleVersion(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{"row exists", true, ErrVersionConflict},
		{"row missing", false, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectQuery("UPDATE subscriptions").
				WillReturnRows(sqlmock.NewRows([]string{"version"}))
			mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM subscriptions WHERE id = \$1\)`).
				WithArgs("sub-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			err := store.UpdateSubscription(context.Background(), &Subscription{ID: "sub-1", Version: 1})
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_GetActiveSubscription(t *testing.T) {
	store, mock := newMockStore(t)
	start := date(2024, 1, 1, 10)
	end := date(2024, 2, 1, 10)

	rows := sqlmock.NewRows(subscriptionRowColumns).AddRow(
		"sub-1", "gym-1", "biannual", "active", start, end, "4999.00", true,
		nil, true, start, []byte(`{"max_users":10,"max_members":250,"advanced_reports":true}`),
		"{inv-1,inv-2}", 5, start, start,
	)
	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE tenant_id = \$1 AND status = 'active'`).
		WithArgs("gym-1").
		WillReturnRows(rows)

	sub, err := store.GetActiveSubscription(context.Background(), "gym-1")
	require.NoError(t, err)
	assert.Equal(t, plans.Biannual, sub.Plan)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "4999.00", sub.Price.StringFixed(2))
	assert.Nil(t, sub.CancelledAt)
	require.NotNil(t, sub.RenewalReminderDate)
	assert.Equal(t, 10, sub.Features.MaxUsers)
	assert.True(t, sub.Features.AdvancedReports)
	assert.Equal(t, []string{"inv-1", "inv-2"}, sub.InvoiceIDs)
	assert.Equal(t, int64(5), sub.Version)
}

func TestPostgresStore_GetActiveSubscription_None(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs("gym-1").
		WillReturnRows(sqlmock.NewRows(subscriptionRowColumns))

	_, err := store.GetActiveSubscription(context.Background(), "gym-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListSubscriptions_Filter(t *testing.T) {
	store, mock := newMockStore(t)
	from := date(2024, 2, 1, 0)
	before := date(2024, 2, 2, 0)

	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE status = \$1 AND auto_renew = \$2 AND end_date >= \$3 AND end_date < \$4 ORDER BY end_date, id`).
		WithArgs("active", true, from, before).
		WillReturnRows(sqlmock.NewRows(subscriptionRowColumns).AddRow(
			"sub-1", "gym-1", "monthly", "active", from, from.Add(10*time.Hour), "999", true,
			nil, false, nil, []byte(`{}`), "{}", 1, from, from,
		))

	subs, err := store.ListSubscriptions(context.Background(), SubscriptionFilter{
		Status:    SubscriptionStatusActive,
		AutoRenew: boolPtr(true),
		EndFrom:   from,
		EndBefore: before,
	})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Empty(t, subs[0].InvoiceIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateInvoice(t *testing.T) {
	store, mock := newMockStore(t)
	issued := date(2024, 1, 1, 10)

	inv := &Invoice{
		ID:             "inv-1",
		InvoiceNumber:  "INV-2401-0001",
		TenantID:       "gym-1",
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(999),
		Tax:            decimal.RequireFromString("179.82"),
		TotalAmount:    decimal.RequireFromString("1178.82"),
		Currency:       DefaultCurrency,
		Status:         InvoiceStatusSent,
		IssueDate:      issued,
		DueDate:        issued.AddDate(0, 0, 7),
		Items:          []LineItem{{Description: "Monthly Subscription Plan", Quantity: 1}},
		CreatedAt:      issued,
		UpdatedAt:      issued,
	}

	mock.ExpectQuery("INSERT INTO invoices").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	require.NoError(t, store.CreateInvoice(context.Background(), inv))
	assert.Equal(t, int64(1), inv.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetInvoice(t *testing.T) {
	store, mock := newMockStore(t)
	issued := date(2024, 1, 1, 10)
	paid := date(2024, 1, 3, 10)

	mock.ExpectQuery(`SELECT (.+) FROM invoices WHERE id = \$1`).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows(invoiceRowColumns).AddRow(
			"inv-1", "INV-2401-0001", "gym-1", "sub-1", "999.00", "179.82", "1178.82",
			"INR", "paid", issued, issued.AddDate(0, 0, 7), paid, issued, date(2024, 2, 1, 10),
			[]byte(`[{"description":"Monthly Subscription Plan","quantity":1,"unit_price":"999","amount":"999"}]`),
			"", "upi", "txn_1", 2, issued, paid,
		))

	inv, err := store.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "1178.82", inv.TotalAmount.StringFixed(2))
	require.NotNil(t, inv.PaidDate)
	assert.Equal(t, paid, *inv.PaidDate)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Monthly Subscription Plan", inv.Items[0].Description)
	assert.True(t, inv.Items[0].UnitPrice.Equal(decimal.NewFromInt(999)))
	assert.Equal(t, date(2024, 2, 1, 10), inv.SubscriptionPeriod.EndDate)
}

func TestPostgresStore_GetInvoice_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(invoiceRowColumns))

	_, err := store.GetInvoice(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListInvoices(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := date(2024, 1, 9, 0)

	mock.ExpectQuery(`SELECT (.+) FROM invoices WHERE status = \$1 AND due_date < \$2 ORDER BY issue_date DESC`).
		WithArgs("sent", cutoff).
		WillReturnRows(sqlmock.NewRows(invoiceRowColumns))

	invoices, err := store.ListInvoices(context.Background(), InvoiceFilter{Status: InvoiceStatusSent, DueBefore: cutoff})
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.NotNil(t, invoices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateInvoice(t *testing.T) {
	store, mock := newMockStore(t)
	paid := date(2024, 1, 3, 10)
	inv := &Invoice{ID: "inv-1", Version: 1, Status: InvoiceStatusPaid, PaidDate: &paid, TransactionID: "txn_1", UpdatedAt: paid}

	mock.ExpectQuery(`UPDATE invoices SET (.+) WHERE id = \$1 AND version = \$2`).
		WithArgs("inv-1", int64(1), "paid", paid, "", "txn_1", "", paid).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))

	require.NoError(t, store.UpdateInvoice(context.Background(), inv))
	assert.Equal(t, int64(2), inv.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM subscriptions WHERE id = \$1`).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteSubscription(context.Background(), "sub-1"))

	mock.ExpectExec(`DELETE FROM subscriptions WHERE id = \$1`).
		WithArgs("sub-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteSubscription(context.Background(), "sub-2"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteInvoice(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM invoices WHERE id = \$1`).
		WithArgs("inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteInvoice(context.Background(), "inv-1"))

	mock.ExpectExec(`DELETE FROM invoices WHERE id = \$1`).
		WithArgs("inv-2").
		WillReturnError(errors.New("connection reset"))
	err := store.DeleteInvoice(context.Background(), "inv-2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordsMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewPostgresStore(db, metrics)

	mock.ExpectQuery("SELECT (.+) FROM invoices").WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery("SELECT (.+) FROM invoices").WillReturnRows(sqlmock.NewRows(invoiceRowColumns))

	_, err = store.GetInvoice(context.Background(), "inv-1")
	require.Error(t, err)
	_, err = store.GetInvoice(context.Background(), "inv-2")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("get_invoice", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("get_invoice", "ok")))
}
