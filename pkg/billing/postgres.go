package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/gymowl/gymowl/pkg/observability"
)

// oneActivePerTenant is the partial unique index on subscriptions(tenant_id)
// WHERE status = 'active'
const oneActivePerTenant = "subscriptions_one_active_per_tenant"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewPostgresStore creates a new PostgresStore. metrics may be nil.
func NewPostgresStore(db *sql.DB, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{db: db, metrics: metrics}
}

const subscriptionColumns = `id, tenant_id, plan, status, start_date, end_date, price, auto_renew,
		       cancelled_at, renewal_reminder_sent, renewal_reminder_date, features,
		       invoice_ids, version, created_at, updated_at`

const invoiceColumns = `id, invoice_number, tenant_id, subscription_id, amount, tax, total_amount,
		       currency, status, issue_date, due_date, paid_date, period_start, period_end,
		       items, notes, payment_method, transaction_id, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateSubscription inserts a subscription at version 1
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) (err error) {
	defer s.observe("create_subscription", time.Now(), &err)

	features, err := json.Marshal(sub.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	stampCreate(&sub.CreatedAt, &sub.UpdatedAt)

	query := `
		INSERT INTO subscriptions (id, tenant_id, plan, status, start_date, end_date, price,
		                           auto_renew, cancelled_at, renewal_reminder_sent,
		                           renewal_reminder_date, features, invoice_ids, version,
		                           created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
		RETURNING version
	`
	err = s.db.QueryRowContext(ctx, query,
		sub.ID, sub.TenantID, sub.Plan, sub.Status, sub.StartDate, sub.EndDate, sub.Price,
		sub.AutoRenew, sub.CancelledAt, sub.RenewalReminderSent, sub.RenewalReminderDate,
		features, pq.Array(nonNil(sub.InvoiceIDs)), sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.Version)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", translateError(err))
	}
	return nil
}

// UpdateSubscription writes sub if its version still matches and bumps it
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) (err error) {
	defer s.observe("update_subscription", time.Now(), &err)

	features, err := json.Marshal(sub.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}

	query := `
		UPDATE subscriptions
		SET plan = $3, status = $4, start_date = $5, end_date = $6, price = $7,
		    auto_renew = $8, cancelled_at = $9, renewal_reminder_sent = $10,
		    renewal_reminder_date = $11, features = $12, invoice_ids = $13,
		    updated_at = $14, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err = s.db.QueryRowContext(ctx, query,
		sub.ID, sub.Version, sub.Plan, sub.Status, sub.StartDate, sub.EndDate, sub.Price,
		sub.AutoRenew, sub.CancelledAt, sub.RenewalReminderSent, sub.RenewalReminderDate,
		features, pq.Array(nonNil(sub.InvoiceIDs)), sub.UpdatedAt,
	).Scan(&sub.Version)
	if err == sql.ErrNoRows {
		return s.missOrConflict(ctx, "subscriptions", sub.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", translateError(err))
	}
	return nil
}

// GetSubscription retrieves a subscription by ID
func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (sub *Subscription, err error) {
	defer s.observe("get_subscription", time.Now(), &err)

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err = scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetActiveSubscription retrieves the tenant's active subscription
func (s *PostgresStore) GetActiveSubscription(ctx context.Context, tenantID string) (sub *Subscription, err error) {
	defer s.observe("get_active_subscription", time.Now(), &err)

	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`
	sub, err = scanSubscription(s.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns matching subscriptions ordered by end date
func (s *PostgresStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) (subs []*Subscription, err error) {
	defer s.observe("list_subscriptions", time.Now(), &err)

	var where []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.AutoRenew != nil {
		add("auto_renew = $%d", *filter.AutoRenew)
	}
	if filter.RenewalReminderSent != nil {
		add("renewal_reminder_sent = $%d", *filter.RenewalReminderSent)
	}
	if !filter.EndFrom.IsZero() {
		add("end_date >= $%d", filter.EndFrom)
	}
	if !filter.EndBefore.IsZero() {
		add("end_date < $%d", filter.EndBefore)
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY end_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var features []byte
	var invoiceIDs pq.StringArray
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.Plan, &sub.Status, &sub.StartDate, &sub.EndDate,
		&sub.Price, &sub.AutoRenew, &sub.CancelledAt, &sub.RenewalReminderSent,
		&sub.RenewalReminderDate, &features, &invoiceIDs, &sub.Version,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &sub.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
	}
	sub.InvoiceIDs = nonNil(invoiceIDs)
	return sub, nil
}

// DeleteSubscription removes a subscription. Its invoices must be deleted first.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) (err error) {
	defer s.observe("delete_subscription", time.Now(), &err)
	return s.deleteRow(ctx, "subscriptions", id)
}

// CreateInvoice inserts an invoice at version 1
func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice) (err error) {
	defer s.observe("create_invoice", time.Now(), &err)

	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	stampCreate(&inv.CreatedAt, &inv.UpdatedAt)

	query := `
		INSERT INTO invoices (id, invoice_number, tenant_id, subscription_id, amount, tax,
		                      total_amount, currency, status, issue_date, due_date, paid_date,
		                      period_start, period_end, items, notes, payment_method,
		                      transaction_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1, $19, $20)
		RETURNING version
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.TenantID, inv.SubscriptionID, inv.Amount, inv.Tax,
		inv.TotalAmount, inv.Currency, inv.Status, inv.IssueDate, inv.DueDate, inv.PaidDate,
		inv.SubscriptionPeriod.StartDate, inv.SubscriptionPeriod.EndDate, items, inv.Notes,
		inv.PaymentMethod, inv.TransactionID, inv.CreatedAt, inv.UpdatedAt,
	).Scan(&inv.Version)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", translateError(err))
	}
	return nil
}

// UpdateInvoice writes the mutable invoice fields if the version still matches
func (s *PostgresStore) UpdateInvoice(ctx context.Context, inv *Invoice) (err error) {
	defer s.observe("update_invoice", time.Now(), &err)

	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = time.Now()
	}

	query := `
		UPDATE invoices
		SET status = $3, paid_date = $4, payment_method = $5, transaction_id = $6,
		    notes = $7, updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.ID, inv.Version, inv.Status, inv.PaidDate, inv.PaymentMethod, inv.TransactionID,
		inv.Notes, inv.UpdatedAt,
	).Scan(&inv.Version)
	if err == sql.ErrNoRows {
		return s.missOrConflict(ctx, "invoices", inv.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (inv *Invoice, err error) {
	defer s.observe("get_invoice", time.Now(), &err)

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err = scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns matching invoices, newest issue date first
func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) (invoices []*Invoice, err error) {
	defer s.observe("list_invoices", time.Now(), &err)

	var where []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.DueBefore.IsZero() {
		add("due_date < $%d", filter.DueBefore)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY issue_date DESC, invoice_number DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices = []*Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var items []byte
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.TenantID, &inv.SubscriptionID, &inv.Amount,
		&inv.Tax, &inv.TotalAmount, &inv.Currency, &inv.Status, &inv.IssueDate, &inv.DueDate,
		&inv.PaidDate, &inv.SubscriptionPeriod.StartDate, &inv.SubscriptionPeriod.EndDate,
		&items, &inv.Notes, &inv.PaymentMethod, &inv.TransactionID, &inv.Version,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}
	return inv, nil
}

// DeleteInvoice removes an invoice
func (s *PostgresStore) DeleteInvoice(ctx context.Context, id string) (err error) {
	defer s.observe("delete_invoice", time.Now(), &err)
	return s.deleteRow(ctx, "invoices", id)
}

func (s *PostgresStore) deleteRow(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// missOrConflict tells a missing row from a stale version after a CAS miss
func (s *PostgresStore) missOrConflict(ctx context.Context, table, id string) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s row: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *PostgresStore) observe(op string, start time.Time, errp *error) {
	err := *errp
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
		err = nil
	}
	s.metrics.ObserveStoreOperation(op, start, err)
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == oneActivePerTenant {
		return ErrActiveSubscriptionExists
	}
	return err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
