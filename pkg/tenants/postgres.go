package tenants

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `tenant_id, name, domain, contact_email, billing_address, status,
		       subscription_type, subscription_start_date, subscription_end_date, auto_renew,
		       last_billing_date, next_billing_date, created_at, updated_at`

// CreateTenant inserts a new tenant row
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	tenant.applyDefaults()

	query := `
		INSERT INTO tenants (tenant_id, name, domain, contact_email, billing_address, status,
		                     subscription_type, subscription_start_date, subscription_end_date,
		                     auto_renew, last_billing_date, next_billing_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		tenant.TenantID, tenant.Name, tenant.Domain, tenant.ContactEmail, tenant.BillingAddress,
		tenant.Status, tenant.SubscriptionType, tenant.SubscriptionStartDate, tenant.SubscriptionEndDate,
		tenant.AutoRenew, tenant.LastBillingDate, tenant.NextBillingDate,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by its tenant ID
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE tenant_id = $1`

	t := &Tenant{}
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.TenantID, &t.Name, &t.Domain, &t.ContactEmail, &t.BillingAddress, &t.Status,
		&t.SubscriptionType, &t.SubscriptionStartDate, &t.SubscriptionEndDate, &t.AutoRenew,
		&t.LastBillingDate, &t.NextBillingDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// UpdateTenant writes the billing projection fields of a tenant
func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *Tenant) error {
	query := `
		UPDATE tenants
		SET status = $2, subscription_type = $3, subscription_start_date = $4,
		    subscription_end_date = $5, auto_renew = $6, last_billing_date = $7,
		    next_billing_date = $8, billing_address = $9, updated_at = NOW()
		WHERE tenant_id = $1
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		tenant.TenantID, tenant.Status, tenant.SubscriptionType, tenant.SubscriptionStartDate,
		tenant.SubscriptionEndDate, tenant.AutoRenew, tenant.LastBillingDate,
		tenant.NextBillingDate, tenant.BillingAddress,
	).Scan(&tenant.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrTenantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return nil
}
