package api

import (
	"context"
	"time"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/plans"
)

// BillingService is the billing core as seen by the HTTP handlers
type BillingService interface {
	CreateSubscription(ctx context.Context, tenantID string, req *billing.CreateSubscriptionRequest) (*billing.Subscription, error)
	GetSubscriptionDetails(ctx context.Context, tenantID string) (*billing.SubscriptionDetails, error)
	CancelSubscription(ctx context.Context, tenantID string) (*billing.Subscription, error)
	GetTenantInvoices(ctx context.Context, tenantID string) ([]*billing.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error)
	SendInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error)
	MarkInvoiceAsPaid(ctx context.Context, invoiceID string, req billing.PaymentRequest) (*billing.Invoice, error)
}

// CreateSubscriptionRequest is the body of POST /api/subscriptions
type CreateSubscriptionRequest struct {
	TenantID  string       `json:"tenant_id"`
	Plan      plans.PlanID `json:"plan"`
	AutoRenew bool         `json:"auto_renew"`
	EndDate   *time.Time   `json:"end_date,omitempty"`
}

// PayInvoiceRequest is the body of PUT /api/subscriptions/invoices/{invoiceId}/pay
type PayInvoiceRequest struct {
	TransactionID string `json:"transaction_id"`
	PaymentMethod string `json:"payment_method"`
}
