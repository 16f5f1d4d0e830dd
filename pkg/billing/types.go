package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gymowl/gymowl/pkg/plans"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

const (
	// DefaultCurrency is the only billing currency
	DefaultCurrency = "INR"

	// InvoiceSequenceName names the global counter behind invoice numbers
	InvoiceSequenceName = "invoice"
)

// TaxRate is the flat GST rate applied to every invoice
var TaxRate = decimal.RequireFromString("0.18")

// Subscription is one billing period of a tenant on a plan
type Subscription struct {
	ID                  string             `json:"id"`
	TenantID            string             `json:"tenant_id"`
	Plan                plans.PlanID       `json:"plan"`
	Status              SubscriptionStatus `json:"status"`
	StartDate           time.Time          `json:"start_date"`
	EndDate             time.Time          `json:"end_date"`
	Price               decimal.Decimal    `json:"price"`
	AutoRenew           bool               `json:"auto_renew"`
	CancelledAt         *time.Time         `json:"cancelled_at,omitempty"`
	RenewalReminderSent bool               `json:"renewal_reminder_sent"`
	RenewalReminderDate *time.Time         `json:"renewal_reminder_date,omitempty"`
	Features            plans.Features     `json:"features"`
	InvoiceIDs          []string           `json:"invoice_ids"`
	Version             int64              `json:"version"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the subscription
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.RenewalReminderDate = cloneTime(s.RenewalReminderDate)
	c.InvoiceIDs = append([]string(nil), s.InvoiceIDs...)
	return &c
}

// Period is a frozen copy of the subscription dates an invoice bills for
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// LineItem is a single billed line on an invoice
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice is a bill issued against a subscription
type Invoice struct {
	ID                 string          `json:"id"`
	InvoiceNumber      string          `json:"invoice_number"`
	TenantID           string          `json:"tenant_id"`
	SubscriptionID     string          `json:"subscription_id"`
	Amount             decimal.Decimal `json:"amount"`
	Tax                decimal.Decimal `json:"tax"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	Status             InvoiceStatus   `json:"status"`
	IssueDate          time.Time       `json:"issue_date"`
	DueDate            time.Time       `json:"due_date"`
	PaidDate           *time.Time      `json:"paid_date,omitempty"`
	SubscriptionPeriod Period          `json:"subscription_period"`
	Items              []LineItem      `json:"items"`
	Notes              string          `json:"notes,omitempty"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	TransactionID      string          `json:"transaction_id,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the invoice
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}
	c := *i
	c.PaidDate = cloneTime(i.PaidDate)
	c.Items = append([]LineItem(nil), i.Items...)
	return &c
}

// CreateSubscriptionRequest represents a request to start a subscription
type CreateSubscriptionRequest struct {
	Plan      plans.PlanID `json:"plan"`
	AutoRenew bool         `json:"auto_renew"`
	// EndDate overrides the plan duration when set
	EndDate *time.Time `json:"end_date,omitempty"`
}

// PaymentRequest records how an invoice was settled
type PaymentRequest struct {
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// SubscriptionDetails is the active subscription with its invoices
type SubscriptionDetails struct {
	Subscription *Subscription `json:"subscription"`
	Invoices     []*Invoice    `json:"invoices"`
}

// JobResult summarises one batch job run
type JobResult struct {
	Matched   int `json:"matched"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
