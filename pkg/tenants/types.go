package tenants

import (
	"errors"
	"time"

	"github.com/gymowl/gymowl/pkg/plans"
)

// Status represents the billing state of a tenant
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// IsValid reports whether s is a known tenant status
func (s Status) IsValid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// ErrTenantNotFound is returned when no tenant has the requested ID
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is a gym account. Onboarding creates it; the billing core keeps
// the subscription fields in step with the tenant's latest subscription.
type Tenant struct {
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	ContactEmail   string `json:"contact_email"`
	BillingAddress string `json:"billing_address,omitempty"`

	Status                Status       `json:"status"`
	SubscriptionType      plans.PlanID `json:"subscription_type"`
	SubscriptionStartDate *time.Time   `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time   `json:"subscription_end_date,omitempty"`
	AutoRenew             bool         `json:"auto_renew"`
	LastBillingDate       *time.Time   `json:"last_billing_date,omitempty"`
	NextBillingDate       *time.Time   `json:"next_billing_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stores never share time pointers with callers
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	c.SubscriptionStartDate = cloneTime(t.SubscriptionStartDate)
	c.SubscriptionEndDate = cloneTime(t.SubscriptionEndDate)
	c.LastBillingDate = cloneTime(t.LastBillingDate)
	c.NextBillingDate = cloneTime(t.NextBillingDate)
	return &c
}

// applyDefaults fills in the onboarding defaults: a trial tenant
func (t *Tenant) applyDefaults() {
	if t.Status == "" {
		t.Status = StatusTrial
	}
	if t.SubscriptionType == "" {
		t.SubscriptionType = plans.Trial
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
