package billing

import (
	"context"

	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/tenants"
)

// LogNotifier records renewal reminders in the log. Delivery by email is
// handled outside this service.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyExpiring(ctx context.Context, tenant *tenants.Tenant, sub *Subscription) error {
	n.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       tenant.TenantID,
		"contact_email":   tenant.ContactEmail,
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
		"end_date":        sub.EndDate,
	}).Info("Renewal reminder due")
	return nil
}

// LogArchiver is the fallback InvoiceArchiver when no archive is configured
type LogArchiver struct {
	logger *observability.Logger
}

// NewLogArchiver creates a LogArchiver
func NewLogArchiver(logger *observability.Logger) *LogArchiver {
	return &LogArchiver{logger: logger}
}

func (a *LogArchiver) Archive(ctx context.Context, tenant *tenants.Tenant, inv *Invoice) error {
	a.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":      tenant.TenantID,
		"contact_email":  tenant.ContactEmail,
		"invoice_number": inv.InvoiceNumber,
	}).Info("Invoice ready for delivery")
	return nil
}
