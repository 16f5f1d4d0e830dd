package scheduler

import (
	"context"

	"github.com/gymowl/gymowl/pkg/billing"
)

// Billing job names
const (
	JobExpiryReminders = "expiry_reminders"
	JobAutoRenewals    = "auto_renewals"
	JobOverdueInvoices = "overdue_invoices"
)

// BillingRunner is the part of billing.Service the jobs call
type BillingRunner interface {
	CheckExpiringSubscriptions(ctx context.Context) (*billing.JobResult, error)
	ProcessAutoRenewals(ctx context.Context) (*billing.JobResult, error)
	CheckOverdueInvoices(ctx context.Context) (*billing.JobResult, error)
}

// Schedules holds the cron spec for each billing job
type Schedules struct {
	Reminders string
	Renewals  string
	Overdue   string
}

// DefaultSchedules fires reminders at 08:00, renewals at 01:00 and the
// overdue sweep at 09:00
var DefaultSchedules = Schedules{
	Reminders: "0 8 * * *",
	Renewals:  "0 1 * * *",
	Overdue:   "0 9 * * *",
}

// BillingJobs returns the daily billing jobs for svc
func BillingJobs(svc BillingRunner, schedules Schedules) []Job {
	return []Job{
		{Name: JobExpiryReminders, Spec: orDefault(schedules.Reminders, DefaultSchedules.Reminders), Run: svc.CheckExpiringSubscriptions},
		{Name: JobAutoRenewals, Spec: orDefault(schedules.Renewals, DefaultSchedules.Renewals), Run: svc.ProcessAutoRenewals},
		{Name: JobOverdueInvoices, Spec: orDefault(schedules.Overdue, DefaultSchedules.Overdue), Run: svc.CheckOverdueInvoices},
	}
}

// RegisterAll registers every job, stopping at the first error
func (s *Scheduler) RegisterAll(jobs []Job) error {
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func orDefault(spec, fallback string) string {
	if spec == "" {
		return fallback
	}
	return spec
}
