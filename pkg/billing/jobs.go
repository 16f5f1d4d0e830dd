package billing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CheckExpiringSubscriptions flags active subscriptions that end exactly
// reminderDays from today and notifies their tenants. A subscription is
// flagged at most once per period.
func (s *Service) CheckExpiringSubscriptions(ctx context.Context) (*JobResult, error) {
	ctx, span := startSpan(ctx, "billing.CheckExpiringSubscriptions")
	defer span.End()

	now := s.clock.Now()
	from := startOfDay(now, s.location).AddDate(0, 0, s.reminderDays)
	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{
		Status:              SubscriptionStatusActive,
		RenewalReminderSent: boolPtr(false),
		EndFrom:             from,
		EndBefore:           from.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, failSpan(span, storeError(err, "failed to find expiring subscriptions"))
	}

	result := &JobResult{Matched: len(subs)}
	log := s.logger.WithContext(ctx).WithField("job", "expiry_reminders")

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return finishJob(span, result, err)
		}

		sub.RenewalReminderSent = true
		sub.RenewalReminderDate = timePtr(now)
		sub.UpdatedAt = now
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				result.Skipped++
				continue
			}
			result.Failed++
			log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to flag renewal reminder")
			continue
		}

		tenant, err := s.tenants.GetTenant(ctx, sub.TenantID)
		if err != nil {
			log.WithError(err).WithField("tenant_id", sub.TenantID).Warn("Reminder flagged but tenant lookup failed")
		} else if err := s.notifier.NotifyExpiring(ctx, tenant, sub); err != nil {
			log.WithError(err).WithField("tenant_id", sub.TenantID).Warn("Renewal reminder delivery failed")
		}

		result.Processed++
		if s.metrics != nil {
			s.metrics.RemindersSentTotal.Inc()
		}
	}

	log.WithFields(resultFields(result)).Info("Expiry reminder scan complete")
	return finishJob(span, result, nil)
}

// ProcessAutoRenewals rolls every auto-renewing subscription that ends today
// into its next period and invoices it. Renewed subscriptions leave today's
// window, so a second run on the same day finds nothing.
func (s *Service) ProcessAutoRenewals(ctx context.Context) (*JobResult, error) {
	ctx, span := startSpan(ctx, "billing.ProcessAutoRenewals")
	defer span.End()

	now := s.clock.Now()
	from := startOfDay(now, s.location)
	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{
		Status:    SubscriptionStatusActive,
		AutoRenew: boolPtr(true),
		EndFrom:   from,
		EndBefore: from.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, failSpan(span, storeError(err, "failed to find renewable subscriptions"))
	}

	result := &JobResult{Matched: len(subs)}
	log := s.logger.WithContext(ctx).WithField("job", "auto_renewals")

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return finishJob(span, result, err)
		}

		err := s.renew(ctx, sub, now)
		switch {
		case err == nil:
			result.Processed++
		case IsConflict(err):
			result.Skipped++
		default:
			result.Failed++
			log.WithError(err).WithFields(map[string]interface{}{
				"subscription_id": sub.ID,
				"tenant_id":       sub.TenantID,
			}).Error("Auto-renewal failed")
		}
	}

	log.WithFields(resultFields(result)).Info("Auto-renewal run complete")
	return finishJob(span, result, nil)
}

// renew moves sub into its next period, invoices it and updates the tenant.
// A failure after the period moved puts the old period back so the
// subscription stays in today's window for the next run.
func (s *Service) renew(ctx context.Context, sub *Subscription, now time.Time) error {
	tenant, err := s.tenants.GetTenant(ctx, sub.TenantID)
	if err != nil {
		return tenantError(err, sub.TenantID)
	}
	number, err := s.nextInvoiceNumber(ctx, now)
	if err != nil {
		return err
	}

	prior := sub.Clone()
	start := sub.EndDate
	end := s.catalog.AddDuration(sub.Plan, start)

	sub.StartDate = start
	sub.EndDate = end
	sub.RenewalReminderSent = false
	sub.RenewalReminderDate = nil
	sub.UpdatedAt = now
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return storeError(err, "failed to renew subscription %s", sub.ID)
	}

	undo := newUndoLog(s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       sub.TenantID,
		"subscription_id": sub.ID,
	}))
	undo.add("restore period of subscription "+sub.ID, func(ctx context.Context) error {
		sub.StartDate = prior.StartDate
		sub.EndDate = prior.EndDate
		sub.RenewalReminderSent = prior.RenewalReminderSent
		sub.RenewalReminderDate = prior.RenewalReminderDate
		sub.InvoiceIDs = prior.InvoiceIDs
		sub.UpdatedAt = s.clock.Now()
		return s.store.UpdateSubscription(ctx, sub)
	})

	inv, err := s.issueInvoice(ctx, sub, number, now, undo)
	if err != nil {
		undo.run(ctx)
		return err
	}

	tenant.SubscriptionStartDate = timePtr(start)
	tenant.SubscriptionEndDate = timePtr(end)
	tenant.LastBillingDate = timePtr(now)
	tenant.NextBillingDate = timePtr(end)
	if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
		undo.run(ctx)
		return tenantError(err, sub.TenantID)
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       sub.TenantID,
		"subscription_id": sub.ID,
		"end_date":        end,
	}).Info("Subscription renewed")
	if s.metrics != nil {
		s.metrics.SubscriptionsRenewedTotal.WithLabelValues(string(sub.Plan)).Inc()
	}
	s.invoiceIssued(ctx, tenant, sub, inv)
	return nil
}

// CheckOverdueInvoices moves sent invoices whose due date has passed to overdue
func (s *Service) CheckOverdueInvoices(ctx context.Context) (*JobResult, error) {
	ctx, span := startSpan(ctx, "billing.CheckOverdueInvoices")
	defer span.End()

	now := s.clock.Now()
	invoices, err := s.store.ListInvoices(ctx, InvoiceFilter{
		Status:    InvoiceStatusSent,
		DueBefore: startOfDay(now, s.location),
	})
	if err != nil {
		return nil, failSpan(span, storeError(err, "failed to find overdue invoices"))
	}

	result := &JobResult{Matched: len(invoices)}
	log := s.logger.WithContext(ctx).WithField("job", "overdue_invoices")

	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return finishJob(span, result, err)
		}

		inv.Status = InvoiceStatusOverdue
		inv.UpdatedAt = now
		if err := s.store.UpdateInvoice(ctx, inv); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				result.Skipped++
				continue
			}
			result.Failed++
			log.WithError(err).WithField("invoice_number", inv.InvoiceNumber).Error("Failed to mark invoice overdue")
			continue
		}

		result.Processed++
		if s.metrics != nil {
			s.metrics.InvoicesOverdueTotal.Inc()
		}
	}

	log.WithFields(resultFields(result)).Info("Overdue invoice scan complete")
	return finishJob(span, result, nil)
}

func finishJob(span trace.Span, result *JobResult, err error) (*JobResult, error) {
	span.SetAttributes(
		attribute.Int("job.matched", result.Matched),
		attribute.Int("job.processed", result.Processed),
		attribute.Int("job.skipped", result.Skipped),
		attribute.Int("job.failed", result.Failed),
	)
	if err != nil {
		return result, failSpan(span, err)
	}
	return result, nil
}

func resultFields(r *JobResult) map[string]interface{} {
	return map[string]interface{}{
		"matched":   r.Matched,
		"processed": r.Processed,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
	}
}
