// Package billing runs the subscription lifecycle and invoicing for gym
// tenants.
//
// # Overview
//
// A tenant holds at most one active subscription. Creating a subscription
// expires the previous one, stamps the tenant's billing projection and, for
// paid plans, issues an invoice straight away. Three daily jobs keep the
// state moving:
//
//   - CheckExpiringSubscriptions flags subscriptions ending in seven days and
//     sends a renewal reminder once per period
//   - ProcessAutoRenewals rolls auto-renewing subscriptions that end today
//     into their next period and invoices them
//   - CheckOverdueInvoices moves unpaid invoices past their due date to overdue
//
// # Invoices
//
// Every invoice carries 18% tax rounded to two places, is due seven days
// after issue and is numbered INV-YYMM-NNNN from a global sequence:
//
//	inv, err := svc.GenerateInvoice(ctx, tenantID, sub)
//	fmt.Println(inv.InvoiceNumber, inv.TotalAmount.StringFixed(2)) // INV-2401-0001 1178.82
//
// # Concurrency
//
// Subscriptions and invoices are versioned. Stores apply an update only when
// the caller's version matches the stored one and return ErrVersionConflict
// otherwise, which the service reports as a conflict error. Batch jobs treat
// a conflict as work already done by another run.
//
// # Errors
//
// Service methods return *Error values; use IsNotFound, IsNoActiveSubscription,
// IsValidation, IsConflict and IsPersistence to branch on them.
//
// # Related Packages
//
//   - pkg/plans: prices, durations and features per plan
//   - pkg/tenants: the tenant registry the service projects onto
//   - pkg/sequence: atomic invoice counters
//   - pkg/scheduler: cron wiring for the daily jobs
package billing
