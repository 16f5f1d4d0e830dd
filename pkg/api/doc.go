// Package api exposes the billing core over HTTP.
//
// All billing routes live under /api/subscriptions and answer with the
// httputil envelope. Billing error kinds map onto statuses: not_found and
// no_active_subscription give 404, validation 400, conflict 409 and
// anything else 500.
//
//	POST /api/subscriptions                             create
//	GET  /api/subscriptions/{tenantId}                  active subscription + invoices
//	PUT  /api/subscriptions/{tenantId}/cancel           cancel
//	GET  /api/subscriptions/{tenantId}/invoices         list invoices
//	GET  /api/subscriptions/invoices/{invoiceId}        one invoice
//	POST /api/subscriptions/invoices/{invoiceId}/send   archive again
//	PUT  /api/subscriptions/invoices/{invoiceId}/pay    record payment
//
// When a tenant has been resolved from X-Tenant-ID, requests touching
// another tenant's data are refused with 403.
package api
