// Package tenants stores gym tenants and the billing projection the
// subscription lifecycle maintains on them: status, current plan, period
// dates, auto-renew flag and billing dates.
//
// Tenants are created by onboarding and never deleted; cancellation and
// suspension only move the status.
package tenants
