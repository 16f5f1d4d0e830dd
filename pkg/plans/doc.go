// Package plans is the subscription plan catalog: a data table mapping each
// plan to its price, period length and feature limits.
//
// The catalog is pure. Lookups for unknown plans fall back to a free,
// one-month, featureless row; callers that must reject unknown plans use
// Lookup or PlanID.IsKnown first.
package plans
