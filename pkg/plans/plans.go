package plans

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanID identifies a subscription plan
type PlanID string

const (
	Trial    PlanID = "trial"
	Monthly  PlanID = "monthly"
	Biannual PlanID = "biannual"
	Annual   PlanID = "annual"
)

// KnownPlans lists every plan identifier the billing core understands, in
// catalog order.
var KnownPlans = []PlanID{Trial, Monthly, Biannual, Annual}

// IsKnown reports whether id is one of KnownPlans
func (id PlanID) IsKnown() bool {
	for _, known := range KnownPlans {
		if id == known {
			return true
		}
	}
	return false
}

// DisplayName returns the plan id with its first letter upper-cased,
// e.g. "monthly" -> "Monthly".
func (id PlanID) DisplayName() string {
	if id == "" {
		return ""
	}
	s := string(id)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Duration is a calendar length. Months and years follow time.AddDate
// normalisation, so Jan 31 plus one month lands in early March.
type Duration struct {
	Years  int `json:"years,omitempty" yaml:"years"`
	Months int `json:"months,omitempty" yaml:"months"`
	Days   int `json:"days,omitempty" yaml:"days"`
}

// AddTo returns t advanced by the duration
func (d Duration) AddTo(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Days)
}

// IsPositive reports whether the duration strictly advances a date
func (d Duration) IsPositive() bool {
	return d.Years >= 0 && d.Months >= 0 && d.Days >= 0 && (d.Years+d.Months+d.Days) > 0
}

func (d Duration) String() string {
	var parts []string
	if d.Years != 0 {
		parts = append(parts, fmt.Sprintf("%dy", d.Years))
	}
	if d.Months != 0 {
		parts = append(parts, fmt.Sprintf("%dmo", d.Months))
	}
	if d.Days != 0 {
		parts = append(parts, fmt.Sprintf("%dd", d.Days))
	}
	if len(parts) == 0 {
		return "0d"
	}
	return strings.Join(parts, "")
}

// Features are the plan-derived limits copied onto a subscription
type Features struct {
	MaxUsers          int  `json:"max_users" yaml:"max_users"`
	MaxMembers        int  `json:"max_members" yaml:"max_members"`
	AdvancedReports   bool `json:"advanced_reports" yaml:"advanced_reports"`
	MultipleLocations bool `json:"multiple_locations" yaml:"multiple_locations"`
	APIAccess         bool `json:"api_access" yaml:"api_access"`
}

// Plan is one row of the catalog
type Plan struct {
	ID       PlanID          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Duration Duration        `json:"duration"`
	Features Features        `json:"features"`
}

// IsTrial reports whether subscribing to the plan is free and un-invoiced
func (p Plan) IsTrial() bool {
	return p.ID == Trial
}

// Validate checks a single plan row
func (p Plan) Validate() error {
	if !p.ID.IsKnown() {
		return fmt.Errorf("unknown plan %q", p.ID)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("plan %s: price cannot be negative", p.ID)
	}
	if !p.Duration.IsPositive() {
		return fmt.Errorf("plan %s: duration must advance the date", p.ID)
	}
	if p.Features.MaxUsers < 0 || p.Features.MaxMembers < 0 {
		return fmt.Errorf("plan %s: feature limits cannot be negative", p.ID)
	}
	return nil
}

// defaultPlans is the built-in price and feature table
var defaultPlans = []Plan{
	{
		ID:       Trial,
		Name:     "Trial",
		Price:    decimal.Zero,
		Duration: Duration{Days: 14},
		Features: Features{MaxUsers: 2, MaxMembers: 20},
	},
	{
		ID:       Monthly,
		Name:     "Monthly",
		Price:    decimal.NewFromInt(999),
		Duration: Duration{Months: 1},
		Features: Features{MaxUsers: 5, MaxMembers: 100},
	},
	{
		ID:       Biannual,
		Name:     "Biannual",
		Price:    decimal.NewFromInt(4999),
		Duration: Duration{Months: 6},
		Features: Features{MaxUsers: 10, MaxMembers: 250, AdvancedReports: true},
	},
	{
		ID:       Annual,
		Name:     "Annual",
		Price:    decimal.NewFromInt(9999),
		Duration: Duration{Years: 1},
		Features: Features{
			MaxUsers:          15,
			MaxMembers:        500,
			AdvancedReports:   true,
			MultipleLocations: true,
			APIAccess:         true,
		},
	},
}

// fallbackDuration is applied to plan ids missing from the catalog
var fallbackDuration = Duration{Months: 1}

// Catalog maps plan identifiers to their price, duration and features.
// It is immutable once built and safe for concurrent use.
type Catalog struct {
	plans map[PlanID]Plan
}

// DefaultCatalog returns the built-in plan table
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultPlans)
	if err != nil {
		panic(fmt.Sprintf("plans: invalid built-in catalog: %v", err))
	}
	return c
}

// NewCatalog builds a catalog from rows, validating each one
func NewCatalog(rows []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[PlanID]Plan, len(rows))}
	for _, p := range rows {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID.DisplayName()
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

// Lookup returns the plan for id
func (c *Catalog) Lookup(id PlanID) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// All returns every plan in KnownPlans order
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return planOrder(out[i].ID) < planOrder(out[j].ID)
	})
	return out
}

// PriceOf returns the plan price. Unknown plans are free.
func (c *Catalog) PriceOf(id PlanID) decimal.Decimal {
	if p, ok := c.plans[id]; ok {
		return p.Price
	}
	return decimal.Zero
}

// DurationOf returns the plan length. Unknown plans last one month.
func (c *Catalog) DurationOf(id PlanID) Duration {
	if p, ok := c.plans[id]; ok {
		return p.Duration
	}
	return fallbackDuration
}

// AddDuration returns start advanced by the plan length
func (c *Catalog) AddDuration(id PlanID, start time.Time) time.Time {
	return c.DurationOf(id).AddTo(start)
}

// FeaturesOf returns the plan features. Unknown plans get no features.
func (c *Catalog) FeaturesOf(id PlanID) Features {
	return c.plans[id].Features
}

func planOrder(id PlanID) int {
	for i, known := range KnownPlans {
		if id == known {
			return i
		}
	}
	return len(KnownPlans)
}
