package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gymowl/gymowl/pkg/async"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/plans"
	"github.com/gymowl/gymowl/pkg/tenants"
)

var tracer = otel.Tracer("github.com/gymowl/gymowl/pkg/billing")

const (
	defaultReminderDays     = 7
	defaultPaymentTermsDays = 7
)

// Service runs the subscription lifecycle and invoicing for every tenant
type Service struct {
	tenants TenantStore
	store   Store
	seq     InvoiceSequence
	logger  *observability.Logger
	metrics *observability.Metrics

	clock    Clock
	catalog  *plans.Catalog
	location *time.Location

	archiver   InvoiceArchiver
	notifier   ReminderNotifier
	background *async.Group

	reminderDays     int
	paymentTermsDays int
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCatalog replaces the default plan catalog
func WithCatalog(c *plans.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithLocation sets the time zone that day windows are computed in
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithMetrics enables Prometheus counters for billing events
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchiver sets the sink generated invoices are handed to. Handoffs run
// on group so they can be drained at shutdown; a nil group runs them inline.
func WithArchiver(a InvoiceArchiver, group *async.Group) Option {
	return func(s *Service) {
		s.archiver = a
		s.background = group
	}
}

// WithNotifier sets the renewal reminder channel
func WithNotifier(n ReminderNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithReminderDays sets how many days before the end date reminders go out
func WithReminderDays(days int) Option {
	return func(s *Service) { s.reminderDays = days }
}

// WithPaymentTerms sets the number of days between issue and due date
func WithPaymentTerms(days int) Option {
	return func(s *Service) { s.paymentTermsDays = days }
}

// NewService creates a new billing Service
func NewService(tenantStore TenantStore, store Store, seq InvoiceSequence, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Service{
		tenants:          tenantStore,
		store:            store,
		seq:              seq,
		logger:           logger.WithField("component", "billing"),
		clock:            SystemClock{},
		catalog:          plans.DefaultCatalog(),
		location:         time.UTC,
		reminderDays:     defaultReminderDays,
		paymentTermsDays: defaultPaymentTermsDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.archiver == nil {
		s.archiver = NewLogArchiver(s.logger)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Catalog returns the plan catalog the service prices with
func (s *Service) Catalog() *plans.Catalog {
	return s.catalog
}

// CreateSubscription starts a new subscription for a tenant. Any subscription
// that is still active is expired first, so a tenant never holds two. Paid
// plans are invoiced immediately. If any step fails the earlier writes are
// undone and the tenant record is left as it was.
func (s *Service) CreateSubscription(ctx context.Context, tenantID string, req *CreateSubscriptionRequest) (*Subscription, error) {
	ctx, span := startSpan(ctx, "billing.CreateSubscription", attribute.String("tenant.id", tenantID))
	defer span.End()

	if tenantID == "" {
		return nil, failSpan(span, newError(KindValidation, nil, "tenant id is required"))
	}
	if req == nil || req.Plan == "" {
		return nil, failSpan(span, newError(KindValidation, nil, "plan is required"))
	}
	plan, ok := s.catalog.Lookup(req.Plan)
	if !ok {
		return nil, failSpan(span, newError(KindValidation, nil, "unknown plan %q", req.Plan))
	}
	span.SetAttributes(attribute.String("plan", string(plan.ID)))

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, failSpan(span, tenantError(err, tenantID))
	}

	now := s.clock.Now()
	end := s.catalog.AddDuration(plan.ID, now)
	if req.EndDate != nil {
		if !req.EndDate.After(now) {
			return nil, failSpan(span, newError(KindValidation, nil, "end date must be in the future"))
		}
		end = *req.EndDate
	}

	var number string
	if !plan.IsTrial() {
		if number, err = s.nextInvoiceNumber(ctx, now); err != nil {
			return nil, failSpan(span, err)
		}
	}

	undo := newUndoLog(s.logger.WithContext(ctx).WithField("tenant_id", tenantID))
	if err := s.supersedeActive(ctx, tenantID, now, undo); err != nil {
		undo.run(ctx)
		return nil, failSpan(span, err)
	}

	sub := &Subscription{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Plan:       plan.ID,
		Status:     SubscriptionStatusActive,
		StartDate:  now,
		EndDate:    end,
		Price:      plan.Price,
		AutoRenew:  req.AutoRenew,
		Features:   plan.Features,
		InvoiceIDs: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		undo.run(ctx)
		return nil, failSpan(span, storeError(err, "failed to create subscription"))
	}
	undo.add("delete subscription "+sub.ID, func(ctx context.Context) error {
		return s.store.DeleteSubscription(ctx, sub.ID)
	})

	var inv *Invoice
	if !plan.IsTrial() {
		if inv, err = s.issueInvoice(ctx, sub, number, now, undo); err != nil {
			undo.run(ctx)
			return nil, failSpan(span, err)
		}
	}

	tenant.SubscriptionType = plan.ID
	tenant.SubscriptionStartDate = timePtr(sub.StartDate)
	tenant.SubscriptionEndDate = timePtr(sub.EndDate)
	tenant.AutoRenew = sub.AutoRenew
	tenant.NextBillingDate = timePtr(sub.EndDate)
	if plan.IsTrial() {
		tenant.Status = tenants.StatusTrial
	} else {
		tenant.Status = tenants.StatusActive
	}
	if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
		undo.run(ctx)
		return nil, failSpan(span, tenantError(err, tenantID))
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       tenantID,
		"subscription_id": sub.ID,
		"plan":            plan.ID,
		"end_date":        sub.EndDate,
	}).Info("Subscription created")
	if s.metrics != nil {
		s.metrics.SubscriptionsCreatedTotal.WithLabelValues(string(plan.ID)).Inc()
	}
	if inv != nil {
		s.invoiceIssued(ctx, tenant, sub, inv)
	}

	return sub.Clone(), nil
}

// supersedeActive expires the tenant's current active subscription, if any,
// and records how to reactivate it
func (s *Service) supersedeActive(ctx context.Context, tenantID string, now time.Time, undo *undoLog) error {
	prev, err := s.store.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeError(err, "failed to look up active subscription")
	}

	autoRenew := prev.AutoRenew
	prev.Status = SubscriptionStatusExpired
	prev.AutoRenew = false
	prev.UpdatedAt = now
	if err := s.store.UpdateSubscription(ctx, prev); err != nil {
		return storeError(err, "failed to expire subscription %s", prev.ID)
	}
	undo.add("reactivate subscription "+prev.ID, func(ctx context.Context) error {
		prev.Status = SubscriptionStatusActive
		prev.AutoRenew = autoRenew
		prev.UpdatedAt = s.clock.Now()
		return s.store.UpdateSubscription(ctx, prev)
	})

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       tenantID,
		"subscription_id": prev.ID,
		"plan":            prev.Plan,
	}).Info("Previous subscription superseded")
	return nil
}

// GenerateInvoice bills sub for its current period and records the invoice
// on the subscription. Nothing is stored if either write fails.
func (s *Service) GenerateInvoice(ctx context.Context, tenantID string, sub *Subscription) (*Invoice, error) {
	ctx, span := startSpan(ctx, "billing.GenerateInvoice", attribute.String("tenant.id", tenantID))
	defer span.End()

	if sub == nil {
		return nil, failSpan(span, newError(KindValidation, nil, "subscription is required"))
	}
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, failSpan(span, tenantError(err, tenantID))
	}

	now := s.clock.Now()
	number, err := s.nextInvoiceNumber(ctx, now)
	if err != nil {
		return nil, failSpan(span, err)
	}

	undo := newUndoLog(s.logger.WithContext(ctx).WithField("tenant_id", tenantID))
	inv, err := s.issueInvoice(ctx, sub, number, now, undo)
	if err != nil {
		undo.run(ctx)
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.String("invoice.number", inv.InvoiceNumber))

	s.invoiceIssued(ctx, tenant, sub, inv)
	return inv.Clone(), nil
}

// nextInvoiceNumber draws the next number from the global sequence
func (s *Service) nextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.seq.Next(ctx, InvoiceSequenceName)
	if err != nil {
		return "", newError(KindPersistence, err, "failed to allocate invoice number")
	}
	return FormatInvoiceNumber(now.In(s.location), seq), nil
}

// issueInvoice stores an invoice for sub's current period and attaches it
// to sub. The invoice is deleted again if attaching fails, and undo learns
// how to delete it should a later step fail.
func (s *Service) issueInvoice(ctx context.Context, sub *Subscription, number string, now time.Time, undo *undoLog) (*Invoice, error) {
	amount := sub.Price
	tax := amount.Mul(TaxRate).Round(2)
	inv := &Invoice{
		ID:             uuid.NewString(),
		InvoiceNumber:  number,
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Amount:         amount,
		Tax:            tax,
		TotalAmount:    amount.Add(tax),
		Currency:       DefaultCurrency,
		Status:         InvoiceStatusSent,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, s.paymentTermsDays),
		SubscriptionPeriod: Period{
			StartDate: sub.StartDate,
			EndDate:   sub.EndDate,
		},
		Items: []LineItem{{
			Description: sub.Plan.DisplayName() + " Subscription Plan",
			Quantity:    1,
			UnitPrice:   amount,
			Amount:      amount,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, storeError(err, "failed to create invoice")
	}
	undo.add("delete invoice "+inv.InvoiceNumber, func(ctx context.Context) error {
		return s.store.DeleteInvoice(ctx, inv.ID)
	})

	invoiceIDs := sub.InvoiceIDs
	sub.InvoiceIDs = append(append([]string{}, invoiceIDs...), inv.ID)
	sub.UpdatedAt = now
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		sub.InvoiceIDs = invoiceIDs
		return nil, storeError(err, "failed to attach invoice %s to subscription", inv.InvoiceNumber)
	}
	return inv, nil
}

// invoiceIssued logs and counts a committed invoice and hands it off
func (s *Service) invoiceIssued(ctx context.Context, tenant *tenants.Tenant, sub *Subscription, inv *Invoice) {
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":      inv.TenantID,
		"invoice_number": inv.InvoiceNumber,
		"total_amount":   inv.TotalAmount.StringFixed(2),
	}).Info("Invoice generated")
	if s.metrics != nil {
		s.metrics.InvoicesGeneratedTotal.WithLabelValues(string(sub.Plan)).Inc()
		s.metrics.InvoiceAmountTotal.WithLabelValues(inv.Currency).Add(inv.TotalAmount.InexactFloat64())
	}
	s.handOff(ctx, tenant, inv)
}

// handOff passes a copy of the invoice to the archiver without blocking
func (s *Service) handOff(ctx context.Context, tenant *tenants.Tenant, inv *Invoice) {
	tenant, inv = tenant.Clone(), inv.Clone()
	task := func(ctx context.Context) error {
		return s.archiver.Archive(ctx, tenant, inv)
	}
	if s.background == nil || !s.background.Go(ctx, "invoice handoff "+inv.InvoiceNumber, task) {
		if err := task(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).
				WithField("invoice_number", inv.InvoiceNumber).
				Warn("Invoice handoff failed")
		}
	}
}

// CancelSubscription cancels the tenant's active subscription and marks the
// tenant inactive.
func (s *Service) CancelSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	ctx, span := startSpan(ctx, "billing.CancelSubscription", attribute.String("tenant.id", tenantID))
	defer span.End()

	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		return nil, failSpan(span, err)
	}

	now := s.clock.Now()
	sub.Status = SubscriptionStatusCancelled
	sub.CancelledAt = timePtr(now)
	sub.AutoRenew = false
	sub.UpdatedAt = now
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, failSpan(span, storeError(err, "failed to cancel subscription %s", sub.ID))
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":       tenantID,
		"subscription_id": sub.ID,
	})

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, tenants.ErrTenantNotFound):
		log.Warn("Tenant missing while cancelling subscription")
	case err != nil:
		return nil, failSpan(span, tenantError(err, tenantID))
	default:
		tenant.Status = tenants.StatusInactive
		tenant.AutoRenew = false
		if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
			return nil, failSpan(span, tenantError(err, tenantID))
		}
	}

	log.Info("Subscription cancelled")
	if s.metrics != nil {
		s.metrics.SubscriptionsCancelledTotal.WithLabelValues(string(sub.Plan)).Inc()
	}
	return sub.Clone(), nil
}

// GetSubscriptionDetails returns the active subscription and its invoices in
// billing order.
func (s *Service) GetSubscriptionDetails(ctx context.Context, tenantID string) (*SubscriptionDetails, error) {
	sub, err := s.activeSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	invoices := make([]*Invoice, 0, len(sub.InvoiceIDs))
	for _, id := range sub.InvoiceIDs {
		inv, err := s.store.GetInvoice(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.logger.WithContext(ctx).WithField("invoice_id", id).
				WithField("subscription_id", sub.ID).
				Warn("Subscription references a missing invoice")
			continue
		}
		if err != nil {
			return nil, storeError(err, "failed to load invoice %s", id)
		}
		invoices = append(invoices, inv)
	}

	return &SubscriptionDetails{Subscription: sub, Invoices: invoices}, nil
}

// GetTenantInvoices lists the tenant's invoices, newest first
func (s *Service) GetTenantInvoices(ctx context.Context, tenantID string) ([]*Invoice, error) {
	if tenantID == "" {
		return nil, newError(KindValidation, nil, "tenant id is required")
	}
	invoices, err := s.store.ListInvoices(ctx, InvoiceFilter{TenantID: tenantID})
	if err != nil {
		return nil, storeError(err, "failed to list invoices")
	}
	return invoices, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, storeError(err, "invoice %s", invoiceID)
	}
	return inv, nil
}

// MarkInvoiceAsPaid records a payment against an invoice. Retrying with the
// transaction id that already settled the invoice returns it unchanged.
func (s *Service) MarkInvoiceAsPaid(ctx context.Context, invoiceID string, req PaymentRequest) (*Invoice, error) {
	ctx, span := startSpan(ctx, "billing.MarkInvoiceAsPaid", attribute.String("invoice.id", invoiceID))
	defer span.End()

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, failSpan(span, storeError(err, "invoice %s", invoiceID))
	}

	switch inv.Status {
	case InvoiceStatusPaid:
		if req.TransactionID != "" && req.TransactionID == inv.TransactionID {
			return inv, nil
		}
		return nil, failSpan(span, newError(KindValidation, nil, "invoice %s is already paid", inv.InvoiceNumber))
	case InvoiceStatusCancelled:
		return nil, failSpan(span, newError(KindValidation, nil, "invoice %s is cancelled", inv.InvoiceNumber))
	}

	now := s.clock.Now()
	inv.Status = InvoiceStatusPaid
	inv.PaidDate = timePtr(now)
	inv.UpdatedAt = now
	if req.TransactionID != "" {
		inv.TransactionID = req.TransactionID
	}
	if req.PaymentMethod != "" {
		inv.PaymentMethod = req.PaymentMethod
	}
	if err := s.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, failSpan(span, storeError(err, "failed to mark invoice %s as paid", inv.InvoiceNumber))
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tenant_id":      inv.TenantID,
		"invoice_number": inv.InvoiceNumber,
		"transaction_id": inv.TransactionID,
	}).Info("Invoice paid")
	if s.metrics != nil {
		s.metrics.InvoicesPaidTotal.Inc()
	}
	return inv.Clone(), nil
}

// SendInvoice hands an existing invoice to the archiver again and waits for
// the result.
func (s *Service) SendInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetTenant(ctx, inv.TenantID)
	if err != nil {
		return nil, tenantError(err, inv.TenantID)
	}
	if inv.Status == InvoiceStatusCancelled {
		return nil, newError(KindValidation, nil, "invoice %s is cancelled", inv.InvoiceNumber)
	}
	if err := s.archiver.Archive(ctx, tenant, inv); err != nil {
		return nil, newError(KindPersistence, err, "failed to send invoice %s", inv.InvoiceNumber)
	}
	return inv, nil
}

func (s *Service) activeSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	sub, err := s.store.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(KindNoActiveSubscription, nil, "no active subscription for tenant %s", tenantID)
	}
	if err != nil {
		return nil, storeError(err, "failed to look up active subscription")
	}
	return sub, nil
}

// FormatInvoiceNumber renders INV-YYMM-NNNN from the issue time and sequence
func FormatInvoiceNumber(issued time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", issued.Format("0601"), seq)
}

func tenantError(err error, tenantID string) error {
	if errors.Is(err, tenants.ErrTenantNotFound) {
		return newError(KindNotFound, err, "tenant %s", tenantID)
	}
	return newError(KindPersistence, err, "failed to access tenant %s", tenantID)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func timePtr(t time.Time) *time.Time {
	return &t
}
