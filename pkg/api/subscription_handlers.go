package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/httputil"
	"github.com/gymowl/gymowl/pkg/middleware"
	"github.com/gymowl/gymowl/pkg/observability"
)

const (
	msgTenantNotFound  = "Tenant not found"
	msgInvoiceNotFound = "Invoice not found"
)

// SubscriptionHandlers serves the subscription and invoice endpoints
type SubscriptionHandlers struct {
	billing BillingService
	logger  *observability.Logger
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(svc BillingService, logger *observability.Logger) *SubscriptionHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SubscriptionHandlers{
		billing: svc,
		logger:  logger,
	}
}

// RegisterRoutes registers the routes on a router mounted at /api/subscriptions.
// Invoice routes go first so /invoices/... never matches {tenantId}.
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	// Invoices
	router.HandleFunc("/invoices/{invoiceId}", h.GetInvoice).Methods(http.MethodGet)
	router.HandleFunc("/invoices/{invoiceId}/send", h.SendInvoice).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{invoiceId}/pay", h.PayInvoice).Methods(http.MethodPut)

	// Subscriptions
	router.HandleFunc("", h.CreateSubscription).Methods(http.MethodPost)
	router.HandleFunc("/{tenantId}", h.GetSubscription).Methods(http.MethodGet)
	router.HandleFunc("/{tenantId}/cancel", h.CancelSubscription).Methods(http.MethodPut)
	router.HandleFunc("/{tenantId}/invoices", h.ListInvoices).Methods(http.MethodGet)
}

// CreateSubscription creates a subscription and, for paid plans, its first invoice
func (h *SubscriptionHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.Plan == "" {
		httputil.WriteBadRequest(w, "Tenant ID and plan are required")
		return
	}
	if !h.authorizeTenant(w, r, req.TenantID, "Not authorized to create subscription for this tenant") {
		return
	}

	sub, err := h.billing.CreateSubscription(r.Context(), req.TenantID, &billing.CreateSubscriptionRequest{
		Plan:      req.Plan,
		AutoRenew: req.AutoRenew,
		EndDate:   req.EndDate,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgTenantNotFound)
		return
	}

	httputil.WriteCreated(w, sub)
}

// GetSubscription returns the tenant's active subscription with its invoices
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantId")
	if !ok {
		return
	}

	details, err := h.billing.GetSubscriptionDetails(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgTenantNotFound)
		return
	}

	httputil.WriteSuccess(w, details)
}

// CancelSubscription cancels the tenant's active subscription
func (h *SubscriptionHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantId")
	if !ok {
		return
	}

	sub, err := h.billing.CancelSubscription(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgTenantNotFound)
		return
	}

	httputil.WriteSuccessMessage(w, "Subscription cancelled successfully", sub)
}

// ListInvoices returns every invoice of the tenant, newest first
func (h *SubscriptionHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantId")
	if !ok {
		return
	}

	invoices, err := h.billing.GetTenantInvoices(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgTenantNotFound)
		return
	}
	if invoices == nil {
		invoices = []*billing.Invoice{}
	}

	httputil.WriteList(w, invoices, len(invoices))
}

// GetInvoice returns a single invoice
func (h *SubscriptionHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadInvoice(w, r, "Not authorized to view this invoice")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, inv)
}

// SendInvoice hands the invoice to the archive for rendering and delivery
func (h *SubscriptionHandlers) SendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadInvoice(w, r, "Not authorized to send this invoice")
	if !ok {
		return
	}

	sent, err := h.billing.SendInvoice(r.Context(), inv.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgInvoiceNotFound)
		return
	}

	httputil.WriteSuccessMessage(w, "Invoice sent successfully", sent)
}

// PayInvoice records a payment against the invoice
func (h *SubscriptionHandlers) PayInvoice(w http.ResponseWriter, r *http.Request) {
	var req PayInvoiceRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	inv, ok := h.loadInvoice(w, r, "Not authorized to update this invoice")
	if !ok {
		return
	}

	paid, err := h.billing.MarkInvoiceAsPaid(r.Context(), inv.ID, billing.PaymentRequest{
		TransactionID: req.TransactionID,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgInvoiceNotFound)
		return
	}

	httputil.WriteSuccessMessage(w, "Invoice marked as paid successfully", paid)
}

// loadInvoice fetches the invoice named in the path and checks it belongs to
// the resolved tenant, if any
func (h *SubscriptionHandlers) loadInvoice(w http.ResponseWriter, r *http.Request, forbidden string) (*billing.Invoice, bool) {
	invoiceID, ok := httputil.ParsePathStringOrError(w, r, "invoiceId")
	if !ok {
		return nil, false
	}

	inv, err := h.billing.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, msgInvoiceNotFound)
		return nil, false
	}
	if !h.authorizeTenant(w, r, inv.TenantID, forbidden) {
		return nil, false
	}
	return inv, true
}

// authorizeTenant rejects requests whose resolved tenant differs from
// tenantID. Without a resolved tenant every request passes.
func (h *SubscriptionHandlers) authorizeTenant(w http.ResponseWriter, r *http.Request, tenantID, message string) bool {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil || tenant.TenantID == tenantID {
		return true
	}
	httputil.WriteErrorMessage(w, http.StatusForbidden, message)
	return false
}
