package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Billing metrics
	SubscriptionsCreatedTotal   *prometheus.CounterVec
	SubscriptionsCancelledTotal *prometheus.CounterVec
	SubscriptionsRenewedTotal   *prometheus.CounterVec
	InvoicesGeneratedTotal      *prometheus.CounterVec
	InvoicesPaidTotal           prometheus.Counter
	InvoicesOverdueTotal        prometheus.Counter
	InvoiceAmountTotal          *prometheus.CounterVec
	RemindersSentTotal          prometheus.Counter

	// Scheduled job metrics
	JobRunsTotal      *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobItemsTotal     *prometheus.CounterVec
	JobLastSuccessful *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gymowl_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_store_operations_total",
				Help: "Total number of billing store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gymowl_store_operation_duration_seconds",
				Help:    "Billing store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),

		SubscriptionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_subscriptions_created_total",
				Help: "Total number of subscriptions created",
			},
			[]string{"plan"},
		),
		SubscriptionsCancelledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_subscriptions_cancelled_total",
				Help: "Total number of subscriptions cancelled",
			},
			[]string{"plan"},
		),
		SubscriptionsRenewedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_subscriptions_renewed_total",
				Help: "Total number of subscription auto-renewals",
			},
			[]string{"plan"},
		),
		InvoicesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_invoices_generated_total",
				Help: "Total number of invoices generated",
			},
			[]string{"plan"},
		),
		InvoicesPaidTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gymowl_invoices_paid_total",
				Help: "Total number of invoices marked as paid",
			},
		),
		InvoicesOverdueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gymowl_invoices_overdue_total",
				Help: "Total number of invoices moved to overdue",
			},
		),
		InvoiceAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_invoice_amount_total",
				Help: "Sum of invoiced totals including tax",
			},
			[]string{"currency"},
		),
		RemindersSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gymowl_renewal_reminders_sent_total",
				Help: "Total number of renewal reminders recorded",
			},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_job_runs_total",
				Help: "Total number of scheduled job runs",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gymowl_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"job"},
		),
		JobItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gymowl_job_items_total",
				Help: "Items handled by scheduled jobs by outcome",
			},
			[]string{"job", "outcome"},
		),
		JobLastSuccessful: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gymowl_job_last_success_timestamp_seconds",
				Help: "Unix time of the last successful job run",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.SubscriptionsCreatedTotal,
		m.SubscriptionsCancelledTotal,
		m.SubscriptionsRenewedTotal,
		m.InvoicesGeneratedTotal,
		m.InvoicesPaidTotal,
		m.InvoicesOverdueTotal,
		m.InvoiceAmountTotal,
		m.RemindersSentTotal,
		m.JobRunsTotal,
		m.JobDuration,
		m.JobItemsTotal,
		m.JobLastSuccessful,
	)

	return m
}

// ObserveStoreOperation records the outcome and latency of a store call.
// Safe to call on a nil *Metrics.
func (m *Metrics) ObserveStoreOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveJobRun records a finished scheduled job run.
// Safe to call on a nil *Metrics.
func (m *Metrics) ObserveJobRun(job string, duration time.Duration, processed, skipped, failed int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	m.JobItemsTotal.WithLabelValues(job, "processed").Add(float64(processed))
	m.JobItemsTotal.WithLabelValues(job, "skipped").Add(float64(skipped))
	m.JobItemsTotal.WithLabelValues(job, "failed").Add(float64(failed))
	if err == nil {
		m.JobLastSuccessful.WithLabelValues(job).SetToCurrentTime()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template so tenant and invoice
// IDs do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
