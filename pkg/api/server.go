package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gymowl/gymowl/pkg/httputil"
	"github.com/gymowl/gymowl/pkg/middleware"
	"github.com/gymowl/gymowl/pkg/observability"
)

// DefaultMaxBodyBytes caps request bodies on the billing routes
const DefaultMaxBodyBytes = 1 << 20

// Config wires the optional parts of the server
type Config struct {
	// RequireTenantHeader resolves X-Tenant-ID on every billing route.
	// Tenants must be set when it is.
	RequireTenantHeader bool
	Tenants             middleware.TenantLookup

	// RateLimiter throttles the billing routes when set
	RateLimiter middleware.Limiter

	// Metrics and Registry enable HTTP metrics and /metrics
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Health serves /health and /ready when set
	Health *observability.HealthChecker

	MaxBodyBytes int64
}

// Server is the billing HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer builds the router for the billing API
func NewServer(svc BillingService, logger *observability.Logger, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("billing service is required")
	}
	if cfg.RequireTenantHeader && cfg.Tenants == nil {
		return nil, fmt.Errorf("a tenant store is required when the tenant header is enforced")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
	}
	s.setupRoutes(svc, cfg)

	s.handler = otelhttp.NewHandler(httputil.Chain(
		middleware.RequestID,
		middleware.AccessLog(logger),
		observability.PanicRecoveryMiddleware(logger),
	)(s.router), "gymowl-api")

	return s, nil
}

func (s *Server) setupRoutes(svc BillingService, cfg Config) {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods(http.MethodGet)
	}
	if cfg.Health != nil {
		observability.RegisterHealthRoutes(s.router, cfg.Health)
	}

	api := s.router.PathPrefix("/api/subscriptions").Subrouter()
	api.Use(httputil.ContentTypeMiddleware, httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	if cfg.RequireTenantHeader {
		api.Use(middleware.TenantResolver(cfg.Tenants, s.logger))
	}
	if cfg.RateLimiter != nil {
		api.Use(middleware.RateLimit(cfg.RateLimiter, s.logger))
	}

	NewSubscriptionHandlers(svc, s.logger).RegisterRoutes(api)
}

// Router exposes the router for registering extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
