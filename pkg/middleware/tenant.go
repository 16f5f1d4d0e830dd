package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gymowl/gymowl/pkg/httputil"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/tenants"
)

// TenantHeader identifies the tenant a request acts on
const TenantHeader = "X-Tenant-ID"

// TenantPathVar is the route variable compared against the header
const TenantPathVar = "tenantId"

type tenantContextKey struct{}

// TenantLookup is the part of the tenant store the resolver needs
type TenantLookup interface {
	GetTenant(ctx context.Context, tenantID string) (*tenants.Tenant, error)
}

// TenantResolver loads the tenant named by X-Tenant-ID into the request
// context. It answers 400 when the header is missing, 404 when the tenant is
// unknown and 403 when a {tenantId} route variable names another tenant.
func TenantResolver(store TenantLookup, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(TenantHeader)
			if tenantID == "" {
				httputil.WriteErrorMessage(w, http.StatusBadRequest, "tenant identification missing")
				return
			}

			if pathID, ok := mux.Vars(r)[TenantPathVar]; ok && pathID != tenantID {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "tenant header does not match the requested tenant")
				return
			}

			tenant, err := store.GetTenant(r.Context(), tenantID)
			if err != nil {
				if errors.Is(err, tenants.ErrTenantNotFound) {
					httputil.WriteErrorMessage(w, http.StatusNotFound, "tenant not found")
					return
				}
				logger.WithContext(r.Context()).WithError(err).WithField("tenant_id", tenantID).Error("Failed to resolve tenant")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "server error")
				return
			}

			ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
			ctx = observability.WithTenantID(ctx, tenant.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromContext returns the tenant set by TenantResolver, or nil
func TenantFromContext(ctx context.Context) *tenants.Tenant {
	tenant, _ := ctx.Value(tenantContextKey{}).(*tenants.Tenant)
	return tenant
}
