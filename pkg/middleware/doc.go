// Package middleware provides the HTTP middleware in front of the billing API.
//
// RequestID and AccessLog tag every request with an id and log its outcome.
// TenantResolver loads the tenant named by the X-Tenant-ID header into the
// request context; handlers read it back with TenantFromContext.
//
// RateLimit throttles callers per tenant, falling back to the client IP for
// requests without a resolved tenant. Two limiters are provided:
//
//	local := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	shared := middleware.NewDistributedRateLimiter(redisClient, cfg, "gymowl:ratelimit")
//	router.Use(middleware.RateLimit(shared, logger))
//
// The Redis limiter is a fixed window shared by all instances. Redis errors
// let the request through.
package middleware
