package tenants

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore is a read-through cache in front of another Store. Tenant
// lookups happen on every tenant-scoped request, while writes only happen
// on billing transitions, so entries are dropped on write and otherwise
// expire after the TTL.
type CachedStore struct {
	next  Store
	cache *lru.LRU[string, *Tenant]
}

// NewCachedStore wraps next with an LRU of at most size entries
func NewCachedStore(next Store, size int, ttl time.Duration) *CachedStore {
	if size < 1 {
		size = 1
	}
	return &CachedStore{
		next:  next,
		cache: lru.NewLRU[string, *Tenant](size, nil, ttl),
	}
}

// CreateTenant passes through to the wrapped store
func (s *CachedStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	return s.next.CreateTenant(ctx, tenant)
}

// GetTenant serves from cache when possible. Misses are not cached.
func (s *CachedStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if t, ok := s.cache.Get(tenantID); ok {
		return t.Clone(), nil
	}

	t, err := s.next.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(tenantID, t.Clone())
	return t, nil
}

// UpdateTenant writes through and invalidates the cached entry
func (s *CachedStore) UpdateTenant(ctx context.Context, tenant *Tenant) error {
	s.cache.Remove(tenant.TenantID)
	return s.next.UpdateTenant(ctx, tenant)
}

// Len returns the number of cached tenants
func (s *CachedStore) Len() int {
	return s.cache.Len()
}
