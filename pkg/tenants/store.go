package tenants

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists tenants
type Store interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	UpdateTenant(ctx context.Context, tenant *Tenant) error
}

// MemoryStore is an in-process Store used by tests and local development
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		now:     time.Now,
	}
}

// CreateTenant stores a new tenant
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.TenantID]; exists {
		return fmt.Errorf("tenant %s already exists", tenant.TenantID)
	}

	tenant.applyDefaults()
	now := s.now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	s.tenants[tenant.TenantID] = tenant.Clone()
	return nil
}

// GetTenant returns a copy of the stored tenant
func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t.Clone(), nil
}

// UpdateTenant replaces the stored tenant
func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tenants[tenant.TenantID]
	if !ok {
		return ErrTenantNotFound
	}

	tenant.CreatedAt = existing.CreatedAt
	tenant.UpdatedAt = s.now()
	s.tenants[tenant.TenantID] = tenant.Clone()
	return nil
}
