package collection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLeaseRecord struct {
	token     string
	expiresAt time.Time
}

// InMemoryWriteLeaseManager provides in-memory lease coordination.
type InMemoryWriteLeaseManager struct {
	mu     sync.Mutex
	leases map[string]inMemoryLeaseRecord
}

// NewInMemoryWriteLeaseManager creates a new in-memory lease manager.
func NewInMemoryWriteLeaseManager() *InMemoryWriteLeaseManager {
	return &InMemoryWriteLeaseManager{
		leases: make(map[string]inMemoryLeaseRecord),
	}
}

// Acquire obtains a write lease for the given index name.
func (m *InMemoryWriteLeaseManager) Acquire(ctx context.Context, name string, ttl time.Duration) (*WriteLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("lease name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultWriteLeaseTTL
	}

	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.leases[name]; ok && now.Before(rec.expiresAt) {
		return nil, ErrWriteLeaseConflict
	}

	token := uuid.NewString()
	expiresAt := now.Add(ttl)
	m.leases[name] = inMemoryLeaseRecord{token: token, expiresAt: expiresAt}

	return &WriteLease{Name: name, Token: token, ExpiresAt: expiresAt}, nil
}

// Renew extends an existing write lease.
func (m *InMemoryWriteLeaseManager) Renew(ctx context.Context, lease *WriteLease, ttl time.Duration) (*WriteLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lease == nil || lease.Name == "" || lease.Token == "" {
		return nil, fmt.Errorf("valid lease is required")
	}
	if ttl <= 0 {
		ttl = defaultWriteLeaseTTL
	}

	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.leases[lease.Name]
	if !ok || rec.token != lease.Token || !now.Before(rec.expiresAt) {
		return nil, ErrWriteLeaseConflict
	}

	expiresAt := now.Add(ttl)
	m.leases[lease.Name] = inMemoryLeaseRecord{token: lease.Token, expiresAt: expiresAt}

	return &WriteLease{Name: lease.Name, Token: lease.Token, ExpiresAt: expiresAt}, nil
}

// Release gives up a write lease.
func (m *InMemoryWriteLeaseManager) Release(ctx context.Context, lease *WriteLease) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lease == nil || lease.Name == "" || lease.Token == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.leases[lease.Name]
	if !ok {
		return nil
	}
	if rec.token == lease.Token {
		delete(m.leases, lease.Name)
	}
	return nil
}
