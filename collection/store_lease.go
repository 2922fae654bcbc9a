// store_lease.go defines the WriteLeaseManager interface used to coordinate
// snapshot writes across processes.
//
// Within a single process the SaveCoordinator already guarantees at most one
// write in flight. When several instances share one index, a lease around the
// snapshot put makes cross-process write races rare. The lease is intentionally
// coarse: it does not guarantee exclusivity, and the merge-based load protocol
// remains what keeps the index eventually correct.
//
// Implementations:
//
//   - InMemoryWriteLeaseManager: in-process, suitable for single-instance
//     deployments and tests. The default.
//   - RedisWriteLeaseManager: Redis SET NX / Lua scripts, for multi-instance
//     deployments.

package collection

import (
	"context"
	"time"
)

const defaultWriteLeaseTTL = 30 * time.Second

// WriteLease represents a held write lock for one index. The Token field is
// used by the lease manager to verify ownership on Renew and Release, so one
// writer cannot accidentally release another's lease.
type WriteLease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// WriteLeaseManager provides coordination for snapshot writes.
// Acquire returns ErrWriteLeaseConflict when the lease is already held.
// Renew extends an existing lease; it returns ErrWriteLeaseConflict if the
// lease has expired or been taken by another writer. Release is best-effort
// and must not be skipped on error paths.
type WriteLeaseManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*WriteLease, error)
	Renew(ctx context.Context, lease *WriteLease, ttl time.Duration) (*WriteLease, error)
	Release(ctx context.Context, lease *WriteLease) error
}
