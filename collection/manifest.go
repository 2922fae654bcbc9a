package collection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultViewPrefix is where dated view objects live, relative to the blob
// store's data prefix. Keys under it whose final path segment contains a
// valid YYYY-MM-DD substring contribute that date to a listing rebuild.
const defaultViewPrefix = "views/"

// defaultMaxSaveRetries bounds lease-conflict retries per save cycle.
const defaultMaxSaveRetries = 3

// defaultLeaseName is the lease key guarding the snapshot blob.
const defaultLeaseName = "manifest"

// Manifest maintains a single logical index: a sorted, deduplicated set of
// calendar dates persisted as a small blob and reconstructible by listing the
// store's key namespace. It composes the freshness cache, the dual-source
// load coordinator, and the coalescing save coordinator, and owns the DateSet
// exclusively.
type Manifest struct {
	blobs      BlobStore
	snapshots  SnapshotStore
	viewPrefix string

	lease          WriteLeaseManager
	leaseTTL       time.Duration
	leaseName      string
	maxSaveRetries int
	retryObserver  SaveRetryObserver

	metrics *IndexMetrics
	logger  *slog.Logger
	now     func() time.Time

	fresh  *freshnessCache
	loader *loadCoordinator
	saver  *saveCoordinator

	mu  sync.Mutex
	set DateSet
}

// ManifestOption configures Manifest instances.
type ManifestOption func(*Manifest)

// WithSnapshotStore sets a custom SnapshotStore implementation. The default
// keeps the snapshot at manifest.json on the blob store.
func WithSnapshotStore(store SnapshotStore) ManifestOption {
	return func(m *Manifest) {
		if store != nil {
			m.snapshots = store
		}
	}
}

// WithViewPrefix overrides the key prefix scanned by the listing rebuild.
func WithViewPrefix(prefix string) ManifestOption {
	return func(m *Manifest) {
		if prefix != "" {
			m.viewPrefix = prefix
		}
	}
}

// WithWriteLeaseManager sets the lease manager guarding snapshot writes
// across instances.
func WithWriteLeaseManager(mgr WriteLeaseManager) ManifestOption {
	return func(m *Manifest) {
		if mgr == nil {
			m.lease = NewInMemoryWriteLeaseManager()
			return
		}
		m.lease = mgr
	}
}

// WithWriteLeaseTTL sets the TTL for write leases.
func WithWriteLeaseTTL(ttl time.Duration) ManifestOption {
	return func(m *Manifest) {
		if ttl <= 0 {
			m.leaseTTL = defaultWriteLeaseTTL
			return
		}
		m.leaseTTL = ttl
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManifestOption {
	return func(m *Manifest) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *IndexMetrics) ManifestOption {
	return func(m *Manifest) {
		m.metrics = metrics
	}
}

// WithClock injects the time source consulted by the freshness cache, so
// tests can fast-forward TTL expiry deterministically.
func WithClock(now func() time.Time) ManifestOption {
	return func(m *Manifest) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSaveRetryObserver sets an observer for save retry events.
func WithSaveRetryObserver(observer SaveRetryObserver) ManifestOption {
	return func(m *Manifest) {
		m.retryObserver = observer
	}
}

// NewManifest creates a Manifest over the given blob store.
func NewManifest(blobs BlobStore, opts ...ManifestOption) *Manifest {
	m := &Manifest{
		blobs:          blobs,
		viewPrefix:     defaultViewPrefix,
		lease:          NewInMemoryWriteLeaseManager(),
		leaseTTL:       defaultWriteLeaseTTL,
		leaseName:      defaultLeaseName,
		maxSaveRetries: defaultMaxSaveRetries,
		metrics:        NewIndexMetrics(),
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.snapshots == nil {
		m.snapshots = &BlobSnapshotStore{Store: m.blobs}
	}

	m.fresh = newFreshnessCache(m.now)
	m.saver = &saveCoordinator{
		write:   m.writeSnapshot,
		metrics: m.metrics,
		logger:  m.logger,
	}
	m.loader = &loadCoordinator{
		snapshots:        m.snapshots,
		blobs:            m.blobs,
		viewPrefix:       m.viewPrefix,
		apply:            m.applyDates,
		onRebuildChanged: m.reconcileSnapshot,
		fresh:            m.fresh,
		metrics:          m.metrics,
		logger:           m.logger,
	}

	return m
}

// GetDatesBefore ensures the index has been loaded, then returns up to limit
// dates strictly preceding date, in ascending order.
func (m *Manifest) GetDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	if !IsCalendarDate(date) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if err := m.loader.Load(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.RangeBefore(date, limit), nil
}

// AddDate inserts a date into the index and persists the change. When the
// date is absent from the current in-memory set, the freshness cache is
// invalidated and the index reloaded exactly once before committing, in case
// the remote store already carries the date under a key the stale set missed.
func (m *Manifest) AddDate(ctx context.Context, date string) error {
	if !IsCalendarDate(date) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	for attempt := 0; ; attempt++ {
		if err := m.loader.Load(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		present := m.set.Contains(date)
		m.mu.Unlock()
		if present {
			return nil
		}
		if attempt > 0 {
			break
		}
		m.fresh.invalidate()
	}

	m.mu.Lock()
	inserted := m.set.InsertSorted(date)
	m.mu.Unlock()
	if !inserted {
		return nil
	}
	return m.saver.Save(ctx)
}

// Load reconstructs the index if the freshness TTL has lapsed. Concurrent
// callers share one underlying load.
func (m *Manifest) Load(ctx context.Context) error {
	return m.loader.Load(ctx)
}

// Save persists the current DateSet. Concurrent callers coalesce into at most
// two underlying writes.
func (m *Manifest) Save(ctx context.Context) error {
	return m.saver.Save(ctx)
}

// Invalidate clears the freshness flag so the next read reloads.
func (m *Manifest) Invalidate() {
	m.fresh.invalidate()
}

// Dates returns a copy of the current in-memory date sequence.
func (m *Manifest) Dates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Dates()
}

// Metrics exposes the instance's counters.
func (m *Manifest) Metrics() *IndexMetrics {
	return m.metrics
}

func (m *Manifest) applyDates(dates []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Merge(dates)
}

// reconcileSnapshot persists the set after a listing rebuild changed it, so
// the durable snapshot catches up with the freshly discovered keys. It runs
// in the background; the triggering load does not wait on the write.
func (m *Manifest) reconcileSnapshot() {
	go func() {
		if err := m.saver.Save(context.Background()); err != nil {
			m.logger.Warn("snapshot reconcile failed", "error", err)
		}
	}()
}

// writeSnapshot is the saveCoordinator's write function. It captures the
// DateSet at write time (not at Save time) and guards the put with the write
// lease, retrying bounded times on lease conflicts.
func (m *Manifest) writeSnapshot(ctx context.Context) error {
	return runWithLeaseRetry(ctx, m.maxSaveRetries, m.retryObserver, func() error {
		lease, err := m.lease.Acquire(ctx, m.leaseName, m.leaseTTL)
		if err != nil {
			return err
		}
		defer func() {
			_ = m.lease.Release(context.Background(), lease)
		}()

		m.mu.Lock()
		doc := SnapshotDocument{Dates: m.set.Dates()}
		m.mu.Unlock()

		return m.snapshots.Put(ctx, &doc)
	})
}
