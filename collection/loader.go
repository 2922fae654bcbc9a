// loader.go implements the dual-source load protocol.
//
// Two reconstruction strategies race: the snapshot path trusts the durable
// blob, the rebuild path re-derives the set by listing the key namespace.
// The snapshot path gets a head start (the rebuild path sleeps through a
// fixed grace delay before touching the store), and whichever path applies
// its merge first wins a single-assignment latch; the loser's fetch may still
// complete but its result is discarded. Per-path failures are swallowed: the
// load as a whole fails only when both paths fail with nothing applied.
//
// Concurrent Load callers share one in-flight operation through a common
// handle, so a thundering herd of readers costs one snapshot fetch and at
// most one listing.

package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// defaultRebuildGraceDelay is the head start the snapshot path gets before
// the rebuild path lists the key namespace.
const defaultRebuildGraceDelay = 1000 * time.Millisecond

// loadHandle is a shared future for one in-flight load. All concurrent
// callers await the same handle; err is written once before done is closed.
type loadHandle struct {
	done chan struct{}
	err  error
}

// loadPathResult reports one reconstruction path's outcome. applied means the
// path won the latch and committed its merge; err is the path's own failure.
type loadPathResult struct {
	source  string
	applied bool
	err     error
}

// loadCoordinator orchestrates the two competing reconstruction strategies
// and deduplicates concurrent load requests into one in-flight operation.
type loadCoordinator struct {
	snapshots  SnapshotStore
	blobs      BlobStore
	viewPrefix string
	grace      time.Duration

	// apply merges a path's result into the owning Manifest's DateSet and
	// reports whether the set changed.
	apply func(dates []string) bool

	// onRebuildChanged fires when the listing rebuild won the race and its
	// merge changed the set, so the durable snapshot can be reconciled.
	onRebuildChanged func()

	fresh   *freshnessCache
	metrics *IndexMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	inflight *loadHandle
}

// Load ensures the in-memory set has been reconstructed and is fresh. While
// the freshness flag holds, it returns immediately with zero remote calls.
// If a load is already running the caller attaches to it rather than starting
// a second one. The caller's ctx only bounds its own wait; the underlying
// remote operations run to completion regardless.
func (l *loadCoordinator) Load(ctx context.Context) error {
	if l.fresh.isFresh() {
		l.metrics.recordFreshnessHit()
		return nil
	}

	l.mu.Lock()
	if h := l.inflight; h != nil {
		l.mu.Unlock()
		return awaitLoad(ctx, h)
	}
	h := &loadHandle{done: make(chan struct{})}
	l.inflight = h
	l.mu.Unlock()

	go l.run(h)
	return awaitLoad(ctx, h)
}

func awaitLoad(ctx context.Context, h *loadHandle) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one load. The handle completes as soon as either path commits a
// merge, so callers are not held hostage by the slower path. The verdict
// "both paths failed" is only reached after both have reported.
func (l *loadCoordinator) run(h *loadHandle) {
	// Issued remote calls are never cancelled; only the result latch decides
	// what gets applied.
	ctx := context.Background()

	var won atomic.Bool // single-assignment winner slot

	var finishOnce sync.Once
	finish := func(err error) {
		finishOnce.Do(func() {
			h.err = err
			if err != nil {
				l.metrics.recordLoadFailure()
			} else {
				l.fresh.markFresh()
				l.metrics.recordLoad()
			}
			l.mu.Lock()
			if l.inflight == h {
				l.inflight = nil
			}
			l.mu.Unlock()
			close(h.done)
		})
	}

	results := make(chan loadPathResult, 2)
	go func() { results <- l.runSnapshotPath(ctx, &won) }()
	go func() { results <- l.runRebuildPath(ctx, &won) }()

	var pathErrs []error
	for i := 0; i < 2; i++ {
		r := <-results
		if r.applied {
			// winner committed; unblock callers while the loser drains
			finish(nil)
			continue
		}
		if r.err != nil {
			l.logger.WarnContext(ctx, "load path failed", "source", r.source, "error", r.err)
			pathErrs = append(pathErrs, r.err)
		}
	}

	if len(pathErrs) == 2 {
		// leave the freshness flag unset so the next call retries
		finish(fmt.Errorf("%w: %v", ErrLoadFailed, errors.Join(pathErrs...)))
		return
	}
	finish(nil)
}

// runSnapshotPath fetches the durable blob and merges it, unless the rebuild
// path has already committed.
func (l *loadCoordinator) runSnapshotPath(ctx context.Context, won *atomic.Bool) loadPathResult {
	res := loadPathResult{source: "snapshot"}

	doc, err := l.snapshots.Get(ctx)
	if err != nil {
		res.err = err
		return res
	}
	if !won.CompareAndSwap(false, true) {
		// the rebuild committed first; this result is a discarded duplicate
		return res
	}
	l.apply(doc.Dates)
	res.applied = true
	l.metrics.recordSnapshotWin()
	return res
}

// runRebuildPath lists the key namespace after the grace delay and merges the
// dates extracted from trailing path segments. It self-gates twice: on the
// grace delay, and on the winner latch before applying.
func (l *loadCoordinator) runRebuildPath(ctx context.Context, won *atomic.Bool) loadPathResult {
	res := loadPathResult{source: "rebuild"}

	if err := sleepWithContext(ctx, l.graceDelay()); err != nil {
		res.err = err
		return res
	}
	if won.Load() {
		return res // snapshot committed during the grace window
	}

	items, err := l.blobs.List(ctx, l.viewPrefix)
	if err != nil {
		res.err = err
		return res
	}

	dates := make([]string, 0, len(items))
	for _, item := range items {
		if d, ok := DateFromKey(item.Key); ok {
			dates = append(dates, d)
		}
	}

	if !won.CompareAndSwap(false, true) {
		return res
	}
	changed := l.apply(dates)
	res.applied = true
	l.metrics.recordRebuildWin()

	if changed && l.onRebuildChanged != nil {
		// the durable snapshot disagrees with the listing; reconcile it
		l.onRebuildChanged()
	}
	return res
}

func (l *loadCoordinator) graceDelay() time.Duration {
	if l.grace > 0 {
		return l.grace
	}
	return defaultRebuildGraceDelay
}
