// saver.go serializes snapshot writes.
//
// At most one write runs against the remote store at a time. Callers that
// arrive while a write is in flight coalesce onto a single pending follow-up
// cycle: when the in-flight write finishes, exactly one more write runs,
// capturing whatever the DateSet looks like at that moment. A burst of N
// concurrent Save calls therefore costs at most two underlying writes, and
// the last write reflects the latest state.

package collection

import (
	"context"
	"log/slog"
	"sync"
)

// saveHandle is a shared future for one save cycle. Every caller awaiting
// that cycle observes the same error; err is written once before done closes.
type saveHandle struct {
	done chan struct{}
	err  error
}

type saveCoordinator struct {
	// write serializes the current DateSet and puts it to the store. It must
	// capture the set at call time, not at Save time.
	write func(ctx context.Context) error

	metrics *IndexMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	inflight *saveHandle
	pending  *saveHandle
}

// Save persists the current DateSet. If a save is already in flight the
// caller attaches to the pending follow-up cycle instead of starting a
// concurrent write. A failed cycle reports its error to every caller awaiting
// it and leaves the coordinator ready for a fresh attempt.
func (s *saveCoordinator) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == nil {
		h := &saveHandle{done: make(chan struct{})}
		s.inflight = h
		s.mu.Unlock()
		go s.run(h)
		return awaitSave(ctx, h)
	}
	if s.pending == nil {
		s.pending = &saveHandle{done: make(chan struct{})}
	}
	h := s.pending
	s.metrics.recordSaveCoalesced()
	s.mu.Unlock()
	return awaitSave(ctx, h)
}

func awaitSave(ctx context.Context, h *saveHandle) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *saveCoordinator) run(h *saveHandle) {
	for {
		// background ctx: an issued write runs to completion even if every
		// caller has stopped waiting
		err := s.write(context.Background())
		if err != nil {
			s.metrics.recordSaveFailure()
			s.logger.Warn("snapshot save failed", "error", err)
		} else {
			s.metrics.recordSave()
		}
		h.err = err

		s.mu.Lock()
		next := s.pending
		s.pending = nil
		s.inflight = next
		s.mu.Unlock()

		close(h.done)
		if next == nil {
			return
		}
		h = next
	}
}
