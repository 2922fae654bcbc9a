package collection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSaveCoordinator(write func(ctx context.Context) error) *saveCoordinator {
	return &saveCoordinator{
		write:   write,
		metrics: NewIndexMetrics(),
		logger:  slog.Default(),
	}
}

func TestSaveCoordinatorSingleWrite(t *testing.T) {
	var writes atomic.Int64
	s := newTestSaveCoordinator(func(ctx context.Context) error {
		writes.Add(1)
		return nil
	})

	require.NoError(t, s.Save(context.Background()))
	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, int64(2), writes.Load(), "sequential saves each write")
}

func TestSaveCoordinatorCoalescesBurst(t *testing.T) {
	const burst = 16

	gate := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	var writes atomic.Int64

	s := newTestSaveCoordinator(func(ctx context.Context) error {
		n := writes.Add(1)
		if n == 1 {
			startOnce.Do(func() { close(started) })
			<-gate // hold the first write in flight
		}
		return nil
	})

	first := make(chan error, 1)
	go func() { first <- s.Save(context.Background()) }()
	<-started

	// burst of callers while the first write is in flight
	var wg sync.WaitGroup
	errs := make(chan error, burst)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(context.Background())
		}()
	}

	// every joiner must be attached to the pending cycle before we release,
	// otherwise a late caller could legitimately start a third write
	require.Eventually(t, func() bool {
		return s.metrics.Snapshot().SavesCoalescedTotal == burst
	}, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()
	require.NoError(t, <-first)
	for i := 0; i < burst; i++ {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, int64(2), writes.Load(), "a burst costs at most two writes")
}

func TestSaveCoordinatorFailurePropagatesAndResets(t *testing.T) {
	boom := errors.New("put failed")
	var fail atomic.Bool
	fail.Store(true)
	var writes atomic.Int64

	s := newTestSaveCoordinator(func(ctx context.Context) error {
		writes.Add(1)
		if fail.Load() {
			return boom
		}
		return nil
	})

	err := s.Save(context.Background())
	require.ErrorIs(t, err, boom)

	// a failed cycle leaves the coordinator ready for a fresh attempt
	fail.Store(false)
	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, int64(2), writes.Load())
}

func TestSaveCoordinatorCallerCtxDoesNotAbortWrite(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var writes atomic.Int64

	s := newTestSaveCoordinator(func(ctx context.Context) error {
		writes.Add(1)
		close(started)
		<-gate
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Save(ctx) }()
	<-started

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled, "caller stops waiting")

	close(gate)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.inflight == nil
	}, time.Second, time.Millisecond, "write still runs to completion")
	assert.Equal(t, int64(1), writes.Load())
}
