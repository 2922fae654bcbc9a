package collection

import (
	"context"
	"errors"
	"time"
)

// SaveRetryStats tracks retry behavior for snapshot saves.
type SaveRetryStats struct {
	Attempts        int
	ConflictCount   int
	TotalRetryDelay time.Duration
	Success         bool
}

// SaveRetryObserver is notified when a save cycle finishes its retry loop.
type SaveRetryObserver interface {
	ObserveSaveRetry(stats SaveRetryStats)
}

// SaveRetryObserverFunc is an adapter to allow ordinary functions
// to be used as SaveRetryObserver.
type SaveRetryObserverFunc func(stats SaveRetryStats)

// ObserveSaveRetry calls f(stats).
func (f SaveRetryObserverFunc) ObserveSaveRetry(stats SaveRetryStats) {
	if f != nil {
		f(stats)
	}
}

// runWithLeaseRetry runs op, retrying on ErrWriteLeaseConflict with quadratic
// backoff up to maxRetries times. Other errors return immediately.
func runWithLeaseRetry(ctx context.Context, maxRetries int, observer SaveRetryObserver, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	stats := SaveRetryStats{}
	for {
		stats.Attempts++
		err := op()
		if err == nil {
			stats.Success = true
			notifySaveRetryObserver(observer, stats)
			return nil
		}
		if !errors.Is(err, ErrWriteLeaseConflict) {
			notifySaveRetryObserver(observer, stats)
			return err
		}

		stats.ConflictCount++
		if stats.ConflictCount > maxRetries {
			notifySaveRetryObserver(observer, stats)
			return err
		}

		attempt := stats.ConflictCount

		backoff := time.Duration(attempt*attempt) * 10 * time.Millisecond
		if backoff <= 0 {
			backoff = 10 * time.Millisecond
		}
		stats.TotalRetryDelay += backoff

		if err := sleepWithContext(ctx, backoff); err != nil {
			notifySaveRetryObserver(observer, stats)
			return err
		}
	}
}

func notifySaveRetryObserver(observer SaveRetryObserver, stats SaveRetryStats) {
	if observer == nil {
		return
	}
	observer.ObserveSaveRetry(stats)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
