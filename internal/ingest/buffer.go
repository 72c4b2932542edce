package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/windowkey"
)

// Buffer accumulates records in memory and periodically merges them into a
// store under the window key of the flush moment. Every record accumulated
// during one flush period lands in the same window, even when its arrival
// time belongs to the previous bucket.
type Buffer struct {
	mu      sync.Mutex
	pending []store.Record

	// serializes Flush so a retried batch keeps its place in front
	flushMu sync.Mutex

	store    store.Store
	interval time.Duration
	logger   *slog.Logger
	rate     *RateMeter

	nowFn func() time.Time

	appended atomic.Uint64
	flushed  atomic.Uint64

	started atomic.Bool
	done    chan struct{}

	// Optional metric callbacks provided by the owner (e.g., orchestrator).
	incrFlushed     func(int64)
	incrStoreErrors func(int64)
}

// New returns a Buffer flushing into s every interval. rateWindow is the
// trailing period used by Rate.
func New(interval time.Duration, s store.Store, logger *slog.Logger, rateWindow time.Duration) *Buffer {
	return &Buffer{
		store:    s,
		interval: interval,
		logger:   logger,
		rate:     NewRateMeter(rateWindow),
		nowFn:    time.Now,
		done:     make(chan struct{}),
	}
}

// SetMetricsCallbacks installs optional callbacks for metrics updates.
// If not provided, metrics are not recorded by the buffer.
func (b *Buffer) SetMetricsCallbacks(incrFlushed, incrStoreErrors func(int64)) {
	b.incrFlushed = incrFlushed
	b.incrStoreErrors = incrStoreErrors
}

// Append adds one record. It never blocks on I/O and never fails.
func (b *Buffer) Append(rec store.Record, arrival time.Time) {
	b.mu.Lock()
	b.pending = append(b.pending, rec)
	b.mu.Unlock()

	b.appended.Add(1)
	b.rate.Observe(arrival)
}

// Flush moves everything accumulated so far into the store. It returns the
// key written and the number of records moved; an empty buffer is a no-op.
// On a store error the batch is kept for the next flush.
func (b *Buffer) Flush(ctx context.Context) (string, int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return "", 0, nil
	}

	key := windowkey.KeyFor(b.nowFn())

	if err := b.store.Merge(ctx, key, batch); err != nil {
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()

		b.logger.Error(
			"failed to flush buffer",
			slog.String("err", err.Error()),
			slog.String("key", key),
			slog.Int("records", len(batch)),
		)

		if b.incrStoreErrors != nil {
			b.incrStoreErrors(1)
		}

		return key, 0, fmt.Errorf("flush %d records to %s: %w", len(batch), key, err)
	}

	b.flushed.Add(uint64(len(batch)))

	if b.incrFlushed != nil {
		b.incrFlushed(int64(len(batch)))
	}

	b.logger.Debug("flushed buffer", slog.String("key", key), slog.Int("records", len(batch)))

	return key, len(batch), nil
}

// Start begins the periodic flush loop. Cancelling ctx runs one final flush
// and ends the loop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(b.done)

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// the loop context is gone; give the last flush its own
				_, _, _ = b.Flush(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				_, _, _ = b.Flush(ctx)
			}
		}
	}()
}

// Stop waits for the flush loop to finish; the caller cancels the context passed to Start.
func (b *Buffer) Stop(ctx context.Context) {
	if !b.started.Load() {
		return
	}

	select {
	case <-b.done:
	case <-ctx.Done():
	}
}

// Len returns the number of records waiting for the next flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// Appended returns how many records were ever appended.
func (b *Buffer) Appended() uint64 { return b.appended.Load() }

// Flushed returns how many records were merged into the store.
func (b *Buffer) Flushed() uint64 { return b.flushed.Load() }

// Rate returns arrivals per second over the trailing rate window.
func (b *Buffer) Rate() float64 { return b.rate.Rate(b.nowFn()) }
