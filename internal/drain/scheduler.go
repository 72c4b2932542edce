// Package drain runs the background loop that uploads and retires the oldest
// pending window on a fixed period.
package drain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"dash0.com/window-drain-backend/internal/status"
	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/uploader"
)

const instrumentationName = "dash0.com/window-drain-backend/internal/drain"

// Uploader sends one window to the remote sink.
type Uploader interface {
	Send(ctx context.Context, w store.Window) uploader.Outcome
}

// Metrics holds optional counters the owner wants updated.
type Metrics struct {
	WindowsDrained  func(int64)
	UploadsRejected func(int64)
	TicksDropped    func(int64)
	StoreErrors     func(int64)
}

// Scheduler drains windows one at a time. It starts Stopped.
type Scheduler struct {
	store    store.Store
	uploader Uploader
	status   *status.Reporter
	interval time.Duration
	logger   *slog.Logger
	tracer   oteltrace.Tracer
	metrics  Metrics

	nowFn func() time.Time

	// lifeMu serializes Start and Stop.
	lifeMu   sync.Mutex
	running  atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	inFlight atomic.Bool
	cycles   sync.WaitGroup

	// Owned by the single in-flight cycle: a window whose upload finished but
	// whose retire failed, retried before anything else is read.
	unretired *store.Window
	outcome   *uploader.Outcome
}

// New returns a stopped Scheduler ticking every interval once started.
func New(s store.Store, up Uploader, rep *status.Reporter, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		uploader: up,
		status:   rep,
		interval: interval,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		nowFn:    time.Now,
	}
}

// SetMetrics installs counters; unset fields are skipped.
func (s *Scheduler) SetMetrics(m Metrics) { s.metrics = m }

// State returns the current lifecycle state.
func (s *Scheduler) State() status.State {
	if s.running.Load() {
		return status.StateRunning
	}

	return status.StateStopped
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Start moves to Running and runs one cycle immediately, then one per
// interval. Starting a running scheduler is a no-op. Cycles keep ctx's values
// but are not cancelled with it; use Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.running.Load() {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running.Store(true)
	s.status.SetState(status.StateRunning)

	s.logger.Info("drain scheduler started", slog.Duration("interval", s.interval))

	go s.loop(loopCtx, context.WithoutCancel(ctx), s.loopDone)
}

// Stop cancels future ticks and waits for an in-flight cycle to complete,
// then publishes the stopped status. Stopping a stopped scheduler is a no-op.
// If ctx ends first its error is returned and the cycle finishes on its own.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.running.Load() {
		return nil
	}

	// cycles finishing from here on leave publishing to Stop
	s.running.Store(false)
	s.cancel()
	<-s.loopDone

	idle := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(idle)
	}()

	var err error

	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("drain scheduler stopped with a cycle still in flight")
	}

	s.status.SetState(status.StateStopped)
	s.status.Publish()
	s.logger.Info("drain scheduler stopped")

	return err
}

func (s *Scheduler) loop(loopCtx, cycleCtx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(cycleCtx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tick(cycleCtx)
		}
	}
}

// tick starts a cycle unless one is still running, in which case the tick is dropped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("drain tick dropped; cycle in flight")
		incr(s.metrics.TicksDropped, 1)

		return
	}

	s.cycles.Add(1)

	go func() {
		defer s.cycles.Done()
		defer s.inFlight.Store(false)

		s.cycle(ctx)
	}()
}

func (s *Scheduler) cycle(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "drain.cycle")
	defer span.End()

	defer s.publish(ctx)

	if s.unretired != nil {
		w, out := *s.unretired, s.outcome
		s.logger.InfoContext(ctx, "retrying retire of uploaded window", slog.String("key", w.Key))

		if !s.retire(ctx, w, out) {
			span.SetStatus(codes.Error, "retire retry failed")
			return
		}
	}

	w, ok, err := s.store.ReadOldest(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read oldest window", slog.String("err", err.Error()))
		incr(s.metrics.StoreErrors, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read oldest failed")

		return
	}

	if !ok {
		s.logger.DebugContext(ctx, "no windows to drain")
		return
	}

	span.SetAttributes(attribute.String("window.key", w.Key), attribute.Int("window.records", w.Len()))

	if w.Len() == 0 {
		s.logger.DebugContext(ctx, "retiring empty window", slog.String("key", w.Key))
		s.retire(ctx, w, nil)

		return
	}

	s.logger.InfoContext(ctx, "draining window", slog.String("key", w.Key), slog.Int("records", w.Len()))

	out := s.uploader.Send(ctx, w)
	s.status.ObserveLatency(out.Latency)

	span.SetAttributes(attribute.Bool("upload.accepted", out.Accepted), attribute.Int("upload.status", out.StatusCode))

	if !out.Accepted {
		s.status.RecordRejected()
		incr(s.metrics.UploadsRejected, 1)
	}

	// accepted or rejected, the window is done
	s.retire(ctx, w, &out)
}

// retire removes w from the store and, for uploaded windows, accounts for it.
// On failure w is remembered so the next cycle retries it before reading.
func (s *Scheduler) retire(ctx context.Context, w store.Window, out *uploader.Outcome) bool {
	if err := s.store.Retire(ctx, w); err != nil {
		s.logger.ErrorContext(ctx, "failed to retire window", slog.String("key", w.Key), slog.String("err", err.Error()))
		incr(s.metrics.StoreErrors, 1)

		s.unretired, s.outcome = &w, out

		return false
	}

	s.unretired, s.outcome = nil, nil

	if out == nil {
		return true
	}

	s.status.RecordProcessed(w.Len(), s.nowFn(), out.Response)
	incr(s.metrics.WindowsDrained, 1)

	return true
}

// publish refreshes the pending count and pushes the status, on every branch.
// Once Stop has begun the push is left to Stop (or the next Start), so a cycle
// outliving a timed-out Stop changes counters but emits no event.
func (s *Scheduler) publish(ctx context.Context) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list pending windows", slog.String("err", err.Error()))
	} else {
		s.status.SetPending(len(keys))
	}

	if !s.running.Load() {
		s.logger.DebugContext(ctx, "drain cycle finished after stop; not publishing")
		return
	}

	s.status.Publish()
}

func incr(fn func(int64), n int64) {
	if fn != nil {
		fn(n)
	}
}
