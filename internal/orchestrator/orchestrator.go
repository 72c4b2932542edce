package orchestrator

//go:generate mockgen -source=orchestrator.go -destination=./mocks/mock_orchestrator.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	cfgpkg "dash0.com/window-drain-backend/internal/config"
	"dash0.com/window-drain-backend/internal/drain"
	"dash0.com/window-drain-backend/internal/feed"
	"dash0.com/window-drain-backend/internal/ingest"
	"dash0.com/window-drain-backend/internal/sink"
	"dash0.com/window-drain-backend/internal/status"
	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/uploader"
)

const instrumentationName = "dash0.com/window-drain-backend"

// Orchestrator is what feed adapters need: a non-blocking append and metrics.
type Orchestrator interface {
	feed.Appender
	IncrMetric(ctx context.Context, mt MetricType, n int64)
}

// Controller is the control surface over a running instance.
type Controller interface {
	Orchestrator
	StartProcessing(ctx context.Context)
	StopProcessing(ctx context.Context) error
	Status() status.Status
	Subscribe() (<-chan status.Status, func())
	ListWindows(ctx context.Context) ([]WindowInfo, error)
	GetWindow(ctx context.Context, key string) (store.Window, bool, error)
	DeleteWindow(ctx context.Context, key string) error
	Rate() float64
}

// WindowInfo summarizes one pending window.
type WindowInfo struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
}

// orchestratorSvc holds all instance-scoped dependencies and metrics.
type orchestratorSvc struct {
	Cfg    cfgpkg.Config
	Logger *slog.Logger
	Tracer oteltrace.Tracer
	Meter  otelmetric.Meter

	// Metrics
	RecordsReceived otelmetric.Int64Counter
	RecordsFlushed  otelmetric.Int64Counter
	WindowsDrained  otelmetric.Int64Counter
	UploadsRejected otelmetric.Int64Counter
	TicksDropped    otelmetric.Int64Counter
	StoreErrors     otelmetric.Int64Counter

	Store     store.Store
	Buffer    *ingest.Buffer
	Reporter  *status.Reporter
	Scheduler *drain.Scheduler

	outSink sink.Sink

	mu         sync.Mutex
	bufCancel  context.CancelFunc
	startTimer *time.Timer
	// set by StopProcessing; a pending auto start no longer fires
	disarmed bool
	closed   bool
}

var _ Controller = (*orchestratorSvc)(nil)

// Option customizes New.
type Option func(*orchestratorSvc) error

// WithSink overrides the sink chosen from the config (useful for tests).
func WithSink(s sink.Sink) Option {
	return func(svc *orchestratorSvc) error { svc.outSink = s; return nil }
}

// WithStore sets the window store. The orchestrator closes it on Close.
func WithStore(s store.Store) Option {
	return func(svc *orchestratorSvc) error { svc.Store = s; return nil }
}

// New constructs an instance with its own buffer, scheduler and instruments.
// Without WithStore windows live in memory; without WithSink uploads go to
// cfg.SinkURL, or to stdout when that is empty.
func New(cfg cfgpkg.Config, logger *slog.Logger, opts ...Option) (*orchestratorSvc, error) {
	s := &orchestratorSvc{
		Cfg:    cfg,
		Logger: logger,
		Tracer: otel.Tracer(instrumentationName),
		Meter:  otel.Meter(instrumentationName),
	}

	counters := []struct {
		dst  *otelmetric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&s.RecordsReceived, "com.dash0.windowdrain.records.received", "The number of records appended to the ingest buffer", "{record}"},
		{&s.RecordsFlushed, "com.dash0.windowdrain.records.flushed", "The number of records merged into the window store", "{record}"},
		{&s.WindowsDrained, "com.dash0.windowdrain.windows.drained", "The number of windows uploaded and retired", "{window}"},
		{&s.UploadsRejected, "com.dash0.windowdrain.uploads.rejected", "The number of uploads the sink did not accept", "{upload}"},
		{&s.TicksDropped, "com.dash0.windowdrain.drain.ticks.dropped", "Drain ticks skipped because a cycle was in flight", "{tick}"},
		{&s.StoreErrors, "com.dash0.windowdrain.store.errors", "Failed window store operations", "{error}"},
	}

	for _, c := range counters {
		ctr, err := s.Meter.Int64Counter(c.name, otelmetric.WithDescription(c.desc), otelmetric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}

		*c.dst = ctr
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.Store == nil {
		s.Store = store.NewMemory()
	}

	if s.outSink == nil {
		if cfg.SinkURL != "" {
			s.outSink = sink.NewHTTPSink(cfg.SinkURL, cfg.UploadTimeout)
		} else {
			s.outSink = sink.NewStdoutJSON()
		}
	}

	s.Buffer = ingest.New(cfg.FlushInterval, s.Store, logger, cfg.RateWindow)
	s.Buffer.SetMetricsCallbacks(
		func(n int64) { s.IncrMetric(context.Background(), MetricRecordsFlushed, n) },
		func(n int64) { s.IncrMetric(context.Background(), MetricStoreErrors, n) },
	)

	s.Reporter = status.NewReporter()
	s.Scheduler = drain.New(s.Store, uploader.New(s.outSink, cfg.UploadDelay, logger), s.Reporter, cfg.DrainInterval, logger)
	s.Scheduler.SetMetrics(drain.Metrics{
		WindowsDrained:  func(n int64) { s.IncrMetric(context.Background(), MetricWindowsDrained, n) },
		UploadsRejected: func(n int64) { s.IncrMetric(context.Background(), MetricUploadsRejected, n) },
		TicksDropped:    func(n int64) { s.IncrMetric(context.Background(), MetricTicksDropped, n) },
		StoreErrors:     func(n int64) { s.IncrMetric(context.Background(), MetricStoreErrors, n) },
	})

	return s, nil
}

// Start starts the flush loop and, with AutoStart, arms the drain scheduler
// to start after StartDelay. It is safe to call more than once.
func (s *orchestratorSvc) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.bufCancel != nil {
		return
	}

	ctx, span := s.Tracer.Start(ctx, "orchestrator.Start")
	defer span.End()

	s.Logger.DebugContext(ctx, "orchestrator.Start: begin")

	bufCtx, cancel := context.WithCancel(ctx)
	s.bufCancel = cancel
	s.Buffer.Start(bufCtx)

	if s.Cfg.AutoStart {
		// the timer outlives this call; keep values, drop the span's cancellation
		startCtx := context.WithoutCancel(ctx)
		s.startTimer = time.AfterFunc(s.Cfg.StartDelay, func() { s.autoStart(startCtx) })
		span.SetAttributes(attribute.String("drain.start_delay", s.Cfg.StartDelay.String()))
	}

	s.Logger.DebugContext(ctx, "orchestrator.Start: end", slog.Bool("auto_start", s.Cfg.AutoStart))
}

// Close stops the drain scheduler, runs a final flush and closes the store.
// Records still buffered when the final flush fails are lost. Close is idempotent.
func (s *orchestratorSvc) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	ctx, span := s.Tracer.Start(ctx, "orchestrator.Close")
	defer span.End()

	s.Logger.DebugContext(ctx, "orchestrator.Close: begin")

	if s.startTimer != nil {
		s.startTimer.Stop()
	}

	var err error

	if stopErr := s.Scheduler.Stop(ctx); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("stop drain scheduler: %w", stopErr))
	}

	if s.bufCancel != nil {
		s.bufCancel()
		s.Buffer.Stop(ctx)
	} else if _, _, flushErr := s.Buffer.Flush(ctx); flushErr != nil {
		err = errors.Join(err, flushErr)
	}

	if closeErr := s.Store.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close store: %w", closeErr))
	}

	s.Logger.DebugContext(ctx, "orchestrator.Close: end", slog.Int("unflushed", s.Buffer.Len()))

	return err
}

// Append hands one record to the ingest buffer.
func (s *orchestratorSvc) Append(rec store.Record, arrival time.Time) {
	s.Buffer.Append(rec, arrival)
}

// StartProcessing starts the drain scheduler; a running scheduler is left
// alone and a closed instance ignores the call. ctx only scopes the call.
func (s *orchestratorSvc) StartProcessing(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.startLocked(ctx)
}

// autoStart is the delayed start armed by Start. A StopProcessing that lands
// while the timer callback is already running wins over it.
func (s *orchestratorSvc) autoStart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.disarmed {
		s.Logger.DebugContext(ctx, "orchestrator.autoStart: skipped", slog.Bool("closed", s.closed))
		return
	}

	s.startLocked(ctx)
}

// startLocked starts the scheduler; s.mu must be held.
func (s *orchestratorSvc) startLocked(ctx context.Context) {
	ctx, span := s.Tracer.Start(ctx, "orchestrator.StartProcessing")
	defer span.End()

	s.Logger.DebugContext(ctx, "orchestrator.StartProcessing: begin", slog.Bool("running", s.Scheduler.Running()))
	// runs until StopProcessing or Close, not until ctx ends
	s.Scheduler.Start(context.WithoutCancel(ctx))
	s.Logger.DebugContext(ctx, "orchestrator.StartProcessing: end")
}

// StopProcessing stops the drain scheduler and waits for an in-flight cycle.
func (s *orchestratorSvc) StopProcessing(ctx context.Context) error {
	ctx, span := s.Tracer.Start(ctx, "orchestrator.StopProcessing")
	defer span.End()

	s.Logger.DebugContext(ctx, "orchestrator.StopProcessing: begin")

	s.mu.Lock()
	s.disarmed = true
	if s.startTimer != nil {
		s.startTimer.Stop()
	}
	s.mu.Unlock()

	err := s.Scheduler.Stop(ctx)
	if err != nil {
		span.RecordError(err)
	}

	s.Logger.DebugContext(ctx, "orchestrator.StopProcessing: end")

	return err
}

// Status returns the last published status.
func (s *orchestratorSvc) Status() status.Status { return s.Reporter.Snapshot() }

// Subscribe follows published statuses; see status.Reporter.Subscribe.
func (s *orchestratorSvc) Subscribe() (<-chan status.Status, func()) { return s.Reporter.Subscribe() }

// Rate returns arrivals per second over the configured rate window.
func (s *orchestratorSvc) Rate() float64 { return s.Buffer.Rate() }

// ListWindows returns every pending window, oldest first, with its record count.
func (s *orchestratorSvc) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	ctx, span := s.Tracer.Start(ctx, "orchestrator.ListWindows")
	defer span.End()

	keys, err := s.Store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	out := make([]WindowInfo, 0, len(keys))

	for _, k := range keys {
		w, ok, err := s.Store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("get window %s: %w", k, err)
		}
		// drained between ListKeys and Get
		if !ok {
			continue
		}

		out = append(out, WindowInfo{Key: k, Records: w.Len()})
	}

	span.SetAttributes(attribute.Int("windows", len(out)))

	return out, nil
}

// GetWindow returns one pending window.
func (s *orchestratorSvc) GetWindow(ctx context.Context, key string) (store.Window, bool, error) {
	return s.Store.Get(ctx, key)
}

// DeleteWindow discards one pending window without uploading it.
func (s *orchestratorSvc) DeleteWindow(ctx context.Context, key string) error {
	ctx, span := s.Tracer.Start(ctx, "orchestrator.DeleteWindow")
	defer span.End()

	span.SetAttributes(attribute.String("window.key", key))
	s.Logger.InfoContext(ctx, "deleting window", slog.String("key", key))

	return s.Store.Delete(ctx, key)
}

// MetricType enumerates orchestrator metric counters.
type MetricType int

const (
	MetricRecordsReceived MetricType = iota
	MetricRecordsFlushed
	MetricWindowsDrained
	MetricUploadsRejected
	MetricTicksDropped
	MetricStoreErrors
)

// IncrMetric increments the selected metric by n (if n > 0).
func (s *orchestratorSvc) IncrMetric(ctx context.Context, mt MetricType, n int64) {
	if n <= 0 {
		return
	}

	switch mt {
	case MetricRecordsReceived:
		s.RecordsReceived.Add(ctx, n)
	case MetricRecordsFlushed:
		s.RecordsFlushed.Add(ctx, n)
	case MetricWindowsDrained:
		s.WindowsDrained.Add(ctx, n)
	case MetricUploadsRejected:
		s.UploadsRejected.Add(ctx, n)
	case MetricTicksDropped:
		s.TicksDropped.Add(ctx, n)
	case MetricStoreErrors:
		s.StoreErrors.Add(ctx, n)
	}
}
