package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	cfgpkg "dash0.com/window-drain-backend/internal/config"
	"dash0.com/window-drain-backend/internal/sink"
	"dash0.com/window-drain-backend/internal/sink/mocks"
	"dash0.com/window-drain-backend/internal/status"
	"dash0.com/window-drain-backend/internal/store"
)

func testConfig() cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.UploadDelay = 0
	cfg.AutoStart = false
	cfg.StartDelay = 0

	return cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_Defaults(t *testing.T) {
	s, err := New(testConfig(), discard())
	require.NoError(t, err)
	require.NotNil(t, s.Buffer)
	require.NotNil(t, s.Scheduler)
	require.IsType(t, &store.Memory{}, s.Store)
	require.IsType(t, &sink.JSONSink{}, s.outSink)
	require.Equal(t, status.StateStopped, s.Status().State)

	cfg := testConfig()
	cfg.SinkURL = "http://localhost:3000/api/upload"

	s, err = New(cfg, discard())
	require.NoError(t, err)
	require.IsType(t, &sink.HTTPSink{}, s.outSink)
}

func TestStartClose_Idempotent(t *testing.T) {
	s, err := New(testConfig(), discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	// Idempotent start
	s.Start(ctx)
	require.NoError(t, s.Close(context.Background()))
	// Idempotent close
	require.NoError(t, s.Close(context.Background()))

	// A closed instance does not start draining.
	s.StartProcessing(context.Background())
	require.False(t, s.Scheduler.Running())
}

func TestPipeline_AppendFlushDrain(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockSink(ctrl)

	uploaded := make(chan sink.Blob, 1)

	ms.EXPECT().Upload(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, b sink.Blob) (sink.Response, error) {
			uploaded <- b
			return sink.Response{StatusCode: 200, Body: json.RawMessage(`{"success":true}`)}, nil
		},
	).Times(1)

	s, err := New(testConfig(), discard(), WithSink(ms))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)

	now := time.Now()
	for i := 0; i < 3; i++ {
		s.Append(store.Record(`{"n":1}`), now)
	}

	require.Eventually(t, func() bool {
		keys, err := s.Store.ListKeys(ctx)
		return err == nil && len(keys) == 1
	}, time.Second, 5*time.Millisecond)

	s.StartProcessing(ctx)

	var b sink.Blob
	select {
	case b = <-uploaded:
	case <-time.After(2 * time.Second):
		t.Fatal("window was never uploaded")
	}

	require.Equal(t, 3, b.Records)
	require.JSONEq(t, `[{"n":1},{"n":1},{"n":1}]`, string(b.Body))

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.ProcessedKeys == 1 && st.ProcessedItems == 3 && st.TotalKeys == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.StopProcessing(context.Background()))
	require.Equal(t, status.StateStopped, s.Status().State)
	require.NoError(t, s.Close(context.Background()))
}

func TestAutoStart_AfterDelay(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStart = true
	cfg.StartDelay = 20 * time.Millisecond

	s, err := New(cfg, discard())
	require.NoError(t, err)

	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.False(t, s.Scheduler.Running())
	require.Eventually(t, s.Scheduler.Running, time.Second, 5*time.Millisecond)
}

func TestStopProcessing_DisarmsAutoStart(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStart = true
	cfg.StartDelay = 50 * time.Millisecond

	s, err := New(cfg, discard())
	require.NoError(t, err)

	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.NoError(t, s.StopProcessing(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.False(t, s.Scheduler.Running())
}

func TestStopProcessing_WinsOverInFlightAutoStart(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStart = true
	cfg.StartDelay = time.Hour

	s, err := New(cfg, discard())
	require.NoError(t, err)

	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	require.NoError(t, s.StopProcessing(context.Background()))

	// The timer callback may already be running when Stop cancels the timer.
	s.autoStart(context.Background())
	require.False(t, s.Scheduler.Running())

	// An explicit start still works.
	s.StartProcessing(context.Background())
	require.True(t, s.Scheduler.Running())
}

func TestWindows_ListGetDelete(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Merge(ctx, "2024-01-01-00-00-30", []store.Record{store.Record(`1`)}))
	require.NoError(t, mem.Merge(ctx, "2024-01-01-00-00-00", []store.Record{store.Record(`1`), store.Record(`2`)}))

	s, err := New(testConfig(), discard(), WithStore(mem))
	require.NoError(t, err)

	ws, err := s.ListWindows(ctx)
	require.NoError(t, err)
	require.Equal(t, []WindowInfo{
		{Key: "2024-01-01-00-00-00", Records: 2},
		{Key: "2024-01-01-00-00-30", Records: 1},
	}, ws)

	w, ok, err := s.GetWindow(ctx, "2024-01-01-00-00-30")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, w.Len())

	require.NoError(t, s.DeleteWindow(ctx, "2024-01-01-00-00-30"))
	require.NoError(t, s.DeleteWindow(ctx, "2024-01-01-00-00-30"))

	_, ok, err = s.GetWindow(ctx, "2024-01-01-00-00-30")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Close(ctx))

	_, err = mem.ListKeys(ctx)
	require.ErrorIs(t, err, store.ErrClosed)
}

func TestClose_FlushesBufferedRecords(t *testing.T) {
	mem := store.NewMemory()

	cfg := testConfig()
	cfg.FlushInterval = time.Hour

	s, err := New(cfg, discard(), WithStore(&keepOpen{Store: mem}))
	require.NoError(t, err)

	s.Start(context.Background())
	s.Append(store.Record(`{"late":true}`), time.Now())
	require.NoError(t, s.Close(context.Background()))

	keys, err := mem.ListKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestIncrMetric_IgnoresNonPositive(t *testing.T) {
	s, err := New(testConfig(), discard())
	require.NoError(t, err)

	for _, mt := range []MetricType{
		MetricRecordsReceived, MetricRecordsFlushed, MetricWindowsDrained,
		MetricUploadsRejected, MetricTicksDropped, MetricStoreErrors,
	} {
		s.IncrMetric(context.Background(), mt, 0)
		s.IncrMetric(context.Background(), mt, 1)
	}
}

// keepOpen lets a test inspect a store after the orchestrator closed it.
type keepOpen struct{ store.Store }

func (keepOpen) Close() error { return nil }
