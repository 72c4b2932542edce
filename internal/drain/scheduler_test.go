package drain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"dash0.com/window-drain-backend/internal/status"
	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/store/mocks"
	"dash0.com/window-drain-backend/internal/uploader"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []store.Window

	accepted bool
	delay    time.Duration
	release  chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeUploader) Send(_ context.Context, w store.Window) uploader.Outcome {
	n := f.active.Add(1)
	defer f.active.Add(-1)

	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if f.release != nil {
		<-f.release
	}

	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls = append(f.calls, w)
	f.mu.Unlock()

	body, _ := json.Marshal(map[string]any{"key": w.Key, "accepted": f.accepted})
	code := 200
	if !f.accepted {
		code = 500
	}

	return uploader.Outcome{Accepted: f.accepted, StatusCode: code, Response: body, Latency: time.Millisecond}
}

func (f *fakeUploader) Calls() []store.Window {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]store.Window(nil), f.calls...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func records(n int) []store.Record {
	out := make([]store.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.Record(fmt.Sprintf(`{"i":%d}`, i)))
	}

	return out
}

func newScheduler(t *testing.T, st store.Store, up Uploader, interval time.Duration) (*Scheduler, *status.Reporter) {
	t.Helper()

	rep := status.NewReporter()
	s := New(st, up, rep, interval, discard())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	return s, rep
}

func TestScheduler_DrainsWindowRegardlessOfOutcome(t *testing.T) {
	for _, accepted := range []bool{true, false} {
		t.Run(fmt.Sprintf("accepted=%v", accepted), func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", records(3)))

			up := &fakeUploader{accepted: accepted}
			s, rep := newScheduler(t, st, up, time.Hour)

			s.Start(ctx)

			require.Eventually(t, func() bool { return rep.Snapshot().ProcessedKeys == 1 }, time.Second, 5*time.Millisecond)

			calls := up.Calls()
			require.Len(t, calls, 1)
			require.Len(t, calls[0].Records, 3)

			snap := rep.Snapshot()
			assert.EqualValues(t, 3, snap.ProcessedItems)
			assert.NotNil(t, snap.LastProcessedTimestamp)
			assert.NotNil(t, snap.LastResponse)
			assert.True(t, snap.InProgress)

			if accepted {
				assert.Zero(t, snap.Rejected)
			} else {
				assert.EqualValues(t, 1, snap.Rejected)
			}

			_, ok, err := st.ReadOldest(ctx)
			require.NoError(t, err)
			require.False(t, ok, "window must be deleted after the drain cycle")
		})
	}
}

func TestScheduler_OldestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-01-00", records(1)))
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-30", records(2)))

	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, st, up, time.Hour)

	s.Start(ctx)

	require.Eventually(t, func() bool { return rep.Snapshot().ProcessedKeys == 1 }, time.Second, 5*time.Millisecond)

	calls := up.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "2024-01-01-00-00-30", calls[0].Key)

	keys, err := st.ListKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-01-01-00-01-00"}, keys)
	require.Equal(t, 1, rep.Snapshot().TotalKeys)
}

func TestScheduler_EmptyStoreRepublishes(t *testing.T) {
	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, store.NewMemory(), up, time.Hour)

	ch, cancel := rep.Subscribe()
	defer cancel()

	before := <-ch

	s.Start(context.Background())

	var got status.Status
	require.Eventually(t, func() bool {
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, up.Calls())
	require.Equal(t, before.ProcessedKeys, got.ProcessedKeys)
	require.Equal(t, before.ProcessedItems, got.ProcessedItems)
	require.Zero(t, got.TotalKeys)
	require.Greater(t, got.Version, before.Version)
}

func TestScheduler_EmptyWindowDeletedWithoutUpload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", nil))

	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, st, up, time.Hour)

	s.Start(ctx)

	require.Eventually(t, func() bool {
		keys, _ := st.ListKeys(ctx)
		return len(keys) == 0
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, up.Calls())
	require.Zero(t, rep.Snapshot().ProcessedKeys)
}

func TestScheduler_AtMostOneCycleInFlight(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.Merge(ctx, fmt.Sprintf("2024-01-01-00-0%d-00", i), records(1)))
	}

	var dropped atomic.Int64

	up := &fakeUploader{accepted: true, delay: 20 * time.Millisecond}
	s, rep := newScheduler(t, st, up, time.Millisecond)
	s.SetMetrics(Metrics{TicksDropped: func(n int64) { dropped.Add(n) }})

	s.Start(ctx)

	require.Eventually(t, func() bool { return rep.Snapshot().ProcessedKeys == 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	assert.EqualValues(t, 1, up.maxActive.Load())
	assert.Positive(t, dropped.Load(), "ticks during an in-flight cycle are dropped")
}

func TestScheduler_NoStatusChangeAfterStop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, st, up, 2*time.Millisecond)

	s.Start(ctx)
	require.Eventually(t, func() bool { return rep.Snapshot().Version >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	stopped := rep.Snapshot()
	require.Equal(t, status.StateStopped, stopped.State)
	require.False(t, stopped.InProgress)

	// new data arrives, but nothing drains it while stopped
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", records(2)))
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, stopped, rep.Snapshot())
	require.Empty(t, up.Calls())

	s.Start(ctx)
	require.Eventually(t, func() bool { return rep.Snapshot().ProcessedKeys == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s, rep := newScheduler(t, store.NewMemory(), &fakeUploader{accepted: true}, time.Hour)

	require.Equal(t, status.StateStopped, s.State())
	require.NoError(t, s.Stop(context.Background()))
	require.Zero(t, rep.Snapshot().Version, "stop while stopped publishes nothing")

	s.Start(context.Background())
	s.Start(context.Background())
	require.True(t, s.Running())
	require.Equal(t, status.StateRunning, s.State())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.False(t, s.Running())
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", records(2)))

	up := &fakeUploader{accepted: true, release: make(chan struct{})}
	s, rep := newScheduler(t, st, up, time.Hour)

	s.Start(ctx)
	require.Eventually(t, func() bool { return up.active.Load() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an upload was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(up.release)
	require.NoError(t, <-stopped)

	snap := rep.Snapshot()
	require.EqualValues(t, 1, snap.ProcessedKeys)
	require.EqualValues(t, 2, snap.ProcessedItems)
	require.Equal(t, status.StateStopped, snap.State)
}

func TestScheduler_StopTimeoutReturnsContextError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", records(1)))

	up := &fakeUploader{accepted: true, release: make(chan struct{})}
	s, _ := newScheduler(t, st, up, time.Hour)

	s.Start(ctx)
	require.Eventually(t, func() bool { return up.active.Load() == 1 }, time.Second, time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.Stop(stopCtx), context.DeadlineExceeded)
	close(up.release)
}

func TestScheduler_CycleOutlivingStopDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Merge(ctx, "2024-01-01-00-00-00", records(1)))

	up := &fakeUploader{accepted: true, release: make(chan struct{})}
	s, rep := newScheduler(t, st, up, time.Hour)

	s.Start(ctx)
	require.Eventually(t, func() bool { return up.active.Load() == 1 }, time.Second, time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.Stop(stopCtx), context.DeadlineExceeded)

	stopped := rep.Snapshot()
	require.Equal(t, status.StateStopped, stopped.State)

	updates, unsubscribe := rep.Subscribe()
	defer unsubscribe()
	<-updates

	close(up.release)
	require.Eventually(t, func() bool { return !s.inFlight.Load() }, time.Second, time.Millisecond)

	select {
	case got := <-updates:
		t.Fatalf("status published after stop: version %d", got.Version)
	case <-time.After(20 * time.Millisecond):
	}

	// the late window is still accounted for, just not pushed
	snap := rep.Snapshot()
	require.Equal(t, stopped.Version, snap.Version)
	require.Equal(t, status.StateStopped, snap.State)
	require.EqualValues(t, 1, snap.ProcessedKeys)
}

func TestScheduler_FailedRetireIsRetriedWithoutReupload(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockStore(ctrl)

	w := store.Window{Key: "2024-01-01-00-00-00", Records: records(2), Through: 2}

	ms.EXPECT().ReadOldest(gomock.Any()).Return(w, true, nil).Times(1)
	ms.EXPECT().ReadOldest(gomock.Any()).Return(store.Window{}, false, nil).AnyTimes()
	ms.EXPECT().ListKeys(gomock.Any()).Return([]string{}, nil).AnyTimes()

	gomock.InOrder(
		ms.EXPECT().Retire(gomock.Any(), w).Return(errors.New("database is locked")),
		ms.EXPECT().Retire(gomock.Any(), w).Return(nil),
	)

	var storeErrors atomic.Int64

	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, ms, up, 5*time.Millisecond)
	s.SetMetrics(Metrics{StoreErrors: func(n int64) { storeErrors.Add(n) }})

	s.Start(context.Background())

	require.Eventually(t, func() bool { return rep.Snapshot().ProcessedKeys == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	require.Len(t, up.Calls(), 1)
	require.EqualValues(t, 1, storeErrors.Load())
	require.EqualValues(t, 2, rep.Snapshot().ProcessedItems)
}

func TestScheduler_ReadErrorStillPublishes(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockStore(ctrl)

	ms.EXPECT().ReadOldest(gomock.Any()).Return(store.Window{}, false, errors.New("io error")).AnyTimes()
	ms.EXPECT().ListKeys(gomock.Any()).Return(nil, errors.New("io error")).AnyTimes()

	up := &fakeUploader{accepted: true}
	s, rep := newScheduler(t, ms, up, time.Hour)

	s.Start(context.Background())

	require.Eventually(t, func() bool { return rep.Snapshot().Version >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.Empty(t, up.Calls())
}
