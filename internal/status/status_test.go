package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_ZeroState(t *testing.T) {
	r := NewReporter()
	s := r.Snapshot()

	require.Equal(t, StateStopped, s.State)
	require.False(t, s.InProgress)
	require.Zero(t, s.ProcessedKeys)
	require.Zero(t, s.ProcessedItems)
	require.Nil(t, s.LastProcessedTimestamp)
	require.Nil(t, s.LastResponse)
}

func TestReporter_RecordProcessed(t *testing.T) {
	r := NewReporter()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.RecordProcessed(3, at, json.RawMessage(`{"ok":true}`))
	r.RecordProcessed(2, at.Add(time.Second), nil)
	r.SetPending(4)

	s := r.Snapshot()
	assert.EqualValues(t, 2, s.ProcessedKeys)
	assert.EqualValues(t, 5, s.ProcessedItems)
	assert.Equal(t, 4, s.TotalKeys)
	require.NotNil(t, s.LastProcessedTimestamp)
	assert.Equal(t, at.Add(time.Second), *s.LastProcessedTimestamp)
	assert.Nil(t, s.LastResponse)
}

func TestReporter_SetStateDrivesInProgress(t *testing.T) {
	r := NewReporter()

	r.SetState(StateRunning)
	require.True(t, r.Snapshot().InProgress)

	r.SetState(StateStopped)
	require.False(t, r.Snapshot().InProgress)
}

func TestReporter_SubscribeReceivesCurrentThenLatest(t *testing.T) {
	r := NewReporter()

	ch, cancel := r.Subscribe()
	defer cancel()

	first := <-ch
	require.Zero(t, first.Version)

	r.RecordRejected()
	r.Publish()
	r.RecordRejected()
	r.Publish()

	// intermediate values may be skipped, the latest must arrive
	got := <-ch
	require.EqualValues(t, 2, got.Version)
	require.EqualValues(t, 2, got.Rejected)
}

func TestReporter_PublishRepublishesUnchangedCounters(t *testing.T) {
	r := NewReporter()
	ch, cancel := r.Subscribe()
	defer cancel()
	<-ch

	a := r.Publish()
	got := <-ch
	require.Equal(t, a, got)

	b := r.Publish()
	require.Equal(t, a.ProcessedKeys, b.ProcessedKeys)
	require.Equal(t, a.Version+1, b.Version)
}

func TestReporter_UnsubscribeClosesChannel(t *testing.T) {
	r := NewReporter()
	ch, cancel := r.Subscribe()
	<-ch

	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// publishing after unsubscribe must not panic
	r.Publish()
}

func TestReporter_ObserveLatency(t *testing.T) {
	r := NewReporter()

	for i := 1; i <= 100; i++ {
		r.ObserveLatency(time.Duration(i) * time.Millisecond)
	}

	r.ObserveLatency(0)

	s := r.Snapshot()
	assert.InDelta(t, 50, s.UploadLatencyP50, 2)
	assert.InDelta(t, 99, s.UploadLatencyP99, 3)
}
