// Package status keeps the drain processor's counters and pushes a copy of
// them to subscribers after every change.
package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// State is the drain scheduler's lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is a point-in-time view of the processor.
type Status struct {
	ProcessedKeys          uint64          `json:"processedKeys"`
	TotalKeys              int             `json:"totalKeys"`
	ProcessedItems         uint64          `json:"processedItems"`
	InProgress             bool            `json:"inProgress"`
	LastProcessedTimestamp *time.Time      `json:"lastProcessedTimestamp"`
	LastResponse           json.RawMessage `json:"lastResponse"`

	State            State   `json:"state"`
	Rejected         uint64  `json:"rejected"`
	UploadLatencyP50 float64 `json:"uploadLatencyP50Ms"`
	UploadLatencyP99 float64 `json:"uploadLatencyP99Ms"`
	// Version increases by one on every publish.
	Version uint64 `json:"version"`
}

// Reporter accumulates Status. Mutating methods are meant for a single
// writer; Snapshot and Subscribe are safe from any goroutine.
type Reporter struct {
	mu     sync.Mutex
	cur    Status
	sketch *ddsketch.DDSketch

	subs   map[int]chan Status
	nextID int
}

// NewReporter returns a Reporter in the zero, stopped state.
func NewReporter() *Reporter {
	// relative accuracy 1%; only fails for values outside (0, 1)
	sk, _ := ddsketch.NewDefaultDDSketch(0.01)

	return &Reporter{
		cur:    Status{State: StateStopped},
		sketch: sk,
		subs:   make(map[int]chan Status),
	}
}

// Snapshot returns a copy of the current status.
func (r *Reporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cur
}

// Subscribe returns a channel that receives the current status immediately and
// then the latest status after every publish. A slow reader only misses
// intermediate values. The returned func unsubscribes and closes the channel.
func (r *Reporter) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	ch <- r.cur
	r.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// SetState records a lifecycle transition.
func (r *Reporter) SetState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cur.State = s
	r.cur.InProgress = s == StateRunning
}

// SetPending records how many windows are waiting in the store.
func (r *Reporter) SetPending(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cur.TotalKeys = n
}

// RecordProcessed accounts for one retired window.
func (r *Reporter) RecordProcessed(items int, at time.Time, response json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cur.ProcessedKeys++
	r.cur.ProcessedItems += uint64(items)
	r.cur.LastProcessedTimestamp = &at
	r.cur.LastResponse = response
}

// RecordRejected counts one upload the sink did not accept.
func (r *Reporter) RecordRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cur.Rejected++
}

// ObserveLatency adds one upload duration to the latency quantiles.
func (r *Reporter) ObserveLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sketch.Add(ms); err != nil {
		return
	}

	if v, err := r.sketch.GetValueAtQuantile(0.5); err == nil {
		r.cur.UploadLatencyP50 = v
	}

	if v, err := r.sketch.GetValueAtQuantile(0.99); err == nil {
		r.cur.UploadLatencyP99 = v
	}
}

// Publish pushes the current status to every subscriber and returns it.
func (r *Reporter) Publish() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cur.Version++
	snap := r.cur

	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- snap:
		default:
		}
	}

	return snap
}
