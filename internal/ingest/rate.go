package ingest

import (
	"sync"
	"time"
)

// rateResolution is the width of one counting slot.
const rateResolution = 100 * time.Millisecond

type rateSlot struct {
	tick  int64
	count uint64
}

// RateMeter counts arrivals over a trailing window in fixed-width slots, so
// Observe is O(1) and memory does not grow with the arrival rate. The window
// edge is accurate to rateResolution.
type RateMeter struct {
	mu     sync.Mutex
	window time.Duration
	slots  []rateSlot
}

// NewRateMeter returns a meter over the given trailing window.
func NewRateMeter(window time.Duration) *RateMeter {
	if window <= 0 {
		window = 5 * time.Second
	}

	n := int(window / rateResolution)
	if n < 1 {
		n = 1
	}

	return &RateMeter{window: window, slots: make([]rateSlot, n)}
}

func tickOf(t time.Time) int64 { return t.UnixNano() / int64(rateResolution) }

// Observe records one arrival.
func (m *RateMeter) Observe(t time.Time) {
	tick := tickOf(t)

	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.slots[int(mod(tick, int64(len(m.slots))))]

	switch {
	case s.tick == tick:
		s.count++
	case s.tick < tick || s.count == 0:
		s.tick, s.count = tick, 1
	default:
		// older than what the slot already holds: outside any window we report
	}
}

// Rate returns arrivals per second over the window ending at now.
func (m *RateMeter) Rate(now time.Time) float64 {
	tick := tickOf(now)
	oldest := tick - int64(len(m.slots))

	m.mu.Lock()
	defer m.mu.Unlock()

	var n uint64

	for _, s := range m.slots {
		if s.count > 0 && s.tick > oldest && s.tick <= tick {
			n += s.count
		}
	}

	return float64(n) / m.window.Seconds()
}

func mod(a, b int64) int64 {
	r := a % b
	if r < 0 {
		r += b
	}

	return r
}
