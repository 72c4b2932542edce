package store

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	seq uint64
	rec Record
}

// Memory is an in-process Store. It is used when no store path is configured
// and as the reference implementation in tests.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]entry
	seq     uint64
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{windows: make(map[string][]entry)}
}

func (m *Memory) Merge(_ context.Context, key string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	entries := m.windows[key]
	for _, r := range records {
		m.seq++
		entries = append(entries, entry{seq: m.seq, rec: r})
	}

	if entries == nil {
		entries = []entry{}
	}

	m.windows[key] = entries

	return nil
}

func (m *Memory) ListKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	return m.sortedKeys(), nil
}

func (m *Memory) ReadOldest(_ context.Context) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Window{}, false, ErrClosed
	}

	keys := m.sortedKeys()
	if len(keys) == 0 {
		return Window{}, false, nil
	}

	return m.snapshot(keys[0]), true, nil
}

func (m *Memory) Get(_ context.Context, key string) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Window{}, false, ErrClosed
	}

	if _, ok := m.windows[key]; !ok {
		return Window{}, false, nil
	}

	return m.snapshot(key), true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.windows, key)

	return nil
}

func (m *Memory) Retire(_ context.Context, w Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	entries, ok := m.windows[w.Key]
	if !ok {
		return nil
	}

	i := 0
	for i < len(entries) && entries[i].seq <= w.Through {
		i++
	}

	if i == len(entries) {
		delete(m.windows, w.Key)
		return nil
	}

	m.windows[w.Key] = append([]entry(nil), entries[i:]...)

	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.windows = nil

	return nil
}

func (m *Memory) sortedKeys() []string {
	keys := make([]string, 0, len(m.windows))
	for k := range m.windows {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (m *Memory) snapshot(key string) Window {
	entries := m.windows[key]
	w := Window{Key: key, Records: make([]Record, 0, len(entries))}

	for _, e := range entries {
		w.Records = append(w.Records, e.rec)
		w.Through = e.seq
	}

	return w
}
