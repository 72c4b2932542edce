package store

//go:generate mockgen -source=store.go -destination=./mocks/mock_store.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Record is one opaque event payload. Records are never mutated after append.
type Record = json.RawMessage

// Window is the durable unit of work: one time bucket's records in append order.
type Window struct {
	Key     string
	Records []Record
	// Through is the sequence of the last record in this snapshot. Retire
	// uses it to leave records merged after the snapshot untouched.
	Through uint64
}

// Len returns the number of records in the window.
func (w Window) Len() int { return len(w.Records) }

// Store is a keyed append/merge/delete store of windows.
// Every operation is one critical section with respect to every other.
type Store interface {
	// Merge appends records to the window under key, creating it if needed.
	Merge(ctx context.Context, key string, records []Record) error
	// ListKeys returns all present keys in ascending order.
	ListKeys(ctx context.Context) ([]string, error)
	// ReadOldest returns the window with the smallest key; ok is false when the store is empty.
	ReadOldest(ctx context.Context) (w Window, ok bool, err error)
	// Get returns the window under key.
	Get(ctx context.Context, key string) (w Window, ok bool, err error)
	// Delete removes the whole window. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Retire removes the records of w up to w.Through. The key is removed only
	// when no record was merged after the snapshot was read.
	Retire(ctx context.Context, w Window) error
	Close() error
}
