// Package sqlite implements store.Store on an embedded SQLite database so
// flushed windows survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dash0.com/window-drain-backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS windows (
	key TEXT PRIMARY KEY,
	created_at_unix_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	payload TEXT NOT NULL,
	merged_at_unix_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_key_seq ON records(key, seq);
`

type Store struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool

	nowFn func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Operations are serialized by mu; one connection keeps the WAL writer single.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{path: path, db: db, nowFn: time.Now}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}

func (s *Store) Merge(ctx context.Context, key string, records []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	now := s.nowFn().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge %s: begin: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO windows(key, created_at_unix_ns) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		key, now,
	); err != nil {
		return fmt.Errorf("merge %s: upsert window: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records(key, payload, merged_at_unix_ns) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("merge %s: prepare: %w", key, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, key, string(r), now); err != nil {
			return fmt.Errorf("merge %s: insert record: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("merge %s: commit: %w", key, err)
	}

	return nil
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM windows ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list keys: scan: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func (s *Store) ReadOldest(ctx context.Context) (store.Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.Window{}, false, store.ErrClosed
	}

	var key string

	err := s.db.QueryRowContext(ctx, `SELECT key FROM windows ORDER BY key LIMIT 1`).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Window{}, false, nil
	}

	if err != nil {
		return store.Window{}, false, fmt.Errorf("read oldest: %w", err)
	}

	w, err := s.loadWindow(ctx, key)
	if err != nil {
		return store.Window{}, false, err
	}

	return w, true, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.Window{}, false, store.ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM windows WHERE key = ?`, key).Scan(&n); err != nil {
		return store.Window{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	if n == 0 {
		return store.Window{}, false, nil
	}

	w, err := s.loadWindow(ctx, key)
	if err != nil {
		return store.Window{}, false, err
	}

	return w, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s: begin: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: records: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM windows WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: window: %w", key, err)
	}

	return tx.Commit()
}

func (s *Store) Retire(ctx context.Context, w store.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retire %s: begin: %w", w.Key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ? AND seq <= ?`, w.Key, int64(w.Through)); err != nil {
		return fmt.Errorf("retire %s: records: %w", w.Key, err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE key = ?`, w.Key).Scan(&remaining); err != nil {
		return fmt.Errorf("retire %s: count: %w", w.Key, err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM windows WHERE key = ?`, w.Key); err != nil {
			return fmt.Errorf("retire %s: window: %w", w.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("retire %s: commit: %w", w.Key, err)
	}

	return nil
}

func (s *Store) loadWindow(ctx context.Context, key string) (store.Window, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, payload FROM records WHERE key = ? ORDER BY seq`, key)
	if err != nil {
		return store.Window{}, fmt.Errorf("load %s: %w", key, err)
	}
	defer rows.Close()

	w := store.Window{Key: key, Records: []store.Record{}}

	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)

		if err := rows.Scan(&seq, &payload); err != nil {
			return store.Window{}, fmt.Errorf("load %s: scan: %w", key, err)
		}

		w.Records = append(w.Records, store.Record(payload))
		w.Through = uint64(seq)
	}

	if err := rows.Err(); err != nil {
		return store.Window{}, fmt.Errorf("load %s: %w", key, err)
	}

	return w, nil
}
