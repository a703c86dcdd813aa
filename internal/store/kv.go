package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	_ "modernc.org/sqlite"
)

// Scope separates device-local values from values that follow the user.
type Scope string

const (
	ScopeLocal Scope = "local"
	ScopeSync  Scope = "sync"
)

// KV is a raw key-value backend partitioned by scope.
type KV interface {
	Get(ctx context.Context, scope Scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope Scope, key string, value []byte) error
	Close() error
}

// Memory is an in-process KV backend.
type Memory struct {
	mu     sync.RWMutex
	values map[Scope]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[Scope]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, scope Scope, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[scope][key]
	return slices.Clone(v), ok, nil
}

func (m *Memory) Set(_ context.Context, scope Scope, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[scope] == nil {
		m.values[scope] = make(map[string][]byte)
	}
	m.values[scope][key] = slices.Clone(value)
	return nil
}

func (m *Memory) Close() error { return nil }

// SQLite is a KV backend stored in a single sqlite table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  scope      TEXT NOT NULL,
  key        TEXT NOT NULL,
  value      BLOB NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (scope, key)
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, scope Scope, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE scope = ? AND key = ?", string(scope), key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", scope, key, err)
	}
	return v, true, nil
}

func (s *SQLite) Set(ctx context.Context, scope Scope, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (scope, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		string(scope), key, value)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
