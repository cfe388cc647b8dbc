package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV is a reference KV adapter storing the state blob in a single
// sqlite table as a JSON-blob column rather than a normalized schema.
// It implements the same KV interface as FileKV and can be swapped in
// without touching Store.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (creating if necessary) a sqlite database at path and
// ensures the backing table exists.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	ttl_ns     INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv_store table: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Set upserts the value for key.
func (s *SQLiteKV) Set(key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(`
INSERT INTO kv_store (key, value, ttl_ns, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, ttl_ns = excluded.ttl_ns, updated_at = excluded.updated_at
`, key, value, int64(ttl), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert kv_store row: %w", err)
	}
	return nil
}

// Get returns the value for key, whether it existed, and its last write time.
func (s *SQLiteKV) Get(key string) ([]byte, bool, time.Time, error) {
	var value []byte
	var updatedAt time.Time
	err := s.db.QueryRow(`SELECT value, updated_at FROM kv_store WHERE key = ?`, key).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, time.Time{}, nil
	}
	if err != nil {
		return nil, false, time.Time{}, fmt.Errorf("query kv_store row: %w", err)
	}
	return value, true, updatedAt, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteKV) Ping() error {
	return s.db.Ping()
}

// Close releases the underlying database handle.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
