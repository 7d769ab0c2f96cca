package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// registers "sqlite" driver
	_ "modernc.org/sqlite"
)

// SQLite store, keeps the same keys as BoltDB in a single table
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens (creates) sqlite file and the kv table
func NewSQLite(fileName string) (*SQLite, error) {
	if dir := filepath.Dir(fileName); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("make db dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", fileName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", fileName, err)
	}
	// single writer, avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLite{DB: db}, nil
}

// Get value by key
func (s *SQLite) Get(key string) ([]byte, error) {
	var value []byte
	err := s.DB.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

// PutAll upserts all values in one transaction
func (s *SQLite) PutAll(values map[string][]byte) (err error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for k, v := range values {
		_, err = tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close db
func (s *SQLite) Close() error {
	return s.DB.Close()
}
