// Package storage keeps small human-inspectable key-value state of the local client
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound returned by Get for missing keys
var ErrNotFound = errors.New("key not found")

// KV is a durable key-value store with atomic multi-key writes
type KV interface {
	Get(key string) ([]byte, error)
	// PutAll stores every pair in one transaction, readers never observe a partial write
	PutAll(values map[string][]byte) error
	Close() error
}

// Open makes KV of given kind, "bolt" or "sqlite"
func Open(kind, fileName string) (KV, error) {
	switch kind {
	case "bolt", "":
		db, err := NewBoltDB(fileName)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := NewSQLite(fileName)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
