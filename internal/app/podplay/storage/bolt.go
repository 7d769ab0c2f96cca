package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	log "github.com/go-pkgz/lgr"
)

const stateBucket = "state"

// BoltDB store
type BoltDB struct {
	DB *bolt.DB
}

// NewBoltDB opens (creates) bolt db file and makes sure the state bucket exists
func NewBoltDB(fileName string) (*BoltDB, error) {
	if dir := filepath.Dir(fileName); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("make db dir %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(fileName, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", fileName, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", stateBucket, err)
	}

	return &BoltDB{DB: db}, nil
}

// Get value by key from state bucket
func (b *BoltDB) Get(key string) ([]byte, error) {
	var result []byte
	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return ErrNotFound
		}

		item := bucket.Get([]byte(key))
		if item == nil {
			return ErrNotFound
		}

		// bolt memory is valid only inside the transaction
		result = make([]byte, len(item))
		copy(result, item)
		return nil
	})

	return result, err
}

// PutAll save all values to state bucket in a single transaction
func (b *BoltDB) PutAll(values map[string][]byte) error {
	err := b.DB.Update(func(tx *bolt.Tx) error {
		bucket, e := tx.CreateBucketIfNotExists([]byte(stateBucket))
		if e != nil {
			return e
		}

		for k, v := range values {
			if e = bucket.Put([]byte(k), v); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[WARN] failed to save %d keys to bolt, %v", len(values), err)
	}

	return err
}

// Close bolt db
func (b *BoltDB) Close() error {
	return b.DB.Close()
}
