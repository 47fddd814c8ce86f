// Package bbolt provides a BBolt-backed durable Backend for the shopauth client.
package bbolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/panyam/shopauth"
)

// DefaultBucket holds values when no bucket name is given
const DefaultBucket = "shopauth"

// Backend implements shopauth.Backend backed by a BBolt database.
// Each backend owns one bucket, so several servers can share a database file.
type Backend struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

var _ shopauth.Backend = (*Backend)(nil)

// NewBackend returns a Backend storing values in bucket of db
func NewBackend(db *bbolt.DB, bucket string) *Backend {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Backend{db: db, bucket: []byte(bucket)}
}

// NewBackendFromFile opens a BBolt database at the given path and returns a new Backend.
// Close releases the database.
func NewBackendFromFile(path, bucket string, options *bbolt.Options) (*Backend, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	b := NewBackend(db, bucket)
	b.owned = true
	return b, nil
}

// Close closes the underlying database if this backend opened it
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return nil
		}
		// Values returned by Get are only valid for the life of the transaction
		if data := bkt.Get([]byte(key)); data != nil {
			value, found = string(data), true
		}
		return nil
	})
	return value, found, err
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(b.bucket)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), []byte(value))
	})
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(key))
	})
}

// Keys lists the keys stored in this backend's bucket
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
