// Package keystore provides durable storage for encoded FROST key shares.
package keystore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	frost "github.com/canopy-network/frost-taproot"
)

var bucketKeyShares = []byte("key_shares")

// BoltStore keeps key shares in a single bbolt file.
// Every Put is fsynced before it returns.
type BoltStore struct {
	db *bolt.DB
}

var _ frost.KeyShareStore = (*BoltStore)(nil)

// OpenBoltStore opens or creates the store at path
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open key share store %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeyShares)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create key share bucket")
	}
	return &BoltStore{db: db}, nil
}

// Put stores blob under handle
func (s *BoltStore) Put(ctx context.Context, handle string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handle == "" {
		return errors.New("empty handle")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyShares).Put([]byte(handle), blob)
	})
	return errors.Wrapf(err, "put key share %s", handle)
}

// Get loads the blob stored under handle
func (s *BoltStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeyShares).Get([]byte(handle))
		if v == nil {
			return frost.ErrKeyShareNotFound.WithDetails("handle %s", handle)
		}
		// v is only valid inside the transaction
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
