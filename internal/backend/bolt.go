package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

// BoltBackend stores a table in a bbolt file, one bucket named after the table
type BoltBackend struct {
	path   string
	bucket []byte
	log    logger.Logger
	db     *bolt.DB
}

// NewBoltBackend creates a bbolt backend for table stored at path
func NewBoltBackend(path, table string, log logger.Logger) *BoltBackend {
	return &BoltBackend{
		path:   path,
		bucket: []byte(table),
		log:    logger.OrDefault(log).WithFields(logger.String("path", path)),
	}
}

func (b *BoltBackend) Name() string { return DriverBolt }

func (b *BoltBackend) Connect(context.Context) error {
	if b.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return kverrors.Backend(DriverBolt, "connect", err)
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return kverrors.Backend(DriverBolt, "connect", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return kverrors.Backend(DriverBolt, "connect", err)
	}

	b.db = db
	b.log.Info("Bolt backend opened", logger.String("bucket", string(b.bucket)))
	return nil
}

func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return kverrors.Backend(DriverBolt, "close", err)
}

func (b *BoltBackend) Set(_ context.Context, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return kverrors.Backend(DriverBolt, "set", err)
	}
	db, err := b.conn("set")
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), raw)
	})
	return kverrors.Backend(DriverBolt, "set", err)
}

func (b *BoltBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	db, err := b.conn("get")
	if err != nil {
		return Entry{}, false, err
	}
	var (
		e     Entry
		found bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, false, kverrors.Backend(DriverBolt, "get", err)
	}
	return e, found, nil
}

func (b *BoltBackend) Delete(_ context.Context, key string) error {
	db, err := b.conn("delete")
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	return kverrors.Backend(DriverBolt, "delete", err)
}

func (b *BoltBackend) Clear(context.Context) error {
	db, err := b.conn("clear")
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(b.bucket)
		return err
	})
	return kverrors.Backend(DriverBolt, "clear", err)
}

func (b *BoltBackend) Has(_ context.Context, key string) (bool, error) {
	db, err := b.conn("has")
	if err != nil {
		return false, err
	}
	var found bool
	err = db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(b.bucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, kverrors.Backend(DriverBolt, "has", err)
	}
	return found, nil
}

// All walks the bucket cursor, which yields keys in byte order
func (b *BoltBackend) All(context.Context) ([]Item, error) {
	db, err := b.conn("all")
	if err != nil {
		return nil, err
	}
	var items []Item
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("malformed entry %q: %w", k, err)
			}
			items = append(items, Item{Key: string(k), Entry: e})
			return nil
		})
	})
	if err != nil {
		return nil, kverrors.Backend(DriverBolt, "all", err)
	}
	return items, nil
}

// Backup copies a consistent snapshot of the database file to path
func (b *BoltBackend) Backup(_ context.Context, path string) error {
	db, err := b.conn("backup")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kverrors.Backend(DriverBolt, "backup", err)
	}
	err = db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0o600)
	})
	if err != nil {
		return kverrors.Backend(DriverBolt, "backup", err)
	}
	b.log.Info("Backup completed successfully", logger.String("backup", path))
	return nil
}

func (b *BoltBackend) conn(op string) (*bolt.DB, error) {
	if b.db == nil {
		return nil, kverrors.Backend(DriverBolt, op, kverrors.ErrClosed)
	}
	return b.db, nil
}
