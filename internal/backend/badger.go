package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

const kvPrefix = "kv:"

// BadgerBackend stores a table in its own BadgerDB directory
type BadgerBackend struct {
	dataDir    string
	syncWrites bool
	log        logger.Logger

	db   *badger.DB
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBadgerBackend creates a BadgerDB backend rooted at dataDir
func NewBadgerBackend(dataDir string, syncWrites bool, log logger.Logger) *BadgerBackend {
	return &BadgerBackend{
		dataDir:    dataDir,
		syncWrites: syncWrites,
		log:        logger.OrDefault(log).WithFields(logger.String("data_dir", dataDir)),
	}
}

func (b *BadgerBackend) Name() string { return DriverBadger }

func (b *BadgerBackend) Connect(context.Context) error {
	if b.db != nil {
		return nil
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
		return kverrors.Backend(DriverBadger, "connect", fmt.Errorf("failed to create data directory: %w", err))
	}

	opts := badger.DefaultOptions(b.dataDir)
	opts.SyncWrites = b.syncWrites
	opts.Logger = nil
	opts.ValueLogFileSize = 64 << 20
	opts.MemTableSize = 16 << 20
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 10

	db, err := badger.Open(opts)
	if err != nil {
		return kverrors.Backend(DriverBadger, "connect", fmt.Errorf("failed to open BadgerDB: %w", err))
	}
	b.db = db
	b.stop = make(chan struct{})

	b.wg.Add(1)
	go b.runGarbageCollection()

	b.log.Info("BadgerDB backend opened", logger.Bool("sync_writes", b.syncWrites))
	return nil
}

func (b *BadgerBackend) runGarbageCollection() {
	defer b.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		}
	}
}

func (b *BadgerBackend) Close() error {
	if b.db == nil {
		return nil
	}
	close(b.stop)
	b.wg.Wait()

	err := b.db.Close()
	b.db = nil
	return kverrors.Backend(DriverBadger, "close", err)
}

func (b *BadgerBackend) Set(_ context.Context, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return kverrors.Backend(DriverBadger, "set", err)
	}
	db, err := b.conn("set")
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kvPrefix+key), raw)
	})
	return kverrors.Backend(DriverBadger, "set", err)
}

func (b *BadgerBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	db, err := b.conn("get")
	if err != nil {
		return Entry{}, false, err
	}
	var raw []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(kvPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, kverrors.Backend(DriverBadger, "get", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, kverrors.Backend(DriverBadger, "get", fmt.Errorf("malformed entry: %w", err))
	}
	return e, true, nil
}

func (b *BadgerBackend) Delete(_ context.Context, key string) error {
	db, err := b.conn("delete")
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(kvPrefix + key))
	})
	return kverrors.Backend(DriverBadger, "delete", err)
}

func (b *BadgerBackend) Clear(context.Context) error {
	db, err := b.conn("clear")
	if err != nil {
		return err
	}
	return kverrors.Backend(DriverBadger, "clear", db.DropPrefix([]byte(kvPrefix)))
}

func (b *BadgerBackend) Has(_ context.Context, key string) (bool, error) {
	db, err := b.conn("has")
	if err != nil {
		return false, err
	}
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(kvPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, kverrors.Backend(DriverBadger, "has", err)
	}
	return true, nil
}

// All iterates in key order, which badger already guarantees
func (b *BadgerBackend) All(context.Context) ([]Item, error) {
	db, err := b.conn("all")
	if err != nil {
		return nil, err
	}
	var items []Item
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(kvPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("malformed entry %q: %w", item.Key(), err)
			}
			items = append(items, Item{
				Key:   strings.TrimPrefix(string(item.Key()), kvPrefix),
				Entry: e,
			})
		}
		return nil
	})
	if err != nil {
		return nil, kverrors.Backend(DriverBadger, "all", err)
	}
	return items, nil
}

// Backup streams a badger backup of the table to path
func (b *BadgerBackend) Backup(_ context.Context, path string) (err error) {
	db, err := b.conn("backup")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return kverrors.Backend(DriverBadger, "backup", fmt.Errorf("failed to create backup directory: %w", err))
	}

	file, err := os.Create(path)
	if err != nil {
		return kverrors.Backend(DriverBadger, "backup", fmt.Errorf("failed to create backup file: %w", err))
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = kverrors.Backend(DriverBadger, "backup", fmt.Errorf("failed to close backup file: %w", cerr))
		}
	}()

	if _, err := db.Backup(file, 0); err != nil {
		return kverrors.Backend(DriverBadger, "backup", err)
	}

	b.log.Info("Backup completed successfully", logger.String("path", path))
	return nil
}

func (b *BadgerBackend) conn(op string) (*badger.DB, error) {
	if b.db == nil {
		return nil, kverrors.Backend(DriverBadger, op, kverrors.ErrClosed)
	}
	return b.db, nil
}
