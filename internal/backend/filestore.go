package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
	"github.com/neogan74/quickkv/internal/sealer"
)

// FileStoreOptions configures an encrypted file store
type FileStoreOptions struct {
	// Path is the primary file
	Path string
	// BackupPath receives an independently sealed copy after every mutation.
	// Empty disables backups.
	BackupPath string
	// Secret derives the encryption key. Ignored when Sealer is set.
	Secret string
	Sealer *sealer.Sealer
}

// FileStore keeps a table in memory and rewrites one compressed, encrypted file
// on every mutation. Each write costs O(table size), so it suits small tables.
type FileStore struct {
	opts   FileStoreOptions
	sealer *sealer.Sealer
	log    logger.Logger

	mu        sync.RWMutex
	data      map[string]Entry
	connected bool
}

// NewFileStore creates a file store. No file is touched until Connect.
func NewFileStore(opts FileStoreOptions, log logger.Logger) (*FileStore, error) {
	if opts.Path == "" {
		return nil, errors.New("file store: path is required")
	}

	s := opts.Sealer
	if s == nil {
		var err error
		if s, err = sealer.New(opts.Secret); err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
	}

	return &FileStore{
		opts:   opts,
		sealer: s,
		log:    logger.OrDefault(log).WithFields(logger.String("path", opts.Path)),
	}, nil
}

func (f *FileStore) Name() string { return DriverFile }

// Connect loads the primary file. A missing file yields an empty table; a file
// that cannot be opened with the configured secret fails with kverrors.ErrCrypto.
func (f *FileStore) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connected {
		return nil
	}

	data, err := f.load(f.opts.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = make(map[string]Entry)
		f.log.Info("File store initialized empty")
	case err != nil:
		f.log.Error("Failed to load file store", logger.Error(err))
		return err
	default:
		f.log.Info("File store loaded", logger.Int("entries", len(data)))
	}

	f.data = data
	f.connected = true
	return nil
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connected = false
	f.data = nil
	return nil
}

func (f *FileStore) Set(ctx context.Context, key string, e Entry) error {
	return f.mutate(ctx, "set", func(data map[string]Entry) bool {
		data[key] = copyEntry(e)
		return true
	})
}

func (f *FileStore) Get(_ context.Context, key string) (Entry, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.connected {
		return Entry{}, false, f.closedErr("get")
	}
	e, ok := f.data[key]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	return f.mutate(ctx, "delete", func(data map[string]Entry) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}

func (f *FileStore) Clear(ctx context.Context) error {
	return f.mutate(ctx, "clear", func(data map[string]Entry) bool {
		clear(data)
		return true
	})
}

func (f *FileStore) Has(_ context.Context, key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.connected {
		return false, f.closedErr("has")
	}
	_, ok := f.data[key]
	return ok, nil
}

func (f *FileStore) All(context.Context) ([]Item, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.connected {
		return nil, f.closedErr("all")
	}
	items := make([]Item, 0, len(f.data))
	for key, e := range f.data {
		items = append(items, Item{Key: key, Entry: copyEntry(e)})
	}
	sortItems(items)
	return items, nil
}

// Restore replaces the table with the backup file and rewrites the primary
func (f *FileStore) Restore(ctx context.Context) error {
	if f.opts.BackupPath == "" {
		return fmt.Errorf("file store restore: %w: no backup path configured", kverrors.ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return f.closedErr("restore")
	}

	data, err := f.load(f.opts.BackupPath)
	if err != nil {
		metrics.FileStoreRestoresTotal.WithLabelValues("error").Inc()
		f.log.Error("Failed to load backup", logger.String("backup", f.opts.BackupPath), logger.Error(err))
		if errors.Is(err, os.ErrNotExist) {
			return kverrors.Backend(DriverFile, "restore", err)
		}
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return kverrors.Backend(DriverFile, "restore", err)
	}
	if err := f.writeSealed("primary", f.opts.Path, payload); err != nil {
		metrics.FileStoreRestoresTotal.WithLabelValues("error").Inc()
		return kverrors.Backend(DriverFile, "restore", err)
	}

	f.data = data
	metrics.FileStoreRestoresTotal.WithLabelValues("success").Inc()
	f.log.Info("Restore completed successfully",
		logger.String("backup", f.opts.BackupPath),
		logger.Int("entries", len(data)))
	return nil
}

// Backup writes a sealed snapshot of the current table to path
func (f *FileStore) Backup(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.connected {
		return f.closedErr("backup")
	}

	payload, err := json.Marshal(f.data)
	if err != nil {
		return kverrors.Backend(DriverFile, "backup", err)
	}
	if err := f.writeSealed("snapshot", path, payload); err != nil {
		return kverrors.Backend(DriverFile, "backup", err)
	}

	f.log.Info("Backup completed successfully", logger.String("backup", path))
	return nil
}

// mutate applies fn to the table and persists it. When fn reports no change
// nothing is written. A failed primary write restores the previous table.
func (f *FileStore) mutate(ctx context.Context, op string, fn func(map[string]Entry) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return f.closedErr(op)
	}

	previous := maps.Clone(f.data)
	if !fn(f.data) {
		return nil
	}

	payload, err := json.Marshal(f.data)
	if err != nil {
		f.data = previous
		return kverrors.Backend(DriverFile, op, err)
	}

	if err := f.writeSealed("primary", f.opts.Path, payload); err != nil {
		f.data = previous
		f.log.Error("Failed to write file store, mutation rolled back",
			logger.String("op", op),
			logger.Error(err))
		return kverrors.Backend(DriverFile, op, err)
	}

	// The primary already holds the new table, so a failed backup keeps it
	if f.opts.BackupPath != "" {
		if err := f.writeSealed("backup", f.opts.BackupPath, payload); err != nil {
			f.log.Warn("Failed to write backup file",
				logger.String("backup", f.opts.BackupPath),
				logger.Error(err))
			return kverrors.Backend(DriverFile, op+" backup", err)
		}
	}
	return nil
}

func (f *FileStore) writeSealed(target, path string, payload []byte) error {
	sealed, err := f.sealer.Seal(payload)
	if err == nil {
		err = writeFileAtomic(path, sealed)
	}
	metrics.FileStoreWritesTotal.WithLabelValues(target, metrics.Status(err)).Inc()
	if err != nil {
		return err
	}
	metrics.FileStoreWriteBytes.Observe(float64(len(sealed)))
	return nil
}

func (f *FileStore) load(path string) (map[string]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, kverrors.Backend(DriverFile, "read", err)
	}

	plain, err := f.sealer.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("file store %s: %w", path, err)
	}

	data := make(map[string]Entry)
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("file store %s: %w: malformed table: %v", path, kverrors.ErrCrypto, err)
	}
	return data, nil
}

func (f *FileStore) closedErr(op string) error {
	return kverrors.Backend(DriverFile, op, kverrors.ErrClosed)
}

// writeFileAtomic replaces path with data via a synced temp file and rename
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
