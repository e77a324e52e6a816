// Package database is the entry point to quickkv. A Database opens one
// collection per table against the configured driver and is the only owner
// allowed to close their backends.
package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/collection"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
)

// Factory builds an unconnected backend for a table
type Factory func(cfg backend.Config, table string, log logger.Logger) (backend.Backend, error)

// Options configures a Database
type Options struct {
	Backend    backend.Config
	Collection collection.Options
	// Factory defaults to backend.New
	Factory Factory
	Logger  logger.Logger
}

// Database manages the collections opened against one storage configuration
type Database struct {
	opts Options
	log  logger.Logger

	mu          sync.Mutex
	collections map[string]*collection.Collection
	closed      bool
}

// Open validates the configuration and returns a Database. Backends are
// created and connected lazily by Collection.
func Open(ctx context.Context, opts Options) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Factory == nil {
		opts.Factory = backend.New
	}
	if opts.Backend.Driver == "" {
		opts.Backend.Driver = backend.DriverMemory
	}
	if !slices.Contains(backend.Drivers, opts.Backend.Driver) {
		return nil, fmt.Errorf("unsupported storage driver: %s", opts.Backend.Driver)
	}

	log := logger.OrDefault(opts.Logger)
	if opts.Collection.Logger == nil {
		opts.Collection.Logger = log
	}

	log.Info("Database opened", logger.String("driver", opts.Backend.Driver))
	return &Database{
		opts:        opts,
		log:         log,
		collections: make(map[string]*collection.Collection),
	}, nil
}

// Driver returns the configured storage driver
func (db *Database) Driver() string {
	return db.opts.Backend.Driver
}

// Collection returns the collection for name, creating and connecting its
// backend on first use
func (db *Database) Collection(ctx context.Context, name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, fmt.Errorf("database: %w", kverrors.ErrClosed)
	}
	if c, ok := db.collections[name]; ok {
		return c, nil
	}

	b, err := db.opts.Factory(db.opts.Backend, name, db.log)
	if err != nil {
		return nil, err
	}
	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}

	c, err := collection.New(name, b, db.opts.Collection)
	if err != nil {
		if cerr := b.Close(); cerr != nil {
			db.log.Warn("Failed to close backend", logger.String("collection", name), logger.Error(cerr))
		}
		return nil, err
	}

	db.collections[name] = c
	metrics.CollectionsOpen.Inc()
	db.log.Info("Collection opened",
		logger.String("collection", name),
		logger.String("backend", b.Name()))
	return c, nil
}

// Tables lists the open collections in order
func (db *Database) Tables() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CloseCollection closes one collection. Closing a collection that is not
// open is a no-op.
func (db *Database) CloseCollection(name string) error {
	db.mu.Lock()
	c, ok := db.collections[name]
	delete(db.collections, name)
	db.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.CollectionsOpen.Dec()
	return c.Close()
}

// Close closes every collection. The Database cannot be used afterwards.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	open := db.collections
	db.collections = nil
	db.mu.Unlock()

	var errs []error
	for name, c := range open {
		metrics.CollectionsOpen.Dec()
		if err := c.Close(); err != nil {
			db.log.Error("Failed to close collection", logger.String("collection", name), logger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}

	db.log.Info("Database closed", logger.Int("collections", len(open)))
	return errors.Join(errs...)
}

// Set stores value under key in table
func (db *Database) Set(ctx context.Context, table, key string, value any, opts ...collection.SetOption) error {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, opts...)
}

// Get returns the live value under key in table
func (db *Database) Get(ctx context.Context, table, key string) (any, bool, error) {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return nil, false, err
	}
	return c.Get(ctx, key)
}

// Delete removes key from table
func (db *Database) Delete(ctx context.Context, table, key string) error {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return err
	}
	return c.Delete(ctx, key)
}

// Clear removes every entry in table
func (db *Database) Clear(ctx context.Context, table string) error {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return err
	}
	return c.Clear(ctx)
}

// Has reports whether key is stored in table, ignoring expiry
func (db *Database) Has(ctx context.Context, table, key string) (bool, error) {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return false, err
	}
	return c.Has(ctx, key)
}

// All returns the live entries of table sorted by key
func (db *Database) All(ctx context.Context, table string) ([]collection.Item, error) {
	c, err := db.Collection(ctx, table)
	if err != nil {
		return nil, err
	}
	return c.All(ctx)
}
