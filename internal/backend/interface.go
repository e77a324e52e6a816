// Package backend provides the storage engines a collection can persist to.
//
// Backends store raw entries. They never evaluate TTLs, encode values or
// encrypt; collections do that before an entry reaches a backend.
package backend

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
)

// Entry is the persisted form of a value
type Entry struct {
	Value string        `json:"value" yaml:"value" bson:"value"`
	Type  codec.TypeTag `json:"type" yaml:"type" bson:"type"`
	// TTL is the absolute expiry in milliseconds since the epoch, nil for none
	TTL *int64 `json:"ttl" yaml:"ttl" bson:"ttl"`
}

// Item is an entry together with its key
type Item struct {
	Key string
	Entry
}

// Backend represents a storage engine bound to one table
type Backend interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error

	// Primitives
	Set(ctx context.Context, key string, e Entry) error
	Get(ctx context.Context, key string) (Entry, bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) (bool, error)
	// All returns every stored item sorted by key
	All(ctx context.Context) ([]Item, error)

	// Name reports the driver name
	Name() string
}

// Restorer is implemented by backends that keep a backup they can restore from
type Restorer interface {
	Restore(ctx context.Context) error
}

// Backuper is implemented by backends that can write a snapshot on demand
type Backuper interface {
	Backup(ctx context.Context, path string) error
}

// Driver names
const (
	DriverMemory    = "memory"
	DriverCache     = "cache"
	DriverFile      = "file"
	DriverYAML      = "yaml"
	DriverBadger    = "badger"
	DriverBolt      = "bolt"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverMongoDB   = "mongodb"
	DriverCassandra = "cassandra"
)

// Drivers lists every supported driver name
var Drivers = []string{
	DriverMemory, DriverCache, DriverFile, DriverYAML, DriverBadger, DriverBolt,
	DriverSQLite, DriverPostgres, DriverMySQL, DriverMongoDB, DriverCassandra,
}

// Config holds backend configuration
type Config struct {
	Driver     string
	DataDir    string
	BackupDir  string
	Secret     string // file driver encryption secret
	DSN        string // sql, mongodb and cassandra connection string
	Database   string // mongodb database or cassandra keyspace
	CacheSize  int
	SyncWrites bool
	Timeout    time.Duration
}

// DefaultCacheSize bounds the cache driver when no size is configured
const DefaultCacheSize = 1024

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTable checks that a table name is safe to use as an identifier, file name and bucket
func ValidateTable(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", kverrors.ErrInvalidTable, name, tableNamePattern)
	}
	return nil
}

func copyEntry(e Entry) Entry {
	if e.TTL != nil {
		ttl := *e.TTL
		e.TTL = &ttl
	}
	return e
}
