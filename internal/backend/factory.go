package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neogan74/quickkv/internal/logger"
)

// DefaultDataDir is used when a file-based driver has no data directory configured
const DefaultDataDir = "./data"

// New creates the backend for table according to configuration. The backend is
// instrumented with metrics and is not connected yet.
func New(cfg Config, table string, log logger.Logger) (Backend, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	log = logger.OrDefault(log).WithCollection(table)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = dataDir
	}

	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case "", DriverMemory:
		log.Debug("Using in-memory storage")
		b = NewMemoryBackend()

	case DriverCache:
		log.Debug("Using LRU cache storage", logger.Int("size", cfg.CacheSize))
		b, err = NewCacheBackend(cfg.CacheSize)

	case DriverFile:
		opts := FileStoreOptions{
			Path:       filepath.Join(dataDir, table+".qkv"),
			BackupPath: filepath.Join(backupDir, table+".qkv.bak"),
			Secret:     cfg.Secret,
		}
		log.Debug("Using encrypted file storage",
			logger.String("path", opts.Path),
			logger.String("backup", opts.BackupPath))
		b, err = NewFileStore(opts, log)

	case DriverYAML:
		b = NewYAMLBackend(filepath.Join(dataDir, table+".yml"), log)

	case DriverBadger:
		b = NewBadgerBackend(filepath.Join(dataDir, "badger", table), cfg.SyncWrites, log)

	case DriverBolt:
		b = NewBoltBackend(filepath.Join(dataDir, table+".bolt"), table, log)

	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			dsn = filepath.Join(dataDir, "quickkv.db")
		}
		b = NewSQLiteBackend(dsn, table, log)

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errDSNRequired(cfg.Driver)
		}
		b = NewPostgresBackend(cfg.DSN, table, log)

	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errDSNRequired(cfg.Driver)
		}
		b = NewMySQLBackend(cfg.DSN, table, log)

	case DriverMongoDB:
		if cfg.DSN == "" {
			return nil, errDSNRequired(cfg.Driver)
		}
		b = NewMongoBackend(cfg.DSN, cfg.Database, table, cfg.Timeout, log)

	case DriverCassandra:
		if cfg.DSN == "" {
			return nil, errDSNRequired(cfg.Driver)
		}
		b = NewCassandraBackend(cfg.DSN, cfg.Database, table, cfg.Timeout, log)

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return Instrument(b), nil
}

func errDSNRequired(driver string) error {
	return fmt.Errorf("%s driver: dsn is required", driver)
}
