package backend_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/backend/backendtest"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

func TestMemoryBackend(t *testing.T) {
	backendtest.Run(t, "Memory", func(t *testing.T) backend.Backend {
		return backend.NewMemoryBackend()
	}, backendtest.Options{})
}

func TestCacheBackend(t *testing.T) {
	backendtest.Run(t, "Cache", func(t *testing.T) backend.Backend {
		b, err := backend.NewCacheBackend(4096)
		require.NoError(t, err)
		return b
	}, backendtest.Options{})
}

func TestCacheBackend_Evicts(t *testing.T) {
	ctx := context.Background()
	b, err := backend.NewCacheBackend(2)
	require.NoError(t, err)

	require.NoError(t, b.Set(ctx, "a", backend.Entry{Value: "1", Type: "number"}))
	require.NoError(t, b.Set(ctx, "b", backend.Entry{Value: "2", Type: "number"}))
	_, _, _ = b.Get(ctx, "a") // a is now most recently used
	require.NoError(t, b.Set(ctx, "c", backend.Entry{Value: "3", Type: "number"}))

	ok, _ := b.Has(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	ok, _ = b.Has(ctx, "a")
	assert.True(t, ok)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	backendtest.Run(t, "File", func(t *testing.T) backend.Backend {
		fs, err := backend.NewFileStore(backend.FileStoreOptions{
			Path:       filepath.Join(dir, "users.qkv"),
			BackupPath: filepath.Join(dir, "backup", "users.qkv.bak"),
			Secret:     "contract-secret",
		}, logger.NewNop())
		require.NoError(t, err)
		return fs
	}, backendtest.Options{Persistent: true})
}

func TestYAMLBackend(t *testing.T) {
	dir := t.TempDir()
	backendtest.Run(t, "YAML", func(t *testing.T) backend.Backend {
		return backend.NewYAMLBackend(filepath.Join(dir, "users.yml"), logger.NewNop())
	}, backendtest.Options{Persistent: true})
}

func TestBadgerBackend(t *testing.T) {
	dir := t.TempDir()
	backendtest.Run(t, "Badger", func(t *testing.T) backend.Backend {
		return backend.NewBadgerBackend(dir, true, logger.NewNop())
	}, backendtest.Options{Persistent: true})
}

func TestBoltBackend(t *testing.T) {
	dir := t.TempDir()
	backendtest.Run(t, "Bolt", func(t *testing.T) backend.Backend {
		return backend.NewBoltBackend(filepath.Join(dir, "users.bolt"), "users", logger.NewNop())
	}, backendtest.Options{Persistent: true})
}

func TestSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	backendtest.Run(t, "SQLite", func(t *testing.T) backend.Backend {
		cfg := backend.Config{Driver: backend.DriverSQLite, DataDir: dir}
		b, err := backend.New(cfg, "users", logger.NewNop())
		require.NoError(t, err)
		return b
	}, backendtest.Options{Persistent: true})
}

// Networked backends run only when a test server is configured
func networkedFactory(driver, envVar string) func(t *testing.T) backend.Backend {
	return func(t *testing.T) backend.Backend {
		dsn := os.Getenv(envVar)
		if dsn == "" {
			t.Skipf("%s not set", envVar)
		}
		b, err := backend.New(backend.Config{Driver: driver, DSN: dsn, Timeout: 5 * time.Second}, "quickkv_contract", logger.NewNop())
		require.NoError(t, err)
		return b
	}
}

func TestPostgresBackend(t *testing.T) {
	backendtest.Run(t, "Postgres", networkedFactory(backend.DriverPostgres, "QUICKKV_TEST_POSTGRES_DSN"), backendtest.Options{Persistent: true})
}

func TestMySQLBackend(t *testing.T) {
	backendtest.Run(t, "MySQL", networkedFactory(backend.DriverMySQL, "QUICKKV_TEST_MYSQL_DSN"), backendtest.Options{Persistent: true})
}

func TestMongoBackend(t *testing.T) {
	backendtest.Run(t, "MongoDB", networkedFactory(backend.DriverMongoDB, "QUICKKV_TEST_MONGODB_DSN"), backendtest.Options{Persistent: true})
}

func TestCassandraBackend(t *testing.T) {
	backendtest.Run(t, "Cassandra", networkedFactory(backend.DriverCassandra, "QUICKKV_TEST_CASSANDRA_HOSTS"), backendtest.Options{Persistent: true})
}

func TestNew_Drivers(t *testing.T) {
	dir := t.TempDir()

	for _, driver := range []string{"", backend.DriverMemory, backend.DriverCache, backend.DriverFile,
		backend.DriverYAML, backend.DriverBadger, backend.DriverBolt, backend.DriverSQLite} {
		cfg := backend.Config{Driver: driver, DataDir: dir, Secret: "s"}
		b, err := backend.New(cfg, "users", logger.NewNop())
		require.NoError(t, err, "driver %q", driver)

		want := driver
		if want == "" {
			want = backend.DriverMemory
		}
		assert.Equal(t, want, b.Name())
		assert.IsType(t, &backend.Instrumented{}, b)
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := backend.New(backend.Config{Driver: "etcd"}, "users", logger.NewNop())
	assert.ErrorContains(t, err, "unsupported storage driver")

	for _, driver := range []string{backend.DriverPostgres, backend.DriverMySQL, backend.DriverMongoDB, backend.DriverCassandra} {
		_, err := backend.New(backend.Config{Driver: driver}, "users", logger.NewNop())
		assert.ErrorContains(t, err, "dsn is required", "driver %s", driver)
	}

	_, err = backend.New(backend.Config{Driver: backend.DriverFile, DataDir: t.TempDir()}, "users", logger.NewNop())
	assert.Error(t, err, "file driver needs a secret")
}

func TestValidateTable(t *testing.T) {
	valid := []string{"users", "_private", "Orders_2024", "a"}
	for _, name := range valid {
		assert.NoError(t, backend.ValidateTable(name), name)
	}

	invalid := []string{"", "1users", "user-data", "drop table", "a.b", "../etc", string(make([]byte, 64))}
	for _, name := range invalid {
		err := backend.ValidateTable(name)
		assert.ErrorIs(t, err, kverrors.ErrInvalidTable, name)
	}

	_, err := backend.New(backend.Config{}, "bad name", logger.NewNop())
	assert.ErrorIs(t, err, kverrors.ErrInvalidTable)
}

func TestInstrumented_OptionalCapabilities(t *testing.T) {
	ctx := context.Background()
	b := backend.Instrument(backend.NewMemoryBackend())

	assert.ErrorIs(t, b.Restore(ctx), kverrors.ErrUnsupported)
	assert.ErrorIs(t, b.Backup(ctx, filepath.Join(t.TempDir(), "x")), kverrors.ErrUnsupported)
	assert.Same(t, b, backend.Instrument(b))
}

func TestEmbeddedBackends_Backup(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{backend.DriverBadger, backend.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			b, err := backend.New(backend.Config{Driver: driver, DataDir: filepath.Join(dir, "data")}, "users", logger.NewNop())
			require.NoError(t, err)
			require.NoError(t, b.Connect(ctx))
			require.NoError(t, b.Set(ctx, "alice", backend.Entry{Value: `"x"`, Type: "string"}))

			bk, ok := b.(backend.Backuper)
			require.True(t, ok)

			snapshot := filepath.Join(dir, "backup", "users.snap")
			require.NoError(t, bk.Backup(ctx, snapshot))
			info, err := os.Stat(snapshot)
			require.NoError(t, err)
			assert.Positive(t, info.Size())

			require.NoError(t, b.Close())
			assert.ErrorIs(t, bk.Backup(ctx, snapshot), kverrors.ErrClosed)
		})
	}
}
