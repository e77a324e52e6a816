package backend_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

type fileStorePaths struct {
	primary string
	backup  string
}

func newPaths(t *testing.T) fileStorePaths {
	dir := t.TempDir()
	return fileStorePaths{
		primary: filepath.Join(dir, "users.qkv"),
		backup:  filepath.Join(dir, "backups", "users.qkv.bak"),
	}
}

func openFileStore(t *testing.T, p fileStorePaths, secret string) (*backend.FileStore, error) {
	t.Helper()
	fs, err := backend.NewFileStore(backend.FileStoreOptions{
		Path:       p.primary,
		BackupPath: p.backup,
		Secret:     secret,
	}, logger.NewNop())
	require.NoError(t, err)
	return fs, fs.Connect(context.Background())
}

var alice = backend.Entry{Value: `{"age":30}`, Type: codec.TypeObject}

func TestFileStore_ReopenRecoversValue(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, "alice", alice))
	require.NoError(t, fs.Close())

	reopened, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, got)
}

func TestFileStore_FileIsEncrypted(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer fs.Close()
	require.NoError(t, fs.Set(ctx, "alice", alice))

	for _, path := range []string{p.primary, p.backup} {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "alice")
		assert.NotContains(t, string(raw), "age")
	}

	primary, _ := os.ReadFile(p.primary)
	backup, _ := os.ReadFile(p.backup)
	assert.NotEqual(t, primary, backup, "backup is sealed with its own nonce")

	info, err := os.Stat(p.primary)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_WrongSecret(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "right")
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, "alice", alice))
	require.NoError(t, fs.Close())

	_, err = openFileStore(t, p, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, kverrors.ErrCrypto)
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	ctx := context.Background()

	fs, err := openFileStore(t, newPaths(t), "s3cret")
	require.NoError(t, err)
	defer fs.Close()

	items, err := fs.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFileStore_CorruptFile(t *testing.T) {
	p := newPaths(t)
	require.NoError(t, os.WriteFile(p.primary, []byte("definitely not sealed"), 0o600))

	_, err := openFileStore(t, p, "s3cret")
	assert.ErrorIs(t, err, kverrors.ErrCrypto)
}

func TestFileStore_RestoreAfterCorruption(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, "alice", alice))
	require.NoError(t, fs.Close())

	// Corrupt the primary
	require.NoError(t, os.WriteFile(p.primary, []byte(strings.Repeat("x", 128)), 0o600))

	_, err = openFileStore(t, p, "s3cret")
	require.ErrorIs(t, err, kverrors.ErrCrypto)

	// Start from an empty primary and restore from the backup
	require.NoError(t, os.Remove(p.primary))
	fs, err = openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer fs.Close()

	_, ok, err := fs.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.Restore(ctx))

	got, ok, err := fs.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, got)

	// The primary was rewritten
	reopened, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer reopened.Close()
	_, ok, err = reopened.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_RestoreWithoutBackup(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer fs.Close()

	err = fs.Restore(ctx)
	assert.ErrorIs(t, err, kverrors.ErrBackendUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)

	noBackup, err := backend.NewFileStore(backend.FileStoreOptions{Path: p.primary, Secret: "s3cret"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, noBackup.Connect(ctx))
	assert.ErrorIs(t, noBackup.Restore(ctx), kverrors.ErrUnsupported)
}

func TestFileStore_FailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	defer fs.Close()
	require.NoError(t, fs.Set(ctx, "alice", alice))

	// A directory in place of the primary makes the rename fail
	require.NoError(t, os.Remove(p.primary))
	require.NoError(t, os.Mkdir(p.primary, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.primary, "keep"), nil, 0o600))

	err = fs.Set(ctx, "bob", backend.Entry{Value: "1", Type: codec.TypeNumber})
	require.Error(t, err)
	assert.ErrorIs(t, err, kverrors.ErrBackendUnavailable)

	ok, err := fs.Has(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "failed write must not be visible")

	ok, err = fs.Has(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_Backup(t *testing.T) {
	ctx := context.Background()
	p := newPaths(t)

	fs, err := openFileStore(t, p, "s3cret")
	require.NoError(t, err)
	require.NoError(t, fs.Set(ctx, "alice", alice))

	snapshot := filepath.Join(t.TempDir(), "snapshots", "users.snap")
	require.NoError(t, fs.Backup(ctx, snapshot))
	require.NoError(t, fs.Close())

	restored, err := openFileStore(t, fileStorePaths{primary: snapshot}, "s3cret")
	require.NoError(t, err)
	defer restored.Close()

	got, ok, err := restored.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, got)
}

func TestFileStore_ClosedAndCancelled(t *testing.T) {
	ctx := context.Background()
	fs, err := openFileStore(t, newPaths(t), "s3cret")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, fs.Set(cancelled, "k", alice), context.Canceled)

	require.NoError(t, fs.Close())
	assert.ErrorIs(t, fs.Set(ctx, "k", alice), kverrors.ErrClosed)
	_, _, err = fs.Get(ctx, "k")
	assert.ErrorIs(t, err, kverrors.ErrClosed)
}

func TestNewFileStore_Validation(t *testing.T) {
	_, err := backend.NewFileStore(backend.FileStoreOptions{Secret: "s"}, logger.NewNop())
	assert.Error(t, err)

	_, err = backend.NewFileStore(backend.FileStoreOptions{Path: "x"}, logger.NewNop())
	assert.Error(t, err)
}
