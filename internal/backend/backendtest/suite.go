// Package backendtest holds the contract every backend implementation must satisfy
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
)

// Factory creates a fresh, unconnected backend. Backends created by one
// factory during a test may share a medium; Reopen relies on that.
type Factory func(t *testing.T) backend.Backend

// Options toggles parts of the suite
type Options struct {
	// Persistent backends must return data written before Close after a new Connect
	Persistent bool
	// Bounded backends may evict entries; the Many test is skipped
	Bounded bool
}

// Run runs the backend contract suite
func Run(t *testing.T, name string, factory Factory, opts Options) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, open(t, factory))
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, open(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, open(t, factory))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, open(t, factory))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, open(t, factory))
		})

		t.Run("AllSorted", func(t *testing.T) {
			testAllSorted(t, open(t, factory))
		})

		t.Run("TTLPassthrough", func(t *testing.T) {
			testTTLPassthrough(t, open(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, open(t, factory))
		})

		if !opts.Bounded {
			t.Run("Many", func(t *testing.T) {
				testMany(t, open(t, factory))
			})
		}

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, open(t, factory))
		})

		t.Run("UseAfterClose", func(t *testing.T) {
			testUseAfterClose(t, factory)
		})

		if opts.Persistent {
			t.Run("Reopen", func(t *testing.T) {
				testReopen(t, factory)
			})
		}
	})
}

func open(t *testing.T, factory Factory) backend.Backend {
	t.Helper()
	b := factory(t)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Clear(context.Background()))
	return b
}

func ttlOf(v int64) *int64 { return &v }

func entry(value string) backend.Entry {
	return backend.Entry{Value: value, Type: codec.TypeString}
}

func testSetGet(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := backend.Entry{Value: `{"age":30}`, Type: codec.TypeObject, TTL: ttlOf(1_700_000_000_000)}
	require.NoError(t, b.Set(ctx, "alice", want))

	got, ok, err := b.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func testOverwrite(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", backend.Entry{Value: "1", Type: codec.TypeNumber, TTL: ttlOf(5)}))
	require.NoError(t, b.Set(ctx, "k", entry(`"two"`)))

	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry(`"two"`), got)
	assert.Nil(t, got.TTL, "overwrite must replace the ttl")
}

func testDelete(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", entry(`"v"`)))
	require.NoError(t, b.Delete(ctx, "k"))

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error
	require.NoError(t, b.Delete(ctx, "k"))
}

func testHas(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	ok, err := b.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Backends never evaluate expiry
	require.NoError(t, b.Set(ctx, "k", backend.Entry{Value: "null", Type: codec.TypeNull, TTL: ttlOf(1)}))
	ok, err = b.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testClear(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Set(ctx, fmt.Sprintf("k%d", i), entry(`"v"`)))
	}
	require.NoError(t, b.Clear(ctx))

	items, err := b.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	// The table stays usable
	require.NoError(t, b.Set(ctx, "after", entry(`"v"`)))
	ok, err := b.Has(ctx, "after")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testAllSorted(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	for _, k := range []string{"charlie", "alice", "bob", "Zed", "alice2"} {
		require.NoError(t, b.Set(ctx, k, entry(`"`+k+`"`)))
	}

	items, err := b.All(ctx)
	require.NoError(t, err)

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
		assert.Equal(t, `"`+it.Key+`"`, it.Value)
	}
	assert.Equal(t, []string{"Zed", "alice", "alice2", "bob", "charlie"}, keys)
}

func testTTLPassthrough(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "expired", backend.Entry{Value: "1", Type: codec.TypeNumber, TTL: ttlOf(1)}))
	require.NoError(t, b.Set(ctx, "forever", backend.Entry{Value: "2", Type: codec.TypeNumber}))

	items, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "expired", items[0].Key)
	require.NotNil(t, items[0].TTL)
	assert.Equal(t, int64(1), *items[0].TTL)
	assert.Nil(t, items[1].TTL)
}

func testEdgeCases(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	keys := []string{"with space", "ünïcödé", "slash/and:colon", "quote'\"", "emoji🙂"}
	for _, k := range keys {
		require.NoError(t, b.Set(ctx, k, entry(`"x"`)), "key %q", k)
		got, ok, err := b.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, "key %q", k)
		assert.Equal(t, `"x"`, got.Value)
	}

	large := make([]byte, 64<<10)
	for i := range large {
		large[i] = 'a' + byte(i%26)
	}
	require.NoError(t, b.Set(ctx, "large", entry(`"`+string(large)+`"`)))
	got, ok, err := b.Get(ctx, "large")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Value, len(large)+2)

	require.NoError(t, b.Set(ctx, "empty", entry(`""`)))
	got, ok, err = b.Get(ctx, "empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `""`, got.Value)
}

func testMany(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	const n = 200

	for i := 0; i < n; i++ {
		require.NoError(t, b.Set(ctx, fmt.Sprintf("key-%04d", i), entry(fmt.Sprintf(`"%d"`, i))))
	}
	items, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, n)
	assert.Equal(t, "key-0000", items[0].Key)
	assert.Equal(t, fmt.Sprintf("key-%04d", n-1), items[n-1].Key)
}

func testConcurrent(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := b.Set(ctx, key, entry(`"v"`)); err != nil {
					errs <- err
					return
				}
				if _, _, err := b.Get(ctx, key); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent access failed: %v", err)
	}
}

func testReopen(t *testing.T, factory Factory) {
	ctx := context.Background()

	first := factory(t)
	require.NoError(t, first.Connect(ctx))
	require.NoError(t, first.Clear(ctx))
	require.NoError(t, first.Set(ctx, "persisted", backend.Entry{Value: "42", Type: codec.TypeNumber, TTL: ttlOf(99)}))
	require.NoError(t, first.Close())

	second := factory(t)
	require.NoError(t, second.Connect(ctx))
	t.Cleanup(func() { _ = second.Close() })

	got, ok, err := second.Get(ctx, "persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, backend.Entry{Value: "42", Type: codec.TypeNumber, TTL: ttlOf(99)}, got)
}

func testUseAfterClose(t *testing.T, factory Factory) {
	ctx := context.Background()

	b := factory(t)
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close(), "second close is a no-op")

	calls := map[string]func() error{
		"set":    func() error { return b.Set(ctx, "k", entry(`"v"`)) },
		"get":    func() error { _, _, err := b.Get(ctx, "k"); return err },
		"delete": func() error { return b.Delete(ctx, "k") },
		"clear":  func() error { return b.Clear(ctx) },
		"has":    func() error { _, err := b.Has(ctx, "k"); return err },
		"all":    func() error { _, err := b.All(ctx); return err },
	}
	for op, call := range calls {
		err := call()
		if !errors.Is(err, kverrors.ErrClosed) {
			t.Errorf("%s after close: got %v, want %v", op, err, kverrors.ErrClosed)
		}
		assert.True(t, kverrors.IsBackendUnavailable(err), "%s after close", op)
	}
}
