package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neogan74/quickkv/internal/kverrors"
)

// CacheBackend is a bounded in-memory store that evicts the least recently used entry
type CacheBackend struct {
	cache  *lru.Cache[string, Entry]
	closed atomic.Bool
}

// NewCacheBackend creates a cache holding at most size entries
func NewCacheBackend(size int) (*CacheBackend, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CacheBackend{cache: cache}, nil
}

func (c *CacheBackend) Name() string { return DriverCache }

func (c *CacheBackend) Connect(context.Context) error {
	c.closed.Store(false)
	return nil
}

func (c *CacheBackend) Close() error {
	c.closed.Store(true)
	c.cache.Purge()
	return nil
}

func (c *CacheBackend) Set(_ context.Context, key string, e Entry) error {
	if err := c.check("set"); err != nil {
		return err
	}
	c.cache.Add(key, copyEntry(e))
	return nil
}

func (c *CacheBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	if err := c.check("get"); err != nil {
		return Entry{}, false, err
	}
	e, ok := c.cache.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (c *CacheBackend) Delete(_ context.Context, key string) error {
	if err := c.check("delete"); err != nil {
		return err
	}
	c.cache.Remove(key)
	return nil
}

func (c *CacheBackend) Clear(context.Context) error {
	if err := c.check("clear"); err != nil {
		return err
	}
	c.cache.Purge()
	return nil
}

// Has does not refresh recency
func (c *CacheBackend) Has(_ context.Context, key string) (bool, error) {
	if err := c.check("has"); err != nil {
		return false, err
	}
	return c.cache.Contains(key), nil
}

func (c *CacheBackend) All(context.Context) ([]Item, error) {
	if err := c.check("all"); err != nil {
		return nil, err
	}
	keys := c.cache.Keys()
	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		if e, ok := c.cache.Peek(key); ok {
			items = append(items, Item{Key: key, Entry: copyEntry(e)})
		}
	}
	sortItems(items)
	return items, nil
}

func (c *CacheBackend) check(op string) error {
	if c.closed.Load() {
		return kverrors.Backend(DriverCache, op, kverrors.ErrClosed)
	}
	return nil
}
