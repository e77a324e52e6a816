package backend

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/neogan74/quickkv/internal/kverrors"
)

// MemoryBackend keeps entries in a concurrent map. Nothing survives Close.
type MemoryBackend struct {
	data   *xsync.MapOf[string, Entry]
	closed atomic.Bool
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: xsync.NewMapOf[string, Entry]()}
}

func (m *MemoryBackend) Name() string { return DriverMemory }

func (m *MemoryBackend) Connect(context.Context) error {
	m.closed.Store(false)
	return nil
}

func (m *MemoryBackend) Close() error {
	m.closed.Store(true)
	m.data.Clear()
	return nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, e Entry) error {
	if err := m.check("set"); err != nil {
		return err
	}
	m.data.Store(key, copyEntry(e))
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	if err := m.check("get"); err != nil {
		return Entry{}, false, err
	}
	e, ok := m.data.Load(key)
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	if err := m.check("delete"); err != nil {
		return err
	}
	m.data.Delete(key)
	return nil
}

func (m *MemoryBackend) Clear(context.Context) error {
	if err := m.check("clear"); err != nil {
		return err
	}
	m.data.Clear()
	return nil
}

func (m *MemoryBackend) Has(_ context.Context, key string) (bool, error) {
	if err := m.check("has"); err != nil {
		return false, err
	}
	_, ok := m.data.Load(key)
	return ok, nil
}

func (m *MemoryBackend) All(context.Context) ([]Item, error) {
	if err := m.check("all"); err != nil {
		return nil, err
	}
	items := make([]Item, 0, m.data.Size())
	m.data.Range(func(key string, e Entry) bool {
		items = append(items, Item{Key: key, Entry: copyEntry(e)})
		return true
	})
	sortItems(items)
	return items, nil
}

func (m *MemoryBackend) check(op string) error {
	if m.closed.Load() {
		return kverrors.Backend(DriverMemory, op, kverrors.ErrClosed)
	}
	return nil
}

func sortItems(items []Item) {
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Key, b.Key) })
}
