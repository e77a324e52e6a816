package backend

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

// YAMLBackend stores a table as a plain YAML document. Every mutation rewrites
// the whole file; it is meant for small, human-editable tables.
type YAMLBackend struct {
	path string
	log  logger.Logger

	mu        sync.RWMutex
	data      map[string]Entry
	connected bool
}

// NewYAMLBackend creates a YAML backend writing to path
func NewYAMLBackend(path string, log logger.Logger) *YAMLBackend {
	return &YAMLBackend{
		path: path,
		log:  logger.OrDefault(log).WithFields(logger.String("path", path)),
	}
}

func (y *YAMLBackend) Name() string { return DriverYAML }

func (y *YAMLBackend) Connect(context.Context) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.connected {
		return nil
	}

	data := make(map[string]Entry)
	raw, err := os.ReadFile(y.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return kverrors.Backend(DriverYAML, "connect", err)
	default:
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return kverrors.Backend(DriverYAML, "connect", fmt.Errorf("malformed document: %w", err))
		}
		if data == nil {
			data = make(map[string]Entry)
		}
	}

	y.data = data
	y.connected = true
	y.log.Info("YAML backend loaded", logger.Int("entries", len(data)))
	return nil
}

func (y *YAMLBackend) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.connected = false
	y.data = nil
	return nil
}

func (y *YAMLBackend) Set(ctx context.Context, key string, e Entry) error {
	return y.mutate(ctx, "set", func(data map[string]Entry) bool {
		data[key] = copyEntry(e)
		return true
	})
}

func (y *YAMLBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	y.mu.RLock()
	defer y.mu.RUnlock()
	if !y.connected {
		return Entry{}, false, kverrors.Backend(DriverYAML, "get", kverrors.ErrClosed)
	}
	e, ok := y.data[key]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (y *YAMLBackend) Delete(ctx context.Context, key string) error {
	return y.mutate(ctx, "delete", func(data map[string]Entry) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
}

func (y *YAMLBackend) Clear(ctx context.Context) error {
	return y.mutate(ctx, "clear", func(data map[string]Entry) bool {
		clear(data)
		return true
	})
}

func (y *YAMLBackend) Has(_ context.Context, key string) (bool, error) {
	y.mu.RLock()
	defer y.mu.RUnlock()
	if !y.connected {
		return false, kverrors.Backend(DriverYAML, "has", kverrors.ErrClosed)
	}
	_, ok := y.data[key]
	return ok, nil
}

func (y *YAMLBackend) All(context.Context) ([]Item, error) {
	y.mu.RLock()
	defer y.mu.RUnlock()
	if !y.connected {
		return nil, kverrors.Backend(DriverYAML, "all", kverrors.ErrClosed)
	}
	items := make([]Item, 0, len(y.data))
	for key, e := range y.data {
		items = append(items, Item{Key: key, Entry: copyEntry(e)})
	}
	sortItems(items)
	return items, nil
}

func (y *YAMLBackend) mutate(ctx context.Context, op string, fn func(map[string]Entry) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if !y.connected {
		return kverrors.Backend(DriverYAML, op, kverrors.ErrClosed)
	}

	previous := maps.Clone(y.data)
	if !fn(y.data) {
		return nil
	}

	out, err := yaml.Marshal(y.data)
	if err == nil {
		err = writeFileAtomic(y.path, out)
	}
	if err != nil {
		y.data = previous
		return kverrors.Backend(DriverYAML, op, err)
	}
	return nil
}
