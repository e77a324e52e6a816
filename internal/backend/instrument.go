package backend

import (
	"context"
	"fmt"

	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/metrics"
)

// Instrumented counts every backend call by driver, operation and outcome
type Instrumented struct {
	Backend
}

// Instrument wraps b with operation metrics
func Instrument(b Backend) *Instrumented {
	if in, ok := b.(*Instrumented); ok {
		return in
	}
	return &Instrumented{Backend: b}
}

func (i *Instrumented) record(op string, err error) {
	metrics.BackendOperationsTotal.WithLabelValues(i.Name(), op, metrics.Status(err)).Inc()
}

func (i *Instrumented) Connect(ctx context.Context) error {
	err := i.Backend.Connect(ctx)
	i.record("connect", err)
	return err
}

func (i *Instrumented) Close() error {
	err := i.Backend.Close()
	i.record("close", err)
	return err
}

func (i *Instrumented) Set(ctx context.Context, key string, e Entry) error {
	err := i.Backend.Set(ctx, key, e)
	i.record("set", err)
	return err
}

func (i *Instrumented) Get(ctx context.Context, key string) (Entry, bool, error) {
	e, ok, err := i.Backend.Get(ctx, key)
	i.record("get", err)
	return e, ok, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	err := i.Backend.Delete(ctx, key)
	i.record("delete", err)
	return err
}

func (i *Instrumented) Clear(ctx context.Context) error {
	err := i.Backend.Clear(ctx)
	i.record("clear", err)
	return err
}

func (i *Instrumented) Has(ctx context.Context, key string) (bool, error) {
	ok, err := i.Backend.Has(ctx, key)
	i.record("has", err)
	return ok, err
}

func (i *Instrumented) All(ctx context.Context) ([]Item, error) {
	items, err := i.Backend.All(ctx)
	i.record("all", err)
	return items, err
}

// Restore delegates to the wrapped backend when it keeps a backup
func (i *Instrumented) Restore(ctx context.Context) error {
	r, ok := i.Backend.(Restorer)
	if !ok {
		return fmt.Errorf("%s backend restore: %w", i.Name(), kverrors.ErrUnsupported)
	}
	err := r.Restore(ctx)
	i.record("restore", err)
	return err
}

// Backup delegates to the wrapped backend when it can write snapshots
func (i *Instrumented) Backup(ctx context.Context, path string) error {
	b, ok := i.Backend.(Backuper)
	if !ok {
		return fmt.Errorf("%s backend backup: %w", i.Name(), kverrors.ErrUnsupported)
	}
	err := b.Backup(ctx, path)
	i.record("backup", err)
	return err
}
