package collection

import (
	"context"
	"maps"
	"slices"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
)

// Read-modify-write operations keep the TTL of the entry they modify. An
// expired entry counts as absent and the rewritten entry has no TTL.

// Push appends value to the sequence under key and returns the new length.
// An absent key starts from an empty sequence.
func (c *Collection) Push(ctx context.Context, key string, value any) (n int, err error) {
	ctx, done := c.observe(ctx, "push", key)
	defer done(&err)

	return c.modifySequence(ctx, key, "push", func(seq []any) []any {
		return append(seq, value)
	})
}

// Unshift prepends value to the sequence under key and returns the new length
func (c *Collection) Unshift(ctx context.Context, key string, value any) (n int, err error) {
	ctx, done := c.observe(ctx, "unshift", key)
	defer done(&err)

	return c.modifySequence(ctx, key, "unshift", func(seq []any) []any {
		return append([]any{value}, seq...)
	})
}

// Shift removes and returns the first element of the sequence under key.
// It reports false when the key is absent or the sequence is empty.
func (c *Collection) Shift(ctx context.Context, key string) (first any, found bool, err error) {
	ctx, done := c.observe(ctx, "shift", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	err = c.withKey(key, func(ev *events) error {
		seq, prev, err := c.loadSequence(ctx, key, "shift", ev)
		if err != nil || len(seq) == 0 {
			return err
		}
		if err := c.rewrite(ctx, key, seq[1:], prev.TTL, ev); err != nil {
			return err
		}
		first, found = seq[0], true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return first, found, nil
}

// Update shallow-merges partial into the record under key and returns the
// merged record. An absent key starts from an empty record.
func (c *Collection) Update(ctx context.Context, key string, partial map[string]any) (merged map[string]any, err error) {
	ctx, done := c.observe(ctx, "update", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return nil, err
	}

	err = c.withKey(key, func(ev *events) error {
		v, prev, found, err := c.load(ctx, key, ev)
		if err != nil {
			return err
		}

		record := map[string]any{}
		if found {
			m, ok := v.(map[string]any)
			if !ok {
				return mismatch(key, "update", codec.TypeObject, prev.Type)
			}
			// The decoded map may be the codec's shared fallback
			maps.Copy(record, m)
		}
		maps.Copy(record, partial)

		if err := c.rewrite(ctx, key, record, prev.TTL, ev); err != nil {
			return err
		}
		merged = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Increment adds amount to the number under key and returns the result.
// Absent and non-numeric values count as zero.
func (c *Collection) Increment(ctx context.Context, key string, amount float64) (result float64, err error) {
	ctx, done := c.observe(ctx, "increment", key)
	defer done(&err)

	return c.addNumber(ctx, key, amount)
}

// Decrement subtracts amount from the number under key and returns the result
func (c *Collection) Decrement(ctx context.Context, key string, amount float64) (result float64, err error) {
	ctx, done := c.observe(ctx, "decrement", key)
	defer done(&err)

	return c.addNumber(ctx, key, -amount)
}

// BatchEntry is one write of BatchSet
type BatchEntry struct {
	Key     string
	Value   any
	Options []SetOption
}

// BatchSet validates and encodes every entry before writing any of them, then
// writes them in order. A backend failure stops the batch; earlier writes stay.
func (c *Collection) BatchSet(ctx context.Context, entries []BatchEntry) (err error) {
	ctx, done := c.observe(ctx, "batch_set", "")
	defer done(&err)

	prepared := make([]backend.Entry, len(entries))
	for i, be := range entries {
		if err := validateKey(be.Key); err != nil {
			return err
		}
		e, err := c.encode(be.Value)
		if err != nil {
			return err
		}
		e.TTL = c.resolveTTL(be.Options)
		prepared[i] = e
	}

	for i, be := range entries {
		if err := c.writeLocked(ctx, be.Key, prepared[i], be.Value); err != nil {
			return err
		}
	}
	return nil
}

// BatchDelete validates every key before deleting any, then deletes them in order
func (c *Collection) BatchDelete(ctx context.Context, keys []string) (err error) {
	ctx, done := c.observe(ctx, "batch_delete", "")
	defer done(&err)

	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return err
		}
	}

	for _, key := range keys {
		if err := c.deleteKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) writeLocked(ctx context.Context, key string, e backend.Entry, value any) error {
	return c.withKey(key, func(ev *events) error {
		return c.write(ctx, key, e, value, ev)
	})
}

func (c *Collection) modifySequence(ctx context.Context, key, op string, fn func([]any) []any) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	var n int
	err := c.withKey(key, func(ev *events) error {
		seq, prev, err := c.loadSequence(ctx, key, op, ev)
		if err != nil {
			return err
		}

		seq = fn(seq)
		if err := c.rewrite(ctx, key, seq, prev.TTL, ev); err != nil {
			return err
		}
		n = len(seq)
		return nil
	})
	return n, err
}

// loadSequence reads a private copy of the sequence under key. The caller
// holds the key lock.
func (c *Collection) loadSequence(ctx context.Context, key, op string, ev *events) ([]any, backend.Entry, error) {
	v, prev, found, err := c.load(ctx, key, ev)
	if err != nil {
		return nil, backend.Entry{}, err
	}
	if !found {
		return []any{}, backend.Entry{}, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, backend.Entry{}, mismatch(key, op, codec.TypeArray, prev.Type)
	}
	return slices.Clone(seq), prev, nil
}

func (c *Collection) addNumber(ctx context.Context, key string, delta float64) (float64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	var result float64
	err := c.withKey(key, func(ev *events) error {
		v, prev, _, err := c.load(ctx, key, ev)
		if err != nil {
			return err
		}

		current, _ := v.(float64)
		if err := c.rewrite(ctx, key, current+delta, prev.TTL, ev); err != nil {
			return err
		}
		result = current + delta
		return nil
	})
	return result, err
}

// rewrite encodes value and stores it with the given TTL. The caller holds the key lock.
func (c *Collection) rewrite(ctx context.Context, key string, value any, expiresAt *int64, ev *events) error {
	e, err := c.encode(value)
	if err != nil {
		return err
	}
	e.TTL = expiresAt
	return c.write(ctx, key, e, value, ev)
}

func mismatch(key, op string, expected, actual codec.TypeTag) error {
	return &kverrors.TypeMismatchError{
		Key:      key,
		Op:       op,
		Expected: string(expected),
		Actual:   string(actual),
	}
}
