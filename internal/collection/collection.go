// Package collection implements named keyspaces on top of a storage backend.
//
// A Collection validates keys, encodes values with the type-preserving codec,
// optionally encrypts them, stamps absolute expiry times and notifies observers.
// Expired entries are removed lazily: the first Get after expiry deletes the
// entry and reports it absent. Has deliberately ignores expiry and All filters
// expired entries without deleting them.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neogan74/quickkv/internal/backend"
	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
	"github.com/neogan74/quickkv/internal/sealer"
	"github.com/neogan74/quickkv/internal/ttl"
	"github.com/neogan74/quickkv/internal/watch"
)

// MaxKeyLength is the longest accepted key in bytes
const MaxKeyLength = 1024

const tracerName = "github.com/neogan74/quickkv/internal/collection"

// Options configures a Collection
type Options struct {
	// Codec controls number handling and the decode fallback
	Codec codec.Options
	// Secret enables value-level encryption. Ignored when Sealer is set.
	Secret string
	Sealer *sealer.Sealer
	// DisableKeyLocks turns off per-key serialization of read-modify-write
	// operations. Concurrent Push or Increment calls on one key may then lose updates.
	DisableKeyLocks bool
	// MaxObservers limits Subscribe; zero means unlimited
	MaxObservers int
	// Clock overrides time.Now for expiry decisions
	Clock  func() time.Time
	Logger logger.Logger
}

// Item is a decoded entry returned by All and Fetch
type Item struct {
	Key   string
	Value any
	Type  codec.TypeTag
	// TTL is the absolute expiry in milliseconds since the epoch, nil for none
	TTL *int64
}

// Collection is a named keyspace owning one backend
type Collection struct {
	name      string
	backend   backend.Backend
	codec     *codec.Codec
	sealer    *sealer.Sealer
	locks     *keyLocks
	observers *watch.Manager
	now       func() time.Time
	log       logger.Logger
	tracer    trace.Tracer
}

// New wraps a connected backend as a collection
func New(name string, b backend.Backend, opts Options) (*Collection, error) {
	if err := backend.ValidateTable(name); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("collection %s: nil backend", name)
	}

	log := logger.OrDefault(opts.Logger).WithCollection(name)

	s := opts.Sealer
	if s == nil && opts.Secret != "" {
		var err error
		if s, err = sealer.New(opts.Secret); err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
	}

	codecOpts := opts.Codec
	if codecOpts.Logger == nil {
		codecOpts.Logger = log
	}

	c := &Collection{
		name:      name,
		backend:   b,
		codec:     codec.New(codecOpts),
		sealer:    s,
		observers: watch.NewManager(log, opts.MaxObservers),
		now:       opts.Clock,
		log:       log,
		tracer:    otel.Tracer(tracerName),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if !opts.DisableKeyLocks {
		c.locks = newKeyLocks()
	}
	return c, nil
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// Backend returns the underlying backend
func (c *Collection) Backend() backend.Backend { return c.backend }

// SetOption customizes a write
type SetOption func(*setConfig)

type setConfig struct {
	expiresAt func(now time.Time) *int64
}

// WithTTL expires the entry d after the write. A non-positive d writes an
// entry that is already expired.
func WithTTL(d time.Duration) SetOption {
	return func(cfg *setConfig) {
		cfg.expiresAt = func(now time.Time) *int64 { return ttl.ExpiresAt(d, now) }
	}
}

// WithExpiresAt expires the entry at an absolute time
func WithExpiresAt(t time.Time) SetOption {
	return func(cfg *setConfig) {
		cfg.expiresAt = func(time.Time) *int64 {
			at := t.UnixMilli()
			return &at
		}
	}
}

// Set stores value under key
func (c *Collection) Set(ctx context.Context, key string, value any, opts ...SetOption) (err error) {
	ctx, done := c.observe(ctx, "set", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return err
	}
	e, err := c.encode(value)
	if err != nil {
		return err
	}
	e.TTL = c.resolveTTL(opts)

	return c.withKey(key, func(ev *events) error {
		return c.write(ctx, key, e, value, ev)
	})
}

// Get returns the value under key. Absent and expired keys report false; an
// expired entry is deleted on the way.
func (c *Collection) Get(ctx context.Context, key string) (value any, found bool, err error) {
	ctx, done := c.observe(ctx, "get", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	e, found, err := c.backend.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if ttl.IsExpiredAt(e.TTL, c.now()) {
		return nil, false, c.evict(ctx, key)
	}
	return c.decode(e)
}

// GetInto decodes the value under key into dst, which must be a pointer
func (c *Collection) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	v, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, &kverrors.TypeMismatchError{Key: key, Op: "get", Expected: fmt.Sprintf("%T", dst), Actual: string(codec.TypeOf(v))}
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Collection) Delete(ctx context.Context, key string) (err error) {
	ctx, done := c.observe(ctx, "delete", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return err
	}

	return c.deleteKey(ctx, key)
}

// Clear removes every entry
func (c *Collection) Clear(ctx context.Context) (err error) {
	ctx, done := c.observe(ctx, "clear", "")
	defer done(&err)

	if err := c.backend.Clear(ctx); err != nil {
		return err
	}
	c.notify(watch.NewEvent(watch.EventTypeClear, c.name, "", nil))
	return nil
}

// Has reports whether an entry is stored under key. It does not evaluate
// expiry, so an expired entry that has not been read yet still counts.
func (c *Collection) Has(ctx context.Context, key string) (found bool, err error) {
	ctx, done := c.observe(ctx, "has", key)
	defer done(&err)

	if err := validateKey(key); err != nil {
		return false, err
	}
	return c.backend.Has(ctx, key)
}

// All returns every live entry sorted by key. Expired entries are skipped but not deleted.
func (c *Collection) All(ctx context.Context) (items []Item, err error) {
	ctx, done := c.observe(ctx, "all", "")
	defer done(&err)

	stored, err := c.backend.All(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	items = make([]Item, 0, len(stored))
	for _, it := range stored {
		if ttl.IsExpiredAt(it.TTL, now) {
			continue
		}
		v, _, err := c.decode(it.Entry)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Key: it.Key, Value: v, Type: it.Type, TTL: it.TTL})
	}
	return items, nil
}

// Fetch returns the live entries for which filter reports true
func (c *Collection) Fetch(ctx context.Context, filter func(Item) bool) ([]Item, error) {
	items, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if filter(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Keys returns the keys of every live entry in order
func (c *Collection) Keys(ctx context.Context) ([]string, error) {
	items, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys, nil
}

// Len counts the live entries
func (c *Collection) Len(ctx context.Context) (int, error) {
	items, err := c.All(ctx)
	return len(items), err
}

// Subscribe registers handler for changes to keys matching pattern.
// Handlers run synchronously after the change is stored and the key is
// unlocked, so a handler may write the key it observes.
func (c *Collection) Subscribe(pattern string, handler watch.Handler) (string, error) {
	return c.observers.Add(pattern, handler)
}

// Unsubscribe removes an observer
func (c *Collection) Unsubscribe(id string) error {
	return c.observers.Remove(id)
}

// Restore reloads the collection from the backend's backup
func (c *Collection) Restore(ctx context.Context) (err error) {
	ctx, done := c.observe(ctx, "restore", "")
	defer done(&err)

	r, ok := c.backend.(backend.Restorer)
	if !ok {
		return fmt.Errorf("%s backend restore: %w", c.backend.Name(), kverrors.ErrUnsupported)
	}
	if err := r.Restore(ctx); err != nil {
		return err
	}
	c.log.Info("Collection restored from backup")
	return nil
}

// Close drops observers and closes the backend
func (c *Collection) Close() error {
	c.observers.Close()
	return c.backend.Close()
}

// evict deletes an expired entry. The entry is read again under the key lock
// so a concurrent fresh write is never removed.
func (c *Collection) evict(ctx context.Context, key string) error {
	return c.withKey(key, func(ev *events) error {
		e, found, err := c.backend.Get(ctx, key)
		if err != nil || !found || !ttl.IsExpiredAt(e.TTL, c.now()) {
			return err
		}
		return c.evictLocked(ctx, key, ev)
	})
}

func (c *Collection) evictLocked(ctx context.Context, key string, ev *events) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return err
	}
	metrics.LazyEvictionsTotal.WithLabelValues(c.name).Inc()
	c.log.Debug("Expired entry evicted", logger.String("key", key))

	event := watch.NewEvent(watch.EventTypeDelete, c.name, key, nil)
	event.Expired = true
	ev.add(event)
	return nil
}

// load reads a live entry while the caller holds the key lock
func (c *Collection) load(ctx context.Context, key string, ev *events) (any, backend.Entry, bool, error) {
	e, found, err := c.backend.Get(ctx, key)
	if err != nil || !found {
		return nil, backend.Entry{}, false, err
	}
	if ttl.IsExpiredAt(e.TTL, c.now()) {
		return nil, backend.Entry{}, false, c.evictLocked(ctx, key, ev)
	}
	v, _, err := c.decode(e)
	if err != nil {
		return nil, backend.Entry{}, false, err
	}
	return v, e, true, nil
}

func (c *Collection) encode(value any) (backend.Entry, error) {
	stored, tag, err := c.codec.Encode(value)
	if err != nil {
		return backend.Entry{}, err
	}
	if c.sealer != nil {
		if stored, err = c.sealer.EncryptString(stored); err != nil {
			return backend.Entry{}, err
		}
	}
	return backend.Entry{Value: stored, Type: tag}, nil
}

func (c *Collection) decode(e backend.Entry) (any, bool, error) {
	stored := e.Value
	if c.sealer != nil {
		plain, err := c.sealer.DecryptString(stored)
		if err != nil {
			return nil, false, err
		}
		stored = plain
	}
	return c.codec.Decode(stored, e.Type), true, nil
}

// write stores a prepared entry and queues its event. The caller holds the key lock.
func (c *Collection) write(ctx context.Context, key string, e backend.Entry, value any, ev *events) error {
	if err := c.backend.Set(ctx, key, e); err != nil {
		return err
	}
	ev.add(watch.NewEvent(watch.EventTypeSet, c.name, key, value))
	return nil
}

func (c *Collection) deleteKey(ctx context.Context, key string) error {
	return c.withKey(key, func(ev *events) error {
		if err := c.backend.Delete(ctx, key); err != nil {
			return err
		}
		ev.add(watch.NewEvent(watch.EventTypeDelete, c.name, key, nil))
		return nil
	})
}

func (c *Collection) resolveTTL(opts []SetOption) *int64 {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expiresAt == nil {
		return nil
	}
	return cfg.expiresAt(c.now())
}

func (c *Collection) notify(event watch.Event) {
	c.observers.Notify(event)
}

func (c *Collection) lock(key string) func() {
	if c.locks == nil {
		return noopUnlock
	}
	return c.locks.lock(key)
}

// events collects the notifications of a locked section
type events []watch.Event

func (ev *events) add(e watch.Event) { *ev = append(*ev, e) }

// withKey runs fn while holding the lock for key. Events queued by fn are
// delivered after the lock is released, including when fn fails part way.
func (c *Collection) withKey(key string, fn func(*events) error) error {
	var ev events
	err := func() error {
		unlock := c.lock(key)
		defer unlock()
		return fn(&ev)
	}()
	for _, e := range ev {
		c.notify(e)
	}
	return err
}

// observe starts a span and returns a function that ends it and records metrics
func (c *Collection) observe(ctx context.Context, op, key string) (context.Context, func(*error)) {
	start := time.Now()

	attrs := []attribute.KeyValue{
		attribute.String("quickkv.collection", c.name),
		attribute.String("quickkv.backend", c.backend.Name()),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("quickkv.key", key))
	}
	ctx, span := c.tracer.Start(ctx, "collection."+op, trace.WithAttributes(attrs...))

	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		metrics.CollectionOperationsTotal.WithLabelValues(c.name, op, metrics.Status(err)).Inc()
		metrics.CollectionOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func validateKey(key string) error {
	switch {
	case key == "":
		return kverrors.InvalidKey(key, "key must not be empty")
	case len(key) > MaxKeyLength:
		return kverrors.InvalidKey(truncate(key, 32)+"...", fmt.Sprintf("key exceeds %d bytes", MaxKeyLength))
	case !utf8.ValidString(key):
		return kverrors.InvalidKey(key, "key is not valid UTF-8")
	}
	return nil
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
