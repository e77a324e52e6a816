package watch

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
)

// Manager keeps observers in registration order and notifies the matching ones
type Manager struct {
	observers    []*Observer
	mu           sync.RWMutex
	log          logger.Logger
	maxObservers int
}

// NewManager creates a new observer registry. maxObservers <= 0 means unlimited.
func NewManager(log logger.Logger, maxObservers int) *Manager {
	return &Manager{
		log:          logger.OrDefault(log),
		maxObservers: maxObservers,
	}
}

// Add registers handler for keys matching pattern and returns the observer ID
func (wm *Manager) Add(pattern string, handler Handler) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}
	if err := ValidatePattern(pattern); err != nil {
		return "", err
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.maxObservers > 0 && len(wm.observers) >= wm.maxObservers {
		wm.log.Warn("Observer limit reached",
			logger.Int("current", len(wm.observers)),
			logger.Int("max", wm.maxObservers))
		return "", ErrTooManyObservers
	}

	obs := &Observer{
		ID:        uuid.New().String(),
		Pattern:   pattern,
		Handler:   handler,
		CreatedAt: time.Now(),
	}
	wm.observers = append(wm.observers, obs)
	metrics.ObserversActive.Inc()

	wm.log.Debug("Observer added",
		logger.String("id", obs.ID),
		logger.String("pattern", pattern))

	return obs.ID, nil
}

// Remove unregisters an observer by ID
func (wm *Manager) Remove(id string) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	i := slices.IndexFunc(wm.observers, func(o *Observer) bool { return o.ID == id })
	if i < 0 {
		return ErrObserverNotFound
	}
	wm.observers = slices.Delete(wm.observers, i, i+1)
	metrics.ObserversActive.Dec()

	wm.log.Debug("Observer removed", logger.String("id", id))
	return nil
}

// Notify calls every matching handler in registration order. The observer list
// is snapshotted first, so handlers may add or remove observers. A panicking
// handler is logged and skipped.
func (wm *Manager) Notify(event Event) int {
	wm.mu.RLock()
	var matched []*Observer
	for _, obs := range wm.observers {
		if event.Type == EventTypeClear || MatchPattern(event.Key, obs.Pattern) {
			matched = append(matched, obs)
		}
	}
	wm.mu.RUnlock()

	notified := 0
	for _, obs := range matched {
		if wm.deliver(obs, event) {
			notified++
		}
	}

	if len(matched) > 0 {
		metrics.WatchEventsTotal.WithLabelValues(string(event.Type)).Add(float64(notified))
		wm.log.Debug("Change event notified",
			logger.String("key", event.Key),
			logger.String("event_type", string(event.Type)),
			logger.Int("notified", notified))
	}
	return notified
}

func (wm *Manager) deliver(obs *Observer, event Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WatchHandlerPanicsTotal.Inc()
			wm.log.Error("Observer handler panicked",
				logger.String("observer_id", obs.ID),
				logger.String("key", event.Key),
				logger.String("panic", fmt.Sprint(r)))
			ok = false
		}
	}()
	obs.Handler(event)
	return true
}

// Count returns the number of registered observers
func (wm *Manager) Count() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.observers)
}

// Close removes all observers
func (wm *Manager) Close() {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	metrics.ObserversActive.Sub(float64(len(wm.observers)))
	wm.observers = nil
}

// ValidatePattern rejects empty and malformed patterns
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if strings.Contains(pattern, "**") {
		if !strings.HasSuffix(pattern, "**") || strings.Count(pattern, "**") > 1 {
			return fmt.Errorf("%w: ** is only allowed as a suffix: %q", ErrInvalidPattern, pattern)
		}
		return nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return nil
}

// MatchPattern checks if a key matches a watch pattern.
// "**" as a suffix matches any remainder; "*" matches within one path segment.
func MatchPattern(key, pattern string) bool {
	// Exact match
	if key == pattern {
		return true
	}

	// No wildcards - only exact match works
	if !strings.ContainsAny(pattern, "*?[") {
		return false
	}

	if strings.HasSuffix(pattern, "**") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "**"))
	}

	matched, err := filepath.Match(pattern, key)
	return err == nil && matched
}
