package watch

import (
	"errors"
	"sync"
	"testing"

	"github.com/neogan74/quickkv/internal/logger"
)

func newTestManager(max int) *Manager {
	return NewManager(logger.NewNop(), max)
}

func TestManager_Add(t *testing.T) {
	manager := newTestManager(0)

	id, err := manager.Add("users/alice", func(Event) {})
	if err != nil {
		t.Fatalf("Failed to add observer: %v", err)
	}
	if id == "" {
		t.Fatal("Expected observer ID")
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 observer, got %d", manager.Count())
	}
}

func TestManager_AddInvalid(t *testing.T) {
	manager := newTestManager(0)

	if _, err := manager.Add("users", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Expected ErrNilHandler, got %v", err)
	}
	for _, pattern := range []string{"", "[", "a**b", "**x**"} {
		if _, err := manager.Add(pattern, func(Event) {}); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Pattern %q: expected ErrInvalidPattern, got %v", pattern, err)
		}
	}
	if manager.Count() != 0 {
		t.Errorf("Expected no observers, got %d", manager.Count())
	}
}

func TestManager_Remove(t *testing.T) {
	manager := newTestManager(0)

	called := false
	id, _ := manager.Add("k", func(Event) { called = true })

	if err := manager.Remove(id); err != nil {
		t.Fatalf("Failed to remove observer: %v", err)
	}
	if manager.Count() != 0 {
		t.Errorf("Expected 0 observers, got %d", manager.Count())
	}

	manager.Notify(NewEvent(EventTypeSet, "c", "k", 1.0))
	if called {
		t.Error("Removed observer must not be notified")
	}

	if err := manager.Remove(id); !errors.Is(err, ErrObserverNotFound) {
		t.Errorf("Expected ErrObserverNotFound, got %v", err)
	}
}

func TestManager_MaxObservers(t *testing.T) {
	manager := newTestManager(2)

	for i := 0; i < 2; i++ {
		if _, err := manager.Add("k", func(Event) {}); err != nil {
			t.Fatalf("Failed to add observer %d: %v", i, err)
		}
	}
	if _, err := manager.Add("k", func(Event) {}); !errors.Is(err, ErrTooManyObservers) {
		t.Errorf("Expected ErrTooManyObservers, got %v", err)
	}
}

func TestManager_NotifyOrderAndFiltering(t *testing.T) {
	manager := newTestManager(0)

	var got []string
	manager.Add("users/alice", func(e Event) { got = append(got, "exact:"+e.Key) })
	manager.Add("users/*", func(e Event) { got = append(got, "single:"+e.Key) })
	manager.Add("users/**", func(e Event) { got = append(got, "prefix:"+e.Key) })
	manager.Add("orders/*", func(e Event) { got = append(got, "orders:"+e.Key) })

	n := manager.Notify(NewEvent(EventTypeSet, "app", "users/alice", "v"))
	if n != 3 {
		t.Errorf("Expected 3 notified, got %d", n)
	}

	want := []string{"exact:users/alice", "single:users/alice", "prefix:users/alice"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	got = nil
	manager.Notify(NewEvent(EventTypeDelete, "app", "users/alice/settings", nil))
	if len(got) != 1 || got[0] != "prefix:users/alice/settings" {
		t.Errorf("Expected only the ** observer, got %v", got)
	}
}

func TestManager_ClearReachesEveryObserver(t *testing.T) {
	manager := newTestManager(0)

	count := 0
	manager.Add("a", func(Event) { count++ })
	manager.Add("b/*", func(Event) { count++ })

	manager.Notify(NewEvent(EventTypeClear, "app", "", nil))
	if count != 2 {
		t.Errorf("Expected 2 clear deliveries, got %d", count)
	}
}

func TestManager_PanickingHandler(t *testing.T) {
	manager := newTestManager(0)

	reached := false
	manager.Add("k", func(Event) { panic("boom") })
	manager.Add("k", func(Event) { reached = true })

	n := manager.Notify(NewEvent(EventTypeSet, "app", "k", 1.0))
	if !reached {
		t.Error("Observers after a panicking handler must still run")
	}
	if n != 1 {
		t.Errorf("Expected 1 successful delivery, got %d", n)
	}
}

func TestManager_HandlerMayUnsubscribe(t *testing.T) {
	manager := newTestManager(0)

	var id string
	calls := 0
	id, _ = manager.Add("k", func(Event) {
		calls++
		manager.Remove(id)
	})

	manager.Notify(NewEvent(EventTypeSet, "app", "k", 1.0))
	manager.Notify(NewEvent(EventTypeSet, "app", "k", 2.0))
	if calls != 1 {
		t.Errorf("Expected one call before unsubscribing, got %d", calls)
	}
}

func TestManager_ConcurrentNotify(t *testing.T) {
	manager := newTestManager(0)

	var mu sync.Mutex
	total := 0
	manager.Add("**", func(Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Notify(NewEvent(EventTypeSet, "app", "k", nil))
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Errorf("Expected 50 deliveries, got %d", total)
	}
}

func TestManager_Close(t *testing.T) {
	manager := newTestManager(0)
	manager.Add("a", func(Event) {})
	manager.Add("b", func(Event) {})

	manager.Close()
	if manager.Count() != 0 {
		t.Errorf("Expected 0 observers after close, got %d", manager.Count())
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		key     string
		pattern string
		want    bool
	}{
		{"app/config", "app/config", true},
		{"app/config", "app/other", false},
		{"app/config", "app/*", true},
		{"app/config/db", "app/*", false},
		{"app/config/db", "app/**", true},
		{"app", "app/**", false},
		{"anything", "**", true},
		{"user_1", "user_?", true},
		{"user_12", "user_?", false},
	}

	for _, tt := range tests {
		if got := MatchPattern(tt.key, tt.pattern); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.key, tt.pattern, got, tt.want)
		}
	}
}
