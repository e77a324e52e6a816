package collection

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// keyLocks hands out one mutex per key. Entries are reference counted and
// removed when the last holder unlocks, so the table stays proportional to the
// number of keys currently in use.
type keyLocks struct {
	m *xsync.MapOf[string, *keyLock]
}

type keyLock struct {
	mu   sync.Mutex
	refs int // guarded by the map bucket inside Compute
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: xsync.NewMapOf[string, *keyLock]()}
}

// lock blocks until key is held and returns the matching unlock
func (l *keyLocks) lock(key string) func() {
	kl, _ := l.m.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			old = &keyLock{}
		}
		old.refs++
		return old, false
	})
	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		l.m.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
			if !loaded {
				return nil, true
			}
			old.refs--
			return old, old.refs == 0
		})
	}
}

// size reports how many keys are locked or awaited
func (l *keyLocks) size() int {
	return l.m.Size()
}

func noopUnlock() {}
