package collection

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocks_Exclusive(t *testing.T) {
	l := newKeyLocks()

	unlock := l.lock("a")
	acquired := make(chan struct{})
	go func() {
		u := l.lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}
}

func TestKeyLocks_IndependentKeys(t *testing.T) {
	l := newKeyLocks()

	unlockA := l.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		l.lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestKeyLocks_ReleasesEntries(t *testing.T) {
	l := newKeyLocks()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := l.lock([]string{"x", "y", "z"}[i%3])
			unlock()
		}(i)
	}
	wg.Wait()

	if n := l.size(); n != 0 {
		t.Errorf("expected empty lock table, got %d entries", n)
	}
}
