package engine

import (
	"sync"
	"testing"
)

func TestActionLocksSerializeSameAction(t *testing.T) {
	al := newActionLocks()

	const workers = 16
	counter := 0
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			al.lock("a1")
			defer al.unlock("a1")
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected %d serialized increments, got %d", workers, counter)
	}
}

func TestActionLocksReclaimIdleEntries(t *testing.T) {
	al := newActionLocks()

	al.lock("a1")
	al.lock("a2")
	al.unlock("a1")
	al.unlock("a2")

	al.mu.Lock()
	n := len(al.locks)
	al.mu.Unlock()
	if n != 0 {
		t.Fatalf("idle locks must be reclaimed, %d left", n)
	}
}

func TestActionLocksIndependentActions(t *testing.T) {
	al := newActionLocks()

	al.lock("a1")
	done := make(chan struct{})
	go func() {
		al.lock("a2")
		al.unlock("a2")
		close(done)
	}()
	<-done
	al.unlock("a1")
}
