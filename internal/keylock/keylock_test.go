package keylock

import (
	"sync"
	"testing"
)

func TestSerializesSameKey(t *testing.T) {
	m := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("user-001")
			defer m.Unlock("user-001")
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100 serialized increments, got %d", counter)
	}
}

func TestIndependentKeys(t *testing.T) {
	m := New()

	m.Lock("user-001")
	defer m.Unlock("user-001")

	done := make(chan struct{})
	go func() {
		m.Lock("user-002")
		m.Unlock("user-002")
		close(done)
	}()

	// Must not block on the other key's lock.
	<-done
}

func TestEntriesReclaimed(t *testing.T) {
	m := New()

	for i := 0; i < 10; i++ {
		m.Lock("user-001")
		m.Unlock("user-001")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Errorf("expected lock map to be empty, got %d entries", len(m.locks))
	}
}

func TestUnlockUnknownKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unlock of unheld key")
		}
	}()

	New().Unlock("nope")
}
