package services

import (
	"sync"
	"testing"
)

func TestRoomLocksSerializePerKey(t *testing.T) {
	locks := newRoomLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("conversation:1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if size := locks.size(); size != 0 {
		t.Fatalf("expected idle locks to be released, %d left", size)
	}
}

func TestRoomLocksIndependentKeys(t *testing.T) {
	locks := newRoomLocks()

	unlockA := locks.lock("conversation:1")
	done := make(chan struct{})
	go func() {
		unlock := locks.lock("group:1")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
