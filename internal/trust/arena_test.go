package trust

import (
	"sync"
	"testing"

	"github.com/nauanbek/saqshy/internal/signal"
)

func TestArenaSerializesPerKey(t *testing.T) {
	t.Parallel()
	a := NewArena()
	key := signal.MemberKey{ChatID: -1, UserID: 7}

	const workers = 32
	const perWorker = 250
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				release := a.Lock(key)
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*perWorker {
		t.Errorf("counter = %d, want %d: increments raced", counter, workers*perWorker)
	}
	if got := a.InFlight(); got != 0 {
		t.Errorf("in-flight = %d, want 0 after all releases", got)
	}
}

func TestArenaIndependentKeys(t *testing.T) {
	t.Parallel()
	a := NewArena()
	releaseA := a.Lock(signal.MemberKey{ChatID: -1, UserID: 1})
	// Holding one key must not block another; acquiring in the same
	// goroutine would deadlock if it did.
	releaseB := a.Lock(signal.MemberKey{ChatID: -1, UserID: 2})
	if got := a.InFlight(); got != 2 {
		t.Errorf("in-flight = %d, want 2", got)
	}
	releaseA()
	releaseB()
	if got := a.InFlight(); got != 0 {
		t.Errorf("in-flight = %d, want 0", got)
	}
}

func TestArenaReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	a := NewArena()
	key := signal.MemberKey{ChatID: -1, UserID: 3}
	release := a.Lock(key)
	release()
	release() // second call must be a no-op, not an unlock of a free mutex

	release = a.Lock(key)
	release()
}
