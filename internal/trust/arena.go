package trust

import (
	"sync"

	"github.com/nauanbek/saqshy/internal/signal"
)

// Arena hands out one mutex per (member, group) key so that concurrent
// decisions for the same member apply to the trust record in arrival order
// while unrelated members never contend. Entries are reference counted and
// removed once the last holder releases, keeping the map proportional to
// in-flight decisions rather than to the member population.
type Arena struct {
	mu    sync.Mutex
	locks map[signal.MemberKey]*arenaLock
}

type arenaLock struct {
	mu   sync.Mutex
	refs int
}

func NewArena() *Arena {
	return &Arena{locks: make(map[signal.MemberKey]*arenaLock)}
}

// Lock acquires the key's mutex and returns its release func. The caller
// holds the lock across the whole read-score-mutate-write span of a
// decision, not just the record write.
func (a *Arena) Lock(key signal.MemberKey) (release func()) {
	a.mu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &arenaLock{}
		a.locks[key] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			a.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(a.locks, key)
			}
			a.mu.Unlock()
		})
	}
}

// InFlight reports how many keys currently hold or await a lock.
func (a *Arena) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
