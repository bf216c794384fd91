package lobby

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable hands out one mutex per lobby id. Entries are dropped once nobody holds or
// waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lobbyLock
}

type lobbyLock struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*lobbyLock)}
}

// Lock blocks until the lobby is free and returns the matching unlock func.
func (t *lockTable) Lock(id uuid.UUID) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &lobbyLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
