package bidding

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable hands out one mutex per item. Entries are created on first use
// and dropped as soon as no goroutine holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*itemLock)}
}

// acquire blocks until the caller owns the item's serializer and returns
// the release func.
func (t *lockTable) acquire(id uuid.UUID) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &itemLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

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
