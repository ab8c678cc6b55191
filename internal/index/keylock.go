package index

import (
	"sync"

	"github.com/rangecache/mediaproxy/internal/cachekey"
)

// keyLockTable is a map of keys to lazily-created mutex handles, cleaned
// up once the last holder releases (spec.md §9: "modeled as a map of
// keys to mutex handles, created lazily and cleaned on eviction").
type keyLockTable struct {
	mu    sync.Mutex
	locks map[cachekey.Key]*refCountedMutex
}

type refCountedMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyLockTable() *keyLockTable {
	return &keyLockTable{locks: make(map[cachekey.Key]*refCountedMutex)}
}

// lock acquires the exclusive lock for key, creating its entry if
// absent, and returns a function that releases it.
func (t *keyLockTable) lock(key cachekey.Key) func() {
	t.mu.Lock()
	rcm, ok := t.locks[key]
	if !ok {
		rcm = &refCountedMutex{}
		t.locks[key] = rcm
	}
	rcm.refs++
	t.mu.Unlock()

	rcm.mu.Lock()
	return func() {
		rcm.mu.Unlock()
		t.mu.Lock()
		rcm.refs--
		if rcm.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// release drops key's lock entry only when no holder or waiter still
// references it (refs == 0); an entry still in use is left in place and
// is removed by its last unlock.
func (t *keyLockTable) release(key cachekey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rcm, ok := t.locks[key]; ok && rcm.refs == 0 {
		delete(t.locks, key)
	}
}
