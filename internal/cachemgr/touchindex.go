package cachemgr

import (
	"sync"

	"github.com/kelindar/bitmap"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

// touchBlockSize is the granularity TouchIndex buckets byte offsets
// into. It mirrors tavern's fixed-size bitmap block rather than the
// engine's arbitrary IntervalSet so the scan index stays cheap.
const touchBlockSize = 1 << 15

// TouchIndex is a best-effort, non-authoritative record of which
// coarse blocks of each object have ever been written, kept purely to
// let the Cache Manager's sweep skip objects that are obviously empty
// without touching the Object Index's lock. It must never be consulted
// for correctness: the IntervalSet in the Object Index is the only
// source of truth for what bytes are actually cached (spec.md §9).
type TouchIndex struct {
	mu     sync.Mutex
	blocks map[cachekey.Key]bitmap.Bitmap
}

// NewTouchIndex constructs an empty TouchIndex.
func NewTouchIndex() *TouchIndex {
	return &TouchIndex{blocks: make(map[cachekey.Key]bitmap.Bitmap)}
}

// Mark records that iv was written for key.
func (t *TouchIndex) Mark(key cachekey.Key, iv rangeset.Interval) {
	if !iv.Resolved() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	bm := t.blocks[key]
	for block := iv.Start / touchBlockSize; block <= iv.End/touchBlockSize; block++ {
		bm.Set(uint32(block))
	}
	t.blocks[key] = bm
}

// AnyTouched reports whether key has any recorded write activity. A
// false here is a strong signal the object is empty; a true is merely
// a hint that a full IntervalSet check is worthwhile.
func (t *TouchIndex) AnyTouched(key cachekey.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bm, ok := t.blocks[key]
	return ok && bm.Count() > 0
}

// Forget drops key's touch record, called when the Cache Manager
// evicts the object.
func (t *TouchIndex) Forget(key cachekey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blocks, key)
}
