package index

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rangecache/mediaproxy/internal/cachekey"
)

// Index is the process-wide Object Index: a map from cache key to
// ObjectRecord, behind a reader-preferred shared lock, plus a per-key
// exclusive lock table (one reference-counted mutex per exact key) so
// two writers for the same key serialize without blocking unrelated
// keys (spec.md §4.2).
type Index struct {
	root string

	mu      sync.RWMutex
	records map[cachekey.Key]*ObjectRecord

	locks *keyLockTable
}

// New constructs an empty Object Index rooted at dataRoot.
func New(dataRoot string) *Index {
	return &Index{
		root:    dataRoot,
		records: make(map[cachekey.Key]*ObjectRecord),
		locks:   newKeyLockTable(),
	}
}

// Get clones the record for key under the shared lock. The returned
// Snapshot is immutable; ok is false if no record exists yet.
func (idx *Index) Get(key cachekey.Key) (Snapshot, bool) {
	idx.mu.RLock()
	r, ok := idx.records[key]
	idx.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// Mutate acquires (creating if absent) the record for key under its
// per-key exclusive lock, passes a mutable handle to fn, and persists
// the sidecar state file if fn returns true (indicating a change was
// made worth committing).
func (idx *Index) Mutate(key cachekey.Key, fn func(r *ObjectRecord) bool) error {
	unlock := idx.locks.lock(key)
	defer unlock()

	r := idx.getOrCreate(key)
	touch(r)

	if !fn(r) {
		return nil
	}
	return r.persist()
}

func (idx *Index) getOrCreate(key cachekey.Key) *ObjectRecord {
	idx.mu.RLock()
	r, ok := idx.records[key]
	idx.mu.RUnlock()
	if ok {
		return r
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if r, ok := idx.records[key]; ok {
		return r
	}
	r = newRecord(key, idx.root)
	idx.records[key] = r
	return r
}

// Remove drops the in-memory record and deletes both on-disk files for
// key. Used by the Cache Manager during eviction.
func (idx *Index) Remove(key cachekey.Key) error {
	unlock := idx.locks.lock(key)
	defer unlock()

	idx.mu.Lock()
	r, ok := idx.records[key]
	delete(idx.records, key)
	idx.mu.Unlock()

	if !ok {
		r = newRecord(key, idx.root)
	}

	var errs []error
	if err := os.Remove(r.DataPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.Remove(r.StatePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	idx.locks.release(key)
	return errors.Join(errs...)
}

// Snapshots returns a point-in-time copy of every live record, for use
// by the Cache Manager's eviction sweep.
func (idx *Index) Snapshots() []Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Snapshot, 0, len(idx.records))
	for _, r := range idx.records {
		out = append(out, r.snapshot())
	}
	return out
}

// Recover scans dataRoot for sidecar JSON files and reconstitutes the
// in-memory map. A state file whose data file is missing is discarded.
// Grounded on tavern/storage/bucket/disk.diskBucket.loadLRU.
func (idx *Index) Recover() error {
	return filepath.WalkDir(idx.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort scan, skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		key := cachekey.Key(stemOf(path))
		r, loadErr := loadRecord(key, idx.root)
		if loadErr != nil {
			logMissingDataFile(key, loadErr)
			_ = os.Remove(path)
			return nil
		}

		idx.mu.Lock()
		idx.records[key] = r
		idx.mu.Unlock()
		return nil
	})
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
