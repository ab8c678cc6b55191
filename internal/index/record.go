// Package index implements the Object Index: the in-memory map from
// cache key to ObjectRecord, backed by per-object JSON sidecar files.
// Grounded on tavern's api/defined/v1/storage.Operation/Bucket contract
// and storage/bucket/disk.diskBucket, generalized from tavern's
// bitmap-block metadata to the spec's arbitrary-interval IntervalSet.
package index

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/log"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

// ErrNoTotalSize indicates the object's total size is not yet known.
var ErrNoTotalSize = errors.New("index: total size unknown")

// ObjectRecord is the in-memory, per-key cache record (spec.md §3).
type ObjectRecord struct {
	Key         cachekey.Key
	DataPath    string
	StatePath   string
	Intervals   *rangeset.IntervalSet
	TotalSize   int64 // -1 means unknown
	LastAccess  int64 // unix seconds
	ContentType string
}

// Snapshot is an immutable copy of an ObjectRecord returned by Get.
type Snapshot struct {
	Key         cachekey.Key
	DataPath    string
	StatePath   string
	Intervals   *rangeset.IntervalSet
	TotalSize   int64
	LastAccess  int64
	ContentType string
}

// HasTotalSize reports whether the object's size has been resolved.
func (s Snapshot) HasTotalSize() bool {
	return s.TotalSize >= 0
}

// cacheState is the JSON sidecar wire format (spec.md §6).
type cacheState struct {
	Intervals   [][2]int64 `json:"intervals"`
	TotalSize   *int64     `json:"total_size,omitempty"`
	DataPath    string     `json:"data_path"`
	ContentType string     `json:"content_type,omitempty"`
}

func newRecord(key cachekey.Key, root string) *ObjectRecord {
	return &ObjectRecord{
		Key:       key,
		DataPath:  key.DataPath(root),
		StatePath: key.StatePath(root),
		Intervals: rangeset.NewIntervalSet(),
		TotalSize: -1,
	}
}

func (r *ObjectRecord) snapshot() Snapshot {
	return Snapshot{
		Key:         r.Key,
		DataPath:    r.DataPath,
		StatePath:   r.StatePath,
		Intervals:   r.Intervals.Clone(),
		TotalSize:   r.TotalSize,
		LastAccess:  r.LastAccess,
		ContentType: r.ContentType,
	}
}

func (r *ObjectRecord) toState() cacheState {
	st := cacheState{
		DataPath:    r.DataPath,
		ContentType: r.ContentType,
	}
	for _, iv := range r.Intervals.Items() {
		st.Intervals = append(st.Intervals, [2]int64{iv.Start, iv.End})
	}
	if r.TotalSize >= 0 {
		ts := r.TotalSize
		st.TotalSize = &ts
	}
	return st
}

// persist atomically writes the record's state file: write to a temp
// file in the same directory, fsync, then rename over the destination.
// Grounded on tavern's Caching.flushbuffer, which only marks an object
// complete after an explicit bufio.Writer.Flush().
func (r *ObjectRecord) persist() error {
	if err := os.MkdirAll(filepath.Dir(r.StatePath), 0o755); err != nil {
		return err
	}

	buf, err := json.Marshal(r.toState())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.StatePath), ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, r.StatePath)
}

// loadRecord reads a sidecar state file from disk, repairing intervals
// that exceed the data file's actual length (spec.md §9).
func loadRecord(key cachekey.Key, root string) (*ObjectRecord, error) {
	r := newRecord(key, root)

	buf, err := os.ReadFile(r.StatePath)
	if err != nil {
		return nil, err
	}

	var st cacheState
	if err := json.Unmarshal(buf, &st); err != nil {
		return nil, err
	}

	if st.DataPath != "" {
		r.DataPath = st.DataPath
	}
	r.ContentType = st.ContentType
	for _, pair := range st.Intervals {
		r.Intervals.Add(rangeset.Interval{Start: pair[0], End: pair[1]})
	}
	if st.TotalSize != nil {
		r.TotalSize = *st.TotalSize
	}

	fi, err := os.Stat(r.DataPath)
	if err != nil {
		// data file missing: state file is orphaned, per invariant 4 it
		// must never over-report, so the caller should discard it.
		return nil, err
	}
	r.Intervals.TruncateTo(fi.Size())

	return r, nil
}

// Clone returns a copy of s whose IntervalSet is deep-copied, so the
// clone can be changed without affecting s.
func (s Snapshot) Clone() Snapshot {
	s.Intervals = s.Intervals.Clone()
	return s
}

func touch(r *ObjectRecord) {
	r.LastAccess = time.Now().Unix()
}

func logMissingDataFile(key cachekey.Key, err error) {
	log.L().Debugf("index: discarding orphan state for %s: %v", key, err)
}
