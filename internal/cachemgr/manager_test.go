package cachemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

func seedRecord(t *testing.T, idx *index.Index, key cachekey.Key, iv rangeset.Interval, ageSeconds int64) {
	t.Helper()
	require.NoError(t, idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(iv)
		r.TotalSize = iv.End + 1
		r.LastAccess = time.Now().Unix() - ageSeconds
		return true
	}))
}

func TestSweepEvictsByAge(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(dir)
	key := cachekey.Key("agedkey0")
	seedRecord(t, idx, key, rangeset.Interval{Start: 0, End: 99}, int64((2 * time.Hour).Seconds()))

	m := New(idx, Config{MaxAge: time.Hour, MaxTotalBytes: 1 << 30, MaxObjectBytes: 1 << 30}, nil)
	m.sweep()

	_, ok := idx.Get(key)
	assert.False(t, ok)
}

func TestSweepEvictsByObjectCap(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(dir)
	key := cachekey.Key("bigkey00")
	seedRecord(t, idx, key, rangeset.Interval{Start: 0, End: 999}, 0)

	m := New(idx, Config{MaxAge: 24 * time.Hour, MaxTotalBytes: 1 << 30, MaxObjectBytes: 100}, nil)
	m.sweep()

	_, ok := idx.Get(key)
	assert.False(t, ok)
}

func TestSweepEvictsLRUUnderTotalCap(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(dir)

	oldKey := cachekey.Key("oldkey00")
	newKey := cachekey.Key("newkey00")
	seedRecord(t, idx, oldKey, rangeset.Interval{Start: 0, End: 599}, 100)
	seedRecord(t, idx, newKey, rangeset.Interval{Start: 0, End: 599}, 0)

	m := New(idx, Config{MaxAge: 24 * time.Hour, MaxTotalBytes: 700, MaxObjectBytes: 1 << 30}, nil)
	m.sweep()

	_, oldOK := idx.Get(oldKey)
	_, newOK := idx.Get(newKey)
	assert.False(t, oldOK, "least-recently-accessed record should be evicted first")
	assert.True(t, newOK)
}

func TestSweepKeepsLiveRecordsUnderAllCaps(t *testing.T) {
	dir := t.TempDir()
	idx := index.New(dir)
	key := cachekey.Key("freshkey")
	seedRecord(t, idx, key, rangeset.Interval{Start: 0, End: 99}, 0)

	m := New(idx, DefaultConfig(), nil)
	m.sweep()

	_, ok := idx.Get(key)
	assert.True(t, ok)
}
