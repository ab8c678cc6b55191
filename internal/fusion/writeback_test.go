package fusion

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/diskstore"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func TestTeeCommitsIntervalOnEOF(t *testing.T) {
	dir := t.TempDir()
	store := diskstore.New(0)
	idx := index.New(dir)
	key := cachekey.Key("abad1dea")
	dataPath := key.DataPath(dir)

	wb := NewWriteBack(store, idx, 8, nil)
	src := nopCloser{bytes.NewReader([]byte("payload"))}

	rc := wb.Tee(key, dataPath, 100, src)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(got))

	waitFor(t, func() bool {
		snap, ok := idx.Get(key)
		return ok && snap.Intervals.Contains(rangeset.Interval{Start: 100, End: 106})
	})

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data[100:107]))
}

func TestTeeClosedEarlyStillDrainsAndCommitsPartial(t *testing.T) {
	dir := t.TempDir()
	store := diskstore.New(0)
	idx := index.New(dir)
	key := cachekey.Key("c0ffee00")
	dataPath := key.DataPath(dir)

	wb := NewWriteBack(store, idx, 8, nil)
	src := nopCloser{bytes.NewReader([]byte("abcdefghij"))}

	rc := wb.Tee(key, dataPath, 0, src)
	buf := make([]byte, 4)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Close before reading to the source's own EOF, as Stream Fusion
	// does when a Mixed response's origin-phase byte budget is reached.
	require.NoError(t, rc.Close())

	waitFor(t, func() bool {
		snap, ok := idx.Get(key)
		return ok && snap.Intervals.TotalBytes() > 0
	})
}

func TestTeeDropsChunksUnderBackpressure(t *testing.T) {
	dir := t.TempDir()
	store := diskstore.New(0)
	idx := index.New(dir)
	key := cachekey.Key("deadd00d")
	dataPath := key.DataPath(dir)

	// A queue depth of 1 with a slow drain practically guarantees at
	// least one chunk is dropped when many small reads arrive back to
	// back, exercising the non-blocking channel send in teeReader.Read.
	wb := NewWriteBack(store, idx, 1, nil)
	payload := bytes.Repeat([]byte("x"), 4096)
	src := nopCloser{bytes.NewReader(payload)}

	rc := wb.Tee(key, dataPath, 0, src)
	buf := make([]byte, 1)
	for {
		_, err := rc.Read(buf)
		if err != nil {
			break
		}
	}
	require.NoError(t, rc.Close())

	// Regardless of how much was dropped, the commit path must never
	// record an interval longer than what was actually written.
	waitFor(t, func() bool {
		_, ok := idx.Get(key)
		return ok
	})
	snap, _ := idx.Get(key)
	size, _ := store.Size(dataPath)
	assert.LessOrEqual(t, snap.Intervals.TotalBytes(), size)
}
