package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

func TestMutatePersistsState(t *testing.T) {
	root := t.TempDir()
	idx := New(root)
	key := cachekey.Key("deadbeefcafebabe00112233445566778899aabb")

	require.NoError(t, os.MkdirAll(filepath.Dir(key.DataPath(root)), 0o755))
	require.NoError(t, os.WriteFile(key.DataPath(root), make([]byte, 1024), 0o644))

	err := idx.Mutate(key, func(r *ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 0, End: 1023})
		r.TotalSize = 10000
		return true
	})
	require.NoError(t, err)

	snap, ok := idx.Get(key)
	require.True(t, ok)
	assert.True(t, snap.Intervals.Contains(rangeset.Interval{Start: 0, End: 1023}))
	assert.Equal(t, int64(10000), snap.TotalSize)

	_, err = os.Stat(key.StatePath(root))
	assert.NoError(t, err)
}

func TestRecoverDiscardsOrphanState(t *testing.T) {
	root := t.TempDir()
	key := cachekey.Key("00112233445566778899aabbccddeeff0011223")

	require.NoError(t, os.MkdirAll(filepath.Dir(key.StatePath(root)), 0o755))
	require.NoError(t, os.WriteFile(key.StatePath(root), []byte(`{"intervals":[[0,99]],"data_path":"missing"}`), 0o644))

	idx := New(root)
	require.NoError(t, idx.Recover())

	_, ok := idx.Get(key)
	assert.False(t, ok)
	_, err := os.Stat(key.StatePath(root))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveDeletesBothFiles(t *testing.T) {
	root := t.TempDir()
	idx := New(root)
	key := cachekey.Key("ffeeddccbbaa99887766554433221100ffeedd")

	require.NoError(t, os.MkdirAll(filepath.Dir(key.DataPath(root)), 0o755))
	require.NoError(t, os.WriteFile(key.DataPath(root), []byte("x"), 0o644))
	require.NoError(t, idx.Mutate(key, func(r *ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 0, End: 0})
		return true
	}))

	require.NoError(t, idx.Remove(key))

	_, ok := idx.Get(key)
	assert.False(t, ok)
	_, err := os.Stat(key.DataPath(root))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(key.StatePath(root))
	assert.True(t, os.IsNotExist(err))
}
