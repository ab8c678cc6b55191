package diskstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtThenReadRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aa", "bb", "object.data")
	s := New(0)

	require.NoError(t, s.WriteAt(path, 10, []byte("hello")))

	rc, err := s.ReadRange(path, 10, 14)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestWriteAtCreatesSparseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.data")
	s := New(0)

	require.NoError(t, s.WriteAt(path, 100, []byte("x")))

	size, ok := s.Size(path)
	require.True(t, ok)
	assert.Equal(t, int64(101), size)
}

func TestRemoveMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	s := New(0)
	require.NoError(t, s.Remove(filepath.Join(dir, "nope.data")))
}

func TestSizeAbsentReportsFalse(t *testing.T) {
	dir := t.TempDir()
	s := New(0)
	_, ok := s.Size(filepath.Join(dir, "nope.data"))
	assert.False(t, ok)
}

func TestWriterSequentialWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.data")
	s := New(0)

	f, err := s.Writer(path, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}
