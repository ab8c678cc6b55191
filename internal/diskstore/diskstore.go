// Package diskstore implements per-object sparse-file storage: the
// positional read/write primitives the Stream Fusion write-back path
// and cache-hit read path build on (spec.md §4.3). Grounded on tavern's
// Caching.flushbuffer (seek + bufio.Writer + explicit Flush) and
// tavern's ropen helper (O_NOATIME read-only open to avoid churning
// inode atime on every cache hit).
package diskstore

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/rangecache/mediaproxy/internal/ioutilx"
)

// Store performs positional I/O against per-key sparse data files
// rooted at a single directory tree (the caller is responsible for
// choosing the path via cachekey.Key.DataPath).
type Store struct {
	chunkSize int
}

// DefaultChunkSize is the chunk size a Store records absent an
// override. ReadRange does not apply it: read sizes follow the caller's
// buffer.
const DefaultChunkSize = 32 * 1024

// New constructs a Store. chunkSize <= 0 selects DefaultChunkSize.
func New(chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{chunkSize: chunkSize}
}

// WriteAt opens dataPath (creating it if needed) and writes buf at
// offset. Concurrent writers to disjoint offsets on the same file are
// safe; the caller (Stream Fusion) guarantees no two writers ever
// target overlapping offsets for the same key.
func (s *Store) WriteAt(dataPath string, offset int64, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(buf, offset); err != nil {
		return err
	}
	return f.Sync()
}

// Writer returns an open file handle positioned for sequential writes
// starting at offset, for callers (Stream Fusion's write-back path)
// that write many small chunks and want to avoid a WriteAt-per-chunk
// seek/open cost. Callers must Close the returned handle.
func (s *Store) Writer(dataPath string, offset int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// readOpenFlags opens the data file read-only without updating the
// inode's atime, mirroring tavern's ropen (O_NOATIME) so a cache hit
// never generates an atime-update write under the hood.
const readOpenFlags = os.O_RDONLY | 0o1000000 // O_NOATIME

// ReadRange opens dataPath read-only and returns a ReadCloser yielding
// the bytes start..end inclusive. Read sizes follow the caller's
// buffer; the store's chunk size is not applied. A file shorter than
// end+1 bytes at open time is reported as io.ErrUnexpectedEOF; the
// length is checked only then, so a file that shrinks during the read
// ends the stream early without an error.
func (s *Store) ReadRange(dataPath string, start, end int64) (io.ReadCloser, error) {
	f, err := os.OpenFile(dataPath, readOpenFlags, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.Size() < end+1 {
		_ = f.Close()
		return nil, io.ErrUnexpectedEOF
	}

	length := end - start + 1
	return ioutilx.LimitReadCloser(ioutilx.SeekReadCloser(f, start), length), nil
}

// Size returns the on-disk length of dataPath, or ok=false if absent.
func (s *Store) Size(dataPath string) (int64, bool) {
	fi, err := os.Stat(dataPath)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

// Preallocate reserves size bytes for dataPath on disk so a large
// object's writes don't fragment the file as it fills in out of order
// (a Mixed response's write-back can land bytes anywhere past the
// cached prefix). Best-effort: a filesystem that doesn't support
// fallocate (or a size the engine can't yet confirm) just means the
// file grows sparsely as usual, so failures here are never fatal.
func (s *Store) Preallocate(dataPath string, size int64) error {
	if size <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

// Remove deletes dataPath. Missing files are not an error.
func (s *Store) Remove(dataPath string) error {
	err := os.Remove(dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
