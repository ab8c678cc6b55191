// Package ioutilx provides small io.ReadCloser combinators used to
// stitch together cached and freshly-fetched byte ranges. Adapted from
// tavern's pkg/iobuf package, generalized from tavern's fixed-size
// bitmap blocks to the engine's arbitrary-length Intervals.
package ioutilx

import (
	"fmt"
	"io"
	"sync"
)

// seekReadCloser wraps an io.ReadSeekCloser, seeking to a fixed offset
// on the first Read rather than eagerly.
type seekReadCloser struct {
	r       io.ReadSeekCloser
	offset  int64
	once    sync.Once
	seekErr error
}

// SeekReadCloser returns an io.ReadCloser that begins reading r from
// offset.
func SeekReadCloser(r io.ReadSeekCloser, offset int64) io.ReadCloser {
	return &seekReadCloser{r: r, offset: offset}
}

func (s *seekReadCloser) ensureSeek() error {
	s.once.Do(func() {
		n, err := s.r.Seek(s.offset, io.SeekStart)
		if err != nil {
			s.seekErr = err
			return
		}
		if n != s.offset {
			s.seekErr = fmt.Errorf("ioutilx: seek landed at %d, wanted %d", n, s.offset)
		}
	})
	return s.seekErr
}

func (s *seekReadCloser) Read(p []byte) (int, error) {
	if err := s.ensureSeek(); err != nil {
		return 0, err
	}
	return s.r.Read(p)
}

func (s *seekReadCloser) WriteTo(w io.Writer) (int64, error) {
	if err := s.ensureSeek(); err != nil {
		return 0, err
	}
	return io.Copy(w, s.r)
}

func (s *seekReadCloser) Close() error {
	return s.r.Close()
}
