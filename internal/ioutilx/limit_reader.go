package ioutilx

import "io"

// limitedReadCloser wraps an io.ReadCloser, capping total bytes read and
// tracking how many were actually delivered.
type limitedReadCloser struct {
	r       io.ReadCloser
	limited io.Reader
	n       int64
}

// LimitReadCloser wraps readCloser, limiting reads to at most max bytes.
func LimitReadCloser(readCloser io.ReadCloser, max int64) io.ReadCloser {
	return &limitedReadCloser{
		limited: io.LimitReader(readCloser, max),
		r:       readCloser,
	}
}

func (lrc *limitedReadCloser) Read(p []byte) (int, error) {
	n, err := lrc.limited.Read(p)
	lrc.n += int64(n)
	return n, err
}

func (lrc *limitedReadCloser) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, lrc.limited)
	lrc.n += n
	return n, err
}

// N reports how many bytes have been read so far.
func (lrc *limitedReadCloser) N() int64 {
	return lrc.n
}

func (lrc *limitedReadCloser) Close() error {
	return lrc.r.Close()
}
