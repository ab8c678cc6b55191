package fusion

import (
	"io"
	"sync"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/cachemgr"
	"github.com/rangecache/mediaproxy/internal/diskstore"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/log"
	"github.com/rangecache/mediaproxy/internal/metrics"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

// chunk is one tee'd slice of origin bytes queued for the write-back
// goroutine. offset is the byte's true position in the stream (relative
// to Tee's baseOffset), captured at Read time so a later dropped chunk
// can never shift where its successors land on disk.
type chunk struct {
	data   []byte
	offset int64
	eof    bool
	err    error
}

// WriteBack asynchronously persists origin bytes streamed through Tee,
// dropping chunks when its queue is full rather than ever blocking the
// client-facing read (spec.md §4.7: "the design deliberately prefers
// best-effort caching to correctness-threatening blocking").
type WriteBack struct {
	store      *diskstore.Store
	idx        *index.Index
	queueDepth int
	touch      *cachemgr.TouchIndex
}

// NewWriteBack constructs a WriteBack with the given channel depth.
// touch may be nil.
func NewWriteBack(store *diskstore.Store, idx *index.Index, queueDepth int, touch *cachemgr.TouchIndex) *WriteBack {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &WriteBack{store: store, idx: idx, queueDepth: queueDepth, touch: touch}
}

// teeReader wraps an io.ReadCloser, copying each Read into a channel
// consumed by an asynchronous writer goroutine. It never blocks the
// caller's Read on the writer: a full channel just drops the chunk.
type teeReader struct {
	src      io.ReadCloser
	ch       chan chunk
	closeOne sync.Once
	pos      int64
}

// Read is not safe to call concurrently with Close, matching the usual
// io.ReadCloser contract (callers read to completion, then close).
func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		cp := make([]byte, n)
		copy(cp, p[:n])
		offset := t.pos
		t.pos += int64(n)
		select {
		case t.ch <- chunk{data: cp, offset: offset}:
		default:
			metrics.WriteBackDroppedTotal.Inc()
		}
	}
	if err != nil {
		select {
		case t.ch <- chunk{eof: true, err: err}:
		default:
		}
		t.closeOne.Do(func() { close(t.ch) })
	}
	return n, err
}

// Close closes the underlying source and signals the write-back
// goroutine to stop, even if the client never read to the source's own
// EOF (e.g. a Mixed response whose origin phase budget is reached
// before the origin body is exhausted).
func (t *teeReader) Close() error {
	t.closeOne.Do(func() { close(t.ch) })
	return t.src.Close()
}

// Tee wraps src so that every byte read by the client is also queued
// for write-back to dataPath starting at baseOffset, committing the
// written interval into the Object Index once the origin stream ends.
func (w *WriteBack) Tee(key cachekey.Key, dataPath string, baseOffset int64, src io.ReadCloser) io.ReadCloser {
	t := &teeReader{src: src, ch: make(chan chunk, w.queueDepth)}
	go w.drain(key, dataPath, baseOffset, t.ch)
	return t
}

// drain persists tee'd chunks via positional writes keyed to each
// chunk's true stream offset, and commits only the run contiguous from
// baseOffset: once a chunk is dropped under backpressure, everything
// after it is still written at its correct (gapped) position, but the
// committed interval stops at the gap. A commit must never claim bytes
// it did not actually write contiguously (spec.md §3 invariant 4:
// best-effort caching must under-report, never over-report).
func (w *WriteBack) drain(key cachekey.Key, dataPath string, baseOffset int64, ch chan chunk) {
	f, err := w.store.Writer(dataPath, baseOffset)
	if err != nil {
		log.L().Warnf("fusion: write-back open failed for %s: %v", key, err)
		w.drainAndDiscard(ch)
		return
	}
	defer f.Close()

	var contiguous int64

	for c := range ch {
		if c.eof {
			break
		}
		if _, err := f.WriteAt(c.data, baseOffset+c.offset); err != nil {
			log.L().Warnf("fusion: write-back write failed for %s at offset %d: %v", key, baseOffset+c.offset, err)
			continue
		}
		if c.offset == contiguous {
			contiguous += int64(len(c.data))
		}
	}

	if err := f.Sync(); err != nil {
		log.L().Warnf("fusion: write-back sync failed for %s: %v", key, err)
	}

	if contiguous == 0 {
		return
	}

	iv := rangeset.Interval{Start: baseOffset, End: baseOffset + contiguous - 1}
	if err := w.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(iv)
		return true
	}); err != nil {
		log.L().Warnf("fusion: commit interval %v failed for %s: %v", iv, key, err)
	}
	if w.touch != nil {
		w.touch.Mark(key, iv)
	}
}

func (w *WriteBack) drainAndDiscard(ch chan chunk) {
	for range ch {
	}
}
