// Package selector implements the Source Selector (C6): given a cache
// key's current snapshot and the requested interval, decides whether
// the request can be served FileOnly, must go OriginOnly, or needs a
// Mixed fusion of both. Grounded on tavern's caching middleware's
// hit/miss branching (server/middleware/caching/caching.go) combined
// with the liveness-cache pattern tavern's storage.Mark uses to avoid
// probing a dead origin on every request.
package selector

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

// ErrUnavailable is returned when the origin is unreachable and the
// requested interval is not fully covered by cache.
var ErrUnavailable = errors.New("selector: origin unavailable and range not cached")

// Classification is the decided source for a request.
type Classification int

const (
	// OriginOnly means none of the requested range is cached.
	OriginOnly Classification = iota
	// FileOnly means the entire requested range is already cached.
	FileOnly
	// Mixed means a contiguous cached prefix must be stitched to an
	// origin-fetched suffix.
	Mixed
)

func (c Classification) String() string {
	switch c {
	case FileOnly:
		return "file_only"
	case Mixed:
		return "mixed"
	default:
		return "origin_only"
	}
}

// Plan is the selector's decision for one request.
type Plan struct {
	Class      Classification
	Requested  rangeset.Interval
	CachedThru int64 // last byte covered contiguously from Requested.Start; Requested.Start-1 if none
}

// Selector decides FileOnly/OriginOnly/Mixed per spec.md §4.6.
type Selector struct {
	idx       *index.Index
	liveness  *livenessCache
	checkFunc func(ctx context.Context, origin *url.URL) bool
}

// New constructs a Selector backed by idx. ttl bounds how long a
// liveness result is trusted before the origin is re-probed.
func New(idx *index.Index, ttl time.Duration) *Selector {
	s := &Selector{idx: idx, liveness: newLivenessCache(ttl)}
	s.checkFunc = s.headCheck
	return s
}

// Plan decides how to serve [s,e] for key against origin.
func (s *Selector) Plan(ctx context.Context, key cachekey.Key, origin *url.URL, requested rangeset.Interval) (Plan, error) {
	snap, ok := s.idx.Get(key)

	resolved := requested
	if !resolved.Resolved() && ok && snap.HasTotalSize() {
		resolved = requested.Resolve(snap.TotalSize)
	}

	reachable := s.liveness.Reachable(ctx, origin, s.checkFunc)

	if !ok || snap.Intervals.TotalBytes() == 0 {
		if !reachable {
			return Plan{}, ErrUnavailable
		}
		return Plan{Class: OriginOnly, Requested: resolved, CachedThru: resolved.Start - 1}, nil
	}

	if resolved.Resolved() && snap.Intervals.Contains(resolved) {
		return Plan{Class: FileOnly, Requested: resolved, CachedThru: resolved.End}, nil
	}

	covered := snap.Intervals.CoveredPrefix(resolved.Start)

	if !reachable {
		if covered >= resolved.Start {
			// Degrade to the covered prefix only; caller serves a short response.
			return Plan{Class: FileOnly, Requested: rangeset.Interval{Start: resolved.Start, End: covered}, CachedThru: covered}, nil
		}
		return Plan{}, ErrUnavailable
	}

	if covered < resolved.Start {
		return Plan{Class: OriginOnly, Requested: resolved, CachedThru: resolved.Start - 1}, nil
	}

	return Plan{Class: Mixed, Requested: resolved, CachedThru: covered}, nil
}

func (s *Selector) headCheck(ctx context.Context, origin *url.URL) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin.String(), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// livenessCache remembers the last reachability result per host for a
// short TTL so the hot path never blocks on a HEAD per request.
type livenessCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	state map[string]livenessEntry
}

type livenessEntry struct {
	reachable bool
	checkedAt time.Time
}

func newLivenessCache(ttl time.Duration) *livenessCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &livenessCache{ttl: ttl, state: make(map[string]livenessEntry)}
}

func (l *livenessCache) Reachable(ctx context.Context, origin *url.URL, check func(context.Context, *url.URL) bool) bool {
	host := origin.Host

	l.mu.Lock()
	if e, ok := l.state[host]; ok && time.Since(e.checkedAt) < l.ttl {
		l.mu.Unlock()
		return e.reachable
	}
	l.mu.Unlock()

	reachable := check(ctx, origin)

	l.mu.Lock()
	l.state[host] = livenessEntry{reachable: reachable, checkedAt: time.Now()}
	l.mu.Unlock()

	return reachable
}
