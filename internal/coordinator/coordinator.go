// Package coordinator implements the Request Coordinator (C9): one
// http.Handler activation per request, wiring URL extraction, Range
// parsing, HLS classification, the Source Selector, Stream Fusion, and
// the Response Builder together. Grounded on tavern's
// server/middleware/caching.Caching.ServeHTTP, the proxy's single
// busiest request path, generalized from tavern's bitmap-block cache
// lookups to the spec's IntervalSet-backed pipeline.
package coordinator

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/constants"
	"github.com/rangecache/mediaproxy/internal/diskstore"
	"github.com/rangecache/mediaproxy/internal/errs"
	"github.com/rangecache/mediaproxy/internal/fusion"
	"github.com/rangecache/mediaproxy/internal/hls"
	"github.com/rangecache/mediaproxy/internal/httpx"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/log"
	"github.com/rangecache/mediaproxy/internal/metrics"
	"github.com/rangecache/mediaproxy/internal/rangeset"
	"github.com/rangecache/mediaproxy/internal/respbuilder"
	"github.com/rangecache/mediaproxy/internal/selector"
	"github.com/rangecache/mediaproxy/internal/upstream"
)

// Coordinator is the top-level request handler for the caching engine.
type Coordinator struct {
	idx             *index.Index
	sel             *selector.Selector
	fusion          *fusion.Fusion
	probe           *upstream.SizeProbe
	store           *diskstore.Store
	cacheRoot       string
	includeQueryKey bool
}

// New constructs a Coordinator.
func New(idx *index.Index, sel *selector.Selector, fuse *fusion.Fusion, probe *upstream.SizeProbe, store *diskstore.Store, cacheRoot string, includeQueryInKey bool) *Coordinator {
	return &Coordinator{
		idx:             idx,
		sel:             sel,
		fusion:          fuse,
		probe:           probe,
		store:           store,
		cacheRoot:       cacheRoot,
		includeQueryKey: includeQueryInKey,
	}
}

func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, rm := metrics.WithRequestMetric(r)
	rm.RemoteAddr = httpx.ClientIP(r.RemoteAddr, r.Header)
	w.Header().Set(constants.HeaderRequestID, rm.RequestID)

	origin, err := c.extractOrigin(req)
	if err != nil {
		http.Error(w, "bad origin url", http.StatusBadRequest)
		return
	}
	rm.OriginalURL = origin.String()

	if hls.IsPlaylist(origin.Path) {
		c.servePlaylist(w, req, origin)
		return
	}

	c.serveObject(w, req, origin)
}

// extractOrigin recovers the effective upstream URL from the request,
// per spec.md §4.9: path-embedded /proxy/ prefix (peeled repeatedly),
// the X-Original-Url header, or the ?proxy= query parameter.
func (c *Coordinator) extractOrigin(r *http.Request) (*url.URL, error) {
	if raw := r.Header.Get(constants.HeaderOriginalURL); raw != "" {
		return url.Parse(raw)
	}

	if strings.Contains(r.URL.Path, constants.ProxyPathPrefix) {
		idx := strings.Index(r.URL.Path, constants.ProxyPathPrefix)
		rest := r.URL.Path[idx:]
		raw, err := hls.StripProxyPrefix(rest)
		if err == nil && raw != "" {
			return url.Parse(raw)
		}
	}

	if raw := r.URL.Query().Get(constants.ProxyQueryParam); raw != "" {
		return url.Parse(raw)
	}

	return nil, errs.New(errs.KindInvalidRange, nil)
}

func (c *Coordinator) servePlaylist(w http.ResponseWriter, r *http.Request, origin *url.URL) {
	resp, err := c.fetchWhole(r, origin)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	base, err := hls.BaseURL(origin.String())
	if err != nil {
		http.Error(w, "bad origin url", http.StatusBadGateway)
		return
	}

	rewritten := hls.Rewrite(string(body), base)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set(constants.HeaderCacheStatus, constants.CacheStatusBypass)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rewritten)
}

func (c *Coordinator) fetchWhole(r *http.Request, origin *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, origin.String(), nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

func (c *Coordinator) serveObject(w http.ResponseWriter, r *http.Request, origin *url.URL) {
	wasRanged := r.Header.Get("Range") != ""

	requested, err := rangeset.ParseByteRange(r.Header.Get("Range"))
	if err != nil {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	key := cachekey.Derive(origin, c.includeQueryKey)
	dataPath := key.DataPath(c.cacheRoot)

	plan, err := c.sel.Plan(r.Context(), key, origin, requested)
	if err != nil {
		log.L().Warnf("coordinator: selector failed for %s: %v", origin, err)
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}

	result, err := c.fusion.Serve(r.Context(), key, dataPath, origin, plan)
	if err != nil {
		c.writeError(w, err)
		return
	}
	defer result.Body.Close()

	status := cacheStatusFor(plan.Class)
	w.Header().Set(constants.HeaderCacheStatus, status)
	metrics.CacheStatusTotal.WithLabelValues(status).Inc()

	totalSize := c.totalSizeOf(r, origin, key)
	servedInterval := rangeset.Interval{Start: plan.Requested.Start, End: plan.Requested.Start + result.Delivered - 1}

	respbuilder.Write(w, servedInterval, totalSize, wasRanged, result.ContentType)

	// HEAD resolves the same headers as GET (spec.md §6) but carries no
	// body; the origin/cache read above still ran so the cache-status,
	// Content-Length, and Content-Range headers reflect a real decision.
	if r.Method == http.MethodHead {
		return
	}

	n, _ := io.Copy(w, result.Body)
	metrics.BytesServedTotal.WithLabelValues(status).Add(float64(n))
}

// totalSizeOf resolves the object's total size for response-header
// purposes, preferring the Object Index's cached value and otherwise
// running the Size Probe and recording its result (spec.md §4.5).
func (c *Coordinator) totalSizeOf(r *http.Request, origin *url.URL, key cachekey.Key) int64 {
	if snap, ok := c.idx.Get(key); ok && snap.HasTotalSize() {
		// Already known: still a read of the record, so last_access must
		// move (spec.md §3) or the eviction sweep sees a continuously
		// served object as idle.
		if err := c.idx.Mutate(key, func(rec *index.ObjectRecord) bool { return true }); err != nil {
			log.L().Warnf("coordinator: touch failed for %s: %v", key, err)
		}
		return snap.TotalSize
	}
	size, err := c.probe.Probe(r.Context(), origin)
	if err != nil {
		return -1
	}
	if err := c.idx.Mutate(key, func(rec *index.ObjectRecord) bool {
		if rec.TotalSize >= 0 {
			return false
		}
		rec.TotalSize = size
		return true
	}); err != nil {
		log.L().Warnf("coordinator: recording total size for %s failed: %v", key, err)
	}
	if err := c.store.Preallocate(key.DataPath(c.cacheRoot), size); err != nil {
		log.L().Debugf("coordinator: preallocate %s failed: %v", key, err)
	}
	return size
}

func cacheStatusFor(class selector.Classification) string {
	switch class {
	case selector.FileOnly:
		return constants.CacheStatusHit
	case selector.Mixed:
		return constants.CacheStatusMixed
	default:
		return constants.CacheStatusMiss
	}
}

func (c *Coordinator) writeError(w http.ResponseWriter, err error) {
	if e, ok := err.(*errs.Error); ok {
		for k, vv := range e.Headers {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(e.Status())
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
}
