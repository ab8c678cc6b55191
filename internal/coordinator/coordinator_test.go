package coordinator

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecache/mediaproxy/internal/diskstore"
	"github.com/rangecache/mediaproxy/internal/fusion"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/selector"
	"github.com/rangecache/mediaproxy/internal/upstream"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	dir := t.TempDir()
	idx := index.New(dir)
	store := diskstore.New(0)
	fetcher := upstream.New(upstream.DefaultConfig())
	sel := selector.New(idx, time.Minute)
	fuse := fusion.New(store, idx, fetcher, 8, nil)
	probe := upstream.NewSizeProbe(fetcher)
	return New(idx, sel, fuse, probe, store, dir, false)
}

func TestServeObjectFetchesFromOriginOnFirstRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := newTestCoordinator(t)

	req := httptest.NewRequest(http.MethodGet, "/proxy/"+url.QueryEscape(srv.URL+"/video.mp4"), nil)
	w := httptest.NewRecorder()

	c.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestServeObjectRejectsMissingOrigin(t *testing.T) {
	c := newTestCoordinator(t)

	req := httptest.NewRequest(http.MethodGet, "/video.mp4", nil)
	w := httptest.NewRecorder()

	c.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractOriginPrefersHeaderOverPath(t *testing.T) {
	c := newTestCoordinator(t)
	req := httptest.NewRequest(http.MethodGet, "/proxy/ignored", nil)
	req.Header.Set("X-Original-Url", "https://origin.example.com/a.mp4")

	origin, err := c.extractOrigin(req)
	require.NoError(t, err)
	assert.Equal(t, "https://origin.example.com/a.mp4", origin.String())
}

func TestExtractOriginFromQueryParam(t *testing.T) {
	c := newTestCoordinator(t)
	req := httptest.NewRequest(http.MethodGet, "/?proxy=https%3A%2F%2Forigin.example.com%2Fb.mp4", nil)

	origin, err := c.extractOrigin(req)
	require.NoError(t, err)
	assert.Equal(t, "https://origin.example.com/b.mp4", origin.String())
}

func TestServePlaylistRewritesSegmentURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("#EXTM3U\nseg0.ts\n"))
	}))
	defer srv.Close()

	c := newTestCoordinator(t)
	req := httptest.NewRequest(http.MethodGet, "/proxy/"+url.QueryEscape(srv.URL+"/index.m3u8"), nil)
	w := httptest.NewRecorder()

	c.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "/proxy/")
}
