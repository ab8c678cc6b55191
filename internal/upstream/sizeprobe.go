package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/rangecache/mediaproxy/internal/errs"
)

// SizeProbe resolves an object's total size with a HEAD request,
// falling back to a one-byte "bytes=0-0" Range probe and finally a full GET when
// the origin doesn't answer HEAD or ignores Range (spec.md §4.5).
// Concurrent probes for the same URL collapse onto a single in-flight
// request via singleflight, the way the request-coordinator collapses
// duplicate client requests in tavern's ReverseProxy.Do.
type SizeProbe struct {
	fetcher *Fetcher
	flight  singleflight.Group
}

// NewSizeProbe constructs a SizeProbe sharing fetcher's client pool.
func NewSizeProbe(fetcher *Fetcher) *SizeProbe {
	return &SizeProbe{fetcher: fetcher}
}

// Probe returns the origin's total object size in bytes.
func (p *SizeProbe) Probe(ctx context.Context, origin *url.URL) (int64, error) {
	v, err, _ := p.flight.Do(origin.String(), func() (any, error) {
		return p.probeOnce(ctx, origin)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (p *SizeProbe) probeOnce(ctx context.Context, origin *url.URL) (int64, error) {
	if size, ok := p.probeHead(ctx, origin); ok {
		return size, nil
	}
	if size, ok := p.probeZeroRange(ctx, origin); ok {
		return size, nil
	}
	return p.probeFullGet(ctx, origin)
}

func (p *SizeProbe) probeHead(ctx context.Context, origin *url.URL) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin.String(), nil)
	if err != nil {
		return 0, false
	}
	client := p.fetcher.clientFor(req.URL.Host)
	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 || resp.ContentLength < 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

func (p *SizeProbe) probeZeroRange(ctx context.Context, origin *url.URL) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.String(), nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Range", "bytes=0-0")

	client := p.fetcher.clientFor(req.URL.Host)
	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, false
	}
	cr, err := ContentRange(resp)
	if err != nil || cr.ObjSize <= 0 {
		return 0, false
	}
	return cr.ObjSize, true
}

func (p *SizeProbe) probeFullGet(ctx context.Context, origin *url.URL) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.String(), nil)
	if err != nil {
		return 0, errs.Wrap(errs.KindUpstream, err)
	}

	client := p.fetcher.clientFor(req.URL.Host)
	resp, err := client.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.KindUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, errs.Wrap(errs.KindUpstream, fmt.Errorf("origin status %d", resp.StatusCode))
	}
	if resp.ContentLength < 0 {
		return 0, errs.Wrap(errs.KindUpstream, fmt.Errorf("origin did not report a size for %s", origin))
	}
	return resp.ContentLength, nil
}
