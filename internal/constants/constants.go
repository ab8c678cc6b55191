// Package constants holds the protocol-level header and context-key
// names shared between the coordinator, fusion, and server packages.
package constants

const AppName = "mediaproxy"

// Client/upstream-facing headers.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderCacheStatus = "X-Cache"
	HeaderOriginalURL = "X-Original-Url"
	HeaderPrefetch    = "X-Prefetch"
)

// Cache status values reported in HeaderCacheStatus, mirroring the
// source classification in spec.md §4.6.
const (
	CacheStatusHit    = "HIT"
	CacheStatusMixed  = "MIXED"
	CacheStatusMiss   = "MISS"
	CacheStatusBypass = "BYPASS"
)

// Internal context/trace keys, never exposed to the client.
const (
	InternalTraceKey = "i-xtrace"
	InternalStoreURL = "i-x-store-url"
	InternalSwapfile = "i-x-swapfile"
)

// ProxyPathPrefix is the path segment the coordinator repeatedly peels
// to recover a nested origin URL (spec.md §4.9, grounded on the HLS
// handler's prefix-walking behavior).
const ProxyPathPrefix = "/proxy/"

// ProxyQueryParam is the fallback query-string key carrying an origin
// URL when it isn't embedded in the path.
const ProxyQueryParam = "proxy"
