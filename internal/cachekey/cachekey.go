// Package cachekey derives the stable cache key an upstream URL maps to,
// and the two-level hex-prefixed directory layout objects live under on
// disk. Grounded on tavern's api/defined/v1/storage/object.ID, which
// hashes path+vary-key with SHA-1 and shards on the hash's leading bytes.
package cachekey

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/url"
	"path/filepath"
)

// Key is the hex-encoded SHA-1 of the canonicalized upstream URL. Two
// URLs that should share cached bytes must produce the same Key; two
// that should not, must not.
type Key string

// Derive computes the cache key for an upstream URL. When includeQuery
// is false (the default), the query string is excluded so that
// "?a=1" and "?a=2" against the same path share a cache entry.
func Derive(u *url.URL, includeQuery bool) Key {
	canon := u.Scheme + "://" + u.Host + u.Path
	if includeQuery && u.RawQuery != "" {
		canon += "?" + u.RawQuery
	}
	sum := sha1.Sum([]byte(canon))
	return Key(hex.EncodeToString(sum[:]))
}

// FromRequest derives the Key for an incoming proxy request's effective
// upstream URL, honoring the request's caching options.
func FromRequest(req *http.Request, effectiveURL *url.URL, includeQuery bool) Key {
	return Derive(effectiveURL, includeQuery)
}

// DataPath returns the sparse data file path for key, rooted at root.
// Layout: <root>/<HH>/<HH2>/<hash>.data
func (k Key) DataPath(root string) string {
	return k.shardPath(root) + ".data"
}

// StatePath returns the JSON sidecar path for key, rooted at root.
func (k Key) StatePath(root string) string {
	return k.shardPath(root) + ".json"
}

func (k Key) shardPath(root string) string {
	s := string(k)
	if len(s) < 4 {
		// defensive: cachekey.Derive always yields 40 hex chars, but a
		// hand-constructed Key in tests might not.
		s = s + "0000"
	}
	return filepath.Join(root, s[0:2], s[2:4], s)
}

func (k Key) String() string {
	return string(k)
}
