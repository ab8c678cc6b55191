// Package hls rewrites m3u8 playlists so every segment and variant URL
// they reference routes back through this proxy. Grounded on the
// reference implementation's hls::mod.rewrite_m3u8 and
// hls::handler.handle_m3u8 (original_source/src/hls/{mod,handler}.rs):
// the line-by-line URL substitution and repeated "/proxy/" prefix
// peeling are carried over unchanged in behavior, re-expressed with
// Go's bufio.Scanner in place of Rust's str::lines.
package hls

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/rangecache/mediaproxy/internal/constants"
)

// IsPlaylist reports whether path names an HLS playlist manifest.
func IsPlaylist(path string) bool {
	return strings.HasSuffix(path, ".m3u8")
}

// IsSegment reports whether path names an HLS media segment.
func IsSegment(path string) bool {
	return strings.HasSuffix(path, ".ts") || strings.HasSuffix(path, ".m4s")
}

// Rewrite rewrites every non-comment URL line in content to route
// through this proxy's /proxy/ prefix, resolving relative URLs against
// baseURL (the playlist's own directory).
func Rewrite(content, baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			out.WriteByte('\n')
		case strings.HasPrefix(line, "#"):
			out.WriteString(line)
			out.WriteByte('\n')
		default:
			out.WriteString(rewriteURLLine(line, base))
			out.WriteByte('\n')
		}
	}
	return out.String()
}

func rewriteURLLine(line, base string) string {
	resolved := resolveLine(line, base)
	return constants.ProxyPathPrefix + url.QueryEscape(resolved)
}

func resolveLine(line, base string) string {
	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		return line
	}
	if rest, ok := strings.CutPrefix(line, constants.ProxyPathPrefix); ok {
		if decoded, err := url.QueryUnescape(rest); err == nil {
			rest = decoded
		}
		if strings.HasPrefix(rest, "http://") || strings.HasPrefix(rest, "https://") {
			return rest
		}
		return base + "/" + strings.TrimPrefix(rest, "/")
	}
	return base + "/" + strings.TrimPrefix(line, "/")
}

// BaseURL returns the directory component of rawURL, used to resolve
// relative segment references in a playlist.
func BaseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	idx := strings.LastIndex(u.Path, "/")
	if idx >= 0 {
		u.Path = u.Path[:idx]
	}
	u.RawQuery = ""
	return u.String(), nil
}

// StripProxyPrefix repeatedly peels a leading /proxy/ segment and
// percent-decodes the remainder, recovering the original upstream URL
// from a request path like "/proxy/proxy/https%3A%2F%2F..." (spec.md
// §4.9).
func StripProxyPrefix(path string) (string, error) {
	for strings.HasPrefix(path, constants.ProxyPathPrefix) {
		path = strings.TrimPrefix(path, constants.ProxyPathPrefix)
	}
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
