package httpx

import (
	"net/http"
	"net/textproto"
	"strings"
)

// CopyHeader copies all headers from src into dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = make([]string, 0, len(vv))
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// CopyHeadersWithout copies all headers from src into dst, skipping
// any key named in excludeKeys.
func CopyHeadersWithout(dst, src http.Header, excludeKeys ...string) {
	excludeMap := make(map[string]struct{}, len(excludeKeys))
	for _, key := range excludeKeys {
		excludeMap[textproto.CanonicalMIMEHeaderKey(key)] = struct{}{}
	}

	for k, vv := range src {
		if _, excluded := excludeMap[textproto.CanonicalMIMEHeaderKey(k)]; excluded {
			continue
		}
		dst[k] = make([]string, 0, len(vv))
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// Hop-by-hop headers, RFC 7230 section 6.1 / RFC 2616 section 13.5.1.
// Stripped from both the outgoing upstream request and the response
// relayed to the client.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHopHeaders strips hop-by-hop headers from h, including
// any header named in its own Connection field.
func RemoveHopByHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, f := range hopHeaders {
		h.Del(f)
	}
}

// IsChunked reports whether h describes a chunked or length-unknown body.
func IsChunked(h http.Header) bool {
	return h.Get("Transfer-Encoding") == "chunked" || h.Get("Content-Length") == ""
}
