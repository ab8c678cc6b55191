// Package respbuilder assembles the client-facing HTTP response from a
// Fusion Result: status line, Content-Range, Content-Length, and
// Accept-Ranges (spec.md §4.10). Grounded on tavern's pkg/x/http.Range
// header-construction helpers, narrowed to the single-range contract
// this engine exposes to clients.
package respbuilder

import (
	"net/http"
	"strconv"

	"github.com/rangecache/mediaproxy/internal/httpx"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

// Write sets status and headers on w for a resolved interval against a
// totalSize. wasRanged indicates whether the client sent a Range
// header; when totalSize is unknown and the client did not range, a
// plain 200 with no Content-Range is written. contentType falls back
// to application/octet-stream when empty.
func Write(w http.ResponseWriter, iv rangeset.Interval, totalSize int64, wasRanged bool, contentType string) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	if totalSize < 0 && !wasRanged {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.Set("Content-Length", strconv.FormatInt(iv.Len(), 10))

	if !wasRanged && iv.Start == 0 && (totalSize < 0 || iv.End == totalSize-1) {
		w.WriteHeader(http.StatusOK)
		return
	}

	if totalSize >= 0 {
		h.Set("Content-Range", httpx.BuildContentRange(iv.Start, iv.End, totalSize))
	}
	w.WriteHeader(http.StatusPartialContent)
}
