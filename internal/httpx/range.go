// Package httpx holds small net/http helpers shared by the upstream
// fetcher and response builder: Content-Range parsing for origin
// responses, header hygiene for proxied responses, and request
// metadata extraction. Adapted from tavern's pkg/x/http, trimmed to
// the single-range model this engine uses (client-facing multi-range
// requests are out of scope; rangeset.ParseByteRange owns that side).
package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrContentRangeInvalidFormat     = errors.New("httpx: Content-Range invalid format")
	ErrContentRangeInvalidStartValue = errors.New("httpx: Content-Range invalid start value")
	ErrContentRangeInvalidEndValue   = errors.New("httpx: Content-Range invalid end value")
	ErrContentRangeInvalidTotalValue = errors.New("httpx: Content-Range invalid total value")
)

// ContentRange is the parsed form of an origin's Content-Range
// response header, or a synthetic one derived from Content-Length when
// the origin answered with a full 200 instead of a 206.
type ContentRange struct {
	Start   int64
	End     int64
	ObjSize int64
}

// ParseContentRange parses the Content-Range header of an upstream
// response. When the origin did not send a 206 (no Content-Range), it
// falls back to Content-Length and reports the full object as a single
// range starting at zero — the shape the Size Probe and Upstream
// Fetcher expect regardless of whether the origin honored the Range
// request.
func ParseContentRange(header http.Header) (ContentRange, error) {
	var cr ContentRange

	raw := header.Get("Content-Range")
	if raw == "" {
		cl, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
		if err != nil {
			return cr, ErrContentRangeInvalidTotalValue
		}
		cr.End = cl - 1
		cr.ObjSize = cl
		return cr, nil
	}

	// e.g. "bytes 200-1000/67589"
	parts := strings.Split(raw, " ")
	if len(parts) != 2 {
		return cr, ErrContentRangeInvalidFormat
	}

	rangeParts := strings.Split(parts[1], "/")
	if len(rangeParts) != 2 {
		return cr, ErrContentRangeInvalidFormat
	}

	bounds := strings.Split(rangeParts[0], "-")
	if len(bounds) != 2 {
		return cr, ErrContentRangeInvalidFormat
	}

	start, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return cr, ErrContentRangeInvalidStartValue
	}
	end, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil {
		return cr, ErrContentRangeInvalidEndValue
	}
	cr.Start, cr.End = start, end

	if rangeParts[1] == "*" {
		cr.ObjSize = -1
		return cr, nil
	}
	total, err := strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return cr, ErrContentRangeInvalidTotalValue
	}
	cr.ObjSize = total
	return cr, nil
}

// BuildContentRange formats a client-facing Content-Range header value
// for a resolved, closed interval.
func BuildContentRange(start, end, totalSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, totalSize)
}
