// Package rangeset implements the byte-interval algebra that the caching
// engine uses to describe which parts of an object are present on disk.
package rangeset

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned when an HTTP Range header cannot be parsed
// or describes a malformed interval (e.g. start greater than end).
var ErrInvalidRange = errors.New("rangeset: invalid range")

// OpenEnd marks an Interval whose End is not yet known (an open-ended
// "bytes=A-" request before total size is resolved). It is never
// persisted; Resolve must be called before the interval touches disk or
// the Object Index.
const OpenEnd = -1

// Interval is an inclusive byte range [Start, End], Start <= End, both
// non-negative. End may be OpenEnd before the interval is resolved
// against a known total size.
type Interval struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the interval spans. Undefined for an
// unresolved (OpenEnd) interval.
func (iv Interval) Len() int64 {
	return iv.End - iv.Start + 1
}

// Resolved reports whether End has a concrete value.
func (iv Interval) Resolved() bool {
	return iv.End != OpenEnd
}

// Resolve returns a copy of iv with an OpenEnd End pinned to totalSize-1.
func (iv Interval) Resolve(totalSize int64) Interval {
	if iv.End != OpenEnd {
		return iv
	}
	return Interval{Start: iv.Start, End: totalSize - 1}
}

// ParseByteRange parses the textual form "bytes=A-B" or "bytes=A-".
// The returned Interval has End == OpenEnd in the open-ended case.
func ParseByteRange(header string) (Interval, error) {
	const prefix = "bytes="
	if header == "" {
		return Interval{Start: 0, End: OpenEnd}, nil
	}
	if !strings.HasPrefix(header, prefix) {
		return Interval{}, ErrInvalidRange
	}
	body := strings.TrimPrefix(header, prefix)
	// multi-range requests are not supported by this engine; only the
	// first range is honored, matching spec.md's single-range contract.
	body = strings.TrimSpace(strings.Split(body, ",")[0])

	dash := strings.IndexByte(body, '-')
	if dash < 0 {
		return Interval{}, ErrInvalidRange
	}

	startStr, endStr := body[:dash], body[dash+1:]
	if startStr == "" {
		return Interval{}, ErrInvalidRange
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Interval{}, ErrInvalidRange
	}

	if endStr == "" {
		return Interval{Start: start, End: OpenEnd}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return Interval{}, ErrInvalidRange
	}

	return Interval{Start: start, End: end}, nil
}

// IntervalSet is a sorted, disjoint, non-adjacent list of Intervals.
// The zero value is an empty set.
type IntervalSet struct {
	items []Interval
}

// NewIntervalSet builds a set from the given intervals, merging and
// sorting them as Add would.
func NewIntervalSet(ivs ...Interval) *IntervalSet {
	s := &IntervalSet{}
	for _, iv := range ivs {
		s.Add(iv)
	}
	return s
}

// Items returns the sorted, disjoint intervals backing the set. Callers
// must not mutate the returned slice.
func (s *IntervalSet) Items() []Interval {
	return s.items
}

// Clone returns a deep copy of the set.
func (s *IntervalSet) Clone() *IntervalSet {
	if s == nil {
		return &IntervalSet{}
	}
	out := make([]Interval, len(s.items))
	copy(out, s.items)
	return &IntervalSet{items: out}
}

// Add inserts iv into the set, merging it with any overlapping or
// adjacent existing intervals. iv must be resolved (End != OpenEnd).
func (s *IntervalSet) Add(iv Interval) {
	if !iv.Resolved() || iv.Start > iv.End {
		return
	}

	merged := make([]Interval, 0, len(s.items)+1)
	inserted := false
	for _, cur := range s.items {
		switch {
		case cur.End+1 < iv.Start:
			// cur strictly before iv, no overlap yet.
			merged = append(merged, cur)
		case iv.End+1 < cur.Start:
			// iv strictly before cur; insert iv now if not yet inserted.
			if !inserted {
				merged = append(merged, iv)
				inserted = true
			}
			merged = append(merged, cur)
		default:
			// overlapping or touching; absorb cur into iv.
			if cur.Start < iv.Start {
				iv.Start = cur.Start
			}
			if cur.End > iv.End {
				iv.End = cur.End
			}
		}
	}
	if !inserted {
		merged = append(merged, iv)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	s.items = merged
}

// Contains reports whether a single entry in the set fully covers
// [s, e].
func (s *IntervalSet) Contains(iv Interval) bool {
	for _, cur := range s.items {
		if cur.Start <= iv.Start && cur.End >= iv.End {
			return true
		}
		if cur.Start > iv.Start {
			break
		}
	}
	return false
}

// CoveredPrefix returns the last byte covered contiguously starting at
// start, or start-1 if nothing at start is cached.
func (s *IntervalSet) CoveredPrefix(start int64) int64 {
	for _, cur := range s.items {
		if cur.Start <= start && cur.End >= start {
			return cur.End
		}
		if cur.Start > start {
			break
		}
	}
	return start - 1
}

// Missing returns the ordered list of sub-ranges of [iv.Start, iv.End]
// not covered by the set.
func (s *IntervalSet) Missing(iv Interval) []Interval {
	var gaps []Interval
	cursor := iv.Start

	for _, cur := range s.items {
		if cur.End < cursor {
			continue
		}
		if cur.Start > iv.End {
			break
		}
		if cur.Start > cursor {
			end := cur.Start - 1
			if end > iv.End {
				end = iv.End
			}
			gaps = append(gaps, Interval{Start: cursor, End: end})
		}
		if cur.End+1 > cursor {
			cursor = cur.End + 1
		}
		if cursor > iv.End {
			break
		}
	}

	if cursor <= iv.End {
		gaps = append(gaps, Interval{Start: cursor, End: iv.End})
	}

	return gaps
}

// TotalBytes sums the length of every interval in the set.
func (s *IntervalSet) TotalBytes() int64 {
	var total int64
	for _, iv := range s.items {
		total += iv.Len()
	}
	return total
}

// TruncateTo discards (or shrinks) any interval extending beyond
// fileLen-1, per spec.md §9's state-file-recovery rule: a stale sidecar
// whose intervals exceed the real data file length is repaired by
// truncation rather than rejected outright.
func (s *IntervalSet) TruncateTo(fileLen int64) {
	if fileLen <= 0 {
		s.items = nil
		return
	}
	maxEnd := fileLen - 1
	out := make([]Interval, 0, len(s.items))
	for _, iv := range s.items {
		if iv.Start > maxEnd {
			continue
		}
		if iv.End > maxEnd {
			iv.End = maxEnd
		}
		out = append(out, iv)
	}
	s.items = out
}
