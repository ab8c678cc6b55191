package rangeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteRangeOpenEnded(t *testing.T) {
	iv, err := ParseByteRange("bytes=100-")
	require.NoError(t, err)
	assert.Equal(t, int64(100), iv.Start)
	assert.Equal(t, int64(OpenEnd), iv.End)
}

func TestParseByteRangeClosed(t *testing.T) {
	iv, err := ParseByteRange("bytes=0-1023")
	require.NoError(t, err)
	assert.Equal(t, Interval{Start: 0, End: 1023}, iv)
}

func TestParseByteRangeAbsentDefaultsFull(t *testing.T) {
	iv, err := ParseByteRange("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), iv.Start)
	assert.Equal(t, int64(OpenEnd), iv.End)
}

func TestParseByteRangeMalformed(t *testing.T) {
	for _, h := range []string{"100-200", "bytes=", "bytes=200-100", "bytes=abc-def"} {
		_, err := ParseByteRange(h)
		assert.ErrorIs(t, err, ErrInvalidRange, h)
	}
}

func TestIntervalSetAddMergesAdjacent(t *testing.T) {
	s := NewIntervalSet(Interval{0, 99}, Interval{100, 199})
	assert.Equal(t, []Interval{{0, 199}}, s.Items())
}

func TestIntervalSetAddDoesNotMergeWithGap(t *testing.T) {
	s := NewIntervalSet(Interval{0, 99}, Interval{101, 199})
	assert.Equal(t, []Interval{{0, 99}, {101, 199}}, s.Items())
}

func TestIntervalSetContains(t *testing.T) {
	s := NewIntervalSet(Interval{0, 1023}, Interval{4096, 8191})
	assert.True(t, s.Contains(Interval{0, 1023}))
	assert.True(t, s.Contains(Interval{512, 1000}))
	assert.False(t, s.Contains(Interval{1000, 4096}))
	assert.False(t, s.Contains(Interval{9000, 9100}))
}

func TestIntervalSetMissing(t *testing.T) {
	s := NewIntervalSet(Interval{0, 1023})
	gaps := s.Missing(Interval{512, 2047})
	assert.Equal(t, []Interval{{1024, 2047}}, gaps)

	gaps = s.Missing(Interval{0, 1023})
	assert.Empty(t, gaps)

	empty := &IntervalSet{}
	gaps = empty.Missing(Interval{0, 99})
	assert.Equal(t, []Interval{{0, 99}}, gaps)
}

func TestIntervalSetMissingMultipleGaps(t *testing.T) {
	s := NewIntervalSet(Interval{100, 199}, Interval{300, 399})
	gaps := s.Missing(Interval{0, 500})
	assert.Equal(t, []Interval{{0, 99}, {200, 299}, {400, 500}}, gaps)
}

func TestIntervalSetCoveredPrefix(t *testing.T) {
	s := NewIntervalSet(Interval{0, 1023})
	assert.Equal(t, int64(1023), s.CoveredPrefix(0))
	assert.Equal(t, int64(1023), s.CoveredPrefix(512))
	assert.Equal(t, int64(1999), s.CoveredPrefix(2000))
}

func TestIntervalSetTruncateTo(t *testing.T) {
	s := NewIntervalSet(Interval{0, 1023}, Interval{4096, 8191})
	s.TruncateTo(5000)
	assert.Equal(t, []Interval{{0, 1023}, {4096, 4999}}, s.Items())
}

func TestIntervalSetIdempotentCommit(t *testing.T) {
	s := NewIntervalSet(Interval{0, 999})
	s.Add(Interval{0, 999})
	assert.Equal(t, []Interval{{0, 999}}, s.Items())
}
