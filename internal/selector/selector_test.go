package selector

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

func testSelector(t *testing.T, reachable bool) (*Selector, cachekey.Key, *url.URL) {
	t.Helper()
	idx := index.New(t.TempDir())
	s := New(idx, time.Minute)
	s.checkFunc = func(ctx context.Context, origin *url.URL) bool { return reachable }

	u, _ := url.Parse("https://origin.example.com/video.mp4")
	key := cachekey.Derive(u, false)
	return s, key, u
}

func TestPlanNoRecordAndReachableIsOriginOnly(t *testing.T) {
	s, key, u := testSelector(t, true)
	plan, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	require.NoError(t, err)
	assert.Equal(t, OriginOnly, plan.Class)
}

func TestPlanNoRecordAndUnreachableIsUnavailable(t *testing.T) {
	s, key, u := testSelector(t, false)
	_, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPlanFullyCachedIsFileOnly(t *testing.T) {
	s, key, u := testSelector(t, true)
	require.NoError(t, s.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 0, End: 999})
		r.TotalSize = 1000
		return true
	}))

	plan, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 10, End: 99})
	require.NoError(t, err)
	assert.Equal(t, FileOnly, plan.Class)
}

func TestPlanPartialPrefixIsMixed(t *testing.T) {
	s, key, u := testSelector(t, true)
	require.NoError(t, s.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 0, End: 49})
		r.TotalSize = 1000
		return true
	}))

	plan, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	require.NoError(t, err)
	assert.Equal(t, Mixed, plan.Class)
	assert.Equal(t, int64(49), plan.CachedThru)
}

func TestPlanUncachedStartIsOriginOnlyEvenWithLaterCoverage(t *testing.T) {
	s, key, u := testSelector(t, true)
	require.NoError(t, s.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 500, End: 999})
		r.TotalSize = 1000
		return true
	}))

	plan, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	require.NoError(t, err)
	assert.Equal(t, OriginOnly, plan.Class)
}

func TestPlanDegradesToFileOnlyWhenOriginDownButPrefixCovered(t *testing.T) {
	s, key, u := testSelector(t, false)
	require.NoError(t, s.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 0, End: 49})
		r.TotalSize = 1000
		return true
	}))

	plan, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	require.NoError(t, err)
	assert.Equal(t, FileOnly, plan.Class)
	assert.Equal(t, int64(49), plan.Requested.End)
}

func TestPlanOriginDownAndNothingCoveredIsUnavailable(t *testing.T) {
	s, key, u := testSelector(t, false)
	require.NoError(t, s.idx.Mutate(key, func(r *index.ObjectRecord) bool {
		r.Intervals.Add(rangeset.Interval{Start: 500, End: 999})
		r.TotalSize = 1000
		return true
	}))

	_, err := s.Plan(context.Background(), key, u, rangeset.Interval{Start: 0, End: 99})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLivenessCacheRemembersResultWithinTTL(t *testing.T) {
	calls := 0
	l := newLivenessCache(time.Minute)
	u, _ := url.Parse("https://origin.example.com/x")
	check := func(ctx context.Context, o *url.URL) bool {
		calls++
		return true
	}

	assert.True(t, l.Reachable(context.Background(), u, check))
	assert.True(t, l.Reachable(context.Background(), u, check))
	assert.Equal(t, 1, calls)
}
