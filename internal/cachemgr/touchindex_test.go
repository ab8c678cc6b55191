package cachemgr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rangecache/mediaproxy/internal/cachekey"
	"github.com/rangecache/mediaproxy/internal/rangeset"
)

func TestTouchIndexMarkAndAnyTouched(t *testing.T) {
	ti := NewTouchIndex()
	key := cachekey.Key("touchkey")

	assert.False(t, ti.AnyTouched(key))

	ti.Mark(key, rangeset.Interval{Start: 0, End: 10})
	assert.True(t, ti.AnyTouched(key))
}

func TestTouchIndexIgnoresUnresolvedInterval(t *testing.T) {
	ti := NewTouchIndex()
	key := cachekey.Key("openend0")

	ti.Mark(key, rangeset.Interval{Start: 0, End: rangeset.OpenEnd})
	assert.False(t, ti.AnyTouched(key))
}

func TestTouchIndexForget(t *testing.T) {
	ti := NewTouchIndex()
	key := cachekey.Key("forgetme")

	ti.Mark(key, rangeset.Interval{Start: 0, End: 5})
	a := assert.New(t)
	a.True(ti.AnyTouched(key))

	ti.Forget(key)
	a.False(ti.AnyTouched(key))
}
