package errs

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidRange: http.StatusRequestedRangeNotSatisfiable,
		KindUpstream:      http.StatusBadGateway,
		KindNotFound:      http.StatusGatewayTimeout,
		KindInternal:      http.StatusInternalServerError,
		KindIO:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status(), kind.String())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindUpstream, cause)

	assert.Equal(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "boom")
	assert.Contains(t, e.Error(), "upstream")
}

func TestNewCarriesHeaders(t *testing.T) {
	h := http.Header{"X-Test": []string{"1"}}
	e := New(KindInvalidRange, h)
	assert.Equal(t, h, e.Headers)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, e.Status())
}

func TestWithCauseAndHeaders(t *testing.T) {
	e := New(KindIO, nil).WithCause(errors.New("disk full")).WithHeaders(http.Header{"X": []string{"y"}})
	assert.Equal(t, "y", e.Headers.Get("X"))
	assert.Contains(t, e.Error(), "disk full")
}
