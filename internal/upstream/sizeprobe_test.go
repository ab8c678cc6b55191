package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeUsesHeadWhenAvailable(t *testing.T) {
	var headCalls, getCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			headCalls++
			w.Header().Set("Content-Length", "12345")
			w.WriteHeader(http.StatusOK)
		default:
			getCalls++
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	p := NewSizeProbe(New(DefaultConfig()))
	u, _ := url.Parse(srv.URL)

	size, err := p.Probe(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
	assert.Equal(t, 1, headCalls)
	assert.Zero(t, getCalls)
}

func TestProbeFallsBackToZeroRangeWhenHeadUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/999")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	p := NewSizeProbe(New(DefaultConfig()))
	u, _ := url.Parse(srv.URL)

	size, err := p.Probe(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, int64(999), size)
}

func TestProbeFallsBackToFullGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			w.Header().Set("Content-Length", "7")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("1234567"))
		}
	}))
	defer srv.Close()

	p := NewSizeProbe(New(DefaultConfig()))
	u, _ := url.Parse(srv.URL)

	size, err := p.Probe(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
}

func TestProbeErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewSizeProbe(New(DefaultConfig()))
	u, _ := url.Parse(srv.URL)

	_, err := p.Probe(context.Background(), u)
	assert.Error(t, err)
}
