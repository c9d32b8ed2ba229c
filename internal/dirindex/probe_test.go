package dirindex

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProberSendsCacheLocalAccept(t *testing.T) {
	var (
		mu      sync.Mutex
		accepts []string
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepts = append(accepts, r.Header.Get("Accept"))
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.URL.Path == "/missing.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("present"))
	}))
	defer srv.Close()

	prober, err := NewHTTPProber(srv.Client(), srv.URL)
	require.NoError(t, err)

	status, err := prober.Probe(context.Background(), "/present.txt")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = prober.Probe(context.Background(), "/missing.txt")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, []string{AcceptCacheLocal, AcceptCacheLocal}, accepts)
	assert.Equal(t, []string{http.MethodGet, http.MethodGet}, methods)
}

func TestHTTPProberSurfacesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	prober, err := NewHTTPProber(nil, base)
	require.NoError(t, err)

	_, err = prober.Probe(context.Background(), "/a.txt")
	assert.Error(t, err)
}

func TestNewHTTPProberValidatesBase(t *testing.T) {
	_, err := NewHTTPProber(nil, "ftp://example.com")
	assert.Error(t, err)
	_, err = NewHTTPProber(nil, "http://")
	assert.Error(t, err)
}

func TestAnnotatePageAgainstHTTPEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != AcceptCacheLocal {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/b.txt" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var page bytes.Buffer
	require.NoError(t, RenderListing(&page, Page{
		Hub:  "local",
		Path: "/",
		Entries: []Entry{
			{Name: "a.txt", Path: "/a.txt", Size: 10},
			{Name: "b.txt", Path: "/b.txt", Size: 20},
		},
	}))

	prober, err := NewHTTPProber(srv.Client(), srv.URL)
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := New(prober, Options{Strict: true}, nil).AnnotatePage(context.Background(), &page, &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"/b.txt"}, report.Absent())
	assert.Equal(t, 1, strings.Count(out.String(), `class="icon-attention"`))
}
