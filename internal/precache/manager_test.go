package precache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/logging"
)

type seenRequest struct {
	Path   string
	Query  string
	Header http.Header
}

type origin struct {
	*httptest.Server
	mu   sync.Mutex
	seen []seenRequest
}

func newOrigin(t *testing.T, handler http.HandlerFunc) *origin {
	t.Helper()
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.seen = append(o.seen, seenRequest{Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()})
		o.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) requests() []seenRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := append([]seenRequest(nil), o.seen...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func staticHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/missing.css":
		http.Error(w, "gone", http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "content of "+r.URL.Path)
	}
}

var fixedNow = time.UnixMilli(1700000000123)

func newTestManager(t *testing.T, base string, caps Capabilities) (*Manager, cache.Storage) {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	resolver, err := NewResolver(base, caps)
	require.NoError(t, err)

	m := NewManager(storage, http.DefaultClient, resolver, logging.NewDiscardLogger())
	m.now = func() time.Time { return fixedNow }
	return m, storage
}

func match(t *testing.T, storage cache.Storage, gen generation.Generation, key string) (*cache.Response, error) {
	t.Helper()
	c, err := storage.Open(context.Background(), gen.Name())
	require.NoError(t, err)
	return c.Match(context.Background(), key)
}

var siteV1 = generation.Generation{Family: "site", Version: 1}

func TestPrecacheStoresUnderCanonicalKeyWithSharedStamp(t *testing.T) {
	o := newOrigin(t, staticHandler)
	m, storage := newTestManager(t, o.URL+"/", Capabilities{})

	ids := []string{"/a.css", "b.js", "/data.json?v=2"}
	err := m.Precache(context.Background(), siteV1, ids, Options{CacheBust: true})
	require.NoError(t, err)

	reqs := o.requests()
	require.Len(t, reqs, len(ids))
	for _, r := range reqs {
		assert.Contains(t, r.Query, BustParam+"=1700000000123", r.Path)
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", r.Header.Get("Pragma"))
	}
	assert.Equal(t, "v=2&cache-bust=1700000000123", reqs[2].Query)

	for _, key := range []string{o.URL + "/a.css", o.URL + "/b.js", o.URL + "/data.json?v=2"} {
		resp, err := match(t, storage, siteV1, key)
		require.NoError(t, err, key)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.False(t, resp.Opaque)
	}
	body, _ := match(t, storage, siteV1, o.URL+"/a.css")
	assert.Equal(t, "content of /a.css", string(body.Body))

	_, err = match(t, storage, siteV1, o.URL+"/a.css?cache-bust=1700000000123")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPrecacheUsesDirectiveWhenSupported(t *testing.T) {
	o := newOrigin(t, staticHandler)
	m, storage := newTestManager(t, o.URL+"/", Capabilities{CacheDirective: true})

	require.NoError(t, m.Precache(context.Background(), siteV1, []string{"/a.css"}, Options{CacheBust: true}))

	reqs := o.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Query)
	assert.Equal(t, "no-cache", reqs[0].Header.Get("Cache-Control"))

	_, err := match(t, storage, siteV1, o.URL+"/a.css")
	require.NoError(t, err)
}

func TestPrecacheWithoutBustLeavesRequestUntouched(t *testing.T) {
	o := newOrigin(t, staticHandler)
	m, _ := newTestManager(t, o.URL+"/", Capabilities{})

	require.NoError(t, m.Precache(context.Background(), siteV1, []string{"/a.css"}, Options{}))

	reqs := o.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Query)
	assert.Empty(t, reqs[0].Header.Get("Cache-Control"))
	assert.Empty(t, reqs[0].Header.Get("Pragma"))
}

func TestPrecacheIsolatesFailures(t *testing.T) {
	o := newOrigin(t, staticHandler)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/x.js"
	dead.Close()

	m, storage := newTestManager(t, o.URL+"/", Capabilities{})
	ids := []string{"/a.css", "/missing.css", deadURL, "/b.js"}

	err := m.Precache(context.Background(), siteV1, ids, Options{})
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "site-v1", batchErr.Generation)
	assert.Equal(t, 4, batchErr.Total)
	assert.ElementsMatch(t, []string{"/missing.css", deadURL}, batchErr.Failed())
	assert.Contains(t, err.Error(), "request for /missing.css failed with status 404")

	for _, key := range []string{o.URL + "/a.css", o.URL + "/b.js"} {
		_, err := match(t, storage, siteV1, key)
		require.NoError(t, err, key)
	}
	_, err = match(t, storage, siteV1, o.URL+"/missing.css")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = match(t, storage, siteV1, deadURL)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPreloadSwallowsFailures(t *testing.T) {
	o := newOrigin(t, staticHandler)
	m, storage := newTestManager(t, o.URL+"/", Capabilities{})

	m.Preload(context.Background(), siteV1, []string{"/a.css", "/missing.css"}, Options{})

	_, err := match(t, storage, siteV1, o.URL+"/a.css")
	require.NoError(t, err)
	_, err = match(t, storage, siteV1, o.URL+"/missing.css")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestPrecacheIsIdempotent(t *testing.T) {
	o := newOrigin(t, staticHandler)
	m, storage := newTestManager(t, o.URL+"/", Capabilities{})
	ids := []string{"/a.css", "/b.js"}

	require.NoError(t, m.Precache(context.Background(), siteV1, ids, Options{}))
	require.NoError(t, m.Precache(context.Background(), siteV1, ids, Options{}))

	c, err := storage.Open(context.Background(), siteV1.Name())
	require.NoError(t, err)
	keys, err := c.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestPrecacheEmptyBatch(t *testing.T) {
	m, storage := newTestManager(t, "https://example.com/", Capabilities{})
	require.NoError(t, m.Precache(context.Background(), siteV1, nil, Options{}))

	ok, err := storage.Has(context.Background(), siteV1.Name())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrecacheCrossOrigin(t *testing.T) {
	o := newOrigin(t, staticHandler)
	cdn := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open.woff2":
			w.Header().Set("Access-Control-Allow-Origin", "*")
			_, _ = io.WriteString(w, "open")
		case "/broken.woff2":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			_, _ = io.WriteString(w, "closed")
		}
	})

	t.Run("no-cors stores opaque without status check", func(t *testing.T) {
		m, storage := newTestManager(t, o.URL+"/", Capabilities{})
		ids := []string{cdn.URL + "/closed.woff2", cdn.URL + "/broken.woff2"}
		require.NoError(t, m.Precache(context.Background(), siteV1, ids, Options{CrossOrigin: true}))

		resp, err := match(t, storage, siteV1, cdn.URL+"/broken.woff2")
		require.NoError(t, err)
		assert.True(t, resp.Opaque)
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
	})

	t.Run("cors rejects responses without allow-origin", func(t *testing.T) {
		m, storage := newTestManager(t, o.URL+"/", Capabilities{})
		ids := []string{cdn.URL + "/closed.woff2", cdn.URL + "/open.woff2"}
		err := m.Precache(context.Background(), siteV1, ids, Options{})

		var batchErr *BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, []string{cdn.URL + "/closed.woff2"}, batchErr.Failed())
		assert.ErrorIs(t, err, ErrCrossOriginRejected)

		resp, err := match(t, storage, siteV1, cdn.URL+"/open.woff2")
		require.NoError(t, err)
		assert.False(t, resp.Opaque)
	})

	seen := cdn.requests()
	require.NotEmpty(t, seen)
	for _, r := range seen {
		assert.Equal(t, strings.TrimSuffix(o.URL, "/"), r.Header.Get("Origin"))
	}
}
