package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/server"
)

func newProxyApp(t *testing.T, f *fixture, scope Scope) *fiber.App {
	t.Helper()
	logger := discardLogger()
	forwarder := NewForwarder(NewHandler(f.icpt, logger), NewPassthroughHandler(f.icpt, logger), scope, logger)
	app, err := server.NewApp(server.AppOptions{Logger: logger, Proxy: forwarder, ListenPort: 5000})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func TestHandlerServesCacheHit(t *testing.T) {
	f := newFixture(t)
	f.put(t, "site-v2", "/a.css", "body{}")
	app := newProxyApp(t, f, fixedScope(true))

	resp, err := app.Test(httptest.NewRequest("GET", "http://site.local/a.css", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "body{}" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, string(body))
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit header")
	}
	if resp.Header.Get("X-Offline-Hub-Generation") != "site-v2" {
		t.Fatalf("expected generation header, got %s", resp.Header.Get("X-Offline-Hub-Generation"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	if f.hits.Load() != 0 {
		t.Fatalf("origin should not be contacted on hit")
	}
}

func TestHandlerForwardsMiss(t *testing.T) {
	f := newFixture(t)
	app := newProxyApp(t, f, fixedScope(true))

	resp, err := app.Test(httptest.NewRequest("GET", "http://site.local/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected origin 404 to pass through, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "false" {
		t.Fatalf("expected cache miss header")
	}
}

func TestHandlerPassthroughSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.put(t, "site-v2", "/a.css", "body{}")
	app := newProxyApp(t, f, fixedScope(false))

	resp, err := app.Test(httptest.NewRequest("GET", "http://site.local/a.css", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "network GET /a.css" {
		t.Fatalf("expected network body, got %s", string(body))
	}
	if f.hits.Load() != 1 {
		t.Fatalf("expected one origin hit, got %d", f.hits.Load())
	}
}

func TestHandlerForwardsRequestBody(t *testing.T) {
	f := newFixture(t)
	app := newProxyApp(t, f, fixedScope(true))

	req := httptest.NewRequest("POST", "http://site.local/submit?x=1", strings.NewReader("payload"))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "network POST /submit?x=1" {
		t.Fatalf("unexpected body %s", string(body))
	}
}

func TestHandlerReturns502OnNetworkFailure(t *testing.T) {
	f := newFixture(t)
	f.origin.Close()
	app := newProxyApp(t, f, fixedScope(true))

	resp, err := app.Test(httptest.NewRequest("GET", "http://site.local/a.css", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "upstream_failed") {
		t.Fatalf("expected upstream_failed body, got %s", string(body))
	}
}

func TestHandlerKeepsMultiValueHeaders(t *testing.T) {
	f := newFixture(t)
	app := newProxyApp(t, f, fixedScope(true))
	want := []string{"</a.css>; rel=preload", "</b.js>; rel=preload"}

	resp, err := app.Test(httptest.NewRequest("GET", "http://site.local/links", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Values("Link"); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("network response lost Link values: %v", got)
	}

	ctx := context.Background()
	c, err := f.storage.Open(ctx, "site-v2")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	key := f.origin.URL + "/cached-links"
	if err := c.Put(ctx, key, &cache.Response{
		Key:    key,
		Status: http.StatusOK,
		Header: http.Header{"Link": want, "Vary": []string{"Accept", "Accept-Encoding"}},
		Body:   []byte("ok"),
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "http://site.local/cached-links", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get("X-Offline-Hub-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit")
	}
	if got := resp.Header.Values("Link"); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("cached response lost Link values: %v", got)
	}
	if got := resp.Header.Values("Vary"); len(got) != 2 {
		t.Fatalf("cached response lost Vary values: %v", got)
	}
}
