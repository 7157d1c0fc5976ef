package swoff

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/ericselin/swoff/cache"
	"github.com/ericselin/swoff/pkg/fetch"
	"github.com/ericselin/swoff/rfc9211"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startApp serves "<path> #<n>" and counts requests.
// It also echoes the received Host and X-Forwarded-For headers.
func startApp(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := count.Add(1)
		w.Header().Set("Seen-Host", r.Host)
		w.Header().Set("Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "%s #%d", r.URL.RequestURI(), n)
	}))
	t.Cleanup(server.Close)
	return server, &count
}

func newTestHandler(t *testing.T, server *httptest.Server, policies Policies) (*Handler, *Engine) {
	t.Helper()
	origin, err := url.Parse(server.URL)
	require.NoError(t, err)
	logger := zerolog.Nop()
	engine, err := New(Config{
		StoreName: "app-1",
		OriginURL: *origin,
		Policies:  policies,
		Cache:     cache.NewMemCache(),
		Fetcher:   fetch.NewHTTPFetcher(server.Client().Transport),
		Logger:    &logger,
	})
	require.NoError(t, err)
	return NewHandler(engine, *origin), engine
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHandlerPassesThroughBeforeInstall(t *testing.T) {
	server, _ := startApp(t)
	handler, engine := newTestHandler(t, server, Policies{{URL: "/"}})

	rr := serve(handler, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/ #1", rr.Body.String())
	assert.Equal(t, "Swoff; fwd=bypass; fwd-status=200", rr.Header().Get(rfc9211.HeaderName))

	keys, err := engine.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestHandlerServesFromCacheWhenOriginIsDown(t *testing.T) {
	server, _ := startApp(t)
	handler, engine := newTestHandler(t, server, Policies{
		{URL: "/"},
		{URL: "/app.js", CacheAsap: true},
	})
	require.NoError(t, engine.OnInstall(context.Background()))

	rr := serve(handler, http.MethodGet, "/")
	assert.Equal(t, "/ #2", rr.Body.String())
	assert.Equal(t, "Swoff; fwd=uri-miss; fwd-status=200; stored", rr.Header().Get(rfc9211.HeaderName))

	server.Close()

	rr = serve(handler, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/ #2", rr.Body.String())
	assert.Equal(t, "Swoff; hit; detail=error", rr.Header().Get(rfc9211.HeaderName))

	rr = serve(handler, http.MethodGet, "/app.js")
	assert.Equal(t, "/app.js #1", rr.Body.String())

	rr = serve(handler, http.MethodGet, "/about")
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.Equal(t, "Swoff; fwd=miss; detail=error", rr.Header().Get(rfc9211.HeaderName))
}

func TestHandlerKeepsQueryInURL(t *testing.T) {
	server, _ := startApp(t)
	handler, engine := newTestHandler(t, server, Policies{{URL: "/search?q=go"}})
	require.NoError(t, engine.OnInstall(context.Background()))

	rr := serve(handler, http.MethodGet, "/search?q=go")
	assert.Equal(t, "/search?q=go #1", rr.Body.String())
	rr = serve(handler, http.MethodGet, "/search?q=rust")
	assert.Equal(t, "/search?q=rust #2", rr.Body.String())

	keys, err := engine.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GET:" + server.URL + "/search?q=go"}, keys)
}

func TestHandlerPassesOriginErrorsThrough(t *testing.T) {
	server, _ := startApp(t)
	handler, engine := newTestHandler(t, server, Policies{{URL: "/missing"}})
	require.NoError(t, engine.OnInstall(context.Background()))

	rr := serve(handler, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Swoff; fwd=uri-miss; fwd-status=404", rr.Header().Get(rfc9211.HeaderName))
}

func TestHandlerSendsOriginHost(t *testing.T) {
	server, _ := startApp(t)
	handler, engine := newTestHandler(t, server, nil)
	require.NoError(t, engine.OnInstall(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin, err := url.Parse(server.URL)
	require.NoError(t, err)
	assert.Equal(t, origin.Host, rr.Header().Get("Seen-Host"))
	assert.Empty(t, rr.Header().Get("Seen-Forwarded-For"))
}

func TestHandlerForwardsNonGet(t *testing.T) {
	server, count := startApp(t)
	handler, engine := newTestHandler(t, server, Policies{{URL: "/"}})
	require.NoError(t, engine.OnInstall(context.Background()))

	rr := serve(handler, http.MethodPost, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Swoff; fwd=method; fwd-status=200", rr.Header().Get(rfc9211.HeaderName))
	assert.Equal(t, int32(1), count.Load())

	server.Close()
	rr = serve(handler, http.MethodPost, "/")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestGetRequestSourceIp(t *testing.T) {
	cases := map[string]string{
		"1.2.3.4:10000":   "1.2.3.4",
		"[1:2:3]:10000":   "[1:2:3]",
		"no-port-address": "no-port-address",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := getRequestSourceIp(r); got != want {
			t.Fatalf("Source IP of %s is %s, expected %s", addr, got, want)
		}
	}
}
