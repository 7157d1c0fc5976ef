package swoff

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, origin *fakeOrigin) (http.Handler, *Engine, *OfflineSwitch) {
	t.Helper()
	reg := prometheus.NewRegistry()
	offline := &OfflineSwitch{}
	engine := newTestEngine(t, origin, appPolicies, func(c *Config) {
		c.Connectivity = offline
		c.Metrics = NewMetrics(reg)
	})
	router := Router(
		NewHandler(engine, *engine.keyer.Origin),
		AdminRouter(engine, offline, reg),
		zerolog.Nop(),
	)
	return router, engine, offline
}

func TestAdminInstallAndEntries(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"/": "home", "/assets/script.js": "js"})
	router, engine, _ := newTestRouter(t, origin)

	rr := serve(router, http.MethodPost, "/.swoff/install")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, engine.Active())

	rr = serve(router, http.MethodGet, "/.swoff/entries")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var listing struct {
		Store   string  `json:"store"`
		Entries []entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	assert.Equal(t, "my-app-1.0.1", listing.Store)
	assert.Equal(t, []entry{{Method: "GET", URL: "https://my-app.com/assets/script.js"}}, listing.Entries)

	rr = serve(router, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(router, http.MethodGet, "/.swoff/entries")
	assert.JSONEq(t, `{"store":"my-app-1.0.1","entries":[
		{"method":"GET","url":"https://my-app.com/"},
		{"method":"GET","url":"https://my-app.com/assets/script.js"}
	]}`, rr.Body.String())
}

func TestAdminInstallFailure(t *testing.T) {
	origin := newFakeOrigin(map[string]string{})
	router, engine, _ := newTestRouter(t, origin)

	rr := serve(router, http.MethodPost, "/.swoff/install")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "/assets/script.js")
	assert.False(t, engine.Active())
}

func TestAdminOfflineSwitch(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"/": "home", "/assets/script.js": "js"})
	router, _, offline := newTestRouter(t, origin)
	require.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/.swoff/install").Code)

	rr := serve(router, http.MethodPut, "/.swoff/offline")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"offline":true}`, rr.Body.String())
	assert.False(t, offline.Online())

	calls := origin.callCount()
	rr = serve(router, http.MethodGet, "https://my-app.com/assets/script.js")
	assert.Equal(t, "js", rr.Body.String())
	assert.Equal(t, "Swoff; hit; detail=offline", rr.Header().Get("Cache-Status"))
	assert.Equal(t, calls, origin.callCount())

	rr = serve(router, http.MethodGet, "/.swoff/offline")
	assert.JSONEq(t, `{"offline":true}`, rr.Body.String())

	rr = serve(router, http.MethodDelete, "/.swoff/offline")
	assert.JSONEq(t, `{"offline":false}`, rr.Body.String())
	assert.True(t, offline.Online())
}

func TestAdminMetrics(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"/": "home", "/assets/script.js": "js"})
	router, _, _ := newTestRouter(t, origin)
	serve(router, http.MethodPost, "/.swoff/install")
	origin.fail(errors.New("down"))
	serve(router, http.MethodGet, "/")

	rr := serve(router, http.MethodGet, "/.swoff/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	metrics := rr.Body.String()
	assert.True(t, strings.Contains(metrics, `swoff_install_total{result="ok"} 1`), metrics)
	assert.True(t, strings.Contains(metrics, `swoff_intercepts_total{outcome="cache_miss"} 1`), metrics)
}

func TestRouterRecoversFromPanics(t *testing.T) {
	router := Router(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), zerolog.Nop())

	rr := serve(router, http.MethodGet, "/.swoff/anything")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
