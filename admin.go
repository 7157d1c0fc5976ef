package swoff

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// AdminPrefix is where the admin routes are mounted.
const AdminPrefix = "/.swoff"

type admin struct {
	engine  *Engine
	offline *OfflineSwitch
}

// AdminRouter serves metrics, the stored entries, the connectivity switch
// and re-installation. The offline routes are only registered if offline is non-nil.
func AdminRouter(engine *Engine, offline *OfflineSwitch, gatherer prometheus.Gatherer) chi.Router {
	a := &admin{engine: engine, offline: offline}
	r := chi.NewRouter()
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/entries", a.entries)
	if offline != nil {
		r.Get("/offline", a.getOffline)
		r.Put("/offline", a.setOffline(true))
		r.Delete("/offline", a.setOffline(false))
	}
	r.Post("/install", a.install)
	return r
}

// Router mounts the admin routes next to the handler,
// with a request-scoped logger on every request.
func Router(handler *Handler, adminRouter http.Handler, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("reqId", "Request-Id"))
	r.Use(middleware.Recoverer)
	r.Mount(AdminPrefix, adminRouter)
	r.Handle("/*", handler)
	return r
}

func (a *admin) entries(w http.ResponseWriter, r *http.Request) {
	keys, err := a.engine.Entries(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list entries")
		http.Error(w, "Could not list entries", http.StatusInternalServerError)
		return
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		id, err := a.engine.keyer.IdentityFromKey(key)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Skipping entry")
			continue
		}
		entries = append(entries, entry{Method: id.Method, URL: id.URL})
	}
	writeJSON(w, r, struct {
		Store   string  `json:"store"`
		Entries []entry `json:"entries"`
	}{a.engine.storeName, entries})
}

type entry struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func (a *admin) getOffline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, offlineStatus{!a.offline.Online()})
}

func (a *admin) setOffline(offline bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.offline.SetOffline(offline)
		hlog.FromRequest(r).Info().Bool("offline", offline).Msg("Connectivity changed")
		writeJSON(w, r, offlineStatus{offline})
	}
}

func (a *admin) install(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.OnInstall(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type offlineStatus struct {
	Offline bool `json:"offline"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write JSON")
	}
}
