package swoff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericselin/swoff/cache"
	cachekey "github.com/ericselin/swoff/pkg/cache-key"
	"github.com/ericselin/swoff/pkg/fetch"
	"github.com/ericselin/swoff/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is how long to wait for the network before using the store.
const DefaultTimeout = 5 * time.Second

const cacheName = "Swoff"

var (
	// ErrCacheMiss means neither the network nor the store could answer.
	// The host decides what to show instead.
	ErrCacheMiss = errors.New("Not in cache")
	// ErrNetworkTimeout means the network did not answer in time.
	ErrNetworkTimeout = errors.New("Network timeout")
	// ErrOffline means the network was skipped because the host is offline.
	ErrOffline = errors.New("Offline")
)

// Lifecycle is what a host registers: one hook for installation
// and one for every intercepted request.
type Lifecycle interface {
	OnInstall(ctx context.Context) error
	OnInterceptRequest(ctx context.Context, r *http.Request) (*http.Response, error)
}

type Config struct {
	// Version-qualified name of the store, e.g. "my-app-1.0.1".
	// A new name means a new, empty store.
	StoreName string
	// URL of the application origin. Policy URLs are relative to it.
	OriginURL url.URL
	// URLs eligible for caching.
	Policies Policies
	// How long to wait for the network. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Storage for cache entries. An in-memory cache is used if nil.
	Cache cache.CacheProvider
	// Network boundary. Must not loop back into the engine.
	// An HTTPFetcher on http.DefaultTransport is used if nil.
	Fetcher fetch.Fetcher
	// Connectivity knowledge. AlwaysOnline is used if nil.
	Connectivity Connectivity
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Optional metrics.
	Metrics *Metrics
}

// Engine decides, per request, between network and store.
type Engine struct {
	storeName    string
	policies     Policies
	timeout      time.Duration
	caches       *cache.Caches
	keyer        cachekey.Keyer
	fetcher      fetch.Fetcher
	connectivity Connectivity
	log          zerolog.Logger
	metrics      *Metrics

	active     atomic.Bool
	storeMutex sync.Mutex
	store      *cache.Store
}

var _ Lifecycle = (*Engine)(nil)

// New creates an engine. It does not touch the store until installation
// or the first request.
func New(config Config) (*Engine, error) {
	if config.StoreName == "" {
		return nil, fmt.Errorf("Store name missing")
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("store", config.StoreName).
		Str("origin", config.OriginURL.String()).
		Logger()

	var origin *url.URL
	if config.OriginURL.Host != "" {
		o := config.OriginURL
		origin = &o
	}

	e := &Engine{
		storeName:    config.StoreName,
		policies:     append(Policies(nil), config.Policies...),
		timeout:      config.Timeout,
		fetcher:      config.Fetcher,
		connectivity: config.Connectivity,
		log:          logger,
		metrics:      config.Metrics,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.fetcher == nil {
		e.fetcher = fetch.NewHTTPFetcher(nil)
	}
	if e.connectivity == nil {
		e.connectivity = AlwaysOnline
	}
	provider := config.Cache
	if provider == nil {
		logger.Warn().Msg("No cache provider configured, using memory")
		provider = cache.NewMemCache()
	}
	e.caches = cache.New(provider, e.fetcher, origin, logger)
	e.keyer = e.caches.Keyer()
	return e, nil
}

// Active reports whether installation has succeeded.
// Hosts pass requests straight through until it has.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// OnInstall stores every cacheAsap URL. The engine becomes active only if all of them were stored.
// Running it again refetches the same entries.
func (e *Engine) OnInstall(ctx context.Context) error {
	urls := e.policies.Asap()
	e.log.Info().Strs("urls", urls).Msg("Installing")

	store, err := e.openStore(ctx)
	if err == nil {
		err = store.PutAll(ctx, urls)
	}
	e.metrics.installed(err)
	if err != nil {
		e.log.Error().Err(err).Msg("Installation failed")
		return fmt.Errorf("Installation failed: %w", err)
	}
	e.active.Store(true)
	e.log.Info().Int("stored", len(urls)).Msg("Installed")
	return nil
}

// OnInterceptRequest answers r from the network, falling back to the store.
// It returns an error wrapping ErrCacheMiss if neither could answer.
// Non-GET requests go straight to the network.
func (e *Engine) OnInterceptRequest(ctx context.Context, r *http.Request) (*http.Response, error) {
	res, _, err := e.intercept(ctx, r)
	return res, err
}

// Entries lists the keys of the active store.
func (e *Engine) Entries(ctx context.Context) ([]string, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.Keys(ctx)
}

func (e *Engine) intercept(ctx context.Context, r *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Cache: cacheName}
	id := cachekey.FromRequest(r)
	log := e.log.With().Str("method", id.Method).Str("url", id.URL).Logger()

	if !id.Cacheable() {
		log.Trace().Msg("Passing through")
		cs.Forward(rfc9211.FwdReasonMethod)
		e.metrics.intercepted(outcomePassThrough)
		res, err := e.fetcher.Fetch(ctx, r)
		if err == nil {
			cs.FwdStatus = res.StatusCode
		}
		return res, cs, err
	}

	res, netErr := e.fromNetwork(ctx, r, log)
	if netErr == nil {
		cs.Forward(rfc9211.FwdReasonUriMiss)
		cs.FwdStatus = res.StatusCode
		cs.Stored = e.storeIfEligible(ctx, id, res, log)
		e.metrics.intercepted(outcomeNetwork)
		return res, cs, nil
	}

	reason := failureReason(netErr)
	e.metrics.networkFailed(reason)
	log.Debug().Err(netErr).Str("reason", reason).Msg("Network failed, using cache")

	// the caller may have given up already, the lookup must still run
	lookupCtx := context.WithoutCancel(ctx)
	store, err := e.openStore(lookupCtx)
	if err == nil {
		var hit bool
		res, hit, err = store.Get(lookupCtx, id)
		if hit {
			cs.Hit()
			cs.Detail = reason
			e.metrics.intercepted(outcomeCacheHit)
			return res, cs, nil
		}
	}

	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = reason
	e.metrics.intercepted(outcomeCacheMiss)
	if err != nil {
		log.Error().Err(err).Msg("Could not read from cache")
		return nil, cs, fmt.Errorf("%w for %s: %w", ErrCacheMiss, id, errors.Join(netErr, err))
	}
	log.Debug().Msg("Cache missed")
	return nil, cs, fmt.Errorf("%w for %s: %w", ErrCacheMiss, id, netErr)
}

// fromNetwork races the fetch against the timeout.
// The timeout does not cancel the fetch; a late response is discarded.
func (e *Engine) fromNetwork(ctx context.Context, r *http.Request, log zerolog.Logger) (*http.Response, error) {
	if !e.connectivity.Online() {
		return nil, ErrOffline
	}

	type result struct {
		res *http.Response
		err error
	}
	results := make(chan result)
	abandoned := make(chan struct{})
	started := time.Now()

	log.Trace().Dur("timeout", e.timeout).Msg("Fetching from network")
	go func() {
		res, err := e.fetcher.Fetch(ctx, r)
		if err == nil && res == nil {
			err = fmt.Errorf("Fetcher returned no response")
		}
		select {
		case results <- result{res, err}:
		case <-abandoned:
			if err == nil {
				log.Debug().Int("status", res.StatusCode).Dur("after", time.Since(started)).Msg("Discarding late network response")
				res.Body.Close()
			}
		}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case out := <-results:
		if out.err == nil {
			e.metrics.networkAnswered(time.Since(started))
		}
		return out.res, out.err
	case <-timer.C:
		close(abandoned)
		return nil, ErrNetworkTimeout
	case <-ctx.Done():
		close(abandoned)
		return nil, ctx.Err()
	}
}

// storeIfEligible writes a network response to the store if its URL has a policy.
// It waits for the write, but a failed write does not fail the request.
func (e *Engine) storeIfEligible(ctx context.Context, id cachekey.Identity, res *http.Response, log zerolog.Logger) bool {
	if e.policies.Find(e.keyer, id.URL) == nil {
		log.Trace().Msg("Not caching, no policy")
		return false
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Trace().Int("status", res.StatusCode).Msg("Not caching unsuccessful response")
		return false
	}
	store, err := e.openStore(ctx)
	if err == nil {
		err = store.PutResponse(ctx, id, res)
	}
	e.metrics.stored(err)
	if err != nil {
		log.Error().Err(err).Msg("Could not write to cache")
		return false
	}
	log.Trace().Msg("Cached")
	return true
}

// openStore opens the store once and keeps the handle.
// A failed open is retried on the next call.
func (e *Engine) openStore(ctx context.Context) (*cache.Store, error) {
	e.storeMutex.Lock()
	defer e.storeMutex.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	store, err := e.caches.Open(ctx, e.storeName)
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrOffline):
		return "offline"
	case errors.Is(err, ErrNetworkTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
