package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	cachekey "github.com/ericselin/swoff/pkg/cache-key"
	"github.com/ericselin/swoff/pkg/fetch"
	serializer "github.com/ericselin/swoff/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// Caches hands out named stores backed by one provider.
type Caches struct {
	provider CacheProvider
	fetcher  fetch.Fetcher
	keyer    cachekey.Keyer
	log      zerolog.Logger
}

// New creates the store adapter.
// The fetcher is used by Put and PutAll, and relative URLs are resolved against origin.
func New(provider CacheProvider, fetcher fetch.Fetcher, origin *url.URL, logger zerolog.Logger) *Caches {
	return &Caches{
		provider: provider,
		fetcher:  fetcher,
		keyer:    cachekey.NewKeyer(origin),
		log:      logger,
	}
}

// Keyer returns the keyer used to resolve URLs into identities.
func (c *Caches) Keyer() cachekey.Keyer {
	return c.keyer
}

// Open returns a handle to the named store, creating it if absent.
func (c *Caches) Open(ctx context.Context, name string) (*Store, error) {
	if err := c.provider.Open(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, name, err)
	}
	return &Store{
		name:   name,
		caches: c,
		log:    c.log.With().Str("store", name).Logger(),
	}, nil
}

// Store is an open, named store.
type Store struct {
	name   string
	caches *Caches
	log    zerolog.Logger
}

func (s *Store) Name() string {
	return s.name
}

// Get looks up the stored response for id.
// A miss is not an error. Only GET identities can hit.
func (s *Store) Get(ctx context.Context, id cachekey.Identity) (*http.Response, bool, error) {
	if !id.Cacheable() {
		return nil, false, nil
	}
	key := s.caches.keyer.Key(id)
	bytes, ok, err := s.caches.provider.Get(ctx, s.name, key)
	if err != nil {
		return nil, false, fmt.Errorf("Could not read %s: %w", key, err)
	}
	if !ok {
		s.log.Trace().Str("key", key).Msg("Cache miss")
		return nil, false, nil
	}
	req, err := s.caches.keyer.Request(id)
	if err != nil {
		return nil, false, err
	}
	sRes, err := serializer.BytesToStoredResponse(bytes, req.WithContext(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("Corrupted entry %s: %w", key, err)
	}
	s.log.Trace().Str("key", key).Time("storedAt", sRes.StoredAt).Msg("Cache hit")
	return sRes.Response, true, nil
}

// Put fetches the resource fresh and stores it, overwriting any previous entry.
// Relative URLs in id are resolved against the origin.
func (s *Store) Put(ctx context.Context, id cachekey.Identity) error {
	abs, err := s.caches.keyer.Resolve(id.URL)
	if err != nil {
		return &FetchFailedError{URL: id.URL, Err: err}
	}
	id.URL = abs
	req, err := s.caches.keyer.Request(id)
	if err != nil {
		return err
	}
	s.log.Debug().Str("url", abs).Msg("Requesting content for store")
	res, err := s.caches.fetcher.Fetch(ctx, req.WithContext(ctx))
	if err != nil {
		return &FetchFailedError{URL: abs, Err: err}
	}
	defer res.Body.Close()
	if !successful(res) {
		return &FetchFailedError{URL: abs, StatusCode: res.StatusCode}
	}
	return s.write(ctx, id, res)
}

// PutAll stores every URL in order and stops at the first failure.
// Entries written before the failure are kept.
func (s *Store) PutAll(ctx context.Context, urls []string) error {
	for _, u := range urls {
		id, err := s.caches.keyer.Identity(u)
		if err == nil {
			err = s.Put(ctx, id)
		}
		if err != nil {
			s.log.Error().Err(err).Str("url", u).Msg("Could not store batch")
			return &BulkFetchFailedError{URL: u, Err: err}
		}
	}
	return nil
}

// PutResponse stores an already fetched response under id.
// The body is read and set back on res, so the caller can still send it.
func (s *Store) PutResponse(ctx context.Context, id cachekey.Identity, res *http.Response) error {
	if !id.Cacheable() {
		return ErrMethodNotSupported
	}
	return s.write(ctx, id, res)
}

// Keys lists the keys in the store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := s.caches.provider.Keys(ctx, s.name, func(key string) {
		keys = append(keys, key)
	})
	return keys, err
}

func (s *Store) write(ctx context.Context, id cachekey.Identity, res *http.Response) error {
	key := s.caches.keyer.Key(id)
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return &WriteFailedError{Key: key, Err: err}
	}
	if err := s.caches.provider.Put(ctx, s.name, key, bytes); err != nil {
		return &WriteFailedError{Key: key, Err: err}
	}
	s.log.Trace().Str("key", key).Int("bytes", len(bytes)).Msg("Cache write")
	return nil
}

// successful reports a 2xx status, the only responses Put stores.
func successful(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode <= 299
}
