package swoff

import (
	cachekey "github.com/ericselin/swoff/pkg/cache-key"
)

// CacheEntryPolicy marks a URL as eligible for caching.
// Only URLs with a policy are ever written to the store.
type CacheEntryPolicy struct {
	// Path relative to the application origin, e.g. "/assets/script.js".
	URL string `yaml:"url" json:"url"`
	// If true, the URL is stored on installation, before anyone asks for it.
	CacheAsap bool `yaml:"cacheAsap" json:"cacheAsap"`
}

type Policies []CacheEntryPolicy

// Find returns the first policy whose URL, resolved against the origin,
// equals absoluteURL exactly. It returns nil if there is none.
func (p Policies) Find(keyer cachekey.Keyer, absoluteURL string) *CacheEntryPolicy {
	for i := range p {
		resolved, err := keyer.Resolve(p[i].URL)
		if err != nil {
			continue
		}
		if resolved == absoluteURL {
			return &p[i]
		}
	}
	return nil
}

// Asap returns the URLs to store on installation, verbatim and in order.
func (p Policies) Asap() []string {
	urls := make([]string, 0, len(p))
	for _, policy := range p {
		if policy.CacheAsap {
			urls = append(urls, policy.URL)
		}
	}
	return urls
}
