package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// Identity is the (method, absolute URL) pair a stored response is filed under.
type Identity struct {
	Method string
	URL    string
}

// FromRequest gets the identity of a request.
// The request URL must already be absolute. An empty path is the root path,
// as it is on the wire.
func FromRequest(r *http.Request) Identity {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	u := r.URL
	if u.Path == "" && u.Opaque == "" && u.Host != "" {
		rooted := *u
		rooted.Path = "/"
		rooted.RawPath = ""
		u = &rooted
	}
	return Identity{Method: strings.ToUpper(method), URL: u.String()}
}

// Cacheable reports whether responses for the identity may be looked up or stored.
// Only GET is.
func (id Identity) Cacheable() bool {
	return id.Method == http.MethodGet
}

func (id Identity) String() string {
	return id.Method + " " + id.URL
}

// Keyer turns identities into store keys and back.
// Keys are relative to a store, so the same keyer serves every store generation.
type Keyer struct {
	// Origin that relative URLs are resolved against.
	Origin *url.URL
}

func NewKeyer(origin *url.URL) Keyer {
	return Keyer{Origin: origin}
}

// Resolve makes a possibly relative URL absolute against the origin.
// Configured paths like "/assets/app.js" pass through here.
func (k Keyer) Resolve(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if k.Origin == nil {
		if !ref.IsAbs() {
			return "", fmt.Errorf("Cannot resolve relative url %s without origin", rawURL)
		}
		return ref.String(), nil
	}
	return k.Origin.ResolveReference(ref).String(), nil
}

// Identity gets the GET identity for a (possibly relative) URL.
func (k Keyer) Identity(rawURL string) (Identity, error) {
	abs, err := k.Resolve(rawURL)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Method: http.MethodGet, URL: abs}, nil
}

// Key returns the store key for an identity.
func (k Keyer) Key(id Identity) string {
	return id.Method + methodSeparator + id.URL
}

// IdentityFromKey reverses Key.
func (k Keyer) IdentityFromKey(key string) (Identity, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return Identity{}, fmt.Errorf("Malformed key: %s", key)
	}
	return Identity{Method: method, URL: uri}, nil
}

// Request creates a request equal (caching-wise) to the one that produced the identity.
func (k Keyer) Request(id Identity) (*http.Request, error) {
	if !id.Cacheable() {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(id.Method, id.URL, nil)
}
