package fetch

import (
	"context"
	"net/http"
	"time"
)

// Fetcher is the network boundary.
// It takes a request and yields a response or a failure, and never retries.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// HTTPFetcher fetches with an http.Client.
type HTTPFetcher struct {
	Client *http.Client
	// Host header to send, if the URL host is e.g. just an IP address.
	Host string
}

// NewHTTPFetcher returns a fetcher using a client on top of transport.
// A nil transport means http.DefaultTransport.
func NewHTTPFetcher(transport http.RoundTripper) *HTTPFetcher {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPFetcher{Client: &http.Client{Transport: transport}}
}

// Fetch sends a copy of r, so server-side requests can be passed in as is.
func (f *HTTPFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	req := r.Clone(ctx)
	// server requests carry RequestURI, which the client refuses
	req.RequestURI = ""
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	if req.ContentLength == 0 {
		req.Body = nil
	}
	if f.Host != "" {
		req.Host = f.Host
	}
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}
