package swoff

import "net/http"

// Transport is an http.RoundTripper that sends requests through an engine.
// It must not be the transport of the engine's own fetcher.
type Transport struct {
	Engine *Engine
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	var (
		res *http.Response
		err error
	)
	if t.Engine.Active() {
		res, err = t.Engine.OnInterceptRequest(r.Context(), r)
	} else {
		res, err = t.Engine.fetcher.Fetch(r.Context(), r)
	}
	if res != nil {
		res.Request = r
	}
	return res, err
}

// Client returns an HTTP client whose requests go through the engine.
func (e *Engine) Client() *http.Client {
	return &http.Client{Transport: &Transport{Engine: e}}
}
