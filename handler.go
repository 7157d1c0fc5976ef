package swoff

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericselin/swoff/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Handler serves the origin through an engine.
// Until the engine is installed, requests are proxied unchanged.
type Handler struct {
	engine *Engine
	origin url.URL
}

func NewHandler(engine *Engine, origin url.URL) *Handler {
	return &Handler{engine: engine, origin: origin}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger(r)
	req := h.originRequest(r)

	var (
		res *http.Response
		cs  rfc9211.CacheStatus
		err error
	)
	if h.engine.Active() {
		res, cs, err = h.engine.intercept(r.Context(), req)
	} else {
		cs = rfc9211.CacheStatus{Cache: cacheName}
		cs.Forward(rfc9211.FwdReasonBypass)
		res, err = h.engine.fetcher.Fetch(r.Context(), req)
		if err == nil {
			cs.FwdStatus = res.StatusCode
		}
	}

	if err != nil {
		w.Header().Set(rfc9211.HeaderName, cs.String())
		if errors.Is(err, ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Not available offline")
			http.Error(w, "Offline and not cached", http.StatusGatewayTimeout)
		} else {
			logger.Error().Err(err).Msg("Could not get response")
			http.Error(w, "Could not get response", http.StatusBadGateway)
		}
		return
	}
	h.send(w, r, res, cs, logger)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, res *http.Response, cs rfc9211.CacheStatus, logger zerolog.Logger) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add(rfc9211.HeaderName, cs.String())
	w.WriteHeader(res.StatusCode)
	var bytesWritten int64
	if res.Body != nil {
		var err error
		if bytesWritten, err = io.Copy(w, res.Body); err != nil {
			logger.Error().Err(err).Msg("Could not write response body to client")
		}
	}
	logRequest(logger, r, res.StatusCode, cs)
	logger.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// originRequest points a copy of r at the origin.
// Origins with paths are not supported.
func (h *Handler) originRequest(r *http.Request) *http.Request {
	req := r.Clone(r.Context())
	u := h.origin
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	req.URL = &u
	req.Host = ""
	req.RequestURI = ""
	req.Header = make(http.Header, len(r.Header))
	copyHeader(req.Header, r.Header)
	return req
}

func (h *Handler) logger(r *http.Request) zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return h.engine.log
	}
	return *logger
}

func logRequest(logger zerolog.Logger, r *http.Request, status int, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	logger.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("statusCode", status).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

// copyHeader copies all values, dropping the forwarding headers set by an upstream proxy.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if k == "X-Forwarded-For" || k == "X-Forwarded-Proto" || k == "X-Forwarded-Host" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
