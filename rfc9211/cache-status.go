// Package rfc9211 builds Cache-Status header values.
// See https://www.rfc-editor.org/rfc/rfc9211
package rfc9211

import "fmt"

const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

// CacheStatus is one member of the Cache-Status list.
type CacheStatus struct {
	// Name of the cache, e.g. "Swoff".
	Cache     string
	Status    Status
	FwdReason FwdReason
	// FwdStatus is the status code the next hop answered with, if forwarded.
	FwdStatus int
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := cs.Cache
	if cs.Status == StatusHit {
		status += "; hit"
	} else if cs.FwdReason != "" {
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.FwdStatus != 0 {
		status = fmt.Sprintf("%s; fwd-status=%d", status, cs.FwdStatus)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
