package cachestatus

import "fmt"

// CacheStatus reports how a request was handled, for use in the Cache-Status
// response header as specified in RFC 9211.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Stored indicates the forwarded response was written to the cache.
	Stored bool
	// free-form detail string, e.g. an error reason
	detail string
}

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"
	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// The cache contained a response that matched the request URI, but it
	// could not select a response based upon this request's header fields
	// and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"
	// The cache did not contain any responses that could be used to satisfy
	// this request (to be used when an implementation cannot distinguish
	// between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"
	// The cache was able to select a fresh response for the request, but the
	// request's semantics (e.g., Cache-Control request directives) did not
	// allow its use.
	FwdReasonRequest FwdReason = "request"
	// The cache was able to select a response for the request, but it was
	// stale.
	FwdReasonStale FwdReason = "stale"
	// The cache was able to select a partial response for the request, but it
	// did not contain all of the requested ranges (or the request was for the
	// complete response).
	FwdReasonPartial FwdReason = "partial"
)

// Hit marks the request as served from the cache.
func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
}

// Forward marks the request as forwarded to the origin for the given reason.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// MarkStored records that the forwarded response was stored in the cache.
func (cs *CacheStatus) MarkStored() {
	cs.Stored = true
}

// Detail attaches additional implementation-specific information.
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// String returns the header value for this cache status.
func (cs CacheStatus) String() string {
	status := fmt.Sprintf("Shellcache; %s", cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}
