package responsetransformer

import (
	"net/http"
	"strings"
)

// Rules describe the header scrubbing applied to responses before they are
// written to a cache store. Stored responses are replayed on later
// connections, so connection-oriented headers must never be stored.
type Rules struct {
	// Additional response headers to remove before storing,
	// e.g. Set-Cookie.
	StripHeaders []string `yaml:"stripHeaders"`
}

// hop-by-hop headers per RFC 9110 section 7.6.1
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Apply scrubs the response headers in place.
func (r Rules) Apply(res *http.Response) error {
	// headers named by Connection are hop-by-hop as well
	for _, value := range res.Header.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				res.Header.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		res.Header.Del(name)
	}
	for _, name := range r.StripHeaders {
		res.Header.Del(name)
	}
	return nil
}
