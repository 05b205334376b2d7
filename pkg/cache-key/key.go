package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

// CacheKeyer derives cache entry keys for requests against a single origin.
// A key is the canonical request URL: the path plus any raw query, e.g.
// "/manifest.json" or "/search?q=x". Fragments never appear in keys.
type CacheKeyer struct {
	// Origin all keyed requests resolve against.
	Origin url.URL
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// ForRequest returns the cache key for an incoming request.
// Only GET requests have keys.
func (c CacheKeyer) ForRequest(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return r.URL.RequestURI(), nil
}

// Canonical resolves an asset reference from a shell manifest into a cache
// key. References may be relative ("./", "./manifest.json", "/js/app.js") or
// absolute URLs on the configured origin. References resolving to any other
// origin are rejected, since responses from foreign origins cannot be stored.
func (c CacheKeyer) Canonical(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := c.Origin.ResolveReference(u)
	if resolved.Scheme != c.Origin.Scheme || resolved.Host != c.Origin.Host {
		return "", fmt.Errorf("Asset %q is not on origin %s", ref, c.Origin.String())
	}
	key := resolved.EscapedPath()
	if key == "" {
		key = "/"
	}
	if resolved.RawQuery != "" {
		key += "?" + resolved.RawQuery
	}
	return key, nil
}

// RequestFromKey creates the GET request that, sent to the origin, populates
// the entry identified by the given key.
func (c CacheKeyer) RequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, "/") {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	return http.NewRequest(http.MethodGet, key, nil)
}
