package shellcache

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/shellcache/shellcache/cache"
	cachekey "github.com/shellcache/shellcache/pkg/cache-key"
	cachestatus "github.com/shellcache/shellcache/pkg/cache-status"
	"github.com/shellcache/shellcache/pkg/metrics"
	serializer "github.com/shellcache/shellcache/pkg/response-serializer"
	transformer "github.com/shellcache/shellcache/pkg/response-transformer"
	tee "github.com/shellcache/shellcache/pkg/response-writer-tee"
	shellmanifest "github.com/shellcache/shellcache/pkg/shell-manifest"
)

type Config struct {
	// Cache provider to use for storage.
	Cache cache.Provider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. Defaults to a console logger.
	Logger *zerolog.Logger
	// Optional function for mutating the incoming request.
	RequestModifier func(*http.Request)
	// Largest response body to store, in bytes. Zero means no limit.
	MaxEntryBytes int64
	// Response headers to remove before storing, in addition to the
	// hop-by-hop set. Defaults to Set-Cookie if nil.
	StripHeaders []string
	// Abort installation when a shell asset cannot be cached.
	// The default is to log the failure and keep the partial store.
	InstallStrict bool
	// Do not activate a version when its installation finishes; activation
	// then only happens through the admin API.
	ManualActivation bool
	// Maximum concurrent origin fetches during install. Defaults to 4.
	InstallConcurrency int
	// Origin fetches per second during install. Zero means unlimited.
	InstallRatePerSecond float64
	// Directory for install reports. No reports are written if empty.
	DataDir string
}

// ShellCache is a reverse proxy that keeps a versioned offline copy of an
// application shell. GET requests are served from the active cache store
// when possible, everything else goes to the origin.
type ShellCache struct {
	cache              cache.Provider
	keyer              cachekey.CacheKeyer
	log                zerolog.Logger
	reverseproxy       httputil.ReverseProxy
	modifyRequest      func(*http.Request)
	maxEntryBytes      int64
	scrub              transformer.Rules
	installStrict      bool
	manualActivation   bool
	installConcurrency int
	installLimiter     *rate.Limiter
	dataDir            string

	// collapses concurrent installs and concurrent writes of one entry
	group singleflight.Group

	mu         sync.RWMutex
	active     string
	manifest   *shellmanifest.Manifest
	lastReport *InstallReport
}

// New initializes a ShellCache instance for the origin in the config.
func New(config Config) *ShellCache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	if config.StripHeaders == nil {
		config.StripHeaders = []string{"Set-Cookie"}
	}
	if config.InstallConcurrency <= 0 {
		config.InstallConcurrency = 4
	}
	installRate := rate.Inf
	if config.InstallRatePerSecond > 0 {
		installRate = rate.Limit(config.InstallRatePerSecond)
	}

	s := &ShellCache{
		cache:              config.Cache,
		keyer:              cachekey.NewCacheKeyer(config.OriginURL),
		log:                logger,
		modifyRequest:      config.RequestModifier,
		maxEntryBytes:      config.MaxEntryBytes,
		scrub:              transformer.Rules{StripHeaders: config.StripHeaders},
		installStrict:      config.InstallStrict,
		manualActivation:   config.ManualActivation,
		installConcurrency: config.InstallConcurrency,
		installLimiter:     rate.NewLimiter(installRate, 1),
		dataDir:            config.DataDir,
	}

	host := config.OriginURL.Host
	hostHeader := host
	var transport http.RoundTripper = http.DefaultTransport
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}

	s.reverseproxy = httputil.ReverseProxy{
		Director:  createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.IncOriginError()
			s.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch from origin")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return s
}

// createDirector creates a director function for the reverse proxy.
func createDirector(scheme, host, hostHeader string) func(r *http.Request) {
	return func(r *http.Request) {
		r.URL.Scheme = scheme
		r.URL.Host = host
		if hostHeader != "" {
			r.Host = hostHeader
		}
	}
}

// ServeHTTP implements the http.Handler interface.
// It is the main entry point for the shell cache.
func (s *ShellCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.modifyRequest != nil {
		s.modifyRequest(r)
	}

	key, err := s.keyer.ForRequest(r)
	if err != nil {
		// the cache never intervenes for non-GET traffic
		s.passThrough(w, r)
		return
	}

	cs := cachestatus.CacheStatus{}
	store := s.ActiveVersion()
	if store == "" {
		// nothing claimed yet, plain proxying only
		cs.Forward(cachestatus.FwdReasonBypass)
		s.forward(w, r, "", "", cs)
		return
	}

	bts, ok, err := s.cache.Get(store, key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
	}
	if ok && s.sendStoredResponse(w, r, bts, store, key) {
		return
	}

	cs.Forward(cachestatus.FwdReasonUriMiss)
	s.forward(w, r, store, key, cs)
}

// passThrough sends the request to the origin untouched.
func (s *ShellCache) passThrough(w http.ResponseWriter, r *http.Request) {
	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdReasonMethod)
	w.Header().Add("Cache-Status", cs.String())
	s.reverseproxy.ServeHTTP(w, r)
	metrics.IncRequest("bypass")
	go s.logRequest(r, cs)
}

// sendStoredResponse sends a cache hit to the client exactly as stored.
// It reports false if the entry cannot be decoded, in which case the entry
// is dropped and the caller should treat the request as a miss.
func (s *ShellCache) sendStoredResponse(w http.ResponseWriter, r *http.Request, bts []byte, store, key string) bool {
	sRes, err := serializer.BytesToStoredResponse(bts)
	if err != nil {
		// a corrupted entry, delete it and serve from the origin instead
		s.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		if err := s.cache.Delete(store, key); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("Could not delete corrupted entry")
		}
		return false
	}
	res := sRes.Response
	defer res.Body.Close()

	cs := cachestatus.CacheStatus{}
	cs.Hit()

	copyHeader(w.Header(), res.Header)
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not write response body to client")
	}
	s.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)

	metrics.IncRequest("hit")
	go s.logRequest(r, cs)
	return true
}

// forward streams the origin response to the client while recording a copy.
// If the origin responds with exactly HTTP 200 and a store is given, the
// recorded copy is written to the store in the background. Anything else is
// passed through uncached.
func (s *ShellCache) forward(w http.ResponseWriter, r *http.Request, store, key string, cs cachestatus.CacheStatus) {
	// set cache status on the underlying rw only, i.e. do not store it
	w.Header().Add("Cache-Status", cs.String())

	rwtee := tee.NewResponseSaver(w, s.maxEntryBytes)
	start := time.Now()
	s.reverseproxy.ServeHTTP(rwtee, r)
	metrics.ObserveOriginRequest(time.Since(start))

	if store == "" {
		metrics.IncRequest("bypass")
	} else {
		metrics.IncRequest("miss")
	}
	go s.logRequest(r, cs)

	if store == "" || rwtee.StatusCode() != http.StatusOK {
		return
	}
	if rwtee.Overflowed() {
		s.log.Debug().Str("key", key).Msg("Response too large to store")
		return
	}

	// save to cache in a goroutine (do not slow down the response)
	go s.storeResponse(store, key, rwtee.Response())
}

// storeResponse writes one recorded origin response into the store.
// Concurrent writes for the same entry collapse into a single one.
func (s *ShellCache) storeResponse(store, key string, recorded []byte) {
	_, err, _ := s.group.Do("write:"+store+":"+key, func() (interface{}, error) {
		return nil, s.putRecorded(store, key, recorded)
	})
	if err != nil {
		metrics.IncStoreWriteFailure()
		s.log.Error().Err(err).Str("store", store).Str("key", key).Msg("Could not write to cache")
	}
}

// putRecorded decodes a recorded origin response, scrubs connection-oriented
// headers, stamps the store time and writes the entry.
func (s *ShellCache) putRecorded(store, key string, recorded []byte) error {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(recorded)), nil)
	if err != nil {
		return err
	}
	if err := s.scrub.Apply(res); err != nil {
		return err
	}
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	s.log.Trace().Str("store", store).Str("key", key).Msg("Writing to cache")
	return s.cache.Put(store, key, bts)
}

// ActiveVersion returns the name of the cache store currently serving hits.
// It is empty until a version has been activated.
func (s *ShellCache) ActiveVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// claim switches serving to the given store atomically.
func (s *ShellCache) claim(version string) {
	s.mu.Lock()
	s.active = version
	s.mu.Unlock()
}

// SetManifest makes m the current shell manifest. All asset references are
// canonicalized against the origin; a manifest referencing assets on any
// other origin is rejected and the previous manifest stays in effect.
func (s *ShellCache) SetManifest(m shellmanifest.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for _, asset := range m.Assets {
		if _, err := s.keyer.Canonical(asset); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.manifest = &m
	s.mu.Unlock()
	s.log.Info().Str("version", m.Version).Int("assets", len(m.Assets)).Msg("Shell manifest set")
	return nil
}

// Manifest returns the current shell manifest, if one has been set.
func (s *ShellCache) Manifest() (shellmanifest.Manifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return shellmanifest.Manifest{}, false
	}
	return *s.manifest, true
}

func (s *ShellCache) logRequest(r *http.Request, cs cachestatus.CacheStatus) {
	isHit := 0
	if cs.Status == cachestatus.StatusHit {
		isHit = 1
	}
	s.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format "ip:port", so we need to strip the port
	portIdx := strings.LastIndex(r.RemoteAddr, ":")
	if portIdx < 0 {
		return r.RemoteAddr
	}
	return r.RemoteAddr[:portIdx]
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		// do not copy X-Forwarded headers coming from the stored response
		if strings.HasPrefix(name, "X-Forwarded") {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
