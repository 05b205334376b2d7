package shellcache

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminRateLimit caps management API calls per client IP.
const (
	adminRateLimit  = 30
	adminRatePeriod = time.Minute
)

// AdminHandler returns the operations endpoint: health and readiness probes,
// prometheus metrics and the management API. It is meant to be served on a
// separate, non-public listener.
func (s *ShellCache) AdminHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			adminRateLimit,
			adminRatePeriod,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			}),
		))
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/install", s.handleInstall)
		r.Post("/api/activate", s.handleActivate)
	})

	return r
}

// handleReady reports ready once the store is reachable and a version serves.
func (s *ShellCache) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.cache.Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("Cache store unreachable")
		http.Error(w, "cache store unreachable", http.StatusServiceUnavailable)
		return
	}
	if s.ActiveVersion() == "" {
		http.Error(w, "no cache version activated", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

type storeStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Active  bool   `json:"active"`
}

type statusResponse struct {
	ActiveVersion string         `json:"activeVersion"`
	Stores        []storeStatus  `json:"stores"`
	LastInstall   *InstallReport `json:"lastInstall,omitempty"`
}

func (s *ShellCache) handleStatus(w http.ResponseWriter, r *http.Request) {
	names, err := s.cache.Stores()
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list cache stores")
		http.Error(w, "could not list cache stores", http.StatusInternalServerError)
		return
	}
	status := statusResponse{
		ActiveVersion: s.ActiveVersion(),
		Stores:        make([]storeStatus, 0, len(names)),
		LastInstall:   s.LastReport(),
	}
	for _, name := range names {
		count, err := s.cache.Count(name)
		if err != nil {
			s.log.Error().Err(err).Str("store", name).Msg("Could not count entries")
		}
		status.Stores = append(status.Stores, storeStatus{
			Name:    name,
			Entries: count,
			Active:  name == status.ActiveVersion,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleInstall triggers an install of the current manifest. The run happens
// in the background; the response only acknowledges the trigger.
func (s *ShellCache) handleInstall(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Manifest()
	if !ok {
		http.Error(w, "no shell manifest set", http.StatusConflict)
		return
	}
	go func() {
		if _, err := s.Install(context.Background(), m); err != nil {
			s.log.Error().Err(err).Str("version", m.Version).Msg("Could not install shell cache")
		}
	}()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"version": m.Version})
}

// handleActivate activates the current manifest version.
func (s *ShellCache) handleActivate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Manifest()
	if !ok {
		http.Error(w, "no shell manifest set", http.StatusConflict)
		return
	}
	if err := s.Activate(m.Version); err != nil {
		s.log.Error().Err(err).Msg("Could not activate cache version")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"activeVersion": m.Version})
}
