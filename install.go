package shellcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shellcache/shellcache/pkg/metrics"
	tee "github.com/shellcache/shellcache/pkg/response-writer-tee"
	shellmanifest "github.com/shellcache/shellcache/pkg/shell-manifest"
)

// AssetResult records the outcome of caching one shell asset.
type AssetResult struct {
	URL    string `json:"url"`
	Key    string `json:"key,omitempty"`
	Status int    `json:"status,omitempty"`
	Stored bool   `json:"stored"`
	Error  string `json:"error,omitempty"`
}

// InstallReport describes one install run.
type InstallReport struct {
	JobID      string        `json:"jobId"`
	Version    string        `json:"version"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Assets     []AssetResult `json:"assets"`
	Failed     int           `json:"failed"`
	Activated  bool          `json:"activated"`
}

// Install opens the cache store named by the manifest version and populates
// it with every asset on the manifest's list. Each asset is fetched from the
// origin once; only responses with status exactly 200 are stored.
//
// When an asset cannot be cached, the failure is logged and recorded in the
// report, and the install still succeeds with a partial store. In strict
// mode the run fails instead: the new store is dropped and the previously
// active version keeps serving.
//
// On success the new version is activated, unless manual activation is
// configured. Concurrent installs of the same version collapse into one run.
func (s *ShellCache) Install(ctx context.Context, m shellmanifest.Manifest) (*InstallReport, error) {
	report, err, _ := s.group.Do("install:"+m.Version, func() (interface{}, error) {
		return s.install(ctx, m)
	})
	return report.(*InstallReport), err
}

// InstallCurrent installs the current shell manifest.
func (s *ShellCache) InstallCurrent(ctx context.Context) (*InstallReport, error) {
	m, ok := s.Manifest()
	if !ok {
		return nil, fmt.Errorf("no shell manifest set")
	}
	return s.Install(ctx, m)
}

func (s *ShellCache) install(ctx context.Context, m shellmanifest.Manifest) (*InstallReport, error) {
	report := &InstallReport{
		JobID:     uuid.NewString(),
		Version:   m.Version,
		StartedAt: time.Now(),
		Assets:    make([]AssetResult, len(m.Assets)),
	}
	log := s.log.With().Str("version", m.Version).Str("jobId", report.JobID).Logger()
	log.Info().Int("assets", len(m.Assets)).Msg("Installing shell cache")

	defer func() {
		s.setLastReport(report)
		s.writeReport(report)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.installConcurrency)
	for i, asset := range m.Assets {
		// per-iteration copies: required for go < 1.22 loop variable semantics
		i, asset := i, asset
		g.Go(func() error {
			report.Assets[i] = s.warmAsset(ctx, m.Version, asset)
			return nil
		})
	}
	g.Wait()

	report.FinishedAt = time.Now()
	for _, result := range report.Assets {
		if !result.Stored {
			report.Failed++
		}
	}
	metrics.ObserveInstallDuration(report.FinishedAt.Sub(report.StartedAt))
	metrics.AddInstallAssetFailures(report.Failed)

	if report.Failed > 0 {
		log.Error().Int("failed", report.Failed).Int("assets", len(m.Assets)).Msg("Could not cache all shell assets")
		if s.installStrict {
			if err := s.cache.DropStore(m.Version); err != nil {
				log.Error().Err(err).Msg("Could not drop partially populated store")
			}
			metrics.IncInstall(false)
			return report, fmt.Errorf("install %s: %d of %d assets failed", m.Version, report.Failed, len(m.Assets))
		}
	}

	if !s.manualActivation {
		if err := s.Activate(m.Version); err != nil {
			metrics.IncInstall(false)
			return report, err
		}
		report.Activated = true
	}

	metrics.IncInstall(true)
	log.Info().Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("Shell cache installed")
	return report, nil
}

// warmAsset fetches one shell asset from the origin and stores it.
func (s *ShellCache) warmAsset(ctx context.Context, store, asset string) AssetResult {
	result := AssetResult{URL: asset}

	key, err := s.keyer.Canonical(asset)
	if err != nil {
		s.log.Error().Err(err).Str("asset", asset).Msg("Could not resolve shell asset")
		result.Error = err.Error()
		return result
	}
	result.Key = key

	if err := s.installLimiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	req, err := s.keyer.RequestFromKey(key)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req = req.WithContext(ctx)

	rwtee := tee.NewResponseSaver(nil, s.maxEntryBytes)
	start := time.Now()
	s.reverseproxy.ServeHTTP(rwtee, req)
	metrics.ObserveOriginRequest(time.Since(start))

	result.Status = rwtee.StatusCode()
	if rwtee.StatusCode() != http.StatusOK {
		s.log.Error().Int("status", rwtee.StatusCode()).Str("key", key).Msg("Could not fetch shell asset")
		result.Error = fmt.Sprintf("unexpected status %d", rwtee.StatusCode())
		return result
	}
	if rwtee.Overflowed() {
		s.log.Error().Str("key", key).Msg("Shell asset too large to store")
		result.Error = "response exceeds max entry size"
		return result
	}

	if err := s.putRecorded(store, key, rwtee.Response()); err != nil {
		metrics.IncStoreWriteFailure()
		s.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		result.Error = err.Error()
		return result
	}
	result.Stored = true
	return result
}

func (s *ShellCache) setLastReport(report *InstallReport) {
	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
}

// LastReport returns the report of the most recent install run, if any.
func (s *ShellCache) LastReport() *InstallReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// writeReport persists the install report for operators. The report is
// written atomically so a crash never leaves a torn file behind.
func (s *ShellCache) writeReport(report *InstallReport) {
	if s.dataDir == "" {
		return
	}
	path := filepath.Join(s.dataDir, fmt.Sprintf("install-%s.json", report.Version))
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Could not create install report")
		return
	}
	defer pending.Cleanup()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Could not write install report")
		return
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("Could not write install report")
	}
}
