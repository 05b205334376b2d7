package shellcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	shellmanifest "github.com/shellcache/shellcache/pkg/shell-manifest"
)

// Daemon runs a ShellCache as a standalone process: the proxy listener, the
// admin listener, the manifest file watcher and the reload signal handler.
type Daemon struct {
	Cache *ShellCache
	// Path to the shell manifest. The file is watched for changes, and
	// every successful reload triggers a fresh install.
	ManifestPath string
	// Proxy listen address, e.g. ":8080".
	Addr string
	// Admin listen address. The admin server is disabled if empty.
	AdminAddr string
}

// Run starts all subsystems and blocks until ctx is cancelled or a listener
// fails. The initial manifest load must succeed for the daemon to start.
func (d *Daemon) Run(ctx context.Context) error {
	s := d.Cache

	if d.ManifestPath != "" {
		m, err := shellmanifest.Load(d.ManifestPath)
		if err != nil {
			return fmt.Errorf("load shell manifest: %w", err)
		}
		if err := s.SetManifest(m); err != nil {
			return fmt.Errorf("shell manifest rejected: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if m, ok := s.Manifest(); ok {
		// serve a store surviving from an earlier run while the fresh
		// install populates it again
		if count, err := s.cache.Count(m.Version); err == nil && count > 0 {
			s.log.Info().Str("version", m.Version).Int("entries", count).Msg("Resuming existing cache store")
			if err := s.Activate(m.Version); err != nil {
				s.log.Error().Err(err).Msg("Could not resume cache version")
			}
		}
		g.Go(func() error {
			if _, err := s.Install(ctx, m); err != nil {
				s.log.Error().Err(err).Str("version", m.Version).Msg("Could not install shell cache")
			}
			return nil
		})
	}

	if d.ManifestPath != "" {
		g.Go(func() error {
			// watching is best-effort, reloads still work via SIGHUP
			err := shellmanifest.Watch(ctx, d.ManifestPath, s.log, func() {
				d.reload(ctx)
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("Could not watch shell manifest")
			}
			return nil
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				s.log.Info().Msg("Received reload signal")
				d.reload(ctx)
			}
		}
	})

	d.runServer(ctx, g, d.Addr, s, "proxy")
	if d.AdminAddr != "" {
		d.runServer(ctx, g, d.AdminAddr, s.AdminHandler(), "admin")
	}

	return g.Wait()
}

func (d *Daemon) runServer(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, name string) {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		d.Cache.log.Info().Str("addr", addr).Msgf("Starting %s server", name)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
}

// reload re-reads the manifest and reinstalls. An invalid manifest keeps the
// previous one in effect.
func (d *Daemon) reload(ctx context.Context) {
	s := d.Cache
	m, err := shellmanifest.Load(d.ManifestPath)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not reload shell manifest, keeping previous")
		return
	}
	if err := s.SetManifest(m); err != nil {
		s.log.Error().Err(err).Msg("Shell manifest rejected, keeping previous")
		return
	}
	if _, err := s.Install(ctx, m); err != nil {
		s.log.Error().Err(err).Str("version", m.Version).Msg("Could not install shell cache")
	}
}
