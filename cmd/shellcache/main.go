package main

import (
	"context"
	"flag"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shellcache/shellcache"
	"github.com/shellcache/shellcache/cache"
)

// config holds the daemon configuration. Every value can also be set through
// the environment; command line flags take precedence.
type config struct {
	Origin             string  `env:"SHELLCACHE_ORIGIN"`
	OriginHost         string  `env:"SHELLCACHE_ORIGIN_HOST"`
	Listen             string  `env:"SHELLCACHE_LISTEN" envDefault:":8080"`
	AdminListen        string  `env:"SHELLCACHE_ADMIN_LISTEN" envDefault:":9090"`
	Manifest           string  `env:"SHELLCACHE_MANIFEST" envDefault:"shell-manifest.yaml"`
	Provider           string  `env:"SHELLCACHE_PROVIDER" envDefault:"sqlite"`
	DBFile             string  `env:"SHELLCACHE_DB" envDefault:"shellcache.db"`
	DataDir            string  `env:"SHELLCACHE_DATA_DIR"`
	RedisAddr          string  `env:"SHELLCACHE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string  `env:"SHELLCACHE_REDIS_PASSWORD"`
	RedisDB            int     `env:"SHELLCACHE_REDIS_DB"`
	InstallStrict      bool    `env:"SHELLCACHE_INSTALL_STRICT"`
	ManualActivation   bool    `env:"SHELLCACHE_MANUAL_ACTIVATION"`
	InstallConcurrency int     `env:"SHELLCACHE_INSTALL_CONCURRENCY" envDefault:"4"`
	InstallRate        float64 `env:"SHELLCACHE_INSTALL_RATE"`
	MaxEntryBytes      int64   `env:"SHELLCACHE_MAX_ENTRY_BYTES"`
	Trace              bool    `env:"SHELLCACHE_TRACE"`
	LogFile            string  `env:"SHELLCACHE_LOG_FILE"`
}

// this is set by goreleaser
var version string

func main() {
	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Could not parse environment")
	}

	flag.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin URL to proxy to")
	flag.StringVar(&cfg.OriginHost, "host", cfg.OriginHost, "Hostname of origin (if origin is an IP address)")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to listen on")
	flag.StringVar(&cfg.AdminListen, "admin-listen", cfg.AdminListen, "Admin address to listen on (empty to disable)")
	flag.StringVar(&cfg.Manifest, "manifest", cfg.Manifest, "Shell manifest file")
	flag.StringVar(&cfg.Provider, "provider", cfg.Provider, "Cache provider: memory, sqlite, badger or redis")
	flag.StringVar(&cfg.DBFile, "db", cfg.DBFile, "Cache DB file name for the sqlite provider (use 'memory' for in-memory db)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for install reports and the badger provider")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis server address for the redis provider")
	flag.BoolVar(&cfg.InstallStrict, "strict", cfg.InstallStrict, "Abort install when a shell asset cannot be cached")
	flag.BoolVar(&cfg.ManualActivation, "manual-activation", cfg.ManualActivation, "Activate new versions via the admin API only")
	flag.Int64Var(&cfg.MaxEntryBytes, "max-entry-bytes", cfg.MaxEntryBytes, "Largest response body to store (0 for no limit)")
	flag.BoolVar(&cfg.Trace, "vv", cfg.Trace, "Verbosity: trace logging")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file to use (in addition to stdout)")
	flag.Parse()

	if version == "" {
		version = "DEV"
	}

	logLevel := zerolog.DebugLevel
	if cfg.Trace {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.LogFile != "" {
		if logFileOutput, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if cfg.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originUrl, err := url.Parse(cfg.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	s := shellcache.New(shellcache.Config{
		Cache:                createProvider(cfg),
		OriginURL:            *originUrl,
		OriginHost:           cfg.OriginHost,
		Logger:               &log.Logger,
		MaxEntryBytes:        cfg.MaxEntryBytes,
		InstallStrict:        cfg.InstallStrict,
		ManualActivation:     cfg.ManualActivation,
		InstallConcurrency:   cfg.InstallConcurrency,
		InstallRatePerSecond: cfg.InstallRate,
		DataDir:              cfg.DataDir,
	})

	daemon := &shellcache.Daemon{
		Cache:        s,
		ManifestPath: cfg.Manifest,
		Addr:         cfg.Listen,
		AdminAddr:    cfg.AdminListen,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msgf("Proxying %s to %s (with hostname '%s')", cfg.Listen, originUrl.String(), cfg.OriginHost)
	if err := daemon.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Daemon exited")
	}
}

func createProvider(cfg config) cache.Provider {
	switch cfg.Provider {
	case "memory":
		return cache.NewMemCache()
	case "sqlite":
		dbFilename := cfg.DBFile
		if dbFilename == "memory" {
			dbFilename = ""
		}
		provider, err := cache.NewSQLiteCache(dbFilename)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open cache db")
		}
		return provider
	case "badger":
		provider, err := cache.NewBadgerCache(filepath.Join(cfg.DataDir, "badger"))
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open badger db")
		}
		return provider
	case "redis":
		provider, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to redis")
		}
		return provider
	default:
		log.Fatal().Str("provider", cfg.Provider).Msg("Unknown cache provider")
		return nil
	}
}
