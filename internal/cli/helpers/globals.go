package helpers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/spanprof/internal/blob"
	"github.com/coral-mesh/spanprof/internal/config"
	"github.com/coral-mesh/spanprof/internal/logging"
	"github.com/coral-mesh/spanprof/internal/memstat"
	"github.com/coral-mesh/spanprof/internal/telemetry"
	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// Globals holds the persistent root flags shared by every command.
type Globals struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
}

// AddFlags registers --config, --db and --log-level.
func (g *Globals) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&g.ConfigPath, "config", "", "Config file (default $SPANPROF_CONFIG or ~/.spanprof/config.yaml)")
	flags.StringVar(&g.DBPath, "db", "", "Database path (overrides storage.path)")
	flags.StringVar(&g.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

// Load reads the layered configuration, applies flag overrides, validates
// the result and builds the logger.
func (g *Globals) Load() (*config.Config, zerolog.Logger, error) {
	path := g.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.NewLayeredLoader().Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if g.DBPath != "" {
		cfg.Storage.Path = g.DBPath
		if cfg.Storage.Driver == "sqlite" && isDuckDBPath(g.DBPath) {
			cfg.Storage.Driver = "duckdb"
		}
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.New(cfg.Logging), nil
}

func isDuckDBPath(path string) bool {
	switch filepath.Ext(path) {
	case ".duckdb", ".ddb":
		return true
	}
	return false
}

// StoreConfig maps the storage section onto store.Config.
func StoreConfig(cfg *config.Config, logger *zerolog.Logger, metrics *telemetry.Metrics) store.Config {
	return store.Config{
		Driver:      store.Driver(cfg.Storage.Driver),
		Path:        cfg.Storage.Path,
		EntriesDir:  cfg.Storage.EntriesDir,
		UpsertMode:  upsert.Mode(cfg.Storage.UpsertMode),
		Compression: blob.Compression(cfg.Storage.Compression),
		BusyTimeout: cfg.Storage.BusyTimeout,
		Metrics:     metrics,
		Logger:      logger,
	}
}

// OpenStore opens the configured store.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) (*store.Store, error) {
	s, err := store.New(ctx, StoreConfig(cfg, &logger, metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	return s, nil
}

// MemorySampler returns the configured memory source.
func MemorySampler(cfg *config.Config, logger zerolog.Logger) memstat.Sampler {
	if cfg.Profiler.MemorySource == "runtime" {
		return memstat.RuntimeSampler{}
	}
	return memstat.Default(logger)
}

// Session is a loaded configuration together with an open store.
type Session struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *store.Store
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
}

// Open loads the configuration and opens the store. Store collectors are
// registered on a private registry when metrics are enabled.
func (g *Globals) Open(ctx context.Context) (*Session, error) {
	cfg, logger, err := g.Load()
	if err != nil {
		return nil, err
	}

	sess := &Session{Config: cfg, Logger: logger}
	if cfg.Metrics.Enabled {
		sess.Metrics = telemetry.New(cfg.Metrics.Namespace)
		sess.Registry = prometheus.NewRegistry()
		if err := sess.Metrics.Register(sess.Registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	sess.Store, err = OpenStore(ctx, cfg, logger, sess.Metrics)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("path", sess.Store.Path()).
		Str("upsert", sess.Store.UpsertPath()).
		Msg("Profile store opened")
	return sess, nil
}

// Close closes the store.
func (s *Session) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}
