package config

import (
	"os"
	"path/filepath"

	"github.com/coral-mesh/spanprof/internal/constants"
	"github.com/coral-mesh/spanprof/internal/logging"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: SchemaVersion,
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        DefaultDatabasePath(),
			UpsertMode:  "auto",
			Compression: "gzip",
			BusyTimeout: constants.DefaultBusyTimeout,
		},
		Logging: logging.DefaultConfig(),
		Profiler: ProfilerConfig{
			AutoSave:     true,
			MemorySource: "process",
		},
		Metrics: MetricsConfig{
			Namespace: constants.DefaultMetricsNamespace,
		},
	}
}

// BaseDir resolves the spanprof directory: ~/.spanprof, or a directory
// under the system temp dir in environments without a home directory.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "spanprof")
	}
	return filepath.Join(home, constants.DefaultDir)
}

// DefaultDatabasePath is where profiles are stored unless configured.
func DefaultDatabasePath() string {
	return filepath.Join(BaseDir(), constants.DefaultDatabase)
}

// DefaultConfigPath returns the config file location, honouring
// SPANPROF_CONFIG.
func DefaultConfigPath() string {
	if p := os.Getenv(constants.EnvConfig); p != "" {
		return p
	}
	return filepath.Join(BaseDir(), constants.ConfigFile)
}
