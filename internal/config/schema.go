// Package config loads spanprof configuration from defaults, a YAML file
// and SPANPROF_* environment variables, in that order.
package config

import (
	"time"

	"github.com/coral-mesh/spanprof/internal/logging"
)

// SchemaVersion is the current configuration schema version.
const SchemaVersion = "1"

// Config is the root configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  logging.Config `yaml:"logging"`
	Profiler ProfilerConfig `yaml:"profiler"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig selects and tunes the profile store.
type StorageConfig struct {
	// Driver is sqlite or duckdb.
	Driver string `yaml:"driver" env:"SPANPROF_DRIVER"`
	// Path of the database file.
	Path string `yaml:"path" env:"SPANPROF_DB"`
	// EntriesDir holds span blobs. Empty means <dir(path)>/entries.
	EntriesDir string `yaml:"entries_dir,omitempty" env:"SPANPROF_ENTRIES_DIR"`
	// UpsertMode is auto, native or emulated.
	UpsertMode string `yaml:"upsert_mode" env:"SPANPROF_UPSERT_MODE"`
	// Compression of span blobs: gzip, zstd or none.
	Compression string `yaml:"compression" env:"SPANPROF_COMPRESSION"`
	// BusyTimeout is the per-statement SQLite lock wait.
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"SPANPROF_BUSY_TIMEOUT"`
}

// ProfilerConfig holds defaults for profiles recorded by the CLI.
type ProfilerConfig struct {
	// Group is attached to profiles recorded without an explicit group.
	Group string `yaml:"group,omitempty" env:"SPANPROF_GROUP"`
	// AutoSave makes `spanprof run` save the profile once the child exits.
	AutoSave bool `yaml:"auto_save" env:"SPANPROF_AUTO_SAVE"`
	// MemorySource is process (RSS high-water mark) or runtime (Go heap).
	MemorySource string `yaml:"memory_source" env:"SPANPROF_MEMORY_SOURCE"`
}

// MetricsConfig controls store instrumentation.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"SPANPROF_METRICS_ENABLED"`
	Namespace string `yaml:"namespace" env:"SPANPROF_METRICS_NAMESPACE"`
}
