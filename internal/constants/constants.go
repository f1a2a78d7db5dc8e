// Package constants defines shared configuration constants.
package constants

import "time"

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".spanprof"

	// DefaultDatabase is the database file name under DefaultDir.
	DefaultDatabase = "profiles.db"

	// EnvConfig overrides the config file location.
	EnvConfig = "SPANPROF_CONFIG"

	// DefaultBusyTimeout bounds how long SQLite waits on a locked database.
	DefaultBusyTimeout = 5 * time.Second

	DefaultMetricsNamespace = "spanprof"

	// DefaultTopLimit is the row count of `spanprof top`.
	DefaultTopLimit = 20

	// DefaultBenchProfiles is the profile count of `spanprof bench`.
	DefaultBenchProfiles = 100
)
