// Package sqlkit holds the SQL plumbing shared by the profile store: opening
// SQLite and DuckDB databases with the store's connection settings, a small
// SELECT builder for the read accessors, and query interpolation for debug
// logs.
//
//	q, args := sqlkit.NewQueryBuilder(`"profile_metrics"`).
//	    Select(`"identifier"`, `"count"`, `"avg_duration"`).
//	    Eq(`"type"`, "entry").
//	    OrderBy(`-"avg_duration"`).
//	    Limit(20).
//	    MustBuild()
//
// The builder only generates SQL; callers execute it. Empty string filters
// passed to Eq are skipped so optional CLI flags map directly onto filters.
package sqlkit
