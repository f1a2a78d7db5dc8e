package upsert

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// Engine identifies the SQL engine behind a connection.
type Engine string

const (
	EngineSQLite Engine = "sqlite"
	EngineDuckDB Engine = "duckdb"
)

// Mode forces an executor or lets the probe decide.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeNative   Mode = "native"
	ModeEmulated Mode = "emulated"
)

// Caps lists the conflict-resolution features an engine supports.
type Caps struct {
	Version    string
	OnConflict bool
	Returning  bool
}

var (
	sqliteOnConflict = version.Must(version.NewVersion("3.24.0"))
	sqliteReturning  = version.Must(version.NewVersion("3.35.0"))
	duckdbOnConflict = version.Must(version.NewVersion("0.7.0"))
	duckdbReturning  = version.Must(version.NewVersion("0.8.0"))
)

// QueryRower runs a single-row query.
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Probe reads the engine version and derives its capabilities.
func Probe(ctx context.Context, q QueryRower, engine Engine) (Caps, error) {
	var (
		query          string
		onConflict, rt *version.Version
	)
	switch engine {
	case EngineSQLite:
		query, onConflict, rt = "SELECT sqlite_version()", sqliteOnConflict, sqliteReturning
	case EngineDuckDB:
		query, onConflict, rt = "SELECT version()", duckdbOnConflict, duckdbReturning
	default:
		return Caps{}, fmt.Errorf("unknown engine %q", engine)
	}

	var raw string
	if err := q.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return Caps{}, fmt.Errorf("read %s version: %w", engine, err)
	}
	return CapsFor(engine, raw, onConflict, rt)
}

// CapsFor derives capabilities from a version string.
func CapsFor(engine Engine, raw string, onConflict, returning *version.Version) (Caps, error) {
	v, err := version.NewVersion(strings.TrimPrefix(strings.TrimSpace(raw), "v"))
	if err != nil {
		return Caps{}, fmt.Errorf("parse %s version %q: %w", engine, raw, err)
	}
	return Caps{
		Version:    v.String(),
		OnConflict: v.GreaterThanOrEqual(onConflict),
		Returning:  v.GreaterThanOrEqual(returning),
	}, nil
}

// SQLiteCaps derives capabilities for a SQLite version string.
func SQLiteCaps(raw string) (Caps, error) {
	return CapsFor(EngineSQLite, raw, sqliteOnConflict, sqliteReturning)
}

// Select picks the executor for mode. Forcing native on an engine without
// ON CONFLICT support is an error.
func Select(mode Mode, caps Caps) (Executor, error) {
	switch mode {
	case ModeEmulated:
		return Emulated{}, nil
	case ModeNative:
		if !caps.OnConflict {
			return nil, fmt.Errorf("engine %s does not support ON CONFLICT", caps.Version)
		}
		return Native{Returning: caps.Returning}, nil
	case ModeAuto, "":
		if caps.OnConflict {
			return Native{Returning: caps.Returning}, nil
		}
		return Emulated{}, nil
	default:
		return nil, fmt.Errorf("unknown upsert mode %q", mode)
	}
}
