// Package store is the SQL implementation of profiler.Storage.
//
// A profile is spread over three places: scalar and repeated request fields
// are internalized into dictionary tables and referenced from the profile
// row and its association tables; the span list is written as a compressed
// blob per profile next to the database; and every save folds its timings
// into the running aggregates of profile_metrics.
//
// Writes go through internal/upsert so that engines with and without native
// ON CONFLICT / RETURNING support end with identical table contents.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/coral-mesh/spanprof/internal/blob"
	"github.com/coral-mesh/spanprof/internal/retry"
	"github.com/coral-mesh/spanprof/internal/sqlkit"
	"github.com/coral-mesh/spanprof/internal/telemetry"
	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// ErrNotFound is returned by the read accessors for missing rows.
var ErrNotFound = errors.New("not found")

// DefaultEntriesDir is the blob directory name used next to the database.
const DefaultEntriesDir = "entries"

// Config configures a Store.
type Config struct {
	Driver Driver
	// Path of the database file. Required unless DB is set.
	Path string
	// EntriesDir holds span blobs. Defaults to <dir(Path)>/entries.
	EntriesDir string
	// DB is a host-managed connection pool. The store never closes it.
	DB *sql.DB
	// UpsertMode forces a conflict-resolution path. Defaults to auto.
	UpsertMode upsert.Mode
	// Compression of span blobs. Defaults to gzip.
	Compression blob.Compression
	// BusyTimeout is how long SQLite waits on a locked database per
	// statement. Zero keeps the sqlkit default.
	BusyTimeout time.Duration
	// Retry schedules BEGIN retries while another process holds the write
	// lock. Defaults to retry.DefaultConfig().
	Retry *retry.Config
	// Metrics, when set, receives store instrumentation.
	Metrics *telemetry.Metrics
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Store persists profiles into a SQLite or DuckDB database.
type Store struct {
	db      *sql.DB
	ownsDB  bool
	path    string
	dialect dialect
	caps    upsert.Caps
	exec    upsert.Executor
	blobs   *blob.Store
	metrics *telemetry.Metrics
	retry   retry.Config
	logger  zerolog.Logger

	// txMu is held from BeginTransaction until Commit or Rollback.
	txMu sync.Mutex
}

var _ profiler.Storage = (*Store)(nil)

// New opens or creates the database, installs the schema and probes the
// engine's conflict-resolution capabilities.
func New(ctx context.Context, cfg Config) (*Store, error) {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "store").Logger()
	}

	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, configErr("open", err)
	}
	if cfg.Path == "" && cfg.DB == nil {
		return nil, configErr("open", errors.New("database path or connection is required"))
	}
	entriesDir := cfg.EntriesDir
	if entriesDir == "" {
		if cfg.Path == "" {
			return nil, configErr("open", errors.New("entries directory is required with a host-managed connection"))
		}
		entriesDir = filepath.Join(filepath.Dir(cfg.Path), DefaultEntriesDir)
	}
	compression, err := blob.ParseCompression(string(cfg.Compression))
	if err != nil {
		return nil, configErr("open", err)
	}
	blobs, err := blob.New(entriesDir, compression, logger)
	if err != nil {
		return nil, configErr("open", err)
	}

	s := &Store{
		db:      cfg.DB,
		path:    cfg.Path,
		dialect: d,
		blobs:   blobs,
		metrics: cfg.Metrics,
		retry:   retry.DefaultConfig(),
		logger:  logger,
	}
	if cfg.Retry != nil {
		s.retry = *cfg.Retry
	}

	if s.db == nil {
		if err := s.open(cfg); err != nil {
			return nil, configErr("open", err)
		}
		s.ownsDB = true
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.closeOwned()
		return nil, configErr("ping", err)
	}

	if err := s.initSchema(ctx); err != nil {
		s.closeOwned()
		return nil, configErr("schema", err)
	}

	s.caps, err = upsert.Probe(ctx, s.db, d.engine)
	if err != nil {
		s.closeOwned()
		return nil, configErr("probe", err)
	}
	s.exec, err = upsert.Select(cfg.UpsertMode, s.caps)
	if err != nil {
		s.closeOwned()
		return nil, configErr("probe", err)
	}

	s.logger.Info().
		Str("driver", string(d.engine)).
		Str("path", s.path).
		Str("entries_dir", entriesDir).
		Str("engine_version", s.caps.Version).
		Bool("on_conflict", s.caps.OnConflict).
		Bool("returning", s.caps.Returning).
		Str("upsert", s.exec.Name()).
		Msg("Profile store opened")
	return s, nil
}

func (s *Store) open(cfg Config) error {
	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return err
	}
	var err error
	switch s.dialect.engine {
	case upsert.EngineDuckDB:
		s.db, err = sqlkit.OpenDuckDB(cfg.Path)
	default:
		opts := sqlkit.DefaultSQLiteOptions()
		if cfg.BusyTimeout > 0 {
			opts.BusyTimeout = cfg.BusyTimeout
		}
		s.db, err = sqlkit.OpenSQLite(cfg.Path, opts)
	}
	return err
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (s *Store) closeOwned() {
	if s.ownsDB {
		_ = s.db.Close()
	}
}

// Close releases the connection pool unless it is host-managed.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info().Str("path", s.path).Msg("Profile store closed")
	return nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path, empty for host-managed connections.
func (s *Store) Path() string { return s.path }

// Caps returns the probed engine capabilities.
func (s *Store) Caps() upsert.Caps { return s.caps }

// UpsertPath names the conflict-resolution executor in use.
func (s *Store) UpsertPath() string { return s.exec.Name() }

// txState is the write transaction carried by the context returned from
// BeginTransaction.
type txState struct {
	store   *Store
	tx      *sql.Tx
	started time.Time

	mu      sync.Mutex
	done    bool
	written []int64
}

type txKey struct{}

// txFrom returns the open transaction of this Store carried by ctx, or nil.
func (s *Store) txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	if st == nil || st.store != s {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	return st
}

// BeginTransaction opens the write transaction for one save and returns a
// context carrying it. Only calls made with that context join the
// transaction; any other write waits for it to finish. It retries while
// another process holds the database write lock.
func (s *Store) BeginTransaction(ctx context.Context) (context.Context, error) {
	if s.txFrom(ctx) != nil {
		return nil, storageErr("begin transaction", errors.New("transaction already in progress"))
	}
	s.txMu.Lock()

	var tx *sql.Tx
	err := retry.Do(ctx, s.retry, func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	}, isBusy)
	if err != nil {
		s.txMu.Unlock()
		return nil, storageErr("begin transaction", err)
	}

	st := &txState{store: s, tx: tx, started: time.Now()}
	return context.WithValue(ctx, txKey{}, st), nil
}

// CommitTransaction commits the transaction carried by ctx. On failure the
// transaction is gone, its blobs are removed and a later Rollback is a
// no-op.
func (s *Store) CommitTransaction(ctx context.Context) error {
	st := s.txFrom(ctx)
	if st == nil {
		return storageErr("commit transaction", errors.New("no transaction in progress"))
	}
	if err := st.tx.Commit(); err != nil {
		s.finish(st, telemetry.OutcomeRollback, true)
		return storageErr("commit transaction", err)
	}
	s.finish(st, telemetry.OutcomeCommit, false)
	return nil
}

// RollbackTransaction aborts the transaction carried by ctx and removes the
// blobs it wrote. Without one it does nothing.
func (s *Store) RollbackTransaction(ctx context.Context) error {
	st := s.txFrom(ctx)
	if st == nil {
		return nil
	}
	err := st.tx.Rollback()
	s.finish(st, telemetry.OutcomeRollback, true)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storageErr("rollback transaction", err)
	}
	return nil
}

func (s *Store) finish(st *txState, outcome string, discard bool) {
	st.mu.Lock()
	st.done = true
	written := st.written
	st.written = nil
	st.mu.Unlock()

	if discard {
		for _, id := range written {
			if err := s.blobs.RemoveID(id); err != nil {
				s.logger.Warn().Err(err).Int64("profile_id", id).Msg("Failed to remove span blob of aborted save")
			}
		}
	}
	s.metrics.ObserveTransaction(outcome, time.Since(st.started))
	s.txMu.Unlock()
}

// track registers the blob of profile id written under the transaction
// carried by ctx.
func (s *Store) track(ctx context.Context, id int64) {
	st := s.txFrom(ctx)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.written = append(st.written, id)
	st.mu.Unlock()
}

// querier runs fn against the transaction carried by ctx, or inside a
// private one when ctx carries none.
func (s *Store) querier(ctx context.Context, fn func(q upsert.Querier) error) error {
	if st := s.txFrom(ctx); st != nil {
		return fn(st.tx)
	}
	txCtx, err := s.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	if err := fn(s.txFrom(txCtx).tx); err != nil {
		if rbErr := s.RollbackTransaction(txCtx); rbErr != nil {
			s.logger.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	return s.CommitTransaction(txCtx)
}

// debugQuery logs a statement with its arguments inlined.
func (s *Store) debugQuery(msg, query string, args []any) {
	if e := s.logger.Debug(); e.Enabled() {
		e.Str("sql", sqlkit.InterpolateQuery(query, args)).Msg(msg)
	}
}

// isBusy reports lock contention worth retrying.
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "Could not set lock")
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *profiler.StorageError
	if errors.As(err, &serr) || errors.Is(err, profiler.ErrValidation) {
		return err
	}
	return &profiler.StorageError{Op: op, Err: err}
}

func configErr(op string, err error) error {
	return &profiler.ConfigurationError{Op: op, Err: err}
}
