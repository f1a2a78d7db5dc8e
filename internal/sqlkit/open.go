package sqlkit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"time"

	duckdbDriver "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteOptions are per-connection settings applied through the DSN so that
// every pooled connection gets them.
type SQLiteOptions struct {
	BusyTimeout  time.Duration
	JournalMode  string
	Synchronous  string
	CacheSizeKiB int
}

// DefaultSQLiteOptions trade durability for write throughput: the journal
// lives in memory and the engine never fsyncs. A crash can lose the last
// transaction, while ROLLBACK keeps working.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{
		BusyTimeout:  5 * time.Second,
		JournalMode:  "MEMORY",
		Synchronous:  "OFF",
		CacheSizeKiB: 25600,
	}
}

// SQLiteDSN renders a modernc.org/sqlite DSN for path.
func SQLiteDSN(path string, opts SQLiteOptions) string {
	params := url.Values{}
	pragmas := []string{
		"temp_store(MEMORY)",
		"foreign_keys(OFF)",
	}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	if opts.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("journal_mode(%s)", opts.JournalMode))
	}
	if opts.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("synchronous(%s)", opts.Synchronous))
	}
	if opts.CacheSizeKiB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(-%d)", opts.CacheSizeKiB))
	}
	for _, p := range pragmas {
		params.Add("_pragma", p)
	}
	// BEGIN IMMEDIATE takes the write lock up front, so a transaction never
	// fails halfway through on lock upgrade.
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path string, opts SQLiteOptions) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, nil
}

// OpenDuckDB opens a DuckDB database at path. Every pooled connection runs
// the boot queries before first use.
func OpenDuckDB(path string) (*sql.DB, error) {
	connector, err := duckdbDriver.NewConnector(path, func(execer driver.ExecerContext) error {
		bootQueries := []string{
			"SET TimeZone = 'UTC'",
		}
		for _, query := range bootQueries {
			if _, err := execer.ExecContext(context.Background(), query, nil); err != nil {
				return fmt.Errorf("duckdb boot query %q: %w", query, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}
