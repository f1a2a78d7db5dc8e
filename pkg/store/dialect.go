package store

import (
	"fmt"

	"github.com/coral-mesh/spanprof/internal/upsert"
)

// Driver selects the SQL engine.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverDuckDB Driver = "duckdb"
)

// dialect isolates the DDL differences between the engines.
type dialect struct {
	engine upsert.Engine
	// maxParams bounds bound parameters per statement.
	maxParams int
}

func dialectFor(d Driver) (dialect, error) {
	switch d {
	case DriverSQLite, "":
		return dialect{engine: upsert.EngineSQLite, maxParams: upsert.DefaultMaxParams}, nil
	case DriverDuckDB:
		return dialect{engine: upsert.EngineDuckDB, maxParams: 4 * upsert.DefaultMaxParams}, nil
	default:
		return dialect{}, fmt.Errorf("unknown driver %q (want sqlite or duckdb)", d)
	}
}

// idColumn renders a generated integer primary key column. SQLite aliases
// INTEGER PRIMARY KEY to the rowid; DuckDB draws from a sequence created by
// sequenceDDL.
func (d dialect) idColumn(table, column string) string {
	if d.engine == upsert.EngineDuckDB {
		return fmt.Sprintf("%s BIGINT PRIMARY KEY DEFAULT nextval('%s')", upsert.Quote(column), sequenceName(table))
	}
	return upsert.Quote(column) + " INTEGER PRIMARY KEY"
}

// sequenceDDL returns the statements to run before creating table.
func (d dialect) sequenceDDL(table string) []string {
	if d.engine != upsert.EngineDuckDB {
		return nil
	}
	return []string{fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s START 1", sequenceName(table))}
}

func sequenceName(table string) string { return "seq_" + table }
