package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/coral-mesh/spanprof/internal/errors"
	"github.com/coral-mesh/spanprof/internal/upsert"
)

// Category is one dictionary namespace. Each category owns a dictionary
// table keyed by its columns and, when profiles reference several of its
// values, an association table.
type Category struct {
	Name    string
	Columns []string
	// Linked categories have a profile_<name> association table.
	Linked bool
	// Positioned links also record the span the value was attached to.
	Positioned bool
}

// Table is the dictionary table name.
func (c Category) Table() string { return "profile_" + c.Name + "_dictionary" }

// IDColumn is the generated id column of the dictionary table.
func (c Category) IDColumn() string { return c.Name + "_id" }

// LinkTable is the association table name.
func (c Category) LinkTable() string { return "profile_" + c.Name }

var (
	CategoryIdentifier = Category{Name: "identifier", Columns: []string{"value"}}
	CategoryGroup      = Category{Name: "group", Columns: []string{"value"}}
	CategoryURL        = Category{Name: "url", Columns: []string{"value"}}
	CategoryMethod     = Category{Name: "method", Columns: []string{"value"}}
	CategoryIP         = Category{Name: "ip", Columns: []string{"value"}}
	CategoryReferer    = Category{Name: "referer", Columns: []string{"value"}}
	CategoryUserAgent  = Category{Name: "user_agent", Columns: []string{"value"}}
	CategoryRawBody    = Category{Name: "raw_body", Columns: []string{"value"}}

	CategoryHeader     = Category{Name: "header", Columns: []string{"name", "value"}, Linked: true}
	CategoryQueryField = Category{Name: "query_field", Columns: []string{"name", "value"}, Linked: true}
	CategoryBodyField  = Category{Name: "body_field", Columns: []string{"name", "value"}, Linked: true}
	CategoryCookie     = Category{Name: "cookie", Columns: []string{"name", "value"}, Linked: true}
	CategoryFile       = Category{Name: "file", Columns: []string{"name", "type", "size", "error"}, Linked: true}
	CategoryServer     = Category{Name: "server", Columns: []string{"name", "value"}, Linked: true}
	CategoryIncFile    = Category{Name: "inc_file", Columns: []string{"value"}, Linked: true}
	CategoryExtension  = Category{Name: "extension", Columns: []string{"value"}, Linked: true}
	CategoryError      = Category{Name: "error", Columns: []string{"severity", "message", "file", "line"}, Linked: true, Positioned: true}
	CategoryExtra      = Category{Name: "extra", Columns: []string{"value"}, Linked: true, Positioned: true}
)

// Categories lists every dictionary category in schema order.
func Categories() []Category {
	return []Category{
		CategoryIdentifier, CategoryGroup, CategoryURL, CategoryMethod,
		CategoryIP, CategoryReferer, CategoryUserAgent, CategoryRawBody,
		CategoryHeader, CategoryQueryField, CategoryBodyField, CategoryCookie,
		CategoryFile, CategoryServer, CategoryIncFile, CategoryExtension,
		CategoryError, CategoryExtra,
	}
}

// integerColumns are stored as BIGINT; every other key column is TEXT.
var integerColumns = map[string]bool{"size": true, "error": true, "severity": true, "line": true}

const (
	tableProfile = "profile"
	tableMetrics = "profile_metrics"
	// positionColumn records the span index on positioned links.
	positionColumn = "entry_parent_id"
)

// metricColumns is the column order of profile_metrics rows.
var metricColumns = []string{
	"identifier", "type", "group", "count",
	"avg_duration", "avg_memory_peak",
	"last_profile_id", "last_duration", "last_memory_peak",
	"min_duration_profile_id", "min_duration",
	"min_memory_peak_profile_id", "min_memory_peak",
	"max_duration_profile_id", "max_duration",
	"max_memory_peak_profile_id", "max_memory_peak",
}

var metricKey = []string{"identifier", "type", "group"}

// schemaDDL renders every statement needed to create the store. All
// statements are idempotent.
//
// There are no foreign keys: profiles are append-only, and dictionary rows
// are never deleted, so the constraints would only cost write time.
func (d dialect) schemaDDL() []string {
	q := upsert.Quote
	var ddl []string

	for _, c := range Categories() {
		ddl = append(ddl, d.sequenceDDL(c.Table())...)
		cols := []string{d.idColumn(c.Table(), c.IDColumn())}
		for _, col := range c.Columns {
			typ := "TEXT"
			if integerColumns[col] {
				typ = "BIGINT"
			}
			cols = append(cols, fmt.Sprintf("%s %s NOT NULL", q(col), typ))
		}
		cols = append(cols,
			q("count")+" BIGINT NOT NULL DEFAULT 1",
			fmt.Sprintf("UNIQUE (%s)", quoteList(c.Columns)),
		)
		ddl = append(ddl, createTable(c.Table(), cols))
	}

	ddl = append(ddl, d.sequenceDDL(tableProfile)...)
	ddl = append(ddl,
		createTable(tableProfile, []string{
			d.idColumn(tableProfile, "profile_id"),
			q("identifier_id") + " BIGINT NOT NULL",
			q("group_id") + " BIGINT",
			q("start") + " DOUBLE NOT NULL",
			q("duration") + " DOUBLE NOT NULL",
			q("method_id") + " BIGINT NOT NULL",
			q("url_id") + " BIGINT NOT NULL",
			q("memory_peak") + " BIGINT NOT NULL",
			q("status") + " BIGINT",
			q("ip_id") + " BIGINT",
			q("referer_id") + " BIGINT",
			q("user_agent_id") + " BIGINT",
			q("raw_body_id") + " BIGINT",
			q("entries_count") + " BIGINT NOT NULL",
			q("error_count") + " BIGINT NOT NULL",
		}),
		createIndex(tableProfile, "start"),
		createIndex(tableProfile, "duration"),
		createIndex(tableProfile, "identifier_id"),
	)

	for _, c := range Categories() {
		if !c.Linked {
			continue
		}
		cols := []string{
			q("profile_id") + " BIGINT NOT NULL",
			q(c.IDColumn()) + " BIGINT NOT NULL",
		}
		key := []string{"profile_id", c.IDColumn()}
		if c.Positioned {
			cols = append(cols, q(positionColumn)+" BIGINT NOT NULL")
			key = append(key, positionColumn)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(key)))
		ddl = append(ddl, createTable(c.LinkTable(), cols))
	}

	metricCols := make([]string, 0, len(metricColumns)+1)
	for _, col := range metricColumns {
		typ := "DOUBLE"
		switch {
		case col == "identifier" || col == "type" || col == "group":
			typ = "TEXT"
		case col == "count" || strings.HasSuffix(col, "_profile_id") || strings.HasSuffix(col, "memory_peak") && !strings.HasPrefix(col, "avg_"):
			typ = "BIGINT"
		}
		metricCols = append(metricCols, fmt.Sprintf("%s %s NOT NULL", q(col), typ))
	}
	metricCols = append(metricCols, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(metricKey)))
	ddl = append(ddl,
		createTable(tableMetrics, metricCols),
		createIndex(tableMetrics, "type"),
	)
	return ddl
}

func createTable(name string, cols []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", upsert.Quote(name), strings.Join(cols, ",\n\t"))
}

func createIndex(table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		upsert.Quote("idx_"+table+"_"+column), upsert.Quote(table), upsert.Quote(column))
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = upsert.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

// initSchema creates all tables and indexes in one transaction.
func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer errors.DeferRollback(s.logger, tx)

	for _, ddl := range s.dialect.schemaDDL() {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to execute DDL %q: %w", firstLine(ddl), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
