// Package upsert implements "insert, or update on conflict, and return the
// affected id" for SQL engines with and without native support for
// conflict-targeted upserts and RETURNING clauses.
//
// A Statement describes the write once; an Executor decides how it reaches
// the engine. Native emits INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING,
// Emulated reproduces the same end state with UPDATE, INSERT OR IGNORE and a
// keyed SELECT. Both executors merge input rows that share a conflict key
// before touching the engine, so they converge on identical table contents.
package upsert

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultMaxParams keeps every statement under SQLite's historical
// SQLITE_MAX_VARIABLE_NUMBER of 999.
const DefaultMaxParams = 900

// Querier is the subset of *sql.DB / *sql.Tx / *sql.Conn the executors use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Assignment is one "column = expr" pair of a conflict update clause.
type Assignment struct {
	Column string
	Expr   Expr
}

// Set builds an Assignment.
func Set(column string, expr Expr) Assignment {
	return Assignment{Column: column, Expr: expr}
}

// MergeFunc folds src into dst for two input rows sharing a conflict key and
// returns the merged row.
type MergeFunc func(dst, src []any) []any

// Statement describes one upsert.
type Statement struct {
	Table   string
	Columns []string
	Rows    [][]any

	// ConflictColumns is the natural key; it must be a subset of Columns
	// backed by a unique index.
	ConflictColumns []string

	// Update is applied to the existing row on conflict. Empty means
	// "do nothing on conflict".
	Update []Assignment

	// Returning names a column whose value is reported for every input row,
	// typically the generated id. Empty skips id resolution.
	Returning string

	// Merge combines input rows with equal conflict keys. Nil keeps the
	// first occurrence.
	Merge MergeFunc

	// MaxParams bounds bound parameters per statement. Zero means
	// DefaultMaxParams.
	MaxParams int
}

// Executor runs a Statement and returns the Returning column for each input
// row, in input order. Rows sharing a conflict key get the same value.
type Executor interface {
	Exec(ctx context.Context, q Querier, st Statement) ([]int64, error)
	Name() string
}

// plan is a validated statement with duplicate keys merged.
type plan struct {
	st       Statement
	index    map[string]int
	keyIdx   []int
	rows     [][]any
	rowKeys  []string
	inputKey []string
}

func newPlan(st Statement) (*plan, error) {
	if st.Table == "" {
		return nil, fmt.Errorf("upsert: table is required")
	}
	if len(st.Columns) == 0 {
		return nil, fmt.Errorf("upsert %s: no columns", st.Table)
	}
	if len(st.ConflictColumns) == 0 {
		return nil, fmt.Errorf("upsert %s: no conflict columns", st.Table)
	}

	p := &plan{st: st, index: make(map[string]int, len(st.Columns))}
	for i, c := range st.Columns {
		p.index[c] = i
	}
	for _, c := range st.ConflictColumns {
		i, ok := p.index[c]
		if !ok {
			return nil, fmt.Errorf("upsert %s: conflict column %q is not inserted", st.Table, c)
		}
		p.keyIdx = append(p.keyIdx, i)
	}

	seen := make(map[string]int, len(st.Rows))
	p.inputKey = make([]string, len(st.Rows))
	for n, row := range st.Rows {
		if len(row) != len(st.Columns) {
			return nil, fmt.Errorf("upsert %s: row %d has %d values, want %d", st.Table, n, len(row), len(st.Columns))
		}
		k := p.keyOf(row)
		p.inputKey[n] = k
		if at, dup := seen[k]; dup {
			if st.Merge != nil {
				p.rows[at] = st.Merge(p.rows[at], row)
			}
			continue
		}
		seen[k] = len(p.rows)
		p.rows = append(p.rows, append([]any(nil), row...))
		p.rowKeys = append(p.rowKeys, k)
	}
	return p, nil
}

func (p *plan) keyOf(row []any) string {
	vals := make([]any, len(p.keyIdx))
	for i, idx := range p.keyIdx {
		vals[i] = row[idx]
	}
	return Key(vals...)
}

func (p *plan) keyValues(row []any) []any {
	vals := make([]any, len(p.keyIdx))
	for i, idx := range p.keyIdx {
		vals[i] = row[idx]
	}
	return vals
}

func (p *plan) maxParams() int {
	if p.st.MaxParams > 0 {
		return p.st.MaxParams
	}
	return DefaultMaxParams
}

// chunks splits rows so that rows*width + fixed stays within the parameter
// budget. At least one row is always emitted per chunk.
func chunks(rows [][]any, width, fixed, budget int) [][][]any {
	per := 1
	if width > 0 && budget-fixed > width {
		per = (budget - fixed) / width
	}
	var out [][][]any
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// resolve maps ids found per distinct key back onto every input row.
func (p *plan) resolve(found map[string]int64) ([]int64, error) {
	ids := make([]int64, len(p.inputKey))
	for i, k := range p.inputKey {
		id, ok := found[k]
		if !ok {
			return nil, fmt.Errorf("upsert %s: no %s returned for row %d", p.st.Table, p.st.Returning, i)
		}
		ids[i] = id
	}
	return ids, nil
}

// collect scans "returning, key..." rows into found.
func (p *plan) collect(rows *sql.Rows, found map[string]int64) error {
	defer rows.Close()
	n := len(p.keyIdx)
	for rows.Next() {
		var id int64
		keys := make([]any, n)
		dest := make([]any, n+1)
		dest[0] = &id
		for i := range keys {
			dest[i+1] = &keys[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan %s: %w", p.st.Table, err)
		}
		found[Key(keys...)] = id
	}
	return rows.Err()
}

// selectKeys fetches the Returning column for the given rows by natural key.
func (p *plan) selectKeys(ctx context.Context, q Querier, rows [][]any, found map[string]int64) error {
	width := len(p.keyIdx)
	for _, chunk := range chunks(rows, width, 0, p.maxParams()) {
		query, args := p.keyedSelect(p.st.Returning, chunk)
		res, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select %s keys: %w", p.st.Table, err)
		}
		if err := p.collect(res, found); err != nil {
			return err
		}
	}
	return nil
}

// keyedSelect renders SELECT <first>, key... FROM t WHERE (k=? AND ...) OR ...
func (p *plan) keyedSelect(first string, rows [][]any) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(p.keyIdx))
	sb.WriteString("SELECT ")
	sb.WriteString(Quote(first))
	for _, c := range p.st.ConflictColumns {
		sb.WriteString(", ")
		sb.WriteString(Quote(c))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(Quote(p.st.Table))
	sb.WriteString(" WHERE ")
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString(p.keyPredicate())
		args = append(args, p.keyValues(row)...)
	}
	return sb.String(), args
}

func (p *plan) keyPredicate() string {
	parts := make([]string, len(p.st.ConflictColumns))
	for i, c := range p.st.ConflictColumns {
		parts[i] = Quote(c) + " = ?"
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// insertSQL renders the INSERT head and VALUES tuples for rows.
func (p *plan) insertSQL(verb string, rows [][]any) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(p.st.Columns))
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(p.st.Columns)), ", ") + ")"

	sb.WriteString(verb)
	sb.WriteString(" INTO ")
	sb.WriteString(Quote(p.st.Table))
	sb.WriteString(" (")
	sb.WriteString(quoteAll(p.st.Columns))
	sb.WriteString(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
		args = append(args, row...)
	}
	return sb.String(), args
}

// Key renders values into a comparable map key. Integer kinds collapse to
// int64 and byte slices to strings so that values read back from the engine
// match the values that were bound. Every part is length-prefixed, so no
// value content can imitate a part boundary.
func Key(vals ...any) string {
	var sb strings.Builder
	for _, v := range vals {
		switch x := v.(type) {
		case nil:
			sb.WriteString("n;")
		case string:
			writeText(&sb, 's', x)
		case []byte:
			writeText(&sb, 's', string(x))
		case int:
			writeInt(&sb, int64(x))
		case int8:
			writeInt(&sb, int64(x))
		case int16:
			writeInt(&sb, int64(x))
		case int32:
			writeInt(&sb, int64(x))
		case int64:
			writeInt(&sb, x)
		case uint8:
			writeInt(&sb, int64(x))
		case uint16:
			writeInt(&sb, int64(x))
		case uint32:
			writeInt(&sb, int64(x))
		case uint64:
			if x <= math.MaxInt64 {
				writeInt(&sb, int64(x))
			} else {
				sb.WriteByte('u')
				sb.WriteString(strconv.FormatUint(x, 10))
				sb.WriteByte(';')
			}
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
				writeInt(&sb, int64(x))
			} else {
				sb.WriteByte('f')
				sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
				sb.WriteByte(';')
			}
		case bool:
			if x {
				writeInt(&sb, 1)
			} else {
				writeInt(&sb, 0)
			}
		default:
			writeText(&sb, 'v', fmt.Sprint(x))
		}
	}
	return sb.String()
}

func writeText(sb *strings.Builder, tag byte, v string) {
	sb.WriteByte(tag)
	sb.WriteString(strconv.Itoa(len(v)))
	sb.WriteByte(':')
	sb.WriteString(v)
}

func writeInt(sb *strings.Builder, v int64) {
	sb.WriteByte('i')
	sb.WriteString(strconv.FormatInt(v, 10))
	sb.WriteByte(';')
}
