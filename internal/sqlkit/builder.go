package sqlkit

import (
	"fmt"
	"strings"
)

// Builder constructs SELECT queries with a fluent API.
type Builder struct {
	table   string
	joins   []string
	columns []string
	where   []whereClause
	groupBy []string
	orderBy []orderClause
	limit   int
	offset  int
}

type whereClause struct {
	expr string
	args []any
}

type orderClause struct {
	column string
	desc   bool
}

// NewQueryBuilder creates a builder selecting from table. The table may carry
// an alias, e.g. `"profile" p`.
func NewQueryBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Select specifies the columns to retrieve.
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// LeftJoin adds LEFT JOIN <table> ON <on>.
func (b *Builder) LeftJoin(table, on string) *Builder {
	b.joins = append(b.joins, "LEFT JOIN "+table+" ON "+on)
	return b
}

// Where adds a custom condition. Multiple calls are combined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.where = append(b.where, whereClause{expr: expr, args: args})
	return b
}

// Eq adds "column = ?". Empty strings are skipped.
func (b *Builder) Eq(column string, value any) *Builder {
	if str, ok := value.(string); ok && str == "" {
		return b
	}
	return b.Where(fmt.Sprintf("%s = ?", column), value)
}

// In adds "column IN (...)". No values means no filter.
func (b *Builder) In(column string, values ...any) *Builder {
	if len(values) == 0 {
		return b
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.Where(fmt.Sprintf("%s IN (%s)", column, placeholders), values...)
}

// Gte adds "column >= ?".
func (b *Builder) Gte(column string, value any) *Builder {
	return b.Where(fmt.Sprintf("%s >= ?", column), value)
}

// Lte adds "column <= ?".
func (b *Builder) Lte(column string, value any) *Builder {
	return b.Where(fmt.Sprintf("%s <= ?", column), value)
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// OrderBy adds ORDER BY columns; a "-" prefix sorts descending.
//
//	OrderBy("start")            // ASC
//	OrderBy("-duration", "id")  // duration DESC, id ASC
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, col := range columns {
		desc := strings.HasPrefix(col, "-")
		b.orderBy = append(b.orderBy, orderClause{column: strings.TrimPrefix(col, "-"), desc: desc})
	}
	return b
}

// Limit caps the number of rows. Zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Offset skips the first n rows. Only rendered together with Limit.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Build renders the query and its arguments.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var (
		query strings.Builder
		args  []any
	)

	query.WriteString("SELECT ")
	if len(b.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(b.columns, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(b.table)
	for _, j := range b.joins {
		query.WriteString(" ")
		query.WriteString(j)
	}

	if len(b.where) > 0 {
		exprs := make([]string, len(b.where))
		for i, w := range b.where {
			exprs[i] = w.expr
			args = append(args, w.args...)
		}
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(exprs, " AND "))
	}

	if len(b.groupBy) > 0 {
		query.WriteString(" GROUP BY ")
		query.WriteString(strings.Join(b.groupBy, ", "))
	}

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			parts[i] = o.column
			if o.desc {
				parts[i] += " DESC"
			}
		}
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(parts, ", "))
	}

	if b.limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, b.limit)
		if b.offset > 0 {
			query.WriteString(" OFFSET ?")
			args = append(args, b.offset)
		}
	}

	return query.String(), args, nil
}

// MustBuild builds the query and panics on error.
func (b *Builder) MustBuild() (string, []any) {
	q, args, err := b.Build()
	if err != nil {
		panic(err)
	}
	return q, args
}
