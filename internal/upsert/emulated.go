package upsert

import (
	"context"
	"fmt"
	"strings"
)

// Emulated reproduces a conflict-targeted upsert with ordinary statements:
//
//  1. UPDATE each row matched by its natural key, counting affected rows;
//  2. INSERT OR IGNORE the rows whose key did not exist yet;
//  3. SELECT the Returning column by natural key.
//
// The caller is expected to run it inside a transaction holding the write
// lock, otherwise a concurrent writer may slip between steps 1 and 2 and the
// OR IGNORE safety net would drop this row's update.
type Emulated struct{}

// Name implements Executor.
func (Emulated) Name() string { return "emulated" }

// Exec implements Executor.
func (e Emulated) Exec(ctx context.Context, q Querier, st Statement) ([]int64, error) {
	p, err := newPlan(st)
	if err != nil {
		return nil, err
	}
	if len(p.rows) == 0 {
		return []int64{}, nil
	}

	pending := p.rows
	if len(st.Update) > 0 {
		affected, err := e.update(ctx, q, p)
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			pending, err = e.missing(ctx, q, p)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, chunk := range chunks(pending, len(st.Columns), 0, p.maxParams()) {
		query, args := p.insertSQL("INSERT OR IGNORE", chunk)
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("insert %s: %w", st.Table, err)
		}
	}

	if st.Returning == "" {
		return nil, nil
	}
	found := make(map[string]int64, len(p.rows))
	if err := p.selectKeys(ctx, q, p.rows, found); err != nil {
		return nil, err
	}
	return p.resolve(found)
}

// update runs the update clause once per distinct row and returns the total
// number of rows it touched.
func (Emulated) update(ctx context.Context, q Querier, p *plan) (int64, error) {
	var total int64
	for _, row := range p.rows {
		b := &binder{row: row, index: p.index}
		var sb strings.Builder
		sb.WriteString("UPDATE ")
		sb.WriteString(Quote(p.st.Table))
		sb.WriteString(" SET ")
		for i, a := range p.st.Update {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(Quote(a.Column))
			sb.WriteString(" = ")
			sb.WriteString(a.Expr.render(b))
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(p.keyPredicate())
		args := append(b.args, p.keyValues(row)...)

		res, err := q.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", p.st.Table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update %s: rows affected: %w", p.st.Table, err)
		}
		total += n
	}
	return total, nil
}

// missing returns the rows whose natural key does not exist in the table,
// i.e. the set difference between the input and what the update matched.
func (Emulated) missing(ctx context.Context, q Querier, p *plan) ([][]any, error) {
	present := make(map[string]bool, len(p.rows))
	first := p.st.ConflictColumns[0]
	for _, chunk := range chunks(p.rows, len(p.keyIdx), 0, p.maxParams()) {
		query, args := p.keyedSelect(first, chunk)
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("select %s keys: %w", p.st.Table, err)
		}
		n := len(p.keyIdx)
		for rows.Next() {
			var skip any
			keys := make([]any, n)
			dest := make([]any, n+1)
			dest[0] = &skip
			for i := range keys {
				dest[i+1] = &keys[i]
			}
			if err := rows.Scan(dest...); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan %s: %w", p.st.Table, err)
			}
			present[Key(keys...)] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	var out [][]any
	for i, row := range p.rows {
		if !present[p.rowKeys[i]] {
			out = append(out, row)
		}
	}
	return out, nil
}
