package upsert

import (
	"context"
	"fmt"
	"strings"
)

// Native issues INSERT ... ON CONFLICT (...) DO UPDATE SET ... statements.
// When Returning is false (engine without RETURNING) or the statement has no
// update clause, ids are fetched with a keyed SELECT after the write, since
// DO NOTHING rows are never reported by RETURNING.
type Native struct {
	Returning bool
}

// Name implements Executor.
func (Native) Name() string { return "native" }

// Exec implements Executor.
func (n Native) Exec(ctx context.Context, q Querier, st Statement) ([]int64, error) {
	p, err := newPlan(st)
	if err != nil {
		return nil, err
	}
	if len(p.rows) == 0 {
		return []int64{}, nil
	}

	useReturning := n.Returning && st.Returning != "" && len(st.Update) > 0
	found := make(map[string]int64, len(p.rows))

	// The update clause binds its own literals once per statement.
	fixed := len(n.renderUpdate(p).args)
	for _, chunk := range chunks(p.rows, len(st.Columns), fixed, p.maxParams()) {
		query, args := p.insertSQL("INSERT", chunk)
		upd := n.renderUpdate(p)
		query += upd.sql
		args = append(args, upd.args...)

		if useReturning {
			query += " RETURNING " + Quote(st.Returning) + ", " + quoteAll(st.ConflictColumns)
			rows, err := q.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("upsert %s: %w", st.Table, err)
			}
			if err := p.collect(rows, found); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", st.Table, err)
		}
	}

	if st.Returning == "" {
		return nil, nil
	}
	if !useReturning {
		if err := p.selectKeys(ctx, q, p.rows, found); err != nil {
			return nil, err
		}
	}
	return p.resolve(found)
}

type rendered struct {
	sql  string
	args []any
}

func (Native) renderUpdate(p *plan) rendered {
	var sb strings.Builder
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(quoteAll(p.st.ConflictColumns))
	sb.WriteString(")")
	if len(p.st.Update) == 0 {
		sb.WriteString(" DO NOTHING")
		return rendered{sql: sb.String()}
	}
	b := &binder{native: true}
	sb.WriteString(" DO UPDATE SET ")
	for i, a := range p.st.Update {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Quote(a.Column))
		sb.WriteString(" = ")
		sb.WriteString(a.Expr.render(b))
	}
	return rendered{sql: sb.String(), args: b.args}
}
