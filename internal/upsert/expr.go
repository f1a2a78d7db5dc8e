package upsert

import (
	"strings"
)

// Expr is a value expression used on the right-hand side of a conflict
// update assignment. The concrete kind decides how the expression renders:
// a column reference stays engine-side, an incoming value is either
// "excluded.<col>" (native upsert) or a bound parameter (emulated update),
// and literals are always bound parameters.
type Expr interface {
	render(b *binder) string
}

// binder accumulates bound arguments while an expression tree renders.
type binder struct {
	// native renders Excluded as excluded."col"; otherwise the incoming
	// row value is bound.
	native bool
	// row and index resolve Excluded in emulated mode.
	row   []any
	index map[string]int
	args  []any
}

func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return "?"
}

type columnExpr struct{ name string }

type excludedExpr struct{ name string }

type valueExpr struct{ v any }

type binaryExpr struct {
	op   string
	l, r Expr
}

type whenExpr struct {
	cond, then, els Expr
}

// Col references the value currently stored in the conflicting row.
func Col(name string) Expr { return columnExpr{name: name} }

// Excluded references the value the rejected insert tried to write.
func Excluded(name string) Expr { return excludedExpr{name: name} }

// Value binds a literal parameter.
func Value(v any) Expr { return valueExpr{v: v} }

// Add renders (l + r).
func Add(l, r Expr) Expr { return binaryExpr{op: "+", l: l, r: r} }

// Sub renders (l - r).
func Sub(l, r Expr) Expr { return binaryExpr{op: "-", l: l, r: r} }

// Mul renders (l * r).
func Mul(l, r Expr) Expr { return binaryExpr{op: "*", l: l, r: r} }

// Div renders (l / r). Callers keep at least one side floating point when
// an exact quotient is needed.
func Div(l, r Expr) Expr { return binaryExpr{op: "/", l: l, r: r} }

// Lt renders (l < r).
func Lt(l, r Expr) Expr { return binaryExpr{op: "<", l: l, r: r} }

// Gt renders (l > r).
func Gt(l, r Expr) Expr { return binaryExpr{op: ">", l: l, r: r} }

// When renders CASE WHEN cond THEN then ELSE els END.
func When(cond, then, els Expr) Expr { return whenExpr{cond: cond, then: then, els: els} }

func (e columnExpr) render(*binder) string { return Quote(e.name) }

func (e excludedExpr) render(b *binder) string {
	if b.native {
		return "excluded." + Quote(e.name)
	}
	idx, ok := b.index[e.name]
	if !ok {
		// Unknown incoming column: bind NULL so the statement fails loudly
		// on NOT NULL columns instead of silently reading the old value.
		return b.bind(nil)
	}
	return b.bind(b.row[idx])
}

func (e valueExpr) render(b *binder) string { return b.bind(e.v) }

func (e binaryExpr) render(b *binder) string {
	l := e.l.render(b)
	r := e.r.render(b)
	return "(" + l + " " + e.op + " " + r + ")"
}

func (e whenExpr) render(b *binder) string {
	var sb strings.Builder
	sb.WriteString("CASE WHEN ")
	sb.WriteString(e.cond.render(b))
	sb.WriteString(" THEN ")
	sb.WriteString(e.then.render(b))
	sb.WriteString(" ELSE ")
	sb.WriteString(e.els.render(b))
	sb.WriteString(" END")
	return sb.String()
}

// Quote double-quotes an identifier. Both SQLite and DuckDB accept the
// standard form, and it keeps reserved words such as "group" usable.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(n)
	}
	return strings.Join(quoted, ", ")
}
