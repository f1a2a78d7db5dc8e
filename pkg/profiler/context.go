package profiler

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p *Profiler) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the Profiler stored in ctx, or nil.
func FromContext(ctx context.Context) *Profiler {
	p, _ := ctx.Value(ctxKey{}).(*Profiler)
	return p
}
