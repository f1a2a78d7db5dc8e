package profiler

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// OnUncaughtError records a recovered panic value, or an error that is about
// to terminate the unit of work, against the innermost open span.
func (p *Profiler) OnUncaughtError(recovered any) {
	if recovered == nil {
		return
	}
	file, line := panicSite()
	switch v := recovered.(type) {
	case error:
		severity := SeverityPanic
		if sc, ok := v.(SeverityCoder); ok {
			severity = sc.Severity()
		}
		if loc, ok := v.(Locator); ok {
			file, line = loc.Location()
		}
		p.ErrorAt(severity, v.Error(), file, line)
	default:
		p.ErrorAt(SeverityPanic, fmt.Sprint(v), file, line)
	}
}

// OnProcessExit saves the profile when AutoSave is enabled. Hosts call it
// from their shutdown path.
func (p *Profiler) OnProcessExit(ctx context.Context) (SaveResult, error) {
	if !p.autoSave {
		return SaveResult{Status: StatusSkipped}, nil
	}
	return p.Save(ctx)
}

// Recover is meant to be deferred directly:
//
//	defer p.Recover(ctx)
//
// It records a panic, saves the profile when AutoSave is enabled and
// re-panics with the original value.
func (p *Profiler) Recover(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	p.OnUncaughtError(r)
	if p.autoSave {
		if _, err := p.Save(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Failed to save profile after panic")
		}
	}
	panic(r)
}

// panicSite returns the frame that panicked when called during a panic,
// otherwise the first frame outside the Go runtime and the profiler's own
// recovery path.
func panicSite() (string, int) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var (
		file      string
		line      int
		panicking bool
	)
	for {
		f, more := frames.Next()
		switch {
		case f.Function == "runtime.gopanic":
			panicking = true
		case strings.HasPrefix(f.Function, "runtime."), isRecoveryFrame(f.Function):
		case panicking:
			return f.File, f.Line
		case file == "":
			file, line = f.File, f.Line
		}
		if !more {
			return file, line
		}
	}
}

func isRecoveryFrame(fn string) bool {
	for _, suffix := range []string{"(*Profiler).Recover", "(*Profiler).OnUncaughtError"} {
		if strings.HasSuffix(fn, "/pkg/profiler."+suffix) {
			return true
		}
	}
	return false
}
