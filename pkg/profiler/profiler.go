// Package profiler records nested timing and memory spans for one unit of
// work and persists them, together with the execution context, through a
// Storage implementation.
//
// A Profiler belongs to one request or process run:
//
//	p, err := profiler.New(profiler.Config{
//	    Identifier: "checkout",
//	    Storage:    st,
//	    AutoStart:  true,
//	})
//	...
//	_ = p.Start("db.query", "sql")
//	rows, err := db.Query(...)
//	p.Stop()
//	...
//	res, err := p.Save(ctx)
//
// Save force-closes open spans, builds a Snapshot, lets an optional hook
// rewrite or cancel it, validates it and writes it to storage inside one
// transaction.
package profiler

import (
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/spanprof/internal/memstat"
)

// Clock supplies span timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SaveHook receives the snapshot before persistence and returns the snapshot
// to store, possibly modified. Returning nil cancels the save.
type SaveHook func(*Snapshot) *Snapshot

// Config configures a Profiler.
type Config struct {
	// Identifier names the profile, e.g. a route or command name. Required.
	Identifier string
	// Group optionally classifies the profile.
	Group string
	// Storage persists saved profiles. It may be set later with SetStorage.
	Storage Storage
	// AutoStart opens a root span named Identifier.
	AutoStart bool
	// AutoSave makes OnProcessExit and Recover save the profile.
	AutoSave bool
	// Context produces the execution context at save time. Defaults to
	// CLIContext.
	Context ContextFunc
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// Clock defaults to the system clock.
	Clock Clock
	// Memory defaults to the process high-water mark.
	Memory memstat.Sampler
}

// Profiler builds the span tree of one execution. Its methods are safe to
// call from several goroutines, but spans started concurrently still share
// one open-span stack.
type Profiler struct {
	mu sync.Mutex

	identifier string
	group      string
	storage    Storage
	hook       SaveHook
	autoSave   bool
	contextFn  ContextFunc
	clock      Clock
	memory     memstat.Sampler
	logger     zerolog.Logger

	entries []Entry
	began   []time.Time
	open    []int
	errors  []ErrorRecord
	extras  []ExtraRecord
}

// New creates a Profiler.
func New(cfg Config) (*Profiler, error) {
	if cfg.Identifier == "" {
		return nil, &ValidationError{Field: "identifier", Message: "must be a non-empty string"}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "profiler").Logger()
	}

	p := &Profiler{
		identifier: cfg.Identifier,
		group:      cfg.Group,
		storage:    cfg.Storage,
		autoSave:   cfg.AutoSave,
		contextFn:  cfg.Context,
		clock:      cfg.Clock,
		memory:     cfg.Memory,
		logger:     logger,
	}
	if p.contextFn == nil {
		p.contextFn = CLIContext
	}
	if p.clock == nil {
		p.clock = systemClock{}
	}
	if p.memory == nil {
		p.memory = memstat.Default(logger)
	}

	if cfg.AutoStart {
		if err := p.Start(cfg.Identifier, cfg.Group); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Identifier returns the profile identifier.
func (p *Profiler) Identifier() string { return p.identifier }

// SetStorage replaces the storage used by Save.
func (p *Profiler) SetStorage(s Storage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage = s
}

// OnSave registers the pre-save hook.
func (p *Profiler) OnSave(hook SaveHook) error {
	if hook == nil {
		return &ValidationError{Field: "hook", Message: "must be a function"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
	return nil
}

// Start opens a span as a child of the innermost open span.
func (p *Profiler) Start(identifier, group string) error {
	if identifier == "" {
		return &ValidationError{Field: "identifier", Message: "must be a non-empty string"}
	}
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, Entry{
		Identifier:  identifier,
		Group:       group,
		ParentIndex: p.currentLocked(),
		Start:       unixSeconds(now),
	})
	p.began = append(p.began, now)
	p.open = append(p.open, len(p.entries)-1)
	return nil
}

// Stop closes the innermost open span. Non-nil values passed in extra are
// attached to that span first. With no open span Stop does nothing.
func (p *Profiler) Stop(extra ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.open) == 0 {
		return
	}
	for _, v := range extra {
		if v != nil {
			p.extraLocked(v)
		}
	}
	p.stopLocked(p.clock.Now())
}

// Extra attaches v to the innermost open span, or to the root when no span
// is open.
func (p *Profiler) Extra(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extraLocked(v)
}

// SeverityCoder lets an error choose its stored severity.
type SeverityCoder interface {
	Severity() int
}

// Locator lets an error report where it was raised.
type Locator interface {
	Location() (file string, line int)
}

// Error records err against the innermost open span. Severity and location
// come from the SeverityCoder and Locator interfaces when err implements
// them, otherwise SeverityError and the caller's position are used.
func (p *Profiler) Error(err error) {
	if err == nil {
		return
	}
	severity := SeverityError
	if sc, ok := err.(SeverityCoder); ok {
		severity = sc.Severity()
	}
	var (
		file string
		line int
	)
	if loc, ok := err.(Locator); ok {
		file, line = loc.Location()
	} else {
		_, file, line, _ = runtime.Caller(1)
	}
	p.ErrorAt(severity, err.Error(), file, line)
}

// ErrorAt records a raw error against the innermost open span.
func (p *Profiler) ErrorAt(severity int, message, file string, line int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, ErrorRecord{
		ParentIndex: p.currentLocked(),
		Severity:    severity,
		Message:     message,
		File:        file,
		Line:        line,
	})
}

// Entries returns a copy of the recorded spans.
func (p *Profiler) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.entries)
}

// OpenSpans returns how many spans are still open.
func (p *Profiler) OpenSpans() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

func (p *Profiler) currentLocked() int {
	if len(p.open) == 0 {
		return RootIndex
	}
	return p.open[len(p.open)-1]
}

func (p *Profiler) extraLocked(v any) {
	p.extras = append(p.extras, ExtraRecord{ParentIndex: p.currentLocked(), Value: v})
}

func (p *Profiler) stopLocked(now time.Time) {
	idx := p.open[len(p.open)-1]
	p.open = p.open[:len(p.open)-1]
	e := &p.entries[idx]
	e.Duration = now.Sub(p.began[idx]).Seconds()
	e.MemoryPeak = p.memory.PeakBytes()
}

func (p *Profiler) resetLocked() {
	p.entries = nil
	p.began = nil
	p.open = nil
	p.errors = nil
	p.extras = nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

