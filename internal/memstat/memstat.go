// Package memstat reads the memory figures recorded as memory_peak on spans
// and profiles.
package memstat

import (
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/spanprof/internal/safe"
)

// Sampler returns the current peak memory reading in bytes.
type Sampler interface {
	PeakBytes() int64
}

// Func adapts a plain function to Sampler.
type Func func() int64

// PeakBytes implements Sampler.
func (f Func) PeakBytes() int64 { return f() }

// ProcessSampler reads the resident-set high-water mark of the current
// process. Platforms that do not report a high-water mark fall back to the
// current RSS, and a failing probe falls back to the Go runtime's view.
type ProcessSampler struct {
	proc   *process.Process
	logger zerolog.Logger
	warn   sync.Once
}

// NewProcessSampler binds a sampler to the current process.
func NewProcessSampler(logger zerolog.Logger) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 - pids fit in int32.
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{
		proc:   proc,
		logger: logger.With().Str("component", "memstat").Logger(),
	}, nil
}

// PeakBytes implements Sampler.
func (s *ProcessSampler) PeakBytes() int64 {
	info, err := s.proc.MemoryInfo()
	if err != nil || info == nil {
		s.warn.Do(func() {
			s.logger.Warn().Err(err).Msg("Process memory probe failed, using runtime statistics")
		})
		return RuntimeSampler{}.PeakBytes()
	}
	peak := info.HWM
	if peak == 0 {
		peak = info.RSS
	}
	v, _ := safe.Uint64ToInt64(peak)
	return v
}

// RuntimeSampler reports the memory the Go runtime obtained from the OS.
type RuntimeSampler struct{}

// PeakBytes implements Sampler.
func (RuntimeSampler) PeakBytes() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	v, _ := safe.Uint64ToInt64(ms.Sys)
	return v
}

// Default returns a process sampler, or the runtime sampler when the process
// cannot be inspected.
func Default(logger zerolog.Logger) Sampler {
	s, err := NewProcessSampler(logger)
	if err != nil {
		logger.Debug().Err(err).Msg("Process sampler unavailable")
		return RuntimeSampler{}
	}
	return s
}
