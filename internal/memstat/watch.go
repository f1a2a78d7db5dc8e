package memstat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/spanprof/internal/safe"
)

// DefaultWatchInterval is the polling period of Watch.
const DefaultWatchInterval = 50 * time.Millisecond

// Watcher tracks the largest resident set observed for another process.
// Exited processes keep their last reading.
type Watcher struct {
	proc   *process.Process
	logger zerolog.Logger
	peak   atomic.Int64
	done   chan struct{}
	stop   sync.Once
	cancel context.CancelFunc
}

// Watch polls pid every interval until ctx is done or Stop is called.
func Watch(ctx context.Context, pid int32, interval time.Duration, logger zerolog.Logger) (*Watcher, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		proc:   proc,
		logger: logger.With().Str("component", "memstat").Int32("pid", pid).Logger(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	w.sample(ctx)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !w.sample(ctx) {
					return
				}
			}
		}
	}()
	return w, nil
}

// sample records one reading and reports whether the process is still
// inspectable.
func (w *Watcher) sample(ctx context.Context) bool {
	info, err := w.proc.MemoryInfoWithContext(ctx)
	if err != nil || info == nil {
		w.logger.Trace().Err(err).Msg("Memory probe stopped")
		return false
	}
	v := info.HWM
	if v < info.RSS {
		v = info.RSS
	}
	n, _ := safe.Uint64ToInt64(v)
	for {
		cur := w.peak.Load()
		if n <= cur || w.peak.CompareAndSwap(cur, n) {
			return true
		}
	}
}

// Stop ends polling and waits for the poller to exit.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		<-w.done
	})
}

// PeakBytes implements Sampler.
func (w *Watcher) PeakBytes() int64 {
	return w.peak.Load()
}
