// Package export converts stored profiles into pprof profiles so that span
// trees can be browsed with `go tool pprof`.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/spanprof/internal/safe"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// Sample value indexes.
const (
	valueWall = iota
	valueMemory
	valueCalls
)

// ErrNoEntries is returned for profiles without spans.
var ErrNoEntries = errors.New("profile has no spans")

// Pprof builds one sample per span. The sample stack is the chain from the
// span up to the root, its wall value is the span's self time (duration
// minus the duration of its direct children, floored at zero), and its
// memory value is the span's peak.
func Pprof(snap *profiler.Snapshot) (*profile.Profile, error) {
	if len(snap.Entries) == 0 {
		return nil, ErrNoEntries
	}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "wall", Unit: "nanoseconds"},
			{Type: "memory_peak", Unit: "bytes"},
			{Type: "calls", Unit: "count"},
		},
		DefaultSampleType: "wall",
		PeriodType:        &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:            1,
		TimeNanos:         nanos(snap.Start),
		DurationNanos:     nanos(snap.Duration),
	}
	if snap.Method != "" || snap.URL != "" {
		prof.Comments = append(prof.Comments, snap.Method+" "+snap.URL)
	}
	prof.Comments = append(prof.Comments, "identifier: "+snap.Identifier)

	children := make([]float64, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.ParentIndex >= 0 && e.ParentIndex < len(snap.Entries) {
			children[e.ParentIndex] += e.Duration
		}
	}

	functions := make(map[string]*profile.Function)
	locations := make([]*profile.Location, len(snap.Entries))
	for i, e := range snap.Entries {
		key := e.Identifier + "\x00" + e.Group
		fn, ok := functions[key]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(prof.Function) + 1),
				Name:       e.Identifier,
				SystemName: e.Identifier,
				Filename:   e.Group,
			}
			functions[key] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		locations[i] = loc
		prof.Location = append(prof.Location, loc)
	}

	for i, e := range snap.Entries {
		stack, err := stackOf(snap.Entries, locations, i)
		if err != nil {
			return nil, err
		}
		sample := &profile.Sample{
			Location: stack,
			Value: []int64{
				valueWall:   nanos(safe.NonNegative(e.Duration - children[i])),
				valueMemory: safe.NonNegative(e.MemoryPeak),
				valueCalls:  1,
			},
			NumLabel: map[string][]int64{"span": {int64(i)}},
		}
		if e.Group != "" {
			sample.Label = map[string][]string{"group": {e.Group}}
		}
		prof.Sample = append(prof.Sample, sample)
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return prof, nil
}

// stackOf walks parents from span i to the root, leaf first.
func stackOf(entries []profiler.Entry, locations []*profile.Location, i int) ([]*profile.Location, error) {
	var stack []*profile.Location
	for at := i; at != profiler.RootIndex; at = entries[at].ParentIndex {
		if at < 0 || at >= len(entries) || len(stack) > len(entries) {
			return nil, fmt.Errorf("span %d has an invalid parent chain", i)
		}
		stack = append(stack, locations[at])
	}
	return stack, nil
}

func nanos(seconds float64) int64 {
	return int64(math.Round(seconds * 1e9))
}

// Write serializes prof gzip-compressed.
func Write(w io.Writer, prof *profile.Profile) error {
	return prof.Write(w)
}

// WriteFile writes prof to path, creating parent directories.
func WriteFile(path string, prof *profile.Profile) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Write(f, prof)
}
