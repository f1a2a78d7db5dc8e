package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/spanprof/pkg/profiler"
)

func checkoutSnapshot() *profiler.Snapshot {
	return &profiler.Snapshot{
		ExecutionContext: profiler.ExecutionContext{Method: "GET", URL: "/checkout"},
		Identifier:       "checkout",
		Start:            1700000000,
		Duration:         1.0,
		Entries: []profiler.Entry{
			{Identifier: "checkout", ParentIndex: profiler.RootIndex, Duration: 1.0, MemoryPeak: 4096},
			{Identifier: "load", Group: "sql", ParentIndex: 0, Duration: 0.25, MemoryPeak: 1024},
			{Identifier: "render", ParentIndex: 0, Duration: 0.5, MemoryPeak: 2048},
			{Identifier: "load", Group: "sql", ParentIndex: 2, Duration: 0.125, MemoryPeak: 512},
		},
	}
}

func TestPprof(t *testing.T) {
	prof, err := Pprof(checkoutSnapshot())
	require.NoError(t, err)

	require.Len(t, prof.Sample, 4)
	assert.Len(t, prof.Function, 3, "identical identifier and group share a function")
	assert.Equal(t, int64(1700000000)*1e9, prof.TimeNanos)
	assert.Equal(t, int64(1e9), prof.DurationNanos)
	assert.Contains(t, prof.Comments, "GET /checkout")

	root := prof.Sample[0]
	assert.Equal(t, int64(250_000_000), root.Value[valueWall], "self time excludes children")
	assert.Equal(t, int64(4096), root.Value[valueMemory])
	assert.Len(t, root.Location, 1)

	render := prof.Sample[2]
	assert.Equal(t, int64(375_000_000), render.Value[valueWall])

	nested := prof.Sample[3]
	require.Len(t, nested.Location, 3)
	assert.Equal(t, "load", nested.Location[0].Line[0].Function.Name)
	assert.Equal(t, "render", nested.Location[1].Line[0].Function.Name)
	assert.Equal(t, "checkout", nested.Location[2].Line[0].Function.Name)
	assert.Equal(t, []string{"sql"}, nested.Label["group"])
	assert.Equal(t, []int64{3}, nested.NumLabel["span"])
}

func TestPprof_ChildrenLongerThanParent(t *testing.T) {
	snap := &profiler.Snapshot{
		Identifier: "x",
		Entries: []profiler.Entry{
			{Identifier: "x", ParentIndex: profiler.RootIndex, Duration: 0.1},
			{Identifier: "y", ParentIndex: 0, Duration: 0.2},
		},
	}
	prof, err := Pprof(snap)
	require.NoError(t, err)
	assert.Zero(t, prof.Sample[0].Value[valueWall])
}

func TestPprof_Errors(t *testing.T) {
	_, err := Pprof(&profiler.Snapshot{Identifier: "empty"})
	assert.ErrorIs(t, err, ErrNoEntries)

	_, err = Pprof(&profiler.Snapshot{Entries: []profiler.Entry{{Identifier: "x", ParentIndex: 5}}})
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	prof, err := Pprof(checkoutSnapshot())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, prof))
	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 4)
	assert.Equal(t, "wall", parsed.SampleType[valueWall].Type)

	path := filepath.Join(t.TempDir(), "out", "checkout.pb.gz")
	require.NoError(t, WriteFile(path, prof))
}
