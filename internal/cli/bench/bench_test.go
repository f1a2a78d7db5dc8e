package bench

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/spanprof/internal/telemetry"
	"github.com/coral-mesh/spanprof/internal/testutil"
	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
	"github.com/coral-mesh/spanprof/pkg/store"
)

func TestRun(t *testing.T) {
	s := testutil.NewTestStore(t, upsert.ModeAuto)
	ctx := context.Background()

	res, err := Run(ctx, s, Options{Profiles: 20, Identifiers: 5, Fanout: 2, Workers: 3, Seed: 1}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Profiles)
	// Each i contributes 8*(i%10)+1 spans.
	assert.Equal(t, 740, res.Spans)
	assert.LessOrEqual(t, res.AvgSave, res.MaxSave)

	rows, err := s.Metrics(ctx, store.MetricFilter{Type: profiler.MetricTypeProfile})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	var total int64
	for _, r := range rows {
		total += r.Count
		assert.Equal(t, int64(4), r.Count, r.Identifier)
	}
	assert.Equal(t, int64(20), total)

	entries, err := s.Metrics(ctx, store.MetricFilter{Type: profiler.MetricTypeEntry, Sort: store.SortCount})
	require.NoError(t, err)
	names := map[string]int64{}
	for _, r := range entries {
		names[r.Identifier] = r.Count
	}
	assert.Equal(t, map[string]int64{
		"request": 20, "aaa": 180, "bbb": 180, "ccc-1": 180, "ccc-2": 180,
	}, names)
}

func TestRun_SameSeedSameDurations(t *testing.T) {
	ctx := context.Background()
	opts := Options{Profiles: 3, Identifiers: 1, Fanout: 1, Workers: 1, Seed: 42}

	durations := func() []float64 {
		s := testutil.NewTestStore(t, upsert.ModeAuto)
		_, err := Run(ctx, s, opts, testutil.NewTestLogger(t))
		require.NoError(t, err)
		recs, err := s.Profiles(ctx, store.ProfileFilter{})
		require.NoError(t, err)
		var out []float64
		for _, r := range recs {
			out = append(out, r.Duration)
		}
		return out
	}
	assert.Equal(t, durations(), durations())
}

func TestRun_CancelledContext(t *testing.T) {
	s := testutil.NewTestStore(t, upsert.ModeAuto)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, s, Options{Profiles: 50, Identifiers: 1, Workers: 2, Seed: 1}, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	var saves []time.Duration
	for i := 20; i >= 1; i-- {
		saves = append(saves, time.Duration(i)*time.Millisecond)
	}
	res := summarize(saves, 7, time.Second)
	assert.Equal(t, 20, res.Profiles)
	assert.Equal(t, 7, res.Spans)
	assert.Equal(t, 10500*time.Microsecond, res.AvgSave)
	assert.Equal(t, 19*time.Millisecond, res.P95Save)
	assert.Equal(t, 20*time.Millisecond, res.MaxSave)

	empty := summarize(nil, 0, 0)
	assert.Zero(t, empty.AvgSave)
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New("bench")
	require.NoError(t, m.Register(reg))
	m.IncProfiles()
	m.IncMetricUpsert("entry")

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	assert.Contains(t, buf.String(), "bench_store_profiles_total 1")
	assert.Contains(t, buf.String(), "bench_store_metric_upserts_total{type=entry} 1")
}
