package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("spanprof")

	m.ObserveTransaction(OutcomeCommit, 3*time.Millisecond)
	m.ObserveTransaction(OutcomeCommit, time.Millisecond)
	m.ObserveTransaction(OutcomeRollback, time.Millisecond)
	m.AddDictionaryKeys("header", "native", 4)
	m.AddDictionaryKeys("header", "native", 0)
	m.IncMetricUpsert("entry")
	m.IncProfiles()
	m.ObserveBlob(512)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues(OutcomeCommit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues(OutcomeRollback)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.dictionary.WithLabelValues("header", "native")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metricUpserts.WithLabelValues("entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profiles))
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("spanprof")
	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Register(reg), "registering twice is tolerated")

	m.IncProfiles()
	n, err := testutil.GatherAndCount(reg, "spanprof_store_profiles_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransaction(OutcomeCommit, time.Second)
		m.AddDictionaryKeys("url", "emulated", 1)
		m.IncMetricUpsert("profile")
		m.ObserveBlob(10)
		m.IncProfiles()
		assert.NoError(t, m.Register(prometheus.NewRegistry()))
	})
}
