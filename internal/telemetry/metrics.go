// Package telemetry exposes Prometheus instrumentation for the profile
// store. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
)

// Metrics groups the store collectors.
type Metrics struct {
	transactions  *prometheus.CounterVec
	txDuration    prometheus.Histogram
	dictionary    *prometheus.CounterVec
	metricUpserts *prometheus.CounterVec
	blobBytes     prometheus.Histogram
	profiles      prometheus.Counter
}

// New builds the collectors under namespace. They are not registered.
func New(namespace string) *Metrics {
	return &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_transactions_total",
			Help:      "Profile save transactions by outcome",
		}, []string{"outcome"}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_transaction_duration_seconds",
			Help:      "Time between begin and commit or rollback",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		dictionary: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_dictionary_keys_total",
			Help:      "Dictionary keys internalized by category and conflict path",
		}, []string{"category", "path"}),
		metricUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_metric_upserts_total",
			Help:      "Aggregate metric rows upserted by type",
		}, []string{"type"}),
		blobBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_blob_bytes",
			Help:      "Size of written span blobs after compression",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		profiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_profiles_total",
			Help:      "Profile rows inserted",
		}),
	}
}

// Register adds every collector to r. Collectors that are already registered
// are tolerated so several stores can share one registry.
func (m *Metrics) Register(r prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{
		m.transactions, m.txDuration, m.dictionary, m.metricUpserts, m.blobBytes, m.profiles,
	} {
		if err := r.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTransaction records one finished transaction.
func (m *Metrics) ObserveTransaction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
	m.txDuration.Observe(d.Seconds())
}

// AddDictionaryKeys counts keys internalized for category through path.
func (m *Metrics) AddDictionaryKeys(category, path string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dictionary.WithLabelValues(category, path).Add(float64(n))
}

// IncMetricUpsert counts one aggregate row upsert.
func (m *Metrics) IncMetricUpsert(metricType string) {
	if m == nil {
		return
	}
	m.metricUpserts.WithLabelValues(metricType).Inc()
}

// ObserveBlob records the size of a written span blob.
func (m *Metrics) ObserveBlob(bytes int) {
	if m == nil {
		return
	}
	m.blobBytes.Observe(float64(bytes))
}

// IncProfiles counts one inserted profile row.
func (m *Metrics) IncProfiles() {
	if m == nil {
		return
	}
	m.profiles.Inc()
}
