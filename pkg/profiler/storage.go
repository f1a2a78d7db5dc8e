package profiler

import "context"

//go:generate mockgen -destination=mock_storage.go -package=profiler github.com/coral-mesh/spanprof/pkg/profiler Storage

// Storage persists finished profiles. Save calls BeginTransaction, then
// SaveProfileInfo, SaveProfileEntries and one SaveProfileMetric per
// aggregate row, then CommitTransaction. Any failure is followed by
// RollbackTransaction.
//
// BeginTransaction returns the context that carries the transaction; every
// later call of the same save passes it, so writes made with any other
// context never land in that transaction.
type Storage interface {
	BeginTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	// SaveProfileInfo writes the profile row and its associations and
	// returns the new profile id.
	SaveProfileInfo(ctx context.Context, snapshot *Snapshot) (int64, error)
	// SaveProfileEntries stores the span list of profile id.
	SaveProfileEntries(ctx context.Context, id int64, entries []Entry) error
	// SaveProfileMetric folds one update into the aggregate metrics.
	SaveProfileMetric(ctx context.Context, update MetricUpdate) error
}
