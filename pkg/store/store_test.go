package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/spanprof/internal/memstat"
	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func openStore(t *testing.T, driver Driver, path string, mode upsert.Mode) *Store {
	t.Helper()
	logger := zerolog.Nop()
	s, err := New(context.Background(), Config{
		Driver:     driver,
		Path:       path,
		UpsertMode: mode,
		Logger:     &logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T, mode upsert.Mode) *Store {
	t.Helper()
	return openStore(t, DriverSQLite, filepath.Join(t.TempDir(), "profiles.db"), mode)
}

func newProfiler(t *testing.T, s profiler.Storage, identifier string, clock *testClock, ec profiler.ExecutionContext) *profiler.Profiler {
	t.Helper()
	p, err := profiler.New(profiler.Config{
		Identifier: identifier,
		Storage:    s,
		Clock:      clock,
		Memory:     memstat.Func(func() int64 { return 2048 }),
		Context:    func() profiler.ExecutionContext { return ec },
	})
	require.NoError(t, err)
	return p
}

// saveRun records one root span of the given length and saves it.
func saveRun(t *testing.T, s profiler.Storage, identifier string, d time.Duration) int64 {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	p := newProfiler(t, s, identifier, clock, profiler.ExecutionContext{Method: "POST", URL: "/checkout"})
	require.NoError(t, p.Start(identifier, ""))
	clock.Advance(d)
	p.Stop()
	res, err := p.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, profiler.StatusSaved, res.Status)
	return res.ProfileID
}

var modes = []upsert.Mode{upsert.ModeNative, upsert.ModeEmulated}

func TestNew_Config(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, profiler.ErrConfiguration)

	_, err = New(context.Background(), Config{Driver: "oracle", Path: filepath.Join(t.TempDir(), "x.db")})
	assert.ErrorIs(t, err, profiler.ErrConfiguration)

	_, err = New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), Compression: "lz4"})
	assert.ErrorIs(t, err, profiler.ErrConfiguration)

	s := newTestStore(t, upsert.ModeAuto)
	assert.Equal(t, "native", s.UpsertPath())
	assert.True(t, s.Caps().OnConflict)
	assert.NotEmpty(t, s.Path())
	assert.NotNil(t, s.DB())
}

func TestNew_HostManagedConnection(t *testing.T) {
	dir := t.TempDir()
	owner := openStore(t, DriverSQLite, filepath.Join(dir, "host.db"), upsert.ModeAuto)

	logger := zerolog.Nop()
	s, err := New(context.Background(), Config{DB: owner.DB(), EntriesDir: filepath.Join(dir, "spans"), Logger: &logger})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Closing the borrowing store leaves the pool usable.
	require.NoError(t, owner.DB().Ping())

	_, err = New(context.Background(), Config{DB: owner.DB()})
	assert.ErrorIs(t, err, profiler.ErrConfiguration)
}

func TestSave_TwoNestedSpans(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			s := newTestStore(t, mode)
			clock := &testClock{now: time.Unix(1700000000, 0)}
			p := newProfiler(t, s, "nested", clock, profiler.ExecutionContext{Method: "GET", URL: "/"})

			require.NoError(t, p.Start("a", ""))
			require.NoError(t, p.Start("b", ""))
			clock.Advance(time.Second)
			p.Stop()
			p.Stop()
			res, err := p.Save(context.Background())
			require.NoError(t, err)

			rec, err := s.Profile(context.Background(), res.ProfileID)
			require.NoError(t, err)
			assert.Equal(t, 2, rec.EntriesCount)
			assert.Equal(t, 0, rec.ErrorCount)
			require.Len(t, rec.Entries, 2)
			assert.Equal(t, profiler.RootIndex, rec.Entries[0].ParentIndex)
			assert.Equal(t, 0, rec.Entries[1].ParentIndex)
			assert.Equal(t, "b", rec.Entries[1].Identifier)
		})
	}
}

func TestSave_CheckoutAggregateAcrossProcesses(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shared.db")
			first := openStore(t, DriverSQLite, path, mode)
			second := openStore(t, DriverSQLite, path, mode)

			id1 := saveRun(t, first, "checkout", time.Second)
			id2 := saveRun(t, second, "checkout", 3*time.Second)
			require.NotEqual(t, id1, id2)

			m, err := first.Metric(context.Background(), "checkout", profiler.MetricTypeProfile, "")
			require.NoError(t, err)
			assert.Equal(t, int64(2), m.Count)
			assert.InDelta(t, 2.0, m.AvgDuration, 1e-9)
			assert.InDelta(t, 1.0, m.MinDuration, 1e-9)
			assert.InDelta(t, 3.0, m.MaxDuration, 1e-9)
			assert.InDelta(t, 3.0, m.LastDuration, 1e-9)
			assert.Equal(t, id1, m.MinDurationProfileID)
			assert.Equal(t, id2, m.MaxDurationProfileID)
			assert.Equal(t, id2, m.LastProfileID)
			assert.InDelta(t, 2048.0, m.AvgMemoryPeak, 1e-9)

			entry, err := second.Metric(context.Background(), "checkout", profiler.MetricTypeEntry, "")
			require.NoError(t, err)
			assert.Equal(t, int64(2), entry.Count)
		})
	}
}

func TestSaveProfileMetric_TiesKeepFirstExtreme(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	require.NoError(t, s.SaveProfileMetric(ctx, profiler.Sample("q", profiler.MetricTypeEntry, "sql", 1, 2.0, 10)))
	require.NoError(t, s.SaveProfileMetric(ctx, profiler.Sample("q", profiler.MetricTypeEntry, "sql", 2, 2.0, 10)))

	m, err := s.Metric(ctx, "q", profiler.MetricTypeEntry, "sql")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.MinDurationProfileID)
	assert.Equal(t, int64(1), m.MaxDurationProfileID)
	assert.Equal(t, int64(1), m.MinMemoryPeakProfileID)
	assert.Equal(t, int64(2), m.LastProfileID)
}

func TestSaveProfileMetric_WeightedUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeEmulated)

	require.NoError(t, s.SaveProfileMetric(ctx, profiler.Sample("q", profiler.MetricTypeEntry, "", 1, 4.0, 100)))
	require.NoError(t, s.SaveProfileMetric(ctx, profiler.MetricUpdate{
		Identifier: "q", Type: profiler.MetricTypeEntry, ProfileID: 2, Count: 3,
		Duration: 2.0, MemoryPeak: 40,
		LastDuration: 3.0, LastMemoryPeak: 50,
		MinDuration: 1.0, MinMemoryPeak: 20,
		MaxDuration: 3.0, MaxMemoryPeak: 60,
	}))

	m, err := s.Metric(ctx, "q", profiler.MetricTypeEntry, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Count)
	assert.InDelta(t, 2.5, m.AvgDuration, 1e-9)
	assert.InDelta(t, 55.0, m.AvgMemoryPeak, 1e-9)
	assert.InDelta(t, 1.0, m.MinDuration, 1e-9)
	assert.Equal(t, int64(2), m.MinDurationProfileID)
	assert.InDelta(t, 4.0, m.MaxDuration, 1e-9)
	assert.Equal(t, int64(1), m.MaxDurationProfileID)
	assert.Equal(t, int64(20), m.MinMemoryPeak)
	assert.Equal(t, int64(100), m.MaxMemoryPeak)
	assert.InDelta(t, 3.0, m.LastDuration, 1e-9)
	assert.Equal(t, int64(50), m.LastMemoryPeak)
}

func TestSaveProfileMetric_Validation(t *testing.T) {
	s := newTestStore(t, upsert.ModeAuto)
	tests := []struct {
		name   string
		update profiler.MetricUpdate
		field  string
	}{
		{"no identifier", profiler.MetricUpdate{Type: profiler.MetricTypeProfile, Count: 1}, "metric.identifier"},
		{"bad type", profiler.MetricUpdate{Identifier: "x", Type: "span", Count: 1}, "metric.type"},
		{"zero count", profiler.MetricUpdate{Identifier: "x", Type: profiler.MetricTypeEntry}, "metric.count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SaveProfileMetric(context.Background(), tt.update)
			var verr *profiler.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRollback_LeavesNoRowsOrBlobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	id, err := s.SaveProfileInfo(txCtx, &profiler.Snapshot{
		Identifier:       "doomed",
		ExecutionContext: profiler.ExecutionContext{Method: "GET", URL: "/x", Headers: map[string]string{"a": "b"}},
		EntriesCount:     1,
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveProfileEntries(txCtx, id, []profiler.Entry{{Identifier: "doomed", ParentIndex: profiler.RootIndex}}))
	require.NoError(t, s.RollbackTransaction(txCtx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Profiles)
	assert.Zero(t, stats.BlobBytes)
	assert.Equal(t, 0, countRows(t, s.DB(), CategoryIdentifier.Table()))
	assert.Equal(t, 0, countRows(t, s.DB(), CategoryHeader.LinkTable()))

	_, err = s.Entries(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Rolling back a finished transaction, or none at all, is a no-op.
	require.NoError(t, s.RollbackTransaction(txCtx))
	require.NoError(t, s.RollbackTransaction(ctx))
}

func TestTransaction_OtherWritersStayOutside(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = s.Internalize(txCtx, CategoryIdentifier, Key{"doomed"})
	require.NoError(t, err)

	type result struct {
		id  int64
		err error
	}
	internalized := make(chan result, 1)
	metricSaved := make(chan error, 1)
	go func() {
		id, err := s.Internalize(ctx, CategoryIdentifier, Key{"outsider"})
		internalized <- result{id, err}
	}()
	go func() {
		metricSaved <- s.SaveProfileMetric(ctx, profiler.Sample("outsider", profiler.MetricTypeProfile, "", 1, 0.5, 10))
	}()

	select {
	case <-internalized:
		t.Fatal("a write without the transaction context joined the open transaction")
	case <-metricSaved:
		t.Fatal("a metric write without the transaction context joined the open transaction")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.RollbackTransaction(txCtx))

	res := <-internalized
	require.NoError(t, res.err)
	assert.Positive(t, res.id)
	require.NoError(t, <-metricSaved)

	assert.Equal(t, 1, countRows(t, s.DB(), CategoryIdentifier.Table()), "only the rolled back key is gone")
	m, err := s.Metric(ctx, "outsider", profiler.MetricTypeProfile, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Count)
}

func TestBeginTransaction_Nested(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = s.BeginTransaction(txCtx)
	assert.ErrorIs(t, err, profiler.ErrStorage)
	require.NoError(t, s.CommitTransaction(txCtx))
}

func TestCommit_WithoutTransaction(t *testing.T) {
	s := newTestStore(t, upsert.ModeAuto)
	err := s.CommitTransaction(context.Background())
	assert.ErrorIs(t, err, profiler.ErrStorage)
}

func TestInternalize_CountsAndStableIDs(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, mode)

			a, err := s.Internalize(ctx, CategoryHeader, Key{"accept", "*/*"})
			require.NoError(t, err)
			ids, err := s.InternalizeBatch(ctx, CategoryHeader, []Key{
				{"accept", "*/*"}, {"host", "example.com"}, {"accept", "*/*"},
			})
			require.NoError(t, err)
			require.Len(t, ids, 3)
			assert.Equal(t, a, ids[0])
			assert.Equal(t, a, ids[2])
			assert.NotEqual(t, a, ids[1])

			assert.Equal(t, int64(3), dictionaryCount(t, s.DB(), CategoryHeader, a))
			assert.Equal(t, int64(1), dictionaryCount(t, s.DB(), CategoryHeader, ids[1]))

			_, err = s.Internalize(ctx, CategoryHeader, Key{"only-name"})
			assert.ErrorIs(t, err, profiler.ErrStorage)
		})
	}
}

func TestProfile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	snap := &profiler.Snapshot{
		ExecutionContext: profiler.ExecutionContext{
			Method:          "POST",
			URL:             "https://shop.example/cart?id=3",
			Status:          201,
			IP:              "203.0.113.9",
			Referer:         "https://shop.example/",
			UserAgent:       "curl/8.0",
			RawBody:         `{"sku":"x"}`,
			Headers:         map[string]string{"Content-Type": "application/json", "Accept": "*/*"},
			Query:           map[string]any{"id": "3"},
			Body:            map[string]any{"sku": "x", "qty": 2},
			Cookies:         map[string]string{"session": "abc"},
			Server:          map[string]string{"REQUEST_ID": "r-1"},
			Files:           []profiler.UploadedFile{{Name: "a.txt", Type: "text/plain", Size: 12}},
			IncludedModules: []string{"github.com/x/y v1.0.0"},
			Extensions:      []string{"CGO_ENABLED=1"},
		},
		Identifier:   "cart",
		Group:        "web",
		Start:        1700000000.5,
		Duration:     0.25,
		MemoryPeak:   4096,
		EntriesCount: 2,
		Entries: []profiler.Entry{
			{Identifier: "cart", Group: "web", ParentIndex: profiler.RootIndex, Start: 1700000000.5, Duration: 0.25, MemoryPeak: 4096},
			{Identifier: "select", Group: "sql", ParentIndex: 0, Start: 1700000000.6, Duration: 0.1, MemoryPeak: 2048},
		},
		Errors: []profiler.ErrorRecord{
			{ParentIndex: 1, Severity: profiler.SeverityWarning, Message: "slow", File: "db.go", Line: 10},
			{ParentIndex: 1, Severity: profiler.SeverityWarning, Message: "slow", File: "db.go", Line: 10},
			{ParentIndex: 0, Severity: profiler.SeverityWarning, Message: "slow", File: "db.go", Line: 10},
		},
		Extras: []profiler.ExtraRecord{
			{ParentIndex: 1, Value: map[string]any{"rows": 3}},
			{ParentIndex: 0, Value: "done"},
		},
	}

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	id, err := s.SaveProfileInfo(txCtx, snap)
	require.NoError(t, err)
	require.NoError(t, s.SaveProfileEntries(txCtx, id, snap.Entries))
	require.NoError(t, s.CommitTransaction(txCtx))

	rec, err := s.Profile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "cart", rec.Identifier)
	assert.Equal(t, "web", rec.Group)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, snap.URL, rec.URL)
	assert.Equal(t, 201, rec.Status)
	assert.Equal(t, snap.IP, rec.IP)
	assert.Equal(t, snap.Referer, rec.Referer)
	assert.Equal(t, snap.UserAgent, rec.UserAgent)
	assert.Equal(t, snap.RawBody, rec.RawBody)
	assert.InDelta(t, snap.Start, rec.Start, 1e-6)
	assert.InDelta(t, snap.Duration, rec.Duration, 1e-9)
	assert.Equal(t, int64(4096), rec.MemoryPeak)
	assert.Equal(t, 2, rec.EntriesCount)
	assert.Equal(t, 3, rec.ErrorCount)

	assert.Equal(t, snap.Headers, rec.Headers)
	assert.Equal(t, map[string]any{"id": "3"}, rec.Query)
	assert.Equal(t, map[string]any{"sku": "x", "qty": "2"}, rec.Body)
	assert.Equal(t, snap.Cookies, rec.Cookies)
	assert.Equal(t, snap.Server, rec.Server)
	assert.Equal(t, snap.Files, rec.Files)
	assert.Equal(t, snap.IncludedModules, rec.IncludedModules)
	assert.Equal(t, snap.Extensions, rec.Extensions)

	// The repeated error collapses per span.
	assert.Equal(t, []profiler.ErrorRecord{
		{ParentIndex: 0, Severity: profiler.SeverityWarning, Message: "slow", File: "db.go", Line: 10},
		{ParentIndex: 1, Severity: profiler.SeverityWarning, Message: "slow", File: "db.go", Line: 10},
	}, rec.Errors)
	assert.Equal(t, []profiler.ExtraRecord{
		{ParentIndex: 0, Value: "done"},
		{ParentIndex: 1, Value: map[string]any{"rows": float64(3)}},
	}, rec.Extras)

	require.Len(t, rec.Entries, 2)
	assert.Equal(t, snap.Entries, rec.Entries)
}

func TestProfile_OptionalColumnsAreNull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	id := saveRun(t, s, "bare", time.Second)

	var group, status, ip sql.NullInt64
	err := s.DB().QueryRow(`SELECT "group_id", "status", "ip_id" FROM "profile" WHERE "profile_id" = ?`, id).
		Scan(&group, &status, &ip)
	require.NoError(t, err)
	assert.False(t, group.Valid)
	assert.False(t, status.Valid)
	assert.False(t, ip.Valid)

	_, err = s.Profile(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveProfileEntries_EmptyListWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	id, err := s.SaveProfileInfo(txCtx, &profiler.Snapshot{Identifier: "empty", ExecutionContext: profiler.ExecutionContext{Method: "CLI"}})
	require.NoError(t, err)
	require.NoError(t, s.SaveProfileEntries(txCtx, id, nil))
	require.NoError(t, s.CommitTransaction(txCtx))

	files, err := os.ReadDir(filepath.Join(filepath.Dir(s.Path()), DefaultEntriesDir))
	require.NoError(t, err)
	assert.Empty(t, files)

	entries, err := s.Entries(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveProfileEntries_ClearsLeftoverBlobOfReusedID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	// A blob whose removal failed after an aborted save with the same id.
	_, _, err := s.blobs.Write(1, []profiler.Entry{{Identifier: "aborted", ParentIndex: profiler.RootIndex}})
	require.NoError(t, err)

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	id, err := s.SaveProfileInfo(txCtx, &profiler.Snapshot{Identifier: "reused", ExecutionContext: profiler.ExecutionContext{Method: "CLI"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
	require.NoError(t, s.SaveProfileEntries(txCtx, id, nil))
	require.NoError(t, s.CommitTransaction(txCtx))

	entries, err := s.Entries(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProfilesAndMetrics_Listing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, upsert.ModeAuto)

	saveRun(t, s, "fast", 100*time.Millisecond)
	saveRun(t, s, "slow", 2*time.Second)
	saveRun(t, s, "fast", 300*time.Millisecond)

	all, err := s.Profiles(ctx, ProfileFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	fast, err := s.Profiles(ctx, ProfileFilter{Identifier: "fast"})
	require.NoError(t, err)
	assert.Len(t, fast, 2)

	slowest, err := s.Profiles(ctx, ProfileFilter{Slowest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, slowest, 1)
	assert.Equal(t, "slow", slowest[0].Identifier)

	long, err := s.Profiles(ctx, ProfileFilter{MinDuration: 0.2})
	require.NoError(t, err)
	assert.Len(t, long, 2)

	byCount, err := s.Metrics(ctx, MetricFilter{Type: profiler.MetricTypeProfile, Sort: SortCount})
	require.NoError(t, err)
	require.Len(t, byCount, 2)
	assert.Equal(t, "fast", byCount[0].Identifier)

	byAvg, err := s.Metrics(ctx, MetricFilter{Type: profiler.MetricTypeProfile, Sort: SortAvg, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byAvg, 1)
	assert.Equal(t, "slow", byAvg[0].Identifier)

	_, err = s.Metrics(ctx, MetricFilter{Sort: "median"})
	assert.Error(t, err)

	_, err = s.Metric(ctx, "missing", profiler.MetricTypeProfile, "")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Profiles)
	assert.Equal(t, int64(4), stats.Metrics)
	assert.Positive(t, stats.DatabaseBytes)
	assert.Positive(t, stats.BlobBytes)
}

func TestUpsertPaths_ProduceIdenticalTables(t *testing.T) {
	dumps := map[upsert.Mode]map[string][]string{}
	for _, mode := range modes {
		s := newTestStore(t, mode)
		saveRun(t, s, "checkout", time.Second)
		saveRun(t, s, "checkout", 3*time.Second)
		saveRun(t, s, "search", 2*time.Second)
		dumps[mode] = dumpTables(t, s.DB())
	}
	assert.Equal(t, dumps[upsert.ModeNative], dumps[upsert.ModeEmulated])
}

func TestDuckDB_CheckoutAggregate(t *testing.T) {
	s := openStore(t, DriverDuckDB, filepath.Join(t.TempDir(), "profiles.duckdb"), upsert.ModeAuto)
	assert.True(t, s.Caps().Returning)

	id1 := saveRun(t, s, "checkout", time.Second)
	id2 := saveRun(t, s, "checkout", 3*time.Second)
	assert.Greater(t, id2, id1)

	m, err := s.Metric(context.Background(), "checkout", profiler.MetricTypeProfile, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Count)
	assert.InDelta(t, 2.0, m.AvgDuration, 1e-9)
	assert.InDelta(t, 1.0, m.MinDuration, 1e-9)
	assert.InDelta(t, 3.0, m.MaxDuration, 1e-9)
	assert.InDelta(t, 3.0, m.LastDuration, 1e-9)

	rec, err := s.Profile(context.Background(), id2)
	require.NoError(t, err)
	assert.Equal(t, "checkout", rec.Identifier)
	assert.Equal(t, "/checkout", rec.URL)
	require.Len(t, rec.Entries, 1)
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+upsert.Quote(table)).Scan(&n))
	return n
}

func dictionaryCount(t *testing.T, db *sql.DB, cat Category, id int64) int64 {
	t.Helper()
	var n int64
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", upsert.Quote("count"), upsert.Quote(cat.Table()), upsert.Quote(cat.IDColumn()))
	require.NoError(t, db.QueryRow(query, id).Scan(&n))
	return n
}

// dumpTables renders every row of every table as a sorted list of strings.
func dumpTables(t *testing.T, db *sql.DB) map[string][]string {
	t.Helper()
	tables := []string{tableProfile, tableMetrics}
	for _, c := range Categories() {
		tables = append(tables, c.Table())
		if c.Linked {
			tables = append(tables, c.LinkTable())
		}
	}

	out := make(map[string][]string, len(tables))
	for _, table := range tables {
		rows, err := db.Query("SELECT * FROM " + upsert.Quote(table))
		require.NoError(t, err)
		cols, err := rows.Columns()
		require.NoError(t, err)

		var lines []string
		for rows.Next() {
			vals := make([]any, len(cols))
			dest := make([]any, len(cols))
			for i := range vals {
				dest[i] = &vals[i]
			}
			require.NoError(t, rows.Scan(dest...))
			for i, v := range vals {
				if b, ok := v.([]byte); ok {
					vals[i] = string(b)
				}
			}
			lines = append(lines, fmt.Sprint(vals...))
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
		sort.Strings(lines)
		out[table] = lines
	}
	return out
}
