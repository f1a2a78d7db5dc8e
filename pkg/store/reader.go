package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	cleanup "github.com/coral-mesh/spanprof/internal/errors"
	"github.com/coral-mesh/spanprof/internal/safe"
	"github.com/coral-mesh/spanprof/internal/sqlkit"
	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// MetricRow is one aggregate row of profile_metrics.
type MetricRow struct {
	Identifier    string              `json:"identifier"`
	Type          profiler.MetricType `json:"type"`
	Group         string              `json:"group"`
	Count         int64               `json:"count"`
	AvgDuration   float64             `json:"avg_duration"`
	AvgMemoryPeak float64             `json:"avg_memory_peak"`

	LastProfileID  int64   `json:"last_profile_id"`
	LastDuration   float64 `json:"last_duration"`
	LastMemoryPeak int64   `json:"last_memory_peak"`

	MinDurationProfileID   int64   `json:"min_duration_profile_id"`
	MinDuration            float64 `json:"min_duration"`
	MinMemoryPeakProfileID int64   `json:"min_memory_peak_profile_id"`
	MinMemoryPeak          int64   `json:"min_memory_peak"`

	MaxDurationProfileID   int64   `json:"max_duration_profile_id"`
	MaxDuration            float64 `json:"max_duration"`
	MaxMemoryPeakProfileID int64   `json:"max_memory_peak_profile_id"`
	MaxMemoryPeak          int64   `json:"max_memory_peak"`
}

func (m *MetricRow) scanTargets() []any {
	return []any{
		&m.Identifier, &m.Type, &m.Group, &m.Count,
		&m.AvgDuration, &m.AvgMemoryPeak,
		&m.LastProfileID, &m.LastDuration, &m.LastMemoryPeak,
		&m.MinDurationProfileID, &m.MinDuration,
		&m.MinMemoryPeakProfileID, &m.MinMemoryPeak,
		&m.MaxDurationProfileID, &m.MaxDuration,
		&m.MaxMemoryPeakProfileID, &m.MaxMemoryPeak,
	}
}

// MetricSort orders Metrics results, largest first.
type MetricSort string

const (
	SortAvg   MetricSort = "avg"
	SortMax   MetricSort = "max"
	SortCount MetricSort = "count"
)

// MetricFilter narrows Metrics. Zero fields match everything.
type MetricFilter struct {
	Identifier string
	Type       profiler.MetricType
	Group      string
	Sort       MetricSort
	Limit      int
}

// Metric returns the aggregate row for one key.
func (s *Store) Metric(ctx context.Context, identifier string, typ profiler.MetricType, group string) (*MetricRow, error) {
	q := upsert.Quote
	query, args := sqlkit.NewQueryBuilder(q(tableMetrics)).
		Select(quotedColumns(metricColumns)...).
		Where(q("identifier")+" = ?", identifier).
		Where(q("type")+" = ?", string(typ)).
		Where(q("group")+" = ?", group).
		MustBuild()

	var m MetricRow
	err := s.db.QueryRowContext(ctx, query, args...).Scan(m.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metric %s/%s/%s: %w", typ, group, identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metric: %w", err)
	}
	return &m, nil
}

// Metrics lists aggregate rows matching f.
func (s *Store) Metrics(ctx context.Context, f MetricFilter) ([]MetricRow, error) {
	q := upsert.Quote
	b := sqlkit.NewQueryBuilder(q(tableMetrics)).
		Select(quotedColumns(metricColumns)...).
		Eq(q("identifier"), f.Identifier).
		Eq(q("type"), string(f.Type)).
		Eq(q("group"), f.Group)

	switch f.Sort {
	case SortMax:
		b.OrderBy("-"+q("max_duration"), q("identifier"))
	case SortCount:
		b.OrderBy("-"+q("count"), q("identifier"))
	case SortAvg, "":
		b.OrderBy("-"+q("avg_duration"), q("identifier"))
	default:
		return nil, fmt.Errorf("unknown metric sort %q", f.Sort)
	}
	query, args := b.Limit(f.Limit).MustBuild()
	s.debugQuery("Query metrics", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer cleanup.DeferClose(s.logger, rows, "failed to close metric rows")

	var out []MetricRow
	for rows.Next() {
		var m MetricRow
		if err := rows.Scan(m.scanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProfileRecord is a stored profile read back into snapshot form.
type ProfileRecord struct {
	ID         int64 `json:"id"`
	ErrorCount int   `json:"error_count"`
	profiler.Snapshot
}

// ProfileFilter narrows Profiles. Zero fields match everything.
type ProfileFilter struct {
	Identifier  string
	Group       string
	Method      string
	From, To    float64
	MinDuration float64
	// Slowest sorts by duration instead of newest first.
	Slowest bool
	Limit   int
	Offset  int
}

// scalarJoins maps each dictionary-backed profile column to its alias.
var scalarJoins = []struct {
	cat   Category
	alias string
}{
	{CategoryIdentifier, "di"},
	{CategoryGroup, "dg"},
	{CategoryMethod, "dm"},
	{CategoryURL, "du"},
	{CategoryIP, "dip"},
	{CategoryReferer, "dr"},
	{CategoryUserAgent, "dua"},
	{CategoryRawBody, "drb"},
}

func profileQuery() *sqlkit.Builder {
	q := upsert.Quote
	b := sqlkit.NewQueryBuilder(q(tableProfile)+" p").Select(
		"p."+q("profile_id"), "p."+q("start"), "p."+q("duration"),
		"p."+q("memory_peak"), "p."+q("status"),
		"p."+q("entries_count"), "p."+q("error_count"),
	)
	for _, j := range scalarJoins {
		id := q(j.cat.IDColumn())
		b.LeftJoin(q(j.cat.Table())+" "+j.alias, j.alias+"."+id+" = p."+id)
		b.Select(j.alias + "." + q("value"))
	}
	return b
}

func scanProfile(row interface{ Scan(...any) error }) (*ProfileRecord, error) {
	var (
		r             ProfileRecord
		status        sql.NullInt64
		entries, errs int64
		scalars       = make([]sql.NullString, len(scalarJoins))
	)
	dest := []any{&r.ID, &r.Start, &r.Duration, &r.MemoryPeak, &status, &entries, &errs}
	for i := range scalars {
		dest = append(dest, &scalars[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	// Same order as scalarJoins.
	for i, dst := range []*string{
		&r.Identifier, &r.Group, &r.Method, &r.URL,
		&r.IP, &r.Referer, &r.UserAgent, &r.RawBody,
	} {
		*dst = scalars[i].String
	}
	r.Status = int(status.Int64)
	r.EntriesCount = int(entries)
	r.ErrorCount = int(errs)
	return &r, nil
}

// Profile reads profile id with every collection and its span list.
// Errors and extras come back ordered by span, each value once per span.
func (s *Store) Profile(ctx context.Context, id int64) (*ProfileRecord, error) {
	query, args := profileQuery().Where("p."+upsert.Quote("profile_id")+" = ?", id).MustBuild()
	r, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %d: %w", id, err)
	}

	for _, cat := range Categories() {
		if !cat.Linked {
			continue
		}
		if err := s.loadCollection(ctx, r, cat); err != nil {
			return nil, err
		}
	}

	r.Entries, err = s.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Profiles lists profile rows matching f, newest first. Only the scalar
// fields are filled in.
func (s *Store) Profiles(ctx context.Context, f ProfileFilter) ([]ProfileRecord, error) {
	q := upsert.Quote
	b := profileQuery().
		Eq("di."+q("value"), f.Identifier).
		Eq("dg."+q("value"), f.Group).
		Eq("dm."+q("value"), f.Method)
	if f.From > 0 {
		b.Gte("p."+q("start"), f.From)
	}
	if f.To > 0 {
		b.Lte("p."+q("start"), f.To)
	}
	if f.MinDuration > 0 {
		b.Gte("p."+q("duration"), f.MinDuration)
	}
	if f.Slowest {
		b.OrderBy("-p."+q("duration"), "p."+q("profile_id"))
	} else {
		b.OrderBy("-p."+q("start"), "-p."+q("profile_id"))
	}
	query, args := b.Limit(f.Limit).Offset(f.Offset).MustBuild()
	s.debugQuery("Query profiles", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer cleanup.DeferClose(s.logger, rows, "failed to close profile rows")

	var out []ProfileRecord
	for rows.Next() {
		r, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) profileExists(ctx context.Context, id int64) (bool, error) {
	q := upsert.Quote
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", q(tableProfile), q("profile_id")), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up profile %d: %w", id, err)
	}
	return true, nil
}

// loadCollection reads one association table of r back into its snapshot
// field.
func (s *Store) loadCollection(ctx context.Context, r *ProfileRecord, cat Category) error {
	q := upsert.Quote
	id := q(cat.IDColumn())
	cols := make([]string, 0, len(cat.Columns)+1)
	for _, c := range cat.Columns {
		cols = append(cols, "d."+q(c))
	}
	order := []string{"d." + id}
	if cat.Positioned {
		cols = append(cols, "l."+q(positionColumn))
		order = []string{"l." + q(positionColumn), "d." + id}
	}

	query, args := sqlkit.NewQueryBuilder(q(cat.LinkTable())+" l").
		Select(cols...).
		LeftJoin(q(cat.Table())+" d", "d."+id+" = l."+id).
		Where("l."+q("profile_id")+" = ?", r.ID).
		OrderBy(order...).
		MustBuild()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", cat.LinkTable(), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := scanCollectionRow(rows, r, cat); err != nil {
			return fmt.Errorf("failed to scan %s: %w", cat.LinkTable(), err)
		}
	}
	return rows.Err()
}

func scanCollectionRow(rows *sql.Rows, r *ProfileRecord, cat Category) error {
	var (
		name, value, typ, message, file string
		size, code, severity, line, pos int64
	)
	switch cat.Name {
	case CategoryHeader.Name, CategoryCookie.Name, CategoryServer.Name:
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		m := stringMap(r, cat)
		(*m)[name] = value
	case CategoryQueryField.Name, CategoryBodyField.Name:
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		m := &r.Query
		if cat.Name == CategoryBodyField.Name {
			m = &r.Body
		}
		if *m == nil {
			*m = map[string]any{}
		}
		(*m)[name] = value
	case CategoryFile.Name:
		if err := rows.Scan(&name, &typ, &size, &code); err != nil {
			return err
		}
		r.Files = append(r.Files, profiler.UploadedFile{Name: name, Type: typ, Size: size, Error: int(code)})
	case CategoryIncFile.Name:
		if err := rows.Scan(&value); err != nil {
			return err
		}
		r.IncludedModules = append(r.IncludedModules, value)
	case CategoryExtension.Name:
		if err := rows.Scan(&value); err != nil {
			return err
		}
		r.Extensions = append(r.Extensions, value)
	case CategoryError.Name:
		if err := rows.Scan(&severity, &message, &file, &line, &pos); err != nil {
			return err
		}
		r.Errors = append(r.Errors, profiler.ErrorRecord{
			ParentIndex: int(pos), Severity: int(severity), Message: message, File: file, Line: int(line),
		})
	case CategoryExtra.Name:
		if err := rows.Scan(&value, &pos); err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		r.Extras = append(r.Extras, profiler.ExtraRecord{ParentIndex: int(pos), Value: v})
	default:
		return fmt.Errorf("unknown category %q", cat.Name)
	}
	return nil
}

func stringMap(r *ProfileRecord, cat Category) *map[string]string {
	m := &r.Headers
	switch cat.Name {
	case CategoryCookie.Name:
		m = &r.Cookies
	case CategoryServer.Name:
		m = &r.Server
	}
	if *m == nil {
		*m = map[string]string{}
	}
	return m
}

// Stats summarizes the store's footprint.
type Stats struct {
	Driver        string `json:"driver"`
	UpsertPath    string `json:"upsert_path"`
	DatabaseBytes int64  `json:"database_bytes"`
	BlobBytes     int64  `json:"blob_bytes"`
	Profiles      int64  `json:"profiles"`
	Metrics       int64  `json:"metrics"`
}

// Stats reports database and blob sizes and row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Driver: string(s.dialect.engine), UpsertPath: s.exec.Name()}

	size, err := s.databaseSize(ctx)
	if err != nil {
		return nil, err
	}
	st.DatabaseBytes = size

	if st.BlobBytes, err = s.blobs.Size(); err != nil {
		return nil, fmt.Errorf("failed to size span blobs: %w", err)
	}

	for table, dst := range map[string]*int64{tableProfile: &st.Profiles, tableMetrics: &st.Metrics} {
		query := "SELECT COUNT(*) FROM " + upsert.Quote(table)
		if err := s.db.QueryRowContext(ctx, query).Scan(dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}
	return st, nil
}

// databaseSize prefers the file size and falls back to the engine's own
// accounting for host-managed connections.
func (s *Store) databaseSize(ctx context.Context) (int64, error) {
	if s.path != "" {
		if size, err := safe.FileSize(s.path); err == nil {
			return size, nil
		}
	}
	switch s.dialect.engine {
	case upsert.EngineDuckDB:
		var size int64
		err := s.db.QueryRowContext(ctx,
			"SELECT total_blocks * block_size FROM pragma_database_size() LIMIT 1").Scan(&size)
		if err != nil {
			return 0, fmt.Errorf("failed to read database size: %w", err)
		}
		return size, nil
	default:
		var pages, pageSize int64
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
			return 0, fmt.Errorf("failed to read page count: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return 0, fmt.Errorf("failed to read page size: %w", err)
		}
		return pages * pageSize, nil
	}
}

func quotedColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = upsert.Quote(c)
	}
	return out
}
