package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// profileColumns is the insert column order of the profile table.
var profileColumns = []string{
	"identifier_id", "group_id", "start", "duration", "method_id", "url_id",
	"memory_peak", "status", "ip_id", "referer_id", "user_agent_id",
	"raw_body_id", "entries_count", "error_count",
}

// SaveProfileInfo writes the profile row and its association rows and
// returns the new profile id.
func (s *Store) SaveProfileInfo(ctx context.Context, snap *profiler.Snapshot) (int64, error) {
	if snap == nil {
		return 0, &profiler.ValidationError{Field: "snapshot", Message: "must not be nil"}
	}
	var id int64
	err := s.querier(ctx, func(q upsert.Querier) error {
		var err error
		id, err = s.saveProfile(ctx, q, snap)
		return err
	})
	return id, err
}

func (s *Store) saveProfile(ctx context.Context, q upsert.Querier, snap *profiler.Snapshot) (int64, error) {
	required := func(cat Category, v string) (any, error) {
		return s.scalar(ctx, q, cat, v)
	}
	optional := func(cat Category, v string) (any, error) {
		if v == "" {
			return nil, nil
		}
		return s.scalar(ctx, q, cat, v)
	}

	identifierID, err := required(CategoryIdentifier, snap.Identifier)
	if err != nil {
		return 0, err
	}
	groupID, err := optional(CategoryGroup, snap.Group)
	if err != nil {
		return 0, err
	}
	methodID, err := required(CategoryMethod, snap.Method)
	if err != nil {
		return 0, err
	}
	urlID, err := required(CategoryURL, snap.URL)
	if err != nil {
		return 0, err
	}
	ipID, err := optional(CategoryIP, snap.IP)
	if err != nil {
		return 0, err
	}
	refererID, err := optional(CategoryReferer, snap.Referer)
	if err != nil {
		return 0, err
	}
	userAgentID, err := optional(CategoryUserAgent, snap.UserAgent)
	if err != nil {
		return 0, err
	}
	rawBodyID, err := optional(CategoryRawBody, snap.RawBody)
	if err != nil {
		return 0, err
	}

	var status any
	if snap.Status > 0 {
		status = int64(snap.Status)
	}

	id, err := s.insertProfile(ctx, q, []any{
		identifierID, groupID, snap.Start, snap.Duration, methodID, urlID,
		snap.MemoryPeak, status, ipID, refererID, userAgentID,
		rawBodyID, int64(snap.EntriesCount), int64(len(snap.Errors)),
	})
	if err != nil {
		return 0, err
	}

	for _, c := range collections(snap) {
		if err := s.link(ctx, q, id, c); err != nil {
			return 0, err
		}
	}

	s.metrics.IncProfiles()
	return id, nil
}

func (s *Store) scalar(ctx context.Context, q upsert.Querier, cat Category, v string) (any, error) {
	ids, err := s.internalize(ctx, q, cat, []Key{{v}})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

// insertProfile appends the profile row and returns its generated id.
func (s *Store) insertProfile(ctx context.Context, q upsert.Querier, values []any) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		upsert.Quote(tableProfile), quoteList(profileColumns), placeholders)

	if s.caps.Returning {
		query += " RETURNING " + upsert.Quote("profile_id")
		s.debugQuery("Insert profile", query, values)
		rows, err := q.QueryContext(ctx, query, values...)
		if err != nil {
			return 0, storageErr("insert profile", err)
		}
		defer func() { _ = rows.Close() }()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, storageErr("insert profile", err)
			}
			return 0, storageErr("insert profile", fmt.Errorf("no profile id returned"))
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, storageErr("insert profile", err)
		}
		return id, nil
	}

	s.debugQuery("Insert profile", query, values)
	res, err := q.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, storageErr("insert profile", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert profile", err)
	}
	return id, nil
}

// collection is one repeated snapshot field bound for an association table.
type collection struct {
	cat  Category
	keys []Key
	// positions holds the span index per key on positioned categories.
	positions []int
}

// collections flattens the repeated snapshot fields. Map fields are sorted by
// name so the same snapshot always produces the same statements.
func collections(snap *profiler.Snapshot) []collection {
	var out []collection
	add := func(c collection) {
		if len(c.keys) > 0 {
			out = append(out, c)
		}
	}

	add(namedStrings(CategoryHeader, snap.Headers))
	add(namedValues(CategoryQueryField, snap.Query))
	add(namedValues(CategoryBodyField, snap.Body))
	add(namedStrings(CategoryCookie, snap.Cookies))

	files := collection{cat: CategoryFile}
	for _, f := range snap.Files {
		files.keys = append(files.keys, Key{f.Name, f.Type, f.Size, int64(f.Error)})
	}
	add(files)

	add(namedStrings(CategoryServer, snap.Server))
	add(values(CategoryIncFile, snap.IncludedModules))
	add(values(CategoryExtension, snap.Extensions))

	errs := collection{cat: CategoryError}
	for _, e := range snap.Errors {
		errs.keys = append(errs.keys, Key{int64(e.Severity), e.Message, e.File, int64(e.Line)})
		errs.positions = append(errs.positions, e.ParentIndex)
	}
	add(errs)

	extras := collection{cat: CategoryExtra}
	for _, e := range snap.Extras {
		extras.keys = append(extras.keys, Key{encodeJSON(e.Value)})
		extras.positions = append(extras.positions, e.ParentIndex)
	}
	add(extras)

	return out
}

func namedStrings(cat Category, m map[string]string) collection {
	c := collection{cat: cat}
	for _, name := range sortedKeys(m) {
		c.keys = append(c.keys, Key{name, m[name]})
	}
	return c
}

func namedValues(cat Category, m map[string]any) collection {
	c := collection{cat: cat}
	for _, name := range sortedKeys(m) {
		c.keys = append(c.keys, Key{name, encodeValue(m[name])})
	}
	return c
}

func values(cat Category, vs []string) collection {
	c := collection{cat: cat}
	for _, v := range vs {
		c.keys = append(c.keys, Key{v})
	}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// link internalizes the collection and writes its association rows. Rows
// repeating the same (profile, value[, span]) collapse into one.
func (s *Store) link(ctx context.Context, q upsert.Querier, profileID int64, c collection) error {
	ids, err := s.internalize(ctx, q, c.cat, c.keys)
	if err != nil {
		return err
	}

	columns := []string{"profile_id", c.cat.IDColumn()}
	if c.cat.Positioned {
		columns = append(columns, positionColumn)
	}
	rows := make([][]any, len(ids))
	for i, id := range ids {
		row := []any{profileID, id}
		if c.cat.Positioned {
			row = append(row, int64(c.positions[i]))
		}
		rows[i] = row
	}

	if _, err := s.exec.Exec(ctx, q, upsert.Statement{
		Table:           c.cat.LinkTable(),
		Columns:         columns,
		Rows:            rows,
		ConflictColumns: columns,
		MaxParams:       s.dialect.maxParams,
	}); err != nil {
		return storageErr("link "+c.cat.Name, err)
	}
	return nil
}
