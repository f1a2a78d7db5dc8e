package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/coral-mesh/spanprof/internal/blob"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// SaveProfileEntries writes the span list of profile id as a blob. Empty
// lists are not written, and clear any blob left over for a reused id. A
// blob written inside a transaction is removed again if that transaction
// does not commit.
func (s *Store) SaveProfileEntries(ctx context.Context, id int64, entries []profiler.Entry) error {
	if err := ctx.Err(); err != nil {
		return storageErr("save profile entries", err)
	}
	if len(entries) == 0 {
		if err := s.blobs.RemoveID(id); err != nil {
			return storageErr("save profile entries", err)
		}
		return nil
	}

	_, n, err := s.blobs.Write(id, entries)
	if err != nil {
		return storageErr("save profile entries", err)
	}
	s.track(ctx, id)
	s.metrics.ObserveBlob(n)
	return nil
}

// Entries reads back the span list of profile id. A profile saved without
// spans yields an empty list; an unknown id yields ErrNotFound.
func (s *Store) Entries(ctx context.Context, id int64) ([]profiler.Entry, error) {
	var entries []profiler.Entry
	err := s.blobs.Read(id, &entries)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("failed to read entries of profile %d: %w", id, err)
	}

	exists, err := s.profileExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	return []profiler.Entry{}, nil
}
