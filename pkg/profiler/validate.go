package profiler

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// normalize validates the snapshot in place and coerces what can be
// coerced: negative memory readings and status codes become zero, extras
// that cannot be encoded are dropped, empty collections become nil and
// EntriesCount is recomputed.
func normalize(s *Snapshot, logger zerolog.Logger) error {
	if s.Identifier == "" {
		return &ValidationError{Field: "identifier", Message: "must be a non-empty string"}
	}
	if !finite(s.Start) {
		return &ValidationError{Field: "start", Message: "must be a finite number"}
	}
	if !finite(s.Duration) || s.Duration < 0 {
		return &ValidationError{Field: "duration", Message: "must be a finite non-negative number"}
	}
	s.MemoryPeak = max(s.MemoryPeak, 0)
	s.Status = max(s.Status, 0)

	for i := range s.Entries {
		e := &s.Entries[i]
		field := fmt.Sprintf("entries[%d]", i)
		if e.Identifier == "" {
			return &ValidationError{Field: field + ".identifier", Message: "must be a non-empty string"}
		}
		if e.ParentIndex < RootIndex || e.ParentIndex >= i {
			return &ValidationError{Field: field + ".parent_index", Message: fmt.Sprintf("%d does not reference an earlier span", e.ParentIndex)}
		}
		if !finite(e.Start) {
			return &ValidationError{Field: field + ".start", Message: "must be a finite number"}
		}
		if !finite(e.Duration) || e.Duration < 0 {
			return &ValidationError{Field: field + ".duration", Message: "must be a finite non-negative number"}
		}
		e.MemoryPeak = max(e.MemoryPeak, 0)
	}
	s.EntriesCount = len(s.Entries)

	for i, r := range s.Errors {
		if r.ParentIndex < RootIndex || r.ParentIndex >= len(s.Entries) {
			return &ValidationError{Field: fmt.Sprintf("errors[%d].parent_index", i), Message: fmt.Sprintf("%d does not reference a span", r.ParentIndex)}
		}
	}

	kept := s.Extras[:0]
	for i, r := range s.Extras {
		if r.ParentIndex < RootIndex || r.ParentIndex >= len(s.Entries) {
			return &ValidationError{Field: fmt.Sprintf("extras[%d].parent_index", i), Message: fmt.Sprintf("%d does not reference a span", r.ParentIndex)}
		}
		if _, err := json.Marshal(r.Value); err != nil {
			logger.Warn().Err(err).Int("parent_index", r.ParentIndex).Msg("Dropping extra value that cannot be encoded")
			continue
		}
		kept = append(kept, r)
	}
	s.Extras = kept

	s.Entries = nilIfEmpty(s.Entries)
	s.Errors = nilIfEmpty(s.Errors)
	s.Extras = nilIfEmpty(s.Extras)
	s.Files = nilIfEmpty(s.Files)
	s.IncludedModules = nilIfEmpty(s.IncludedModules)
	s.Extensions = nilIfEmpty(s.Extensions)
	s.Headers = nilIfEmptyMap(s.Headers)
	s.Query = nilIfEmptyMap(s.Query)
	s.Body = nilIfEmptyMap(s.Body)
	s.Cookies = nilIfEmptyMap(s.Cookies)
	s.Server = nilIfEmptyMap(s.Server)
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilIfEmptyMap[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return m
}
