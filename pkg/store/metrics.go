package store

import (
	"context"

	"github.com/coral-mesh/spanprof/internal/upsert"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// SaveProfileMetric folds update into its (identifier, type, group) row of
// profile_metrics. The first update creates the row; later ones add to the
// count, weight the averages by count, keep the strictly smaller minimum and
// strictly larger maximum along with the profile that produced them, and
// overwrite the last-seen values.
func (s *Store) SaveProfileMetric(ctx context.Context, u profiler.MetricUpdate) error {
	if err := validateMetric(u); err != nil {
		return err
	}
	return s.querier(ctx, func(q upsert.Querier) error {
		if _, err := s.exec.Exec(ctx, q, metricStatement(u, s.dialect.maxParams)); err != nil {
			return storageErr("save profile metric", err)
		}
		s.metrics.IncMetricUpsert(string(u.Type))
		return nil
	})
}

func validateMetric(u profiler.MetricUpdate) error {
	switch {
	case u.Identifier == "":
		return &profiler.ValidationError{Field: "metric.identifier", Message: "must not be empty"}
	case u.Type != profiler.MetricTypeProfile && u.Type != profiler.MetricTypeEntry:
		return &profiler.ValidationError{Field: "metric.type", Message: "must be profile or entry, got " + string(u.Type)}
	case u.Count < 1:
		return &profiler.ValidationError{Field: "metric.count", Message: "must be at least 1"}
	}
	return nil
}

func metricStatement(u profiler.MetricUpdate, maxParams int) upsert.Statement {
	col, ex := upsert.Col, upsert.Excluded

	weighted := func(c string) upsert.Expr {
		return upsert.Div(
			upsert.Add(upsert.Mul(col(c), col("count")), upsert.Mul(ex(c), ex("count"))),
			upsert.Add(col("count"), ex("count")),
		)
	}
	// extreme replaces value and its profile id together when cmp holds.
	extreme := func(cmp func(a, b upsert.Expr) upsert.Expr, value, ref string) []upsert.Assignment {
		wins := cmp(ex(value), col(value))
		return []upsert.Assignment{
			upsert.Set(ref, upsert.When(wins, ex(ref), col(ref))),
			upsert.Set(value, upsert.When(wins, ex(value), col(value))),
		}
	}

	update := []upsert.Assignment{
		upsert.Set("count", upsert.Add(col("count"), ex("count"))),
		upsert.Set("avg_duration", weighted("avg_duration")),
		upsert.Set("avg_memory_peak", weighted("avg_memory_peak")),
		upsert.Set("last_profile_id", ex("last_profile_id")),
		upsert.Set("last_duration", ex("last_duration")),
		upsert.Set("last_memory_peak", ex("last_memory_peak")),
	}
	update = append(update, extreme(upsert.Lt, "min_duration", "min_duration_profile_id")...)
	update = append(update, extreme(upsert.Lt, "min_memory_peak", "min_memory_peak_profile_id")...)
	update = append(update, extreme(upsert.Gt, "max_duration", "max_duration_profile_id")...)
	update = append(update, extreme(upsert.Gt, "max_memory_peak", "max_memory_peak_profile_id")...)

	return upsert.Statement{
		Table:   tableMetrics,
		Columns: metricColumns,
		Rows: [][]any{{
			u.Identifier, string(u.Type), u.Group, u.Count,
			u.Duration, u.MemoryPeak,
			u.ProfileID, u.LastDuration, u.LastMemoryPeak,
			u.ProfileID, u.MinDuration,
			u.ProfileID, u.MinMemoryPeak,
			u.ProfileID, u.MaxDuration,
			u.ProfileID, u.MaxMemoryPeak,
		}},
		ConflictColumns: metricKey,
		Update:          update,
		MaxParams:       maxParams,
	}
}
