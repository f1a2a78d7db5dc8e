// Package report implements the read-side commands: top, list, show and
// stats.
package report

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/internal/constants"
	"github.com/coral-mesh/spanprof/pkg/profiler"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// metricView is the tabular form of an aggregate row. Durations are seconds.
type metricView struct {
	Identifier string `header:"IDENTIFIER"`
	Type       string `header:"TYPE"`
	Group      string `header:"GROUP"`
	Count      int64  `header:"COUNT"`
	Avg        string `header:"AVG"`
	Min        string `header:"MIN"`
	Max        string `header:"MAX"`
	Last       string `header:"LAST"`
	AvgMemory  string `header:"AVG MEM"`
	MaxMemory  string `header:"MAX MEM"`
	Slowest    int64  `header:"SLOWEST"`
}

// metricCSV keeps raw numbers for machine consumption.
type metricCSV struct {
	Identifier    string  `header:"identifier"`
	Type          string  `header:"type"`
	Group         string  `header:"group"`
	Count         int64   `header:"count"`
	AvgDuration   float64 `header:"avg_duration"`
	MinDuration   float64 `header:"min_duration"`
	MaxDuration   float64 `header:"max_duration"`
	LastDuration  float64 `header:"last_duration"`
	AvgMemoryPeak float64 `header:"avg_memory_peak"`
	MaxMemoryPeak int64   `header:"max_memory_peak"`
	MaxProfileID  int64   `header:"max_duration_profile_id"`
}

var (
	metricTypes = []string{string(profiler.MetricTypeProfile), string(profiler.MetricTypeEntry)}
	metricSorts = []string{string(store.SortAvg), string(store.SortMax), string(store.SortCount)}
)

// NewTopCmd creates the top command.
func NewTopCmd(g *helpers.Globals) *cobra.Command {
	var (
		typ    string
		sortBy string
		group  string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the heaviest aggregate metrics",
		Long: `List aggregate metrics, largest first.

Every saved profile feeds one "profile" row keyed by its identifier and
group, and one "entry" row per distinct span identifier and group.

Examples:
  # Slowest endpoints on average
  spanprof top

  # Span identifiers that peaked the highest
  spanprof top --type entry --sort max

  # Most frequent profiles as CSV
  spanprof top --sort count --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.AllFormats); err != nil {
				return err
			}
			if err := helpers.ValidateChoice("type", typ, metricTypes); err != nil {
				return err
			}
			if err := helpers.ValidateChoice("sort", sortBy, metricSorts); err != nil {
				return err
			}

			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			rows, err := sess.Store.Metrics(cmd.Context(), store.MetricFilter{
				Type:  profiler.MetricType(typ),
				Group: group,
				Sort:  store.MetricSort(sortBy),
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return writeMetrics(cmd.OutOrStdout(), helpers.OutputFormat(format), rows)
		},
	}

	helpers.AddChoiceFlag(cmd, &typ, "type", "", string(profiler.MetricTypeProfile), "Metric type", metricTypes)
	helpers.AddChoiceFlag(cmd, &sortBy, "sort", "", string(store.SortAvg), "Sort key", metricSorts)
	cmd.Flags().StringVar(&group, "group", "", "Only rows of this group")
	helpers.AddLimitFlag(cmd, &limit, constants.DefaultTopLimit)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)

	return cmd
}

func writeMetrics(w io.Writer, format helpers.OutputFormat, rows []store.MetricRow) error {
	f, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}

	switch format {
	case helpers.FormatJSON:
		if rows == nil {
			rows = []store.MetricRow{}
		}
		return f.Format(rows, w)
	case helpers.FormatCSV:
		out := make([]metricCSV, len(rows))
		for i, r := range rows {
			out[i] = metricCSV{
				Identifier:    r.Identifier,
				Type:          string(r.Type),
				Group:         r.Group,
				Count:         r.Count,
				AvgDuration:   r.AvgDuration,
				MinDuration:   r.MinDuration,
				MaxDuration:   r.MaxDuration,
				LastDuration:  r.LastDuration,
				AvgMemoryPeak: r.AvgMemoryPeak,
				MaxMemoryPeak: r.MaxMemoryPeak,
				MaxProfileID:  r.MaxDurationProfileID,
			}
		}
		return f.Format(out, w)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No metrics recorded.")
		return err
	}
	out := make([]metricView, len(rows))
	for i, r := range rows {
		out[i] = metricView{
			Identifier: r.Identifier,
			Type:       string(r.Type),
			Group:      dash(r.Group),
			Count:      r.Count,
			Avg:        helpers.FormatDuration(seconds(r.AvgDuration)),
			Min:        helpers.FormatDuration(seconds(r.MinDuration)),
			Max:        helpers.FormatDuration(seconds(r.MaxDuration)),
			Last:       helpers.FormatDuration(seconds(r.LastDuration)),
			AvgMemory:  helpers.FormatBytes(int64(r.AvgMemoryPeak)),
			MaxMemory:  helpers.FormatBytes(r.MaxMemoryPeak),
			Slowest:    r.MaxDurationProfileID,
		}
	}
	return f.Format(out, w)
}
