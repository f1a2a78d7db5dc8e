package report

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/internal/constants"
	"github.com/coral-mesh/spanprof/pkg/store"
)

type profileView struct {
	ID         int64  `header:"ID"`
	Started    string `header:"STARTED"`
	Identifier string `header:"IDENTIFIER"`
	Group      string `header:"GROUP"`
	Request    string `header:"REQUEST"`
	Status     string `header:"STATUS"`
	Duration   string `header:"DURATION"`
	Memory     string `header:"MEMORY"`
	Spans      int    `header:"SPANS"`
	Errors     int    `header:"ERRORS"`
}

type profileCSV struct {
	ID         int64   `header:"profile_id"`
	Start      float64 `header:"start"`
	Identifier string  `header:"identifier"`
	Group      string  `header:"group"`
	Method     string  `header:"method"`
	URL        string  `header:"url"`
	Status     int     `header:"status"`
	Duration   float64 `header:"duration"`
	MemoryPeak int64   `header:"memory_peak"`
	Spans      int     `header:"entries_count"`
	Errors     int     `header:"error_count"`
}

// NewListCmd creates the list command.
func NewListCmd(g *helpers.Globals) *cobra.Command {
	var (
		filter    store.ProfileFilter
		minDur    time.Duration
		timeFlags helpers.TimeFlags
		format    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Long: `List saved profiles, newest first.

Examples:
  # Last 20 profiles
  spanprof list

  # Checkout runs slower than 500ms in the last hour
  spanprof list --identifier checkout --min-duration 500ms --since 1h

  # Slowest profiles of all time
  spanprof list --slowest -n 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.AllFormats); err != nil {
				return err
			}
			tr, err := timeFlags.Parse()
			if err != nil {
				return err
			}
			if timeFlags.Since != "" || timeFlags.From != "" {
				filter.From, filter.To = tr.UnixSeconds()
			}
			filter.MinDuration = minDur.Seconds()

			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			rows, err := sess.Store.Profiles(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeProfiles(cmd.OutOrStdout(), helpers.OutputFormat(format), rows)
		},
	}

	cmd.Flags().StringVar(&filter.Identifier, "identifier", "", "Only profiles with this identifier")
	cmd.Flags().StringVar(&filter.Group, "group", "", "Only profiles of this group")
	cmd.Flags().StringVar(&filter.Method, "method", "", "Only profiles with this method (GET, POST, CLI, ...)")
	cmd.Flags().DurationVar(&minDur, "min-duration", 0, "Only profiles at least this long")
	cmd.Flags().BoolVar(&filter.Slowest, "slowest", false, "Sort by duration instead of start time")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Skip this many rows")
	timeFlags.AddFlags(cmd.Flags())
	helpers.AddLimitFlag(cmd, &filter.Limit, constants.DefaultTopLimit)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)

	return cmd
}

func writeProfiles(w io.Writer, format helpers.OutputFormat, rows []store.ProfileRecord) error {
	f, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}

	switch format {
	case helpers.FormatJSON:
		if rows == nil {
			rows = []store.ProfileRecord{}
		}
		return f.Format(rows, w)
	case helpers.FormatCSV:
		out := make([]profileCSV, len(rows))
		for i, r := range rows {
			out[i] = profileCSV{
				ID:         r.ID,
				Start:      r.Start,
				Identifier: r.Identifier,
				Group:      r.Group,
				Method:     r.Method,
				URL:        r.URL,
				Status:     r.Status,
				Duration:   r.Duration,
				MemoryPeak: r.MemoryPeak,
				Spans:      r.EntriesCount,
				Errors:     r.ErrorCount,
			}
		}
		return f.Format(out, w)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No profiles found.")
		return err
	}
	out := make([]profileView, len(rows))
	for i, r := range rows {
		status := "-"
		if r.Status > 0 {
			status = fmt.Sprint(r.Status)
		}
		out[i] = profileView{
			ID:         r.ID,
			Started:    unixTime(r.Start).Format(time.DateTime),
			Identifier: r.Identifier,
			Group:      dash(r.Group),
			Request:    truncate(r.Method+" "+r.URL, 48),
			Status:     status,
			Duration:   helpers.FormatDuration(seconds(r.Duration)),
			Memory:     helpers.FormatBytes(r.MemoryPeak),
			Spans:      r.EntriesCount,
			Errors:     r.ErrorCount,
		}
	}
	return f.Format(out, w)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
