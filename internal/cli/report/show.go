package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/pkg/profiler"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// NewShowCmd creates the show command.
func NewShowCmd(g *helpers.Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <profile-id>",
		Short: "Show one profile and its span tree",
		Long: `Show the fields of a saved profile followed by its span tree.

Spans running over twice the average of their identifier are flagged.

Examples:
  spanprof show 42
  spanprof show 42 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProfileID(args[0])
			if err != nil {
				return err
			}
			if format != string(helpers.FormatTable) && format != string(helpers.FormatJSON) {
				return fmt.Errorf("unsupported format %q, must be one of: table, json", format)
			}

			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			rec, err := sess.Store.Profile(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("profile %d not found", id)
			}
			if err != nil {
				return err
			}

			if format == string(helpers.FormatJSON) {
				f, _ := helpers.NewFormatter(helpers.FormatJSON)
				return f.Format(rec, cmd.OutOrStdout())
			}

			slow, err := entryAverages(cmd, sess.Store, rec)
			if err != nil {
				return err
			}
			return writeProfile(cmd.OutOrStdout(), rec, slow)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(helpers.FormatTable), "Output format (table, json)")
	return cmd
}

func parseProfileID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid profile id %q", s)
	}
	return id, nil
}

// entryAverages builds the slow-span predicate from the entry aggregates of
// the identifiers present in rec.
func entryAverages(cmd *cobra.Command, s *store.Store, rec *store.ProfileRecord) (helpers.SlowFunc, error) {
	type key struct{ identifier, group string }
	avg := map[key]float64{}
	for _, e := range rec.Entries {
		k := key{e.Identifier, e.Group}
		if _, done := avg[k]; done {
			continue
		}
		m, err := s.Metric(cmd.Context(), e.Identifier, profiler.MetricTypeEntry, e.Group)
		if errors.Is(err, store.ErrNotFound) {
			avg[k] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		avg[k] = m.AvgDuration
	}
	return func(n *helpers.SpanNode) bool {
		a := avg[key{n.Entry.Identifier, n.Entry.Group}]
		return a > 0 && n.Entry.Duration > 2*a
	}, nil
}

func writeProfile(w io.Writer, rec *store.ProfileRecord, slow helpers.SlowFunc) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Profile #%d: %s", rec.ID, rec.Identifier)
	if rec.Group != "" {
		fmt.Fprintf(&b, " [%s]", rec.Group)
	}
	b.WriteString("\n")
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %-11s %s\n", name+":", value)
		}
	}
	field("Request", strings.TrimSpace(rec.Method+" "+rec.URL))
	if rec.Status > 0 {
		field("Status", strconv.Itoa(rec.Status))
	}
	field("Started", unixTime(rec.Start).Format(time.RFC3339Nano))
	field("Duration", helpers.FormatDuration(seconds(rec.Duration)))
	field("Memory", helpers.FormatBytes(rec.MemoryPeak))
	field("Client IP", rec.IP)
	field("Referer", rec.Referer)
	field("User-Agent", rec.UserAgent)
	field("Body", truncate(rec.RawBody, 120))
	field("Spans", strconv.Itoa(rec.EntriesCount))

	section(&b, "Headers", rec.Headers)
	section(&b, "Cookies", rec.Cookies)
	section(&b, "Server", rec.Server)
	section(&b, "Query", stringify(rec.Query))
	section(&b, "Body fields", stringify(rec.Body))

	if len(rec.Files) > 0 {
		b.WriteString("\nFiles:\n")
		for _, f := range rec.Files {
			fmt.Fprintf(&b, "  %s (%s, %s, error %d)\n", f.Name, f.Type, helpers.FormatBytes(f.Size), f.Error)
		}
	}

	b.WriteString("\nSpans:\n")
	roots := helpers.BuildSpanTree(rec.Entries)
	b.WriteString(helpers.RenderTree(roots, seconds(rec.Duration), slow))

	if len(rec.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range rec.Errors {
			fmt.Fprintf(&b, "  %s %s (%s:%d)%s\n",
				severityName(e.Severity), e.Message, e.File, e.Line, spanRef(e.ParentIndex))
		}
	}
	if len(rec.Extras) > 0 {
		b.WriteString("\nExtras:\n")
		for _, x := range rec.Extras {
			fmt.Fprintf(&b, "  %v%s\n", x.Value, spanRef(x.ParentIndex))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, truncate(m[k], 120))
	}
}

func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func spanRef(parent int) string {
	if parent == profiler.RootIndex {
		return ""
	}
	return fmt.Sprintf(" in #%d", parent)
}

func severityName(s int) string {
	switch s {
	case profiler.SeverityError:
		return "ERROR"
	case profiler.SeverityWarning:
		return "WARNING"
	case profiler.SeverityNotice:
		return "NOTICE"
	case profiler.SeverityPanic:
		return "PANIC"
	default:
		return "SEVERITY(" + strconv.Itoa(s) + ")"
	}
}
