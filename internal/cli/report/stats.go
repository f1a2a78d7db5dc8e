package report

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd(g *helpers.Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store size and row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			st, err := sess.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if format == string(helpers.FormatJSON) {
				f, _ := helpers.NewFormatter(helpers.FormatJSON)
				return f.Format(st, cmd.OutOrStdout())
			}
			return writeStats(cmd.OutOrStdout(), sess.Store.Path(), st)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(helpers.FormatTable), "Output format (table, json)")
	return cmd
}

func writeStats(w io.Writer, path string, st *store.Stats) error {
	_, err := fmt.Fprintf(w, `Database:   %s (%s, %s upserts)
Size:       %s database, %s span blobs
Profiles:   %d
Metrics:    %d
`,
		dash(path), st.Driver, st.UpsertPath,
		helpers.FormatBytes(st.DatabaseBytes), helpers.FormatBytes(st.BlobBytes),
		st.Profiles, st.Metrics)
	return err
}
