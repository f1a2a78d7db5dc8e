// Package export implements the export command.
package export

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	pprofexport "github.com/coral-mesh/spanprof/internal/export"
	"github.com/coral-mesh/spanprof/pkg/store"
)

// NewExportCmd creates the export command.
func NewExportCmd(g *helpers.Globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <profile-id>",
		Short: "Export a profile as a pprof file",
		Long: `Convert a saved profile into a gzipped pprof protobuf.

Each span becomes one sample whose stack is the chain of its parent spans.
Sample values are the span's self time, its memory peak and a call count.

Examples:
  spanprof export 42 -o checkout.pb.gz
  go tool pprof -http :8080 checkout.pb.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid profile id %q", args[0])
			}
			if output == "" {
				output = fmt.Sprintf("profile-%d.pb.gz", id)
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

			prof, err := pprofexport.Pprof(&rec.Snapshot)
			if err != nil {
				return fmt.Errorf("failed to convert profile %d: %w", id, err)
			}
			if err := pprofexport.WriteFile(output, prof); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			sess.Logger.Debug().Int64("profile_id", id).Int("samples", len(prof.Sample)).Msg("Profile exported")
			cmd.Printf("Wrote %d spans of profile %d to %s\n", len(prof.Sample), id, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default profile-<id>.pb.gz)")
	return cmd
}
