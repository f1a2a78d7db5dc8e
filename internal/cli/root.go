package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/bench"
	"github.com/coral-mesh/spanprof/internal/cli/export"
	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/internal/cli/report"
	"github.com/coral-mesh/spanprof/internal/cli/run"
	"github.com/coral-mesh/spanprof/pkg/version"
)

// NewRootCmd builds the spanprof command tree.
func NewRootCmd() *cobra.Command {
	g := &helpers.Globals{}

	root := &cobra.Command{
		Use:   "spanprof",
		Short: "Span profiler with a relational profile store",
		Long: `spanprof records nested timing and memory spans of requests and
command runs, stores them in SQLite or DuckDB and keeps running aggregates
per identifier.

Configuration is layered: built-in defaults, then ~/.spanprof/config.yaml
(or --config / $SPANPROF_CONFIG), then SPANPROF_* environment variables,
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.AddFlags(root.PersistentFlags())

	root.AddCommand(report.NewTopCmd(g))
	root.AddCommand(report.NewListCmd(g))
	root.AddCommand(report.NewShowCmd(g))
	root.AddCommand(report.NewStatsCmd(g))
	root.AddCommand(export.NewExportCmd(g))
	root.AddCommand(run.NewRunCmd(g))
	root.AddCommand(bench.NewBenchCmd(g))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if format == string(helpers.FormatJSON) {
				f, _ := helpers.NewFormatter(helpers.FormatJSON)
				return f.Format(info, cmd.OutOrStdout())
			}
			cmd.Printf("spanprof version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			cmd.Printf("Platform:   %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(helpers.FormatTable), "Output format (table, json)")
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, stderr func(error)) int {
	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *run.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	stderr(err)
	return 1
}
