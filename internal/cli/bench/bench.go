// Package bench implements the bench command, a synthetic write load for
// measuring save latency against a store.
package bench

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/internal/constants"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// Options shapes the synthetic load.
type Options struct {
	Profiles    int
	Identifiers int
	Fanout      int
	Workers     int
	Seed        uint64
}

// Result summarizes a run.
type Result struct {
	Profiles int
	Spans    int
	Total    time.Duration
	AvgSave  time.Duration
	MaxSave  time.Duration
	P95Save  time.Duration
}

// NewBenchCmd creates the bench command.
func NewBenchCmd(g *helpers.Globals) *cobra.Command {
	opts := Options{
		Profiles:    constants.DefaultBenchProfiles,
		Identifiers: 25,
		Fanout:      100,
		Workers:     1,
	}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Save synthetic profiles and report save latency",
		Long: `Generate and save synthetic profiles.

Profile i is named test-(i mod identifiers), alternates between GET and POST
and repeats an "aaa" span and a "bbb" span with two children
fanout*(i mod 10) times. Span durations come from a seeded synthetic clock,
so the run never sleeps.

Examples:
  spanprof bench --profiles 1000
  spanprof --db /tmp/bench.duckdb bench --profiles 200 --workers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Profiles <= 0 || opts.Identifiers <= 0 || opts.Workers <= 0 || opts.Fanout < 0 {
				return fmt.Errorf("profile, identifier and worker counts must be positive")
			}
			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saving %d profiles (%s, %s upserts)...\n",
				opts.Profiles, sess.Config.Storage.Driver, sess.Store.UpsertPath())

			res, err := Run(cmd.Context(), sess.Store, opts, sess.Logger)
			if err != nil {
				return err
			}
			writeResult(out, res, helpers.MemorySampler(sess.Config, sess.Logger).PeakBytes())
			if sess.Registry != nil {
				return writeMetrics(out, sess.Registry)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Profiles, "profiles", opts.Profiles, "Number of profiles to save")
	cmd.Flags().IntVar(&opts.Identifiers, "identifiers", opts.Identifiers, "Distinct profile identifiers")
	cmd.Flags().IntVar(&opts.Fanout, "fanout", opts.Fanout, "Span repetitions per unit of i mod 10")
	cmd.Flags().IntVar(&opts.Workers, "workers", opts.Workers, "Concurrent savers")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Random seed (0 picks one)")

	return cmd
}

// Run saves opts.Profiles synthetic profiles into s.
func Run(ctx context.Context, s profiler.Storage, opts Options, logger zerolog.Logger) (*Result, error) {
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Identifiers <= 0 {
		opts.Identifiers = 1
	}

	var (
		mu    sync.Mutex
		saves = make([]time.Duration, 0, opts.Profiles)
		spans int
	)
	jobs := make(chan int)
	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(jobs)
		for i := range opts.Profiles {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for range opts.Workers {
		eg.Go(func() error {
			for i := range jobs {
				p, err := buildProfile(s, i, opts, logger)
				if err != nil {
					return err
				}
				began := time.Now()
				res, err := p.Save(ctx)
				took := time.Since(began)
				if err != nil {
					return fmt.Errorf("profile %d: %w", i, err)
				}

				mu.Lock()
				saves = append(saves, took)
				spans += res.Entries
				mu.Unlock()
				logger.Debug().Int("n", i).Int64("profile_id", res.ProfileID).Dur("took", took).Msg("Profile saved")
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return summarize(saves, spans, time.Since(start)), nil
}

// buildProfile records the span pattern of profile i.
func buildProfile(s profiler.Storage, i int, opts Options, logger zerolog.Logger) (*profiler.Profiler, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, uint64(i))) // #nosec G404 - synthetic load.
	clock := &synthClock{now: time.Now(), rng: rng}
	mem := &synthMemory{rng: rng, base: 2 << 20}

	id := fmt.Sprintf("test-%d", i%opts.Identifiers)
	method := "POST"
	if i%2 == 1 {
		method = "GET"
	}
	p, err := profiler.New(profiler.Config{
		Identifier: id,
		Storage:    s,
		Clock:      clock,
		Memory:     mem,
		Logger:     &logger,
		Context: func() profiler.ExecutionContext {
			return profiler.ExecutionContext{
				Method:    method,
				URL:       "/" + id,
				Status:    200,
				UserAgent: "spanprof-bench",
				IP:        "127.0.0.1",
			}
		},
	})
	if err != nil {
		return nil, err
	}

	span := func(name string, children ...string) error {
		if err := p.Start(name, ""); err != nil {
			return err
		}
		for _, c := range children {
			if err := p.Start(c, ""); err != nil {
				return err
			}
			p.Stop()
		}
		p.Stop()
		return nil
	}
	for range opts.Fanout * (i % 10) {
		if err := span("aaa"); err != nil {
			return nil, err
		}
		if err := span("bbb", "ccc-1", "ccc-2"); err != nil {
			return nil, err
		}
	}
	// Profiles with i%10 == 0 would otherwise be skipped.
	if err := span("request"); err != nil {
		return nil, err
	}
	return p, nil
}

func summarize(saves []time.Duration, spans int, total time.Duration) *Result {
	res := &Result{Profiles: len(saves), Spans: spans, Total: total}
	if len(saves) == 0 {
		return res
	}
	sorted := append([]time.Duration(nil), saves...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	res.AvgSave = sum / time.Duration(len(sorted))
	res.MaxSave = sorted[len(sorted)-1]
	res.P95Save = sorted[(len(sorted)*95+99)/100-1]
	return res
}

func writeResult(w io.Writer, res *Result, peak int64) {
	fmt.Fprintf(w, `Done
- Profiles:  %d (%d spans)
- Memory:    %s
- Avg save:  %s
- P95 save:  %s
- Max save:  %s
- Total:     %s
`,
		res.Profiles, res.Spans,
		helpers.FormatBytes(peak),
		helpers.FormatDuration(res.AvgSave),
		helpers.FormatDuration(res.P95Save),
		helpers.FormatDuration(res.MaxSave),
		helpers.FormatDuration(res.Total))
}

// writeMetrics prints the store counters gathered during the run.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	fmt.Fprintln(w, "Store metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "  %s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "  %s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
