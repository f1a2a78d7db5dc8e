// Package run implements the run command, which profiles a child process.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/internal/memstat"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// ExitError carries the child's exit code out of RunE.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return "exit status " + strconv.Itoa(e.Code) }

// NewRunCmd creates the run command.
func NewRunCmd(g *helpers.Globals) *cobra.Command {
	var (
		identifier string
		group      string
		grace      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run --identifier <name> -- <command> [args...]",
		Short: "Profile a command",
		Long: `Run a command and save it as one profile.

The profile has a root span named after --identifier and one "exec" span
covering the child process. Its memory peak is the child's largest resident
set, and a non-zero exit code is stored as the profile status together with
an error record.

Interrupts are forwarded to the child; after the grace period it is killed.

Examples:
  spanprof run --identifier nightly-import -- ./import.sh --full
  spanprof run --identifier build --group ci -- go build ./...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if identifier == "" {
				identifier = filepath.Base(args[0])
			}

			sess, err := g.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			if group == "" {
				group = sess.Config.Profiler.Group
			}
			r := &runner{
				args:   args,
				grace:  grace,
				logger: sess.Logger,
			}
			p, err := profiler.New(profiler.Config{
				Identifier: identifier,
				Group:      group,
				Storage:    sess.Store,
				AutoStart:  true,
				AutoSave:   sess.Config.Profiler.AutoSave,
				Context:    r.executionContext,
				Logger:     &sess.Logger,
				Memory:     r,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := r.run(ctx, p)

			res, err := p.OnProcessExit(context.WithoutCancel(ctx))
			if err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}
			if res.Status == profiler.StatusSaved {
				fmt.Fprintf(cmd.ErrOrStderr(), "spanprof: saved profile %d (%d spans)\n", res.ProfileID, res.Entries)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "Profile identifier (default: command base name)")
	cmd.Flags().StringVar(&group, "group", "", "Profile group (default: profiler.group)")
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time between forwarding an interrupt and killing the child")

	return cmd
}

type runner struct {
	args   []string
	grace  time.Duration
	logger zerolog.Logger

	pid      atomic.Int32
	exitCode atomic.Int32
	watcher  atomic.Pointer[memstat.Watcher]
}

// PeakBytes reports the child's memory peak; zero before it starts.
func (r *runner) PeakBytes() int64 {
	if w := r.watcher.Load(); w != nil {
		return w.PeakBytes()
	}
	return 0
}

func (r *runner) run(ctx context.Context, p *profiler.Profiler) error {
	if err := p.Start("exec", "process"); err != nil {
		return err
	}
	defer p.Stop()

	child := exec.CommandContext(ctx, r.args[0], r.args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Cancel = func() error { return child.Process.Signal(os.Interrupt) }
	child.WaitDelay = r.grace

	if err := child.Start(); err != nil {
		p.Error(err)
		r.exitCode.Store(127)
		return fmt.Errorf("failed to start %s: %w", r.args[0], err)
	}
	pid := int32(child.Process.Pid) // #nosec G115 - pids fit in int32.
	r.pid.Store(pid)

	if w, err := memstat.Watch(ctx, pid, memstat.DefaultWatchInterval, r.logger); err != nil {
		r.logger.Debug().Err(err).Int32("pid", pid).Msg("Child memory unavailable")
	} else {
		r.watcher.Store(w)
		defer w.Stop()
	}

	err := child.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		if code < 0 {
			code = 128 + int(syscall.SIGKILL)
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				code = 128 + int(ws.Signal())
			}
		}
		r.exitCode.Store(int32(code)) // #nosec G115 - exit codes fit in int32.
		p.ErrorAt(profiler.SeverityError, exitErr.Error(), r.args[0], 0)
		return &ExitError{Code: code}
	default:
		p.Error(err)
		r.exitCode.Store(1)
		return fmt.Errorf("%s: %w", r.args[0], err)
	}
}

// executionContext describes the child rather than spanprof itself.
func (r *runner) executionContext() profiler.ExecutionContext {
	ec := profiler.CLIContext()
	ec.URL = strings.Join(r.args, " ")
	ec.Status = int(r.exitCode.Load())
	if ec.Server == nil {
		ec.Server = map[string]string{}
	}
	if pid := r.pid.Load(); pid > 0 {
		ec.Server["CHILD_PID"] = strconv.Itoa(int(pid))
	}
	ec.Server["EXIT_CODE"] = strconv.Itoa(int(r.exitCode.Load()))
	if wd, err := os.Getwd(); err == nil {
		ec.Server["PWD"] = wd
	}
	return ec
}
