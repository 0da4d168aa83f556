package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/portsched/internal/config"
	"github.com/me/portsched/internal/server"
	"github.com/me/portsched/internal/sim"
	"github.com/me/portsched/internal/store"
	"github.com/me/portsched/pkg/model"
	"github.com/spf13/cobra"
)

// ErrVerificationFailed is returned by simulate when the grant trace breaks
// a scheduling guarantee.
var ErrVerificationFailed = errors.New("verification failed")

func newSimulateCmd() *cobra.Command {
	var (
		delay    time.Duration
		save     bool
		httpAddr string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario against the scheduler and verify the grant trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := sim.LoadScenario(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("delay") {
				cfg := config.SchedulerConfig{InterSwitchDelay: delay}
				if err := cfg.Validate(); err != nil {
					return err
				}
				sc.InterSwitchDelay = cfg.InterSwitchDelay
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var st *store.SQLiteStore
			if save {
				if st, err = openStore(ctx); err != nil {
					return err
				}
				defer st.Close()
			}

			simulator := sim.New(sc, logger)

			if httpAddr != "" {
				cfg := config.DefaultServerConfig()
				cfg.Addr = httpAddr
				// A nil *SQLiteStore must not become a non-nil store.Store.
				var backing store.Store
				if st != nil {
					backing = st
				}
				srv := server.New(cfg, backing, logger, server.WithSnapshotter(simulator))

				srvCtx, stopServer := context.WithCancel(ctx)
				done := make(chan struct{})
				go func() {
					defer close(done)
					if err := srv.ListenAndServe(srvCtx); err != nil {
						logger.Error("introspection server stopped", "error", err)
					}
				}()
				defer func() {
					stopServer()
					<-done
				}()
			}

			run, grants, err := simulator.Run(ctx)
			if err != nil {
				return err
			}

			if st != nil {
				if err := st.CreateRun(ctx, run); err != nil {
					return fmt.Errorf("save run: %w", err)
				}
				if err := st.AppendGrants(ctx, run.ID, grants); err != nil {
					return fmt.Errorf("save grants: %w", err)
				}
				logger.Info("trace saved", "run_id", run.ID, "grants", len(grants))
			}

			printRun(cmd.OutOrStdout(), run, grants)
			if !run.Passed() {
				return fmt.Errorf("%w: %d violation(s)", ErrVerificationFailed, len(run.Violations))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "Override the scenario's inter-switch delay")
	cmd.Flags().BoolVar(&save, "save", false, "Record the run and its grant trace in the trace store")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve the live scheduler snapshot on this address while running")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the simulation after this long (0 for no limit)")

	return cmd
}

func printRun(w io.Writer, run *model.Run, grants []model.Grant) {
	fmt.Fprintf(w, "Scenario %s  run %s  inter-switch delay %v\n\n", run.Scenario, run.ID, run.InterSwitchDelay)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCOMMANDS\tGRANTS\tCOMPLETED\tFAILED\tDROPPED")
	for _, src := range run.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			src.Label, src.Commands, src.Grants, src.Completed, src.Failed, src.Dropped)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%s grants in %v", humanize.Comma(int64(run.GrantCount)), run.Duration().Round(time.Millisecond))
	if label, n := sim.LongestRun(grants); n > 0 {
		fmt.Fprintf(w, ", longest streak %d (%s)", n, label)
	}
	fmt.Fprintln(w)

	if run.Passed() {
		fmt.Fprintln(w, "PASS")
		return
	}
	fmt.Fprintln(w, "FAIL")
	for _, v := range run.Violations {
		fmt.Fprintf(w, "  - %s\n", v)
	}
}
