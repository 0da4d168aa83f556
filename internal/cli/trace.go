package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTraceCmd() *cobra.Command {
	var switchesOnly bool

	cmd := &cobra.Command{
		Use:   "trace <run_id>",
		Short: "Print the grant trace of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %q not found", args[0])
			}
			grants, err := st.ListGrants(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("list grants: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (%s), inter-switch delay %v\n\n", run.ID, run.Scenario, run.InterSwitchDelay)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tAT\tGAP\tSOURCE\t")
			for _, g := range grants {
				if switchesOnly && !g.Switched {
					continue
				}
				marker := ""
				if g.Switched {
					marker = "<- switch"
				}
				fmt.Fprintf(tw, "%d\t%v\t%v\t%s\t%s\n",
					g.Seq, g.At.Round(time.Microsecond), g.Gap.Round(time.Microsecond), g.Label, marker)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&switchesOnly, "switches", false, "Only show grants that changed source")
	return cmd
}
