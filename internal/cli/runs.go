package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/me/portsched/pkg/model"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	opts := model.DefaultListOptions()

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored simulator runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSCENARIO\tSOURCES\tGRANTS\tRESULT\tSTARTED")
			for _, run := range runs {
				result := "pass"
				if !run.Passed() {
					result = fmt.Sprintf("fail (%d)", len(run.Violations))
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					run.ID, run.Scenario, len(run.Sources), humanize.Comma(int64(run.GrantCount)),
					result, humanize.Time(run.StartedAt))
			}
			tw.Flush()

			if opts.Offset+len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "Maximum number of runs to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip this many runs")
	cmd.Flags().StringVar(&opts.Name, "scenario", "", "Only show runs of this scenario")

	return cmd
}
