package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/me/portsched/internal/scheduler"
	"github.com/spf13/cobra"
)

// defaultServer returns the live server URL, checking PORTSCHED_SERVER first.
func defaultServer() string {
	if s := os.Getenv("PORTSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func newLiveCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Show the scheduler state of a running simulate --http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(serverURL, logger)
			resp, err := client.Get(cmd.Context(), "/api/v1/live")
			if err != nil {
				return fmt.Errorf("get live snapshot: %w", err)
			}

			var snap scheduler.Snapshot
			if err := json.Unmarshal(resp.Data, &snap); err != nil {
				return fmt.Errorf("parse snapshot: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State %s, inter-switch delay %v, %s command(s) pending\n\n",
				snap.State, snap.InterSwitchDelay, humanize.Comma(int64(snap.TotalPending())))

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tPENDING\tGRANTS\tCOMPLETIONS\t")
			for _, src := range snap.Sources {
				marker := ""
				if src.Active {
					marker = "* running"
				} else if snap.LastDispatched != nil && *snap.LastDispatched == src.ID {
					marker = "last"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", src.Label, src.Pending,
					humanize.Comma(int64(src.Grants)), humanize.Comma(int64(src.Completions)), marker)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer(), "Address of simulate --http (or PORTSCHED_SERVER env)")
	return cmd
}
