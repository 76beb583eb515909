package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(rc *rootContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication, tier, and session summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := rc.app.Status(ctxForCmd())
			if err != nil {
				return err
			}

			if rc.flags.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
			}

			out := cmd.OutOrStdout()
			if !report.Authenticated {
				fmt.Fprintln(out, "not authenticated")
				return nil
			}
			fmt.Fprintf(out, "tier: %s (max %d concurrent sessions)\n", report.Tier, report.Max)
			fmt.Fprintf(out, "sessions: %d total, %d active, %d connected, %d stale\n",
				report.Total, report.Active, report.Connected, report.Stale)
			return nil
		},
	}
	return cmd
}
