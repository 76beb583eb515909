package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lecoder-dev/lecoder/internal/history"
)

func newLogsCommand(rc *rootContext) *cobra.Command {
	var n int
	var status, category, mode, since string
	var stats, clear bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the Execution History",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if clear {
				if err := rc.app.ClearLogs(); err != nil {
					return err
				}
				fmt.Fprintln(out, "history cleared")
				return nil
			}

			if stats {
				s, err := rc.app.LogStats()
				if err != nil {
					return err
				}
				if rc.flags.jsonOutput {
					return json.NewEncoder(out).Encode(s)
				}
				fmt.Fprintf(out, "total: %d  success rate: %.0f%%\n", s.Total, s.SuccessRate*100)
				for mode, count := range s.ByMode {
					fmt.Fprintf(out, "  %s: %d\n", mode, count)
				}
				return nil
			}

			entries, err := rc.app.QueryLogs(history.Filters{
				Status:   status,
				Category: category,
				Mode:     mode,
				Since:    since,
				Limit:    n,
			})
			if err != nil {
				return err
			}
			if rc.flags.jsonOutput {
				return json.NewEncoder(out).Encode(entries)
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-6s %-8s %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z"), e.Status, e.Mode, e.Command)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "number", "n", 20, "maximum entries to return")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: ok|error|abort")
	cmd.Flags().StringVar(&category, "category", "", "filter by error category")
	cmd.Flags().StringVar(&mode, "mode", "", "filter by mode: kernel|terminal")
	cmd.Flags().StringVar(&since, "since", "", "only entries since (ISO-8601 or e.g. 2h, 3d)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print aggregate statistics instead of entries")
	cmd.Flags().BoolVar(&clear, "clear", false, "truncate the history file")
	return cmd
}
