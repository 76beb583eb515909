package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lecoder-dev/lecoder/internal/sessionmgr"
)

func newSessionsCommand(rc *rootContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage Session Records",
	}
	cmd.AddCommand(
		newSessionsListCommand(rc),
		newSessionsSwitchCommand(rc),
		newSessionsCloseCommand(rc),
		newSessionsCleanCommand(rc),
	)
	return cmd
}

func newSessionsListCommand(rc *rootContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List Session Records with live state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := rc.app.ListSessions(ctxForCmd())
			if err != nil {
				return err
			}
			if rc.flags.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(records)
			}
			printSessionTable(cmd, records)
			return nil
		},
	}
}

func printSessionTable(cmd *cobra.Command, records []sessionmgr.EnrichedRecord) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no sessions")
		return
	}
	for _, r := range records {
		marker := " "
		if r.IsActive {
			marker = "*"
		}
		state := "idle"
		if r.Connected {
			state = "connected"
		}
		if r.Stale {
			state = "stale"
		}
		fmt.Fprintf(out, "%s %s  %-12s %-10s %s\n", marker, r.ID[:8], r.Label, state, r.RuntimeEndpoint)
	}
}

func newSessionsSwitchCommand(rc *rootContext) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <id>",
		Short: "Make the given session active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := rc.app.SwitchSession(args[0])
			if err != nil {
				return err
			}
			if rc.flags.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %s (%s)\n", rec.ID, rec.Label)
			return nil
		},
	}
}

func newSessionsCloseCommand(rc *rootContext) *cobra.Command {
	return &cobra.Command{
		Use:   "close <id>",
		Short: "Delete a Session Record and its live Connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rc.app.CloseSession(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
			return nil
		},
	}
}

func newSessionsCleanCommand(rc *rootContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove Session Records whose runtime assignment is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := rc.app.CleanSessions(ctxForCmd())
			if err != nil {
				return err
			}
			if rc.flags.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(deleted)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale session(s)\n", len(deleted))
			return nil
		},
	}
}
