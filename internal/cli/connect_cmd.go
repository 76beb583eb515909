package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func newConnectCommand(rc *rootContext) *cobra.Command {
	var mode string
	var tpu, cpu, newRuntime bool

	cmd := &cobra.Command{
		Use:   "connect [flags]",
		Short: "Open an interactive session against a Colab runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode == "terminal" {
				return fmt.Errorf("terminal mode needs a PTY bridge this build does not provide; use -m kernel")
			}

			ctx := ctxForCmd()
			app := rc.app

			rec, err := app.ResolveSession(ctx, rc.flags.session, tpu, cpu, newRuntime)
			if err != nil {
				return err
			}
			if _, err := app.EnsureConnection(ctx, rec); err != nil {
				return err
			}

			stopKeepAlive := app.StartKeepAlive(ctx)
			defer stopKeepAlive()

			// SIGINT is cooperative here: it asks the running execution to
			// complete promptly with status=abort over the existing kernel
			// WebSocket, it does not terminate the REPL (spec §4.3/§4.4).
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				for range sigCh {
					if err := app.Interrupt(ctx, rec); err != nil {
						app.Log.Error("interrupt", "sending interrupt failed", err)
					}
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "connected to session %s (%s)\n", rec.ID, rec.Label)
			in := bufio.NewScanner(cmd.InOrStdin())
			for in.Scan() {
				line := in.Text()
				if line == "" {
					continue
				}
				res := app.RunCode(ctx, rec, line, 0)
				printResult(cmd, res, rc.flags.jsonOutput)
			}
			return in.Err()
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "kernel", "session mode: kernel|terminal")
	cmd.Flags().BoolVar(&tpu, "tpu", false, "request a TPU runtime")
	cmd.Flags().BoolVar(&cpu, "cpu", false, "request a CPU-only runtime")
	cmd.Flags().BoolVar(&newRuntime, "new-runtime", false, "force a fresh runtime assignment")
	return cmd
}
