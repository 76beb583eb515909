package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lecoder-dev/lecoder/internal/output"
)

// RunExitError carries a non-zero exit code without cobra printing a usage
// block for what is really an execution failure, not a CLI misuse.
type RunExitError struct {
	code int
}

func (e *RunExitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// Code returns the process exit code this error represents.
func (e *RunExitError) Code() int { return e.code }

func newRunCommand(rc *rootContext) *cobra.Command {
	var mode string
	var tpu, cpu, newRuntime bool
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "run [flags] <code...>",
		Short: "Execute code on a Colab runtime and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode == "terminal" {
				return fmt.Errorf("terminal mode needs a PTY bridge this build does not provide; use -m kernel")
			}

			ctx := ctxForCmd()
			app := rc.app
			code := strings.Join(args, " ")

			rec, err := app.ResolveSession(ctx, rc.flags.session, tpu, cpu, newRuntime)
			if err != nil {
				return err
			}

			var timeout time.Duration
			if timeoutSeconds > 0 {
				timeout = time.Duration(timeoutSeconds) * time.Second
			}
			res := app.RunCode(ctx, rec, code, timeout)
			printResult(cmd, res, rc.flags.jsonOutput)

			if res.Status != "ok" {
				return &RunExitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "kernel", "execution mode: kernel|terminal")
	cmd.Flags().BoolVar(&tpu, "tpu", false, "request a TPU runtime")
	cmd.Flags().BoolVar(&cpu, "cpu", false, "request a CPU-only runtime")
	cmd.Flags().BoolVar(&newRuntime, "new-runtime", false, "force a fresh runtime assignment")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "execution timeout in seconds (0 = no timeout)")
	return cmd
}

func printResult(cmd *cobra.Command, res output.Result, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.Encode(res)
		return
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, res.Stdout)
	if res.Stderr != "" {
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	}
	if res.Error != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", res.Error.Name, res.Error.Message)
		if res.Error.Suggestion != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "suggestion: %s\n", res.Error.Suggestion)
		}
	}
}
