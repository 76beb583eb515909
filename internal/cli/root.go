package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lecoder-dev/lecoder/internal/config"
)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	session     string
	forceLogin  bool
	configPath  string
	jsonOutput  bool
}

// rootContext is the lazily-built App plus the resolved global flags,
// shared by every subcommand's RunE.
type rootContext struct {
	flags globalFlags
	app   *App
}

func (r *rootContext) init(cmd *cobra.Command) error {
	stateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	configPath := r.flags.configPath
	if configPath == "" {
		configPath = filepath.Join(stateDir, "config.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		// main has already called klog.InitFlags(nil) to register the
		// flags on flag.CommandLine; bump verbosity through that flag
		// set rather than calling InitFlags a second time, which would
		// panic with "flag redefined".
		flag.Set("v", "4")
	}

	token, err := LoadAccessToken(stateDir, r.flags.forceLogin)
	if err != nil {
		return err
	}

	r.app = NewApp(stateDir, cfg, token)
	return nil
}

// defaultStateDir returns the per-user directory lecoder persists its
// state under, creating it if necessary.
func defaultStateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cli: resolve user config dir: %w", err)
	}
	dir := filepath.Join(base, "lecoder")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cli: create state dir %s: %w", dir, err)
	}
	return dir, nil
}

// NewRootCommand builds the lecoder command tree.
func NewRootCommand() *cobra.Command {
	rc := &rootContext{}

	root := &cobra.Command{
		Use:           "lecoder",
		Short:         "Drive a remote Colab kernel from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rc.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rc.app != nil {
				rc.app.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&rc.flags.session, "session", "", "target session id or unique prefix")
	pf.BoolVar(&rc.flags.forceLogin, "force-login", false, "force re-authentication before running")
	pf.StringVarP(&rc.flags.configPath, "config", "c", "", "path to config.json (default: state dir)")
	pf.BoolVar(&rc.flags.jsonOutput, "json", false, "emit machine-readable JSON output")

	root.AddCommand(
		newRunCommand(rc),
		newConnectCommand(rc),
		newStatusCommand(rc),
		newSessionsCommand(rc),
		newLogsCommand(rc),
	)
	return root
}

// ctxForCmd returns a background context; every command is a single
// synchronous invocation with no caller-supplied cancellation surface.
func ctxForCmd() context.Context {
	return context.Background()
}
