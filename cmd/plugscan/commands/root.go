// Package commands implements the plugscan CLI.
package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "plugscan",
		Short: "plugscan - out-of-process addon scanner",
		Long: `plugscan keeps a catalog of native addons. Each addon is opened by a
separate worker process, so an addon that crashes while being inspected
only costs its own catalog entry.

Configuration is read from $XDG_CONFIG_HOME/plugscan/config.yaml and can be
overridden with PLUGSCAN_<SECTION>_<KEY> environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/plugscan/config.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newScanCmd(g),
		newListCmd(g),
		newWatchCmd(g),
		newWorkerCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the CLI with ctx, which is cancelled on SIGINT or SIGTERM.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
