package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/snowmerak/plugscan/internal/config"
	"github.com/snowmerak/plugscan/internal/logger"
	"github.com/snowmerak/plugscan/lib/introspect"
	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/plugin"
	"github.com/spf13/cobra"
)

// newWorkerCmd is the entry point of forked workers. It speaks the scan
// protocol on stdin and stdout, and logs to stderr.
func newWorkerCmd(g *globalFlags) *cobra.Command {
	var (
		mode          string
		entrySymbol   string
		featurePrefix string
		maxPayload    uint32
	)
	cmd := &cobra.Command{
		Use:    config.WorkerCommand,
		Short:  "Serve scan requests on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The host owns the session: a terminal interrupt reaches the
			// whole process group, and the host answers it with EXIT.
			signal.Ignore(os.Interrupt, syscall.SIGTERM)

			if g.logLevel != "" {
				if err := logger.SetLevel(g.logLevel); err != nil {
					return err
				}
			}
			in, err := introspect.New(mode, introspect.Options{
				EntrySymbol:   entrySymbol,
				FeaturePrefix: featurePrefix,
			})
			if err != nil {
				return err
			}
			w := plugin.NewWorker(in, &plugin.WorkerOptions{
				MaxPayload: maxPayload,
				Logger:     logger.With("component", "worker", "pid", os.Getpid()),
			})
			return w.ServeStdio(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", introspect.ModeELF, "introspection mode (elf, goplugin)")
	cmd.Flags().StringVar(&entrySymbol, "entry-symbol", "", "symbol every addon must export")
	cmd.Flags().StringVar(&featurePrefix, "feature-prefix", "", "prefix of exported feature symbols")
	cmd.Flags().Uint32Var(&maxPayload, "max-payload", multiplexer.DefaultMaxPayload, "largest accepted message payload")
	return cmd
}
