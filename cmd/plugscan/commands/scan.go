package commands

import (
	"github.com/snowmerak/plugscan/internal/logger"
	"github.com/spf13/cobra"
)

func newScanCmd(g *globalFlags) *cobra.Command {
	var (
		recursive bool
		inProcess bool
	)
	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan addon directories and update the catalog",
		Long: `Scan the given files and directories (or registry.paths from the
configuration) for addons. New and modified addons are inspected by a worker
process; unchanged ones keep their catalog entry and vanished ones are
dropped. Addons that cannot be inspected are cataloged as blacklisted so they
are not retried until they change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("recursive") {
				cfg.Registry.Recursive = recursive
			}
			if cmd.Flags().Changed("in-process") {
				cfg.Scanner.InProcess = inProcess
			}
			paths, err := scanPaths(cfg, args)
			if err != nil {
				return err
			}

			ctx := logger.WithContext(cmd.Context(), &logger.LogContext{Command: "scan"})
			h, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			scanner, err := newScanner(cfg, h, cfg.Registry.Recursive, nil, nil)
			if err != nil {
				return err
			}
			res, scanErr := scanner.Scan(ctx, paths...)
			// Entries resolved before a failure are still valid.
			if err := h.save(ctx); err != nil {
				return err
			}
			if scanErr != nil {
				return scanErr
			}
			printSummary(cmd.OutOrStdout(), res, h.catalog.Len())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "inspect addons inside plugscan instead of a worker process")
	return cmd
}
