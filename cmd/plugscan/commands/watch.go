package commands

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/snowmerak/plugscan/internal/logger"
	"github.com/snowmerak/plugscan/internal/metrics"
	"github.com/snowmerak/plugscan/lib/plugin"
	"github.com/snowmerak/plugscan/lib/registry"
	"github.com/spf13/cobra"
)

const defaultDebounce = 500 * time.Millisecond

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		recursive bool
		debounce  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Keep the catalog up to date as addons change",
		Long: `Scan once, then rescan whenever files under the watched paths change.
Bursts of changes are coalesced into one rescan. When metrics are enabled,
Prometheus metrics are served on metrics.address at /metrics.
Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("recursive") {
				cfg.Registry.Recursive = recursive
			}
			paths, err := scanPaths(cfg, args)
			if err != nil {
				return err
			}

			ctx := logger.WithContext(cmd.Context(), &logger.LogContext{Command: "watch"})
			h, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			var (
				m       *metrics.Metrics
				obs     plugin.Observer
				scanObs registry.ScanObserver
			)
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				m = metrics.New(reg)
				obs, scanObs = m, m

				srv, err := metrics.Listen(cfg.Metrics.Address, reg, logger.With("component", "metrics"))
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Serve(ctx); err != nil {
						logger.ErrorCtx(ctx, "metrics server stopped", "error", err)
					}
				}()
			}

			scanner, err := newScanner(cfg, h, cfg.Registry.Recursive, obs, scanObs)
			if err != nil {
				return err
			}
			w := &watcher{
				scanner:   scanner,
				catalog:   h,
				paths:     paths,
				recursive: cfg.Registry.Recursive,
				debounce:  debounce,
				metrics:   m,
				out:       cmd.OutOrStdout(),
			}
			return w.run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period before a rescan")
	return cmd
}

// watcher rescans paths after filesystem activity settles.
type watcher struct {
	scanner   *registry.Scanner
	catalog   *catalogHandle
	paths     []string
	recursive bool
	debounce  time.Duration
	metrics   *metrics.Metrics
	out       io.Writer
}

func (w *watcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, p := range w.paths {
		w.watch(fw, p)
	}
	w.rescan(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "watch stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) && w.recursive {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.watch(fw, ev.Name)
				}
			}
			logger.DebugCtx(ctx, "change detected", logger.KeyPath, ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.rescan(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WarnCtx(ctx, "watcher error", "error", err)
		}
	}
}

// watch registers p, or the directory holding it when p is a file. With
// recursion every subdirectory is registered too.
func (w *watcher) watch(fw *fsnotify.Watcher, p string) {
	info, err := os.Stat(p)
	if err != nil {
		logger.Warn("cannot watch path", logger.KeyPath, p, "error", err)
		return
	}
	if !info.IsDir() {
		p = filepath.Dir(p)
	}
	if !w.recursive {
		if err := fw.Add(p); err != nil {
			logger.Warn("cannot watch path", logger.KeyPath, p, "error", err)
		}
		return
	}
	err = filepath.WalkDir(p, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("cannot walk path", logger.KeyPath, path, "error", err)
			if de != nil && de.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !de.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			if errors.Is(err, fsnotify.ErrClosed) {
				return err
			}
			logger.Warn("cannot watch path", logger.KeyPath, path, "error", err)
		}
		return nil
	})
	if err != nil {
		logger.Warn("stopped walking watched path", logger.KeyPath, p, "error", err)
	}
}

// rescan runs one scan and persists its result. Failures are logged; the
// next change triggers another attempt.
func (w *watcher) rescan(ctx context.Context) {
	res, err := w.scanner.Scan(ctx, w.paths...)
	if saveErr := w.catalog.save(ctx); saveErr != nil {
		logger.ErrorCtx(ctx, "failed to save catalog", "error", saveErr)
	}
	w.metrics.SetCatalogSize(w.catalog.catalog.Len())
	if err != nil {
		if ctx.Err() == nil {
			logger.ErrorCtx(ctx, "scan failed", "error", err)
		}
		return
	}
	printSummary(w.out, res, w.catalog.catalog.Len())
}
