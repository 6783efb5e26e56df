package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/snowmerak/plugscan/internal/config"
	"github.com/snowmerak/plugscan/internal/logger"
	"github.com/snowmerak/plugscan/lib/introspect"
	"github.com/snowmerak/plugscan/lib/plugin"
	"github.com/snowmerak/plugscan/lib/registry"
)

// loadConfig loads the configuration and initializes the logger from it.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// catalogHandle is an open store and the catalog restored from it.
type catalogHandle struct {
	store   *registry.Store
	catalog *registry.Catalog
}

func openCatalog(ctx context.Context, cfg *config.Config) (*catalogHandle, error) {
	dir := cfg.Registry.StoreDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := registry.OpenStore(dir, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	catalog := registry.NewCatalog()
	n, err := store.Load(ctx, catalog)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug("catalog loaded", "entries", n, "store", dir)
	return &catalogHandle{store: store, catalog: catalog}, nil
}

// save persists the catalog when it changed.
func (h *catalogHandle) save(ctx context.Context) error {
	if !h.catalog.Changed() {
		return nil
	}
	return h.store.Save(context.WithoutCancel(ctx), h.catalog)
}

func (h *catalogHandle) Close() error {
	return h.store.Close()
}

// loaderOptions describes how scans reach a worker: a goroutine when the
// scanner runs in process, otherwise a child process running the configured
// worker binary or this executable's worker command.
func loaderOptions(cfg *config.Config, obs plugin.Observer) (*plugin.LoaderOptions, error) {
	opts := &plugin.LoaderOptions{
		ReapTimeout: cfg.Scanner.ReapTimeout,
		MaxPayload:  cfg.Scanner.MaxPayload,
		Logger:      logger.With("component", "loader"),
		Observer:    obs,
	}

	if cfg.Scanner.InProcess {
		in, err := introspect.New(cfg.Introspect.Mode, cfg.Introspect.IntrospectOptions())
		if err != nil {
			return nil, err
		}
		opts.Spawn = plugin.InProcessSpawner(plugin.NewWorker(in, &plugin.WorkerOptions{
			MaxPayload: cfg.Scanner.MaxPayload,
			Logger:     logger.With("component", "worker"),
		}))
		return opts, nil
	}

	path, args := cfg.Scanner.Worker, slices.Clone(cfg.Scanner.WorkerArgs)
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate plugscan executable: %w", err)
		}
		path = exe
		args = append(args, workerArgs(cfg)...)
	}
	opts.Spawn = plugin.ForkSpawner(path, args...)
	return opts, nil
}

// workerArgs forwards the settings the worker command needs.
func workerArgs(cfg *config.Config) []string {
	return []string{
		"--mode", cfg.Introspect.Mode,
		"--entry-symbol", cfg.Introspect.EntrySymbol,
		"--feature-prefix", cfg.Introspect.FeaturePrefix,
		"--max-payload", strconv.FormatUint(uint64(cfg.Scanner.MaxPayload), 10),
		"--log-level", cfg.Logging.Level,
	}
}

func newScanner(cfg *config.Config, h *catalogHandle, recursive bool, obs plugin.Observer, scanObs registry.ScanObserver) (*registry.Scanner, error) {
	lopts, err := loaderOptions(cfg, obs)
	if err != nil {
		return nil, err
	}
	return registry.NewScanner(h.catalog, lopts, registry.ScannerOptions{
		Recursive:  recursive,
		Extensions: cfg.Registry.Extensions,
		Logger:     logger.With("component", "scanner"),
		Observer:   scanObs,
	}), nil
}

// scanPaths returns the command line paths, or the configured ones.
func scanPaths(cfg *config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Registry.Paths) == 0 {
		return nil, errors.New("no scan paths given and none configured in registry.paths")
	}
	return cfg.Registry.Paths, nil
}

func printSummary(w io.Writer, res registry.ScanResult, total int) {
	fmt.Fprintf(w, "scanned %d, unchanged %d, removed %d, unreadable %d; catalog holds %d addons\n",
		res.Scanned, res.Skipped, len(res.Removed), res.Loader.Placeholders, total)
}
