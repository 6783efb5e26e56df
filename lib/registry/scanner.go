package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/snowmerak/plugscan/lib/plugin"
)

// DefaultExtensions are the file suffixes considered addons.
var DefaultExtensions = []string{".so"}

// ScanResult summarizes one Scan.
type ScanResult struct {
	// Scanned counts files submitted to the worker.
	Scanned int
	// Skipped counts files whose catalog entry was still fresh.
	Skipped int
	// Removed lists cataloged files that no longer exist.
	Removed []string
	// Changed reports whether the catalog must be saved.
	Changed bool
	// Loader holds the job counters of the worker session.
	Loader plugin.Stats
}

// ScanObserver is told about every completed scan.
type ScanObserver interface {
	ScanCompleted(elapsed time.Duration, result ScanResult, err error)
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	// Recursive descends into subdirectories.
	Recursive bool
	// Extensions filters files by suffix; empty accepts every regular file.
	Extensions []string

	Logger   *slog.Logger
	Observer ScanObserver
}

// Scanner brings a Catalog up to date with the addon files on disk.
type Scanner struct {
	catalog *Catalog
	loader  *plugin.LoaderOptions
	opts    ScannerOptions
	log     *slog.Logger
}

// NewScanner creates a Scanner that starts one worker session per Scan.
func NewScanner(catalog *Catalog, loader *plugin.LoaderOptions, opts ScannerOptions) *Scanner {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scanner{catalog: catalog, loader: loader, opts: opts, log: log}
}

type candidate struct {
	path  string
	size  int64
	mtime time.Time
}

// Scan walks paths, submits every new or modified addon to a fresh Loader and
// removes entries whose files disappeared. Fresh entries are not rescanned.
// If the worker session fails, nothing is removed and the failure is
// returned once the worker has been torn down.
func (s *Scanner) Scan(ctx context.Context, paths ...string) (result ScanResult, err error) {
	start := time.Now()
	defer func() {
		if s.opts.Observer != nil {
			s.opts.Observer.ScanCompleted(time.Since(start), result, err)
		}
	}()

	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return result, fmt.Errorf("resolve %s: %w", p, err)
		}
		roots = append(roots, abs)
	}

	files, err := s.collect(ctx, roots)
	if err != nil {
		return result, err
	}

	s.catalog.ResetSeen()
	loader, err := plugin.NewLoader(s.catalog, s.loader)
	if err != nil {
		return result, err
	}

	var scanErr error
	for _, f := range files {
		if scanErr = ctx.Err(); scanErr != nil {
			break
		}
		if s.catalog.IsFresh(f.path, f.size, f.mtime) {
			s.catalog.MarkSeen(f.path)
			result.Skipped++
			continue
		}
		if scanErr = loader.Submit(ctx, f.path, f.size, f.mtime); scanErr != nil {
			break
		}
		result.Scanned++
	}

	if _, err := loader.Teardown(context.WithoutCancel(ctx)); err != nil && scanErr == nil {
		scanErr = err
	}
	result.Loader = loader.Stats()

	if scanErr == nil {
		result.Removed = s.catalog.RemoveUnseen(roots...)
		for _, name := range result.Removed {
			s.log.Info("removed vanished addon", "path", name)
		}
	}
	result.Changed = s.catalog.Changed()

	s.log.Info("scan finished",
		"scanned", result.Scanned,
		"skipped", result.Skipped,
		"removed", len(result.Removed),
		"placeholders", result.Loader.Placeholders,
		"duration", time.Since(start))
	if scanErr != nil {
		return result, fmt.Errorf("scan aborted: %w", scanErr)
	}
	return result, nil
}

// collect lists candidate files under roots, sorted and without duplicates.
// Missing roots are skipped so their entries are treated as vanished.
func (s *Scanner) collect(ctx context.Context, roots []string) ([]candidate, error) {
	var out []candidate
	add := func(path string, info fs.FileInfo) {
		if !info.Mode().IsRegular() || !s.accepts(path) {
			return
		}
		out = append(out, candidate{path: path, size: info.Size(), mtime: info.ModTime()})
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("scan path does not exist", "path", root)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root, info)
			continue
		}

		err = filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				s.log.Warn("cannot read scan path", "path", path, "error", err)
				if de != nil && de.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path != root && !s.opts.Recursive {
					return fs.SkipDir
				}
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return nil
			}
			if info.Mode()&fs.ModeSymlink != 0 {
				if info, err = os.Stat(path); err != nil {
					return nil
				}
			}
			add(path, info)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(out, func(a, b candidate) int { return strings.Compare(a.path, b.path) })
	return slices.CompactFunc(out, func(a, b candidate) bool { return a.path == b.path }), nil
}

func (s *Scanner) accepts(path string) bool {
	if len(s.opts.Extensions) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, ext := range s.opts.Extensions {
		if strings.HasSuffix(base, ext) || strings.Contains(base, ext+".") {
			return true
		}
	}
	return false
}
