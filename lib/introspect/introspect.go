// Package introspect extracts a descriptor from an addon file. Introspection
// may crash or hang on hostile input, so it only ever runs inside a worker.
package introspect

import (
	"context"
	"errors"
	"fmt"

	"github.com/snowmerak/plugscan/lib/descriptor"
)

// Introspector turns one addon file into its descriptor.
type Introspector interface {
	Introspect(ctx context.Context, path string) (*descriptor.Descriptor, error)
}

// Func adapts a function to Introspector.
type Func func(ctx context.Context, path string) (*descriptor.Descriptor, error)

// Introspect implements Introspector.
func (f Func) Introspect(ctx context.Context, path string) (*descriptor.Descriptor, error) {
	return f(ctx, path)
}

// Modes accepted by New.
const (
	ModeELF      = "elf"
	ModeGoPlugin = "goplugin"
)

var (
	// ErrNotAddon is returned for files that are not loadable addons.
	ErrNotAddon = errors.New("not an addon")
	// ErrNoEntryPoint is returned when the addon lacks its entry symbol.
	ErrNoEntryPoint = errors.New("entry symbol not found")
)

// Options tune the built-in introspectors. Empty fields take defaults.
type Options struct {
	EntrySymbol   string
	FeaturePrefix string
}

// New returns the introspector for mode.
func New(mode string, opts Options) (Introspector, error) {
	switch mode {
	case ModeELF, "":
		return &ELF{EntrySymbol: opts.EntrySymbol, FeaturePrefix: opts.FeaturePrefix}, nil
	case ModeGoPlugin:
		return &GoPlugin{Symbol: opts.EntrySymbol}, nil
	default:
		return nil, fmt.Errorf("unknown introspection mode %q", mode)
	}
}
