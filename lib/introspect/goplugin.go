package introspect

import (
	"context"
	"fmt"
	"os"
	"plugin"

	"github.com/snowmerak/plugscan/lib/descriptor"
)

// DefaultGoSymbol is the exported function a Go plugin provides.
const DefaultGoSymbol = "PlugscanDescriptor"

// GoPlugin loads Go plugins built with -buildmode=plugin and calls their
// descriptor function. Loading runs addon init code and cannot be undone.
type GoPlugin struct {
	Symbol string
}

// Introspect implements Introspector.
func (g *GoPlugin) Introspect(ctx context.Context, path string) (*descriptor.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	name := g.Symbol
	if name == "" {
		name = DefaultGoSymbol
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAddon, err)
	}
	sym, err := p.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEntryPoint, err)
	}
	fn, ok := sym.(func() *descriptor.Descriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %T", ErrNoEntryPoint, name, sym)
	}

	d := fn()
	if d == nil {
		return nil, fmt.Errorf("%s returned no descriptor", name)
	}
	if d.Name == "" {
		d.Name = descriptor.NameFromPath(path)
	}
	d.Filename = path
	d.Size = fi.Size()
	d.MTime = fi.ModTime()
	return d, nil
}
