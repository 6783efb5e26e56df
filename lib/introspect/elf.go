package introspect

import (
	"bufio"
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/snowmerak/plugscan/lib/descriptor"
)

const (
	DefaultEntrySymbol   = "plugscan_addon_init"
	DefaultFeaturePrefix = "plugscan_feature_"

	// MetadataSection optionally carries key=value lines describing the addon.
	MetadataSection = ".plugscan"
)

// ELF inspects shared objects without loading them.
type ELF struct {
	EntrySymbol   string
	FeaturePrefix string
}

// Introspect implements Introspector.
func (e *ELF) Introspect(ctx context.Context, path string) (*descriptor.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAddon, err)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAddon, path, f.Type)
	}
	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAddon, err)
	}

	entry := e.EntrySymbol
	if entry == "" {
		entry = DefaultEntrySymbol
	}
	prefix := e.FeaturePrefix
	if prefix == "" {
		prefix = DefaultFeaturePrefix
	}

	d := &descriptor.Descriptor{
		Name:     descriptor.NameFromPath(path),
		Filename: path,
		Size:     fi.Size(),
		MTime:    fi.ModTime(),
	}

	found := false
	for _, s := range syms {
		if s.Section == elf.SHN_UNDEF || elf.ST_BIND(s.Info) == elf.STB_LOCAL {
			continue
		}
		if s.Name == entry {
			found = true
			continue
		}
		if name, ok := strings.CutPrefix(s.Name, prefix); ok && name != "" {
			d.Features = append(d.Features, descriptor.Feature{
				Name: name,
				Kind: symbolKind(s),
			})
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoEntryPoint, entry, path)
	}
	// Versioned symbols may appear once per version.
	sort.Slice(d.Features, func(i, j int) bool { return d.Features[i].Name < d.Features[j].Name })
	d.Features = slices.CompactFunc(d.Features, func(a, b descriptor.Feature) bool { return a.Name == b.Name })
	if len(d.Features) == 0 {
		d.Features = nil
	}

	if d.Dependencies, err = f.ImportedLibraries(); err != nil {
		return nil, fmt.Errorf("read dependencies: %w", err)
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
	}
	if soname, err := f.DynString(elf.DT_SONAME); err == nil && len(soname) > 0 {
		d.Package = soname[0]
		if _, v, ok := strings.Cut(soname[0], ".so."); ok {
			d.Version = v
		}
	}

	if sec := f.Section(MetadataSection); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read %s section: %w", MetadataSection, err)
		}
		applyMetadata(d, data)
	}
	return d, nil
}

func symbolKind(s elf.Symbol) string {
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC, elf.STT_LOOS:
		return "function"
	case elf.STT_OBJECT:
		return "object"
	default:
		return "symbol"
	}
}

// applyMetadata overlays key=value entries onto d. Entries end at a newline
// or a NUL byte, so sections built from C string arrays parse too. Unknown
// keys are ignored.
func applyMetadata(d *descriptor.Descriptor, data []byte) {
	data = bytes.ReplaceAll(data, []byte{0}, []byte{'\n'})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "name":
			d.Name = value
		case "description":
			d.Description = value
		case "version":
			d.Version = value
		case "license":
			d.License = value
		case "source":
			d.Source = value
		case "package":
			d.Package = value
		case "origin":
			d.Origin = value
		case "release_date":
			d.ReleaseDate = value
		}
	}
}
