// Package descriptor holds the metadata record the worker produces for one
// addon file, its chunked wire layout and the placeholder used for files that
// could not be scanned.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/snowmerak/plugscan/lib/chunk"
)

// Flags describe how a descriptor came to be.
type Flags uint32

const (
	// Blacklisted marks a placeholder for a file whose scan failed.
	Blacklisted Flags = 1 << iota
	// Cached marks a descriptor restored from the persistent store.
	Cached
)

// Placeholder field values.
const (
	PlaceholderVersion     = "0.0.0"
	PlaceholderOrigin      = "BLACKLIST"
	PlaceholderDescription = "Plugin for blacklisted file"
)

const recordSize = 32

// ErrMalformed is returned by Decode for payloads that do not follow the
// chunk layout.
var ErrMalformed = errors.New("malformed descriptor payload")

// ErrInvalid is returned by Validate for descriptors that cannot be encoded.
var ErrInvalid = errors.New("invalid descriptor")

// Feature is one capability an addon exports.
type Feature struct {
	Name string
	Kind string
	Rank uint32
}

// Descriptor is the scanned metadata of one addon file.
type Descriptor struct {
	Name        string
	Description string
	Filename    string
	Version     string
	License     string
	Source      string
	Package     string
	Origin      string
	ReleaseDate string

	Size  int64
	MTime time.Time
	Flags Flags

	Dependencies []string
	Features     []Feature
}

// IsPlaceholder reports whether d stands in for a file that failed to scan.
func (d *Descriptor) IsPlaceholder() bool { return d.Flags&Blacklisted != 0 }

// Placeholder builds the stand-in recorded when path could not be scanned.
// Equal inputs produce equal placeholders.
func Placeholder(path string, size int64, mtime time.Time) *Descriptor {
	return &Descriptor{
		Name:        filepath.Base(path),
		Description: PlaceholderDescription,
		Filename:    path,
		Version:     PlaceholderVersion,
		License:     PlaceholderOrigin,
		Source:      PlaceholderOrigin,
		Package:     PlaceholderOrigin,
		Origin:      PlaceholderOrigin,
		Size:        size,
		MTime:       mtime,
		Flags:       Blacklisted,
	}
}

// NameFromPath derives an addon name from its file name: the directory, a
// "lib" prefix and every extension are stripped.
func NameFromPath(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if trimmed := strings.TrimPrefix(name, "lib"); trimmed != "" {
		name = trimmed
	}
	return name
}

func (d *Descriptor) strings() []*string {
	return []*string{
		&d.Name, &d.Description, &d.Filename, &d.Version, &d.License,
		&d.Source, &d.Package, &d.Origin, &d.ReleaseDate,
	}
}

// Validate reports whether d can be laid out as chunks. Strings travel
// NUL-terminated, so none may contain a NUL byte.
func (d *Descriptor) Validate() error {
	names := []string{"name", "description", "filename", "version", "license", "source", "package", "origin", "release date"}
	for i, s := range d.strings() {
		if strings.IndexByte(*s, 0) >= 0 {
			return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalid, names[i])
		}
	}
	for i, dep := range d.Dependencies {
		if strings.IndexByte(dep, 0) >= 0 {
			return fmt.Errorf("%w: dependency %d contains a NUL byte", ErrInvalid, i)
		}
	}
	for i, f := range d.Features {
		if strings.IndexByte(f.Name, 0) >= 0 || strings.IndexByte(f.Kind, 0) >= 0 {
			return fmt.Errorf("%w: feature %d contains a NUL byte", ErrInvalid, i)
		}
	}
	return nil
}

// Chunks lays d out as the LOAD_RESULT payload: an aligned fixed record,
// the string fields, the dependencies, then one aligned record plus name and
// kind per feature.
func (d *Descriptor) Chunks() []chunk.Chunk {
	out := make([]chunk.Chunk, 0, 1+9+len(d.Dependencies)+3*len(d.Features))

	rec := make([]byte, recordSize)
	binary.NativeEndian.PutUint64(rec[0:], uint64(d.Size))
	binary.NativeEndian.PutUint64(rec[8:], uint64(unixNano(d.MTime)))
	binary.NativeEndian.PutUint32(rec[16:], uint32(d.Flags))
	binary.NativeEndian.PutUint32(rec[20:], uint32(len(d.Features)))
	binary.NativeEndian.PutUint32(rec[24:], uint32(len(d.Dependencies)))
	out = append(out, chunk.Chunk{Data: rec, Align: true})

	for _, s := range d.strings() {
		out = append(out, chunk.String(*s))
	}
	for _, dep := range d.Dependencies {
		out = append(out, chunk.String(dep))
	}
	for _, f := range d.Features {
		frec := make([]byte, 8)
		binary.NativeEndian.PutUint32(frec, f.Rank)
		out = append(out, chunk.Chunk{Data: frec, Align: true}, chunk.String(f.Name), chunk.String(f.Kind))
	}
	return out
}

// Encode returns the flat payload for d.
func (d *Descriptor) Encode() []byte { return chunk.Concat(d.Chunks()) }

// Decode parses a payload produced by Chunks. The result owns its memory.
func Decode(payload []byte) (*Descriptor, error) {
	r := chunk.NewReader(payload)
	rec, err := r.Next(recordSize, true)
	if err != nil {
		return nil, fmt.Errorf("%w: record: %w", ErrMalformed, err)
	}
	d := &Descriptor{
		Size:  int64(binary.NativeEndian.Uint64(rec.Data[0:])),
		Flags: Flags(binary.NativeEndian.Uint32(rec.Data[16:])),
	}
	if ns := int64(binary.NativeEndian.Uint64(rec.Data[8:])); ns != 0 {
		d.MTime = time.Unix(0, ns)
	}
	nfeatures := binary.NativeEndian.Uint32(rec.Data[20:])
	ndeps := binary.NativeEndian.Uint32(rec.Data[24:])

	// Every dependency takes at least one byte and every feature at least
	// two, so counts beyond the payload are rejected before allocating.
	if uint64(ndeps)+2*uint64(nfeatures) > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d dependencies and %d features in %d bytes", ErrMalformed, ndeps, nfeatures, r.Remaining())
	}

	for _, s := range d.strings() {
		if *s, err = r.String(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	if ndeps > 0 {
		d.Dependencies = make([]string, ndeps)
		for i := range d.Dependencies {
			if d.Dependencies[i], err = r.String(); err != nil {
				return nil, fmt.Errorf("%w: dependency %d: %w", ErrMalformed, i, err)
			}
		}
	}
	if nfeatures > 0 {
		d.Features = make([]Feature, nfeatures)
		for i := range d.Features {
			f := &d.Features[i]
			frec, err := r.Next(8, true)
			if err != nil {
				return nil, fmt.Errorf("%w: feature %d: %w", ErrMalformed, i, err)
			}
			f.Rank = binary.NativeEndian.Uint32(frec.Data)
			if f.Name, err = r.String(); err != nil {
				return nil, fmt.Errorf("%w: feature %d: %w", ErrMalformed, i, err)
			}
			if f.Kind, err = r.String(); err != nil {
				return nil, fmt.Errorf("%w: feature %d: %w", ErrMalformed, i, err)
			}
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return d, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
