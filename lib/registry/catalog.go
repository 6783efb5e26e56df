// Package registry keeps the catalog of scanned addons, persists it and
// drives directory scans through a plugin.Loader.
package registry

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/snowmerak/plugscan/lib/descriptor"
)

type entry struct {
	d    *descriptor.Descriptor
	seen bool
}

// Catalog maps addon filenames to their descriptors. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
	changed bool
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*entry)}
}

// Add installs d under its filename, replacing any previous entry, and
// marks it seen. It implements plugin.Catalog.
func (c *Catalog) Add(d *descriptor.Descriptor) error {
	if d == nil {
		return errors.New("nil descriptor")
	}
	if d.Filename == "" {
		return errors.New("descriptor has no filename")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.Filename] = &entry{d: d, seen: true}
	c.changed = true
	return nil
}

// restore installs a persisted descriptor without marking the catalog
// changed.
func (c *Catalog) restore(d *descriptor.Descriptor) {
	d.Flags |= descriptor.Cached
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.Filename] = &entry{d: d}
}

// Lookup returns the descriptor for filename.
func (c *Catalog) Lookup(filename string) (*descriptor.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[filename]
	if !ok {
		return nil, false
	}
	return e.d, true
}

// Remove drops filename and reports whether it was present.
func (c *Catalog) Remove(filename string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[filename]; !ok {
		return false
	}
	delete(c.entries, filename)
	c.changed = true
	return true
}

// All returns every descriptor ordered by filename.
func (c *Catalog) All() []*descriptor.Descriptor {
	c.mu.RLock()
	out := make([]*descriptor.Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.d)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IsFresh reports whether filename is cataloged with the given size and
// modification time, so scanning it again would change nothing.
func (c *Catalog) IsFresh(filename string, size int64, mtime time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[filename]
	return ok && e.d.Size == size && e.d.MTime.Equal(mtime)
}

// MarkSeen records that filename still exists on disk.
func (c *Catalog) MarkSeen(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[filename]; ok {
		e.seen = true
	}
}

// ResetSeen clears the seen mark of every entry before a scan.
func (c *Catalog) ResetSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.seen = false
	}
}

// RemoveUnseen drops every entry not seen since the last ResetSeen whose
// filename lies under one of roots, or every unseen entry when roots is
// empty. The removed filenames are returned sorted.
func (c *Catalog) RemoveUnseen(roots ...string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for name, e := range c.entries {
		if e.seen || !under(name, roots) {
			continue
		}
		delete(c.entries, name)
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		c.changed = true
	}
	sort.Strings(removed)
	return removed
}

// Changed reports whether the catalog differs from what was last loaded or
// saved.
func (c *Catalog) Changed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

func (c *Catalog) clearChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changed = false
}

func under(name string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		root = filepath.Clean(root)
		if name == root || strings.HasPrefix(name, root+string(filepath.Separator)) || root == string(filepath.Separator) {
			return true
		}
	}
	return false
}
