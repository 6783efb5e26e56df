package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/snowmerak/plugscan/lib/descriptor"
)

// Key namespace:
//
// Data Type     Prefix   Key Format        Value Type
// ====================================================================
// Descriptor    "p:"     p:<filename>      descriptor record (protobuf)
const prefixPlugin = "p:"

func keyPlugin(filename string) []byte {
	return []byte(prefixPlugin + filename)
}

// Store persists a Catalog in a badger database.
type Store struct {
	db  *badgerdb.DB
	log *slog.Logger
}

// OpenStore opens or creates the database in dir. An empty dir keeps the
// store in memory.
func OpenStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts := badgerdb.DefaultOptions(dir).WithLogger(badgerLogger{log})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store %q: %w", dir, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load restores every persisted descriptor into c and returns how many were
// read. Corrupted records are skipped.
func (s *Store) Load(ctx context.Context, c *Catalog) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPlugin)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				d := new(descriptor.Descriptor)
				if err := d.UnmarshalBinary(val); err != nil {
					s.log.Warn("skipping corrupted catalog record", "key", string(item.Key()), "error", err)
					return nil
				}
				if d.Filename == "" {
					d.Filename = strings.TrimPrefix(string(item.Key()), prefixPlugin)
				}
				c.restore(d)
				n++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to load catalog: %w", err)
	}
	c.clearChanged()
	return n, nil
}

// Save replaces the persisted catalog with the content of c.
func (s *Store) Save(ctx context.Context, c *Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	all := c.All()
	keep := make(map[string]struct{}, len(all))
	for _, d := range all {
		keep[d.Filename] = struct{}{}
	}

	var stale [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixPlugin)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := keep[strings.TrimPrefix(string(key), prefixPlugin)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list catalog: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	for _, d := range all {
		rec := *d
		rec.Flags &^= descriptor.Cached
		val, err := rec.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", d.Filename, err)
		}
		if err := wb.Set(keyPlugin(d.Filename), val); err != nil {
			return fmt.Errorf("failed to store %s: %w", d.Filename, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	c.clearChanged()
	return nil
}

// badgerLogger routes badger's own logging into slog, demoting its chatty
// info output to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
