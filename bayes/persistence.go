package bayes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hickeroar/storebayes/store"
)

const snapshotVersion = 1

type tempFile interface {
	io.Writer
	Sync() error
	Close() error
	Name() string
}

var (
	errNilWriter          = errors.New("writer is nil")
	errNilReader          = errors.New("reader is nil")
	errPathRequired       = errors.New("snapshot path is required")
	errUnsupportedVersion = errors.New("unsupported snapshot version")
	errInvalidSnapshot    = errors.New("invalid snapshot")
	createTemp            = func(dir, pattern string) (tempFile, error) { return os.CreateTemp(dir, pattern) }
	renameFile            = os.Rename
	removeFile            = os.Remove
)

// Snapshot is a point-in-time copy of a namespace's counters, keyed by the
// logical grouping ("words", "sets", "blacklist") so it can be loaded into a
// different namespace.
type Snapshot struct {
	Version   int                         `msgpack:"version"`
	Namespace string                      `msgpack:"namespace"`
	Groupings map[string]map[string]int64 `msgpack:"groupings"`
}

func (c *Classifier) groupings() map[string]string {
	return map[string]string{
		"words":     c.words,
		"sets":      c.sets,
		"blacklist": c.blacklist,
	}
}

// Export reads every counter of the namespace. Concurrent training may be
// partially visible in the result.
func (c *Classifier) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:   snapshotVersion,
		Namespace: c.namespace,
		Groupings: make(map[string]map[string]int64, 3),
	}
	for name, collection := range c.groupings() {
		keys, err := c.store.Keys(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		values, err := c.store.MultiGet(ctx, collection, keys)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		snap.Groupings[name] = values
	}
	return snap, nil
}

// Import replaces the namespace's counters with the snapshot's.
func (c *Classifier) Import(ctx context.Context, snap *Snapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	collections := c.groupings()
	if err := c.store.Drop(ctx, c.words, c.sets, c.blacklist); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	var deltas []store.Delta
	for name, values := range snap.Groupings {
		for key, v := range values {
			deltas = append(deltas, store.Delta{Collection: collections[name], Key: key, By: v})
		}
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Collection != deltas[j].Collection {
			return deltas[i].Collection < deltas[j].Collection
		}
		return deltas[i].Key < deltas[j].Key
	})
	if err := store.ApplyDeltas(ctx, c.store, deltas); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	c.logger.Info("imported snapshot", "from_namespace", snap.Namespace, "counters", len(deltas))
	return nil
}

func validateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", errInvalidSnapshot)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: %d", errUnsupportedVersion, snap.Version)
	}
	for name, values := range snap.Groupings {
		switch name {
		case "words", "sets", "blacklist":
		default:
			return fmt.Errorf("%w: unknown grouping %q", errInvalidSnapshot, name)
		}
		for key := range values {
			if key == "" {
				return fmt.Errorf("%w: empty key in %s", errInvalidSnapshot, name)
			}
		}
	}
	return nil
}

// Save writes a msgpack-encoded snapshot of the namespace to w.
func (c *Classifier) Save(ctx context.Context, w io.Writer) error {
	if w == nil {
		return errNilWriter
	}

	snap, err := c.Export(ctx)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Load reads a msgpack-encoded snapshot from r and imports it.
func (c *Classifier) Load(ctx context.Context, r io.Reader) error {
	if r == nil {
		return errNilReader
	}

	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return c.Import(ctx, &snap)
}

// SaveToFile writes a snapshot to path atomically.
func (c *Classifier) SaveToFile(ctx context.Context, path string) error {
	if path == "" {
		return errPathRequired
	}

	dir := filepath.Dir(path)
	tmp, err := createTemp(dir, ".storebayes-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tmp.Name()
	defer removeFile(tempPath)

	if err := c.Save(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := renameFile(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadFromFile imports the snapshot stored at path.
func (c *Classifier) LoadFromFile(ctx context.Context, path string) error {
	if path == "" {
		return errPathRequired
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	return c.Load(ctx, f)
}
