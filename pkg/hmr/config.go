package hmr

import (
	"errors"
	"fmt"
)

// Config is the session-wide runtime configuration. A Config value is
// immutable for one generation; the Coordinator publishes a fresh copy
// whenever a generation settles.
type Config struct {
	// Main is the framework entry point.
	Main ModuleID `json:"main"`

	// SeparateSSRGraph is set on servers that keep a separate graph for
	// server-side rendering.
	SeparateSSRGraph bool `json:"separateSSRGraph,omitempty"`

	// RuntimeVersion is the version of the runtime that produced the
	// bundle.
	RuntimeVersion string `json:"bun,omitempty"`

	// Version is the dev server's configuration key. Client and server
	// must agree on it for updates to be compatible.
	Version string `json:"version"`

	// Refresh is the identifier of the UI framework's refresh runtime, if
	// one is available.
	Refresh ModuleID `json:"refresh,omitempty"`

	// Roots lists the modules the update algorithm must re-evaluate
	// reachability from: the entry point and every known boundary.
	Roots []FileIndex `json:"roots"`

	// Files resolves a FileIndex to its module identifier.
	Files []ModuleID `json:"files,omitempty"`

	// Console enables forwarding of server console output to the client.
	Console bool `json:"console"`

	Generation uint64 `json:"generation"`
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.Roots = append([]FileIndex(nil), c.Roots...)
	c.Files = append([]ModuleID(nil), c.Files...)
	return c
}

// Validate checks the internal consistency of the record.
func (c Config) Validate() error {
	var errs []error
	if c.Main == "" {
		errs = append(errs, errors.New("main entry point is empty"))
	}
	for _, idx := range c.Roots {
		if idx < 0 || int(idx) >= len(c.Files) {
			errs = append(errs, fmt.Errorf("root %d is not a known file index", idx))
		}
	}
	return errors.Join(errs...)
}

// FileID resolves a file index.
func (c Config) FileID(idx FileIndex) (ModuleID, bool) {
	if idx < 0 || int(idx) >= len(c.Files) || c.Files[idx] == "" {
		return "", false
	}
	return c.Files[idx], true
}

// RootIDs returns the root set: Main followed by every resolvable root, in
// order and without duplicates.
func (c Config) RootIDs() []ModuleID {
	seen := make(map[ModuleID]struct{}, len(c.Roots)+1)
	var ids []ModuleID
	add := func(id ModuleID) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(c.Main)
	for _, idx := range c.Roots {
		if id, ok := c.FileID(idx); ok {
			add(id)
		}
	}
	return ids
}

// checkFiles rejects file indices that would leave the file table sparse.
// A batch may reassign existing indices or append right after them.
func (c Config) checkFiles(b Batch) error {
	limit := len(c.Files) + len(b.Files)
	for idx, id := range b.Files {
		if idx < 0 || int(idx) >= limit {
			return decodeErrorf(id, "file index %d out of range, table has %d files", idx, len(c.Files))
		}
	}
	return nil
}

// withBatch returns the configuration of the generation b produces.
func (c Config) withBatch(b Batch) Config {
	next := c.Clone()
	for idx, id := range b.Files {
		if idx < 0 {
			continue
		}
		for int(idx) >= len(next.Files) {
			next.Files = append(next.Files, "")
		}
		next.Files[idx] = id
	}
	for _, idx := range b.AddedRoots {
		dup := false
		for _, r := range next.Roots {
			if r == idx {
				dup = true
				break
			}
		}
		if !dup {
			next.Roots = append(next.Roots, idx)
		}
	}
	next.Generation = b.Generation
	return next
}
