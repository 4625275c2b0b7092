package dev

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// Manifest is the module table written by the compiler. The runtime
// configuration fields sit at the top level next to the modules.
//
//	{
//	  "main": "app.js",
//	  "version": "a1b2c3",
//	  "roots": [0],
//	  "files": ["app.js", "button.js"],
//	  "modules": {
//	    "app.js":    {"kind": "esm", "symbol": "app#3", "deps": ["button.js"], "exportKeys": ["default"]},
//	    "button.js": {"kind": "cjs", "symbol": "button#1"}
//	  }
//	}
type Manifest struct {
	hmr.Config
	Modules map[hmr.ModuleID]ManifestModule `json:"modules"`
}

// ManifestModule is one module of the manifest. Deps use the compiler's
// encoding: strings name modules, integers are back-references.
type ManifestModule struct {
	Kind        string   `json:"kind"`
	Symbol      string   `json:"symbol"`
	Deps        []any    `json:"deps,omitempty"`
	ExportKeys  []string `json:"exportKeys,omitempty"`
	StarImports []string `json:"starImports,omitempty"`
	Async       bool     `json:"async,omitempty"`
}

// Module kinds accepted in a manifest.
const (
	KindESM      = "esm"
	KindCommonJS = "cjs"
)

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.Config.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if _, ok := m.Modules[m.Main]; !ok {
		return nil, fmt.Errorf("manifest: main module %q is not in the module table", m.Main)
	}
	for _, id := range m.IDs() {
		if _, err := m.record(id); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// IDs returns the module identifiers, sorted.
func (m *Manifest) IDs() []hmr.ModuleID {
	ids := make([]hmr.ModuleID, 0, len(m.Modules))
	for id := range m.Modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Deps returns the decoded dependency list of id.
func (m *Manifest) Deps(id hmr.ModuleID) ([]hmr.ModuleID, error) {
	mod, ok := m.Modules[id]
	if !ok {
		return nil, fmt.Errorf("manifest: %w: %s", hmr.ErrModuleNotFound, id)
	}
	entries, err := hmr.ParseDepEntries(mod.Deps)
	if err != nil {
		return nil, &hmr.DecodeError{ID: id, Reason: err.Error()}
	}
	deps, err := hmr.DecodeDeps(entries)
	if err != nil {
		return nil, &hmr.DecodeError{ID: id, Reason: err.Error()}
	}
	return deps, nil
}

// record converts one module to its wire form, keeping the compiler's
// back-references.
func (m *Manifest) record(id hmr.ModuleID) (protocol.ModuleRecord, error) {
	mod := m.Modules[id]
	rec := protocol.ModuleRecord{ID: string(id), Symbol: mod.Symbol}
	if mod.Symbol == "" {
		return rec, &hmr.DecodeError{ID: id, Reason: "missing body symbol"}
	}

	switch mod.Kind {
	case KindCommonJS:
		rec.Kind = protocol.ModuleCommonJS
		return rec, nil
	case KindESM:
		rec.Kind = protocol.ModuleESM
	default:
		return rec, &hmr.DecodeError{ID: id, Reason: fmt.Sprintf("unknown module kind %q", mod.Kind)}
	}

	entries, err := hmr.ParseDepEntries(mod.Deps)
	if err != nil {
		return rec, &hmr.DecodeError{ID: id, Reason: err.Error()}
	}
	if _, err := hmr.DecodeDeps(entries); err != nil {
		return rec, &hmr.DecodeError{ID: id, Reason: err.Error()}
	}
	for _, e := range entries {
		switch e := e.(type) {
		case hmr.DirectID:
			rec.Deps = append(rec.Deps, protocol.DepRef{ID: string(e.ID)})
		case hmr.BackRef:
			rec.Deps = append(rec.Deps, protocol.DepRef{Back: true, Index: uint32(e.Index)})
		}
	}
	rec.ExportKeys = mod.ExportKeys
	rec.StarImports = mod.StarImports
	rec.Async = mod.Async
	return rec, nil
}

// Records returns the wire records of every module, sorted by id.
func (m *Manifest) Records() ([]protocol.ModuleRecord, error) {
	recs := make([]protocol.ModuleRecord, 0, len(m.Modules))
	for _, id := range m.IDs() {
		rec, err := m.record(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Diff describes how next differs from prev.
type Diff struct {
	// Batch carries the changed modules, file indices and roots. It is nil
	// when nothing changed.
	Batch *protocol.UpdateBatch

	// Reload is set when the change cannot be expressed as an update.
	Reload string
}

// DiffManifests compares two manifests and builds the batch of generation.
func DiffManifests(prev, next *Manifest, generation uint64) (Diff, error) {
	switch {
	case prev.Main != next.Main:
		return Diff{Reload: "entry point changed"}, nil
	case prev.Refresh != next.Refresh:
		return Diff{Reload: "refresh runtime changed"}, nil
	case prev.SeparateSSRGraph != next.SeparateSSRGraph:
		return Diff{Reload: "server graph mode changed"}, nil
	case prev.RuntimeVersion != next.RuntimeVersion:
		return Diff{Reload: "runtime version changed"}, nil
	case len(next.Files) < len(prev.Files):
		return Diff{Reload: "files removed"}, nil
	}
	for id := range prev.Modules {
		if _, ok := next.Modules[id]; !ok {
			return Diff{Reload: fmt.Sprintf("module %s removed", id)}, nil
		}
	}

	batch := &protocol.UpdateBatch{Generation: generation}
	for i, id := range next.Files {
		if i < len(prev.Files) && prev.Files[i] == id {
			continue
		}
		if i < len(prev.Files) {
			return Diff{Reload: fmt.Sprintf("file index %d reassigned", i)}, nil
		}
		batch.Files = append(batch.Files, protocol.FileEntry{Index: uint32(i), ID: string(id)})
	}

	roots := make(map[hmr.FileIndex]struct{}, len(prev.Roots))
	for _, r := range prev.Roots {
		roots[r] = struct{}{}
	}
	kept := 0
	for _, r := range next.Roots {
		if _, ok := roots[r]; ok {
			kept++
			continue
		}
		batch.AddedRoots = append(batch.AddedRoots, uint32(r))
		roots[r] = struct{}{}
	}
	if kept < len(prev.Roots) {
		return Diff{Reload: "roots removed"}, nil
	}

	for _, id := range next.IDs() {
		if old, ok := prev.Modules[id]; ok && reflect.DeepEqual(old, next.Modules[id]) {
			continue
		}
		rec, err := next.record(id)
		if err != nil {
			return Diff{}, err
		}
		batch.Modules = append(batch.Modules, rec)
	}

	if len(batch.Modules) == 0 && len(batch.Files) == 0 && len(batch.AddedRoots) == 0 {
		return Diff{}, nil
	}
	return Diff{Batch: batch}, nil
}
