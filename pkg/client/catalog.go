package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// Catalog maps body symbols to compiled module bodies.
type Catalog struct {
	mu  sync.RWMutex
	esm map[string]hmr.LoadFunc
	cjs map[string]hmr.CommonJSFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		esm: make(map[string]hmr.LoadFunc),
		cjs: make(map[string]hmr.CommonJSFunc),
	}
}

// ESM registers an ESM body under symbol.
func (c *Catalog) ESM(symbol string, fn hmr.LoadFunc) *Catalog {
	c.mu.Lock()
	c.esm[symbol] = fn
	c.mu.Unlock()
	return c
}

// CommonJS registers a CommonJS body under symbol.
func (c *Catalog) CommonJS(symbol string, fn hmr.CommonJSFunc) *Catalog {
	c.mu.Lock()
	c.cjs[symbol] = fn
	c.mu.Unlock()
	return c
}

// Symbols returns every registered symbol, sorted.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.esm)+len(c.cjs))
	for s := range c.esm {
		out = append(out, s)
	}
	for s := range c.cjs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Entry converts one wire record into a raw descriptor table value. A
// symbol the catalog does not know is a decode error.
func (c *Catalog) Entry(rec *protocol.ModuleRecord) (any, error) {
	id := hmr.ModuleID(rec.ID)
	switch rec.Kind {
	case protocol.ModuleMaterialized:
		return true, nil

	case protocol.ModuleESM:
		c.mu.RLock()
		fn, ok := c.esm[rec.Symbol]
		c.mu.RUnlock()
		if !ok {
			return nil, unknownSymbol(id, rec.Symbol)
		}
		deps := make([]any, len(rec.Deps))
		for i, d := range rec.Deps {
			if d.Back {
				deps[i] = int(d.Index)
			} else {
				deps[i] = d.ID
			}
		}
		star := make([]hmr.ModuleID, len(rec.StarImports))
		for i, s := range rec.StarImports {
			star[i] = hmr.ModuleID(s)
		}
		return hmr.RawESM{
			Deps:        deps,
			ExportKeys:  rec.ExportKeys,
			StarImports: star,
			Load:        fn,
			Async:       rec.Async,
		}, nil

	case protocol.ModuleCommonJS:
		c.mu.RLock()
		fn, ok := c.cjs[rec.Symbol]
		c.mu.RUnlock()
		if !ok {
			return nil, unknownSymbol(id, rec.Symbol)
		}
		return fn, nil

	default:
		return nil, &hmr.DecodeError{ID: id, Reason: fmt.Sprintf("unknown module kind %d", rec.Kind)}
	}
}

// Table converts module records into a raw descriptor table.
func (c *Catalog) Table(records []protocol.ModuleRecord) (hmr.RawTable, error) {
	table := make(hmr.RawTable, len(records))
	for i := range records {
		id := hmr.ModuleID(records[i].ID)
		if _, dup := table[id]; dup {
			return nil, &hmr.DecodeError{ID: id, Reason: "duplicate module record"}
		}
		v, err := c.Entry(&records[i])
		if err != nil {
			return nil, err
		}
		table[id] = v
	}
	return table, nil
}

// Batch converts a wire update into a coordinator batch.
func (c *Catalog) Batch(u *protocol.UpdateBatch) (hmr.Batch, error) {
	table, err := c.Table(u.Modules)
	if err != nil {
		return hmr.Batch{}, err
	}
	b := hmr.Batch{Generation: u.Generation, Modules: table}
	if len(u.Files) > 0 {
		b.Files = make(map[hmr.FileIndex]hmr.ModuleID, len(u.Files))
		for _, f := range u.Files {
			b.Files[hmr.FileIndex(f.Index)] = hmr.ModuleID(f.ID)
		}
	}
	for _, r := range u.AddedRoots {
		b.AddedRoots = append(b.AddedRoots, hmr.FileIndex(r))
	}
	return b, nil
}

// SymbolError reports a record whose body symbol is not in the catalog.
// It matches hmr.ErrDecode.
type SymbolError struct {
	ID     hmr.ModuleID
	Symbol string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("hmr: decode %q: unknown body symbol %q", e.ID, e.Symbol)
}

// Unwrap returns hmr.ErrDecode.
func (e *SymbolError) Unwrap() error {
	return hmr.ErrDecode
}

func unknownSymbol(id hmr.ModuleID, symbol string) error {
	return &SymbolError{ID: id, Symbol: symbol}
}

// ConfigFromRecord converts the wire configuration.
func ConfigFromRecord(r *protocol.ConfigRecord) hmr.Config {
	cfg := hmr.Config{
		Main:             hmr.ModuleID(r.Main),
		SeparateSSRGraph: r.SeparateSSRGraph,
		RuntimeVersion:   r.RuntimeVersion,
		Version:          r.Version,
		Refresh:          hmr.ModuleID(r.Refresh),
		Console:          r.Console,
		Generation:       r.Generation,
	}
	for _, idx := range r.Roots {
		cfg.Roots = append(cfg.Roots, hmr.FileIndex(idx))
	}
	for _, f := range r.Files {
		cfg.Files = append(cfg.Files, hmr.ModuleID(f))
	}
	return cfg
}

// RecordFromConfig converts a configuration to its wire form.
func RecordFromConfig(cfg hmr.Config) protocol.ConfigRecord {
	r := protocol.ConfigRecord{
		Main:             string(cfg.Main),
		SeparateSSRGraph: cfg.SeparateSSRGraph,
		RuntimeVersion:   cfg.RuntimeVersion,
		Version:          cfg.Version,
		Refresh:          string(cfg.Refresh),
		Console:          cfg.Console,
		Generation:       cfg.Generation,
	}
	for _, idx := range cfg.Roots {
		r.Roots = append(r.Roots, uint32(idx))
	}
	for _, f := range cfg.Files {
		r.Files = append(r.Files, string(f))
	}
	return r
}
