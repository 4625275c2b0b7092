package client

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

func noop(ctx context.Context, m *hmr.Module) error { return nil }

func TestCatalog_Table(t *testing.T) {
	cat := NewCatalog().
		ESM("app", noop).
		CommonJS("lib", func(ctx context.Context, m *hmr.Module, c *hmr.CommonJS) error { return nil })

	table, err := cat.Table([]protocol.ModuleRecord{
		{
			ID:          "app.js",
			Kind:        protocol.ModuleESM,
			Symbol:      "app",
			Deps:        []protocol.DepRef{{ID: "lib.js"}, {ID: "util.js"}, {Back: true, Index: 0}},
			ExportKeys:  []string{"default"},
			StarImports: []string{"util.js"},
			Async:       true,
		},
		{ID: "lib.js", Kind: protocol.ModuleCommonJS, Symbol: "lib"},
		{ID: "util.js", Kind: protocol.ModuleMaterialized},
	})
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}

	decoded, err := hmr.Decode(table)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	app, ok := decoded.Descriptors["app.js"].(*hmr.ESMDescriptor)
	if !ok {
		t.Fatalf("app.js = %T, want *hmr.ESMDescriptor", decoded.Descriptors["app.js"])
	}
	want := []hmr.ModuleID{"lib.js", "util.js", "lib.js"}
	if len(app.Deps) != len(want) {
		t.Fatalf("Deps = %v, want %v", app.Deps, want)
	}
	for i := range want {
		if app.Deps[i] != want[i] {
			t.Errorf("Deps[%d] = %q, want %q", i, app.Deps[i], want[i])
		}
	}
	if !app.Async || len(app.StarImports) != 1 || app.StarImports[0] != "util.js" {
		t.Errorf("app.js = %+v", app)
	}
	if _, ok := decoded.Descriptors["lib.js"].(*hmr.CommonJSDescriptor); !ok {
		t.Errorf("lib.js = %T, want *hmr.CommonJSDescriptor", decoded.Descriptors["lib.js"])
	}
	if len(decoded.Materialized) != 1 || decoded.Materialized[0] != "util.js" {
		t.Errorf("Materialized = %v, want [util.js]", decoded.Materialized)
	}
}

func TestCatalog_TableErrors(t *testing.T) {
	cat := NewCatalog().ESM("app", noop)

	tests := []struct {
		name    string
		records []protocol.ModuleRecord
		symbol  bool
	}{
		{
			name:    "unknown esm symbol",
			records: []protocol.ModuleRecord{{ID: "a.js", Kind: protocol.ModuleESM, Symbol: "missing"}},
			symbol:  true,
		},
		{
			name:    "esm symbol used as commonjs",
			records: []protocol.ModuleRecord{{ID: "a.js", Kind: protocol.ModuleCommonJS, Symbol: "app"}},
			symbol:  true,
		},
		{
			name:    "unknown kind",
			records: []protocol.ModuleRecord{{ID: "a.js", Kind: 9}},
		},
		{
			name: "duplicate record",
			records: []protocol.ModuleRecord{
				{ID: "a.js", Kind: protocol.ModuleMaterialized},
				{ID: "a.js", Kind: protocol.ModuleMaterialized},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cat.Table(tc.records)
			if !errors.Is(err, hmr.ErrDecode) {
				t.Fatalf("Table() error = %v, want ErrDecode", err)
			}
			var se *SymbolError
			if errors.As(err, &se) != tc.symbol {
				t.Errorf("SymbolError = %v, want %v", errors.As(err, &se), tc.symbol)
			}
			if tc.symbol && ErrorCode(err, protocol.ErrUpdate) != protocol.ErrUnknownSymbol {
				t.Errorf("ErrorCode() = %v, want UnknownSymbol", ErrorCode(err, protocol.ErrUpdate))
			}
		})
	}
}

func TestCatalog_Batch(t *testing.T) {
	cat := NewCatalog().ESM("app", noop)
	b, err := cat.Batch(&protocol.UpdateBatch{
		Generation: 4,
		Files:      []protocol.FileEntry{{Index: 3, ID: "new.js"}},
		AddedRoots: []uint32{3},
		Modules:    []protocol.ModuleRecord{{ID: "new.js", Kind: protocol.ModuleESM, Symbol: "app"}},
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if b.Generation != 4 || b.Files[3] != "new.js" || len(b.AddedRoots) != 1 || b.AddedRoots[0] != 3 {
		t.Errorf("Batch() = %+v", b)
	}
	if _, ok := b.Modules["new.js"].(hmr.RawESM); !ok {
		t.Errorf("Modules[new.js] = %T, want hmr.RawESM", b.Modules["new.js"])
	}
}

func TestConfigRecord(t *testing.T) {
	cfg := hmr.Config{
		Main:       "main.js",
		Version:    "abc",
		Refresh:    "refresh.js",
		Roots:      []hmr.FileIndex{0, 2},
		Files:      []hmr.ModuleID{"main.js", "a.js", "b.js"},
		Console:    true,
		Generation: 7,
	}
	got := ConfigFromRecord(ptr(RecordFromConfig(cfg)))
	if got.Main != cfg.Main || got.Version != cfg.Version || got.Refresh != cfg.Refresh ||
		got.Generation != 7 || !got.Console || len(got.Roots) != 2 || got.Roots[1] != 2 ||
		len(got.Files) != 3 || got.Files[2] != "b.js" {
		t.Errorf("ConfigFromRecord(RecordFromConfig()) = %+v", got)
	}
}

func ptr[T any](v T) *T { return &v }

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.ErrorCode
	}{
		{&hmr.DecodeError{ID: "a", Reason: "x"}, protocol.ErrDecode},
		{&hmr.LoadError{ID: "a", Err: errors.New("boom")}, protocol.ErrLoad},
		{&hmr.GenerationError{Current: 1, Got: 5}, protocol.ErrStaleGeneration},
		{errors.New("boom"), protocol.ErrLoad},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err, protocol.ErrLoad); got != tc.want {
			t.Errorf("ErrorCode(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
