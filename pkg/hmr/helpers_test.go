package hmr

import (
	"context"
	"testing"
)

// esm builds a raw ESM record from a body.
func esm(deps []any, keys []string, load LoadFunc) RawESM {
	return RawESM{Deps: deps, ExportKeys: keys, Load: load}
}

// cjs converts a plain function literal into a CommonJS body.
func cjs(body func(ctx context.Context, m *Module, c *CommonJS) error) CommonJSFunc {
	return body
}

func setter(key string, v any) LoadFunc {
	return func(ctx context.Context, m *Module) error {
		return m.Export(key, v)
	}
}

func newTestRegistry(t *testing.T, table RawTable) *Registry {
	t.Helper()
	reg := NewRegistry(Options{})
	if err := reg.RegisterTable(table); err != nil {
		t.Fatalf("RegisterTable() error = %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func mustGet(t *testing.T, ex *Exports, key string) any {
	t.Helper()
	v, err := ex.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	return v
}

func mustModule(t *testing.T, reg *Registry, id ModuleID) *Module {
	t.Helper()
	m, ok := reg.Get(id)
	if !ok {
		t.Fatalf("Get(%q) not found", id)
	}
	return m
}

func equalIDs(a, b []ModuleID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
