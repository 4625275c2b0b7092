package hmr

import (
	"context"
	"fmt"
	"sort"
)

// Kind distinguishes the two descriptor shapes.
type Kind uint8

const (
	KindESM Kind = iota + 1
	KindCommonJS
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindESM:
		return "esm"
	case KindCommonJS:
		return "commonjs"
	default:
		return "unknown"
	}
}

// LoadFunc is the body of an ESM module. It publishes bindings through
// m.Export.
type LoadFunc func(ctx context.Context, m *Module) error

// CommonJSFunc is the body of a CommonJS module. It mutates cjs.Exports and
// pulls dependencies lazily through cjs.Require.
type CommonJSFunc func(ctx context.Context, m *Module, cjs *CommonJS) error

// Descriptor describes how to load one module. It is either an
// *ESMDescriptor or a *CommonJSDescriptor.
type Descriptor interface {
	Kind() Kind
}

// ESMDescriptor is a decoded ESM module.
type ESMDescriptor struct {
	// Deps is the resolved dependency list in declaration order.
	Deps []ModuleID
	// ExportKeys is the ordered set of names the module binds.
	ExportKeys []string
	// StarImports lists dependencies consumed as namespace objects.
	StarImports []ModuleID
	Load        LoadFunc
	// Async marks bodies that may wait on modules outside Deps.
	Async bool
}

// Kind returns KindESM.
func (d *ESMDescriptor) Kind() Kind { return KindESM }

// CommonJSDescriptor is a decoded CommonJS module.
type CommonJSDescriptor struct {
	Body CommonJSFunc
}

// Kind returns KindCommonJS.
func (d *CommonJSDescriptor) Kind() Kind { return KindCommonJS }

// RawESM is the compiler's ESM record before its dependency list is
// decoded.
type RawESM struct {
	Deps        []any
	ExportKeys  []string
	StarImports []ModuleID
	Load        LoadFunc
	Async       bool
}

// RawTable maps module identifiers to raw descriptors or to the
// materialized sentinel true.
type RawTable map[ModuleID]any

// Decoded is the normalized form of a RawTable.
type Decoded struct {
	Descriptors  map[ModuleID]Descriptor
	Materialized []ModuleID
}

// IDs returns the identifiers that carry a descriptor, sorted.
func (d *Decoded) IDs() []ModuleID {
	ids := make([]ModuleID, 0, len(d.Descriptors))
	for id := range d.Descriptors {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Decode normalizes a raw descriptor table. Any malformed entry aborts the
// whole table with a *DecodeError.
func Decode(raw RawTable) (*Decoded, error) {
	out := &Decoded{Descriptors: make(map[ModuleID]Descriptor, len(raw))}

	ids := make([]ModuleID, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sortIDs(ids)

	for _, id := range ids {
		desc, materialized, err := DecodeEntry(id, raw[id])
		if err != nil {
			return nil, err
		}
		if materialized {
			out.Materialized = append(out.Materialized, id)
			continue
		}
		out.Descriptors[id] = desc
	}
	return out, nil
}

// DecodeEntry normalizes one raw value. It reports materialized=true for the
// sentinel.
func DecodeEntry(id ModuleID, v any) (Descriptor, bool, error) {
	if id == "" {
		return nil, false, decodeErrorf(id, "empty module id")
	}

	switch v := v.(type) {
	case bool:
		if !v {
			return nil, false, decodeErrorf(id, "sentinel must be true")
		}
		return nil, true, nil
	case RawESM:
		d, err := decodeESM(id, v)
		return d, false, err
	case *RawESM:
		if v == nil {
			return nil, false, decodeErrorf(id, "nil descriptor")
		}
		d, err := decodeESM(id, *v)
		return d, false, err
	case []any:
		r, err := esmFromTuple(id, v)
		if err != nil {
			return nil, false, err
		}
		d, err := decodeESM(id, r)
		return d, false, err
	case CommonJSFunc:
		if v == nil {
			return nil, false, decodeErrorf(id, "nil CommonJS body")
		}
		return &CommonJSDescriptor{Body: v}, false, nil
	case func(context.Context, *Module, *CommonJS) error:
		if v == nil {
			return nil, false, decodeErrorf(id, "nil CommonJS body")
		}
		return &CommonJSDescriptor{Body: v}, false, nil
	case *ESMDescriptor:
		if v == nil {
			return nil, false, decodeErrorf(id, "nil descriptor")
		}
		return v, false, validateESM(id, v)
	case *CommonJSDescriptor:
		if v == nil || v.Body == nil {
			return nil, false, decodeErrorf(id, "nil CommonJS body")
		}
		return v, false, nil
	default:
		return nil, false, decodeErrorf(id, "unknown descriptor shape %T", v)
	}
}

func esmFromTuple(id ModuleID, t []any) (RawESM, error) {
	if len(t) != 5 {
		return RawESM{}, decodeErrorf(id, "ESM tuple has %d elements, want 5", len(t))
	}

	var r RawESM
	switch deps := t[0].(type) {
	case []any:
		r.Deps = deps
	case []string:
		r.Deps = make([]any, len(deps))
		for i, s := range deps {
			r.Deps[i] = s
		}
	case nil:
	default:
		return RawESM{}, decodeErrorf(id, "dependency list has type %T", t[0])
	}

	keys, err := stringList(t[1])
	if err != nil {
		return RawESM{}, decodeErrorf(id, "export keys: %v", err)
	}
	r.ExportKeys = keys

	star, err := stringList(t[2])
	if err != nil {
		return RawESM{}, decodeErrorf(id, "star imports: %v", err)
	}
	for _, s := range star {
		r.StarImports = append(r.StarImports, ModuleID(s))
	}

	switch load := t[3].(type) {
	case LoadFunc:
		r.Load = load
	case func(context.Context, *Module) error:
		r.Load = load
	default:
		return RawESM{}, decodeErrorf(id, "load function has type %T", t[3])
	}

	async, ok := t[4].(bool)
	if !ok {
		return RawESM{}, decodeErrorf(id, "async flag has type %T", t[4])
	}
	r.Async = async
	return r, nil
}

func stringList(v any) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return l, nil
	case []ModuleID:
		out := make([]string, len(l))
		for i, s := range l {
			out[i] = string(s)
		}
		return out, nil
	case []any:
		out := make([]string, len(l))
		for i, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d has type %T", i, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported list type %T", v)
	}
}

func decodeESM(id ModuleID, r RawESM) (*ESMDescriptor, error) {
	entries, err := ParseDepEntries(r.Deps)
	if err != nil {
		return nil, decodeErrorf(id, "%v", err)
	}
	deps, err := DecodeDeps(entries)
	if err != nil {
		return nil, decodeErrorf(id, "%v", err)
	}
	d := &ESMDescriptor{
		Deps:        deps,
		ExportKeys:  r.ExportKeys,
		StarImports: r.StarImports,
		Load:        r.Load,
		Async:       r.Async,
	}
	return d, validateESM(id, d)
}

func validateESM(id ModuleID, d *ESMDescriptor) error {
	if d.Load == nil {
		return decodeErrorf(id, "nil load function")
	}
	seen := make(map[string]struct{}, len(d.ExportKeys))
	for _, k := range d.ExportKeys {
		if k == "" {
			return decodeErrorf(id, "empty export name")
		}
		if _, dup := seen[k]; dup {
			return decodeErrorf(id, "duplicate export %q", k)
		}
		seen[k] = struct{}{}
	}
	deps := make(map[ModuleID]struct{}, len(d.Deps))
	for _, dep := range d.Deps {
		deps[dep] = struct{}{}
	}
	for _, s := range d.StarImports {
		if _, ok := deps[s]; !ok {
			return decodeErrorf(id, "star import %q is not a dependency", s)
		}
	}
	return nil
}

func sortIDs(ids []ModuleID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
