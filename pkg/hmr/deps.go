package hmr

import (
	"fmt"
	"math"
)

// ModuleID identifies a module. IDs are pre-resolved by the compiler and
// treated as opaque strings; in practice they are relative file paths.
type ModuleID string

// FileIndex is a dense index into Config.Files.
type FileIndex int

// DepEntry is one element of an encoded dependency list: either a DirectID
// or a BackRef.
type DepEntry interface {
	isDepEntry()
}

// DirectID names a dependency.
type DirectID struct {
	ID ModuleID
}

// BackRef repeats the dependency found at an earlier position of the same
// list.
type BackRef struct {
	Index int
}

func (DirectID) isDepEntry() {}
func (BackRef) isDepEntry()  {}

// ParseDepEntries converts compiler-emitted primitives into tagged entries.
// Strings become DirectID, integers become BackRef. Numbers decoded from
// JSON (float64) are accepted when they are integral.
func ParseDepEntries(raw []any) ([]DepEntry, error) {
	entries := make([]DepEntry, len(raw))
	for i, v := range raw {
		switch v := v.(type) {
		case string:
			entries[i] = DirectID{ID: ModuleID(v)}
		case ModuleID:
			entries[i] = DirectID{ID: v}
		case DirectID:
			entries[i] = v
		case BackRef:
			entries[i] = v
		default:
			idx, ok := toIndex(v)
			if !ok {
				return nil, fmt.Errorf("dependency %d: unsupported entry %T", i, v)
			}
			entries[i] = BackRef{Index: idx}
		}
	}
	return entries, nil
}

func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// DecodeDeps resolves every back-reference to the identifier it denotes.
// A back-reference must point at an earlier position; forward references,
// self references and empty identifiers are rejected.
func DecodeDeps(entries []DepEntry) ([]ModuleID, error) {
	ids := make([]ModuleID, len(entries))
	for i, e := range entries {
		switch e := e.(type) {
		case DirectID:
			if e.ID == "" {
				return nil, fmt.Errorf("dependency %d: empty module id", i)
			}
			ids[i] = e.ID
		case BackRef:
			if e.Index < 0 || e.Index >= i {
				return nil, fmt.Errorf("dependency %d: back-reference %d out of range", i, e.Index)
			}
			ids[i] = ids[e.Index]
		default:
			return nil, fmt.Errorf("dependency %d: unknown entry %T", i, e)
		}
	}
	return ids, nil
}

// EncodeDeps is the inverse of DecodeDeps: the first occurrence of an
// identifier is written directly, every repetition as a back-reference to
// that first position.
func EncodeDeps(ids []ModuleID) []DepEntry {
	first := make(map[ModuleID]int, len(ids))
	entries := make([]DepEntry, len(ids))
	for i, id := range ids {
		if idx, ok := first[id]; ok {
			entries[i] = BackRef{Index: idx}
			continue
		}
		first[id] = i
		entries[i] = DirectID{ID: id}
	}
	return entries
}

// RawDeps renders entries in the compiler's primitive form.
func RawDeps(entries []DepEntry) []any {
	raw := make([]any, len(entries))
	for i, e := range entries {
		switch e := e.(type) {
		case DirectID:
			raw[i] = string(e.ID)
		case BackRef:
			raw[i] = e.Index
		}
	}
	return raw
}
