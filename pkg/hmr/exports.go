package hmr

import (
	"fmt"
	"sync"
)

// Exports is the live export object of a module. It is owned by the
// Registry while the module loads and shared by reference once the module
// is ready; holders always observe the current bindings.
//
// ESM export objects know their declared names: reading an undeclared name
// fails with ErrNoExport and reading a declared but unassigned one with
// ErrNotInitialized. CommonJS export objects accept any name and report
// missing ones as nil.
type Exports struct {
	owner ModuleID
	esm   bool

	mu     sync.RWMutex
	keys   []string
	order  []string
	values map[string]any
}

func newExports(owner ModuleID, desc Descriptor) *Exports {
	e := &Exports{owner: owner, values: make(map[string]any)}
	if d, ok := desc.(*ESMDescriptor); ok {
		e.esm = true
		e.keys = append([]string(nil), d.ExportKeys...)
	}
	return e
}

// Owner returns the module that owns the object.
func (e *Exports) Owner() ModuleID { return e.owner }

// Get returns a binding, applying ESM strictness.
func (e *Exports) Get(name string) (any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.values[name]
	if ok {
		return v, nil
	}
	if !e.esm {
		return nil, nil
	}
	if !e.declared(name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoExport, e.owner, name)
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNotInitialized, e.owner, name)
}

// Lookup returns a binding if it has been assigned.
func (e *Exports) Lookup(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[name]
	return v, ok
}

// Set assigns a binding. ESM objects reject undeclared names.
func (e *Exports) Set(name string, v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.esm && !e.declared(name) {
		return fmt.Errorf("%w: %s.%s", ErrNoExport, e.owner, name)
	}
	if _, ok := e.values[name]; !ok {
		e.order = append(e.order, name)
	}
	e.values[name] = v
	return nil
}

// Delete removes a CommonJS binding. It is a no-op for ESM objects.
func (e *Exports) Delete(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.esm {
		return
	}
	if _, ok := e.values[name]; !ok {
		return
	}
	delete(e.values, name)
	for i, k := range e.order {
		if k == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Keys returns the declared names of an ESM object, or the assigned names
// of a CommonJS object in assignment order.
func (e *Exports) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.esm {
		return append([]string(nil), e.keys...)
	}
	return append([]string(nil), e.order...)
}

// Len returns the number of assigned bindings.
func (e *Exports) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

// Snapshot copies the assigned bindings.
func (e *Exports) Snapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// IsESM reports whether the object enforces ESM binding rules.
func (e *Exports) IsESM() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.esm
}

func (e *Exports) declared(name string) bool {
	for _, k := range e.keys {
		if k == name {
			return true
		}
	}
	return false
}

// compatible reports whether desc can reuse this object in place: same
// module kind and, for ESM, the same set of export names.
func (e *Exports) compatible(desc Descriptor) bool {
	d, isESM := desc.(*ESMDescriptor)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if isESM != e.esm {
		return false
	}
	if !isESM {
		return true
	}
	if len(d.ExportKeys) != len(e.keys) {
		return false
	}
	set := make(map[string]struct{}, len(e.keys))
	for _, k := range e.keys {
		set[k] = struct{}{}
	}
	for _, k := range d.ExportKeys {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// reset clears every binding and adopts desc's shape, keeping identity.
func (e *Exports) reset(desc Descriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = make(map[string]any)
	e.order = nil
	d, ok := desc.(*ESMDescriptor)
	e.esm = ok
	e.keys = nil
	if ok {
		e.keys = append([]string(nil), d.ExportKeys...)
	}
}
