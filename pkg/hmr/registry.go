package hmr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry maps module identifiers to descriptors and, once accessed, to
// live module state. One Registry exists per realm (a client page, a
// server session) and lives until Close.
type Registry struct {
	mu      sync.Mutex
	entries map[ModuleID]*entry
	closed  bool

	interceptors []Interceptor
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		entries:      make(map[ModuleID]*entry),
		interceptors: opts.Interceptors,
		logger:       opts.logger().With("component", "hmr.registry"),
	}
}

// Register inserts or replaces the descriptor for id. Replacing the
// descriptor of a module that is currently loading is allowed: the loader
// re-checks the descriptor right before running the body. Replacing a
// ready module's descriptor does not re-run it; that is the Coordinator's
// job.
func (r *Registry) Register(id ModuleID, desc Descriptor) error {
	if id == "" {
		return decodeErrorf(id, "empty module id")
	}
	if desc == nil {
		return decodeErrorf(id, "nil descriptor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	e.desc = desc
	e.version++
	return nil
}

// RegisterTable decodes raw and registers every descriptor. Materialized
// entries must already be known to the registry.
func (r *Registry) RegisterTable(raw RawTable) error {
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	return r.registerDecoded(decoded)
}

func (r *Registry) registerDecoded(decoded *Decoded) error {
	r.mu.Lock()
	for _, id := range decoded.Materialized {
		if _, ok := r.entries[id]; !ok {
			r.mu.Unlock()
			return decodeErrorf(id, "marked materialized but never registered")
		}
	}
	r.mu.Unlock()

	for _, id := range decoded.IDs() {
		if err := r.Register(id, decoded.Descriptors[id]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the module state for id, creating it in the unloaded state on
// first access. It reports false for identifiers that were never
// registered.
func (r *Registry) Get(id ModuleID) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return r.materialize(id, e), true
}

// Has reports whether id has been registered.
func (r *Registry) Has(id ModuleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Descriptor returns the current descriptor for id.
func (r *Registry) Descriptor(id ModuleID) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// Status returns the load status of id. Unknown and never accessed
// modules report StatusUnloaded.
func (r *Registry) Status(id ModuleID) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.state != nil {
		return e.state.status
	}
	return StatusUnloaded
}

// IDs returns every registered identifier, sorted.
func (r *Registry) IDs() []ModuleID {
	r.mu.Lock()
	ids := make([]ModuleID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sortIDs(ids)
	return ids
}

// Importers returns the modules that imported or required id, sorted.
func (r *Registry) Importers(id ModuleID) []ModuleID {
	r.mu.Lock()
	var ids []ModuleID
	if e, ok := r.entries[id]; ok && e.state != nil {
		for imp := range e.state.importers {
			ids = append(ids, imp)
		}
	}
	r.mu.Unlock()
	sortIDs(ids)
	return ids
}

// EnsureLoaded returns the exports of id, loading it first if necessary.
//
// At most one load per identifier runs at a time: concurrent callers share
// it and all receive the same exports or the same error. Errors are cached,
// so later calls return them without re-running the body. Cancelling ctx
// only abandons the wait; the load itself keeps running.
func (r *Registry) EnsureLoaded(ctx context.Context, id ModuleID) (*Exports, error) {
	return r.ensureLoaded(ctx, id, "")
}

func (r *Registry) ensureLoaded(ctx context.Context, id, importer ModuleID) (*Exports, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := r.entries[id]
		if !ok {
			r.mu.Unlock()
			return nil, notFound(id)
		}
		m := r.materialize(id, e)
		if importer != "" {
			r.link(importer, m)
		}

		switch m.status {
		case StatusReady:
			ex := m.exports
			r.mu.Unlock()
			return ex, nil

		case StatusErrored:
			err := m.err
			r.mu.Unlock()
			return nil, err

		case StatusLoading:
			if inChain(ctx, id) || r.waitsOnChain(ctx, m) {
				// Circular access: hand out the object as it is now.
				ex := m.exports
				r.mu.Unlock()
				return ex, nil
			}
			done := m.done
			waiter := r.waiter(importer)
			if waiter != nil {
				waiter.waiting = m
			}
			r.mu.Unlock()
			err := r.wait(ctx, done, waiter)
			if err != nil {
				return nil, err
			}
			continue

		default:
			done := make(chan struct{})
			m.status = StatusLoading
			m.done = done
			m.err = nil
			if m.exports == nil {
				m.exports = newExports(id, e.desc)
			}

			waiter := r.waiter(importer)
			if waiter != nil {
				waiter.waiting = m
			}
			r.mu.Unlock()

			go r.execute(context.WithoutCancel(ctx), m, done)

			if err := r.wait(ctx, done, waiter); err != nil {
				return nil, err
			}
		}
	}
}

// waiter returns the loading module on whose behalf a dependency is being
// awaited. Callers hold r.mu.
func (r *Registry) waiter(importer ModuleID) *Module {
	if importer == "" {
		return nil
	}
	if e, ok := r.entries[importer]; ok && e.state != nil && e.state.status == StatusLoading {
		return e.state
	}
	return nil
}

func (r *Registry) wait(ctx context.Context, done <-chan struct{}, waiter *Module) error {
	defer func() {
		if waiter != nil {
			r.mu.Lock()
			waiter.waiting = nil
			r.mu.Unlock()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitsOnChain reports whether the load of m is itself blocked, directly or
// through other loads, on a module in the caller's chain. Waiting would
// deadlock; the access is circular even though it crosses goroutines.
// Callers hold r.mu.
func (r *Registry) waitsOnChain(ctx context.Context, m *Module) bool {
	seen := make(map[*Module]struct{})
	for x := m.waiting; x != nil; x = x.waiting {
		if _, ok := seen[x]; ok {
			return false
		}
		seen[x] = struct{}{}
		if inChain(ctx, x.id) {
			return true
		}
	}
	return false
}

// link records that importer depends on m. Callers hold r.mu.
func (r *Registry) link(importer ModuleID, m *Module) {
	m.importers[importer] = struct{}{}
	ie, ok := r.entries[importer]
	if !ok || ie.state == nil {
		return
	}
	for _, d := range ie.state.deps {
		if d == m.id {
			return
		}
	}
	ie.state.deps = append(ie.state.deps, m.id)
}

// unlink forgets the dependency edges leaving m. Callers hold r.mu.
func (r *Registry) unlink(m *Module) {
	for _, d := range m.deps {
		if de, ok := r.entries[d]; ok && de.state != nil {
			delete(de.state.importers, m.id)
		}
	}
	m.deps = nil
}

// materialize returns the state for e, creating it on first access.
// Callers hold r.mu.
func (r *Registry) materialize(id ModuleID, e *entry) *Module {
	if e.state == nil {
		e.state = newModule(r, id)
	}
	return e.state
}

// Reset discards every module state but keeps descriptors, so the next
// EnsureLoaded starts from a clean realm with fresh export objects.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.state = nil
	}
}

// Close tears the registry down. Loads in flight finish, but every later
// call fails with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// invalidate prepares a loaded module for re-execution under its current
// descriptor. It reports whether the exports object kept its identity.
func (r *Registry) invalidate(id ModuleID) (kept bool, err error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, notFound(id)
	}
	m := e.state
	if m == nil || m.status == StatusUnloaded {
		r.mu.Unlock()
		return false, nil
	}
	if m.status == StatusLoading {
		// The loader picks up the new descriptor before running the body.
		r.mu.Unlock()
		return true, nil
	}
	hot := m.hot
	r.mu.Unlock()

	hot.dispose()

	r.mu.Lock()
	defer r.mu.Unlock()
	kept = m.exports != nil && m.exports.compatible(e.desc)
	if kept {
		m.exports.reset(e.desc)
	} else {
		m.exports = newExports(id, e.desc)
	}
	r.unlink(m)
	m.status = StatusUnloaded
	m.err = nil
	return kept, nil
}

// snapshot copies the importer graph and the set of modules that have run
// or are running.
func (r *Registry) snapshot() (importers map[ModuleID][]ModuleID, live map[ModuleID]*Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	importers = make(map[ModuleID][]ModuleID, len(r.entries))
	live = make(map[ModuleID]*Module, len(r.entries))
	for id, e := range r.entries {
		if e.state == nil || e.state.status == StatusUnloaded {
			continue
		}
		live[id] = e.state
		for imp := range e.state.importers {
			importers[id] = append(importers[id], imp)
		}
		sortIDs(importers[id])
	}
	return importers, live
}

// deps returns the dependencies recorded for id during its last run.
func (r *Registry) depsOf(id ModuleID) []ModuleID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.state != nil {
		return append([]ModuleID(nil), e.state.deps...)
	}
	return nil
}

func asLoadError(id ModuleID, err error) error {
	var le *LoadError
	if errors.As(err, &le) && le.ID == id {
		return err
	}
	return &LoadError{ID: id, Err: err}
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
