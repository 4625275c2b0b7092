package hmr

import (
	"context"
	"fmt"
	"sync"
)

// Status is the load state of a module.
type Status uint8

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// entry is the registry slot for one identifier. desc and version change on
// every Register; state is created on first access.
type entry struct {
	desc    Descriptor
	version uint64
	state   *Module
}

// Module is the live state of a materialized module and the handle its body
// receives. All mutable fields are guarded by the owning Registry's mutex.
type Module struct {
	id  ModuleID
	reg *Registry

	status    Status
	exports   *Exports
	err       error
	done      chan struct{}
	desc      Descriptor
	deps      []ModuleID
	importers map[ModuleID]struct{}
	runs      int

	// waiting is the module this one's loader is blocked on.
	waiting *Module

	hot *Hot
}

func newModule(reg *Registry, id ModuleID) *Module {
	return &Module{
		id:        id,
		reg:       reg,
		importers: make(map[ModuleID]struct{}),
		hot:       newHot(),
	}
}

// ID returns the module identifier.
func (m *Module) ID() ModuleID { return m.id }

// Exports returns the module's export object.
func (m *Module) Exports() *Exports {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.exports
}

// Status returns the current load status.
func (m *Module) Status() Status {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.status
}

// Err returns the cached load error of an errored module.
func (m *Module) Err() error {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.err
}

// Kind returns the kind of the descriptor the module last ran with.
func (m *Module) Kind() Kind {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	if m.desc == nil {
		return 0
	}
	return m.desc.Kind()
}

// Runs returns how many times the body has been executed.
func (m *Module) Runs() int {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.runs
}

// Hot returns the module's hot-update handle.
func (m *Module) Hot() *Hot { return m.hot }

// Export assigns one of the module's own bindings.
func (m *Module) Export(name string, v any) error {
	return m.Exports().Set(name, v)
}

// Import returns the exports of another module. Declared dependencies are
// already resolved when the body runs. Any other module is loaded on
// demand, which only async ESM bodies and CommonJS bodies may do.
func (m *Module) Import(ctx context.Context, id ModuleID) (*Exports, error) {
	m.reg.mu.Lock()
	desc := m.desc
	isDep := false
	for _, d := range m.deps {
		if d == id {
			isDep = true
			break
		}
	}
	var target *Module
	if e, ok := m.reg.entries[id]; ok {
		target = e.state
	}
	if isDep && target != nil {
		ex := target.exports
		m.reg.mu.Unlock()
		return ex, nil
	}
	ready := target != nil && target.status == StatusReady
	m.reg.mu.Unlock()

	if d, ok := desc.(*ESMDescriptor); ok && !d.Async && !ready {
		return nil, fmt.Errorf("%w: %s imports %s", ErrWouldSuspend, m.id, id)
	}
	return m.reg.ensureLoaded(ctx, id, m.id)
}

// Namespace returns the namespace object of a star-imported dependency.
func (m *Module) Namespace(id ModuleID) (*Exports, error) {
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()

	d, ok := m.desc.(*ESMDescriptor)
	if !ok {
		return nil, fmt.Errorf("hmr: %s: namespace imports require an ESM module", m.id)
	}
	star := false
	for _, s := range d.StarImports {
		if s == id {
			star = true
			break
		}
	}
	if !star {
		return nil, fmt.Errorf("hmr: %s does not star-import %s", m.id, id)
	}
	e, ok := m.reg.entries[id]
	if !ok || e.state == nil {
		return nil, notFound(id)
	}
	return e.state.exports, nil
}

// CommonJS is the handle passed to CommonJS bodies.
type CommonJS struct {
	m *Module
	// ctx is the body's load context; Require has no context parameter of
	// its own.
	ctx context.Context
}

// ID returns the module identifier.
func (c *CommonJS) ID() ModuleID { return c.m.id }

// Exports returns the mutable exports object.
func (c *CommonJS) Exports() *Exports { return c.m.Exports() }

// Require loads a module synchronously. Requiring a module that is still
// loading further up the current chain returns its exports as they are now.
func (c *CommonJS) Require(id ModuleID) (*Exports, error) {
	return c.m.reg.ensureLoaded(c.ctx, id, c.m.id)
}

// Hot is the per-module hot update API. Data survives re-execution.
type Hot struct {
	mu        sync.Mutex
	accepted  bool
	disposers []func(data map[string]any)
	data      map[string]any
}

func newHot() *Hot {
	return &Hot{data: make(map[string]any)}
}

// Accept marks the module as absorbing its own updates.
func (h *Hot) Accept() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted = true
}

// Accepted reports whether the current body called Accept.
func (h *Hot) Accepted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

// Dispose registers fn to run before the module is re-executed. fn may
// write into data, which becomes Data() for the next body.
func (h *Hot) Dispose(fn func(data map[string]any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposers = append(h.disposers, fn)
}

// Data returns the map handed over by the previous body's dispose handlers.
func (h *Hot) Data() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// dispose runs the handlers and resets per-body state.
func (h *Hot) dispose() {
	h.mu.Lock()
	fns := h.disposers
	h.disposers = nil
	h.accepted = false
	h.mu.Unlock()

	data := make(map[string]any)
	for _, fn := range fns {
		fn(data)
	}

	h.mu.Lock()
	h.data = data
	h.mu.Unlock()
}

// loadChain is the stack of modules whose bodies are executing on behalf of
// the current caller. It travels in the context.
type loadChain struct {
	id     ModuleID
	parent *loadChain
}

type chainKey struct{}

func withChain(ctx context.Context, id ModuleID) context.Context {
	parent, _ := ctx.Value(chainKey{}).(*loadChain)
	return context.WithValue(ctx, chainKey{}, &loadChain{id: id, parent: parent})
}

func inChain(ctx context.Context, id ModuleID) bool {
	c, _ := ctx.Value(chainKey{}).(*loadChain)
	for ; c != nil; c = c.parent {
		if c.id == id {
			return true
		}
	}
	return false
}
