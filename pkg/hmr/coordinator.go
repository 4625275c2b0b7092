package hmr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Phase is the coordinator's position in the current generation.
type Phase uint8

const (
	PhaseSettled Phase = iota
	PhasePending
	PhaseApplying
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSettled:
		return "settled"
	case PhasePending:
		return "pending"
	case PhaseApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// Outcome is what an update batch did to the running program.
type Outcome uint8

const (
	// OutcomeNoop means the batch had already been applied.
	OutcomeNoop Outcome = iota
	// OutcomePatched means every affected path met a boundary and the
	// affected modules were re-executed in place.
	OutcomePatched
	// OutcomeFullReload means some path reached a root without a boundary.
	// Descriptors were registered but no body was re-run.
	OutcomeFullReload
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoop:
		return "noop"
	case OutcomePatched:
		return "patched"
	case OutcomeFullReload:
		return "full-reload"
	default:
		return "unknown"
	}
}

// Batch is one update generation: replacement descriptors plus any new
// file indices and roots.
type Batch struct {
	Generation uint64
	Modules    RawTable
	Files      map[FileIndex]ModuleID
	AddedRoots []FileIndex
}

// UpdateResult describes an applied batch.
type UpdateResult struct {
	Generation uint64
	Outcome    Outcome

	// Replaced lists every identifier the batch carried a descriptor for.
	Replaced []ModuleID
	// Patched lists the modules re-executed, in execution order.
	Patched []ModuleID
	// Boundaries lists the modules that absorbed the update.
	Boundaries []ModuleID
	// Preserved lists re-executed modules whose exports kept identity.
	Preserved []ModuleID
	// Unpatchable lists the roots reached without a boundary.
	Unpatchable []ModuleID

	// Reason explains a full reload.
	Reason string

	// Err is the first error raised while re-executing modules. The
	// generation still advances; the next batch is expected to fix it.
	Err error
}

// Coordinator applies update batches to a Registry.
type Coordinator struct {
	reg      *Registry
	boundary BoundaryFunc
	refresh  RefreshCapability

	interceptors []Interceptor
	logger       *slog.Logger

	mu     sync.Mutex
	config Config
	phase  Phase
}

// NewCoordinator creates a coordinator starting at cfg.Generation.
func NewCoordinator(reg *Registry, cfg Config, opts Options) *Coordinator {
	c := &Coordinator{
		reg:          reg,
		config:       cfg.Clone(),
		interceptors: opts.Interceptors,
		logger:       opts.logger().With("component", "hmr.coordinator"),
	}
	if cfg.Refresh != "" {
		c.refresh = opts.Refresh
	}
	c.boundary = opts.Boundary
	if c.boundary == nil {
		c.boundary = c.defaultBoundary
	}
	return c
}

func (c *Coordinator) defaultBoundary(m *Module) bool {
	if m.Hot().Accepted() {
		return true
	}
	return c.refresh != nil && c.refresh.IsBoundary(m)
}

// Config returns the configuration of the current generation.
func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// Generation returns the current generation.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Generation
}

// Phase returns the coordinator's phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Apply applies one update batch.
//
// The batch must carry exactly the next generation. A batch for the current
// generation is a no-op; anything else fails with a *GenerationError and
// leaves the runtime untouched. A batch that arrives before the previous one
// settled fails with ErrUpdateInProgress. Decode errors are returned without
// advancing the generation.
func (c *Coordinator) Apply(ctx context.Context, b Batch) (*UpdateResult, error) {
	step := chainUpdate(c.interceptors, b.Generation, func(ctx context.Context) (*UpdateResult, error) {
		return c.applyBatch(ctx, b)
	})
	return step(ctx)
}

func (c *Coordinator) applyBatch(ctx context.Context, b Batch) (*UpdateResult, error) {
	c.mu.Lock()
	if c.phase != PhaseSettled {
		c.mu.Unlock()
		return nil, ErrUpdateInProgress
	}
	current := c.config.Generation
	if b.Generation == current {
		c.mu.Unlock()
		return &UpdateResult{Generation: current, Outcome: OutcomeNoop}, nil
	}
	if b.Generation != current+1 {
		c.mu.Unlock()
		return nil, &GenerationError{Current: current, Got: b.Generation}
	}
	if err := c.config.checkFiles(b); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.phase = PhasePending
	next := c.config.withBatch(b)
	c.mu.Unlock()

	res, err := c.apply(ctx, b, next)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseSettled
	if err != nil {
		return nil, err
	}
	c.config = next
	c.logger.Info("update settled",
		"generation", next.Generation,
		"outcome", res.Outcome.String(),
		"patched", len(res.Patched))
	return res, nil
}

func (c *Coordinator) apply(ctx context.Context, b Batch, next Config) (*UpdateResult, error) {
	decoded, err := Decode(b.Modules)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.phase = PhaseApplying
	c.mu.Unlock()

	res := &UpdateResult{Generation: b.Generation, Replaced: decoded.IDs()}
	plan := c.plan(decoded, next.RootIDs())

	if err := c.reg.registerDecoded(decoded); err != nil {
		return nil, err
	}

	if len(plan.unpatchable) > 0 {
		res.Outcome = OutcomeFullReload
		res.Unpatchable = plan.unpatchable
		res.Boundaries = plan.boundaries
		res.Reason = fmt.Sprintf("update reached %q without a refresh boundary", plan.unpatchable[0])
		return res, nil
	}

	res.Outcome = OutcomePatched
	res.Boundaries = plan.boundaries
	for _, id := range c.order(plan.patch) {
		kept, err := c.reg.invalidate(id)
		if err != nil {
			res.Err = err
			break
		}
		res.Patched = append(res.Patched, id)
		if kept {
			res.Preserved = append(res.Preserved, id)
		}
		if _, err := c.reg.ensureLoaded(ctx, id, ""); err != nil {
			res.Err = err
			break
		}
	}

	if res.Err == nil && c.refresh != nil && len(res.Patched) > 0 {
		if err := c.refresh.Refresh(ctx, res.Patched); err != nil {
			res.Err = fmt.Errorf("refresh: %w", err)
		}
	}
	return res, nil
}

type updatePlan struct {
	patch       map[ModuleID]struct{}
	boundaries  []ModuleID
	unpatchable []ModuleID
}

// plan walks from every replaced module towards the roots. Walking stops at
// a boundary. Reaching a root that is not a boundary makes the batch
// unpatchable, and so does a module with no live importers, since nothing
// would pick up its new exports. Modules that never ran are simply
// registered.
func (c *Coordinator) plan(decoded *Decoded, roots []ModuleID) updatePlan {
	importers, live := c.reg.snapshot()

	rootSet := make(map[ModuleID]struct{}, len(roots))
	for _, id := range roots {
		rootSet[id] = struct{}{}
	}

	p := updatePlan{patch: make(map[ModuleID]struct{})}
	seenBoundary := make(map[ModuleID]struct{})
	seenDead := make(map[ModuleID]struct{})
	visited := make(map[ModuleID]struct{})

	for _, start := range decoded.IDs() {
		if _, ok := live[start]; !ok {
			continue
		}
		queue := []ModuleID{start}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			p.patch[id] = struct{}{}

			m := live[id]
			if c.isBoundary(m, decoded.Descriptors[id]) {
				if _, ok := seenBoundary[id]; !ok {
					seenBoundary[id] = struct{}{}
					p.boundaries = append(p.boundaries, id)
				}
				continue
			}
			_, root := rootSet[id]
			n := len(queue)
			if !root {
				for _, imp := range importers[id] {
					if _, ok := live[imp]; ok {
						queue = append(queue, imp)
					}
				}
			}
			if root || len(queue) == n {
				if _, ok := seenDead[id]; !ok {
					seenDead[id] = struct{}{}
					p.unpatchable = append(p.unpatchable, id)
				}
			}
		}
	}
	return p
}

// isBoundary applies the boundary predicate. A replaced ESM module whose
// export names change cannot absorb its own update, because importers hold
// bindings that would disappear.
func (c *Coordinator) isBoundary(m *Module, replacement Descriptor) bool {
	if m == nil {
		return false
	}
	if replacement != nil {
		if ex := m.Exports(); ex != nil && !ex.compatible(replacement) {
			return false
		}
	}
	return c.boundary(m)
}

// order sorts the patch set so that every module runs after the
// dependencies it recorded during its previous run. Cycles fall back to
// identifier order.
func (c *Coordinator) order(set map[ModuleID]struct{}) []ModuleID {
	ids := make([]ModuleID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[ModuleID]int, len(ids))
	out := make([]ModuleID, 0, len(ids))

	var visit func(id ModuleID)
	visit = func(id ModuleID) {
		if state[id] != unvisited {
			return
		}
		state[id] = visiting
		for _, dep := range c.reg.depsOf(id) {
			if _, ok := set[dep]; ok {
				visit(dep)
			}
		}
		state[id] = visited
		out = append(out, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}
