package hmr

import (
	"context"
	"fmt"
	"log/slog"
)

// Runtime bundles one realm's Registry and Coordinator behind the
// configuration record.
type Runtime struct {
	reg    *Registry
	coord  *Coordinator
	logger *slog.Logger
}

// NewRuntime validates cfg, registers table and prepares the coordinator.
// Nothing is executed until Start.
func NewRuntime(cfg Config, table RawTable, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hmr: invalid config: %w", err)
	}
	reg := NewRegistry(opts)
	if err := reg.RegisterTable(table); err != nil {
		return nil, err
	}
	if !reg.Has(cfg.Main) {
		return nil, notFound(cfg.Main)
	}
	return &Runtime{
		reg:    reg,
		coord:  NewCoordinator(reg, cfg, opts),
		logger: opts.logger().With("component", "hmr.runtime"),
	}, nil
}

// Registry returns the runtime's registry.
func (rt *Runtime) Registry() *Registry { return rt.reg }

// Coordinator returns the runtime's update coordinator.
func (rt *Runtime) Coordinator() *Coordinator { return rt.coord }

// Config returns the configuration of the current generation.
func (rt *Runtime) Config() Config { return rt.coord.Config() }

// Start loads the entry point.
func (rt *Runtime) Start(ctx context.Context) (*Exports, error) {
	main := rt.coord.Config().Main
	rt.logger.Info("starting", "main", main, "generation", rt.coord.Generation())
	return rt.reg.EnsureLoaded(ctx, main)
}

// Apply applies one update batch. See Coordinator.Apply.
func (rt *Runtime) Apply(ctx context.Context, b Batch) (*UpdateResult, error) {
	return rt.coord.Apply(ctx, b)
}

// Reload performs a full reload in process: every module state is
// discarded and the entry point is loaded again from the current
// descriptors. Hosts without a page to reload (servers) use it after an
// OutcomeFullReload.
func (rt *Runtime) Reload(ctx context.Context) (*Exports, error) {
	rt.coord.mu.Lock()
	if rt.coord.phase != PhaseSettled {
		rt.coord.mu.Unlock()
		return nil, ErrUpdateInProgress
	}
	rt.coord.phase = PhaseApplying
	main := rt.coord.config.Main
	rt.coord.mu.Unlock()

	defer func() {
		rt.coord.mu.Lock()
		rt.coord.phase = PhaseSettled
		rt.coord.mu.Unlock()
	}()

	rt.logger.Info("full reload", "main", main)
	rt.reg.Reset()
	return rt.reg.EnsureLoaded(ctx, main)
}

// Close tears the realm down.
func (rt *Runtime) Close() {
	rt.reg.Close()
}
