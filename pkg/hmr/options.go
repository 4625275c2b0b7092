package hmr

import (
	"context"
	"log/slog"
)

// LoadStep continues a module load.
type LoadStep func(ctx context.Context) error

// UpdateStep continues an update batch.
type UpdateStep func(ctx context.Context) (*UpdateResult, error)

// Interceptor observes or wraps module loads and update batches. Each
// method must call next exactly once unless it fails first.
type Interceptor interface {
	InterceptLoad(ctx context.Context, id ModuleID, next LoadStep) error
	InterceptUpdate(ctx context.Context, generation uint64, next UpdateStep) (*UpdateResult, error)
}

// BoundaryFunc decides whether a module absorbs updates coming from below.
type BoundaryFunc func(m *Module) bool

// RefreshCapability is the UI framework's refresh runtime, queried by the
// coordinator but not implemented here.
type RefreshCapability interface {
	// IsBoundary reports whether m can be refreshed without touching its
	// importers.
	IsBoundary(m *Module) bool
	// Refresh is called once after a patch settled.
	Refresh(ctx context.Context, patched []ModuleID) error
}

// Options configures a Registry and its Coordinator.
type Options struct {
	// Logger is used for diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Interceptors wrap every load and update, outermost first.
	Interceptors []Interceptor

	// Boundary overrides the default boundary predicate (self-accepting
	// modules, plus the refresh capability when available).
	Boundary BoundaryFunc

	// Refresh is consulted when Config.Refresh names a refresh runtime.
	Refresh RefreshCapability
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func chainLoad(interceptors []Interceptor, id ModuleID, final LoadStep) LoadStep {
	step := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, next := interceptors[i], step
		step = func(ctx context.Context) error {
			return ic.InterceptLoad(ctx, id, next)
		}
	}
	return step
}

func chainUpdate(interceptors []Interceptor, generation uint64, final UpdateStep) UpdateStep {
	step := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, next := interceptors[i], step
		step = func(ctx context.Context) (*UpdateResult, error) {
			return ic.InterceptUpdate(ctx, generation, next)
		}
	}
	return step
}
