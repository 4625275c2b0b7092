package adapter

import (
	"context"
	"errors"

	"github.com/vango-dev/hmr/pkg/hmr"
)

var _ hmr.Interceptor = (*Adapter)(nil)

// InterceptLoad reports modules whose own body failed. Failures inherited
// from a dependency are reported once, for the dependency.
func (a *Adapter) InterceptLoad(ctx context.Context, id hmr.ModuleID, next hmr.LoadStep) error {
	err := next(ctx)
	if err == nil {
		return nil
	}
	var le *hmr.LoadError
	if errors.As(err, &le) && le.ID != id {
		return err
	}
	if rerr := a.ReportLoadError(ctx, id, err); rerr != nil {
		a.logger.Debug("load error queued", "id", id, "error", rerr)
	}
	return err
}

// InterceptUpdate reports rejected batches and batches whose re-execution
// failed.
func (a *Adapter) InterceptUpdate(ctx context.Context, generation uint64, next hmr.UpdateStep) (*hmr.UpdateResult, error) {
	res, err := next(ctx)
	failure := err
	if failure == nil && res != nil {
		failure = res.Err
	}
	if failure != nil {
		if rerr := a.ReportUpdateError(ctx, generation, failure); rerr != nil {
			a.logger.Debug("update error queued", "generation", generation, "error", rerr)
		}
	}
	return res, err
}
