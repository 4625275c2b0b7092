package hmr

import (
	"context"
	"fmt"
	"time"
)

// execute runs one load of m and publishes the result by closing done. It
// always runs on its own goroutine so that callers can abandon the wait.
func (r *Registry) execute(ctx context.Context, m *Module, done chan struct{}) {
	start := time.Now()
	ctx = withChain(ctx, m.id)

	var err error
	defer func() {
		if v := recover(); v != nil {
			err = panicError(v)
		}
		r.finish(m, done, err)
		if err != nil {
			r.logger.Debug("module failed", "id", m.id, "error", err)
		} else {
			r.logger.Debug("module ready", "id", m.id, "duration", time.Since(start))
		}
	}()

	step := chainLoad(r.interceptors, m.id, func(ctx context.Context) error {
		return r.run(ctx, m)
	})
	err = step(ctx)
}

// run resolves dependencies and executes the body. If the descriptor is
// replaced while dependencies are being awaited, it starts over with the
// new one instead of running a stale body.
func (r *Registry) run(ctx context.Context, m *Module) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[m.id]
		if !ok || e.state != m {
			r.mu.Unlock()
			return fmt.Errorf("module %q was removed while loading", m.id)
		}
		desc, version := e.desc, e.version
		r.mu.Unlock()

		switch d := desc.(type) {
		case *ESMDescriptor:
			for _, dep := range d.Deps {
				if _, err := r.ensureLoaded(ctx, dep, m.id); err != nil {
					return fmt.Errorf("dependency %q: %w", dep, err)
				}
			}
			if !r.begin(m, e, version) {
				continue
			}
			return d.Load(ctx, m)

		case *CommonJSDescriptor:
			if !r.begin(m, e, version) {
				continue
			}
			return d.Body(ctx, m, &CommonJS{m: m, ctx: ctx})

		default:
			return fmt.Errorf("unsupported descriptor %T", desc)
		}
	}
}

// begin commits to running the body of the descriptor at version. It
// returns false when a newer descriptor has been registered meanwhile.
func (r *Registry) begin(m *Module, e *entry, version uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.version != version {
		return false
	}
	if !m.exports.compatible(e.desc) {
		// Cycle partners may already hold the object; reshape it in place.
		m.exports.reset(e.desc)
	}
	m.desc = e.desc
	m.runs++
	return true
}

func (r *Registry) finish(m *Module, done chan struct{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.done == done {
		if err != nil {
			m.status = StatusErrored
			m.err = asLoadError(m.id, err)
		} else {
			m.status = StatusReady
		}
	}
	close(done)
}
