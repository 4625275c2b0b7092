// Package adapter connects a hot module runtime to whatever transport
// carries its output: console calls, load errors and update errors. It
// renders nothing itself.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// Connection is the external transport.
type Connection interface {
	// SendLog delivers the pre-connection buffer, chunk by chunk in write
	// order.
	SendLog(ctx context.Context, chunks [][]byte) error
	// SendConsole delivers one tick's console calls in call order.
	SendConsole(ctx context.Context, calls []protocol.ConsoleCall) error
	SendLoadError(ctx context.Context, id hmr.ModuleID, err error) error
	SendUpdateError(ctx context.Context, generation uint64, err error) error
}

// DefaultMaxBuffered caps the pre-connection buffer (1MB).
const DefaultMaxBuffered = 1 << 20

// Options configures an Adapter.
type Options struct {
	// Logger is used for diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// MaxBuffered caps the bytes held in the pre-connection buffer. Writes
	// past the cap are dropped and counted. Zero means DefaultMaxBuffered.
	MaxBuffered int
}

type report struct {
	update     bool
	module     hmr.ModuleID
	generation uint64
	err        error
}

// Adapter queues runtime output until a Connection exists and forwards it
// afterwards. Everything it sends keeps the order in which it happened.
type Adapter struct {
	mu   sync.Mutex
	conn Connection

	calls   []protocol.ConsoleCall
	reports []report
	chunks  [][]byte

	buffered    int
	maxBuffered int
	dropped     int

	logger *slog.Logger
}

// New creates a disconnected adapter.
func New(opts Options) *Adapter {
	max := opts.MaxBuffered
	if max <= 0 {
		max = DefaultMaxBuffered
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		maxBuffered: max,
		logger:      logger.With("component", "hmr.adapter"),
	}
}

// Write appends p to the pre-connection buffer, or sends it straight away
// once connected. It never fails; undeliverable output is buffered or
// dropped.
func (a *Adapter) Write(p []byte) (int, error) {
	chunk := append([]byte(nil), p...)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		err := a.conn.SendLog(context.Background(), [][]byte{chunk})
		if err == nil {
			return len(p), nil
		}
		a.lost(err)
	}
	a.bufferChunk(chunk)
	return len(p), nil
}

func (a *Adapter) bufferChunk(chunk []byte) {
	if a.buffered+len(chunk) > a.maxBuffered {
		a.dropped++
		return
	}
	a.chunks = append(a.chunks, chunk)
	a.buffered += len(chunk)
}

// ForwardConsoleCall queues one console call for the current tick.
func (a *Adapter) ForwardConsoleCall(channel string, args []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, protocol.ConsoleCall{
		Channel: channel,
		Args:    append([]byte(nil), args...),
	})
}

// Flush sends the queued console calls as one batch. Without a connection
// the calls stay queued.
func (a *Adapter) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushCalls(ctx)
}

func (a *Adapter) flushCalls(ctx context.Context) error {
	if a.conn == nil || len(a.calls) == 0 {
		return nil
	}
	if err := a.conn.SendConsole(ctx, a.calls); err != nil {
		a.lost(err)
		return err
	}
	a.calls = nil
	return nil
}

// ReportLoadError forwards the failure of module id.
func (a *Adapter) ReportLoadError(ctx context.Context, id hmr.ModuleID, err error) error {
	return a.report(ctx, report{module: id, err: err})
}

// ReportUpdateError forwards the failure of an update generation.
func (a *Adapter) ReportUpdateError(ctx context.Context, generation uint64, err error) error {
	return a.report(ctx, report{update: true, generation: generation, err: err})
}

func (a *Adapter) report(ctx context.Context, r report) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reports = append(a.reports, r)
	return a.flushReports(ctx)
}

func (a *Adapter) flushReports(ctx context.Context) error {
	for a.conn != nil && len(a.reports) > 0 {
		r := a.reports[0]
		var err error
		if r.update {
			err = a.conn.SendUpdateError(ctx, r.generation, r.err)
		} else {
			err = a.conn.SendLoadError(ctx, r.module, r.err)
		}
		if err != nil {
			a.lost(err)
			return err
		}
		a.reports = a.reports[1:]
	}
	return nil
}

// Connect attaches conn and drains, in order, the pre-connection buffer,
// queued error reports and queued console calls. If conn fails midway the
// adapter is disconnected again and keeps what was not delivered.
func (a *Adapter) Connect(ctx context.Context, conn Connection) error {
	if conn == nil {
		return errors.New("adapter: nil connection")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn

	if len(a.chunks) > 0 {
		if err := conn.SendLog(ctx, a.chunks); err != nil {
			a.lost(err)
			return err
		}
		a.chunks = nil
		a.buffered = 0
	}
	if a.dropped > 0 {
		a.logger.Warn("pre-connection output dropped", "writes", a.dropped)
		a.dropped = 0
	}
	if err := a.flushReports(ctx); err != nil {
		return err
	}
	return a.flushCalls(ctx)
}

// Disconnect detaches the current connection. Later output is queued
// again.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = nil
}

// Connected reports whether a connection is attached.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Buffered returns a copy of the pre-connection buffer.
func (a *Adapter) Buffered() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.chunks))
	copy(out, a.chunks)
	return out
}

// lost drops a connection that failed to deliver. Callers hold a.mu.
func (a *Adapter) lost(err error) {
	a.logger.Warn("connection failed, queueing output", "error", err)
	a.conn = nil
}

// Run flushes console calls once per tick until ctx is done, then flushes
// one last time.
func (a *Adapter) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.Flush(context.WithoutCancel(ctx)); err != nil {
				a.logger.Debug("final flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Debug("flush failed", "error", err)
			}
		}
	}
}
