package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/hmr/pkg/adapter"
	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
)

// Client errors.
var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrUnexpectedFrame  = errors.New("client: unexpected frame")
	ErrProtocolMismatch = errors.New("client: incompatible protocol version")
	ErrServerBusy       = errors.New("client: server busy")

	// ErrGenerationGap ends a session whose server skipped generations.
	// Run reconnects and the handshake replays the missing batches.
	ErrGenerationGap = errors.New("client: generation gap")
)

// HandshakeError is returned when the server rejects the session.
type HandshakeError struct {
	Status protocol.HandshakeStatus
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("client: handshake rejected: %s", e.Status)
}

// Options configures a Client.
type Options struct {
	// Logger is used for diagnostics. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Dialer dials the server. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer

	// Header is sent with the websocket handshake.
	Header http.Header

	// Adapter, if set, is connected for the lifetime of every session so
	// buffered output reaches the server. Install it as a runtime
	// interceptor as well to forward load and update errors.
	Adapter *adapter.Adapter

	// OnReload replaces the default reload, which re-runs the program in
	// process with Runtime.Reload. Browser-like hosts reload the page here.
	OnReload func(ctx context.Context, reason string) error

	// SSR marks a server-side realm in the handshake.
	SSR bool

	// MinBackoff and MaxBackoff bound the reconnect delay used by Run.
	// Defaults: 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client keeps one runtime in sync with a dev server.
type Client struct {
	url     string
	rt      *hmr.Runtime
	catalog *Catalog
	opts    Options
	logger  *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
}

var _ adapter.Connection = (*Client)(nil)

// New creates a client for the websocket endpoint at url.
func New(url string, rt *hmr.Runtime, catalog *Catalog, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Client{
		url:     url,
		rt:      rt,
		catalog: catalog,
		opts:    opts,
		logger:  logger.With("component", "hmr.client"),
	}
}

// Run keeps a session open until ctx is done, reconnecting with
// exponential backoff. A rejected handshake ends Run unless the server was
// only busy; after a reload requested by the handshake the host decides
// whether to start a new client.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.MinBackoff
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var he *HandshakeError
		if errors.As(err, &he) || errors.Is(err, ErrProtocolMismatch) {
			return err
		}
		if established {
			delay = c.opts.MinBackoff
		}
		if errors.Is(err, ErrGenerationGap) {
			c.logger.Info("resynchronising", "error", err, "delay", delay)
		} else {
			c.logger.Warn("connection lost, reconnecting", "error", err, "delay", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.opts.MaxBackoff)
	}
}

// Session runs one connection: handshake, replay, then live updates until
// the connection drops or ctx is done.
func (c *Client) Session(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		return false, fmt.Errorf("client: dial: %w", err)
	}
	conn.SetReadLimit(protocol.FrameHeaderSize + protocol.MaxPayloadSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		if c.opts.Adapter != nil {
			c.opts.Adapter.Disconnect()
		}
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	replay, err := c.handshake(ctx, conn)
	if err != nil {
		return false, err
	}
	c.logger.Info("connected", "url", c.url, "generation", c.rt.Coordinator().Generation(), "replay", replay)

	if c.opts.Adapter != nil {
		if err := c.opts.Adapter.Connect(ctx, c); err != nil {
			c.logger.Warn("flushing buffered output failed", "error", err)
		}
	}

	for {
		f, err := readFrame(conn)
		if err != nil {
			return true, err
		}
		if err := c.handle(ctx, f); err != nil {
			return true, err
		}
	}
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (uint32, error) {
	cfg := c.rt.Config()
	hello := protocol.NewHello(cfg.Version, cfg.Generation)
	hello.SSR = c.opts.SSR
	if err := c.send(ctx, protocol.NewFrame(protocol.FrameHello, protocol.EncodeHello(hello))); err != nil {
		return 0, err
	}

	f, err := readFrame(conn)
	if err != nil {
		return 0, err
	}
	if f.Type != protocol.FrameWelcome {
		return 0, fmt.Errorf("%w: %s before Welcome", ErrUnexpectedFrame, f.Type)
	}
	w, err := protocol.DecodeWelcome(f.Payload)
	if err != nil {
		return 0, fmt.Errorf("client: welcome: %w", err)
	}

	switch {
	case w.Status == protocol.HandshakeOK:
		return w.Replay, nil
	case w.Status == protocol.HandshakeServerBusy:
		return 0, ErrServerBusy
	case w.Status == protocol.HandshakeVersionMismatch:
		return 0, ErrProtocolMismatch
	case w.Status.RequiresReload():
		if err := c.reload(ctx, w.Status.String()); err != nil {
			return 0, err
		}
		return 0, &HandshakeError{Status: w.Status}
	default:
		return 0, &HandshakeError{Status: w.Status}
	}
}

func (c *Client) handle(ctx context.Context, f *protocol.Frame) error {
	switch f.Type {
	case protocol.FrameUpdate:
		u, err := protocol.DecodeUpdate(f.Payload)
		if err != nil {
			return fmt.Errorf("client: update: %w", err)
		}
		return c.apply(ctx, u)

	case protocol.FrameReload:
		r, err := protocol.DecodeReload(f.Payload)
		if err != nil {
			return fmt.Errorf("client: reload: %w", err)
		}
		return c.reload(ctx, r.Reason)

	case protocol.FrameConsole:
		b, err := protocol.DecodeConsole(f.Payload)
		if err != nil {
			return fmt.Errorf("client: console: %w", err)
		}
		for _, call := range b.Calls {
			c.logger.Info("server console", "channel", call.Channel, "args", string(call.Args))
		}
		return nil

	case protocol.FrameError:
		em, err := protocol.DecodeErrorMessage(f.Payload)
		if err != nil {
			return fmt.Errorf("client: error frame: %w", err)
		}
		c.logger.Error("server error", "code", em.Code.String(), "message", em.Message)
		if em.Fatal {
			return em
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Type)
	}
}

// apply hands one batch to the coordinator. Update errors stay within the
// session: they are reported, and the server's next generation fixes them.
func (c *Client) apply(ctx context.Context, u *protocol.UpdateBatch) error {
	b, err := c.catalog.Batch(u)
	if err != nil {
		c.logger.Error("update rejected", "generation", u.Generation, "error", err)
		return c.reportUpdateError(ctx, u.Generation, err)
	}

	res, err := c.rt.Apply(ctx, b)
	var ge *hmr.GenerationError
	switch {
	case errors.As(err, &ge) && ge.Got > ge.Current:
		return fmt.Errorf("%w: at generation %d, received %d", ErrGenerationGap, ge.Current, ge.Got)
	case errors.As(err, &ge):
		c.logger.Debug("stale update ignored", "generation", ge.Got, "current", ge.Current)
		return nil
	case err != nil:
		c.logger.Error("update rejected", "generation", u.Generation, "error", err)
		return nil
	}

	switch res.Outcome {
	case hmr.OutcomeFullReload:
		return c.reload(ctx, res.Reason)
	case hmr.OutcomePatched:
		if res.Err != nil {
			c.logger.Error("update failed", "generation", res.Generation, "error", res.Err)
		} else {
			c.logger.Info("update applied", "generation", res.Generation, "patched", len(res.Patched))
		}
	}
	return nil
}

func (c *Client) reportUpdateError(ctx context.Context, generation uint64, err error) error {
	if c.opts.Adapter != nil {
		return c.opts.Adapter.ReportUpdateError(ctx, generation, err)
	}
	return c.SendUpdateError(ctx, generation, err)
}

func (c *Client) reload(ctx context.Context, reason string) error {
	c.logger.Warn("full reload", "reason", reason)
	if c.opts.OnReload != nil {
		return c.opts.OnReload(ctx, reason)
	}
	if _, err := c.rt.Reload(ctx); err != nil {
		// The program is broken until the next update; keep listening.
		c.logger.Error("reload failed", "error", err)
	}
	return nil
}

// SendLog sends the pre-connection buffer as console calls on the "log"
// channel, one per chunk.
func (c *Client) SendLog(ctx context.Context, chunks [][]byte) error {
	calls := make([]protocol.ConsoleCall, len(chunks))
	for i, ch := range chunks {
		calls[i] = protocol.ConsoleCall{Channel: "log", Args: ch}
	}
	return c.SendConsole(ctx, calls)
}

// SendConsole sends one tick's console calls as a single frame.
func (c *Client) SendConsole(ctx context.Context, calls []protocol.ConsoleCall) error {
	payload := protocol.EncodeConsole(&protocol.ConsoleBatch{Calls: calls})
	return c.send(ctx, protocol.NewFrame(protocol.FrameConsole, payload))
}

// SendLoadError reports a failed module.
func (c *Client) SendLoadError(ctx context.Context, id hmr.ModuleID, err error) error {
	em := protocol.NewLoadError(ErrorCode(err, protocol.ErrLoad), string(id), err.Error())
	return c.send(ctx, protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(em)))
}

// SendUpdateError reports a failed update generation.
func (c *Client) SendUpdateError(ctx context.Context, generation uint64, err error) error {
	em := protocol.NewUpdateError(ErrorCode(err, protocol.ErrUpdate), generation, err.Error())
	return c.send(ctx, protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(em)))
}

func (c *Client) send(ctx context.Context, f *protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.BinaryMessage, f.Encode())
}

func readFrame(conn *websocket.Conn) (*protocol.Frame, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return protocol.DecodeFrame(data)
	}
}

// ErrorCode maps a runtime error to its wire code. fallback is used for
// errors without a more specific code.
func ErrorCode(err error, fallback protocol.ErrorCode) protocol.ErrorCode {
	var se *SymbolError
	switch {
	case errors.As(err, &se):
		return protocol.ErrUnknownSymbol
	case errors.Is(err, hmr.ErrDecode):
		return protocol.ErrDecode
	case errors.Is(err, hmr.ErrModuleNotFound):
		return protocol.ErrModuleNotFound
	case errors.Is(err, hmr.ErrStaleGeneration):
		return protocol.ErrStaleGeneration
	default:
		return fallback
	}
}
