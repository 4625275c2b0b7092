package dev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/hmr/internal/config"
	hmrerrors "github.com/vango-dev/hmr/internal/errors"
	"github.com/vango-dev/hmr/internal/history"
	"github.com/vango-dev/hmr/pkg/client"
	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
	"github.com/vango-dev/hmr/pkg/telemetry"
)

const helloWait = 10 * time.Second

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// History stores update batches for replay. Defaults to an in-memory
	// log with the configured retention. The server closes it on Stop.
	History history.Store

	// Metrics records hub and generation metrics. Optional.
	Metrics *telemetry.Metrics

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// MaxClients caps attached clients. Zero is unlimited.
	MaxClients int

	Logger *slog.Logger

	// OnUpdate is called after a generation is published.
	OnUpdate func(generation uint64, modules, clients int)

	// OnReload is called after clients were told to reload.
	OnReload func(reason string, clients int)
}

// Server is the development server. It owns the current manifest, turns
// every manifest change into the next generation's update batch and
// serves the update channel at /_hmr.
type Server struct {
	config  *config.Config
	options ServerOptions
	logger  *slog.Logger
	hub     *Hub
	history history.Store
	watcher *Watcher
	router  chi.Router

	upgrader websocket.Upgrader

	mu         sync.Mutex
	manifest   *Manifest
	current    hmr.Config
	epoch      int
	running    bool
	stopped    bool
	cancel     context.CancelFunc
	httpServer *http.Server
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  cfg,
		options: options,
		logger:  logger.With("component", "dev.server"),
		hub:     NewHub(options.MaxClients, options.Metrics, logger),
		history: options.History,
		watcher: NewWatcher(WatcherConfig{
			Path:     cfg.ManifestPath(),
			Interval: cfg.PollInterval(),
			Logger:   logger,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/_hmr", s.handleWebSocket)
	r.With(middleware.NoCache).Get("/_hmr/config", s.handleConfig)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.options.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Open loads the manifest and the history. Start calls it; tests that
// drive the Handler directly call it themselves.
func (s *Server) Open(ctx context.Context) error {
	path := s.config.ManifestPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return hmrerrors.New("E142").WithDetail(path).Wrap(err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return hmrerrors.New("E142").WithDetail(path).Wrap(err)
	}

	if s.history == nil {
		store, err := history.Open(ctx, history.NewMemory(), 0, s.config.History.Limit)
		if err != nil {
			return err
		}
		s.history = store
	}
	gen, err := s.history.Latest(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.manifest = m
	s.current = s.configFor(m, gen)
	s.mu.Unlock()

	if s.options.Metrics != nil {
		s.options.Metrics.RecordGeneration(gen)
	}
	s.watcher.Prime(data)
	s.logger.Info("manifest loaded", "path", path, "modules", len(m.Modules), "generation", gen)
	return nil
}

// Start serves until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return errors.New("dev: server stopped")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.httpServer = &http.Server{
		Addr:              s.config.DevAddress(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	if err := s.Open(ctx); err != nil {
		s.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	s.watcher.OnChange(func(m *Manifest) {
		if _, err := s.ApplyManifest(gctx, m); err != nil {
			s.logger.Error("manifest rejected", "error", err)
		}
	})

	g.Go(func() error {
		s.logger.Info("dev server listening", "addr", httpServer.Addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := s.watcher.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return nil
	})

	return g.Wait()
}

// Stop stops the development server and disconnects every client. A
// stopped server cannot be restarted.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	cancel := s.cancel
	httpServer := s.httpServer
	s.mu.Unlock()

	s.watcher.Stop()
	s.hub.Close()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
	if cancel != nil {
		cancel()
	}
	if s.history != nil {
		s.history.Close()
	}
}

// Config returns the runtime configuration clients currently bootstrap
// from.
func (s *Server) Config() hmr.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// ClientCount returns the number of attached clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// baseKey is the pinned runtime version, else the manifest's.
func (s *Server) baseKey(m *Manifest) string {
	if s.config.Runtime.Version != "" {
		return s.config.Runtime.Version
	}
	if m.Version != "" {
		return m.Version
	}
	return "dev"
}

// configKey changes with every forced reload so that clients holding the
// old graph fail the handshake instead of replaying onto it. Callers hold
// s.mu.
func (s *Server) configKey(m *Manifest) string {
	key := s.baseKey(m)
	if s.epoch > 0 {
		key = fmt.Sprintf("%s.%d", key, s.epoch)
	}
	return key
}

// configFor derives the published configuration. Callers hold s.mu.
func (s *Server) configFor(m *Manifest, generation uint64) hmr.Config {
	cfg := m.Config.Clone()
	cfg.Version = s.configKey(m)
	cfg.Generation = generation
	if cfg.Refresh == "" {
		cfg.Refresh = hmr.ModuleID(s.config.Runtime.Refresh)
	}
	cfg.Console = cfg.Console || s.config.Runtime.Console
	cfg.SeparateSSRGraph = cfg.SeparateSSRGraph || s.config.Runtime.SeparateSSRGraph
	return cfg
}

// ApplyManifest publishes next. Module changes become the next
// generation's batch, which is appended to the history and broadcast.
// Changes an update cannot express make every client reload.
func (s *Server) ApplyManifest(ctx context.Context, next *Manifest) (Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return Diff{}, errors.New("dev: server not opened")
	}

	prevKey := s.current.Version

	var diff Diff
	if s.baseKey(next) != s.baseKey(s.manifest) {
		diff.Reload = "configuration changed"
	} else {
		var err error
		diff, err = DiffManifests(s.manifest, next, s.current.Generation+1)
		if err != nil {
			return Diff{}, err
		}
	}

	if diff.Reload != "" {
		s.epoch++
		s.manifest = next
		s.current = s.configFor(next, s.current.Generation)
		sent := s.hub.Broadcast(protocol.NewFrame(protocol.FrameReload, protocol.EncodeReload(&protocol.Reload{
			Generation: s.current.Generation,
			Reason:     diff.Reload,
		})))
		s.logger.Info("full reload", "reason", diff.Reload, "clients", sent, "old_key", prevKey, "key", s.current.Version)
		if s.options.OnReload != nil {
			s.options.OnReload(diff.Reload, sent)
		}
		return diff, nil
	}

	if diff.Batch == nil {
		s.manifest = next
		return diff, nil
	}

	if err := s.history.Append(ctx, diff.Batch); err != nil {
		return Diff{}, err
	}
	s.manifest = next
	s.current = s.configFor(next, diff.Batch.Generation)
	if s.options.Metrics != nil {
		s.options.Metrics.RecordGeneration(diff.Batch.Generation)
	}

	sent := s.hub.Broadcast(&protocol.Frame{
		Type:    protocol.FrameUpdate,
		Payload: protocol.EncodeUpdate(diff.Batch),
	})
	if s.current.Console {
		s.hub.Broadcast(protocol.NewFrame(protocol.FrameConsole, protocol.EncodeConsole(&protocol.ConsoleBatch{
			Calls: []protocol.ConsoleCall{{
				Channel: "log",
				Args:    []byte(fmt.Sprintf("[hmr] generation %d: %d module(s) updated", diff.Batch.Generation, len(diff.Batch.Modules))),
			}},
		})))
	}
	s.logger.Info("update published",
		"generation", diff.Batch.Generation,
		"modules", len(diff.Batch.Modules),
		"files", len(diff.Batch.Files),
		"roots", len(diff.Batch.AddedRoots),
		"clients", sent)
	if s.options.OnUpdate != nil {
		s.options.OnUpdate(diff.Batch.Generation, len(diff.Batch.Modules), sent)
	}
	return diff, nil
}

// Console sends a console line to every client when console forwarding
// is enabled. It returns the number of clients reached.
func (s *Server) Console(channel, line string) int {
	s.mu.Lock()
	enabled := s.current.Console
	s.mu.Unlock()
	if !enabled {
		return 0
	}
	return s.hub.Broadcast(protocol.NewFrame(protocol.FrameConsole, protocol.EncodeConsole(&protocol.ConsoleBatch{
		Calls: []protocol.ConsoleCall{{Channel: channel, Args: []byte(line)}},
	})))
}

// handshake answers hello. On success the welcome and the replayed
// batches are queued on p and p joins the hub before any later broadcast
// can reach it. A refusal is returned for the caller to write.
func (s *Server) handshake(ctx context.Context, hello *protocol.Hello, p *peer) *protocol.Welcome {
	if !protocol.CurrentVersion.Compatible(hello.Version) {
		return &protocol.Welcome{Status: protocol.HandshakeVersionMismatch}
	}
	if s.hub.full() {
		return &protocol.Welcome{Status: protocol.HandshakeServerBusy}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := client.RecordFromConfig(s.current)

	if hello.ConfigKey != s.current.Version {
		return &protocol.Welcome{Status: protocol.HandshakeConfigMismatch, Config: record}
	}

	batches, err := s.history.Since(ctx, hello.Generation)
	switch {
	case errors.Is(err, history.ErrGap):
		return &protocol.Welcome{Status: protocol.HandshakeHistoryGap, Config: record}
	case err != nil:
		s.logger.Error("history unavailable", "error", err)
		return &protocol.Welcome{Status: protocol.HandshakeInternalError}
	}
	if cap(p.send)-len(p.send) < len(batches)+1 {
		return &protocol.Welcome{Status: protocol.HandshakeServerBusy}
	}

	welcome := &protocol.Welcome{Status: protocol.HandshakeOK, Config: record, Replay: uint32(len(batches))}
	s.hub.send(p, protocol.NewFrame(protocol.FrameWelcome, protocol.EncodeWelcome(welcome)))
	for i, u := range batches {
		flags := protocol.FlagReplay
		if i == len(batches)-1 {
			flags |= protocol.FlagFinal
		}
		s.hub.send(p, &protocol.Frame{Type: protocol.FrameUpdate, Flags: flags, Payload: protocol.EncodeUpdate(u)})
	}
	s.hub.add(p)
	return welcome
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(int64(protocol.FrameHeaderSize + protocol.MaxPayloadSize))
	logger := s.logger.With("remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(helloWait))
	hello, err := readHello(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		logger.Debug("bad hello", "error", err)
		s.refuse(conn, &protocol.Welcome{Status: protocol.HandshakeInvalidFormat})
		return
	}

	backlog := sendBacklog
	if latest, err := s.history.Latest(r.Context()); err == nil && latest > hello.Generation {
		backlog += int(latest - hello.Generation)
	}
	p := newPeer(conn, hello.SSR, backlog)

	welcome := s.handshake(r.Context(), hello, p)
	if welcome.Status != protocol.HandshakeOK {
		logger.Info("handshake refused", "status", welcome.Status.String(), "key", hello.ConfigKey, "generation", hello.Generation)
		s.refuse(conn, welcome)
		return
	}
	logger.Info("client attached", "generation", hello.Generation, "replay", welcome.Replay, "ssr", p.ssr, "clients", s.hub.ClientCount())

	go p.writeLoop()
	s.readLoop(p, logger)
	s.hub.remove(p)
	logger.Info("client detached", "clients", s.hub.ClientCount())
}

// refuse writes a refusing Welcome and closes the connection.
func (s *Server) refuse(conn *websocket.Conn, w *protocol.Welcome) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	frame := protocol.NewFrame(protocol.FrameWelcome, protocol.EncodeWelcome(w))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err == nil {
		s.hub.recordFrame(frame)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	conn.Close()
}

// readLoop logs the console and error reports a client sends until the
// connection closes.
func (s *Server) readLoop(p *peer, logger *slog.Logger) {
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			logger.Warn("bad frame", "error", err)
			continue
		}

		switch f.Type {
		case protocol.FrameConsole:
			b, err := protocol.DecodeConsole(f.Payload)
			if err != nil {
				logger.Warn("bad console frame", "error", err)
				continue
			}
			for _, call := range b.Calls {
				logger.Info("client console", "channel", call.Channel, "args", string(call.Args))
			}

		case protocol.FrameError:
			em, err := protocol.DecodeErrorMessage(f.Payload)
			if err != nil {
				logger.Warn("bad error frame", "error", err)
				continue
			}
			herr := hmrerrors.FromWire(em)
			logger.Error("client error",
				"code", herr.Code,
				"module", em.Module,
				"generation", em.Generation,
				"fatal", em.Fatal,
				"error", herr.FormatCompact(),
				"detail", em.Message)

		default:
			logger.Debug("ignoring frame", "type", f.Type.String())
		}
	}
}

func readHello(conn *websocket.Conn) (*protocol.Hello, error) {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, errors.New("hello must be a binary message")
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if f.Type != protocol.FrameHello {
		return nil, fmt.Errorf("expected Hello, got %s", f.Type)
	}
	return protocol.DecodeHello(f.Payload)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gen := s.current.Generation
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": gen,
		"clients":    s.hub.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
