package dev

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/pkg/client"
	"github.com/vango-dev/hmr/pkg/hmr"
	"github.com/vango-dev/hmr/pkg/protocol"
	"github.com/vango-dev/hmr/pkg/telemetry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testServer struct {
	*Server
	http *httptest.Server
	path string
}

func newTestServer(t *testing.T, opts ServerOptions) *testServer {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	writeManifest(t, path, baseManifest())

	if opts.Config == nil {
		opts.Config = config.New()
	}
	opts.Config.Dev.Manifest = path
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = quiet
	}

	s := NewServer(opts)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.Stop)
	return &testServer{Server: s, http: ts, path: path}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/_hmr"
}

// publish applies next as if the watcher had read it.
func (ts *testServer) publish(t *testing.T, next *Manifest) Diff {
	t.Helper()
	diff, err := ts.ApplyManifest(context.Background(), roundTrip(t, next))
	if err != nil {
		t.Fatalf("ApplyManifest: %v", err)
	}
	return diff
}

func dial(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f *protocol.Frame) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func hello(t *testing.T, conn *websocket.Conn, h *protocol.Hello) *protocol.Welcome {
	t.Helper()
	sendFrame(t, conn, protocol.NewFrame(protocol.FrameHello, protocol.EncodeHello(h)))
	f := readFrame(t, conn)
	if f.Type != protocol.FrameWelcome {
		t.Fatalf("got %s, want Welcome", f.Type)
	}
	w, err := protocol.DecodeWelcome(f.Payload)
	if err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	return w
}

func readUpdate(t *testing.T, conn *websocket.Conn) (*protocol.Frame, *protocol.UpdateBatch) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != protocol.FrameUpdate {
		t.Fatalf("got %s, want Update", f.Type)
	}
	u, err := protocol.DecodeUpdate(f.Payload)
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return f, u
}

func TestServer_Handshake(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	conn := dial(t, ts)

	w := hello(t, conn, protocol.NewHello("v1", 0))
	if w.Status != protocol.HandshakeOK {
		t.Fatalf("Status = %s, want OK", w.Status)
	}
	if w.Replay != 0 {
		t.Errorf("Replay = %d, want 0", w.Replay)
	}
	if w.Config.Main != "main.js" || w.Config.Version != "v1" || w.Config.Generation != 0 {
		t.Errorf("Config = %+v", w.Config)
	}
	eventually(t, "client attached", func() bool { return ts.ClientCount() == 1 })
}

func TestServer_ReplayThenLive(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})
	ts.publish(t, withLeaf(baseManifest(), "leaf.2"))
	ts.publish(t, withLeaf(baseManifest(), "leaf.3"))

	conn := dial(t, ts)
	w := hello(t, conn, protocol.NewHello("v1", 0))
	if w.Status != protocol.HandshakeOK || w.Replay != 2 {
		t.Fatalf("Welcome = %+v, want OK with 2 replays", w)
	}
	if w.Config.Generation != 2 {
		t.Errorf("Config.Generation = %d, want 2", w.Config.Generation)
	}

	for i, want := range []string{"leaf.2", "leaf.3"} {
		f, u := readUpdate(t, conn)
		if u.Generation != uint64(i+1) {
			t.Errorf("replay %d: Generation = %d", i, u.Generation)
		}
		if !f.Flags.Has(protocol.FlagReplay) {
			t.Errorf("replay %d: missing Replay flag", i)
		}
		if final := f.Flags.Has(protocol.FlagFinal); final != (i == 1) {
			t.Errorf("replay %d: Final = %v", i, final)
		}
		if len(u.Modules) != 1 || u.Modules[0].Symbol != want {
			t.Errorf("replay %d: Modules = %+v", i, u.Modules)
		}
	}

	ts.publish(t, withLeaf(baseManifest(), "leaf.4"))
	f, u := readUpdate(t, conn)
	if f.Flags.Has(protocol.FlagReplay) {
		t.Error("live update flagged Replay")
	}
	if u.Generation != 3 || u.Modules[0].Symbol != "leaf.4" {
		t.Errorf("live update = %+v", u)
	}
	if got := ts.Config().Generation; got != 3 {
		t.Errorf("Config().Generation = %d, want 3", got)
	}
}

func TestServer_HandshakeRefusals(t *testing.T) {
	tests := []struct {
		name   string
		hello  *protocol.Hello
		status protocol.HandshakeStatus
	}{
		{"protocol version", &protocol.Hello{Version: protocol.ProtocolVersion{Major: 9}, ConfigKey: "v1"}, protocol.HandshakeVersionMismatch},
		{"config key", protocol.NewHello("stale", 0), protocol.HandshakeConfigMismatch},
		{"future generation", protocol.NewHello("v1", 5), protocol.HandshakeHistoryGap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, ServerOptions{})
			conn := dial(t, ts)
			w := hello(t, conn, tt.hello)
			if w.Status != tt.status {
				t.Fatalf("Status = %s, want %s", w.Status, tt.status)
			}
			if ts.ClientCount() != 0 {
				t.Errorf("ClientCount = %d, want 0", ts.ClientCount())
			}
		})
	}

	t.Run("malformed hello", func(t *testing.T) {
		ts := newTestServer(t, ServerOptions{})
		conn := dial(t, ts)
		if err := conn.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
			t.Fatal(err)
		}
		f := readFrame(t, conn)
		w, err := protocol.DecodeWelcome(f.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if w.Status != protocol.HandshakeInvalidFormat {
			t.Errorf("Status = %s, want InvalidFormat", w.Status)
		}
	})
}

func TestServer_HistoryGapAfterRetention(t *testing.T) {
	cfg := config.New()
	cfg.History.Limit = 1
	ts := newTestServer(t, ServerOptions{Config: cfg})
	ts.publish(t, withLeaf(baseManifest(), "leaf.2"))
	ts.publish(t, withLeaf(baseManifest(), "leaf.3"))

	w := hello(t, dial(t, ts), protocol.NewHello("v1", 0))
	if w.Status != protocol.HandshakeHistoryGap {
		t.Fatalf("Status = %s, want HistoryGap", w.Status)
	}
	if !w.Status.RequiresReload() {
		t.Error("HistoryGap should require a reload")
	}

	w = hello(t, dial(t, ts), protocol.NewHello("v1", 1))
	if w.Status != protocol.HandshakeOK || w.Replay != 1 {
		t.Errorf("Welcome = %+v, want OK with 1 replay", w)
	}
}

func TestServer_ServerBusy(t *testing.T) {
	ts := newTestServer(t, ServerOptions{MaxClients: 1})

	if w := hello(t, dial(t, ts), protocol.NewHello("v1", 0)); w.Status != protocol.HandshakeOK {
		t.Fatalf("first client: %s", w.Status)
	}
	if w := hello(t, dial(t, ts), protocol.NewHello("v1", 0)); w.Status != protocol.HandshakeServerBusy {
		t.Errorf("second client: %s, want ServerBusy", w.Status)
	}
}

func TestServer_StructuralChangeReloads(t *testing.T) {
	var reasons []string
	ts := newTestServer(t, ServerOptions{
		OnReload: func(reason string, clients int) { reasons = append(reasons, reason) },
	})
	conn := dial(t, ts)
	hello(t, conn, protocol.NewHello("v1", 0))

	next := baseManifest()
	next.Modules["main.js"] = ManifestModule{Kind: KindESM, Symbol: "main.plain", ExportKeys: []string{"v"}}
	delete(next.Modules, "leaf.js")
	diff := ts.publish(t, next)
	if diff.Reload == "" {
		t.Fatal("expected a reload diff")
	}

	f := readFrame(t, conn)
	if f.Type != protocol.FrameReload {
		t.Fatalf("got %s, want Reload", f.Type)
	}
	r, err := protocol.DecodeReload(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if r.Reason != diff.Reload {
		t.Errorf("Reason = %q, want %q", r.Reason, diff.Reload)
	}
	if len(reasons) != 1 {
		t.Errorf("OnReload calls = %v", reasons)
	}

	// The key rotates, so a client holding the old graph must reload.
	key := ts.Config().Version
	if key == "v1" {
		t.Fatal("config key did not change")
	}
	if w := hello(t, dial(t, ts), protocol.NewHello("v1", 0)); w.Status != protocol.HandshakeConfigMismatch {
		t.Errorf("old key: %s, want ConfigMismatch", w.Status)
	}
	if w := hello(t, dial(t, ts), protocol.NewHello(key, 0)); w.Status != protocol.HandshakeOK {
		t.Errorf("new key: %s, want OK", w.Status)
	}
}

func TestServer_LogsClientReports(t *testing.T) {
	var logs syncBuffer
	ts := newTestServer(t, ServerOptions{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	conn := dial(t, ts)
	hello(t, conn, protocol.NewHello("v1", 0))

	sendFrame(t, conn, protocol.NewFrame(protocol.FrameConsole, protocol.EncodeConsole(&protocol.ConsoleBatch{
		Calls: []protocol.ConsoleCall{{Channel: "warn", Args: []byte("careful")}},
	})))
	sendFrame(t, conn, protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(
		protocol.NewLoadError(protocol.ErrLoad, "leaf.js", "boom"),
	)))

	eventually(t, "client reports logged", func() bool {
		out := logs.String()
		return strings.Contains(out, "careful") && strings.Contains(out, "H006") && strings.Contains(out, "boom")
	})
}

func TestServer_ConsoleForwarding(t *testing.T) {
	cfg := config.New()
	cfg.Runtime.Console = true
	ts := newTestServer(t, ServerOptions{Config: cfg})
	conn := dial(t, ts)
	if w := hello(t, conn, protocol.NewHello("v1", 0)); !w.Config.Console {
		t.Fatal("Config.Console not published")
	}

	if n := ts.Console("info", "server says hi"); n != 1 {
		t.Fatalf("Console reached %d clients, want 1", n)
	}
	f := readFrame(t, conn)
	if f.Type != protocol.FrameConsole {
		t.Fatalf("got %s, want Console", f.Type)
	}
	b, err := protocol.DecodeConsole(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Calls) != 1 || string(b.Calls[0].Args) != "server says hi" {
		t.Errorf("Calls = %+v", b.Calls)
	}
}

func TestServer_HTTPEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(telemetry.WithRegistry(reg))
	ts := newTestServer(t, ServerOptions{Metrics: metrics, Gatherer: reg})
	hello(t, dial(t, ts), protocol.NewHello("v1", 0))
	ts.publish(t, withLeaf(baseManifest(), "leaf.2"))

	resp, err := http.Get(ts.http.URL + "/_hmr/config")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Cache-Control"), "no-cache") {
		t.Errorf("Cache-Control = %q", resp.Header.Get("Cache-Control"))
	}
	var cfg hmr.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Main != "main.js" || cfg.Version != "v1" || cfg.Generation != 1 {
		t.Errorf("config = %+v", cfg)
	}

	resp, err = http.Get(ts.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["generation"] != float64(1) {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(ts.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"hmr_connected_clients 1", "hmr_generation 1", `hmr_frames_sent_total{type="Update"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

// TestServer_RuntimeClient drives a real runtime through the client.
func TestServer_RuntimeClient(t *testing.T) {
	ts := newTestServer(t, ServerOptions{})

	leaf := func(v int) hmr.LoadFunc {
		return func(ctx context.Context, m *hmr.Module) error {
			return m.Export("v", v)
		}
	}
	cat := client.NewCatalog().
		ESM("main.accepting", func(ctx context.Context, m *hmr.Module) error {
			m.Hot().Accept()
			ex, err := m.Import(ctx, "leaf.js")
			if err != nil {
				return err
			}
			v, err := ex.Get("v")
			if err != nil {
				return err
			}
			return m.Export("v", v)
		}).
		ESM("leaf.1", leaf(1)).
		ESM("leaf.2", leaf(2))

	m, err := LoadManifest(ts.path)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := m.Records()
	if err != nil {
		t.Fatal(err)
	}
	table, err := cat.Table(recs)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := hmr.NewRuntime(ts.Config(), table, hmr.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Close)
	if _, err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	c := client.New(ts.wsURL(), rt, cat, client.Options{Logger: quiet})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	eventually(t, "client attached", func() bool { return ts.ClientCount() == 1 })
	ts.publish(t, withLeaf(baseManifest(), "leaf.2"))

	eventually(t, "generation 1 applied", func() bool {
		return rt.Config().Generation == 1
	})
	main, ok := rt.Registry().Get("main.js")
	if !ok {
		t.Fatal("main.js missing")
	}
	if v, _ := main.Exports().Lookup("v"); v != 2 {
		t.Errorf("main v = %v, want 2", v)
	}
}
