package dev

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/hmr/pkg/protocol"
	"github.com/vango-dev/hmr/pkg/telemetry"
)

const (
	writeWait   = 10 * time.Second
	sendBacklog = 64
)

// peer is one attached client. Frames are queued on send and written by
// the peer's own writer goroutine, so a slow client never blocks a
// broadcast.
type peer struct {
	conn *websocket.Conn
	ssr  bool
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(conn *websocket.Conn, ssr bool, backlog int) *peer {
	if backlog < sendBacklog {
		backlog = sendBacklog
	}
	return &peer{
		conn: conn,
		ssr:  ssr,
		send: make(chan []byte, backlog),
		done: make(chan struct{}),
	}
}

// enqueue queues data and reports false if the peer is gone or too far
// behind.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop writes queued frames until the peer is closed.
func (p *peer) writeLoop() {
	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Hub tracks attached clients and fans frames out to them.
type Hub struct {
	mu      sync.RWMutex
	peers   map[*peer]struct{}
	closed  bool
	max     int
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewHub creates a hub. max caps the attached clients (zero is
// unlimited); metrics may be nil.
func NewHub(max int, metrics *telemetry.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:   make(map[*peer]struct{}),
		max:     max,
		metrics: metrics,
		logger:  logger.With("component", "dev.hub"),
	}
}

// full reports whether another client would exceed the cap.
func (h *Hub) full() bool {
	if h.max <= 0 {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers) >= h.max
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.close()
		return
	}
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RecordClientConnect()
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	h.mu.Unlock()
	p.close()
	if ok && h.metrics != nil {
		h.metrics.RecordClientDisconnect()
	}
}

// send queues f for one peer.
func (h *Hub) send(p *peer, f *protocol.Frame) bool {
	if !p.enqueue(f.Encode()) {
		return false
	}
	h.recordFrame(f)
	return true
}

func (h *Hub) recordFrame(f *protocol.Frame) {
	if h.metrics != nil {
		h.metrics.RecordFrame(f.Type.String())
	}
}

// Broadcast queues f for every attached client and returns how many
// accepted it. Clients whose queue is full are dropped; they resync
// through the handshake when they reconnect.
func (h *Hub) Broadcast(f *protocol.Frame) int {
	data := f.Encode()

	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if p.enqueue(data) {
			sent++
			h.recordFrame(f)
			continue
		}
		h.logger.Warn("dropping slow client", "remote", p.conn.RemoteAddr().String())
		h.remove(p)
	}
	return sent
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*peer]struct{})
	h.closed = true
	h.mu.Unlock()

	for p := range peers {
		p.close()
		if h.metrics != nil {
			h.metrics.RecordClientDisconnect()
		}
	}
}
