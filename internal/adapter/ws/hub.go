// Package ws implements the WebSocket adapter that pushes analysis results
// and analyzer status to connected editor hosts.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second
	outboxSize   = 64
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one connected host. Frames are written by its own goroutine so
// that a slow host never delays the others.
type client struct {
	ws     *websocket.Conn
	remote string
	outbox chan []byte
	cancel context.CancelFunc
}

// Hub fans events out to every connected host.
type Hub struct {
	origins []string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. origins are host patterns accepted in addition to
// same-origin requests.
func NewHub(origins ...string) *Hub {
	return &Hub{
		origins: origins,
		clients: make(map[*client]struct{}),
	}
}

// HandleWS upgrades the request and serves the host until it disconnects
// or falls behind. Frames sent by the host are ignored.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &client{ws: conn, remote: r.RemoteAddr, outbox: make(chan []byte, outboxSize), cancel: cancel}
	h.add(c)
	defer h.drop(c, websocket.StatusNormalClosure, "")

	// CloseRead answers pings and ends the context when the host leaves.
	h.pump(conn.CloseRead(ctx), c)
}

func (h *Hub) pump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "remote", c.remote, "error", err)
				return
			}
		}
	}
}

// Broadcast queues msg for every host. A host whose queue is full is
// disconnected; it resynchronizes on reconnect.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "type", msg.Type, "error", err)
		return
	}

	var lagging []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.outbox <- frame:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagging {
		slog.Warn("websocket host too slow, disconnecting", "remote", c.remote, "type", msg.Type)
		h.drop(c, websocket.StatusPolicyViolation, "too slow")
	}
}

// ConnectionCount returns the number of connected hosts.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every host.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.drop(c, websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", c.remote, "connections", n)
}

// drop unregisters c and closes its connection. Only the first call for a
// client has an effect.
func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	if c.ws != nil {
		_ = c.ws.Close(code, reason)
	}
	slog.Info("websocket disconnected", "remote", c.remote)
}
