package wsserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"devsync/internal/changebus"
	"devsync/internal/metrics"
	"devsync/internal/workerutil"
)

// writeDeadline is the maximum time allowed for a single WebSocket write to
// complete. A client that cannot accept a frame within this window is
// considered dead.
const writeDeadline = 5 * time.Second

// readDeadline is the maximum time the server waits for any read activity
// (including pong responses) before considering the connection dead.
// 90 seconds allows for ~3 missed pings (pingInterval=30s) before timeout.
const readDeadline = 90 * time.Second

// pingInterval is the interval between server-initiated WebSocket pings.
const pingInterval = 30 * time.Second

// maxReadMessageSize limits the maximum size of incoming WebSocket messages.
// Clients only send small control frames.
const maxReadMessageSize = 4 * 1024

// EventSource hands out change-event subscriptions.
type EventSource interface {
	Subscribe() *changebus.Subscription
	Unsubscribe(sub *changebus.Subscription)
}

// HubOptions configures the WebSocket hub.
type HubOptions struct {
	// Source provides one subscription per connected client.
	Source EventSource
	// AllowedOrigins lists the browser origins allowed to connect. "*" allows
	// any origin. Requests without an Origin header (non-browser clients) are
	// always accepted.
	AllowedOrigins []string
	// PingInterval overrides the keepalive interval (tests).
	PingInterval time.Duration
}

// Hub serves WebSocket connections and forwards change events to each of
// them. Every client has its own subscription, so a slow client never delays
// another.
//
// Write failure policy: any write failure closes the client's connection. The
// client must reconnect.
type Hub struct {
	source       EventSource
	upgrader     websocket.Upgrader
	allowAll     bool
	origins      map[string]struct{}
	pingInterval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	// writers tracks the per-client writer goroutines.
	writers sync.WaitGroup
}

// client is one connected WebSocket peer.
type client struct {
	id   string
	conn *websocket.Conn
	sub  *changebus.Subscription

	// writeMu serializes WriteMessage calls. gorilla/websocket does not support
	// concurrent writes.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a Hub with the given options.
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("wsserver: event source is required")
	}
	h := &Hub{
		source:       opts.Source,
		origins:      make(map[string]struct{}),
		pingInterval: opts.PingInterval,
		clients:      make(map[*client]struct{}),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = pingInterval
	}
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			h.allowAll = true
			continue
		}
		if origin != "" {
			h.origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 4 * 1024,
	}
	return h, nil
}

// checkOrigin accepts requests from the configured origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := h.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
	if !ok {
		slog.Warn("[DEBUG-WS] rejected origin", "origin", origin)
	}
	return ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new connections. Safe to call
// multiple times.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.sendClose(c, websocket.CloseGoingAway, "server shutting down")
		h.disconnect(c, "hub closed")
	}
	h.writers.Wait()
	slog.Info("[DEBUG-WS] hub closed", "clients", len(clients))
}

// ServeHTTP upgrades the request to WebSocket and runs the read pump for the
// connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
	if !h.register(c) {
		h.sendClose(c, websocket.CloseGoingAway, "server shutting down")
		closeConn(conn, "hub closed during upgrade")
		return
	}
	slog.Info("[DEBUG-WS] client connected", "clientId", c.id, "remoteAddr", conn.RemoteAddr())

	hello, err := EncodeHello(c.id)
	if err == nil {
		err = h.write(c, websocket.TextMessage, hello)
	}
	if err != nil {
		h.disconnect(c, "hello failed")
		return
	}

	if !h.startWriter(c) {
		h.disconnect(c, "hub closed")
		return
	}
	h.readPump(c)
}

// startWriter launches the write pump unless Close has begun. The check and
// the launch share h.mu so no writer is added once Close waits on h.writers.
func (h *Hub) startWriter(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.writers.Go(func() { h.writePump(c) })
	return true
}

// register subscribes c to the event source. The subscription is taken before
// the hello frame is sent, so every event published after the client reads
// hello reaches it.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	c.sub = h.source.Subscribe()
	h.clients[c] = struct{}{}
	metrics.SetWSConnectionsActive(len(h.clients))
	return true
}

// disconnect removes c, ends its subscription and closes its connection.
// Safe to call from any goroutine and more than once.
func (h *Hub) disconnect(c *client, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()
		metrics.SetWSConnectionsActive(n)

		if c.sub != nil {
			h.source.Unsubscribe(c.sub)
		}
		closeConn(c.conn, reason)
		slog.Info("[DEBUG-WS] client disconnected", "clientId", c.id, "reason", reason)
	})
}

// readPump handles frames sent by the client. It returns when the connection
// fails or is closed.
func (h *Hub) readPump(c *client) {
	defer h.disconnect(c, "read pump exit")
	defer workerutil.RecoverPanic("ws-read-pump")

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[DEBUG-WS] read error", "clientId", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frameType, err := DecodeClientMessage(msg)
		if err != nil {
			slog.Debug("[DEBUG-WS] invalid frame from client", "clientId", c.id, "error", err)
			h.sendError(c, err.Error())
			continue
		}
		switch frameType {
		case TypePing:
			if err := h.write(c, websocket.TextMessage, encodePong()); err != nil {
				return
			}
		default:
			h.sendError(c, fmt.Sprintf("unknown message type %q", frameType))
		}
	}
}

// writePump forwards subscription events and sends keepalive pings until the
// client disconnects or the bus closes.
func (h *Hub) writePump(c *client) {
	defer workerutil.RecoverPanic("ws-write-pump")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.sub.Events():
			if !ok {
				h.sendClose(c, websocket.CloseGoingAway, "event stream closed")
				h.disconnect(c, "subscription closed")
				return
			}
			if err := h.deliver(c, event); err != nil {
				slog.Debug("[DEBUG-WS] write failed, closing connection", "clientId", c.id, "error", err)
				h.disconnect(c, "write error")
				return
			}
		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				slog.Debug("[DEBUG-WS] ping failed, connection likely dead", "clientId", c.id, "error", err)
				h.disconnect(c, "ping failure")
				return
			}
		}
	}
}

// deliver writes one event, preceded by resync frames when events were
// dropped for this client.
func (h *Hub) deliver(c *client, event changebus.Event) error {
	if c.sub.TakeLagged() {
		slog.Debug("[DEBUG-WS] client lagged, sending resync", "clientId", c.id)
		for _, frame := range resyncFrames() {
			if err := h.write(c, websocket.TextMessage, frame); err != nil {
				return err
			}
		}
	}
	frame, err := EncodeEvent(event)
	if err != nil {
		slog.Warn("[DEBUG-WS] failed to encode event", "event", event, "error", err)
		return nil
	}
	return h.write(c, websocket.TextMessage, frame)
}

// write sends one message under the client's write lock with a deadline.
func (h *Hub) write(c *client, msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	err := c.conn.WriteMessage(msgType, data)
	// Failure to clear is non-fatal: the next write sets a fresh deadline.
	if clearErr := c.conn.SetWriteDeadline(time.Time{}); clearErr != nil {
		slog.Debug("[DEBUG-WS] clearWriteDeadline failed (non-fatal)", "error", clearErr)
	}
	return err
}

// sendError sends a JSON error message to the client. On write failure the
// connection is closed.
func (h *Hub) sendError(c *client, message string) {
	payload, err := encodeError(message)
	if err != nil {
		slog.Debug("[DEBUG-WS] failed to marshal error message", "error", err)
		return
	}
	if err := h.write(c, websocket.TextMessage, payload); err != nil {
		slog.Debug("[DEBUG-WS] failed to send error to client", "clientId", c.id, "error", err)
		h.disconnect(c, "write error in sendError")
	}
}

// sendClose sends a close frame. Errors are ignored: the connection is closed
// right after anyway.
func (h *Hub) sendClose(c *client, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// closeConn closes a WebSocket connection. The close may fail if another
// goroutine closed it already; that is logged at Debug level.
func closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[DEBUG-WS] connection close", "reason", reason, "error", err)
	}
}
