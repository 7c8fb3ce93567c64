// Package hub bridges the event bus to WebSocket clients. A client joins
// one or more tenants and receives that tenant's pipeline events as JSON
// frames; slow clients are absorbed by the bus's drop-oldest policy, so
// the pipeline is never stalled by a stuck socket.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/observability"
)

const (
	// sendBuffer absorbs bursts between the bus and the socket writer.
	sendBuffer = 64
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings keep the read
	// deadline alive.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames; join and leave are tiny.
	maxMessageSize = 1024
)

// Client message types.
const (
	MessageJoin  = "join"
	MessageLeave = "leave"
)

// clientMessage is a join or leave request from the client.
type clientMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

// Authorizer decides whether a principal may join a tenant's stream.
type Authorizer func(principal *auth.Principal, tenantID string) bool

// TenantMatch authorizes a principal only for its own tenant.
func TenantMatch(principal *auth.Principal, tenantID string) bool {
	return principal != nil && principal.TenantID == tenantID
}

// HubStats is a point-in-time snapshot for diagnostics.
type HubStats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

// Hub upgrades HTTP requests to WebSocket connections and manages their
// tenant subscriptions.
type Hub struct {
	bus       *events.Bus
	authorize Authorizer
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	conns  map[*connection]struct{}
	closed bool
}

// NewHub creates a hub over the given bus. Joins are authorized with
// TenantMatch unless WithAuthorizer overrides it.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:       bus,
		authorize: TenantMatch,
		logger:    observability.WithComponent(slog.Default(), "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware in
			// front of the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}
}

// WithLogger sets the logger for the hub.
func (h *Hub) WithLogger(logger *slog.Logger) *Hub {
	if logger != nil {
		h.logger = observability.WithComponent(logger, "hub")
	}
	return h
}

// WithAuthorizer sets the join predicate.
func (h *Hub) WithAuthorizer(authorize Authorizer) *Hub {
	if authorize != nil {
		h.authorize = authorize
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until the
// client disconnects. The request must carry an authenticated principal.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		hub:       h,
		ws:        ws,
		principal: principal,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		subs:      make(map[string]*events.Subscription),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket connected", "principal", principal.ID, "tenant_id", principal.TenantID)
	go c.writePump()
	c.readLoop()
}

// Close drops every connection. New upgrades are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	h.logger.Info("hub closed", "connections_dropped", len(conns))
}

// Stats reports connection and subscription counts.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	stats := HubStats{Connections: len(conns)}
	for _, c := range conns {
		c.mu.Lock()
		stats.Subscriptions += len(c.subs)
		c.mu.Unlock()
	}
	return stats
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// connection is one WebSocket client with its tenant subscriptions.
type connection struct {
	hub       *Hub
	ws        *websocket.Conn
	principal *auth.Principal
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	// subs is nil once the connection is closed; joins check that.
	subs map[string]*events.Subscription
}

// readLoop consumes client frames until the socket drops. It is the only
// goroutine that adds subscriptions.
func (c *connection) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed client frame", "error", err)
			continue
		}
		switch msg.Type {
		case MessageJoin:
			c.join(msg.TenantID)
		case MessageLeave:
			c.leave(msg.TenantID)
		default:
			c.hub.logger.Debug("ignoring unknown client message", "type", msg.Type)
		}
	}
}

// writePump owns all writes to the socket, including keepalive pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) join(tenantID string) {
	if tenantID == "" {
		return
	}
	if !c.hub.authorize(c.principal, tenantID) {
		c.hub.logger.Warn("join denied",
			"principal", c.principal.ID,
			"principal_tenant", c.principal.TenantID,
			"tenant_id", tenantID)
		return
	}

	c.mu.Lock()
	if c.subs == nil {
		c.mu.Unlock()
		return
	}
	if _, ok := c.subs[tenantID]; ok {
		c.mu.Unlock()
		return
	}
	sub := c.hub.bus.Subscribe(tenantID)
	c.subs[tenantID] = sub
	c.mu.Unlock()

	go c.forward(sub)
	c.hub.logger.Debug("tenant joined", "principal", c.principal.ID, "tenant_id", tenantID)
}

func (c *connection) leave(tenantID string) {
	c.mu.Lock()
	sub := c.subs[tenantID]
	delete(c.subs, tenantID)
	c.mu.Unlock()

	if sub != nil {
		c.hub.bus.Unsubscribe(sub)
		c.hub.logger.Debug("tenant left", "principal", c.principal.ID, "tenant_id", tenantID)
	}
}

// forward pumps one subscription into the send channel. It exits when the
// subscription is closed by an unsubscribe or when the connection dies.
// A full send channel blocks this goroutine, which pushes overflow into
// the bus's own drop-oldest buffer instead of the publisher.
func (c *connection) forward(sub *events.Subscription) {
	for ev := range sub.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			c.hub.logger.Error("encoding event", "type", ev.Type, "error", err)
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()
		for _, sub := range subs {
			c.hub.bus.Unsubscribe(sub)
		}

		c.ws.Close()
		c.hub.remove(c)
		c.hub.logger.Debug("websocket disconnected", "principal", c.principal.ID)
	})
}
