package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendQueueDepth = 256
)

// Hub tracks live connections per session, split by role. It is purely
// transient: it is rebuilt from REGISTER commands after every process
// restart, while the durable session state lives in Redis.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*sessionConns
	logger   zerolog.Logger
}

type sessionConns struct {
	admin      *Connection
	students   map[*Connection]struct{}
	spectators map[*Connection]struct{}
}

func newSessionConns() *sessionConns {
	return &sessionConns{
		students:   make(map[*Connection]struct{}),
		spectators: make(map[*Connection]struct{}),
	}
}

// NewHub creates an empty connection registry.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*sessionConns),
		logger:   logger,
	}
}

// Register places a connection under a session and role, detaching it
// from any slot it held before so a re-register never leaves a stale
// entry receiving duplicate broadcasts. A second admin registration for
// the same session replaces the previous admin handle; the displaced
// connection stays open but no longer receives broadcasts.
func (h *Hub) Register(sessionID, role string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.detachLocked(conn)

	sc, ok := h.sessions[sessionID]
	if !ok {
		sc = newSessionConns()
		h.sessions[sessionID] = sc
	}

	conn.sessionID = sessionID
	conn.role = role

	switch role {
	case RoleAdmin:
		sc.admin = conn
	case RoleStudent:
		sc.students[conn] = struct{}{}
	case RoleSpectator:
		sc.spectators[conn] = struct{}{}
	}

	h.logger.Info().
		Str("session_id", sessionID).
		Str("role", role).
		Str("client_id", conn.ID).
		Msg("connection registered")
}

// Unregister removes a connection from whichever session/role it was
// registered under. Unknown connections are a no-op.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[conn.sessionID]; !ok {
		return
	}
	h.detachLocked(conn)

	h.logger.Info().
		Str("session_id", conn.sessionID).
		Str("client_id", conn.ID).
		Msg("connection unregistered")
}

// detachLocked removes the connection from whichever slot it currently
// occupies and prunes the session entry once empty. Caller holds h.mu.
func (h *Hub) detachLocked(conn *Connection) {
	sc, ok := h.sessions[conn.sessionID]
	if !ok {
		return
	}

	if sc.admin == conn {
		sc.admin = nil
	}
	delete(sc.students, conn)
	delete(sc.spectators, conn)

	if sc.admin == nil && len(sc.students) == 0 && len(sc.spectators) == 0 {
		delete(h.sessions, conn.sessionID)
	}
}

// Broadcast delivers msg to the session's admin, every student and every
// spectator, skipping connections that are no longer writable.
func (h *Hub) Broadcast(sessionID string, msg Message) {
	h.mu.RLock()
	sc, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make([]*Connection, 0, 1+len(sc.students)+len(sc.spectators))
	if sc.admin != nil {
		conns = append(conns, sc.admin)
	}
	for c := range sc.students {
		conns = append(conns, c)
	}
	for c := range sc.spectators {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			h.logger.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("client_id", c.ID).
				Msg("broadcast send skipped")
		}
	}
}

// Shutdown pushes msg to every live connection and closes them all.
func (h *Hub) Shutdown(msg Message) {
	h.mu.Lock()
	var conns []*Connection
	for _, sc := range h.sessions {
		if sc.admin != nil {
			conns = append(conns, sc.admin)
		}
		for c := range sc.students {
			conns = append(conns, c)
		}
		for c := range sc.spectators {
			conns = append(conns, c)
		}
	}
	h.sessions = make(map[string]*sessionConns)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Send(msg)
		c.Close()
	}
}

// SessionCount reports the number of sessions with at least one connection.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Connection wraps a WebSocket with a buffered send queue so slow clients
// cannot block the engine.
type Connection struct {
	ID string

	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger

	sessionID string
	role      string
}

// NewConnection wraps an upgraded WebSocket connection.
func NewConnection(id string, conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		ID:     id,
		conn:   conn,
		sendCh: make(chan Message, sendQueueDepth),
		logger: logger,
	}
}

// SessionID returns the session this connection registered under, or "".
func (c *Connection) SessionID() string { return c.sessionID }

// Role returns the role this connection registered under, or "".
func (c *Connection) Role() string { return c.role }

// Send queues a message for delivery.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close marks the connection closed and closes the send queue. The write
// pump drains whatever is still queued, then closes the underlying socket.
// Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
}

// WritePump drains the send queue and pings on a fixed interval. The read
// side enforces the pong deadline, so a client that stops answering pings
// is torn down within pongWait.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Str("client_id", c.ID).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump feeds each raw inbound frame to handler. It returns when the
// peer disconnects or misses the heartbeat deadline.
func (c *Connection) ReadPump(handler func(raw []byte)) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Str("client_id", c.ID).Msg("read error")
			}
			return
		}
		handler(raw)
	}
}

var (
	ErrConnectionClosed = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull    = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
