package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

// queueConn builds a connection that is never pumped; tests inspect its
// send queue directly.
func queueConn(id string) *Connection {
	return NewConnection(id, nil, zerolog.Nop())
}

func drain(c *Connection) []Message {
	var out []Message
	for {
		select {
		case msg := <-c.sendCh:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BroadcastReachesAllRolesOfSession(t *testing.T) {
	hub := newTestHub()

	admin := queueConn("admin")
	student1 := queueConn("student1")
	student2 := queueConn("student2")
	spectator := queueConn("spectator")
	otherSession := queueConn("other")

	hub.Register("s1", RoleAdmin, admin)
	hub.Register("s1", RoleStudent, student1)
	hub.Register("s1", RoleStudent, student2)
	hub.Register("s1", RoleSpectator, spectator)
	hub.Register("s2", RoleStudent, otherSession)

	hub.Broadcast("s1", NewMessage(EventQuizStarted, nil))

	assert.Len(t, drain(admin), 1)
	assert.Len(t, drain(student1), 1)
	assert.Len(t, drain(student2), 1)
	assert.Len(t, drain(spectator), 1)
	assert.Empty(t, drain(otherSession))
}

func TestHub_BroadcastUnknownSessionIsNoop(t *testing.T) {
	hub := newTestHub()
	hub.Broadcast("nope", NewMessage(EventQuizState, nil))
}

func TestHub_SecondAdminReplacesFirst(t *testing.T) {
	hub := newTestHub()

	first := queueConn("first")
	second := queueConn("second")

	hub.Register("s1", RoleAdmin, first)
	hub.Register("s1", RoleAdmin, second)

	hub.Broadcast("s1", NewMessage(EventQuizState, nil))

	assert.Empty(t, drain(first))
	assert.Len(t, drain(second), 1)
}

func TestHub_ReRegisterLeavesSingleSlot(t *testing.T) {
	hub := newTestHub()

	conn := queueConn("c1")
	hub.Register("s1", RoleSpectator, conn)
	hub.Register("s1", RoleStudent, conn)

	// One delivery, not one per slot the connection ever held.
	hub.Broadcast("s1", NewMessage(EventQuizState, nil))
	assert.Len(t, drain(conn), 1)
	assert.Equal(t, RoleStudent, conn.Role())
}

func TestHub_ReRegisterMovesAcrossSessions(t *testing.T) {
	hub := newTestHub()

	conn := queueConn("c1")
	hub.Register("s1", RoleStudent, conn)
	hub.Register("s2", RoleStudent, conn)

	// The old session lost its only member and is pruned.
	assert.Equal(t, 1, hub.SessionCount())

	hub.Broadcast("s1", NewMessage(EventQuizState, nil))
	assert.Empty(t, drain(conn))

	hub.Broadcast("s2", NewMessage(EventQuizState, nil))
	assert.Len(t, drain(conn), 1)
}

func TestHub_UnregisterPrunesEmptySession(t *testing.T) {
	hub := newTestHub()

	student := queueConn("student")
	hub.Register("s1", RoleStudent, student)
	require.Equal(t, 1, hub.SessionCount())

	hub.Unregister(student)
	assert.Equal(t, 0, hub.SessionCount())

	// Unknown connection, nothing to do.
	hub.Unregister(queueConn("stranger"))
}

func TestHub_UnregisterKeepsPopulatedSession(t *testing.T) {
	hub := newTestHub()

	admin := queueConn("admin")
	student := queueConn("student")
	hub.Register("s1", RoleAdmin, admin)
	hub.Register("s1", RoleStudent, student)

	hub.Unregister(student)
	assert.Equal(t, 1, hub.SessionCount())

	hub.Broadcast("s1", NewMessage(EventQuizState, nil))
	assert.Len(t, drain(admin), 1)
	assert.Empty(t, drain(student))
}

func TestHub_BroadcastSkipsClosedConnection(t *testing.T) {
	hub := newTestHub()

	live := queueConn("live")
	dead := queueConn("dead")
	dead.closed = true

	hub.Register("s1", RoleStudent, live)
	hub.Register("s1", RoleStudent, dead)

	hub.Broadcast("s1", NewMessage(EventTimerUpdate, nil))

	assert.Len(t, drain(live), 1)
	assert.Empty(t, drain(dead))
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	c := queueConn("c1")
	c.closed = true

	err := c.Send(NewMessage(EventQuizState, nil))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_SendFullQueueFails(t *testing.T) {
	c := queueConn("c1")
	for i := 0; i < sendQueueDepth; i++ {
		require.NoError(t, c.Send(NewMessage(EventTimerUpdate, nil)))
	}

	err := c.Send(NewMessage(EventTimerUpdate, nil))
	assert.ErrorIs(t, err, ErrSendQueueFull)
}

// socketPair upgrades a real WebSocket and returns the server-side
// connection (with its write pump running) and the client side.
func socketPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wc := NewConnection("server-side", conn, zerolog.Nop())
		go wc.WritePump()
		connCh <- wc
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server := <-connCh:
		return server, client
	case <-time.After(time.Second):
		t.Fatal("server connection never arrived")
		return nil, nil
	}
}

func TestConnection_WritePumpDeliversQueuedMessages(t *testing.T) {
	server, client := socketPair(t)

	require.NoError(t, server.Send(NewMessage(EventQuizStarted, map[string]int{"remainingTime": 10000})))

	client.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, EventQuizStarted, msg.Type)
}

func TestHub_ShutdownNotifiesAndClears(t *testing.T) {
	hub := newTestHub()
	server, client := socketPair(t)
	hub.Register("s1", RoleStudent, server)

	hub.Shutdown(NewMessage(EventServerShutdown, ShutdownPayload{Message: "server restarting"}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, EventServerShutdown, msg.Type)

	// The connection is torn down after the notice.
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 0, hub.SessionCount())
	assert.ErrorIs(t, server.Send(NewMessage(EventQuizState, nil)), ErrConnectionClosed)
}
