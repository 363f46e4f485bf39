package quiz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/metrics"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/pkg/ws"
)

func dialHandler(t *testing.T, f *engineFixture) (*websocket.Conn, *ws.Hub) {
	t.Helper()
	return dialHandlerWithMetrics(t, f, nil)
}

func dialHandlerWithMetrics(t *testing.T, f *engineFixture, mets *metrics.Metrics) (*websocket.Conn, *ws.Hub) {
	t.Helper()

	hub := ws.NewHub(zerolog.Nop())
	handler := NewHandler(f.engine, hub, mets, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn, hub
}

// readEvent reads frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, eventType string) ws.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", eventType)
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestHandler_AssignsClientIDOnConnect(t *testing.T) {
	f := newEngineFixture(t)
	conn, _ := dialHandler(t, f)

	msg := readEvent(t, conn, ws.EventClientID)
	var payload ws.ClientIDPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.NotEmpty(t, payload.ClientID)
}

func TestHandler_RegisterSyncsCurrentState(t *testing.T) {
	f := newEngineFixture(t)
	f.seed(t, "s1", func(st *SessionState) {
		st.IsQuizStarted = true
		st.Scores = map[string]int{"alice": 3}
	})

	conn, hub := dialHandler(t, f)
	readEvent(t, conn, ws.EventClientID)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    ws.CmdRegister,
		"payload": map[string]any{"role": "student", "sessionId": "s1", "studentId": "alice"},
	}))

	msg := readEvent(t, conn, ws.EventQuizState)
	var state SessionState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.True(t, state.IsQuizStarted)
	assert.Equal(t, map[string]int{"alice": 3}, state.Scores)

	require.Eventually(t, func() bool {
		return hub.SessionCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_ReRegisterMovesRoleGauge(t *testing.T) {
	f := newEngineFixture(t)
	mets := metrics.New(prometheus.NewRegistry())
	conn, _ := dialHandlerWithMetrics(t, f, mets)
	readEvent(t, conn, ws.EventClientID)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    ws.CmdRegister,
		"payload": map[string]any{"role": "spectator", "sessionId": "s1"},
	}))
	readEvent(t, conn, ws.EventQuizState)
	assert.Equal(t, 1.0, testutil.ToFloat64(mets.ConnectionsActive.WithLabelValues("spectator")))

	// Same socket registers again as a student; the spectator count must
	// come back down instead of leaking.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    ws.CmdRegister,
		"payload": map[string]any{"role": "student", "sessionId": "s1", "studentId": "alice"},
	}))
	readEvent(t, conn, ws.EventQuizState)
	assert.Equal(t, 0.0, testutil.ToFloat64(mets.ConnectionsActive.WithLabelValues("spectator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mets.ConnectionsActive.WithLabelValues("student")))
}

func TestHandler_MalformedFrameGetsErrorEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "this is not json"},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"DANCE","payload":{}}`},
		{"bad payload", `{"type":"BUZZ","payload":{"sessionId":""}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			conn, _ := dialHandler(t, f)
			readEvent(t, conn, ws.EventClientID)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)))

			msg := readEvent(t, conn, ws.EventError)
			var payload ws.ErrorPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestHandler_CommandsReachEngine(t *testing.T) {
	f := newEngineFixture(t)
	conn, _ := dialHandler(t, f)
	readEvent(t, conn, ws.EventClientID)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    ws.CmdRegister,
		"payload": map[string]any{"role": "admin", "sessionId": "s1"},
	}))
	readEvent(t, conn, ws.EventQuizState)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    ws.CmdSetScoringMode,
		"payload": map[string]any{"sessionId": "s1", "mode": "department"},
	}))

	// The fixture engine broadcasts through its fake hub, so assert the
	// applied command through the store.
	require.Eventually(t, func() bool {
		return f.load(t, "s1").ScoringMode == ScoringDepartment
	}, 2*time.Second, 10*time.Millisecond)
}
