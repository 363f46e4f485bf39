package quiz

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/logging"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/metrics"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/server"
	"github.com/derekforsure/APIQ-interactive-quiz-sub000/pkg/ws"
)

// Handler owns the WebSocket side of the engine: accepting connections,
// validating frames, and feeding commands to the state machine.
type Handler struct {
	engine  *Engine
	hub     *ws.Hub
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHandler creates the quiz WebSocket handler.
func NewHandler(engine *Engine, hub *ws.Hub, mets *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		hub:     hub,
		metrics: mets,
		logger:  logger,
	}
}

// HandleWebSocket upgrades the HTTP connection and runs its read loop
// until the peer disconnects or misses the heartbeat.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	wsConn := ws.NewConnection(clientID, conn, h.logger)
	go wsConn.WritePump()

	if err := wsConn.Send(ws.NewMessage(ws.EventClientID, ws.ClientIDPayload{ClientID: clientID})); err != nil {
		h.logger.Warn().Err(err).Str("client_id", clientID).Msg("client id send failed")
	}

	// Every frame of this connection logs under its client id.
	connLogger := h.logger.With().Str("client_id", clientID).Logger()
	ctx := logging.IntoContext(r.Context(), connLogger)

	wsConn.ReadPump(func(raw []byte) {
		h.handleFrame(ctx, wsConn, raw)
	})

	// Cleanup on disconnect; a connection that never registered is a no-op.
	h.hub.Unregister(wsConn)
	if h.metrics != nil && wsConn.Role() != "" {
		h.metrics.ConnectionsActive.WithLabelValues(wsConn.Role()).Dec()
	}
	wsConn.Close()
}

// handleFrame validates one inbound frame. Malformed input is answered
// with an ERROR event on the offending connection only; it never reaches
// the engine or other sessions.
func (h *Handler) handleFrame(ctx context.Context, conn *ws.Connection, raw []byte) {
	cmd, verr := ParseCommand(raw)
	if verr != nil {
		log := logging.FromContext(ctx)
		log.Warn().
			Str("reason", verr.Message).
			Msg("rejected inbound message")
		h.sendError(conn, verr)
		return
	}

	if h.metrics != nil {
		h.metrics.CommandsTotal.WithLabelValues(cmd.CommandType()).Inc()
	}

	if reg, ok := cmd.(RegisterCmd); ok {
		h.register(ctx, conn, reg)
		return
	}

	h.engine.Apply(ctx, cmd)
}

// register places the connection in the session registry and unicasts the
// current state so late joiners and rejoiners resynchronize immediately.
func (h *Handler) register(ctx context.Context, conn *ws.Connection, cmd RegisterCmd) {
	prevRole := conn.Role()
	h.hub.Register(cmd.SessionID, cmd.Role, conn)
	if h.metrics != nil {
		// A re-register moved the connection; its old role slot is gone.
		if prevRole != "" {
			h.metrics.ConnectionsActive.WithLabelValues(prevRole).Dec()
		}
		h.metrics.ConnectionsActive.WithLabelValues(cmd.Role).Inc()
	}

	state, err := h.engine.Snapshot(ctx, cmd.SessionID)
	if err != nil {
		log := logging.FromContext(ctx)
		log.Error().Err(err).
			Str("session_id", cmd.SessionID).
			Msg("state snapshot failed")
		h.sendError(conn, invalid("could not load session state"))
		return
	}

	if err := conn.Send(ws.NewMessage(ws.EventQuizState, state)); err != nil {
		log := logging.FromContext(ctx)
		log.Warn().Err(err).Msg("state sync send failed")
	}
}

func (h *Handler) sendError(conn *ws.Connection, verr *ValidationError) {
	msg := ws.NewMessage(ws.EventError, ws.ErrorPayload{
		Message: verr.Message,
		Errors:  verr.Fields,
	})
	if err := conn.Send(msg); err != nil {
		h.logger.Warn().Err(err).Str("client_id", conn.ID).Msg("error send failed")
	}
}
