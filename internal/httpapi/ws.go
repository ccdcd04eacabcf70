package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mdp/qrterminal/v3"

	"github.com/chipwarmer/chipwarmer/internal/account"
	"github.com/chipwarmer/chipwarmer/internal/protocol"
)

// wsConn adapts a gorilla connection to the hub, bounding every write so a
// stalled peer cannot wedge a broadcast.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handlePanelWS serves a dashboard observer channel. After the handshake the
// channel is server-to-client only; inbound frames are read and discarded to
// service control messages.
func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.hub.RegisterObserver(id, &wsConn{conn: conn})
	defer s.hub.UnregisterObserver(id)
	s.metrics.WSMessages.WithLabelValues("inbound", "observer_connected").Inc()

	s.configureReadLimits(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleAgentWS serves an agent's bidirectional channel. Events are processed
// in arrival order; a fault while handling one event isolates to this account.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if _, err := s.registry.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.hub.RegisterAgent(id, &wsConn{conn: conn})
	defer s.hub.UnregisterAgent(id)
	slog.Info("agent channel connected", "session_id", id)

	s.configureReadLimits(conn)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseAgentMessage(data)
		if err != nil {
			slog.Debug("dropping malformed agent frame", "session_id", id, "error", err)
			continue
		}
		s.dispatchAgentEvent(r, id, parsed)
	}

	// An unexpected disconnect faults the account and tears down any owning
	// conversation. After an explicit removal the record is already gone and
	// both calls are no-ops.
	if _, err := s.registry.Get(id); err == nil {
		slog.Warn("agent channel disconnected", "session_id", id)
		s.warmer.CancelFor(id)
		s.registry.MarkError(id)
		s.hub.SendToObserver(id, protocol.StatusUpdate{Type: protocol.TypeStatusUpdate, Status: string(account.StatusError)})
		s.metrics.AccountEvents.WithLabelValues("agent_disconnected").Inc()
	}
}

func (s *Server) configureReadLimits(conn *websocket.Conn) {
	timeout := s.cfgStore.Security().SessionTimeout
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		return nil
	})
}

// dispatchAgentEvent routes one parsed event. A panic in a handler marks the
// account faulted without taking down the hub or other agents' processing.
func (s *Server) dispatchAgentEvent(r *http.Request, id string, parsed any) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("agent event handler fault", "session_id", id, "panic", rec)
			s.warmer.CancelFor(id)
			s.registry.MarkError(id)
			s.metrics.AccountEvents.WithLabelValues("agent_fault").Inc()
		}
	}()

	switch msg := parsed.(type) {
	case protocol.QREvent:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeQR)).Inc()
		if err := s.registry.SetAwaitingScan(id); err != nil {
			slog.Debug("qr event ignored", "session_id", id, "error", err)
		}
		s.hub.SendToObserver(id, msg)
		s.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeQR)).Inc()
		s.record(r.Context(), id, "qr", "")
		if s.cfgStore.System().Debug {
			qrterminal.GenerateHalfBlock(msg.Data, qrterminal.L, os.Stdout)
		}

	case protocol.StatusEvent:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeStatus)).Inc()
		s.applyAgentStatus(id, msg)
		if acc, err := s.registry.Get(id); err == nil {
			s.hub.SendToObserver(id, protocol.StatusUpdate{Type: protocol.TypeStatusUpdate, Status: string(acc.Status)})
			s.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeStatusUpdate)).Inc()
		}

	case protocol.MessageReceived:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeMessageReceived)).Inc()
		s.warmer.HandleMessage(r.Context(), id, msg.From)
	}
}

func (s *Server) applyAgentStatus(id string, msg protocol.StatusEvent) {
	switch strings.ToLower(msg.Status) {
	case "online", "ready", "connected":
		if err := s.registry.SetOnline(id, msg.Numero); err != nil {
			slog.Debug("status event ignored", "session_id", id, "status", msg.Status, "error", err)
			return
		}
		s.record(context.Background(), id, "online", msg.Numero)
	case "offline", "error", "disconnected":
		s.warmer.CancelFor(id)
		s.registry.MarkError(id)
		s.record(context.Background(), id, "agent_offline", msg.Status)
	default:
		// Startup chatter ("starting", "initializing"); keep the current state.
		s.registry.Touch(id)
	}
}
