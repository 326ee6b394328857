package handlers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	ws "github.com/user/agentdesk/backend/internal/websocket"
)

const (
	sendBuffer     = 256
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// stream serves a read-only websocket feed backed by hub. snapshot, when it returns non-nil,
// is written before any live message.
func (h *Handler) stream(hub *ws.Hub, snapshot func() any) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		addr := conn.RemoteAddr().String()
		logger := h.logger.With(slog.String("addr", addr))
		client := ws.NewClient(addr, sendBuffer)

		if v := snapshot(); v != nil {
			if msg, err := json.Marshal(v); err == nil {
				client.Send <- msg
			}
		}
		if !hub.Register(h.BaseContext, client) {
			_ = conn.Close()
			return
		}
		logger.Debug("websocket connected")

		done := make(chan struct{})
		go func() {
			defer close(done)
			writePump(conn, client, logger)
		}()

		// The handler must not return while the connection is in use.
		readPump(conn, logger)
		hub.Unregister(h.BaseContext, client)
		<-done
		logger.Debug("websocket disconnected")
	}
}

// writePump copies hub messages to conn until the hub closes client.Send or a write fails.
func writePump(conn *websocket.Conn, client *ws.Client, logger *slog.Logger) {
	defer conn.Close()
	for msg := range client.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
}

// readPump discards inbound frames; it returns when the peer goes away.
func readPump(conn *websocket.Conn, logger *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
	}
}
