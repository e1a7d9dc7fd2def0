// Package api - WebSocket handler for turn-based game sessions
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"github.com/alexbotov/casino-core/internal/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection bound to one session
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	accountID string
}

// HandleWebSocket handles GET /api/v1/ws/sessions/{id}
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !h.ownsSession(w, r, sessionID) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: sessionID,
		accountID: accountFrom(r),
	}

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages until the connection closes. Messages are
// handled one at a time, so a client's actions reach the session in order.
func (h *Handler) readPump(c *WSClient) {
	defer func() {
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	h.sendMessage(c, "connected", map[string]interface{}{"session_id": c.sessionID})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket closed", zap.String("session_id", c.sessionID), zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "INVALID_MESSAGE", "Invalid message format")
			continue
		}
		h.handleWSMessage(c, &msg)
	}
}

// handleWSMessage processes incoming WebSocket messages
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
	defer cancel()

	switch msg.Type {
	case "action":
		var req actionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			h.sendError(c, "INVALID_PAYLOAD", "Invalid action payload")
			return
		}
		res, err := h.sessions.Apply(ctx, session.ActionRequest{
			SessionID: c.sessionID,
			ActionID:  req.ActionID,
			Action:    req.Action,
			Params:    req.Params,
		})
		if err != nil {
			_, code := errorStatus(err)
			h.sendError(c, code, err.Error())
			return
		}
		h.sendMessage(c, "state", res)

	case "state":
		res, err := h.sessions.View(ctx, c.sessionID)
		if err != nil {
			_, code := errorStatus(err)
			h.sendError(c, code, err.Error())
			return
		}
		h.sendMessage(c, "state", res)

	case "balance":
		balance, err := h.wallet.Balance(ctx, c.accountID)
		if err != nil {
			_, code := errorStatus(err)
			h.sendError(c, code, err.Error())
			return
		}
		h.sendMessage(c, "balance", balance)

	case "abandon":
		if err := h.sessions.Abandon(ctx, c.sessionID, "player request"); err != nil {
			_, code := errorStatus(err)
			h.sendError(c, code, err.Error())
			return
		}
		h.sendMessage(c, "abandoned", map[string]interface{}{
			"session_id": c.sessionID,
			"status":     domain.SessionAbandoned,
		})

	case "ping":
		h.sendMessage(c, "pong", map[string]interface{}{"timestamp": time.Now().Unix()})

	default:
		h.sendError(c, "UNKNOWN_MESSAGE", "Unknown message type: "+msg.Type)
	}
}

// sendMessage queues a message for the client, dropping it if the client
// is not reading
func (h *Handler) sendMessage(c *WSClient, msgType string, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("websocket payload not encodable", zap.String("type", msgType), zap.Error(err))
		return
	}
	msgBytes, _ := json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})

	select {
	case c.send <- msgBytes:
	default:
		h.logger.Warn("websocket send buffer full", zap.String("session_id", c.sessionID))
	}
}

// sendError sends an error message to the client
func (h *Handler) sendError(c *WSClient, code, message string) {
	h.sendMessage(c, "error", map[string]string{
		"code":    code,
		"message": message,
	})
}
