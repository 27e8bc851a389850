package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api"
	"github.com/linesmerrill/marketplace-chat-api/conversation"
	"github.com/linesmerrill/marketplace-chat-api/models"
)

const maxFrameSize = 16 * 1024

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients send no Origin
	},
}

// WebSocket serves the raw websocket transport for clients without a
// socket.io library
type WebSocket struct {
	Hub           *Hub
	Conversations *conversation.Router
	QueryTimeout  time.Duration
}

// ConversationsWebSocketHandler upgrades the request and serves events until
// the client goes away
func (ws WebSocket) ConversationsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c := ws.Hub.newClient(conn)
	api.ActiveConnections.WithLabelValues(transportWebSocket).Inc()
	zap.S().Debugw("websocket client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump()

	defer func() {
		ws.Hub.remove(c)
		ws.Conversations.Disconnect(c)
		api.ActiveConnections.WithLabelValues(transportWebSocket).Dec()
		zap.S().Debugw("websocket client disconnected", "client", c.id)
	}()

	// events from one connection are handled in order, one at a time
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Debugw("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.Emit("error", models.ErrorEvent{Code: string(conversation.CodeInvalidRequest), Reason: "frame is not a json envelope"})
			continue
		}
		ws.route(c, env)
	}
}

func (ws WebSocket) route(c *wsClient, env envelope) {
	dispatcher{
		transport:    transportWebSocket,
		router:       ws.Conversations,
		queryTimeout: ws.QueryTimeout,
	}.dispatch(c, env.Event, env.Data)
}
