package handlers

import (
	"encoding/json"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api"
	"github.com/linesmerrill/marketplace-chat-api/conversation"
)

const namespace = "/"

// NewSocketIOServer creates the Socket.IO server. With a redis address the
// rooms are shared between every instance using the same prefix.
func NewSocketIOServer(redisAddr, redisPrefix string) (*socketio.Server, error) {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			polling.Default,
			websocket.Default,
		},
	})

	if redisAddr != "" {
		if _, err := server.Adapter(&socketio.RedisAdapterOptions{
			Addr:   redisAddr,
			Prefix: redisPrefix,
		}); err != nil {
			return nil, err
		}
		zap.S().Infow("socket.io rooms shared through redis", "addr", redisAddr, "prefix", redisPrefix)
	}
	return server, nil
}

// socketSession adapts a socket.io connection to conversation.Session
type socketSession struct {
	conn socketio.Conn
}

func (s socketSession) ID() string {
	return s.conn.ID()
}

func (s socketSession) Join(room string) {
	s.conn.Join(room)
}

func (s socketSession) Leave(room string) {
	s.conn.Leave(room)
}

func (s socketSession) Emit(event string, payload interface{}) {
	s.conn.Emit(event, payload)
}

// SocketBroadcaster delivers router broadcasts to socket.io rooms
type SocketBroadcaster struct {
	Server *socketio.Server
}

// BroadcastToRoom implements conversation.Broadcaster
func (b SocketBroadcaster) BroadcastToRoom(room, event string, payload interface{}) {
	b.Server.BroadcastToRoom(namespace, room, event, payload)
}

// SocketIO binds socket.io events to the conversation router
type SocketIO struct {
	Server        *socketio.Server
	Conversations *conversation.Router
	QueryTimeout  time.Duration
}

// RegisterHandlers installs the connection lifecycle and event handlers
func (sio SocketIO) RegisterHandlers() {
	router := sio.Conversations

	sio.Server.OnConnect(namespace, func(s socketio.Conn) error {
		s.SetContext("")
		api.ActiveConnections.WithLabelValues(transportSocketIO).Inc()
		zap.S().Debugw("Socket.IO client connected", "session", s.ID())
		return nil
	})

	sio.Server.OnError(namespace, func(s socketio.Conn, e error) {
		if s == nil {
			zap.S().Warnw("Socket.IO error", "error", e)
			return
		}
		zap.S().Warnw("Socket.IO error", "session", s.ID(), "error", e)
	})

	sio.Server.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		router.Disconnect(socketSession{conn: s})
		api.ActiveConnections.WithLabelValues(transportSocketIO).Dec()
		zap.S().Debugw("Socket.IO client disconnected", "session", s.ID(), "reason", reason)
	})

	d := dispatcher{
		transport:    transportSocketIO,
		router:       router,
		queryTimeout: sio.QueryTimeout,
	}
	for _, event := range inboundEvents {
		event := event
		// raw payloads: a typed argument that fails to decode makes
		// go-socket.io drop the connection
		sio.Server.OnEvent(namespace, event, func(s socketio.Conn, raw json.RawMessage) {
			d.dispatch(socketSession{conn: s}, event, raw)
		})
	}
}
