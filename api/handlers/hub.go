package handlers

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 64

// envelope is the frame format of the raw websocket transport
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub tracks raw websocket clients and the rooms they joined. It is the
// room layer for /ws/conversations; socket.io keeps its own.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]map[*wsClient]struct{}
	count int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*wsClient]struct{})}
}

// wsClient is one raw websocket connection. It implements
// conversation.Session.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mutex
	rooms  map[string]struct{}
	closed bool
}

func (h *Hub) newClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		id:    uuid.New().String(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.mutex.Lock()
	h.count++
	h.mutex.Unlock()
	return c
}

func (c *wsClient) ID() string {
	return c.id
}

func (c *wsClient) Join(room string) {
	h := c.hub
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if c.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*wsClient]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (c *wsClient) Leave(room string) {
	h := c.hub
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leave(c, room)
}

// leave must be called with hub.mutex held
func (h *Hub) leave(c *wsClient, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (c *wsClient) Emit(event string, payload interface{}) {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		zap.S().Errorw("failed to marshal websocket event", "event", event, "error", err)
		return
	}
	c.hub.mutex.Lock()
	defer c.hub.mutex.Unlock()
	c.hub.enqueue(c, b)
}

// enqueue must be called with hub.mutex held. A client whose buffer is full
// is too slow to keep up and gets disconnected.
func (h *Hub) enqueue(c *wsClient, b []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		zap.S().Warnw("websocket client send buffer full, dropping connection", "client", c.id)
		h.removeLocked(c)
	}
}

// BroadcastToRoom implements conversation.Broadcaster
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		zap.S().Errorw("failed to marshal websocket broadcast", "event", event, "error", err)
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.rooms[room] {
		h.enqueue(c, b)
	}
}

// remove drops the client from every room and closes its send channel
func (h *Hub) remove(c *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *wsClient) {
	if c.closed {
		return
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	c.closed = true
	close(c.send)
	h.count--
}

// RoomLen returns the number of clients in a room
func (h *Hub) RoomLen(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// Stats reports connected clients and non-empty rooms
func (h *Hub) Stats() (clients, rooms int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count, len(h.rooms)
}

// writePump sends queued frames until the send channel is closed
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			zap.S().Debugw("websocket write failed", "client", c.id, "error", err)
			c.hub.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
