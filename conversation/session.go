package conversation

import "sync"

// Session is one client connection as seen by the router
type Session interface {
	ID() string
	Join(room string)
	Leave(room string)
	Emit(event string, payload interface{})
}

// Broadcaster delivers an event to every connection subscribed to a room
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{})
}

// MultiBroadcaster fans a broadcast out to several transports so members of
// the same room are reached whichever transport they connected with
type MultiBroadcaster []Broadcaster

// BroadcastToRoom implements Broadcaster
func (m MultiBroadcaster) BroadcastToRoom(room, event string, payload interface{}) {
	for _, b := range m {
		b.BroadcastToRoom(room, event, payload)
	}
}

// sessionRegistry maps session ids to the user they identified as
type sessionRegistry struct {
	mu    sync.RWMutex
	users map[string]string
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{users: make(map[string]string)}
}

// bind records userID for the session. It reports false when the session is
// already bound to a different user.
func (r *sessionRegistry) bind(sessionID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.users[sessionID]; ok && current != userID {
		return false
	}
	r.users[sessionID] = userID
	return true
}

func (r *sessionRegistry) user(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[sessionID]
	return u, ok
}

func (r *sessionRegistry) drop(sessionID string) {
	r.mu.Lock()
	delete(r.users, sessionID)
	r.mu.Unlock()
}

// stats returns the number of identified sessions and distinct users
func (r *sessionRegistry) stats() (sessions, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	distinct := make(map[string]struct{}, len(r.users))
	for _, u := range r.users {
		distinct[u] = struct{}{}
	}
	return len(r.users), len(distinct)
}
