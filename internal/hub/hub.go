// Package hub relays events between agent processes, dashboard observers and
// the coordinator. It keeps two disjoint connection sets keyed by session id
// and delivers with fire-and-forget semantics: a peer that fails a write is
// treated as already disconnected and evicted.
package hub

import (
	"log/slog"
	"sync"
)

// Conn is the minimal surface the hub needs from a websocket connection.
// *websocket.Conn from gorilla satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// peer serializes writes so delivery to a single connection stays FIFO even
// when several goroutines send to the same session.
type peer struct {
	mu   sync.Mutex
	conn Conn
}

func (p *peer) send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

// Hub indexes observer and agent channels by session id.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*peer
	agents    map[string]*peer
}

func New() *Hub {
	return &Hub{
		observers: make(map[string]*peer),
		agents:    make(map[string]*peer),
	}
}

func (h *Hub) RegisterObserver(sessionID string, conn Conn) {
	h.register(h.observers, sessionID, conn)
}

func (h *Hub) RegisterAgent(sessionID string, conn Conn) {
	h.register(h.agents, sessionID, conn)
}

func (h *Hub) register(set map[string]*peer, sessionID string, conn Conn) {
	h.mu.Lock()
	old := set[sessionID]
	set[sessionID] = &peer{conn: conn}
	h.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// UnregisterObserver removes the observer channel for the session. Absent
// mappings are ignored.
func (h *Hub) UnregisterObserver(sessionID string) {
	h.unregister(h.observers, sessionID)
}

// UnregisterAgent removes the agent channel for the session. Absent mappings
// are ignored.
func (h *Hub) UnregisterAgent(sessionID string) {
	h.unregister(h.agents, sessionID)
}

func (h *Hub) unregister(set map[string]*peer, sessionID string) {
	h.mu.Lock()
	p := set[sessionID]
	delete(set, sessionID)
	h.mu.Unlock()
	if p != nil {
		_ = p.conn.Close()
	}
}

// SendToObserver delivers one event to the session's observer if connected.
// Delivery failure evicts the connection and is never surfaced.
func (h *Hub) SendToObserver(sessionID string, event any) {
	h.sendTo(h.observers, sessionID, event, "observer")
}

// SendToAgent delivers one event to the session's agent if connected.
func (h *Hub) SendToAgent(sessionID string, event any) {
	h.sendTo(h.agents, sessionID, event, "agent")
}

func (h *Hub) sendTo(set map[string]*peer, sessionID string, event any, kind string) {
	h.mu.RLock()
	p := set[sessionID]
	h.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.send(event); err != nil {
		slog.Debug("relay write failed, dropping connection", "kind", kind, "session_id", sessionID, "error", err)
		h.evict(set, sessionID, p)
	}
}

// BroadcastObservers delivers one event to every connected observer. A failing
// peer is evicted and never blocks delivery to the rest.
func (h *Hub) BroadcastObservers(event any) {
	h.mu.RLock()
	snapshot := make(map[string]*peer, len(h.observers))
	for id, p := range h.observers {
		snapshot[id] = p
	}
	h.mu.RUnlock()

	for id, p := range snapshot {
		if err := p.send(event); err != nil {
			slog.Debug("relay broadcast write failed, dropping observer", "session_id", id, "error", err)
			h.evict(h.observers, id, p)
		}
	}
}

// evict removes the mapping only if it still points at the failing peer, so a
// reconnect that raced the failure is not torn down.
func (h *Hub) evict(set map[string]*peer, sessionID string, failed *peer) {
	h.mu.Lock()
	if set[sessionID] == failed {
		delete(set, sessionID)
	}
	h.mu.Unlock()
	_ = failed.conn.Close()
}

// ObserverCount reports the number of connected observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// AgentCount reports the number of connected agents.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}
