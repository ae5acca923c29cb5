// Package room maps conversations to the set of live sessions currently
// focused on them, and fans events out to those sessions. Membership is
// transient: it is rebuilt from scratch on every connect and never persisted.
package room

import (
	"sync"
)

// Sender delivers an encoded event to one session. The transport layer
// implements it with a non-blocking bounded enqueue, so a slow consumer is
// dropped rather than allowed to stall a broadcast.
type Sender interface {
	Send(sessionID string, data []byte) error
}

// Manager is the goroutine-safe room registry. A session belongs to at most
// one room at a time, mirroring a client UI with a single open conversation.
type Manager struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // conversationID -> set of sessionID
	current map[string]string              // sessionID -> conversationID
	sender  Sender
}

// NewManager creates an empty Manager that delivers through sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		members: make(map[string]map[string]struct{}),
		current: make(map[string]string),
		sender:  sender,
	}
}

// Join adds the session to the conversation's room, removing it from any
// prior room first. Authorization is the caller's concern; the manager
// never inspects conversation ACLs.
func (m *Manager) Join(sessionID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.current[sessionID]; ok {
		m.removeLocked(sessionID, prev)
	}

	set, ok := m.members[conversationID]
	if !ok {
		set = make(map[string]struct{})
		m.members[conversationID] = set
	}
	set[sessionID] = struct{}{}
	m.current[sessionID] = conversationID
}

// Leave removes the session from the conversation's room. Leaving a room
// the session is not in is a no-op.
func (m *Manager) Leave(sessionID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current[sessionID] != conversationID {
		return
	}
	m.removeLocked(sessionID, conversationID)
}

// Drop removes the session from whatever room it is in. Called on
// disconnect, when the conversation ID is not known to the transport.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.current[sessionID]; ok {
		m.removeLocked(sessionID, conv)
	}
}

func (m *Manager) removeLocked(sessionID, conversationID string) {
	if set := m.members[conversationID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.members, conversationID)
		}
	}
	delete(m.current, sessionID)
}

// RoomOf returns the conversation the session is currently in.
func (m *Manager) RoomOf(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.current[sessionID]
	return conv, ok
}

// Members returns a snapshot of the session IDs in a conversation's room.
func (m *Manager) Members(conversationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.members[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Broadcast delivers data to every session in the conversation's room except
// excludeSessionID (pass "" to deliver to all). Send errors on individual
// sessions are ignored; dead connections are reaped by the transport layer.
// Returns the number of sessions the event was handed to.
func (m *Manager) Broadcast(conversationID string, data []byte, excludeSessionID string) int {
	m.mu.RLock()
	set := m.members[conversationID]
	targets := make([]string, 0, len(set))
	for id := range set {
		if id != excludeSessionID {
			targets = append(targets, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range targets {
		_ = m.sender.Send(id, data)
	}
	return len(targets)
}
