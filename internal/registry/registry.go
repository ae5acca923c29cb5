// Package registry tracks live sessions per user identity. It owns the
// session lifecycle: sessions are created on connect, refreshed by
// heartbeats, and destroyed on disconnect or forced eviction. A user may
// hold any number of concurrent sessions (one per device or tab).
package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Session is one live connection instance belonging to a user.
type Session struct {
	ID              string
	UserID          string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
}

// Listener receives session lifecycle notifications. UserConnected fires on
// every session registration; UserDisconnected fires only when a user's last
// session is removed.
type Listener interface {
	UserConnected(userID string)
	UserDisconnected(userID string)
}

// Registry is a goroutine-safe map of sessions with O(1) lookups by session
// ID and by user ID.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byUser   map[string]map[string]*Session // userID -> sessionID -> session
	clock    clock.Clock
	listener Listener
}

// New creates an empty Registry driven by the given clock.
func New(clk clock.Clock) *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		clock:  clk,
	}
}

// SetListener assigns the lifecycle listener. This supports the
// initialization pattern where the registry is created before the presence
// tracker that observes it.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Register creates a session for userID and returns a snapshot of it.
func (r *Registry) Register(userID string) Session {
	now := r.clock.Now()
	sess := &Session{
		ID:              uuid.New().String(),
		UserID:          userID,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}

	r.mu.Lock()
	r.byID[sess.ID] = sess
	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[userID] = sessions
	}
	sessions[sess.ID] = sess
	listener := r.listener
	snapshot := *sess
	r.mu.Unlock()

	if listener != nil {
		listener.UserConnected(userID)
	}
	return snapshot
}

// Unregister removes a session. Returns true if the session existed. When
// the removed session was the user's last, the listener's UserDisconnected
// fires after the maps are updated.
func (r *Registry) Unregister(sessionID string) bool {
	r.mu.Lock()
	sess, ok := r.byID[sessionID]
	var lastForUser bool
	var listener Listener
	if ok {
		delete(r.byID, sessionID)
		if sessions := r.byUser[sess.UserID]; sessions != nil {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(r.byUser, sess.UserID)
				lastForUser = true
			}
		}
		listener = r.listener
	}
	r.mu.Unlock()

	if ok && lastForUser && listener != nil {
		listener.UserDisconnected(sess.UserID)
	}
	return ok
}

// Touch refreshes the session's LastHeartbeatAt. Touching an unknown
// session is a no-op: the connection was already reaped and the stale
// heartbeat carries no information.
func (r *Registry) Touch(sessionID string) {
	now := r.clock.Now()
	r.mu.Lock()
	if sess, ok := r.byID[sessionID]; ok {
		sess.LastHeartbeatAt = now
	}
	r.mu.Unlock()
}

// Lookup returns the session IDs of a user's live sessions. The slice is
// empty (not nil) for users with no sessions.
func (r *Registry) Lookup(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byUser[userID]
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a snapshot of the session, or false if it does not exist.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Count returns the current number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AllSessionIDs returns a snapshot of every live session ID.
func (r *Registry) AllSessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
