// Package presence derives each user's online/offline status from session
// lifecycle events and heartbeats. The authoritative state lives in memory;
// a record-store mirror is written best-effort so other services can read
// last-active timestamps without talking to this process.
//
// The state machine per user is Online -> GraceDisconnect -> Offline. A
// disconnect starts a cancellable grace timer instead of broadcasting
// "offline" immediately, so a page reload or a flaky network blip is
// invisible to other users. A periodic sweep force-expires users whose
// heartbeats went silent without a disconnect event (kernel-dropped
// connections never say goodbye).
package presence

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/converge/chat-app/internal/metrics"
	"github.com/converge/chat-app/internal/store"
)

// Statuses carried in user-status-change events and the store mirror.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const presenceKeyPrefix = "presence:"

// state is the per-user presence state.
type state int

const (
	stateOffline state = iota
	stateOnline
	stateGrace
)

// Config holds the tracker's timing parameters.
type Config struct {
	GraceWindow      time.Duration // delay before a disconnect becomes "offline"
	SweepInterval    time.Duration // how often the stale-heartbeat sweep runs
	HeartbeatTimeout time.Duration // heartbeat age that forces Online -> Offline
	PersistRetry     time.Duration // delay before retrying a failed mirror write
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		GraceWindow:      5 * time.Second,
		SweepInterval:    30 * time.Second,
		HeartbeatTimeout: 120 * time.Second,
		PersistRetry:     5 * time.Second,
	}
}

// Broadcaster announces a presence transition to interested parties (live
// sessions, and any external mirror such as a NATS subject).
type Broadcaster interface {
	BroadcastStatus(userID, status string, lastActive time.Time)
}

// ConnChecker reports whether a user currently holds any live session. The
// grace timer consults it at fire time so a reconnect that races the timer
// never produces a spurious offline broadcast.
type ConnChecker interface {
	Lookup(userID string) []string
}

type entry struct {
	state           state
	lastHeartbeatAt time.Time
	lastActiveAt    time.Time
	graceTimer      *clock.Timer
	graceSeq        uint64 // invalidates in-flight timers on reconnect
}

// Tracker owns all per-user presence records.
type Tracker struct {
	mu          sync.Mutex
	entries     map[string]*entry
	cfg         Config
	clk         clock.Clock
	mirror      store.Store
	broadcaster Broadcaster
	conns       ConnChecker
}

// NewTracker creates a Tracker. The mirror store receives best-effort
// presence writes; conns is consulted for the grace-timer race check.
func NewTracker(cfg Config, clk clock.Clock, mirror store.Store, broadcaster Broadcaster, conns ConnChecker) *Tracker {
	return &Tracker{
		entries:     make(map[string]*entry),
		cfg:         cfg,
		clk:         clk,
		mirror:      mirror,
		broadcaster: broadcaster,
		conns:       conns,
	}
}

// UserConnected implements registry.Listener. The "online" broadcast fires
// only on the Offline->Online edge; a second session of an already-online
// user, or a reconnect inside the grace window, is silent.
func (t *Tracker) UserConnected(userID string) {
	now := t.clk.Now()

	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok {
		e = &entry{state: stateOffline}
		t.entries[userID] = e
	}
	prev := e.state
	e.lastHeartbeatAt = now
	e.lastActiveAt = now
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.graceSeq++
	e.state = stateOnline
	t.mu.Unlock()

	if prev == stateOffline {
		metrics.PresenceTransitions.WithLabelValues(StatusOnline).Inc()
		t.persist(userID, true, now)
		t.broadcaster.BroadcastStatus(userID, StatusOnline, now)
	}
}

// UserDisconnected implements registry.Listener, called when a user's last
// session is gone. The user enters GraceDisconnect; the offline transition
// fires only if no session returns within the grace window.
func (t *Tracker) UserDisconnected(userID string) {
	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.state != stateOnline {
		t.mu.Unlock()
		return
	}
	e.state = stateGrace
	e.graceSeq++
	seq := e.graceSeq
	e.graceTimer = t.clk.AfterFunc(t.cfg.GraceWindow, func() {
		t.graceExpired(userID, seq)
	})
	t.mu.Unlock()
}

// Heartbeat refreshes the user's liveness proof. A heartbeat for a user with
// no presence record behaves like a connect (first heartbeat -> Online).
func (t *Tracker) Heartbeat(userID string) {
	now := t.clk.Now()

	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.state == stateOffline {
		t.mu.Unlock()
		t.UserConnected(userID)
		return
	}
	e.lastHeartbeatAt = now
	e.lastActiveAt = now
	t.mu.Unlock()
}

// graceExpired is the grace-timer callback. It re-reads the current state
// under the lock: a reconnect bumps graceSeq and re-registers sessions, so a
// stale timer observes either a sequence mismatch or a live session and
// does nothing.
func (t *Tracker) graceExpired(userID string, seq uint64) {
	t.mu.Lock()
	e, ok := t.entries[userID]
	if !ok || e.state != stateGrace || e.graceSeq != seq {
		t.mu.Unlock()
		return
	}
	if len(t.conns.Lookup(userID)) > 0 {
		// A session reappeared while the timer was in flight.
		e.state = stateOnline
		e.graceTimer = nil
		t.mu.Unlock()
		return
	}
	lastActive := e.lastActiveAt
	e.state = stateOffline
	e.graceTimer = nil
	t.mu.Unlock()

	metrics.PresenceTransitions.WithLabelValues(StatusOffline).Inc()
	t.persist(userID, false, lastActive)
	t.broadcaster.BroadcastStatus(userID, StatusOffline, lastActive)
}

// Sweep scans all Online users and forces any whose heartbeat is older than
// HeartbeatTimeout through the offline path. An already-offline user is
// never re-broadcast. Exported so tests can drive it directly.
func (t *Tracker) Sweep() {
	now := t.clk.Now()

	type expired struct {
		userID     string
		lastActive time.Time
	}
	var stale []expired

	t.mu.Lock()
	for userID, e := range t.entries {
		if e.state != stateOnline {
			continue
		}
		if now.Sub(e.lastHeartbeatAt) <= t.cfg.HeartbeatTimeout {
			continue
		}
		e.state = stateOffline
		e.graceSeq++
		if e.graceTimer != nil {
			e.graceTimer.Stop()
			e.graceTimer = nil
		}
		stale = append(stale, expired{userID: userID, lastActive: e.lastActiveAt})
	}
	t.mu.Unlock()

	for _, s := range stale {
		log.Printf("presence: sweep expired user=%s last_heartbeat=%s ago",
			s.userID, now.Sub(s.lastActive).Round(time.Second))
		metrics.PresenceTransitions.WithLabelValues(StatusOffline).Inc()
		t.persist(s.userID, false, s.lastActive)
		t.broadcaster.BroadcastStatus(s.userID, StatusOffline, s.lastActive)
	}
}

// StartSweep runs the periodic sweep until ctx is cancelled. It blocks the
// calling goroutine; run it with go StartSweep(ctx).
func (t *Tracker) StartSweep(ctx context.Context) {
	ticker := t.clk.Ticker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("presence: sweep loop stopped")
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// SetStatus applies an explicit client status update ("online"/"offline"),
// e.g. the app being backgrounded, following the same broadcast-on-edge
// rules as the derived transitions.
func (t *Tracker) SetStatus(userID, status string) {
	switch status {
	case StatusOnline:
		t.UserConnected(userID)
	case StatusOffline:
		now := t.clk.Now()
		t.mu.Lock()
		e, ok := t.entries[userID]
		if !ok || e.state == stateOffline {
			t.mu.Unlock()
			return
		}
		e.state = stateOffline
		e.graceSeq++
		if e.graceTimer != nil {
			e.graceTimer.Stop()
			e.graceTimer = nil
		}
		e.lastActiveAt = now
		t.mu.Unlock()

		metrics.PresenceTransitions.WithLabelValues(StatusOffline).Inc()
		t.persist(userID, false, now)
		t.broadcaster.BroadcastStatus(userID, StatusOffline, now)
	}
}

// Status returns the user's current online flag and last-active time.
func (t *Tracker) Status(userID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok {
		return false, time.Time{}
	}
	// GraceDisconnect still reads as online to other users.
	return e.state != stateOffline, e.lastActiveAt
}

// OnlineCount returns the number of users currently Online or in grace.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.state != stateOffline {
			n++
		}
	}
	return n
}

// persist writes the presence mirror. Failures are logged and retried once
// after PersistRetry; the in-memory state and any broadcast already sent are
// never rolled back.
func (t *Tracker) persist(userID string, online bool, lastActive time.Time) {
	rec := store.Record{
		"user_id":     userID,
		"is_online":   strconv.FormatBool(online),
		"last_active": strconv.FormatInt(lastActive.Unix(), 10),
	}
	key := presenceKeyPrefix + userID

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err := t.mirror.Put(ctx, key, rec)
	cancel()
	if err == nil {
		return
	}
	log.Printf("presence: mirror write failed user=%s: %v (retrying)", userID, err)

	t.clk.AfterFunc(t.cfg.PersistRetry, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := t.mirror.Put(ctx, key, rec); err != nil {
			log.Printf("presence: mirror retry failed user=%s: %v (giving up)", userID, err)
		}
	})
}
