package registry

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recordingListener struct {
	connected    []string
	disconnected []string
}

func (l *recordingListener) UserConnected(userID string)    { l.connected = append(l.connected, userID) }
func (l *recordingListener) UserDisconnected(userID string) { l.disconnected = append(l.disconnected, userID) }

func TestRegisterAndLookup(t *testing.T) {
	r := New(clock.New())

	s1 := r.Register("u1")
	s2 := r.Register("u1")
	s3 := r.Register("u2")

	if s1.ID == s2.ID {
		t.Fatal("sessions must have distinct IDs")
	}

	ids := r.Lookup("u1")
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions for u1, got %d", len(ids))
	}
	if got := r.Lookup("u2"); len(got) != 1 || got[0] != s3.ID {
		t.Errorf("unexpected u2 sessions: %v", got)
	}
	if got := r.Lookup("u3"); len(got) != 0 {
		t.Errorf("expected empty slice for unknown user, got %v", got)
	}
	if r.Count() != 3 {
		t.Errorf("expected 3 sessions, got %d", r.Count())
	}
}

func TestUnregister_LastSessionNotifies(t *testing.T) {
	l := &recordingListener{}
	r := New(clock.New())
	r.SetListener(l)

	s1 := r.Register("u1")
	s2 := r.Register("u1")

	if len(l.connected) != 2 {
		t.Fatalf("expected 2 UserConnected calls, got %d", len(l.connected))
	}

	// First unregister: a session remains, no disconnect notification.
	if !r.Unregister(s1.ID) {
		t.Fatal("Unregister() returned false for live session")
	}
	if len(l.disconnected) != 0 {
		t.Fatalf("expected no UserDisconnected yet, got %v", l.disconnected)
	}

	// Last unregister fires UserDisconnected.
	if !r.Unregister(s2.ID) {
		t.Fatal("Unregister() returned false for live session")
	}
	if len(l.disconnected) != 1 || l.disconnected[0] != "u1" {
		t.Fatalf("expected UserDisconnected for u1, got %v", l.disconnected)
	}

	// Unregistering an unknown session is a no-op returning false.
	if r.Unregister(s2.ID) {
		t.Error("Unregister() returned true for already-removed session")
	}
}

func TestTouch_RefreshesHeartbeat(t *testing.T) {
	mock := clock.NewMock()
	r := New(mock)

	s := r.Register("u1")
	before, _ := r.Get(s.ID)

	mock.Add(42 * time.Second)
	r.Touch(s.ID)

	after, ok := r.Get(s.ID)
	if !ok {
		t.Fatal("session disappeared")
	}
	if !after.LastHeartbeatAt.Equal(before.LastHeartbeatAt.Add(42 * time.Second)) {
		t.Errorf("expected heartbeat advanced by 42s, got %v -> %v",
			before.LastHeartbeatAt, after.LastHeartbeatAt)
	}
}

func TestTouch_UnknownSessionIsNoOp(t *testing.T) {
	r := New(clock.New())
	// Must not panic or create state.
	r.Touch("ghost")
	if r.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", r.Count())
	}
}
