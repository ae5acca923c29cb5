package room

import (
	"sync"
	"testing"
)

// captureSender records every delivery, keyed by session ID.
type captureSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: make(map[string][][]byte)}
}

func (s *captureSender) Send(sessionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[sessionID] = append(s.sent[sessionID], data)
	return nil
}

func (s *captureSender) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[sessionID])
}

func TestJoin_SingleRoomInvariant(t *testing.T) {
	m := NewManager(newCaptureSender())

	m.Join("s1", "conv-a")
	m.Join("s1", "conv-b")
	m.Join("s1", "conv-c")

	if conv, _ := m.RoomOf("s1"); conv != "conv-c" {
		t.Fatalf("expected s1 in conv-c, got %q", conv)
	}
	if members := m.Members("conv-a"); len(members) != 0 {
		t.Errorf("expected conv-a empty, got %v", members)
	}
	if members := m.Members("conv-b"); len(members) != 0 {
		t.Errorf("expected conv-b empty, got %v", members)
	}
	if got := m.RoomCount(); got != 1 {
		t.Errorf("expected 1 occupied room, got %d", got)
	}
}

func TestLeave_UnknownRoomIsNoOp(t *testing.T) {
	m := NewManager(newCaptureSender())

	m.Join("s1", "conv-a")
	m.Leave("s1", "conv-b") // not the room s1 is in

	if conv, ok := m.RoomOf("s1"); !ok || conv != "conv-a" {
		t.Fatalf("expected s1 still in conv-a, got %q (ok=%v)", conv, ok)
	}

	m.Leave("s1", "conv-a")
	if _, ok := m.RoomOf("s1"); ok {
		t.Error("expected s1 in no room after Leave")
	}

	// Leaving when not in any room must not panic.
	m.Leave("ghost", "conv-a")
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	sender := newCaptureSender()
	m := NewManager(sender)

	for _, sid := range []string{"s1", "s2", "s3", "s4"} {
		m.Join(sid, "conv-a")
	}

	n := m.Broadcast("conv-a", []byte(`{"type":"receive-message"}`), "s1")
	if n != 3 {
		t.Fatalf("expected delivery to 3 sessions, got %d", n)
	}
	if sender.count("s1") != 0 {
		t.Errorf("excluded sender received %d events", sender.count("s1"))
	}
	for _, sid := range []string{"s2", "s3", "s4"} {
		if sender.count(sid) != 1 {
			t.Errorf("expected exactly 1 event for %s, got %d", sid, sender.count(sid))
		}
	}
}

func TestBroadcast_EmptyRoom(t *testing.T) {
	m := NewManager(newCaptureSender())
	if n := m.Broadcast("conv-none", []byte("x"), ""); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestDrop_RemovesFromCurrentRoom(t *testing.T) {
	m := NewManager(newCaptureSender())

	m.Join("s1", "conv-a")
	m.Join("s2", "conv-a")
	m.Drop("s1")

	if members := m.Members("conv-a"); len(members) != 1 || members[0] != "s2" {
		t.Fatalf("expected only s2 in conv-a, got %v", members)
	}
	if _, ok := m.RoomOf("s1"); ok {
		t.Error("expected s1 in no room after Drop")
	}
}

func TestJoinConcurrent_InvariantHolds(t *testing.T) {
	m := NewManager(newCaptureSender())
	rooms := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				m.Join("s1", rooms[(g+i)%len(rooms)])
			}
		}(g)
	}
	wg.Wait()

	// Whatever interleaving happened, s1 is in exactly one room.
	conv, ok := m.RoomOf("s1")
	if !ok {
		t.Fatal("expected s1 in a room")
	}
	occupied := 0
	for _, r := range rooms {
		members := m.Members(r)
		for _, sid := range members {
			if sid == "s1" {
				occupied++
				if r != conv {
					t.Errorf("s1 found in %q but RoomOf reports %q", r, conv)
				}
			}
		}
	}
	if occupied != 1 {
		t.Fatalf("s1 present in %d rooms, want exactly 1", occupied)
	}
}
