package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/converge/chat-app/internal/blob"
	"github.com/converge/chat-app/internal/fanout"
	"github.com/converge/chat-app/internal/friend"
	"github.com/converge/chat-app/internal/history"
	"github.com/converge/chat-app/internal/presence"
	"github.com/converge/chat-app/internal/reaction"
	"github.com/converge/chat-app/internal/registry"
	"github.com/converge/chat-app/internal/room"
	"github.com/converge/chat-app/internal/store"
)

type nullSender struct{}

func (nullSender) Send(string, []byte) error { return nil }

type nullBroadcaster struct{}

func (nullBroadcaster) BroadcastStatus(string, string, time.Time) {}

type nullConns struct{}

func (nullConns) Lookup(string) []string { return nil }

// memMessages is a minimal in-memory history store for handler tests.
type memMessages struct {
	messages     []history.Message
	participants map[string]map[string]bool
}

func (m *memMessages) Save(_ context.Context, msg *history.Message) error {
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memMessages) Get(_ context.Context, id string) (*history.Message, error) {
	for i := range m.messages {
		if m.messages[i].ID == id {
			cp := m.messages[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memMessages) Tombstone(_ context.Context, id string) error { return nil }

func (m *memMessages) IsParticipant(_ context.Context, convID, userID string) (bool, error) {
	return m.participants[convID][userID], nil
}

func (m *memMessages) ListByConversation(_ context.Context, convID string, before time.Time, limit int) ([]history.Message, error) {
	var out []history.Message
	for _, msg := range m.messages {
		if msg.ConversationID == convID && msg.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

type fixture struct {
	handler  *Handler
	rooms    *room.Manager
	records  *store.MemoryStore
	messages *memMessages
	tracker  *presence.Tracker
	buddies  *friend.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	records := store.NewMemoryStore()
	rooms := room.NewManager(nullSender{})
	messages := &memMessages{participants: map[string]map[string]bool{
		"conv-1": {"u1": true},
	}}

	fan := fanout.NewService(rooms, messages, store.NewMemoryStore(), nullSender{}, mock)
	reactions := reaction.NewAggregator(records, rooms)
	buddies := friend.NewService(records, nullConns{}, nullSender{}, mock)
	tracker := presence.NewTracker(presence.DefaultConfig(), mock, store.NewMemoryStore(), nullBroadcaster{}, nullConns{})

	blobs, err := blob.NewFileStore(t.TempDir(), "http://localhost/attachments")
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	return &fixture{
		handler:  NewHandler(fan, reactions, buddies, tracker, blobs),
		rooms:    rooms,
		records:  records,
		messages: messages,
		tracker:  tracker,
		buddies:  buddies,
	}
}

func do(t *testing.T, h http.Handler, method, target, userID string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHistory_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.handler.Routes(), http.MethodGet, "/api/conversations/conv-1/messages", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHistory_NonParticipantForbidden(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.handler.Routes(), http.MethodGet, "/api/conversations/conv-1/messages", "u2", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHistory_ReturnsMessages(t *testing.T) {
	f := newFixture(t)
	f.messages.messages = append(f.messages.messages, history.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		SenderID:       "u1",
		SenderName:     "Ada",
		Content:        "hello",
		ContentType:    "text",
		CreatedAt:      time.Now().Add(-time.Minute),
	})

	rec := do(t, f.handler.Routes(), http.MethodGet, "/api/conversations/conv-1/messages", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Messages []struct {
			MessageID string `json:"messageId"`
			Content   string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].MessageID != "m1" || resp.Messages[0].Content != "hello" {
		t.Fatalf("unexpected response %+v", resp.Messages)
	}
}

func TestHistory_RejectsBadQuery(t *testing.T) {
	f := newFixture(t)
	routes := f.handler.Routes()

	rec := do(t, routes, http.MethodGet, "/api/conversations/conv-1/messages?before=yesterday", "u1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad before: expected 400, got %d", rec.Code)
	}
	rec = do(t, routes, http.MethodGet, "/api/conversations/conv-1/messages?limit=-3", "u1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", rec.Code)
	}
}

func TestReactions_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.rooms.Join("s1", "conv-1")
	sess := registry.Session{ID: "s1", UserID: "u1"}
	if err := f.handler.reactions.Add(context.Background(), sess, "conv-1", "m1", "heart"); err != nil {
		t.Fatalf("seed reaction: %v", err)
	}

	rec := do(t, f.handler.Routes(), http.MethodGet, "/api/messages/m1/reactions", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "heart") {
		t.Errorf("expected heart in body, got %s", rec.Body.String())
	}
}

func TestStatus_UpdateAndValidate(t *testing.T) {
	f := newFixture(t)
	routes := f.handler.Routes()

	body := bytes.NewBufferString(`{"status":"online"}`)
	rec := do(t, routes, http.MethodPut, "/api/status", "u1", body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if online, _ := f.tracker.Status("u1"); !online {
		t.Error("expected u1 online after PUT")
	}

	body = bytes.NewBufferString(`{"status":"idle"}`)
	rec = do(t, routes, http.MethodPut, "/api/status", "u1", body, "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: expected 400, got %d", rec.Code)
	}
}

func TestFriends_Listing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buddies.SendRequest(ctx, "u2", "u1")

	rec := do(t, f.handler.Routes(), http.MethodGet, "/api/friends/requests", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "u2") {
		t.Errorf("expected pending request from u2, got %s", rec.Body.String())
	}

	f.buddies.AcceptRequest(ctx, "u1", "u2")
	rec = do(t, f.handler.Routes(), http.MethodGet, "/api/friends", "u1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Friends []struct {
			FriendID string `json:"friendId"`
			Online   bool   `json:"online"`
		} `json:"friends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Friends) != 1 || resp.Friends[0].FriendID != "u2" {
		t.Fatalf("unexpected friends %+v", resp.Friends)
	}
}

func TestAttachment_Upload(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "pic.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte("png bytes"))
	mw.Close()

	rec := do(t, f.handler.Routes(), http.MethodPost, "/api/attachments", "u1", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.URL, "http://localhost/attachments/") || !strings.HasSuffix(resp.URL, ".png") {
		t.Errorf("unexpected URL %q", resp.URL)
	}
}
