package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send-message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send-message","conversationId":"conv-1","content":"Hello!","contentType":"text"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ConversationID != "conv-1" {
		t.Errorf("expected conversationId %q, got %q", "conv-1", sm.ConversationID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
	if sm.ContentType != "text" {
		t.Errorf("expected contentType %q, got %q", "text", sm.ContentType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid react-message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ReactMessage(t *testing.T) {
	input := []byte(`{"type":"react-message","conversationId":"conv-1","messageId":"msg-9","reaction":"heart","action":"add"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeReactMessage {
		t.Fatalf("expected type %q, got %q", TypeReactMessage, msgType)
	}

	rm, ok := msg.(ReactMessageMsg)
	if !ok {
		t.Fatalf("expected ReactMessageMsg, got %T", msg)
	}
	if rm.MessageID != "msg-9" {
		t.Errorf("expected messageId %q, got %q", "msg-9", rm.MessageID)
	}
	if rm.Reaction != "heart" {
		t.Errorf("expected reaction %q, got %q", "heart", rm.Reaction)
	}
	if rm.Action != ReactionAdd {
		t.Errorf("expected action %q, got %q", ReactionAdd, rm.Action)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a user-status-change server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_UserStatusChange(t *testing.T) {
	payload := UserStatusChangeMsg{
		UserID:     "user-42",
		Status:     "offline",
		LastActive: 1700000000,
	}

	data, err := NewServerMessage(TypeUserStatusChange, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeUserStatusChange {
		t.Errorf("expected type %q, got %v", TypeUserStatusChange, result["type"])
	}
	if result["userId"] != "user-42" {
		t.Errorf("expected userId %q, got %v", "user-42", result["userId"])
	}
	if result["status"] != "offline" {
		t.Errorf("expected status %q, got %v", "offline", result["status"])
	}

	lastActive, ok := result["lastActive"].(float64)
	if !ok {
		t.Fatalf("expected lastActive to be a number, got %T", result["lastActive"])
	}
	if int64(lastActive) != 1700000000 {
		t.Errorf("expected lastActive 1700000000, got %v", lastActive)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip through NewServerMessage for a full message payload
// ---------------------------------------------------------------------------

func TestRoundTrip_ReceiveMessage(t *testing.T) {
	original := ReceiveMessageMsg{
		Type: TypeReceiveMessage,
		Message: MessagePayload{
			MessageID:      "msg-1",
			ConversationID: "conv-1",
			SenderID:       "user-a",
			SenderName:     "Ada",
			Content:        "hello",
			ContentType:    "text",
			Ts:             1234,
		},
	}

	data, err := NewServerMessage(TypeReceiveMessage, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	var decoded ReceiveMessageMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeReceiveMessage {
		t.Errorf("type mismatch: expected %q, got %q", TypeReceiveMessage, decoded.Type)
	}
	if decoded.Message.MessageID != original.Message.MessageID {
		t.Errorf("messageId mismatch: expected %q, got %q", original.Message.MessageID, decoded.Message.MessageID)
	}
	if decoded.Message.SenderName != original.Message.SenderName {
		t.Errorf("senderName mismatch: expected %q, got %q", original.Message.SenderName, decoded.Message.SenderName)
	}
	if decoded.Message.Ts != original.Message.Ts {
		t.Errorf("ts mismatch: expected %d, got %d", original.Message.Ts, decoded.Message.Ts)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join-conversation", `{"type":"join-conversation","conversationId":"c1"}`, TypeJoinConversation},
		{"leave-conversation", `{"type":"leave-conversation","conversationId":"c1"}`, TypeLeaveConversation},
		{"send-message", `{"type":"send-message","conversationId":"c1","content":"hi","contentType":"text"}`, TypeSendMessage},
		{"delete-message", `{"type":"delete-message","conversationId":"c1","messageId":"m1"}`, TypeDeleteMessage},
		{"typing", `{"type":"typing","conversationId":"c1"}`, TypeTyping},
		{"stop-typing", `{"type":"stop-typing","conversationId":"c1"}`, TypeStopTyping},
		{"react-message", `{"type":"react-message","conversationId":"c1","messageId":"m1","reaction":"heart","action":"add"}`, TypeReactMessage},
		{"user-status", `{"type":"user-status","status":"online"}`, TypeUserStatus},
		{"friend-request-send", `{"type":"friend-request-send","targetId":"u2"}`, TypeFriendRequest},
		{"friend-request-accept", `{"type":"friend-request-accept","requesterId":"u2"}`, TypeFriendAccept},
		{"friend-request-reject", `{"type":"friend-request-reject","requesterId":"u2"}`, TypeFriendReject},
		{"friend-remove", `{"type":"friend-remove","friendId":"u2"}`, TypeFriendRemove},
		{"heartbeat", `{"type":"heartbeat"}`, TypeHeartbeat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
