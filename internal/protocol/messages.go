// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinConversation  = "join-conversation"
	TypeLeaveConversation = "leave-conversation"
	TypeSendMessage       = "send-message"
	TypeDeleteMessage     = "delete-message"
	TypeTyping            = "typing"
	TypeStopTyping        = "stop-typing"
	TypeReactMessage      = "react-message"
	TypeUserStatus        = "user-status"
	TypeFriendRequest     = "friend-request-send"
	TypeFriendAccept      = "friend-request-accept"
	TypeFriendReject      = "friend-request-reject"
	TypeFriendRemove      = "friend-remove"
	TypeHeartbeat         = "heartbeat"
)

// Server -> Client message types.
const (
	TypeSessionCreated   = "session_created"
	TypeSendAcknowledged = "send-acknowledged"
	TypeReceiveMessage   = "receive-message"
	TypeMessageDeleted   = "message-deleted"
	TypeMessageReaction  = "message-reaction"
	TypeUserStatusChange = "user-status-change"
	TypeUserTyping       = "user-typing"
	TypeUserStopTyping   = "user-stop-typing"
	TypeFriendReceived   = "friend-request-received"
	TypeFriendAccepted   = "friend-request-accepted"
	TypeFriendRejected   = "friend-request-rejected"
	TypeFriendRemoved    = "friend-removed"
	TypeRateLimited      = "rate_limited"
	TypeError            = "error"
	TypeHeartbeatAck     = "heartbeat-ack"
)

// Reaction actions carried by ReactMessageMsg.
const (
	ReactionAdd    = "add"
	ReactionRemove = "remove"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinConversationMsg is sent by the client to focus a conversation and join
// its broadcast room. Joining a new conversation implicitly leaves any prior
// room.
type JoinConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// LeaveConversationMsg is sent by the client when it closes a conversation.
type LeaveConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// SendMessageMsg carries a new message for the focused conversation.
// ContentType is "text", "image", or "file"; for the latter two, Content
// holds the blob URL returned by the attachment upload endpoint.
type SendMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType"`
}

// DeleteMessageMsg requests a tombstone rewrite of a message. Only the
// original sender may delete.
type DeleteMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// TypingMsg signals that the client started typing in a conversation.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// StopTypingMsg signals that the client stopped typing.
type StopTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// ReactMessageMsg adds or removes a reaction on a message. Action is
// ReactionAdd or ReactionRemove; Reaction carries the reaction kind
// (e.g. "heart") and is ignored for removals.
type ReactMessageMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Reaction       string `json:"reaction"`
	Action         string `json:"action"`
}

// UserStatusMsg is an explicit status update from the client ("online" or
// "offline"), e.g. when the app is backgrounded.
type UserStatusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// FriendRequestMsg asks the server to create a pending friend request
// toward TargetID.
type FriendRequestMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

// FriendAcceptMsg accepts a pending request from RequesterID.
type FriendAcceptMsg struct {
	Type        string `json:"type"`
	RequesterID string `json:"requesterId"`
}

// FriendRejectMsg rejects a pending request from RequesterID.
type FriendRejectMsg struct {
	Type        string `json:"type"`
	RequesterID string `json:"requesterId"`
}

// FriendRemoveMsg removes an existing friendship with FriendID.
type FriendRemoveMsg struct {
	Type     string `json:"type"`
	FriendID string `json:"friendId"`
}

// HeartbeatMsg is the application-level keepalive. It refreshes the
// session's lastHeartbeatAt and the user's presence.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// MessagePayload is the full denormalized message shape delivered in
// send-acknowledged and receive-message events.
type MessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	SenderAvatar   string `json:"senderAvatar,omitempty"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType"`
	IsDeleted      bool   `json:"isDeleted"`
	Ts             int64  `json:"ts"`
}

// SendAcknowledgedMsg confirms persistence of a sent message to the sender
// alone, carrying the authoritative message ID and timestamp so the client
// can reconcile its optimistic local echo.
type SendAcknowledgedMsg struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// ReceiveMessageMsg delivers a new message to every other room member.
type ReceiveMessageMsg struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// MessageDeletedMsg broadcasts the tombstone of a deleted message.
type MessageDeletedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// ReactionState is one user's current reaction to a message.
type ReactionState struct {
	Reaction string `json:"reaction"`
	Count    int    `json:"count"`
}

// MessageReactionMsg broadcasts the full reaction snapshot for a message,
// keyed by user ID. The whole snapshot is sent rather than a delta.
type MessageReactionMsg struct {
	Type      string                   `json:"type"`
	MessageID string                   `json:"messageId"`
	Reactions map[string]ReactionState `json:"reactions"`
}

// UserStatusChangeMsg announces a presence transition for a user.
type UserStatusChangeMsg struct {
	Type       string `json:"type"`
	UserID     string `json:"userId"`
	Status     string `json:"status"`
	LastActive int64  `json:"lastActive"`
}

// UserTypingMsg relays a typing indicator to other room members.
type UserTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// FriendNotifyMsg is the shared payload of the mirrored friend-request-*
// server events. From identifies the counterparty of the transition.
type FriendNotifyMsg struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatAckMsg is the server's response to a client heartbeat.
type HeartbeatAckMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinConversation:
		var m JoinConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveConversation:
		var m LeaveConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReactMessage:
		var m ReactMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserStatus:
		var m UserStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendRequest:
		var m FriendRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendAccept:
		var m FriendAcceptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendReject:
		var m FriendRejectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFriendRemove:
		var m FriendRemoveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
