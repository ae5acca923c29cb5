// Package fanout distributes conversation events to room members: message
// send with sender acknowledgment, soft deletion, and typing indicators.
// Persistence runs before the acknowledgment so a failed write suppresses
// the ack and lets the sender's client retract its optimistic local echo.
package fanout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/converge/chat-app/internal/errs"
	"github.com/converge/chat-app/internal/history"
	"github.com/converge/chat-app/internal/metrics"
	"github.com/converge/chat-app/internal/protocol"
	"github.com/converge/chat-app/internal/registry"
	"github.com/converge/chat-app/internal/room"
	"github.com/converge/chat-app/internal/store"
)

const profileKeyPrefix = "profile:"

// MessageStore is the slice of the history store the fanout path needs.
type MessageStore interface {
	Save(ctx context.Context, msg *history.Message) error
	Get(ctx context.Context, messageID string) (*history.Message, error)
	Tombstone(ctx context.Context, messageID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int) ([]history.Message, error)
}

// Service coordinates room membership and message distribution.
type Service struct {
	rooms    *room.Manager
	messages MessageStore
	profiles store.Store
	sender   room.Sender
	clk      clock.Clock
	recent   *backlog
}

// NewService creates a fanout Service. The sender is used for the targeted
// acknowledgment to the message author; room broadcasts go through rooms.
func NewService(rooms *room.Manager, messages MessageStore, profiles store.Store, sender room.Sender, clk clock.Clock) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		profiles: profiles,
		sender:   sender,
		clk:      clk,
		recent:   newBacklog(),
	}
}

// JoinConversation verifies the user may view the conversation, then moves
// the session into its room (leaving any prior room).
func (s *Service) JoinConversation(ctx context.Context, sess registry.Session, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("fanout: empty conversation id: %w", errs.ErrValidation)
	}
	ok, err := s.messages.IsParticipant(ctx, conversationID, sess.UserID)
	if err != nil {
		return fmt.Errorf("fanout: participant check: %w", errs.ErrTransientStore)
	}
	if !ok {
		return fmt.Errorf("fanout: user %s is not a participant of %s: %w",
			sess.UserID, conversationID, errs.ErrPermission)
	}
	s.rooms.Join(sess.ID, conversationID)

	// Replay the recent backlog so the conversation is not blank while the
	// client's history fetch is in flight. Clients dedupe by messageId.
	for _, payload := range s.recent.recent(conversationID) {
		data, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{Message: payload})
		if err != nil {
			continue
		}
		if err := s.sender.Send(sess.ID, data); err != nil {
			log.Printf("fanout: backlog replay failed session=%s: %v", sess.ID, err)
			break
		}
	}
	return nil
}

// LeaveConversation removes the session from the conversation's room.
// Leaving a room the session is not in is a no-op. The last member out
// discards the conversation's replay backlog.
func (s *Service) LeaveConversation(sessionID, conversationID string) {
	s.rooms.Leave(sessionID, conversationID)
	if len(s.rooms.Members(conversationID)) == 0 {
		s.recent.remove(conversationID)
	}
}

// SendMessage persists and distributes a message:
//
//  1. the sender's session must currently be in the conversation's room;
//  2. the row is written with a profile snapshot taken at send time;
//  3. a send-acknowledged event goes to the sender alone;
//  4. a receive-message event goes to every other room member.
//
// A persistence failure returns ErrTransientStore before any event is
// emitted, so the sender's optimistic echo is retracted by the client.
func (s *Service) SendMessage(ctx context.Context, sess registry.Session, conversationID, content, contentType string) (*history.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("fanout: empty conversation id: %w", errs.ErrValidation)
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "text"
	}

	if conv, ok := s.rooms.RoomOf(sess.ID); !ok || conv != conversationID {
		return nil, fmt.Errorf("fanout: session %s is not in room %s: %w",
			sess.ID, conversationID, errs.ErrPermission)
	}

	name, avatar := s.senderSnapshot(ctx, sess.UserID)
	msg := &history.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sess.UserID,
		SenderName:     name,
		SenderAvatar:   avatar,
		Content:        content,
		ContentType:    contentType,
		CreatedAt:      s.clk.Now(),
	}

	if err := s.messages.Save(ctx, msg); err != nil {
		log.Printf("fanout: message persist failed conv=%s sender=%s: %v", conversationID, sess.UserID, err)
		return nil, fmt.Errorf("fanout: persist message: %w", errs.ErrTransientStore)
	}

	payload := toPayload(msg)

	ack, err := protocol.NewServerMessage(protocol.TypeSendAcknowledged, protocol.SendAcknowledgedMsg{Message: payload})
	if err != nil {
		return nil, fmt.Errorf("fanout: build ack: %w", err)
	}
	if err := s.sender.Send(sess.ID, ack); err != nil {
		log.Printf("fanout: ack send failed session=%s: %v", sess.ID, err)
	}

	recv, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{Message: payload})
	if err != nil {
		return nil, fmt.Errorf("fanout: build receive: %w", err)
	}
	n := s.rooms.Broadcast(conversationID, recv, sess.ID)
	s.recent.add(conversationID, payload)

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.BroadcastFanout.Observe(float64(n))
	return msg, nil
}

// DeleteMessage rewrites a message as a tombstone and broadcasts the
// deletion to the whole room, sender included. Only the original sender may
// delete; deleting an unknown message is ErrNotFound.
func (s *Service) DeleteMessage(ctx context.Context, sess registry.Session, conversationID, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("fanout: empty message id: %w", errs.ErrValidation)
	}

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("fanout: load message: %w", errs.ErrTransientStore)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return fmt.Errorf("fanout: message %s not found in %s: %w", messageID, conversationID, errs.ErrNotFound)
	}
	if msg.SenderID != sess.UserID {
		return fmt.Errorf("fanout: user %s does not own message %s: %w", sess.UserID, messageID, errs.ErrPermission)
	}

	if err := s.messages.Tombstone(ctx, messageID); err != nil {
		return fmt.Errorf("fanout: tombstone message: %w", errs.ErrTransientStore)
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		return fmt.Errorf("fanout: build deletion: %w", err)
	}
	s.rooms.Broadcast(conversationID, data, "")
	s.recent.tombstone(conversationID, messageID)

	metrics.MessagesTotal.WithLabelValues("deleted").Inc()
	return nil
}

// Typing relays a typing indicator to the other members of the session's
// current room. Indicators are fire-and-forget: no membership error is
// surfaced, an out-of-room session simply reaches nobody.
func (s *Service) Typing(sess registry.Session, conversationID string, typing bool) {
	if conv, ok := s.rooms.RoomOf(sess.ID); !ok || conv != conversationID {
		return
	}

	msgType := protocol.TypeUserTyping
	if !typing {
		msgType = protocol.TypeUserStopTyping
	}
	data, err := protocol.NewServerMessage(msgType, protocol.UserTypingMsg{
		ConversationID: conversationID,
		UserID:         sess.UserID,
	})
	if err != nil {
		return
	}
	s.rooms.Broadcast(conversationID, data, sess.ID)
}

// History returns a page of messages for a conversation the user belongs to.
func (s *Service) History(ctx context.Context, userID, conversationID string, before time.Time, limit int) ([]history.Message, error) {
	ok, err := s.messages.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("fanout: participant check: %w", errs.ErrTransientStore)
	}
	if !ok {
		return nil, fmt.Errorf("fanout: user %s is not a participant of %s: %w",
			userID, conversationID, errs.ErrPermission)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.messages.ListByConversation(ctx, conversationID, before, limit)
}

// senderSnapshot reads the sender's profile for denormalization into the
// message row. A missing or unreadable profile degrades to the bare user ID.
func (s *Service) senderSnapshot(ctx context.Context, userID string) (name, avatar string) {
	rec, err := s.profiles.Get(ctx, profileKeyPrefix+userID)
	if err != nil || rec == nil {
		return userID, ""
	}
	name = rec["display_name"]
	if name == "" {
		name = userID
	}
	return name, rec["avatar_url"]
}

func toPayload(msg *history.Message) protocol.MessagePayload {
	return protocol.MessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		SenderAvatar:   msg.SenderAvatar,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		IsDeleted:      msg.IsDeleted,
		Ts:             msg.CreatedAt.Unix(),
	}
}
