// Package friend implements the friend-request lifecycle: a pending
// request edge that is accepted into a symmetric friendship, rejected,
// or later removed. Transitions are pushed to the counterparty's live
// sessions.
package friend

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/converge/chat-app/internal/errs"
	"github.com/converge/chat-app/internal/protocol"
	"github.com/converge/chat-app/internal/room"
	"github.com/converge/chat-app/internal/store"
)

const (
	requestKeyPrefix = "friendreq:"
	friendKeyPrefix  = "friend:"
)

// Request is a pending friend request edge.
type Request struct {
	RequesterID string
	TargetID    string
	CreatedAt   int64
}

// Friendship is one direction of an accepted friendship.
type Friendship struct {
	UserID   string
	FriendID string
	Since    int64
}

// SessionLookup resolves a user's live session IDs for notification.
type SessionLookup interface {
	Lookup(userID string) []string
}

// Service holds the friend state machine. Request edges live under
// friendreq:<requester>:<target>; acceptance replaces the edge with the
// symmetric pair friend:<a>:<b> and friend:<b>:<a>.
type Service struct {
	records  store.Store
	sessions SessionLookup
	sender   room.Sender
	clk      clock.Clock
}

func NewService(records store.Store, sessions SessionLookup, sender room.Sender, clk clock.Clock) *Service {
	return &Service{records: records, sessions: sessions, sender: sender, clk: clk}
}

func requestKey(requesterID, targetID string) string {
	return requestKeyPrefix + requesterID + ":" + targetID
}

func friendKey(userID, friendID string) string {
	return friendKeyPrefix + userID + ":" + friendID
}

// SendRequest creates a pending request from requesterID to targetID and
// notifies the target's live sessions. Self-requests, an existing
// friendship, and a pending request in either direction are all
// ErrConflict.
func (s *Service) SendRequest(ctx context.Context, requesterID, targetID string) error {
	if targetID == "" {
		return fmt.Errorf("friend: empty target id: %w", errs.ErrValidation)
	}
	if requesterID == targetID {
		return fmt.Errorf("friend: cannot befriend yourself: %w", errs.ErrConflict)
	}

	if edge, err := s.records.Get(ctx, friendKey(requesterID, targetID)); err != nil {
		return fmt.Errorf("friend: load friendship: %w", errs.ErrTransientStore)
	} else if edge != nil {
		return fmt.Errorf("friend: %s and %s are already friends: %w", requesterID, targetID, errs.ErrConflict)
	}

	for _, key := range []string{requestKey(requesterID, targetID), requestKey(targetID, requesterID)} {
		pending, err := s.records.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("friend: load request: %w", errs.ErrTransientStore)
		}
		if pending != nil {
			return fmt.Errorf("friend: request between %s and %s already pending: %w",
				requesterID, targetID, errs.ErrConflict)
		}
	}

	now := s.clk.Now().Unix()
	rec := store.Record{
		"requester_id": requesterID,
		"target_id":    targetID,
		"created_at":   strconv.FormatInt(now, 10),
	}
	if err := s.records.Put(ctx, requestKey(requesterID, targetID), rec); err != nil {
		return fmt.Errorf("friend: persist request: %w", errs.ErrTransientStore)
	}

	s.notify(targetID, protocol.TypeFriendReceived, requesterID)
	return nil
}

// AcceptRequest turns the pending request from requesterID into a
// symmetric friendship and notifies both parties' live sessions.
// Without a pending request it is ErrNotFound.
func (s *Service) AcceptRequest(ctx context.Context, userID, requesterID string) error {
	key := requestKey(requesterID, userID)
	pending, err := s.records.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("friend: load request: %w", errs.ErrTransientStore)
	}
	if pending == nil {
		return fmt.Errorf("friend: no pending request from %s to %s: %w", requesterID, userID, errs.ErrNotFound)
	}

	now := strconv.FormatInt(s.clk.Now().Unix(), 10)
	edges := []struct{ owner, other string }{
		{requesterID, userID},
		{userID, requesterID},
	}
	for _, e := range edges {
		rec := store.Record{
			"owner_id":  e.owner,
			"friend_id": e.other,
			"since":     now,
		}
		if err := s.records.Put(ctx, friendKey(e.owner, e.other), rec); err != nil {
			return fmt.Errorf("friend: persist friendship: %w", errs.ErrTransientStore)
		}
	}
	if err := s.records.Delete(ctx, key); err != nil {
		log.Printf("friend: stale request cleanup failed %s: %v", key, err)
	}

	s.notify(requesterID, protocol.TypeFriendAccepted, userID)
	s.notify(userID, protocol.TypeFriendAccepted, requesterID)
	return nil
}

// RejectRequest discards the pending request from requesterID and tells
// the requester. Without a pending request it is ErrNotFound.
func (s *Service) RejectRequest(ctx context.Context, userID, requesterID string) error {
	key := requestKey(requesterID, userID)
	pending, err := s.records.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("friend: load request: %w", errs.ErrTransientStore)
	}
	if pending == nil {
		return fmt.Errorf("friend: no pending request from %s to %s: %w", requesterID, userID, errs.ErrNotFound)
	}
	if err := s.records.Delete(ctx, key); err != nil {
		return fmt.Errorf("friend: delete request: %w", errs.ErrTransientStore)
	}

	s.notify(requesterID, protocol.TypeFriendRejected, userID)
	return nil
}

// RemoveFriend deletes both directions of an existing friendship. The two
// deletes are independent: a failure on the second is surfaced and leaves
// the asymmetric edge in place, visible through ListFriends. Removing a
// non-friend is ErrNotFound.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) error {
	edge, err := s.records.Get(ctx, friendKey(userID, friendID))
	if err != nil {
		return fmt.Errorf("friend: load friendship: %w", errs.ErrTransientStore)
	}
	if edge == nil {
		return fmt.Errorf("friend: %s and %s are not friends: %w", userID, friendID, errs.ErrNotFound)
	}

	if err := s.records.Delete(ctx, friendKey(userID, friendID)); err != nil {
		return fmt.Errorf("friend: delete friendship edge: %w", errs.ErrTransientStore)
	}
	if err := s.records.Delete(ctx, friendKey(friendID, userID)); err != nil {
		return fmt.Errorf("friend: delete reverse friendship edge: %w", errs.ErrTransientStore)
	}

	s.notify(friendID, protocol.TypeFriendRemoved, userID)
	return nil
}

// ListPending returns the incoming requests awaiting userID's decision.
func (s *Service) ListPending(ctx context.Context, userID string) ([]Request, error) {
	entries, err := s.records.QueryByAttribute(ctx, "target_id", userID)
	if err != nil {
		return nil, fmt.Errorf("friend: query pending requests: %w", errs.ErrTransientStore)
	}
	out := make([]Request, 0, len(entries))
	for _, e := range entries {
		created, _ := strconv.ParseInt(e.Record["created_at"], 10, 64)
		out = append(out, Request{
			RequesterID: e.Record["requester_id"],
			TargetID:    e.Record["target_id"],
			CreatedAt:   created,
		})
	}
	return out, nil
}

// ListFriends returns userID's side of every friendship edge.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]Friendship, error) {
	entries, err := s.records.QueryByAttribute(ctx, "owner_id", userID)
	if err != nil {
		return nil, fmt.Errorf("friend: query friendships: %w", errs.ErrTransientStore)
	}
	out := make([]Friendship, 0, len(entries))
	for _, e := range entries {
		since, _ := strconv.ParseInt(e.Record["since"], 10, 64)
		out = append(out, Friendship{
			UserID:   e.Record["owner_id"],
			FriendID: e.Record["friend_id"],
			Since:    since,
		})
	}
	return out, nil
}

// notify pushes a friend transition event to every live session of a user.
// Offline users miss the push and catch up through the REST listing.
func (s *Service) notify(userID, msgType, from string) {
	data, err := protocol.NewServerMessage(msgType, protocol.FriendNotifyMsg{From: from})
	if err != nil {
		log.Printf("friend: build %s event: %v", msgType, err)
		return
	}
	for _, sessionID := range s.sessions.Lookup(userID) {
		if err := s.sender.Send(sessionID, data); err != nil {
			log.Printf("friend: notify session=%s type=%s: %v", sessionID, msgType, err)
		}
	}
}
