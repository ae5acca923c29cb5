// Package reaction aggregates per-user message reactions and broadcasts
// the resulting snapshot to the message's conversation room.
package reaction

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/converge/chat-app/internal/errs"
	"github.com/converge/chat-app/internal/metrics"
	"github.com/converge/chat-app/internal/protocol"
	"github.com/converge/chat-app/internal/registry"
	"github.com/converge/chat-app/internal/room"
	"github.com/converge/chat-app/internal/store"
)

const reactionKeyPrefix = "reaction:"

// Aggregator maintains at most one reaction entry per (message, user) in
// the record store and fans snapshot updates out to the room.
type Aggregator struct {
	records store.Store
	rooms   *room.Manager
}

func NewAggregator(records store.Store, rooms *room.Manager) *Aggregator {
	return &Aggregator{records: records, rooms: rooms}
}

func reactionKey(messageID, userID string) string {
	return reactionKeyPrefix + messageID + ":" + userID
}

// Add upserts the user's reaction to a message and increments its count.
// Repeated adds keep incrementing; switching reaction kinds keeps the
// running count. The session must currently be in the conversation's room.
func (a *Aggregator) Add(ctx context.Context, sess registry.Session, conversationID, messageID, kind string) error {
	if messageID == "" || kind == "" {
		return fmt.Errorf("reaction: empty message id or reaction: %w", errs.ErrValidation)
	}
	if conv, ok := a.rooms.RoomOf(sess.ID); !ok || conv != conversationID {
		return fmt.Errorf("reaction: session %s is not in room %s: %w",
			sess.ID, conversationID, errs.ErrPermission)
	}

	key := reactionKey(messageID, sess.UserID)
	prev, err := a.records.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reaction: load entry: %w", errs.ErrTransientStore)
	}

	count := 1
	if prev != nil {
		if n, err := strconv.Atoi(prev["count"]); err == nil {
			count = n + 1
		}
	}

	rec := store.Record{
		"message_id": messageID,
		"user_id":    sess.UserID,
		"reaction":   kind,
		"count":      strconv.Itoa(count),
	}
	if err := a.records.Put(ctx, key, rec); err != nil {
		return fmt.Errorf("reaction: persist entry: %w", errs.ErrTransientStore)
	}

	metrics.ReactionsTotal.WithLabelValues("add").Inc()
	a.broadcast(ctx, conversationID, messageID)
	return nil
}

// Remove discards the user's reaction entry outright, whatever its count.
// Removing an absent entry is ErrNotFound and broadcasts nothing.
func (a *Aggregator) Remove(ctx context.Context, sess registry.Session, conversationID, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("reaction: empty message id: %w", errs.ErrValidation)
	}
	if conv, ok := a.rooms.RoomOf(sess.ID); !ok || conv != conversationID {
		return fmt.Errorf("reaction: session %s is not in room %s: %w",
			sess.ID, conversationID, errs.ErrPermission)
	}

	key := reactionKey(messageID, sess.UserID)
	prev, err := a.records.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reaction: load entry: %w", errs.ErrTransientStore)
	}
	if prev == nil {
		return fmt.Errorf("reaction: no reaction by %s on %s: %w", sess.UserID, messageID, errs.ErrNotFound)
	}

	if err := a.records.Delete(ctx, key); err != nil {
		return fmt.Errorf("reaction: delete entry: %w", errs.ErrTransientStore)
	}

	metrics.ReactionsTotal.WithLabelValues("remove").Inc()
	a.broadcast(ctx, conversationID, messageID)
	return nil
}

// Snapshot returns the current reactions on a message keyed by user ID.
func (a *Aggregator) Snapshot(ctx context.Context, messageID string) (map[string]protocol.ReactionState, error) {
	if messageID == "" {
		return nil, fmt.Errorf("reaction: empty message id: %w", errs.ErrValidation)
	}
	entries, err := a.records.QueryByAttribute(ctx, "message_id", messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction: query entries: %w", errs.ErrTransientStore)
	}

	out := make(map[string]protocol.ReactionState, len(entries))
	for _, e := range entries {
		userID := e.Record["user_id"]
		if userID == "" {
			continue
		}
		count, _ := strconv.Atoi(e.Record["count"])
		out[userID] = protocol.ReactionState{
			Reaction: e.Record["reaction"],
			Count:    count,
		}
	}
	return out, nil
}

// broadcast recomputes the full snapshot and sends it to every member of
// the conversation's room. The whole snapshot goes out rather than a delta
// so out-of-order delivery cannot leave clients with stale counts.
func (a *Aggregator) broadcast(ctx context.Context, conversationID, messageID string) {
	snapshot, err := a.Snapshot(ctx, messageID)
	if err != nil {
		log.Printf("reaction: snapshot failed message=%s: %v", messageID, err)
		return
	}
	data, err := protocol.NewServerMessage(protocol.TypeMessageReaction, protocol.MessageReactionMsg{
		MessageID: messageID,
		Reactions: snapshot,
	})
	if err != nil {
		log.Printf("reaction: build snapshot event: %v", err)
		return
	}
	a.rooms.Broadcast(conversationID, data, "")
}
