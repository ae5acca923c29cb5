package fanout

import (
	"sync"

	"github.com/converge/chat-app/internal/protocol"
)

// BacklogDepth is the number of recent messages retained per conversation
// for replay to joining sessions.
const BacklogDepth = 20

// backlog stores the last N messages per conversation in memory. A session
// joining a room receives the backlog so the conversation is not blank
// before the history fetch completes; clients dedupe by messageId. It is
// goroutine-safe and uses a ring buffer internally.
type backlog struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // conversationID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of message payloads.
type ringBuffer struct {
	items []protocol.MessagePayload
	pos   int
	count int
}

func newBacklog() *backlog {
	return &backlog{
		buffers: make(map[string]*ringBuffer),
	}
}

// add appends a message to the conversation's ring buffer. If the buffer is
// full, the oldest message is overwritten.
func (b *backlog) add(conversationID string, msg protocol.MessagePayload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[conversationID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.MessagePayload, BacklogDepth),
		}
		b.buffers[conversationID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % BacklogDepth
	if rb.count < BacklogDepth {
		rb.count++
	}
}

// recent returns the buffered messages for a conversation in chronological
// order (oldest first). Returns an empty slice if there is no buffer.
func (b *backlog) recent(conversationID string) []protocol.MessagePayload {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[conversationID]
	if !ok {
		return []protocol.MessagePayload{}
	}

	result := make([]protocol.MessagePayload, rb.count)
	// The oldest message is at position (pos - count) mod BacklogDepth.
	start := (rb.pos - rb.count + BacklogDepth) % BacklogDepth
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%BacklogDepth]
	}
	return result
}

// tombstone rewrites a buffered message as deleted so late joiners never
// see retracted content.
func (b *backlog) tombstone(conversationID, messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[conversationID]
	if !ok {
		return
	}
	for i := range rb.items {
		if rb.items[i].MessageID == messageID {
			rb.items[i].Content = ""
			rb.items[i].IsDeleted = true
			return
		}
	}
}

// remove deletes the buffer for a conversation (called when its room empties).
func (b *backlog) remove(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, conversationID)
}
