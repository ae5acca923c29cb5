// Package messaging provides a NATS client wrapper for the event mirror:
// presence transitions, friend notifications, and conversation events are
// published best-effort for external consumers and peer servers. It
// handles connection lifecycle and subject-based subscriptions.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectPresenceStatus    = "presence.status"
	SubjectFriendNotify      = "friend.notify"      // + .<user_id>
	SubjectConversationEvent = "conversation.event" // + .<conversation_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "converge",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishPresenceStatus mirrors a presence transition to external consumers.
func (c *NATSClient) PublishPresenceStatus(data []byte) error {
	return c.Publish(SubjectPresenceStatus, data)
}

// SubscribePresenceStatus subscribes to the presence transition stream.
func (c *NATSClient) SubscribePresenceStatus(handler func(data []byte)) error {
	return c.Subscribe(SubjectPresenceStatus, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishFriendNotify mirrors a friend transition addressed to one user.
func (c *NATSClient) PublishFriendNotify(userID string, data []byte) error {
	return c.Publish(SubjectFriendNotify+"."+userID, data)
}

// SubscribeFriendNotify subscribes to friend transitions addressed to a user.
func (c *NATSClient) SubscribeFriendNotify(userID string, handler func(data []byte)) error {
	subject := SubjectFriendNotify + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeFriendNotify unsubscribes from a user's friend transitions.
func (c *NATSClient) UnsubscribeFriendNotify(userID string) error {
	return c.unsubscribe(SubjectFriendNotify + "." + userID)
}

// PublishConversationEvent mirrors a conversation event (message, deletion,
// reaction) to the conversation.event.<conversationID> subject.
func (c *NATSClient) PublishConversationEvent(conversationID string, data []byte) error {
	return c.Publish(SubjectConversationEvent+"."+conversationID, data)
}

// SubscribeConversation subscribes to the conversation.event.<conversationID>
// subject for a specific session. The subscription is keyed by sessionID so
// multiple sessions on the same server can follow the same conversation
// without overwriting each other.
func (c *NATSClient) SubscribeConversation(conversationID, sessionID string, handler func(data []byte)) error {
	subject := SubjectConversationEvent + "." + conversationID
	key := "convsub:" + sessionID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeConversation unsubscribes a session's conversation subscription.
func (c *NATSClient) UnsubscribeConversation(sessionID string) error {
	return c.unsubscribe("convsub:" + sessionID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
