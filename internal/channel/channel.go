// Package channel is the named pub/sub channel used to fan context changes out
// to live subscribers. Two brokers are provided: an in-process Hub and a
// Redis-backed broker for multi-process deployments.
package channel

import (
	"context"
	"encoding/json"
	"time"
)

// Message types carried on a user's context channel.
const (
	TypeContextUpdate = "context_update"
	TypeNotification  = "notification"
)

// ContextChannelName returns the channel a user's context changes are broadcast on.
func ContextChannelName(userID string) string {
	return "context-" + userID
}

// Message is the envelope of every published payload.
type Message struct {
	Type   string          `json:"type"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
	SentAt int64           `json:"sentAt"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// MessageHandler receives messages published by other members of a channel.
type MessageHandler func(Message)

// PresenceHandler receives the number of members currently subscribed.
type PresenceHandler func(count int)

// SubscribeOptions identify the subscriber to other members.
type SubscribeOptions struct {
	UserID   string
	Metadata map[string]any
}

// Channel is one member's handle on a named channel. Messages a member
// publishes are not delivered back to it. Handlers run on a per-member
// goroutine in publish order and must not call Unsubscribe.
type Channel interface {
	Name() string
	ID() string
	Subscribe(ctx context.Context, opts SubscribeOptions) error
	OnMessage(h MessageHandler)
	OnPresence(h PresenceHandler)
	Publish(ctx context.Context, msgType string, payload any) error
	Unsubscribe(ctx context.Context) error
}

// Broker creates channel handles.
type Broker interface {
	Channel(name string) Channel
	Close() error
}

func newMessage(sender, msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   msgType,
		Sender: sender,
		Data:   data,
		SentAt: time.Now().UnixMilli(),
	}, nil
}

// handlers holds a member's callbacks. Guarded by the owning channel's mutex.
type handlers struct {
	message  []MessageHandler
	presence []PresenceHandler
}

func (h handlers) deliver(msg Message) {
	for _, fn := range h.message {
		fn(msg)
	}
}

func (h handlers) presenceChanged(count int) {
	for _, fn := range h.presence {
		fn(count)
	}
}
