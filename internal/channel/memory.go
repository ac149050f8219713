package channel

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/logging"
)

// ErrNotSubscribed is returned when publishing on a channel that is not subscribed.
var ErrNotSubscribed = stderrors.New("channel not subscribed")

// ErrBrokerClosed is returned when subscribing through a closed broker.
var ErrBrokerClosed = stderrors.New("broker closed")

// inboxSize bounds each member's undelivered events; overflow is dropped.
const inboxSize = 256

type event struct {
	msg      *Message
	presence int
}

// Hub is an in-process Broker. Members of the same named channel see each
// other's messages and presence.
type Hub struct {
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]map[*hubChannel]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logging.OrNop(logger),
		topics: make(map[string]map[*hubChannel]struct{}),
	}
}

// Channel returns a new member handle for name.
func (h *Hub) Channel(name string) Channel {
	return &hubChannel{hub: h, name: name, id: uuid.NewString()}
}

// Presence returns the number of subscribed members of name.
func (h *Hub) Presence(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[name])
}

// Close unsubscribes every member. Further subscribes fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	var members []*hubChannel
	for _, topic := range h.topics {
		for m := range topic {
			members = append(members, m)
		}
	}
	h.mu.Unlock()

	for _, m := range members {
		_ = m.Unsubscribe(context.Background())
	}
	return nil
}

func (h *Hub) join(c *hubChannel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrBrokerClosed
	}
	topic, ok := h.topics[c.name]
	if !ok {
		topic = make(map[*hubChannel]struct{})
		h.topics[c.name] = topic
	}
	topic[c] = struct{}{}
	h.announceLocked(c.name)
	return nil
}

func (h *Hub) leave(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := h.topics[c.name]
	if _, ok := topic[c]; !ok {
		return
	}
	delete(topic, c)
	close(c.inbox)
	if len(topic) == 0 {
		delete(h.topics, c.name)
		return
	}
	h.announceLocked(c.name)
}

func (h *Hub) announceLocked(name string) {
	count := len(h.topics[name])
	for m := range h.topics[name] {
		h.sendLocked(m, event{presence: count})
	}
}

func (h *Hub) broadcast(from *hubChannel, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.topics[from.name] {
		if m == from {
			continue
		}
		h.sendLocked(m, event{msg: &msg})
	}
}

func (h *Hub) sendLocked(m *hubChannel, ev event) {
	select {
	case m.inbox <- ev:
	default:
		h.logger.Warn("channel inbox full, dropping event",
			zap.String("channel", m.name),
			zap.String("member", m.id))
	}
}

type hubChannel struct {
	hub  *Hub
	name string
	id   string

	mu         sync.Mutex
	handlers   handlers
	subscribed bool
	inbox      chan event
	done       chan struct{}
}

func (c *hubChannel) Name() string { return c.name }
func (c *hubChannel) ID() string   { return c.id }

func (c *hubChannel) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.message = append(c.handlers.message, h)
}

func (c *hubChannel) OnPresence(h PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.presence = append(c.handlers.presence, h)
}

func (c *hubChannel) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.inbox = make(chan event, inboxSize)
	c.done = make(chan struct{})
	c.subscribed = true
	inbox, done := c.inbox, c.done
	c.mu.Unlock()

	go c.loop(inbox, done)

	if err := c.hub.join(c); err != nil {
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		close(inbox)
		<-done
		return err
	}
	return nil
}

func (c *hubChannel) loop(inbox <-chan event, done chan<- struct{}) {
	defer close(done)
	for ev := range inbox {
		c.mu.Lock()
		hs := c.handlers
		c.mu.Unlock()
		if ev.msg != nil {
			hs.deliver(*ev.msg)
		} else {
			hs.presenceChanged(ev.presence)
		}
	}
}

func (c *hubChannel) Publish(ctx context.Context, msgType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	subscribed := c.subscribed
	c.mu.Unlock()
	if !subscribed {
		return ErrNotSubscribed
	}

	msg, err := newMessage(c.id, msgType, payload)
	if err != nil {
		return err
	}
	c.hub.broadcast(c, msg)
	return nil
}

func (c *hubChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = false
	done := c.done
	c.mu.Unlock()

	c.hub.leave(c)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
