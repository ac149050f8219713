package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/logging"
)

const (
	redisKeyPrefix = "beacon:"

	// typePresence is an internal control message telling members to re-read
	// the presence set. It is never surfaced to message handlers.
	typePresence = "_presence"

	presenceTimeout = 3 * time.Second
)

// RedisBroker is a Broker backed by Redis PUBLISH/SUBSCRIBE. Presence is a
// Redis set of member IDs per channel.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker connects to redisURL (redis://host:port/db) and verifies the
// connection.
func NewRedisBroker(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBrokerFromClient(client, logger), nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logging.OrNop(logger)}
}

// Channel returns a new member handle for name.
func (b *RedisBroker) Channel(name string) Channel {
	return &redisChannel{
		broker:      b,
		name:        name,
		id:          uuid.NewString(),
		topic:       redisKeyPrefix + "channel:" + name,
		presenceKey: redisKeyPrefix + "presence:" + name,
	}
}

// Close closes the Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisChannel struct {
	broker      *RedisBroker
	name        string
	id          string
	topic       string
	presenceKey string

	mu       sync.Mutex
	handlers handlers
	pubsub   *redis.PubSub
	done     chan struct{}
}

func (c *redisChannel) Name() string { return c.name }
func (c *redisChannel) ID() string   { return c.id }

func (c *redisChannel) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.message = append(c.handlers.message, h)
}

func (c *redisChannel) OnPresence(h PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.presence = append(c.handlers.presence, h)
}

func (c *redisChannel) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	c.mu.Lock()
	if c.pubsub != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	client := c.broker.client
	pubsub := client.Subscribe(ctx, c.topic)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	if err := client.SAdd(ctx, c.presenceKey, c.id).Err(); err != nil {
		pubsub.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.pubsub = pubsub
	c.done = done
	c.mu.Unlock()

	go c.loop(pubsub.Channel(), done)

	c.broker.logger.Debug("subscribed to channel",
		zap.String("channel", c.name),
		zap.String("member", c.id),
		zap.String("user_id", opts.UserID))

	if err := c.publishPresence(ctx); err != nil {
		_ = c.Unsubscribe(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (c *redisChannel) loop(ch <-chan *redis.Message, done chan<- struct{}) {
	defer close(done)
	for raw := range ch {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			c.broker.logger.Warn("failed to unmarshal channel message",
				zap.String("channel", c.name),
				zap.Error(err))
			continue
		}

		c.mu.Lock()
		hs := c.handlers
		c.mu.Unlock()

		if msg.Type == typePresence {
			ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
			count, err := c.broker.client.SCard(ctx, c.presenceKey).Result()
			cancel()
			if err != nil {
				c.broker.logger.Warn("failed to read presence",
					zap.String("channel", c.name),
					zap.Error(err))
				continue
			}
			hs.presenceChanged(int(count))
			continue
		}

		// Skip messages from this member (avoid loops)
		if msg.Sender == c.id {
			continue
		}
		hs.deliver(msg)
	}
}

func (c *redisChannel) Publish(ctx context.Context, msgType string, payload any) error {
	c.mu.Lock()
	subscribed := c.pubsub != nil
	c.mu.Unlock()
	if !subscribed {
		return ErrNotSubscribed
	}
	return c.publish(ctx, msgType, payload)
}

func (c *redisChannel) publish(ctx context.Context, msgType string, payload any) error {
	msg, err := newMessage(c.id, msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.broker.client.Publish(ctx, c.topic, data).Err()
}

func (c *redisChannel) publishPresence(ctx context.Context) error {
	return c.publish(ctx, typePresence, struct{}{})
}

func (c *redisChannel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	pubsub, done := c.pubsub, c.done
	c.pubsub = nil
	c.done = nil
	c.mu.Unlock()
	if pubsub == nil {
		return nil
	}

	client := c.broker.client
	if err := client.SRem(ctx, c.presenceKey, c.id).Err(); err != nil {
		c.broker.logger.Warn("failed to remove presence",
			zap.String("channel", c.name),
			zap.Error(err))
	}
	if err := c.publishPresence(ctx); err != nil {
		c.broker.logger.Warn("failed to announce presence",
			zap.String("channel", c.name),
			zap.Error(err))
	}

	err := pubsub.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
