// Package events carries authorization invalidations between API instances
// over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "portal:authz:invalidate"

// Kind says what changed.
type Kind string

const (
	// KindUser means one user's roles or companies changed.
	KindUser Kind = "user"
	// KindCatalog means role definitions changed.
	KindCatalog Kind = "catalog"
)

// Message is one invalidation.
type Message struct {
	Kind   Kind   `json:"kind"`
	UserID string `json:"userId,omitempty"`
	Origin string `json:"origin"`
}

// Publisher sends invalidations to other instances.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler applies a message received from another instance.
type Handler func(ctx context.Context, msg Message)

// RedisBus publishes and receives invalidations on a Redis channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	log     logrus.FieldLogger
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL, channel string, log logrus.FieldLogger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log.WithField("component", "events"),
	}, nil
}

// Origin identifies this instance on the channel.
func (b *RedisBus) Origin() string { return b.origin }

// Publish stamps msg with this instance's origin and sends it.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	msg.Origin = b.origin
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscription is an established channel subscription.
type Subscription struct {
	bus    *RedisBus
	pubsub *redis.PubSub
}

// Subscribe joins the channel. It returns once Redis has confirmed the
// subscription, so messages published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &Subscription{bus: b, pubsub: ps}, nil
}

// Run delivers messages from other instances to h until ctx is cancelled.
// Messages this instance published are skipped; malformed ones are logged
// and dropped.
func (s *Subscription) Run(ctx context.Context, h Handler) {
	defer s.pubsub.Close()
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.bus.log.WithError(err).Warn("dropping malformed invalidation")
				continue
			}
			if msg.Origin == s.bus.origin {
				continue
			}
			h(ctx, msg)
		}
	}
}

// Ping checks Redis connectivity.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
