// Package fanout shares channel broadcasts between relay instances over
// Redis pub/sub.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/hub"
	"github.com/park285/cheese-relay/internal/obslog"
)

const DefaultTopic = "relay:fanout"

// LocalDeliverer hands an envelope to this instance's members only.
type LocalDeliverer interface {
	DeliverLocal(env domain.Envelope) (hub.Report, error)
}

type wireMessage struct {
	Origin   string          `json:"origin"`
	Envelope domain.Envelope `json:"envelope"`
}

// Bridge publishes every local broadcast to a Redis topic and replays
// broadcasts from other instances to local members. Messages this
// instance published are skipped on the way back.
type Bridge struct {
	rdb      *redis.Client
	topic    string
	instance string
	local    LocalDeliverer

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

type Option func(*Bridge)

func WithTopic(topic string) Option {
	return func(b *Bridge) {
		if strings.TrimSpace(topic) != "" {
			b.topic = topic
		}
	}
}

// WithInstanceID fixes the instance id; by default a random UUID is used.
func WithInstanceID(id string) Option {
	return func(b *Bridge) {
		if strings.TrimSpace(id) != "" {
			b.instance = id
		}
	}
}

func NewBridge(rdb *redis.Client, local LocalDeliverer, opts ...Option) *Bridge {
	b := &Bridge{rdb: rdb, topic: DefaultTopic, instance: uuid.NewString(), local: local}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (b *Bridge) Instance() string { return b.instance }

// Forward implements hub.Relay.
func (b *Bridge) Forward(ctx context.Context, env domain.Envelope) error {
	raw, err := json.Marshal(wireMessage{Origin: b.instance, Envelope: env})
	if err != nil {
		return fmt.Errorf("encode fanout message: %w", err)
	}
	return b.rdb.Publish(ctx, b.topic, raw).Err()
}

// Start subscribes to the topic and delivers remote broadcasts until Close.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return errors.New("fanout bridge already started")
	}

	ps := b.rdb.Subscribe(ctx, b.topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	b.pubsub = ps

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			b.handle(msg.Payload)
		}
	}()
	obslog.L().Info("fanout_started", zap.String("topic", b.topic), zap.String("instance", b.instance))
	return nil
}

func (b *Bridge) handle(payload string) {
	var m wireMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		obslog.L().Warn("fanout_decode_failed", zap.Error(err))
		return
	}
	if m.Origin == b.instance || m.Envelope.Channel == "" {
		return
	}
	rep, err := b.local.DeliverLocal(m.Envelope)
	if err != nil {
		obslog.L().Warn("fanout_deliver_failed", zap.String("channel", m.Envelope.Channel), zap.Error(err))
		return
	}
	obslog.L().Debug("fanout_delivered",
		zap.String("channel", m.Envelope.Channel),
		zap.String("origin", m.Origin),
		zap.Int("delivered", rep.Delivered))
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (b *Bridge) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	b.wg.Wait()
	return err
}
