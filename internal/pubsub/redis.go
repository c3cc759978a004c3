package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub on Redis channels so that a broadcast
// published on one instance reaches the sessions held by every instance.
type RedisPubSub struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// redisSubscription is one Redis SUBSCRIBE connection with its reader goroutine
type redisSubscription struct {
	ps      *RedisPubSub
	topic   string
	conn    *redis.PubSub
	handler Handler
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	s.ps.mu.Lock()
	delete(s.ps.subs, s)
	s.ps.mu.Unlock()
	return s.stop()
}

func (s *redisSubscription) stop() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// NewRedisPubSub connects to Redis and verifies the connection.
// url should be in the format: redis://host:port or redis://:password@host:port
func NewRedisPubSub(ctx context.Context, url string, logger *slog.Logger) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger = logger.With("component", "pubsub", "backend", "redis")
	logger.Info("connected to Redis", "addr", opts.Addr)

	return &RedisPubSub{
		client: client,
		logger: logger,
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

// Publish sends msg to every instance subscribed to topic
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	ps.mu.Lock()
	closed := ps.closed
	ps.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	receivers, err := ps.client.Publish(ctx, topic, data).Result()
	if err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}

	if receivers == 0 {
		ps.logger.Warn("no subscribers for topic", "topic", topic, "msg_type", msg.Type)
	} else {
		ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "instances", receivers)
	}
	return nil
}

// Subscribe opens a Redis subscription for topic. It returns once Redis has
// confirmed the subscription, so nothing published afterwards is missed.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, ErrClosed
	}

	conn := ps.client.Subscribe(ctx, topic)
	if _, err := conn.Receive(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to redis channel %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		ps:      ps,
		topic:   topic,
		conn:    conn,
		handler: handler,
		cancel:  cancel,
	}
	ps.subs[sub] = struct{}{}

	ps.wg.Add(1)
	go ps.receive(subCtx, sub)

	ps.logger.Debug("subscribed to topic", "topic", topic)
	return sub, nil
}

// receive hands messages to the handler one at a time, in channel order
func (ps *RedisPubSub) receive(ctx context.Context, sub *redisSubscription) {
	defer ps.wg.Done()

	ch := sub.conn.Channel(redis.WithChannelSize(subscriptionBuffer))
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}

			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				ps.logger.Error("failed to unmarshal message", "error", err, "topic", sub.topic)
				continue
			}
			invoke(ctx, sub.handler, &msg, ps.logger)
		}
	}
}

// Close stops every subscription, waits for in-flight handlers and closes
// the client.
func (ps *RedisPubSub) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	subs := ps.subs
	ps.subs = make(map[*redisSubscription]struct{})
	ps.mu.Unlock()

	for sub := range subs {
		_ = sub.stop()
	}
	ps.wg.Wait()

	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}

	ps.logger.Info("Redis pubsub closed")
	return nil
}

// SubscriberCount returns the number of local subscribers for a topic.
// Subscribers on other instances are not counted.
func (ps *RedisPubSub) SubscriberCount(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	count := 0
	for sub := range ps.subs {
		if sub.topic == topic {
			count++
		}
	}
	return count
}
