package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

type delivery struct {
	ctx context.Context
	msg *Message
}

// memorySubscription owns a queue drained by one goroutine
type memorySubscription struct {
	ps      *MemoryPubSub
	id      uint64
	topic   string
	handler Handler
	queue   chan delivery
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.ps.remove(s)
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) run(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			invoke(d.ctx, s.handler, d.msg, logger)
		}
	}
}

// MemoryPubSub implements PubSub inside one process.
// Suitable for single-instance deployments.
type MemoryPubSub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*memorySubscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// NewMemoryPubSub creates a new in-memory pub/sub instance
func NewMemoryPubSub(logger *slog.Logger) *MemoryPubSub {
	return &MemoryPubSub{
		topics: make(map[string]map[uint64]*memorySubscription),
		logger: logger.With("component", "pubsub", "backend", "memory"),
	}
}

// Publish queues msg for every subscriber of topic and returns without
// waiting for the handlers.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.closed {
		return ErrClosed
	}

	subs := ps.topics[topic]
	if len(subs) == 0 {
		ps.logger.Warn("no subscribers for topic", "topic", topic, "msg_type", msg.Type)
		return nil
	}

	// Handlers outlive the publisher's request
	d := delivery{ctx: context.WithoutCancel(ctx), msg: msg}
	for _, sub := range subs {
		select {
		case sub.queue <- d:
		default:
			ps.logger.Warn("subscriber queue full, dropping message", "topic", topic, "sub_id", sub.id, "msg_type", msg.Type)
		}
	}

	ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "subscribers", len(subs))
	return nil
}

// Subscribe registers a handler for the given topic
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, ErrClosed
	}

	ps.nextID++
	sub := &memorySubscription{
		ps:      ps,
		id:      ps.nextID,
		topic:   topic,
		handler: handler,
		queue:   make(chan delivery, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	if ps.topics[topic] == nil {
		ps.topics[topic] = make(map[uint64]*memorySubscription)
	}
	ps.topics[topic][sub.id] = sub

	go sub.run(ps.logger)
	return sub, nil
}

func (ps *MemoryPubSub) remove(sub *memorySubscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if subs, ok := ps.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(ps.topics, sub.topic)
		}
	}
}

// Close stops every subscription. Queued messages are discarded.
func (ps *MemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.closed = true
	for _, subs := range ps.topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
	ps.topics = make(map[string]map[uint64]*memorySubscription)
	return nil
}

// SubscriberCount returns the number of subscribers for a topic
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[topic])
}
