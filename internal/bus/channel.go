// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streamgift/kestrel/internal/domain"
)

// ErrClosed is returned for operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus is the community-tier in-process bus. Delivery is best-effort:
// a subscriber whose buffer is full misses the message instead of blocking
// the publisher, and the drop is counted.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]map[string]*channelSub
	closed     bool

	published atomic.Int64
	dropped   atomic.Int64
}

type channelSub struct {
	bus    *ChannelBus
	id     string
	topic  string
	msgCh  chan *domain.Message
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process bus with the given per-subscriber
// buffer size.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[string]*channelSub),
	}
}

// Publish fans a message out to every subscriber of the topic. The sends stay
// under the read lock so Close cannot tear down a channel mid-delivery.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	b.published.Add(1)
	for _, sub := range b.topics[topic] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic and starts its delivery pump.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSub{
		bus:    b,
		id:     uuid.New().String(),
		topic:  topic,
		msgCh:  make(chan *domain.Message, b.bufferSize),
		ctx:    subCtx,
		cancel: cancel,
	}

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*channelSub)
	}
	b.topics[topic][sub.id] = sub

	go sub.pump(handler)
	return sub, nil
}

func (s *channelSub) pump(handler domain.MessageHandler) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if msg == nil {
				return
			}
			_ = handler(s.ctx, msg)
		}
	}
}

// Ping reports whether the bus accepts messages.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Stats reports publish/drop totals and subscriber counts per topic.
func (b *ChannelBus) Stats() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	perTopic := make(map[string]int, len(b.topics))
	for topic, subs := range b.topics {
		perTopic[topic] = len(subs)
	}
	return map[string]any{
		"published":   b.published.Load(),
		"dropped":     b.dropped.Load(),
		"subscribers": perTopic,
	}
}

// Close stops every subscription. Publishing afterwards fails with ErrClosed.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string]map[string]*channelSub)
	return nil
}

func (b *ChannelBus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Unsubscribe detaches the subscription and stops its pump.
func (s *channelSub) Unsubscribe() error {
	s.bus.remove(s.topic, s.id)
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSub) Topic() string {
	return s.topic
}
