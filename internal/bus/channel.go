// Package bus provides event bus implementations for FinSentinel.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// ErrClosed is returned by a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus implements EventBus with Go channels, for a single process.
// Each subscription owns a buffered channel drained by one goroutine, so a
// slow stream client never blocks the archive worker.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]*topicSubs
	closed     bool

	// running counts subscription goroutines still delivering.
	running sync.WaitGroup
}

// topicSubs holds one topic's broadcast subscribers and its queue groups.
type topicSubs struct {
	broadcast []*channelSubscription
	groups    map[string]*queueGroup
}

type queueGroup struct {
	members []*channelSubscription
	next    uint64
}

type channelSubscription struct {
	id      string
	topic   string
	group   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriptions buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]*topicSubs),
	}
}

// Publish delivers payload to every broadcast subscriber of topic and to one
// member of each queue group. A full buffer drops the message for that
// subscriber only.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}

	// The write lock also keeps Close from closing a channel mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	ts := b.topics[topic]
	if ts == nil {
		return nil
	}
	for _, sub := range ts.broadcast {
		sub.deliver(msg)
	}
	for _, g := range ts.groups {
		if len(g.members) == 0 {
			continue
		}
		g.members[g.next%uint64(len(g.members))].deliver(msg)
		g.next++
	}
	return nil
}

// Subscribe registers handler for every message on topic.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, "", handler)
}

// QueueSubscribe registers handler as one member of group on topic.
// Members take turns.
func (b *ChannelBus) QueueSubscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, errors.New("queue group name is required")
	}
	return b.subscribe(ctx, topic, group, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		group:   group,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	ts := b.topics[topic]
	if ts == nil {
		ts = &topicSubs{groups: make(map[string]*queueGroup)}
		b.topics[topic] = ts
	}
	if group == "" {
		ts.broadcast = append(ts.broadcast, sub)
	} else {
		g := ts.groups[group]
		if g == nil {
			g = &queueGroup{}
			ts.groups[group] = g
		}
		g.members = append(g.members, sub)
	}

	b.running.Add(1)
	go sub.run()
	return sub, nil
}

func (s *channelSubscription) deliver(msg *domain.Message) {
	select {
	case s.msgCh <- msg:
	default:
		slog.Warn("subscriber buffer full, dropping message",
			"topic", s.topic,
			"group", s.group,
			"subscription_id", s.id,
		)
	}
}

// run delivers messages until the channel is closed or the subscription
// is cancelled.
func (s *channelSubscription) run() {
	defer s.bus.running.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.msgCh:
			if !ok || s.ctx.Err() != nil {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping reports ErrClosed after Close.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further publishes, waits for every subscriber to handle the
// messages already buffered for it, then cancels all subscriptions.
// Handlers that publish while the bus drains get ErrClosed.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var subs []*channelSubscription
	for _, ts := range b.topics {
		subs = append(subs, ts.all()...)
	}
	for _, sub := range subs {
		close(sub.msgCh)
	}
	b.topics = make(map[string]*topicSubs)
	b.mu.Unlock()

	b.running.Wait()
	for _, sub := range subs {
		sub.cancel()
	}
	return nil
}

func (ts *topicSubs) all() []*channelSubscription {
	out := append([]*channelSubscription(nil), ts.broadcast...)
	for _, g := range ts.groups {
		out = append(out, g.members...)
	}
	return out
}

// count returns the live subscriptions on topic.
func (b *ChannelBus) count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ts := b.topics[topic]; ts != nil {
		return len(ts.all())
	}
	return 0
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[sub.topic]
	if ts == nil {
		return
	}
	found := false
	if sub.group == "" {
		ts.broadcast, found = without(ts.broadcast, sub)
	} else if g := ts.groups[sub.group]; g != nil {
		g.members, found = without(g.members, sub)
		if len(g.members) == 0 {
			delete(ts.groups, sub.group)
		}
	}
	if found {
		close(sub.msgCh)
	}
	if len(ts.broadcast) == 0 && len(ts.groups) == 0 {
		delete(b.topics, sub.topic)
	}
}

func without(subs []*channelSubscription, sub *channelSubscription) ([]*channelSubscription, bool) {
	for i, s := range subs {
		if s == sub {
			return append(subs[:i:i], subs[i+1:]...), true
		}
	}
	return subs, false
}

// Unsubscribe stops receiving messages. Buffered messages are discarded.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
