package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cloud-shuttle/tundra/internal/log"
	"github.com/cloud-shuttle/tundra/pkg/telemetry"
)

// DefaultBuffer is the channel capacity given to every subscriber
const DefaultBuffer = 1024

type subscriber struct {
	ch      chan Message
	filter  func(Message) bool
	dropped atomic.Bool
}

// Subscription is the receive side of a bus subscription
type Subscription struct {
	C   <-chan Message
	sub *subscriber
}

// Close drops the receive side. The bus prunes the subscriber on its next Publish.
func (s *Subscription) Close() {
	s.sub.dropped.Store(true)
}

// Option configures a Bus
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the bus logger
func WithLogger(l log.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// Bus fans messages out to subscribers without ever blocking the publisher.
// A subscriber whose channel is full is evicted.
type Bus struct {
	mu          sync.Mutex
	subscribers []*subscriber
	buffer      int
	logger      log.Logger
	closed      bool
}

// NewBus creates a new event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		buffer: DefaultBuffer,
		logger: log.Noop,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithValues(log.Kv{"svc": "events.Bus"})
	return b
}

// Subscribe receives every message published after this call
func (b *Bus) Subscribe() *Subscription {
	return b.subscribe(nil)
}

// SubscribeFiltered receives only messages for which filter returns true
func (b *Bus) SubscribeFiltered(filter func(Message) bool) *Subscription {
	return b.subscribe(filter)
}

// SubscribeForAgent receives only messages scoped to agentID.
// Messages without an agent are never delivered.
func (b *Bus) SubscribeForAgent(agentID string) *Subscription {
	return b.subscribe(Filter{AgentID: agentID}.Match)
}

func (b *Bus) subscribe(filter func(Message) bool) *Subscription {
	s := &subscriber{
		ch:     make(chan Message, b.buffer),
		filter: filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return &Subscription{C: s.ch, sub: s}
	}
	b.subscribers = append(b.subscribers, s)
	return &Subscription{C: s.ch, sub: s}
}

// Publish delivers msg to every matching subscriber. It never blocks and never fails.
func (b *Bus) Publish(msg Message) {
	if msg == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	telemetry.RecordEventPublished(context.Background(), msg.Kind())

	kept := b.subscribers[:0]
	for _, s := range b.subscribers {
		if s.dropped.Load() {
			close(s.ch)
			continue
		}

		if s.filter != nil && !b.matches(s, msg) {
			kept = append(kept, s)
			continue
		}

		select {
		case s.ch <- msg:
			kept = append(kept, s)
		default:
			b.logger.Warningf("subscriber channel full (%d buffered), evicting subscriber", len(s.ch))
			telemetry.RecordSubscriberEvicted(context.Background())
			close(s.ch)
		}
	}

	clear(b.subscribers[len(kept):])
	b.subscribers = kept
}

// matches runs a subscriber filter, treating a panic as a non-match
func (b *Bus) matches(s *subscriber, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warningf("subscriber filter panicked on %s message: %v", msg.Kind(), r)
			ok = false
		}
	}()
	return s.filter(msg)
}

// SubscriberCount returns the number of retained subscribers.
// Dropped subscribers are only pruned on the next Publish.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close shuts down the bus and closes every subscriber channel
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		close(s.ch)
	}
	b.subscribers = nil
}
