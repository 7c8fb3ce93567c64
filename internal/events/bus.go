package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/clipdock/clipdock/internal/observability"
)

// DefaultBufferSize bounds each subscriber's delivery queue.
const DefaultBufferSize = 64

// Subscription is one tenant-scoped feed of events. Events is closed
// when the subscription is detached from the bus.
type Subscription struct {
	ID       uint64
	TenantID string
	Events   chan Event

	mu     sync.Mutex
	closed bool
}

// shut closes the feed exactly once. Deliveries racing with shut are
// dropped rather than sent to a closed channel.
func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Events)
}

// Bus fans pipeline lifecycle events out to tenant-scoped subscribers.
// Publishing never blocks: when a subscriber's buffer is full the
// oldest queued event is evicted, so survivors keep their order and
// the newest event always lands.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	taps   map[uint64]*Subscription
	nextID uint64
	closed bool

	bufferSize int
	logger     *slog.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// BusStats is a point-in-time snapshot for diagnostics.
type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// NewBus creates a bus whose subscribers each buffer up to bufferSize
// events. A non-positive bufferSize falls back to DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[string]map[uint64]*Subscription),
		taps:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		logger:     observability.WithComponent(slog.Default(), "events"),
	}
}

// WithLogger sets the logger for the bus.
func (b *Bus) WithLogger(logger *slog.Logger) *Bus {
	if logger != nil {
		b.logger = observability.WithComponent(logger, "events")
	}
	return b
}

// Subscribe attaches a new subscriber for tenantID. On a closed bus the
// returned subscription's channel is already closed.
func (b *Bus) Subscribe(tenantID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		ID:       b.nextID,
		TenantID: tenantID,
		Events:   make(chan Event, b.bufferSize),
	}
	if b.closed {
		sub.shut()
		return sub
	}

	tenant, ok := b.subs[tenantID]
	if !ok {
		tenant = make(map[uint64]*Subscription)
		b.subs[tenantID] = tenant
	}
	tenant[sub.ID] = sub

	b.logger.Debug("subscriber attached", "tenant_id", tenantID, "subscriber_id", sub.ID)
	return sub
}

// SubscribeAll attaches a firehose subscriber that receives every
// tenant's events. The subscription carries no tenant of its own; its
// consumers must treat the TenantID on each event as the scope.
func (b *Bus) SubscribeAll() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		ID:     b.nextID,
		Events: make(chan Event, b.bufferSize),
	}
	if b.closed {
		sub.shut()
		return sub
	}
	b.taps[sub.ID] = sub

	b.logger.Debug("firehose subscriber attached", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe detaches sub and closes its channel. Calling it more
// than once, or with a subscription from a closed bus, is a no-op.
// A publish already in flight to sub is dropped.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.taps[sub.ID]; ok {
		delete(b.taps, sub.ID)
	} else if tenant, ok := b.subs[sub.TenantID]; ok {
		delete(tenant, sub.ID)
		if len(tenant) == 0 {
			delete(b.subs, sub.TenantID)
		}
	}
	b.mu.Unlock()

	sub.shut()
	b.logger.Debug("subscriber detached", "tenant_id", sub.TenantID, "subscriber_id", sub.ID)
}

// Publish delivers event to every subscriber of event.TenantID and to
// every firehose subscriber. The subscriber table lock is released
// before delivery starts, and delivery itself never blocks on slow
// subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	tenant := b.subs[event.TenantID]
	targets := make([]*Subscription, 0, len(tenant)+len(b.taps))
	for _, sub := range tenant {
		targets = append(targets, sub)
	}
	for _, sub := range b.taps {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range targets {
		b.deliver(sub, event)
	}
}

// deliver enqueues without blocking. A full buffer sheds its oldest
// entry and the send is retried; the receiver draining concurrently
// only speeds this up.
func (b *Bus) deliver(sub *Subscription, event Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}
	for {
		select {
		case sub.Events <- event:
			return
		default:
		}
		select {
		case dropped := <-sub.Events:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping oldest event",
				"tenant_id", sub.TenantID,
				"subscriber_id", sub.ID,
				"dropped_type", dropped.Type,
				"video_id", dropped.VideoID)
		default:
		}
	}
}

// Close detaches every subscriber and stops accepting publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for tenantID, tenant := range b.subs {
		for id, sub := range tenant {
			all = append(all, sub)
			delete(tenant, id)
		}
		delete(b.subs, tenantID)
	}
	for id, sub := range b.taps {
		all = append(all, sub)
		delete(b.taps, id)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.shut()
	}
	b.logger.Debug("bus closed")
}

// Stats reports subscriber count and delivery counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, tenant := range b.subs {
		count += len(tenant)
	}
	count += len(b.taps)
	return BusStats{
		Subscribers: count,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
