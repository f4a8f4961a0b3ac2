// ABOUTME: In-memory fan-out of session events to console and journal subscribers.
// ABOUTME: Subscribers filter by hostname; slow subscribers lose events instead of blocking.

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// AllHosts subscribes to events for every hostname.
const AllHosts = ""

// Broadcaster is a Sink that fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // hostname filter -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events about hostname, or about every host when
// hostname is AllHosts. The subscription ends when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, hostname string) (<-chan Event, string) {
	return b.SubscribeBuffered(ctx, hostname, DefaultBufferSize)
}

// SubscribeBuffered is Subscribe with an explicit channel buffer size.
func (b *Broadcaster) SubscribeBuffered(ctx context.Context, hostname string, size int) (<-chan Event, string) {
	if size <= 0 {
		size = DefaultBufferSize
	}
	subID := uuid.New().String()
	ch := make(chan Event, size)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[hostname]; !ok {
		b.subscribers[hostname] = make(map[string]chan Event)
	}
	b.subscribers[hostname][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "hostname", hostname, "sub_id", subID)

	context.AfterFunc(ctx, func() {
		b.Unsubscribe(hostname, subID)
	})

	return ch, subID
}

// Publish delivers e to subscribers of e.Hostname and of AllHosts.
// Sends never block; the read lock is held across them so that no channel
// can be closed mid-send.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subscribers[e.Hostname], e)
	if e.Hostname != AllHosts {
		b.deliver(b.subscribers[AllHosts], e)
	}
}

func (b *Broadcaster) deliver(subs map[string]chan Event, e Event) {
	for subID, ch := range subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"hostname", e.Hostname,
				"kind", e.Kind,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(hostname, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[hostname]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, hostname)
	}

	b.logger.Debug("subscriber removed", "hostname", hostname, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for hostname, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, hostname)
	}

	b.logger.Debug("broadcaster closed")
}

var _ Sink = (*Broadcaster)(nil)
