// ABOUTME: In-memory fan-out of appended audit entries to live subscribers
// ABOUTME: Subscribers register per agent or for every agent; slow readers drop entries

package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// allAgents is the subscription key that receives every entry.
const allAgents = ""

// Broadcaster provides pub/sub for appended entries.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Entry // agent -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Entry),
		logger:      logger.With("component", "audit-broadcaster"),
	}
}

// Subscribe registers a subscriber for agent. The subscription is removed and
// its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agent string) (<-chan Entry, string) {
	subID := uuid.New().String()
	ch := make(chan Entry, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[agent]; !ok {
		b.subscribers[agent] = make(map[string]chan Entry)
	}
	b.subscribers[agent][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent", agent, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agent, subID)
	}()

	return ch, subID
}

// Publish delivers e to subscribers of e.Agent and of all agents.
// Sends are non-blocking and happen under the read lock, so a concurrent
// Unsubscribe cannot close a channel mid-send.
func (b *Broadcaster) Publish(e Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{e.Agent, allAgents} {
		for subID, ch := range b.subscribers[key] {
			select {
			case ch <- e:
			default:
				b.logger.Debug("dropped entry for slow subscriber", "sub_id", subID, "entry_id", e.ID)
			}
		}
		if e.Agent == allAgents {
			break
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agent, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agent]
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
		delete(b.subscribers, agent)
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agent, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, agent)
	}
	b.closed = true
}
