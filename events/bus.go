// Package events carries execution lifecycle notifications. The bus is an
// ordered, non-replayable fan-out: subscribers observe events but cannot
// slow the engine down.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind tags an execution lifecycle event.
type Kind string

// Execution event kinds.
const (
	ExecutionStarted   Kind = "execution:started"
	ExecutionCompleted Kind = "execution:completed"
	ExecutionFailed    Kind = "execution:failed"
	ExecutionTimeout   Kind = "execution:timeout"
	ExecutionCancelled Kind = "execution:cancelled"
)

// Event is one lifecycle notification.
type Event struct {
	Kind        Kind           `json:"kind"`
	ExecutionID string         `json:"execution_id"`
	Workflow    string         `json:"workflow"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// subscriberBuffer is the channel capacity per subscriber. A full buffer
// drops the event for that subscriber rather than blocking the publisher.
const subscriberBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool // empty means all kinds
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving the given kinds (all kinds when
// none are named) and a cancel function that closes it.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{
		ch:    make(chan Event, subscriberBuffer),
		kinds: make(map[Kind]bool, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber without
// blocking. Events to full subscribers are dropped and counted.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.kinds) > 0 && !sub.kinds[e.Kind] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events discarded due to slow subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
