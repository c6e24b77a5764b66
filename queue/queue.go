// Package queue is the bounded in-memory event queue between webhook
// ingress and the workflow engine. A single worker drains it so dispatch
// order is deterministic; failed events are retried at the head of the
// queue with exponential delay.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for queue construction.
const (
	DefaultCapacity   = 1000
	DefaultMaxRetries = 3
)

// Retry delay bounds: min(base × 2^(retryCount−1), max).
const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// Sentinel errors.
var (
	ErrQueueFull       = errors.New("event queue is full")
	ErrProcessorExists = errors.New("processor already registered for event type")
)

// Event is one queued webhook delivery.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Payload    json.RawMessage   `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	DeliveryID string            `json:"delivery_id"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// Processor handles all events of one type.
type Processor func(ctx context.Context, e *Event) error

// Stats is a point-in-time view of the queue.
type Stats struct {
	Size           int  `json:"size"`
	MaxSize        int  `json:"maxSize"`
	Processing     bool `json:"processing"`
	ProcessorCount int  `json:"processorCount"`
}

// Queue is a bounded FIFO with per-type processors.
type Queue struct {
	logger *slog.Logger

	mu         sync.Mutex
	items      []*Event
	capacity   int
	processors map[string]Processor
	processing bool

	// notify wakes the worker when the queue goes non-empty.
	notify chan struct{}

	// onFailure observes events that exhausted their retry budget or have
	// no processor.
	onFailure func(e *Event, err error)

	// delay bounds are adjustable in tests.
	baseDelay time.Duration
	maxDelay  time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity overrides the queue bound.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithFailureHandler observes terminal event failures.
func WithFailureHandler(fn func(e *Event, err error)) Option {
	return func(q *Queue) { q.onFailure = fn }
}

// New creates a queue. Call Run to start the dispatch worker.
func New(logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:     logger,
		capacity:   DefaultCapacity,
		processors: make(map[string]Processor),
		notify:     make(chan struct{}, 1),
		baseDelay:  baseRetryDelay,
		maxDelay:   maxRetryDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an event, failing with ErrQueueFull at the bound.
// maxRetries below zero uses the default budget.
func (q *Queue) Enqueue(eventType string, payload json.RawMessage, headers map[string]string, deliveryID string, maxRetries int) (string, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Payload:    payload,
		Headers:    headers,
		DeliveryID: deliveryID,
		EnqueuedAt: time.Now().UTC(),
		MaxRetries: maxRetries,
	}

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return "", fmt.Errorf("%w (capacity %d)", ErrQueueFull, q.capacity)
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	q.wake()
	return e.ID, nil
}

// RegisterProcessor binds the single processor for an event type.
func (q *Queue) RegisterProcessor(eventType string, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.processors[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrProcessorExists, eventType)
	}
	q.processors[eventType] = p
	return nil
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:           len(q.items),
		MaxSize:        q.capacity,
		Processing:     q.processing,
		ProcessorCount: len(q.processors),
	}
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run drains the queue until the context is cancelled. It is the only
// goroutine that pops events, so dispatch order is FIFO except for retried
// events promoted to the head.
func (q *Queue) Run(ctx context.Context) {
	for {
		e := q.pop()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		q.dispatch(ctx, e)
	}
}

func (q *Queue) pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e
}

func (q *Queue) dispatch(ctx context.Context, e *Event) {
	q.mu.Lock()
	p := q.processors[e.Type]
	q.processing = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	if p == nil {
		err := fmt.Errorf("no processor for event type %q", e.Type)
		q.logger.Warn("dropping event", "event", e.ID, "type", e.Type, "error", err)
		q.fail(e, err)
		return
	}

	if err := p(ctx, e); err != nil {
		e.RetryCount++
		if e.RetryCount > e.MaxRetries {
			q.logger.Error("event failed permanently",
				"event", e.ID, "type", e.Type, "delivery", e.DeliveryID,
				"retries", e.RetryCount-1, "error", err)
			q.fail(e, err)
			return
		}

		delay := q.retryDelay(e.RetryCount)
		q.logger.Warn("event processing failed, requeueing",
			"event", e.ID, "type", e.Type, "retry", e.RetryCount, "delay", delay, "error", err)
		// Requeue from a timer so the worker keeps draining; by delivery
		// time the event sits at the head, preempting newer arrivals.
		go func() {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			q.pushFront(e)
		}()
	}
}

// retryDelay is min(base × 2^(retryCount−1), max).
func (q *Queue) retryDelay(retryCount int) time.Duration {
	d := q.baseDelay << uint(retryCount-1)
	if d > q.maxDelay || d <= 0 {
		return q.maxDelay
	}
	return d
}

// pushFront requeues a retried event at the head. The bound is not
// enforced here: the event already held a slot and dropping it would lose
// a delivery.
func (q *Queue) pushFront(e *Event) {
	q.mu.Lock()
	q.items = append([]*Event{e}, q.items...)
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) fail(e *Event, err error) {
	if q.onFailure != nil {
		q.onFailure(e, err)
	}
}
