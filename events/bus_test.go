package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAll(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Kind: ExecutionStarted, ExecutionID: "e1", Workflow: "w"})
	b.Publish(Event{Kind: ExecutionCompleted, ExecutionID: "e1", Workflow: "w"})

	e := <-ch
	assert.Equal(t, ExecutionStarted, e.Kind)
	assert.False(t, e.Timestamp.IsZero(), "publish stamps events")
	e = <-ch
	assert.Equal(t, ExecutionCompleted, e.Kind)
}

func TestSubscribeFiltered(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(ExecutionFailed, ExecutionTimeout)
	defer cancel()

	b.Publish(Event{Kind: ExecutionStarted, ExecutionID: "e1"})
	b.Publish(Event{Kind: ExecutionFailed, ExecutionID: "e1"})

	e := <-ch
	assert.Equal(t, ExecutionFailed, e.Kind)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel reaches nobody and does not panic.
	b.Publish(Event{Kind: ExecutionStarted})
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Kind: ExecutionStarted})
	}
	assert.Equal(t, int64(10), b.Dropped())
}

func TestSubject(t *testing.T) {
	require.Equal(t, "hookflow.executions.started", Subject(ExecutionStarted))
	require.Equal(t, "hookflow.executions.cancelled", Subject(ExecutionCancelled))
}
