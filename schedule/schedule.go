// Package schedule fires cron-triggered workflows by synthesizing
// schedule events into the event queue, so scheduled and webhook-driven
// runs flow through the same dispatch path.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hookflow/hookflow/queue"
	"github.com/hookflow/hookflow/workflow"
)

// EventType is the queue event type for cron firings.
const EventType = "schedule"

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns one cron runner rebuilt from the workflow registry.
type Scheduler struct {
	registry *workflow.Registry
	queue    *queue.Queue
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a scheduler and subscribes it to registry changes.
func New(registry *workflow.Registry, q *queue.Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{registry: registry, queue: q, logger: logger}
	registry.OnChange(s.Rebuild)
	return s
}

// Run builds the schedule and fires entries until the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Rebuild()
	<-ctx.Done()

	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Rebuild replaces the cron entries with the registry's current schedule
// triggers. Invalid entries are skipped; registration already validated
// them, so a failure here means the environment lost a timezone database
// entry.
func (s *Scheduler) Rebuild() {
	next := cron.New(cron.WithParser(cronParser))

	count := 0
	for _, wf := range s.registry.List() {
		if !wf.Enabled || wf.Trigger.Type != workflow.TriggerSchedule || wf.Trigger.Schedule == "" {
			continue
		}
		spec := wf.Trigger.Schedule
		if wf.Trigger.Timezone != "" {
			spec = fmt.Sprintf("CRON_TZ=%s %s", wf.Trigger.Timezone, spec)
		}
		if _, err := next.AddFunc(spec, s.jobFor(wf.Name)); err != nil {
			s.logger.Error("could not schedule workflow",
				"workflow", wf.Name, "schedule", spec, "error", err)
			continue
		}
		count++
	}

	s.mu.Lock()
	prev := s.cron
	s.cron = next
	s.mu.Unlock()

	next.Start()
	if prev != nil {
		prev.Stop()
	}
	s.logger.Info("schedule rebuilt", "entries", count)
}

// Entries returns the number of active cron entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// jobFor returns the firing closure for one workflow.
func (s *Scheduler) jobFor(name string) func() {
	return func() {
		payload, err := json.Marshal(map[string]any{
			"workflow":     name,
			"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Error("could not encode schedule payload", "workflow", name, "error", err)
			return
		}
		deliveryID := fmt.Sprintf("schedule-%s-%d", name, time.Now().UnixNano())
		if _, err := s.queue.Enqueue(EventType, payload, nil, deliveryID, -1); err != nil {
			s.logger.Error("could not enqueue schedule firing", "workflow", name, "error", err)
			return
		}
		s.logger.Debug("schedule fired", "workflow", name)
	}
}
