package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hookflow/hookflow/metrics"
	"github.com/hookflow/hookflow/queue"
	"github.com/hookflow/hookflow/workflow"
)

// ScheduleEventType marks synthetic events produced by the cron scheduler.
const ScheduleEventType = "schedule"

// Dispatcher bridges the event queue to the engine: it matches dequeued
// events against registered workflows and runs every match.
type Dispatcher struct {
	registry *workflow.Registry
	engine   *Engine
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *workflow.Registry, engine *Engine, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Dispatcher{registry: registry, engine: engine, logger: logger, metrics: m}
}

// Sync registers the dispatcher as processor for every event family the
// current workflow set listens to, plus the schedule type. Call it again
// after registry changes; already-registered types are left alone.
func (d *Dispatcher) Sync(q *queue.Queue) {
	types := map[string]bool{ScheduleEventType: true}
	for _, wf := range d.registry.List() {
		if wf.Trigger.Type != workflow.TriggerWebhook || wf.Trigger.Event == "" {
			continue
		}
		family := wf.Trigger.Event
		if i := strings.IndexByte(family, '.'); i > 0 {
			family = family[:i]
		}
		if family != "*" {
			types[family] = true
		}
	}

	p := d.Process
	for t := range types {
		if err := q.RegisterProcessor(t, p); err != nil && !errors.Is(err, queue.ErrProcessorExists) {
			d.logger.Error("could not register event processor", "type", t, "error", err)
		}
	}
}

// Process handles one dequeued event. A returned error makes the queue
// retry the event under its own backoff.
func (d *Dispatcher) Process(ctx context.Context, e *queue.Event) error {
	var payload map[string]any
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			// Ingress validates JSON, so this is corrupt state: retrying
			// cannot help.
			d.logger.Error("dropping event with unreadable payload",
				"event", e.ID, "delivery", e.DeliveryID, "error", err)
			d.metrics.EventsFailed.Inc()
			return nil
		}
	}

	if e.Type == ScheduleEventType {
		return d.processSchedule(ctx, e, payload)
	}

	repo := repositoryName(payload)
	matches := d.registry.Match(e.Type, repo, payload)
	if len(matches) == 0 {
		d.logger.Debug("no workflows matched event",
			"event", e.ID, "type", e.Type, "repository", repo)
		d.metrics.EventsProcessed.Inc()
		return nil
	}

	trigger := TriggerContext{
		Event:      e.Type,
		DeliveryID: e.DeliveryID,
		Repository: repo,
		Payload:    payload,
	}

	var errs []error
	for _, wf := range matches {
		if _, err := d.engine.Execute(ctx, wf, trigger); err != nil {
			d.logger.Error("workflow execution could not start",
				"workflow", wf.Name, "event", e.ID, "error", err)
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.Name, err))
		}
	}
	if len(errs) > 0 {
		d.metrics.EventsFailed.Inc()
		return errors.Join(errs...)
	}
	d.metrics.EventsProcessed.Inc()
	return nil
}

// processSchedule runs the single workflow a cron firing targets.
func (d *Dispatcher) processSchedule(ctx context.Context, e *queue.Event, payload map[string]any) error {
	name, _ := payload["workflow"].(string)
	if name == "" {
		d.logger.Error("schedule event without workflow name", "event", e.ID)
		return nil
	}
	wf, err := d.registry.Get(name)
	if err != nil {
		// The workflow was removed after the firing was queued.
		d.logger.Warn("scheduled workflow no longer registered", "workflow", name)
		return nil
	}
	if !wf.Enabled {
		return nil
	}

	_, err = d.engine.Execute(ctx, wf, TriggerContext{
		Event:   ScheduleEventType,
		Payload: payload,
	})
	if err != nil {
		d.metrics.EventsFailed.Inc()
		return fmt.Errorf("scheduled workflow %s: %w", name, err)
	}
	d.metrics.EventsProcessed.Inc()
	return nil
}

// repositoryName extracts repository.full_name from a GitHub-style
// payload.
func repositoryName(payload map[string]any) string {
	repo, ok := payload["repository"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := repo["full_name"].(string)
	return name
}
