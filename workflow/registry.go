package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hookflow/hookflow/condition"
)

// Sentinel errors for registry operations.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowExists   = errors.New("workflow already registered")
)

// RegistrationError carries the validation result of a rejected definition.
type RegistrationError struct {
	Name   string
	Result *ValidationResult
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("workflow %q failed validation with %d error(s)", e.Name, len(e.Result.Errors))
}

// Registry holds registered workflow definitions. Reads vastly outnumber
// writes; a single RWMutex guards the map.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger *slog.Logger

	// onChange callbacks fire after every successful mutation, outside the
	// lock. The schedule component uses this to rebuild its cron entries.
	changeMu sync.Mutex
	onChange []func()
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger,
	}
}

// OnChange registers a callback invoked after every successful register or
// remove.
func (r *Registry) OnChange(fn func()) {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()
	r.onChange = append(r.onChange, fn)
}

func (r *Registry) notifyChange() {
	r.changeMu.Lock()
	callbacks := append([]func(){}, r.onChange...)
	r.changeMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Register validates and stores a definition. Registration is atomic: an
// invalid definition leaves the registry untouched. Re-registering an
// existing name replaces it.
func (r *Registry) Register(d *Definition) error {
	if d == nil {
		return errors.New("nil workflow definition")
	}

	stored := d.Clone()
	stored.EnsureActionIDs()

	res := Validate(stored)
	for _, w := range res.Warnings {
		r.logger.Warn("workflow validation warning", "workflow", stored.Name, "warning", w)
	}
	if !res.Valid() {
		return &RegistrationError{Name: stored.Name, Result: res}
	}

	r.mu.Lock()
	_, replaced := r.defs[stored.Name]
	r.defs[stored.Name] = stored
	r.mu.Unlock()

	r.logger.Info("workflow registered",
		"workflow", stored.Name,
		"version", stored.Version,
		"actions", len(stored.Actions),
		"replaced", replaced)
	r.notifyChange()
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	d, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	return d.Clone(), nil
}

// Remove deletes the named definition.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	_, ok := r.defs[name]
	delete(r.defs, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	r.logger.Info("workflow removed", "workflow", name)
	r.notifyChange()
	return nil
}

// List returns copies of all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Match returns enabled workflows whose webhook trigger matches the event
// tag, repository, and payload filters. Results are sorted by name so
// dispatch order is stable.
func (r *Registry) Match(event, repository string, payload map[string]any) []*Definition {
	r.mu.RLock()
	var matched []*Definition
	for _, d := range r.defs {
		if !d.Enabled || d.Trigger.Type != TriggerWebhook {
			continue
		}
		if !eventMatches(d.Trigger.Event, event) {
			continue
		}
		if !repositoryMatches(d.Trigger.Repository, repository) {
			continue
		}
		if !filtersMatch(d.Trigger.Filters, payload) {
			continue
		}
		matched = append(matched, d.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched
}

// eventMatches accepts an exact tag, a bare family matching any of its
// subtypes ("pull_request" matches "pull_request.opened"), or "*".
func eventMatches(pattern, event string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if pattern == event {
		return true
	}
	return len(event) > len(pattern) && event[len(pattern)] == '.' && event[:len(pattern)] == pattern
}

// repositoryMatches applies the trigger's doublestar glob to the repository
// full name. A malformed pattern matches nothing.
func repositoryMatches(pattern, repository string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, repository)
	return err == nil && ok
}

// filtersMatch requires every filter rule to pass against the payload. A
// rule that fails to evaluate does not match.
func filtersMatch(filters []condition.Rule, payload map[string]any) bool {
	for i := range filters {
		ok, err := condition.EvaluateRule(&filters[i], payload)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
