package workflow

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hookflow/hookflow/condition"
	"github.com/robfig/cron/v3"
)

// ValidationError is a single schema or business-rule failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
}

// ValidationResult bundles blocking errors with non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Valid returns true when no blocking errors were found.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(path, code, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// cronParser accepts standard five-field expressions plus descriptors like
// @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Warning thresholds.
const (
	manyActionsThreshold    = 20
	deepConditionThreshold  = 3
	longTimeoutThreshold    = time.Hour
	manyDependsOnThreshold  = 5
)

// Validate runs the business rules over a structurally valid definition.
// Call EnsureActionIDs first so depends_on references can be checked.
func Validate(d *Definition) *ValidationResult {
	res := &ValidationResult{}

	if d.Name == "" {
		res.addError("/name", "required", "workflow name is required")
	}
	if d.Version != "" && !versionPattern.MatchString(d.Version) {
		res.addError("/version", "pattern", "version %q must match MAJOR.MINOR.PATCH", d.Version)
	}

	validateTrigger(d, res)
	validateConditions("/conditions", d.Conditions, res)
	validateActions(d, res)

	if len(d.Actions) > manyActionsThreshold {
		res.addWarning("workflow has %d actions; consider splitting it", len(d.Actions))
	}
	if d.ErrorHandling == nil {
		res.addWarning("no error_handling configured; a failed action stops the workflow")
	}
	if d.Timeout > longTimeoutThreshold.Seconds() {
		res.addWarning("timeout of %.0fs exceeds one hour", d.Timeout)
	}

	return res
}

func validateTrigger(d *Definition, res *ValidationResult) {
	t := d.Trigger
	if !t.Type.IsValid() {
		res.addError("/trigger/type", "enum", "unknown trigger type %q", t.Type)
		return
	}

	switch t.Type {
	case TriggerWebhook:
		if t.Event == "" {
			res.addError("/trigger/event", "required", "webhook triggers require an event tag")
		}
	case TriggerSchedule:
		if t.Schedule == "" {
			res.addError("/trigger/schedule", "required", "schedule triggers require a cron expression")
		} else if _, err := cronParser.Parse(t.Schedule); err != nil {
			res.addError("/trigger/schedule", "cron", "invalid cron expression %q: %v", t.Schedule, err)
		}
		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				res.addError("/trigger/timezone", "timezone", "unknown timezone %q", t.Timezone)
			}
		}
	}

	for i, f := range t.Filters {
		if !f.Operator.IsValid() {
			res.addError(fmt.Sprintf("/trigger/filters/%d/operator", i), "enum",
				"unknown operator %q", f.Operator)
		}
	}
}

func validateActions(d *Definition, res *ValidationResult) {
	if len(d.Actions) == 0 {
		res.addError("/actions", "required", "workflow requires at least one action")
		return
	}

	ids := make(map[string]int, len(d.Actions))
	for i, a := range d.Actions {
		path := fmt.Sprintf("/actions/%d", i)

		if a.Type == "" {
			res.addError(path+"/type", "required", "action type is required")
		} else if !KnownActionType(a.Type) {
			res.addError(path+"/type", "enum", "unknown action type %q", a.Type)
		}

		if a.ID != "" {
			if prev, dup := ids[a.ID]; dup {
				res.addError(path+"/id", "duplicate_id",
					"action id %q already used by action %d", a.ID, prev)
			}
			ids[a.ID] = i
		}

		if a.OnError != "" && !a.OnError.IsValid() {
			res.addError(path+"/on_error", "enum", "unknown error policy %q", a.OnError)
		}
		if a.Retry != nil {
			if a.Retry.MaxAttempts < 1 {
				res.addError(path+"/retry/max_attempts", "minimum", "max_attempts must be at least 1")
			}
			if a.Retry.Backoff != "" && !a.Retry.Backoff.IsValid() {
				res.addError(path+"/retry/backoff", "enum", "unknown backoff strategy %q", a.Retry.Backoff)
			}
		}

		validateConditions(path+"/conditions", a.Conditions, res)

		if len(a.DependsOn) > manyDependsOnThreshold {
			res.addWarning("action %q depends on %d actions", a.ID, len(a.DependsOn))
		}
	}

	validateDependencies(d, ids, res)
}

// validateDependencies checks that depends_on edges reference known ids,
// contain no self-dependency, and form no cycle.
func validateDependencies(d *Definition, ids map[string]int, res *ValidationResult) {
	for i, a := range d.Actions {
		path := fmt.Sprintf("/actions/%d/depends_on", i)
		for _, dep := range a.DependsOn {
			if dep == a.ID {
				res.addError(path, "self_dependency", "action %q depends on itself", a.ID)
				continue
			}
			if _, ok := ids[dep]; !ok {
				res.addError(path, "unknown_dependency",
					"action %q depends on unknown action %q", a.ID, dep)
			}
		}
	}
	if cycle := findCycle(d.Actions); cycle != "" {
		res.addError("/actions", "circular_dependency",
			"circular dependency involving action %q", cycle)
	}
}

// findCycle runs DFS with a recursion stack and returns an id on any cycle,
// or empty.
func findCycle(actions []ActionConfig) string {
	deps := make(map[string][]string, len(actions))
	for _, a := range actions {
		deps[a.ID] = a.DependsOn
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(actions))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch color[dep] {
			case grey:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, a := range actions {
		if color[a.ID] == white {
			if found := visit(a.ID); found != "" {
				return found
			}
		}
	}
	return ""
}

// validateConditions checks operator membership and warns on deep nesting.
func validateConditions(path string, g *condition.Group, res *ValidationResult) {
	if g == nil {
		return
	}
	depth := conditionDepth(g)
	if depth > deepConditionThreshold {
		res.addWarning("conditions at %s nest %d levels deep", path, depth)
	}
	checkGroup(path, g, res)
}

func checkGroup(path string, g *condition.Group, res *ValidationResult) {
	if g.Operator != condition.GroupAnd && g.Operator != condition.GroupOr && g.Operator != condition.GroupNot {
		res.addError(path+"/operator", "enum", "unknown group operator %q", g.Operator)
	}
	for i, n := range g.Rules {
		child := fmt.Sprintf("%s/rules/%d", path, i)
		switch {
		case n.Rule != nil:
			if !n.Rule.Operator.IsValid() {
				res.addError(child+"/operator", "enum", "unknown operator %q", n.Rule.Operator)
			}
		case n.Group != nil:
			checkGroup(child, n.Group, res)
		default:
			res.addError(child, "empty_node", "condition node has neither rule nor group")
		}
	}
}

func conditionDepth(g *condition.Group) int {
	max := 1
	for _, n := range g.Rules {
		if n.Group != nil {
			if d := 1 + conditionDepth(n.Group); d > max {
				max = d
			}
		}
	}
	return max
}
