// Package workflow defines workflow documents: the trigger, condition, and
// action structure that the engine executes, plus validation, the registry,
// and file loading.
package workflow

import (
	"fmt"
	"strings"

	"github.com/hookflow/hookflow/condition"
)

// TriggerType identifies how a workflow is started.
type TriggerType string

// Trigger types.
const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerManual   TriggerType = "manual"
	TriggerAPI      TriggerType = "api"
)

// IsValid returns true for a known trigger type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerWebhook, TriggerSchedule, TriggerManual, TriggerAPI:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t TriggerType) String() string { return string(t) }

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

// Backoff strategies.
const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// IsValid returns true for a known backoff strategy.
func (b BackoffStrategy) IsValid() bool {
	switch b {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (b BackoffStrategy) String() string { return string(b) }

// OnError selects the error policy for an action or a whole workflow.
type OnError string

// Error policies.
const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
	OnErrorRollback OnError = "rollback"
	OnErrorEscalate OnError = "escalate"
)

// IsValid returns true for a known error policy.
func (o OnError) IsValid() bool {
	switch o {
	case OnErrorStop, OnErrorContinue, OnErrorRetry, OnErrorRollback, OnErrorEscalate:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (o OnError) String() string { return string(o) }

// Trigger declares what starts a workflow.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type"`

	// Event is the event tag the trigger matches, e.g. "pull_request.opened".
	Event string `json:"event,omitempty" yaml:"event,omitempty"`

	// Repository is an optional glob restricting which repositories match,
	// e.g. "octo/*" or "octo/{api,web}".
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`

	// Filters are additional per-field predicates evaluated against the
	// event payload. All filters must pass for the trigger to match.
	Filters []condition.Rule `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Schedule is a cron expression, required when Type is schedule.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Timezone is an IANA zone name for schedule evaluation.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// RetryPolicy controls per-action retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the total number of executor invocations allowed.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Delay is the base delay in seconds.
	Delay float64 `json:"delay" yaml:"delay"`

	Backoff BackoffStrategy `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// RetryOn restricts retries to the listed error kinds. Empty means
	// retry any error.
	RetryOn []string `json:"retry_on,omitempty" yaml:"retry_on,omitempty"`
}

// ActionConfig is one node in the workflow DAG.
type ActionConfig struct {
	// ID is a stable identifier unique within the workflow. Generated when
	// absent.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	Type string `json:"type" yaml:"type"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Parameters may contain {{...}} template tags in any string value.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Conditions gate the action; false or an evaluation error skips it.
	Conditions *condition.Group `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Timeout in seconds for a single executor invocation.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Retry   *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	OnError OnError      `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	// RunAsync actions in the same stage run concurrently with one another.
	RunAsync bool `json:"run_async,omitempty" yaml:"run_async,omitempty"`

	// DependsOn lists ids of actions that must finish first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ErrorHandling is the workflow-level error policy.
type ErrorHandling struct {
	// OnFailure stop marks the execution failed when any action fails.
	OnFailure OnError `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// NotifyChannels lists event subjects notified on failure.
	NotifyChannels []string `json:"notify_channels,omitempty" yaml:"notify_channels,omitempty"`
}

// Definition is a complete workflow document. Definitions are immutable once
// registered; the registry hands out copies.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`

	Trigger    Trigger          `json:"trigger" yaml:"trigger"`
	Conditions *condition.Group `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []ActionConfig   `json:"actions" yaml:"actions"`

	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`

	// Timeout is the total execution budget in seconds. Zero uses the
	// engine default.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Builtin action types the engine executes directly.
var builtinActionTypes = map[string]bool{
	"delay":        true,
	"conditional":  true,
	"loop":         true,
	"http_request": true,
	"audit_log":    true,
}

// Provider action namespaces accepted at validation time. Actions in these
// families pass through to whatever executor is registered for them.
var actionNamespaces = []string{
	"github_", "slack_", "jira_", "email_", "discord_", "teams_",
}

// KnownActionType reports whether a type tag is a builtin or belongs to an
// accepted provider namespace.
func KnownActionType(t string) bool {
	if builtinActionTypes[t] {
		return true
	}
	for _, prefix := range actionNamespaces {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// EnsureActionIDs fills in generated ids for actions that lack one. IDs are
// positional so repeated loads of the same document agree.
func (d *Definition) EnsureActionIDs() {
	for i := range d.Actions {
		if d.Actions[i].ID == "" {
			d.Actions[i].ID = fmt.Sprintf("action_%d", i+1)
		}
	}
}

// Action returns the action with the given id, or nil.
func (d *Definition) Action(id string) *ActionConfig {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the definition. The registry returns clones
// so callers cannot mutate registered documents.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Actions = make([]ActionConfig, len(d.Actions))
	copy(out.Actions, d.Actions)
	for i := range out.Actions {
		out.Actions[i].DependsOn = append([]string(nil), d.Actions[i].DependsOn...)
		out.Actions[i].Parameters = cloneMap(d.Actions[i].Parameters)
		if d.Actions[i].Retry != nil {
			r := *d.Actions[i].Retry
			r.RetryOn = append([]string(nil), d.Actions[i].Retry.RetryOn...)
			out.Actions[i].Retry = &r
		}
	}
	out.Trigger.Filters = append([]condition.Rule(nil), d.Trigger.Filters...)
	if d.ErrorHandling != nil {
		eh := *d.ErrorHandling
		eh.NotifyChannels = append([]string(nil), d.ErrorHandling.NotifyChannels...)
		out.ErrorHandling = &eh
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneMap(t)
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				if em, ok := e.(map[string]any); ok {
					s[i] = cloneMap(em)
				} else {
					s[i] = e
				}
			}
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
