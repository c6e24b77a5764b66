package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookflow/hookflow/condition"
)

func minimalDefinition() *Definition {
	return &Definition{
		Name:    "pr-notify",
		Version: "1.0.0",
		Enabled: true,
		Trigger: Trigger{Type: TriggerWebhook, Event: "pull_request.opened"},
		Actions: []ActionConfig{
			{ID: "notify", Type: "slack_message", Parameters: map[string]any{"channel": "#eng"}},
		},
	}
}

func TestValidateMinimal(t *testing.T) {
	res := Validate(minimalDefinition())
	assert.True(t, res.Valid())
	assert.Empty(t, res.Errors)
}

func hasErrorCode(res *ValidationResult, code string) bool {
	for _, e := range res.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestValidateVersionPattern(t *testing.T) {
	d := minimalDefinition()
	d.Version = "v1"
	res := Validate(d)
	assert.False(t, res.Valid())
	assert.True(t, hasErrorCode(res, "pattern"))
}

func TestValidateUnknownActionType(t *testing.T) {
	d := minimalDefinition()
	d.Actions[0].Type = "teleport"
	res := Validate(d)
	assert.True(t, hasErrorCode(res, "enum"))

	// Namespaced provider actions pass.
	d.Actions[0].Type = "github_create_comment"
	assert.True(t, Validate(d).Valid())
}

func TestValidateDuplicateID(t *testing.T) {
	d := minimalDefinition()
	d.Actions = append(d.Actions, ActionConfig{ID: "notify", Type: "delay"})
	res := Validate(d)
	assert.True(t, hasErrorCode(res, "duplicate_id"))
}

func TestValidateUnknownDependency(t *testing.T) {
	d := minimalDefinition()
	d.Actions[0].DependsOn = []string{"ghost"}
	res := Validate(d)
	assert.True(t, hasErrorCode(res, "unknown_dependency"))
}

func TestValidateSelfDependency(t *testing.T) {
	d := minimalDefinition()
	d.Actions[0].DependsOn = []string{"notify"}
	res := Validate(d)
	assert.True(t, hasErrorCode(res, "self_dependency"))
}

func TestValidateCycle(t *testing.T) {
	d := minimalDefinition()
	d.Actions = []ActionConfig{
		{ID: "x", Type: "delay", DependsOn: []string{"y"}},
		{ID: "y", Type: "delay", DependsOn: []string{"x"}},
	}
	res := Validate(d)
	require.True(t, hasErrorCode(res, "circular_dependency"))

	var msg string
	for _, e := range res.Errors {
		if e.Code == "circular_dependency" {
			msg = e.Message
		}
	}
	assert.True(t, strings.Contains(msg, `"x"`) || strings.Contains(msg, `"y"`),
		"cycle error should name an involved action: %s", msg)
}

func TestValidateScheduleTrigger(t *testing.T) {
	d := minimalDefinition()
	d.Trigger = Trigger{Type: TriggerSchedule, Schedule: "*/5 * * * *", Timezone: "Europe/Berlin"}
	assert.True(t, Validate(d).Valid())

	d.Trigger.Schedule = "not a cron"
	assert.True(t, hasErrorCode(Validate(d), "cron"))

	d.Trigger.Schedule = "@hourly"
	d.Trigger.Timezone = "Mars/Olympus"
	assert.True(t, hasErrorCode(Validate(d), "timezone"))
}

func TestValidateWebhookRequiresEvent(t *testing.T) {
	d := minimalDefinition()
	d.Trigger.Event = ""
	assert.True(t, hasErrorCode(Validate(d), "required"))
}

func TestValidateRetryPolicy(t *testing.T) {
	d := minimalDefinition()
	d.Actions[0].Retry = &RetryPolicy{MaxAttempts: 0, Backoff: "quadratic"}
	res := Validate(d)
	assert.True(t, hasErrorCode(res, "minimum"))
	assert.True(t, hasErrorCode(res, "enum"))
}

func TestValidateWarnings(t *testing.T) {
	d := minimalDefinition()
	d.Timeout = 7200

	// 21 actions, deep conditions, many deps.
	d.Actions = nil
	for i := 0; i < 21; i++ {
		d.Actions = append(d.Actions, ActionConfig{Type: "delay"})
	}
	d.EnsureActionIDs()
	d.Actions[20].DependsOn = []string{
		"action_1", "action_2", "action_3", "action_4", "action_5", "action_6",
	}
	d.Conditions = &condition.Group{
		Operator: condition.GroupAnd,
		Rules: []condition.Node{condition.GroupNode(condition.GroupOr,
			condition.GroupNode(condition.GroupAnd,
				condition.GroupNode(condition.GroupNot,
					condition.RuleNode("a", condition.OpExists, nil)),
			),
		)},
	}

	res := Validate(d)
	assert.True(t, res.Valid(), "warnings never block")
	assert.GreaterOrEqual(t, len(res.Warnings), 4)
}

func TestEnsureActionIDs(t *testing.T) {
	d := &Definition{Actions: []ActionConfig{
		{Type: "delay"},
		{ID: "named", Type: "delay"},
		{Type: "delay"},
	}}
	d.EnsureActionIDs()
	assert.Equal(t, "action_1", d.Actions[0].ID)
	assert.Equal(t, "named", d.Actions[1].ID)
	assert.Equal(t, "action_3", d.Actions[2].ID)
}
