// Package retry decides whether failed actions may try again and how long
// to wait. Decisions are pure given the policy and the circuit breaker
// snapshot; only recording mutates state.
package retry

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hookflow/hookflow/workflow"
)

// Delay bounds.
const (
	// MinDelay is the floor applied after jitter.
	MinDelay = 100 * time.Millisecond
	// MaxDelay is the ceiling; a computed delay beyond it denies the retry.
	MaxDelay = 5 * time.Minute
)

// Circuit breaker tuning: failures per action type are counted over a
// rolling interval and trip the breaker at the threshold.
const (
	breakerInterval  = 5 * time.Minute
	breakerThreshold = 5
)

// jitterFraction is the additive jitter applied to exponential backoff.
const jitterFraction = 0.25

// Decision is the outcome of consulting the manager after a failure.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Manager tracks per-action-type circuit breakers, per-execution retry
// history, and aggregate statistics.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	history  map[string][]Attempt
	stats    statsAccumulator

	// rand is replaceable in tests.
	rand func() float64
}

// Attempt is one recorded retry of an action within an execution.
type Attempt struct {
	ActionID   string
	ActionType string
	Attempt    int
	Delay      time.Duration
	Error      string
	At         time.Time
}

// NewManager creates a retry manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		history:  make(map[string][]Attempt),
		rand:     rand.Float64,
	}
}

// Decide reports whether an action that has already made `attempts`
// executor invocations may try again, and the delay before the next one.
func (m *Manager) Decide(policy *workflow.RetryPolicy, actionType, errKind string, attempts int) Decision {
	if policy == nil {
		return Decision{Reason: "no retry policy"}
	}
	if attempts >= policy.MaxAttempts {
		return Decision{Reason: "max attempts reached"}
	}
	if len(policy.RetryOn) > 0 && !contains(policy.RetryOn, errKind) {
		return Decision{Reason: "error kind " + errKind + " not retryable"}
	}
	if m.breakerFor(actionType).State() == gobreaker.StateOpen {
		return Decision{Reason: "circuit breaker open for " + actionType}
	}

	delay := m.computeDelay(policy, attempts)
	if delay > MaxDelay {
		return Decision{Reason: "computed delay exceeds ceiling"}
	}
	if delay < MinDelay {
		delay = MinDelay
	}
	return Decision{Retry: true, Delay: delay}
}

// computeDelay applies the backoff strategy. attempts is 1-based: the first
// failure computes the delay before the second invocation.
func (m *Manager) computeDelay(policy *workflow.RetryPolicy, attempts int) time.Duration {
	base := time.Duration(policy.Delay * float64(time.Second))

	switch policy.Backoff {
	case workflow.BackoffLinear:
		return base * time.Duration(attempts)
	case workflow.BackoffExponential:
		d := base << uint(attempts-1)
		jitter := (m.rand()*2 - 1) * jitterFraction * float64(d)
		return d + time.Duration(jitter)
	default:
		return base
	}
}

// RecordFailure appends to the execution's retry history, updates the
// statistics, and feeds the action type's circuit breaker.
func (m *Manager) RecordFailure(executionID, actionID, actionType string, attempts int, delay time.Duration, actionErr error) {
	errText := ""
	if actionErr != nil {
		errText = actionErr.Error()
	}

	m.mu.Lock()
	m.history[executionID] = append(m.history[executionID], Attempt{
		ActionID:   actionID,
		ActionType: actionType,
		Attempt:    attempts,
		Delay:      delay,
		Error:      errText,
		At:         time.Now(),
	})
	m.stats.recordRetry(actionType, delay)
	m.mu.Unlock()

	m.recordBreaker(actionType, false)
}

// RecordSuccess marks an action completion. A completion after earlier
// retries of the same action in the same execution counts as a retry
// success.
func (m *Manager) RecordSuccess(executionID, actionID, actionType string) {
	m.mu.Lock()
	for _, a := range m.history[executionID] {
		if a.ActionID == actionID {
			m.stats.recordSuccess()
			break
		}
	}
	m.mu.Unlock()

	m.recordBreaker(actionType, true)
}

// History returns the execution's recorded attempts in order.
func (m *Manager) History(executionID string) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.history[executionID]...)
}

// ClearExecution drops per-execution history once the execution finishes.
func (m *Manager) ClearExecution(executionID string) {
	m.mu.Lock()
	delete(m.history, executionID)
	m.mu.Unlock()
}

func (m *Manager) recordBreaker(actionType string, success bool) {
	cb := m.breakerFor(actionType)
	done, err := cb.Allow()
	if err != nil {
		// Open breaker: nothing to record, Decide already denies.
		return
	}
	done(success)
}

func (m *Manager) breakerFor(actionType string) *gobreaker.TwoStepCircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[actionType]
	if !ok {
		logger := m.logger
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:     actionType,
			Interval: breakerInterval,
			Timeout:  breakerInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.TotalFailures >= breakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"action_type", name, "from", from.String(), "to", to.String())
			},
		})
		m.breakers[actionType] = cb
	}
	return cb
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
