// Package dag validates action dependency graphs and arranges actions into
// parallel execution stages.
package dag

import (
	"errors"
	"fmt"

	"github.com/hookflow/hookflow/workflow"
)

// Sentinel errors for graph validation.
var (
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrSelfDependency     = errors.New("self dependency")
	ErrCircularDependency = errors.New("circular dependency")
)

// Plan is an ordered sequence of stages. Every action's dependencies live
// in strictly earlier stages; actions within a stage may run in parallel.
type Plan struct {
	Stages [][]workflow.ActionConfig
}

// StageCount returns the number of stages.
func (p *Plan) StageCount() int { return len(p.Stages) }

// ActionCount returns the total number of planned actions.
func (p *Plan) ActionCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s)
	}
	return n
}

// BuildPlan layers actions by dependency level: level 0 for actions with no
// dependencies, otherwise 1 + the maximum level among dependencies. Unknown
// dependencies, self dependencies, and cycles are fatal; no partial plan is
// returned.
func BuildPlan(actions []workflow.ActionConfig) (*Plan, error) {
	if len(actions) == 0 {
		return &Plan{}, nil
	}

	byID := make(map[string]*workflow.ActionConfig, len(actions))
	for i := range actions {
		byID[actions[i].ID] = &actions[i]
	}

	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if dep == a.ID {
				return nil, fmt.Errorf("%w: action %q depends on itself", ErrSelfDependency, a.ID)
			}
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: action %q depends on %q", ErrUnknownDependency, a.ID, dep)
			}
		}
	}

	if id := findCycle(actions, byID); id != "" {
		return nil, fmt.Errorf("%w involving action %q", ErrCircularDependency, id)
	}

	levels := make(map[string]int, len(actions))
	var levelOf func(a *workflow.ActionConfig) int
	levelOf = func(a *workflow.ActionConfig) int {
		if lvl, ok := levels[a.ID]; ok {
			return lvl
		}
		lvl := 0
		for _, dep := range a.DependsOn {
			if d := levelOf(byID[dep]) + 1; d > lvl {
				lvl = d
			}
		}
		levels[a.ID] = lvl
		return lvl
	}

	maxLevel := 0
	for i := range actions {
		if lvl := levelOf(&actions[i]); lvl > maxLevel {
			maxLevel = lvl
		}
	}

	stages := make([][]workflow.ActionConfig, maxLevel+1)
	for _, a := range actions {
		lvl := levels[a.ID]
		stages[lvl] = append(stages[lvl], a)
	}
	return &Plan{Stages: stages}, nil
}

// findCycle runs DFS with a recursion stack, returning an id on any cycle.
func findCycle(actions []workflow.ActionConfig, byID map[string]*workflow.ActionConfig) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(actions))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, dep := range byID[id].DependsOn {
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
