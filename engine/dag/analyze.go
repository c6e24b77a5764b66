package dag

import (
	"fmt"

	"github.com/hookflow/hookflow/workflow"
)

// Analysis summarizes the shape of a dependency graph.
type Analysis struct {
	ActionCount     int     `json:"action_count"`
	DependencyCount int     `json:"dependency_count"`
	StageCount      int     `json:"stage_count"`
	LongestChain    int     `json:"longest_chain"`
	// ParallelizationRatio is actions per stage; 1.0 means fully serial.
	ParallelizationRatio float64 `json:"parallelization_ratio"`
}

// Analyze builds the plan and reports complexity figures. The longest chain
// equals the stage count: each stage extends the deepest dependency path by
// exactly one action.
func Analyze(actions []workflow.ActionConfig) (*Analysis, error) {
	plan, err := BuildPlan(actions)
	if err != nil {
		return nil, err
	}

	deps := 0
	for _, a := range actions {
		deps += len(a.DependsOn)
	}

	analysis := &Analysis{
		ActionCount:     len(actions),
		DependencyCount: deps,
		StageCount:      plan.StageCount(),
		LongestChain:    plan.StageCount(),
	}
	if analysis.StageCount > 0 {
		analysis.ParallelizationRatio = float64(analysis.ActionCount) / float64(analysis.StageCount)
	}
	return analysis, nil
}

// manyDependsOnThreshold triggers a fan-in warning.
const manyDependsOnThreshold = 5

// ValidateGraph reports blocking graph errors and non-blocking warnings
// without building a plan.
func ValidateGraph(actions []workflow.ActionConfig) (errs []error, warnings []string) {
	byID := make(map[string]*workflow.ActionConfig, len(actions))
	for i := range actions {
		byID[actions[i].ID] = &actions[i]
	}

	for _, a := range actions {
		for _, dep := range a.DependsOn {
			switch {
			case dep == a.ID:
				errs = append(errs, fmt.Errorf("%w: action %q depends on itself", ErrSelfDependency, a.ID))
			default:
				if _, ok := byID[dep]; !ok {
					errs = append(errs, fmt.Errorf("%w: action %q depends on %q", ErrUnknownDependency, a.ID, dep))
				}
			}
		}
		if len(a.DependsOn) > manyDependsOnThreshold {
			warnings = append(warnings, fmt.Sprintf("action %q has %d dependencies", a.ID, len(a.DependsOn)))
		}
	}

	// Cycle detection only makes sense once every edge resolves.
	if len(errs) == 0 {
		if id := findCycle(actions, byID); id != "" {
			errs = append(errs, fmt.Errorf("%w involving action %q", ErrCircularDependency, id))
		}
	}
	return errs, warnings
}
