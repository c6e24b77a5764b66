package history

import (
	"context"
	"sort"
	"time"
)

// Filter narrows Query and Aggregate results. Zero fields match everything.
type Filter struct {
	WorkflowName string
	Statuses     []Status
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

func (f Filter) matches(s *Snapshot) bool {
	if f.WorkflowName != "" && s.WorkflowName != f.WorkflowName {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if s.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Since.IsZero() && s.StartTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.StartTime.After(f.Until) {
		return false
	}
	return true
}

// ErrorCount is one entry of the most-frequent-errors list.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Aggregate summarizes a set of executions.
type Aggregate struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	SuccessRate     float64        `json:"success_rate"`
	AverageDuration time.Duration  `json:"average_duration"`
	TopErrors       []ErrorCount   `json:"top_errors"`
	PerHour         map[string]int `json:"per_hour"`
	PerDay          map[string]int `json:"per_day"`
}

// Store persists execution snapshots. Implementations must make Create and
// Update idempotent: the tracker re-applies them write-behind and treats
// failures as non-fatal.
type Store interface {
	Create(ctx context.Context, s *Snapshot) error
	Update(ctx context.Context, s *Snapshot) error
	Query(ctx context.Context, f Filter) ([]*Snapshot, error)
	Aggregate(ctx context.Context, f Filter) (*Aggregate, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// topErrorCount bounds the most-frequent-errors list.
const topErrorCount = 10

// aggregateSnapshots computes the Aggregate over a snapshot list. Shared by
// the memory and Postgres stores.
func aggregateSnapshots(snaps []*Snapshot) *Aggregate {
	agg := &Aggregate{
		ByStatus: make(map[Status]int),
		PerHour:  make(map[string]int),
		PerDay:   make(map[string]int),
	}

	errCounts := make(map[string]int)
	var completedDur time.Duration
	completed := 0

	for _, s := range snaps {
		agg.Total++
		agg.ByStatus[s.Status]++
		agg.PerHour[s.StartTime.UTC().Format("2006-01-02T15")]++
		agg.PerDay[s.StartTime.UTC().Format("2006-01-02")]++

		if s.Status == StatusCompleted {
			completed++
			completedDur += time.Duration(s.DurationMs) * time.Millisecond
		}
		if s.Error != "" {
			errCounts[s.Error]++
		}
	}

	if agg.Total > 0 {
		agg.SuccessRate = float64(completed) / float64(agg.Total)
	}
	if completed > 0 {
		agg.AverageDuration = completedDur / time.Duration(completed)
	}

	for e, n := range errCounts {
		agg.TopErrors = append(agg.TopErrors, ErrorCount{Error: e, Count: n})
	}
	sort.Slice(agg.TopErrors, func(i, j int) bool {
		if agg.TopErrors[i].Count != agg.TopErrors[j].Count {
			return agg.TopErrors[i].Count > agg.TopErrors[j].Count
		}
		return agg.TopErrors[i].Error < agg.TopErrors[j].Error
	})
	if len(agg.TopErrors) > topErrorCount {
		agg.TopErrors = agg.TopErrors[:topErrorCount]
	}
	return agg
}
