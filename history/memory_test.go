package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		status := StatusCompleted
		errText := ""
		if i%3 == 0 {
			status = StatusFailed
			errText = "connection refused"
		}
		require.NoError(t, store.Create(context.Background(), &Snapshot{
			ExecutionID:  fmt.Sprintf("exec-%d", i),
			WorkflowName: map[bool]string{true: "alpha", false: "beta"}[i%2 == 0],
			Status:       status,
			StartTime:    base.Add(time.Duration(i) * time.Hour),
			DurationMs:   int64(100 * (i + 1)),
			Error:        errText,
		}))
	}
	return store
}

func TestMemoryQueryFilters(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 10)
	// Newest first.
	assert.Equal(t, "exec-9", all[0].ExecutionID)

	alpha, err := store.Query(ctx, Filter{WorkflowName: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alpha, 5)

	failed, err := store.Query(ctx, Filter{Statuses: []Status{StatusFailed}})
	require.NoError(t, err)
	assert.Len(t, failed, 4)

	windowed, err := store.Query(ctx, Filter{
		Since: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Until: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, windowed, 4)

	paged, err := store.Query(ctx, Filter{Limit: 3, Offset: 8})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestMemoryAggregate(t *testing.T) {
	store := seedStore(t)
	agg, err := store.Aggregate(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 10, agg.Total)
	assert.Equal(t, 6, agg.ByStatus[StatusCompleted])
	assert.Equal(t, 4, agg.ByStatus[StatusFailed])
	assert.InDelta(t, 0.6, agg.SuccessRate, 1e-9)
	require.Len(t, agg.TopErrors, 1)
	assert.Equal(t, ErrorCount{Error: "connection refused", Count: 4}, agg.TopErrors[0])
	assert.Equal(t, 10, len(agg.PerHour))
	assert.Equal(t, 1, len(agg.PerDay))

	// Average duration covers completed executions only.
	var want time.Duration
	for _, i := range []int{1, 2, 4, 5, 7, 8} {
		want += time.Duration(100*(i+1)) * time.Millisecond
	}
	assert.Equal(t, want/6, agg.AverageDuration)
}

func TestMemoryDeleteOlderThan(t *testing.T) {
	store := seedStore(t)
	n, err := store.DeleteOlderThan(context.Background(),
		time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	left, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, left, 5)
}
