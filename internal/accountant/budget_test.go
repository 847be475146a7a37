package accountant

import (
	"testing"
	"time"

	"github.com/caxton-io/caxton/internal/caxton"
	"github.com/stretchr/testify/require"
)

func TestBudgetTrackerRecordAndRelease(t *testing.T) {
	tr := newBudgetTracker(Budget{
		MaxActiveAgents:    10,
		MaxAggregateMemory: 1 << 30,
		MaxAggregateFuel:   1 << 30,
		Window:             time.Minute,
	})
	id := caxton.NewID()

	tr.record(id, 100, 10)
	require.Equal(t, uint64(100), tr.aggMemory)
	require.Equal(t, uint64(10), tr.aggFuel)

	tr.record(id, 150, 20)
	require.Equal(t, uint64(150), tr.aggMemory)
	require.Equal(t, uint64(20), tr.aggFuel)

	tr.release(id)
	require.Zero(t, tr.aggMemory)
	require.Zero(t, tr.aggFuel)
}

func TestBudgetTrackerResetsOnWindowExpiry(t *testing.T) {
	tr := newBudgetTracker(Budget{MaxActiveAgents: 10, Window: time.Millisecond})
	id := caxton.NewID()
	tr.record(id, 500, 50)
	require.Equal(t, uint64(500), tr.aggMemory)

	time.Sleep(5 * time.Millisecond)
	tr.resetIfNeeded()

	require.Zero(t, tr.aggMemory)
	require.Empty(t, tr.perAgent)
}

func TestBudgetTrackerAdmitRejectsAggregateMemory(t *testing.T) {
	tr := newBudgetTracker(Budget{
		MaxActiveAgents:    10,
		MaxAggregateMemory: 1000,
		MaxAggregateFuel:   1 << 30,
		Window:             time.Minute,
	})

	err := tr.admit(1, 2000, 0, nil)
	require.Error(t, err)
}

func TestBudgetTrackerAdmitRejectsAggregateFuel(t *testing.T) {
	tr := newBudgetTracker(Budget{
		MaxActiveAgents:    10,
		MaxAggregateMemory: 1 << 30,
		MaxAggregateFuel:   100,
		Window:             time.Minute,
	})

	err := tr.admit(1, 0, 200, nil)
	require.Error(t, err)
}

func TestBudgetTrackerAdmitAllowsWithinCaps(t *testing.T) {
	tr := newBudgetTracker(DefaultBudget())
	require.NoError(t, tr.admit(1, 1024, 100, nil))
}

func TestBudgetTrackerCrossedWarning(t *testing.T) {
	tr := newBudgetTracker(Budget{
		MaxActiveAgents:    10,
		Window:             time.Minute,
		WarnThreshold:      0.5,
		PerAgentMemorySoft: 1000,
		PerAgentFuelSoft:   1000,
	})

	crossed, resource := tr.crossedWarning(caxton.NewID(), 600, 100)
	require.True(t, crossed)
	require.Equal(t, "memory", resource)

	crossed, _ = tr.crossedWarning(caxton.NewID(), 100, 100)
	require.False(t, crossed)
}

func TestDefaultBudgetIsPositive(t *testing.T) {
	b := DefaultBudget()
	require.Positive(t, b.MaxActiveAgents)
	require.Positive(t, b.MaxAggregateMemory)
	require.Positive(t, b.MaxAggregateFuel)
}
