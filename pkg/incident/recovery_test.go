package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePlanValidation(t *testing.T) {
	m := NewRecoveryManager().WithClock(fixedClock())

	_, err := m.CreatePlan("", []string{"restore db"})
	require.Error(t, err)
	_, err = m.CreatePlan("inc_1", nil)
	require.Error(t, err, "no steps")
	_, err = m.CreatePlan("inc_1", []string{"", ""})
	require.Error(t, err, "blank steps only")

	plan, err := m.CreatePlan("inc_1", []string{"restore db", "rotate creds", "restore db"})
	require.NoError(t, err)
	assert.Equal(t, []string{"restore db", "rotate creds"}, plan.Steps)
	assert.Equal(t, fixedClock()(), plan.CreatedAt)

	got, err := m.Plan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	_, err = m.Plan("rcp_missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestExecuteRecoveryCheckpointsFirst(t *testing.T) {
	m := NewRecoveryManager().WithClock(fixedClock())
	plan, err := m.CreatePlan("inc_1", []string{"restore db from backup"})
	require.NoError(t, err)

	_, err = m.ExecuteRecovery(plan.ID, "")
	require.Error(t, err, "empty description")
	_, err = m.ExecuteRecovery("rcp_missing", "restore db from backup")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	action, err := m.ExecuteRecovery(plan.ID, "restore db from backup")
	require.NoError(t, err)
	assert.Equal(t, "completed", action.Status)
	require.NotEmpty(t, action.CheckpointID)

	cp, err := m.Checkpoint(action.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, "created", cp.Status)
	assert.Equal(t, "pre: restore db from backup", cp.Label)
	assert.Equal(t, plan.ID, cp.PlanID)
	assert.Equal(t, "inc_1", cp.IncidentID)
	assert.True(t, cp.CreatedAt.Equal(action.ExecutedAt))

	_, err = m.Checkpoint("cp_missing")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestRollbackRestoresCheckpoint(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewRecoveryManager().WithClock(func() time.Time { return now })
	plan, err := m.CreatePlan("inc_1", []string{"rebuild web tier"})
	require.NoError(t, err)
	action, err := m.ExecuteRecovery(plan.ID, "rebuild web tier")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	action, err = m.Rollback(action.ID)
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", action.Status)

	cp, err := m.Checkpoint(action.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, "restored", cp.Status)
	require.NotNil(t, cp.RestoredAt)
	assert.True(t, cp.RestoredAt.Equal(now))

	_, err = m.Rollback(action.ID)
	require.Error(t, err, "double rollback")
	_, err = m.Rollback("ra_missing")
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestVerifyRecovery(t *testing.T) {
	m := NewRecoveryManager().WithClock(fixedClock())
	plan, err := m.CreatePlan("inc_1", []string{"restore db"})
	require.NoError(t, err)

	_, err = m.VerifyRecovery(plan.ID, nil)
	require.Error(t, err, "no checks")
	_, err = m.VerifyRecovery("rcp_missing", []string{"db reachable"})
	assert.ErrorIs(t, err, ErrPlanNotFound)

	v, err := m.VerifyRecovery(plan.ID, []string{"db reachable", "latency nominal", "db reachable"})
	require.NoError(t, err)
	assert.True(t, v.AllPassed)
	assert.Equal(t, map[string]bool{"db reachable": true, "latency nominal": true}, v.Results)
	assert.Equal(t, fixedClock()(), v.VerifiedAt)
}

func TestRecoveryStats(t *testing.T) {
	m := NewRecoveryManager().WithClock(fixedClock())
	plan, err := m.CreatePlan("inc_1", []string{"a", "b"})
	require.NoError(t, err)
	other, err := m.CreatePlan("inc_2", []string{"c"})
	require.NoError(t, err)

	first, err := m.ExecuteRecovery(plan.ID, "a")
	require.NoError(t, err)
	_, err = m.ExecuteRecovery(plan.ID, "b")
	require.NoError(t, err)
	_, err = m.ExecuteRecovery(other.ID, "c")
	require.NoError(t, err)
	_, err = m.Rollback(first.ID)
	require.NoError(t, err)
	_, err = m.VerifyRecovery(plan.ID, []string{"db reachable"})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"plans":         2,
		"actions":       3,
		"checkpoints":   3,
		"rolled_back":   1,
		"verifications": 1,
	}, m.Stats())

	actions := m.ActionsFor(plan.ID)
	require.Len(t, actions, 2)
	assert.Equal(t, "a", actions[0].Description)
	assert.Equal(t, "b", actions[1].Description)
	assert.Empty(t, m.ActionsFor("rcp_missing"))
}
