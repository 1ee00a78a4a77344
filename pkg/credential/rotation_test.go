package credential

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRotationPolicyValidation(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())

	_, err := sched.AddPolicy("", RotateTimeBased, 90, 0)
	require.Error(t, err, "empty name")

	_, err = sched.AddPolicy("quarterly", RotationStrategy("lunar"), 90, 0)
	require.Error(t, err, "invalid strategy")

	_, err = sched.AddPolicy("quarterly", RotateTimeBased, 0, 0)
	require.Error(t, err, "time based without interval")

	_, err = sched.AddPolicy("hot-keys", RotateUsageBased, 0, 0)
	require.Error(t, err, "usage based without ceiling")

	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)
	assert.Equal(t, RotateTimeBased, policy.Strategy)
	assert.Equal(t, 90, policy.IntervalDays)

	got, err := sched.Policy(policy.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.ID, got.ID)

	_, err = sched.Policy("rpo_missing")
	require.ErrorIs(t, err, ErrRotationPolicyNotFound)
}

func TestScheduleKeyRequiresInventoryKey(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())
	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)

	_, err = sched.ScheduleKey("ki_missing", policy.ID)
	require.ErrorIs(t, err, ErrKeyNotFound)

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)

	_, err = sched.ScheduleKey(key.ID, "rpo_missing")
	require.ErrorIs(t, err, ErrRotationPolicyNotFound)

	schedule, err := sched.ScheduleKey(key.ID, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleScheduled, schedule.Status)
	require.NotNil(t, schedule.NextDue)
	assert.Equal(t, fixedClock()().AddDate(0, 0, 90), *schedule.NextDue)

	manual, err := sched.AddPolicy("on-demand", RotateManual, 0, 0)
	require.NoError(t, err)
	manualSchedule, err := sched.ScheduleKey(key.ID, manual.ID)
	require.NoError(t, err)
	assert.Nil(t, manualSchedule.NextDue)
}

func TestExecuteRotationFlow(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())
	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)
	oldPrefix := key.MaterialPrefix
	schedule, err := sched.ScheduleKey(key.ID, policy.ID)
	require.NoError(t, err)

	var order []string
	sched.AddPreHook("drain", func(k *Key) error {
		order = append(order, "drain")
		return nil
	})
	sched.AddPreHook("snapshot", func(k *Key) error {
		order = append(order, "snapshot")
		return fmt.Errorf("snapshot store unreachable")
	})
	sched.AddPostHook("notify", func(k *Key) error {
		order = append(order, "notify")
		return fmt.Errorf("webhook timed out")
	})

	rotation, err := sched.ExecuteRotation(schedule.ID)
	require.NoError(t, err, "hook failures must not abort the rotation")

	assert.Equal(t, []string{"drain", "snapshot", "notify"}, order)
	assert.Equal(t, "completed", rotation.Status)
	assert.Equal(t, oldPrefix, rotation.OldPrefix)
	assert.NotEqual(t, oldPrefix, rotation.NewPrefix)
	require.Len(t, rotation.HookErrors, 2)
	assert.Contains(t, rotation.HookErrors[0], "pre snapshot")
	assert.Contains(t, rotation.HookErrors[1], "post notify")

	rotated, err := inv.Key(key.ID)
	require.NoError(t, err)
	assert.Equal(t, KeyActive, rotated.Status)
	assert.Equal(t, rotation.NewPrefix, rotated.MaterialPrefix)

	after, err := sched.Schedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCompleted, after.Status)
	require.NotNil(t, after.LastRotated)
	assert.Equal(t, 1, after.RotationCount)
	require.NotNil(t, after.NextDue)
	assert.Equal(t, fixedClock()().AddDate(0, 0, 90), *after.NextDue)

	history := sched.Rotations(key.ID)
	require.Len(t, history, 1)
	assert.Equal(t, rotation.ID, history[0].ID)

	// Completed schedules keep recurring.
	_, err = sched.ExecuteRotation(schedule.ID)
	require.NoError(t, err)
	assert.Len(t, sched.Rotations(key.ID), 2)
}

func TestRotationRefusesRevokedKey(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())
	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)
	schedule, err := sched.ScheduleKey(key.ID, policy.ID)
	require.NoError(t, err)

	require.NoError(t, inv.SetStatus(key.ID, KeyRevoked))

	_, err = sched.ExecuteRotation(schedule.ID)
	require.ErrorIs(t, err, ErrKeyRevoked)
	assert.Empty(t, sched.Rotations(key.ID))
}

func TestPausedAndCancelledSchedules(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())
	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)
	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)
	schedule, err := sched.ScheduleKey(key.ID, policy.ID)
	require.NoError(t, err)

	require.NoError(t, sched.SetScheduleStatus(schedule.ID, SchedulePaused))
	_, err = sched.ExecuteRotation(schedule.ID)
	require.Error(t, err, "paused schedules must not rotate")
	assert.Empty(t, sched.CheckDueRotations())

	require.NoError(t, sched.SetScheduleStatus(schedule.ID, ScheduleScheduled))
	_, err = sched.ExecuteRotation(schedule.ID)
	require.NoError(t, err)

	require.NoError(t, sched.SetScheduleStatus(schedule.ID, ScheduleCancelled))
	err = sched.SetScheduleStatus(schedule.ID, ScheduleScheduled)
	require.Error(t, err, "cancelled is terminal")
	_, err = sched.ExecuteRotation(schedule.ID)
	require.Error(t, err)

	require.Error(t, sched.SetScheduleStatus(schedule.ID, ScheduleStatus("archived")))
	require.ErrorIs(t, sched.SetScheduleStatus("rs_missing", SchedulePaused), ErrScheduleNotFound)
}

func TestCheckDueRotations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	inv := NewKeyInventory().WithClock(clock)
	sched := NewRotationScheduler(inv).WithClock(clock)

	timed, err := sched.AddPolicy("ten-day", RotateTimeBased, 10, 0)
	require.NoError(t, err)
	usage, err := sched.AddPolicy("burst", RotateUsageBased, 0, 3)
	require.NoError(t, err)

	timedKey, err := inv.RegisterKey("timed", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)
	usageKey, err := inv.RegisterKey("busy", KeyTypeAPIKey, "bob", "search", nil, 0)
	require.NoError(t, err)

	_, err = sched.ScheduleKey(timedKey.ID, timed.ID)
	require.NoError(t, err)
	_, err = sched.ScheduleKey(usageKey.ID, usage.ID)
	require.NoError(t, err)

	assert.Empty(t, sched.CheckDueRotations(), "ten days out is not due yet")

	now = now.AddDate(0, 0, 4)
	due := sched.CheckDueRotations()
	require.Len(t, due, 1)
	assert.Equal(t, timedKey.ID, due[0].KeyID)
	assert.Equal(t, 6, due[0].DaysLeft)
	assert.False(t, due[0].Urgent)

	now = now.Add(3*24*time.Hour + 12*time.Hour)
	due = sched.CheckDueRotations()
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].DaysLeft)
	assert.True(t, due[0].Urgent)

	// A breached usage ceiling is due immediately.
	for i := 0; i < 3; i++ {
		require.NoError(t, inv.MarkUsed(usageKey.ID))
	}
	due = sched.CheckDueRotations()
	require.Len(t, due, 2)
	keyIDs := []string{due[0].KeyID, due[1].KeyID}
	assert.Contains(t, keyIDs, usageKey.ID)

	// Revoked keys drop out of the due list entirely.
	require.NoError(t, inv.SetStatus(timedKey.ID, KeyRevoked))
	due = sched.CheckDueRotations()
	require.Len(t, due, 1)
	assert.Equal(t, usageKey.ID, due[0].KeyID)
	assert.True(t, due[0].Urgent)
}

func TestRotationStats(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	sched := NewRotationScheduler(inv).WithClock(fixedClock())
	policy, err := sched.AddPolicy("quarterly", RotateTimeBased, 90, 0)
	require.NoError(t, err)
	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", nil, 0)
	require.NoError(t, err)
	schedule, err := sched.ScheduleKey(key.ID, policy.ID)
	require.NoError(t, err)
	_, err = sched.ExecuteRotation(schedule.ID)
	require.NoError(t, err)

	stats := sched.Stats()
	assert.Equal(t, 1, stats["policies"])
	assert.Equal(t, 1, stats["schedules"])
	assert.Equal(t, 1, stats["completed_schedules"])
	assert.Equal(t, 1, stats["rotations"])
}
