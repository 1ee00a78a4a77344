package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainIncidentCartesian(t *testing.T) {
	e := NewContainmentEngine().WithClock(fixedClock())

	result, err := e.ContainIncident("inc_1",
		[]string{"network_isolate", "account_suspend", "service_shutdown", "port_block"},
		[]string{"srv1", "srv2"})
	require.NoError(t, err)

	assert.Equal(t, 8, result.ActionsTaken, "4 actions across 2 targets")
	require.Len(t, result.Containments, 8)
	assert.Equal(t, ActionNetworkIsolate, result.Containments[0].Action)
	assert.Equal(t, "srv1", result.Containments[0].Target)
	assert.Equal(t, "srv2", result.Containments[1].Target)
	assert.Equal(t, ActionAccountSuspend, result.Containments[2].Action)
	assert.Equal(t, "applied", result.Containments[0].Status)

	require.Len(t, result.QuarantineIDs, 2)
	require.Len(t, result.SuspensionIDs, 2)
	assert.Equal(t, 2, result.Shutdowns)

	q, err := e.Quarantine(result.QuarantineIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "active", q.Status)
	assert.Equal(t, "srv1", q.Target)
	assert.Equal(t, "inc_1", q.IncidentID)

	s, err := e.Suspension(result.SuspensionIDs[1])
	require.NoError(t, err)
	assert.Equal(t, "active", s.Status)
	assert.Equal(t, "srv2", s.Account)

	assert.Len(t, e.ContainmentsFor("inc_1"), 8)
	assert.Empty(t, e.ContainmentsFor("inc_other"))
	assert.Len(t, e.ActiveQuarantines(), 2)
	assert.Len(t, e.ActiveSuspensions(), 2)
}

func TestContainIncidentValidation(t *testing.T) {
	e := NewContainmentEngine().WithClock(fixedClock())

	_, err := e.ContainIncident("", []string{"ip_block"}, []string{"10.0.0.8"})
	assert.Error(t, err)
	_, err = e.ContainIncident("inc_1", nil, []string{"10.0.0.8"})
	assert.Error(t, err)
	_, err = e.ContainIncident("inc_1", []string{"ip_block"}, nil)
	assert.Error(t, err)
	_, err = e.ContainIncident("inc_1", []string{"ip_block", "unplug_everything"}, []string{"10.0.0.8"})
	assert.Error(t, err, "unknown action fails the whole pass")

	stats := e.Stats()
	assert.Equal(t, 0, stats["containments"], "nothing applied on invalid input")
}

func TestReleaseQuarantineAndReinstateAccount(t *testing.T) {
	now := fixedClock()()
	e := NewContainmentEngine().WithClock(func() time.Time { return now })

	result, err := e.ContainIncident("inc_1",
		[]string{"network_isolate", "account_suspend"}, []string{"db-main"})
	require.NoError(t, err)
	qID, sID := result.QuarantineIDs[0], result.SuspensionIDs[0]

	now = now.Add(2 * time.Hour)
	q, err := e.ReleaseQuarantine(qID)
	require.NoError(t, err)
	assert.Equal(t, "released", q.Status)
	require.NotNil(t, q.ReleasedAt)
	assert.True(t, q.ReleasedAt.Equal(now))

	_, err = e.ReleaseQuarantine(qID)
	assert.Error(t, err, "double release")
	_, err = e.ReleaseQuarantine("qt_missing")
	assert.ErrorIs(t, err, ErrQuarantineNotFound)

	s, err := e.ReinstateAccount(sID)
	require.NoError(t, err)
	assert.Equal(t, "reinstated", s.Status)
	require.NotNil(t, s.ReinstatedAt)

	_, err = e.ReinstateAccount(sID)
	assert.Error(t, err, "double reinstate")
	_, err = e.ReinstateAccount("sp_missing")
	assert.ErrorIs(t, err, ErrSuspensionNotFound)

	assert.Empty(t, e.ActiveQuarantines())
	assert.Empty(t, e.ActiveSuspensions())
}

func TestContainmentStats(t *testing.T) {
	e := NewContainmentEngine().WithClock(fixedClock())

	first, err := e.ContainIncident("inc_1",
		[]string{"network_isolate", "service_shutdown"}, []string{"srv1", "srv2"})
	require.NoError(t, err)
	_, err = e.ContainIncident("inc_2", []string{"account_suspend"}, []string{"mallory"})
	require.NoError(t, err)
	_, err = e.ReleaseQuarantine(first.QuarantineIDs[0])
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 5, stats["containments"])
	assert.Equal(t, 2, stats["quarantines"])
	assert.Equal(t, 1, stats["active_quarantines"])
	assert.Equal(t, 1, stats["suspensions"])
	assert.Equal(t, 1, stats["active_suspensions"])
	assert.Equal(t, 2, stats["shutdowns"])

	_, err = e.Containment("cnt_missing")
	assert.ErrorIs(t, err, ErrContainmentNotFound)
}
