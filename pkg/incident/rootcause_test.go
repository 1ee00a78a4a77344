package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAnalysis(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())

	_, err := a.StartAnalysis("")
	require.Error(t, err)

	first, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", first.Status)
	assert.Equal(t, fixedClock()(), first.StartedAt)

	second, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)

	// A reopened investigation supersedes the old one for the incident.
	latest, err := a.AnalysisFor("inc_1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = a.AnalysisFor("inc_quiet")
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestAddRootCauseClampsConfidence(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())
	an, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)

	_, err = a.AddRootCause(an.ID, "", "process", 0.5)
	require.Error(t, err, "empty description")

	an, err = a.AddRootCause(an.ID, "unpatched VPN appliance", "vulnerability", 1.7)
	require.NoError(t, err)
	an, err = a.AddRootCause(an.ID, "shared admin password", "credential_hygiene", -0.3)
	require.NoError(t, err)
	an, err = a.AddRootCause(an.ID, "missing egress filtering", "network", 0.85)
	require.NoError(t, err)

	require.Len(t, an.RootCauses, 3)
	assert.Equal(t, 1.0, an.RootCauses[0].Confidence)
	assert.Equal(t, 0.0, an.RootCauses[1].Confidence)
	assert.Equal(t, 0.85, an.RootCauses[2].Confidence)
	assert.Equal(t, "vulnerability", an.RootCauses[0].Category)
}

func TestTimelineStaysSorted(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())
	an, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)

	base := time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC)

	_, err = a.AddTimelineEvent(an.ID, base, "", "siem")
	require.Error(t, err, "empty description")
	_, err = a.AddTimelineEvent(an.ID, time.Time{}, "initial access", "siem")
	require.Error(t, err, "zero timestamp")

	// Inserted out of order on purpose.
	_, err = a.AddTimelineEvent(an.ID, base.Add(2*time.Hour), "lateral movement to db host", "edr")
	require.NoError(t, err)
	_, err = a.AddTimelineEvent(an.ID, base, "phishing mail opened", "mail_gateway")
	require.NoError(t, err)
	an, err = a.AddTimelineEvent(an.ID, base.Add(45*time.Minute), "macro spawned powershell", "edr")
	require.NoError(t, err)

	require.Len(t, an.Timeline, 3)
	assert.Equal(t, "phishing mail opened", an.Timeline[0].Description)
	assert.Equal(t, "macro spawned powershell", an.Timeline[1].Description)
	assert.Equal(t, "lateral movement to db host", an.Timeline[2].Description)
	for i := 1; i < len(an.Timeline); i++ {
		assert.False(t, an.Timeline[i].Timestamp.Before(an.Timeline[i-1].Timestamp))
	}
}

func TestEntryPointsAndVulnerabilitiesDedup(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())
	an, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)

	_, err = a.AddEntryPoint(an.ID, "")
	require.Error(t, err)
	_, err = a.AddEntryPoint(an.ID, "vpn_gateway")
	require.NoError(t, err)
	an, err = a.AddEntryPoint(an.ID, "vpn_gateway")
	require.NoError(t, err)
	assert.Equal(t, []string{"vpn_gateway"}, an.EntryPoints)

	_, err = a.LinkVulnerability(an.ID, "")
	require.Error(t, err)
	_, err = a.LinkVulnerability(an.ID, "CVE-2024-21762")
	require.NoError(t, err)
	an, err = a.LinkVulnerability(an.ID, "CVE-2024-21762")
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-21762"}, an.Vulnerabilities)

	_, err = a.AddPropagation(an.ID, "vpn_gateway", "", "smb")
	require.Error(t, err, "propagation needs both ends")
	an, err = a.AddPropagation(an.ID, "vpn_gateway", "file_server", "smb")
	require.NoError(t, err)
	require.Len(t, an.Propagations, 1)
	assert.Equal(t, "file_server", an.Propagations[0].ToSystem)
}

func TestCompleteAnalysisFreezes(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())
	an, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)

	_, err = a.CompleteAnalysis(an.ID, "")
	require.Error(t, err, "conclusion required")

	an, err = a.CompleteAnalysis(an.ID, "phished credential reused against the VPN")
	require.NoError(t, err)
	assert.Equal(t, "completed", an.Status)
	require.NotNil(t, an.CompletedAt)
	assert.Equal(t, fixedClock()(), *an.CompletedAt)

	_, err = a.AddRootCause(an.ID, "late addition", "", 0.5)
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
	_, err = a.AddTimelineEvent(an.ID, fixedClock()(), "late event", "")
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
	_, err = a.AddEntryPoint(an.ID, "late_entry")
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
	_, err = a.LinkVulnerability(an.ID, "CVE-0000-0000")
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
	_, err = a.AddPropagation(an.ID, "a", "b", "")
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
	_, err = a.CompleteAnalysis(an.ID, "second conclusion")
	assert.ErrorIs(t, err, ErrAnalysisCompleted)

	_, err = a.CompleteAnalysis("rca_missing", "whatever")
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestRootCauseStats(t *testing.T) {
	a := NewRootCauseAnalyzer().WithClock(fixedClock())
	one, err := a.StartAnalysis("inc_1")
	require.NoError(t, err)
	two, err := a.StartAnalysis("inc_2")
	require.NoError(t, err)

	_, err = a.AddRootCause(one.ID, "cause a", "", 0.9)
	require.NoError(t, err)
	_, err = a.AddRootCause(one.ID, "cause b", "", 0.4)
	require.NoError(t, err)
	_, err = a.AddTimelineEvent(two.ID, fixedClock()(), "event", "edr")
	require.NoError(t, err)
	_, err = a.CompleteAnalysis(one.ID, "done")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"analyses":        2,
		"completed":       1,
		"root_causes":     2,
		"timeline_events": 1,
	}, a.Stats())
}
