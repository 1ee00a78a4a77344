package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/decision"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func testConfig() *config.Config {
	return &config.Config{
		ComplianceEnabled: true,
		Frameworks:        []string{"gdpr"},
		ConsentRequired:   true,
		ReportFrequency:   "monthly",
	}
}

func TestRunComplianceCheckFanOut(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	trail := audit.NewTrail()
	o.WithAuditLogger(trail)

	_, err = o.Policies().AddPolicy("dpo assigned", "governance", "dpo", OpExists, nil, severity.High)
	require.NoError(t, err)

	check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
		Subject: "customer-data-platform",
		Context: map[string]interface{}{"region": "eu-west-1"},
	})
	require.NoError(t, err)
	require.Empty(t, check.Errors)

	require.NotNil(t, check.Policies)
	assert.False(t, check.Policies.Compliant)
	assert.Equal(t, severity.High, check.Severity)
	assert.Equal(t, decision.ActionEscalate, check.Action.Action)
	require.Len(t, check.Alerts, 1)
	assert.Equal(t, "policy_violation", check.Alerts[0].Type)

	// every operation lands on the audit trail and the chain stays intact
	entries := trail.Query(audit.Filter{EventType: audit.EventCompliance, Action: "run_compliance_check"})
	require.Len(t, entries, 1)
	require.NoError(t, trail.VerifyChain())
	alertEntries := trail.Query(audit.Filter{Action: "raise_alert"})
	assert.Len(t, alertEntries, 1)
}

func TestRunComplianceCheckCompliant(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)

	_, err = o.Policies().AddPolicy("dpo assigned", "governance", "dpo", OpExists, nil, severity.High)
	require.NoError(t, err)

	check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
		Subject: "customer-data-platform",
		Context: map[string]interface{}{"dpo": "j.doe"},
	})
	require.NoError(t, err)
	assert.True(t, check.Policies.Compliant)
	assert.Equal(t, severity.None, check.Severity)
	assert.Equal(t, decision.ActionApprove, check.Action.Action)
	assert.Empty(t, check.Alerts)
	assert.True(t, check.ConsentSatisfied)
}

func TestConsentVerification(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	purpose, err := o.Consent().RegisterPurpose("personalization", "", true)
	require.NoError(t, err)

	t.Run("missing consent flags the check", func(t *testing.T) {
		check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
			Subject:   "recommendation-engine",
			Context:   map[string]interface{}{},
			UserID:    "user-1",
			PurposeID: purpose.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, check.Consent)
		assert.False(t, check.ConsentSatisfied)
		assert.Equal(t, severity.Medium, check.Severity)
		assert.Equal(t, decision.ActionReview, check.Action.Action)
		require.Len(t, check.Alerts, 1)
		assert.Equal(t, "consent_missing", check.Alerts[0].Type)
	})

	t.Run("granted consent passes", func(t *testing.T) {
		_, err := o.Consent().RecordConsent("user-1", purpose.ID, true)
		require.NoError(t, err)

		check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
			Subject:   "recommendation-engine",
			Context:   map[string]interface{}{},
			UserID:    "user-1",
			PurposeID: purpose.ID,
		})
		require.NoError(t, err)
		assert.True(t, check.ConsentSatisfied)
		assert.Equal(t, severity.None, check.Severity)
	})

	t.Run("check skips consent without a user", func(t *testing.T) {
		check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
			Subject: "batch-job",
			Context: map[string]interface{}{},
		})
		require.NoError(t, err)
		assert.Nil(t, check.Consent)
		assert.True(t, check.ConsentSatisfied)
	})
}

func TestCheckScopesConfiguredFrameworks(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)

	kvkkPolicy, err := o.Policies().AddPolicy("verbis registered", "privacy", "verbis_registration", OpExists, nil, severity.High)
	require.NoError(t, err)
	require.NoError(t, o.Policies().SetFramework(kvkkPolicy.ID, "kvkk"))

	// Only gdpr is configured, so the kvkk policy stays out of scope.
	check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
		Subject: "tr-market-launch",
		Context: map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.True(t, check.Policies.Compliant)
	assert.Equal(t, 0, check.Policies.PoliciesChecked)
}

func TestAutoRemediateFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRemediate = true
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)

	_, err = o.Policies().AddPolicy("retention capped", "retention", "retention_days", OpMax, 90, severity.Medium)
	require.NoError(t, err)

	check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
		Subject: "log-pipeline",
		Context: map[string]interface{}{"retention_days": 400},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, check.Policies.Remediated)
}

func TestRunAssessmentOutcome(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	trail := audit.NewTrail()
	o.WithAuditLogger(trail)

	outcome, err := o.RunAssessment(context.Background(), "gdpr", []ControlResult{
		{Control: "ART-5", Status: ControlPassed},
		{Control: "ART-25", Status: ControlPassed},
		{Control: "ART-32", Status: ControlFailed, Detail: "no encryption at rest"},
		{Control: "ART-33", Status: ControlPartial, Detail: "breach runbook untested"},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(50), outcome.Assessment.Score)
	require.NotNil(t, outcome.Roadmap)
	assert.Equal(t, "gdpr remediation", outcome.Roadmap.Name)
	assert.Len(t, outcome.Roadmap.GapIDs, 2)

	// Only the failed control clears the high-risk alert bar.
	require.Len(t, outcome.Alerts, 1)
	assert.Equal(t, "compliance_gap", outcome.Alerts[0].Type)
	assert.Equal(t, "gdpr", outcome.Alerts[0].FrameworkKey)

	entries := trail.Query(audit.Filter{Action: "run_assessment"})
	require.Len(t, entries, 1)

	_, err = o.RunAssessment(context.Background(), "iso42001", []ControlResult{{Control: "x", Status: ControlPassed}})
	require.ErrorIs(t, err, ErrFrameworkNotFound)
}

func TestReviewAccessRaisesAnomalyAlert(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	trail := audit.NewTrail()
	o.WithAuditLogger(trail)

	for i := 0; i < 6; i++ {
		_, err := o.RecordAccess(context.Background(), "mallory", "secrets/prod", "read", false, "no entitlement")
		require.NoError(t, err)
	}
	_, err = o.RecordAccess(context.Background(), "mallory", "public/docs", "read", true, "")
	require.NoError(t, err)

	review, err := o.ReviewAccess(context.Background(), 100)
	require.NoError(t, err)
	require.NotEmpty(t, review.Findings)

	alerts := o.OpenAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "access_anomaly", alerts[0].Type)
	assert.Equal(t, severity.High, alerts[0].Severity)

	denied := trail.Query(audit.Filter{Action: "access_denied"})
	assert.Len(t, denied, 6)
}

func TestSweepRetention(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	o.WithClock(func() time.Time { return now })
	trail := audit.NewTrail()
	o.WithAuditLogger(trail)

	pol, err := o.Retention().AddPolicy("ephemeral logs", "logs", 7, RetentionFixed, true)
	require.NoError(t, err)
	_, err = o.Retention().TrackRecord(pol.ID, "log-a", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	_, err = o.Retention().TrackRecord(pol.ID, "log-b", now.AddDate(0, 0, -1))
	require.NoError(t, err)

	sweep, err := o.SweepRetention(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Scanned)
	assert.Equal(t, 1, sweep.Deleted)

	entries := trail.Query(audit.Filter{Action: "sweep_retention"})
	require.Len(t, entries, 1)
}

func TestSweepConsents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	o.WithClock(func() time.Time { return now })

	require.NoError(t, o.Consent().SetValidity(30))
	purpose, err := o.Consent().RegisterPurpose("newsletter", "", false)
	require.NoError(t, err)
	_, err = o.Consent().RecordConsent("user-9", purpose.ID, true)
	require.NoError(t, err)

	now = now.AddDate(0, 0, 31)
	moved, err := o.SweepConsents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	check, err := o.Consent().CheckConsent("user-9", purpose.ID)
	require.NoError(t, err)
	assert.Equal(t, ConsentExpired, check.State)
}

func TestGenerateReportArchived(t *testing.T) {
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)

	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)
	o.WithArchive(store)

	report, err := o.GenerateReport(context.Background(), "June compliance summary")
	require.NoError(t, err)
	assert.Equal(t, "monthly", report.Frequency)
	assert.Len(t, report.Frameworks, 4)
	assert.Contains(t, report.Evaluators, "policy_enforcer")
	require.NotEmpty(t, report.ArchiveHash)

	payload, err := store.Get(context.Background(), report.ArchiveHash)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)

	_, err = o.GenerateReport(context.Background(), "")
	require.Error(t, err)
}

func TestResolveAlertLifecycle(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)

	_, err = o.Policies().AddPolicy("dpo assigned", "governance", "dpo", OpExists, nil, severity.High)
	require.NoError(t, err)
	check, err := o.RunComplianceCheck(context.Background(), CheckRequest{
		Subject: "s", Context: map[string]interface{}{},
	})
	require.NoError(t, err)
	require.Len(t, check.Alerts, 1)

	alertID := check.Alerts[0].ID
	require.Len(t, o.OpenAlerts(), 1)

	require.NoError(t, o.ResolveAlert(alertID))
	assert.Empty(t, o.OpenAlerts())
	assert.Error(t, o.ResolveAlert(alertID), "double resolve")
	assert.ErrorIs(t, o.ResolveAlert("cal_missing"), ErrAlertNotFound)
}

func TestComplianceAnalytics(t *testing.T) {
	o, err := NewOrchestrator(testConfig())
	require.NoError(t, err)

	_, err = o.Gaps().RecordGap("gdpr", "ART-32", "", severity.High)
	require.NoError(t, err)

	analytics := o.Analytics()
	assert.Equal(t, "compliance", analytics.Subsystem)
	assert.Equal(t, 4, analytics.Evaluators["framework_loader"]["frameworks"])
	assert.Equal(t, 1, analytics.OpenGaps)
	assert.Contains(t, analytics.Evaluators, "consent_manager")
	assert.Contains(t, analytics.Evaluators, "retention_checker")
}

func TestOperationsRequireEnabledSubsystem(t *testing.T) {
	cfg := testConfig()
	cfg.ComplianceEnabled = false
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = o.RunComplianceCheck(ctx, CheckRequest{Subject: "s"})
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.RunAssessment(ctx, "gdpr", []ControlResult{{Control: "x", Status: ControlPassed}})
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.RecordAccess(ctx, "p", "r", "read", true, "")
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.ReviewAccess(ctx, 10)
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.SweepRetention(ctx)
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.SweepConsents(ctx)
	require.ErrorIs(t, err, ErrSubsystemDisabled)
	_, err = o.GenerateReport(ctx, "t")
	require.ErrorIs(t, err, ErrSubsystemDisabled)
}
