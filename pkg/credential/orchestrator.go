package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/alertgate"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/decision"
	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/observability"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrSubsystemDisabled = errors.New("credential subsystem is disabled")
	ErrAlertNotFound     = errors.New("credential alert not found")
)

// CredentialAlert is one alert raised by the orchestrator. Evaluator
// records stay with their evaluators; this ledger is the orchestrator's
// own.
type CredentialAlert struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Severity   severity.Level         `json:"severity"`
	KeyID      string                 `json:"key_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Status     string                 `json:"status"` // open or resolved
	RaisedAt   time.Time              `json:"raised_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// ProvisionResult pairs a newly registered key with its rotation
// schedule.
type ProvisionResult struct {
	Key      *Key              `json:"key"`
	Schedule *RotationSchedule `json:"schedule"`
}

// RotationOutcome aggregates one rotate-and-verify pass.
type RotationOutcome struct {
	Rotation     *Rotation     `json:"rotation"`
	Verification *Verification `json:"verification,omitempty"`
	RolledBack   bool          `json:"rolled_back"`
}

// LeakScanOutcome aggregates one scan pass: the scan itself, any keys the
// orchestrator revoked off the back of it, and the ledger alerts raised.
// Revocation failures are collected in Errors; they never abort the scan.
type LeakScanOutcome struct {
	Scan        *LeakScan          `json:"scan"`
	RevokedKeys []string           `json:"revoked_keys,omitempty"`
	Alerts      []*CredentialAlert `json:"alerts,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

// KeyAnalysis is the full health picture of one key.
type KeyAnalysis struct {
	Key         *Key              `json:"key"`
	Health      *HealthCheck      `json:"health"`
	Permissions *PermissionReview `json:"permissions"`
	Usage       *UsageProfile     `json:"usage"`
	Action      decision.Decision `json:"action"`
	AnalyzedAt  time.Time         `json:"analyzed_at"`
}

// CredentialAnalytics is the aggregated view over every credential
// evaluator.
type CredentialAnalytics struct {
	Subsystem   string                    `json:"subsystem"`
	Evaluators  map[string]map[string]int `json:"evaluators"`
	OpenAlerts  int                       `json:"open_alerts"`
	ActiveKeys  int                       `json:"active_keys"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Orchestrator fans credential operations out across the eight
// evaluators, raises alerts through the rate gate, and records every
// operation on the audit trail.
type Orchestrator struct {
	cfg         *config.Config
	inventory   *KeyInventory
	scheduler   *RotationScheduler
	usage       *UsageAnalyzer
	permissions *PermissionChecker
	leaks       *LeakDetector
	revocator   *Revocator
	health      *HealthScorer
	verifier    *RotationVerifier
	matrix      *decision.Matrix
	auditLog    audit.Logger
	gate        *alertgate.Gate
	obs         *observability.Provider
	logger      *slog.Logger
	clock       func() time.Time

	defaultPolicy *RotationPolicy

	mu         sync.RWMutex
	alerts     map[string]*CredentialAlert
	alertOrder []string
}

// NewOrchestrator wires the credential evaluators around one shared key
// inventory. Provisioned keys land on a default time-based rotation
// policy sized from the config.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	inventory := NewKeyInventory()
	scheduler := NewRotationScheduler(inventory)
	rotationDays := cfg.RotationDays
	if rotationDays < 1 {
		rotationDays = 90
	}
	defaultPolicy, err := scheduler.AddPolicy("standard-rotation", RotateTimeBased, rotationDays, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to seed default rotation policy: %w", err)
	}
	leaks := NewLeakDetector()
	leaks.SetAutoRevoke(cfg.AutoRevoke)

	return &Orchestrator{
		cfg:           cfg,
		inventory:     inventory,
		scheduler:     scheduler,
		usage:         NewUsageAnalyzer(),
		permissions:   NewPermissionChecker(inventory),
		leaks:         leaks,
		revocator:     NewRevocator(inventory),
		health:        NewHealthScorer(),
		verifier:      NewRotationVerifier(),
		matrix:        decision.Default(),
		auditLog:      audit.Nop(),
		gate:          alertgate.New(nil, alertgate.Policy{}),
		logger:        slog.Default(),
		clock:         time.Now,
		defaultPolicy: defaultPolicy,
		alerts:        make(map[string]*CredentialAlert),
	}, nil
}

// WithAuditLogger attaches the governance audit trail.
func (o *Orchestrator) WithAuditLogger(l audit.Logger) *Orchestrator {
	if l != nil {
		o.auditLog = l
	}
	return o
}

// WithAlertGate attaches an alert rate gate.
func (o *Orchestrator) WithAlertGate(g *alertgate.Gate) *Orchestrator {
	if g != nil {
		o.gate = g
	}
	return o
}

// WithObservability attaches tracing and RED metrics.
func (o *Orchestrator) WithObservability(p *observability.Provider) *Orchestrator {
	o.obs = p
	return o
}

// WithLogger overrides the structured logger.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	if l != nil {
		o.logger = l
	}
	return o
}

// WithMatrix overrides the escalation decision matrix.
func (o *Orchestrator) WithMatrix(m *decision.Matrix) *Orchestrator {
	if m != nil {
		o.matrix = m
	}
	return o
}

// WithClock overrides the time source on the orchestrator and every
// evaluator it owns.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	o.inventory.WithClock(clock)
	o.scheduler.WithClock(clock)
	o.usage.WithClock(clock)
	o.permissions.WithClock(clock)
	o.leaks.WithClock(clock)
	o.revocator.WithClock(clock)
	o.health.WithClock(clock)
	o.verifier.WithClock(clock)
	return o
}

// Evaluator accessors for callers that need direct access.

func (o *Orchestrator) Inventory() *KeyInventory        { return o.inventory }
func (o *Orchestrator) Scheduler() *RotationScheduler   { return o.scheduler }
func (o *Orchestrator) Usage() *UsageAnalyzer           { return o.usage }
func (o *Orchestrator) Permissions() *PermissionChecker { return o.permissions }
func (o *Orchestrator) Leaks() *LeakDetector            { return o.leaks }
func (o *Orchestrator) Revocator() *Revocator           { return o.revocator }
func (o *Orchestrator) Health() *HealthScorer           { return o.health }
func (o *Orchestrator) Verifier() *RotationVerifier     { return o.verifier }

// ProvisionKey registers a key, schedules it on the default rotation
// policy, and monitors its material prefix in the leak detector.
func (o *Orchestrator) ProvisionKey(ctx context.Context, name string, kt KeyType, owner, service string, scopes []string, expiresDays int) (*ProvisionResult, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "provision_key")

	key, err := o.inventory.RegisterKey(name, kt, owner, service, scopes, expiresDays)
	if err != nil {
		finish(err)
		return nil, err
	}
	schedule, err := o.scheduler.ScheduleKey(key.ID, o.defaultPolicy.ID)
	if err != nil {
		finish(err)
		return nil, err
	}
	if err := o.leaks.MonitorPrefix(key.ID, key.MaterialPrefix); err != nil {
		o.logger.WarnContext(ctx, "prefix monitoring failed", "key_id", key.ID, "error", err)
	}

	o.record(ctx, "provision_key", key.ID, map[string]interface{}{
		"name":        name,
		"type":        string(kt),
		"schedule_id": schedule.ID,
	})
	o.logger.InfoContext(ctx, "key provisioned",
		"key_id", key.ID, "type", kt, "schedule_id", schedule.ID)
	finish(nil)
	return &ProvisionResult{Key: key, Schedule: schedule}, nil
}

// MonitorKey watches a key's material prefix in the leak detector. An
// empty prefix monitors the key's current inventory prefix; callers pass
// an explicit prefix for material imported from outside the inventory.
func (o *Orchestrator) MonitorKey(keyID, prefix string) error {
	if !o.cfg.CredentialEnabled {
		return ErrSubsystemDisabled
	}
	if prefix == "" {
		key, err := o.inventory.Key(keyID)
		if err != nil {
			return err
		}
		prefix = key.MaterialPrefix
	}
	return o.leaks.MonitorPrefix(keyID, prefix)
}

// RotateAndVerify executes a scheduled rotation, opens a verification
// over the prefix change, and settles it against the given test results.
// A failed verification rolls back when the config says so and raises an
// alert.
func (o *Orchestrator) RotateAndVerify(ctx context.Context, scheduleID string, tests []TestResult) (*RotationOutcome, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "rotate_and_verify")

	rotation, err := o.scheduler.ExecuteRotation(scheduleID)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome := &RotationOutcome{Rotation: rotation}

	verification, err := o.verifier.StartVerification(rotation.KeyID, rotation.ID, rotation.OldPrefix, rotation.NewPrefix)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome.Verification = verification

	if len(tests) > 0 {
		verification, err = o.verifier.RunFullVerification(verification.ID, tests, o.cfg.AutoRollback)
		if err != nil {
			finish(err)
			return nil, err
		}
		outcome.Verification = verification
		if verification.Status == VerificationRolledBack {
			outcome.RolledBack = true
			o.raiseAlert(ctx, "rotation_rollback", severity.High, rotation.KeyID, map[string]interface{}{
				"rotation_id":     rotation.ID,
				"verification_id": verification.ID,
			})
		}
	}

	// Monitored prefix follows the active material.
	if err := o.leaks.MonitorPrefix(rotation.KeyID, rotation.NewPrefix); err != nil {
		o.logger.WarnContext(ctx, "prefix monitoring failed", "key_id", rotation.KeyID, "error", err)
	}

	o.record(ctx, "rotate_key", rotation.KeyID, map[string]interface{}{
		"rotation_id":     rotation.ID,
		"schedule_id":     scheduleID,
		"verification_id": verification.ID,
		"status":          string(verification.Status),
	})
	finish(nil)
	return outcome, nil
}

// CheckDue reports schedules near their rotation deadline and alerts on
// the urgent ones.
func (o *Orchestrator) CheckDue(ctx context.Context) ([]*DueSchedule, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "check_due_rotations")

	due := o.scheduler.CheckDueRotations()
	for _, d := range due {
		if !d.Urgent {
			continue
		}
		o.raiseAlert(ctx, "rotation_overdue", severity.High, d.KeyID, map[string]interface{}{
			"schedule_id": d.Schedule.ID,
			"days_left":   d.DaysLeft,
		})
	}
	if len(due) > 0 {
		o.record(ctx, "check_due_rotations", "", map[string]interface{}{"due": len(due)})
	}
	finish(nil)
	return due, nil
}

// RecordKeyUsage logs one use of a key on the inventory and the usage
// analyzer. Freshly detected anomalies raise alerts.
func (o *Orchestrator) RecordKeyUsage(ctx context.Context, keyID, source, operation string, success bool) (*UsageEvent, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "record_key_usage")

	if err := o.inventory.MarkUsed(keyID); err != nil {
		finish(err)
		return nil, err
	}
	before := len(o.usage.Anomalies(keyID))
	ev, err := o.usage.RecordUsage(keyID, source, operation, success)
	if err != nil {
		finish(err)
		return nil, err
	}
	anomalies := o.usage.Anomalies(keyID)
	for _, a := range anomalies[before:] {
		o.raiseAlert(ctx, "usage_anomaly", a.Severity, keyID, map[string]interface{}{
			"anomaly_id":   a.ID,
			"anomaly_type": string(a.Type),
		})
		o.record(ctx, "usage_anomaly", keyID, map[string]interface{}{
			"anomaly_id":   a.ID,
			"anomaly_type": string(a.Type),
			"severity":     string(a.Severity),
		})
	}
	finish(nil)
	return ev, nil
}

// ScanForLeaks scans content for credential exposure. Leaks marked for
// auto-revocation that name a key get that key revoked with a generated
// replacement; revocation failures are collected, never fatal.
func (o *Orchestrator) ScanForLeaks(ctx context.Context, source, content string) (*LeakScanOutcome, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "scan_for_leaks")

	scan, err := o.leaks.ScanContent(source, content)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome := &LeakScanOutcome{Scan: scan}

	for _, leakID := range scan.LeakIDs {
		leak, err := o.leaks.Leak(leakID)
		if err != nil {
			continue
		}
		if a := o.raiseAlert(ctx, "credential_leak", leak.Severity, leak.KeyID, map[string]interface{}{
			"leak_id": leak.ID,
			"pattern": leak.Pattern,
			"source":  leak.Source,
		}); a != nil {
			outcome.Alerts = append(outcome.Alerts, a)
		}
		if leak.Status != "auto_revoked" || leak.KeyID == "" {
			continue
		}
		key, err := o.inventory.Key(leak.KeyID)
		if err != nil || key.Status == KeyRevoked {
			continue
		}
		var notify []string
		if key.Service != "" {
			notify = []string{key.Service}
		}
		if _, err := o.revocator.RevokeKey(leak.KeyID, ReasonLeaked, "leak_detector", RevokeOptions{
			GenerateReplacement: true,
			NotifyServices:      notify,
		}); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", leak.KeyID, err))
			continue
		}
		outcome.RevokedKeys = append(outcome.RevokedKeys, leak.KeyID)
		o.logger.WarnContext(ctx, "key auto-revoked after leak",
			"key_id", leak.KeyID, "leak_id", leak.ID, "source", source)
	}

	o.record(ctx, "scan_for_leaks", source, map[string]interface{}{
		"scan_id":  scan.ID,
		"findings": len(scan.Findings),
		"revoked":  len(outcome.RevokedKeys),
	})
	finish(nil)
	return outcome, nil
}

// AnalyzeKey scores a key's health from its age, usage, permissions,
// rotation history, and anomalies. Poor and critical grades raise alerts
// and escalate through the decision matrix.
func (o *Orchestrator) AnalyzeKey(ctx context.Context, keyID string) (*KeyAnalysis, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "analyze_key")

	key, err := o.inventory.Key(keyID)
	if err != nil {
		finish(err)
		return nil, err
	}
	now := o.clock()
	ageDays := int(now.Sub(key.RegisteredAt).Hours() / 24)

	review, err := o.permissions.CheckPermissions(keyID)
	if err != nil {
		finish(err)
		return nil, err
	}
	profile := o.usage.Profile(keyID)
	critical, nonCritical := o.usage.AnomalyCounts(keyID)

	everUsed := profile.Events > 0 || key.UsageCount > 0
	idleDays := ageDays
	if profile.LastUsedAt != nil {
		idleDays = int(now.Sub(*profile.LastUsedAt).Hours() / 24)
	} else if key.LastUsedAt != nil {
		idleDays = int(now.Sub(*key.LastUsedAt).Hours() / 24)
	}

	input := HealthInput{
		KeyID:                keyID,
		AgeDays:              ageDays,
		EverUsed:             everUsed,
		ErrorRate:            profile.ErrorRate,
		IdleDays:             idleDays,
		TotalScopes:          review.TotalScopes,
		UnusedScopes:         len(review.UnusedScopes),
		HasAdmin:             review.HasAdmin,
		PolicyDays:           o.cfg.RotationDays,
		CriticalAnomalies:    critical,
		NonCriticalAnomalies: nonCritical,
	}
	if rotations := o.scheduler.Rotations(keyID); len(rotations) > 0 {
		last := rotations[len(rotations)-1]
		input.EverRotated = true
		input.DaysSinceRotation = int(now.Sub(last.ExecutedAt).Hours() / 24)
	}

	check, err := o.health.ScoreKey(input)
	if err != nil {
		finish(err)
		return nil, err
	}

	sev := severity.None
	switch check.Grade {
	case GradeCritical:
		sev = severity.High
	case GradePoor:
		sev = severity.Medium
	}
	if sev != severity.None {
		o.raiseAlert(ctx, "unhealthy_key", sev, keyID, map[string]interface{}{
			"check_id": check.ID,
			"score":    check.Score,
			"grade":    string(check.Grade),
		})
	}

	analysis := &KeyAnalysis{
		Key:         key,
		Health:      check,
		Permissions: review,
		Usage:       profile,
		Action:      o.matrix.Lookup(riskFromSeverity(sev), urgencyFromSeverity(sev)),
		AnalyzedAt:  now,
	}
	o.record(ctx, "analyze_key", keyID, map[string]interface{}{
		"check_id": check.ID,
		"score":    check.Score,
		"grade":    string(check.Grade),
	})
	finish(nil)
	return analysis, nil
}

// RevokeKey revokes a key through the revocator and alerts on it.
func (o *Orchestrator) RevokeKey(ctx context.Context, keyID string, reason RevocationReason, revokedBy string, opts RevokeOptions) (*Revocation, error) {
	if !o.cfg.CredentialEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "revoke_key")

	rev, err := o.revocator.RevokeKey(keyID, reason, revokedBy, opts)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.raiseAlert(ctx, "key_revoked", severity.High, keyID, map[string]interface{}{
		"revocation_id": rev.ID,
		"reason":        string(reason),
	})
	o.record(ctx, "revoke_key", keyID, map[string]interface{}{
		"revocation_id": rev.ID,
		"reason":        string(reason),
		"replacement":   rev.ReplacementKeyID,
	})
	finish(nil)
	return rev, nil
}

// SweepExpiredKeys expires active keys past their expiry window.
func (o *Orchestrator) SweepExpiredKeys(ctx context.Context) (int, error) {
	if !o.cfg.CredentialEnabled {
		return 0, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "sweep_expired_keys")

	moved := o.inventory.SweepExpired()
	if moved > 0 {
		o.record(ctx, "sweep_expired_keys", "", map[string]interface{}{"expired": moved})
	}
	finish(nil)
	return moved, nil
}

// ResolveAlert closes an open credential alert.
func (o *Orchestrator) ResolveAlert(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	alert, ok := o.alerts[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrAlertNotFound)
	}
	if alert.Status == "resolved" {
		return fmt.Errorf("alert %q already resolved", id)
	}
	now := o.clock()
	alert.Status = "resolved"
	alert.ResolvedAt = &now
	return nil
}

// OpenAlerts lists open alerts oldest first.
func (o *Orchestrator) OpenAlerts() []*CredentialAlert {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*CredentialAlert
	for _, id := range o.alertOrder {
		if alert, ok := o.alerts[id]; ok && alert.Status == "open" {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

// Analytics aggregates counters from every evaluator.
func (o *Orchestrator) Analytics() *CredentialAnalytics {
	return &CredentialAnalytics{
		Subsystem: "credential",
		Evaluators: map[string]map[string]int{
			"key_inventory":      o.inventory.Stats(),
			"rotation_scheduler": o.scheduler.Stats(),
			"usage_analyzer":     o.usage.Stats(),
			"permission_checker": o.permissions.Stats(),
			"leak_detector":      o.leaks.Stats(),
			"revocator":          o.revocator.Stats(),
			"health_scorer":      o.health.Stats(),
			"rotation_verifier":  o.verifier.Stats(),
		},
		OpenAlerts:  len(o.OpenAlerts()),
		ActiveKeys:  o.inventory.Stats()["active"],
		GeneratedAt: o.clock(),
	}
}

// raiseAlert pushes one alert through the rate gate. Returns nil when
// the gate throttles the key.
func (o *Orchestrator) raiseAlert(ctx context.Context, alertType string, sev severity.Level, keyID string, details map[string]interface{}) *CredentialAlert {
	key := "credential:" + alertType + ":" + string(sev)
	if !o.gate.Permit(ctx, key) {
		o.logger.WarnContext(ctx, "alert throttled", "alert_type", alertType, "severity", sev)
		return nil
	}

	o.mu.Lock()
	alert := &CredentialAlert{
		ID:       ident.New(ident.PrefixCredAlert),
		Type:     alertType,
		Severity: sev,
		KeyID:    keyID,
		Details:  details,
		Status:   "open",
		RaisedAt: o.clock(),
	}
	o.alerts[alert.ID] = alert
	o.alertOrder = append(o.alertOrder, alert.ID)
	o.mu.Unlock()

	o.record(ctx, "raise_alert", alert.ID, map[string]interface{}{
		"alert_type": alertType,
		"severity":   string(sev),
	})
	return alert
}

func (o *Orchestrator) record(ctx context.Context, action, resource string, metadata map[string]interface{}) {
	if err := o.auditLog.Record(ctx, audit.EventCredential, action, resource, metadata); err != nil {
		o.logger.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}

func (o *Orchestrator) track(ctx context.Context, op string) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackOperation(ctx, "credential."+op,
		observability.Subsystem("credential"),
		observability.Operation(op),
	)
}

func riskFromSeverity(sev severity.Level) decision.RiskLevel {
	switch sev {
	case severity.Critical, severity.Emergency:
		return decision.RiskCritical
	case severity.High:
		return decision.RiskHigh
	case severity.Medium:
		return decision.RiskMedium
	default:
		return decision.RiskLow
	}
}

func urgencyFromSeverity(sev severity.Level) decision.UrgencyLevel {
	switch sev {
	case severity.Critical, severity.Emergency:
		return decision.UrgencyCritical
	case severity.High:
		return decision.UrgencyHigh
	case severity.Medium:
		return decision.UrgencyMedium
	default:
		return decision.UrgencyLow
	}
}
