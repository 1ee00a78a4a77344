package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/alertgate"
	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/decision"
	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/observability"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrSubsystemDisabled = errors.New("compliance subsystem is disabled")
	ErrAlertNotFound     = errors.New("compliance alert not found")
)

// ComplianceAlert is one alert raised by the orchestrator. The alert
// ledger is the only record store the orchestrator owns; evaluator
// records stay with their evaluators.
type ComplianceAlert struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     severity.Level         `json:"severity"`
	FrameworkKey string                 `json:"framework_key,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Status       string                 `json:"status"` // open or resolved
	RaisedAt     time.Time              `json:"raised_at"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
}

// CheckRequest describes one compliance check pass.
type CheckRequest struct {
	Subject   string                 `json:"subject"`
	Context   map[string]interface{} `json:"context"`
	UserID    string                 `json:"user_id,omitempty"`
	PurposeID string                 `json:"purpose_id,omitempty"`
}

// ComplianceCheck aggregates the fan-out results of one check pass.
// Evaluator failures are collected in Errors; they never abort the pass.
type ComplianceCheck struct {
	ID               string             `json:"id"`
	Subject          string             `json:"subject"`
	Policies         *PolicyEvaluation  `json:"policies,omitempty"`
	Consent          *ConsentCheck      `json:"consent,omitempty"`
	ConsentSatisfied bool               `json:"consent_satisfied"`
	Alerts           []*ComplianceAlert `json:"alerts,omitempty"`
	Severity         severity.Level     `json:"severity"`
	Action           decision.Decision  `json:"action"`
	Errors           []string           `json:"errors,omitempty"`
	CheckedAt        time.Time          `json:"checked_at"`
}

// AssessmentOutcome pairs an assessment run with the roadmap opened
// for the gaps it surfaced.
type AssessmentOutcome struct {
	Assessment *Assessment        `json:"assessment"`
	Roadmap    *Roadmap           `json:"roadmap,omitempty"`
	Alerts     []*ComplianceAlert `json:"alerts,omitempty"`
}

// ComplianceReport is the periodic cross-evaluator summary. When an
// archive store is attached the marshalled report is stored and
// ArchiveHash carries its content address.
type ComplianceReport struct {
	ID          string                    `json:"id"`
	Title       string                    `json:"title"`
	Frequency   string                    `json:"frequency"`
	Frameworks  []*Framework              `json:"frameworks"`
	Evaluators  map[string]map[string]int `json:"evaluators"`
	OpenGaps    int                       `json:"open_gaps"`
	OpenAlerts  int                       `json:"open_alerts"`
	CrossBorder int                       `json:"cross_border_flows"`
	ArchiveHash string                    `json:"archive_hash,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Analytics is the aggregated view over every compliance evaluator.
type Analytics struct {
	Subsystem   string                    `json:"subsystem"`
	Evaluators  map[string]map[string]int `json:"evaluators"`
	OpenAlerts  int                       `json:"open_alerts"`
	OpenGaps    int                       `json:"open_gaps"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Orchestrator fans compliance operations out across the seven
// evaluators, raises alerts through the rate gate, and records every
// operation on the audit trail.
type Orchestrator struct {
	cfg        *config.Config
	frameworks *FrameworkLoader
	enforcer   *PolicyEnforcer
	mapper     *DataFlowMapper
	access     *AccessAuditor
	retention  *RetentionChecker
	consent    *ConsentManager
	gaps       *GapAnalyzer
	matrix     *decision.Matrix
	auditLog   audit.Logger
	gate       *alertgate.Gate
	obs        *observability.Provider
	store      archive.Store
	logger     *slog.Logger
	clock      func() time.Time

	mu         sync.RWMutex
	alerts     map[string]*ComplianceAlert
	alertOrder []string
}

// NewOrchestrator wires the compliance evaluators behind a flat API.
// Optional collaborators default to no-ops; use the With* methods to
// attach real ones.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	enforcer, err := NewPolicyEnforcer()
	if err != nil {
		return nil, fmt.Errorf("failed to build policy enforcer: %w", err)
	}
	enforcer.SetAutoRemediate(cfg.AutoRemediate)
	return &Orchestrator{
		cfg:        cfg,
		frameworks: NewFrameworkLoader(),
		enforcer:   enforcer,
		mapper:     NewDataFlowMapper(),
		access:     NewAccessAuditor(),
		retention:  NewRetentionChecker(),
		consent:    NewConsentManager(),
		gaps:       NewGapAnalyzer(),
		matrix:     decision.Default(),
		auditLog:   audit.Nop(),
		gate:       alertgate.New(nil, alertgate.Policy{}),
		logger:     slog.Default(),
		clock:      time.Now,
		alerts:     make(map[string]*ComplianceAlert),
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

// WithArchive attaches an archive store for generated reports.
func (o *Orchestrator) WithArchive(s archive.Store) *Orchestrator {
	o.store = s
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
	o.frameworks.WithClock(clock)
	o.enforcer.WithClock(clock)
	o.mapper.WithClock(clock)
	o.access.WithClock(clock)
	o.retention.WithClock(clock)
	o.consent.WithClock(clock)
	o.gaps.WithClock(clock)
	return o
}

// Evaluator accessors for callers that need direct access.

func (o *Orchestrator) Frameworks() *FrameworkLoader { return o.frameworks }
func (o *Orchestrator) Policies() *PolicyEnforcer    { return o.enforcer }
func (o *Orchestrator) DataFlows() *DataFlowMapper   { return o.mapper }
func (o *Orchestrator) Access() *AccessAuditor       { return o.access }
func (o *Orchestrator) Retention() *RetentionChecker { return o.retention }
func (o *Orchestrator) Consent() *ConsentManager     { return o.consent }
func (o *Orchestrator) Gaps() *GapAnalyzer           { return o.gaps }

// RunComplianceCheck enforces the configured framework policies over a
// context and, when required, verifies consent for the named user and
// purpose. Violations raise gated alerts; evaluator failures become
// entries in the result's Errors slice.
func (o *Orchestrator) RunComplianceCheck(ctx context.Context, req CheckRequest) (*ComplianceCheck, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	if req.Subject == "" {
		return nil, fmt.Errorf("check subject is required")
	}

	ctx, finish := o.track(ctx, "run_compliance_check")
	check := &ComplianceCheck{
		ID:               ident.New(ident.PrefixComplianceChk),
		Subject:          req.Subject,
		ConsentSatisfied: true,
		Severity:         severity.None,
		CheckedAt:        o.clock(),
	}

	eval, err := o.enforcer.EnforceFrameworks(req.Context, o.cfg.Frameworks)
	if err != nil {
		check.Errors = append(check.Errors, fmt.Sprintf("policies: %v", err))
	} else {
		check.Policies = eval
		for _, v := range eval.Violations {
			check.Severity = severity.Max(check.Severity, v.Severity)
			if a := o.raiseAlert(ctx, "policy_violation", v.Severity, "", map[string]interface{}{
				"subject":      req.Subject,
				"policy_id":    v.PolicyID,
				"policy_name":  v.PolicyName,
				"violation_id": v.ID,
			}); a != nil {
				check.Alerts = append(check.Alerts, a)
			}
		}
	}

	if o.cfg.ConsentRequired && req.UserID != "" && req.PurposeID != "" {
		cc, err := o.consent.CheckConsent(req.UserID, req.PurposeID)
		if err != nil {
			check.Errors = append(check.Errors, fmt.Sprintf("consent: %v", err))
		} else {
			check.Consent = cc
			if !cc.Granted {
				check.ConsentSatisfied = false
				check.Severity = severity.Max(check.Severity, severity.Medium)
				if a := o.raiseAlert(ctx, "consent_missing", severity.Medium, "", map[string]interface{}{
					"subject":    req.Subject,
					"user_id":    req.UserID,
					"purpose_id": req.PurposeID,
					"state":      string(cc.State),
				}); a != nil {
					check.Alerts = append(check.Alerts, a)
				}
			}
		}
	}

	check.Action = o.matrix.Lookup(riskFromSeverity(check.Severity), urgencyFromSeverity(check.Severity))

	o.record(ctx, "run_compliance_check", req.Subject, map[string]interface{}{
		"check_id": check.ID,
		"severity": string(check.Severity),
		"action":   string(check.Action.Action),
		"alerts":   len(check.Alerts),
		"errors":   len(check.Errors),
	})
	o.logger.InfoContext(ctx, "compliance check complete",
		"subject", req.Subject,
		"check_id", check.ID,
		"severity", check.Severity,
		"action", check.Action.Action,
	)
	finish(nil)
	return check, nil
}

// RunAssessment scores a control set for a cataloged framework, opens
// a remediation roadmap over any gaps, and alerts on high-risk ones.
func (o *Orchestrator) RunAssessment(ctx context.Context, frameworkKey string, controls []ControlResult) (*AssessmentOutcome, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	if _, err := o.frameworks.Framework(frameworkKey); err != nil {
		return nil, err
	}
	ctx, finish := o.track(ctx, "run_assessment")

	assessment, err := o.gaps.RunAssessment(frameworkKey, controls)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome := &AssessmentOutcome{Assessment: assessment}

	if len(assessment.GapIDs) > 0 {
		roadmap, err := o.gaps.CreateRoadmap(frameworkKey+" remediation", assessment.GapIDs)
		if err != nil {
			o.logger.WarnContext(ctx, "roadmap creation failed", "framework", frameworkKey, "error", err)
		} else {
			outcome.Roadmap = roadmap
		}
		for _, gapID := range assessment.GapIDs {
			gap, err := o.gaps.Gap(gapID)
			if err != nil || gap.RiskScore < 0.8 {
				continue
			}
			if a := o.raiseAlert(ctx, "compliance_gap", gap.Severity, frameworkKey, map[string]interface{}{
				"gap_id":  gap.ID,
				"control": gap.Control,
				"risk":    gap.RiskScore,
			}); a != nil {
				outcome.Alerts = append(outcome.Alerts, a)
			}
		}
	}

	o.record(ctx, "run_assessment", frameworkKey, map[string]interface{}{
		"assessment_id": assessment.ID,
		"score":         assessment.Score,
		"gaps":          len(assessment.GapIDs),
	})
	finish(nil)
	return outcome, nil
}

// RecordAccess logs one access attempt; denials also land on the
// audit trail.
func (o *Orchestrator) RecordAccess(ctx context.Context, principal, resource, action string, granted bool, reason string) (*AccessEvent, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "record_access")

	ev, err := o.access.RecordAccess(principal, resource, action, granted, reason)
	if err != nil {
		finish(err)
		return nil, err
	}
	if !granted {
		o.record(ctx, "access_denied", resource, map[string]interface{}{
			"principal": principal,
			"action":    action,
			"reason":    reason,
		})
	}
	finish(nil)
	return ev, nil
}

// ReviewAccess reviews the access-log tail and alerts on findings at
// or above high severity.
func (o *Orchestrator) ReviewAccess(ctx context.Context, lastN int) (*AccessReview, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "review_access")

	review, err := o.access.ReviewAccess(lastN)
	if err != nil {
		finish(err)
		return nil, err
	}
	for _, f := range review.Findings {
		if !severity.AtLeast(f.Severity, severity.High) {
			continue
		}
		o.raiseAlert(ctx, "access_anomaly", f.Severity, "", map[string]interface{}{
			"finding":   f.Type,
			"principal": f.Principal,
			"measure":   f.Measure,
		})
	}

	o.record(ctx, "review_access", review.ID, map[string]interface{}{
		"reviewed": review.Reviewed,
		"findings": len(review.Findings),
	})
	finish(nil)
	return review, nil
}

// SweepRetention deletes expired records whose policies allow it.
func (o *Orchestrator) SweepRetention(ctx context.Context) (*DeletionSweep, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "sweep_retention")

	sweep, err := o.retention.AutoDeleteExpired()
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "sweep_retention", sweep.ID, map[string]interface{}{
		"scanned": sweep.Scanned,
		"deleted": sweep.Deleted,
		"held":    sweep.Held,
	})
	if sweep.Deleted > 0 {
		o.logger.InfoContext(ctx, "retention sweep deleted records",
			"sweep_id", sweep.ID, "deleted", sweep.Deleted)
	}
	finish(nil)
	return sweep, nil
}

// SweepConsents expires granted consents past their validity.
func (o *Orchestrator) SweepConsents(ctx context.Context) (int, error) {
	if !o.cfg.ComplianceEnabled {
		return 0, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "sweep_consents")

	moved := o.consent.SweepExpired()
	if moved > 0 {
		o.record(ctx, "sweep_consents", "", map[string]interface{}{"expired": moved})
	}
	finish(nil)
	return moved, nil
}

// GenerateReport assembles the periodic compliance summary and, when
// an archive store is attached, stores it content-addressed.
func (o *Orchestrator) GenerateReport(ctx context.Context, title string) (*ComplianceReport, error) {
	if !o.cfg.ComplianceEnabled {
		return nil, ErrSubsystemDisabled
	}
	if title == "" {
		return nil, fmt.Errorf("report title is required")
	}
	ctx, finish := o.track(ctx, "generate_report")

	analytics := o.Analytics()
	report := &ComplianceReport{
		ID:          ident.New(ident.PrefixComplReport),
		Title:       title,
		Frequency:   o.cfg.ReportFrequency,
		Frameworks:  o.frameworks.Frameworks(),
		Evaluators:  analytics.Evaluators,
		OpenGaps:    analytics.OpenGaps,
		OpenAlerts:  analytics.OpenAlerts,
		CrossBorder: len(o.mapper.CrossBorderFlows()),
		GeneratedAt: o.clock(),
	}

	if o.store != nil {
		payload, err := json.Marshal(report)
		if err != nil {
			finish(err)
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		hash, err := o.store.Store(ctx, payload)
		if err != nil {
			finish(err)
			return nil, fmt.Errorf("archive report: %w", err)
		}
		report.ArchiveHash = hash
	}

	o.record(ctx, "generate_report", report.ID, map[string]interface{}{
		"title":        title,
		"archive_hash": report.ArchiveHash,
	})
	finish(nil)
	return report, nil
}

// ResolveAlert closes an open compliance alert.
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
func (o *Orchestrator) OpenAlerts() []*ComplianceAlert {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*ComplianceAlert
	for _, id := range o.alertOrder {
		if alert, ok := o.alerts[id]; ok && alert.Status == "open" {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

// Analytics aggregates counters from every evaluator.
func (o *Orchestrator) Analytics() *Analytics {
	return &Analytics{
		Subsystem: "compliance",
		Evaluators: map[string]map[string]int{
			"framework_loader":  o.frameworks.Stats(),
			"policy_enforcer":   o.enforcer.Stats(),
			"dataflow_mapper":   o.mapper.Stats(),
			"access_auditor":    o.access.Stats(),
			"retention_checker": o.retention.Stats(),
			"consent_manager":   o.consent.Stats(),
			"gap_analyzer":      o.gaps.Stats(),
		},
		OpenAlerts:  len(o.OpenAlerts()),
		OpenGaps:    len(o.gaps.OpenGaps()),
		GeneratedAt: o.clock(),
	}
}

// raiseAlert pushes one alert through the rate gate. Returns nil when
// the gate throttles the key.
func (o *Orchestrator) raiseAlert(ctx context.Context, alertType string, sev severity.Level, frameworkKey string, details map[string]interface{}) *ComplianceAlert {
	key := "compliance:" + alertType + ":" + string(sev)
	if !o.gate.Permit(ctx, key) {
		o.logger.WarnContext(ctx, "alert throttled", "alert_type", alertType, "severity", sev)
		return nil
	}

	o.mu.Lock()
	alert := &ComplianceAlert{
		ID:           ident.New(ident.PrefixComplAlert),
		Type:         alertType,
		Severity:     sev,
		FrameworkKey: frameworkKey,
		Details:      details,
		Status:       "open",
		RaisedAt:     o.clock(),
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
	if err := o.auditLog.Record(ctx, audit.EventCompliance, action, resource, metadata); err != nil {
		o.logger.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}

func (o *Orchestrator) track(ctx context.Context, op string) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackOperation(ctx, "compliance."+op,
		observability.Subsystem("compliance"),
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
