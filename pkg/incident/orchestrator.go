package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/alertgate"
	"github.com/Veridian-Labs/aegis/pkg/archive"
	"github.com/Veridian-Labs/aegis/pkg/audit"
	"github.com/Veridian-Labs/aegis/pkg/config"
	"github.com/Veridian-Labs/aegis/pkg/decision"
	"github.com/Veridian-Labs/aegis/pkg/keyring"
	"github.com/Veridian-Labs/aegis/pkg/observability"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrSubsystemDisabled = errors.New("incident subsystem is disabled")
	ErrForensicsDisabled = errors.New("forensic collection is disabled")
	ErrPlaybooksDisabled = errors.New("playbook management is disabled")
	ErrLessonsDisabled   = errors.New("lesson learning is disabled")
)

// RespondRequest describes one incoming incident report.
type RespondRequest struct {
	Type               string   `json:"type"`
	Severity           string   `json:"severity"`
	Description        string   `json:"description,omitempty"`
	Indicators         []string `json:"indicators,omitempty"`
	AffectedSystems    []string `json:"affected_systems,omitempty"`
	AutoContainActions []string `json:"auto_contain_actions,omitempty"`
	ImpactCategories   []string `json:"impact_categories,omitempty"`
	AffectedUsers      int      `json:"affected_users,omitempty"`
	FinancialLoss      float64  `json:"financial_loss,omitempty"`
}

// RespondResult aggregates one full response pass: detection,
// containment, impact, and the opened investigation. Stage failures
// after detection land in Errors; they never abort the pass.
type RespondResult struct {
	Incident          *Incident          `json:"incident"`
	Containment       *ContainmentResult `json:"containment,omitempty"`
	Impact            *ImpactAssessment  `json:"impact,omitempty"`
	Analysis          *Analysis          `json:"analysis,omitempty"`
	Decision          decision.Decision  `json:"decision"`
	ActiveQuarantines int                `json:"active_quarantines"`
	Errors            []string           `json:"errors,omitempty"`
	RespondedAt       time.Time          `json:"responded_at"`
}

// RecoveryOutcome aggregates one executed recovery plan.
type RecoveryOutcome struct {
	Plan         *RecoveryPlan         `json:"plan"`
	Actions      []*RecoveryAction     `json:"actions"`
	Verification *RecoveryVerification `json:"verification"`
	Status       IncidentStatus        `json:"status"`
}

// IncidentAnalytics is the aggregated view over every incident
// evaluator.
type IncidentAnalytics struct {
	Subsystem       string                    `json:"subsystem"`
	Evaluators      map[string]map[string]int `json:"evaluators"`
	OpenAlerts      int                       `json:"open_alerts"`
	ActiveIncidents int                       `json:"active_incidents"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

// Orchestrator fans incident operations out across the eight
// evaluators, raises alerts through the rate gate, and records every
// operation on the audit trail.
type Orchestrator struct {
	cfg         *config.Config
	detector    *Detector
	containment *ContainmentEngine
	forensics   *ForensicsCollector
	rootCause   *RootCauseAnalyzer
	impact      *ImpactAssessor
	recovery    *RecoveryManager
	lessons     *LessonRecorder
	playbooks   *PlaybookManager
	matrix      *decision.Matrix
	auditLog    audit.Logger
	gate        *alertgate.Gate
	obs         *observability.Provider
	logger      *slog.Logger
	clock       func() time.Time
}

// Baseline detection patterns seeded into every orchestrator. Reported
// indicators matching two of a pattern's set flag the pattern.
var seedPatterns = []struct {
	name       string
	indicators []string
	severity   string
}{
	{"ransomware_signature", []string{"mass_file_encryption", "ransom_note", "shadow_copy_deletion"}, "critical"},
	{"bruteforce_login", []string{"failed_login_burst", "password_spray", "lockout_wave"}, "high"},
	{"data_exfiltration", []string{"large_egress", "unusual_destination", "offhours_transfer"}, "high"},
}

// NewOrchestrator wires the incident evaluators and seeds the baseline
// detection patterns.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	detector := NewDetector()
	for _, p := range seedPatterns {
		if _, err := detector.AddPattern(p.name, p.indicators, 2, p.severity); err != nil {
			return nil, fmt.Errorf("failed to seed detection patterns: %w", err)
		}
	}

	return &Orchestrator{
		cfg:         cfg,
		detector:    detector,
		containment: NewContainmentEngine(),
		forensics:   NewForensicsCollector(),
		rootCause:   NewRootCauseAnalyzer(),
		impact:      NewImpactAssessor(),
		recovery:    NewRecoveryManager(),
		lessons:     NewLessonRecorder(),
		playbooks:   NewPlaybookManager(),
		matrix:      decision.Default(),
		auditLog:    audit.Nop(),
		gate:        alertgate.New(nil, alertgate.Policy{}),
		logger:      slog.Default(),
		clock:       time.Now,
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

// WithEvidenceArchive attaches the offsite evidence store.
func (o *Orchestrator) WithEvidenceArchive(store archive.Store) *Orchestrator {
	o.forensics.WithArchive(store)
	return o
}

// WithKeyring attaches the evidence signing keyring.
func (o *Orchestrator) WithKeyring(k *keyring.Keyring) *Orchestrator {
	o.forensics.WithKeyring(k)
	return o
}

// WithClock overrides the time source on the orchestrator and every
// evaluator it owns.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	o.detector.WithClock(clock)
	o.containment.WithClock(clock)
	o.forensics.WithClock(clock)
	o.rootCause.WithClock(clock)
	o.impact.WithClock(clock)
	o.recovery.WithClock(clock)
	o.lessons.WithClock(clock)
	o.playbooks.WithClock(clock)
	return o
}

// Evaluator accessors for callers that need direct access.

func (o *Orchestrator) Detector() *Detector             { return o.detector }
func (o *Orchestrator) Containment() *ContainmentEngine { return o.containment }
func (o *Orchestrator) Forensics() *ForensicsCollector  { return o.forensics }
func (o *Orchestrator) RootCause() *RootCauseAnalyzer   { return o.rootCause }
func (o *Orchestrator) Impact() *ImpactAssessor         { return o.impact }
func (o *Orchestrator) Recovery() *RecoveryManager      { return o.recovery }
func (o *Orchestrator) Lessons() *LessonRecorder        { return o.lessons }
func (o *Orchestrator) Playbooks() *PlaybookManager     { return o.playbooks }

// RespondToIncident runs the full response pass: detect, optionally
// contain, assess impact, and open the investigation. The incident ends
// in investigating unless a stage moved it elsewhere.
func (o *Orchestrator) RespondToIncident(ctx context.Context, req RespondRequest) (*RespondResult, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "respond_to_incident")

	inc, err := o.detector.DetectIncident(req.Type, req.Severity, req.Description, req.Indicators, req.AffectedSystems)
	if err != nil {
		finish(err)
		return nil, err
	}
	result := &RespondResult{
		Incident:    inc,
		Decision:    o.matrix.Lookup(riskFromSeverity(inc.Severity), urgencyFromSeverity(inc.Severity)),
		RespondedAt: o.clock(),
	}

	if len(req.AutoContainActions) > 0 && o.cfg.AutoContain {
		containment, err := o.containment.ContainIncident(inc.ID, req.AutoContainActions, req.AffectedSystems)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("containment: %v", err))
		} else {
			result.Containment = containment
			if _, err := o.detector.UpdateStatus(inc.ID, string(StatusContained)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("status: %v", err))
			}
		}
	}

	assessment, err := o.impact.AssessImpact(inc.ID, string(SeverityToImpact(inc.Severity)), req.ImpactCategories, req.AffectedUsers, req.FinancialLoss)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("impact: %v", err))
	} else {
		result.Impact = assessment
	}

	analysis, err := o.rootCause.StartAnalysis(inc.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("analysis: %v", err))
	} else {
		result.Analysis = analysis
		if _, err := o.detector.UpdateStatus(inc.ID, string(StatusInvestigating)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("status: %v", err))
		}
	}
	result.ActiveQuarantines = len(o.containment.ActiveQuarantines())

	o.record(ctx, "respond_to_incident", inc.ID, map[string]interface{}{
		"type":        string(inc.Type),
		"severity":    string(inc.Severity),
		"contained":   result.Containment != nil,
		"quarantines": result.ActiveQuarantines,
	})
	o.logger.InfoContext(ctx, "incident response completed",
		"incident_id", inc.ID, "type", inc.Type, "severity", inc.Severity,
		"contained", result.Containment != nil, "errors", len(result.Errors))
	finish(nil)
	return result, nil
}

// ContainIncident applies containment actions to an incident and moves
// it to contained.
func (o *Orchestrator) ContainIncident(ctx context.Context, incidentID string, actions, targets []string) (*ContainmentResult, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "contain_incident")

	inc, err := o.detector.Incident(incidentID)
	if err != nil {
		finish(err)
		return nil, err
	}
	if inc.Status == StatusClosed {
		err := fmt.Errorf("incident %q: %w", incidentID, ErrIncidentClosed)
		finish(err)
		return nil, err
	}
	result, err := o.containment.ContainIncident(incidentID, actions, targets)
	if err != nil {
		finish(err)
		return nil, err
	}
	if _, err := o.detector.UpdateStatus(incidentID, string(StatusContained)); err != nil {
		finish(err)
		return nil, err
	}

	o.record(ctx, "contain_incident", incidentID, map[string]interface{}{
		"actions_taken": result.ActionsTaken,
		"quarantines":   len(result.QuarantineIDs),
		"suspensions":   len(result.SuspensionIDs),
	})
	finish(nil)
	return result, nil
}

// CollectEvidence stores forensic material for an existing incident.
func (o *Orchestrator) CollectEvidence(ctx context.Context, incidentID, evidenceType, content, collectedBy string) (*Evidence, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	if !o.cfg.ForensicCollection {
		return nil, ErrForensicsDisabled
	}
	ctx, finish := o.track(ctx, "collect_evidence")

	if _, err := o.detector.Incident(incidentID); err != nil {
		finish(err)
		return nil, err
	}
	ev, err := o.forensics.CollectEvidence(incidentID, evidenceType, content, collectedBy)
	if err != nil {
		finish(err)
		return nil, err
	}

	o.record(ctx, "collect_evidence", ev.ID, map[string]interface{}{
		"incident_id": incidentID,
		"type":        evidenceType,
		"hash":        ev.Hash,
	})
	finish(nil)
	return ev, nil
}

// VerifyEvidence checks one piece of evidence and raises a critical
// alert when it turns out tampered.
func (o *Orchestrator) VerifyEvidence(ctx context.Context, evidenceID string) (*IntegrityReport, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "verify_evidence")

	report, err := o.forensics.VerifyIntegrity(evidenceID)
	if err != nil {
		finish(err)
		return nil, err
	}
	if !report.Intact {
		ev, _ := o.forensics.Evidence(evidenceID)
		incidentID := ""
		if ev != nil {
			incidentID = ev.IncidentID
		}
		o.raiseAlert(ctx, incidentID, "evidence_tampered", severity.Critical,
			fmt.Sprintf("evidence %s failed integrity verification", evidenceID))
	}

	o.record(ctx, "verify_evidence", evidenceID, map[string]interface{}{
		"intact": report.Intact,
		"signed": report.Signed,
	})
	finish(nil)
	return report, nil
}

// TransferEvidenceCustody hands evidence to a new holder on the audit
// trail.
func (o *Orchestrator) TransferEvidenceCustody(ctx context.Context, evidenceID, from, to, reason string) (*Evidence, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "transfer_custody")

	ev, err := o.forensics.TransferCustody(evidenceID, from, to, reason)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "transfer_custody", evidenceID, map[string]interface{}{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	finish(nil)
	return ev, nil
}

// CorrelateIncidents links incidents by shared indicators and raises an
// alert when the link is strong enough to suggest one campaign.
func (o *Orchestrator) CorrelateIncidents(ctx context.Context, incidentIDs []string) (*Correlation, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "correlate_incidents")

	cor, err := o.detector.CorrelateIncidents(incidentIDs)
	if err != nil {
		finish(err)
		return nil, err
	}
	if cor.Strength >= 0.5 {
		o.raiseAlert(ctx, "", "correlated_incidents", severity.High,
			fmt.Sprintf("%d incidents share %d indicators", len(cor.IncidentIDs), len(cor.CommonIndicators)))
	}

	o.record(ctx, "correlate_incidents", cor.ID, map[string]interface{}{
		"incidents": len(cor.IncidentIDs),
		"strength":  cor.Strength,
	})
	finish(nil)
	return cor, nil
}

// UpdateIncidentStatus moves an incident to a new lifecycle stage.
func (o *Orchestrator) UpdateIncidentStatus(ctx context.Context, incidentID, status string) (*Incident, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "update_status")

	inc, err := o.detector.UpdateStatus(incidentID, status)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "update_status", incidentID, map[string]interface{}{"status": status})
	finish(nil)
	return inc, nil
}

// CloseIncident closes an incident for good and writes its summary to
// the audit trail, which carries it into any attached archive.
func (o *Orchestrator) CloseIncident(ctx context.Context, incidentID string) (*Incident, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "close_incident")

	inc, err := o.detector.UpdateStatus(incidentID, string(StatusClosed))
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "close_incident", incidentID, map[string]interface{}{
		"type":        string(inc.Type),
		"severity":    string(inc.Severity),
		"detected_at": inc.DetectedAt.Format(time.RFC3339),
		"evidence":    len(o.forensics.EvidenceFor(incidentID)),
	})
	o.logger.InfoContext(ctx, "incident closed", "incident_id", incidentID, "type", inc.Type)
	finish(nil)
	return inc, nil
}

// RecoverIncident plans and executes recovery for an incident, one
// checkpointed action per step, then verifies and leaves the incident
// recovering. Responders resolve it once the systems hold.
func (o *Orchestrator) RecoverIncident(ctx context.Context, incidentID string, steps []string) (*RecoveryOutcome, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "recover_incident")

	inc, err := o.detector.Incident(incidentID)
	if err != nil {
		finish(err)
		return nil, err
	}
	if inc.Status == StatusClosed {
		err := fmt.Errorf("incident %q: %w", incidentID, ErrIncidentClosed)
		finish(err)
		return nil, err
	}

	plan, err := o.recovery.CreatePlan(incidentID, steps)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome := &RecoveryOutcome{Plan: plan}
	for _, step := range plan.Steps {
		action, err := o.recovery.ExecuteRecovery(plan.ID, step)
		if err != nil {
			finish(err)
			return nil, err
		}
		outcome.Actions = append(outcome.Actions, action)
	}
	verification, err := o.recovery.VerifyRecovery(plan.ID, plan.Steps)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome.Verification = verification

	if _, err := o.detector.UpdateStatus(incidentID, string(StatusRecovering)); err != nil {
		finish(err)
		return nil, err
	}
	outcome.Status = StatusRecovering

	o.record(ctx, "recover_incident", incidentID, map[string]interface{}{
		"plan_id": plan.ID,
		"actions": len(outcome.Actions),
		"passed":  verification.AllPassed,
	})
	o.logger.InfoContext(ctx, "recovery executed",
		"incident_id", incidentID, "plan_id", plan.ID, "actions", len(outcome.Actions))
	finish(nil)
	return outcome, nil
}

// RecordLessons stores a post-incident retrospective.
func (o *Orchestrator) RecordLessons(ctx context.Context, incidentID string, wentWell, wentWrong, recommendations []string, recordedBy string) (*Lesson, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	if !o.cfg.LessonLearning {
		return nil, ErrLessonsDisabled
	}
	ctx, finish := o.track(ctx, "record_lessons")

	if _, err := o.detector.Incident(incidentID); err != nil {
		finish(err)
		return nil, err
	}
	lesson, err := o.lessons.RecordLesson(incidentID, wentWell, wentWrong, recommendations, recordedBy)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "record_lessons", lesson.ID, map[string]interface{}{
		"incident_id":     incidentID,
		"recommendations": len(lesson.Recommendations),
	})
	finish(nil)
	return lesson, nil
}

// GeneratePlaybook drafts a playbook for an incident's type out of the
// recommendations recorded against it.
func (o *Orchestrator) GeneratePlaybook(ctx context.Context, name, incidentID string) (*Playbook, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	if !o.cfg.PlaybookEnabled {
		return nil, ErrPlaybooksDisabled
	}
	ctx, finish := o.track(ctx, "generate_playbook")

	inc, err := o.detector.Incident(incidentID)
	if err != nil {
		finish(err)
		return nil, err
	}
	var recs []string
	for _, lesson := range o.lessons.LessonsFor(incidentID) {
		for _, rec := range lesson.Recommendations {
			recs = appendUnique(recs, rec)
		}
	}
	if len(recs) == 0 {
		err := fmt.Errorf("incident %q has no recorded recommendations", incidentID)
		finish(err)
		return nil, err
	}
	pb, err := o.playbooks.GenerateDraft(name, string(inc.Type), recs)
	if err != nil {
		finish(err)
		return nil, err
	}

	o.record(ctx, "generate_playbook", pb.ID, map[string]interface{}{
		"incident_id": incidentID,
		"name":        name,
		"procedures":  len(pb.Procedures),
	})
	finish(nil)
	return pb, nil
}

// PublishPlaybook releases a playbook edition.
func (o *Orchestrator) PublishPlaybook(ctx context.Context, playbookID string) (*Playbook, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	if !o.cfg.PlaybookEnabled {
		return nil, ErrPlaybooksDisabled
	}
	ctx, finish := o.track(ctx, "publish_playbook")

	pb, err := o.playbooks.Publish(playbookID)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "publish_playbook", playbookID, map[string]interface{}{
		"name":    pb.Name,
		"version": pb.Version,
	})
	finish(nil)
	return pb, nil
}

// RunPlaybookDrill dry-runs a playbook and records the drill.
func (o *Orchestrator) RunPlaybookDrill(ctx context.Context, playbookID string) (*PlaybookTest, error) {
	if !o.cfg.IncidentEnabled {
		return nil, ErrSubsystemDisabled
	}
	if !o.cfg.PlaybookEnabled {
		return nil, ErrPlaybooksDisabled
	}
	ctx, finish := o.track(ctx, "playbook_drill")

	test, err := o.playbooks.RunTest(playbookID)
	if err != nil {
		finish(err)
		return nil, err
	}
	o.record(ctx, "playbook_drill", playbookID, map[string]interface{}{
		"steps_run": test.StepsRun,
		"passed":    test.Passed,
	})
	finish(nil)
	return test, nil
}

// ResolveAlert closes an open incident alert.
func (o *Orchestrator) ResolveAlert(id string) error {
	return o.detector.ResolveAlert(id)
}

// OpenAlerts lists open incident alerts oldest first.
func (o *Orchestrator) OpenAlerts() []*IncidentAlert {
	return o.detector.OpenAlerts()
}

// Analytics aggregates counters from every evaluator.
func (o *Orchestrator) Analytics() *IncidentAnalytics {
	return &IncidentAnalytics{
		Subsystem: "incident",
		Evaluators: map[string]map[string]int{
			"incident_detector":   o.detector.Stats(),
			"containment_engine":  o.containment.Stats(),
			"forensics_collector": o.forensics.Stats(),
			"root_cause_analyzer": o.rootCause.Stats(),
			"impact_assessor":     o.impact.Stats(),
			"recovery_manager":    o.recovery.Stats(),
			"lesson_recorder":     o.lessons.Stats(),
			"playbook_manager":    o.playbooks.Stats(),
		},
		OpenAlerts:      len(o.detector.OpenAlerts()),
		ActiveIncidents: o.detector.Stats()["active"],
		GeneratedAt:     o.clock(),
	}
}

// raiseAlert pushes one operational alert through the rate gate onto
// the detector's ledger. Returns nil when the gate throttles the key.
func (o *Orchestrator) raiseAlert(ctx context.Context, incidentID, alertType string, sev severity.Level, message string) *IncidentAlert {
	key := "incident:" + alertType + ":" + string(sev)
	if !o.gate.Permit(ctx, key) {
		o.logger.WarnContext(ctx, "alert throttled", "alert_type", alertType, "severity", sev)
		return nil
	}
	alert := o.detector.EmitAlert(incidentID, alertType, sev, message)
	o.record(ctx, "raise_alert", alert.ID, map[string]interface{}{
		"alert_type": alertType,
		"severity":   string(sev),
	})
	return alert
}

func (o *Orchestrator) record(ctx context.Context, action, resource string, metadata map[string]interface{}) {
	if err := o.auditLog.Record(ctx, audit.EventIncident, action, resource, metadata); err != nil {
		o.logger.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}

func (o *Orchestrator) track(ctx context.Context, op string) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackOperation(ctx, "incident."+op,
		observability.Subsystem("incident"),
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
