package aiethics

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
	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/observability"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var ErrSubsystemDisabled = errors.New("ai-ethics subsystem is disabled")

// ModelEvaluationRequest describes one model evaluation pass.
type ModelEvaluationRequest struct {
	ModelID        string                   `json:"model_id"`
	DatasetName    string                   `json:"dataset_name"`
	Records        []map[string]interface{} `json:"records"`
	ProtectedAttrs []string                 `json:"protected_attrs"`
	OutcomeAttr    string                   `json:"outcome_attr"`
	ActualField    string                   `json:"actual_field,omitempty"`
	PredictedField string                   `json:"predicted_field,omitempty"`
	RuleContext    map[string]interface{}   `json:"rule_context,omitempty"`
}

// ModelEvaluation aggregates the fan-out results of one evaluation pass.
// Evaluator failures are collected in Errors; they never abort the pass.
type ModelEvaluation struct {
	ID          string                `json:"id"`
	ModelID     string                `json:"model_id"`
	Bias        *Detection            `json:"bias,omitempty"`
	Fairness    []*FairnessEvaluation `json:"fairness,omitempty"`
	Rules       *RuleEvaluation       `json:"rules,omitempty"`
	Remediation *Plan                 `json:"remediation,omitempty"`
	Alerts      []*Alert              `json:"alerts,omitempty"`
	Severity    severity.Level        `json:"severity"`
	Action      decision.Decision     `json:"action"`
	Errors      []string              `json:"errors,omitempty"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

// AuditOutcome pairs a decision audit with the disparity check run
// alongside it.
type AuditOutcome struct {
	Report    *AuditReport     `json:"report"`
	Disparity *DisparityResult `json:"disparity,omitempty"`
	Alerts    []*Alert         `json:"alerts,omitempty"`
}

// Analytics is the aggregated view over every ethics evaluator.
type Analytics struct {
	Subsystem   string                    `json:"subsystem"`
	Evaluators  map[string]map[string]int `json:"evaluators"`
	OpenAlerts  int                       `json:"open_alerts"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Orchestrator fans AI-ethics operations out across the eight
// evaluators, raises alerts through the rate gate, and records every
// operation on the audit trail. Evaluators own their stores; the
// orchestrator holds no record state of its own.
type Orchestrator struct {
	cfg          *config.Config
	bias         *BiasDetector
	fairness     *FairnessAnalyzer
	rules        *RuleEngine
	auditor      *DecisionAuditor
	alerter      *ViolationAlerter
	monitor      *ProtectedClassMonitor
	remediation  *RemediationSuggester
	transparency *TransparencyReporter
	matrix       *decision.Matrix
	auditLog     audit.Logger
	gate         *alertgate.Gate
	obs          *observability.Provider
	logger       *slog.Logger
	clock        func() time.Time
}

// NewOrchestrator wires the ethics evaluators behind a flat API.
// Optional collaborators default to no-ops; use the With* methods to
// attach real ones.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	rules, err := NewRuleEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}
	return &Orchestrator{
		cfg:          cfg,
		bias:         NewBiasDetector(),
		fairness:     NewFairnessAnalyzer(),
		rules:        rules,
		auditor:      NewDecisionAuditor(),
		alerter:      NewViolationAlerter(),
		monitor:      NewProtectedClassMonitor(),
		remediation:  NewRemediationSuggester(),
		transparency: NewTransparencyReporter(nil),
		matrix:       decision.Default(),
		auditLog:     audit.Nop(),
		gate:         alertgate.New(nil, alertgate.Policy{}),
		logger:       slog.Default(),
		clock:        time.Now,
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

// WithArchive attaches an archive store for published disclosures.
func (o *Orchestrator) WithArchive(s archive.Store) *Orchestrator {
	o.transparency.SetArchive(s)
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
	o.bias.WithClock(clock)
	o.fairness.WithClock(clock)
	o.rules.WithClock(clock)
	o.auditor.WithClock(clock)
	o.alerter.WithClock(clock)
	o.monitor.WithClock(clock)
	o.remediation.WithClock(clock)
	o.transparency.WithClock(clock)
	return o
}

// Evaluator accessors for callers that need direct access.

func (o *Orchestrator) Bias() *BiasDetector                 { return o.bias }
func (o *Orchestrator) Fairness() *FairnessAnalyzer         { return o.fairness }
func (o *Orchestrator) Rules() *RuleEngine                  { return o.rules }
func (o *Orchestrator) Auditor() *DecisionAuditor           { return o.auditor }
func (o *Orchestrator) Alerter() *ViolationAlerter          { return o.alerter }
func (o *Orchestrator) Monitor() *ProtectedClassMonitor     { return o.monitor }
func (o *Orchestrator) Remediation() *RemediationSuggester  { return o.remediation }
func (o *Orchestrator) Transparency() *TransparencyReporter { return o.transparency }

// EvaluateModel runs the full ethics fan-out over one dataset: bias
// scan, per-attribute fairness, rule evaluation, remediation planning,
// and alerting. Evaluator failures become entries in the result's
// Errors slice; the pass itself fails only on an unusable request.
func (o *Orchestrator) EvaluateModel(ctx context.Context, req ModelEvaluationRequest) (*ModelEvaluation, error) {
	if !o.cfg.AIEthicsEnabled {
		return nil, ErrSubsystemDisabled
	}
	if req.ModelID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("%q: %w", req.DatasetName, ErrEmptyDataset)
	}

	ctx, finish := o.track(ctx, "evaluate_model")
	eval := &ModelEvaluation{
		ID:          ident.New(ident.PrefixModelEval),
		ModelID:     req.ModelID,
		Severity:    severity.None,
		EvaluatedAt: o.clock(),
	}

	var findings []Finding

	if o.cfg.BiasDetection {
		dataset, err := o.bias.AddDataset(req.DatasetName, req.Records, req.ProtectedAttrs, req.OutcomeAttr)
		if err != nil {
			eval.Errors = append(eval.Errors, fmt.Sprintf("bias: %v", err))
		} else if detection, err := o.bias.ScanForBias(dataset.ID); err != nil {
			eval.Errors = append(eval.Errors, fmt.Sprintf("bias: %v", err))
		} else {
			eval.Bias = detection
			eval.Severity = severity.Max(eval.Severity, detection.Severity)
			findings = append(findings, detection.Findings...)
			if severity.AtLeast(detection.Severity, severity.Medium) {
				if a := o.raiseAlert(ctx, "bias_detected", detection.Severity, map[string]interface{}{
					"model_id":     req.ModelID,
					"detection_id": detection.ID,
					"bias_score":   detection.BiasScore,
				}); a != nil {
					eval.Alerts = append(eval.Alerts, a)
				}
			}
		}
	}

	if o.cfg.FairnessMetrics && req.ActualField != "" && req.PredictedField != "" {
		for _, attr := range req.ProtectedAttrs {
			preds := PredictionsFromRecords(req.Records, attr, req.ActualField, req.PredictedField)
			fe, err := o.fairness.EvaluateFairness(attr, preds)
			if err != nil {
				eval.Errors = append(eval.Errors, fmt.Sprintf("fairness[%s]: %v", attr, err))
				continue
			}
			eval.Fairness = append(eval.Fairness, fe)
			if !fe.IsFair {
				sev := fairnessSeverity(fe.FairnessScore)
				eval.Severity = severity.Max(eval.Severity, sev)
				if a := o.raiseAlert(ctx, "fairness_violation", sev, map[string]interface{}{
					"model_id":       req.ModelID,
					"protected_attr": attr,
					"fairness_score": fe.FairnessScore,
				}); a != nil {
					eval.Alerts = append(eval.Alerts, a)
				}
			}
		}
	}

	ruleCtx := map[string]interface{}{"model_id": req.ModelID}
	if eval.Bias != nil {
		ruleCtx["bias_score"] = eval.Bias.BiasScore
	}
	if len(eval.Fairness) > 0 {
		low := 1.0
		for _, fe := range eval.Fairness {
			if fe.FairnessScore < low {
				low = fe.FairnessScore
			}
		}
		ruleCtx["fairness_score"] = low
	}
	for k, v := range req.RuleContext {
		ruleCtx[k] = v
	}
	if re, err := o.rules.Evaluate(ruleCtx); err != nil {
		eval.Errors = append(eval.Errors, fmt.Sprintf("rules: %v", err))
	} else {
		eval.Rules = re
		for _, v := range re.Violations {
			eval.Severity = severity.Max(eval.Severity, v.Severity)
			if a := o.raiseAlert(ctx, "rule_violation", v.Severity, map[string]interface{}{
				"model_id":  req.ModelID,
				"rule_id":   v.RuleID,
				"rule_name": v.RuleName,
			}); a != nil {
				eval.Alerts = append(eval.Alerts, a)
			}
		}
	}

	if len(findings) > 0 {
		if plan, err := o.remediation.CreatePlan(findings); err != nil {
			eval.Errors = append(eval.Errors, fmt.Sprintf("remediation: %v", err))
		} else {
			eval.Remediation = plan
		}
	}

	eval.Action = o.matrix.Lookup(riskFromSeverity(eval.Severity), urgencyFromSeverity(eval.Severity))

	o.record(ctx, "evaluate_model", req.ModelID, map[string]interface{}{
		"evaluation_id": eval.ID,
		"severity":      string(eval.Severity),
		"action":        string(eval.Action.Action),
		"alerts":        len(eval.Alerts),
		"errors":        len(eval.Errors),
	})
	o.logger.InfoContext(ctx, "model evaluation complete",
		"model_id", req.ModelID,
		"evaluation_id", eval.ID,
		"severity", eval.Severity,
		"action", eval.Action.Action,
	)
	finish(nil)
	return eval, nil
}

// RecordDecision logs a model decision for later auditing and feeds
// the protected-class monitor.
func (o *Orchestrator) RecordDecision(ctx context.Context, modelID, output string, positive bool, confidence float64, input map[string]string, protectedAttrs []string) (*Decision, error) {
	if !o.cfg.AIEthicsEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "record_decision")

	dec, err := o.auditor.LogDecision(modelID, output, positive, confidence, input)
	if err != nil {
		finish(err)
		return nil, err
	}
	for _, attr := range protectedAttrs {
		value, ok := input[attr]
		if !ok {
			continue
		}
		if _, err := o.monitor.Observe(attr, value, positive, modelID); err != nil {
			o.logger.WarnContext(ctx, "protected-class observation failed", "attribute", attr, "error", err)
		}
	}
	o.record(ctx, "record_decision", modelID, map[string]interface{}{"decision_id": dec.ID})
	finish(nil)
	return dec, nil
}

// AuditModel audits the recent decision tail of one model and checks
// disparity for the given protected attribute. A non-compliant verdict
// or a found disparity raises alerts.
func (o *Orchestrator) AuditModel(ctx context.Context, modelID string, lastN int, protectedAttr string) (*AuditOutcome, error) {
	if !o.cfg.AIEthicsEnabled {
		return nil, ErrSubsystemDisabled
	}
	ctx, finish := o.track(ctx, "audit_model")

	report, err := o.auditor.Audit(modelID, lastN, protectedAttr)
	if err != nil {
		finish(err)
		return nil, err
	}
	outcome := &AuditOutcome{Report: report}

	switch report.Verdict {
	case VerdictNonCompliant:
		if a := o.raiseAlert(ctx, "audit_non_compliance", severity.High, map[string]interface{}{
			"model_id":  modelID,
			"report_id": report.ID,
			"issues":    len(report.Issues),
		}); a != nil {
			outcome.Alerts = append(outcome.Alerts, a)
		}
	case VerdictMinorIssue:
		if a := o.raiseAlert(ctx, "audit_minor_issue", severity.Medium, map[string]interface{}{
			"model_id":  modelID,
			"report_id": report.ID,
			"issues":    len(report.Issues),
		}); a != nil {
			outcome.Alerts = append(outcome.Alerts, a)
		}
	}

	if protectedAttr != "" {
		disparity, err := o.monitor.CheckDisparity(protectedAttr, lastN)
		if err != nil {
			o.logger.WarnContext(ctx, "disparity check failed", "attribute", protectedAttr, "error", err)
		} else {
			outcome.Disparity = disparity
			if disparity.DisparityFound {
				if a := o.raiseAlert(ctx, "protected_class_disparity", disparity.Severity, map[string]interface{}{
					"attribute": protectedAttr,
					"gap":       disparity.Gap,
				}); a != nil {
					outcome.Alerts = append(outcome.Alerts, a)
				}
			}
		}
	}

	o.record(ctx, "audit_model", modelID, map[string]interface{}{
		"report_id": report.ID,
		"verdict":   string(report.Verdict),
		"alerts":    len(outcome.Alerts),
	})
	finish(nil)
	return outcome, nil
}

// PublishReport assembles a stakeholder report from the current
// analytics and publishes its disclosure.
func (o *Orchestrator) PublishReport(ctx context.Context, title string) (*StakeholderReport, *Disclosure, error) {
	if !o.cfg.AIEthicsEnabled {
		return nil, nil, ErrSubsystemDisabled
	}
	if !o.cfg.TransparencyReports {
		return nil, nil, fmt.Errorf("transparency reports are disabled")
	}
	ctx, finish := o.track(ctx, "publish_report")

	analytics := o.Analytics()
	sections := make([]ReportSection, 0, len(analytics.Evaluators))
	for name, stats := range analytics.Evaluators {
		sections = append(sections, ReportSection{
			Title:   name,
			Content: fmt.Sprintf("%v", stats),
		})
	}

	var findings, recommendations []string
	for _, a := range o.alerter.OpenAlerts() {
		findings = append(findings, fmt.Sprintf("open %s alert (%s)", a.ViolationType, a.Severity))
	}
	if len(findings) > 0 {
		recommendations = append(recommendations, "resolve open ethics alerts before the next review cycle")
	}

	report, disc, err := o.transparency.CreateStakeholderReport(title, sections, findings, recommendations)
	if err != nil {
		finish(err)
		return nil, nil, err
	}
	disc, err = o.transparency.Publish(ctx, disc.ID)
	if err != nil {
		finish(err)
		return nil, nil, err
	}

	o.record(ctx, "publish_report", report.ID, map[string]interface{}{
		"disclosure_id": disc.ID,
		"archive_hash":  disc.ArchiveHash,
	})
	finish(nil)
	return report, disc, nil
}

// Analytics aggregates counters from every evaluator.
func (o *Orchestrator) Analytics() *Analytics {
	return &Analytics{
		Subsystem: "ai-ethics",
		Evaluators: map[string]map[string]int{
			"bias_detector":           o.bias.Stats(),
			"fairness_analyzer":       o.fairness.Stats(),
			"rule_engine":             o.rules.Stats(),
			"decision_auditor":        o.auditor.Stats(),
			"violation_alerter":       o.alerter.Stats(),
			"protected_class_monitor": o.monitor.Stats(),
			"remediation_suggester":   o.remediation.Stats(),
			"transparency_reporter":   o.transparency.Stats(),
		},
		OpenAlerts:  len(o.alerter.OpenAlerts()),
		GeneratedAt: o.clock(),
	}
}

// raiseAlert pushes one alert through the rate gate. Returns nil when
// alerting is disabled, the gate throttles the key, or the alerter
// rejects the input.
func (o *Orchestrator) raiseAlert(ctx context.Context, violationType string, sev severity.Level, details map[string]interface{}) *Alert {
	if !o.cfg.AutoAlert {
		return nil
	}
	key := "ethics:" + violationType + ":" + string(sev)
	if !o.gate.Permit(ctx, key) {
		o.logger.WarnContext(ctx, "alert throttled", "violation_type", violationType, "severity", sev)
		return nil
	}
	alert, err := o.alerter.RaiseAlert(violationType, sev, details)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to raise alert", "violation_type", violationType, "error", err)
		return nil
	}
	o.record(ctx, "raise_alert", alert.ID, map[string]interface{}{
		"violation_type": violationType,
		"severity":       string(sev),
	})
	return alert
}

func (o *Orchestrator) record(ctx context.Context, action, resource string, metadata map[string]interface{}) {
	if err := o.auditLog.Record(ctx, audit.EventEthics, action, resource, metadata); err != nil {
		o.logger.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}

func (o *Orchestrator) track(ctx context.Context, op string) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackOperation(ctx, "aiethics."+op,
		observability.Subsystem("ai-ethics"),
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
