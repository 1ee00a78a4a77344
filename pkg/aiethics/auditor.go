package aiethics

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

// ComplianceVerdict summarizes an audit outcome.
type ComplianceVerdict string

const (
	VerdictCompliant    ComplianceVerdict = "compliant"
	VerdictMinorIssue   ComplianceVerdict = "minor_issue"
	VerdictNonCompliant ComplianceVerdict = "non_compliant"
)

// Decision is one audited model decision.
type Decision struct {
	ID         string            `json:"id"`
	ModelID    string            `json:"model_id"`
	Input      map[string]string `json:"input,omitempty"`
	Output     string            `json:"output"`
	Positive   bool              `json:"positive"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
}

// AuditIssue is one finding from an audit pass.
type AuditIssue struct {
	Type     string  `json:"type"` // outcome_disparity, low_confidence_pattern
	Major    bool    `json:"major"`
	Detail   string  `json:"detail"`
	Measure  float64 `json:"measure"`
	Affected string  `json:"affected,omitempty"` // protected attribute, if applicable
}

// AuditReport is the stored result of one audit pass.
type AuditReport struct {
	ID        string            `json:"id"`
	ModelID   string            `json:"model_id"`
	Reviewed  int               `json:"reviewed"`
	Issues    []AuditIssue      `json:"issues"`
	Verdict   ComplianceVerdict `json:"verdict"`
	AuditedAt time.Time         `json:"audited_at"`
}

// DecisionAuditor keeps an append-only, FIFO-bounded log of model
// decisions and audits the tail for disparity and confidence issues.
type DecisionAuditor struct {
	mu             sync.RWMutex
	decisions      []*Decision
	reports        map[string]*AuditReport
	retentionLimit int
	stats          map[string]int
	clock          func() time.Time
}

// NewDecisionAuditor creates an auditor bounded at 10000 decisions.
func NewDecisionAuditor() *DecisionAuditor {
	return &DecisionAuditor{
		reports:        make(map[string]*AuditReport),
		retentionLimit: 10000,
		stats:          map[string]int{"logged": 0, "audits": 0, "issues": 0, "truncated": 0},
		clock:          time.Now,
	}
}

// WithClock overrides the time source. Returns the auditor for chaining.
func (a *DecisionAuditor) WithClock(clock func() time.Time) *DecisionAuditor {
	a.clock = clock
	return a
}

// SetRetentionLimit adjusts the FIFO bound; must be positive.
// Truncation applies on the next log call.
func (a *DecisionAuditor) SetRetentionLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("retention limit must be positive, got %d", limit)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retentionLimit = limit
	return nil
}

// LogDecision appends a decision, truncating the oldest entries past
// the retention limit.
func (a *DecisionAuditor) LogDecision(modelID, output string, positive bool, confidence float64, input map[string]string) (*Decision, error) {
	if modelID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of [0,1]", confidence)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dec := &Decision{
		ID:         ident.New(ident.PrefixDecision),
		ModelID:    modelID,
		Input:      input,
		Output:     output,
		Positive:   positive,
		Confidence: confidence,
		Timestamp:  a.clock(),
	}
	a.decisions = append(a.decisions, dec)
	a.stats["logged"]++

	if over := len(a.decisions) - a.retentionLimit; over > 0 {
		a.decisions = a.decisions[over:]
		a.stats["truncated"] += over
	}
	return dec, nil
}

// Audit reviews the most recent lastN decisions. When protectedAttr
// names an input field, per-group positive-output rates are compared.
func (a *DecisionAuditor) Audit(modelID string, lastN int, protectedAttr string) (*AuditReport, error) {
	if lastN <= 0 {
		return nil, fmt.Errorf("audit window must be positive, got %d", lastN)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tail := a.tailLocked(modelID, lastN)
	report := &AuditReport{
		ID:        ident.New(ident.PrefixAuditReport),
		ModelID:   modelID,
		Reviewed:  len(tail),
		Verdict:   VerdictCompliant,
		AuditedAt: a.clock(),
	}

	if len(tail) > 0 {
		if protectedAttr != "" {
			if issue := disparityIssue(tail, protectedAttr); issue != nil {
				report.Issues = append(report.Issues, *issue)
			}
		}
		if issue := lowConfidenceIssue(tail); issue != nil {
			report.Issues = append(report.Issues, *issue)
		}
	}

	for _, issue := range report.Issues {
		if issue.Major {
			report.Verdict = VerdictNonCompliant
			break
		}
		report.Verdict = VerdictMinorIssue
	}

	a.reports[report.ID] = report
	a.stats["audits"]++
	a.stats["issues"] += len(report.Issues)
	return report, nil
}

func (a *DecisionAuditor) tailLocked(modelID string, lastN int) []*Decision {
	var out []*Decision
	for i := len(a.decisions) - 1; i >= 0 && len(out) < lastN; i-- {
		d := a.decisions[i]
		if modelID == "" || d.ModelID == modelID {
			out = append(out, d)
		}
	}
	// restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// disparityIssue compares positive-output rates across groups of the
// protected attribute: gap > 0.2 is minor, > 0.4 major.
func disparityIssue(decisions []*Decision, protectedAttr string) *AuditIssue {
	total := make(map[string]int)
	positive := make(map[string]int)
	for _, d := range decisions {
		group, ok := d.Input[protectedAttr]
		if !ok {
			continue
		}
		total[group]++
		if d.Positive {
			positive[group]++
		}
	}
	if len(total) < 2 {
		return nil
	}

	rates := make(map[string]float64, len(total))
	for group, n := range total {
		rates[group] = float64(positive[group]) / float64(n)
	}
	min, max := minMax(rates)
	gap := max - min
	if gap <= 0.2 {
		return nil
	}
	return &AuditIssue{
		Type:     "outcome_disparity",
		Major:    gap > 0.4,
		Detail:   fmt.Sprintf("positive-output gap %.3f across %s groups", gap, protectedAttr),
		Measure:  gap,
		Affected: protectedAttr,
	}
}

// lowConfidenceIssue flags when more than 30% of reviewed decisions
// have confidence below 0.5.
func lowConfidenceIssue(decisions []*Decision) *AuditIssue {
	low := 0
	for _, d := range decisions {
		if d.Confidence < 0.5 {
			low++
		}
	}
	fraction := float64(low) / float64(len(decisions))
	if fraction <= 0.3 {
		return nil
	}
	return &AuditIssue{
		Type:    "low_confidence_pattern",
		Major:   false,
		Detail:  fmt.Sprintf("%.0f%% of reviewed decisions below 0.5 confidence", fraction*100),
		Measure: fraction,
	}
}

// Report returns a stored audit report by id.
func (a *DecisionAuditor) Report(id string) (*AuditReport, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	report, ok := a.reports[id]
	if !ok {
		return nil, fmt.Errorf("audit report %q not found", id)
	}
	return report, nil
}

// LoggedCount returns the number of currently retained decisions.
func (a *DecisionAuditor) LoggedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.decisions)
}

// Stats returns the auditor's counters.
func (a *DecisionAuditor) Stats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}
