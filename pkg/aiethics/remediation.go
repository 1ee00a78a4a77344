package aiethics

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

// Suggestion is a deterministic remediation recommendation.
type Suggestion struct {
	ID        string         `json:"id"`
	IssueType string         `json:"issue_type"`
	Severity  severity.Level `json:"severity"`
	Actions   []string       `json:"actions"`
	Rationale string         `json:"rationale"`
	CreatedAt time.Time      `json:"created_at"`
}

// PlanStep is one ordered step in a remediation plan.
type PlanStep struct {
	Order     int      `json:"order"`
	IssueType string   `json:"issue_type"`
	Actions   []string `json:"actions"`
}

// Plan aggregates suggestions for multiple issues.
type Plan struct {
	ID        string         `json:"id"`
	Steps     []PlanStep     `json:"steps"`
	Severity  severity.Level `json:"severity"` // highest among the issues
	CreatedAt time.Time      `json:"created_at"`
}

// RemediationSuggester maps detected issues to fixed suggestion
// templates.
type RemediationSuggester struct {
	mu          sync.RWMutex
	suggestions map[string]*Suggestion
	plans       map[string]*Plan
	stats       map[string]int
	clock       func() time.Time
}

// NewRemediationSuggester creates an empty suggester.
func NewRemediationSuggester() *RemediationSuggester {
	return &RemediationSuggester{
		suggestions: make(map[string]*Suggestion),
		plans:       make(map[string]*Plan),
		stats:       map[string]int{"suggestions": 0, "plans": 0},
		clock:       time.Now,
	}
}

// WithClock overrides the time source. Returns the suggester for chaining.
func (r *RemediationSuggester) WithClock(clock func() time.Time) *RemediationSuggester {
	r.clock = clock
	return r
}

// biasActions returns the template for a bias finding type.
func biasActions(issueType string) ([]string, string) {
	switch issueType {
	case "demographic_parity":
		return []string{
			"apply instance reweighting to balance positive-outcome rates",
			"introduce adversarial debiasing during training",
		}, "demographic parity gap indicates unequal outcome rates"
	case "disparate_impact":
		return []string{
			"apply disparate-impact remover to transform feature distributions",
			"enable continuous disparate-impact monitoring",
		}, "impact ratio below threshold indicates adverse impact"
	case "representation":
		return []string{
			"resample underrepresented groups to uniform expectation",
			"commission balanced data collection for future training",
		}, "group sizes deviate substantially from uniform representation"
	default:
		return []string{
			"schedule a general fairness audit of the model pipeline",
		}, "unrecognized issue type; full audit recommended"
	}
}

// SuggestForBias produces a suggestion for one bias finding.
func (r *RemediationSuggester) SuggestForBias(finding Finding) (*Suggestion, error) {
	actions, rationale := biasActions(finding.Type)

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Suggestion{
		ID:        ident.New(ident.PrefixSuggestion),
		IssueType: finding.Type,
		Severity:  finding.Severity,
		Actions:   actions,
		Rationale: rationale,
		CreatedAt: r.clock(),
	}
	r.suggestions[s.ID] = s
	r.stats["suggestions"]++
	return s, nil
}

// fairnessSeverity buckets a metric score.
func fairnessSeverity(score float64) severity.Level {
	switch {
	case score < 0.5:
		return severity.Critical
	case score < 0.7:
		return severity.High
	case score < 0.8:
		return severity.Medium
	default:
		return severity.Low
	}
}

// SuggestForFairness produces a suggestion for one failed metric.
func (r *RemediationSuggester) SuggestForFairness(metric string, score float64) (*Suggestion, error) {
	if metric == "" {
		return nil, fmt.Errorf("metric name is required")
	}

	var actions []string
	switch metric {
	case "demographic_parity":
		actions = []string{"calibrate decision thresholds per group", "review feature proxies for protected attributes"}
	case "equal_opportunity":
		actions = []string{"rebalance training labels for positive class", "tune per-group classification thresholds"}
	case "equalized_odds":
		actions = []string{"apply post-processing odds equalization", "inspect error-rate asymmetries per group"}
	case "calibration":
		actions = []string{"recalibrate predicted probabilities per group", "validate score reliability diagrams"}
	case "group_fairness":
		actions = []string{"investigate per-group accuracy drivers", "augment training data for low-accuracy groups"}
	default:
		actions = []string{"schedule a general fairness audit of the model pipeline"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Suggestion{
		ID:        ident.New(ident.PrefixSuggestion),
		IssueType: "fairness:" + metric,
		Severity:  fairnessSeverity(score),
		Actions:   actions,
		Rationale: fmt.Sprintf("metric %s scored %.3f", metric, score),
		CreatedAt: r.clock(),
	}
	r.suggestions[s.ID] = s
	r.stats["suggestions"]++
	return s, nil
}

// CreatePlan aggregates suggestions for multiple findings into an
// ordered remediation plan.
func (r *RemediationSuggester) CreatePlan(findings []Finding) (*Plan, error) {
	if len(findings) == 0 {
		return nil, fmt.Errorf("at least one finding is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	plan := &Plan{
		ID:        ident.New(ident.PrefixPlan),
		Severity:  severity.None,
		CreatedAt: r.clock(),
	}
	for i, f := range findings {
		actions, _ := biasActions(f.Type)
		plan.Steps = append(plan.Steps, PlanStep{
			Order:     i + 1,
			IssueType: f.Type,
			Actions:   actions,
		})
		plan.Severity = severity.Max(plan.Severity, f.Severity)
	}
	r.plans[plan.ID] = plan
	r.stats["plans"]++
	return plan, nil
}

// Plan returns a stored plan by id.
func (r *RemediationSuggester) Plan(id string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", id)
	}
	return p, nil
}

// Stats returns the suggester's counters.
func (r *RemediationSuggester) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}
