package compliance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrPolicyNotFound    = errors.New("policy not found")
	ErrExceptionNotFound = errors.New("exception not found")
)

// PolicyOperator selects how a policy condition compares the context
// value against the expected value.
type PolicyOperator string

const (
	OpExists    PolicyOperator = "exists"
	OpEquals    PolicyOperator = "equals"
	OpNotEquals PolicyOperator = "not_equals"
	OpMin       PolicyOperator = "min" // violated when value < expected
	OpMax       PolicyOperator = "max" // violated when value > expected
	OpCEL       PolicyOperator = "cel" // expression states the requirement
)

// ParseOperator validates a policy operator label.
func ParseOperator(s string) (PolicyOperator, error) {
	switch op := PolicyOperator(s); op {
	case OpExists, OpEquals, OpNotEquals, OpMin, OpMax, OpCEL:
		return op, nil
	default:
		return "", fmt.Errorf("invalid operator: %q", s)
	}
}

// Policy declares one enforced condition. Threshold policies compare
// a context field against an expected value; CEL policies compile an
// expression that must evaluate true for the context to comply. A
// failed or indeterminate CEL evaluation counts as a violation.
type Policy struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Category     string         `json:"category,omitempty"`
	FrameworkKey string         `json:"framework_key,omitempty"`
	Field        string         `json:"field,omitempty"`
	Operator     PolicyOperator `json:"operator"`
	Expected     interface{}    `json:"expected,omitempty"`
	Expression   string         `json:"expression,omitempty"`
	Severity     severity.Level `json:"severity"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PolicyException waives a policy while active.
type PolicyException struct {
	ID        string     `json:"id"`
	PolicyID  string     `json:"policy_id"`
	Reason    string     `json:"reason"`
	GrantedBy string     `json:"granted_by"`
	Active    bool       `json:"active"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Violation is a stored record of one failed policy condition.
// Remediations reference violations but never change their status.
type Violation struct {
	ID         string         `json:"id"`
	PolicyID   string         `json:"policy_id"`
	PolicyName string         `json:"policy_name"`
	Field      string         `json:"field,omitempty"`
	Observed   interface{}    `json:"observed,omitempty"`
	Expected   interface{}    `json:"expected,omitempty"`
	Severity   severity.Level `json:"severity"`
	Status     string         `json:"status"` // always "open"; closure is a human act outside this engine
	DetectedAt time.Time      `json:"detected_at"`
}

// Remediation is a symbolic corrective record appended when
// auto-remediation is enabled. It does not modify the evaluated
// context and never closes the violation it references.
type Remediation struct {
	ID          string    `json:"id"`
	ViolationID string    `json:"violation_id"`
	PolicyID    string    `json:"policy_id"`
	Action      string    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyEvaluation is the stored result of one context enforcement.
type PolicyEvaluation struct {
	ID                string       `json:"id"`
	Compliant         bool         `json:"compliant"`
	Violations        []*Violation `json:"violations,omitempty"`
	PoliciesChecked   int          `json:"policies_checked"`
	ExceptionsApplied int          `json:"exceptions_applied"`
	Remediated        int          `json:"remediated"`
	EvaluatedAt       time.Time    `json:"evaluated_at"`
}

// PolicyEnforcer evaluates context maps against declared policies.
type PolicyEnforcer struct {
	mu            sync.RWMutex
	policies      map[string]*Policy
	exceptions    map[string]*PolicyException
	violations    map[string]*Violation
	remediations  map[string]*Remediation
	evaluations   map[string]*PolicyEvaluation
	env           *cel.Env
	programs      map[string]cel.Program // policy id -> compiled requirement
	autoRemediate bool
	stats         map[string]int
	clock         func() time.Time
}

// NewPolicyEnforcer creates an enforcer with an empty policy set.
func NewPolicyEnforcer() (*PolicyEnforcer, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &PolicyEnforcer{
		policies:     make(map[string]*Policy),
		exceptions:   make(map[string]*PolicyException),
		violations:   make(map[string]*Violation),
		remediations: make(map[string]*Remediation),
		evaluations:  make(map[string]*PolicyEvaluation),
		env:          env,
		programs:     make(map[string]cel.Program),
		stats: map[string]int{
			"policies": 0, "evaluations": 0, "violations": 0,
			"remediations": 0, "exceptions": 0,
		},
		clock: time.Now,
	}, nil
}

// WithClock overrides the time source. Returns the enforcer for chaining.
func (p *PolicyEnforcer) WithClock(clock func() time.Time) *PolicyEnforcer {
	p.clock = clock
	return p
}

// SetAutoRemediate toggles symbolic remediation records on violation.
func (p *PolicyEnforcer) SetAutoRemediate(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoRemediate = enabled
}

// AddPolicy declares a threshold policy and activates it.
func (p *PolicyEnforcer) AddPolicy(name, category, field string, op PolicyOperator, expected interface{}, sev severity.Level) (*Policy, error) {
	if name == "" || field == "" {
		return nil, fmt.Errorf("policy name and field are required")
	}
	if _, err := ParseOperator(string(op)); err != nil {
		return nil, err
	}
	if op == OpCEL {
		return nil, fmt.Errorf("operator %q requires AddExpressionPolicy", op)
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}
	if op == OpMin || op == OpMax {
		if _, ok := numeric(expected); !ok {
			return nil, fmt.Errorf("operator %q requires a numeric expected value", op)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pol := &Policy{
		ID:        ident.New(ident.PrefixPolicy),
		Name:      name,
		Category:  category,
		Field:     field,
		Operator:  op,
		Expected:  expected,
		Severity:  sev,
		Active:    true,
		CreatedAt: p.clock(),
	}
	p.policies[pol.ID] = pol
	p.stats["policies"]++
	return pol, nil
}

// AddExpressionPolicy declares a CEL requirement policy. The context
// is bound to `ctx`; the policy is violated when the expression is
// false or fails to evaluate.
func (p *PolicyEnforcer) AddExpressionPolicy(name, category, expression string, sev severity.Level) (*Policy, error) {
	if name == "" || expression == "" {
		return nil, fmt.Errorf("policy name and expression are required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}

	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pol := &Policy{
		ID:         ident.New(ident.PrefixPolicy),
		Name:       name,
		Category:   category,
		Operator:   OpCEL,
		Expression: expression,
		Severity:   sev,
		Active:     true,
		CreatedAt:  p.clock(),
	}
	p.policies[pol.ID] = pol
	p.programs[pol.ID] = prg
	p.stats["policies"]++
	return pol, nil
}

// SetFramework tags a policy with the framework it enforces.
func (p *PolicyEnforcer) SetFramework(policyID, frameworkKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pol, ok := p.policies[policyID]
	if !ok {
		return fmt.Errorf("%q: %w", policyID, ErrPolicyNotFound)
	}
	pol.FrameworkKey = frameworkKey
	return nil
}

// DeactivatePolicy retires a policy without deleting its history.
func (p *PolicyEnforcer) DeactivatePolicy(policyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pol, ok := p.policies[policyID]
	if !ok {
		return fmt.Errorf("%q: %w", policyID, ErrPolicyNotFound)
	}
	pol.Active = false
	return nil
}

// GrantException waives a policy until the exception is revoked.
func (p *PolicyEnforcer) GrantException(policyID, reason, grantedBy string) (*PolicyException, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.policies[policyID]; !ok {
		return nil, fmt.Errorf("%q: %w", policyID, ErrPolicyNotFound)
	}
	exc := &PolicyException{
		ID:        ident.New(ident.PrefixException),
		PolicyID:  policyID,
		Reason:    reason,
		GrantedBy: grantedBy,
		Active:    true,
		GrantedAt: p.clock(),
	}
	p.exceptions[exc.ID] = exc
	p.stats["exceptions"]++
	return exc, nil
}

// RevokeException restores enforcement for the policy immediately.
func (p *PolicyEnforcer) RevokeException(exceptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exc, ok := p.exceptions[exceptionID]
	if !ok {
		return fmt.Errorf("%q: %w", exceptionID, ErrExceptionNotFound)
	}
	if !exc.Active {
		return fmt.Errorf("exception %q already revoked", exceptionID)
	}
	now := p.clock()
	exc.Active = false
	exc.RevokedAt = &now
	return nil
}

func (p *PolicyEnforcer) hasActiveException(policyID string) bool {
	for _, exc := range p.exceptions {
		if exc.PolicyID == policyID && exc.Active {
			return true
		}
	}
	return false
}

// numeric coerces common JSON-ish numeric types.
func numeric(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// equalValues compares numerically when both sides coerce, otherwise
// by printed form, so 5 and 5.0 compare equal across JSON decoding.
func equalValues(a, b interface{}) bool {
	av, aok := numeric(a)
	bv, bok := numeric(b)
	if aok && bok {
		return av == bv
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// violates applies the policy's operator to the context. min/max with
// a missing or non-numeric value are indeterminate and fail closed.
func (p *PolicyEnforcer) violates(pol *Policy, context map[string]interface{}) bool {
	value, present := context[pol.Field]
	switch pol.Operator {
	case OpExists:
		return !present
	case OpEquals:
		return !equalValues(value, pol.Expected)
	case OpNotEquals:
		return present && equalValues(value, pol.Expected)
	case OpMin:
		v, ok := numeric(value)
		if !ok {
			return true
		}
		expected, _ := numeric(pol.Expected)
		return v < expected
	case OpMax:
		v, ok := numeric(value)
		if !ok {
			return true
		}
		expected, _ := numeric(pol.Expected)
		return v > expected
	case OpCEL:
		prg, ok := p.programs[pol.ID]
		if !ok {
			return true
		}
		out, _, err := prg.Eval(map[string]any{"ctx": context})
		if err != nil {
			return true
		}
		satisfied, ok := out.Value().(bool)
		return !ok || !satisfied
	default:
		return false
	}
}

func remediationAction(pol *Policy) string {
	switch pol.Operator {
	case OpExists:
		return fmt.Sprintf("populate required field %q", pol.Field)
	case OpEquals:
		return fmt.Sprintf("set %q to %v", pol.Field, pol.Expected)
	case OpNotEquals:
		return fmt.Sprintf("change %q away from %v", pol.Field, pol.Expected)
	case OpMin:
		return fmt.Sprintf("raise %q to at least %v", pol.Field, pol.Expected)
	case OpMax:
		return fmt.Sprintf("reduce %q to at most %v", pol.Field, pol.Expected)
	default:
		return fmt.Sprintf("review condition of policy %q", pol.Name)
	}
}

// Enforce checks the context against every active policy. Policies
// with an active exception pass unconditionally. When auto-remediation
// is enabled each violation gains a symbolic remediation record.
func (p *PolicyEnforcer) Enforce(context map[string]interface{}) (*PolicyEvaluation, error) {
	return p.enforce(context, nil)
}

// EnforceFrameworks restricts enforcement to policies tagged with one
// of the given framework keys. Untagged policies always apply.
func (p *PolicyEnforcer) EnforceFrameworks(context map[string]interface{}, frameworkKeys []string) (*PolicyEvaluation, error) {
	allowed := make(map[string]bool, len(frameworkKeys))
	for _, key := range frameworkKeys {
		allowed[key] = true
	}
	return p.enforce(context, allowed)
}

func (p *PolicyEnforcer) enforce(context map[string]interface{}, allowed map[string]bool) (*PolicyEvaluation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	eval := &PolicyEvaluation{
		ID:          ident.New(ident.PrefixPolicyEval),
		Compliant:   true,
		EvaluatedAt: now,
	}

	for id, pol := range p.policies {
		if !pol.Active {
			continue
		}
		if allowed != nil && pol.FrameworkKey != "" && !allowed[pol.FrameworkKey] {
			continue
		}
		eval.PoliciesChecked++

		if p.hasActiveException(id) {
			eval.ExceptionsApplied++
			continue
		}
		if !p.violates(pol, context) {
			continue
		}

		v := &Violation{
			ID:         ident.New(ident.PrefixViolation),
			PolicyID:   id,
			PolicyName: pol.Name,
			Field:      pol.Field,
			Observed:   context[pol.Field],
			Expected:   pol.Expected,
			Severity:   pol.Severity,
			Status:     "open",
			DetectedAt: now,
		}
		p.violations[v.ID] = v
		eval.Violations = append(eval.Violations, v)
		p.stats["violations"]++

		if p.autoRemediate {
			rem := &Remediation{
				ID:          ident.New(ident.PrefixRemediation),
				ViolationID: v.ID,
				PolicyID:    id,
				Action:      remediationAction(pol),
				CreatedAt:   now,
			}
			p.remediations[rem.ID] = rem
			eval.Remediated++
			p.stats["remediations"]++
		}
	}

	eval.Compliant = len(eval.Violations) == 0
	p.evaluations[eval.ID] = eval
	p.stats["evaluations"]++
	return eval, nil
}

// Policy returns a policy by id.
func (p *PolicyEnforcer) Policy(id string) (*Policy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pol, ok := p.policies[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrPolicyNotFound)
	}
	return pol, nil
}

// OpenViolations lists stored violations oldest first.
func (p *PolicyEnforcer) OpenViolations() []*Violation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Violation, 0, len(p.violations))
	for _, v := range p.violations {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// RemediationsFor lists remediation records for a violation.
func (p *PolicyEnforcer) RemediationsFor(violationID string) []*Remediation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Remediation
	for _, rem := range p.remediations {
		if rem.ViolationID == violationID {
			out = append(out, rem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the enforcer's counters.
func (p *PolicyEnforcer) Stats() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.stats))
	for k, v := range p.stats {
		out[k] = v
	}
	return out
}
