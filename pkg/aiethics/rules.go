package aiethics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrExceptionNotFound = errors.New("exception not found")
)

// Rule declares an ethics condition. Fixed condition names carry
// their comparison direction; any other name is treated as an upper
// bound on the context value. Expression rules use CEL instead.
type Rule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Condition  string         `json:"condition,omitempty"`
	Threshold  float64        `json:"threshold,omitempty"`
	Expression string         `json:"expression,omitempty"` // CEL, violated when true
	Severity   severity.Level `json:"severity"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RuleException waives a rule while active.
type RuleException struct {
	ID        string     `json:"id"`
	RuleID    string     `json:"rule_id"`
	Reason    string     `json:"reason"`
	GrantedBy string     `json:"granted_by"`
	Active    bool       `json:"active"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// RuleViolation is one violated rule in an evaluation.
type RuleViolation struct {
	RuleID    string         `json:"rule_id"`
	RuleName  string         `json:"rule_name"`
	Condition string         `json:"condition"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Severity  severity.Level `json:"severity"`
}

// RuleEvaluation is the stored result of one context evaluation.
type RuleEvaluation struct {
	ID                string          `json:"id"`
	Compliant         bool            `json:"compliant"`
	Violations        []RuleViolation `json:"violations"`
	RulesChecked      int             `json:"rules_checked"`
	ExceptionsApplied int             `json:"exceptions_applied"`
	EvaluatedAt       time.Time       `json:"evaluated_at"`
}

// RuleEngine evaluates context maps against declared ethics rules.
type RuleEngine struct {
	mu          sync.RWMutex
	rules       map[string]*Rule
	exceptions  map[string]*RuleException
	evaluations map[string]*RuleEvaluation
	env         *cel.Env
	programs    map[string]cel.Program // rule id -> compiled expression
	stats       map[string]int
	clock       func() time.Time
}

// NewRuleEngine creates an engine with an empty rule set.
func NewRuleEngine() (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &RuleEngine{
		rules:       make(map[string]*Rule),
		exceptions:  make(map[string]*RuleException),
		evaluations: make(map[string]*RuleEvaluation),
		env:         env,
		programs:    make(map[string]cel.Program),
		stats:       map[string]int{"rules": 0, "evaluations": 0, "violations": 0, "exceptions": 0},
		clock:       time.Now,
	}, nil
}

// WithClock overrides the time source. Returns the engine for chaining.
func (e *RuleEngine) WithClock(clock func() time.Time) *RuleEngine {
	e.clock = clock
	return e
}

// AddRule declares a threshold rule and activates it.
func (e *RuleEngine) AddRule(name, condition string, threshold float64, sev severity.Level) (*Rule, error) {
	if name == "" || condition == "" {
		return nil, fmt.Errorf("rule name and condition are required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := &Rule{
		ID:        ident.New(ident.PrefixEthicsRule),
		Name:      name,
		Condition: condition,
		Threshold: threshold,
		Severity:  sev,
		Active:    true,
		CreatedAt: e.clock(),
	}
	e.rules[rule.ID] = rule
	e.stats["rules"]++
	return rule, nil
}

// AddExpressionRule declares a CEL rule. The expression is compiled
// once and evaluated with the context bound to `ctx`; a true result
// is a violation.
func (e *RuleEngine) AddExpressionRule(name, expression string, sev severity.Level) (*Rule, error) {
	if name == "" || expression == "" {
		return nil, fmt.Errorf("rule name and expression are required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := &Rule{
		ID:         ident.New(ident.PrefixEthicsRule),
		Name:       name,
		Expression: expression,
		Severity:   sev,
		Active:     true,
		CreatedAt:  e.clock(),
	}
	e.rules[rule.ID] = rule
	e.programs[rule.ID] = prg
	e.stats["rules"]++
	return rule, nil
}

// DeactivateRule retires a rule without deleting its history.
func (e *RuleEngine) DeactivateRule(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return fmt.Errorf("%q: %w", ruleID, ErrRuleNotFound)
	}
	rule.Active = false
	return nil
}

// GrantException waives a rule until the exception is revoked.
func (e *RuleEngine) GrantException(ruleID, reason, grantedBy string) (*RuleException, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[ruleID]; !ok {
		return nil, fmt.Errorf("%q: %w", ruleID, ErrRuleNotFound)
	}
	exc := &RuleException{
		ID:        ident.New(ident.PrefixException),
		RuleID:    ruleID,
		Reason:    reason,
		GrantedBy: grantedBy,
		Active:    true,
		GrantedAt: e.clock(),
	}
	e.exceptions[exc.ID] = exc
	e.stats["exceptions"]++
	return exc, nil
}

// RevokeException restores enforcement for the rule immediately.
func (e *RuleEngine) RevokeException(exceptionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exc, ok := e.exceptions[exceptionID]
	if !ok {
		return fmt.Errorf("%q: %w", exceptionID, ErrExceptionNotFound)
	}
	if !exc.Active {
		return fmt.Errorf("exception %q already revoked", exceptionID)
	}
	now := e.clock()
	exc.Active = false
	exc.RevokedAt = &now
	return nil
}

func (e *RuleEngine) hasActiveException(ruleID string) bool {
	for _, exc := range e.exceptions {
		if exc.RuleID == ruleID && exc.Active {
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

// violatesThreshold applies the comparison direction intrinsic to the
// fixed condition names; unknown conditions are upper bounds.
func violatesThreshold(condition string, value, threshold float64) bool {
	switch condition {
	case "bias_score":
		return value > threshold
	case "fairness_score", "disparity_ratio", "transparency":
		return value < threshold
	default:
		return value > threshold
	}
}

// Evaluate checks the context against every active rule. Rules with
// an active exception pass unconditionally.
func (e *RuleEngine) Evaluate(context map[string]interface{}) (*RuleEvaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	eval := &RuleEvaluation{
		ID:          ident.New(ident.PrefixEthicsEval),
		Compliant:   true,
		EvaluatedAt: e.clock(),
	}

	for id, rule := range e.rules {
		if !rule.Active {
			continue
		}
		eval.RulesChecked++

		if e.hasActiveException(id) {
			eval.ExceptionsApplied++
			continue
		}

		if rule.Expression != "" {
			violated, err := e.evalExpression(id, context)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			if violated {
				eval.Violations = append(eval.Violations, RuleViolation{
					RuleID:    id,
					RuleName:  rule.Name,
					Condition: rule.Expression,
					Severity:  rule.Severity,
				})
			}
			continue
		}

		value, ok := numeric(context[rule.Condition])
		if !ok {
			continue // condition absent from context: rule does not apply
		}
		if violatesThreshold(rule.Condition, value, rule.Threshold) {
			eval.Violations = append(eval.Violations, RuleViolation{
				RuleID:    id,
				RuleName:  rule.Name,
				Condition: rule.Condition,
				Value:     value,
				Threshold: rule.Threshold,
				Severity:  rule.Severity,
			})
		}
	}

	eval.Compliant = len(eval.Violations) == 0
	e.evaluations[eval.ID] = eval
	e.stats["evaluations"]++
	e.stats["violations"] += len(eval.Violations)
	return eval, nil
}

func (e *RuleEngine) evalExpression(ruleID string, context map[string]interface{}) (bool, error) {
	prg, ok := e.programs[ruleID]
	if !ok {
		return false, fmt.Errorf("no compiled program")
	}
	out, _, err := prg.Eval(map[string]any{"ctx": context})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// Rule returns a rule by id.
func (e *RuleEngine) Rule(id string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// Stats returns the engine's counters.
func (e *RuleEngine) Stats() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.stats))
	for k, v := range e.stats {
		out[k] = v
	}
	return out
}
