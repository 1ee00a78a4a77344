package aiethics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var ErrAlertNotFound = errors.New("alert not found")

// AlertStatus is the lifecycle state of a violation alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertDismissed     AlertStatus = "dismissed"
)

// alertOrder enforces forward-only transitions; dismissed is terminal
// and reachable from any non-resolved state.
var alertOrder = map[AlertStatus]int{
	AlertOpen:          0,
	AlertAcknowledged:  1,
	AlertInvestigating: 2,
	AlertResolved:      3,
}

// Alert is one raised ethics violation.
type Alert struct {
	ID            string                 `json:"id"`
	ViolationType string                 `json:"violation_type"`
	Severity      severity.Level         `json:"severity"`
	Status        AlertStatus            `json:"status"`
	Details       map[string]interface{} `json:"details,omitempty"`
	EscalationID  string                 `json:"escalation_id,omitempty"`
	RaisedAt      time.Time              `json:"raised_at"`
	ResolvedAt    *time.Time             `json:"resolved_at,omitempty"`
}

// Escalation is created when an alert meets the escalation threshold.
type Escalation struct {
	ID        string         `json:"id"`
	AlertID   string         `json:"alert_id"`
	Severity  severity.Level `json:"severity"`
	Target    string         `json:"target"` // notification audience
	CreatedAt time.Time      `json:"created_at"`
}

// AlertRule is a user-defined sweep condition for CheckViolations.
// Numeric conditions violate when the context value exceeds the
// threshold; boolean conditions violate when the value is true.
type AlertRule struct {
	Name      string         `json:"name"`
	Condition string         `json:"condition"`
	Threshold float64        `json:"threshold"`
	Boolean   bool           `json:"boolean"`
	Severity  severity.Level `json:"severity"`
}

// ViolationAlerter is the central alert store with severity-gated
// escalation.
type ViolationAlerter struct {
	mu            sync.RWMutex
	alerts        map[string]*Alert
	escalations   map[string]*Escalation
	rules         []AlertRule
	escalateAbove severity.Level
	autoEscalate  bool
	stats         map[string]int
	clock         func() time.Time
}

// NewViolationAlerter creates an alerter that escalates at high and above.
func NewViolationAlerter() *ViolationAlerter {
	return &ViolationAlerter{
		alerts:        make(map[string]*Alert),
		escalations:   make(map[string]*Escalation),
		escalateAbove: severity.High,
		autoEscalate:  true,
		stats:         map[string]int{"raised": 0, "escalated": 0, "resolved": 0, "dismissed": 0},
		clock:         time.Now,
	}
}

// WithClock overrides the time source. Returns the alerter for chaining.
func (v *ViolationAlerter) WithClock(clock func() time.Time) *ViolationAlerter {
	v.clock = clock
	return v
}

// SetEscalation configures the escalation threshold and toggle.
func (v *ViolationAlerter) SetEscalation(threshold severity.Level, auto bool) error {
	if _, err := severity.Parse(string(threshold)); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.escalateAbove = threshold
	v.autoEscalate = auto
	return nil
}

// RaiseAlert records a violation alert. When auto-escalation is on
// and the severity meets the threshold, an escalation is attached.
func (v *ViolationAlerter) RaiseAlert(violationType string, sev severity.Level, details map[string]interface{}) (*Alert, error) {
	if violationType == "" {
		return nil, fmt.Errorf("violation type is required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	alert := &Alert{
		ID:            ident.New(ident.PrefixEthicsAlert),
		ViolationType: violationType,
		Severity:      sev,
		Status:        AlertOpen,
		Details:       details,
		RaisedAt:      v.clock(),
	}
	v.alerts[alert.ID] = alert
	v.stats["raised"]++

	if v.autoEscalate && severity.AtLeast(sev, v.escalateAbove) {
		esc := &Escalation{
			ID:        ident.New(ident.PrefixEscalation),
			AlertID:   alert.ID,
			Severity:  sev,
			Target:    "ethics-board",
			CreatedAt: v.clock(),
		}
		v.escalations[esc.ID] = esc
		alert.EscalationID = esc.ID
		v.stats["escalated"]++
	}
	return alert, nil
}

// Transition moves an alert to a new status. Transitions only move
// forward; dismissed is terminal and cannot leave resolved.
func (v *ViolationAlerter) Transition(alertID string, next AlertStatus) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	alert, ok := v.alerts[alertID]
	if !ok {
		return fmt.Errorf("%q: %w", alertID, ErrAlertNotFound)
	}
	if alert.Status == AlertDismissed {
		return fmt.Errorf("alert %q is dismissed", alertID)
	}

	if next == AlertDismissed {
		if alert.Status == AlertResolved {
			return fmt.Errorf("alert %q already resolved", alertID)
		}
		alert.Status = AlertDismissed
		v.stats["dismissed"]++
		return nil
	}

	nextOrder, valid := alertOrder[next]
	if !valid {
		return fmt.Errorf("invalid alert status: %q", next)
	}
	if nextOrder <= alertOrder[alert.Status] {
		return fmt.Errorf("alert %q cannot move from %s to %s", alertID, alert.Status, next)
	}

	alert.Status = next
	if next == AlertResolved {
		now := v.clock()
		alert.ResolvedAt = &now
		v.stats["resolved"]++
	}
	return nil
}

// AddRule registers a sweep condition for CheckViolations.
func (v *ViolationAlerter) AddRule(rule AlertRule) error {
	if rule.Name == "" || rule.Condition == "" {
		return fmt.Errorf("rule name and condition are required")
	}
	if _, err := severity.Parse(string(rule.Severity)); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, rule)
	return nil
}

// CheckViolations sweeps registered rules against the context and
// raises an alert per violated rule. Returns the raised alerts.
func (v *ViolationAlerter) CheckViolations(context map[string]interface{}) ([]*Alert, error) {
	v.mu.RLock()
	rules := append([]AlertRule(nil), v.rules...)
	v.mu.RUnlock()

	var raised []*Alert
	for _, rule := range rules {
		value, present := context[rule.Condition]
		if !present {
			continue
		}

		violated := false
		if rule.Boolean {
			b, ok := value.(bool)
			violated = ok && b
		} else if num, ok := numeric(value); ok {
			violated = num > rule.Threshold
		}
		if !violated {
			continue
		}

		alert, err := v.RaiseAlert(rule.Name, rule.Severity, map[string]interface{}{
			"condition": rule.Condition,
			"value":     value,
		})
		if err != nil {
			return raised, err
		}
		raised = append(raised, alert)
	}
	return raised, nil
}

// Alert returns an alert by id.
func (v *ViolationAlerter) Alert(id string) (*Alert, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	alert, ok := v.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAlertNotFound)
	}
	return alert, nil
}

// Escalation returns an escalation by id.
func (v *ViolationAlerter) Escalation(id string) (*Escalation, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	esc, ok := v.escalations[id]
	if !ok {
		return nil, fmt.Errorf("escalation %q not found", id)
	}
	return esc, nil
}

// OpenAlerts returns alerts not yet resolved or dismissed, oldest first.
func (v *ViolationAlerter) OpenAlerts() []*Alert {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var open []*Alert
	for _, a := range v.alerts {
		if a.Status != AlertResolved && a.Status != AlertDismissed {
			open = append(open, a)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].RaisedAt.Before(open[j].RaisedAt) })
	return open
}

// Stats returns the alerter's counters.
func (v *ViolationAlerter) Stats() map[string]int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]int, len(v.stats))
	for k, v2 := range v.stats {
		out[k] = v2
	}
	return out
}
