// Package decision implements the risk×urgency decision matrix consumed by
// the governance orchestrators and by external collaborators. The matrix
// itself is supplied by the embedding application; this package defines the
// lookup contract and a conservative default table.
package decision

import (
	"fmt"
	"sync"
)

// RiskLevel grades the risk axis of the matrix.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// UrgencyLevel grades the urgency axis of the matrix.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

// ActionType is the decision produced by a matrix lookup.
type ActionType string

const (
	ActionNotify   ActionType = "notify"
	ActionReview   ActionType = "review"
	ActionApprove  ActionType = "approve"
	ActionReject   ActionType = "reject"
	ActionEscalate ActionType = "escalate"
)

// ParseRiskLevel validates a risk label at the boundary.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("invalid risk level: %q", s)
}

// ParseUrgencyLevel validates an urgency label at the boundary.
func ParseUrgencyLevel(s string) (UrgencyLevel, error) {
	switch UrgencyLevel(s) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return UrgencyLevel(s), nil
	}
	return "", fmt.Errorf("invalid urgency level: %q", s)
}

// Decision is the outcome of a matrix lookup.
type Decision struct {
	Action     ActionType `json:"action"`
	Confidence float64    `json:"confidence"` // 0..1
}

type cell struct {
	risk    RiskLevel
	urgency UrgencyLevel
}

// Matrix is a static (risk, urgency) → (action, confidence) table.
type Matrix struct {
	mu    sync.RWMutex
	cells map[cell]Decision
}

// NewMatrix creates an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{cells: make(map[cell]Decision)}
}

// Default returns a conservative table: risk dominates, urgency sharpens.
func Default() *Matrix {
	m := NewMatrix()
	set := func(r RiskLevel, u UrgencyLevel, a ActionType, c float64) {
		m.cells[cell{r, u}] = Decision{Action: a, Confidence: c}
	}

	set(RiskLow, UrgencyLow, ActionApprove, 0.95)
	set(RiskLow, UrgencyMedium, ActionApprove, 0.90)
	set(RiskLow, UrgencyHigh, ActionNotify, 0.85)
	set(RiskLow, UrgencyCritical, ActionNotify, 0.80)

	set(RiskMedium, UrgencyLow, ActionReview, 0.85)
	set(RiskMedium, UrgencyMedium, ActionReview, 0.80)
	set(RiskMedium, UrgencyHigh, ActionNotify, 0.75)
	set(RiskMedium, UrgencyCritical, ActionEscalate, 0.75)

	set(RiskHigh, UrgencyLow, ActionReview, 0.80)
	set(RiskHigh, UrgencyMedium, ActionEscalate, 0.80)
	set(RiskHigh, UrgencyHigh, ActionEscalate, 0.85)
	set(RiskHigh, UrgencyCritical, ActionEscalate, 0.90)

	set(RiskCritical, UrgencyLow, ActionEscalate, 0.85)
	set(RiskCritical, UrgencyMedium, ActionEscalate, 0.90)
	set(RiskCritical, UrgencyHigh, ActionReject, 0.90)
	set(RiskCritical, UrgencyCritical, ActionReject, 0.95)

	return m
}

// Set installs or replaces one matrix cell.
func (m *Matrix) Set(risk RiskLevel, urgency UrgencyLevel, d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[cell{risk, urgency}] = d
}

// Lookup resolves a (risk, urgency) pair. Unknown pairs fall back to
// escalate with low confidence rather than failing open.
func (m *Matrix) Lookup(risk RiskLevel, urgency UrgencyLevel) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.cells[cell{risk, urgency}]; ok {
		return d
	}
	return Decision{Action: ActionEscalate, Confidence: 0.5}
}
