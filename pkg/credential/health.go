package credential

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

// HealthGrade buckets an overall health score.
type HealthGrade string

const (
	GradeExcellent HealthGrade = "excellent"
	GradeGood      HealthGrade = "good"
	GradeFair      HealthGrade = "fair"
	GradePoor      HealthGrade = "poor"
	GradeCritical  HealthGrade = "critical"
)

// HealthWeights are the per-factor weights of the overall score. They are
// applied as given, without renormalization.
type HealthWeights struct {
	Age        float64 `json:"age"`
	Usage      float64 `json:"usage"`
	Permission float64 `json:"permission"`
	Rotation   float64 `json:"rotation"`
	Anomaly    float64 `json:"anomaly"`
}

// DefaultHealthWeights sum to one, so the overall score is the weighted
// average of the factor scores.
func DefaultHealthWeights() HealthWeights {
	return HealthWeights{Age: 0.20, Usage: 0.25, Permission: 0.20, Rotation: 0.20, Anomaly: 0.15}
}

// HealthInput carries everything the scorer needs about one key. The
// orchestrator assembles it from the inventory, usage analyzer,
// permission checker, and rotation scheduler.
type HealthInput struct {
	KeyID                string  `json:"key_id"`
	AgeDays              int     `json:"age_days"`
	MaxAgeDays           int     `json:"max_age_days"`
	EverUsed             bool    `json:"ever_used"`
	ErrorRate            float64 `json:"error_rate"`
	IdleDays             int     `json:"idle_days"`
	TotalScopes          int     `json:"total_scopes"`
	UnusedScopes         int     `json:"unused_scopes"`
	HasAdmin             bool    `json:"has_admin"`
	EverRotated          bool    `json:"ever_rotated"`
	DaysSinceRotation    int     `json:"days_since_rotation"`
	PolicyDays           int     `json:"policy_days"`
	CriticalAnomalies    int     `json:"critical_anomalies"`
	NonCriticalAnomalies int     `json:"non_critical_anomalies"`
}

// HealthCheck is one scored snapshot of a key's health.
type HealthCheck struct {
	ID        string             `json:"id"`
	KeyID     string             `json:"key_id"`
	Factors   map[string]float64 `json:"factors"`
	Score     float64            `json:"score"`
	Grade     HealthGrade        `json:"grade"`
	CheckedAt time.Time          `json:"checked_at"`
}

// HealthScorer computes key health from five factor scores.
type HealthScorer struct {
	mu      sync.RWMutex
	weights HealthWeights
	checks  map[string][]*HealthCheck
	clock   func() time.Time
}

// NewHealthScorer creates a scorer with the default weights.
func NewHealthScorer() *HealthScorer {
	return &HealthScorer{
		weights: DefaultHealthWeights(),
		checks:  make(map[string][]*HealthCheck),
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Returns the scorer for chaining.
func (h *HealthScorer) WithClock(clock func() time.Time) *HealthScorer {
	h.clock = clock
	return h
}

// SetWeights reassigns the factor weights as given.
func (h *HealthScorer) SetWeights(w HealthWeights) error {
	if w.Age < 0 || w.Usage < 0 || w.Permission < 0 || w.Rotation < 0 || w.Anomaly < 0 {
		return fmt.Errorf("health weights must be non-negative")
	}
	if w.Age+w.Usage+w.Permission+w.Rotation+w.Anomaly <= 0 {
		return fmt.Errorf("health weights must not all be zero")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.weights = w
	return nil
}

// Weights returns the current factor weights.
func (h *HealthScorer) Weights() HealthWeights {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.weights
}

func clampFactor(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func ageFactor(in HealthInput) float64 {
	if in.AgeDays <= 0 {
		return 100
	}
	maxAge := in.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 365
	}
	return clampFactor(100 * (1 - float64(in.AgeDays)/float64(maxAge)))
}

func usageFactor(in HealthInput) float64 {
	score := 100.0
	if !in.EverUsed {
		score = 30
	} else {
		switch {
		case in.ErrorRate > 0.5:
			score -= 40
		case in.ErrorRate > 0.2:
			score -= 20
		case in.ErrorRate > 0.1:
			score -= 10
		}
	}
	switch {
	case in.IdleDays > 90:
		score -= 30
	case in.IdleDays > 30:
		score -= 15
	}
	return clampFactor(score)
}

func permissionFactor(in HealthInput) float64 {
	if in.TotalScopes == 0 {
		return 100
	}
	score := 100.0
	deduction := 10 * float64(in.UnusedScopes)
	if deduction > 40 {
		deduction = 40
	}
	score -= deduction
	if in.HasAdmin {
		score -= 20
	}
	switch {
	case in.TotalScopes > 10:
		score -= 15
	case in.TotalScopes > 5:
		score -= 5
	}
	return clampFactor(score)
}

func rotationFactor(in HealthInput) float64 {
	policyDays := in.PolicyDays
	if policyDays <= 0 {
		policyDays = 90
	}
	daysSince := in.DaysSinceRotation
	if !in.EverRotated {
		daysSince = in.AgeDays
	}
	ratio := float64(daysSince) / float64(policyDays)
	var score float64
	switch {
	case ratio > 2.0:
		score = 10
	case ratio > 1.5:
		score = 30
	case ratio > 1.0:
		score = 50
	case ratio > 0.8:
		score = 70
	default:
		score = 100
	}
	if !in.EverRotated && score > 60 {
		score = 60
	}
	return score
}

func anomalyFactor(in HealthInput) float64 {
	score := 100.0
	critDeduction := 30 * float64(in.CriticalAnomalies)
	if critDeduction > 60 {
		critDeduction = 60
	}
	otherDeduction := 10 * float64(in.NonCriticalAnomalies)
	if otherDeduction > 30 {
		otherDeduction = 30
	}
	return clampFactor(score - critDeduction - otherDeduction)
}

// GradeFor maps an overall score to its grade bucket.
func GradeFor(score float64) HealthGrade {
	switch {
	case score >= 90:
		return GradeExcellent
	case score >= 70:
		return GradeGood
	case score >= 50:
		return GradeFair
	case score >= 30:
		return GradePoor
	default:
		return GradeCritical
	}
}

// ScoreKey computes the five factor scores, combines them with the
// configured weights, and stores the snapshot.
func (h *HealthScorer) ScoreKey(in HealthInput) (*HealthCheck, error) {
	if in.KeyID == "" {
		return nil, fmt.Errorf("key id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	factors := map[string]float64{
		"age":        ageFactor(in),
		"usage":      usageFactor(in),
		"permission": permissionFactor(in),
		"rotation":   rotationFactor(in),
		"anomaly":    anomalyFactor(in),
	}
	score := h.weights.Age*factors["age"] +
		h.weights.Usage*factors["usage"] +
		h.weights.Permission*factors["permission"] +
		h.weights.Rotation*factors["rotation"] +
		h.weights.Anomaly*factors["anomaly"]

	check := &HealthCheck{
		ID:        ident.New(ident.PrefixHealthCheck),
		KeyID:     in.KeyID,
		Factors:   factors,
		Score:     score,
		Grade:     GradeFor(score),
		CheckedAt: h.clock(),
	}
	h.checks[in.KeyID] = append(h.checks[in.KeyID], check)
	return check, nil
}

// History returns a key's health snapshots, oldest first.
func (h *HealthScorer) History(keyID string) []*HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*HealthCheck(nil), h.checks[keyID]...)
}

// Stats returns the scorer's counters.
func (h *HealthScorer) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := 0
	for _, cs := range h.checks {
		checks += len(cs)
	}
	return map[string]int{
		"keys_scored": len(h.checks),
		"checks":      checks,
	}
}
