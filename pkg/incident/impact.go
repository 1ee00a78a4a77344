package incident

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var ErrAssessmentNotFound = errors.New("impact assessment not found")

// ImpactLevel grades the blast radius of an incident.
type ImpactLevel string

const (
	ImpactCatastrophic ImpactLevel = "catastrophic"
	ImpactSevere       ImpactLevel = "severe"
	ImpactMajor        ImpactLevel = "major"
	ImpactModerate     ImpactLevel = "moderate"
	ImpactMinor        ImpactLevel = "minor"
	ImpactNegligible   ImpactLevel = "negligible"
)

// ParseImpactLevel validates an impact level label.
func ParseImpactLevel(s string) (ImpactLevel, error) {
	switch l := ImpactLevel(s); l {
	case ImpactCatastrophic, ImpactSevere, ImpactMajor, ImpactModerate, ImpactMinor, ImpactNegligible:
		return l, nil
	default:
		return "", fmt.Errorf("invalid impact level: %q", s)
	}
}

// SeverityToImpact maps a triage severity to its default impact level.
func SeverityToImpact(sev severity.Level) ImpactLevel {
	switch sev {
	case severity.Critical, severity.Emergency:
		return ImpactCatastrophic
	case severity.High:
		return ImpactSevere
	case severity.Medium:
		return ImpactModerate
	case severity.Low:
		return ImpactMinor
	default:
		return ImpactNegligible
	}
}

// ImpactAssessment scores one incident's blast radius on [0, 1].
type ImpactAssessment struct {
	ID            string      `json:"id"`
	IncidentID    string      `json:"incident_id"`
	Level         ImpactLevel `json:"level"`
	Categories    []string    `json:"categories,omitempty"`
	AffectedUsers int         `json:"affected_users"`
	FinancialLoss float64     `json:"financial_loss"`
	Score         float64     `json:"score"`
	AssessedAt    time.Time   `json:"assessed_at"`
}

// ImpactAssessor scores incidents from their impact level, affected
// categories, user count, and financial loss.
type ImpactAssessor struct {
	mu          sync.RWMutex
	assessments map[string]*ImpactAssessment
	byIncident  map[string]string // incident ID -> latest assessment ID
	clock       func() time.Time
}

// NewImpactAssessor returns an assessor with no recorded assessments.
func NewImpactAssessor() *ImpactAssessor {
	return &ImpactAssessor{
		assessments: make(map[string]*ImpactAssessment),
		byIncident:  make(map[string]string),
		clock:       time.Now,
	}
}

// WithClock overrides the time source.
func (a *ImpactAssessor) WithClock(clock func() time.Time) *ImpactAssessor {
	a.clock = clock
	return a
}

// AssessImpact scores an incident. The score is the level base plus
// category, user, and financial surcharges, capped at 1.
func (a *ImpactAssessor) AssessImpact(incidentID, level string, categories []string, affectedUsers int, financialLoss float64) (*ImpactAssessment, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	lvl, err := ParseImpactLevel(level)
	if err != nil {
		return nil, err
	}
	if affectedUsers < 0 {
		return nil, errors.New("affected user count cannot be negative")
	}
	if financialLoss < 0 {
		return nil, errors.New("financial loss cannot be negative")
	}
	cats := uniqueStrings(categories)

	score := impactBase(lvl) + categoryFactor(len(cats)) + affectedUserFactor(affectedUsers) + financialFactor(financialLoss)
	if score > 1 {
		score = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	assessment := &ImpactAssessment{
		ID:            ident.New(ident.PrefixImpact),
		IncidentID:    incidentID,
		Level:         lvl,
		Categories:    cats,
		AffectedUsers: affectedUsers,
		FinancialLoss: financialLoss,
		Score:         score,
		AssessedAt:    a.clock(),
	}
	a.assessments[assessment.ID] = assessment
	a.byIncident[incidentID] = assessment.ID
	return assessment, nil
}

func impactBase(level ImpactLevel) float64 {
	switch level {
	case ImpactCatastrophic:
		return 1.0
	case ImpactSevere:
		return 0.85
	case ImpactMajor:
		return 0.7
	case ImpactModerate:
		return 0.5
	case ImpactMinor:
		return 0.3
	default:
		return 0.1
	}
}

// categoryFactor adds 0.05 per affected category up to 0.2.
func categoryFactor(n int) float64 {
	f := 0.05 * float64(n)
	if f > 0.2 {
		return 0.2
	}
	return f
}

func affectedUserFactor(n int) float64 {
	switch {
	case n > 10000:
		return 0.15
	case n > 1000:
		return 0.10
	case n > 100:
		return 0.05
	default:
		return 0
	}
}

func financialFactor(loss float64) float64 {
	switch {
	case loss > 1_000_000:
		return 0.15
	case loss > 100_000:
		return 0.10
	case loss > 10_000:
		return 0.05
	default:
		return 0
	}
}

// Assessment returns an assessment by ID.
func (a *ImpactAssessor) Assessment(id string) (*ImpactAssessment, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	assessment, ok := a.assessments[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAssessmentNotFound)
	}
	return assessment, nil
}

// AssessmentFor returns the latest assessment of an incident.
func (a *ImpactAssessor) AssessmentFor(incidentID string) (*ImpactAssessment, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byIncident[incidentID]
	if !ok {
		return nil, fmt.Errorf("incident %q: %w", incidentID, ErrAssessmentNotFound)
	}
	return a.assessments[id], nil
}

// Stats reports assessor counters.
func (a *ImpactAssessor) Stats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	high := 0
	for _, assessment := range a.assessments {
		if assessment.Score >= 0.7 {
			high++
		}
	}
	return map[string]int{
		"assessments": len(a.assessments),
		"high_impact": high,
	}
}
