package compliance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrGapNotFound     = errors.New("gap not found")
	ErrRoadmapNotFound = errors.New("roadmap not found")
)

// GapStatus tracks one gap's remediation position.
type GapStatus string

const (
	GapOpen       GapStatus = "open"
	GapInProgress GapStatus = "in_progress"
	GapRemediated GapStatus = "remediated"
	GapAccepted   GapStatus = "accepted"
)

// ParseGapStatus validates a gap status label.
func ParseGapStatus(s string) (GapStatus, error) {
	switch g := GapStatus(s); g {
	case GapOpen, GapInProgress, GapRemediated, GapAccepted:
		return g, nil
	default:
		return "", fmt.Errorf("invalid gap status: %q", s)
	}
}

// ControlStatus is one control's assessed outcome.
type ControlStatus string

const (
	ControlPassed  ControlStatus = "passed"
	ControlFailed  ControlStatus = "failed"
	ControlPartial ControlStatus = "partial"
)

// ParseControlStatus validates a control status label.
func ParseControlStatus(s string) (ControlStatus, error) {
	switch c := ControlStatus(s); c {
	case ControlPassed, ControlFailed, ControlPartial:
		return c, nil
	default:
		return "", fmt.Errorf("invalid control status: %q", s)
	}
}

// ControlResult is one assessed control fed into an assessment run.
type ControlResult struct {
	Control string        `json:"control"`
	Status  ControlStatus `json:"status"`
	Detail  string        `json:"detail,omitempty"`
}

// Gap is one identified compliance shortfall. RiskScore derives from
// severity and drives roadmap ordering.
type Gap struct {
	ID           string         `json:"id"`
	FrameworkKey string         `json:"framework_key,omitempty"`
	Control      string         `json:"control"`
	Description  string         `json:"description,omitempty"`
	Severity     severity.Level `json:"severity"`
	RiskScore    float64        `json:"risk_score"`
	Status       GapStatus      `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Assessment is the stored result of one control-set run.
type Assessment struct {
	ID           string    `json:"id"`
	FrameworkKey string    `json:"framework_key"`
	Score        float64   `json:"score"` // 100 x passed/total
	Total        int       `json:"total"`
	Passed       int       `json:"passed"`
	Failed       int       `json:"failed"`
	Partial      int       `json:"partial"`
	GapIDs       []string  `json:"gap_ids,omitempty"`
	RunAt        time.Time `json:"run_at"`
}

// Roadmap orders a set of gaps by descending risk. Progress is the
// share of referenced gaps remediated or accepted, computed at read.
type Roadmap struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GapIDs    []string  `json:"gap_ids"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// riskScore maps severity to the fixed risk ladder.
func riskScore(sev severity.Level) float64 {
	switch sev {
	case severity.Critical, severity.Emergency:
		return 1.0
	case severity.High:
		return 0.8
	case severity.Medium:
		return 0.6
	case severity.Low:
		return 0.4
	default:
		return 0.2
	}
}

// GapAnalyzer turns assessment results into tracked gaps and
// prioritized remediation roadmaps.
type GapAnalyzer struct {
	mu          sync.RWMutex
	gaps        map[string]*Gap
	assessments map[string]*Assessment
	roadmaps    map[string]*Roadmap
	stats       map[string]int
	clock       func() time.Time
}

// NewGapAnalyzer creates an empty analyzer.
func NewGapAnalyzer() *GapAnalyzer {
	return &GapAnalyzer{
		gaps:        make(map[string]*Gap),
		assessments: make(map[string]*Assessment),
		roadmaps:    make(map[string]*Roadmap),
		stats:       map[string]int{"gaps": 0, "assessments": 0, "roadmaps": 0},
		clock:       time.Now,
	}
}

// WithClock overrides the time source. Returns the analyzer for chaining.
func (g *GapAnalyzer) WithClock(clock func() time.Time) *GapAnalyzer {
	g.clock = clock
	return g
}

// RecordGap registers a gap found outside an assessment run.
func (g *GapAnalyzer) RecordGap(frameworkKey, control, description string, sev severity.Level) (*Gap, error) {
	if control == "" {
		return nil, fmt.Errorf("gap control is required")
	}
	if _, err := severity.Parse(string(sev)); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	gap := g.recordLocked(frameworkKey, control, description, sev)
	return gap, nil
}

func (g *GapAnalyzer) recordLocked(frameworkKey, control, description string, sev severity.Level) *Gap {
	now := g.clock()
	gap := &Gap{
		ID:           ident.New(ident.PrefixGap),
		FrameworkKey: frameworkKey,
		Control:      control,
		Description:  description,
		Severity:     sev,
		RiskScore:    riskScore(sev),
		Status:       GapOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	g.gaps[gap.ID] = gap
	g.stats["gaps"]++
	return gap
}

// RunAssessment scores a control set for a framework. Failed controls
// open high-severity gaps, partial controls medium ones.
func (g *GapAnalyzer) RunAssessment(frameworkKey string, controls []ControlResult) (*Assessment, error) {
	if len(controls) == 0 {
		return nil, fmt.Errorf("assessment requires at least one control result")
	}
	for _, ctrl := range controls {
		if _, err := ParseControlStatus(string(ctrl.Status)); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	assessment := &Assessment{
		ID:           ident.New(ident.PrefixAssessment),
		FrameworkKey: frameworkKey,
		Total:        len(controls),
		RunAt:        g.clock(),
	}
	for _, ctrl := range controls {
		switch ctrl.Status {
		case ControlPassed:
			assessment.Passed++
		case ControlFailed:
			assessment.Failed++
			gap := g.recordLocked(frameworkKey, ctrl.Control, ctrl.Detail, severity.High)
			assessment.GapIDs = append(assessment.GapIDs, gap.ID)
		case ControlPartial:
			assessment.Partial++
			gap := g.recordLocked(frameworkKey, ctrl.Control, ctrl.Detail, severity.Medium)
			assessment.GapIDs = append(assessment.GapIDs, gap.ID)
		}
	}
	assessment.Score = 100 * float64(assessment.Passed) / float64(assessment.Total)

	g.assessments[assessment.ID] = assessment
	g.stats["assessments"]++
	return assessment, nil
}

// UpdateGapStatus moves a gap through its remediation lifecycle.
func (g *GapAnalyzer) UpdateGapStatus(gapID string, status GapStatus) error {
	if _, err := ParseGapStatus(string(status)); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	gap, ok := g.gaps[gapID]
	if !ok {
		return fmt.Errorf("%q: %w", gapID, ErrGapNotFound)
	}
	gap.Status = status
	gap.UpdatedAt = g.clock()
	return nil
}

// CreateRoadmap bundles gaps into a roadmap ordered by descending
// risk score (ties keep creation order).
func (g *GapAnalyzer) CreateRoadmap(name string, gapIDs []string) (*Roadmap, error) {
	if name == "" {
		return nil, fmt.Errorf("roadmap name is required")
	}
	if len(gapIDs) == 0 {
		return nil, fmt.Errorf("roadmap requires at least one gap")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ids := append([]string(nil), gapIDs...)
	for _, id := range ids {
		if _, ok := g.gaps[id]; !ok {
			return nil, fmt.Errorf("%q: %w", id, ErrGapNotFound)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		gi, gj := g.gaps[ids[i]], g.gaps[ids[j]]
		if gi.RiskScore == gj.RiskScore {
			return gi.CreatedAt.Before(gj.CreatedAt)
		}
		return gi.RiskScore > gj.RiskScore
	})

	roadmap := &Roadmap{
		ID:        ident.New(ident.PrefixRoadmap),
		Name:      name,
		GapIDs:    ids,
		CreatedAt: g.clock(),
	}
	g.roadmaps[roadmap.ID] = roadmap
	g.stats["roadmaps"]++
	return roadmap, nil
}

// Roadmap returns a roadmap with its progress computed from the
// current gap statuses.
func (g *GapAnalyzer) Roadmap(id string) (*Roadmap, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roadmap, ok := g.roadmaps[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrRoadmapNotFound)
	}
	done := 0
	for _, gapID := range roadmap.GapIDs {
		if gap, ok := g.gaps[gapID]; ok {
			if gap.Status == GapRemediated || gap.Status == GapAccepted {
				done++
			}
		}
	}
	out := *roadmap
	out.GapIDs = append([]string(nil), roadmap.GapIDs...)
	out.Progress = 100 * float64(done) / float64(len(roadmap.GapIDs))
	return &out, nil
}

// Gap returns a gap by id.
func (g *GapAnalyzer) Gap(id string) (*Gap, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	gap, ok := g.gaps[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrGapNotFound)
	}
	return gap, nil
}

// OpenGaps lists gaps not yet remediated or accepted, highest risk
// first.
func (g *GapAnalyzer) OpenGaps() []*Gap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Gap
	for _, gap := range g.gaps {
		if gap.Status == GapOpen || gap.Status == GapInProgress {
			out = append(out, gap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskScore == out[j].RiskScore {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}

// Stats returns the analyzer's counters.
func (g *GapAnalyzer) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int, len(g.stats))
	for k, v := range g.stats {
		out[k] = v
	}
	return out
}
