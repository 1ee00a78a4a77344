package incident

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrAnalysisNotFound  = errors.New("analysis not found")
	ErrAnalysisCompleted = errors.New("analysis already completed")
)

// RootCause is one identified cause with an investigator confidence.
type RootCause struct {
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Confidence  float64   `json:"confidence"`
	AddedAt     time.Time `json:"added_at"`
}

// TimelineEvent is one reconstructed event. The analysis timeline stays
// sorted by timestamp regardless of insertion order.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
}

// Propagation records lateral movement between two systems.
type Propagation struct {
	FromSystem string `json:"from_system"`
	ToSystem   string `json:"to_system"`
	Method     string `json:"method,omitempty"`
}

// Analysis is one root-cause investigation. Completion freezes it.
type Analysis struct {
	ID              string           `json:"id"`
	IncidentID      string           `json:"incident_id"`
	Status          string           `json:"status"` // in_progress or completed
	RootCauses      []*RootCause     `json:"root_causes,omitempty"`
	Timeline        []*TimelineEvent `json:"timeline,omitempty"`
	EntryPoints     []string         `json:"entry_points,omitempty"`
	Propagations    []*Propagation   `json:"propagations,omitempty"`
	Vulnerabilities []string         `json:"vulnerabilities,omitempty"`
	Conclusion      string           `json:"conclusion,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// RootCauseAnalyzer runs investigations that accumulate causes, timeline
// events, entry points, propagation paths, and linked vulnerabilities.
type RootCauseAnalyzer struct {
	mu         sync.RWMutex
	analyses   map[string]*Analysis
	byIncident map[string]string // incident ID -> latest analysis ID
	clock      func() time.Time
}

// NewRootCauseAnalyzer returns an analyzer with no open investigations.
func NewRootCauseAnalyzer() *RootCauseAnalyzer {
	return &RootCauseAnalyzer{
		analyses:   make(map[string]*Analysis),
		byIncident: make(map[string]string),
		clock:      time.Now,
	}
}

// WithClock overrides the time source.
func (a *RootCauseAnalyzer) WithClock(clock func() time.Time) *RootCauseAnalyzer {
	a.clock = clock
	return a
}

// StartAnalysis opens an investigation for an incident.
func (a *RootCauseAnalyzer) StartAnalysis(incidentID string) (*Analysis, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	an := &Analysis{
		ID:         ident.New(ident.PrefixAnalysis),
		IncidentID: incidentID,
		Status:     "in_progress",
		StartedAt:  a.clock(),
	}
	a.analyses[an.ID] = an
	a.byIncident[incidentID] = an.ID
	return an, nil
}

// AddRootCause records a cause. Confidence is clamped to [0, 1].
func (a *RootCauseAnalyzer) AddRootCause(analysisID, description, category string, confidence float64) (*Analysis, error) {
	if description == "" {
		return nil, errors.New("root cause description is required")
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	an.RootCauses = append(an.RootCauses, &RootCause{
		Description: description,
		Category:    category,
		Confidence:  confidence,
		AddedAt:     a.clock(),
	})
	return an, nil
}

// AddTimelineEvent inserts a reconstructed event and re-sorts the
// timeline ascending.
func (a *RootCauseAnalyzer) AddTimelineEvent(analysisID string, timestamp time.Time, description, source string) (*Analysis, error) {
	if description == "" {
		return nil, errors.New("timeline event description is required")
	}
	if timestamp.IsZero() {
		return nil, errors.New("timeline event timestamp is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	an.Timeline = append(an.Timeline, &TimelineEvent{
		Timestamp:   timestamp,
		Description: description,
		Source:      source,
	})
	sort.SliceStable(an.Timeline, func(i, j int) bool {
		return an.Timeline[i].Timestamp.Before(an.Timeline[j].Timestamp)
	})
	return an, nil
}

// AddEntryPoint records where the attacker got in. Duplicates are
// ignored.
func (a *RootCauseAnalyzer) AddEntryPoint(analysisID, entryPoint string) (*Analysis, error) {
	if entryPoint == "" {
		return nil, errors.New("entry point is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	an.EntryPoints = appendUnique(an.EntryPoints, entryPoint)
	return an, nil
}

// AddPropagation records lateral movement between systems.
func (a *RootCauseAnalyzer) AddPropagation(analysisID, fromSystem, toSystem, method string) (*Analysis, error) {
	if fromSystem == "" || toSystem == "" {
		return nil, errors.New("propagation needs both systems")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	an.Propagations = append(an.Propagations, &Propagation{
		FromSystem: fromSystem,
		ToSystem:   toSystem,
		Method:     method,
	})
	return an, nil
}

// LinkVulnerability ties a known vulnerability to the investigation.
// Duplicates are ignored.
func (a *RootCauseAnalyzer) LinkVulnerability(analysisID, vulnerabilityID string) (*Analysis, error) {
	if vulnerabilityID == "" {
		return nil, errors.New("vulnerability ID is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	an.Vulnerabilities = appendUnique(an.Vulnerabilities, vulnerabilityID)
	return an, nil
}

// CompleteAnalysis freezes the investigation with its conclusion.
func (a *RootCauseAnalyzer) CompleteAnalysis(analysisID, conclusion string) (*Analysis, error) {
	if conclusion == "" {
		return nil, errors.New("analysis conclusion is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	an, err := a.mutableLocked(analysisID)
	if err != nil {
		return nil, err
	}
	now := a.clock()
	an.Status = "completed"
	an.Conclusion = conclusion
	an.CompletedAt = &now
	return an, nil
}

func (a *RootCauseAnalyzer) mutableLocked(id string) (*Analysis, error) {
	an, ok := a.analyses[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAnalysisNotFound)
	}
	if an.Status == "completed" {
		return nil, fmt.Errorf("analysis %q: %w", id, ErrAnalysisCompleted)
	}
	return an, nil
}

// Analysis returns an investigation by ID.
func (a *RootCauseAnalyzer) Analysis(id string) (*Analysis, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	an, ok := a.analyses[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAnalysisNotFound)
	}
	return an, nil
}

// AnalysisFor returns the latest investigation opened for an incident.
func (a *RootCauseAnalyzer) AnalysisFor(incidentID string) (*Analysis, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byIncident[incidentID]
	if !ok {
		return nil, fmt.Errorf("incident %q: %w", incidentID, ErrAnalysisNotFound)
	}
	return a.analyses[id], nil
}

// Stats reports analyzer counters.
func (a *RootCauseAnalyzer) Stats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	completed, causes, events := 0, 0, 0
	for _, an := range a.analyses {
		if an.Status == "completed" {
			completed++
		}
		causes += len(an.RootCauses)
		events += len(an.Timeline)
	}
	return map[string]int{
		"analyses":        len(a.analyses),
		"completed":       completed,
		"root_causes":     causes,
		"timeline_events": events,
	}
}

// appendUnique appends s unless already present.
func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
