// Package incident implements the incident-response subsystem: pattern
// detection with cross-incident correlation, containment with quarantines
// and account suspensions, forensic evidence custody, root-cause analysis,
// impact assessment, checkpointed recovery, lesson capture, and versioned
// response playbooks, composed behind an orchestrator.
package incident

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
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrIncidentClosed      = errors.New("incident is closed")
	ErrPatternNotFound     = errors.New("detection pattern not found")
	ErrPatternExists       = errors.New("detection pattern already exists")
	ErrCorrelationNotFound = errors.New("correlation not found")
	ErrAlertNotFound       = errors.New("incident alert not found")
)

// IncidentType classifies a security incident.
type IncidentType string

const (
	IncidentMalware         IncidentType = "malware"
	IncidentPhishing        IncidentType = "phishing"
	IncidentDataBreach      IncidentType = "data_breach"
	IncidentDDoS            IncidentType = "ddos"
	IncidentIntrusion       IncidentType = "intrusion"
	IncidentInsiderThreat   IncidentType = "insider_threat"
	IncidentRansomware      IncidentType = "ransomware"
	IncidentCredentialTheft IncidentType = "credential_theft"
)

// ParseIncidentType validates an incident type label.
func ParseIncidentType(s string) (IncidentType, error) {
	switch t := IncidentType(s); t {
	case IncidentMalware, IncidentPhishing, IncidentDataBreach, IncidentDDoS,
		IncidentIntrusion, IncidentInsiderThreat, IncidentRansomware, IncidentCredentialTheft:
		return t, nil
	default:
		return "", fmt.Errorf("invalid incident type: %q", s)
	}
}

// ParseIncidentSeverity validates a triage severity. Incidents use the five
// reporting tiers; none and emergency are not triage labels.
func ParseIncidentSeverity(s string) (severity.Level, error) {
	lvl, err := severity.Parse(s)
	if err != nil {
		return "", err
	}
	switch lvl {
	case severity.Info, severity.Low, severity.Medium, severity.High, severity.Critical:
		return lvl, nil
	default:
		return "", fmt.Errorf("severity %q is not an incident severity", s)
	}
}

// IncidentStatus is the response lifecycle stage of an incident. The
// nominal path runs active, contained, investigating, recovering,
// resolved, closed, but responders may move an incident to any stage;
// only closed is terminal.
type IncidentStatus string

const (
	StatusActive        IncidentStatus = "active"
	StatusContained     IncidentStatus = "contained"
	StatusInvestigating IncidentStatus = "investigating"
	StatusRecovering    IncidentStatus = "recovering"
	StatusResolved      IncidentStatus = "resolved"
	StatusClosed        IncidentStatus = "closed"
)

// ParseIncidentStatus validates an incident status label.
func ParseIncidentStatus(s string) (IncidentStatus, error) {
	switch st := IncidentStatus(s); st {
	case StatusActive, StatusContained, StatusInvestigating, StatusRecovering, StatusResolved, StatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("invalid incident status: %q", s)
	}
}

// DetectionPattern matches incidents by indicator overlap: a pattern fires
// when at least Threshold of its indicators appear among the observed
// indicators of a detection.
type DetectionPattern struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Indicators []string       `json:"indicators"`
	Threshold  int            `json:"threshold"`
	Severity   severity.Level `json:"severity"`
	MatchCount int            `json:"match_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Incident is one detected security incident.
type Incident struct {
	ID              string         `json:"id"`
	Type            IncidentType   `json:"type"`
	Severity        severity.Level `json:"severity"`
	Status          IncidentStatus `json:"status"`
	Description     string         `json:"description,omitempty"`
	Indicators      []string       `json:"indicators,omitempty"`
	AffectedSystems []string       `json:"affected_systems,omitempty"`
	MatchedPatterns []string       `json:"matched_patterns,omitempty"`
	AlertID         string         `json:"alert_id,omitempty"`
	DetectedAt      time.Time      `json:"detected_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IncidentAlert is one alert on the incident ledger. Detections emit one
// automatically; the orchestrator raises operational alerts onto the same
// ledger.
type IncidentAlert struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id,omitempty"`
	Type       string         `json:"type"`
	Severity   severity.Level `json:"severity"`
	Message    string         `json:"message"`
	Status     string         `json:"status"` // open or resolved
	RaisedAt   time.Time      `json:"raised_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Correlation links incidents that share indicators. Strength is the
// share of the largest indicator set that every linked incident carries.
type Correlation struct {
	ID               string    `json:"id"`
	IncidentIDs      []string  `json:"incident_ids"`
	CommonIndicators []string  `json:"common_indicators,omitempty"`
	CommonSystems    []string  `json:"common_systems,omitempty"`
	Strength         float64   `json:"strength"`
	CreatedAt        time.Time `json:"created_at"`
}

// Detector stores detection patterns, matches them against incoming
// incidents, and correlates incidents by shared indicators.
type Detector struct {
	mu           sync.RWMutex
	patterns     map[string]*DetectionPattern
	patternNames map[string]string // name -> pattern ID
	incidents    map[string]*Incident
	alerts       map[string]*IncidentAlert
	alertOrder   []string
	correlations map[string]*Correlation
	clock        func() time.Time
}

// NewDetector returns an empty detector with no registered patterns.
func NewDetector() *Detector {
	return &Detector{
		patterns:     make(map[string]*DetectionPattern),
		patternNames: make(map[string]string),
		incidents:    make(map[string]*Incident),
		alerts:       make(map[string]*IncidentAlert),
		correlations: make(map[string]*Correlation),
		clock:        time.Now,
	}
}

// WithClock overrides the time source.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// AddPattern registers a detection pattern. Indicators are deduplicated;
// the threshold must be satisfiable by the remaining set.
func (d *Detector) AddPattern(name string, indicators []string, threshold int, sev string) (*DetectionPattern, error) {
	if name == "" {
		return nil, errors.New("pattern name is required")
	}
	level, err := ParseIncidentSeverity(sev)
	if err != nil {
		return nil, err
	}
	unique := uniqueStrings(indicators)
	if len(unique) == 0 {
		return nil, fmt.Errorf("pattern %q needs at least one indicator", name)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("pattern %q threshold must be at least 1", name)
	}
	if threshold > len(unique) {
		return nil, fmt.Errorf("pattern %q threshold %d exceeds its %d indicators", name, threshold, len(unique))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.patternNames[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrPatternExists)
	}
	p := &DetectionPattern{
		ID:         ident.New(ident.PrefixPattern),
		Name:       name,
		Indicators: unique,
		Threshold:  threshold,
		Severity:   level,
		CreatedAt:  d.clock(),
	}
	d.patterns[p.ID] = p
	d.patternNames[name] = p.ID
	return p, nil
}

// DetectIncident validates the report, matches it against every pattern,
// stores the incident as active, and emits a detection alert.
func (d *Detector) DetectIncident(incidentType, sev, description string, indicators, affectedSystems []string) (*Incident, error) {
	it, err := ParseIncidentType(incidentType)
	if err != nil {
		return nil, err
	}
	level, err := ParseIncidentSeverity(sev)
	if err != nil {
		return nil, err
	}
	observed := uniqueStrings(indicators)
	systems := uniqueStrings(affectedSystems)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()

	var matched []string
	for _, p := range d.patternsByNameLocked() {
		if countOverlap(p.Indicators, observed) >= p.Threshold {
			p.MatchCount++
			matched = append(matched, p.ID)
		}
	}

	inc := &Incident{
		ID:              ident.New(ident.PrefixIncident),
		Type:            it,
		Severity:        level,
		Status:          StatusActive,
		Description:     description,
		Indicators:      observed,
		AffectedSystems: systems,
		MatchedPatterns: matched,
		DetectedAt:      now,
		UpdatedAt:       now,
	}
	d.incidents[inc.ID] = inc

	msg := fmt.Sprintf("%s incident detected", it)
	if len(matched) > 0 {
		msg = fmt.Sprintf("%s incident detected, %d patterns matched", it, len(matched))
	}
	alert := d.emitAlertLocked(inc.ID, "incident_detected", level, msg)
	inc.AlertID = alert.ID
	return inc, nil
}

// UpdateStatus moves an incident to a new lifecycle stage. Closed
// incidents accept no further transitions.
func (d *Detector) UpdateStatus(id, status string) (*Incident, error) {
	st, err := ParseIncidentStatus(status)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	inc, ok := d.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrIncidentNotFound)
	}
	if inc.Status == StatusClosed {
		return nil, fmt.Errorf("incident %q: %w", id, ErrIncidentClosed)
	}
	inc.Status = st
	inc.UpdatedAt = d.clock()
	return inc, nil
}

// CorrelateIncidents links two or more incidents by their shared
// indicators and affected systems.
func (d *Detector) CorrelateIncidents(ids []string) (*Correlation, error) {
	unique := uniqueStrings(ids)
	if len(unique) < 2 {
		return nil, errors.New("correlation needs at least two distinct incidents")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	incidents := make([]*Incident, 0, len(unique))
	for _, id := range unique {
		inc, ok := d.incidents[id]
		if !ok {
			return nil, fmt.Errorf("%q: %w", id, ErrIncidentNotFound)
		}
		incidents = append(incidents, inc)
	}

	commonIndicators := incidents[0].Indicators
	commonSystems := incidents[0].AffectedSystems
	largest := len(incidents[0].Indicators)
	for _, inc := range incidents[1:] {
		commonIndicators = intersect(commonIndicators, inc.Indicators)
		commonSystems = intersect(commonSystems, inc.AffectedSystems)
		if len(inc.Indicators) > largest {
			largest = len(inc.Indicators)
		}
	}
	if largest < 1 {
		largest = 1
	}

	cor := &Correlation{
		ID:               ident.New(ident.PrefixCorrelation),
		IncidentIDs:      unique,
		CommonIndicators: commonIndicators,
		CommonSystems:    commonSystems,
		Strength:         float64(len(commonIndicators)) / float64(largest),
		CreatedAt:        d.clock(),
	}
	d.correlations[cor.ID] = cor
	return cor, nil
}

// EmitAlert raises an alert onto the incident ledger.
func (d *Detector) EmitAlert(incidentID, alertType string, sev severity.Level, message string) *IncidentAlert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitAlertLocked(incidentID, alertType, sev, message)
}

func (d *Detector) emitAlertLocked(incidentID, alertType string, sev severity.Level, message string) *IncidentAlert {
	alert := &IncidentAlert{
		ID:         ident.New(ident.PrefixIncAlert),
		IncidentID: incidentID,
		Type:       alertType,
		Severity:   sev,
		Message:    message,
		Status:     "open",
		RaisedAt:   d.clock(),
	}
	d.alerts[alert.ID] = alert
	d.alertOrder = append(d.alertOrder, alert.ID)
	return alert
}

// ResolveAlert closes an open incident alert.
func (d *Detector) ResolveAlert(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	alert, ok := d.alerts[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrAlertNotFound)
	}
	if alert.Status == "resolved" {
		return fmt.Errorf("alert %q already resolved", id)
	}
	now := d.clock()
	alert.Status = "resolved"
	alert.ResolvedAt = &now
	return nil
}

// Pattern returns a detection pattern by ID.
func (d *Detector) Pattern(id string) (*DetectionPattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrPatternNotFound)
	}
	return p, nil
}

// PatternByName returns a detection pattern by its unique name.
func (d *Detector) PatternByName(name string) (*DetectionPattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.patternNames[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrPatternNotFound)
	}
	return d.patterns[id], nil
}

// Patterns lists detection patterns ordered by name.
func (d *Detector) Patterns() []*DetectionPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.patternsByNameLocked()
}

func (d *Detector) patternsByNameLocked() []*DetectionPattern {
	out := make([]*DetectionPattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Incident returns an incident by ID.
func (d *Detector) Incident(id string) (*Incident, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inc, ok := d.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrIncidentNotFound)
	}
	return inc, nil
}

// Incidents lists incidents oldest first.
func (d *Detector) Incidents() []*Incident {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Incident, 0, len(d.incidents))
	for _, inc := range d.incidents {
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// IncidentsByStatus lists incidents in the given lifecycle stage, oldest
// first.
func (d *Detector) IncidentsByStatus(status IncidentStatus) []*Incident {
	var out []*Incident
	for _, inc := range d.Incidents() {
		if inc.Status == status {
			out = append(out, inc)
		}
	}
	return out
}

// Alert returns a ledger alert by ID.
func (d *Detector) Alert(id string) (*IncidentAlert, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	alert, ok := d.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrAlertNotFound)
	}
	return alert, nil
}

// Alerts lists ledger alerts oldest first.
func (d *Detector) Alerts() []*IncidentAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*IncidentAlert, 0, len(d.alertOrder))
	for _, id := range d.alertOrder {
		if alert, ok := d.alerts[id]; ok {
			out = append(out, alert)
		}
	}
	return out
}

// OpenAlerts lists unresolved ledger alerts oldest first.
func (d *Detector) OpenAlerts() []*IncidentAlert {
	var out []*IncidentAlert
	for _, alert := range d.Alerts() {
		if alert.Status == "open" {
			out = append(out, alert)
		}
	}
	return out
}

// Correlation returns a correlation by ID.
func (d *Detector) Correlation(id string) (*Correlation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cor, ok := d.correlations[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrCorrelationNotFound)
	}
	return cor, nil
}

// Stats reports detector counters.
func (d *Detector) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	active := 0
	for _, inc := range d.incidents {
		if inc.Status == StatusActive {
			active++
		}
	}
	open := 0
	for _, alert := range d.alerts {
		if alert.Status == "open" {
			open++
		}
	}
	return map[string]int{
		"patterns":     len(d.patterns),
		"incidents":    len(d.incidents),
		"active":       active,
		"alerts":       len(d.alerts),
		"open_alerts":  open,
		"correlations": len(d.correlations),
	}
}

// uniqueStrings drops empty entries and duplicates, preserving first-seen
// order.
func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// countOverlap counts how many members of set appear in observed.
func countOverlap(set, observed []string) int {
	have := make(map[string]struct{}, len(observed))
	for _, s := range observed {
		have[s] = struct{}{}
	}
	n := 0
	for _, s := range set {
		if _, ok := have[s]; ok {
			n++
		}
	}
	return n
}

// intersect keeps the members of a that also appear in b, in a's order.
func intersect(a, b []string) []string {
	have := make(map[string]struct{}, len(b))
	for _, s := range b {
		have[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := have[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
