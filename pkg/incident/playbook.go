package incident

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrPlaybookNotFound  = errors.New("playbook not found")
	ErrPlaybookExists    = errors.New("playbook already exists")
	ErrProcedureNotFound = errors.New("procedure not found")
	ErrAutomationExists  = errors.New("automation trigger already registered")
)

// Procedure is one ordered response step in a playbook.
type Procedure struct {
	ID           string `json:"id"`
	StepOrder    int    `json:"step_order"`
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
}

// Automation binds a trigger condition to an automatic action.
type Automation struct {
	ID      string `json:"id"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
}

// PlaybookTest is the outcome of one symbolic dry run.
type PlaybookTest struct {
	PlaybookID string    `json:"playbook_id"`
	StepsRun   int       `json:"steps_run"`
	Passed     bool      `json:"passed"`
	RanAt      time.Time `json:"ran_at"`
}

// Playbook is a versioned response runbook for one incident type.
// Drafts start at 0.1.0; publishing bumps the minor version, or the
// major version when a procedure was removed from a published edition.
type Playbook struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	IncidentType IncidentType  `json:"incident_type"`
	Version      string        `json:"version"`
	Status       string        `json:"status"` // draft or published
	Procedures   []*Procedure  `json:"procedures,omitempty"`
	Automations  []*Automation `json:"automations,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
}

// PlaybookManager stores playbooks, keeps their procedures in step
// order, and versions them across publishes.
type PlaybookManager struct {
	mu        sync.RWMutex
	playbooks map[string]*Playbook
	names     map[string]string // name -> playbook ID
	breaking  map[string]bool   // playbook ID -> procedure removed since last publish
	tests     int
	clock     func() time.Time
}

// NewPlaybookManager returns an empty manager.
func NewPlaybookManager() *PlaybookManager {
	return &PlaybookManager{
		playbooks: make(map[string]*Playbook),
		names:     make(map[string]string),
		breaking:  make(map[string]bool),
		clock:     time.Now,
	}
}

// WithClock overrides the time source.
func (m *PlaybookManager) WithClock(clock func() time.Time) *PlaybookManager {
	m.clock = clock
	return m
}

// CreatePlaybook opens a draft playbook for an incident type.
func (m *PlaybookManager) CreatePlaybook(name, incidentType string) (*Playbook, error) {
	if name == "" {
		return nil, errors.New("playbook name is required")
	}
	it, err := ParseIncidentType(incidentType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrPlaybookExists)
	}
	now := m.clock()
	pb := &Playbook{
		ID:           ident.New(ident.PrefixPlaybook),
		Name:         name,
		IncidentType: it,
		Version:      "0.1.0",
		Status:       "draft",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.playbooks[pb.ID] = pb
	m.names[name] = pb.ID
	return pb, nil
}

// AddProcedure inserts a response step. Procedures stay sorted by step
// order regardless of insertion order.
func (m *PlaybookManager) AddProcedure(playbookID string, stepOrder int, title, instructions string) (*Procedure, error) {
	if title == "" {
		return nil, errors.New("procedure title is required")
	}
	if stepOrder < 1 {
		return nil, errors.New("procedure step order must be at least 1")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[playbookID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", playbookID, ErrPlaybookNotFound)
	}
	proc := &Procedure{
		ID:           ident.New(ident.PrefixProcedure),
		StepOrder:    stepOrder,
		Title:        title,
		Instructions: instructions,
	}
	pb.Procedures = append(pb.Procedures, proc)
	sort.SliceStable(pb.Procedures, func(i, j int) bool {
		return pb.Procedures[i].StepOrder < pb.Procedures[j].StepOrder
	})
	pb.UpdatedAt = m.clock()
	return proc, nil
}

// RemoveProcedure drops a response step. Removing a step from a
// published playbook is a breaking change; the next publish bumps the
// major version.
func (m *PlaybookManager) RemoveProcedure(playbookID, procedureID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[playbookID]
	if !ok {
		return fmt.Errorf("%q: %w", playbookID, ErrPlaybookNotFound)
	}
	for i, proc := range pb.Procedures {
		if proc.ID != procedureID {
			continue
		}
		pb.Procedures = append(pb.Procedures[:i], pb.Procedures[i+1:]...)
		pb.UpdatedAt = m.clock()
		if pb.Status == "published" {
			m.breaking[pb.ID] = true
		}
		return nil
	}
	return fmt.Errorf("%q: %w", procedureID, ErrProcedureNotFound)
}

// AddAutomation binds a trigger to an action. Triggers are unique per
// playbook.
func (m *PlaybookManager) AddAutomation(playbookID, trigger, action string) (*Automation, error) {
	if trigger == "" {
		return nil, errors.New("automation trigger is required")
	}
	if action == "" {
		return nil, errors.New("automation action is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[playbookID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", playbookID, ErrPlaybookNotFound)
	}
	for _, auto := range pb.Automations {
		if auto.Trigger == trigger {
			return nil, fmt.Errorf("%q: %w", trigger, ErrAutomationExists)
		}
	}
	auto := &Automation{
		ID:      ident.New(ident.PrefixAutomation),
		Trigger: trigger,
		Action:  action,
	}
	pb.Automations = append(pb.Automations, auto)
	pb.UpdatedAt = m.clock()
	return auto, nil
}

// RunTest dry-runs every procedure in step order.
func (m *PlaybookManager) RunTest(playbookID string) (*PlaybookTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[playbookID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", playbookID, ErrPlaybookNotFound)
	}
	if len(pb.Procedures) == 0 {
		return nil, fmt.Errorf("playbook %q has no procedures to test", playbookID)
	}
	m.tests++
	return &PlaybookTest{
		PlaybookID: pb.ID,
		StepsRun:   len(pb.Procedures),
		Passed:     true,
		RanAt:      m.clock(),
	}, nil
}

// Publish releases the current edition and bumps the version: minor for
// an ordinary publish, major when a published procedure was removed.
func (m *PlaybookManager) Publish(playbookID string) (*Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[playbookID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", playbookID, ErrPlaybookNotFound)
	}
	if len(pb.Procedures) == 0 {
		return nil, fmt.Errorf("playbook %q has no procedures to publish", playbookID)
	}

	current, err := semver.NewVersion(pb.Version)
	if err != nil {
		return nil, fmt.Errorf("playbook %q carries invalid version %q: %w", playbookID, pb.Version, err)
	}
	var next semver.Version
	if m.breaking[pb.ID] {
		next = current.IncMajor()
		delete(m.breaking, pb.ID)
	} else {
		next = current.IncMinor()
	}

	now := m.clock()
	pb.Version = next.String()
	pb.Status = "published"
	pb.PublishedAt = &now
	pb.UpdatedAt = now
	return pb, nil
}

// GenerateDraft drafts a playbook whose procedures follow the given
// recommendations in order.
func (m *PlaybookManager) GenerateDraft(name, incidentType string, recommendations []string) (*Playbook, error) {
	recs := uniqueStrings(recommendations)
	if len(recs) == 0 {
		return nil, errors.New("playbook generation needs at least one recommendation")
	}
	pb, err := m.CreatePlaybook(name, incidentType)
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		if _, err := m.AddProcedure(pb.ID, i+1, rec, ""); err != nil {
			return nil, err
		}
	}
	return pb, nil
}

// Playbook returns a playbook by ID.
func (m *PlaybookManager) Playbook(id string) (*Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pb, ok := m.playbooks[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrPlaybookNotFound)
	}
	return pb, nil
}

// PlaybookByName returns a playbook by its unique name.
func (m *PlaybookManager) PlaybookByName(name string) (*Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrPlaybookNotFound)
	}
	return m.playbooks[id], nil
}

// Playbooks lists playbooks ordered by name.
func (m *PlaybookManager) Playbooks() []*Playbook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Playbook, 0, len(m.playbooks))
	for _, pb := range m.playbooks {
		out = append(out, pb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForIncidentType lists the playbooks covering one incident type,
// ordered by name.
func (m *PlaybookManager) ForIncidentType(it IncidentType) []*Playbook {
	var out []*Playbook
	for _, pb := range m.Playbooks() {
		if pb.IncidentType == it {
			out = append(out, pb)
		}
	}
	return out
}

// Stats reports playbook counters.
func (m *PlaybookManager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	published, procedures, automations := 0, 0, 0
	for _, pb := range m.playbooks {
		if pb.Status == "published" {
			published++
		}
		procedures += len(pb.Procedures)
		automations += len(pb.Automations)
	}
	return map[string]int{
		"playbooks":   len(m.playbooks),
		"published":   published,
		"procedures":  procedures,
		"automations": automations,
		"tests":       m.tests,
	}
}
