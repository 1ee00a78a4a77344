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
	ErrContainmentNotFound = errors.New("containment not found")
	ErrQuarantineNotFound  = errors.New("quarantine not found")
	ErrSuspensionNotFound  = errors.New("suspension not found")
)

// ContainmentAction is one supported containment measure.
type ContainmentAction string

const (
	ActionNetworkIsolate   ContainmentAction = "network_isolate"
	ActionAccountSuspend   ContainmentAction = "account_suspend"
	ActionServiceShutdown  ContainmentAction = "service_shutdown"
	ActionPortBlock        ContainmentAction = "port_block"
	ActionIPBlock          ContainmentAction = "ip_block"
	ActionProcessKill      ContainmentAction = "process_kill"
	ActionFileQuarantine   ContainmentAction = "file_quarantine"
	ActionCredentialRevoke ContainmentAction = "credential_revoke"
)

// ParseContainmentAction validates a containment action label.
func ParseContainmentAction(s string) (ContainmentAction, error) {
	switch a := ContainmentAction(s); a {
	case ActionNetworkIsolate, ActionAccountSuspend, ActionServiceShutdown, ActionPortBlock,
		ActionIPBlock, ActionProcessKill, ActionFileQuarantine, ActionCredentialRevoke:
		return a, nil
	default:
		return "", fmt.Errorf("invalid containment action: %q", s)
	}
}

// Containment records one action applied to one target.
type Containment struct {
	ID           string            `json:"id"`
	IncidentID   string            `json:"incident_id"`
	Action       ContainmentAction `json:"action"`
	Target       string            `json:"target"`
	Status       string            `json:"status"` // applied
	QuarantineID string            `json:"quarantine_id,omitempty"`
	SuspensionID string            `json:"suspension_id,omitempty"`
	AppliedAt    time.Time         `json:"applied_at"`
}

// Quarantine isolates one system from the network until released.
type Quarantine struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incident_id"`
	Target     string     `json:"target"`
	Status     string     `json:"status"` // active or released
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Suspension blocks one account until reinstated.
type Suspension struct {
	ID           string     `json:"id"`
	IncidentID   string     `json:"incident_id"`
	Account      string     `json:"account"`
	Status       string     `json:"status"` // active or reinstated
	CreatedAt    time.Time  `json:"created_at"`
	ReinstatedAt *time.Time `json:"reinstated_at,omitempty"`
}

// ContainmentResult aggregates one containment pass over an incident.
type ContainmentResult struct {
	IncidentID    string         `json:"incident_id"`
	ActionsTaken  int            `json:"actions_taken"`
	Containments  []*Containment `json:"containments"`
	QuarantineIDs []string       `json:"quarantine_ids,omitempty"`
	SuspensionIDs []string       `json:"suspension_ids,omitempty"`
	Shutdowns     int            `json:"shutdowns,omitempty"`
	AppliedAt     time.Time      `json:"applied_at"`
}

// ContainmentEngine applies containment actions across targets and tracks
// the quarantines and suspensions they open.
type ContainmentEngine struct {
	mu           sync.RWMutex
	containments map[string]*Containment
	order        []string
	quarantines  map[string]*Quarantine
	suspensions  map[string]*Suspension
	shutdowns    int
	clock        func() time.Time
}

// NewContainmentEngine returns an engine with no recorded containments.
func NewContainmentEngine() *ContainmentEngine {
	return &ContainmentEngine{
		containments: make(map[string]*Containment),
		quarantines:  make(map[string]*Quarantine),
		suspensions:  make(map[string]*Suspension),
		clock:        time.Now,
	}
}

// WithClock overrides the time source.
func (e *ContainmentEngine) WithClock(clock func() time.Time) *ContainmentEngine {
	e.clock = clock
	return e
}

// ContainIncident applies every action to every target. Each
// network_isolate opens a quarantine, each account_suspend opens a
// suspension, and each service_shutdown bumps the shutdown counter.
// Invalid input fails the whole pass before anything is applied.
func (e *ContainmentEngine) ContainIncident(incidentID string, actions, targets []string) (*ContainmentResult, error) {
	if incidentID == "" {
		return nil, errors.New("incident ID is required")
	}
	uniqueActions := uniqueStrings(actions)
	if len(uniqueActions) == 0 {
		return nil, errors.New("containment needs at least one action")
	}
	parsed := make([]ContainmentAction, 0, len(uniqueActions))
	for _, a := range uniqueActions {
		action, err := ParseContainmentAction(a)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, action)
	}
	uniqueTargets := uniqueStrings(targets)
	if len(uniqueTargets) == 0 {
		return nil, errors.New("containment needs at least one target")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	result := &ContainmentResult{IncidentID: incidentID, AppliedAt: now}

	for _, action := range parsed {
		for _, target := range uniqueTargets {
			c := &Containment{
				ID:         ident.New(ident.PrefixContainment),
				IncidentID: incidentID,
				Action:     action,
				Target:     target,
				Status:     "applied",
				AppliedAt:  now,
			}
			switch action {
			case ActionNetworkIsolate:
				q := &Quarantine{
					ID:         ident.New(ident.PrefixQuarantine),
					IncidentID: incidentID,
					Target:     target,
					Status:     "active",
					CreatedAt:  now,
				}
				e.quarantines[q.ID] = q
				c.QuarantineID = q.ID
				result.QuarantineIDs = append(result.QuarantineIDs, q.ID)
			case ActionAccountSuspend:
				s := &Suspension{
					ID:         ident.New(ident.PrefixSuspension),
					IncidentID: incidentID,
					Account:    target,
					Status:     "active",
					CreatedAt:  now,
				}
				e.suspensions[s.ID] = s
				c.SuspensionID = s.ID
				result.SuspensionIDs = append(result.SuspensionIDs, s.ID)
			case ActionServiceShutdown:
				e.shutdowns++
				result.Shutdowns++
			}
			e.containments[c.ID] = c
			e.order = append(e.order, c.ID)
			result.Containments = append(result.Containments, c)
		}
	}
	result.ActionsTaken = len(result.Containments)
	return result, nil
}

// ReleaseQuarantine lifts an active quarantine.
func (e *ContainmentEngine) ReleaseQuarantine(id string) (*Quarantine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quarantines[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrQuarantineNotFound)
	}
	if q.Status != "active" {
		return nil, fmt.Errorf("quarantine %q already released", id)
	}
	now := e.clock()
	q.Status = "released"
	q.ReleasedAt = &now
	return q, nil
}

// ReinstateAccount lifts an active account suspension.
func (e *ContainmentEngine) ReinstateAccount(id string) (*Suspension, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.suspensions[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrSuspensionNotFound)
	}
	if s.Status != "active" {
		return nil, fmt.Errorf("suspension %q already reinstated", id)
	}
	now := e.clock()
	s.Status = "reinstated"
	s.ReinstatedAt = &now
	return s, nil
}

// Containment returns a containment record by ID.
func (e *ContainmentEngine) Containment(id string) (*Containment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.containments[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrContainmentNotFound)
	}
	return c, nil
}

// ContainmentsFor lists the containments applied to an incident in
// application order.
func (e *ContainmentEngine) ContainmentsFor(incidentID string) []*Containment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Containment
	for _, id := range e.order {
		if c, ok := e.containments[id]; ok && c.IncidentID == incidentID {
			out = append(out, c)
		}
	}
	return out
}

// Quarantine returns a quarantine by ID.
func (e *ContainmentEngine) Quarantine(id string) (*Quarantine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.quarantines[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrQuarantineNotFound)
	}
	return q, nil
}

// Suspension returns a suspension by ID.
func (e *ContainmentEngine) Suspension(id string) (*Suspension, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.suspensions[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrSuspensionNotFound)
	}
	return s, nil
}

// ActiveQuarantines lists active quarantines oldest first.
func (e *ContainmentEngine) ActiveQuarantines() []*Quarantine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Quarantine
	for _, q := range e.quarantines {
		if q.Status == "active" {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveSuspensions lists active suspensions oldest first.
func (e *ContainmentEngine) ActiveSuspensions() []*Suspension {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Suspension
	for _, s := range e.suspensions {
		if s.Status == "active" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats reports containment counters.
func (e *ContainmentEngine) Stats() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	activeQ := 0
	for _, q := range e.quarantines {
		if q.Status == "active" {
			activeQ++
		}
	}
	activeS := 0
	for _, s := range e.suspensions {
		if s.Status == "active" {
			activeS++
		}
	}
	return map[string]int{
		"containments":       len(e.containments),
		"quarantines":        len(e.quarantines),
		"active_quarantines": activeQ,
		"suspensions":        len(e.suspensions),
		"active_suspensions": activeS,
		"shutdowns":          e.shutdowns,
	}
}
