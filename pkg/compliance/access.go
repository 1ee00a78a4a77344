package compliance

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

// AccessEvent is one recorded access attempt.
type AccessEvent struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Granted   bool      `json:"granted"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessFinding is one anomaly surfaced by an access review.
type AccessFinding struct {
	Type      string         `json:"type"`
	Principal string         `json:"principal"`
	Severity  severity.Level `json:"severity"`
	Measure   float64        `json:"measure"`
	Detail    string         `json:"detail"`
}

// AccessReview is the stored result of one review pass.
type AccessReview struct {
	ID        string          `json:"id"`
	Reviewed  int             `json:"reviewed"`
	Findings  []AccessFinding `json:"findings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccessAuditor keeps an append-only access log and reviews its tail
// for denial bursts and unusually broad resource reach.
type AccessAuditor struct {
	mu           sync.RWMutex
	events       []*AccessEvent
	reviews      map[string]*AccessReview
	denialRate   float64 // review threshold, fraction of denied events per principal
	resourceSpan int     // review threshold, distinct resources per principal
	stats        map[string]int
	clock        func() time.Time
}

// NewAccessAuditor creates an auditor with default review thresholds.
func NewAccessAuditor() *AccessAuditor {
	return &AccessAuditor{
		reviews:      make(map[string]*AccessReview),
		denialRate:   0.5,
		resourceSpan: 10,
		stats:        map[string]int{"events": 0, "denials": 0, "reviews": 0, "findings": 0},
		clock:        time.Now,
	}
}

// WithClock overrides the time source. Returns the auditor for chaining.
func (a *AccessAuditor) WithClock(clock func() time.Time) *AccessAuditor {
	a.clock = clock
	return a
}

// SetThresholds adjusts the review thresholds.
func (a *AccessAuditor) SetThresholds(denialRate float64, resourceSpan int) error {
	if denialRate <= 0 || denialRate > 1 {
		return fmt.Errorf("denial rate must be in (0,1]: %v", denialRate)
	}
	if resourceSpan < 1 {
		return fmt.Errorf("resource span must be positive: %d", resourceSpan)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denialRate = denialRate
	a.resourceSpan = resourceSpan
	return nil
}

// RecordAccess appends one access attempt to the log.
func (a *AccessAuditor) RecordAccess(principal, resource, action string, granted bool, reason string) (*AccessEvent, error) {
	if principal == "" || resource == "" || action == "" {
		return nil, fmt.Errorf("principal, resource, and action are required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ev := &AccessEvent{
		ID:        ident.New(ident.PrefixAccessLog),
		Principal: principal,
		Resource:  resource,
		Action:    action,
		Granted:   granted,
		Reason:    reason,
		Timestamp: a.clock(),
	}
	a.events = append(a.events, ev)
	a.stats["events"]++
	if !granted {
		a.stats["denials"]++
	}
	return ev, nil
}

// ReviewAccess scans the tail lastN events and emits findings for
// principals with a denial rate above threshold (at five or more
// events), an unusually broad resource span, or a grant following a
// denial on the same resource.
func (a *AccessAuditor) ReviewAccess(lastN int) (*AccessReview, error) {
	if lastN < 1 {
		return nil, fmt.Errorf("review window must be positive: %d", lastN)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tail := a.events
	if len(tail) > lastN {
		tail = tail[len(tail)-lastN:]
	}

	type principalTally struct {
		total        int
		denied       int
		resources    map[string]bool
		deniedRes    map[string]bool
		grantedAfter []string // resources granted after an earlier denial
	}
	tallies := make(map[string]*principalTally)
	for _, ev := range tail {
		t := tallies[ev.Principal]
		if t == nil {
			t = &principalTally{resources: make(map[string]bool), deniedRes: make(map[string]bool)}
			tallies[ev.Principal] = t
		}
		t.total++
		t.resources[ev.Resource] = true
		if !ev.Granted {
			t.denied++
			t.deniedRes[ev.Resource] = true
		} else if t.deniedRes[ev.Resource] {
			t.grantedAfter = append(t.grantedAfter, ev.Resource)
			delete(t.deniedRes, ev.Resource)
		}
	}

	review := &AccessReview{
		ID:        ident.New(ident.PrefixAccessReview),
		Reviewed:  len(tail),
		CreatedAt: a.clock(),
	}
	for principal, t := range tallies {
		if t.total >= 5 {
			rate := float64(t.denied) / float64(t.total)
			if rate > a.denialRate {
				review.Findings = append(review.Findings, AccessFinding{
					Type:      "excessive_denials",
					Principal: principal,
					Severity:  severity.High,
					Measure:   rate,
					Detail:    fmt.Sprintf("%d of %d attempts denied", t.denied, t.total),
				})
			}
		}
		if len(t.resources) > a.resourceSpan {
			review.Findings = append(review.Findings, AccessFinding{
				Type:      "broad_access",
				Principal: principal,
				Severity:  severity.Medium,
				Measure:   float64(len(t.resources)),
				Detail:    fmt.Sprintf("touched %d distinct resources", len(t.resources)),
			})
		}
		for _, res := range t.grantedAfter {
			review.Findings = append(review.Findings, AccessFinding{
				Type:      "grant_after_denial",
				Principal: principal,
				Severity:  severity.Low,
				Measure:   1,
				Detail:    fmt.Sprintf("granted %q after a prior denial", res),
			})
		}
	}

	a.reviews[review.ID] = review
	a.stats["reviews"]++
	a.stats["findings"] += len(review.Findings)
	return review, nil
}

// PrincipalHistory returns the tail lastN events for one principal.
func (a *AccessAuditor) PrincipalHistory(principal string, lastN int) []*AccessEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*AccessEvent
	for _, ev := range a.events {
		if ev.Principal == principal {
			out = append(out, ev)
		}
	}
	if lastN > 0 && len(out) > lastN {
		out = out[len(out)-lastN:]
	}
	return out
}

// Review returns a stored review by id.
func (a *AccessAuditor) Review(id string) (*AccessReview, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	review, ok := a.reviews[id]
	if !ok {
		return nil, fmt.Errorf("access review %q not found", id)
	}
	return review, nil
}

// Stats returns the auditor's counters.
func (a *AccessAuditor) Stats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}
