package credential

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

// PermissionFinding flags one over-permission signal on a key.
type PermissionFinding struct {
	Type     string         `json:"type"`
	Severity severity.Level `json:"severity"`
	Detail   string         `json:"detail"`
}

// PermissionReview is the result of checking a key's granted scopes
// against its observed scope use.
type PermissionReview struct {
	ID           string               `json:"id"`
	KeyID        string               `json:"key_id"`
	TotalScopes  int                  `json:"total_scopes"`
	UnusedScopes []string             `json:"unused_scopes,omitempty"`
	HasAdmin     bool                 `json:"has_admin"`
	Findings     []*PermissionFinding `json:"findings,omitempty"`
	ReviewedAt   time.Time            `json:"reviewed_at"`
}

// PermissionChecker compares granted scopes with recorded scope use.
type PermissionChecker struct {
	mu      sync.RWMutex
	inv     *KeyInventory
	used    map[string]map[string]bool
	reviews map[string]*PermissionReview
	admin   []string
	clock   func() time.Time
}

// NewPermissionChecker creates a checker over the given inventory. The
// default admin markers are "admin", "root", and "*"; scopes with an
// "admin:" prefix also count.
func NewPermissionChecker(inv *KeyInventory) *PermissionChecker {
	return &PermissionChecker{
		inv:     inv,
		used:    make(map[string]map[string]bool),
		reviews: make(map[string]*PermissionReview),
		admin:   []string{"admin", "root", "*"},
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Returns the checker for chaining.
func (p *PermissionChecker) WithClock(clock func() time.Time) *PermissionChecker {
	p.clock = clock
	return p
}

// SetAdminMarkers replaces the scope names treated as administrative.
func (p *PermissionChecker) SetAdminMarkers(markers []string) error {
	if len(markers) == 0 {
		return fmt.Errorf("at least one admin marker is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admin = append([]string(nil), markers...)
	return nil
}

// RecordScopeUse marks a granted scope as exercised by the key.
func (p *PermissionChecker) RecordScopeUse(keyID, scope string) error {
	if scope == "" {
		return fmt.Errorf("scope is required")
	}
	key, err := p.inv.Key(keyID)
	if err != nil {
		return err
	}
	granted := false
	for _, s := range key.Scopes {
		if s == scope {
			granted = true
			break
		}
	}
	if !granted {
		return fmt.Errorf("scope %q is not granted to key %q", scope, keyID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used[keyID] == nil {
		p.used[keyID] = make(map[string]bool)
	}
	p.used[keyID][scope] = true
	return nil
}

func (p *PermissionChecker) isAdmin(scope string) bool {
	for _, m := range p.admin {
		if scope == m {
			return true
		}
	}
	return strings.HasPrefix(scope, "admin:")
}

// CheckPermissions reviews a key's scope grants. Unused scopes, admin
// grants, and broad grants each produce a finding.
func (p *PermissionChecker) CheckPermissions(keyID string) (*PermissionReview, error) {
	key, err := p.inv.Key(keyID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	review := &PermissionReview{
		ID:          ident.New(ident.PrefixScan),
		KeyID:       keyID,
		TotalScopes: len(key.Scopes),
		ReviewedAt:  p.clock(),
	}
	for _, scope := range key.Scopes {
		if !p.used[keyID][scope] {
			review.UnusedScopes = append(review.UnusedScopes, scope)
		}
		if p.isAdmin(scope) {
			review.HasAdmin = true
		}
	}
	sort.Strings(review.UnusedScopes)

	if n := len(review.UnusedScopes); n > 0 {
		sev := severity.Low
		if n >= 3 {
			sev = severity.Medium
		}
		review.Findings = append(review.Findings, &PermissionFinding{
			Type:     "unused_scopes",
			Severity: sev,
			Detail:   fmt.Sprintf("%d of %d granted scopes never used", n, review.TotalScopes),
		})
	}
	if review.HasAdmin {
		review.Findings = append(review.Findings, &PermissionFinding{
			Type:     "admin_scope",
			Severity: severity.High,
			Detail:   "key carries an administrative scope",
		})
	}
	if review.TotalScopes > 10 {
		review.Findings = append(review.Findings, &PermissionFinding{
			Type:     "broad_grant",
			Severity: severity.Medium,
			Detail:   fmt.Sprintf("%d scopes granted", review.TotalScopes),
		})
	} else if review.TotalScopes > 5 {
		review.Findings = append(review.Findings, &PermissionFinding{
			Type:     "broad_grant",
			Severity: severity.Low,
			Detail:   fmt.Sprintf("%d scopes granted", review.TotalScopes),
		})
	}

	p.reviews[review.ID] = review
	return review, nil
}

// Review returns a stored permission review by id.
func (p *PermissionChecker) Review(id string) (*PermissionReview, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reviews[id]
	if !ok {
		return nil, fmt.Errorf("permission review %q not found", id)
	}
	return r, nil
}

// Stats returns the checker's counters.
func (p *PermissionChecker) Stats() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	uses := 0
	for _, scopes := range p.used {
		uses += len(scopes)
	}
	return map[string]int{
		"reviews":    len(p.reviews),
		"scope_uses": uses,
	}
}
