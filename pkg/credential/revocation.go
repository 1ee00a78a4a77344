package credential

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var ErrRevocationNotFound = errors.New("revocation not found")

// RevocationReason is the fixed set of accepted revocation causes.
type RevocationReason string

const (
	ReasonCompromised     RevocationReason = "compromised"
	ReasonLeaked          RevocationReason = "leaked"
	ReasonSuspicious      RevocationReason = "suspicious_activity"
	ReasonPolicyViolation RevocationReason = "policy_violation"
	ReasonOffboarded      RevocationReason = "owner_offboarded"
	ReasonSuperseded      RevocationReason = "superseded"
)

// ParseRevocationReason validates a revocation reason label.
func ParseRevocationReason(s string) (RevocationReason, error) {
	switch r := RevocationReason(s); r {
	case ReasonCompromised, ReasonLeaked, ReasonSuspicious,
		ReasonPolicyViolation, ReasonOffboarded, ReasonSuperseded:
		return r, nil
	default:
		return "", fmt.Errorf("invalid revocation reason: %q", s)
	}
}

// RevokeOptions select the side effects of a revocation.
type RevokeOptions struct {
	Cascade             bool     `json:"cascade"`
	CascadeTargets      []string `json:"cascade_targets,omitempty"`
	GenerateReplacement bool     `json:"generate_replacement"`
	NotifyServices      []string `json:"notify_services,omitempty"`
}

// Revocation records one revoked key. A replacement, when generated, is a
// new inventory key linked here by id and material prefix.
type Revocation struct {
	ID                string           `json:"id"`
	KeyID             string           `json:"key_id"`
	Reason            RevocationReason `json:"reason"`
	RevokedBy         string           `json:"revoked_by"`
	CascadeID         string           `json:"cascade_id,omitempty"`
	ReplacementKeyID  string           `json:"replacement_key_id,omitempty"`
	ReplacementPrefix string           `json:"replacement_prefix,omitempty"`
	NotificationIDs   []string         `json:"notification_ids,omitempty"`
	RevokedAt         time.Time        `json:"revoked_at"`
}

// Cascade records the dependent targets invalidated alongside a key.
type Cascade struct {
	ID           string    `json:"id"`
	RevocationID string    `json:"revocation_id"`
	Targets      []string  `json:"targets,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification records one service told about a revocation.
type Notification struct {
	ID           string    `json:"id"`
	RevocationID string    `json:"revocation_id"`
	Service      string    `json:"service"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sent_at"`
}

// BulkResult summarizes a bulk revocation. Failures are counted, never
// aborting the batch.
type BulkResult struct {
	Requested     int      `json:"requested"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	RevocationIDs []string `json:"revocation_ids,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Revocator revokes inventory keys instantly and records the fallout.
type Revocator struct {
	mu            sync.RWMutex
	inv           *KeyInventory
	revocations   map[string]*Revocation
	byKey         map[string]string // key id -> revocation id
	cascades      map[string]*Cascade
	notifications map[string][]*Notification
	clock         func() time.Time
}

// NewRevocator creates a revocator over the given inventory.
func NewRevocator(inv *KeyInventory) *Revocator {
	return &Revocator{
		inv:           inv,
		revocations:   make(map[string]*Revocation),
		byKey:         make(map[string]string),
		cascades:      make(map[string]*Cascade),
		notifications: make(map[string][]*Notification),
		clock:         time.Now,
	}
}

// WithClock overrides the time source. Returns the revocator for chaining.
func (r *Revocator) WithClock(clock func() time.Time) *Revocator {
	r.clock = clock
	return r
}

// RevokeKey revokes a key and applies the requested side effects:
// a cascade record, a freshly registered replacement key, and one
// notification per named service. Revoking an already revoked key fails.
func (r *Revocator) RevokeKey(keyID string, reason RevocationReason, revokedBy string, opts RevokeOptions) (*Revocation, error) {
	if _, err := ParseRevocationReason(string(reason)); err != nil {
		return nil, err
	}
	key, err := r.inv.Key(keyID)
	if err != nil {
		return nil, err
	}
	if err := r.inv.SetStatus(keyID, KeyRevoked); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rev := &Revocation{
		ID:        ident.New(ident.PrefixRevocation),
		KeyID:     keyID,
		Reason:    reason,
		RevokedBy: revokedBy,
		RevokedAt: now,
	}

	if opts.Cascade {
		c := &Cascade{
			ID:           ident.New(ident.PrefixCascade),
			RevocationID: rev.ID,
			Targets:      append([]string(nil), opts.CascadeTargets...),
			Status:       "completed",
			CreatedAt:    now,
		}
		r.cascades[c.ID] = c
		rev.CascadeID = c.ID
	}

	if opts.GenerateReplacement {
		replacement, err := r.inv.RegisterKey(key.Name, key.Type, key.Owner, key.Service, key.Scopes, key.ExpiresDays)
		if err != nil {
			return nil, fmt.Errorf("register replacement for %q: %w", keyID, err)
		}
		rev.ReplacementKeyID = replacement.ID
		rev.ReplacementPrefix = replacement.MaterialPrefix
	}

	for _, service := range opts.NotifyServices {
		n := &Notification{
			ID:           ident.New(ident.PrefixNotification),
			RevocationID: rev.ID,
			Service:      service,
			Message:      fmt.Sprintf("key %s revoked (%s)", keyID, reason),
			SentAt:       now,
		}
		r.notifications[rev.ID] = append(r.notifications[rev.ID], n)
		rev.NotificationIDs = append(rev.NotificationIDs, n.ID)
	}

	r.revocations[rev.ID] = rev
	r.byKey[keyID] = rev.ID
	return rev, nil
}

// BulkRevoke revokes a list of keys with shared options. Per-key failures
// are collected while the rest of the batch proceeds.
func (r *Revocator) BulkRevoke(keyIDs []string, reason RevocationReason, revokedBy string, opts RevokeOptions) (*BulkResult, error) {
	if len(keyIDs) == 0 {
		return nil, fmt.Errorf("at least one key id is required")
	}
	if _, err := ParseRevocationReason(string(reason)); err != nil {
		return nil, err
	}

	result := &BulkResult{Requested: len(keyIDs)}
	for _, id := range keyIDs {
		rev, err := r.RevokeKey(id, reason, revokedBy, opts)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		result.Succeeded++
		result.RevocationIDs = append(result.RevocationIDs, rev.ID)
	}
	return result, nil
}

// Revocation returns a revocation record by id.
func (r *Revocator) Revocation(id string) (*Revocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.revocations[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrRevocationNotFound)
	}
	return rev, nil
}

// RevocationForKey returns the revocation that retired a key.
func (r *Revocator) RevocationForKey(keyID string) (*Revocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, ErrRevocationNotFound)
	}
	return r.revocations[id], nil
}

// Cascade returns a cascade record by id.
func (r *Revocator) Cascade(id string) (*Cascade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cascades[id]
	if !ok {
		return nil, fmt.Errorf("cascade %q not found", id)
	}
	return c, nil
}

// Notifications returns the notifications sent for a revocation.
func (r *Revocator) Notifications(revocationID string) []*Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Notification(nil), r.notifications[revocationID]...)
}

// Stats returns the revocator's counters.
func (r *Revocator) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notifs := 0
	for _, ns := range r.notifications {
		notifs += len(ns)
	}
	replacements := 0
	for _, rev := range r.revocations {
		if rev.ReplacementKeyID != "" {
			replacements++
		}
	}
	return map[string]int{
		"revocations":   len(r.revocations),
		"cascades":      len(r.cascades),
		"notifications": notifs,
		"replacements":  replacements,
	}
}
