package compliance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrPurposeNotFound = errors.New("purpose not found")
	ErrConsentNotFound = errors.New("consent not found")
)

// ConsentState is the lifecycle position of one (user, purpose) consent.
type ConsentState string

const (
	ConsentGranted   ConsentState = "granted"
	ConsentDenied    ConsentState = "denied"
	ConsentWithdrawn ConsentState = "withdrawn"
	ConsentExpired   ConsentState = "expired"
)

// ParseConsentState validates a consent state label.
func ParseConsentState(s string) (ConsentState, error) {
	switch c := ConsentState(s); c {
	case ConsentGranted, ConsentDenied, ConsentWithdrawn, ConsentExpired:
		return c, nil
	default:
		return "", fmt.Errorf("invalid consent state: %q", s)
	}
}

// Purpose is one registered processing purpose users consent to.
type Purpose struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Required     bool      `json:"required"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Consent is the current decision of one user for one purpose.
type Consent struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	PurposeID string       `json:"purpose_id"`
	State     ConsentState `json:"state"`
	GrantedAt *time.Time   `json:"granted_at,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ConsentEvent is one logged transition in the consent trail.
type ConsentEvent struct {
	UserID    string       `json:"user_id"`
	PurposeID string       `json:"purpose_id"`
	From      ConsentState `json:"from,omitempty"`
	To        ConsentState `json:"to"`
	At        time.Time    `json:"at"`
}

// ConsentCheck reports whether processing may proceed for a pair.
type ConsentCheck struct {
	UserID    string       `json:"user_id"`
	PurposeID string       `json:"purpose_id"`
	Exists    bool         `json:"exists"`
	Granted   bool         `json:"granted"`
	State     ConsentState `json:"state,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

type consentKey struct {
	user    string
	purpose string
}

// ConsentManager tracks consent decisions keyed by (user, purpose)
// with a full transition trail. Withdrawal is only valid from the
// granted state; a fresh decision may follow a withdrawal.
type ConsentManager struct {
	mu           sync.RWMutex
	purposes     map[string]*Purpose
	consents     map[consentKey]*Consent
	trail        []ConsentEvent
	validityDays int // 0 disables expiry
	stats        map[string]int
	clock        func() time.Time
}

// NewConsentManager creates a manager with expiry disabled.
func NewConsentManager() *ConsentManager {
	return &ConsentManager{
		purposes: make(map[string]*Purpose),
		consents: make(map[consentKey]*Consent),
		stats: map[string]int{
			"purposes": 0, "consents": 0, "granted": 0,
			"withdrawn": 0, "expired": 0, "events": 0,
		},
		clock: time.Now,
	}
}

// WithClock overrides the time source. Returns the manager for chaining.
func (m *ConsentManager) WithClock(clock func() time.Time) *ConsentManager {
	m.clock = clock
	return m
}

// SetValidity bounds future grants to the given number of days.
// Zero disables expiry.
func (m *ConsentManager) SetValidity(days int) error {
	if days < 0 {
		return fmt.Errorf("validity days must be non-negative: %d", days)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validityDays = days
	return nil
}

// RegisterPurpose adds a processing purpose.
func (m *ConsentManager) RegisterPurpose(name, description string, required bool) (*Purpose, error) {
	if name == "" {
		return nil, fmt.Errorf("purpose name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Purpose{
		ID:           ident.New(ident.PrefixPurpose),
		Name:         name,
		Description:  description,
		Required:     required,
		RegisteredAt: m.clock(),
	}
	m.purposes[p.ID] = p
	m.stats["purposes"]++
	return p, nil
}

func (m *ConsentManager) logLocked(userID, purposeID string, from, to ConsentState) {
	m.trail = append(m.trail, ConsentEvent{
		UserID:    userID,
		PurposeID: purposeID,
		From:      from,
		To:        to,
		At:        m.clock(),
	})
	m.stats["events"]++
}

// RecordConsent stores a user's decision for a purpose, replacing any
// previous state. The transition is logged.
func (m *ConsentManager) RecordConsent(userID, purposeID string, granted bool) (*Consent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.purposes[purposeID]; !ok {
		return nil, fmt.Errorf("%q: %w", purposeID, ErrPurposeNotFound)
	}

	now := m.clock()
	state := ConsentDenied
	if granted {
		state = ConsentGranted
	}

	key := consentKey{user: userID, purpose: purposeID}
	consent, exists := m.consents[key]
	var from ConsentState
	if exists {
		from = consent.State
	} else {
		consent = &Consent{
			ID:        ident.New(ident.PrefixConsent),
			UserID:    userID,
			PurposeID: purposeID,
		}
		m.consents[key] = consent
		m.stats["consents"]++
	}

	consent.State = state
	consent.UpdatedAt = now
	consent.GrantedAt = nil
	consent.ExpiresAt = nil
	if granted {
		consent.GrantedAt = &now
		if m.validityDays > 0 {
			expires := now.AddDate(0, 0, m.validityDays)
			consent.ExpiresAt = &expires
		}
		m.stats["granted"]++
	}

	m.logLocked(userID, purposeID, from, state)
	return consent, nil
}

// Withdraw moves a granted consent to withdrawn. Any other state is a
// precondition failure.
func (m *ConsentManager) Withdraw(userID, purposeID string) (*Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := consentKey{user: userID, purpose: purposeID}
	consent, ok := m.consents[key]
	if !ok {
		return nil, fmt.Errorf("user %q purpose %q: %w", userID, purposeID, ErrConsentNotFound)
	}
	if consent.State != ConsentGranted {
		return nil, fmt.Errorf("can only withdraw granted consent, state is %q", consent.State)
	}

	from := consent.State
	consent.State = ConsentWithdrawn
	consent.UpdatedAt = m.clock()
	m.stats["withdrawn"]++
	m.logLocked(userID, purposeID, from, ConsentWithdrawn)
	return consent, nil
}

// SweepExpired transitions granted consents past their expiry to
// expired and returns how many moved.
func (m *ConsentManager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	moved := 0
	for _, consent := range m.consents {
		if consent.State != ConsentGranted || consent.ExpiresAt == nil {
			continue
		}
		if now.After(*consent.ExpiresAt) {
			from := consent.State
			consent.State = ConsentExpired
			consent.UpdatedAt = now
			m.stats["expired"]++
			m.logLocked(consent.UserID, consent.PurposeID, from, ConsentExpired)
			moved++
		}
	}
	return moved
}

// CheckConsent reports the processing position for one pair. A missing
// consent is reported, not an error; the purpose must exist.
func (m *ConsentManager) CheckConsent(userID, purposeID string) (*ConsentCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.purposes[purposeID]; !ok {
		return nil, fmt.Errorf("%q: %w", purposeID, ErrPurposeNotFound)
	}
	check := &ConsentCheck{
		UserID:    userID,
		PurposeID: purposeID,
		CheckedAt: m.clock(),
	}
	if consent, ok := m.consents[consentKey{user: userID, purpose: purposeID}]; ok {
		check.Exists = true
		check.State = consent.State
		check.Granted = consent.State == ConsentGranted
	}
	return check, nil
}

// History returns the transition trail for one user in log order.
func (m *ConsentManager) History(userID string) []ConsentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConsentEvent
	for _, ev := range m.trail {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

// Stats returns the manager's counters.
func (m *ConsentManager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}
