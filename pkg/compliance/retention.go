package compliance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrRetentionPolicyNotFound = errors.New("retention policy not found")
	ErrRecordNotFound          = errors.New("retained record not found")
	ErrHoldNotFound            = errors.New("legal hold not found")
)

// RetentionType determines how a policy's clock runs.
type RetentionType string

const (
	RetentionFixed      RetentionType = "fixed"
	RetentionEventBased RetentionType = "event_based"
	RetentionIndefinite RetentionType = "indefinite"
	RetentionRegulatory RetentionType = "regulatory"
)

// ParseRetentionType validates a retention type label.
func ParseRetentionType(s string) (RetentionType, error) {
	switch t := RetentionType(s); t {
	case RetentionFixed, RetentionEventBased, RetentionIndefinite, RetentionRegulatory:
		return t, nil
	default:
		return "", fmt.Errorf("invalid retention type: %q", s)
	}
}

// RecordStatus tracks a retained record's lifecycle.
type RecordStatus string

const (
	RecordTracked RecordStatus = "tracked"
	RecordDeleted RecordStatus = "deleted"
)

// RetentionPolicy declares how long records of a category are kept.
type RetentionPolicy struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Category      string        `json:"category"`
	RetentionDays int           `json:"retention_days"`
	Type          RetentionType `json:"type"`
	AutoDelete    bool          `json:"auto_delete"`
	CreatedAt     time.Time     `json:"created_at"`
}

// RetainedRecord is one tracked data record under a policy.
type RetainedRecord struct {
	ID          string       `json:"id"`
	PolicyID    string       `json:"policy_id"`
	Reference   string       `json:"reference"`
	CreatedDate time.Time    `json:"created_date"`
	Status      RecordStatus `json:"status"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// LegalHold suppresses expiry for every record it references while
// active. Holds take precedence over retention ages.
type LegalHold struct {
	ID         string     `json:"id"`
	CaseRef    string     `json:"case_ref"`
	RecordIDs  []string   `json:"record_ids"`
	Active     bool       `json:"active"`
	AppliedAt  time.Time  `json:"applied_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// ExpirationCheck reports one record's retention position.
type ExpirationCheck struct {
	RecordID      string    `json:"record_id"`
	Expired       bool      `json:"expired"`
	LegalHold     bool      `json:"legal_hold"`
	AgeDays       int       `json:"age_days"`
	RetentionDays int       `json:"retention_days"`
	CheckedAt     time.Time `json:"checked_at"`
}

// DeletionSweep summarizes one auto-delete pass.
type DeletionSweep struct {
	ID         string    `json:"id"`
	Scanned    int       `json:"scanned"`
	Deleted    int       `json:"deleted"`
	Held       int       `json:"held"`
	DeletedIDs []string  `json:"deleted_ids,omitempty"`
	SweptAt    time.Time `json:"swept_at"`
}

// RetentionChecker evaluates record ages against retention policies,
// honoring legal holds before any age arithmetic.
type RetentionChecker struct {
	mu       sync.RWMutex
	policies map[string]*RetentionPolicy
	records  map[string]*RetainedRecord
	holds    map[string]*LegalHold
	stats    map[string]int
	clock    func() time.Time
}

// NewRetentionChecker creates an empty checker.
func NewRetentionChecker() *RetentionChecker {
	return &RetentionChecker{
		policies: make(map[string]*RetentionPolicy),
		records:  make(map[string]*RetainedRecord),
		holds:    make(map[string]*LegalHold),
		stats: map[string]int{
			"policies": 0, "records": 0, "holds": 0, "checks": 0, "deleted": 0,
		},
		clock: time.Now,
	}
}

// WithClock overrides the time source. Returns the checker for chaining.
func (c *RetentionChecker) WithClock(clock func() time.Time) *RetentionChecker {
	c.clock = clock
	return c
}

// AddPolicy declares a retention policy. Indefinite policies ignore
// retention days; all others require a positive day count.
func (c *RetentionChecker) AddPolicy(name, category string, retentionDays int, rt RetentionType, autoDelete bool) (*RetentionPolicy, error) {
	if name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if _, err := ParseRetentionType(string(rt)); err != nil {
		return nil, err
	}
	if rt != RetentionIndefinite && retentionDays < 1 {
		return nil, fmt.Errorf("retention days must be positive: %d", retentionDays)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pol := &RetentionPolicy{
		ID:            ident.New(ident.PrefixRetention),
		Name:          name,
		Category:      category,
		RetentionDays: retentionDays,
		Type:          rt,
		AutoDelete:    autoDelete,
		CreatedAt:     c.clock(),
	}
	c.policies[pol.ID] = pol
	c.stats["policies"]++
	return pol, nil
}

// TrackRecord places a record under a policy. The created date is the
// retention clock's start.
func (c *RetentionChecker) TrackRecord(policyID, reference string, createdDate time.Time) (*RetainedRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.policies[policyID]; !ok {
		return nil, fmt.Errorf("%q: %w", policyID, ErrRetentionPolicyNotFound)
	}
	rec := &RetainedRecord{
		ID:          ident.New(ident.PrefixRecord),
		PolicyID:    policyID,
		Reference:   reference,
		CreatedDate: createdDate,
		Status:      RecordTracked,
	}
	c.records[rec.ID] = rec
	c.stats["records"]++
	return rec, nil
}

// ApplyHold opens a legal hold over the given records.
func (c *RetentionChecker) ApplyHold(caseRef string, recordIDs []string) (*LegalHold, error) {
	if caseRef == "" {
		return nil, fmt.Errorf("hold case reference is required")
	}
	if len(recordIDs) == 0 {
		return nil, fmt.Errorf("hold requires at least one record")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range recordIDs {
		if _, ok := c.records[id]; !ok {
			return nil, fmt.Errorf("%q: %w", id, ErrRecordNotFound)
		}
	}
	hold := &LegalHold{
		ID:        ident.New(ident.PrefixLegalHold),
		CaseRef:   caseRef,
		RecordIDs: append([]string(nil), recordIDs...),
		Active:    true,
		AppliedAt: c.clock(),
	}
	c.holds[hold.ID] = hold
	c.stats["holds"]++
	return hold, nil
}

// ReleaseHold ends a legal hold; retention ages apply again at the
// next check.
func (c *RetentionChecker) ReleaseHold(holdID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hold, ok := c.holds[holdID]
	if !ok {
		return fmt.Errorf("%q: %w", holdID, ErrHoldNotFound)
	}
	if !hold.Active {
		return fmt.Errorf("hold %q already released", holdID)
	}
	now := c.clock()
	hold.Active = false
	hold.ReleasedAt = &now
	return nil
}

func (c *RetentionChecker) underHoldLocked(recordID string) bool {
	for _, hold := range c.holds {
		if !hold.Active {
			continue
		}
		for _, id := range hold.RecordIDs {
			if id == recordID {
				return true
			}
		}
	}
	return false
}

// CheckExpiration evaluates one record. An active legal hold always
// reports not-expired regardless of age.
func (c *RetentionChecker) CheckExpiration(recordID string) (*ExpirationCheck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	check, err := c.checkLocked(recordID)
	if err != nil {
		return nil, err
	}
	c.stats["checks"]++
	return check, nil
}

func (c *RetentionChecker) checkLocked(recordID string) (*ExpirationCheck, error) {
	rec, ok := c.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", recordID, ErrRecordNotFound)
	}
	pol, ok := c.policies[rec.PolicyID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", rec.PolicyID, ErrRetentionPolicyNotFound)
	}

	now := c.clock()
	check := &ExpirationCheck{
		RecordID:      recordID,
		AgeDays:       int(now.Sub(rec.CreatedDate).Hours() / 24),
		RetentionDays: pol.RetentionDays,
		CheckedAt:     now,
	}
	if c.underHoldLocked(recordID) {
		check.LegalHold = true
		return check, nil
	}
	if pol.Type == RetentionIndefinite {
		return check, nil
	}
	check.Expired = check.AgeDays > pol.RetentionDays
	return check, nil
}

// AutoDeleteExpired scans every tracked record and deletes the expired
// ones whose policy allows automatic deletion. Records under hold are
// counted but never deleted.
func (c *RetentionChecker) AutoDeleteExpired() (*DeletionSweep, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	sweep := &DeletionSweep{
		ID:      ident.New(ident.PrefixSweep),
		SweptAt: now,
	}

	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := c.records[id]
		if rec.Status != RecordTracked {
			continue
		}
		sweep.Scanned++

		check, err := c.checkLocked(id)
		if err != nil {
			continue
		}
		if check.LegalHold {
			sweep.Held++
			continue
		}
		if !check.Expired {
			continue
		}
		pol := c.policies[rec.PolicyID]
		if pol == nil || !pol.AutoDelete {
			continue
		}
		rec.Status = RecordDeleted
		rec.DeletedAt = &now
		sweep.Deleted++
		sweep.DeletedIDs = append(sweep.DeletedIDs, id)
		c.stats["deleted"]++
	}
	return sweep, nil
}

// Record returns a retained record by id; deleted records remain
// resolvable as tombstones.
func (c *RetentionChecker) Record(id string) (*RetainedRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrRecordNotFound)
	}
	return rec, nil
}

// Stats returns the checker's counters.
func (c *RetentionChecker) Stats() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}
