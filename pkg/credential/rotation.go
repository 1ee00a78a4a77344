package credential

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var (
	ErrRotationPolicyNotFound = errors.New("rotation policy not found")
	ErrScheduleNotFound       = errors.New("rotation schedule not found")
)

// RotationStrategy selects what triggers a rotation.
type RotationStrategy string

const (
	RotateTimeBased  RotationStrategy = "time_based"
	RotateUsageBased RotationStrategy = "usage_based"
	RotateEventBased RotationStrategy = "event_based"
	RotateManual     RotationStrategy = "manual"
)

// ParseRotationStrategy validates a strategy label.
func ParseRotationStrategy(s string) (RotationStrategy, error) {
	switch st := RotationStrategy(s); st {
	case RotateTimeBased, RotateUsageBased, RotateEventBased, RotateManual:
		return st, nil
	default:
		return "", fmt.Errorf("invalid rotation strategy: %q", s)
	}
}

// RotationPolicy describes when keys under it rotate.
type RotationPolicy struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Strategy      RotationStrategy `json:"strategy"`
	IntervalDays  int              `json:"interval_days,omitempty"`
	MaxUsageCount int              `json:"max_usage_count,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ScheduleStatus tracks a schedule's standing. Completed schedules keep
// recurring; cancelled is terminal.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleCompleted ScheduleStatus = "completed"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// RotationSchedule binds a key to a rotation policy. The key must exist
// in the inventory when the schedule is created.
type RotationSchedule struct {
	ID            string         `json:"id"`
	KeyID         string         `json:"key_id"`
	PolicyID      string         `json:"policy_id"`
	Status        ScheduleStatus `json:"status"`
	NextDue       *time.Time     `json:"next_due,omitempty"`
	LastRotated   *time.Time     `json:"last_rotated,omitempty"`
	RotationCount int            `json:"rotation_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Rotation records one executed rotation.
type Rotation struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	KeyID      string    `json:"key_id"`
	OldPrefix  string    `json:"old_prefix"`
	NewPrefix  string    `json:"new_prefix"`
	HookErrors []string  `json:"hook_errors,omitempty"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
}

// DueSchedule is a schedule approaching or past its rotation deadline.
type DueSchedule struct {
	Schedule *RotationSchedule `json:"schedule"`
	KeyID    string            `json:"key_id"`
	DaysLeft int               `json:"days_left"`
	Urgent   bool              `json:"urgent"`
}

// RotationHook runs around a rotation. Hook failures are collected on the
// rotation record and never abort the rotation itself.
type RotationHook struct {
	Name string
	Fn   func(key *Key) error
}

// RotationScheduler executes key rotations against the inventory.
type RotationScheduler struct {
	mu        sync.RWMutex
	inv       *KeyInventory
	policies  map[string]*RotationPolicy
	schedules map[string]*RotationSchedule
	rotations []*Rotation
	preHooks  []RotationHook
	postHooks []RotationHook
	clock     func() time.Time
}

// NewRotationScheduler creates a scheduler over the given inventory.
func NewRotationScheduler(inv *KeyInventory) *RotationScheduler {
	return &RotationScheduler{
		inv:       inv,
		policies:  make(map[string]*RotationPolicy),
		schedules: make(map[string]*RotationSchedule),
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Returns the scheduler for chaining.
func (r *RotationScheduler) WithClock(clock func() time.Time) *RotationScheduler {
	r.clock = clock
	return r
}

// AddPreHook registers a hook that runs before each rotation, in
// registration order.
func (r *RotationScheduler) AddPreHook(name string, fn func(key *Key) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preHooks = append(r.preHooks, RotationHook{Name: name, Fn: fn})
}

// AddPostHook registers a hook that runs after each rotation, in
// registration order.
func (r *RotationScheduler) AddPostHook(name string, fn func(key *Key) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postHooks = append(r.postHooks, RotationHook{Name: name, Fn: fn})
}

// AddPolicy registers a rotation policy.
func (r *RotationScheduler) AddPolicy(name string, strategy RotationStrategy, intervalDays, maxUsage int) (*RotationPolicy, error) {
	if name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if _, err := ParseRotationStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy == RotateTimeBased && intervalDays < 1 {
		return nil, fmt.Errorf("time based rotation requires an interval of at least one day")
	}
	if strategy == RotateUsageBased && maxUsage < 1 {
		return nil, fmt.Errorf("usage based rotation requires a positive usage ceiling")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &RotationPolicy{
		ID:            ident.New(ident.PrefixRotationPol),
		Name:          name,
		Strategy:      strategy,
		IntervalDays:  intervalDays,
		MaxUsageCount: maxUsage,
		CreatedAt:     r.clock(),
	}
	r.policies[p.ID] = p
	return p, nil
}

// Policy returns a rotation policy by id.
func (r *RotationScheduler) Policy(id string) (*RotationPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrRotationPolicyNotFound)
	}
	return p, nil
}

// ScheduleKey puts a key on a rotation policy. The key must be present in
// the inventory.
func (r *RotationScheduler) ScheduleKey(keyID, policyID string) (*RotationSchedule, error) {
	if _, err := r.inv.Key(keyID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	policy, ok := r.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", policyID, ErrRotationPolicyNotFound)
	}

	now := r.clock()
	s := &RotationSchedule{
		ID:        ident.New(ident.PrefixSchedule),
		KeyID:     keyID,
		PolicyID:  policyID,
		Status:    ScheduleScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if policy.Strategy == RotateTimeBased {
		due := now.AddDate(0, 0, policy.IntervalDays)
		s.NextDue = &due
	}
	r.schedules[s.ID] = s
	return s, nil
}

// Schedule returns a rotation schedule by id.
func (r *RotationScheduler) Schedule(id string) (*RotationSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrScheduleNotFound)
	}
	return s, nil
}

// SetScheduleStatus pauses, resumes, or cancels a schedule.
func (r *RotationScheduler) SetScheduleStatus(id string, status ScheduleStatus) error {
	switch status {
	case ScheduleScheduled, ScheduleCompleted, SchedulePaused, ScheduleCancelled:
	default:
		return fmt.Errorf("invalid schedule status: %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrScheduleNotFound)
	}
	if s.Status == ScheduleCancelled {
		return fmt.Errorf("schedule %q is cancelled", id)
	}
	s.Status = status
	s.UpdatedAt = r.clock()
	return nil
}

// ExecuteRotation rotates the scheduled key's material. Revoked keys never
// rotate. Pre and post hooks run in registration order; their failures
// land on the rotation record without stopping it.
func (r *RotationScheduler) ExecuteRotation(scheduleID string) (*Rotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", scheduleID, ErrScheduleNotFound)
	}
	if s.Status == SchedulePaused || s.Status == ScheduleCancelled {
		return nil, fmt.Errorf("schedule %q is %q and does not rotate", scheduleID, s.Status)
	}
	key, err := r.inv.Key(s.KeyID)
	if err != nil {
		return nil, err
	}
	if key.Status == KeyRevoked {
		return nil, fmt.Errorf("%q: %w", s.KeyID, ErrKeyRevoked)
	}
	policy := r.policies[s.PolicyID]

	var hookErrs []string
	for _, h := range r.preHooks {
		if err := h.Fn(key); err != nil {
			hookErrs = append(hookErrs, fmt.Sprintf("pre %s: %v", h.Name, err))
		}
	}

	oldPrefix := key.MaterialPrefix
	if err := r.inv.SetStatus(s.KeyID, KeyRotating); err != nil {
		return nil, err
	}
	newPrefix, err := r.inv.ReplaceMaterial(s.KeyID)
	if err != nil {
		return nil, err
	}
	if err := r.inv.SetStatus(s.KeyID, KeyActive); err != nil {
		return nil, err
	}

	for _, h := range r.postHooks {
		if err := h.Fn(key); err != nil {
			hookErrs = append(hookErrs, fmt.Sprintf("post %s: %v", h.Name, err))
		}
	}

	now := r.clock()
	s.LastRotated = &now
	s.RotationCount++
	s.Status = ScheduleCompleted
	s.UpdatedAt = now
	if policy != nil && policy.Strategy == RotateTimeBased {
		due := now.AddDate(0, 0, policy.IntervalDays)
		s.NextDue = &due
	}

	rot := &Rotation{
		ID:         ident.New(ident.PrefixRotation),
		ScheduleID: scheduleID,
		KeyID:      s.KeyID,
		OldPrefix:  oldPrefix,
		NewPrefix:  newPrefix,
		HookErrors: hookErrs,
		Status:     "completed",
		ExecutedAt: now,
	}
	r.rotations = append(r.rotations, rot)
	return rot, nil
}

// CheckDueRotations reports active schedules within seven days of their
// deadline. Three days or less marks the entry urgent; usage ceilings
// already breached count as urgent with zero days left.
func (r *RotationScheduler) CheckDueRotations() []*DueSchedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock()
	var due []*DueSchedule
	for _, s := range r.schedules {
		if s.Status == SchedulePaused || s.Status == ScheduleCancelled {
			continue
		}
		key, err := r.inv.Key(s.KeyID)
		if err != nil || key.Status == KeyRevoked {
			continue
		}
		policy := r.policies[s.PolicyID]
		if policy == nil {
			continue
		}
		switch policy.Strategy {
		case RotateTimeBased:
			if s.NextDue == nil {
				continue
			}
			daysLeft := int(s.NextDue.Sub(now).Hours() / 24)
			if daysLeft <= 7 {
				due = append(due, &DueSchedule{
					Schedule: s,
					KeyID:    s.KeyID,
					DaysLeft: daysLeft,
					Urgent:   daysLeft <= 3,
				})
			}
		case RotateUsageBased:
			if key.UsageCount >= policy.MaxUsageCount {
				due = append(due, &DueSchedule{Schedule: s, KeyID: s.KeyID, Urgent: true})
			}
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].DaysLeft < due[b].DaysLeft })
	return due
}

// Rotations returns the rotation history for a key, oldest first.
func (r *RotationScheduler) Rotations(keyID string) []*Rotation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Rotation
	for _, rot := range r.rotations {
		if rot.KeyID == keyID {
			out = append(out, rot)
		}
	}
	return out
}

// Stats returns the scheduler's counters.
func (r *RotationScheduler) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	completed := 0
	for _, s := range r.schedules {
		if s.Status == ScheduleCompleted {
			completed++
		}
	}
	return map[string]int{
		"policies":            len(r.policies),
		"schedules":           len(r.schedules),
		"completed_schedules": completed,
		"rotations":           len(r.rotations),
	}
}
