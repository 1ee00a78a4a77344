package credential

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var ErrVerificationNotFound = errors.New("verification not found")

// VerificationTestType names one post-rotation check.
type VerificationTestType string

const (
	TestConnectivity   VerificationTestType = "connectivity"
	TestAuthentication VerificationTestType = "authentication"
	TestAuthorization  VerificationTestType = "authorization"
	TestFunctionality  VerificationTestType = "functionality"
	TestPerformance    VerificationTestType = "performance"
)

// ParseVerificationTestType validates a test type label.
func ParseVerificationTestType(s string) (VerificationTestType, error) {
	switch t := VerificationTestType(s); t {
	case TestConnectivity, TestAuthentication, TestAuthorization,
		TestFunctionality, TestPerformance:
		return t, nil
	default:
		return "", fmt.Errorf("invalid verification test type: %q", s)
	}
}

// VerificationStatus tracks a verification. Passed, failed, and
// rolled_back are terminal.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationTesting    VerificationStatus = "testing"
	VerificationPassed     VerificationStatus = "passed"
	VerificationFailed     VerificationStatus = "failed"
	VerificationRolledBack VerificationStatus = "rolled_back"
)

// VerificationTest is one executed check.
type VerificationTest struct {
	Type           VerificationTestType `json:"type"`
	Passed         bool                 `json:"passed"`
	ResponseTimeMS int                  `json:"response_time_ms"`
	RanAt          time.Time            `json:"ran_at"`
}

// TestResult is one check outcome handed to RunFullVerification.
type TestResult struct {
	Type           string `json:"type"`
	Passed         bool   `json:"passed"`
	ResponseTimeMS int    `json:"response_time_ms"`
}

// Verification tracks the checks run against a rotated key.
type Verification struct {
	ID          string              `json:"id"`
	KeyID       string              `json:"key_id"`
	RotationID  string              `json:"rotation_id,omitempty"`
	OldPrefix   string              `json:"old_prefix"`
	NewPrefix   string              `json:"new_prefix"`
	Status      VerificationStatus  `json:"status"`
	Tests       []*VerificationTest `json:"tests,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// Rollback records a symbolic restore to the pre-rotation material.
type Rollback struct {
	ID             string    `json:"id"`
	VerificationID string    `json:"verification_id"`
	KeyID          string    `json:"key_id"`
	RestoredPrefix string    `json:"restored_prefix"`
	CreatedAt      time.Time `json:"created_at"`
}

// RotationVerifier runs post-rotation checks and rolls back failures.
type RotationVerifier struct {
	mu             sync.RWMutex
	verifications  map[string]*Verification
	rollbacks      map[string]*Rollback
	byVerification map[string]string // verification id -> rollback id
	clock          func() time.Time
}

// NewRotationVerifier creates an empty verifier.
func NewRotationVerifier() *RotationVerifier {
	return &RotationVerifier{
		verifications:  make(map[string]*Verification),
		rollbacks:      make(map[string]*Rollback),
		byVerification: make(map[string]string),
		clock:          time.Now,
	}
}

// WithClock overrides the time source. Returns the verifier for chaining.
func (v *RotationVerifier) WithClock(clock func() time.Time) *RotationVerifier {
	v.clock = clock
	return v
}

// StartVerification opens a pending verification for a rotated key.
func (v *RotationVerifier) StartVerification(keyID, rotationID, oldPrefix, newPrefix string) (*Verification, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}
	if oldPrefix == "" || newPrefix == "" {
		return nil, fmt.Errorf("old and new prefixes are required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ver := &Verification{
		ID:         ident.New(ident.PrefixVerification),
		KeyID:      keyID,
		RotationID: rotationID,
		OldPrefix:  oldPrefix,
		NewPrefix:  newPrefix,
		Status:     VerificationPending,
		StartedAt:  v.clock(),
	}
	v.verifications[ver.ID] = ver
	return ver, nil
}

func (v *RotationVerifier) appendTest(ver *Verification, testType string, passed bool, responseTimeMS int) (*VerificationTest, error) {
	tt, err := ParseVerificationTestType(testType)
	if err != nil {
		return nil, err
	}
	if ver.Status != VerificationPending && ver.Status != VerificationTesting {
		return nil, fmt.Errorf("verification %q is %q and accepts no further tests", ver.ID, ver.Status)
	}
	test := &VerificationTest{
		Type:           tt,
		Passed:         passed,
		ResponseTimeMS: responseTimeMS,
		RanAt:          v.clock(),
	}
	ver.Tests = append(ver.Tests, test)
	ver.Status = VerificationTesting
	return test, nil
}

// RunTest appends one check to a verification and moves it to testing.
func (v *RotationVerifier) RunTest(verificationID, testType string, passed bool, responseTimeMS int) (*VerificationTest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ver, ok := v.verifications[verificationID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", verificationID, ErrVerificationNotFound)
	}
	return v.appendTest(ver, testType, passed, responseTimeMS)
}

// RunFullVerification batches a set of checks and settles the
// verification: all passed ends in passed, any failure ends in failed,
// and a failure with autoRollback ends in rolled_back with a Rollback
// record pointing at the pre-rotation prefix.
func (v *RotationVerifier) RunFullVerification(verificationID string, results []TestResult, autoRollback bool) (*Verification, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("at least one test result is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ver, ok := v.verifications[verificationID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", verificationID, ErrVerificationNotFound)
	}

	allPassed := true
	for _, res := range results {
		test, err := v.appendTest(ver, res.Type, res.Passed, res.ResponseTimeMS)
		if err != nil {
			return nil, err
		}
		if !test.Passed {
			allPassed = false
		}
	}

	now := v.clock()
	ver.CompletedAt = &now
	if allPassed {
		ver.Status = VerificationPassed
		return ver, nil
	}
	ver.Status = VerificationFailed
	if autoRollback {
		rb := &Rollback{
			ID:             ident.New(ident.PrefixRollback),
			VerificationID: ver.ID,
			KeyID:          ver.KeyID,
			RestoredPrefix: ver.OldPrefix,
			CreatedAt:      now,
		}
		v.rollbacks[rb.ID] = rb
		v.byVerification[ver.ID] = rb.ID
		ver.Status = VerificationRolledBack
	}
	return ver, nil
}

// Verification returns a verification by id.
func (v *RotationVerifier) Verification(id string) (*Verification, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ver, ok := v.verifications[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrVerificationNotFound)
	}
	return ver, nil
}

// RollbackFor returns the rollback created for a verification, if any.
func (v *RotationVerifier) RollbackFor(verificationID string) (*Rollback, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.byVerification[verificationID]
	if !ok {
		return nil, fmt.Errorf("verification %q has no rollback", verificationID)
	}
	return v.rollbacks[id], nil
}

// Stats returns the verifier's counters.
func (v *RotationVerifier) Stats() map[string]int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := map[string]int{
		"verifications": len(v.verifications),
		"rollbacks":     len(v.rollbacks),
		"passed":        0,
		"failed":        0,
		"rolled_back":   0,
	}
	for _, ver := range v.verifications {
		switch ver.Status {
		case VerificationPassed:
			out["passed"]++
		case VerificationFailed:
			out["failed"]++
		case VerificationRolledBack:
			out["rolled_back"]++
		}
	}
	return out
}
