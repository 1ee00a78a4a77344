package aiethics

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

// Observation is one recorded outcome for a protected-class member.
type Observation struct {
	ID        string    `json:"id"`
	Attribute string    `json:"attribute"`
	Value     string    `json:"value"`
	Favorable bool      `json:"favorable"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DisparityResult reports the favorable-rate gap across groups.
type DisparityResult struct {
	Attribute      string             `json:"attribute"`
	Window         int                `json:"window"`
	GroupRates     map[string]float64 `json:"group_rates"`
	Gap            float64            `json:"gap"`
	DisparityFound bool               `json:"disparity_found"`
	Severity       severity.Level     `json:"severity,omitempty"`
	CheckedAt      time.Time          `json:"checked_at"`
}

// TreatmentFlag marks a group whose unfavorable share is excessive.
type TreatmentFlag struct {
	Value            string  `json:"value"`
	Total            int     `json:"total"`
	Unfavorable      int     `json:"unfavorable"`
	UnfavorableShare float64 `json:"unfavorable_share"`
}

// TreatmentResult reports differential-treatment flags per group.
type TreatmentResult struct {
	Attribute string          `json:"attribute"`
	Flags     []TreatmentFlag `json:"flags"`
	CheckedAt time.Time       `json:"checked_at"`
}

// ProtectedClassMonitor tracks outcomes keyed by protected attribute
// and value, and checks for disparity over recent windows.
type ProtectedClassMonitor struct {
	mu                 sync.RWMutex
	observations       []*Observation
	disparityThreshold float64
	stats              map[string]int
	clock              func() time.Time
}

// NewProtectedClassMonitor creates a monitor with the default 0.2
// disparity threshold.
func NewProtectedClassMonitor() *ProtectedClassMonitor {
	return &ProtectedClassMonitor{
		disparityThreshold: 0.2,
		stats:              map[string]int{"observations": 0, "disparity_checks": 0, "disparities": 0, "treatment_flags": 0},
		clock:              time.Now,
	}
}

// WithClock overrides the time source. Returns the monitor for chaining.
func (m *ProtectedClassMonitor) WithClock(clock func() time.Time) *ProtectedClassMonitor {
	m.clock = clock
	return m
}

// SetDisparityThreshold adjusts the gap threshold, in (0,1).
func (m *ProtectedClassMonitor) SetDisparityThreshold(threshold float64) error {
	if threshold <= 0 || threshold >= 1 {
		return fmt.Errorf("invalid disparity threshold: %v", threshold)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disparityThreshold = threshold
	return nil
}

// Observe records one outcome.
func (m *ProtectedClassMonitor) Observe(attribute, value string, favorable bool, context string) (*Observation, error) {
	if attribute == "" || value == "" {
		return nil, fmt.Errorf("attribute and value are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obs := &Observation{
		ID:        ident.New(ident.PrefixObservation),
		Attribute: attribute,
		Value:     value,
		Favorable: favorable,
		Context:   context,
		Timestamp: m.clock(),
	}
	m.observations = append(m.observations, obs)
	m.stats["observations"]++
	return obs, nil
}

// CheckDisparity buckets the most recent lastN observations of the
// attribute and compares per-group favorable rates. A gap above the
// threshold is a disparity: critical when the gap exceeds 0.5,
// high otherwise.
func (m *ProtectedClassMonitor) CheckDisparity(attribute string, lastN int) (*DisparityResult, error) {
	if lastN <= 0 {
		return nil, fmt.Errorf("window must be positive, got %d", lastN)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := make(map[string]int)
	favorable := make(map[string]int)
	seen := 0
	for i := len(m.observations) - 1; i >= 0 && seen < lastN; i-- {
		obs := m.observations[i]
		if obs.Attribute != attribute {
			continue
		}
		seen++
		total[obs.Value]++
		if obs.Favorable {
			favorable[obs.Value]++
		}
	}

	result := &DisparityResult{
		Attribute:  attribute,
		Window:     seen,
		GroupRates: make(map[string]float64, len(total)),
		CheckedAt:  m.clock(),
	}
	m.stats["disparity_checks"]++

	if len(total) < 2 {
		return result, nil
	}
	for value, n := range total {
		result.GroupRates[value] = float64(favorable[value]) / float64(n)
	}
	min, max := minMax(result.GroupRates)
	result.Gap = max - min

	if result.Gap > m.disparityThreshold {
		result.DisparityFound = true
		if result.Gap > 0.5 {
			result.Severity = severity.Critical
		} else {
			result.Severity = severity.High
		}
		m.stats["disparities"]++
	}
	return result, nil
}

// CheckDifferentialTreatment flags every group of the attribute whose
// unfavorable share exceeds 30%, over all recorded observations.
func (m *ProtectedClassMonitor) CheckDifferentialTreatment(attribute string) (*TreatmentResult, error) {
	if attribute == "" {
		return nil, fmt.Errorf("attribute is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := make(map[string]int)
	unfavorable := make(map[string]int)
	for _, obs := range m.observations {
		if obs.Attribute != attribute {
			continue
		}
		total[obs.Value]++
		if !obs.Favorable {
			unfavorable[obs.Value]++
		}
	}

	result := &TreatmentResult{Attribute: attribute, CheckedAt: m.clock()}
	for value, n := range total {
		share := float64(unfavorable[value]) / float64(n)
		if share > 0.3 {
			result.Flags = append(result.Flags, TreatmentFlag{
				Value:            value,
				Total:            n,
				Unfavorable:      unfavorable[value],
				UnfavorableShare: share,
			})
		}
	}
	m.stats["treatment_flags"] += len(result.Flags)
	return result, nil
}

// ObservationCount returns the number of recorded observations.
func (m *ProtectedClassMonitor) ObservationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observations)
}

// Stats returns the monitor's counters.
func (m *ProtectedClassMonitor) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}
