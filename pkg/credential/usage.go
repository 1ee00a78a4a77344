package credential

import (
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

// AnomalyType classifies a usage anomaly.
type AnomalyType string

const (
	AnomalyErrorBurst     AnomalyType = "error_burst"
	AnomalySourceSpread   AnomalyType = "source_spread"
	AnomalyDormantRevival AnomalyType = "dormant_revival"
)

// UsageEvent is one recorded use of a key.
type UsageEvent struct {
	ID        string    `json:"id"`
	KeyID     string    `json:"key_id"`
	Source    string    `json:"source"`
	Operation string    `json:"operation"`
	Success   bool      `json:"success"`
	At        time.Time `json:"at"`
}

// UsageAnomaly is a suspicious usage signal detected at record time.
type UsageAnomaly struct {
	ID          string         `json:"id"`
	KeyID       string         `json:"key_id"`
	Type        AnomalyType    `json:"type"`
	Severity    severity.Level `json:"severity"`
	Description string         `json:"description"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// UsageProfile summarizes a key's recorded usage.
type UsageProfile struct {
	KeyID           string     `json:"key_id"`
	Events          int        `json:"events"`
	Failures        int        `json:"failures"`
	ErrorRate       float64    `json:"error_rate"`
	DistinctSources int        `json:"distinct_sources"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// usageThresholds tune anomaly detection.
type usageThresholds struct {
	windowSize  int
	minEvents   int
	burstRate   float64
	maxSources  int
	dormantDays int
}

// UsageAnalyzer records key usage and flags anomalies as events arrive.
// Each anomaly fires on the threshold crossing, not on every event past it.
type UsageAnalyzer struct {
	mu        sync.RWMutex
	events    map[string][]*UsageEvent
	anomalies map[string][]*UsageAnomaly
	sources   map[string]map[string]bool
	th        usageThresholds
	clock     func() time.Time
}

// NewUsageAnalyzer creates an analyzer with default thresholds: a 20-event
// window, 5-event floor, 50% burst rate, 3 expected sources, and 60 idle
// days before a revival counts as dormant.
func NewUsageAnalyzer() *UsageAnalyzer {
	return &UsageAnalyzer{
		events:    make(map[string][]*UsageEvent),
		anomalies: make(map[string][]*UsageAnomaly),
		sources:   make(map[string]map[string]bool),
		th:        usageThresholds{windowSize: 20, minEvents: 5, burstRate: 0.5, maxSources: 3, dormantDays: 60},
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Returns the analyzer for chaining.
func (u *UsageAnalyzer) WithClock(clock func() time.Time) *UsageAnalyzer {
	u.clock = clock
	return u
}

// SetThresholds replaces the detection thresholds.
func (u *UsageAnalyzer) SetThresholds(windowSize, minEvents int, burstRate float64, maxSources, dormantDays int) error {
	if windowSize < 1 || minEvents < 1 || maxSources < 1 || dormantDays < 1 {
		return fmt.Errorf("usage thresholds must be positive")
	}
	if burstRate <= 0 || burstRate >= 1 {
		return fmt.Errorf("burst rate must be in (0, 1): %f", burstRate)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.th = usageThresholds{windowSize: windowSize, minEvents: minEvents, burstRate: burstRate, maxSources: maxSources, dormantDays: dormantDays}
	return nil
}

// RecordUsage appends a usage event and runs the anomaly detectors
// against it.
func (u *UsageAnalyzer) RecordUsage(keyID, source, operation string, success bool) (*UsageEvent, error) {
	if keyID == "" || source == "" || operation == "" {
		return nil, fmt.Errorf("key id, source, and operation are required")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.clock()
	prior := u.events[keyID]

	// Revival fires on the gap to the previous event, before this one
	// joins the history.
	if n := len(prior); n > 0 {
		idleDays := int(now.Sub(prior[n-1].At).Hours() / 24)
		if idleDays > u.th.dormantDays {
			u.addAnomaly(keyID, AnomalyDormantRevival, severity.High,
				fmt.Sprintf("key used after %d idle days", idleDays), now)
		}
	}

	ev := &UsageEvent{
		ID:        ident.New(ident.PrefixUsageEvent),
		KeyID:     keyID,
		Source:    source,
		Operation: operation,
		Success:   success,
		At:        now,
	}
	u.events[keyID] = append(prior, ev)

	if !success {
		before := u.windowErrorRate(prior)
		after := u.windowErrorRate(u.events[keyID])
		if len(u.events[keyID]) >= u.th.minEvents && after > u.th.burstRate && before <= u.th.burstRate {
			u.addAnomaly(keyID, AnomalyErrorBurst, severity.Critical,
				fmt.Sprintf("error rate %.0f%% over recent window", after*100), now)
		}
	}

	if u.sources[keyID] == nil {
		u.sources[keyID] = make(map[string]bool)
	}
	if !u.sources[keyID][source] {
		u.sources[keyID][source] = true
		if len(u.sources[keyID]) == u.th.maxSources+1 {
			u.addAnomaly(keyID, AnomalySourceSpread, severity.Medium,
				fmt.Sprintf("key seen from %d distinct sources", len(u.sources[keyID])), now)
		}
	}
	return ev, nil
}

func (u *UsageAnalyzer) windowErrorRate(events []*UsageEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	window := events
	if len(window) > u.th.windowSize {
		window = window[len(window)-u.th.windowSize:]
	}
	failures := 0
	for _, ev := range window {
		if !ev.Success {
			failures++
		}
	}
	return float64(failures) / float64(len(window))
}

func (u *UsageAnalyzer) addAnomaly(keyID string, at AnomalyType, sev severity.Level, desc string, now time.Time) {
	u.anomalies[keyID] = append(u.anomalies[keyID], &UsageAnomaly{
		ID:          ident.New(ident.PrefixAnomaly),
		KeyID:       keyID,
		Type:        at,
		Severity:    sev,
		Description: desc,
		DetectedAt:  now,
	})
}

// Events returns a key's usage history, oldest first.
func (u *UsageAnalyzer) Events(keyID string) []*UsageEvent {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]*UsageEvent(nil), u.events[keyID]...)
}

// Anomalies returns a key's detected anomalies, oldest first.
func (u *UsageAnalyzer) Anomalies(keyID string) []*UsageAnomaly {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]*UsageAnomaly(nil), u.anomalies[keyID]...)
}

// AnomalyCounts splits a key's anomalies into critical and non-critical
// buckets for health scoring.
func (u *UsageAnalyzer) AnomalyCounts(keyID string) (critical, nonCritical int) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, a := range u.anomalies[keyID] {
		if severity.AtLeast(a.Severity, severity.Critical) {
			critical++
		} else {
			nonCritical++
		}
	}
	return critical, nonCritical
}

// Profile summarizes a key's usage for health scoring.
func (u *UsageAnalyzer) Profile(keyID string) *UsageProfile {
	u.mu.RLock()
	defer u.mu.RUnlock()

	events := u.events[keyID]
	p := &UsageProfile{KeyID: keyID, Events: len(events), DistinctSources: len(u.sources[keyID])}
	for _, ev := range events {
		if !ev.Success {
			p.Failures++
		}
	}
	if len(events) > 0 {
		p.ErrorRate = float64(p.Failures) / float64(len(events))
		last := events[len(events)-1].At
		p.LastUsedAt = &last
	}
	return p
}

// Stats returns the analyzer's counters.
func (u *UsageAnalyzer) Stats() map[string]int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	events, anomalies := 0, 0
	for _, evs := range u.events {
		events += len(evs)
	}
	for _, as := range u.anomalies {
		anomalies += len(as)
	}
	return map[string]int{
		"keys":      len(u.events),
		"events":    events,
		"anomalies": anomalies,
	}
}
