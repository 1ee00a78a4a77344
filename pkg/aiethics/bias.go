// Package aiethics implements the AI ethics governance subsystem:
// bias detection over tabular populations, fairness metrics over
// prediction sets, a rule engine with exceptions, decision auditing,
// protected-class monitoring, violation alerting, remediation
// suggestion, and transparency reporting.
package aiethics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
	"github.com/Veridian-Labs/aegis/pkg/severity"
)

var (
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrDetectionNotFound = errors.New("detection not found")
	ErrEmptyDataset      = errors.New("dataset has no records")
)

// Dataset is an immutable registered population to scan for bias.
type Dataset struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	Records        []map[string]interface{} `json:"records"`
	ProtectedAttrs []string                 `json:"protected_attrs"`
	OutcomeAttr    string                   `json:"outcome_attr"`
	CreatedAt      time.Time                `json:"created_at"`
}

// Finding is a single detected disparity.
type Finding struct {
	Type       string             `json:"type"` // demographic_parity, disparate_impact, representation
	Attribute  string             `json:"attribute"`
	Score      float64            `json:"score"` // 0..1
	Severity   severity.Level     `json:"severity"`
	GroupRates map[string]float64 `json:"group_rates,omitempty"`
	Detail     string             `json:"detail,omitempty"`
}

// Detection is the stored result of one bias scan.
type Detection struct {
	ID        string         `json:"id"`
	DatasetID string         `json:"dataset_id"`
	Findings  []Finding      `json:"findings"`
	BiasScore float64        `json:"bias_score"`
	Severity  severity.Level `json:"severity"`
	ScannedAt time.Time      `json:"scanned_at"`
}

// AttributePattern is the entropy profile of one protected attribute.
type AttributePattern struct {
	Attribute    string             `json:"attribute"`
	Entropy      float64            `json:"entropy"`
	MaxEntropy   float64            `json:"max_entropy"`
	Balance      float64            `json:"balance"` // entropy / max_entropy, 1.0 = uniform
	Distribution map[string]int     `json:"distribution"`
	OutcomeRates map[string]float64 `json:"outcome_rates"`
}

// PatternAnalysis aggregates attribute patterns for a dataset.
type PatternAnalysis struct {
	DatasetID  string             `json:"dataset_id"`
	Patterns   []AttributePattern `json:"patterns"`
	AnalyzedAt time.Time          `json:"analyzed_at"`
}

// BiasDetector detects statistical disparities in tabular datasets
// across protected attributes with respect to a binary outcome.
type BiasDetector struct {
	mu              sync.RWMutex
	datasets        map[string]*Dataset
	detections      map[string]*Detection
	parityThreshold float64 // demographic parity trigger: gap > 1 - threshold
	impactThreshold float64 // disparate impact trigger: ratio < threshold
	stats           map[string]int
	clock           func() time.Time
}

// NewBiasDetector creates a detector with default thresholds (0.8 / 0.8).
func NewBiasDetector() *BiasDetector {
	return &BiasDetector{
		datasets:        make(map[string]*Dataset),
		detections:      make(map[string]*Detection),
		parityThreshold: 0.8,
		impactThreshold: 0.8,
		stats:           map[string]int{"datasets": 0, "scans": 0, "findings": 0},
		clock:           time.Now,
	}
}

// WithClock overrides the time source. Returns the detector for chaining.
func (d *BiasDetector) WithClock(clock func() time.Time) *BiasDetector {
	d.clock = clock
	return d
}

// SetThresholds adjusts the parity and impact thresholds, both in (0,1].
func (d *BiasDetector) SetThresholds(parity, impact float64) error {
	if parity <= 0 || parity > 1 || impact <= 0 || impact > 1 {
		return fmt.Errorf("invalid thresholds: parity=%v impact=%v", parity, impact)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parityThreshold = parity
	d.impactThreshold = impact
	return nil
}

// AddDataset registers a population for scanning. The dataset is
// copied shallowly and treated as immutable afterwards. Empty record
// sets are accepted; scanning one yields a zero-score detection.
func (d *BiasDetector) AddDataset(name string, records []map[string]interface{}, protectedAttrs []string, outcomeAttr string) (*Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	if len(protectedAttrs) == 0 {
		return nil, fmt.Errorf("at least one protected attribute is required")
	}
	if outcomeAttr == "" {
		return nil, fmt.Errorf("outcome attribute is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ds := &Dataset{
		ID:             ident.New(ident.PrefixDataset),
		Name:           name,
		Records:        records,
		ProtectedAttrs: append([]string(nil), protectedAttrs...),
		OutcomeAttr:    outcomeAttr,
		CreatedAt:      d.clock(),
	}
	d.datasets[ds.ID] = ds
	d.stats["datasets"]++
	return ds, nil
}

// Dataset returns a registered dataset by id.
func (d *BiasDetector) Dataset(id string) (*Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ds, ok := d.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrDatasetNotFound)
	}
	return ds, nil
}

// ScanForBias runs all three disparity checks per protected attribute
// and stores the resulting detection.
func (d *BiasDetector) ScanForBias(datasetID string) (*Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ds, ok := d.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", datasetID, ErrDatasetNotFound)
	}

	var findings []Finding
	for _, attr := range ds.ProtectedAttrs {
		groups := partition(ds.Records, attr, ds.OutcomeAttr)
		findings = append(findings, d.checkDemographicParity(attr, groups)...)
		findings = append(findings, d.checkDisparateImpact(attr, groups)...)
		findings = append(findings, d.checkRepresentation(attr, groups)...)
	}

	score := 0.0
	if len(findings) > 0 {
		sum := 0.0
		for _, f := range findings {
			sum += f.Score
		}
		score = sum / float64(len(findings))
	}

	det := &Detection{
		ID:        ident.New(ident.PrefixBiasDetection),
		DatasetID: datasetID,
		Findings:  findings,
		BiasScore: score,
		Severity:  severity.FromScore(score),
		ScannedAt: d.clock(),
	}
	d.detections[det.ID] = det
	d.stats["scans"]++
	d.stats["findings"] += len(findings)
	return det, nil
}

// groupCounts holds the partition of records for one attribute.
type groupCounts struct {
	total    map[string]int
	positive map[string]int
}

// partition buckets records by the attribute's value. Missing values
// bucket as "unknown".
func partition(records []map[string]interface{}, attr, outcomeAttr string) groupCounts {
	g := groupCounts{total: make(map[string]int), positive: make(map[string]int)}
	for _, rec := range records {
		value := "unknown"
		if v, ok := rec[attr]; ok && v != nil {
			value = fmt.Sprintf("%v", v)
		}
		g.total[value]++
		if positiveOutcome(rec[outcomeAttr]) {
			g.positive[value]++
		}
	}
	return g
}

// positiveOutcome interprets an outcome value as binary-positive.
func positiveOutcome(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch val {
		case "true", "yes", "1", "approved", "positive":
			return true
		}
		return false
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return false
	}
}

func (g groupCounts) rates() map[string]float64 {
	rates := make(map[string]float64, len(g.total))
	for value, n := range g.total {
		if n > 0 {
			rates[value] = float64(g.positive[value]) / float64(n)
		}
	}
	return rates
}

func minMax(rates map[string]float64) (min, max float64) {
	first := true
	for _, r := range rates {
		if first {
			min, max = r, r
			first = false
			continue
		}
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	return min, max
}

// checkDemographicParity: gap = max rate - min rate; finding when
// gap > 1 - parityThreshold. Score = min(1, gap * 2).
func (d *BiasDetector) checkDemographicParity(attr string, g groupCounts) []Finding {
	rates := g.rates()
	if len(rates) < 2 {
		return nil
	}
	min, max := minMax(rates)
	gap := max - min
	if gap <= 1-d.parityThreshold {
		return nil
	}
	score := math.Min(1, gap*2)
	return []Finding{{
		Type:       "demographic_parity",
		Attribute:  attr,
		Score:      score,
		Severity:   severity.FromScore(score),
		GroupRates: rates,
		Detail:     fmt.Sprintf("positive-outcome gap %.3f across %d groups", gap, len(rates)),
	}}
}

// checkDisparateImpact: ratio = min rate / max rate; finding when
// ratio < impactThreshold. Score = max(0, 1 - ratio).
func (d *BiasDetector) checkDisparateImpact(attr string, g groupCounts) []Finding {
	rates := g.rates()
	if len(rates) < 2 {
		return nil
	}
	min, max := minMax(rates)
	if max == 0 {
		return nil
	}
	ratio := min / max
	if ratio >= d.impactThreshold {
		return nil
	}
	score := math.Max(0, 1-ratio)
	return []Finding{{
		Type:       "disparate_impact",
		Attribute:  attr,
		Score:      score,
		Severity:   severity.FromScore(score),
		GroupRates: rates,
		Detail:     fmt.Sprintf("impact ratio %.3f below threshold %.2f", ratio, d.impactThreshold),
	}}
}

// checkRepresentation: deviation of group sizes from the uniform
// expectation. Finding when max deviation ratio > 0.5.
func (d *BiasDetector) checkRepresentation(attr string, g groupCounts) []Finding {
	if len(g.total) < 2 {
		return nil
	}
	total := 0
	for _, n := range g.total {
		total += n
	}
	expected := float64(total) / float64(len(g.total))
	maxDev := 0.0
	for _, n := range g.total {
		dev := math.Abs(float64(n)-expected) / math.Max(1, expected)
		if dev > maxDev {
			maxDev = dev
		}
	}
	if maxDev <= 0.5 {
		return nil
	}
	score := math.Min(1, maxDev)
	counts := make(map[string]float64, len(g.total))
	for value, n := range g.total {
		counts[value] = float64(n)
	}
	return []Finding{{
		Type:       "representation",
		Attribute:  attr,
		Score:      score,
		Severity:   severity.FromScore(score),
		GroupRates: counts,
		Detail:     fmt.Sprintf("max deviation %.3f from uniform %.1f", maxDev, expected),
	}}
}

// AnalyzePatterns computes the Shannon entropy profile of each
// protected attribute, a quick read on how balanced the data is.
func (d *BiasDetector) AnalyzePatterns(datasetID string) (*PatternAnalysis, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ds, ok := d.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", datasetID, ErrDatasetNotFound)
	}
	if len(ds.Records) == 0 {
		return nil, ErrEmptyDataset
	}

	analysis := &PatternAnalysis{DatasetID: datasetID, AnalyzedAt: d.clock()}
	for _, attr := range ds.ProtectedAttrs {
		g := partition(ds.Records, attr, ds.OutcomeAttr)
		total := 0
		for _, n := range g.total {
			total += n
		}

		entropy := 0.0
		for _, n := range g.total {
			p := float64(n) / float64(total)
			if p > 0 {
				entropy -= p * math.Log2(p)
			}
		}
		maxEntropy := 0.0
		if len(g.total) > 1 {
			maxEntropy = math.Log2(float64(len(g.total)))
		}
		balance := 1.0
		if maxEntropy > 0 {
			balance = entropy / maxEntropy
		}

		analysis.Patterns = append(analysis.Patterns, AttributePattern{
			Attribute:    attr,
			Entropy:      entropy,
			MaxEntropy:   maxEntropy,
			Balance:      balance,
			Distribution: g.total,
			OutcomeRates: g.rates(),
		})
	}
	sort.Slice(analysis.Patterns, func(i, j int) bool {
		return analysis.Patterns[i].Attribute < analysis.Patterns[j].Attribute
	})
	return analysis, nil
}

// Detection returns a stored detection by id.
func (d *BiasDetector) Detection(id string) (*Detection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	det, ok := d.detections[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrDetectionNotFound)
	}
	return det, nil
}

// Stats returns the detector's counters.
func (d *BiasDetector) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out
}
