package aiethics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func fixedClock() func() time.Time {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

// genderedRecords builds n records per group with the given outcome
// per group.
func genderedRecords(nPerGroup int, maleOutcome, femaleOutcome bool) []map[string]interface{} {
	var records []map[string]interface{}
	for i := 0; i < nPerGroup; i++ {
		records = append(records, map[string]interface{}{"gender": "M", "result": maleOutcome})
	}
	for i := 0; i < nPerGroup; i++ {
		records = append(records, map[string]interface{}{"gender": "F", "result": femaleOutcome})
	}
	return records
}

func TestScanSkewedOutcomes(t *testing.T) {
	d := NewBiasDetector().WithClock(fixedClock())

	ds, err := d.AddDataset("loan-approvals", genderedRecords(20, true, false), []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}

	det, err := d.ScanForBias(ds.ID)
	if err != nil {
		t.Fatalf("ScanForBias failed: %v", err)
	}
	if len(det.Findings) < 1 {
		t.Fatalf("expected findings for a fully split dataset, got none")
	}
	if det.BiasScore <= 0 {
		t.Errorf("expected positive bias score, got %v", det.BiasScore)
	}
	if !severity.AtLeast(det.Severity, severity.High) {
		t.Errorf("expected severity high or above, got %s", det.Severity)
	}

	types := map[string]bool{}
	for _, f := range det.Findings {
		types[f.Type] = true
	}
	if !types["demographic_parity"] || !types["disparate_impact"] {
		t.Errorf("expected parity and impact findings, got %v", types)
	}
	// rates are 1.0 vs 0.0: both findings score 1.0
	if math.Abs(det.BiasScore-1.0) > 1e-9 {
		t.Errorf("expected bias score 1.0, got %v", det.BiasScore)
	}
}

func TestScanBalancedOutcomes(t *testing.T) {
	d := NewBiasDetector()

	ds, err := d.AddDataset("balanced", genderedRecords(20, true, true), []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}
	det, err := d.ScanForBias(ds.ID)
	if err != nil {
		t.Fatalf("ScanForBias failed: %v", err)
	}
	if len(det.Findings) != 0 {
		t.Errorf("expected no findings for equal outcome rates, got %d", len(det.Findings))
	}
	if det.BiasScore != 0 {
		t.Errorf("expected zero bias score, got %v", det.BiasScore)
	}
	if det.Severity != severity.None {
		t.Errorf("expected severity none, got %s", det.Severity)
	}
}

func TestScanRepresentationSkew(t *testing.T) {
	d := NewBiasDetector()

	// 35 vs 5 members, identical outcome rates: only representation fires.
	var records []map[string]interface{}
	for i := 0; i < 35; i++ {
		records = append(records, map[string]interface{}{"gender": "M", "result": true})
	}
	for i := 0; i < 5; i++ {
		records = append(records, map[string]interface{}{"gender": "F", "result": true})
	}

	ds, err := d.AddDataset("skewed-representation", records, []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}
	det, err := d.ScanForBias(ds.ID)
	if err != nil {
		t.Fatalf("ScanForBias failed: %v", err)
	}
	if len(det.Findings) != 1 {
		t.Fatalf("expected exactly one finding, got %d: %+v", len(det.Findings), det.Findings)
	}
	f := det.Findings[0]
	if f.Type != "representation" {
		t.Errorf("expected representation finding, got %s", f.Type)
	}
	// deviation 15/20 = 0.75
	if math.Abs(f.Score-0.75) > 1e-9 {
		t.Errorf("expected score 0.75, got %v", f.Score)
	}
}

func TestScanEmptyDataset(t *testing.T) {
	d := NewBiasDetector()

	ds, err := d.AddDataset("empty", nil, []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}
	det, err := d.ScanForBias(ds.ID)
	if err != nil {
		t.Fatalf("ScanForBias failed: %v", err)
	}
	if len(det.Findings) != 0 {
		t.Errorf("expected no findings for empty records, got %d", len(det.Findings))
	}
	if det.BiasScore != 0 {
		t.Errorf("expected zero bias score, got %v", det.BiasScore)
	}
	if det.Severity != severity.None {
		t.Errorf("expected severity none, got %s", det.Severity)
	}

	stored, err := d.Detection(det.ID)
	if err != nil {
		t.Fatalf("Detection lookup failed: %v", err)
	}
	if stored.DatasetID != ds.ID {
		t.Errorf("detection references dataset %s, want %s", stored.DatasetID, ds.ID)
	}

	if _, err := d.AnalyzePatterns(ds.ID); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset from pattern analysis, got %v", err)
	}
}

func TestAddDatasetValidation(t *testing.T) {
	d := NewBiasDetector()

	t.Run("unknown dataset", func(t *testing.T) {
		_, err := d.ScanForBias("bds_missing")
		if !errors.Is(err, ErrDatasetNotFound) {
			t.Errorf("expected ErrDatasetNotFound, got %v", err)
		}
	})

	t.Run("unknown detection", func(t *testing.T) {
		_, err := d.Detection("bdet_missing")
		if !errors.Is(err, ErrDetectionNotFound) {
			t.Errorf("expected ErrDetectionNotFound, got %v", err)
		}
	})
}

func TestSetThresholds(t *testing.T) {
	d := NewBiasDetector()
	if err := d.SetThresholds(0.9, 0.85); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}
	if err := d.SetThresholds(0, 0.8); err == nil {
		t.Error("expected error for zero parity threshold")
	}
	if err := d.SetThresholds(0.8, 1.5); err == nil {
		t.Error("expected error for impact threshold above 1")
	}
}

func TestAnalyzePatterns(t *testing.T) {
	d := NewBiasDetector()

	ds, err := d.AddDataset("patterns", genderedRecords(20, true, false), []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}
	analysis, err := d.AnalyzePatterns(ds.ID)
	if err != nil {
		t.Fatalf("AnalyzePatterns failed: %v", err)
	}
	if len(analysis.Patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(analysis.Patterns))
	}
	p := analysis.Patterns[0]
	if p.Attribute != "gender" {
		t.Errorf("expected gender pattern, got %s", p.Attribute)
	}
	// two equal groups: entropy = log2(2) = 1, perfectly balanced
	if math.Abs(p.Balance-1.0) > 1e-9 {
		t.Errorf("expected balance 1.0 for equal groups, got %v", p.Balance)
	}
	if p.Distribution["M"] != 20 || p.Distribution["F"] != 20 {
		t.Errorf("unexpected distribution: %v", p.Distribution)
	}
}

func TestPartitionMissingValues(t *testing.T) {
	records := []map[string]interface{}{
		{"gender": "M", "result": true},
		{"result": true},
		{"gender": nil, "result": false},
	}
	g := partition(records, "gender", "result")
	if g.total["unknown"] != 2 {
		t.Errorf("expected 2 unknown-bucketed records, got %d", g.total["unknown"])
	}
	if g.positive["unknown"] != 1 {
		t.Errorf("expected 1 positive unknown record, got %d", g.positive["unknown"])
	}
}

func TestPositiveOutcome(t *testing.T) {
	cases := []struct {
		value interface{}
		want  bool
	}{
		{true, true},
		{false, false},
		{"approved", true},
		{"yes", true},
		{"1", true},
		{"denied", false},
		{1, true},
		{0, false},
		{int64(3), true},
		{2.5, true},
		{0.0, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := positiveOutcome(tc.value); got != tc.want {
			t.Errorf("positiveOutcome(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestBiasStats(t *testing.T) {
	d := NewBiasDetector()
	ds, err := d.AddDataset("stats", genderedRecords(10, true, false), []string{"gender"}, "result")
	if err != nil {
		t.Fatalf("AddDataset failed: %v", err)
	}
	if _, err := d.ScanForBias(ds.ID); err != nil {
		t.Fatalf("ScanForBias failed: %v", err)
	}

	stats := d.Stats()
	if stats["datasets"] != 1 {
		t.Errorf("expected 1 dataset, got %d", stats["datasets"])
	}
	if stats["scans"] != 1 {
		t.Errorf("expected 1 scan, got %d", stats["scans"])
	}
	if stats["findings"] == 0 {
		t.Error("expected findings counted")
	}
}
