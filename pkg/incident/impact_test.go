package incident

import (
	"errors"
	"math"
	"testing"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func TestImpactFactorTables(t *testing.T) {
	baseCases := []struct {
		level ImpactLevel
		want  float64
	}{
		{ImpactCatastrophic, 1.0},
		{ImpactSevere, 0.85},
		{ImpactMajor, 0.7},
		{ImpactModerate, 0.5},
		{ImpactMinor, 0.3},
		{ImpactNegligible, 0.1},
	}
	for _, tc := range baseCases {
		if got := impactBase(tc.level); !almostEqual(got, tc.want) {
			t.Errorf("impactBase(%s) = %v, want %v", tc.level, got, tc.want)
		}
	}

	categoryCases := []struct {
		n    int
		want float64
	}{
		{0, 0}, {1, 0.05}, {2, 0.1}, {3, 0.15}, {4, 0.2}, {9, 0.2},
	}
	for _, tc := range categoryCases {
		if got := categoryFactor(tc.n); !almostEqual(got, tc.want) {
			t.Errorf("categoryFactor(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}

	userCases := []struct {
		n    int
		want float64
	}{
		{0, 0}, {100, 0}, {101, 0.05}, {1000, 0.05}, {1001, 0.10}, {10000, 0.10}, {10001, 0.15},
	}
	for _, tc := range userCases {
		if got := affectedUserFactor(tc.n); !almostEqual(got, tc.want) {
			t.Errorf("affectedUserFactor(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}

	lossCases := []struct {
		loss float64
		want float64
	}{
		{0, 0}, {10_000, 0}, {10_001, 0.05}, {100_000, 0.05}, {100_001, 0.10}, {1_000_000, 0.10}, {1_000_001, 0.15},
	}
	for _, tc := range lossCases {
		if got := financialFactor(tc.loss); !almostEqual(got, tc.want) {
			t.Errorf("financialFactor(%v) = %v, want %v", tc.loss, got, tc.want)
		}
	}
}

func TestSeverityToImpact(t *testing.T) {
	cases := []struct {
		sev  severity.Level
		want ImpactLevel
	}{
		{severity.Emergency, ImpactCatastrophic},
		{severity.Critical, ImpactCatastrophic},
		{severity.High, ImpactSevere},
		{severity.Medium, ImpactModerate},
		{severity.Low, ImpactMinor},
		{severity.Info, ImpactNegligible},
		{severity.None, ImpactNegligible},
	}
	for _, tc := range cases {
		if got := SeverityToImpact(tc.sev); got != tc.want {
			t.Errorf("SeverityToImpact(%s) = %s, want %s", tc.sev, got, tc.want)
		}
	}
}

func TestAssessImpactScore(t *testing.T) {
	a := NewImpactAssessor().WithClock(fixedClock())

	if _, err := a.AssessImpact("", "moderate", nil, 0, 0); err == nil {
		t.Fatal("expected missing incident ID to be rejected")
	}
	if _, err := a.AssessImpact("inc_1", "biblical", nil, 0, 0); err == nil {
		t.Fatal("expected unknown level to be rejected")
	}
	if _, err := a.AssessImpact("inc_1", "moderate", nil, -1, 0); err == nil {
		t.Fatal("expected negative user count to be rejected")
	}
	if _, err := a.AssessImpact("inc_1", "moderate", nil, 0, -50); err == nil {
		t.Fatal("expected negative loss to be rejected")
	}

	// 0.5 base + 0.1 for two categories + 0.1 users + 0.1 financial.
	cats := []string{"data_confidentiality", "service_availability", "data_confidentiality"}
	got, err := a.AssessImpact("inc_1", "moderate", cats, 1500, 250_000)
	if err != nil {
		t.Fatalf("AssessImpact: %v", err)
	}
	if len(got.Categories) != 2 {
		t.Fatalf("categories = %v, want deduplicated pair", got.Categories)
	}
	if !almostEqual(got.Score, 0.8) {
		t.Fatalf("score = %v, want 0.8", got.Score)
	}
	if !got.AssessedAt.Equal(fixedClock()()) {
		t.Fatalf("assessed at = %v", got.AssessedAt)
	}

	capped, err := a.AssessImpact("inc_2", "catastrophic", []string{"a", "b", "c", "d", "e"}, 50_000, 2_000_000)
	if err != nil {
		t.Fatalf("AssessImpact: %v", err)
	}
	if capped.Score != 1.0 {
		t.Fatalf("score = %v, want capped at 1.0", capped.Score)
	}

	floor, err := a.AssessImpact("inc_3", "negligible", nil, 5, 120)
	if err != nil {
		t.Fatalf("AssessImpact: %v", err)
	}
	if !almostEqual(floor.Score, 0.1) {
		t.Fatalf("score = %v, want bare base 0.1", floor.Score)
	}

	back, err := a.Assessment(got.ID)
	if err != nil || back.IncidentID != "inc_1" {
		t.Fatalf("Assessment roundtrip: %+v, %v", back, err)
	}
	if _, err := a.Assessment("imp_missing"); !errors.Is(err, ErrAssessmentNotFound) {
		t.Fatalf("missing assessment err = %v, want ErrAssessmentNotFound", err)
	}
}

func TestAssessmentForReturnsLatest(t *testing.T) {
	a := NewImpactAssessor().WithClock(fixedClock())
	if _, err := a.AssessmentFor("inc_1"); !errors.Is(err, ErrAssessmentNotFound) {
		t.Fatalf("err = %v, want ErrAssessmentNotFound", err)
	}

	first, err := a.AssessImpact("inc_1", "minor", nil, 0, 0)
	if err != nil {
		t.Fatalf("AssessImpact: %v", err)
	}
	second, err := a.AssessImpact("inc_1", "severe", nil, 2000, 0)
	if err != nil {
		t.Fatalf("AssessImpact: %v", err)
	}

	latest, err := a.AssessmentFor("inc_1")
	if err != nil {
		t.Fatalf("AssessmentFor: %v", err)
	}
	if latest.ID != second.ID || latest.ID == first.ID {
		t.Fatalf("latest = %s, want reassessment %s", latest.ID, second.ID)
	}

	stats := a.Stats()
	if stats["assessments"] != 2 || stats["high_impact"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}
