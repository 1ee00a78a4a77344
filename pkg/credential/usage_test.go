package credential

import (
	"math"
	"testing"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func TestRecordUsageValidation(t *testing.T) {
	u := NewUsageAnalyzer().WithClock(fixedClock())

	if _, err := u.RecordUsage("", "10.0.0.1", "list", true); err == nil {
		t.Fatal("expected empty key id to be rejected")
	}
	if _, err := u.RecordUsage("ki_1", "", "list", true); err == nil {
		t.Fatal("expected empty source to be rejected")
	}
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "", true); err == nil {
		t.Fatal("expected empty operation to be rejected")
	}

	ev, err := u.RecordUsage("ki_1", "10.0.0.1", "list", true)
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if !ev.Success || ev.Operation != "list" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestErrorBurstFiresOnCrossing(t *testing.T) {
	u := NewUsageAnalyzer().WithClock(fixedClock())

	for i := 0; i < 2; i++ {
		if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", true); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", false); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	if got := u.Anomalies("ki_1"); len(got) != 0 {
		t.Fatalf("anomalies before crossing = %d, want 0", len(got))
	}

	// Fifth event pushes the window rate from 50% to 60%.
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", false); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	anomalies := u.Anomalies("ki_1")
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}
	if anomalies[0].Type != AnomalyErrorBurst {
		t.Fatalf("type = %q, want error_burst", anomalies[0].Type)
	}
	if anomalies[0].Severity != severity.Critical {
		t.Fatalf("severity = %q, want critical", anomalies[0].Severity)
	}

	// Staying above the threshold does not re-fire.
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", false); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if got := u.Anomalies("ki_1"); len(got) != 1 {
		t.Fatalf("anomalies after staying above threshold = %d, want 1", len(got))
	}
}

func TestSourceSpreadFiresOnce(t *testing.T) {
	u := NewUsageAnalyzer().WithClock(fixedClock())

	for _, src := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, err := u.RecordUsage("ki_1", src, "read", true); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	if got := u.Anomalies("ki_1"); len(got) != 0 {
		t.Fatalf("anomalies at the expected source count = %d, want 0", len(got))
	}

	if _, err := u.RecordUsage("ki_1", "203.0.113.9", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	anomalies := u.Anomalies("ki_1")
	if len(anomalies) != 1 || anomalies[0].Type != AnomalySourceSpread {
		t.Fatalf("anomalies = %+v, want one source_spread", anomalies)
	}
	if anomalies[0].Severity != severity.Medium {
		t.Fatalf("severity = %q, want medium", anomalies[0].Severity)
	}

	// Repeat sources and further new ones stay quiet.
	if _, err := u.RecordUsage("ki_1", "203.0.113.9", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if _, err := u.RecordUsage("ki_1", "198.51.100.4", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if got := u.Anomalies("ki_1"); len(got) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(got))
	}
}

func TestDormantRevival(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := NewUsageAnalyzer().WithClock(func() time.Time { return now })

	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	now = now.AddDate(0, 0, 61)
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	anomalies := u.Anomalies("ki_1")
	if len(anomalies) != 1 || anomalies[0].Type != AnomalyDormantRevival {
		t.Fatalf("anomalies = %+v, want one dormant_revival", anomalies)
	}
	if anomalies[0].Severity != severity.High {
		t.Fatalf("severity = %q, want high", anomalies[0].Severity)
	}

	// A gap inside the dormancy window stays quiet.
	now = now.AddDate(0, 0, 59)
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if got := u.Anomalies("ki_1"); len(got) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(got))
	}
}

func TestSetThresholdsValidation(t *testing.T) {
	u := NewUsageAnalyzer().WithClock(fixedClock())

	if err := u.SetThresholds(0, 5, 0.5, 3, 60); err == nil {
		t.Fatal("expected zero window to be rejected")
	}
	if err := u.SetThresholds(20, 5, 1.0, 3, 60); err == nil {
		t.Fatal("expected burst rate of 1 to be rejected")
	}
	if err := u.SetThresholds(20, 5, 0.5, 0, 60); err == nil {
		t.Fatal("expected zero source ceiling to be rejected")
	}

	if err := u.SetThresholds(10, 2, 0.3, 3, 60); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", true); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if _, err := u.RecordUsage("ki_1", "10.0.0.1", "read", false); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	anomalies := u.Anomalies("ki_1")
	if len(anomalies) != 1 || anomalies[0].Type != AnomalyErrorBurst {
		t.Fatalf("anomalies = %+v, want one error_burst under the tightened rate", anomalies)
	}
}

func TestAnomalyCountsAndProfile(t *testing.T) {
	u := NewUsageAnalyzer().WithClock(fixedClock())

	// Three failures out of five trip the burst detector (critical);
	// a fourth distinct source trips the spread detector (medium).
	sources := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "203.0.113.9", "203.0.113.9"}
	outcomes := []bool{true, true, false, false, false}
	for i := range sources {
		if _, err := u.RecordUsage("ki_1", sources[i], "read", outcomes[i]); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	critical, nonCritical := u.AnomalyCounts("ki_1")
	if critical != 1 || nonCritical != 1 {
		t.Fatalf("counts = (%d, %d), want (1, 1)", critical, nonCritical)
	}

	p := u.Profile("ki_1")
	if p.Events != 5 || p.Failures != 3 {
		t.Fatalf("profile = %+v, want 5 events, 3 failures", p)
	}
	if math.Abs(p.ErrorRate-0.6) > 1e-9 {
		t.Fatalf("error rate = %f, want 0.6", p.ErrorRate)
	}
	if p.DistinctSources != 4 {
		t.Fatalf("distinct sources = %d, want 4", p.DistinctSources)
	}
	if p.LastUsedAt == nil || !p.LastUsedAt.Equal(fixedClock()()) {
		t.Fatalf("LastUsedAt = %v, want fixed clock", p.LastUsedAt)
	}

	empty := u.Profile("ki_other")
	if empty.Events != 0 || empty.LastUsedAt != nil {
		t.Fatalf("profile of unknown key = %+v, want empty", empty)
	}

	stats := u.Stats()
	if stats["keys"] != 1 || stats["events"] != 5 || stats["anomalies"] != 2 {
		t.Fatalf("stats = %v", stats)
	}
}
