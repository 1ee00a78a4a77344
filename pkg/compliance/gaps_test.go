package compliance

import (
	"errors"
	"testing"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func TestRiskLadder(t *testing.T) {
	g := NewGapAnalyzer()
	cases := []struct {
		sev  severity.Level
		want float64
	}{
		{severity.Critical, 1.0},
		{severity.Emergency, 1.0},
		{severity.High, 0.8},
		{severity.Medium, 0.6},
		{severity.Low, 0.4},
		{severity.Info, 0.2},
	}
	for _, tc := range cases {
		gap, err := g.RecordGap("gdpr", "ctrl-"+string(tc.sev), "", tc.sev)
		if err != nil {
			t.Fatalf("RecordGap(%s): %v", tc.sev, err)
		}
		if gap.RiskScore != tc.want {
			t.Errorf("%s risk = %v, want %v", tc.sev, gap.RiskScore, tc.want)
		}
		if gap.Status != GapOpen {
			t.Errorf("%s initial status = %q, want open", tc.sev, gap.Status)
		}
	}

	if _, err := g.RecordGap("gdpr", "", "", severity.High); err == nil {
		t.Error("expected error for empty control")
	}
	if _, err := g.RecordGap("gdpr", "ctrl", "", severity.Level("dire")); err == nil {
		t.Error("expected error for invalid severity")
	}
}

func TestRunAssessment(t *testing.T) {
	g := NewGapAnalyzer()

	asm, err := g.RunAssessment("soc2", []ControlResult{
		{Control: "CC1.1", Status: ControlPassed},
		{Control: "CC2.1", Status: ControlPassed},
		{Control: "CC3.1", Status: ControlPassed},
		{Control: "CC6.1", Status: ControlFailed, Detail: "no MFA on admin consoles"},
		{Control: "CC6.8", Status: ControlFailed, Detail: "unmanaged endpoints"},
		{Control: "CC7.2", Status: ControlPartial, Detail: "alerting covers prod only"},
	})
	if err != nil {
		t.Fatalf("RunAssessment: %v", err)
	}
	if asm.Score != 50 {
		t.Errorf("score = %v, want 50", asm.Score)
	}
	if asm.Passed != 3 || asm.Failed != 2 || asm.Partial != 1 {
		t.Errorf("tallies = %d/%d/%d, want 3/2/1", asm.Passed, asm.Failed, asm.Partial)
	}
	if len(asm.GapIDs) != 3 {
		t.Fatalf("auto-recorded gaps = %d, want 3", len(asm.GapIDs))
	}

	// Failed controls record high-severity gaps, partial medium.
	first, err := g.Gap(asm.GapIDs[0])
	if err != nil {
		t.Fatalf("Gap: %v", err)
	}
	if first.Severity != severity.High || first.RiskScore != 0.8 {
		t.Errorf("failed-control gap = %+v", first)
	}
	partial, _ := g.Gap(asm.GapIDs[2])
	if partial.Severity != severity.Medium || partial.RiskScore != 0.6 {
		t.Errorf("partial-control gap = %+v", partial)
	}

	if _, err := g.RunAssessment("soc2", nil); err == nil {
		t.Error("expected error for empty control list")
	}
	if _, err := g.RunAssessment("soc2", []ControlResult{{Control: "x", Status: ControlStatus("skipped")}}); err == nil {
		t.Error("expected error for invalid control status")
	}
}

func TestRoadmapOrderingAndProgress(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewGapAnalyzer().WithClock(func() time.Time { return now })

	low, _ := g.RecordGap("pci_dss", "REQ-12.1", "stale policy doc", severity.Low)
	now = now.Add(time.Minute)
	critical, _ := g.RecordGap("pci_dss", "REQ-3.4", "PANs stored unencrypted", severity.Critical)
	now = now.Add(time.Minute)
	mediumA, _ := g.RecordGap("pci_dss", "REQ-8.2", "shared service accounts", severity.Medium)
	now = now.Add(time.Minute)
	mediumB, _ := g.RecordGap("pci_dss", "REQ-10.6", "log review gaps", severity.Medium)

	roadmap, err := g.CreateRoadmap("pci remediation", []string{low.ID, critical.ID, mediumA.ID, mediumB.ID})
	if err != nil {
		t.Fatalf("CreateRoadmap: %v", err)
	}

	// Descending risk; equal-risk gaps keep creation order.
	want := []string{critical.ID, mediumA.ID, mediumB.ID, low.ID}
	for i, id := range roadmap.GapIDs {
		if id != want[i] {
			t.Errorf("roadmap position %d = %s, want %s", i, id, want[i])
		}
	}

	got, err := g.Roadmap(roadmap.ID)
	if err != nil {
		t.Fatalf("Roadmap: %v", err)
	}
	if got.Progress != 0 {
		t.Errorf("initial progress = %v, want 0", got.Progress)
	}

	if err := g.UpdateGapStatus(critical.ID, GapRemediated); err != nil {
		t.Fatalf("UpdateGapStatus: %v", err)
	}
	if err := g.UpdateGapStatus(low.ID, GapAccepted); err != nil {
		t.Fatalf("UpdateGapStatus: %v", err)
	}

	got, _ = g.Roadmap(roadmap.ID)
	if got.Progress != 50 {
		t.Errorf("progress = %v, want 50", got.Progress)
	}

	if _, err := g.CreateRoadmap("", []string{low.ID}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := g.CreateRoadmap("x", nil); err == nil {
		t.Error("expected error for empty gap list")
	}
	if _, err := g.CreateRoadmap("x", []string{"cg_missing"}); !errors.Is(err, ErrGapNotFound) {
		t.Errorf("unknown gap error = %v, want ErrGapNotFound", err)
	}
	if _, err := g.Roadmap("rmp_missing"); !errors.Is(err, ErrRoadmapNotFound) {
		t.Errorf("unknown roadmap error = %v, want ErrRoadmapNotFound", err)
	}
}

func TestOpenGaps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewGapAnalyzer().WithClock(func() time.Time { return now })

	a, _ := g.RecordGap("gdpr", "A", "", severity.Medium)
	now = now.Add(time.Minute)
	b, _ := g.RecordGap("gdpr", "B", "", severity.Critical)
	now = now.Add(time.Minute)
	c, _ := g.RecordGap("gdpr", "C", "", severity.High)

	if err := g.UpdateGapStatus(a.ID, GapInProgress); err != nil {
		t.Fatalf("UpdateGapStatus: %v", err)
	}
	if err := g.UpdateGapStatus(c.ID, GapRemediated); err != nil {
		t.Fatalf("UpdateGapStatus: %v", err)
	}
	if err := g.UpdateGapStatus("cg_missing", GapOpen); !errors.Is(err, ErrGapNotFound) {
		t.Errorf("unknown gap error = %v, want ErrGapNotFound", err)
	}
	if err := g.UpdateGapStatus(a.ID, GapStatus("paused")); err == nil {
		t.Error("expected error for invalid status")
	}

	open := g.OpenGaps()
	if len(open) != 2 {
		t.Fatalf("open gaps = %d, want 2", len(open))
	}
	if open[0].ID != b.ID || open[1].ID != a.ID {
		t.Errorf("open order = %s, %s; want critical before in_progress medium", open[0].ID, open[1].ID)
	}

	stats := g.Stats()
	if stats["gaps"] != 3 || stats["roadmaps"] != 0 {
		t.Errorf("stats = %v", stats)
	}
}
