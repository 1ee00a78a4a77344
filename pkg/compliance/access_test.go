package compliance

import (
	"fmt"
	"testing"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func findingsOfType(review *AccessReview, findingType string) []AccessFinding {
	var out []AccessFinding
	for _, f := range review.Findings {
		if f.Type == findingType {
			out = append(out, f)
		}
	}
	return out
}

func TestRecordAccessValidation(t *testing.T) {
	a := NewAccessAuditor()
	if _, err := a.RecordAccess("", "vault", "read", true, ""); err == nil {
		t.Error("expected error for empty principal")
	}
	if _, err := a.RecordAccess("alice", "", "read", true, ""); err == nil {
		t.Error("expected error for empty resource")
	}
	if _, err := a.RecordAccess("alice", "vault", "", true, ""); err == nil {
		t.Error("expected error for empty action")
	}
	if _, err := a.ReviewAccess(0); err == nil {
		t.Error("expected error for zero review window")
	}
}

func TestExcessiveDenials(t *testing.T) {
	a := NewAccessAuditor()

	// 6 of 8 attempts denied: rate 0.75 clears the default 0.5 threshold.
	for i := 0; i < 6; i++ {
		mustRecord(t, a, "mallory", fmt.Sprintf("secrets/%d", i), "read", false, "no entitlement")
	}
	mustRecord(t, a, "mallory", "public/docs", "read", true, "")
	mustRecord(t, a, "mallory", "public/wiki", "read", true, "")

	// Below the five-event floor no finding fires even at 100% denial.
	mustRecord(t, a, "intern", "prod/db", "write", false, "change freeze")
	mustRecord(t, a, "intern", "prod/db", "write", false, "change freeze")

	review, err := a.ReviewAccess(100)
	if err != nil {
		t.Fatalf("ReviewAccess: %v", err)
	}
	if review.Reviewed != 10 {
		t.Errorf("reviewed = %d, want 10", review.Reviewed)
	}

	denials := findingsOfType(review, "excessive_denials")
	if len(denials) != 1 {
		t.Fatalf("excessive_denials findings = %d, want 1", len(denials))
	}
	f := denials[0]
	if f.Principal != "mallory" {
		t.Errorf("principal = %q, want mallory", f.Principal)
	}
	if f.Severity != severity.High {
		t.Errorf("severity = %q, want high", f.Severity)
	}
	if f.Measure != 0.75 {
		t.Errorf("measure = %v, want 0.75", f.Measure)
	}
}

func TestBroadAccess(t *testing.T) {
	a := NewAccessAuditor()
	for i := 0; i < 12; i++ {
		mustRecord(t, a, "crawler", fmt.Sprintf("service/%d", i), "read", true, "")
	}
	mustRecord(t, a, "focused", "service/0", "read", true, "")

	review, err := a.ReviewAccess(100)
	if err != nil {
		t.Fatalf("ReviewAccess: %v", err)
	}
	broad := findingsOfType(review, "broad_access")
	if len(broad) != 1 {
		t.Fatalf("broad_access findings = %d, want 1", len(broad))
	}
	if broad[0].Principal != "crawler" || broad[0].Severity != severity.Medium {
		t.Errorf("finding = %+v", broad[0])
	}
	if broad[0].Measure != 12 {
		t.Errorf("measure = %v, want 12", broad[0].Measure)
	}

	// A tighter span threshold flags the focused principal too.
	if err := a.SetThresholds(0.5, 1); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	review, _ = a.ReviewAccess(100)
	if len(findingsOfType(review, "broad_access")) != 1 {
		t.Error("single-resource principals should stay below a span of 1")
	}
}

func TestGrantAfterDenial(t *testing.T) {
	a := NewAccessAuditor()
	mustRecord(t, a, "bob", "hr/payroll", "read", false, "needs approval")
	mustRecord(t, a, "bob", "hr/payroll", "read", true, "approved")
	mustRecord(t, a, "bob", "hr/benefits", "read", true, "")

	review, err := a.ReviewAccess(100)
	if err != nil {
		t.Fatalf("ReviewAccess: %v", err)
	}
	flips := findingsOfType(review, "grant_after_denial")
	if len(flips) != 1 {
		t.Fatalf("grant_after_denial findings = %d, want 1", len(flips))
	}
	if flips[0].Severity != severity.Low {
		t.Errorf("severity = %q, want low", flips[0].Severity)
	}

	stored, err := a.Review(review.ID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if stored.ID != review.ID {
		t.Error("stored review mismatch")
	}
}

func TestReviewWindowScoping(t *testing.T) {
	a := NewAccessAuditor()
	// Old denials fall outside a tail window of 2.
	for i := 0; i < 6; i++ {
		mustRecord(t, a, "carol", "vault", "read", false, "")
	}
	mustRecord(t, a, "carol", "vault", "read", true, "")
	mustRecord(t, a, "carol", "wiki", "read", true, "")

	review, err := a.ReviewAccess(2)
	if err != nil {
		t.Fatalf("ReviewAccess: %v", err)
	}
	if review.Reviewed != 2 {
		t.Errorf("reviewed = %d, want 2", review.Reviewed)
	}
	if len(review.Findings) != 0 {
		t.Errorf("findings in clean tail = %+v", review.Findings)
	}
}

func TestPrincipalHistoryAndStats(t *testing.T) {
	a := NewAccessAuditor()
	for i := 0; i < 4; i++ {
		mustRecord(t, a, "dave", fmt.Sprintf("res/%d", i), "read", i%2 == 0, "")
	}
	mustRecord(t, a, "erin", "res/0", "read", true, "")

	history := a.PrincipalHistory("dave", 2)
	if len(history) != 2 {
		t.Fatalf("history = %d events, want 2", len(history))
	}
	if history[0].Resource != "res/2" || history[1].Resource != "res/3" {
		t.Errorf("history tail = %q, %q", history[0].Resource, history[1].Resource)
	}
	if len(a.PrincipalHistory("nobody", 10)) != 0 {
		t.Error("unknown principal should have no history")
	}

	stats := a.Stats()
	if stats["events"] != 5 || stats["denials"] != 2 {
		t.Errorf("stats = %v", stats)
	}
}

func mustRecord(t *testing.T, a *AccessAuditor, principal, resource, action string, granted bool, reason string) {
	t.Helper()
	if _, err := a.RecordAccess(principal, resource, action, granted, reason); err != nil {
		t.Fatalf("RecordAccess(%s, %s): %v", principal, resource, err)
	}
}
