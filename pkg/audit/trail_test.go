package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTrailAppendChainsEntries(t *testing.T) {
	trail := NewTrail()
	ctx := context.Background()

	first, err := trail.Append(ctx, EventEthics, "detect_bias", "bds_0a1b2c3d", map[string]interface{}{"score": 0.42}, nil)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if first.PreviousHash != "genesis" {
		t.Errorf("first entry previous hash = %q, want genesis", first.PreviousHash)
	}
	if first.Sequence != 1 {
		t.Errorf("first entry sequence = %d, want 1", first.Sequence)
	}

	second, err := trail.Append(ctx, EventEthics, "evaluate_fairness", "fair_11223344", nil, nil)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if second.PreviousHash != first.EntryHash {
		t.Error("second entry not chained to first")
	}
	if trail.ChainHead() != second.EntryHash {
		t.Error("chain head not advanced")
	}
	if trail.Sequence() != 2 {
		t.Errorf("sequence = %d, want 2", trail.Sequence())
	}
}

func TestTrailVerifyChainDetectsTampering(t *testing.T) {
	trail := NewTrail()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := trail.Append(ctx, EventSystem, "sweep", "daemon", nil, nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := trail.VerifyChain(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}

	// Mutate an entry in place and expect verification to fail.
	trail.entries[2].Action = "tampered"
	if err := trail.VerifyChain(); err == nil {
		t.Error("expected chain verification to fail after tampering")
	}
}

func TestTrailRecordAttributesActor(t *testing.T) {
	trail := NewTrail()

	ctx := WithActor(context.Background(), "compliance-officer")
	if err := trail.Record(ctx, EventCompliance, "audit_compliance", "fw_gdpr", nil); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := trail.Record(context.Background(), EventCompliance, "audit_compliance", "fw_soc2", nil); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	entries := trail.Query(Filter{EventType: EventCompliance})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Actor != "compliance-officer" {
		t.Errorf("actor = %q, want compliance-officer", entries[0].Actor)
	}
	if entries[1].Actor != "system" {
		t.Errorf("actor = %q, want system default", entries[1].Actor)
	}
}

func TestTrailQueryFilters(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	trail := NewTrail().WithClock(func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	})
	ctx := context.Background()

	_, _ = trail.Append(ctx, EventCredential, "rotate_credential", "ki_1", nil, nil)
	_, _ = trail.Append(ctx, EventCredential, "revoke_credential", "ki_2", nil, nil)
	_, _ = trail.Append(ctx, EventIncident, "detect_incident", "inc_1", nil, nil)

	if got := len(trail.Query(Filter{EventType: EventCredential})); got != 2 {
		t.Errorf("credential entries = %d, want 2", got)
	}
	if got := len(trail.Query(Filter{Action: "detect_incident"})); got != 1 {
		t.Errorf("detect_incident entries = %d, want 1", got)
	}
	cutoff := base.Add(90 * time.Second)
	if got := len(trail.Query(Filter{StartTime: &cutoff})); got != 2 {
		t.Errorf("entries after cutoff = %d, want 2", got)
	}
	if got := len(trail.Query(Filter{MaxResults: 1})); got != 1 {
		t.Errorf("max results not honored, got %d", got)
	}
}

func TestTrailHandlersForwardEntries(t *testing.T) {
	trail := NewTrail()
	var forwarded []*Entry
	trail.Attach(func(e *Entry) { forwarded = append(forwarded, e) })

	_, _ = trail.Append(context.Background(), EventSystem, "startup", "daemon", nil, nil)
	_, _ = trail.Append(context.Background(), EventSystem, "shutdown", "daemon", nil, nil)

	if len(forwarded) != 2 {
		t.Fatalf("handler saw %d entries, want 2", len(forwarded))
	}
	if forwarded[1].Action != "shutdown" {
		t.Errorf("handler entry action = %q", forwarded[1].Action)
	}
}

func TestJSONLoggerWritesPrefixedRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), EventEthics, "generate_report", "rpt_1", map[string]interface{}{"period": "monthly"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "AUDIT: ") {
		t.Fatalf("missing AUDIT prefix: %q", line)
	}
	var event Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "AUDIT: ")), &event); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	if event.Action != "generate_report" || event.Type != EventEthics {
		t.Errorf("unexpected event %+v", event)
	}
}
