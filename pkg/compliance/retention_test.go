package compliance

import (
	"errors"
	"testing"
	"time"
)

func TestRetentionPolicyValidation(t *testing.T) {
	c := NewRetentionChecker()

	if _, err := c.AddPolicy("", "logs", 30, RetentionFixed, false); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := c.AddPolicy("logs", "logs", 0, RetentionFixed, false); err == nil {
		t.Error("expected error for zero retention days")
	}
	if _, err := c.AddPolicy("logs", "logs", 30, RetentionType("forever"), false); err == nil {
		t.Error("expected error for invalid retention type")
	}
	if _, err := c.AddPolicy("archives", "archives", 0, RetentionIndefinite, false); err != nil {
		t.Errorf("indefinite policy should not require days: %v", err)
	}
	if _, err := c.TrackRecord("rp_missing", "doc-1", time.Now()); !errors.Is(err, ErrRetentionPolicyNotFound) {
		t.Error("expected ErrRetentionPolicyNotFound")
	}
}

func TestLegalHoldPrecedence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewRetentionChecker().WithClock(func() time.Time { return now })

	pol, err := c.AddPolicy("short logs", "logs", 1, RetentionFixed, true)
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	rec, err := c.TrackRecord(pol.ID, "access-log-0501", now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("TrackRecord: %v", err)
	}

	check, err := c.CheckExpiration(rec.ID)
	if err != nil {
		t.Fatalf("CheckExpiration: %v", err)
	}
	if !check.Expired || check.AgeDays != 30 {
		t.Fatalf("pre-hold check = %+v, want expired at age 30", check)
	}

	hold, err := c.ApplyHold("case-2025-114", []string{rec.ID})
	if err != nil {
		t.Fatalf("ApplyHold: %v", err)
	}

	check, err = c.CheckExpiration(rec.ID)
	if err != nil {
		t.Fatalf("CheckExpiration: %v", err)
	}
	if check.Expired {
		t.Error("record under hold reported expired")
	}
	if !check.LegalHold {
		t.Error("hold flag not set")
	}

	// The hold also shields the record from the deletion sweep.
	sweep, err := c.AutoDeleteExpired()
	if err != nil {
		t.Fatalf("AutoDeleteExpired: %v", err)
	}
	if sweep.Deleted != 0 || sweep.Held != 1 {
		t.Errorf("sweep = %+v, want held 1 deleted 0", sweep)
	}

	if err := c.ReleaseHold(hold.ID); err != nil {
		t.Fatalf("ReleaseHold: %v", err)
	}
	if err := c.ReleaseHold(hold.ID); err == nil {
		t.Error("expected error on double release")
	}

	check, _ = c.CheckExpiration(rec.ID)
	if !check.Expired || check.LegalHold {
		t.Errorf("post-release check = %+v, want expired with no hold", check)
	}
}

func TestHoldValidation(t *testing.T) {
	c := NewRetentionChecker()
	pol, _ := c.AddPolicy("docs", "docs", 30, RetentionFixed, false)
	rec, _ := c.TrackRecord(pol.ID, "doc-1", time.Now())

	if _, err := c.ApplyHold("", []string{rec.ID}); err == nil {
		t.Error("expected error for empty case ref")
	}
	if _, err := c.ApplyHold("case-1", nil); err == nil {
		t.Error("expected error for empty record list")
	}
	if _, err := c.ApplyHold("case-1", []string{rec.ID, "rec_missing"}); !errors.Is(err, ErrRecordNotFound) {
		t.Error("expected ErrRecordNotFound for unknown record in hold")
	}
	if err := c.ReleaseHold("lh_missing"); !errors.Is(err, ErrHoldNotFound) {
		t.Error("expected ErrHoldNotFound")
	}
}

func TestAutoDeleteSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewRetentionChecker().WithClock(func() time.Time { return now })

	deletable, _ := c.AddPolicy("ephemeral", "logs", 7, RetentionFixed, true)
	manual, _ := c.AddPolicy("reviewed", "reports", 7, RetentionRegulatory, false)
	forever, _ := c.AddPolicy("archive", "archives", 0, RetentionIndefinite, true)

	expired, _ := c.TrackRecord(deletable.ID, "log-a", now.AddDate(0, 0, -10))
	fresh, _ := c.TrackRecord(deletable.ID, "log-b", now.AddDate(0, 0, -2))
	heldRec, _ := c.TrackRecord(deletable.ID, "log-c", now.AddDate(0, 0, -10))
	manualRec, _ := c.TrackRecord(manual.ID, "report-a", now.AddDate(0, 0, -10))
	foreverRec, _ := c.TrackRecord(forever.ID, "tape-a", now.AddDate(-5, 0, 0))

	if _, err := c.ApplyHold("case-9", []string{heldRec.ID}); err != nil {
		t.Fatalf("ApplyHold: %v", err)
	}

	sweep, err := c.AutoDeleteExpired()
	if err != nil {
		t.Fatalf("AutoDeleteExpired: %v", err)
	}
	if sweep.Scanned != 5 {
		t.Errorf("scanned = %d, want 5", sweep.Scanned)
	}
	if sweep.Deleted != 1 || sweep.Held != 1 {
		t.Errorf("sweep = %+v, want deleted 1 held 1", sweep)
	}
	if len(sweep.DeletedIDs) != 1 || sweep.DeletedIDs[0] != expired.ID {
		t.Errorf("deleted ids = %v, want [%s]", sweep.DeletedIDs, expired.ID)
	}

	// The deleted record stays resolvable as a tombstone.
	tomb, err := c.Record(expired.ID)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if tomb.Status != RecordDeleted || tomb.DeletedAt == nil {
		t.Errorf("tombstone = %+v", tomb)
	}

	for _, id := range []string{fresh.ID, heldRec.ID, manualRec.ID, foreverRec.ID} {
		rec, err := c.Record(id)
		if err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
		if rec.Status != RecordTracked {
			t.Errorf("record %s deleted, expected tracked", id)
		}
	}

	// A second sweep skips the tombstone entirely.
	sweep, _ = c.AutoDeleteExpired()
	if sweep.Scanned != 4 || sweep.Deleted != 0 {
		t.Errorf("second sweep = %+v, want scanned 4 deleted 0", sweep)
	}

	stats := c.Stats()
	if stats["policies"] != 3 || stats["records"] != 5 || stats["deleted"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestIndefiniteNeverExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewRetentionChecker().WithClock(func() time.Time { return now })

	pol, _ := c.AddPolicy("archive", "archives", 0, RetentionIndefinite, true)
	rec, _ := c.TrackRecord(pol.ID, "tape-1", now.AddDate(-20, 0, 0))

	check, err := c.CheckExpiration(rec.ID)
	if err != nil {
		t.Fatalf("CheckExpiration: %v", err)
	}
	if check.Expired {
		t.Error("indefinite record reported expired")
	}
	if check.AgeDays < 365*19 {
		t.Errorf("age days = %d, expected roughly twenty years", check.AgeDays)
	}
}
