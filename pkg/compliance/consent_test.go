package compliance

import (
	"errors"
	"testing"
	"time"
)

func TestConsentLifecycle(t *testing.T) {
	m := NewConsentManager().WithClock(fixedClock())

	purpose, err := m.RegisterPurpose("marketing_email", "promotional mailings", false)
	if err != nil {
		t.Fatalf("RegisterPurpose: %v", err)
	}

	consent, err := m.RecordConsent("user-1", purpose.ID, true)
	if err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if consent.State != ConsentGranted || consent.GrantedAt == nil {
		t.Fatalf("granted consent = %+v", consent)
	}

	withdrawn, err := m.Withdraw("user-1", purpose.ID)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if withdrawn.State != ConsentWithdrawn {
		t.Errorf("state after withdraw = %q", withdrawn.State)
	}

	// Withdrawal is only valid from granted.
	if _, err := m.Withdraw("user-1", purpose.ID); err == nil {
		t.Error("expected error withdrawing already-withdrawn consent")
	}

	// Re-consent replaces the withdrawn decision.
	again, err := m.RecordConsent("user-1", purpose.ID, true)
	if err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if again.State != ConsentGranted {
		t.Errorf("state after re-grant = %q", again.State)
	}

	history := m.History("user-1")
	if len(history) != 3 {
		t.Fatalf("history = %d events, want 3", len(history))
	}
	if history[0].To != ConsentGranted || history[1].To != ConsentWithdrawn || history[2].To != ConsentGranted {
		t.Errorf("transition trail = %+v", history)
	}
	if history[1].From != ConsentGranted {
		t.Errorf("withdraw transition from = %q, want granted", history[1].From)
	}
}

func TestWithdrawFromDenied(t *testing.T) {
	m := NewConsentManager()
	purpose, _ := m.RegisterPurpose("analytics", "", false)

	if _, err := m.RecordConsent("user-2", purpose.ID, false); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if _, err := m.Withdraw("user-2", purpose.ID); err == nil {
		t.Error("expected error withdrawing denied consent")
	}
	if _, err := m.Withdraw("stranger", purpose.ID); !errors.Is(err, ErrConsentNotFound) {
		t.Errorf("unknown pair error = %v, want ErrConsentNotFound", err)
	}
}

func TestConsentExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewConsentManager().WithClock(func() time.Time { return now })

	if err := m.SetValidity(-1); err == nil {
		t.Error("expected error for negative validity")
	}
	if err := m.SetValidity(30); err != nil {
		t.Fatalf("SetValidity: %v", err)
	}

	purpose, _ := m.RegisterPurpose("profiling", "", false)
	consent, err := m.RecordConsent("user-3", purpose.ID, true)
	if err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	if consent.ExpiresAt == nil {
		t.Fatal("granted consent has no expiry despite validity window")
	}
	wantExpiry := now.AddDate(0, 0, 30)
	if !consent.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expires at %v, want %v", consent.ExpiresAt, wantExpiry)
	}

	// Still within the window: nothing moves.
	now = now.AddDate(0, 0, 29)
	if moved := m.SweepExpired(); moved != 0 {
		t.Errorf("premature sweep moved %d consents", moved)
	}

	now = now.AddDate(0, 0, 2)
	if moved := m.SweepExpired(); moved != 1 {
		t.Errorf("sweep moved %d consents, want 1", moved)
	}

	check, err := m.CheckConsent("user-3", purpose.ID)
	if err != nil {
		t.Fatalf("CheckConsent: %v", err)
	}
	if check.Granted || check.State != ConsentExpired {
		t.Errorf("post-expiry check = %+v", check)
	}
}

func TestCheckConsent(t *testing.T) {
	m := NewConsentManager()
	purpose, _ := m.RegisterPurpose("support_contact", "", true)

	if _, err := m.CheckConsent("user-4", "pur_missing"); !errors.Is(err, ErrPurposeNotFound) {
		t.Errorf("unknown purpose error = %v, want ErrPurposeNotFound", err)
	}

	check, err := m.CheckConsent("user-4", purpose.ID)
	if err != nil {
		t.Fatalf("CheckConsent: %v", err)
	}
	if check.Exists || check.Granted {
		t.Errorf("missing consent check = %+v, want exists=false", check)
	}

	if _, err := m.RecordConsent("user-4", purpose.ID, true); err != nil {
		t.Fatalf("RecordConsent: %v", err)
	}
	check, _ = m.CheckConsent("user-4", purpose.ID)
	if !check.Exists || !check.Granted || check.State != ConsentGranted {
		t.Errorf("granted check = %+v", check)
	}

	if _, err := m.RecordConsent("", purpose.ID, true); err == nil {
		t.Error("expected error for empty user id")
	}
	if _, err := m.RecordConsent("user-4", "pur_missing", true); !errors.Is(err, ErrPurposeNotFound) {
		t.Errorf("unknown purpose error = %v, want ErrPurposeNotFound", err)
	}
}

func TestConsentStats(t *testing.T) {
	m := NewConsentManager()
	a, _ := m.RegisterPurpose("a", "", false)
	b, _ := m.RegisterPurpose("b", "", false)

	m.RecordConsent("u1", a.ID, true)
	m.RecordConsent("u1", b.ID, false)
	m.RecordConsent("u2", a.ID, true)
	m.Withdraw("u2", a.ID)

	stats := m.Stats()
	if stats["purposes"] != 2 {
		t.Errorf("purposes = %d, want 2", stats["purposes"])
	}
	if stats["consents"] != 3 {
		t.Errorf("consents = %d, want 3", stats["consents"])
	}
	if stats["granted"] != 2 {
		t.Errorf("granted = %d, want 2", stats["granted"])
	}
	if stats["withdrawn"] != 1 {
		t.Errorf("withdrawn = %d, want 1", stats["withdrawn"])
	}
	if stats["events"] != 4 {
		t.Errorf("events = %d, want 4", stats["events"])
	}
}
