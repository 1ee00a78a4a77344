package credential

import (
	"errors"
	"strings"
	"testing"
)

func TestStartVerificationValidation(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())

	if _, err := v.StartVerification("", "rt_1", "old", "new"); err == nil {
		t.Fatal("expected error for missing key id")
	}
	if _, err := v.StartVerification("ki_1", "rt_1", "", "new"); err == nil {
		t.Fatal("expected error for missing old prefix")
	}
	if _, err := v.StartVerification("ki_1", "rt_1", "old", ""); err == nil {
		t.Fatal("expected error for missing new prefix")
	}

	ver, err := v.StartVerification("ki_1", "rt_1", "oldprefix", "newprefix")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if ver.Status != VerificationPending {
		t.Errorf("Status = %s, want %s", ver.Status, VerificationPending)
	}
	if ver.KeyID != "ki_1" || ver.RotationID != "rt_1" {
		t.Errorf("verification bound to %s/%s, want ki_1/rt_1", ver.KeyID, ver.RotationID)
	}
	if !ver.StartedAt.Equal(fixedClock()()) {
		t.Error("StartedAt not taken from clock")
	}
}

func TestRunTestTransitions(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())
	ver, err := v.StartVerification("ki_1", "rt_1", "oldprefix", "newprefix")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}

	if _, err := v.RunTest("vl_missing", "connectivity", true, 12); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("err = %v, want ErrVerificationNotFound", err)
	}
	if _, err := v.RunTest(ver.ID, "smoke", true, 12); err == nil {
		t.Fatal("expected error for invalid test type")
	}

	test, err := v.RunTest(ver.ID, "connectivity", true, 12)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if test.Type != TestConnectivity || !test.Passed || test.ResponseTimeMS != 12 {
		t.Errorf("test = %+v, want passed connectivity in 12ms", test)
	}

	got, err := v.Verification(ver.ID)
	if err != nil {
		t.Fatalf("Verification: %v", err)
	}
	if got.Status != VerificationTesting {
		t.Errorf("Status = %s, want %s", got.Status, VerificationTesting)
	}
	if len(got.Tests) != 1 {
		t.Errorf("Tests = %d, want 1", len(got.Tests))
	}
}

func TestFullVerificationPasses(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())
	ver, err := v.StartVerification("ki_1", "rt_1", "oldprefix", "newprefix")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}

	if _, err := v.RunFullVerification(ver.ID, nil, false); err == nil {
		t.Fatal("expected error for empty result set")
	}

	got, err := v.RunFullVerification(ver.ID, []TestResult{
		{Type: "connectivity", Passed: true, ResponseTimeMS: 8},
		{Type: "authentication", Passed: true, ResponseTimeMS: 21},
		{Type: "functionality", Passed: true, ResponseTimeMS: 40},
	}, false)
	if err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}
	if got.Status != VerificationPassed {
		t.Errorf("Status = %s, want %s", got.Status, VerificationPassed)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if len(got.Tests) != 3 {
		t.Errorf("Tests = %d, want 3", len(got.Tests))
	}

	// Terminal verifications accept no further tests.
	if _, err := v.RunTest(ver.ID, "performance", true, 5); err == nil ||
		!strings.Contains(err.Error(), "accepts no further tests") {
		t.Fatalf("err = %v, want terminal state rejection", err)
	}
	if _, err := v.RollbackFor(ver.ID); err == nil {
		t.Fatal("passed verification should have no rollback")
	}
}

func TestFullVerificationFailsWithoutRollback(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())
	ver, err := v.StartVerification("ki_1", "rt_1", "oldprefix", "newprefix")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}

	got, err := v.RunFullVerification(ver.ID, []TestResult{
		{Type: "connectivity", Passed: true},
		{Type: "authentication", Passed: false},
	}, false)
	if err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}
	if got.Status != VerificationFailed {
		t.Errorf("Status = %s, want %s", got.Status, VerificationFailed)
	}
	if _, err := v.RollbackFor(ver.ID); err == nil {
		t.Fatal("rollback should not exist without autoRollback")
	}
}

func TestFullVerificationAutoRollback(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())
	ver, err := v.StartVerification("ki_1", "rt_1", "oldprefix", "newprefix")
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}

	got, err := v.RunFullVerification(ver.ID, []TestResult{
		{Type: "connectivity", Passed: true},
		{Type: "authentication", Passed: false},
	}, true)
	if err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}
	if got.Status != VerificationRolledBack {
		t.Errorf("Status = %s, want %s", got.Status, VerificationRolledBack)
	}

	rb, err := v.RollbackFor(ver.ID)
	if err != nil {
		t.Fatalf("RollbackFor: %v", err)
	}
	if rb.RestoredPrefix != "oldprefix" {
		t.Errorf("RestoredPrefix = %s, want oldprefix", rb.RestoredPrefix)
	}
	if rb.KeyID != "ki_1" || rb.VerificationID != ver.ID {
		t.Errorf("rollback bound to %s/%s, want ki_1/%s", rb.KeyID, rb.VerificationID, ver.ID)
	}
}

func TestVerifierStats(t *testing.T) {
	v := NewRotationVerifier().WithClock(fixedClock())

	pass, _ := v.StartVerification("ki_1", "rt_1", "a", "b")
	fail, _ := v.StartVerification("ki_2", "rt_2", "a", "b")
	roll, _ := v.StartVerification("ki_3", "rt_3", "a", "b")

	if _, err := v.RunFullVerification(pass.ID, []TestResult{{Type: "connectivity", Passed: true}}, false); err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}
	if _, err := v.RunFullVerification(fail.ID, []TestResult{{Type: "connectivity", Passed: false}}, false); err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}
	if _, err := v.RunFullVerification(roll.ID, []TestResult{{Type: "connectivity", Passed: false}}, true); err != nil {
		t.Fatalf("RunFullVerification: %v", err)
	}

	stats := v.Stats()
	if stats["verifications"] != 3 || stats["rollbacks"] != 1 {
		t.Errorf("Stats = %v, want 3 verifications, 1 rollback", stats)
	}
	if stats["passed"] != 1 || stats["failed"] != 1 || stats["rolled_back"] != 1 {
		t.Errorf("Stats = %v, want one of each outcome", stats)
	}

	if _, err := v.Verification("vl_missing"); !errors.Is(err, ErrVerificationNotFound) {
		t.Errorf("err = %v, want ErrVerificationNotFound", err)
	}
}
