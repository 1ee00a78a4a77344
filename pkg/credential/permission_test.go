package credential

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Veridian-Labs/aegis/pkg/severity"
)

func permFindingsOfType(review *PermissionReview, findingType string) []*PermissionFinding {
	var out []*PermissionFinding
	for _, f := range review.Findings {
		if f.Type == findingType {
			out = append(out, f)
		}
	}
	return out
}

func TestRecordScopeUseValidation(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	checker := NewPermissionChecker(inv).WithClock(fixedClock())

	if err := checker.RecordScopeUse("ki_missing", "read"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", []string{"read", "write"}, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if err := checker.RecordScopeUse(key.ID, ""); err == nil {
		t.Fatal("expected empty scope to be rejected")
	}
	if err := checker.RecordScopeUse(key.ID, "deploy"); err == nil {
		t.Fatal("expected ungranted scope to be rejected")
	}
	if err := checker.RecordScopeUse(key.ID, "read"); err != nil {
		t.Fatalf("RecordScopeUse: %v", err)
	}
}

func TestCheckPermissionsFindings(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	checker := NewPermissionChecker(inv).WithClock(fixedClock())

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments",
		[]string{"read", "write", "admin", "deploy"}, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if err := checker.RecordScopeUse(key.ID, "read"); err != nil {
		t.Fatalf("RecordScopeUse: %v", err)
	}

	review, err := checker.CheckPermissions(key.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	if review.TotalScopes != 4 {
		t.Fatalf("total scopes = %d, want 4", review.TotalScopes)
	}
	want := []string{"admin", "deploy", "write"}
	if len(review.UnusedScopes) != len(want) {
		t.Fatalf("unused = %v, want %v", review.UnusedScopes, want)
	}
	for i, scope := range want {
		if review.UnusedScopes[i] != scope {
			t.Fatalf("unused = %v, want %v", review.UnusedScopes, want)
		}
	}
	if !review.HasAdmin {
		t.Fatal("expected admin scope to be detected")
	}

	unused := permFindingsOfType(review, "unused_scopes")
	if len(unused) != 1 || unused[0].Severity != severity.Medium {
		t.Fatalf("unused_scopes findings = %+v, want one medium", unused)
	}
	admin := permFindingsOfType(review, "admin_scope")
	if len(admin) != 1 || admin[0].Severity != severity.High {
		t.Fatalf("admin_scope findings = %+v, want one high", admin)
	}
	if broad := permFindingsOfType(review, "broad_grant"); len(broad) != 0 {
		t.Fatalf("broad_grant findings = %+v, want none for 4 scopes", broad)
	}

	if _, err := checker.CheckPermissions("ki_missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestBroadGrantTiers(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	checker := NewPermissionChecker(inv).WithClock(fixedClock())

	scopesOf := func(n int) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, fmt.Sprintf("scope-%02d", i))
		}
		return out
	}
	useAll := func(keyID string, scopes []string) {
		for _, s := range scopes {
			if err := checker.RecordScopeUse(keyID, s); err != nil {
				t.Fatalf("RecordScopeUse: %v", err)
			}
		}
	}

	six := scopesOf(6)
	sixKey, err := inv.RegisterKey("six", KeyTypeAPIKey, "alice", "a", six, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	useAll(sixKey.ID, six)
	review, err := checker.CheckPermissions(sixKey.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	broad := permFindingsOfType(review, "broad_grant")
	if len(broad) != 1 || broad[0].Severity != severity.Low {
		t.Fatalf("six scopes: broad_grant = %+v, want one low", broad)
	}
	if len(review.Findings) != 1 {
		t.Fatalf("six scopes fully used: findings = %+v, want only broad_grant", review.Findings)
	}

	eleven := scopesOf(11)
	elevenKey, err := inv.RegisterKey("eleven", KeyTypeAPIKey, "alice", "a", eleven, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	useAll(elevenKey.ID, eleven)
	review, err = checker.CheckPermissions(elevenKey.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	broad = permFindingsOfType(review, "broad_grant")
	if len(broad) != 1 || broad[0].Severity != severity.Medium {
		t.Fatalf("eleven scopes: broad_grant = %+v, want one medium", broad)
	}

	bare, err := inv.RegisterKey("bare", KeyTypeAPIKey, "alice", "a", nil, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	review, err = checker.CheckPermissions(bare.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	if review.TotalScopes != 0 || len(review.Findings) != 0 {
		t.Fatalf("scopeless key: review = %+v, want no findings", review)
	}
}

func TestAdminMarkers(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	checker := NewPermissionChecker(inv).WithClock(fixedClock())

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments",
		[]string{"admin:iam", "read"}, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	review, err := checker.CheckPermissions(key.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	if !review.HasAdmin {
		t.Fatal("expected admin: prefixed scope to count as administrative")
	}

	if err := checker.SetAdminMarkers(nil); err == nil {
		t.Fatal("expected empty marker list to be rejected")
	}
	if err := checker.SetAdminMarkers([]string{"superuser"}); err != nil {
		t.Fatalf("SetAdminMarkers: %v", err)
	}

	super, err := inv.RegisterKey("legacy", KeyTypeAPIKey, "bob", "legacy",
		[]string{"superuser"}, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	review, err = checker.CheckPermissions(super.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	if !review.HasAdmin {
		t.Fatal("expected custom marker to count as administrative")
	}
}

func TestReviewLookupAndStats(t *testing.T) {
	inv := NewKeyInventory().WithClock(fixedClock())
	checker := NewPermissionChecker(inv).WithClock(fixedClock())

	key, err := inv.RegisterKey("svc-key", KeyTypeAPIKey, "alice", "payments", []string{"read", "write"}, 0)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if err := checker.RecordScopeUse(key.ID, "read"); err != nil {
		t.Fatalf("RecordScopeUse: %v", err)
	}
	review, err := checker.CheckPermissions(key.ID)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}

	got, err := checker.Review(review.ID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got.ID != review.ID {
		t.Fatalf("review id = %q, want %q", got.ID, review.ID)
	}
	if _, err := checker.Review("sc_missing"); err == nil {
		t.Fatal("expected unknown review to error")
	}

	stats := checker.Stats()
	if stats["reviews"] != 1 || stats["scope_uses"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}
