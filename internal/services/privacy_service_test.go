package services

import (
	"testing"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/store"
)

func newPrivacyService(t *testing.T) (*PrivacyService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	svc := NewPrivacyService(st)
	svc.now = func() time.Time { return testNow }
	return svc, st
}

func therapistSharing() map[string]map[string]bool {
	return map[string]map[string]bool{
		models.CategoryMoodData:       {models.RecipientTherapist: true},
		models.CategoryAssessmentData: {models.RecipientTherapist: true},
	}
}

func TestSetPrivacyPreferences(t *testing.T) {
	svc, _ := newPrivacyService(t)
	p, err := svc.SetPrivacyPreferences("user-p1", "secret-p1", models.PrivacyPreferences{
		Sharing:            therapistSharing(),
		IdentityDisclosure: models.IdentityNone,
	})
	if err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	if p.Version != 1 || p.Commitment == "" {
		t.Fatalf("unexpected preferences %+v", p)
	}

	p2, err := svc.SetPrivacyPreferences("user-p1", "secret-p1", models.PrivacyPreferences{
		Sharing:            therapistSharing(),
		IdentityDisclosure: models.IdentityPartial,
	})
	if err != nil {
		t.Fatalf("SetPrivacyPreferences update: %v", err)
	}
	if p2.Version != 2 {
		t.Fatalf("expected version bump, got %d", p2.Version)
	}
	if p2.Commitment == p.Commitment {
		t.Fatal("different preferences committed identically")
	}

	if _, err := svc.SetPrivacyPreferences("user-p1", "secret-p1", models.PrivacyPreferences{
		Sharing: map[string]map[string]bool{"diary": {models.RecipientTherapist: true}},
	}); CodeOf(err) != ErrorValidation {
		t.Fatalf("unknown category accepted: %v", err)
	}
}

func TestDisclosureDeniedWithoutPreferences(t *testing.T) {
	svc, _ := newPrivacyService(t)
	_, err := svc.RequestSelectiveDisclosure("user-p2", "secret-p2", DisclosureRequest{
		Categories: []string{models.CategoryMoodData},
		Recipient:  models.RecipientTherapist,
		Purpose:    "treatment",
	})
	if CodeOf(err) != ErrorDisclosureNotPermitted {
		t.Fatalf("expected disclosure_not_permitted, got %v", err)
	}
}

func grantDisclosure(t *testing.T, svc *PrivacyService, user, secret string) *models.SelectiveDisclosure {
	t.Helper()
	if _, err := svc.SetPrivacyPreferences(user, secret, models.PrivacyPreferences{
		Sharing: therapistSharing(),
	}); err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	d, err := svc.RequestSelectiveDisclosure(user, secret, DisclosureRequest{
		Categories: []string{models.CategoryMoodData},
		Recipient:  models.RecipientTherapist,
		Purpose:    "treatment",
	})
	if err != nil {
		t.Fatalf("RequestSelectiveDisclosure: %v", err)
	}
	return d
}

func TestGrantThenAccess(t *testing.T) {
	svc, _ := newPrivacyService(t)
	d := grantDisclosure(t, svc, "user-p3", "secret-p3")
	if d.Status != models.DisclosureActive || !d.Revocable {
		t.Fatalf("unexpected disclosure %+v", d)
	}
	if !d.ExpiresAt.Equal(testNow.Add(DefaultDisclosureTTL)) {
		t.Fatalf("expected default TTL, got expiry %v", d.ExpiresAt)
	}
	// Minimum fields only under the default identity level.
	if got := d.DisclosedFields[models.CategoryMoodData]; len(got) != 2 {
		t.Fatalf("disclosed fields %v", got)
	}

	dec, err := svc.VerifyDataAccess("user-p3", []string{models.CategoryMoodData}, models.RecipientTherapist, "treatment")
	if err != nil {
		t.Fatalf("VerifyDataAccess: %v", err)
	}
	if !dec.Allowed || dec.DisclosureID != d.ID {
		t.Fatalf("expected allowed via %s, got %+v", d.ID, dec)
	}

	// Purpose, recipient and category sets must match exactly.
	for _, probe := range []struct {
		cats      []string
		recipient string
		purpose   string
	}{
		{[]string{models.CategoryMoodData}, models.RecipientTherapist, "research"},
		{[]string{models.CategoryMoodData}, models.RecipientResearcher, "treatment"},
		{[]string{models.CategoryMoodData, models.CategoryAssessmentData}, models.RecipientTherapist, "treatment"},
	} {
		dec, err := svc.VerifyDataAccess("user-p3", probe.cats, probe.recipient, probe.purpose)
		if err != nil {
			t.Fatalf("VerifyDataAccess: %v", err)
		}
		if dec.Allowed {
			t.Fatalf("access allowed for mismatched request %+v", probe)
		}
	}
}

func TestRevokeIsImmediate(t *testing.T) {
	svc, _ := newPrivacyService(t)
	d := grantDisclosure(t, svc, "user-p4", "secret-p4")

	if err := svc.RevokeConsent("user-p4", d.ID); err != nil {
		t.Fatalf("RevokeConsent: %v", err)
	}
	dec, err := svc.VerifyDataAccess("user-p4", []string{models.CategoryMoodData}, models.RecipientTherapist, "treatment")
	if err != nil {
		t.Fatalf("VerifyDataAccess: %v", err)
	}
	if dec.Allowed {
		t.Fatal("revoked disclosure still grants access")
	}
	if err := svc.RevokeConsent("user-p4", d.ID); CodeOf(err) != ErrorDisclosureExpiredOrRevoked {
		t.Fatalf("double revoke: %v", err)
	}
	if err := svc.RevokeConsent("user-p4", "no-such-id"); CodeOf(err) != ErrorNotFound {
		t.Fatalf("unknown disclosure: %v", err)
	}
}

func TestNonRevocableDisclosure(t *testing.T) {
	svc, _ := newPrivacyService(t)
	if _, err := svc.SetPrivacyPreferences("user-p5", "secret-p5", models.PrivacyPreferences{
		Sharing: therapistSharing(),
	}); err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	no := false
	d, err := svc.RequestSelectiveDisclosure("user-p5", "secret-p5", DisclosureRequest{
		Categories: []string{models.CategoryMoodData},
		Recipient:  models.RecipientTherapist,
		Purpose:    "treatment",
		Revocable:  &no,
	})
	if err != nil {
		t.Fatalf("RequestSelectiveDisclosure: %v", err)
	}
	if err := svc.RevokeConsent("user-p5", d.ID); CodeOf(err) != ErrorDisclosureNotPermitted {
		t.Fatalf("expected disclosure_not_permitted, got %v", err)
	}
}

func TestExpiryDeniesAndSweeps(t *testing.T) {
	svc, _ := newPrivacyService(t)
	d := grantDisclosure(t, svc, "user-p6", "secret-p6")

	// Advance past expiry: access must deny before any sweep runs.
	svc.now = func() time.Time { return testNow.Add(DefaultDisclosureTTL + time.Minute) }
	dec, err := svc.VerifyDataAccess("user-p6", []string{models.CategoryMoodData}, models.RecipientTherapist, "treatment")
	if err != nil {
		t.Fatalf("VerifyDataAccess: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expired disclosure still grants access")
	}

	swept, err := svc.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept disclosure, got %d", swept)
	}
	got, err := svc.store.GetDisclosure(d.ID)
	if err != nil {
		t.Fatalf("GetDisclosure: %v", err)
	}
	if got.Status != models.DisclosureExpired {
		t.Fatalf("expected expired status, got %q", got.Status)
	}
}

func TestRetentionCeilingClampsTTL(t *testing.T) {
	svc, _ := newPrivacyService(t)
	if _, err := svc.SetPrivacyPreferences("user-p7", "secret-p7", models.PrivacyPreferences{
		Sharing: map[string]map[string]bool{
			models.CategoryCrisisData: {models.RecipientEmergencyServices: true},
		},
	}); err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	d, err := svc.RequestSelectiveDisclosure("user-p7", "secret-p7", DisclosureRequest{
		Categories: []string{models.CategoryCrisisData},
		Recipient:  models.RecipientEmergencyServices,
		Purpose:    "crisis response",
		TTL:        90 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("RequestSelectiveDisclosure: %v", err)
	}
	if !d.ExpiresAt.Equal(testNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("crisis data TTL not clamped to 7 days: %v", d.ExpiresAt)
	}
}

func TestEmergencyAccessOptIn(t *testing.T) {
	svc, st := newPrivacyService(t)
	if _, err := svc.SetPrivacyPreferences("user-p8", "secret-p8", models.PrivacyPreferences{
		Sharing:                    therapistSharing(),
		CrisisInterventionOverride: true,
	}); err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	if err := st.AddEmergencyContact(&models.EmergencyContact{ID: "ec-1", UserCommitment: "user-p8", ConsentToContact: true}); err != nil {
		t.Fatalf("AddEmergencyContact: %v", err)
	}
	if err := st.AddEmergencyContact(&models.EmergencyContact{ID: "ec-2", UserCommitment: "user-p8"}); err != nil {
		t.Fatalf("AddEmergencyContact: %v", err)
	}

	profile, err := svc.EmergencyDataAccess("user-p8", "crisis-team", "active suicide risk", false)
	if err != nil {
		t.Fatalf("EmergencyDataAccess: %v", err)
	}
	if profile.PartialID != "user-p8" && len(profile.PartialID) != 8 {
		t.Fatalf("partial id %q", profile.PartialID)
	}
	if len(profile.ContactRefs) != 1 || profile.ContactRefs[0] != "ec-1" {
		t.Fatalf("non-consenting contact exposed: %v", profile.ContactRefs)
	}
	if !profile.RiskAssessmentRequired {
		t.Fatal("risk assessment flag missing")
	}
}

func TestEmergencyAccessDenied(t *testing.T) {
	svc, _ := newPrivacyService(t)
	if _, err := svc.SetPrivacyPreferences("user-p9", "secret-p9", models.PrivacyPreferences{
		Sharing: therapistSharing(),
	}); err != nil {
		t.Fatalf("SetPrivacyPreferences: %v", err)
	}
	_, err := svc.EmergencyDataAccess("user-p9", "crisis-team", "concern", false)
	if CodeOf(err) != ErrorEmergencyAccessDenied {
		t.Fatalf("expected emergency_access_denied, got %v", err)
	}
	// A legal requirement overrides the missing opt-in.
	if _, err := svc.EmergencyDataAccess("user-p9", "court", "court order 44-b", true); err != nil {
		t.Fatalf("legal-requirement access: %v", err)
	}

	entries, err := svc.AuditLog("user-p9")
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	var sawDenied, sawAccess bool
	for _, e := range entries {
		switch e.Action {
		case AuditEmergencyDenied:
			sawDenied = true
		case AuditEmergencyAccess:
			sawAccess = true
		}
	}
	if !sawDenied || !sawAccess {
		t.Fatalf("emergency decisions missing from audit: %+v", entries)
	}
}

func TestAuditChainCoversLifecycle(t *testing.T) {
	svc, _ := newPrivacyService(t)
	d := grantDisclosure(t, svc, "user-p10", "secret-p10")
	if _, err := svc.VerifyDataAccess("user-p10", []string{models.CategoryMoodData}, models.RecipientTherapist, "treatment"); err != nil {
		t.Fatalf("VerifyDataAccess: %v", err)
	}
	if err := svc.RevokeConsent("user-p10", d.ID); err != nil {
		t.Fatalf("RevokeConsent: %v", err)
	}
	if _, err := svc.VerifyDataAccess("user-p10", []string{models.CategoryMoodData}, models.RecipientTherapist, "treatment"); err != nil {
		t.Fatalf("VerifyDataAccess: %v", err)
	}

	entries, err := svc.AuditLog("user-p10")
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	wantActions := []string{AuditPreferencesSet, AuditConsentGrant, AuditAccessAllowed, AuditConsentRevoke, AuditAccessDenied}
	if len(entries) != len(wantActions) {
		t.Fatalf("expected %d entries, got %d", len(wantActions), len(entries))
	}
	for i, want := range wantActions {
		if entries[i].Action != want {
			t.Fatalf("entry %d action %q, want %q", i, entries[i].Action, want)
		}
	}
	if broken, err := svc.VerifyAuditChain("user-p10"); err != nil || broken != -1 {
		t.Fatalf("chain verification: broken=%d err=%v", broken, err)
	}
}
