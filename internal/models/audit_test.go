package models

import (
	"testing"
	"time"
)

func chainOf(n int) []AuditEntry {
	entries := make([]AuditEntry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		e := AuditEntry{
			Seq:      i,
			At:       time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
			Actor:    "user",
			Action:   "consent_grant",
			Target:   "D1",
			PrevHash: prev,
		}
		e.Hash = ChainHash(e)
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChainIntact(t *testing.T) {
	entries := chainOf(5)
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Fatalf("entry %d not linked to predecessor", i)
		}
	}
	if broken := VerifyChain(entries); broken != -1 {
		t.Fatalf("expected intact chain, broken at %d", broken)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	entries := chainOf(5)
	entries[2].Note = "rewritten"
	if broken := VerifyChain(entries); broken != 2 {
		t.Fatalf("expected break at entry 2, got %d", broken)
	}
}

func TestVerifyChainDetectsRelink(t *testing.T) {
	entries := chainOf(3)
	entries[1].PrevHash = "0000"
	if broken := VerifyChain(entries); broken != 1 {
		t.Fatalf("expected break at entry 1, got %d", broken)
	}
}

func TestEducationRankOrder(t *testing.T) {
	if !(EducationRank(EducationBachelors) < EducationRank(EducationMasters) &&
		EducationRank(EducationMasters) < EducationRank(EducationDoctorate)) {
		t.Fatalf("education ordinal broken")
	}
	if EducationRank("diploma-mill") != 0 {
		t.Fatalf("unknown level must rank lowest")
	}
}

func TestDisclosureActiveAt(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	d := &SelectiveDisclosure{Status: DisclosureActive, ExpiresAt: now.Add(time.Hour)}
	if !d.ActiveAt(now) {
		t.Fatalf("expected active before expiry")
	}
	if d.ActiveAt(now.Add(2 * time.Hour)) {
		t.Fatalf("expected inactive after expiry")
	}
	d.Status = DisclosureRevoked
	if d.ActiveAt(now) {
		t.Fatalf("revoked must read as inactive")
	}
}
