package zk

import (
	"strings"
	"testing"
)

func TestCommitDeterministic(t *testing.T) {
	a, err := Commit("payload", "secret", "ctx")
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	b, err := Commit("payload", "secret", "ctx")
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if a != b {
		t.Fatalf("commitment not deterministic: %s vs %s", a, b)
	}
	if !IsDigest(a) {
		t.Fatalf("commitment is not a hex digest: %s", a)
	}
}

func TestCommitIndependence(t *testing.T) {
	seen := map[string]bool{}
	secrets := []string{"s1", "s2", "s3", "s4", "s5"}
	contexts := []string{"c1", "c2", "c3"}
	for _, s := range secrets {
		for _, c := range contexts {
			out, err := Commit("same-payload", s, c)
			if err != nil {
				t.Fatalf("Commit error: %v", err)
			}
			if seen[out] {
				t.Fatalf("collision for secret=%s context=%s", s, c)
			}
			seen[out] = true
		}
	}
}

func TestCommitRejectsEmptyInput(t *testing.T) {
	if _, err := Commit("", "secret", "ctx"); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for empty payload, got %v", err)
	}
	if _, err := Commit("payload", "", "ctx"); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for empty secret, got %v", err)
	}
	if _, err := Nullify("id", "", "ctx"); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for empty secret, got %v", err)
	}
}

func TestCommitDoesNotEmbedSecret(t *testing.T) {
	secret := "MARKER-SECRET-VALUE-123"
	out, err := Commit("MARKER-PAYLOAD", secret, "ctx")
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if strings.Contains(out, secret) || strings.Contains(out, "MARKER") {
		t.Fatalf("commitment leaks input: %s", out)
	}
}

func TestNullifierScoping(t *testing.T) {
	a, _ := Nullify("record-1", "secret", "mood")
	b, _ := Nullify("record-1", "secret", "assessment")
	c, _ := Nullify("record-1", "other-secret", "mood")
	if a == b || a == c || b == c {
		t.Fatalf("nullifiers should differ across contexts and secrets")
	}
}

func TestLengthPrefixNoConcatCollision(t *testing.T) {
	a := HashHex("ab", "c")
	b := HashHex("a", "bc")
	if a == b {
		t.Fatalf("length prefix failed to separate parts")
	}
}

func TestHashProverRoundTrip(t *testing.T) {
	hp := NewHashProver()
	com, _ := Commit("cred", "secret", "credential")
	nul, _ := Nullify("cred-1", "secret", "credential")
	p, err := hp.Prove(Statement{
		Commitment:    com,
		Nullifier:     nul,
		PublicSignals: map[string]string{"license_valid": "true"},
		Private:       "license-number-raw",
	})
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if err := hp.Verify(p); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestHashProverZeroValueUsable(t *testing.T) {
	hp := &HashProver{}
	com, _ := Commit("cred", "secret", "credential")
	p, err := hp.Prove(Statement{Commitment: com, PublicSignals: map[string]string{}, Private: "w"})
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Fatal("zero-value prover produced zero CreatedAt")
	}
	if err := hp.Verify(p); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestHashProverDetectsSignalTampering(t *testing.T) {
	hp := NewHashProver()
	com, _ := Commit("cred", "secret", "credential")
	p, err := hp.Prove(Statement{Commitment: com, PublicSignals: map[string]string{"license_valid": "false"}, Private: "w"})
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	p.PublicSignals["license_valid"] = "true"
	if err := hp.Verify(p); err == nil {
		t.Fatalf("expected tampered proof to fail verification")
	}
}

func TestHashProverNoWitnessLeak(t *testing.T) {
	hp := NewHashProver()
	com, _ := Commit("cred", "secret", "credential")
	p, err := hp.Prove(Statement{Commitment: com, PublicSignals: map[string]string{}, Private: "RAW-WITNESS-MARKER"})
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if strings.Contains(p.Payload, "RAW-WITNESS-MARKER") || strings.Contains(p.Binding, "RAW-WITNESS-MARKER") {
		t.Fatalf("witness leaked into proof")
	}
}
