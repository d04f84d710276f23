package zk

import (
	"errors"
	"sort"
	"time"
)

// Proof is the transport shape every component exchanges. PublicSignals
// carry only boolean/bucketed facts; the private witness never leaves the
// prover.
type Proof struct {
	Scheme        string            `json:"scheme"`
	Payload       string            `json:"payload"`
	Binding       string            `json:"binding"`
	Commitment    string            `json:"commitment"`
	Nullifier     string            `json:"nullifier"`
	PublicSignals map[string]string `json:"public_signals"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Statement is what a caller asks to be proven. Private is the witness;
// it is hashed into the payload and discarded.
type Statement struct {
	Commitment    string
	Nullifier     string
	PublicSignals map[string]string
	Private       string
}

// Prover generates proofs for statements. The default implementation is a
// structural placeholder; a succinct proof system can be substituted
// without touching the data model.
type Prover interface {
	Prove(st Statement) (*Proof, error)
}

// Verifier checks proofs. Implementations must fail closed: any malformed
// structure is an error, never a degraded pass.
type Verifier interface {
	Verify(p *Proof) error
}

// ErrProofInvalid is returned for any structurally or cryptographically
// unacceptable proof.
var ErrProofInvalid = errors.New("zk: proof invalid")

const hashScheme = "hash-v1"

// HashProver is the placeholder backend: the payload commits to the
// private witness, and the binding ties payload, commitment, nullifier and
// public signals together so that tampering with any of them is
// detectable on verify. The zero value is usable; now is injected only in
// tests.
type HashProver struct {
	now func() time.Time
}

func NewHashProver() *HashProver {
	return &HashProver{now: func() time.Time { return time.Now().UTC() }}
}

func (hp *HashProver) Prove(st Statement) (*Proof, error) {
	if st.Commitment == "" || st.Private == "" {
		return nil, ErrInvalidInput
	}
	signals := st.PublicSignals
	if signals == nil {
		signals = map[string]string{}
	}
	createdAt := time.Now().UTC()
	if hp.now != nil {
		createdAt = hp.now()
	}
	payload := HashHex("proof-payload", st.Commitment, HashHex("witness", st.Private))
	p := &Proof{
		Scheme:        hashScheme,
		Payload:       payload,
		Commitment:    st.Commitment,
		Nullifier:     st.Nullifier,
		PublicSignals: signals,
		CreatedAt:     createdAt,
	}
	p.Binding = bindProof(p)
	return p, nil
}

func (hp *HashProver) Verify(p *Proof) error {
	if p == nil || p.Scheme != hashScheme {
		return ErrProofInvalid
	}
	if !IsDigest(p.Payload) || !IsDigest(p.Commitment) {
		return ErrProofInvalid
	}
	if p.Nullifier != "" && !IsDigest(p.Nullifier) {
		return ErrProofInvalid
	}
	if p.PublicSignals == nil {
		return ErrProofInvalid
	}
	if bindProof(p) != p.Binding {
		return ErrProofInvalid
	}
	return nil
}

// bindProof hashes the public parts in a canonical signal order.
func bindProof(p *Proof) string {
	keys := make([]string, 0, len(p.PublicSignals))
	for k := range p.PublicSignals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{"proof-binding", p.Scheme, p.Payload, p.Commitment, p.Nullifier}
	for _, k := range keys {
		parts = append(parts, k, p.PublicSignals[k])
	}
	return HashHex(parts...)
}
