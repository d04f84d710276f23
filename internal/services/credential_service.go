package services

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/zk"
)

const (
	ctxCredential       = "credential"
	ctxCredentialOwner  = "credential-owner"
	ctxCredentialUpdate = "credential-update"
)

// Public signal keys for credential proofs.
const (
	SignalExperienceMet      = "experience_met"
	SignalSpecializationsMet = "specializations_met"
	SignalLicenseValid       = "license_valid"
	SignalEducationMet       = "education_met"
)

var credentialSignalKeys = []string{
	SignalExperienceMet, SignalSpecializationsMet, SignalLicenseValid, SignalEducationMet,
}

type CredentialStore interface {
	InsertCredential(c *models.StoredCredential) error
	GetCredential(commitment string) (*models.StoredCredential, error)
	MarkCredentialSuperseded(oldCommitment, newCommitment string) error
	PutNullifier(nullifier string) (bool, error)
	AppendAudit(userCommitment string, e models.AuditEntry) (*models.AuditEntry, error)
}

type CredentialService struct {
	store    CredentialStore
	prover   zk.Prover
	verifier zk.Verifier
	now      func() time.Time
}

func NewCredentialService(store CredentialStore, prover zk.Prover, verifier zk.Verifier) *CredentialService {
	return &CredentialService{
		store:    store,
		prover:   prover,
		verifier: verifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProfilePrefs are the professional's opt-in choices for the public
// profile. Values here are chosen by the owner, not derived from the
// raw credential.
type ProfilePrefs struct {
	ShowDisplayName     bool     `json:"show_display_name"`
	DisplayName         string   `json:"display_name,omitempty"`
	ShowBio             bool     `json:"show_bio"`
	Bio                 string   `json:"bio,omitempty"`
	ShowExperience      bool     `json:"show_experience"`
	YearsExperience     int      `json:"years_experience,omitempty"`
	ShowSpecializations bool     `json:"show_specializations"`
	Specializations     []string `json:"specializations,omitempty"`
}

// canonicalCredential flattens a credential into a stable payload string
// for commitment. Specializations are sorted so submission order does
// not change the commitment.
func canonicalCredential(c models.Credential) string {
	specs := append([]string(nil), c.Specializations...)
	sort.Strings(specs)
	return strings.Join([]string{
		c.LicenseType,
		c.LicenseNumber,
		c.Jurisdiction,
		c.IssuedAt.UTC().Format(time.RFC3339),
		c.ExpiresAt.UTC().Format(time.RFC3339),
		strings.Join(specs, ","),
		c.EducationLevel,
		strconv.Itoa(c.YearsExperience),
	}, "|")
}

func validateCredential(c models.Credential) error {
	if strings.TrimSpace(c.LicenseNumber) == "" || strings.TrimSpace(c.LicenseType) == "" {
		return NewInvalidInputError("license type and number required")
	}
	if c.YearsExperience < 0 {
		return NewValidationError("years of experience cannot be negative")
	}
	if c.EducationLevel != "" && models.EducationRank(c.EducationLevel) == 0 {
		return NewValidationError("unknown education level")
	}
	if !c.ExpiresAt.After(c.IssuedAt) {
		return NewValidationError("license expiry must be after issue date")
	}
	return nil
}

func (s *CredentialService) evaluateCriteria(c models.Credential, criteria models.VerificationCriteria) map[string]string {
	now := s.now()
	met := map[string]bool{
		SignalExperienceMet:      c.YearsExperience >= criteria.MinimumYearsExperience,
		SignalLicenseValid:       !criteria.RequireValidLicense || c.ExpiresAt.After(now),
		SignalEducationMet:       criteria.MinimumEducation == "" || models.EducationRank(c.EducationLevel) >= models.EducationRank(criteria.MinimumEducation),
		SignalSpecializationsMet: true,
	}
	have := map[string]bool{}
	for _, sp := range c.Specializations {
		have[strings.ToLower(strings.TrimSpace(sp))] = true
	}
	for _, want := range criteria.RequiredSpecializations {
		if !have[strings.ToLower(strings.TrimSpace(want))] {
			met[SignalSpecializationsMet] = false
			break
		}
	}
	signals := make(map[string]string, len(met))
	for k, v := range met {
		signals[k] = strconv.FormatBool(v)
	}
	return signals
}

// GenerateProof registers the credential commitment and produces a proof
// whose public signals carry only boolean criteria satisfaction. The raw
// license number and dates never leave this function.
func (s *CredentialService) GenerateProof(cred models.Credential, secret string, criteria models.VerificationCriteria) (*zk.Proof, error) {
	if secret == "" {
		return nil, NewInvalidInputError("secret required")
	}
	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	payload := canonicalCredential(cred)
	commitment, err := zk.Commit(payload, secret, ctxCredential)
	if err != nil {
		return nil, NewInvalidInputError("cannot commit credential")
	}
	ownerKey, err := zk.Commit("owner", secret, ctxCredentialOwner)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive owner key")
	}
	nullifier, err := zk.Nullify(commitment, secret, ctxCredential)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("credential nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("credential already submitted")
	}
	proof, err := s.prover.Prove(zk.Statement{
		Commitment:    commitment,
		Nullifier:     nullifier,
		PublicSignals: s.evaluateCriteria(cred, criteria),
		Private:       payload,
	})
	if err != nil {
		slog.Error("credential proof generation failed", "error", err)
		return nil, NewInternalError()
	}
	rec := &models.StoredCredential{
		Commitment: commitment,
		OwnerKey:   ownerKey,
		Nullifier:  nullifier,
		Version:    1,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertCredential(rec); err != nil {
		slog.Error("credential insert failed", "error", err)
		return nil, NewInternalError()
	}
	if _, err := s.store.AppendAudit(ownerKey, models.AuditEntry{
		At: s.now(), Actor: "professional", Action: "credential_submit", Target: commitment,
	}); err != nil {
		slog.Error("credential audit append failed", "error", err)
	}
	return proof, nil
}

// VerifyProof checks a proof against the verifier's request. It fails
// closed: malformed structure, missing signals or unmet criteria all
// yield IsValid=false with no partial credit.
func (s *CredentialService) VerifyProof(proof *zk.Proof, criteria models.VerificationCriteria) (*models.VerificationResult, error) {
	result := &models.VerificationResult{Criteria: map[string]bool{}, VerifiedAt: s.now()}
	if proof == nil {
		return result, nil
	}
	if err := s.verifier.Verify(proof); err != nil {
		return result, nil
	}
	if len(proof.PublicSignals) != len(credentialSignalKeys) {
		return result, nil
	}
	allMet := true
	for _, key := range credentialSignalKeys {
		v, ok := proof.PublicSignals[key]
		if !ok {
			return &models.VerificationResult{Criteria: map[string]bool{}, VerifiedAt: s.now()}, nil
		}
		met := v == "true"
		result.Criteria[key] = met
		if !met {
			allMet = false
		}
	}
	if rec, err := s.store.GetCredential(proof.Commitment); err != nil || rec == nil || rec.SupersededBy != "" {
		allMet = false
	}
	result.IsValid = allMet
	if allMet {
		result.BadgeID = zk.HashHex("badge", proof.Commitment)
	}
	return result, nil
}

// GenerateAnonymousProfile builds the public-facing profile from opt-in
// fields only. Experience appears as a coarse range, never the raw count.
func (s *CredentialService) GenerateAnonymousProfile(proof *zk.Proof, prefs ProfilePrefs) (*models.AnonymousProfile, error) {
	if proof == nil {
		return nil, NewInvalidInputError("proof required")
	}
	if err := s.verifier.Verify(proof); err != nil {
		return nil, NewProofInvalidError("cannot build profile from invalid proof")
	}
	p := &models.AnonymousProfile{
		BadgeID:           zk.HashHex("badge", proof.Commitment),
		LicenseVerified:   proof.PublicSignals[SignalLicenseValid] == "true",
		EducationVerified: proof.PublicSignals[SignalEducationMet] == "true",
	}
	if prefs.ShowDisplayName {
		p.DisplayName = prefs.DisplayName
	}
	if prefs.ShowBio {
		p.Bio = prefs.Bio
	}
	if prefs.ShowExperience {
		p.ExperienceRange = experienceRange(prefs.YearsExperience)
	}
	if prefs.ShowSpecializations {
		p.Specializations = append([]string(nil), prefs.Specializations...)
	}
	return p, nil
}

func experienceRange(years int) string {
	switch {
	case years < 3:
		return "0-2 years"
	case years < 6:
		return "3-5 years"
	case years < 11:
		return "6-10 years"
	default:
		return "10+ years"
	}
}

// UpdateCredential supersedes an existing credential. The caller must
// hold the same secret that produced the old commitment; otherwise the
// update is an impersonation attempt and is rejected.
func (s *CredentialService) UpdateCredential(oldCommitment string, cred models.Credential, secret string, criteria models.VerificationCriteria) (*zk.Proof, error) {
	if secret == "" {
		return nil, NewInvalidInputError("secret required")
	}
	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	old, err := s.store.GetCredential(oldCommitment)
	if err != nil {
		slog.Error("credential lookup failed", "error", err)
		return nil, NewInternalError()
	}
	if old == nil {
		return nil, NewNotFoundError("credential not found")
	}
	ownerKey, err := zk.Commit("owner", secret, ctxCredentialOwner)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive owner key")
	}
	if ownerKey != old.OwnerKey {
		return nil, NewIdentityMismatchError("credential is owned by a different secret")
	}
	if old.SupersededBy != "" {
		return nil, NewValidationError("credential already superseded")
	}
	payload := canonicalCredential(cred)
	newCommitment, err := zk.Commit(payload, secret, ctxCredential)
	if err != nil {
		return nil, NewInvalidInputError("cannot commit credential")
	}
	updateNullifier, err := zk.Nullify(oldCommitment, secret, ctxCredentialUpdate)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive update nullifier")
	}
	fresh, err := s.store.PutNullifier(updateNullifier)
	if err != nil {
		slog.Error("update nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("credential update already applied")
	}
	proof, err := s.prover.Prove(zk.Statement{
		Commitment:    newCommitment,
		Nullifier:     updateNullifier,
		PublicSignals: s.evaluateCriteria(cred, criteria),
		Private:       payload,
	})
	if err != nil {
		slog.Error("credential proof generation failed", "error", err)
		return nil, NewInternalError()
	}
	rec := &models.StoredCredential{
		Commitment: newCommitment,
		OwnerKey:   ownerKey,
		Nullifier:  updateNullifier,
		Version:    old.Version + 1,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertCredential(rec); err != nil {
		slog.Error("credential insert failed", "error", err)
		return nil, NewInternalError()
	}
	if err := s.store.MarkCredentialSuperseded(oldCommitment, newCommitment); err != nil {
		slog.Error("credential supersede failed", "error", err)
		return nil, NewInternalError()
	}
	if _, err := s.store.AppendAudit(ownerKey, models.AuditEntry{
		At: s.now(), Actor: "professional", Action: "credential_update",
		Target: newCommitment, Note: fmt.Sprintf("supersedes v%d", old.Version),
	}); err != nil {
		slog.Error("credential audit append failed", "error", err)
	}
	return proof, nil
}
