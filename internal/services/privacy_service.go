package services

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/zk"
)

const (
	ctxPreferences = "privacy-preferences"
	ctxConsent     = "consent"
)

// DefaultDisclosureTTL applies when a request does not override expiry.
const DefaultDisclosureTTL = 24 * time.Hour

// Audit actions recorded on the per-user chain.
const (
	AuditPreferencesSet    = "preferences_set"
	AuditConsentGrant      = "consent_grant"
	AuditConsentRevoke     = "consent_revoke"
	AuditAccessAllowed     = "access_allowed"
	AuditAccessDenied      = "access_denied"
	AuditEmergencyAccess   = "emergency_access"
	AuditEmergencyDenied   = "emergency_denied"
	AuditDisclosureExpired = "disclosure_expired"
)

type PrivacyStore interface {
	PutPreferences(p *models.PrivacyPreferences) error
	GetPreferences(userCommitment string) (*models.PrivacyPreferences, error)
	AddDisclosure(d *models.SelectiveDisclosure) error
	GetDisclosure(id string) (*models.SelectiveDisclosure, error)
	ListDisclosures(userCommitment string) ([]*models.SelectiveDisclosure, error)
	ListActiveDisclosures() ([]*models.SelectiveDisclosure, error)
	SetDisclosureStatus(id, status string, at time.Time) error
	AppendAudit(userCommitment string, e models.AuditEntry) (*models.AuditEntry, error)
	ListAudit(userCommitment string) ([]models.AuditEntry, error)
	ListEmergencyContacts(userCommitment string) ([]*models.EmergencyContact, error)
}

type PrivacyService struct {
	store PrivacyStore
	now   func() time.Time
	idGen func() string
}

func NewPrivacyService(store PrivacyStore) *PrivacyService {
	return &PrivacyService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// SetPrivacyPreferences replaces the active preference record. The
// commitment binds the matrix to the user's secret so later tampering is
// detectable.
func (s *PrivacyService) SetPrivacyPreferences(userCommitment, secret string, prefs models.PrivacyPreferences) (*models.PrivacyPreferences, error) {
	if userCommitment == "" || secret == "" {
		return nil, NewInvalidInputError("user commitment and secret required")
	}
	for cat := range prefs.Sharing {
		if _, ok := PolicyFor(cat); !ok {
			return nil, NewValidationError("unknown data category: " + cat)
		}
	}
	switch prefs.IdentityDisclosure {
	case "", models.IdentityNone, models.IdentityPseudonymous, models.IdentityPartial, models.IdentityFull:
	default:
		return nil, NewValidationError("unknown identity disclosure level")
	}
	prev, err := s.store.GetPreferences(userCommitment)
	if err != nil {
		slog.Error("preference lookup failed", "error", err)
		return nil, NewInternalError()
	}
	prefs.UserCommitment = userCommitment
	prefs.UpdatedAt = s.now()
	prefs.Version = 1
	if prev != nil {
		prefs.Version = prev.Version + 1
	}
	commitment, err := zk.Commit(canonicalPreferences(prefs), secret, ctxPreferences)
	if err != nil {
		return nil, NewInvalidInputError("cannot commit preferences")
	}
	prefs.Commitment = commitment
	if err := s.store.PutPreferences(&prefs); err != nil {
		slog.Error("preference store failed", "error", err)
		return nil, NewInternalError()
	}
	if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
		At: s.now(), Actor: "user", Action: AuditPreferencesSet, Target: commitment,
	}); err != nil {
		slog.Error("audit append failed", "error", err)
		return nil, NewInternalError()
	}
	return &prefs, nil
}

func canonicalPreferences(p models.PrivacyPreferences) string {
	cats := make([]string, 0, len(p.Sharing))
	for c := range p.Sharing {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var b strings.Builder
	for _, c := range cats {
		recipients := make([]string, 0, len(p.Sharing[c]))
		for r, allowed := range p.Sharing[c] {
			if allowed {
				recipients = append(recipients, r)
			}
		}
		sort.Strings(recipients)
		b.WriteString(c)
		b.WriteString("=")
		b.WriteString(strings.Join(recipients, ","))
		b.WriteString(";")
	}
	b.WriteString(p.IdentityDisclosure)
	return b.String()
}

// DisclosureRequest is the caller's ask for a new grant.
type DisclosureRequest struct {
	Categories []string      `json:"categories"`
	Recipient  string        `json:"recipient"`
	Purpose    string        `json:"purpose"`
	TTL        time.Duration `json:"ttl,omitempty"`
	Revocable  *bool         `json:"revocable,omitempty"`
}

// RequestSelectiveDisclosure checks the preference matrix first; on any
// mismatch it fails with DisclosureNotPermitted before any commitment is
// generated. On success it computes the consent proof, applies the
// minimization policy and registers an Active disclosure.
func (s *PrivacyService) RequestSelectiveDisclosure(userCommitment, secret string, req DisclosureRequest) (*models.SelectiveDisclosure, error) {
	if userCommitment == "" || secret == "" {
		return nil, NewInvalidInputError("user commitment and secret required")
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, NewInvalidInputError("purpose required")
	}
	prefs, err := s.store.GetPreferences(userCommitment)
	if err != nil {
		slog.Error("preference lookup failed", "error", err)
		return nil, NewInternalError()
	}
	if err := EvaluateDisclosure(prefs, req.Categories, req.Recipient); err != nil {
		return nil, err
	}
	now := s.now()
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultDisclosureTTL
	}
	ttl = ClampExpiry(req.Categories, ttl)
	expires := now.Add(ttl)
	cats := append([]string(nil), req.Categories...)
	sort.Strings(cats)
	consentProof, err := zk.Commit(
		strings.Join(cats, ",")+"|"+req.Recipient+"|"+req.Purpose+"|"+expires.Format(time.RFC3339),
		secret, ctxConsent,
	)
	if err != nil {
		return nil, NewInvalidInputError("cannot commit consent")
	}
	revocable := true
	if req.Revocable != nil {
		revocable = *req.Revocable
	}
	d := &models.SelectiveDisclosure{
		ID:              s.idGen(),
		UserCommitment:  userCommitment,
		Categories:      cats,
		Recipient:       req.Recipient,
		Purpose:         req.Purpose,
		Status:          models.DisclosureActive,
		Revocable:       revocable,
		DisclosedFields: SelectDisclosedFields(prefs, cats),
		ConsentProof:    consentProof,
		CreatedAt:       now,
		ExpiresAt:       expires,
	}
	if err := s.store.AddDisclosure(d); err != nil {
		slog.Error("disclosure store failed", "error", err)
		return nil, NewInternalError()
	}
	if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
		At: now, Actor: "user", Action: AuditConsentGrant, Target: d.ID,
		Note: req.Recipient + ":" + req.Purpose,
	}); err != nil {
		slog.Error("audit append failed", "error", err)
		return nil, NewInternalError()
	}
	return d, nil
}

// AccessDecision is the result of a data-access check.
type AccessDecision struct {
	Allowed         bool                `json:"allowed"`
	DisclosureID    string              `json:"disclosure_id,omitempty"`
	DisclosedFields map[string][]string `json:"disclosed_fields,omitempty"`
}

// VerifyDataAccess only allows access when a currently active disclosure
// exactly matches categories, recipient and purpose. Every check,
// allowed or denied, lands on the audit chain. Expired and revoked
// grants behave exactly like grants that never existed.
func (s *PrivacyService) VerifyDataAccess(userCommitment string, categories []string, requester, purpose string) (*AccessDecision, error) {
	if userCommitment == "" || requester == "" {
		return nil, NewInvalidInputError("user commitment and requester required")
	}
	disclosures, err := s.store.ListDisclosures(userCommitment)
	if err != nil {
		slog.Error("disclosure list failed", "error", err)
		return nil, NewInternalError()
	}
	now := s.now()
	want := append([]string(nil), categories...)
	sort.Strings(want)
	var match *models.SelectiveDisclosure
	for _, d := range disclosures {
		if d.ActiveAt(now) && d.Recipient == requester && d.Purpose == purpose && sameCategories(d.Categories, want) {
			match = d
			break
		}
	}
	decision := &AccessDecision{Allowed: match != nil}
	action := AuditAccessDenied
	target := requester
	if match != nil {
		decision.DisclosureID = match.ID
		decision.DisclosedFields = match.DisclosedFields
		action = AuditAccessAllowed
		target = match.ID
	}
	if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
		At: now, Actor: requester, Action: action, Target: target, Note: purpose,
	}); err != nil {
		slog.Error("audit append failed", "error", err)
		return nil, NewInternalError()
	}
	return decision, nil
}

func sameCategories(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RevokeConsent is immediate: any subsequent access check fails even if
// the expiry has not elapsed.
func (s *PrivacyService) RevokeConsent(userCommitment, disclosureID string) error {
	if userCommitment == "" || disclosureID == "" {
		return NewInvalidInputError("user commitment and disclosure id required")
	}
	d, err := s.store.GetDisclosure(disclosureID)
	if err != nil {
		slog.Error("disclosure lookup failed", "error", err)
		return NewInternalError()
	}
	if d == nil || d.UserCommitment != userCommitment {
		return NewNotFoundError("disclosure not found")
	}
	if !d.Revocable {
		return NewDisclosureNotPermittedError("disclosure is not revocable")
	}
	if d.Status != models.DisclosureActive {
		return NewDisclosureExpiredOrRevokedError("disclosure is no longer active")
	}
	now := s.now()
	if err := s.store.SetDisclosureStatus(disclosureID, models.DisclosureRevoked, now); err != nil {
		slog.Error("disclosure revoke failed", "error", err)
		return NewInternalError()
	}
	if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
		At: now, Actor: "user", Action: AuditConsentRevoke, Target: disclosureID,
	}); err != nil {
		slog.Error("audit append failed", "error", err)
		return NewInternalError()
	}
	return nil
}

// EmergencyDataAccess bypasses disclosure matching, but only when the
// user's preferences explicitly allow the crisis override or the
// requester asserts a legal requirement. The result is a minimized
// emergency profile, never full records, and every use is logged with
// its justification.
func (s *PrivacyService) EmergencyDataAccess(userCommitment, requester, justification string, legalRequirement bool) (*models.EmergencyProfile, error) {
	if userCommitment == "" || requester == "" {
		return nil, NewInvalidInputError("user commitment and requester required")
	}
	if strings.TrimSpace(justification) == "" {
		return nil, NewInvalidInputError("justification required")
	}
	prefs, err := s.store.GetPreferences(userCommitment)
	if err != nil {
		slog.Error("preference lookup failed", "error", err)
		return nil, NewInternalError()
	}
	allowed := legalRequirement || (prefs != nil && prefs.CrisisInterventionOverride)
	now := s.now()
	if !allowed {
		if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
			At: now, Actor: requester, Action: AuditEmergencyDenied, Note: justification,
		}); err != nil {
			slog.Error("audit append failed", "error", err)
		}
		return nil, NewEmergencyAccessDeniedError("user has not opted into emergency override")
	}
	contacts, err := s.store.ListEmergencyContacts(userCommitment)
	if err != nil {
		slog.Error("contact list failed", "error", err)
		return nil, NewInternalError()
	}
	profile := &models.EmergencyProfile{
		PartialID:              partialID(userCommitment),
		RiskAssessmentRequired: true,
		Justification:          justification,
	}
	for _, c := range contacts {
		if c.ConsentToContact {
			profile.ContactRefs = append(profile.ContactRefs, c.ID)
		}
	}
	if _, err := s.store.AppendAudit(userCommitment, models.AuditEntry{
		At: now, Actor: requester, Action: AuditEmergencyAccess, Note: justification,
	}); err != nil {
		slog.Error("audit append failed", "error", err)
		return nil, NewInternalError()
	}
	return profile, nil
}

// partialID keeps just enough of the commitment to correlate within one
// emergency flow.
func partialID(commitment string) string {
	if len(commitment) <= 8 {
		return commitment
	}
	return commitment[:8]
}

// AuditLog returns the user's chain.
func (s *PrivacyService) AuditLog(userCommitment string) ([]models.AuditEntry, error) {
	if userCommitment == "" {
		return nil, NewInvalidInputError("user commitment required")
	}
	entries, err := s.store.ListAudit(userCommitment)
	if err != nil {
		slog.Error("audit list failed", "error", err)
		return nil, NewInternalError()
	}
	return entries, nil
}

// VerifyAuditChain recomputes the chain and returns the index of the
// first broken entry, or -1 when intact.
func (s *PrivacyService) VerifyAuditChain(userCommitment string) (int, error) {
	entries, err := s.AuditLog(userCommitment)
	if err != nil {
		return 0, err
	}
	return models.VerifyChain(entries), nil
}

// SweepExpired marks overdue active disclosures as expired. Validity is
// recomputed at access time regardless; the sweep only keeps stored
// state tidy and the audit trail explicit.
func (s *PrivacyService) SweepExpired() (int, error) {
	active, err := s.store.ListActiveDisclosures()
	if err != nil {
		slog.Error("active disclosure list failed", "error", err)
		return 0, NewInternalError()
	}
	now := s.now()
	swept := 0
	for _, d := range active {
		if now.Before(d.ExpiresAt) {
			continue
		}
		if err := s.store.SetDisclosureStatus(d.ID, models.DisclosureExpired, now); err != nil {
			slog.Error("disclosure expire failed", "error", err, "disclosure", d.ID)
			continue
		}
		if _, err := s.store.AppendAudit(d.UserCommitment, models.AuditEntry{
			At: now, Actor: "system", Action: AuditDisclosureExpired, Target: d.ID,
		}); err != nil {
			slog.Error("audit append failed", "error", err)
		}
		swept++
	}
	return swept, nil
}
