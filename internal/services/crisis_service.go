package services

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/seal"
	"github.com/havenmh/haven/internal/zk"
)

const (
	ctxCrisis           = "crisis"
	ctxSafetyPlan       = "safety-plan"
	ctxEmergencyContact = "emergency-contact"
)

// Risk factor weights; the weighted sum is normalized by their total.
const (
	weightSuicidal  = 2.0
	weightSelfHarm  = 1.5
	weightPsychosis = 1.8
	weightSubstance = 1.3
	weightViolent   = 1.7

	protectiveWeight = 0.7
)

// Stressor categories insights may name; anything else becomes "other".
var knownStressors = map[string]bool{
	"financial": true, "relationship": true, "work": true, "health": true,
	"loss": true, "isolation": true, "substance": true, "legal": true, "housing": true,
}

// EmergencyNotifier delivers contact notifications. Implementations must
// be best-effort and non-blocking; the alert and intervention records
// commit regardless of delivery.
type EmergencyNotifier interface {
	NotifyEmergencyContact(contact *models.EmergencyContact, alert *models.CrisisAlert)
}

type CrisisStore interface {
	AppendCrisisRecord(userCommitment string, rec *models.CrisisRecord) error
	ListCrisisRecords(userCommitment string, from, to time.Time) ([]*models.CrisisRecord, error)
	ListAllCrisisRecords(from, to time.Time) ([]*models.CrisisRecord, error)
	AddCrisisAlert(a *models.CrisisAlert) error
	GetCrisisAlert(id string) (*models.CrisisAlert, error)
	SetCrisisAlertStatus(id, status string) error
	AddCrisisIntervention(iv *models.CrisisIntervention) error
	PutSafetyPlan(userCommitment string, plan *models.SafetyPlan) error
	GetActiveSafetyPlan(userCommitment string) (*models.SafetyPlan, error)
	AddEmergencyContact(c *models.EmergencyContact) error
	ListEmergencyContacts(userCommitment string) ([]*models.EmergencyContact, error)
	PutNullifier(nullifier string) (bool, error)
}

type CrisisService struct {
	store    CrisisStore
	cipher   seal.Cipher
	notifier EmergencyNotifier
	now      func() time.Time
	idGen    func() string
}

func NewCrisisService(store CrisisStore, cipher seal.Cipher, notifier EmergencyNotifier) *CrisisService {
	return &CrisisService{
		store:    store,
		cipher:   cipher,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return shortID(12) },
	}
}

// computeRiskLevel is the pure scoring function. Any internal failure is
// reported so the caller can escalate instead of failing open.
func computeRiskLevel(a models.CrisisAssessment) (level string, score float64, err error) {
	weightSum := weightSuicidal + weightSelfHarm + weightPsychosis + weightSubstance + weightViolent
	if weightSum <= 0 {
		return models.RiskLow, 0, fmt.Errorf("invalid weight configuration")
	}
	weighted := (weightSuicidal*float64(a.Risk.SuicidalIdeation) +
		weightSelfHarm*float64(a.Risk.SelfHarm) +
		weightPsychosis*float64(a.Risk.Psychosis) +
		weightSubstance*float64(a.Risk.SubstanceUse) +
		weightViolent*float64(a.Risk.ViolentIdeation)) / weightSum
	protective := (float64(a.Protective.SocialSupport) +
		float64(a.Protective.CopingSkills) +
		float64(a.Protective.ReasonsForLiving) +
		float64(a.Protective.TreatmentEngagement)) / 4
	score = weighted - protectiveWeight*protective

	// Immediate-risk and extreme ideation short-circuit the formula.
	switch {
	case a.ImmediateRisk || a.Risk.SuicidalIdeation >= 9 || score >= 8:
		return models.RiskImminent, score, nil
	case score >= 6:
		return models.RiskHigh, score, nil
	case score >= 4:
		return models.RiskMedium, score, nil
	default:
		return models.RiskLow, score, nil
	}
}

func validateCrisisAssessment(a models.CrisisAssessment) error {
	scales := map[string]int{
		"suicidal ideation":    a.Risk.SuicidalIdeation,
		"self harm":            a.Risk.SelfHarm,
		"psychosis":            a.Risk.Psychosis,
		"substance use":        a.Risk.SubstanceUse,
		"violent ideation":     a.Risk.ViolentIdeation,
		"social support":       a.Protective.SocialSupport,
		"coping skills":        a.Protective.CopingSkills,
		"reasons for living":   a.Protective.ReasonsForLiving,
		"treatment engagement": a.Protective.TreatmentEngagement,
	}
	for name, v := range scales {
		if v < 1 || v > 10 {
			return NewValidationError(fmt.Sprintf("%s must be between 1 and 10", name))
		}
	}
	return nil
}

// CrisisResult is what a submission returns: the anonymized record, the
// alert if one was raised, and care recommendations.
type CrisisResult struct {
	Record          *models.CrisisRecord `json:"record"`
	Alert           *models.CrisisAlert  `json:"alert,omitempty"`
	Recommendations []string             `json:"recommendations"`
}

// SubmitCrisisAssessment scores the assessment, stores the anonymized
// record and raises an alert when risk reaches high or imminent. A
// scoring failure escalates the level one tier rather than failing open.
func (s *CrisisService) SubmitCrisisAssessment(a models.CrisisAssessment, secret, userCommitment string) (*CrisisResult, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	if err := validateCrisisAssessment(a); err != nil {
		return nil, err
	}
	at := a.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	nullifier, err := zk.Nullify(fmt.Sprintf("%s|%d", userCommitment, at.UnixNano()), secret, ctxCrisis)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("crisis nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("assessment already recorded")
	}
	level, score, scoreErr := computeRiskLevel(a)
	if scoreErr != nil {
		slog.Error("risk computation failed, escalating", "error", scoreErr)
		level = models.EscalateRisk(level)
	}
	rec := &models.CrisisRecord{
		ID:                 s.idGen(),
		At:                 at,
		RiskLevel:          level,
		Score:              score,
		ImmediateRisk:      a.ImmediateRisk,
		StressorCategories: normalizeStressors(a.Stressors),
		Nullifier:          nullifier,
	}
	if err := s.store.AppendCrisisRecord(userCommitment, rec); err != nil {
		slog.Error("crisis record append failed", "error", err)
		return nil, NewInternalError()
	}
	result := &CrisisResult{Record: rec, Recommendations: recommendationsFor(level)}
	if models.RiskRank(level) >= models.RiskRank(models.RiskHigh) {
		alert, err := s.raiseAlert(userCommitment, level, a)
		if err != nil {
			return nil, err
		}
		result.Alert = alert
	}
	return result, nil
}

func (s *CrisisService) raiseAlert(userCommitment, level string, a models.CrisisAssessment) (*models.CrisisAlert, error) {
	urgency := models.UrgencyUrgent
	if level == models.RiskImminent {
		urgency = models.UrgencyEmergency
	}
	alert := &models.CrisisAlert{
		ID:              s.idGen(),
		UserCommitment:  userCommitment,
		RiskLevel:       level,
		ResponseUrgency: urgency,
		Concerns:        elevatedConcerns(a),
		Status:          models.AlertActive,
		CreatedAt:       s.now(),
	}
	contacts, err := s.store.ListEmergencyContacts(userCommitment)
	if err != nil {
		slog.Error("contact list failed", "error", err)
		return nil, NewInternalError()
	}
	if len(contacts) > 0 {
		alert.ContactsCommitment = zk.HashHex("emergency-contacts", userCommitment)
	}
	if err := s.store.AddCrisisAlert(alert); err != nil {
		slog.Error("alert insert failed", "error", err)
		return nil, NewInternalError()
	}
	return alert, nil
}

// elevatedConcerns names categories, never scale values.
func elevatedConcerns(a models.CrisisAssessment) []string {
	concerns := []string{}
	if a.Risk.SuicidalIdeation >= 7 {
		concerns = append(concerns, "suicidal_ideation")
	}
	if a.Risk.SelfHarm >= 7 {
		concerns = append(concerns, "self_harm")
	}
	if a.Risk.Psychosis >= 7 {
		concerns = append(concerns, "psychosis")
	}
	if a.Risk.SubstanceUse >= 7 {
		concerns = append(concerns, "substance_use")
	}
	if a.Risk.ViolentIdeation >= 7 {
		concerns = append(concerns, "violent_ideation")
	}
	if a.ImmediateRisk {
		concerns = append(concerns, "immediate_risk")
	}
	return concerns
}

func normalizeStressors(stressors []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, raw := range stressors {
		cat := strings.ToLower(strings.TrimSpace(raw))
		if !knownStressors[cat] {
			cat = "other"
		}
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

func recommendationsFor(level string) []string {
	switch level {
	case models.RiskLow:
		return []string{"continue_self_care", "keep_mood_tracking"}
	case models.RiskMedium:
		return []string{"schedule_session", "review_safety_plan", "reach_out_to_support"}
	case models.RiskHigh:
		return []string{"contact_therapist_today", "activate_safety_plan", "crisis_line_988"}
	default:
		return []string{"call_emergency_services", "crisis_line_988", "do_not_remain_alone"}
	}
}

// TriggerCrisisIntervention escalates an alert to a response channel.
// Emergency-services interventions notify consenting emergency contacts
// when the alert carries a contacts commitment; delivery is best-effort
// and never blocks the intervention write.
func (s *CrisisService) TriggerCrisisIntervention(alertID, interventionType string, resources []string) (*models.CrisisIntervention, error) {
	switch interventionType {
	case models.InterventionSelfHelp, models.InterventionPeerSupport,
		models.InterventionProfessional, models.InterventionEmergencyServices:
	default:
		return nil, NewValidationError("unknown intervention type")
	}
	alert, err := s.store.GetCrisisAlert(alertID)
	if err != nil {
		slog.Error("alert lookup failed", "error", err)
		return nil, NewInternalError()
	}
	if alert == nil {
		return nil, NewNotFoundError("alert not found")
	}
	iv := &models.CrisisIntervention{
		ID:        s.idGen(),
		AlertID:   alertID,
		Type:      interventionType,
		Resources: append([]string(nil), resources...),
		CreatedAt: s.now(),
	}
	if err := s.store.AddCrisisIntervention(iv); err != nil {
		slog.Error("intervention insert failed", "error", err)
		return nil, NewInternalError()
	}
	if err := s.store.SetCrisisAlertStatus(alertID, models.AlertEscalated); err != nil {
		slog.Error("alert status update failed", "error", err)
	}
	if interventionType == models.InterventionEmergencyServices && alert.ContactsCommitment != "" && s.notifier != nil {
		contacts, err := s.store.ListEmergencyContacts(alert.UserCommitment)
		if err != nil {
			slog.Error("contact list failed", "error", err)
		} else {
			for _, c := range contacts {
				if c.ConsentToContact {
					s.notifier.NotifyEmergencyContact(c, alert)
				}
			}
		}
	}
	return iv, nil
}

// SafetyPlanInput carries the raw plan; the recoverable fields are
// encrypted, warning signs and triggers only ever stored as hashes.
type SafetyPlanInput struct {
	WarningSigns     []string `json:"warning_signs,omitempty"`
	Triggers         []string `json:"triggers,omitempty"`
	CopingStrategies []string `json:"coping_strategies,omitempty"`
	SupportContacts  []string `json:"support_contacts,omitempty"`
	EnvironmentPlan  string   `json:"environment_plan,omitempty"`
}

// CreateSafetyPlan replaces the active plan; superseded plans are
// deactivated, never merged.
func (s *CrisisService) CreateSafetyPlan(in SafetyPlanInput, secret, userCommitment string) (*models.SafetyPlan, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	prev, err := s.store.GetActiveSafetyPlan(userCommitment)
	if err != nil {
		slog.Error("safety plan lookup failed", "error", err)
		return nil, NewInternalError()
	}
	plan := &models.SafetyPlan{
		ID:             s.idGen(),
		UserCommitment: userCommitment,
		Active:         true,
		Version:        1,
		CreatedAt:      s.now(),
	}
	if prev != nil {
		plan.Version = prev.Version + 1
	}
	for _, w := range in.WarningSigns {
		plan.WarningSignHashes = append(plan.WarningSignHashes, zk.HashHex("warning-sign", userCommitment, w))
	}
	for _, t := range in.Triggers {
		plan.TriggerHashes = append(plan.TriggerHashes, zk.HashHex("trigger", userCommitment, t))
	}
	if plan.CopingStrategiesEnc, err = seal.EncryptAll(s.cipher, in.CopingStrategies, secret, ctxSafetyPlan); err != nil {
		slog.Error("safety plan encryption failed", "error", err)
		return nil, NewInternalError()
	}
	if plan.SupportContactsEnc, err = seal.EncryptAll(s.cipher, in.SupportContacts, secret, ctxSafetyPlan); err != nil {
		slog.Error("safety plan encryption failed", "error", err)
		return nil, NewInternalError()
	}
	if in.EnvironmentPlan != "" {
		if plan.EnvironmentPlanEnc, err = s.cipher.Encrypt(in.EnvironmentPlan, secret, ctxSafetyPlan); err != nil {
			slog.Error("safety plan encryption failed", "error", err)
			return nil, NewInternalError()
		}
	}
	if err := s.store.PutSafetyPlan(userCommitment, plan); err != nil {
		slog.Error("safety plan store failed", "error", err)
		return nil, NewInternalError()
	}
	return plan, nil
}

// SafetyPlanView is the owner's decrypted read-back.
type SafetyPlanView struct {
	Version          int      `json:"version"`
	CopingStrategies []string `json:"coping_strategies,omitempty"`
	SupportContacts  []string `json:"support_contacts,omitempty"`
	EnvironmentPlan  string   `json:"environment_plan,omitempty"`
}

// ReadSafetyPlan decrypts the active plan for its owner. A wrong secret
// surfaces as an identity mismatch, not a partial plan.
func (s *CrisisService) ReadSafetyPlan(secret, userCommitment string) (*SafetyPlanView, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	plan, err := s.store.GetActiveSafetyPlan(userCommitment)
	if err != nil {
		slog.Error("safety plan lookup failed", "error", err)
		return nil, NewInternalError()
	}
	if plan == nil {
		return nil, NewNotFoundError("no active safety plan")
	}
	view := &SafetyPlanView{Version: plan.Version}
	if view.CopingStrategies, err = seal.DecryptAll(s.cipher, plan.CopingStrategiesEnc, secret, ctxSafetyPlan); err != nil {
		return nil, NewIdentityMismatchError("cannot decrypt safety plan")
	}
	if view.SupportContacts, err = seal.DecryptAll(s.cipher, plan.SupportContactsEnc, secret, ctxSafetyPlan); err != nil {
		return nil, NewIdentityMismatchError("cannot decrypt safety plan")
	}
	if plan.EnvironmentPlanEnc != "" {
		if view.EnvironmentPlan, err = s.cipher.Decrypt(plan.EnvironmentPlanEnc, secret, ctxSafetyPlan); err != nil {
			return nil, NewIdentityMismatchError("cannot decrypt safety plan")
		}
	}
	return view, nil
}

// EmergencyContactInput is the raw contact; identity fields are
// encrypted before storage.
type EmergencyContactInput struct {
	Name             string `json:"name"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	Relationship     string `json:"relationship,omitempty"`
	PreferredMethod  string `json:"preferred_method,omitempty"`
	ConsentToContact bool   `json:"consent_to_contact"`
	EmergencyOnly    bool   `json:"emergency_only"`
}

func (s *CrisisService) AddEmergencyContact(in EmergencyContactInput, secret, userCommitment string) (*models.EmergencyContact, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, NewInvalidInputError("contact name required")
	}
	c := &models.EmergencyContact{
		ID:               s.idGen(),
		UserCommitment:   userCommitment,
		PreferredMethod:  in.PreferredMethod,
		ConsentToContact: in.ConsentToContact,
		EmergencyOnly:    in.EmergencyOnly,
		CreatedAt:        s.now(),
	}
	var err error
	if c.NameEnc, err = s.cipher.Encrypt(in.Name, secret, ctxEmergencyContact); err != nil {
		slog.Error("contact encryption failed", "error", err)
		return nil, NewInternalError()
	}
	for _, field := range []struct {
		value string
		dst   *string
	}{
		{in.Phone, &c.PhoneEnc},
		{in.Email, &c.EmailEnc},
		{in.Relationship, &c.RelationshipEnc},
	} {
		if field.value == "" {
			continue
		}
		if *field.dst, err = s.cipher.Encrypt(field.value, secret, ctxEmergencyContact); err != nil {
			slog.Error("contact encryption failed", "error", err)
			return nil, NewInternalError()
		}
	}
	if err := s.store.AddEmergencyContact(c); err != nil {
		slog.Error("contact insert failed", "error", err)
		return nil, NewInternalError()
	}
	return c, nil
}

// CrisisInsights aggregates bucketed risk levels and categorical factor
// lists only; raw scale values never appear.
type CrisisInsights struct {
	Assessments       int            `json:"assessments"`
	RiskDistribution  map[string]int `json:"risk_distribution"`
	ImmediateRiskRate float64        `json:"immediate_risk_rate"`
	TopStressors      []string       `json:"top_stressors,omitempty"`
}

func (s *CrisisService) GenerateAnonymousInsights(from, to time.Time) (*CrisisInsights, error) {
	if to.IsZero() {
		to = s.now()
	}
	recs, err := s.store.ListAllCrisisRecords(from, to)
	if err != nil {
		slog.Error("crisis record list failed", "error", err)
		return nil, NewInternalError()
	}
	out := &CrisisInsights{Assessments: len(recs), RiskDistribution: map[string]int{}}
	immediate := 0
	stressorCounts := map[string]int{}
	for _, r := range recs {
		out.RiskDistribution[r.RiskLevel]++
		if r.ImmediateRisk {
			immediate++
		}
		for _, sc := range r.StressorCategories {
			stressorCounts[sc]++
		}
	}
	if len(recs) > 0 {
		out.ImmediateRiskRate = float64(immediate) / float64(len(recs))
	}
	type kv struct {
		name  string
		count int
	}
	ranked := make([]kv, 0, len(stressorCounts))
	for k, v := range stressorCounts {
		ranked = append(ranked, kv{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})
	for i, r := range ranked {
		if i == 3 {
			break
		}
		out.TopStressors = append(out.TopStressors, r.name)
	}
	return out, nil
}
