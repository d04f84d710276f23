// Package models holds the shared record shapes of the privacy engine.
// Raw submissions (credentials, mood entries, crisis scales) exist only
// transiently; the stored variants below carry commitments, buckets and
// hashes instead of raw values, except for the seal-encrypted fields the
// owning user must read back.
package models

import "time"

// Data categories a user can selectively disclose.
const (
	CategoryMoodData         = "mood_data"
	CategoryAssessmentData   = "assessment_results"
	CategorySessionFeedback  = "session_feedback"
	CategoryCrisisData       = "crisis_data"
	CategoryCredentialStatus = "credential_status"
	CategoryContactInfo      = "contact_info"
)

// Recipient classes a disclosure can be granted to.
const (
	RecipientTherapist         = "therapist"
	RecipientPlatform          = "platform"
	RecipientResearcher        = "researcher"
	RecipientEmergencyServices = "emergency_services"
)

// Risk levels, ordered.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskImminent = "imminent"
)

// Education levels, ordinal.
const (
	EducationBachelors = "bachelors"
	EducationMasters   = "masters"
	EducationDoctorate = "doctorate"
)

// EducationRank maps an education level to its ordinal; unknown levels
// rank below bachelors so comparisons fail closed.
func EducationRank(level string) int {
	switch level {
	case EducationBachelors:
		return 1
	case EducationMasters:
		return 2
	case EducationDoctorate:
		return 3
	default:
		return 0
	}
}

// RiskRank orders risk levels for escalation logic.
func RiskRank(level string) int {
	switch level {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskImminent:
		return 4
	default:
		return 0
	}
}

// EscalateRisk returns the next tier up; imminent stays imminent.
func EscalateRisk(level string) string {
	switch level {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskImminent
	}
}

// Credential is the raw professional credential as submitted. It is
// never persisted; only StoredCredential derived from it is.
type Credential struct {
	LicenseType     string    `json:"license_type"`
	LicenseNumber   string    `json:"license_number"`
	Jurisdiction    string    `json:"jurisdiction"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Specializations []string  `json:"specializations"`
	EducationLevel  string    `json:"education_level"`
	YearsExperience int       `json:"years_experience"`
}

// StoredCredential is the anonymized, versioned credential record.
// Superseded versions are kept, never deleted.
type StoredCredential struct {
	Commitment   string    `json:"commitment"`
	OwnerKey     string    `json:"owner_key"`
	Nullifier    string    `json:"nullifier"`
	Version      int       `json:"version"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// VerificationCriteria are the verifier's public requirements.
type VerificationCriteria struct {
	MinimumYearsExperience  int      `json:"minimum_years_experience"`
	RequiredSpecializations []string `json:"required_specializations,omitempty"`
	RequireValidLicense     bool     `json:"require_valid_license"`
	MinimumEducation        string   `json:"minimum_education,omitempty"`
}

// VerificationResult records which criteria a proof satisfied. Immutable.
type VerificationResult struct {
	IsValid    bool            `json:"is_valid"`
	Criteria   map[string]bool `json:"criteria"`
	BadgeID    string          `json:"badge_id,omitempty"`
	VerifiedAt time.Time       `json:"verified_at"`
}

// AnonymousProfile is the public-facing professional profile. Only
// opt-in fields and coarse/boolean facts ever appear here.
type AnonymousProfile struct {
	BadgeID           string   `json:"badge_id"`
	DisplayName       string   `json:"display_name,omitempty"`
	Bio               string   `json:"bio,omitempty"`
	ExperienceRange   string   `json:"experience_range,omitempty"`
	Specializations   []string `json:"specializations,omitempty"`
	LicenseVerified   bool     `json:"license_verified"`
	EducationVerified bool     `json:"education_verified"`
}

// MoodEntry is the raw self-report. Never persisted as-is.
type MoodEntry struct {
	At              time.Time `json:"at"`
	Mood            int       `json:"mood"`
	Energy          int       `json:"energy"`
	Anxiety         int       `json:"anxiety"`
	SleepHours      float64   `json:"sleep_hours"`
	ExerciseMinutes int       `json:"exercise_minutes"`
	Tags            []string  `json:"tags,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// MoodPoint is the anonymized point kept in the rolling trend store.
// Scales stay as coarse 1-10 integers; tags and notes survive only as
// hashes.
type MoodPoint struct {
	At        time.Time `json:"at"`
	Mood      int       `json:"mood"`
	Energy    int       `json:"energy"`
	Anxiety   int       `json:"anxiety"`
	Category  string    `json:"category"`
	TagHashes []string  `json:"tag_hashes,omitempty"`
	NotesHash string    `json:"notes_hash,omitempty"`
}

// AssessmentRecord is the anonymized standardized-instrument result.
// Individual responses survive only as salted hashes.
type AssessmentRecord struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	At             time.Time `json:"at"`
	ResponseHashes []string  `json:"response_hashes"`
	TotalScore     int       `json:"total_score"`
	Severity       string    `json:"severity"`
	RiskLevel      string    `json:"risk_level"`
	Nullifier      string    `json:"nullifier"`
}

// Satisfaction and outcome buckets for session feedback.
const (
	SatisfactionLow    = "low"
	SatisfactionMedium = "medium"
	SatisfactionHigh   = "high"

	OutcomePoor      = "poor"
	OutcomeFair      = "fair"
	OutcomeGood      = "good"
	OutcomeExcellent = "excellent"
)

// SessionFeedback is the client-side anonymized session record.
type SessionFeedback struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	ClientCommitment    string    `json:"client_commitment"`
	TherapistCommitment string    `json:"therapist_commitment"`
	Satisfaction        string    `json:"satisfaction"`
	Outcome             string    `json:"outcome"`
	CategoryHashes      []string  `json:"category_hashes,omitempty"`
	At                  time.Time `json:"at"`
	Nullifier           string    `json:"nullifier"`
}

// TherapistOutcome is the therapist-side anonymized session record.
// Interventions come from the fixed taxonomy, so they are safe to keep
// verbatim.
type TherapistOutcome struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	TherapistCommitment string    `json:"therapist_commitment"`
	ClientCommitment    string    `json:"client_commitment"`
	Engagement          string    `json:"engagement"`
	Progress            string    `json:"progress"`
	Risk                string    `json:"risk"`
	Interventions       []string  `json:"interventions,omitempty"`
	At                  time.Time `json:"at"`
	Nullifier           string    `json:"nullifier"`
}

// Identity disclosure granularity for preferences.
const (
	IdentityNone         = "none"
	IdentityPseudonymous = "pseudonymous"
	IdentityPartial      = "partial"
	IdentityFull         = "full"
)

// PrivacyPreferences is the per-user sharing matrix. A superseding
// update replaces the active record.
type PrivacyPreferences struct {
	UserCommitment             string                     `json:"user_commitment"`
	Sharing                    map[string]map[string]bool `json:"sharing"`
	IdentityDisclosure         string                     `json:"identity_disclosure"`
	RetentionDays              int                        `json:"retention_days"`
	EncryptionTier             string                     `json:"encryption_tier"`
	CrisisInterventionOverride bool                       `json:"crisis_intervention_override"`
	Commitment                 string                     `json:"commitment"`
	Version                    int                        `json:"version"`
	UpdatedAt                  time.Time                  `json:"updated_at"`
}

// Allows reports whether the matrix permits sharing category with the
// recipient class. Missing entries deny.
func (p *PrivacyPreferences) Allows(category, recipient string) bool {
	if p == nil || p.Sharing == nil {
		return false
	}
	byRecipient, ok := p.Sharing[category]
	if !ok {
		return false
	}
	return byRecipient[recipient]
}

// Disclosure lifecycle states. Grants are created active; a permission
// check that fails never produces a record at all.
const (
	DisclosureActive  = "active"
	DisclosureExpired = "expired"
	DisclosureRevoked = "revoked"
)

// SelectiveDisclosure is a scoped, time-boxed, revocable grant.
type SelectiveDisclosure struct {
	ID              string              `json:"id"`
	UserCommitment  string              `json:"user_commitment"`
	Categories      []string            `json:"categories"`
	Recipient       string              `json:"recipient"`
	Purpose         string              `json:"purpose"`
	Status          string              `json:"status"`
	Revocable       bool                `json:"revocable"`
	DisclosedFields map[string][]string `json:"disclosed_fields"`
	ConsentProof    string              `json:"consent_proof"`
	CreatedAt       time.Time           `json:"created_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	RevokedAt       *time.Time          `json:"revoked_at,omitempty"`
}

// ActiveAt reports whether the grant is usable at t. Expired and revoked
// are indistinguishable from never-existed at access time.
func (d *SelectiveDisclosure) ActiveAt(t time.Time) bool {
	if d == nil || d.Status != DisclosureActive {
		return false
	}
	return t.Before(d.ExpiresAt)
}

// AuditEntry is one link of the per-user hash chain.
type AuditEntry struct {
	Seq      int       `json:"seq"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Note     string    `json:"note,omitempty"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// RiskFactors are the 1-10 crisis scales, weighted by severity.
type RiskFactors struct {
	SuicidalIdeation int `json:"suicidal_ideation"`
	SelfHarm         int `json:"self_harm"`
	Psychosis        int `json:"psychosis"`
	SubstanceUse     int `json:"substance_use"`
	ViolentIdeation  int `json:"violent_ideation"`
}

// ProtectiveFactors are the 1-10 scales that pull risk down.
type ProtectiveFactors struct {
	SocialSupport       int `json:"social_support"`
	CopingSkills        int `json:"coping_skills"`
	ReasonsForLiving    int `json:"reasons_for_living"`
	TreatmentEngagement int `json:"treatment_engagement"`
}

// CrisisAssessment is the raw crisis submission.
type CrisisAssessment struct {
	At            time.Time         `json:"at"`
	Risk          RiskFactors       `json:"risk"`
	Protective    ProtectiveFactors `json:"protective"`
	ImmediateRisk bool              `json:"immediate_risk"`
	Stressors     []string          `json:"stressors,omitempty"`
}

// CrisisRecord is the anonymized stored result.
type CrisisRecord struct {
	ID                 string    `json:"id"`
	At                 time.Time `json:"at"`
	RiskLevel          string    `json:"risk_level"`
	Score              float64   `json:"score"`
	ImmediateRisk      bool      `json:"immediate_risk"`
	StressorCategories []string  `json:"stressor_categories,omitempty"`
	Nullifier          string    `json:"nullifier"`
}

// Alert urgency and status.
const (
	UrgencyUrgent    = "urgent"
	UrgencyEmergency = "emergency"

	AlertActive    = "active"
	AlertEscalated = "escalated"
	AlertResolved  = "resolved"
)

// Intervention types, ordered by escalation.
const (
	InterventionSelfHelp          = "self_help"
	InterventionPeerSupport       = "peer_support"
	InterventionProfessional      = "professional"
	InterventionEmergencyServices = "emergency_services"
)

// CrisisAlert is raised when computed risk crosses the high threshold.
type CrisisAlert struct {
	ID                 string    `json:"id"`
	UserCommitment     string    `json:"user_commitment"`
	RiskLevel          string    `json:"risk_level"`
	ResponseUrgency    string    `json:"response_urgency"`
	Concerns           []string  `json:"concerns,omitempty"`
	ContactsCommitment string    `json:"contacts_commitment,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// CrisisIntervention escalates an alert to a response channel.
type CrisisIntervention struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Type      string    `json:"type"`
	Resources []string  `json:"resources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SafetyPlan keeps warning signs and triggers as hashes for aggregate
// research, and everything the user must read back seal-encrypted.
type SafetyPlan struct {
	ID                  string    `json:"id"`
	UserCommitment      string    `json:"user_commitment"`
	WarningSignHashes   []string  `json:"warning_sign_hashes,omitempty"`
	TriggerHashes       []string  `json:"trigger_hashes,omitempty"`
	CopingStrategiesEnc []string  `json:"coping_strategies_enc,omitempty"`
	SupportContactsEnc  []string  `json:"support_contacts_enc,omitempty"`
	EnvironmentPlanEnc  string    `json:"environment_plan_enc,omitempty"`
	Active              bool      `json:"active"`
	Version             int       `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
}

// EmergencyContact stores identity fields seal-encrypted; consent flags
// gate whether the contact may ever be notified.
type EmergencyContact struct {
	ID               string    `json:"id"`
	UserCommitment   string    `json:"user_commitment"`
	NameEnc          string    `json:"name_enc"`
	PhoneEnc         string    `json:"phone_enc,omitempty"`
	EmailEnc         string    `json:"email_enc,omitempty"`
	RelationshipEnc  string    `json:"relationship_enc,omitempty"`
	PreferredMethod  string    `json:"preferred_method,omitempty"`
	ConsentToContact bool      `json:"consent_to_contact"`
	EmergencyOnly    bool      `json:"emergency_only"`
	CreatedAt        time.Time `json:"created_at"`
}

// EmergencyProfile is the minimized payload returned by emergency data
// access: never full records.
type EmergencyProfile struct {
	PartialID              string   `json:"partial_id"`
	ContactRefs            []string `json:"contact_refs,omitempty"`
	RiskAssessmentRequired bool     `json:"risk_assessment_required"`
	Justification          string   `json:"justification"`
}
