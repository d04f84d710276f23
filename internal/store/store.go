// Package store provides the persistence backends for the privacy
// engine. Every record is keyed by user commitment; plaintext clinical
// data never reaches a backend. Three implementations exist: in-memory,
// SQLite and Postgres.
package store

import (
	"time"

	"github.com/havenmh/haven/internal/models"
)

// Store is the full persistence surface. Services consume narrow
// per-service subsets of it; the concrete backends implement all of it.
//
// Concurrency contract: PutNullifier is an atomic insert-if-absent, and
// AppendAudit serializes per user so each entry references exactly one
// predecessor. Operations on different users never block each other
// beyond short-lived map locks.
type Store interface {
	// Credentials. Records are versioned and superseded, never deleted.
	InsertCredential(c *models.StoredCredential) error
	GetCredential(commitment string) (*models.StoredCredential, error)
	MarkCredentialSuperseded(oldCommitment, newCommitment string) error

	// Mood rolling store.
	AppendMoodPoint(userCommitment string, p *models.MoodPoint) error
	ListMoodPoints(userCommitment string, from, to time.Time) ([]*models.MoodPoint, error)

	// Assessments.
	AppendAssessment(userCommitment string, rec *models.AssessmentRecord) error
	ListAssessments(userCommitment string, from, to time.Time) ([]*models.AssessmentRecord, error)

	// Session feedback and outcomes.
	AddSessionFeedback(f *models.SessionFeedback) error
	AddTherapistOutcome(o *models.TherapistOutcome) error
	ListFeedbackByTherapist(therapistCommitment string, from, to time.Time) ([]*models.SessionFeedback, error)
	ListOutcomesByTherapist(therapistCommitment string, from, to time.Time) ([]*models.TherapistOutcome, error)
	ListAllFeedback(from, to time.Time) ([]*models.SessionFeedback, error)
	ListAllOutcomes(from, to time.Time) ([]*models.TherapistOutcome, error)

	// Privacy preferences and disclosures.
	PutPreferences(p *models.PrivacyPreferences) error
	GetPreferences(userCommitment string) (*models.PrivacyPreferences, error)
	AddDisclosure(d *models.SelectiveDisclosure) error
	GetDisclosure(id string) (*models.SelectiveDisclosure, error)
	ListDisclosures(userCommitment string) ([]*models.SelectiveDisclosure, error)
	ListActiveDisclosures() ([]*models.SelectiveDisclosure, error)
	SetDisclosureStatus(id, status string, at time.Time) error

	// Audit chain.
	AppendAudit(userCommitment string, e models.AuditEntry) (*models.AuditEntry, error)
	ListAudit(userCommitment string) ([]models.AuditEntry, error)

	// Crisis safety.
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

	// Global nullifier set; returns false when the nullifier was already
	// seen.
	PutNullifier(nullifier string) (bool, error)

	Close() error
}

func within(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && at.After(to) {
		return false
	}
	return true
}
