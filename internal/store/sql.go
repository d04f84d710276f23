package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/havenmh/haven/internal/models"
)

// SQLStore implements Store on database/sql. Records are stored as JSON
// payload columns next to the few fields needed for lookups, so the two
// SQL backends share one code path and only differ in dialect.
type SQLStore struct {
	db       *sql.DB
	postgres bool

	// auditMu serializes audit appends per user; the unique (user, seq)
	// key backstops it across processes.
	auditMu sync.Mutex
	userMu  map[string]*sync.Mutex
}

func newSQLStore(db *sql.DB, postgres bool) *SQLStore {
	return &SQLStore{db: db, postgres: postgres, userMu: map[string]*sync.Mutex{}}
}

// bind rewrites ? placeholders into $N for postgres.
func (s *SQLStore) bind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(query string, args ...any) error {
	_, err := s.db.Exec(s.bind(query), args...)
	return err
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func rangeBounds(from, to time.Time) (int64, int64) {
	lo := int64(math.MinInt64)
	hi := int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UTC().UnixNano()
	}
	if !to.IsZero() {
		hi = to.UTC().UnixNano()
	}
	return lo, hi
}

func encodeRecord(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

func decodeRecord[T any](raw string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &v, nil
}

func listRecords[T any](s *SQLStore, query string, args ...any) ([]*T, error) {
	rows, err := s.db.Query(s.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*T{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func getRecord[T any](s *SQLStore, query string, args ...any) (*T, error) {
	var raw string
	err := s.db.QueryRow(s.bind(query), args...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord[T](raw)
}

func (s *SQLStore) InsertCredential(c *models.StoredCredential) error {
	rec, err := encodeRecord(c)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO credentials (commitment, owner_key, record) VALUES (?, ?, ?)`,
		c.Commitment, c.OwnerKey, rec)
}

func (s *SQLStore) GetCredential(commitment string) (*models.StoredCredential, error) {
	return getRecord[models.StoredCredential](s, `SELECT record FROM credentials WHERE commitment = ?`, commitment)
}

func (s *SQLStore) MarkCredentialSuperseded(oldCommitment, newCommitment string) error {
	old, err := s.GetCredential(oldCommitment)
	if err != nil || old == nil {
		return err
	}
	old.SupersededBy = newCommitment
	rec, err := encodeRecord(old)
	if err != nil {
		return err
	}
	return s.exec(`UPDATE credentials SET record = ? WHERE commitment = ?`, rec, oldCommitment)
}

func (s *SQLStore) AppendMoodPoint(userCommitment string, p *models.MoodPoint) error {
	rec, err := encodeRecord(p)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO mood_points (user_commitment, at, record) VALUES (?, ?, ?)`,
		userCommitment, nanos(p.At), rec)
}

func (s *SQLStore) ListMoodPoints(userCommitment string, from, to time.Time) ([]*models.MoodPoint, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.MoodPoint](s,
		`SELECT record FROM mood_points WHERE user_commitment = ? AND at >= ? AND at <= ? ORDER BY at`,
		userCommitment, lo, hi)
}

func (s *SQLStore) AppendAssessment(userCommitment string, rec *models.AssessmentRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO assessments (id, user_commitment, at, record) VALUES (?, ?, ?, ?)`,
		rec.ID, userCommitment, nanos(rec.At), raw)
}

func (s *SQLStore) ListAssessments(userCommitment string, from, to time.Time) ([]*models.AssessmentRecord, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.AssessmentRecord](s,
		`SELECT record FROM assessments WHERE user_commitment = ? AND at >= ? AND at <= ? ORDER BY at`,
		userCommitment, lo, hi)
}

func (s *SQLStore) AddSessionFeedback(f *models.SessionFeedback) error {
	raw, err := encodeRecord(f)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO session_feedback (id, therapist_commitment, at, record) VALUES (?, ?, ?, ?)`,
		f.ID, f.TherapistCommitment, nanos(f.At), raw)
}

func (s *SQLStore) AddTherapistOutcome(o *models.TherapistOutcome) error {
	raw, err := encodeRecord(o)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO therapist_outcomes (id, therapist_commitment, at, record) VALUES (?, ?, ?, ?)`,
		o.ID, o.TherapistCommitment, nanos(o.At), raw)
}

func (s *SQLStore) ListFeedbackByTherapist(therapistCommitment string, from, to time.Time) ([]*models.SessionFeedback, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.SessionFeedback](s,
		`SELECT record FROM session_feedback WHERE therapist_commitment = ? AND at >= ? AND at <= ? ORDER BY at`,
		therapistCommitment, lo, hi)
}

func (s *SQLStore) ListOutcomesByTherapist(therapistCommitment string, from, to time.Time) ([]*models.TherapistOutcome, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.TherapistOutcome](s,
		`SELECT record FROM therapist_outcomes WHERE therapist_commitment = ? AND at >= ? AND at <= ? ORDER BY at`,
		therapistCommitment, lo, hi)
}

func (s *SQLStore) ListAllFeedback(from, to time.Time) ([]*models.SessionFeedback, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.SessionFeedback](s,
		`SELECT record FROM session_feedback WHERE at >= ? AND at <= ? ORDER BY at`, lo, hi)
}

func (s *SQLStore) ListAllOutcomes(from, to time.Time) ([]*models.TherapistOutcome, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.TherapistOutcome](s,
		`SELECT record FROM therapist_outcomes WHERE at >= ? AND at <= ? ORDER BY at`, lo, hi)
}

func (s *SQLStore) PutPreferences(p *models.PrivacyPreferences) error {
	raw, err := encodeRecord(p)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO privacy_preferences (user_commitment, record) VALUES (?, ?)
		ON CONFLICT (user_commitment) DO UPDATE SET record = excluded.record`,
		p.UserCommitment, raw)
}

func (s *SQLStore) GetPreferences(userCommitment string) (*models.PrivacyPreferences, error) {
	return getRecord[models.PrivacyPreferences](s,
		`SELECT record FROM privacy_preferences WHERE user_commitment = ?`, userCommitment)
}

func (s *SQLStore) AddDisclosure(d *models.SelectiveDisclosure) error {
	raw, err := encodeRecord(d)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO disclosures (id, user_commitment, status, record) VALUES (?, ?, ?, ?)`,
		d.ID, d.UserCommitment, d.Status, raw)
}

func (s *SQLStore) GetDisclosure(id string) (*models.SelectiveDisclosure, error) {
	return getRecord[models.SelectiveDisclosure](s, `SELECT record FROM disclosures WHERE id = ?`, id)
}

func (s *SQLStore) ListDisclosures(userCommitment string) ([]*models.SelectiveDisclosure, error) {
	return listRecords[models.SelectiveDisclosure](s,
		`SELECT record FROM disclosures WHERE user_commitment = ? ORDER BY id`, userCommitment)
}

func (s *SQLStore) ListActiveDisclosures() ([]*models.SelectiveDisclosure, error) {
	return listRecords[models.SelectiveDisclosure](s,
		`SELECT record FROM disclosures WHERE status = ?`, models.DisclosureActive)
}

func (s *SQLStore) SetDisclosureStatus(id, status string, at time.Time) error {
	d, err := s.GetDisclosure(id)
	if err != nil || d == nil {
		return err
	}
	d.Status = status
	if status == models.DisclosureRevoked {
		t := at.UTC()
		d.RevokedAt = &t
	}
	raw, err := encodeRecord(d)
	if err != nil {
		return err
	}
	return s.exec(`UPDATE disclosures SET status = ?, record = ? WHERE id = ?`, status, raw, id)
}

func (s *SQLStore) lockUser(userCommitment string) *sync.Mutex {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	mu, ok := s.userMu[userCommitment]
	if !ok {
		mu = &sync.Mutex{}
		s.userMu[userCommitment] = mu
	}
	return mu
}

func (s *SQLStore) AppendAudit(userCommitment string, e models.AuditEntry) (*models.AuditEntry, error) {
	mu := s.lockUser(userCommitment)
	mu.Lock()
	defer mu.Unlock()

	var seq sql.NullInt64
	var prevHash sql.NullString
	err := s.db.QueryRow(s.bind(
		`SELECT seq, hash FROM audit_log WHERE user_commitment = ? ORDER BY seq DESC LIMIT 1`),
		userCommitment).Scan(&seq, &prevHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	e.Seq = 0
	e.PrevHash = ""
	if err == nil {
		e.Seq = int(seq.Int64) + 1
		e.PrevHash = prevHash.String
	}
	e.Hash = models.ChainHash(e)
	raw, err := encodeRecord(e)
	if err != nil {
		return nil, err
	}
	if err := s.exec(`INSERT INTO audit_log (user_commitment, seq, hash, record) VALUES (?, ?, ?, ?)`,
		userCommitment, e.Seq, e.Hash, raw); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLStore) ListAudit(userCommitment string) ([]models.AuditEntry, error) {
	recs, err := listRecords[models.AuditEntry](s,
		`SELECT record FROM audit_log WHERE user_commitment = ? ORDER BY seq`, userCommitment)
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *SQLStore) AppendCrisisRecord(userCommitment string, rec *models.CrisisRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO crisis_records (id, user_commitment, at, record) VALUES (?, ?, ?, ?)`,
		rec.ID, userCommitment, nanos(rec.At), raw)
}

func (s *SQLStore) ListCrisisRecords(userCommitment string, from, to time.Time) ([]*models.CrisisRecord, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.CrisisRecord](s,
		`SELECT record FROM crisis_records WHERE user_commitment = ? AND at >= ? AND at <= ? ORDER BY at`,
		userCommitment, lo, hi)
}

func (s *SQLStore) ListAllCrisisRecords(from, to time.Time) ([]*models.CrisisRecord, error) {
	lo, hi := rangeBounds(from, to)
	return listRecords[models.CrisisRecord](s,
		`SELECT record FROM crisis_records WHERE at >= ? AND at <= ? ORDER BY at`, lo, hi)
}

func (s *SQLStore) AddCrisisAlert(a *models.CrisisAlert) error {
	raw, err := encodeRecord(a)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO crisis_alerts (id, user_commitment, status, record) VALUES (?, ?, ?, ?)`,
		a.ID, a.UserCommitment, a.Status, raw)
}

func (s *SQLStore) GetCrisisAlert(id string) (*models.CrisisAlert, error) {
	return getRecord[models.CrisisAlert](s, `SELECT record FROM crisis_alerts WHERE id = ?`, id)
}

func (s *SQLStore) SetCrisisAlertStatus(id, status string) error {
	a, err := s.GetCrisisAlert(id)
	if err != nil || a == nil {
		return err
	}
	a.Status = status
	raw, err := encodeRecord(a)
	if err != nil {
		return err
	}
	return s.exec(`UPDATE crisis_alerts SET status = ?, record = ? WHERE id = ?`, status, raw, id)
}

func (s *SQLStore) AddCrisisIntervention(iv *models.CrisisIntervention) error {
	raw, err := encodeRecord(iv)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO crisis_interventions (id, alert_id, record) VALUES (?, ?, ?)`,
		iv.ID, iv.AlertID, raw)
}

// PutSafetyPlan deactivates previous plans and inserts the new one in a
// transaction, so readers never observe two active plans.
func (s *SQLStore) PutSafetyPlan(userCommitment string, plan *models.SafetyPlan) error {
	raw, err := encodeRecord(plan)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("safety plan rollback failed", "error", rbErr)
			}
		}
	}()
	if _, err = tx.Exec(s.bind(`UPDATE safety_plans SET active = 0 WHERE user_commitment = ?`), userCommitment); err != nil {
		return err
	}
	if _, err = tx.Exec(s.bind(`INSERT INTO safety_plans (id, user_commitment, active, record) VALUES (?, ?, 1, ?)`),
		plan.ID, userCommitment, raw); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetActiveSafetyPlan(userCommitment string) (*models.SafetyPlan, error) {
	return getRecord[models.SafetyPlan](s,
		`SELECT record FROM safety_plans WHERE user_commitment = ? AND active = 1`, userCommitment)
}

func (s *SQLStore) AddEmergencyContact(c *models.EmergencyContact) error {
	raw, err := encodeRecord(c)
	if err != nil {
		return err
	}
	return s.exec(`INSERT INTO emergency_contacts (id, user_commitment, record) VALUES (?, ?, ?)`,
		c.ID, c.UserCommitment, raw)
}

func (s *SQLStore) ListEmergencyContacts(userCommitment string) ([]*models.EmergencyContact, error) {
	return listRecords[models.EmergencyContact](s,
		`SELECT record FROM emergency_contacts WHERE user_commitment = ? ORDER BY id`, userCommitment)
}

// PutNullifier relies on the primary key for atomicity: the insert
// either lands or conflicts, so coincident submissions cannot both win.
func (s *SQLStore) PutNullifier(nullifier string) (bool, error) {
	res, err := s.db.Exec(s.bind(
		`INSERT INTO nullifiers (nullifier, seen_at) VALUES (?, ?) ON CONFLICT (nullifier) DO NOTHING`),
		nullifier, time.Now().UTC().UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
