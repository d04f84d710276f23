package store

import (
	"sort"
	"sync"
	"time"

	"github.com/havenmh/haven/internal/models"
)

// MemoryStore is the in-process backend used by tests and single-node
// deployments.
type MemoryStore struct {
	mu           sync.RWMutex
	credentials  map[string]*models.StoredCredential
	moodPoints   map[string][]*models.MoodPoint
	assessments  map[string][]*models.AssessmentRecord
	feedback     []*models.SessionFeedback
	outcomes     []*models.TherapistOutcome
	preferences  map[string]*models.PrivacyPreferences
	disclosures  map[string]*models.SelectiveDisclosure
	audit        map[string][]models.AuditEntry
	crisisRecs   map[string][]*models.CrisisRecord
	alerts       map[string]*models.CrisisAlert
	intervention map[string]*models.CrisisIntervention
	safetyPlans  map[string][]*models.SafetyPlan
	contacts     map[string][]*models.EmergencyContact
	nullifiers   map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials:  map[string]*models.StoredCredential{},
		moodPoints:   map[string][]*models.MoodPoint{},
		assessments:  map[string][]*models.AssessmentRecord{},
		preferences:  map[string]*models.PrivacyPreferences{},
		disclosures:  map[string]*models.SelectiveDisclosure{},
		audit:        map[string][]models.AuditEntry{},
		crisisRecs:   map[string][]*models.CrisisRecord{},
		alerts:       map[string]*models.CrisisAlert{},
		intervention: map[string]*models.CrisisIntervention{},
		safetyPlans:  map[string][]*models.SafetyPlan{},
		contacts:     map[string][]*models.EmergencyContact{},
		nullifiers:   map[string]time.Time{},
	}
}

func (s *MemoryStore) InsertCredential(c *models.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.credentials[c.Commitment] = &cp
	return nil
}

func (s *MemoryStore) GetCredential(commitment string) (*models.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[commitment]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) MarkCredentialSuperseded(oldCommitment, newCommitment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.credentials[oldCommitment]; ok {
		c.SupersededBy = newCommitment
	}
	return nil
}

func (s *MemoryStore) AppendMoodPoint(userCommitment string, p *models.MoodPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.moodPoints[userCommitment] = append(s.moodPoints[userCommitment], &cp)
	sort.Slice(s.moodPoints[userCommitment], func(i, j int) bool {
		return s.moodPoints[userCommitment][i].At.Before(s.moodPoints[userCommitment][j].At)
	})
	return nil
}

func (s *MemoryStore) ListMoodPoints(userCommitment string, from, to time.Time) ([]*models.MoodPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.MoodPoint{}
	for _, p := range s.moodPoints[userCommitment] {
		if within(p.At, from, to) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendAssessment(userCommitment string, rec *models.AssessmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.assessments[userCommitment] = append(s.assessments[userCommitment], &cp)
	return nil
}

func (s *MemoryStore) ListAssessments(userCommitment string, from, to time.Time) ([]*models.AssessmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.AssessmentRecord{}
	for _, r := range s.assessments[userCommitment] {
		if within(r.At, from, to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddSessionFeedback(f *models.SessionFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.feedback = append(s.feedback, &cp)
	return nil
}

func (s *MemoryStore) AddTherapistOutcome(o *models.TherapistOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

func (s *MemoryStore) ListFeedbackByTherapist(therapistCommitment string, from, to time.Time) ([]*models.SessionFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.SessionFeedback{}
	for _, f := range s.feedback {
		if f.TherapistCommitment == therapistCommitment && within(f.At, from, to) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListOutcomesByTherapist(therapistCommitment string, from, to time.Time) ([]*models.TherapistOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.TherapistOutcome{}
	for _, o := range s.outcomes {
		if o.TherapistCommitment == therapistCommitment && within(o.At, from, to) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllFeedback(from, to time.Time) ([]*models.SessionFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.SessionFeedback{}
	for _, f := range s.feedback {
		if within(f.At, from, to) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllOutcomes(from, to time.Time) ([]*models.TherapistOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.TherapistOutcome{}
	for _, o := range s.outcomes {
		if within(o.At, from, to) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutPreferences(p *models.PrivacyPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.preferences[p.UserCommitment] = &cp
	return nil
}

func (s *MemoryStore) GetPreferences(userCommitment string) (*models.PrivacyPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[userCommitment]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) AddDisclosure(d *models.SelectiveDisclosure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disclosures[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDisclosure(id string) (*models.SelectiveDisclosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disclosures[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDisclosures(userCommitment string) ([]*models.SelectiveDisclosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.SelectiveDisclosure{}
	for _, d := range s.disclosures {
		if d.UserCommitment == userCommitment {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveDisclosures() ([]*models.SelectiveDisclosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.SelectiveDisclosure{}
	for _, d := range s.disclosures {
		if d.Status == models.DisclosureActive {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetDisclosureStatus(id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disclosures[id]
	if !ok {
		return nil
	}
	d.Status = status
	if status == models.DisclosureRevoked {
		t := at
		d.RevokedAt = &t
	}
	return nil
}

// AppendAudit runs under the write lock, so per-user appends are
// serialized and each entry links to exactly one predecessor.
func (s *MemoryStore) AppendAudit(userCommitment string, e models.AuditEntry) (*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.audit[userCommitment]
	e.Seq = len(chain)
	e.PrevHash = ""
	if len(chain) > 0 {
		e.PrevHash = chain[len(chain)-1].Hash
	}
	e.Hash = models.ChainHash(e)
	s.audit[userCommitment] = append(chain, e)
	return &e, nil
}

func (s *MemoryStore) ListAudit(userCommitment string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEntry(nil), s.audit[userCommitment]...), nil
}

func (s *MemoryStore) AppendCrisisRecord(userCommitment string, rec *models.CrisisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.crisisRecs[userCommitment] = append(s.crisisRecs[userCommitment], &cp)
	return nil
}

func (s *MemoryStore) ListCrisisRecords(userCommitment string, from, to time.Time) ([]*models.CrisisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.CrisisRecord{}
	for _, r := range s.crisisRecs[userCommitment] {
		if within(r.At, from, to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllCrisisRecords(from, to time.Time) ([]*models.CrisisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.CrisisRecord{}
	for _, recs := range s.crisisRecs {
		for _, r := range recs {
			if within(r.At, from, to) {
				cp := *r
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AddCrisisAlert(a *models.CrisisAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCrisisAlert(id string) (*models.CrisisAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) SetCrisisAlertStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alerts[id]; ok {
		a.Status = status
	}
	return nil
}

func (s *MemoryStore) AddCrisisIntervention(iv *models.CrisisIntervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *iv
	s.intervention[iv.ID] = &cp
	return nil
}

// PutSafetyPlan deactivates the previous active plan and stores the new
// one in a single critical section, so supersession is atomic.
func (s *MemoryStore) PutSafetyPlan(userCommitment string, plan *models.SafetyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.safetyPlans[userCommitment] {
		p.Active = false
	}
	cp := *plan
	s.safetyPlans[userCommitment] = append(s.safetyPlans[userCommitment], &cp)
	return nil
}

func (s *MemoryStore) GetActiveSafetyPlan(userCommitment string) (*models.SafetyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.safetyPlans[userCommitment] {
		if p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AddEmergencyContact(c *models.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts[c.UserCommitment] = append(s.contacts[c.UserCommitment], &cp)
	return nil
}

func (s *MemoryStore) ListEmergencyContacts(userCommitment string) ([]*models.EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.EmergencyContact{}
	for _, c := range s.contacts[userCommitment] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// PutNullifier is insert-if-absent under the write lock: two coincident
// submissions with the same nullifier cannot both win.
func (s *MemoryStore) PutNullifier(nullifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.nullifiers[nullifier]; seen {
		return false, nil
	}
	s.nullifiers[nullifier] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Close() error { return nil }
