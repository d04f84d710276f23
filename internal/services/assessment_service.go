package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/zk"
)

const ctxAssessment = "assessment"

// Standardized instruments.
const (
	InstrumentPHQ9  = "phq9"
	InstrumentGAD7  = "gad7"
	InstrumentPSS10 = "pss10"
)

// Severity bands shared across instruments.
const (
	SeverityMinimal          = "minimal"
	SeverityMild             = "mild"
	SeverityModerate         = "moderate"
	SeverityModeratelySevere = "moderately_severe"
	SeveritySevere           = "severe"
	SeverityLowStress        = "low_stress"
	SeverityModerateStress   = "moderate_stress"
	SeverityHighStress       = "high_stress"
)

type instrument struct {
	items    int
	min, max int
	severity func(total int) string
	risk     func(total int) string
}

var instruments = map[string]instrument{
	InstrumentPHQ9: {
		items: 9, min: 0, max: 3,
		severity: func(t int) string {
			switch {
			case t <= 4:
				return SeverityMinimal
			case t <= 9:
				return SeverityMild
			case t <= 14:
				return SeverityModerate
			case t <= 19:
				return SeverityModeratelySevere
			default:
				return SeveritySevere
			}
		},
		risk: func(t int) string {
			switch {
			case t >= 20:
				return models.RiskHigh
			case t >= 10:
				return models.RiskMedium
			default:
				return models.RiskLow
			}
		},
	},
	InstrumentGAD7: {
		items: 7, min: 0, max: 3,
		severity: func(t int) string {
			switch {
			case t <= 4:
				return SeverityMinimal
			case t <= 9:
				return SeverityMild
			case t <= 14:
				return SeverityModerate
			default:
				return SeveritySevere
			}
		},
		risk: func(t int) string {
			switch {
			case t >= 15:
				return models.RiskHigh
			case t >= 10:
				return models.RiskMedium
			default:
				return models.RiskLow
			}
		},
	},
	InstrumentPSS10: {
		items: 10, min: 0, max: 4,
		severity: func(t int) string {
			switch {
			case t <= 13:
				return SeverityLowStress
			case t <= 26:
				return SeverityModerateStress
			default:
				return SeverityHighStress
			}
		},
		risk: func(t int) string {
			switch {
			case t >= 27:
				return models.RiskHigh
			case t >= 14:
				return models.RiskMedium
			default:
				return models.RiskLow
			}
		},
	},
}

type AssessmentStore interface {
	AppendAssessment(userCommitment string, rec *models.AssessmentRecord) error
	ListAssessments(userCommitment string, from, to time.Time) ([]*models.AssessmentRecord, error)
	PutNullifier(nullifier string) (bool, error)
}

type AssessmentService struct {
	store  AssessmentStore
	prover zk.Prover
	now    func() time.Time
	idGen  func() string
}

func NewAssessmentService(store AssessmentStore, prover zk.Prover) *AssessmentService {
	return &AssessmentService{
		store:  store,
		prover: prover,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  func() string { return shortID(12) },
	}
}

// AssessmentResult is what the submitting user gets back: the derived
// score plus the proof; the raw responses are gone by the time this
// returns.
type AssessmentResult struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TotalScore int       `json:"total_score"`
	Severity   string    `json:"severity"`
	RiskLevel  string    `json:"risk_level"`
	Proof      *zk.Proof `json:"proof"`
}

// SubmitAssessment anonymizes each response behind a salted per-index
// hash before anything is persisted. The total score and severity band
// are computed transiently from the raw responses; the responses
// themselves are never stored.
func (s *AssessmentService) SubmitAssessment(typ string, responses []int, secret, userCommitment string) (*AssessmentResult, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	inst, ok := instruments[typ]
	if !ok {
		return nil, NewValidationError("unknown assessment type")
	}
	if len(responses) != inst.items {
		return nil, NewValidationError(fmt.Sprintf("%s expects %d responses", typ, inst.items))
	}
	total := 0
	for i, r := range responses {
		if r < inst.min || r > inst.max {
			return nil, NewValidationError(fmt.Sprintf("response %d out of range [%d,%d]", i, inst.min, inst.max))
		}
		total += r
	}
	at := s.now()
	// One submission per (type, day) per user.
	nullifier, err := zk.Nullify(fmt.Sprintf("%s|%s", typ, at.Format("2006-01-02")), secret, ctxAssessment)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("assessment nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("assessment already submitted for this period")
	}
	hashes := make([]string, len(responses))
	for i, r := range responses {
		hashes[i] = zk.HashHex("assessment-response", nullifier, fmt.Sprintf("%d:%d", i, r))
	}
	severity := inst.severity(total)
	risk := inst.risk(total)
	rec := &models.AssessmentRecord{
		ID:             s.idGen(),
		Type:           typ,
		At:             at,
		ResponseHashes: hashes,
		TotalScore:     total,
		Severity:       severity,
		RiskLevel:      risk,
		Nullifier:      nullifier,
	}
	if err := s.store.AppendAssessment(userCommitment, rec); err != nil {
		slog.Error("assessment append failed", "error", err)
		return nil, NewInternalError()
	}
	proof, err := s.prover.Prove(zk.Statement{
		Commitment: userCommitment,
		Nullifier:  nullifier,
		PublicSignals: map[string]string{
			"instrument": typ,
			"severity":   severity,
			"day":        at.Format("2006-01-02"),
		},
		Private: fmt.Sprintf("%v", responses),
	})
	if err != nil {
		slog.Error("assessment proof generation failed", "error", err)
		return nil, NewInternalError()
	}
	return &AssessmentResult{
		ID: rec.ID, Type: typ, TotalScore: total, Severity: severity, RiskLevel: risk, Proof: proof,
	}, nil
}

// AssessmentHistory summarizes stored assessments without exposing the
// per-response hashes.
type AssessmentHistory struct {
	Type       string    `json:"type"`
	At         time.Time `json:"at"`
	TotalScore int       `json:"total_score"`
	Severity   string    `json:"severity"`
	RiskLevel  string    `json:"risk_level"`
}

func (s *AssessmentService) History(userCommitment string, from, to time.Time) ([]AssessmentHistory, error) {
	if userCommitment == "" {
		return nil, NewInvalidInputError("user commitment required")
	}
	if to.IsZero() {
		to = s.now()
	}
	recs, err := s.store.ListAssessments(userCommitment, from, to)
	if err != nil {
		slog.Error("assessment list failed", "error", err)
		return nil, NewInternalError()
	}
	out := make([]AssessmentHistory, 0, len(recs))
	for _, r := range recs {
		out = append(out, AssessmentHistory{Type: r.Type, At: r.At, TotalScore: r.TotalScore, Severity: r.Severity, RiskLevel: r.RiskLevel})
	}
	return out, nil
}

// shortID trims a uuid the way the rest of the platform does.
func shortID(n int) string {
	id := uuid.NewString()
	id = id[:8] + id[9:13] + id[14:18] + id[19:23] + id[24:]
	if n > len(id) {
		n = len(id)
	}
	return id[:n]
}
