package services

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/zk"
)

const (
	ctxFeedbackClient    = "feedback-client"
	ctxFeedbackTherapist = "feedback-therapist"
)

// InterventionTaxonomy is the fixed list insights may name. Free-text
// intervention notes never enter the anonymized store.
var InterventionTaxonomy = []string{
	"cbt",
	"dbt",
	"mindfulness",
	"exposure",
	"behavioral_activation",
	"psychoeducation",
	"crisis_management",
	"medication_referral",
}

type FeedbackStore interface {
	AddSessionFeedback(f *models.SessionFeedback) error
	AddTherapistOutcome(o *models.TherapistOutcome) error
	ListFeedbackByTherapist(therapistCommitment string, from, to time.Time) ([]*models.SessionFeedback, error)
	ListOutcomesByTherapist(therapistCommitment string, from, to time.Time) ([]*models.TherapistOutcome, error)
	ListAllFeedback(from, to time.Time) ([]*models.SessionFeedback, error)
	ListAllOutcomes(from, to time.Time) ([]*models.TherapistOutcome, error)
	PutNullifier(nullifier string) (bool, error)
}

type FeedbackService struct {
	store FeedbackStore
	now   func() time.Time
	idGen func() string
}

func NewFeedbackService(store FeedbackStore) *FeedbackService {
	return &FeedbackService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// ClientFeedbackInput is the raw client submission; only buckets and
// hashes survive it.
type ClientFeedbackInput struct {
	SessionID           string   `json:"session_id"`
	TherapistCommitment string   `json:"therapist_commitment"`
	Satisfaction        int      `json:"satisfaction"`
	MoodChange          int      `json:"mood_change"`
	AnxietyChange       int      `json:"anxiety_change"`
	Categories          []string `json:"categories,omitempty"`
}

// TherapistOutcomeInput is the raw therapist submission.
type TherapistOutcomeInput struct {
	SessionID        string   `json:"session_id"`
	ClientCommitment string   `json:"client_commitment"`
	Engagement       int      `json:"engagement"`
	Progress         int      `json:"progress"`
	RiskRating       int      `json:"risk_rating"`
	Interventions    []string `json:"interventions,omitempty"`
}

// satisfactionBucket applies the 6/8 thresholds.
func satisfactionBucket(score int) string {
	switch {
	case score < 6:
		return models.SatisfactionLow
	case score < 8:
		return models.SatisfactionMedium
	default:
		return models.SatisfactionHigh
	}
}

// outcomeBucket classifies the average of mood change and negated
// anxiety change.
func outcomeBucket(moodChange, anxietyChange int) string {
	avg := (float64(moodChange) + float64(-anxietyChange)) / 2
	switch {
	case avg < 0:
		return models.OutcomePoor
	case avg < 1:
		return models.OutcomeFair
	case avg < 3:
		return models.OutcomeGood
	default:
		return models.OutcomeExcellent
	}
}

func riskBucket(rating int) string {
	switch {
	case rating < 4:
		return models.RiskLow
	case rating < 7:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

func inTaxonomy(name string) bool {
	for _, t := range InterventionTaxonomy {
		if t == name {
			return true
		}
	}
	return false
}

// SubmitClientFeedback records the client side of a session. The
// nullifier is scoped to (session, client role) so each side submits
// independently exactly once.
func (s *FeedbackService) SubmitClientFeedback(in ClientFeedbackInput, secret, clientCommitment string) (*models.SessionFeedback, error) {
	if secret == "" || clientCommitment == "" {
		return nil, NewInvalidInputError("secret and client commitment required")
	}
	if in.SessionID == "" || in.TherapistCommitment == "" {
		return nil, NewInvalidInputError("session id and therapist commitment required")
	}
	if in.Satisfaction < 1 || in.Satisfaction > 10 {
		return nil, NewValidationError("satisfaction must be between 1 and 10")
	}
	if in.MoodChange < -9 || in.MoodChange > 9 || in.AnxietyChange < -9 || in.AnxietyChange > 9 {
		return nil, NewValidationError("change scales must be between -9 and 9")
	}
	nullifier, err := zk.Nullify(in.SessionID, secret, ctxFeedbackClient)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("feedback nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("feedback already submitted for this session")
	}
	f := &models.SessionFeedback{
		ID:                  s.idGen(),
		SessionID:           in.SessionID,
		ClientCommitment:    clientCommitment,
		TherapistCommitment: in.TherapistCommitment,
		Satisfaction:        satisfactionBucket(in.Satisfaction),
		Outcome:             outcomeBucket(in.MoodChange, in.AnxietyChange),
		At:                  s.now(),
		Nullifier:           nullifier,
	}
	for _, c := range in.Categories {
		f.CategoryHashes = append(f.CategoryHashes, zk.HashHex("feedback-category", clientCommitment, c))
	}
	if err := s.store.AddSessionFeedback(f); err != nil {
		slog.Error("feedback insert failed", "error", err)
		return nil, NewInternalError()
	}
	return f, nil
}

// SubmitTherapistOutcome records the therapist side of a session.
func (s *FeedbackService) SubmitTherapistOutcome(in TherapistOutcomeInput, secret, therapistCommitment string) (*models.TherapistOutcome, error) {
	if secret == "" || therapistCommitment == "" {
		return nil, NewInvalidInputError("secret and therapist commitment required")
	}
	if in.SessionID == "" || in.ClientCommitment == "" {
		return nil, NewInvalidInputError("session id and client commitment required")
	}
	for name, v := range map[string]int{"engagement": in.Engagement, "progress": in.Progress, "risk rating": in.RiskRating} {
		if v < 1 || v > 10 {
			return nil, NewValidationError(fmt.Sprintf("%s must be between 1 and 10", name))
		}
	}
	for _, iv := range in.Interventions {
		if !inTaxonomy(iv) {
			return nil, NewValidationError(fmt.Sprintf("intervention %q not in taxonomy", iv))
		}
	}
	nullifier, err := zk.Nullify(in.SessionID, secret, ctxFeedbackTherapist)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("outcome nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("outcome already submitted for this session")
	}
	o := &models.TherapistOutcome{
		ID:                  s.idGen(),
		SessionID:           in.SessionID,
		TherapistCommitment: therapistCommitment,
		ClientCommitment:    in.ClientCommitment,
		Engagement:          satisfactionBucket(in.Engagement),
		Progress:            satisfactionBucket(in.Progress),
		Risk:                riskBucket(in.RiskRating),
		Interventions:       append([]string(nil), in.Interventions...),
		At:                  s.now(),
		Nullifier:           nullifier,
	}
	if err := s.store.AddTherapistOutcome(o); err != nil {
		slog.Error("outcome insert failed", "error", err)
		return nil, NewInternalError()
	}
	return o, nil
}

// QualityInsights is the anonymized aggregate for one therapist, or for
// the whole platform when TherapistCommitment is empty.
type QualityInsights struct {
	TherapistCommitment string         `json:"therapist_commitment,omitempty"`
	Sessions            int            `json:"sessions"`
	AverageSatisfaction float64        `json:"average_satisfaction"`
	SatisfactionTrend   string         `json:"satisfaction_trend"`
	ImprovementRate     float64        `json:"improvement_rate"`
	RiskDistribution    map[string]int `json:"risk_distribution"`
	RetentionRate       float64        `json:"retention_rate"`
	MostHelpful         []string       `json:"most_helpful,omitempty"`
	LeastHelpful        []string       `json:"least_helpful,omitempty"`
}

var satisfactionScores = map[string]float64{
	models.SatisfactionLow:    3,
	models.SatisfactionMedium: 6.5,
	models.SatisfactionHigh:   9,
}

// GenerateAnonymousInsights aggregates only bucketed and hashed records
// inside the window; no raw scale ever reaches the output.
func (s *FeedbackService) GenerateAnonymousInsights(therapistCommitment string, from, to time.Time) (*QualityInsights, error) {
	if therapistCommitment == "" {
		return nil, NewInvalidInputError("therapist commitment required")
	}
	if to.IsZero() {
		to = s.now()
	}
	feedback, err := s.store.ListFeedbackByTherapist(therapistCommitment, from, to)
	if err != nil {
		slog.Error("feedback list failed", "error", err)
		return nil, NewInternalError()
	}
	outcomes, err := s.store.ListOutcomesByTherapist(therapistCommitment, from, to)
	if err != nil {
		slog.Error("outcome list failed", "error", err)
		return nil, NewInternalError()
	}
	in := s.aggregate(feedback, outcomes)
	in.TherapistCommitment = therapistCommitment
	return in, nil
}

// GeneratePlatformInsights runs the same aggregation across every
// therapist bucket with no per-therapist attribution in the output.
func (s *FeedbackService) GeneratePlatformInsights(from, to time.Time) (*QualityInsights, error) {
	if to.IsZero() {
		to = s.now()
	}
	feedback, err := s.store.ListAllFeedback(from, to)
	if err != nil {
		slog.Error("feedback list failed", "error", err)
		return nil, NewInternalError()
	}
	outcomes, err := s.store.ListAllOutcomes(from, to)
	if err != nil {
		slog.Error("outcome list failed", "error", err)
		return nil, NewInternalError()
	}
	return s.aggregate(feedback, outcomes), nil
}

func (s *FeedbackService) aggregate(feedback []*models.SessionFeedback, outcomes []*models.TherapistOutcome) *QualityInsights {
	out := &QualityInsights{
		Sessions:          len(feedback),
		SatisfactionTrend: TrendInsufficient,
		RiskDistribution:  map[string]int{},
	}
	sort.Slice(feedback, func(i, j int) bool { return feedback[i].At.Before(feedback[j].At) })

	scores := make([]float64, 0, len(feedback))
	improved := 0
	sessionsByClient := map[string]int{}
	outcomeBySession := map[string]string{}
	for _, f := range feedback {
		scores = append(scores, satisfactionScores[f.Satisfaction])
		if f.Outcome == models.OutcomeGood || f.Outcome == models.OutcomeExcellent {
			improved++
		}
		sessionsByClient[f.ClientCommitment]++
		outcomeBySession[f.SessionID] = f.Outcome
	}
	if len(scores) > 0 {
		sum := 0.0
		for _, v := range scores {
			sum += v
		}
		out.AverageSatisfaction = sum / float64(len(scores))
		out.ImprovementRate = float64(improved) / float64(len(feedback))
	}
	if len(scores) >= 10 {
		recent := tailMean(scores, 5)
		prior := tailMean(scores[:len(scores)-5], 5)
		switch delta := recent - prior; {
		case delta >= trendDelta:
			out.SatisfactionTrend = TrendImproving
		case delta <= -trendDelta:
			out.SatisfactionTrend = TrendDeclining
		default:
			out.SatisfactionTrend = TrendStable
		}
	}
	if len(sessionsByClient) > 0 {
		repeat := 0
		for _, n := range sessionsByClient {
			if n > 1 {
				repeat++
			}
		}
		out.RetentionRate = float64(repeat) / float64(len(sessionsByClient))
	}

	helpful := map[string]int{}
	for _, o := range outcomes {
		out.RiskDistribution[o.Risk]++
		result, ok := outcomeBySession[o.SessionID]
		if !ok {
			continue
		}
		for _, iv := range o.Interventions {
			switch result {
			case models.OutcomeGood, models.OutcomeExcellent:
				helpful[iv]++
			case models.OutcomePoor:
				helpful[iv]--
			}
		}
	}
	out.MostHelpful, out.LeastHelpful = rankInterventions(helpful)
	return out
}

// rankInterventions returns up to three interventions with positive and
// negative helpfulness scores respectively, best and worst first.
func rankInterventions(scores map[string]int) (most, least []string) {
	type kv struct {
		name  string
		score int
	}
	ranked := make([]kv, 0, len(scores))
	for k, v := range scores {
		ranked = append(ranked, kv{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	for _, r := range ranked {
		if r.score > 0 && len(most) < 3 {
			most = append(most, r.name)
		}
	}
	for i := len(ranked) - 1; i >= 0; i-- {
		if ranked[i].score < 0 && len(least) < 3 {
			least = append(least, ranked[i].name)
		}
	}
	return most, least
}
