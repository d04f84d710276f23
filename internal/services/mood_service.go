package services

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/zk"
)

const ctxMood = "mood"

// Mood categories, bucketed so the public signal never carries the exact
// score.
const (
	MoodLow      = "low"
	MoodModerate = "moderate"
	MoodGood     = "good"
	MoodHigh     = "high"
)

// Trend classifications for the rolling store.
const (
	TrendImproving    = "improving"
	TrendStable       = "stable"
	TrendDeclining    = "declining"
	TrendInsufficient = "insufficient_data"
)

// trendDelta is the recent-vs-baseline average gap that flips the trend
// classification.
const trendDelta = 0.5

type MoodStore interface {
	AppendMoodPoint(userCommitment string, p *models.MoodPoint) error
	ListMoodPoints(userCommitment string, from, to time.Time) ([]*models.MoodPoint, error)
	PutNullifier(nullifier string) (bool, error)
}

type MoodService struct {
	store  MoodStore
	prover zk.Prover
	now    func() time.Time
}

func NewMoodService(store MoodStore, prover zk.Prover) *MoodService {
	return &MoodService{
		store:  store,
		prover: prover,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MoodAnalytics is the aggregate view of the rolling store. No field can
// be traced back to a single entry.
type MoodAnalytics struct {
	UserCommitment string         `json:"user_commitment"`
	Points         int            `json:"points"`
	Average7       float64        `json:"average_7"`
	Average14      float64        `json:"average_14"`
	Trend          string         `json:"trend"`
	Consistency    int            `json:"consistency"`
	CategoryCounts map[string]int `json:"category_counts"`
}

func moodCategory(score int) string {
	switch {
	case score <= 3:
		return MoodLow
	case score <= 5:
		return MoodModerate
	case score <= 7:
		return MoodGood
	default:
		return MoodHigh
	}
}

func validateMoodEntry(e models.MoodEntry) error {
	check := func(name string, v, lo, hi int) error {
		if v < lo || v > hi {
			return NewValidationError(fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
		}
		return nil
	}
	if err := check("mood", e.Mood, 1, 10); err != nil {
		return err
	}
	if err := check("energy", e.Energy, 1, 10); err != nil {
		return err
	}
	if err := check("anxiety", e.Anxiety, 1, 10); err != nil {
		return err
	}
	if e.SleepHours < 0 || e.SleepHours > 24 {
		return NewValidationError("sleep hours must be between 0 and 24")
	}
	return check("exercise minutes", e.ExerciseMinutes, 0, 1440)
}

// RecordMoodEntry validates ranges (out-of-range rejects, never clamps),
// appends an anonymized point to the rolling store and returns a proof
// whose only mood-related signal is the coarse category.
func (s *MoodService) RecordMoodEntry(entry models.MoodEntry, secret, userCommitment string) (*zk.Proof, error) {
	if secret == "" || userCommitment == "" {
		return nil, NewInvalidInputError("secret and user commitment required")
	}
	if err := validateMoodEntry(entry); err != nil {
		return nil, err
	}
	at := entry.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	nullifier, err := zk.Nullify(fmt.Sprintf("%s|%d", userCommitment, at.UnixNano()), secret, ctxMood)
	if err != nil {
		return nil, NewInvalidInputError("cannot derive nullifier")
	}
	fresh, err := s.store.PutNullifier(nullifier)
	if err != nil {
		slog.Error("mood nullifier check failed", "error", err)
		return nil, NewInternalError()
	}
	if !fresh {
		return nil, NewNullifierReusedError("mood entry already recorded")
	}
	category := moodCategory(entry.Mood)
	point := &models.MoodPoint{
		At:       at,
		Mood:     entry.Mood,
		Energy:   entry.Energy,
		Anxiety:  entry.Anxiety,
		Category: category,
	}
	for _, tag := range entry.Tags {
		point.TagHashes = append(point.TagHashes, zk.HashHex("mood-tag", userCommitment, tag))
	}
	if entry.Notes != "" {
		point.NotesHash = zk.HashHex("mood-notes", userCommitment, entry.Notes)
	}
	if err := s.store.AppendMoodPoint(userCommitment, point); err != nil {
		slog.Error("mood point append failed", "error", err)
		return nil, NewInternalError()
	}
	proof, err := s.prover.Prove(zk.Statement{
		Commitment: userCommitment,
		Nullifier:  nullifier,
		PublicSignals: map[string]string{
			"mood_category": category,
			"day":           at.Format("2006-01-02"),
		},
		Private: fmt.Sprintf("%d|%d|%d|%.1f|%d|%s", entry.Mood, entry.Energy, entry.Anxiety, entry.SleepHours, entry.ExerciseMinutes, entry.Notes),
	})
	if err != nil {
		slog.Error("mood proof generation failed", "error", err)
		return nil, NewInternalError()
	}
	return proof, nil
}

// GenerateProgressAnalytics reads only the anonymized rolling store. The
// 7-point and 14-point moving averages feed the trend classification;
// consistency derives from the variance of period-over-period deltas.
func (s *MoodService) GenerateProgressAnalytics(userCommitment string, from, to time.Time) (*MoodAnalytics, error) {
	if userCommitment == "" {
		return nil, NewInvalidInputError("user commitment required")
	}
	if to.IsZero() {
		to = s.now()
	}
	points, err := s.store.ListMoodPoints(userCommitment, from, to)
	if err != nil {
		slog.Error("mood point list failed", "error", err)
		return nil, NewInternalError()
	}
	out := &MoodAnalytics{
		UserCommitment: userCommitment,
		Points:         len(points),
		Trend:          TrendInsufficient,
		CategoryCounts: map[string]int{},
	}
	for _, p := range points {
		out.CategoryCounts[p.Category]++
	}
	if len(points) < 4 {
		return out, nil
	}
	moods := make([]float64, len(points))
	for i, p := range points {
		moods[i] = float64(p.Mood)
	}
	out.Average7 = tailMean(moods, 7)
	out.Average14 = tailMean(moods, 14)
	switch delta := out.Average7 - out.Average14; {
	case delta >= trendDelta:
		out.Trend = TrendImproving
	case delta <= -trendDelta:
		out.Trend = TrendDeclining
	default:
		out.Trend = TrendStable
	}
	out.Consistency = consistencyScore(moods)
	return out, nil
}

// tailMean averages the last n values (or all of them when fewer).
func tailMean(vals []float64, n int) float64 {
	if len(vals) == 0 {
		return 0
	}
	if len(vals) > n {
		vals = vals[len(vals)-n:]
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// consistencyScore maps the variance of successive deltas onto 0-100:
// a perfectly steady series scores 100, a volatile one approaches 0.
func consistencyScore(vals []float64) int {
	if len(vals) < 2 {
		return 100
	}
	deltas := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		deltas = append(deltas, vals[i]-vals[i-1])
	}
	mean := 0.0
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))
	variance := 0.0
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))
	score := 100 - 10*variance
	if score < 0 {
		return 0
	}
	return int(math.Round(score))
}
