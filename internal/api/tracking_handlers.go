package api

import (
	"net/http"

	"github.com/havenmh/haven/internal/middleware"
	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/services"
)

// callerCommitment resolves the acting user: the token commitment when
// authenticated, otherwise the explicit field.
func callerCommitment(r *http.Request, explicit string) string {
	if c, ok := middleware.CommitmentFromContext(r.Context()); ok {
		return c
	}
	return explicit
}

// POST /api/mood/entries
func (s *Server) handleMoodEntry(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Entry          models.MoodEntry `json:"entry"`
		Secret         string           `json:"secret"`
		UserCommitment string           `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	proof, err := s.mood.RecordMoodEntry(req.Entry, req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proof)
}

// GET /api/mood/analytics?from=...&to=...
func (s *Server) handleMoodAnalytics(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	from, to := parseWindow(r)
	analytics, err := s.mood.GenerateProgressAnalytics(callerCommitment(r, r.URL.Query().Get("user_commitment")), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// POST /api/assessments
func (s *Server) handleAssessmentSubmit(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Type           string `json:"type"`
		Responses      []int  `json:"responses"`
		Secret         string `json:"secret"`
		UserCommitment string `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.assessments.SubmitAssessment(req.Type, req.Responses, req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GET /api/assessments/history?from=...&to=...
func (s *Server) handleAssessmentHistory(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	from, to := parseWindow(r)
	hist, err := s.assessments.History(callerCommitment(r, r.URL.Query().Get("user_commitment")), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": hist})
}

// POST /api/feedback/client
func (s *Server) handleClientFeedback(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Feedback         services.ClientFeedbackInput `json:"feedback"`
		Secret           string                       `json:"secret"`
		ClientCommitment string                       `json:"client_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := s.feedback.SubmitClientFeedback(req.Feedback, req.Secret, callerCommitment(r, req.ClientCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// POST /api/feedback/therapist
func (s *Server) handleTherapistOutcome(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Outcome             services.TherapistOutcomeInput `json:"outcome"`
		Secret              string                         `json:"secret"`
		TherapistCommitment string                         `json:"therapist_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := s.feedback.SubmitTherapistOutcome(req.Outcome, req.Secret, callerCommitment(r, req.TherapistCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GET /api/feedback/insights?therapist_commitment=...&from=...&to=...
func (s *Server) handleFeedbackInsights(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	from, to := parseWindow(r)
	in, err := s.feedback.GenerateAnonymousInsights(callerCommitment(r, r.URL.Query().Get("therapist_commitment")), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// GET /api/feedback/platform?from=...&to=...
func (s *Server) handlePlatformInsights(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	from, to := parseWindow(r)
	in, err := s.feedback.GeneratePlatformInsights(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
