package api

import (
	"net/http"

	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/services"
)

// POST /api/crisis/assessments
func (s *Server) handleCrisisAssessment(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Assessment     models.CrisisAssessment `json:"assessment"`
		Secret         string                  `json:"secret"`
		UserCommitment string                  `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.crisis.SubmitCrisisAssessment(req.Assessment, req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// POST /api/crisis/interventions
func (s *Server) handleCrisisIntervention(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		AlertID   string   `json:"alert_id"`
		Type      string   `json:"type"`
		Resources []string `json:"resources,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	iv, err := s.crisis.TriggerCrisisIntervention(req.AlertID, req.Type, req.Resources)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, iv)
}

// POST /api/crisis/safety-plan
func (s *Server) handleCreateSafetyPlan(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Plan           services.SafetyPlanInput `json:"plan"`
		Secret         string                   `json:"secret"`
		UserCommitment string                   `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := s.crisis.CreateSafetyPlan(req.Plan, req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// POST /api/crisis/safety-plan/read
// Decryption needs the owner's secret, so the read is a POST carrying it
// in the body rather than a query string that could land in access logs.
func (s *Server) handleReadSafetyPlan(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Secret         string `json:"secret"`
		UserCommitment string `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.crisis.ReadSafetyPlan(req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/crisis/contacts
func (s *Server) handleAddEmergencyContact(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Contact        services.EmergencyContactInput `json:"contact"`
		Secret         string                         `json:"secret"`
		UserCommitment string                         `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.crisis.AddEmergencyContact(req.Contact, req.Secret, callerCommitment(r, req.UserCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /api/crisis/insights?from=...&to=...
func (s *Server) handleCrisisInsights(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	from, to := parseWindow(r)
	in, err := s.crisis.GenerateAnonymousInsights(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
