package api

import (
	"net/http"

	"github.com/havenmh/haven/internal/anchor"
	"github.com/havenmh/haven/internal/middleware"
	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/services"
)

// POST /api/privacy/preferences
func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Preferences    models.PrivacyPreferences `json:"preferences"`
		Secret         string                    `json:"secret"`
		UserCommitment string                    `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	prefs, err := s.privacy.SetPrivacyPreferences(callerCommitment(r, req.UserCommitment), req.Secret, req.Preferences)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// POST /api/privacy/disclosures
func (s *Server) handleRequestDisclosure(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Request        services.DisclosureRequest `json:"request"`
		Secret         string                     `json:"secret"`
		UserCommitment string                     `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.privacy.RequestSelectiveDisclosure(callerCommitment(r, req.UserCommitment), req.Secret, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	s.anchorCommitment(d.ConsentProof, anchor.KindConsent)
	writeJSON(w, http.StatusCreated, d)
}

// POST /api/privacy/disclosures/revoke
func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		DisclosureID   string `json:"disclosure_id"`
		UserCommitment string `json:"user_commitment,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.privacy.RevokeConsent(callerCommitment(r, req.UserCommitment), req.DisclosureID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// POST /api/privacy/access/verify
func (s *Server) handleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		UserCommitment string   `json:"user_commitment"`
		Categories     []string `json:"categories"`
		Requester      string   `json:"requester"`
		Purpose        string   `json:"purpose"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	decision, err := s.privacy.VerifyDataAccess(req.UserCommitment, req.Categories, req.Requester, req.Purpose)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// POST /api/privacy/emergency — responders only; the route itself sits
// behind RequireAuth.
func (s *Server) handleEmergencyAccess(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if role, _ := middleware.RoleFromContext(r.Context()); role != middleware.RoleResponder {
		writeError(w, services.NewEmergencyAccessDeniedError("responder role required"))
		return
	}
	var req struct {
		UserCommitment   string `json:"user_commitment"`
		Requester        string `json:"requester"`
		Justification    string `json:"justification"`
		LegalRequirement bool   `json:"legal_requirement"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := s.privacy.EmergencyDataAccess(req.UserCommitment, req.Requester, req.Justification, req.LegalRequirement)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GET /api/privacy/audit
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	entries, err := s.privacy.AuditLog(callerCommitment(r, r.URL.Query().Get("user_commitment")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /api/privacy/audit/verify
func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	broken, err := s.privacy.VerifyAuditChain(callerCommitment(r, r.URL.Query().Get("user_commitment")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intact": broken == -1, "broken_at": broken})
}
