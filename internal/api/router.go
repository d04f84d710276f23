package api

import (
	"net/http"
	"time"

	"github.com/havenmh/haven/internal/middleware"
	"github.com/havenmh/haven/internal/services"
)

// Register wires every route onto the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/token", s.handleAuthToken) // POST

	mux.HandleFunc("/api/credentials/proof", s.handleCredentialProof)     // POST
	mux.HandleFunc("/api/credentials/verify", s.handleCredentialVerify)   // POST
	mux.HandleFunc("/api/credentials/profile", s.handleCredentialProfile) // POST
	mux.HandleFunc("/api/credentials/update", s.handleCredentialUpdate)   // POST
	mux.HandleFunc("/api/anchors/", s.handleAnchorLookup)                 // GET /api/anchors/{commitment}

	mux.HandleFunc("/api/mood/entries", s.handleMoodEntry)               // POST
	mux.HandleFunc("/api/mood/analytics", s.handleMoodAnalytics)         // GET
	mux.HandleFunc("/api/assessments", s.handleAssessmentSubmit)         // POST
	mux.HandleFunc("/api/assessments/history", s.handleAssessmentHistory) // GET

	mux.HandleFunc("/api/feedback/client", s.handleClientFeedback)      // POST
	mux.HandleFunc("/api/feedback/therapist", s.handleTherapistOutcome) // POST
	mux.HandleFunc("/api/feedback/insights", s.handleFeedbackInsights)  // GET
	mux.HandleFunc("/api/feedback/platform", s.handlePlatformInsights)  // GET

	mux.HandleFunc("/api/privacy/preferences", s.handleSetPreferences)         // POST
	mux.HandleFunc("/api/privacy/disclosures", s.handleRequestDisclosure)      // POST
	mux.HandleFunc("/api/privacy/disclosures/revoke", s.handleRevokeConsent)   // POST
	mux.HandleFunc("/api/privacy/access/verify", s.handleVerifyAccess)         // POST
	mux.Handle("/api/privacy/emergency", middleware.RequireAuth(http.HandlerFunc(s.handleEmergencyAccess))) // POST, responder token
	mux.HandleFunc("/api/privacy/audit", s.handleAuditLog)                     // GET
	mux.HandleFunc("/api/privacy/audit/verify", s.handleAuditVerify)           // GET

	mux.HandleFunc("/api/crisis/assessments", s.handleCrisisAssessment)        // POST
	mux.HandleFunc("/api/crisis/interventions", s.handleCrisisIntervention)    // POST
	mux.HandleFunc("/api/crisis/safety-plan", s.handleCreateSafetyPlan)        // POST
	mux.HandleFunc("/api/crisis/safety-plan/read", s.handleReadSafetyPlan)     // POST
	mux.HandleFunc("/api/crisis/contacts", s.handleAddEmergencyContact)        // POST
	mux.HandleFunc("/api/crisis/insights", s.handleCrisisInsights)             // GET

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

// Handler returns the full middleware chain around the registered routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	var h http.Handler = mux
	h = middleware.WithAuth(h)
	h = middleware.NoStore(h)
	h = middleware.SecureHeaders(h)
	h = middleware.CORS(h)
	return h
}

// POST /api/auth/token — issue a bearer token bound to a commitment and
// role. The commitment is opaque to the server; possession of the
// matching secret is what the services verify, the token only pins
// which commitment a connection speaks for.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Commitment string `json:"commitment"`
		Role       string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Commitment == "" {
		writeError(w, services.NewInvalidInputError("commitment required"))
		return
	}
	switch req.Role {
	case middleware.RoleUser, middleware.RoleTherapist, middleware.RoleResponder:
	case "":
		req.Role = middleware.RoleUser
	default:
		writeError(w, services.NewInvalidInputError("unknown role"))
		return
	}
	tok, err := middleware.SignToken(req.Commitment, req.Role, 24*time.Hour)
	if err != nil {
		writeError(w, services.NewInternalError())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "role": req.Role})
}
