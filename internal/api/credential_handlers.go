package api

import (
	"net/http"
	"strings"

	"github.com/havenmh/haven/internal/anchor"
	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/services"
	"github.com/havenmh/haven/internal/zk"
)

// POST /api/credentials/proof
func (s *Server) handleCredentialProof(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Credential models.Credential           `json:"credential"`
		Secret     string                      `json:"secret"`
		Criteria   models.VerificationCriteria `json:"criteria"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	proof, err := s.credentials.GenerateProof(req.Credential, req.Secret, req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	s.anchorCommitment(proof.Commitment, anchor.KindCredential)
	writeJSON(w, http.StatusCreated, proof)
}

// POST /api/credentials/verify
func (s *Server) handleCredentialVerify(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Proof    *zk.Proof                   `json:"proof"`
		Criteria models.VerificationCriteria `json:"criteria"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.credentials.VerifyProof(req.Proof, req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/credentials/profile
func (s *Server) handleCredentialProfile(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Proof *zk.Proof             `json:"proof"`
		Prefs services.ProfilePrefs `json:"prefs"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := s.credentials.GenerateAnonymousProfile(req.Proof, req.Prefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// POST /api/credentials/update
func (s *Server) handleCredentialUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		OldCommitment string                      `json:"old_commitment"`
		Credential    models.Credential           `json:"credential"`
		Secret        string                      `json:"secret"`
		Criteria      models.VerificationCriteria `json:"criteria"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	proof, err := s.credentials.UpdateCredential(req.OldCommitment, req.Credential, req.Secret, req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	s.anchorCommitment(proof.Commitment, anchor.KindCredential)
	writeJSON(w, http.StatusOK, proof)
}

// GET /api/anchors/{commitment}
func (s *Server) handleAnchorLookup(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	if s.anchors == nil {
		writeError(w, services.NewNotFoundError("anchoring disabled"))
		return
	}
	commitment := strings.TrimPrefix(r.URL.Path, "/api/anchors/")
	if commitment == "" {
		writeError(w, services.NewInvalidInputError("commitment required"))
		return
	}
	rec, err := s.anchors.Get(commitment)
	if err == anchor.ErrNotAnchored {
		writeError(w, services.NewNotFoundError("commitment not anchored"))
		return
	}
	if err != nil {
		writeError(w, services.NewInternalError())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
