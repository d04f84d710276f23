// Package api exposes the privacy engine over HTTP. Handlers decode,
// delegate to the services and translate the error taxonomy to status
// codes; no privacy decision is made here.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/havenmh/haven/internal/anchor"
	"github.com/havenmh/haven/internal/services"
)

type Server struct {
	credentials *services.CredentialService
	mood        *services.MoodService
	assessments *services.AssessmentService
	feedback    *services.FeedbackService
	privacy     *services.PrivacyService
	crisis      *services.CrisisService
	anchors     *anchor.Registry
}

// NewServer wires the handlers. The anchor registry is optional; without
// it commitments simply go unanchored.
func NewServer(
	credentials *services.CredentialService,
	mood *services.MoodService,
	assessments *services.AssessmentService,
	feedback *services.FeedbackService,
	privacy *services.PrivacyService,
	crisis *services.CrisisService,
	anchors *anchor.Registry,
) *Server {
	return &Server{
		credentials: credentials,
		mood:        mood,
		assessments: assessments,
		feedback:    feedback,
		privacy:     privacy,
		crisis:      crisis,
		anchors:     anchors,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps the service error taxonomy onto HTTP status codes.
// Unknown errors surface as an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		slog.Error("unclassified handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: string(services.ErrorInternal), Message: "internal error"})
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalidInput, services.ErrorProofInvalid:
		status = http.StatusBadRequest
	case services.ErrorValidation:
		status = http.StatusUnprocessableEntity
	case services.ErrorNullifierReused:
		status = http.StatusConflict
	case services.ErrorDisclosureNotPermitted, services.ErrorIdentityMismatch, services.ErrorEmergencyAccessDenied:
		status = http.StatusForbidden
	case services.ErrorDisclosureExpiredOrRevoked:
		status = http.StatusGone
	case services.ErrorNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: string(se.Code), Message: se.Message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, services.NewInvalidInputError("malformed request body"))
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// parseWindow reads optional from/to RFC3339 query parameters.
func parseWindow(r *http.Request) (from, to time.Time) {
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}

// anchorCommitment is best-effort; a registry failure never fails the
// operation that produced the commitment.
func (s *Server) anchorCommitment(commitment, kind string) {
	if s.anchors == nil || commitment == "" {
		return
	}
	if _, err := s.anchors.Put(commitment, kind); err != nil {
		slog.Error("anchor failed", "kind", kind, "error", err)
	}
}
