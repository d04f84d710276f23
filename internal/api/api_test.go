package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/havenmh/haven/internal/anchor"
	"github.com/havenmh/haven/internal/models"
	"github.com/havenmh/haven/internal/seal"
	"github.com/havenmh/haven/internal/services"
	"github.com/havenmh/haven/internal/store"
	"github.com/havenmh/haven/internal/zk"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	reg, err := anchor.Open(t.TempDir())
	if err != nil {
		t.Fatalf("anchor.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	prover := zk.NewHashProver()
	srv := NewServer(
		services.NewCredentialService(st, prover, prover),
		services.NewMoodService(st, prover),
		services.NewAssessmentService(st, prover),
		services.NewFeedbackService(st),
		services.NewPrivacyService(st),
		services.NewCrisisService(st, seal.NewSecretBox(), nil),
		reg,
	)
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error
}

func authToken(t *testing.T, h http.Handler, commitment, role string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/token", "", map[string]any{
		"commitment": commitment,
		"role":       role,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token: status %d body %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &tok)
	if tok.Token == "" {
		t.Fatal("empty token")
	}
	return tok.Token
}

func testCredential() models.Credential {
	now := time.Now().UTC()
	return models.Credential{
		LicenseType:     "LCSW",
		LicenseNumber:   "SW-77001",
		Jurisdiction:    "CA",
		IssuedAt:        now.AddDate(-6, 0, 0),
		ExpiresAt:       now.AddDate(1, 0, 0),
		Specializations: []string{"anxiety", "trauma"},
		EducationLevel:  models.EducationMasters,
		YearsExperience: 7,
	}
}

func TestCredentialProofFlow(t *testing.T) {
	h := newTestHandler(t)
	criteria := models.VerificationCriteria{
		MinimumYearsExperience: 5,
		RequireValidLicense:    true,
	}
	rec := doJSON(t, h, http.MethodPost, "/api/credentials/proof", "", map[string]any{
		"credential": testCredential(),
		"secret":     "api-secret-1",
		"criteria":   criteria,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("proof: status %d body %s", rec.Code, rec.Body.String())
	}
	var proof zk.Proof
	decodeBody(t, rec, &proof)
	if proof.Commitment == "" {
		t.Fatal("proof missing commitment")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/credentials/verify", "", map[string]any{
		"proof":    proof,
		"criteria": criteria,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	var result models.VerificationResult
	decodeBody(t, rec, &result)
	if !result.IsValid {
		t.Fatalf("expected valid verification, got %+v", result)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/anchors/"+proof.Commitment, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anchor lookup: status %d body %s", rec.Code, rec.Body.String())
	}
	var anchored anchor.Record
	decodeBody(t, rec, &anchored)
	if anchored.Commitment != proof.Commitment || anchored.Kind != anchor.KindCredential {
		t.Fatalf("unexpected anchor record %+v", anchored)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/anchors/no-such-commitment", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing anchor: status %d", rec.Code)
	}
}

func TestAuthTokenBindsCommitment(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/api/auth/token", "", map[string]any{
		"commitment": "user-api-1",
		"role":       "user",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token: status %d body %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &tok)
	if tok.Token == "" {
		t.Fatal("empty token")
	}

	entry := models.MoodEntry{At: time.Now().UTC(), Mood: 6, Energy: 5, Anxiety: 4}
	rec = doJSON(t, h, http.MethodPost, "/api/mood/entries", tok.Token, map[string]any{
		"entry":  entry,
		"secret": "api-mood-secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("mood entry with token: status %d body %s", rec.Code, rec.Body.String())
	}

	// Same instant again: the per-instant nullifier must reject it.
	rec = doJSON(t, h, http.MethodPost, "/api/mood/entries", tok.Token, map[string]any{
		"entry":  entry,
		"secret": "api-mood-secret",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate mood entry: status %d body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != string(services.ErrorNullifierReused) {
		t.Fatalf("duplicate mood entry code %q", code)
	}
}

func TestRejectsUnknownRole(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodPost, "/api/auth/token", "", map[string]any{
		"commitment": "user-api-2",
		"role":       "admin",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role: status %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/assessments", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != string(services.ErrorInvalidInput) {
		t.Fatalf("malformed body: status %d body %s", rec.Code, rec.Body.String())
	}

	// PHQ-9 takes nine responses.
	rec = doJSON(t, h, http.MethodPost, "/api/assessments", "", map[string]any{
		"type":            services.InstrumentPHQ9,
		"responses":       []int{1, 2, 3},
		"secret":          "api-assess-secret",
		"user_commitment": "user-api-3",
	})
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != string(services.ErrorValidation) {
		t.Fatalf("short assessment: status %d body %s", rec.Code, rec.Body.String())
	}

	responder := authToken(t, h, "responder-api-1", "responder")
	rec = doJSON(t, h, http.MethodPost, "/api/privacy/emergency", responder, map[string]any{
		"user_commitment": "user-api-4",
		"requester":       "responder-1",
		"justification":   "welfare check",
	})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != string(services.ErrorEmergencyAccessDenied) {
		t.Fatalf("emergency without opt-in: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/privacy/disclosures/revoke", "", map[string]any{
		"disclosure_id":   "no-such-disclosure",
		"user_commitment": "user-api-5",
	})
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != string(services.ErrorNotFound) {
		t.Fatalf("revoke unknown disclosure: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestEmergencyAccessRequiresResponder(t *testing.T) {
	h := newTestHandler(t)
	body := map[string]any{
		"user_commitment": "user-api-10",
		"requester":       "responder-1",
		"justification":   "welfare check",
	}

	rec := doJSON(t, h, http.MethodPost, "/api/privacy/emergency", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d body %s", rec.Code, rec.Body.String())
	}

	user := authToken(t, h, "user-api-10", "user")
	rec = doJSON(t, h, http.MethodPost, "/api/privacy/emergency", user, body)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != string(services.ErrorEmergencyAccessDenied) {
		t.Fatalf("user token: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRevokedDisclosureReportsGone(t *testing.T) {
	h := newTestHandler(t)
	user := "user-api-6"
	secret := "api-privacy-secret"

	rec := doJSON(t, h, http.MethodPost, "/api/privacy/preferences", "", map[string]any{
		"preferences": models.PrivacyPreferences{
			Sharing: map[string]map[string]bool{
				models.CategoryMoodData: {models.RecipientTherapist: true},
			},
			IdentityDisclosure: models.IdentityNone,
		},
		"secret":          secret,
		"user_commitment": user,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("preferences: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/privacy/disclosures", "", map[string]any{
		"request": services.DisclosureRequest{
			Categories: []string{models.CategoryMoodData},
			Recipient:  models.RecipientTherapist,
			Purpose:    "treatment",
		},
		"secret":          secret,
		"user_commitment": user,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("disclosure: status %d body %s", rec.Code, rec.Body.String())
	}
	var d models.SelectiveDisclosure
	decodeBody(t, rec, &d)
	if d.ID == "" || d.ConsentProof == "" {
		t.Fatalf("incomplete disclosure %+v", d)
	}

	// Consent proofs get anchored on grant.
	rec = doJSON(t, h, http.MethodGet, "/api/anchors/"+d.ConsentProof, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consent anchor: status %d body %s", rec.Code, rec.Body.String())
	}

	revoke := map[string]any{"disclosure_id": d.ID, "user_commitment": user}
	rec = doJSON(t, h, http.MethodPost, "/api/privacy/disclosures/revoke", "", revoke)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/privacy/disclosures/revoke", "", revoke)
	if rec.Code != http.StatusGone || errorCode(t, rec) != string(services.ErrorDisclosureExpiredOrRevoked) {
		t.Fatalf("double revoke: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/privacy/audit/verify?user_commitment="+user, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit verify: status %d body %s", rec.Code, rec.Body.String())
	}
	var verdict struct {
		Intact   bool `json:"intact"`
		BrokenAt int  `json:"broken_at"`
	}
	decodeBody(t, rec, &verdict)
	if !verdict.Intact || verdict.BrokenAt != -1 {
		t.Fatalf("audit chain broken: %+v", verdict)
	}
}

func TestCrisisFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	user := "user-api-7"
	secret := "api-crisis-secret"

	assessment := models.CrisisAssessment{
		At: time.Now().UTC(),
		Risk: models.RiskFactors{
			SuicidalIdeation: 9, SelfHarm: 7, Psychosis: 2, SubstanceUse: 3, ViolentIdeation: 1,
		},
		Protective: models.ProtectiveFactors{
			SocialSupport: 2, CopingSkills: 2, ReasonsForLiving: 3, TreatmentEngagement: 2,
		},
		ImmediateRisk: true,
		Stressors:     []string{"work"},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/crisis/assessments", "", map[string]any{
		"assessment":      assessment,
		"secret":          secret,
		"user_commitment": user,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crisis assessment: status %d body %s", rec.Code, rec.Body.String())
	}
	var result services.CrisisResult
	decodeBody(t, rec, &result)
	if result.Record == nil || result.Record.RiskLevel != models.RiskImminent || result.Alert == nil {
		t.Fatalf("expected imminent alert, got %+v", result)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/crisis/interventions", "", map[string]any{
		"alert_id": result.Alert.ID,
		"type":     models.InterventionProfessional,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("intervention: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/crisis/interventions", "", map[string]any{
		"alert_id": "no-such-alert",
		"type":     models.InterventionProfessional,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("intervention on missing alert: status %d", rec.Code)
	}
}

func TestSafetyPlanOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	user := "user-api-8"
	secret := "api-plan-secret"

	plan := services.SafetyPlanInput{
		WarningSigns:     []string{"withdrawal"},
		Triggers:         []string{"isolation"},
		CopingStrategies: []string{"walk"},
		SupportContacts:  []string{"peer line"},
		EnvironmentPlan:  "remove means",
	}
	rec := doJSON(t, h, http.MethodPost, "/api/crisis/safety-plan", "", map[string]any{
		"plan":            plan,
		"secret":          secret,
		"user_commitment": user,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/crisis/safety-plan/read", "", map[string]any{
		"secret":          secret,
		"user_commitment": user,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("read plan: status %d body %s", rec.Code, rec.Body.String())
	}
	var view services.SafetyPlanView
	decodeBody(t, rec, &view)
	if len(view.CopingStrategies) != 1 || view.CopingStrategies[0] != "walk" {
		t.Fatalf("unexpected plan view %+v", view)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/crisis/safety-plan/read", "", map[string]any{
		"secret":          "wrong-secret",
		"user_commitment": user,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read with wrong secret: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMethodGuards(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/api/credentials/proof", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on POST route: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/mood/analytics", "", map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST on GET route: status %d", rec.Code)
	}
}

func TestNoStoreOnResponses(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/mood/analytics?user_commitment=%s", "user-api-9"), "", nil)
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache header, got %q", cc)
	}
}
