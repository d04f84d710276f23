//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("HAVEN_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// Walks a full user journey against a running server: token, mood
// entries, analytics, privacy preferences, a disclosure grant, access
// verification, revocation and the audit chain check.
func TestUserJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	user := fmt.Sprintf("itest-user-%d", time.Now().UnixNano())
	secret := fmt.Sprintf("itest-secret-%d", time.Now().UnixNano())

	var tokenResp struct {
		Token string `json:"token"`
	}
	doPost(t, client, base+"/api/auth/token", "", map[string]any{
		"commitment": user,
		"role":       "user",
	}, &tokenResp)
	token := tokenResp.Token
	if token == "" {
		t.Fatalf("token endpoint returned empty token")
	}

	start := time.Now().UTC().Add(-5 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		doPost(t, client, base+"/api/mood/entries", token, map[string]any{
			"entry": map[string]any{
				"at":      start.Add(time.Duration(i) * 24 * time.Hour).Format(time.RFC3339),
				"mood":    5 + i%3,
				"energy":  5,
				"anxiety": 4,
			},
			"secret": secret,
		}, nil)
	}

	var analytics struct {
		Points int    `json:"points"`
		Trend  string `json:"trend"`
	}
	doGet(t, client, base+"/api/mood/analytics", token, &analytics)
	if analytics.Points != 5 || analytics.Trend == "" {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}

	doPost(t, client, base+"/api/privacy/preferences", token, map[string]any{
		"preferences": map[string]any{
			"sharing": map[string]map[string]bool{
				"mood_data": {"therapist": true},
			},
			"identity_disclosure": "none",
		},
		"secret": secret,
	}, nil)

	var disclosure struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ConsentProof string `json:"consent_proof"`
	}
	doPost(t, client, base+"/api/privacy/disclosures", token, map[string]any{
		"request": map[string]any{
			"categories": []string{"mood_data"},
			"recipient":  "therapist",
			"purpose":    "treatment",
		},
		"secret": secret,
	}, &disclosure)
	if disclosure.ID == "" || disclosure.Status != "active" {
		t.Fatalf("unexpected disclosure: %+v", disclosure)
	}

	var decision struct {
		Allowed bool `json:"allowed"`
	}
	doPost(t, client, base+"/api/privacy/access/verify", "", map[string]any{
		"user_commitment": user,
		"categories":      []string{"mood_data"},
		"requester":       "therapist",
		"purpose":         "treatment",
	}, &decision)
	if !decision.Allowed {
		t.Fatalf("granted disclosure did not allow access")
	}

	doPost(t, client, base+"/api/privacy/disclosures/revoke", token, map[string]any{
		"disclosure_id": disclosure.ID,
	}, nil)

	doPost(t, client, base+"/api/privacy/access/verify", "", map[string]any{
		"user_commitment": user,
		"categories":      []string{"mood_data"},
		"requester":       "therapist",
		"purpose":         "treatment",
	}, &decision)
	if decision.Allowed {
		t.Fatalf("revoked disclosure still allowed access")
	}

	var verdict struct {
		Intact bool `json:"intact"`
	}
	doGet(t, client, base+"/api/privacy/audit/verify", token, &verdict)
	if !verdict.Intact {
		t.Fatalf("audit chain not intact after journey")
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http get %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		t.Fatalf("decode response from %s: %v", url, err)
	}
}
