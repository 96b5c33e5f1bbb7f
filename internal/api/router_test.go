package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sift-ai/gatewatch/internal/auth"
	"github.com/sift-ai/gatewatch/internal/config"
	"github.com/sift-ai/gatewatch/internal/filter"
	"go.uber.org/zap"
)

// shadowAuthenticator returns a fixed shadow-mode tenant.
type shadowAuthenticator struct{}

func (shadowAuthenticator) Authenticate(_ context.Context, apiKey string) (*auth.TenantContext, error) {
	if !strings.HasPrefix(apiKey, "gwk_") {
		return nil, auth.ErrInvalidAPIKey
	}
	return &auth.TenantContext{TenantID: "tnt_shadow", Name: "shadow tenant", Mode: "shadow"}, nil
}

func newTestRouter(t *testing.T, authn auth.Authenticator) http.Handler {
	t.Helper()
	svc, err := filter.NewService(filter.Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if authn == nil {
		authn = auth.NewStaticAuthenticator()
	}
	return NewRouter(&Dependencies{
		Filter: svc,
		Auth:   authn,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer gwk_test_key"}
}

func TestFilterEndpoint_RequiresAuth(t *testing.T) {
	h := newTestRouter(t, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong prefix", "Bearer sk_something", http.StatusUnauthorized},
		{"valid", "Bearer gwk_abc", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			rec := doJSON(t, h, "POST", "/v1/filter", FilterRequest{Content: "hi"}, headers)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestFilterEndpoint_Decision(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "POST", "/v1/filter", FilterRequest{
		Content:         "hello",
		Identity:        "alice",
		IsDirectMessage: true,
	}, authHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp FilterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Priority != "critical" {
		t.Errorf("expected critical for a DM, got %s", resp.Priority)
	}
	if !resp.Admitted || resp.Deferred || resp.IsShadow {
		t.Errorf("unexpected admission flags: %+v", resp)
	}
	if len(resp.TriggeredRules) == 0 {
		t.Error("triggered rules missing")
	}
	if resp.MessageID == "" {
		t.Error("expected a generated message id")
	}
	if resp.ContextHints["identity_hash"] == "" {
		t.Error("context hints missing")
	}
}

func TestFilterEndpoint_BadBody(t *testing.T) {
	h := newTestRouter(t, nil)
	req := httptest.NewRequest("POST", "/v1/filter", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer gwk_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFilterEndpoint_ShadowMode(t *testing.T) {
	h := newTestRouter(t, shadowAuthenticator{})

	// Run enough LOW-priority messages that some would defer; shadow
	// mode must mask every deferral while reporting it.
	sawShadow := false
	for i := 0; i < 50; i++ {
		rec := doJSON(t, h, "POST", "/v1/filter", FilterRequest{Content: fmt.Sprintf("msg %d", i)}, authHeader())
		var resp FilterResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if !resp.Admitted || resp.Deferred {
			t.Fatalf("shadow mode leaked a suppression: %+v", resp)
		}
		if resp.IsShadow {
			sawShadow = true
		}
	}
	if !sawShadow {
		t.Error("expected at least one shadow-masked deferral in 50 LOW messages")
	}
}

func TestListRules(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "GET", "/api/gatewatch/rules", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RulesListResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	def := config.Default()
	wantTotal := len(def.AttentionRules) + len(def.ReviewRules) + len(def.ResponseRules)
	if resp.Total != wantTotal {
		t.Errorf("expected %d rules, got %d", wantTotal, resp.Total)
	}
}

func TestFeedback(t *testing.T) {
	h := newTestRouter(t, nil)
	wasCorrect := false

	rec := doJSON(t, h, "POST", "/api/gatewatch/feedback", FeedbackReq{RuleID: "caps_1", WasCorrect: &wasCorrect}, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/api/gatewatch/feedback", FeedbackReq{RuleID: ""}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing rule_id: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/gatewatch/feedback", FeedbackReq{RuleID: "caps_1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing was_correct: status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)

	doJSON(t, h, "POST", "/v1/filter", FilterRequest{Content: "hi", Identity: "a"}, authHeader())

	rec := doJSON(t, h, "GET", "/api/gatewatch/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Messages.MessagesTotal != 1 {
		t.Errorf("expected 1 message counted, got %d", resp.Messages.MessagesTotal)
	}
	if len(resp.Rules) == 0 {
		t.Error("expected per-rule stats")
	}
	for _, rs := range resp.Rules {
		if rs.SampleCount == 0 && rs.Effectiveness != 0.5 {
			t.Errorf("rule %s: unsampled effectiveness should read 0.5, got %g", rs.RuleID, rs.Effectiveness)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "GET", "/api/gatewatch/health", nil, nil)
	var resp HealthResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("fresh service should be healthy, got %s (%v)", resp.Status, resp.Warnings)
	}
	if resp.EnabledRules == 0 || resp.TotalRules == 0 {
		t.Errorf("rule counts missing: %+v", resp)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "GET", "/api/gatewatch/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get config: %d", rec.Code)
	}
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}

	// PUT the same config back; version bumps.
	rec = doJSON(t, h, "PUT", "/api/gatewatch/config?reason=test+replace", cfg, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put config: %d (%s)", rec.Code, rec.Body.String())
	}
	var replaced ConfigReplaceResp
	if err := json.Unmarshal(rec.Body.Bytes(), &replaced); err != nil {
		t.Fatal(err)
	}
	if replaced.Version != 2 {
		t.Errorf("expected version 2 after replace, got %d", replaced.Version)
	}
	if replaced.Reason != "test replace" {
		t.Errorf("reason lost: %q", replaced.Reason)
	}
}

func TestConfigReplace_Rejected(t *testing.T) {
	h := newTestRouter(t, nil)

	body := map[string]any{
		"attention_rules": []map[string]any{
			{"id": "x", "name": "x", "kind": "regex", "pattern": "([", "priority": "high"},
		},
	}
	rec := doJSON(t, h, "PUT", "/api/gatewatch/config", body, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var resp ValidationErrorResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Problems) == 0 {
		t.Error("expected problem detail")
	}

	// The active configuration is untouched.
	rec = doJSON(t, h, "GET", "/api/gatewatch/config", nil, nil)
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Version != 1 {
		t.Errorf("version changed after rejected replace: %d", cfg.Version)
	}
}

func TestTrustEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "GET", "/api/gatewatch/trust/nobody", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown identity: status = %d, want 404", rec.Code)
	}

	// Establish a profile through the filter endpoint.
	doJSON(t, h, "POST", "/v1/filter", FilterRequest{Content: "hi", Identity: "alice"}, authHeader())

	rec = doJSON(t, h, "GET", "/api/gatewatch/trust/alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Consent transition.
	rec = doJSON(t, h, "POST", "/api/gatewatch/trust/alice/transition", TransitionReq{FromTier: "identified", ToTier: "partial"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transition: %d (%s)", rec.Code, rec.Body.String())
	}
	var tr TransitionResp
	if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
		t.Fatal(err)
	}
	if tr.GamingDetected {
		t.Error("a single transition is not gaming")
	}
	if tr.Profile.ConsentTier != "partial" {
		t.Errorf("tier not applied: %s", tr.Profile.ConsentTier)
	}

	rec = doJSON(t, h, "POST", "/api/gatewatch/trust/alice/transition", TransitionReq{ToTier: ""}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty to_tier: status = %d, want 400", rec.Code)
	}

	// Anonymization rekeys the profile.
	rec = doJSON(t, h, "POST", "/api/gatewatch/trust/alice/anonymize", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymize: %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/gatewatch/trust/alice", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("raw handle should be gone after anonymization: %d", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/gatewatch/trust/alice/anonymize", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second anonymize should 404: %d", rec.Code)
	}
}

func TestTenantsUnavailableWithoutPostgres(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := doJSON(t, h, "GET", "/api/gatewatch/tenants", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/gatewatch/tenants", CreateTenantReq{Name: "acme"}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestEventsUnavailableWithoutClickHouse(t *testing.T) {
	h := newTestRouter(t, nil)

	for _, path := range []string{
		"/api/gatewatch/events",
		"/api/gatewatch/events/req-1",
		"/api/gatewatch/analytics",
	} {
		rec := doJSON(t, h, "GET", path, nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := doJSON(t, h, "GET", "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/filter", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS headers")
	}
}
