package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/scoutman/internal/config"
	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/store"
	"github.com/allaspectsdev/scoutman/internal/testutil"
)

func sampleHealth() map[string][]provider.State {
	return map[string][]provider.State{
		"generate": {
			{Name: "gemini", Priority: 1, Health: provider.Healthy, MaxFailures: 3, Configured: true},
			{Name: "groq", Priority: 2, Health: provider.Disabled, ConsecutiveFailures: 3, MaxFailures: 3, Configured: true},
		},
		"search": {
			{Name: "serper", Priority: 1, Health: provider.Healthy, MaxFailures: 3, Configured: true},
		},
	}
}

func setupDashboard(t *testing.T) (*DashboardServer, *Collector, *store.Store) {
	t.Helper()

	st := testutil.NewTestStore(t)
	collector := NewCollector()
	cfg := testutil.NewTestConfig(t)

	dash := NewDashboardServer(collector, st, cfg, sampleHealth, ":0")
	return dash, collector, st
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDashboard_HealthEndpoint(t *testing.T) {
	dash, _, _ := setupDashboard(t)

	w := serve(t, dash.Handler(), "GET", "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: got %q, want %q", body["status"], "ok")
	}
}

func TestDashboard_HealthEndpoint_Degraded(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	health := func() map[string][]provider.State {
		return map[string][]provider.State{
			"search": {{Name: "serper", Health: provider.Disabled, ConsecutiveFailures: 3, MaxFailures: 3, Configured: true}},
		}
	}
	dash := NewDashboardServer(NewCollector(), nil, cfg, health, ":0")

	w := serve(t, dash.Handler(), "GET", "/api/health")
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("body: got %s, want degraded status", w.Body.String())
	}
}

func TestDashboard_StatsEndpoint(t *testing.T) {
	dash, collector, _ := setupDashboard(t)
	collector.RecordOperation(provider.OpGenerate, "", true, time.Millisecond)

	w := serve(t, dash.Handler(), "GET", "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var stats Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if stats.Operations != 1 {
		t.Errorf("Operations: got %d, want 1", stats.Operations)
	}
}

func TestDashboard_ProvidersEndpoint(t *testing.T) {
	dash, _, st := setupDashboard(t)

	st.Observe(provider.Event{Op: provider.OpGenerate, Provider: "gemini", Success: true, Time: time.Now()})
	st.Observe(provider.Event{Op: provider.OpGenerate, Provider: "gemini", ErrorKind: provider.KindTimeout, Time: time.Now()})

	w := serve(t, dash.Handler(), "GET", "/api/providers")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string][]map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	gen := body["generate"]
	if len(gen) != 2 {
		t.Fatalf("generate providers: got %d, want 2", len(gen))
	}
	if gen[0]["name"] != "gemini" {
		t.Errorf("first provider: got %v, want gemini", gen[0]["name"])
	}
	if gen[1]["health"] != "disabled" {
		t.Errorf("groq health: got %v, want disabled", gen[1]["health"])
	}
	last, ok := gen[0]["last_24h"].(map[string]any)
	if !ok {
		t.Fatalf("gemini last_24h missing: %v", gen[0])
	}
	if last["attempts"] != float64(2) {
		t.Errorf("gemini attempts: got %v, want 2", last["attempts"])
	}
	if _, ok := gen[1]["last_24h"]; ok {
		t.Error("groq should have no last_24h summary")
	}
}

func TestDashboard_AttemptsEndpoint(t *testing.T) {
	dash, _, st := setupDashboard(t)

	st.Observe(provider.Event{Op: provider.OpSearch, Provider: "serper", Success: true, Results: 5, Time: time.Now()})
	st.Observe(provider.Event{Op: provider.OpGenerate, Provider: "gemini", Success: true, Time: time.Now()})

	w := serve(t, dash.Handler(), "GET", "/api/attempts?op=search")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Page     int              `json:"page"`
		Limit    int              `json:"limit"`
		Attempts []*store.Attempt `json:"attempts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if body.Page != 1 || body.Limit != 50 {
		t.Errorf("paging: got page=%d limit=%d, want 1/50", body.Page, body.Limit)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].Provider != "serper" {
		t.Errorf("attempts: got %+v, want one serper attempt", body.Attempts)
	}
}

func TestDashboard_OperationsEndpoint_Empty(t *testing.T) {
	dash, _, _ := setupDashboard(t)

	w := serve(t, dash.Handler(), "GET", "/api/operations")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"operations":[]`) {
		t.Errorf("body: got %s, want empty operations list", w.Body.String())
	}
}

func TestDashboard_GetOperation(t *testing.T) {
	dash, _, st := setupDashboard(t)

	if err := st.InsertOperation(&store.Operation{ID: "op-1", Op: "search", Mode: "merge", Digest: "abc", Success: true, Results: 4}); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}

	w := serve(t, dash.Handler(), "GET", "/api/operations/op-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var op store.Operation
	if err := json.Unmarshal(w.Body.Bytes(), &op); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if op.Mode != "merge" || op.Results != 4 {
		t.Errorf("operation: got %+v", op)
	}

	w = serve(t, dash.Handler(), "GET", "/api/operations/missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDashboard_NilStore(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	dash := NewDashboardServer(NewCollector(), nil, cfg, nil, ":0")

	for _, path := range []string{"/api/attempts", "/api/operations", "/api/stats/history", "/api/providers"} {
		if w := serve(t, dash.Handler(), "GET", path); w.Code != http.StatusOK {
			t.Errorf("%s: got %d, want %d", path, w.Code, http.StatusOK)
		}
	}
	if w := serve(t, dash.Handler(), "GET", "/api/operations/x"); w.Code != http.StatusNotFound {
		t.Errorf("operation lookup: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDashboard_ConfigEndpoint(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Auth.Token = "super-secret"
	dash := NewDashboardServer(NewCollector(), nil, cfg, nil, ":0")

	w := serve(t, dash.Handler(), "GET", "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if strings.Contains(body, "super-secret") {
		t.Error("config response leaked the auth token")
	}
	if !strings.Contains(body, `"generation"`) || !strings.Contains(body, `"providers"`) {
		t.Errorf("config response missing sections: %s", body)
	}
}

func TestDashboard_MetricsEndpoint(t *testing.T) {
	dash, collector, _ := setupDashboard(t)
	collector.Observe(provider.Event{Op: provider.OpGenerate, Provider: "gemini", Success: true})

	w := serve(t, dash.Handler(), "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "scoutman_provider_attempts_total") {
		t.Error("metrics output missing provider attempts counter")
	}
}

func TestDashboard_StatsHistoryEndpoint(t *testing.T) {
	dash, _, st := setupDashboard(t)
	if err := st.InsertOperation(&store.Operation{ID: "op-1", Op: "generate", Success: true, LatencyMs: 40}); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}

	w := serve(t, dash.Handler(), "GET", "/api/stats/history?range=7d")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var points []store.DayStats
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if len(points) != 1 || points[0].Generations != 1 {
		t.Errorf("history: got %+v, want one day with one generation", points)
	}
}

func TestDashboard_StatsHistoryBadRange(t *testing.T) {
	dash, _, _ := setupDashboard(t)

	w := serve(t, dash.Handler(), "GET", "/api/stats/history?range=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDashboard_AuthMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Auth.Enabled = true
	cfg.Auth.Token = "secret-token"

	dash := NewDashboardServer(NewCollector(), nil, cfg, nil, ":0")

	// Request without auth should get 401.
	w := serve(t, dash.Handler(), "GET", "/api/stats")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no auth: got %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Request with correct auth should succeed.
	req := httptest.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	dash.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid auth: got %d, want %d", rec.Code, http.StatusOK)
	}

	// Request with wrong token should get 403.
	req = httptest.NewRequest("GET", "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	dash.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token: got %d, want %d", rec.Code, http.StatusForbidden)
	}

	// Prometheus scrapes stay open.
	if w := serve(t, dash.Handler(), "GET", "/metrics"); w.Code != http.StatusOK {
		t.Errorf("metrics: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestDashboard_CORS_DefaultOrigins(t *testing.T) {
	dash, _, _ := setupDashboard(t)

	// Allowed origin should be reflected.
	req := httptest.NewRequest("OPTIONS", "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:7788")
	w := httptest.NewRecorder()
	dash.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:7788" {
		t.Errorf("CORS allowed origin: got %q, want %q", got, "http://localhost:7788")
	}

	// Unknown origin should be rejected on preflight.
	req = httptest.NewRequest("OPTIONS", "/api/health", nil)
	req.Header.Set("Origin", "https://example.com")
	w = httptest.NewRecorder()
	dash.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("CORS unknown origin preflight: got %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestParseDurationParam(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDurationParam(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDurationParam(%q): err=%v, wantErr=%v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDurationParam(%q): got %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?page=3&limit=x", nil)
	if got := queryInt(req, "page", 1); got != 3 {
		t.Errorf("page: got %d, want 3", got)
	}
	if got := queryInt(req, "limit", 50); got != 50 {
		t.Errorf("limit: got %d, want 50", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("missing: got %d, want 7", got)
	}
}

func TestDashboard_SetConfigEnablesAuth(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	dash := NewDashboardServer(NewCollector(), nil, cfg, nil, ":0")

	if w := serve(t, dash.Handler(), "GET", "/api/stats"); w.Code != http.StatusOK {
		t.Fatalf("auth disabled: got %d, want %d", w.Code, http.StatusOK)
	}

	reloaded := testutil.NewTestConfig(t)
	reloaded.Auth.Enabled = true
	reloaded.Auth.Token = "rotated"
	dash.SetConfig(reloaded)

	if w := serve(t, dash.Handler(), "GET", "/api/stats"); w.Code != http.StatusUnauthorized {
		t.Errorf("after reload: got %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
