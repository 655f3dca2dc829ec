package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	afhttp "github.com/Strob0t/AgentForge/internal/adapter/http"
	"github.com/Strob0t/AgentForge/internal/adapter/memory"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/domain/activity"
	"github.com/Strob0t/AgentForge/internal/domain/agent"
	"github.com/Strob0t/AgentForge/internal/domain/deployment"
	"github.com/Strob0t/AgentForge/internal/domain/pipeline"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
	"github.com/Strob0t/AgentForge/internal/resilience"
	"github.com/Strob0t/AgentForge/internal/service"
)

// --- Fakes ---

type stubBackend struct{}

func (stubBackend) Generate(_ context.Context, _ string) (pipeline.GeneratedCode, error) {
	return pipeline.GeneratedCode{Code: "print('hi')", Name: "greeter", Description: "Says hi"}, nil
}

func (stubBackend) Fix(_ context.Context, code, _ string) (string, error) { return code, nil }

func (stubBackend) Run(_ context.Context, _, _ string) pipeline.TestResult {
	return pipeline.TestResult{Success: true, Output: "ok"}
}

func (stubBackend) Publish(_ context.Context, _, _, _ string) (pipeline.PublishResult, error) {
	return pipeline.PublishResult{Reference: "abc123", URL: "https://github.com/acme/agents/commit/abc123"}, nil
}

func (stubBackend) Trigger(_ context.Context) (pipeline.ReleaseResult, error) {
	return pipeline.ReleaseResult{ReleaseID: "rel-1", Status: "triggered"}, nil
}

type testServer struct {
	store    *memory.Store
	deploy   *service.DeployService
	handlers *afhttp.Handlers
	router   chi.Router
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	store := memory.NewStore()
	b := stubBackend{}
	backends := stagebackend.Backends{Generator: b, Repairer: b, Tester: b, Publisher: b, Releaser: b}
	p := service.NewPipelineService(store, backends, config.Pipeline{})
	deploy := service.NewDeployService(p, nil, nil, 16)
	h := &afhttp.Handlers{
		Records:     service.NewRecordService(store, nil, nil, 0),
		Deploy:      deploy,
		Pipeline:    p,
		StoreDriver: "memory",
	}
	r := chi.NewRouter()
	afhttp.MountRoutes(r, h, limiter)
	return &testServer{store: store, deploy: deploy, handlers: h, router: r}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedAgent(t *testing.T, name string, status agent.Status) *agent.Agent {
	t.Helper()
	ctx := context.Background()
	a, err := s.store.CreateAgent(ctx, agent.CreateRequest{Name: name, Prompt: "Create a " + name})
	if err != nil {
		t.Fatal(err)
	}
	a, err = s.store.UpdateAgent(ctx, a.ID, agent.Update{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestListAgentsEmpty(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestGetAgent(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.seedAgent(t, "summarizer", agent.StatusRunning)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/api/agents/" + itoa(a.ID), http.StatusOK},
		{"by name", "/api/agents/by-name/summarizer", http.StatusOK},
		{"missing", "/api/agents/999", http.StatusNotFound},
		{"missing name", "/api/agents/by-name/nobody", http.StatusNotFound},
		{"malformed id", "/api/agents/abc", http.StatusBadRequest},
		{"zero id", "/api/agents/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if rec.Code == http.StatusOK {
				got := decode[agent.Agent](t, rec)
				if got.Name != "summarizer" {
					t.Errorf("unexpected agent %+v", got)
				}
			}
		})
	}
}

func TestGetAgentNotFoundBody(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/agents/42", "")
	body := decode[map[string]string](t, rec)
	if body["error"] != "Agent not found" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestUpdateAgent(t *testing.T) {
	s := newTestServer(t, nil)
	running := s.seedAgent(t, "watcher", agent.StatusRunning)
	failed := s.seedAgent(t, "broken", agent.StatusFailed)

	tests := []struct {
		name       string
		id         int64
		body       string
		wantStatus int
	}{
		{"pause", running.ID, `{"status":"paused"}`, http.StatusOK},
		{"resume", running.ID, `{"status":"running"}`, http.StatusOK},
		{"description only", failed.ID, `{"description":"needs work"}`, http.StatusOK},
		{"illegal transition", failed.ID, `{"status":"running"}`, http.StatusBadRequest},
		{"bad json", running.ID, `{status`, http.StatusBadRequest},
		{"missing", 999, `{"status":"paused"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPatch, "/api/agents/"+itoa(tt.id), tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	got, err := s.store.GetAgent(context.Background(), failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "needs work" || got.Status != agent.StatusFailed {
		t.Errorf("unexpected agent after edits %+v", got)
	}
}

func TestDeleteAgent(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.seedAgent(t, "temp", agent.StatusPaused)

	rec := s.do(t, http.MethodDelete, "/api/agents/"+itoa(a.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["message"] != "Agent deleted successfully" {
		t.Errorf("unexpected body %v", body)
	}

	rec = s.do(t, http.MethodDelete, "/api/agents/"+itoa(a.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestStartDeployment(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/deploy", `{"prompt":"Create a greeter agent that says hi"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]string](t, rec)
	if body["message"] != "Deployment started" || body["status"] != "initiated" || body["run_id"] == "" {
		t.Errorf("unexpected body %v", body)
	}

	s.deploy.Wait()

	rec = s.do(t, http.MethodGet, "/api/deployments", "")
	deps := decode[[]deployment.Deployment](t, rec)
	if len(deps) != 1 || deps[0].Status != deployment.StatusSuccess || deps[0].Progress != 100 {
		t.Fatalf("unexpected deployments %+v", deps)
	}

	rec = s.do(t, http.MethodGet, "/api/deployments/"+itoa(deps[0].ID), "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for deployment, got %d", rec.Code)
	}

	a, err := s.store.GetAgentByName(context.Background(), "greeter")
	if err != nil {
		t.Fatal(err)
	}
	rec = s.do(t, http.MethodGet, "/api/agents/"+itoa(a.ID)+"/blueprints", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "v1-greeter") {
		t.Errorf("expected the agent's blueprint, got %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/agents/"+itoa(a.ID)+"/deployments", "")
	if got := decode[[]deployment.Deployment](t, rec); len(got) != 1 {
		t.Errorf("expected one agent deployment, got %d", len(got))
	}
}

func TestStartDeploymentValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"short prompt", `{"prompt":"make bot"}`, "Prompt must be at least 10 characters"},
		{"missing prompt", `{}`, "Prompt must be at least 10 characters"},
		{"malformed", `{"prompt":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/deploy", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if body := decode[map[string]string](t, rec); body["error"] != tt.wantMsg {
				t.Errorf("expected %q, got %v", tt.wantMsg, body)
			}
		})
	}
	s.deploy.Wait()
	if deps, _ := s.store.ListDeployments(context.Background()); len(deps) != 0 {
		t.Errorf("invalid requests must not create deployments, got %d", len(deps))
	}
}

func TestStartDeploymentRateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(0.001, 1))
	body := `{"prompt":"Create a greeter agent that says hi"}`

	if rec := s.do(t, http.MethodPost, "/api/deploy", body); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/deploy", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	s.deploy.Wait()

	// Reads are not limited.
	if rec := s.do(t, http.MethodGet, "/api/agents", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for reads, got %d", rec.Code)
	}
}

func TestListActivity(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.seedAgent(t, "logger", agent.StatusRunning)
	ctx := context.Background()
	for i := range 4 {
		req := activity.CreateRequest{Level: activity.LevelInfo, Message: "tick"}
		if i%2 == 0 {
			req.AgentID = &a.ID
		}
		if _, err := s.store.CreateActivityLog(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
	}{
		{"all", "/api/logs", http.StatusOK, 4},
		{"limit", "/api/logs?limit=3", http.StatusOK, 3},
		{"zero limit", "/api/logs?limit=0", http.StatusOK, 0},
		{"agent filter", "/api/logs?agent_id=" + itoa(a.ID), http.StatusOK, 2},
		{"agent route", "/api/agents/" + itoa(a.ID) + "/logs?limit=1", http.StatusOK, 1},
		{"bad limit", "/api/logs?limit=many", http.StatusBadRequest, 0},
		{"negative limit", "/api/logs?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if rec.Code != http.StatusOK {
				return
			}
			if logs := decode[[]activity.Log](t, rec); len(logs) != tt.wantCount {
				t.Errorf("expected %d logs, got %d", tt.wantCount, len(logs))
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.seedAgent(t, "counter", agent.StatusRunning)
	ctx := context.Background()
	for _, status := range []deployment.Status{deployment.StatusSuccess, deployment.StatusFailed, deployment.StatusSuccess} {
		d, err := s.store.CreateDeployment(ctx, &a.ID)
		if err != nil {
			t.Fatal(err)
		}
		st := status
		if _, err := s.store.UpdateDeployment(ctx, d.ID, deployment.Update{Status: &st}); err != nil {
			t.Fatal(err)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st := decode[service.Stats](t, rec)
	if st.ActiveAgents != 1 || st.TotalDeployments != 3 || st.SuccessRate != 67 || st.WeeklyDeployments != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestStatsWireKeys(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/stats", "")
	body := decode[map[string]any](t, rec)
	for _, key := range []string{"active_agents", "total_deployments", "success_rate", "weekly_deployments", "last_deploy_time"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing key %q in %v", key, body)
		}
	}
	for _, key := range []string{"weeklyDeployments", "lastDeployTime"} {
		if _, ok := body[key]; ok {
			t.Errorf("unexpected camelCase key %q", key)
		}
	}
}

func TestGetBlueprintNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/blueprints/7", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["error"] != "Blueprint not found" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	breaker := resilience.NewBreaker("github", 1, time.Minute)
	s.handlers.Breakers = []*resilience.Breaker{breaker, resilience.NewBreaker("render", 1, time.Minute)}

	rec := s.do(t, http.MethodGet, "/health", "")
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["store"] != "memory" || body["nats"] != "disabled" {
		t.Errorf("unexpected health %v", body)
	}

	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	rec = s.do(t, http.MethodGet, "/health", "")
	body = decode[map[string]any](t, rec)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded with an open breaker, got %v", body)
	}
	breakers, _ := body["breakers"].(map[string]any)
	if breakers["github"] != "open" || breakers["render"] != "closed" {
		t.Errorf("unexpected breaker states %v", breakers)
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
