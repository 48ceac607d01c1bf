package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"feedloop/internal/config"
	"feedloop/internal/db"
	"feedloop/internal/domain"
	"feedloop/internal/engine"
	"feedloop/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerWithAuth(t, AuthConfig{})
}

func newTestServerWithAuth(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestDispatchFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", map[string]any{
		"title":    "Investigate slow queries",
		"type":     "task",
		"priority": 2,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue status %d: %s", res.StatusCode, string(data))
	}
	var issue domain.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if issue.Status != domain.IssueStatusTriage {
		t.Fatalf("issue status = %s", issue.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/issues/"+issue.ID, map[string]any{"status": "todo"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move to todo status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/prompt-templates", map[string]any{
		"slug":       "task-default",
		"name":       "Task default",
		"conditions": `{"type":"task"}`,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template status %d: %s", res.StatusCode, string(data))
	}
	var tmpl domain.PromptTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/prompt-templates/"+tmpl.ID+"/versions", map[string]any{
		"content":     "Work on {{issue.title}}",
		"author_type": "human",
		"author_name": "tester",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create version status %d: %s", res.StatusCode, string(data))
	}
	var version domain.PromptVersion
	if err := json.Unmarshal(data, &version); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dispatch/queue", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue status %d: %s", res.StatusCode, string(data))
	}
	var queue QueueResponse
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if queue.Total != 1 || len(queue.Entries) != 1 {
		t.Fatalf("queue = %+v", queue)
	}
	if queue.Entries[0].Score.Total == 0 {
		t.Fatalf("queue entry score = %+v", queue.Entries[0].Score)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/dispatch/next", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}
	var dispatched DispatchResponse
	if err := json.Unmarshal(data, &dispatched); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	if !dispatched.Dispatched || dispatched.Result == nil {
		t.Fatalf("dispatch = %+v", dispatched)
	}
	if dispatched.Result.Issue.ID != issue.ID {
		t.Fatalf("dispatched issue = %s", dispatched.Result.Issue.ID)
	}
	if dispatched.Result.Prompt == nil || *dispatched.Result.Prompt != "Work on Investigate slow queries" {
		t.Fatalf("prompt = %v", dispatched.Result.Prompt)
	}
	if dispatched.Result.Meta == nil || dispatched.Result.Meta.VersionID != version.ID {
		t.Fatalf("meta = %+v", dispatched.Result.Meta)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/prompt-reviews", map[string]any{
		"version_id":   version.ID,
		"issue_id":     issue.ID,
		"clarity":      4,
		"completeness": 4,
		"relevance":    5,
		"author_type":  "agent",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var outcome engine.ReviewOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.ReviewCount != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}

	// The claimed issue is no longer in the queue.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/dispatch/next", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second dispatch status %d: %s", res.StatusCode, string(data))
	}
	dispatched = DispatchResponse{}
	if err := json.Unmarshal(data, &dispatched); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	if dispatched.Dispatched {
		t.Fatalf("expected empty pool, got %+v", dispatched)
	}
}

func TestSignalIngestion(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/signals", map[string]any{
		"source":   "sentry",
		"type":     "error",
		"severity": "high",
		"summary":  "NullPointer in billing",
		"payload":  map[string]any{"event_id": "abc123"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var out SignalResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Issue.Title != "[sentry] error: NullPointer in billing" {
		t.Fatalf("issue title = %q", out.Issue.Title)
	}
	if out.Issue.Priority != 2 {
		t.Fatalf("priority = %d, want 2 for high", out.Issue.Priority)
	}
	if out.Signal.IssueID != out.Issue.ID {
		t.Fatal("signal not linked")
	}
}

func TestDashboardStats(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", map[string]any{
		"title": "first", "type": "task",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dashboard/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats engine.DashboardStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Issues.Total != 1 || stats.Issues.ByStatus["triage"] != 1 {
		t.Fatalf("stats = %+v", stats.Issues)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/dashboard/prompts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("prompts status %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/issues/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/issues", map[string]any{"title": ""}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthToken(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{APIToken: "s3cret"})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/issues", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/issues", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/issues", nil, map[string]string{"X-Api-Key": "s3cret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}
