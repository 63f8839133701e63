package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agencyops/internal/catalog"
	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/engine"
	"agencyops/internal/logging"
	"agencyops/internal/migrate"
)

const testSecret = "test-secret"

var actorHeader = map[string]string{"X-Actor-Id": "dana"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e := engine.New(conn, cfg, cat)
	e.Logger = logging.Discard()
	e.Now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }
	if _, err := e.Seed(context.Background(), "tester"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testSecret,
		AllowLegacyActorHeader: true,
		DevLogin:               true,
		Logger:                 logging.Discard(),
	}})
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/docket", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/docket", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", code)
	}
}

func TestDevLoginToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dana"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		t.Fatalf("bad login response: %v %s", err, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/wf-city-media/steps/plan/approve", nil,
		map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}

	evRes, evBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=step.approved", nil, actorHeader)
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, string(evBody))
	}
	var page paginatedEvents
	_ = json.Unmarshal(evBody, &page)
	if len(page.Items) != 1 || page.Items[0].ActorID != "dana" {
		t.Fatalf("expected one approval by dana, got %+v", page.Items)
	}
}

func TestApproveAdvancesAndArchives(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/wf-spring-campaign/steps/concepts/approve", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}
	var out DecisionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if out.Workflow.CurrentStep != 4 {
		t.Fatalf("expected pointer 4, got %d", out.Workflow.CurrentStep)
	}
	if out.Workflow.Steps[3].Status != "current" {
		t.Fatalf("expected production current, got %s", out.Workflow.Steps[3].Status)
	}
	if len(out.Archived) != 1 || out.Archived[0] != "dk-concepts" {
		t.Fatalf("expected dk-concepts archived, got %v", out.Archived)
	}

	cur, curBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows/wf-spring-campaign/current", nil, actorHeader)
	if cur.StatusCode != http.StatusOK {
		t.Fatalf("current status %d: %s", cur.StatusCode, string(curBody))
	}
	var step StepResponse
	_ = json.Unmarshal(curBody, &step)
	if step.Step.ID != "production" || step.Panel != "in-progress-detail" || step.Position != 4 {
		t.Fatalf("unexpected current step %+v", step)
	}

	again, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/wf-spring-campaign/steps/concepts/approve", nil, actorHeader)
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", again.StatusCode, string(againBody))
	}
	if code := errorCode(t, againBody); code != "invalid_step_state" {
		t.Fatalf("expected invalid_step_state, got %s", code)
	}
}

func TestRequestChangesValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/workflows/wf-spring-campaign/steps/concepts/request-changes"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"feedback": "   "}, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"feedback": "Warmer palette please"}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request changes status %d: %s", res.StatusCode, string(body))
	}
	var out DecisionResponse
	_ = json.Unmarshal(body, &out)
	if out.Note == nil || out.Note.Body != "Warmer palette please" || out.Note.Author != "dana" {
		t.Fatalf("unexpected note %+v", out.Note)
	}
	if out.Workflow.Steps[2].Status != "current" {
		t.Fatalf("expected concepts to stay current, got %s", out.Workflow.Steps[2].Status)
	}
}

func TestConsult(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/workflows/wf-spring-campaign/steps/concepts/consult"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"agent_id": "publisher", "question": "Ready?"}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "agent_not_consultable" {
		t.Fatalf("expected agent_not_consultable, got %s", code)
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"agent_id": "researcher", "question": "What did the audience survey say?"}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("consult status %d: %s", res.StatusCode, string(body))
	}
	var out DecisionResponse
	_ = json.Unmarshal(body, &out)
	if out.Consultation == nil || out.Consultation.AgentID != "researcher" || out.Consultation.Reply == "" {
		t.Fatalf("unexpected consultation %+v", out.Consultation)
	}

	agentsRes, agentsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows/wf-spring-campaign/steps/concepts/consultable-agents", nil, actorHeader)
	if agentsRes.StatusCode != http.StatusOK {
		t.Fatalf("consultable agents status %d: %s", agentsRes.StatusCode, string(agentsBody))
	}
	if !strings.Contains(string(agentsBody), "brief-writer") {
		t.Fatalf("expected brief-writer in %s", string(agentsBody))
	}
}

func TestDocketEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/docket", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docket status %d: %s", res.StatusCode, string(body))
	}
	var out DocketResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal docket: %v", err)
	}
	if len(out.Items) == 0 || out.Items[0].Type != "operational" {
		t.Fatalf("expected operational item first, got %+v", out.Items)
	}
	if out.Summary.Top == nil || out.Summary.Top.ID != out.Items[0].ID {
		t.Fatalf("summary top mismatch: %+v", out.Summary.Top)
	}

	top, topBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/docket/top?project_id=proj-lumen-annual", nil, actorHeader)
	if top.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for empty docket, got %d %s", top.StatusCode, string(topBody))
	}
	if code := errorCode(t, topBody); code != "no_docket_items" {
		t.Fatalf("expected no_docket_items, got %s", code)
	}

	item, itemBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/docket/dk-budget", nil, actorHeader)
	if item.StatusCode != http.StatusOK {
		t.Fatalf("docket item status %d: %s", item.StatusCode, string(itemBody))
	}
	var it DocketItemResponse
	_ = json.Unmarshal(itemBody, &it)
	if len(it.AgentDetails) != 1 || it.AgentDetails[0].ID != "media-planner" {
		t.Fatalf("expected resolved media-planner, got %+v", it.AgentDetails)
	}
}

func TestCatalogLookups(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-harbor-spring", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("project status %d: %s", res.StatusCode, string(body))
	}
	var p ProjectResponse
	_ = json.Unmarshal(body, &p)
	if p.ClientName == "" || len(p.Workflows) != 1 || p.Workflows[0].ID != "wf-spring-campaign" {
		t.Fatalf("unexpected project %+v", p)
	}

	for _, path := range []string{"/v0/projects/nope", "/v0/clients/nope", "/v0/agents/nope", "/v0/workflows/nope", "/v0/workflows/wf-spring-campaign/steps/nope"} {
		res, body := doJSON(t, client, http.MethodGet, srv.URL+path, nil, actorHeader)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d %s", path, res.StatusCode, string(body))
		}
	}
}

func TestStartWorkflow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/wf-portal-identity/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(body))
	}
	var wf WorkflowResponse
	_ = json.Unmarshal(body, &wf)
	if wf.Status != "in_progress" || wf.Steps[0].Status != "current" {
		t.Fatalf("unexpected started workflow %+v", wf)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/wf-portal-identity/start", nil, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on restart, got %d %s", res.StatusCode, string(body))
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with a cursor, got %+v", page)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(body))
	}
	var next paginatedEvents
	_ = json.Unmarshal(body, &next)
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("expected older events on page 2, got %+v", next.Items)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d %s", res.StatusCode, string(body))
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var sigs []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(data, &evt)
		mu.Lock()
		got = append(got, evt)
		sigs = append(sigs, r.Header.Get("X-Agencyops-Signature"))
		mu.Unlock()
		if sign("s3cret", data) != strings.TrimPrefix(r.Header.Get("X-Agencyops-Signature"), "sha256=") {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"step.*"}, Secret: "s3cret"}}
	e := newTestEngine(t, cfg)
	d := newWebhookDispatcher(e)
	d.logger = logging.Discard()
	ctx := context.Background()

	// first pass pins the cursor to the seeded history
	d.dispatchAll(ctx)
	if len(got) != 0 {
		t.Fatalf("expected no replay of seed events, got %d", len(got))
	}

	if _, err := e.Approve(ctx, "wf-city-media", "plan", "dana"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != "step.approved" {
		t.Fatalf("expected one step.approved delivery, got %+v", got)
	}
	if !strings.HasPrefix(sigs[0], "sha256=") {
		t.Fatalf("missing signature header")
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"step.*", "chat.replied"})
	for evt, want := range map[string]bool{
		"step.approved":   true,
		"step.skipped":    true,
		"chat.replied":    true,
		"docket.archived": false,
	} {
		if f.match(evt) != want {
			t.Fatalf("match(%s) = %v, want %v", evt, !want, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match all")
	}
}

func TestSubmitDecision(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/workflows/wf-spring-campaign/steps/concepts/decision"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{
		"action":   "consult",
		"agent_id": "brief-writer",
		"question": "Which tone did the brief settle on?",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("consult decision status %d: %s", res.StatusCode, string(body))
	}
	var out DecisionResponse
	_ = json.Unmarshal(body, &out)
	if out.Consultation == nil || out.Consultation.StepID != "concepts" {
		t.Fatalf("unexpected consultation %+v", out.Consultation)
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{
		"action":   "request_changes",
		"feedback": "Try a bolder headline",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request changes decision status %d: %s", res.StatusCode, string(body))
	}
	out = DecisionResponse{}
	_ = json.Unmarshal(body, &out)
	if out.Note == nil || out.Workflow.ID != "wf-spring-campaign" {
		t.Fatalf("expected a note on wf-spring-campaign, got %+v", out)
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"action": "approve"}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve decision status %d: %s", res.StatusCode, string(body))
	}
	out = DecisionResponse{}
	_ = json.Unmarshal(body, &out)
	if out.Workflow.CurrentStep != 4 {
		t.Fatalf("expected pointer 4 after approve, got %d", out.Workflow.CurrentStep)
	}
}
