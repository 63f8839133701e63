package agencyopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Agency Ops HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. The server
	// must run with --allow-legacy-actor to accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

type Step struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Assignee    *string  `json:"assignee,omitempty"`
	Agents      []string `json:"agents"`
	StartedAt   *string  `json:"started_at,omitempty"`
	CompletedAt *string  `json:"completed_at,omitempty"`
	Skipped     bool     `json:"skipped,omitempty"`
	Notes       []Note   `json:"notes,omitempty"`
}

type Note struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

type Progress struct {
	Complete int `json:"complete"`
	Total    int `json:"total"`
	Percent  int `json:"percent"`
}

// Workflow is the API workflow model.
type Workflow struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	CurrentStep int      `json:"current_step"`
	Steps       []Step   `json:"steps"`
	Progress    Progress `json:"progress"`
}

// StepDetail is a step with the panel it renders in.
type StepDetail struct {
	Step     Step     `json:"step"`
	Panel    string   `json:"panel"`
	Position int      `json:"position"`
	Progress Progress `json:"progress"`
	Agents   []Agent  `json:"agents"`
}

type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Consultation struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	AgentID  string `json:"agent_id"`
	Question string `json:"question"`
	Reply    string `json:"reply"`
	AskedAt  string `json:"asked_at"`
}

// DecisionResult is returned by every decision call.
type DecisionResult struct {
	Workflow     Workflow      `json:"workflow"`
	Note         *Note         `json:"note,omitempty"`
	Consultation *Consultation `json:"consultation,omitempty"`
	Archived     []string      `json:"archived"`
}

type DocketItem struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	StepID      string   `json:"step_id,omitempty"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Priority    string   `json:"priority"`
	Type        string   `json:"type"`
	Agents      []string `json:"agents"`
	CreatedAt   string   `json:"created_at"`
}

type DocketSummary struct {
	Total  int            `json:"total"`
	Urgent int            `json:"urgent"`
	ByType map[string]int `json:"by_type"`
	Top    *DocketItem    `json:"top,omitempty"`
	Brief  string         `json:"brief"`
}

type Docket struct {
	Items   []DocketItem  `json:"items"`
	Summary DocketSummary `json:"summary"`
}

type ChatReply struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Workflows(ctx context.Context, projectID string) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, withQuery("workflows", url.Values{"project_id": {projectID}}), nil, &resp)
	return resp, err
}

func (c *Client) Workflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "workflows/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CurrentStep returns the current step, or the first step when none is current.
func (c *Client) CurrentStep(ctx context.Context, workflowID string) (StepDetail, error) {
	var resp StepDetail
	err := c.do(ctx, http.MethodGet, "workflows/"+url.PathEscape(workflowID)+"/current", nil, &resp)
	return resp, err
}

func (c *Client) Step(ctx context.Context, workflowID, stepID string) (StepDetail, error) {
	var resp StepDetail
	err := c.do(ctx, http.MethodGet, stepPath(workflowID, stepID, ""), nil, &resp)
	return resp, err
}

// Start, Advance and Skip move the workflow without a step-level decision.
func (c *Client) Start(ctx context.Context, workflowID string) (Workflow, error) {
	return c.transition(ctx, workflowID, "start")
}

func (c *Client) Advance(ctx context.Context, workflowID string) (Workflow, error) {
	return c.transition(ctx, workflowID, "advance")
}

func (c *Client) Skip(ctx context.Context, workflowID string) (Workflow, error) {
	return c.transition(ctx, workflowID, "skip")
}

func (c *Client) transition(ctx context.Context, workflowID, verb string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "workflows/"+url.PathEscape(workflowID)+"/"+verb, nil, &resp)
	return resp, err
}

func (c *Client) Approve(ctx context.Context, workflowID, stepID string) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, stepPath(workflowID, stepID, "approve"), nil, &resp)
	return resp, err
}

func (c *Client) RequestChanges(ctx context.Context, workflowID, stepID, feedback string) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, stepPath(workflowID, stepID, "request-changes"), map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

func (c *Client) Consult(ctx context.Context, workflowID, stepID, agentID, question string) (DecisionResult, error) {
	var resp DecisionResult
	body := map[string]any{"agent_id": agentID, "question": question}
	err := c.do(ctx, http.MethodPost, stepPath(workflowID, stepID, "consult"), body, &resp)
	return resp, err
}

func (c *Client) ConsultableAgents(ctx context.Context, workflowID, stepID string) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, stepPath(workflowID, stepID, "consultable-agents"), nil, &resp)
	return resp, err
}

// Docket returns the ranked docket. An empty projectID lists every project.
func (c *Client) Docket(ctx context.Context, projectID string) (Docket, error) {
	var resp Docket
	err := c.do(ctx, http.MethodGet, withQuery("docket", url.Values{"project_id": {projectID}}), nil, &resp)
	return resp, err
}

func (c *Client) TopRecommendation(ctx context.Context, projectID string) (DocketItem, error) {
	var resp DocketItem
	err := c.do(ctx, http.MethodGet, withQuery("docket/top", url.Values{"project_id": {projectID}}), nil, &resp)
	return resp, err
}

func (c *Client) Chat(ctx context.Context, message string) (ChatReply, error) {
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, "chat", map[string]any{"message": message}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{"cursor": {cursor}}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

func stepPath(workflowID, stepID, verb string) string {
	p := fmt.Sprintf("workflows/%s/steps/%s", url.PathEscape(workflowID), url.PathEscape(stepID))
	if verb != "" {
		p += "/" + verb
	}
	return p
}

// withQuery appends the non-empty values of q to endpoint.
func withQuery(endpoint string, q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
