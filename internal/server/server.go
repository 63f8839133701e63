package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agencyops/internal/decision"
	"agencyops/internal/docket"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Context bounds background work such as webhook delivery.
	Context context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_step_state"`
	Message string         `json:"message" example:"approve step brief in workflow wf-1: invalid step state: step is complete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"step_id\":\"brief\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the agency API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400; 422 is kept for domain validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Agency Ops API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerDocket(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	bg := cfg.Context
	if bg == nil {
		bg = context.Background()
	}
	startWebhookDispatcher(bg, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var details map[string]any
	var se *domain.StepError
	if errors.As(err, &se) {
		details = map[string]any{"op": se.Op, "workflow_id": se.WorkflowID}
		if se.StepID != "" {
			details["step_id"] = se.StepID
		}
	}
	msg := err.Error()
	switch {
	case domain.IsNotFound(err):
		return newAPIError(http.StatusNotFound, "not_found", msg, details)
	case errors.Is(err, domain.ErrNoDocketItems):
		return newAPIError(http.StatusNotFound, "no_docket_items", msg, details)
	case decision.IsNotConsultable(err):
		return newAPIError(http.StatusConflict, "agent_not_consultable", msg, details)
	case errors.Is(err, domain.ErrInvalidStepState):
		return newAPIError(http.StatusConflict, "invalid_step_state", msg, details)
	case errors.Is(err, domain.ErrEmptyWorkflow):
		return newAPIError(http.StatusConflict, "empty_workflow", msg, details)
	case domain.IsValidation(err):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, details)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "timeout", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Agency Ops API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

type healthOutput struct {
	Body map[string]string `json:"body"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		return &healthOutput{Body: map[string]string{"status": "ok"}}, nil
	})
}

type agencyOutput struct {
	Body AgencyResponse `json:"body"`
}

type clientsOutput struct {
	Body []domain.Client `json:"body"`
}

type clientOutput struct {
	Body ClientResponse `json:"body"`
}

type projectsOutput struct {
	Body []domain.Project `json:"body"`
}

type projectOutput struct {
	Body ProjectResponse `json:"body"`
}

type agentsOutput struct {
	Body []domain.Agent `json:"body"`
}

type agentOutput struct {
	Body domain.Agent `json:"body"`
}

type calendarOutput struct {
	Body []domain.CalendarEvent `json:"body"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	cat := e.Catalog

	huma.Register(api, huma.Operation{
		OperationID: "get-agency",
		Method:      http.MethodGet,
		Path:        "/agency",
		Summary:     "Agency overview",
	}, func(ctx context.Context, _ *struct{}) (*agencyOutput, error) {
		return &agencyOutput{Body: AgencyResponse{
			Name:      cat.Agency(),
			Clients:   len(cat.Clients()),
			Projects:  len(cat.Projects()),
			Agents:    len(cat.Agents()),
			Workflows: len(cat.Workflows()),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*clientsOutput, error) {
		return &clientsOutput{Body: cat.Clients()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client with its projects",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id"`
	}) (*clientOutput, error) {
		c, ok := cat.Client(input.ClientID)
		if !ok {
			return nil, handleError(fmt.Errorf("client %s: %w", input.ClientID, domain.ErrNotFound))
		}
		projects := cat.ProjectsByClient(c.ID)
		if projects == nil {
			projects = []domain.Project{}
		}
		return &clientOutput{Body: ClientResponse{Client: c, Projects: projects}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		Status   string `query:"status" enum:"active,completed,paused"`
	}) (*projectsOutput, error) {
		projects := cat.Projects()
		if input.ClientID != "" {
			projects = cat.ProjectsByClient(input.ClientID)
		}
		out := []domain.Project{}
		for _, p := range projects {
			if input.Status != "" && string(p.Status) != input.Status {
				continue
			}
			out = append(out, p)
		}
		return &projectsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with workflows and calendar",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*projectOutput, error) {
		p, ok := cat.Project(input.ProjectID)
		if !ok {
			return nil, handleError(fmt.Errorf("project %s: %w", input.ProjectID, domain.ErrNotFound))
		}
		wfs, err := e.ListWorkflows(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectResponse{Project: p, Workflows: []WorkflowSummary{}, Calendar: []domain.CalendarEvent{}}
		if c, ok := cat.Client(p.ClientID); ok {
			resp.ClientName = c.Name
		}
		for _, wf := range wfs {
			resp.Workflows = append(resp.Workflows, workflowSummary(wf))
		}
		resp.Calendar = append(resp.Calendar, cat.CalendarEventsByProject(p.ID)...)
		return &projectOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*agentsOutput, error) {
		return &agentsOutput{Body: cat.Agents()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*agentOutput, error) {
		a, ok := cat.Agent(input.AgentID)
		if !ok {
			return nil, handleError(fmt.Errorf("agent %s: %w", input.AgentID, domain.ErrNotFound))
		}
		return &agentOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-calendar",
		Method:      http.MethodGet,
		Path:        "/calendar",
		Summary:     "List calendar events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*calendarOutput, error) {
		events := cat.CalendarEvents()
		if input.ProjectID != "" {
			events = cat.CalendarEventsByProject(input.ProjectID)
		}
		if events == nil {
			events = []domain.CalendarEvent{}
		}
		return &calendarOutput{Body: events}, nil
	})
}

type workflowsOutput struct {
	Body []WorkflowResponse `json:"body"`
}

type workflowOutput struct {
	Body WorkflowResponse `json:"body"`
}

type stepOutput struct {
	Body StepResponse `json:"body"`
}

type workflowPath struct {
	WorkflowID string `path:"workflow_id"`
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*workflowsOutput, error) {
		wfs, err := e.ListWorkflows(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]WorkflowResponse, 0, len(wfs))
		for _, wf := range wfs {
			out = append(out, workflowResponse(wf))
		}
		return &workflowsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workflowPath) (*workflowOutput, error) {
		wf, err := e.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &workflowOutput{Body: workflowResponse(wf)}, nil
	})

	transitions := []struct {
		id, verb, summary string
		fn                func(context.Context, string, string) (domain.Workflow, error)
	}{
		{"start-workflow", "start", "Start a workflow on its first step", e.Start},
		{"advance-workflow", "advance", "Complete the current step", e.Advance},
		{"skip-step", "skip", "Skip the current step", e.Skip},
	}
	for _, tr := range transitions {
		fn := tr.fn
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        "/workflows/{workflow_id}/" + tr.verb,
			Summary:     tr.summary,
			Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *workflowPath) (*workflowOutput, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			wf, err := fn(ctx, input.WorkflowID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &workflowOutput{Body: workflowResponse(wf)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-current-step",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/current",
		Summary:     "Get the current step, falling back to the first step",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *workflowPath) (*stepOutput, error) {
		return selectStep(ctx, e, input.WorkflowID, "")
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-step",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/steps/{step_id}",
		Summary:     "Get a step with its detail panel",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
		StepID     string `path:"step_id"`
	}) (*stepOutput, error) {
		return selectStep(ctx, e, input.WorkflowID, input.StepID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-consultable-agents",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/steps/{step_id}/consultable-agents",
		Summary:     "Agents from completed steps that can be consulted",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
		StepID     string `path:"step_id"`
	}) (*agentsOutput, error) {
		agents, err := e.ConsultableAgents(ctx, input.WorkflowID, input.StepID)
		if err != nil {
			return nil, handleError(err)
		}
		return &agentsOutput{Body: agents}, nil
	})
}

func selectStep(ctx context.Context, e engine.Engine, workflowID, stepID string) (*stepOutput, error) {
	view, err := e.SelectStep(ctx, workflowID, stepID)
	if err != nil {
		return nil, handleError(err)
	}
	resp := StepResponse{
		Step:     view.Step,
		Panel:    view.Panel,
		Position: view.Position,
		Progress: view.Progress,
		Agents:   []domain.Agent{},
	}
	if e.Catalog != nil {
		resp.Agents = e.Catalog.AgentsFor(view.Step.Agents)
	}
	return &stepOutput{Body: resp}, nil
}

type decisionOutput struct {
	Body DecisionResponse `json:"body"`
}

type StepPath struct {
	WorkflowID string `path:"workflow_id"`
	StepID     string `path:"step_id"`
}

var decisionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "approve-step",
		Method:      http.MethodPost,
		Path:        "/workflows/{workflow_id}/steps/{step_id}/approve",
		Summary:     "Approve the current step and advance",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *StepPath) (*decisionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Approve(ctx, input.WorkflowID, input.StepID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionOutput{Body: decisionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-changes",
		Method:      http.MethodPost,
		Path:        "/workflows/{workflow_id}/steps/{step_id}/request-changes",
		Summary:     "Record feedback on the current step",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		StepPath
		Body RequestChangesRequest `json:"body"`
	}) (*decisionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RequestChanges(ctx, input.WorkflowID, input.StepID, actorID, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionOutput{Body: decisionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "consult-agent",
		Method:      http.MethodPost,
		Path:        "/workflows/{workflow_id}/steps/{step_id}/consult",
		Summary:     "Consult an agent from a completed step",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		StepPath
		Body ConsultRequest `json:"body"`
	}) (*decisionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Consult(ctx, input.WorkflowID, input.StepID, actorID, input.Body.AgentID, input.Body.Question)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionOutput{Body: decisionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-decision",
		Method:      http.MethodPost,
		Path:        "/workflows/{workflow_id}/steps/{step_id}/decision",
		Summary:     "Submit a decision for the current step",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		StepPath
		Body DecisionRequest `json:"body"`
	}) (*decisionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d := decision.Decision{
			Action:   decision.Action(input.Body.Action),
			Feedback: input.Body.Feedback,
			AgentID:  input.Body.AgentID,
			Question: input.Body.Question,
		}
		res, err := e.Decide(ctx, input.WorkflowID, input.StepID, actorID, d)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionOutput{Body: decisionResponse(res)}, nil
	})
}

type docketOutput struct {
	Body DocketResponse `json:"body"`
}

type docketItemOutput struct {
	Body DocketItemResponse `json:"body"`
}

type summaryOutput struct {
	Body docket.Summary `json:"body"`
}

type chatOutput struct {
	Body ChatResponse `json:"body"`
}

type docketQuery struct {
	ProjectID string `query:"project_id"`
}

func registerDocket(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-docket",
		Method:      http.MethodGet,
		Path:        "/docket",
		Summary:     "Open docket items ranked by type",
	}, func(ctx context.Context, input *docketQuery) (*docketOutput, error) {
		items, err := e.Docket(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		summary, err := e.Summary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := DocketResponse{Items: make([]DocketItemResponse, 0, len(items)), Summary: summary}
		for _, it := range items {
			resp.Items = append(resp.Items, docketItemResponse(e.Catalog, it))
		}
		return &docketOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "top-docket-item",
		Method:      http.MethodGet,
		Path:        "/docket/top",
		Summary:     "Top recommendation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *docketQuery) (*docketItemOutput, error) {
		it, err := e.TopRecommendation(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &docketItemOutput{Body: docketItemResponse(e.Catalog, it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "docket-brief",
		Method:      http.MethodGet,
		Path:        "/docket/brief",
		Summary:     "Docket counts and brief text",
	}, func(ctx context.Context, input *docketQuery) (*summaryOutput, error) {
		summary, err := e.Summary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &summaryOutput{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-docket-item",
		Method:      http.MethodGet,
		Path:        "/docket/{item_id}",
		Summary:     "Get docket item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*docketItemOutput, error) {
		it, err := e.DocketItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &docketItemOutput{Body: docketItemResponse(e.Catalog, it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Ask the docket assistant",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ChatRequest `json:"body"`
	}) (*chatOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reply, err := e.Chat(ctx, actorID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &chatOutput{Body: ChatResponse{ID: reply.ID, Author: reply.Author, Body: reply.Body}}, nil
	})
}

type eventsOutput struct {
	Body paginatedEvents `json:"body"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"workflow,step,docket_item,chat"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*eventsOutput, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, limit+1, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &eventsOutput{Body: resp}, nil
	})
}

type devLoginOutput struct {
	Body DevLoginResponse `json:"body"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*devLoginOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		// Tokens are checked against the wall clock, so they are minted with it too.
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &devLoginOutput{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func eventResponse(evt domain.Event) EventResponse {
	var payload any = map[string]any{}
	if evt.Payload != "" {
		var decoded any
		if err := json.Unmarshal([]byte(evt.Payload), &decoded); err == nil {
			payload = decoded
		} else {
			payload = evt.Payload
		}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
