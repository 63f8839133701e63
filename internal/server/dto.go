package server

import (
	"agencyops/internal/catalog"
	"agencyops/internal/docket"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/workflow"
)

// Request payloads

type RequestChangesRequest struct {
	Feedback string `json:"feedback" doc:"Feedback recorded on the step. Must not be blank."`
}

type ConsultRequest struct {
	AgentID  string `json:"agent_id" doc:"An agent from a completed step of the same workflow."`
	Question string `json:"question"`
}

type DecisionRequest struct {
	Action   string `json:"action" enum:"approve,request_changes,consult"`
	Feedback string `json:"feedback,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Question string `json:"question,omitempty"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type AgencyResponse struct {
	Name      string `json:"name"`
	Clients   int    `json:"clients"`
	Projects  int    `json:"projects"`
	Agents    int    `json:"agents"`
	Workflows int    `json:"workflows"`
}

type ClientResponse struct {
	domain.Client
	Projects []domain.Project `json:"projects"`
}

type ProjectResponse struct {
	domain.Project
	ClientName string                 `json:"client_name,omitempty"`
	Workflows  []WorkflowSummary      `json:"workflows"`
	Calendar   []domain.CalendarEvent `json:"calendar"`
}

type WorkflowSummary struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Status      domain.WorkflowStatus `json:"status"`
	CurrentStep int                   `json:"current_step"`
	Progress    workflow.Progress     `json:"progress"`
}

type WorkflowResponse struct {
	domain.Workflow
	Progress workflow.Progress `json:"progress"`
}

type StepResponse struct {
	Step     domain.Step        `json:"step"`
	Panel    workflow.PanelKind `json:"panel" enum:"completed-summary,in-progress-detail,upcoming-preview"`
	Position int                `json:"position"`
	Progress workflow.Progress  `json:"progress"`
	Agents   []domain.Agent     `json:"agents"`
}

type DecisionResponse struct {
	Workflow     WorkflowResponse `json:"workflow"`
	Note         *domain.Note     `json:"note,omitempty"`
	Consultation *Consultation    `json:"consultation,omitempty"`
	Archived     []string         `json:"archived"`
}

type Consultation struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	AgentID  string `json:"agent_id"`
	Question string `json:"question"`
	Reply    string `json:"reply"`
	AskedAt  string `json:"asked_at"`
}

type DocketItemResponse struct {
	domain.DocketItem
	ProjectName  string         `json:"project_name,omitempty"`
	AgentDetails []domain.Agent `json:"agent_details"`
}

type DocketResponse struct {
	Items   []DocketItemResponse `json:"items"`
	Summary docket.Summary       `json:"summary"`
}

type ChatResponse struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func workflowResponse(wf domain.Workflow) WorkflowResponse {
	return WorkflowResponse{Workflow: wf, Progress: workflow.ProgressOf(wf)}
}

func workflowSummary(wf domain.Workflow) WorkflowSummary {
	return WorkflowSummary{
		ID:          wf.ID,
		Name:        wf.Name,
		Status:      wf.Status,
		CurrentStep: wf.CurrentStep,
		Progress:    workflow.ProgressOf(wf),
	}
}

func decisionResponse(res engine.Result) DecisionResponse {
	out := DecisionResponse{
		Workflow: workflowResponse(res.Workflow),
		Note:     res.Note,
		Archived: res.Archived,
	}
	if out.Archived == nil {
		out.Archived = []string{}
	}
	if c := res.Consultation; c != nil {
		out.Consultation = &Consultation{
			ID:       c.ID,
			StepID:   c.StepID,
			AgentID:  c.AgentID,
			Question: c.Question,
			Reply:    res.Reply,
			AskedAt:  c.AskedAt,
		}
	}
	return out
}

func docketItemResponse(cat *catalog.Catalog, it domain.DocketItem) DocketItemResponse {
	out := DocketItemResponse{DocketItem: it, AgentDetails: []domain.Agent{}}
	if cat == nil {
		return out
	}
	if p, ok := cat.Project(it.ProjectID); ok {
		out.ProjectName = p.Name
	}
	out.AgentDetails = cat.AgentsFor(it.Agents)
	return out
}
