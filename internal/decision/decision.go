// Package decision implements the human decision taken at a workflow step:
// approve, request changes or consult a previous agent.
package decision

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agencyops/internal/domain"
	"agencyops/internal/workflow"
)

type Action string

const (
	ActionApprove        Action = "approve"
	ActionRequestChanges Action = "request_changes"
	ActionConsult        Action = "consult"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionRequestChanges, ActionConsult:
		return true
	}
	return false
}

// ErrAgentNotConsultable is returned when the agent did not work on a complete
// step of the workflow. It matches domain.ErrInvalidStepState.
var ErrAgentNotConsultable = fmt.Errorf("%w: agent did not work on a completed step", domain.ErrInvalidStepState)

// Decision is a submitted choice for a single step.
type Decision struct {
	Action   Action `json:"action" enum:"approve,request_changes,consult"`
	Author   string `json:"author,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Question string `json:"question,omitempty"`
}

// Consultation is the side conversation opened by a consult decision. It is
// never persisted as step state.
type Consultation struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	AgentID    string `json:"agent_id"`
	Question   string `json:"question"`
	AskedAt    string `json:"asked_at"`
}

// Outcome is what a submitted decision produced.
type Outcome struct {
	Workflow     domain.Workflow
	Note         *domain.Note
	Consultation *Consultation
}

// Approve advances the workflow past stepID.
func Approve(wf domain.Workflow, stepID string, now time.Time) (domain.Workflow, error) {
	if err := requireCurrent("approve", wf, stepID); err != nil {
		return wf, err
	}
	return workflow.Advance(wf, now)
}

// RequestChanges records feedback on stepID. The step stays current.
func RequestChanges(wf domain.Workflow, stepID, author, feedback string, now time.Time) (domain.Workflow, domain.Note, error) {
	if err := requireCurrent("request changes", wf, stepID); err != nil {
		return wf, domain.Note{}, err
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return wf, domain.Note{}, &domain.StepError{Op: "request changes", WorkflowID: wf.ID, StepID: stepID,
			Err: fmt.Errorf("%w: feedback is required", domain.ErrValidationFailed)}
	}
	if author == "" {
		author = "reviewer"
	}
	note := domain.Note{
		ID:        uuid.NewString(),
		Author:    author,
		Kind:      domain.NoteFeedback,
		Body:      feedback,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	out := workflow.Clone(wf)
	for i := range out.Steps {
		if out.Steps[i].ID == stepID {
			out.Steps[i].Notes = append(out.Steps[i].Notes, note)
		}
	}
	out.UpdatedAt = note.CreatedAt
	return out, note, nil
}

// Consult checks that agentID may be consulted about stepID and opens a
// consultation. The workflow is not changed.
func Consult(wf domain.Workflow, stepID, agentID, question string, now time.Time) (Consultation, error) {
	if err := requireCurrent("consult", wf, stepID); err != nil {
		return Consultation{}, err
	}
	consultable := false
	for _, a := range workflow.PreviousAgents(wf) {
		if a == agentID {
			consultable = true
			break
		}
	}
	if !consultable {
		return Consultation{}, &domain.StepError{Op: "consult", WorkflowID: wf.ID, StepID: stepID,
			Err: fmt.Errorf("%w: %s", ErrAgentNotConsultable, agentID)}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Consultation{}, &domain.StepError{Op: "consult", WorkflowID: wf.ID, StepID: stepID,
			Err: fmt.Errorf("%w: question is required", domain.ErrValidationFailed)}
	}
	return Consultation{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		StepID:     stepID,
		AgentID:    agentID,
		Question:   question,
		AskedAt:    now.UTC().Format(time.RFC3339),
	}, nil
}

// Apply dispatches a submitted decision.
func Apply(wf domain.Workflow, stepID string, d Decision, now time.Time) (Outcome, error) {
	switch d.Action {
	case ActionApprove:
		out, err := Approve(wf, stepID, now)
		if err != nil {
			return Outcome{Workflow: wf}, err
		}
		return Outcome{Workflow: out}, nil
	case ActionRequestChanges:
		out, note, err := RequestChanges(wf, stepID, d.Author, d.Feedback, now)
		if err != nil {
			return Outcome{Workflow: wf}, err
		}
		return Outcome{Workflow: out, Note: &note}, nil
	case ActionConsult:
		c, err := Consult(wf, stepID, d.AgentID, d.Question, now)
		if err != nil {
			return Outcome{Workflow: wf}, err
		}
		return Outcome{Workflow: wf, Consultation: &c}, nil
	default:
		return Outcome{Workflow: wf}, fmt.Errorf("%w: unknown action %q", domain.ErrValidationFailed, d.Action)
	}
}

// ConsultableAgents lists the agents a decision on stepID may consult.
func ConsultableAgents(wf domain.Workflow, stepID string) ([]string, error) {
	if err := requireCurrent("consult", wf, stepID); err != nil {
		return nil, err
	}
	return workflow.PreviousAgents(wf), nil
}

func requireCurrent(op string, wf domain.Workflow, stepID string) error {
	if len(wf.Steps) == 0 {
		return &domain.StepError{Op: op, WorkflowID: wf.ID, StepID: stepID, Err: domain.ErrEmptyWorkflow}
	}
	step, err := workflow.SelectStep(wf, stepID)
	if err != nil {
		return err
	}
	if step.Status != domain.StepCurrent {
		return &domain.StepError{Op: op, WorkflowID: wf.ID, StepID: stepID,
			Err: fmt.Errorf("%w: step is %s", domain.ErrInvalidStepState, step.Status)}
	}
	return nil
}

// IsNotConsultable reports whether err came from consulting an agent outside
// the previous-agents set.
func IsNotConsultable(err error) bool {
	return errors.Is(err, ErrAgentNotConsultable)
}
