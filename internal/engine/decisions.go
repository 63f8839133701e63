package engine

import (
	"context"
	"database/sql"
	"fmt"

	"agencyops/internal/assistant"
	"agencyops/internal/decision"
	"agencyops/internal/domain"
	"agencyops/internal/events"
)

// Approve approves the current step and advances the workflow.
func (e Engine) Approve(ctx context.Context, id, stepID, actorID string) (Result, error) {
	res, err := e.mutate(ctx, id, func(tx *sql.Tx, wf domain.Workflow) (Result, error) {
		next, err := decision.Approve(wf, stepID, e.now())
		if err != nil {
			return Result{}, err
		}
		archived, err := e.persistStep(ctx, tx, wf, next, events.StepApproved, actorID)
		if err != nil {
			return Result{}, err
		}
		return Result{Workflow: next, Archived: archived}, nil
	})
	if err == nil {
		e.log().Info("step approved", "workflow", id, "step", stepID, "actor", actorID)
	}
	return res, err
}

// RequestChanges records feedback on the current step. The step stays current
// and its docket items are archived.
func (e Engine) RequestChanges(ctx context.Context, id, stepID, actorID, feedback string) (Result, error) {
	res, err := e.mutate(ctx, id, func(tx *sql.Tx, wf domain.Workflow) (Result, error) {
		next, note, err := decision.RequestChanges(wf, stepID, actorID, feedback, e.now())
		if err != nil {
			return Result{}, err
		}
		if err := e.Repo.UpdateWorkflowTx(ctx, tx, next); err != nil {
			return Result{}, err
		}
		if err := e.Repo.InsertNoteTx(ctx, tx, next.ID, stepID, note); err != nil {
			return Result{}, err
		}
		archived, err := e.Repo.ArchiveStepItemsTx(ctx, tx, next.ID, stepID, note.CreatedAt)
		if err != nil {
			return Result{}, err
		}
		if err := e.Events.Append(ctx, tx, events.ChangesRequested, next.ProjectID, events.KindStep, stepID, actorID, events.EventPayload{
			"workflow_id": next.ID,
			"note_id":     note.ID,
			"feedback":    note.Body,
		}); err != nil {
			return Result{}, err
		}
		for _, itemID := range archived {
			if err := e.Events.Append(ctx, tx, events.DocketArchived, next.ProjectID, events.KindDocket, itemID, actorID, events.EventPayload{
				"workflow_id": next.ID,
				"step_id":     stepID,
			}); err != nil {
				return Result{}, err
			}
		}
		return Result{Workflow: next, Note: &note, Archived: archived}, nil
	})
	if err == nil {
		e.log().Info("changes requested", "workflow", id, "step", stepID, "actor", actorID)
	}
	return res, err
}

// Consult asks a previous agent about the current step. Workflow state is not
// changed; the exchange is only recorded in the event log.
func (e Engine) Consult(ctx context.Context, id, stepID, actorID, agentID, question string) (Result, error) {
	wf, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return Result{}, err
	}
	c, err := decision.Consult(wf, stepID, agentID, question, e.now())
	if err != nil {
		e.log().Warn("consult rejected", "workflow", id, "step", stepID, "agent", agentID, "error", err)
		return Result{Workflow: wf}, err
	}
	step := wf.Steps[currentIndex(wf)]
	reply, err := e.Assistant.Respond(ctx, assistant.Prompt{
		AgentName: e.agentName(agentID),
		Message:   c.Question,
		Context:   step.Name,
	})
	if err != nil {
		return Result{Workflow: wf}, fmt.Errorf("consult %s: %w", agentID, err)
	}
	if err := e.Events.AppendDirect(ctx, events.AgentConsulted, wf.ProjectID, events.KindStep, stepID, actorID, events.EventPayload{
		"workflow_id":     wf.ID,
		"consultation_id": c.ID,
		"agent_id":        agentID,
		"question":        c.Question,
		"reply":           reply.Body,
	}); err != nil {
		return Result{Workflow: wf}, err
	}
	return Result{Workflow: wf, Consultation: &c, Reply: reply.Body}, nil
}

// Decide dispatches a submitted decision.
func (e Engine) Decide(ctx context.Context, id, stepID, actorID string, d decision.Decision) (Result, error) {
	switch d.Action {
	case decision.ActionApprove:
		return e.Approve(ctx, id, stepID, actorID)
	case decision.ActionRequestChanges:
		return e.RequestChanges(ctx, id, stepID, actorID, d.Feedback)
	case decision.ActionConsult:
		return e.Consult(ctx, id, stepID, actorID, d.AgentID, d.Question)
	default:
		return Result{}, fmt.Errorf("%w: unknown action %q", domain.ErrValidationFailed, d.Action)
	}
}

// ConsultableAgents resolves the agents that may be consulted on stepID.
func (e Engine) ConsultableAgents(ctx context.Context, id, stepID string) ([]domain.Agent, error) {
	wf, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := decision.ConsultableAgents(wf, stepID)
	if err != nil {
		return nil, err
	}
	if e.Catalog == nil {
		out := make([]domain.Agent, 0, len(ids))
		for _, a := range ids {
			out = append(out, domain.Agent{ID: a, Name: a})
		}
		return out, nil
	}
	return e.Catalog.AgentsFor(ids), nil
}
