package engine

import (
	"context"
	"database/sql"

	"agencyops/internal/decision"
	"agencyops/internal/domain"
	"agencyops/internal/events"
	"agencyops/internal/workflow"
)

// Result is the outcome of a workflow mutation or decision.
type Result struct {
	Workflow     domain.Workflow        `json:"workflow"`
	Note         *domain.Note           `json:"note,omitempty"`
	Consultation *decision.Consultation `json:"consultation,omitempty"`
	Reply        string                 `json:"reply,omitempty"`
	Archived     []string               `json:"archived,omitempty"`
}

// transition is a pure change applied to a loaded workflow.
type transition func(wf domain.Workflow) (domain.Workflow, error)

// mutate loads the workflow under its lock, applies fn and persists the new
// state with its events. Nothing is written if any step fails.
func (e Engine) mutate(ctx context.Context, id string, fn func(tx *sql.Tx, wf domain.Workflow) (Result, error)) (Result, error) {
	unlock := e.lockWorkflow(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	wf, err := e.Repo.GetWorkflowTx(ctx, tx, id)
	if err != nil {
		return Result{}, err
	}
	res, err := fn(tx, wf)
	if err != nil {
		e.log().Warn("workflow mutation rejected", "workflow", id, "error", err)
		return Result{Workflow: wf}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{Workflow: wf}, err
	}
	return res, nil
}

// persistStep writes a step transition, archives docket items raised for the
// step that was completed and appends the events.
func (e Engine) persistStep(ctx context.Context, tx *sql.Tx, before, after domain.Workflow, evtType, actorID string) ([]string, error) {
	if err := e.Repo.UpdateWorkflowTx(ctx, tx, after); err != nil {
		return nil, err
	}
	var (
		archived []string
		stepID   string
	)
	if idx := currentIndex(before); idx >= 0 {
		stepID = before.Steps[idx].ID
		ids, err := e.Repo.ArchiveStepItemsTx(ctx, tx, after.ID, stepID, after.UpdatedAt)
		if err != nil {
			return nil, err
		}
		archived = ids
	}
	payload := events.EventPayload{
		"step_id":      stepID,
		"from_pointer": before.CurrentStep,
		"to_pointer":   after.CurrentStep,
		"status":       after.Status,
	}
	if next := currentIndex(after); next >= 0 {
		payload["next_step_id"] = after.Steps[next].ID
	}
	if err := e.Events.Append(ctx, tx, evtType, after.ProjectID, events.KindStep, stepID, actorID, payload); err != nil {
		return nil, err
	}
	for _, id := range archived {
		if err := e.Events.Append(ctx, tx, events.DocketArchived, after.ProjectID, events.KindDocket, id, actorID, events.EventPayload{
			"workflow_id": after.ID,
			"step_id":     stepID,
		}); err != nil {
			return nil, err
		}
	}
	if before.Status != domain.WorkflowCompleted && after.Status == domain.WorkflowCompleted {
		if err := e.Events.Append(ctx, tx, events.WorkflowComplete, after.ProjectID, events.KindWorkflow, after.ID, actorID, nil); err != nil {
			return nil, err
		}
	}
	return archived, nil
}

func (e Engine) step(ctx context.Context, id, actorID, evtType string, fn transition) (domain.Workflow, error) {
	res, err := e.mutate(ctx, id, func(tx *sql.Tx, wf domain.Workflow) (Result, error) {
		next, err := fn(wf)
		if err != nil {
			return Result{}, err
		}
		archived, err := e.persistStep(ctx, tx, wf, next, evtType, actorID)
		if err != nil {
			return Result{}, err
		}
		return Result{Workflow: next, Archived: archived}, nil
	})
	if err != nil {
		return res.Workflow, err
	}
	e.log().Info("workflow transition", "event", evtType, "workflow", id, "pointer", res.Workflow.CurrentStep, "status", res.Workflow.Status)
	return res.Workflow, nil
}

// Start moves a not-started workflow onto its first step.
func (e Engine) Start(ctx context.Context, id, actorID string) (domain.Workflow, error) {
	res, err := e.mutate(ctx, id, func(tx *sql.Tx, wf domain.Workflow) (Result, error) {
		next, err := workflow.Start(wf, e.now())
		if err != nil {
			return Result{}, err
		}
		if err := e.Repo.UpdateWorkflowTx(ctx, tx, next); err != nil {
			return Result{}, err
		}
		if err := e.Events.Append(ctx, tx, events.WorkflowStarted, next.ProjectID, events.KindWorkflow, next.ID, actorID, events.EventPayload{
			"step_id": next.Steps[0].ID,
		}); err != nil {
			return Result{}, err
		}
		return Result{Workflow: next}, nil
	})
	return res.Workflow, err
}

// Advance completes the current step.
func (e Engine) Advance(ctx context.Context, id, actorID string) (domain.Workflow, error) {
	return e.step(ctx, id, actorID, events.StepAdvanced, func(wf domain.Workflow) (domain.Workflow, error) {
		return workflow.Advance(wf, e.now())
	})
}

// Skip completes the current step without its completion work.
func (e Engine) Skip(ctx context.Context, id, actorID string) (domain.Workflow, error) {
	return e.step(ctx, id, actorID, events.StepSkipped, func(wf domain.Workflow) (domain.Workflow, error) {
		return workflow.Skip(wf, e.now())
	})
}

// StepView is a selected step with its detail panel.
type StepView struct {
	Step     domain.Step        `json:"step"`
	Panel    workflow.PanelKind `json:"panel"`
	Position int                `json:"position"`
	Progress workflow.Progress  `json:"progress"`
}

// SelectStep reads one step. An empty stepID selects the current step.
func (e Engine) SelectStep(ctx context.Context, id, stepID string) (StepView, error) {
	wf, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return StepView{}, err
	}
	var s domain.Step
	if stepID == "" {
		s, err = workflow.CurrentStep(wf)
	} else {
		s, err = workflow.SelectStep(wf, stepID)
	}
	if err != nil {
		return StepView{}, err
	}
	pos := 0
	for i := range wf.Steps {
		if wf.Steps[i].ID == s.ID {
			pos = i + 1
			break
		}
	}
	return StepView{Step: s, Panel: workflow.Panel(s), Position: pos, Progress: workflow.ProgressOf(wf)}, nil
}

func currentIndex(wf domain.Workflow) int {
	for i, s := range wf.Steps {
		if s.Status == domain.StepCurrent {
			return i
		}
	}
	return -1
}
