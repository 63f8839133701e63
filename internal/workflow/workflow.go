// Package workflow implements the step state machine of a workflow.
//
// Every function takes a domain.Workflow by value and returns a new value; the
// input is never mutated, so a failed call leaves the caller's state as it was.
// Steps only move forward: upcoming -> current -> complete.
package workflow

import (
	"fmt"
	"time"

	"agencyops/internal/domain"
)

// PanelKind selects the contextual detail panel rendered for a step.
type PanelKind string

const (
	PanelCompletedSummary PanelKind = "completed-summary"
	PanelInProgress       PanelKind = "in-progress-detail"
	PanelUpcomingPreview  PanelKind = "upcoming-preview"
)

type Progress struct {
	Complete int `json:"complete"`
	Total    int `json:"total"`
	Percent  int `json:"percent"`
}

// Start moves a not-started workflow onto its first step.
func Start(wf domain.Workflow, now time.Time) (domain.Workflow, error) {
	if len(wf.Steps) == 0 {
		return wf, &domain.StepError{Op: "start", WorkflowID: wf.ID, Err: domain.ErrEmptyWorkflow}
	}
	for _, s := range wf.Steps {
		if s.Status != domain.StepUpcoming {
			return wf, &domain.StepError{Op: "start", WorkflowID: wf.ID,
				Err: fmt.Errorf("%w: workflow already started", domain.ErrInvalidStepState)}
		}
	}
	out := Clone(wf)
	ts := stamp(now)
	out.Steps[0].Status = domain.StepCurrent
	out.Steps[0].StartedAt = &ts
	out.Status = domain.WorkflowInProgress
	out.CurrentStep = Pointer(out)
	out.UpdatedAt = ts
	return out, nil
}

// Advance completes the current step and promotes the next one. Completing the
// last step completes the workflow.
func Advance(wf domain.Workflow, now time.Time) (domain.Workflow, error) {
	return complete("advance", wf, now, false)
}

// Skip completes the current step without its normal completion work and advances.
func Skip(wf domain.Workflow, now time.Time) (domain.Workflow, error) {
	return complete("skip", wf, now, true)
}

func complete(op string, wf domain.Workflow, now time.Time, skipped bool) (domain.Workflow, error) {
	if len(wf.Steps) == 0 {
		return wf, &domain.StepError{Op: op, WorkflowID: wf.ID, Err: domain.ErrEmptyWorkflow}
	}
	idx := currentIndex(wf)
	if idx < 0 {
		return wf, &domain.StepError{Op: op, WorkflowID: wf.ID,
			Err: fmt.Errorf("%w: no current step", domain.ErrInvalidStepState)}
	}
	out := Clone(wf)
	ts := stamp(now)
	step := &out.Steps[idx]
	if step.StartedAt == nil {
		// backfilled so completed_at always has a matching started_at
		step.StartedAt = &ts
	}
	step.Status = domain.StepComplete
	step.CompletedAt = &ts
	step.Skipped = skipped
	if idx+1 < len(out.Steps) {
		next := &out.Steps[idx+1]
		next.Status = domain.StepCurrent
		next.StartedAt = &ts
		out.Status = domain.WorkflowInProgress
	} else {
		out.Status = domain.WorkflowCompleted
	}
	out.CurrentStep = Pointer(out)
	out.UpdatedAt = ts
	return out, nil
}

// SelectStep returns the step with the given id. It never mutates state.
func SelectStep(wf domain.Workflow, stepID string) (domain.Step, error) {
	for _, s := range wf.Steps {
		if s.ID == stepID {
			return cloneStep(s), nil
		}
	}
	return domain.Step{}, fmt.Errorf("step %s in workflow %s: %w", stepID, wf.ID, domain.ErrNotFound)
}

// CurrentStep returns the step the pointer refers to, or the first step when the
// pointer does not resolve. Detail screens rely on the fallback before any user action.
func CurrentStep(wf domain.Workflow) (domain.Step, error) {
	if len(wf.Steps) == 0 {
		return domain.Step{}, &domain.StepError{Op: "current step", WorkflowID: wf.ID, Err: domain.ErrEmptyWorkflow}
	}
	if wf.CurrentStep >= 1 && wf.CurrentStep <= len(wf.Steps) {
		return cloneStep(wf.Steps[wf.CurrentStep-1]), nil
	}
	return cloneStep(wf.Steps[0]), nil
}

// Pointer computes the 1-based current-step pointer: the first current step, or
// one past the last complete step when nothing is current.
func Pointer(wf domain.Workflow) int {
	lastComplete := 0
	for i, s := range wf.Steps {
		switch s.Status {
		case domain.StepCurrent:
			return i + 1
		case domain.StepComplete:
			lastComplete = i + 1
		}
	}
	return lastComplete + 1
}

// DeriveStatus computes the workflow status implied by its steps.
func DeriveStatus(wf domain.Workflow) domain.WorkflowStatus {
	if len(wf.Steps) == 0 {
		return domain.WorkflowNotStarted
	}
	done := 0
	for _, s := range wf.Steps {
		switch s.Status {
		case domain.StepCurrent:
			return domain.WorkflowInProgress
		case domain.StepComplete:
			done++
		}
	}
	switch done {
	case 0:
		return domain.WorkflowNotStarted
	case len(wf.Steps):
		return domain.WorkflowCompleted
	default:
		return domain.WorkflowInProgress
	}
}

// Panel maps a step status to its detail panel.
func Panel(s domain.Step) PanelKind {
	switch s.Status {
	case domain.StepComplete:
		return PanelCompletedSummary
	case domain.StepCurrent:
		return PanelInProgress
	default:
		return PanelUpcomingPreview
	}
}

func ProgressOf(wf domain.Workflow) Progress {
	p := Progress{Total: len(wf.Steps)}
	for _, s := range wf.Steps {
		if s.Status == domain.StepComplete {
			p.Complete++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Complete * 100 / p.Total
	}
	return p
}

// PreviousAgents returns the agents of all complete steps in step order, without duplicates.
func PreviousAgents(wf domain.Workflow) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range wf.Steps {
		if s.Status != domain.StepComplete {
			continue
		}
		for _, a := range s.Agents {
			if seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// Validate checks the step invariants and the derived workflow fields.
func Validate(wf domain.Workflow) error {
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s: %w", wf.ID, domain.ErrEmptyWorkflow)
	}
	ids := map[string]bool{}
	current := -1
	for i, s := range wf.Steps {
		if ids[s.ID] {
			return invalid(wf, "duplicate step id %s", s.ID)
		}
		ids[s.ID] = true
		switch s.Status {
		case domain.StepCurrent:
			if current >= 0 {
				return invalid(wf, "steps %s and %s are both current", wf.Steps[current].ID, s.ID)
			}
			if i > 0 && wf.Steps[i-1].Status != domain.StepComplete {
				return invalid(wf, "step %s is current after unfinished step %s", s.ID, wf.Steps[i-1].ID)
			}
			current = i
		case domain.StepComplete:
			if current >= 0 {
				return invalid(wf, "step %s is complete after current step %s", s.ID, wf.Steps[current].ID)
			}
			if i > 0 && wf.Steps[i-1].Status == domain.StepUpcoming {
				return invalid(wf, "step %s is complete after upcoming step %s", s.ID, wf.Steps[i-1].ID)
			}
			if s.CompletedAt != nil && s.StartedAt == nil {
				return invalid(wf, "step %s completed without a start time", s.ID)
			}
		case domain.StepUpcoming:
		default:
			return invalid(wf, "step %s has unknown status %q", s.ID, s.Status)
		}
	}
	derived := DeriveStatus(wf)
	if current < 0 && derived == domain.WorkflowInProgress {
		return invalid(wf, "no current step between complete and upcoming steps")
	}
	if wf.Status != derived {
		return invalid(wf, "status %s does not match steps (%s)", wf.Status, derived)
	}
	if wf.CurrentStep != Pointer(wf) {
		return invalid(wf, "current step pointer %d, expected %d", wf.CurrentStep, Pointer(wf))
	}
	return nil
}

func invalid(wf domain.Workflow, format string, args ...any) error {
	return fmt.Errorf("workflow %s: %w: %s", wf.ID, domain.ErrInvalidStepState, fmt.Sprintf(format, args...))
}

func currentIndex(wf domain.Workflow) int {
	for i, s := range wf.Steps {
		if s.Status == domain.StepCurrent {
			return i
		}
	}
	return -1
}

func stamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}
