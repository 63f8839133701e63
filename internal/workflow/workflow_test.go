package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyops/internal/domain"
	"agencyops/internal/workflow"
)

var now = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func threeStep() domain.Workflow {
	started := "2024-03-01T09:00:00Z"
	return domain.Workflow{
		ID:          "wf-1",
		ProjectID:   "proj-1",
		Name:        "Launch campaign",
		Status:      domain.WorkflowInProgress,
		CurrentStep: 2,
		Steps: []domain.Step{
			{ID: "a", Name: "Brief", Status: domain.StepComplete, Agents: []string{"brief-writer"}, StartedAt: strPtr(started), CompletedAt: strPtr(started)},
			{ID: "b", Name: "Review", Status: domain.StepCurrent, Assignee: strPtr("dana"), StartedAt: strPtr(started)},
			{ID: "c", Name: "Publish", Status: domain.StepUpcoming, Agents: []string{"publisher"}},
		},
	}
}

func statuses(wf domain.Workflow) []domain.StepStatus {
	out := make([]domain.StepStatus, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		out = append(out, s.Status)
	}
	return out
}

func TestAdvanceEndToEnd(t *testing.T) {
	wf := threeStep()
	require.NoError(t, workflow.Validate(wf))

	wf, err := workflow.Advance(wf, now)
	require.NoError(t, err)
	assert.Equal(t, []domain.StepStatus{domain.StepComplete, domain.StepComplete, domain.StepCurrent}, statuses(wf))
	assert.Equal(t, domain.WorkflowInProgress, wf.Status)
	assert.Equal(t, 3, wf.CurrentStep)
	require.NotNil(t, wf.Steps[2].StartedAt)
	assert.Equal(t, "2024-03-04T09:30:00Z", *wf.Steps[2].StartedAt)
	require.NoError(t, workflow.Validate(wf))

	wf, err = workflow.Advance(wf, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.StepStatus{domain.StepComplete, domain.StepComplete, domain.StepComplete}, statuses(wf))
	assert.Equal(t, domain.WorkflowCompleted, wf.Status)
	assert.Equal(t, 4, wf.CurrentStep)
	require.NoError(t, workflow.Validate(wf))
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	wf := threeStep()
	out, err := workflow.Advance(wf, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StepCurrent, wf.Steps[1].Status)
	assert.Nil(t, wf.Steps[1].CompletedAt)
	assert.Equal(t, domain.StepComplete, out.Steps[1].Status)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	wf := threeStep()
	before := workflow.ProgressOf(wf).Complete
	completedAt := *wf.Steps[0].CompletedAt
	for wf.Status != domain.WorkflowCompleted {
		next, err := workflow.Advance(wf, now)
		require.NoError(t, err)
		after := workflow.ProgressOf(next).Complete
		assert.Greater(t, after, before)
		assert.Equal(t, domain.StepComplete, next.Steps[0].Status)
		assert.Equal(t, completedAt, *next.Steps[0].CompletedAt)
		current := 0
		for _, s := range next.Steps {
			if s.Status == domain.StepCurrent {
				current++
			}
		}
		assert.LessOrEqual(t, current, 1)
		wf, before = next, after
	}
}

func TestAdvanceWithoutCurrentStep(t *testing.T) {
	wf := threeStep()
	wf, err := workflow.Advance(wf, now)
	require.NoError(t, err)
	wf, err = workflow.Advance(wf, now)
	require.NoError(t, err)

	_, err = workflow.Advance(wf, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidStepState))
}

func TestEmptyWorkflowFails(t *testing.T) {
	wf := domain.Workflow{ID: "empty", Status: domain.WorkflowNotStarted}
	_, err := workflow.Advance(wf, now)
	assert.ErrorIs(t, err, domain.ErrEmptyWorkflow)
	_, err = workflow.CurrentStep(wf)
	assert.ErrorIs(t, err, domain.ErrEmptyWorkflow)
	_, err = workflow.Start(wf, now)
	assert.ErrorIs(t, err, domain.ErrEmptyWorkflow)
	assert.ErrorIs(t, workflow.Validate(wf), domain.ErrEmptyWorkflow)
}

func TestSkipMarksStep(t *testing.T) {
	wf := threeStep()
	out, err := workflow.Skip(wf, now)
	require.NoError(t, err)
	assert.True(t, out.Steps[1].Skipped)
	assert.Equal(t, domain.StepComplete, out.Steps[1].Status)
	assert.Equal(t, domain.StepCurrent, out.Steps[2].Status)
	assert.False(t, out.Steps[0].Skipped)
}

func TestStart(t *testing.T) {
	wf := domain.Workflow{
		ID:          "wf-2",
		Status:      domain.WorkflowNotStarted,
		CurrentStep: 1,
		Steps: []domain.Step{
			{ID: "x", Name: "Kickoff", Status: domain.StepUpcoming},
			{ID: "y", Name: "Wrap", Status: domain.StepUpcoming},
		},
	}
	require.NoError(t, workflow.Validate(wf))
	_, err := workflow.Advance(wf, now)
	assert.ErrorIs(t, err, domain.ErrInvalidStepState)

	started, err := workflow.Start(wf, now)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowInProgress, started.Status)
	assert.Equal(t, domain.StepCurrent, started.Steps[0].Status)
	require.NoError(t, workflow.Validate(started))

	_, err = workflow.Start(started, now)
	assert.ErrorIs(t, err, domain.ErrInvalidStepState)
}

func TestSelectStep(t *testing.T) {
	wf := threeStep()
	s, err := workflow.SelectStep(wf, "c")
	require.NoError(t, err)
	assert.Equal(t, "Publish", s.Name)
	assert.Equal(t, workflow.PanelUpcomingPreview, workflow.Panel(s))

	_, err = workflow.SelectStep(wf, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCurrentStepFallsBackToFirst(t *testing.T) {
	wf := threeStep()
	s, err := workflow.CurrentStep(wf)
	require.NoError(t, err)
	assert.Equal(t, "b", s.ID)

	wf.CurrentStep = 0
	s, err = workflow.CurrentStep(wf)
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID)

	wf.CurrentStep = 9
	s, err = workflow.CurrentStep(wf)
	require.NoError(t, err)
	assert.Equal(t, "a", s.ID)
}

func TestPanels(t *testing.T) {
	wf := threeStep()
	assert.Equal(t, workflow.PanelCompletedSummary, workflow.Panel(wf.Steps[0]))
	assert.Equal(t, workflow.PanelInProgress, workflow.Panel(wf.Steps[1]))
	assert.Equal(t, workflow.PanelUpcomingPreview, workflow.Panel(wf.Steps[2]))
}

func TestPreviousAgentsDedupesInOrder(t *testing.T) {
	wf := domain.Workflow{
		ID: "wf-3",
		Steps: []domain.Step{
			{ID: "1", Status: domain.StepComplete, Agents: []string{"researcher", "brief-writer"}},
			{ID: "2", Status: domain.StepComplete, Agents: []string{"brief-writer", "copywriter"}},
			{ID: "3", Status: domain.StepCurrent, Agents: []string{"visual-director"}},
		},
	}
	assert.Equal(t, []string{"researcher", "brief-writer", "copywriter"}, workflow.PreviousAgents(wf))
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	cases := map[string]func(wf *domain.Workflow){
		"two current": func(wf *domain.Workflow) {
			wf.Steps[2].Status = domain.StepCurrent
		},
		"complete after current": func(wf *domain.Workflow) {
			wf.Steps[2].Status = domain.StepComplete
		},
		"stale pointer": func(wf *domain.Workflow) {
			wf.CurrentStep = 1
		},
		"wrong status": func(wf *domain.Workflow) {
			wf.Status = domain.WorkflowCompleted
		},
		"gap": func(wf *domain.Workflow) {
			wf.Steps[1].Status = domain.StepUpcoming
			wf.CurrentStep = 2
		},
		"current after upcoming": func(wf *domain.Workflow) {
			wf.Steps[0].Status = domain.StepUpcoming
			wf.Steps[0].StartedAt = nil
			wf.Steps[0].CompletedAt = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			wf := workflow.Clone(threeStep())
			mutate(&wf)
			assert.ErrorIs(t, workflow.Validate(wf), domain.ErrInvalidStepState)
		})
	}
}

func TestProgress(t *testing.T) {
	p := workflow.ProgressOf(threeStep())
	assert.Equal(t, workflow.Progress{Complete: 1, Total: 3, Percent: 33}, p)
}
