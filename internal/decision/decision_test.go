package decision_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyops/internal/decision"
	"agencyops/internal/domain"
)

var now = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func briefReview() domain.Workflow {
	ts := "2024-03-01T09:00:00Z"
	return domain.Workflow{
		ID:          "wf-brief",
		ProjectID:   "proj-1",
		Name:        "Brief review",
		Status:      domain.WorkflowInProgress,
		CurrentStep: 2,
		Steps: []domain.Step{
			{ID: "brief", Name: "Brief", Status: domain.StepComplete, Agents: []string{"brief-writer"}, StartedAt: &ts, CompletedAt: &ts},
			{ID: "review", Name: "Review", Status: domain.StepCurrent, Assignee: strPtr("dana"), Agents: []string{}, StartedAt: &ts},
		},
	}
}

func threeStep() domain.Workflow {
	wf := briefReview()
	wf.Steps = append(wf.Steps, domain.Step{ID: "publish", Name: "Publish", Status: domain.StepUpcoming, Agents: []string{"publisher"}})
	return wf
}

func TestConsultRequiresPreviousAgent(t *testing.T) {
	wf := briefReview()
	c, err := decision.Consult(wf, "review", "brief-writer", "Why this angle?", now)
	require.NoError(t, err)
	assert.Equal(t, "brief-writer", c.AgentID)
	assert.Equal(t, "review", c.StepID)
	assert.NotEmpty(t, c.ID)

	_, err = decision.Consult(wf, "review", "visual-director", "Thoughts?", now)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidStepState)
	assert.True(t, decision.IsNotConsultable(err))
}

func TestConsultRequiresQuestion(t *testing.T) {
	_, err := decision.Consult(briefReview(), "review", "brief-writer", "  ", now)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestRequestChanges(t *testing.T) {
	wf := briefReview()
	_, _, err := decision.RequestChanges(wf, "review", "dana", "", now)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	_, _, err = decision.RequestChanges(wf, "review", "dana", " \n\t", now)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	out, note, err := decision.RequestChanges(wf, "review", "dana", "make it bolder", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StepCurrent, out.Steps[1].Status)
	assert.Equal(t, domain.WorkflowInProgress, out.Status)
	assert.Equal(t, 2, out.CurrentStep)
	require.Len(t, out.Steps[1].Notes, 1)
	assert.Equal(t, note, out.Steps[1].Notes[0])
	assert.Equal(t, domain.NoteFeedback, note.Kind)
	assert.Equal(t, "make it bolder", note.Body)
	assert.Empty(t, wf.Steps[1].Notes)
}

func TestApproveEndToEnd(t *testing.T) {
	wf := threeStep()
	wf, err := decision.Approve(wf, "review", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StepComplete, wf.Steps[0].Status)
	assert.Equal(t, domain.StepComplete, wf.Steps[1].Status)
	assert.Equal(t, domain.StepCurrent, wf.Steps[2].Status)
	assert.Equal(t, domain.WorkflowInProgress, wf.Status)

	wf, err = decision.Approve(wf, "publish", now)
	require.NoError(t, err)
	for _, s := range wf.Steps {
		assert.Equal(t, domain.StepComplete, s.Status)
	}
	assert.Equal(t, domain.WorkflowCompleted, wf.Status)
}

func TestDecisionsRequireCurrentStep(t *testing.T) {
	wf := threeStep()
	for _, stepID := range []string{"brief", "publish"} {
		_, err := decision.Approve(wf, stepID, now)
		assert.ErrorIs(t, err, domain.ErrInvalidStepState, stepID)
		_, _, err = decision.RequestChanges(wf, stepID, "dana", "again", now)
		assert.ErrorIs(t, err, domain.ErrInvalidStepState, stepID)
		_, err = decision.Consult(wf, stepID, "brief-writer", "why?", now)
		assert.ErrorIs(t, err, domain.ErrInvalidStepState, stepID)
	}

	_, err := decision.Approve(wf, "nope", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = decision.Approve(domain.Workflow{ID: "empty"}, "x", now)
	assert.ErrorIs(t, err, domain.ErrEmptyWorkflow)
}

func TestApplyDispatches(t *testing.T) {
	wf := threeStep()
	out, err := decision.Apply(wf, "review", decision.Decision{Action: decision.ActionConsult, AgentID: "brief-writer", Question: "ok?"}, now)
	require.NoError(t, err)
	require.NotNil(t, out.Consultation)
	assert.Equal(t, wf, out.Workflow)

	out, err = decision.Apply(wf, "review", decision.Decision{Action: decision.ActionRequestChanges, Feedback: "tighten"}, now)
	require.NoError(t, err)
	require.NotNil(t, out.Note)
	assert.Equal(t, "reviewer", out.Note.Author)

	out, err = decision.Apply(wf, "review", decision.Decision{Action: decision.ActionApprove}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Workflow.CurrentStep)

	_, err = decision.Apply(wf, "review", decision.Decision{Action: "escalate"}, now)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestPendingSelectionReplaces(t *testing.T) {
	p := decision.NewPending("review")
	assert.False(t, p.CanSubmit())
	_, ok := p.Selected()
	assert.False(t, ok)

	p.Select(decision.ActionRequestChanges)
	assert.False(t, p.CanSubmit())
	p.SetFeedback("more contrast")
	assert.True(t, p.CanSubmit())

	p.Select(decision.ActionConsult)
	assert.Empty(t, p.Decision().Feedback)
	assert.False(t, p.CanSubmit())
	p.SetConsult("brief-writer", "why blue?")
	assert.True(t, p.CanSubmit())

	p.Select(decision.ActionRequestChanges)
	assert.False(t, p.CanSubmit())
	assert.Empty(t, p.Decision().AgentID)

	p.Select(decision.ActionApprove)
	assert.True(t, p.CanSubmit())
	a, ok := p.Selected()
	assert.True(t, ok)
	assert.Equal(t, decision.ActionApprove, a)

	p.Reset()
	assert.False(t, p.CanSubmit())
}
