package decision

import "strings"

// Pending is the choice being composed for a step before submission. Selecting
// another action discards anything typed for the previous one.
type Pending struct {
	StepID   string
	selected Action
	decision Decision
}

func NewPending(stepID string) *Pending {
	return &Pending{StepID: stepID}
}

// Select replaces the pending choice.
func (p *Pending) Select(a Action) {
	p.selected = a
	p.decision = Decision{Action: a}
}

func (p *Pending) Selected() (Action, bool) {
	return p.selected, p.selected != ""
}

func (p *Pending) SetFeedback(text string) {
	p.decision.Feedback = text
}

func (p *Pending) SetConsult(agentID, question string) {
	p.decision.AgentID = agentID
	p.decision.Question = question
}

// CanSubmit mirrors the submit button state: nothing selected, or request
// changes with no feedback, cannot be submitted.
func (p *Pending) CanSubmit() bool {
	switch p.selected {
	case "":
		return false
	case ActionRequestChanges:
		return strings.TrimSpace(p.decision.Feedback) != ""
	case ActionConsult:
		return p.decision.AgentID != "" && strings.TrimSpace(p.decision.Question) != ""
	default:
		return true
	}
}

// Decision returns the composed decision.
func (p *Pending) Decision() Decision {
	return p.decision
}

// Reset returns the pending state to unselected.
func (p *Pending) Reset() {
	p.selected = ""
	p.decision = Decision{}
}
