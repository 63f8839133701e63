package workflow

import "agencyops/internal/domain"

// Clone returns a deep copy of wf.
func Clone(wf domain.Workflow) domain.Workflow {
	out := wf
	if wf.Steps != nil {
		out.Steps = make([]domain.Step, len(wf.Steps))
		for i, s := range wf.Steps {
			out.Steps[i] = cloneStep(s)
		}
	}
	return out
}

func cloneStep(s domain.Step) domain.Step {
	out := s
	out.Assignee = cloneString(s.Assignee)
	out.StartedAt = cloneString(s.StartedAt)
	out.CompletedAt = cloneString(s.CompletedAt)
	if s.Agents != nil {
		out.Agents = append([]string(nil), s.Agents...)
	}
	if s.Documents != nil {
		out.Documents = append([]string(nil), s.Documents...)
	}
	if s.Notes != nil {
		out.Notes = append([]domain.Note(nil), s.Notes...)
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
