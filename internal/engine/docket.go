package engine

import (
	"context"
	"fmt"
	"strings"

	"agencyops/internal/assistant"
	"agencyops/internal/docket"
	"agencyops/internal/domain"
	"agencyops/internal/events"
	"agencyops/internal/repo"
)

// Docket returns the open items ranked by type, optionally for one project.
func (e Engine) Docket(ctx context.Context, projectID string) ([]domain.DocketItem, error) {
	items, err := e.Repo.ListDocketItems(ctx, repo.DocketFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return docket.Rank(items), nil
}

func (e Engine) DocketItem(ctx context.Context, id string) (domain.DocketItem, error) {
	return e.Repo.GetDocketItem(ctx, id)
}

// TopRecommendation returns the first open item. An empty docket fails with
// domain.ErrNoDocketItems.
func (e Engine) TopRecommendation(ctx context.Context, projectID string) (domain.DocketItem, error) {
	items, err := e.Repo.ListDocketItems(ctx, repo.DocketFilters{ProjectID: projectID})
	if err != nil {
		return domain.DocketItem{}, err
	}
	return docket.TopRecommendation(items)
}

// Summary returns the docket aggregates and brief text.
func (e Engine) Summary(ctx context.Context, projectID string) (docket.Summary, error) {
	items, err := e.Repo.ListDocketItems(ctx, repo.DocketFilters{ProjectID: projectID})
	if err != nil {
		return docket.Summary{}, err
	}
	return docket.Summarize(items, e.projectName), nil
}

// Chat answers a free-form docket question.
func (e Engine) Chat(ctx context.Context, actorID, message string) (assistant.Reply, error) {
	if strings.TrimSpace(message) == "" {
		return assistant.Reply{}, fmt.Errorf("%w: message is required", domain.ErrValidationFailed)
	}
	summary, err := e.Summary(ctx, "")
	if err != nil {
		return assistant.Reply{}, err
	}
	reply, err := e.Assistant.Respond(ctx, assistant.Prompt{Message: message, Context: summary.Brief})
	if err != nil {
		return assistant.Reply{}, err
	}
	if err := e.Events.AppendDirect(ctx, events.ChatReplied, "", events.KindChat, reply.ID, actorID, events.EventPayload{
		"message": message,
		"reply":   reply.Body,
	}); err != nil {
		return assistant.Reply{}, err
	}
	return reply, nil
}
