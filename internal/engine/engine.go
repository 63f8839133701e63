package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"agencyops/internal/assistant"
	"agencyops/internal/catalog"
	"agencyops/internal/config"
	"agencyops/internal/domain"
	"agencyops/internal/events"
	"agencyops/internal/logging"
	"agencyops/internal/repo"
)

// Engine is the session shell around the pure workflow, decision and docket
// packages. Mutations load the stored workflow, apply a pure transition and
// persist the result together with its event in one transaction.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Catalog   *catalog.Catalog
	Assistant assistant.Provider
	Logger    *slog.Logger
	Now       func() time.Time

	locks *workflowLocks
}

func New(db *sql.DB, cfg *config.Config, cat *catalog.Catalog) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Catalog:   cat,
		Assistant: assistant.NewCanned(cfg.Assistant.Options()),
		Logger:    logging.WithModule("engine"),
		Now:       time.Now,
		locks:     newWorkflowLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.WithModule("engine")
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Seed copies the catalog's workflows and docket items into the session
// store. It is a no-op once the store holds any workflow.
func (e Engine) Seed(ctx context.Context, actorID string) (int, error) {
	if e.Catalog == nil {
		return 0, fmt.Errorf("catalog not loaded")
	}
	n, err := e.Repo.CountWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := e.stamp()
	workflows := e.Catalog.Workflows()
	for _, wf := range workflows {
		if wf.UpdatedAt == "" {
			wf.UpdatedAt = ts
		}
		if err := e.Repo.InsertWorkflowTx(ctx, tx, wf); err != nil {
			return 0, err
		}
		if err := e.Events.Append(ctx, tx, events.WorkflowSeeded, wf.ProjectID, events.KindWorkflow, wf.ID, actorID, events.EventPayload{
			"status":       wf.Status,
			"current_step": wf.CurrentStep,
			"steps":        len(wf.Steps),
		}); err != nil {
			return 0, err
		}
	}
	for i, it := range e.Catalog.DocketItems() {
		if it.CreatedAt == "" {
			it.CreatedAt = ts
		}
		if err := e.Repo.InsertDocketItemTx(ctx, tx, it, i+1); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.log().Info("session seeded", "workflows", len(workflows))
	return len(workflows), nil
}

func (e Engine) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return e.Repo.GetWorkflow(ctx, id)
}

// ListWorkflows returns workflows for projectID, or all when empty.
func (e Engine) ListWorkflows(ctx context.Context, projectID string) ([]domain.Workflow, error) {
	return e.Repo.ListWorkflows(ctx, projectID)
}

// ListEvents returns the newest events first.
func (e Engine) ListEvents(ctx context.Context, limit int, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, f)
}

func (e Engine) projectName(id string) (string, bool) {
	if e.Catalog == nil {
		return "", false
	}
	p, ok := e.Catalog.Project(id)
	if !ok {
		return "", false
	}
	return p.Name, true
}

func (e Engine) agentName(id string) string {
	if e.Catalog != nil {
		if a, ok := e.Catalog.Agent(id); ok {
			return a.Name
		}
	}
	return id
}
