package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agencyops/internal/domain"
)

const workflowColumns = `id,project_id,name,status,current_step,updated_at`

func (r Repo) CountWorkflows(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&n)
	return n, err
}

// InsertWorkflowTx stores a workflow with its steps and notes.
func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, wf domain.Workflow) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,project_id,name,status,current_step,updated_at) VALUES (?,?,?,?,?,?)`,
		wf.ID, wf.ProjectID, wf.Name, wf.Status, wf.CurrentStep, wf.UpdatedAt); err != nil {
		return fmt.Errorf("insert workflow %s: %w", wf.ID, err)
	}
	for i, s := range wf.Steps {
		agents, err := encodeList(s.Agents)
		if err != nil {
			return err
		}
		docs, err := encodeList(s.Documents)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO steps(workflow_id,id,position,name,status,assignee,agents_json,documents_json,started_at,completed_at,skipped)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			wf.ID, s.ID, i+1, s.Name, s.Status, nullableStringPtr(s.Assignee), agents, docs,
			nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt), boolInt(s.Skipped)); err != nil {
			return fmt.Errorf("insert step %s: %w", s.ID, err)
		}
		for _, n := range s.Notes {
			if err := r.InsertNoteTx(ctx, tx, wf.ID, s.ID, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateWorkflowTx writes the mutable fields of a workflow and its steps.
// Steps are matched by id; their order is fixed at insert.
func (r Repo) UpdateWorkflowTx(ctx context.Context, tx *sql.Tx, wf domain.Workflow) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET status=?, current_step=?, updated_at=? WHERE id=?`,
		wf.Status, wf.CurrentStep, wf.UpdatedAt, wf.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	for _, s := range wf.Steps {
		if _, err := tx.ExecContext(ctx, `UPDATE steps SET status=?, started_at=?, completed_at=?, skipped=? WHERE workflow_id=? AND id=?`,
			s.Status, nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt), boolInt(s.Skipped), wf.ID, s.ID); err != nil {
			return fmt.Errorf("update step %s: %w", s.ID, err)
		}
	}
	return nil
}

func (r Repo) InsertNoteTx(ctx context.Context, tx *sql.Tx, workflowID, stepID string, n domain.Note) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO step_notes(id,workflow_id,step_id,author,kind,body,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, workflowID, stepID, n.Author, n.Kind, n.Body, n.CreatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return getWorkflow(ctx, r.DB, id)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	return getWorkflow(ctx, tx, id)
}

func getWorkflow(ctx context.Context, q querier, id string) (domain.Workflow, error) {
	var wf domain.Workflow
	err := q.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id).
		Scan(&wf.ID, &wf.ProjectID, &wf.Name, &wf.Status, &wf.CurrentStep, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wf, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return wf, err
	}
	steps, err := listSteps(ctx, q, id)
	if err != nil {
		return wf, err
	}
	wf.Steps = steps
	return wf, nil
}

// ListWorkflows returns workflows in seed order, optionally limited to a project.
func (r Repo) ListWorkflows(ctx context.Context, projectID string) ([]domain.Workflow, error) {
	query := `SELECT id FROM workflows`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := r.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, nil
}

func listSteps(ctx context.Context, q querier, workflowID string) ([]domain.Step, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,status,assignee,agents_json,documents_json,started_at,completed_at,skipped
FROM steps WHERE workflow_id=? ORDER BY position`, workflowID)
	if err != nil {
		return nil, err
	}
	var steps []domain.Step
	for rows.Next() {
		var (
			s                  domain.Step
			assignee           sql.NullString
			agents, docs       string
			started, completed sql.NullString
			skipped            int
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &assignee, &agents, &docs, &started, &completed, &skipped); err != nil {
			rows.Close()
			return nil, err
		}
		s.Assignee = stringPtr(assignee)
		s.StartedAt = stringPtr(started)
		s.CompletedAt = stringPtr(completed)
		s.Skipped = skipped != 0
		if s.Agents, err = decodeList(agents); err != nil {
			rows.Close()
			return nil, err
		}
		if s.Documents, err = decodeList(docs); err != nil {
			rows.Close()
			return nil, err
		}
		steps = append(steps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range steps {
		notes, err := listNotes(ctx, q, workflowID, steps[i].ID)
		if err != nil {
			return nil, err
		}
		steps[i].Notes = notes
	}
	return steps, nil
}

func listNotes(ctx context.Context, q querier, workflowID, stepID string) ([]domain.Note, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,author,kind,body,created_at FROM step_notes WHERE workflow_id=? AND step_id=? ORDER BY created_at, rowid`,
		workflowID, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.Author, &n.Kind, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
