package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agencyops/internal/domain"
)

type DocketFilters struct {
	ProjectID       string
	IncludeArchived bool
}

const docketColumns = `id,project_id,workflow_id,step_id,title,summary,priority,type,agents_json,created_at,archived_at`

// InsertDocketItemTx stores an item. position preserves the authored order,
// which ranking relies on for ties.
func (r Repo) InsertDocketItemTx(ctx context.Context, tx *sql.Tx, it domain.DocketItem, position int) error {
	agents, err := encodeList(it.Agents)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO docket_items(id,position,project_id,workflow_id,step_id,title,summary,priority,type,agents_json,created_at,archived_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, position, it.ProjectID, nullable(it.WorkflowID), nullable(it.StepID), it.Title, it.Summary,
		it.Priority, it.Type, agents, it.CreatedAt, nullableStringPtr(it.ArchivedAt))
	if err != nil {
		return fmt.Errorf("insert docket item %s: %w", it.ID, err)
	}
	return nil
}

// ListDocketItems returns items in authored order.
func (r Repo) ListDocketItems(ctx context.Context, f DocketFilters) ([]domain.DocketItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	query := fmt.Sprintf(`SELECT %s FROM docket_items WHERE %s ORDER BY position`, docketColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DocketItem{}
	for rows.Next() {
		it, err := scanDocketItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) GetDocketItem(ctx context.Context, id string) (domain.DocketItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+docketColumns+` FROM docket_items WHERE id=?`, id)
	it, err := scanDocketItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return it, fmt.Errorf("docket item %s: %w", id, ErrNotFound)
	}
	return it, err
}

// ArchiveStepItemsTx archives the open items raised for a workflow step and
// returns their ids.
func (r Repo) ArchiveStepItemsTx(ctx context.Context, tx *sql.Tx, workflowID, stepID, ts string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM docket_items WHERE workflow_id=? AND step_id=? AND archived_at IS NULL ORDER BY position`,
		workflowID, stepID)
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
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE docket_items SET archived_at=? WHERE workflow_id=? AND step_id=? AND archived_at IS NULL`,
		ts, workflowID, stepID); err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocketItem(row rowScanner) (domain.DocketItem, error) {
	var (
		it                 domain.DocketItem
		workflowID, stepID sql.NullString
		agents             string
		archived           sql.NullString
	)
	if err := row.Scan(&it.ID, &it.ProjectID, &workflowID, &stepID, &it.Title, &it.Summary, &it.Priority, &it.Type,
		&agents, &it.CreatedAt, &archived); err != nil {
		return it, err
	}
	it.WorkflowID = workflowID.String
	it.StepID = stepID.String
	it.ArchivedAt = stringPtr(archived)
	var err error
	it.Agents, err = decodeList(agents)
	return it, err
}
