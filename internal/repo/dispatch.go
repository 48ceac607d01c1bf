package repo

import (
	"context"
	"errors"

	"feedloop/internal/domain"
)

// eligibleWhere is the dispatch eligibility predicate: todo, live, and not
// blocked by any issue that is itself live and non-terminal.
const eligibleWhere = `issues.status='todo' AND issues.deleted_at IS NULL AND NOT EXISTS (
	SELECT 1 FROM issue_relations ir
	JOIN issues blocker ON blocker.id=ir.related_issue_id
	WHERE ir.issue_id=issues.id AND ir.type='blocked_by'
	  AND blocker.deleted_at IS NULL AND blocker.status NOT IN ('done','canceled')
)`

// scoreExpr mirrors scoring.Score in SQL so claim ordering matches the
// breakdowns reported by the queue preview. Takes one arg: current unix time.
const scoreExpr = `(
	(CASE issues.priority WHEN 1 THEN 100 WHEN 2 THEN 75 WHEN 3 THEN 50 WHEN 4 THEN 25 ELSE 10 END)
	+ (CASE issues.type WHEN 'signal' THEN 50 WHEN 'hypothesis' THEN 40 WHEN 'plan' THEN 30 WHEN 'task' THEN 20 WHEN 'monitor' THEN 10 ELSE 0 END)
	+ (CASE WHEN EXISTS (
		SELECT 1 FROM goals g WHERE g.project_id=issues.project_id AND g.status='active' AND g.deleted_at IS NULL
	  ) THEN 20 ELSE 0 END)
	+ MAX(0, CAST((? - strftime('%s', issues.created_at)) / 86400 AS INTEGER))
)`

// EligibleIssueIDs returns the best-scored claim candidates, highest first
// with the display number as a stable tiebreaker.
func (r Repo) EligibleIssueIDs(ctx context.Context, projectID string, nowUnix int64, limit int) ([]string, error) {
	query := `SELECT issues.id FROM issues WHERE ` + eligibleWhere
	var args []any
	if projectID != "" {
		query += ` AND issues.project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY ` + scoreExpr + ` DESC, issues.number ASC LIMIT ?`
	args = append(args, nowUnix, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimIssue atomically moves a candidate from todo to in_progress. The
// WHERE clause re-checks full eligibility, so a candidate raced away by a
// concurrent claimer yields nil and the caller moves on to the next one.
func (r Repo) ClaimIssue(ctx context.Context, id, updatedAt string) (*domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `UPDATE issues SET status='in_progress', updated_at=?
		WHERE issues.id=? AND `+eligibleWhere+` RETURNING `+issueColumns, updatedAt, id)
	issue, err := scanIssue(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListEligibleIssues pages through the claim queue in claim order without
// locking or mutating anything.
func (r Repo) ListEligibleIssues(ctx context.Context, projectID string, nowUnix int64, limit, offset int) ([]domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + eligibleWhere
	var args []any
	if projectID != "" {
		query += ` AND issues.project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY ` + scoreExpr + ` DESC, issues.number ASC LIMIT ? OFFSET ?`
	args = append(args, nowUnix, limit, offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func (r Repo) CountEligibleIssues(ctx context.Context, projectID string) (int, error) {
	query := `SELECT COUNT(*) FROM issues WHERE ` + eligibleWhere
	var args []any
	if projectID != "" {
		query += ` AND issues.project_id=?`
		args = append(args, projectID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// HasActiveGoal reports whether a project currently carries an active goal.
func (r Repo) HasActiveGoal(ctx context.Context, projectID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE project_id=? AND status='active' AND deleted_at IS NULL`, projectID).Scan(&n)
	return n > 0, err
}
