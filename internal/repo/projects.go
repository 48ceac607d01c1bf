package repo

import (
	"context"
	"database/sql"

	"feedloop/internal/domain"
)

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var deletedAt sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Health, &p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.String
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,description,status,health,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.Status, p.Health, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,description,status,health,created_at,updated_at,deleted_at FROM projects WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,status,health,created_at,updated_at,deleted_at FROM projects WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET name=?, description=?, status=?, health=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		p.Name, p.Description, p.Status, p.Health, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SoftDeleteProject(ctx context.Context, id, at string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, at, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanGoal(row rowScanner) (domain.Goal, error) {
	var g domain.Goal
	var projectID, deletedAt sql.NullString
	var target, current sql.NullFloat64
	err := row.Scan(&g.ID, &projectID, &g.Title, &g.Description, &g.Metric, &target, &current, &g.Unit, &g.Status, &g.CreatedAt, &g.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if projectID.Valid {
		g.ProjectID = &projectID.String
	}
	if target.Valid {
		g.TargetValue = &target.Float64
	}
	if current.Valid {
		g.CurrentValue = &current.Float64
	}
	if deletedAt.Valid {
		g.DeletedAt = &deletedAt.String
	}
	return g, err
}

const goalColumns = `id,project_id,title,description,metric,target_value,current_value,unit,status,created_at,updated_at,deleted_at`

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO goals(`+goalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, nullableStringPtr(g.ProjectID), g.Title, g.Description, g.Metric,
		nullableFloatPtr(g.TargetValue), nullableFloatPtr(g.CurrentValue), g.Unit, g.Status,
		g.CreatedAt, g.UpdatedAt, nullableStringPtr(g.DeletedAt))
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	return scanGoal(r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=? AND deleted_at IS NULL`, id))
}

// FirstGoalForProject returns the project's goal used for prompt context,
// preferring an active one.
func (r Repo) FirstGoalForProject(ctx context.Context, projectID string) (domain.Goal, error) {
	return scanGoal(r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE project_id=? AND deleted_at IS NULL
		ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, created_at ASC LIMIT 1`, projectID))
}

func (r Repo) ListGoals(ctx context.Context, projectID string) ([]domain.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE deleted_at IS NULL`
	var args []any
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpdateGoal(ctx context.Context, g domain.Goal) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE goals SET title=?, description=?, metric=?, target_value=?, current_value=?, unit=?, status=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		g.Title, g.Description, g.Metric, nullableFloatPtr(g.TargetValue), nullableFloatPtr(g.CurrentValue), g.Unit, g.Status, g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
