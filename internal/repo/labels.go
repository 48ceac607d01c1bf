package repo

import (
	"context"
	"database/sql"

	"feedloop/internal/domain"
)

func (r Repo) InsertLabel(ctx context.Context, l domain.Label) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO labels(id,name,color,created_at) VALUES (?,?,?,?)`,
		l.ID, l.Name, l.Color, l.CreatedAt)
	return err
}

func (r Repo) GetLabelByName(ctx context.Context, name string) (domain.Label, error) {
	var l domain.Label
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,color,created_at FROM labels WHERE name=?`, name).
		Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) ListLabels(ctx context.Context) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,color,created_at FROM labels ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertLabelTx(ctx context.Context, tx *sql.Tx, l domain.Label) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO labels(id,name,color,created_at) VALUES (?,?,?,?)`,
		l.ID, l.Name, l.Color, l.CreatedAt)
	return err
}

func (r Repo) GetLabelByNameTx(ctx context.Context, tx *sql.Tx, name string) (domain.Label, error) {
	var l domain.Label
	err := tx.QueryRowContext(ctx, `SELECT id,name,color,created_at FROM labels WHERE name=?`, name).
		Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) AttachLabelTx(ctx context.Context, tx *sql.Tx, issueID, labelID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO issue_labels(issue_id,label_id) VALUES (?,?)`, issueID, labelID)
	return err
}

func (r Repo) AttachLabel(ctx context.Context, issueID, labelID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO issue_labels(issue_id,label_id) VALUES (?,?)`, issueID, labelID)
	return err
}

func (r Repo) DetachLabel(ctx context.Context, issueID, labelID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id=? AND label_id=?`, issueID, labelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListIssueLabels(ctx context.Context, issueID string) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT l.id,l.name,l.color,l.created_at FROM issue_labels il
		JOIN labels l ON l.id=il.label_id WHERE il.issue_id=? ORDER BY l.name ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
