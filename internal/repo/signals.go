package repo

import (
	"context"
	"database/sql"

	"feedloop/internal/domain"
)

func (r Repo) InsertSignal(ctx context.Context, tx *sql.Tx, s domain.Signal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO signals(id,source,source_id,type,severity,payload,issue_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.Source, nullableStringPtr(s.SourceID), s.Type, s.Severity, s.Payload, s.IssueID, s.CreatedAt)
	return err
}

func (r Repo) GetSignal(ctx context.Context, id string) (domain.Signal, error) {
	var s domain.Signal
	var sourceID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,source,source_id,type,severity,payload,issue_id,created_at FROM signals WHERE id=?`, id).
		Scan(&s.ID, &s.Source, &sourceID, &s.Type, &s.Severity, &s.Payload, &s.IssueID, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if sourceID.Valid {
		s.SourceID = &sourceID.String
	}
	return s, err
}

func (r Repo) ListSignals(ctx context.Context, source string, limit int) ([]domain.Signal, error) {
	query := `SELECT id,source,source_id,type,severity,payload,issue_id,created_at FROM signals`
	var args []any
	if source != "" {
		query += ` WHERE source=?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signal
	for rows.Next() {
		var s domain.Signal
		var sourceID sql.NullString
		if err := rows.Scan(&s.ID, &s.Source, &sourceID, &s.Type, &s.Severity, &s.Payload, &s.IssueID, &s.CreatedAt); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			s.SourceID = &sourceID.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
