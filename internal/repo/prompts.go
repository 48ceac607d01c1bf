package repo

import (
	"context"
	"database/sql"

	"feedloop/internal/domain"
)

const templateColumns = `id,slug,name,description,conditions_json,specificity,project_id,active_version_id,created_at,updated_at,deleted_at`

func scanTemplate(row rowScanner) (domain.PromptTemplate, error) {
	var t domain.PromptTemplate
	var projectID, activeVersionID, deletedAt sql.NullString
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Description, &t.ConditionsJSON, &t.Specificity,
		&projectID, &activeVersionID, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if activeVersionID.Valid {
		t.ActiveVersionID = &activeVersionID.String
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.String
	}
	return t, err
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.PromptTemplate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO prompt_templates(id,slug,name,description,conditions_json,specificity,project_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Slug, t.Name, t.Description, t.ConditionsJSON, t.Specificity, nullableStringPtr(t.ProjectID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.PromptTemplate, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.PromptTemplate, error) {
	return scanTemplate(tx.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) GetTemplateBySlug(ctx context.Context, slug string) (domain.PromptTemplate, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE slug=? AND deleted_at IS NULL`, slug))
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.PromptTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM prompt_templates WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTemplate(ctx context.Context, t domain.PromptTemplate) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE prompt_templates SET name=?, description=?, conditions_json=?, specificity=?, project_id=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		t.Name, t.Description, t.ConditionsJSON, t.Specificity, nullableStringPtr(t.ProjectID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SoftDeleteTemplate(ctx context.Context, id, at string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE prompt_templates SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, at, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActiveVersion(ctx context.Context, tx *sql.Tx, templateID, versionID, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET active_version_id=?, updated_at=? WHERE id=?`, versionID, at, templateID)
	return err
}

const versionColumns = `id,template_id,version,content,changelog,author_type,author_name,status,usage_count,completion_rate,avg_duration_ms,review_score,created_at`

func scanVersion(row rowScanner) (domain.PromptVersion, error) {
	var v domain.PromptVersion
	var completionRate, avgDuration, reviewScore sql.NullFloat64
	err := row.Scan(&v.ID, &v.TemplateID, &v.Version, &v.Content, &v.Changelog, &v.AuthorType, &v.AuthorName,
		&v.Status, &v.UsageCount, &completionRate, &avgDuration, &reviewScore, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if completionRate.Valid {
		v.CompletionRate = &completionRate.Float64
	}
	if avgDuration.Valid {
		v.AvgDurationMs = &avgDuration.Float64
	}
	if reviewScore.Valid {
		v.ReviewScore = &reviewScore.Float64
	}
	return v, err
}

func (r Repo) InsertVersion(ctx context.Context, tx *sql.Tx, v domain.PromptVersion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prompt_versions(id,template_id,version,content,changelog,author_type,author_name,status,usage_count,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.TemplateID, v.Version, v.Content, v.Changelog, v.AuthorType, v.AuthorName, v.Status, v.UsageCount, v.CreatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, id string) (domain.PromptVersion, error) {
	return scanVersion(r.DB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM prompt_versions WHERE id=?`, id))
}

func (r Repo) GetVersionTx(ctx context.Context, tx *sql.Tx, id string) (domain.PromptVersion, error) {
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM prompt_versions WHERE id=?`, id))
}

func (r Repo) ListVersions(ctx context.Context, templateID string) ([]domain.PromptVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+versionColumns+` FROM prompt_versions WHERE template_id=? ORDER BY version DESC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PromptVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// NextVersionNumber allocates the next per-template version number inside
// the creating transaction.
func (r Repo) NextVersionNumber(ctx context.Context, tx *sql.Tx, templateID string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM prompt_versions WHERE template_id=?`, templateID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r Repo) UpdateVersionStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IncrementVersionUsage(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE prompt_versions SET usage_count=usage_count+1 WHERE id=?`, id)
	return err
}

func (r Repo) UpdateVersionReviewScore(ctx context.Context, tx *sql.Tx, id string, score float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET review_score=? WHERE id=?`, score, id)
	return err
}

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rev domain.PromptReview) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO prompt_reviews(id,version_id,issue_id,clarity,completeness,relevance,feedback,author_type,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rev.ID, rev.VersionID, rev.IssueID, rev.Clarity, rev.Completeness, rev.Relevance, rev.Feedback, rev.AuthorType, rev.CreatedAt)
	return err
}

func (r Repo) CountReviewsTx(ctx context.Context, tx *sql.Tx, versionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_reviews WHERE version_id=?`, versionID).Scan(&n)
	return n, err
}

func (r Repo) ListReviews(ctx context.Context, versionID string) ([]domain.PromptReview, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,version_id,issue_id,clarity,completeness,relevance,feedback,author_type,created_at FROM prompt_reviews WHERE version_id=? ORDER BY created_at ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PromptReview
	for rows.Next() {
		var rev domain.PromptReview
		if err := rows.Scan(&rev.ID, &rev.VersionID, &rev.IssueID, &rev.Clarity, &rev.Completeness, &rev.Relevance, &rev.Feedback, &rev.AuthorType, &rev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rev)
	}
	return res, rows.Err()
}

// FindOpenIssueByTitlePrefixTx is the idempotency probe for remediation:
// any live, non-terminal issue whose title starts with the prefix counts.
func (r Repo) FindOpenIssueByTitlePrefixTx(ctx context.Context, tx *sql.Tx, prefix string) (*domain.Issue, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues
		WHERE title LIKE ? || '%' AND status NOT IN ('done','canceled') AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT 1`, prefix)
	issue, err := scanIssue(row)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}
