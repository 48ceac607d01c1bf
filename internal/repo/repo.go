package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"feedloop/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const issueColumns = `id,number,title,description,type,status,priority,parent_id,project_id,signal_source,signal_payload,hypothesis_json,agent_session_id,agent_summary,created_at,updated_at,completed_at,deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (domain.Issue, error) {
	var i domain.Issue
	var parentID, projectID, signalSource, signalPayload, hypothesis, sessionID, summary, completedAt, deletedAt sql.NullString
	err := row.Scan(&i.ID, &i.Number, &i.Title, &i.Description, &i.Type, &i.Status, &i.Priority,
		&parentID, &projectID, &signalSource, &signalPayload, &hypothesis, &sessionID, &summary,
		&i.CreatedAt, &i.UpdatedAt, &completedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if parentID.Valid {
		i.ParentID = &parentID.String
	}
	if projectID.Valid {
		i.ProjectID = &projectID.String
	}
	if signalSource.Valid {
		i.SignalSource = &signalSource.String
	}
	if signalPayload.Valid {
		i.SignalPayload = &signalPayload.String
	}
	if hypothesis.Valid {
		i.HypothesisJSON = &hypothesis.String
	}
	if sessionID.Valid {
		i.AgentSessionID = &sessionID.String
	}
	if summary.Valid {
		i.AgentSummary = &summary.String
	}
	if completedAt.Valid {
		i.CompletedAt = &completedAt.String
	}
	if deletedAt.Valid {
		i.DeletedAt = &deletedAt.String
	}
	return i, nil
}

func collectIssues(rows *sql.Rows) ([]domain.Issue, error) {
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Number, i.Title, i.Description, i.Type, i.Status, i.Priority,
		nullableStringPtr(i.ParentID), nullableStringPtr(i.ProjectID), nullableStringPtr(i.SignalSource),
		nullableStringPtr(i.SignalPayload), nullableStringPtr(i.HypothesisJSON), nullableStringPtr(i.AgentSessionID),
		nullableStringPtr(i.AgentSummary), i.CreatedAt, i.UpdatedAt, nullableStringPtr(i.CompletedAt), nullableStringPtr(i.DeletedAt))
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return scanIssue(r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	return scanIssue(tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=? AND deleted_at IS NULL`, id))
}

// NextIssueNumber allocates the next sequential display number. Callers run
// it inside the insert transaction so numbers never collide.
func (r Repo) NextIssueNumber(ctx context.Context, tx *sql.Tx) (int64, error) {
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number),0)+1 FROM issues`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET title=?, description=?, type=?, status=?, priority=?, parent_id=?, project_id=?, hypothesis_json=?, agent_session_id=?, agent_summary=?, updated_at=?, completed_at=? WHERE id=? AND deleted_at IS NULL`,
		i.Title, i.Description, i.Type, i.Status, i.Priority, nullableStringPtr(i.ParentID), nullableStringPtr(i.ProjectID),
		nullableStringPtr(i.HypothesisJSON), nullableStringPtr(i.AgentSessionID), nullableStringPtr(i.AgentSummary),
		i.UpdatedAt, nullableStringPtr(i.CompletedAt), i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SoftDeleteIssue(ctx context.Context, id, at string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, at, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type IssueFilters struct {
	Status   string
	Type     string
	Project  string
	Parent   string
	Label    string
	Priority *int
	Limit    int
	Offset   int
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Project != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.Project)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.Label != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM issue_labels il JOIN labels l ON l.id=il.label_id
			WHERE il.issue_id=issues.id AND l.name=?
		)`)
		args = append(args, f.Label)
	}
	if f.Priority != nil {
		clauses = append(clauses, "priority=?")
		args = append(args, *f.Priority)
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY number DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func (r Repo) ListChildren(ctx context.Context, parentID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE parent_id=? AND deleted_at IS NULL ORDER BY number ASC`, parentID)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

func (r Repo) ListSiblings(ctx context.Context, parentID, excludeID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE parent_id=? AND id!=? AND deleted_at IS NULL ORDER BY number ASC`, parentID, excludeID)
	if err != nil {
		return nil, err
	}
	return collectIssues(rows)
}

// HasFailedSiblingSessions reports whether any sibling under the same parent
// was canceled after an agent session left a summary behind.
func (r Repo) HasFailedSiblingSessions(ctx context.Context, parentID, excludeID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE parent_id=? AND id!=? AND status='canceled' AND agent_summary IS NOT NULL AND deleted_at IS NULL`,
		parentID, excludeID).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertRelation(ctx context.Context, rel domain.IssueRelation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issue_relations(id,type,issue_id,related_issue_id,created_at) VALUES (?,?,?,?,?)`,
		rel.ID, rel.Type, rel.IssueID, rel.RelatedIssueID, rel.CreatedAt)
	return err
}

func (r Repo) DeleteRelation(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM issue_relations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRelations(ctx context.Context, issueID string) ([]domain.IssueRelation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,type,issue_id,related_issue_id,created_at FROM issue_relations WHERE issue_id=? ORDER BY created_at ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IssueRelation
	for rows.Next() {
		var rel domain.IssueRelation
		if err := rows.Scan(&rel.ID, &rel.Type, &rel.IssueID, &rel.RelatedIssueID, &rel.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}

// RelationSummary is the short form used for blocking context.
type RelationSummary struct {
	Number int64  `json:"number"`
	Title  string `json:"title"`
}

func (r Repo) ListRelatedSummaries(ctx context.Context, issueID, relType string) ([]RelationSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT i.number, i.title FROM issue_relations ir
		JOIN issues i ON i.id=ir.related_issue_id
		WHERE ir.issue_id=? AND ir.type=? AND i.deleted_at IS NULL
		ORDER BY i.number ASC`, issueID, relType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RelationSummary
	for rows.Next() {
		var s RelationSummary
		if err := rows.Scan(&s.Number, &s.Title); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO comments(id,issue_id,body,author_name,author_type,parent_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.IssueID, c.Body, c.AuthorName, c.AuthorType, nullableStringPtr(c.ParentID), c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,body,author_name,author_type,parent_id,created_at FROM comments WHERE issue_id=? ORDER BY created_at ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var parentID sql.NullString
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Body, &c.AuthorName, &c.AuthorType, &parentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
