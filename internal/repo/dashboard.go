package repo

import (
	"context"
)

// StatusTypeCount is one cell of the issue breakdown grid.
type StatusTypeCount struct {
	Status string
	Type   string
	Count  int
}

func (r Repo) CountIssuesByStatusType(ctx context.Context) ([]StatusTypeCount, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, type, COUNT(*) FROM issues WHERE deleted_at IS NULL GROUP BY status, type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StatusTypeCount
	for rows.Next() {
		var c StatusTypeCount
		if err := rows.Scan(&c.Status, &c.Type, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountGoalsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM goals WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

func (r Repo) CountIssuesCompletedSince(ctx context.Context, cutoff string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE deleted_at IS NULL AND status = 'done' AND completed_at >= ?`,
		cutoff).Scan(&n)
	return n, err
}

// ReviewSummary aggregates every review across a template's versions.
type ReviewSummary struct {
	TotalReviews    int      `json:"total_reviews"`
	AvgClarity      *float64 `json:"avg_clarity,omitempty"`
	AvgCompleteness *float64 `json:"avg_completeness,omitempty"`
	AvgRelevance    *float64 `json:"avg_relevance,omitempty"`
}

func (r Repo) TemplateReviewSummary(ctx context.Context, templateID string) (ReviewSummary, error) {
	var s ReviewSummary
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(pr.clarity), AVG(pr.completeness), AVG(pr.relevance)
		 FROM prompt_reviews pr
		 JOIN prompt_versions pv ON pv.id = pr.version_id
		 WHERE pv.template_id = ?`,
		templateID).Scan(&s.TotalReviews, &s.AvgClarity, &s.AvgCompleteness, &s.AvgRelevance)
	return s, err
}
