package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"feedloop/internal/domain"
	"feedloop/internal/repo"
)

type IssueStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}

type GoalStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Achieved int `json:"achieved"`
}

type DispatchStats struct {
	QueueDepth       int `json:"queue_depth"`
	ActiveCount      int `json:"active_count"`
	CompletedLast24h int `json:"completed_last_24h"`
}

// DashboardStats is the aggregate health read for status views.
type DashboardStats struct {
	Issues   IssueStats    `json:"issues"`
	Goals    GoalStats     `json:"goals"`
	Dispatch DispatchStats `json:"dispatch"`
}

// TemplateHealth is one template's quality snapshot: its active version,
// review aggregates across all versions, and whether the smoothed score of
// the active version sits below the remediation threshold.
type TemplateHealth struct {
	Template       domain.PromptTemplate `json:"template"`
	ActiveVersion  *domain.PromptVersion `json:"active_version,omitempty"`
	ReviewSummary  repo.ReviewSummary    `json:"review_summary"`
	NeedsAttention bool                  `json:"needs_attention"`
}

// GetDashboardStats aggregates issue, goal and dispatch counts in one read.
// The independent queries run concurrently.
func (e Engine) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	stats := DashboardStats{
		Issues: IssueStats{ByStatus: map[string]int{}, ByType: map[string]int{}},
	}
	cutoff := e.now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		grid, err := e.Repo.CountIssuesByStatusType(gctx)
		if err != nil {
			return err
		}
		for _, cell := range grid {
			stats.Issues.ByStatus[cell.Status] += cell.Count
			stats.Issues.ByType[cell.Type] += cell.Count
			stats.Issues.Total += cell.Count
		}
		return nil
	})
	g.Go(func() error {
		byStatus, err := e.Repo.CountGoalsByStatus(gctx)
		if err != nil {
			return err
		}
		for status, n := range byStatus {
			stats.Goals.Total += n
			switch status {
			case "active":
				stats.Goals.Active = n
			case "achieved":
				stats.Goals.Achieved = n
			}
		}
		return nil
	})
	g.Go(func() error {
		n, err := e.Repo.CountIssuesCompletedSince(gctx, cutoff)
		if err != nil {
			return err
		}
		stats.Dispatch.CompletedLast24h = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}
	stats.Dispatch.QueueDepth = stats.Issues.ByStatus[domain.IssueStatusTodo]
	stats.Dispatch.ActiveCount = stats.Issues.ByStatus[domain.IssueStatusInProgress]
	return stats, nil
}

// GetTemplateHealth reports the quality state of every template.
func (e Engine) GetTemplateHealth(ctx context.Context) ([]TemplateHealth, error) {
	templates, err := e.Repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]TemplateHealth, 0, len(templates))
	for _, tmpl := range templates {
		h := TemplateHealth{Template: tmpl}
		if tmpl.ActiveVersionID != nil {
			v, err := e.Repo.GetVersion(ctx, *tmpl.ActiveVersionID)
			if err != nil {
				return nil, err
			}
			h.ActiveVersion = &v
			if v.ReviewScore != nil && *v.ReviewScore < reviewScoreFloor {
				h.NeedsAttention = true
			}
		}
		h.ReviewSummary, err = e.Repo.TemplateReviewSummary(ctx, tmpl.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, nil
}
