package engine

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/sync/errgroup"

	"feedloop/internal/domain"
	"feedloop/internal/prompt"
	"feedloop/internal/repo"
)

// buildIssueContext resolves the slice of issue state that template
// conditions are matched against.
func (e Engine) buildIssueContext(ctx context.Context, issue domain.Issue) (prompt.IssueContext, error) {
	ictx := prompt.IssueContext{
		Type:         issue.Type,
		SignalSource: issue.SignalSource,
		ProjectID:    issue.ProjectID,
	}
	labels, err := e.Repo.ListIssueLabels(ctx, issue.ID)
	if err != nil {
		return prompt.IssueContext{}, err
	}
	ictx.Labels = make([]string, 0, len(labels))
	for _, l := range labels {
		ictx.Labels = append(ictx.Labels, l.Name)
	}
	if issue.ParentID != nil {
		failed, err := e.Repo.HasFailedSiblingSessions(ctx, *issue.ParentID, issue.ID)
		if err != nil {
			return prompt.IssueContext{}, err
		}
		ictx.HasFailedSessions = failed
	}
	if h := parseHypothesis(issue.HypothesisJSON); h != nil {
		ictx.HypothesisConfidence = &h.Confidence
	}
	return ictx, nil
}

// buildHydrationContext assembles everything a template can reference. The
// independent lookups run concurrently; the goal lookup waits on the
// project. Absent relations become empty entries, never errors.
func (e Engine) buildHydrationContext(ctx context.Context, issue domain.Issue, template domain.PromptTemplate, version domain.PromptVersion) (map[string]any, error) {
	var (
		parent             *domain.Issue
		siblingsOrChildren []domain.Issue
		project            *domain.Project
		labels             []domain.Label
		blocking           []repo.RelationSummary
		blockedBy          []repo.RelationSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if issue.ParentID == nil {
			return nil
		}
		p, err := e.Repo.GetIssue(gctx, *issue.ParentID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		parent = &p
		return nil
	})
	g.Go(func() error {
		var err error
		if issue.ParentID != nil {
			siblingsOrChildren, err = e.Repo.ListSiblings(gctx, *issue.ParentID, issue.ID)
		} else {
			siblingsOrChildren, err = e.Repo.ListChildren(gctx, issue.ID)
		}
		return err
	})
	g.Go(func() error {
		if issue.ProjectID == nil {
			return nil
		}
		p, err := e.Repo.GetProject(gctx, *issue.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		project = &p
		return nil
	})
	g.Go(func() error {
		var err error
		labels, err = e.Repo.ListIssueLabels(gctx, issue.ID)
		return err
	})
	g.Go(func() error {
		var err error
		blocking, err = e.Repo.ListRelatedSummaries(gctx, issue.ID, domain.RelationBlocks)
		return err
	})
	g.Go(func() error {
		var err error
		blockedBy, err = e.Repo.ListRelatedSummaries(gctx, issue.ID, domain.RelationBlockedBy)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var goal *domain.Goal
	if project != nil {
		gl, err := e.Repo.FirstGoalForProject(ctx, project.ID)
		if err == nil {
			goal = &gl
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	siblings, children := []domain.Issue{}, []domain.Issue{}
	if issue.ParentID != nil {
		siblings = siblingsOrChildren
	} else {
		children = siblingsOrChildren
	}

	previousSessions := []any{}
	if issue.AgentSummary != nil {
		previousSessions = append(previousSessions, map[string]any{
			"status":        issue.Status,
			"agent_summary": *issue.AgentSummary,
		})
	}

	h := map[string]any{
		"issue":             issueMap(issue),
		"parent":            issuePtrMap(parent),
		"siblings":          issueListMaps(siblings),
		"children":          issueListMaps(children),
		"project":           structPtrMap(project),
		"goal":              structPtrMap(goal),
		"labels":            labelMaps(labels),
		"blocking":          summaryMaps(blocking),
		"blocked_by":        summaryMaps(blockedBy),
		"previous_sessions": previousSessions,
		"api_url":           e.Config.Agent.APIURL,
		"api_token":         e.Config.Agent.APIToken,
		"meta": map[string]any{
			"template_id":    template.ID,
			"template_slug":  template.Slug,
			"version_id":     version.ID,
			"version_number": float64(version.Version),
		},
	}
	return h, nil
}

func parseHypothesis(raw *string) *domain.Hypothesis {
	if raw == nil || *raw == "" {
		return nil
	}
	var h domain.Hypothesis
	if err := json.Unmarshal([]byte(*raw), &h); err != nil {
		return nil
	}
	return &h
}

// structMap flattens a struct through its JSON form so template paths line
// up with the API field names.
func structMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func issueMap(i domain.Issue) map[string]any {
	m := structMap(i)
	if h := parseHypothesis(i.HypothesisJSON); h != nil {
		m["hypothesis"] = structMap(h)
	}
	return m
}

func issuePtrMap(i *domain.Issue) any {
	if i == nil {
		return nil
	}
	return issueMap(*i)
}

func structPtrMap[T any](v *T) any {
	if v == nil {
		return nil
	}
	return structMap(v)
}

func issueListMaps(list []domain.Issue) []any {
	res := make([]any, 0, len(list))
	for _, i := range list {
		res = append(res, issueMap(i))
	}
	return res
}

func labelMaps(list []domain.Label) []any {
	res := make([]any, 0, len(list))
	for _, l := range list {
		res = append(res, map[string]any{"name": l.Name, "color": l.Color})
	}
	return res
}

func summaryMaps(list []repo.RelationSummary) []any {
	res := make([]any, 0, len(list))
	for _, s := range list {
		res = append(res, map[string]any{"number": float64(s.Number), "title": s.Title})
	}
	return res
}
