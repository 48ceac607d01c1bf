package engine

import (
	"context"
	"errors"
	"fmt"

	"feedloop/internal/domain"
	"feedloop/internal/events"
	"feedloop/internal/prompt"
	"feedloop/internal/repo"
	"feedloop/internal/scoring"
)

// PromptMeta identifies which template version produced a prompt, so agents
// can review exactly what they were given.
type PromptMeta struct {
	TemplateID    string `json:"template_id"`
	TemplateSlug  string `json:"template_slug"`
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	ReviewURL     string `json:"review_url"`
}

// DispatchResult is the payload handed to a claiming agent. Prompt and Meta
// are nil when the issue was claimed but no template matched it.
type DispatchResult struct {
	Issue  domain.Issue `json:"issue"`
	Prompt *string      `json:"prompt,omitempty"`
	Meta   *PromptMeta  `json:"meta,omitempty"`
}

// ClaimNext picks the highest-scored eligible issue and moves it to
// in_progress. Candidates raced away by concurrent claimers are skipped;
// a drained pool returns nil without error.
func (e Engine) ClaimNext(ctx context.Context, projectID, actorID string) (*domain.Issue, error) {
	for {
		ids, err := e.Repo.EligibleIssueIDs(ctx, projectID, e.now().UTC().Unix(), e.claimBatch())
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		for _, id := range ids {
			claimed, err := e.Repo.ClaimIssue(ctx, id, e.nowRFC3339())
			if err != nil {
				return nil, err
			}
			if claimed == nil {
				continue
			}
			if err := e.Events.Append(ctx, e.DB, "issue.claimed", strValue(claimed.ProjectID), "issue", claimed.ID, actorID,
				events.EventPayload{"number": claimed.Number}); err != nil {
				return nil, err
			}
			return claimed, nil
		}
		// Every candidate in the batch was taken or became ineligible
		// since the scan; pick up the current state and try again.
	}
}

// DispatchNext claims the next issue and renders its prompt. A claimed
// issue with no matching template still dispatches, just without a prompt.
func (e Engine) DispatchNext(ctx context.Context, projectID, actorID string) (*DispatchResult, error) {
	issue, err := e.ClaimNext(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, nil
	}
	res := &DispatchResult{Issue: *issue}

	tmpl, err := e.selectTemplateForIssue(ctx, *issue)
	if err != nil {
		return nil, err
	}
	if tmpl == nil || tmpl.ActiveVersionID == nil {
		return res, nil
	}
	version, err := e.Repo.GetVersion(ctx, *tmpl.ActiveVersionID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	text, err := e.renderPrompt(ctx, *issue, *tmpl, version)
	if err != nil {
		return nil, err
	}
	if err := e.Repo.IncrementVersionUsage(ctx, version.ID); err != nil {
		return nil, err
	}
	res.Prompt = &text
	res.Meta = &PromptMeta{
		TemplateID:    tmpl.ID,
		TemplateSlug:  tmpl.Slug,
		VersionID:     version.ID,
		VersionNumber: version.Version,
		ReviewURL:     e.Config.Agent.APIURL + "/prompt-reviews",
	}
	return res, nil
}

// PreviewResult is a dry-run dispatch for an existing issue.
type PreviewResult struct {
	Issue    domain.Issue           `json:"issue"`
	Template *domain.PromptTemplate `json:"template,omitempty"`
	Version  *domain.PromptVersion  `json:"version,omitempty"`
	Prompt   *string                `json:"prompt,omitempty"`
}

// PreviewIssue runs selection and rendering without claiming the issue or
// counting usage.
func (e Engine) PreviewIssue(ctx context.Context, issueID string) (PreviewResult, error) {
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("issue %s: %w", issueID, err)
	}
	res := PreviewResult{Issue: issue}
	tmpl, err := e.selectTemplateForIssue(ctx, issue)
	if err != nil {
		return PreviewResult{}, err
	}
	if tmpl == nil || tmpl.ActiveVersionID == nil {
		return res, nil
	}
	version, err := e.Repo.GetVersion(ctx, *tmpl.ActiveVersionID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return PreviewResult{}, err
	}
	text, err := e.renderPrompt(ctx, issue, *tmpl, version)
	if err != nil {
		return PreviewResult{}, err
	}
	res.Template = tmpl
	res.Version = &version
	res.Prompt = &text
	return res, nil
}

func (e Engine) renderPrompt(ctx context.Context, issue domain.Issue, tmpl domain.PromptTemplate, version domain.PromptVersion) (string, error) {
	hctx, err := e.buildHydrationContext(ctx, issue, tmpl, version)
	if err != nil {
		return "", err
	}
	text, err := e.Renderer.Render(version.ID, version.Content, hctx)
	if err != nil {
		return "", fmt.Errorf("render version %s: %w", version.ID, err)
	}
	return text, nil
}

// selectTemplateForIssue evaluates all live templates against the issue,
// falling back to type-only defaults when nothing matches directly.
func (e Engine) selectTemplateForIssue(ctx context.Context, issue domain.Issue) (*domain.PromptTemplate, error) {
	templates, err := e.Repo.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	ictx, err := e.buildIssueContext(ctx, issue)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.PromptTemplate, len(templates))
	candidates := make([]prompt.Candidate, 0, len(templates))
	for _, t := range templates {
		conditions, err := prompt.ParseConditions(t.ConditionsJSON)
		if err != nil {
			// Stored conditions are validated at write time; skip
			// anything that predates that check.
			continue
		}
		byID[t.ID] = t
		candidates = append(candidates, prompt.Candidate{
			ID:              t.ID,
			Slug:            t.Slug,
			Conditions:      conditions,
			Specificity:     t.Specificity,
			ProjectID:       t.ProjectID,
			ActiveVersionID: t.ActiveVersionID,
		})
	}
	chosen := prompt.Select(candidates, ictx)
	if chosen == nil {
		chosen = prompt.SelectDefault(candidates, issue.Type)
	}
	if chosen == nil {
		return nil, nil
	}
	t := byID[chosen.ID]
	return &t, nil
}

// QueueEntry is one row of the read-only dispatch preview.
type QueueEntry struct {
	Issue domain.Issue      `json:"issue"`
	Score scoring.Breakdown `json:"score"`
}

// DispatchQueue pages through the claim queue in claim order, with the
// score breakdown each issue would claim at. Nothing is locked or mutated.
func (e Engine) DispatchQueue(ctx context.Context, projectID string, limit, offset int) ([]QueueEntry, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	now := e.now().UTC()
	total, err := e.Repo.CountEligibleIssues(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}
	issues, err := e.Repo.ListEligibleIssues(ctx, projectID, now.Unix(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	goalByProject := map[string]bool{}
	entries := make([]QueueEntry, 0, len(issues))
	for _, issue := range issues {
		hasGoal := false
		if issue.ProjectID != nil {
			cached, ok := goalByProject[*issue.ProjectID]
			if !ok {
				cached, err = e.Repo.HasActiveGoal(ctx, *issue.ProjectID)
				if err != nil {
					return nil, 0, err
				}
				goalByProject[*issue.ProjectID] = cached
			}
			hasGoal = cached
		}
		entries = append(entries, QueueEntry{
			Issue: issue,
			Score: scoring.Score(issue.Priority, issue.Type, timeFromRFC3339(issue.CreatedAt), now, hasGoal),
		})
	}
	return entries, total, nil
}
