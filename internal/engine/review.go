package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"feedloop/internal/domain"
	"feedloop/internal/events"
	"feedloop/internal/repo"
)

const (
	// reviewAlpha weights the newest composite in the smoothed score.
	reviewAlpha = 0.3
	// reviewMinSample is how many reviews a version needs before
	// remediation is even considered.
	reviewMinSample = 3
	// reviewScoreFloor triggers remediation when the smoothed score
	// drops below it.
	reviewScoreFloor = 3.5
	// reviewStabilityCeiling triggers remediation once a version has
	// accumulated this many reviews, prompting a refresh regardless of
	// score.
	reviewStabilityCeiling = 15

	remediationTitlePrefix = "Prompt quality degraded: "
)

// ReviewOptions are parameters for reviewing a dispatched prompt.
type ReviewOptions struct {
	VersionID    string
	IssueID      string
	Clarity      int
	Completeness int
	Relevance    int
	Feedback     string
	AuthorType   string
	ActorID      string
}

// ReviewOutcome reports the review plus the version's updated quality state.
type ReviewOutcome struct {
	Review             domain.PromptReview `json:"review"`
	Score              float64             `json:"score"`
	ReviewCount        int                 `json:"review_count"`
	RemediationIssueID *string             `json:"remediation_issue_id,omitempty"`
	RemediationCreated bool                `json:"remediation_created"`
}

// SubmitReview appends a review, folds its composite into the version's
// smoothed score, and opens a remediation issue when quality degrades. The
// review, the score update and any remediation land in one transaction.
func (e Engine) SubmitReview(ctx context.Context, opts ReviewOptions) (ReviewOutcome, error) {
	for name, v := range map[string]int{"clarity": opts.Clarity, "completeness": opts.Completeness, "relevance": opts.Relevance} {
		if v < 1 || v > 5 {
			return ReviewOutcome{}, fmt.Errorf("invalid %s %d, must be within [1,5]", name, v)
		}
	}
	if opts.AuthorType == "" {
		opts.AuthorType = "agent"
	}
	if opts.AuthorType != "human" && opts.AuthorType != "agent" {
		return ReviewOutcome{}, fmt.Errorf("invalid author type %q", opts.AuthorType)
	}
	if _, err := e.Repo.GetIssue(ctx, opts.IssueID); err != nil {
		return ReviewOutcome{}, fmt.Errorf("issue %s: %w", opts.IssueID, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReviewOutcome{}, err
	}
	defer tx.Rollback()

	version, err := e.Repo.GetVersionTx(ctx, tx, opts.VersionID)
	if err != nil {
		return ReviewOutcome{}, fmt.Errorf("version %s: %w", opts.VersionID, err)
	}

	now := e.nowRFC3339()
	review := domain.PromptReview{
		ID:           newID(),
		VersionID:    version.ID,
		IssueID:      opts.IssueID,
		Clarity:      opts.Clarity,
		Completeness: opts.Completeness,
		Relevance:    opts.Relevance,
		Feedback:     opts.Feedback,
		AuthorType:   opts.AuthorType,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertReview(ctx, tx, review); err != nil {
		return ReviewOutcome{}, fmt.Errorf("insert review: %w", err)
	}

	composite := float64(opts.Clarity+opts.Completeness+opts.Relevance) / 3
	score := composite
	if version.ReviewScore != nil {
		score = reviewAlpha*composite + (1-reviewAlpha)**version.ReviewScore
	}
	if err := e.Repo.UpdateVersionReviewScore(ctx, tx, version.ID, score); err != nil {
		return ReviewOutcome{}, err
	}
	count, err := e.Repo.CountReviewsTx(ctx, tx, version.ID)
	if err != nil {
		return ReviewOutcome{}, err
	}

	template, err := e.Repo.GetTemplateTx(ctx, tx, version.TemplateID)
	templateGone := errors.Is(err, repo.ErrNotFound)
	if err != nil && !templateGone {
		return ReviewOutcome{}, err
	}

	outcome := ReviewOutcome{Review: review, Score: score, ReviewCount: count}
	if err := e.Events.Append(ctx, tx, "review.submitted", "", "version", version.ID, opts.ActorID,
		events.EventPayload{"score": score, "count": count}); err != nil {
		return ReviewOutcome{}, err
	}

	if count >= reviewMinSample && !templateGone && (score < reviewScoreFloor || count >= reviewStabilityCeiling) {
		id, created, err := e.ensureRemediationIssue(ctx, tx, template, version, score, count, opts.ActorID)
		if err != nil {
			return ReviewOutcome{}, err
		}
		outcome.RemediationIssueID = &id
		outcome.RemediationCreated = created
	}

	if err := tx.Commit(); err != nil {
		return ReviewOutcome{}, err
	}
	return outcome, nil
}

// ensureRemediationIssue opens the follow-up work for a degraded template,
// unless an open one for the same template already exists.
func (e Engine) ensureRemediationIssue(ctx context.Context, tx *sql.Tx, template domain.PromptTemplate, version domain.PromptVersion, score float64, count int, actorID string) (string, bool, error) {
	title := remediationTitlePrefix + template.Slug
	existing, err := e.Repo.FindOpenIssueByTitlePrefixTx(ctx, tx, title)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	now := e.nowRFC3339()
	issue := domain.Issue{
		ID:       newID(),
		Title:    title,
		Type:     domain.IssueTypeTask,
		Status:   domain.IssueStatusTodo,
		Priority: 3,
		Description: fmt.Sprintf(
			"Template %q version %d has degraded instruction quality.\n\nSmoothed review score: %.2f\nReviews: %d\n\nRevise the template content and promote a new version.",
			template.Slug, version.Version, score, count),
		ProjectID: template.ProjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	number, err := e.Repo.NextIssueNumber(ctx, tx)
	if err != nil {
		return "", false, err
	}
	issue.Number = number
	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return "", false, fmt.Errorf("insert remediation issue: %w", err)
	}
	for name, color := range map[string]string{"prompt-quality": "#ef4444", "automated": "#6b7280"} {
		label, err := e.Repo.GetLabelByNameTx(ctx, tx, name)
		if errors.Is(err, repo.ErrNotFound) {
			label = domain.Label{ID: newID(), Name: name, Color: color, CreatedAt: now}
			if err := e.Repo.InsertLabelTx(ctx, tx, label); err != nil {
				return "", false, err
			}
		} else if err != nil {
			return "", false, err
		}
		if err := e.Repo.AttachLabelTx(ctx, tx, issue.ID, label.ID); err != nil {
			return "", false, err
		}
	}
	if err := e.Events.Append(ctx, tx, "remediation.opened", strValue(template.ProjectID), "issue", issue.ID, actorID,
		events.EventPayload{"template": template.Slug, "score": score, "count": count}); err != nil {
		return "", false, err
	}
	return issue.ID, true, nil
}
