package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feedloop/internal/domain"
	"feedloop/internal/events"
	"feedloop/internal/repo"
)

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	Title         string
	Description   string
	Type          string
	Priority      int
	ParentID      string
	ProjectID     string
	Hypothesis    *domain.Hypothesis
	SignalSource  string
	SignalPayload string
	ActorID       string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if opts.Type == "" {
		opts.Type = domain.IssueTypeTask
	}
	if !domain.ValidIssueType(opts.Type) {
		return domain.Issue{}, fmt.Errorf("invalid issue type %q", opts.Type)
	}
	if opts.Priority < 0 || opts.Priority > 4 {
		return domain.Issue{}, fmt.Errorf("invalid priority %d", opts.Priority)
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Issue{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
	}
	if opts.ParentID != "" {
		parent, err := e.Repo.GetIssue(ctx, opts.ParentID)
		if err != nil {
			return domain.Issue{}, fmt.Errorf("parent %s: %w", opts.ParentID, err)
		}
		if parent.ParentID != nil {
			return domain.Issue{}, errors.New("invalid parent: nesting is limited to one level")
		}
	}

	now := e.nowRFC3339()
	issue := domain.Issue{
		ID:          newID(),
		Title:       opts.Title,
		Description: opts.Description,
		Type:        opts.Type,
		Status:      domain.IssueStatusTriage,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ParentID != "" {
		issue.ParentID = &opts.ParentID
	}
	if opts.ProjectID != "" {
		issue.ProjectID = &opts.ProjectID
	}
	if opts.SignalSource != "" {
		issue.SignalSource = &opts.SignalSource
	}
	if opts.SignalPayload != "" {
		issue.SignalPayload = &opts.SignalPayload
	}
	if opts.Hypothesis != nil {
		if opts.Hypothesis.Confidence < 0 || opts.Hypothesis.Confidence > 1 {
			return domain.Issue{}, errors.New("invalid hypothesis confidence, must be within [0,1]")
		}
		raw, err := json.Marshal(opts.Hypothesis)
		if err != nil {
			return domain.Issue{}, err
		}
		s := string(raw)
		issue.HypothesisJSON = &s
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	number, err := e.Repo.NextIssueNumber(ctx, tx)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.Number = number
	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "issue.created", opts.ProjectID, "issue", issue.ID, opts.ActorID,
		events.EventPayload{"number": issue.Number, "type": issue.Type}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// IssueUpdateOptions carries a sparse patch; nil fields stay untouched.
type IssueUpdateOptions struct {
	Title          *string
	Description    *string
	Status         *string
	Priority       *int
	ProjectID      *string
	AgentSessionID *string
	AgentSummary   *string
	Hypothesis     *domain.Hypothesis
	ActorID        string
}

func (e Engine) UpdateIssue(ctx context.Context, id string, opts IssueUpdateOptions) (domain.Issue, error) {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Issue{}, errors.New("title is required")
		}
		issue.Title = *opts.Title
	}
	if opts.Description != nil {
		issue.Description = *opts.Description
	}
	if opts.Priority != nil {
		if *opts.Priority < 0 || *opts.Priority > 4 {
			return domain.Issue{}, fmt.Errorf("invalid priority %d", *opts.Priority)
		}
		issue.Priority = *opts.Priority
	}
	if opts.ProjectID != nil {
		if *opts.ProjectID == "" {
			issue.ProjectID = nil
		} else {
			if _, err := e.Repo.GetProject(ctx, *opts.ProjectID); err != nil {
				return domain.Issue{}, fmt.Errorf("project %s: %w", *opts.ProjectID, err)
			}
			issue.ProjectID = opts.ProjectID
		}
	}
	if opts.AgentSessionID != nil {
		issue.AgentSessionID = opts.AgentSessionID
	}
	if opts.AgentSummary != nil {
		issue.AgentSummary = opts.AgentSummary
	}
	if opts.Hypothesis != nil {
		if opts.Hypothesis.Confidence < 0 || opts.Hypothesis.Confidence > 1 {
			return domain.Issue{}, errors.New("invalid hypothesis confidence, must be within [0,1]")
		}
		raw, err := json.Marshal(opts.Hypothesis)
		if err != nil {
			return domain.Issue{}, err
		}
		s := string(raw)
		issue.HypothesisJSON = &s
	}
	now := e.nowRFC3339()
	if opts.Status != nil && *opts.Status != issue.Status {
		if !domain.ValidIssueStatus(*opts.Status) {
			return domain.Issue{}, fmt.Errorf("invalid status %q", *opts.Status)
		}
		issue.Status = *opts.Status
		if issue.Status == domain.IssueStatusDone {
			issue.CompletedAt = &now
		}
	}
	issue.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.updated", strValue(issue.ProjectID), "issue", issue.ID, opts.ActorID,
		events.EventPayload{"status": issue.Status}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

func (e Engine) DeleteIssue(ctx context.Context, id, actorID string) error {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.SoftDeleteIssue(ctx, id, e.nowRFC3339()); err != nil {
		return err
	}
	return e.Events.Append(ctx, e.DB, "issue.deleted", strValue(issue.ProjectID), "issue", id, actorID, nil)
}

// IssueDetail is an issue with its immediate surroundings resolved.
type IssueDetail struct {
	Issue     domain.Issue           `json:"issue"`
	Parent    *domain.Issue          `json:"parent,omitempty"`
	Children  []domain.Issue         `json:"children"`
	Labels    []domain.Label         `json:"labels"`
	Relations []domain.IssueRelation `json:"relations"`
	Comments  []domain.Comment       `json:"comments"`
}

func (e Engine) GetIssueDetail(ctx context.Context, id string) (IssueDetail, error) {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	d := IssueDetail{Issue: issue}
	if issue.ParentID != nil {
		parent, err := e.Repo.GetIssue(ctx, *issue.ParentID)
		if err == nil {
			d.Parent = &parent
		} else if !errors.Is(err, repo.ErrNotFound) {
			return IssueDetail{}, err
		}
	}
	if d.Children, err = e.Repo.ListChildren(ctx, id); err != nil {
		return IssueDetail{}, err
	}
	if d.Labels, err = e.Repo.ListIssueLabels(ctx, id); err != nil {
		return IssueDetail{}, err
	}
	if d.Relations, err = e.Repo.ListRelations(ctx, id); err != nil {
		return IssueDetail{}, err
	}
	if d.Comments, err = e.Repo.ListComments(ctx, id); err != nil {
		return IssueDetail{}, err
	}
	return d, nil
}

func (e Engine) AddRelation(ctx context.Context, issueID, relType, relatedID, actorID string) (domain.IssueRelation, error) {
	if !domain.ValidRelationType(relType) {
		return domain.IssueRelation{}, fmt.Errorf("invalid relation type %q", relType)
	}
	if issueID == relatedID {
		return domain.IssueRelation{}, errors.New("invalid relation: issue cannot relate to itself")
	}
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return domain.IssueRelation{}, fmt.Errorf("issue %s: %w", issueID, err)
	}
	if _, err := e.Repo.GetIssue(ctx, relatedID); err != nil {
		return domain.IssueRelation{}, fmt.Errorf("related issue %s: %w", relatedID, err)
	}
	rel := domain.IssueRelation{
		ID:             newID(),
		Type:           relType,
		IssueID:        issueID,
		RelatedIssueID: relatedID,
		CreatedAt:      e.nowRFC3339(),
	}
	if err := e.Repo.InsertRelation(ctx, rel); err != nil {
		return domain.IssueRelation{}, err
	}
	if err := e.Events.Append(ctx, e.DB, "relation.created", "", "issue", issueID, actorID,
		events.EventPayload{"type": relType, "related_issue_id": relatedID}); err != nil {
		return domain.IssueRelation{}, err
	}
	return rel, nil
}

func (e Engine) AddComment(ctx context.Context, issueID, body, authorName, authorType string, parentID, actorID string) (domain.Comment, error) {
	if body == "" {
		return domain.Comment{}, errors.New("body is required")
	}
	if authorName == "" {
		return domain.Comment{}, errors.New("author_name is required")
	}
	if authorType != "human" && authorType != "agent" {
		return domain.Comment{}, fmt.Errorf("invalid author type %q", authorType)
	}
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:         newID(),
		IssueID:    issueID,
		Body:       body,
		AuthorName: authorName,
		AuthorType: authorType,
		CreatedAt:  e.nowRFC3339(),
	}
	if parentID != "" {
		c.ParentID = &parentID
	}
	if err := e.Repo.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) CreateLabel(ctx context.Context, name, color string) (domain.Label, error) {
	if name == "" {
		return domain.Label{}, errors.New("name is required")
	}
	if color == "" {
		color = "#999999"
	}
	l := domain.Label{ID: newID(), Name: name, Color: color, CreatedAt: e.nowRFC3339()}
	if err := e.Repo.InsertLabel(ctx, l); err != nil {
		return domain.Label{}, err
	}
	return l, nil
}

func (e Engine) AttachLabel(ctx context.Context, issueID, labelName, actorID string) error {
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return err
	}
	label, err := e.Repo.GetLabelByName(ctx, labelName)
	if err != nil {
		return fmt.Errorf("label %s: %w", labelName, err)
	}
	if err := e.Repo.AttachLabel(ctx, issueID, label.ID); err != nil {
		return err
	}
	return e.Events.Append(ctx, e.DB, "label.attached", "", "issue", issueID, actorID,
		events.EventPayload{"label": labelName})
}

func (e Engine) DetachLabel(ctx context.Context, issueID, labelName string) error {
	label, err := e.Repo.GetLabelByName(ctx, labelName)
	if err != nil {
		return fmt.Errorf("label %s: %w", labelName, err)
	}
	return e.Repo.DetachLabel(ctx, issueID, label.ID)
}

var severityPriority = map[string]int{
	"critical": 1,
	"high":     2,
	"medium":   3,
	"low":      4,
}

// SignalOptions are parameters for turning an external signal into work.
type SignalOptions struct {
	Source    string
	SourceID  string
	Type      string
	Severity  string
	Summary   string
	Payload   map[string]any
	ProjectID string
	ActorID   string
}

// IngestSignal records the raw signal and opens a triage issue for it in
// one transaction, so no signal can exist without a tracked follow-up.
func (e Engine) IngestSignal(ctx context.Context, opts SignalOptions) (domain.Signal, domain.Issue, error) {
	if opts.Source == "" {
		return domain.Signal{}, domain.Issue{}, errors.New("source is required")
	}
	if opts.Type == "" {
		return domain.Signal{}, domain.Issue{}, errors.New("type is required")
	}
	priority, ok := severityPriority[opts.Severity]
	if !ok {
		return domain.Signal{}, domain.Issue{}, fmt.Errorf("invalid severity %q", opts.Severity)
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Signal{}, domain.Issue{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
	}
	payload := opts.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return domain.Signal{}, domain.Issue{}, err
	}

	title := fmt.Sprintf("[%s] %s", opts.Source, opts.Type)
	if opts.Summary != "" {
		title = fmt.Sprintf("[%s] %s: %s", opts.Source, opts.Type, opts.Summary)
	}

	now := e.nowRFC3339()
	payloadStr := string(rawPayload)
	issue := domain.Issue{
		ID:            newID(),
		Title:         title,
		Type:          domain.IssueTypeSignal,
		Status:        domain.IssueStatusTriage,
		Priority:      priority,
		SignalSource:  &opts.Source,
		SignalPayload: &payloadStr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.ProjectID != "" {
		issue.ProjectID = &opts.ProjectID
	}
	signal := domain.Signal{
		ID:        newID(),
		Source:    opts.Source,
		Type:      opts.Type,
		Severity:  opts.Severity,
		Payload:   payloadStr,
		IssueID:   issue.ID,
		CreatedAt: now,
	}
	if opts.SourceID != "" {
		signal.SourceID = &opts.SourceID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signal{}, domain.Issue{}, err
	}
	defer tx.Rollback()
	number, err := e.Repo.NextIssueNumber(ctx, tx)
	if err != nil {
		return domain.Signal{}, domain.Issue{}, err
	}
	issue.Number = number
	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return domain.Signal{}, domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := e.Repo.InsertSignal(ctx, tx, signal); err != nil {
		return domain.Signal{}, domain.Issue{}, fmt.Errorf("insert signal: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "signal.ingested", opts.ProjectID, "signal", signal.ID, opts.ActorID,
		events.EventPayload{"source": opts.Source, "severity": opts.Severity, "issue_id": issue.ID}); err != nil {
		return domain.Signal{}, domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signal{}, domain.Issue{}, err
	}
	return signal, issue, nil
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func timeFromRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
