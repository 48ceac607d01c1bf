package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"feedloop/internal/domain"
	"feedloop/internal/events"
	"feedloop/internal/prompt"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// TemplateCreateOptions are parameters for creating a prompt template.
type TemplateCreateOptions struct {
	Slug        string
	Name        string
	Description string
	Conditions  string
	Specificity *int
	ProjectID   string
	ActorID     string
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.PromptTemplate, error) {
	if !slugPattern.MatchString(opts.Slug) {
		return domain.PromptTemplate{}, fmt.Errorf("invalid slug %q, must be lowercase kebab-case", opts.Slug)
	}
	if opts.Name == "" {
		return domain.PromptTemplate{}, errors.New("name is required")
	}
	conditions := opts.Conditions
	if conditions == "" {
		conditions = "{}"
	}
	if _, err := prompt.ParseConditions(conditions); err != nil {
		return domain.PromptTemplate{}, fmt.Errorf("invalid conditions: %w", err)
	}
	specificity := 10
	if opts.Specificity != nil {
		if *opts.Specificity < 0 || *opts.Specificity > 100 {
			return domain.PromptTemplate{}, fmt.Errorf("invalid specificity %d, must be within [0,100]", *opts.Specificity)
		}
		specificity = *opts.Specificity
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.PromptTemplate{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
	}
	now := e.nowRFC3339()
	t := domain.PromptTemplate{
		ID:             newID(),
		Slug:           opts.Slug,
		Name:           opts.Name,
		Description:    opts.Description,
		ConditionsJSON: conditions,
		Specificity:    specificity,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ProjectID != "" {
		t.ProjectID = &opts.ProjectID
	}
	if err := e.Repo.InsertTemplate(ctx, t); err != nil {
		return domain.PromptTemplate{}, err
	}
	if err := e.Events.Append(ctx, e.DB, "template.created", opts.ProjectID, "template", t.ID, opts.ActorID,
		events.EventPayload{"slug": t.Slug}); err != nil {
		return domain.PromptTemplate{}, err
	}
	return t, nil
}

type TemplateUpdateOptions struct {
	Name        *string
	Description *string
	Conditions  *string
	Specificity *int
	ActorID     string
}

func (e Engine) UpdateTemplate(ctx context.Context, id string, opts TemplateUpdateOptions) (domain.PromptTemplate, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.PromptTemplate{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.PromptTemplate{}, errors.New("name is required")
		}
		t.Name = *opts.Name
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Conditions != nil {
		if _, err := prompt.ParseConditions(*opts.Conditions); err != nil {
			return domain.PromptTemplate{}, fmt.Errorf("invalid conditions: %w", err)
		}
		t.ConditionsJSON = *opts.Conditions
	}
	if opts.Specificity != nil {
		if *opts.Specificity < 0 || *opts.Specificity > 100 {
			return domain.PromptTemplate{}, fmt.Errorf("invalid specificity %d, must be within [0,100]", *opts.Specificity)
		}
		t.Specificity = *opts.Specificity
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.PromptTemplate{}, err
	}
	return t, nil
}

func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	if err := e.Repo.SoftDeleteTemplate(ctx, id, e.nowRFC3339()); err != nil {
		return err
	}
	return e.Events.Append(ctx, e.DB, "template.deleted", "", "template", id, actorID, nil)
}

// VersionCreateOptions are parameters for adding a version to a template.
type VersionCreateOptions struct {
	TemplateID string
	Content    string
	Changelog  string
	AuthorType string
	AuthorName string
	ActorID    string
}

// CreateVersion appends an immutable version. The very first version of a
// template activates immediately so the template becomes selectable without
// a separate promote step.
func (e Engine) CreateVersion(ctx context.Context, opts VersionCreateOptions) (domain.PromptVersion, error) {
	if opts.Content == "" {
		return domain.PromptVersion{}, errors.New("content is required")
	}
	if opts.AuthorName == "" {
		return domain.PromptVersion{}, errors.New("author_name is required")
	}
	if opts.AuthorType != "human" && opts.AuthorType != "agent" {
		return domain.PromptVersion{}, fmt.Errorf("invalid author type %q", opts.AuthorType)
	}
	if err := e.Renderer.Compile(opts.Content); err != nil {
		return domain.PromptVersion{}, fmt.Errorf("invalid content: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, opts.TemplateID)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	number, err := e.Repo.NextVersionNumber(ctx, tx, t.ID)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	now := e.nowRFC3339()
	v := domain.PromptVersion{
		ID:         newID(),
		TemplateID: t.ID,
		Version:    number,
		Content:    opts.Content,
		Changelog:  opts.Changelog,
		AuthorType: opts.AuthorType,
		AuthorName: opts.AuthorName,
		Status:     domain.VersionStatusDraft,
		CreatedAt:  now,
	}
	if number == 1 {
		v.Status = domain.VersionStatusActive
	}
	if err := e.Repo.InsertVersion(ctx, tx, v); err != nil {
		return domain.PromptVersion{}, fmt.Errorf("insert version: %w", err)
	}
	if number == 1 {
		if err := e.Repo.SetActiveVersion(ctx, tx, t.ID, v.ID, now); err != nil {
			return domain.PromptVersion{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "version.created", strValue(t.ProjectID), "version", v.ID, opts.ActorID,
		events.EventPayload{"template": t.Slug, "version": number}); err != nil {
		return domain.PromptVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PromptVersion{}, err
	}
	return v, nil
}

// PromoteVersion retires the currently active version and activates the
// given one, atomically with the template pointer update.
func (e Engine) PromoteVersion(ctx context.Context, versionID, actorID string) (domain.PromptVersion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetVersionTx(ctx, tx, versionID)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, v.TemplateID)
	if err != nil {
		return domain.PromptVersion{}, err
	}
	if t.ActiveVersionID != nil && *t.ActiveVersionID == v.ID {
		return domain.PromptVersion{}, fmt.Errorf("version %d is already active", v.Version)
	}
	now := e.nowRFC3339()
	if t.ActiveVersionID != nil {
		if err := e.Repo.UpdateVersionStatus(ctx, tx, *t.ActiveVersionID, domain.VersionStatusRetired); err != nil {
			return domain.PromptVersion{}, err
		}
	}
	if err := e.Repo.UpdateVersionStatus(ctx, tx, v.ID, domain.VersionStatusActive); err != nil {
		return domain.PromptVersion{}, err
	}
	if err := e.Repo.SetActiveVersion(ctx, tx, t.ID, v.ID, now); err != nil {
		return domain.PromptVersion{}, err
	}
	if err := e.Events.Append(ctx, tx, "version.promoted", strValue(t.ProjectID), "version", v.ID, actorID,
		events.EventPayload{"template": t.Slug, "version": v.Version}); err != nil {
		return domain.PromptVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PromptVersion{}, err
	}
	v.Status = domain.VersionStatusActive
	return v, nil
}
