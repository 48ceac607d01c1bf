package engine

import (
	"context"
	"errors"
	"fmt"

	"feedloop/internal/domain"
	"feedloop/internal/events"
)

func (e Engine) CreateProject(ctx context.Context, name, description, actorID string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	now := e.nowRFC3339()
	p := domain.Project{
		ID:          newID(),
		Name:        name,
		Description: description,
		Status:      "backlog",
		Health:      "on_track",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, e.DB, "project.created", p.ID, "project", p.ID, actorID, nil); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Status      *string
	Health      *string
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Project{}, errors.New("name is required")
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil {
		switch *opts.Status {
		case "backlog", "active", "paused", "completed":
		default:
			return domain.Project{}, fmt.Errorf("invalid project status %q", *opts.Status)
		}
		p.Status = *opts.Status
	}
	if opts.Health != nil {
		switch *opts.Health {
		case "on_track", "at_risk", "off_track":
		default:
			return domain.Project{}, fmt.Errorf("invalid project health %q", *opts.Health)
		}
		p.Health = *opts.Health
	}
	p.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	if err := e.Repo.SoftDeleteProject(ctx, id, e.nowRFC3339()); err != nil {
		return err
	}
	return e.Events.Append(ctx, e.DB, "project.deleted", id, "project", id, actorID, nil)
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Metric      string
	TargetValue *float64
	Unit        string
	ActorID     string
}

func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if opts.Title == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Goal{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
		}
	}
	now := e.nowRFC3339()
	g := domain.Goal{
		ID:          newID(),
		Title:       opts.Title,
		Description: opts.Description,
		Metric:      opts.Metric,
		TargetValue: opts.TargetValue,
		Unit:        opts.Unit,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ProjectID != "" {
		g.ProjectID = &opts.ProjectID
	}
	if err := e.Repo.InsertGoal(ctx, g); err != nil {
		return domain.Goal{}, err
	}
	if err := e.Events.Append(ctx, e.DB, "goal.created", opts.ProjectID, "goal", g.ID, opts.ActorID, nil); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

type GoalUpdateOptions struct {
	Title        *string
	Description  *string
	CurrentValue *float64
	Status       *string
	ActorID      string
}

func (e Engine) UpdateGoal(ctx context.Context, id string, opts GoalUpdateOptions) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, id)
	if err != nil {
		return domain.Goal{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Goal{}, errors.New("title is required")
		}
		g.Title = *opts.Title
	}
	if opts.Description != nil {
		g.Description = *opts.Description
	}
	if opts.CurrentValue != nil {
		g.CurrentValue = opts.CurrentValue
	}
	if opts.Status != nil {
		switch *opts.Status {
		case "active", "achieved", "abandoned":
		default:
			return domain.Goal{}, fmt.Errorf("invalid goal status %q", *opts.Status)
		}
		g.Status = *opts.Status
	}
	g.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateGoal(ctx, g); err != nil {
		return domain.Goal{}, err
	}
	if opts.Status != nil {
		if err := e.Events.Append(ctx, e.DB, "goal.status_changed", strValue(g.ProjectID), "goal", g.ID, opts.ActorID,
			events.EventPayload{"status": g.Status}); err != nil {
			return domain.Goal{}, err
		}
	}
	return g, nil
}
