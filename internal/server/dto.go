package server

import (
	"feedloop/internal/domain"
	"feedloop/internal/engine"
)

// Request payloads

type CreateIssueRequest struct {
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Type          string             `json:"type,omitempty" enum:"signal,hypothesis,plan,task,monitor"`
	Priority      int                `json:"priority,omitempty" minimum:"0" maximum:"4"`
	ParentID      *string            `json:"parent_id,omitempty"`
	ProjectID     *string            `json:"project_id,omitempty"`
	Hypothesis    *domain.Hypothesis `json:"hypothesis,omitempty"`
	SignalSource  *string            `json:"signal_source,omitempty"`
	SignalPayload *string            `json:"signal_payload,omitempty"`
}

type UpdateIssueRequest struct {
	Title          *string            `json:"title,omitempty"`
	Description    *string            `json:"description,omitempty"`
	Status         *string            `json:"status,omitempty" enum:"triage,todo,in_progress,done,canceled"`
	Priority       *int               `json:"priority,omitempty" minimum:"0" maximum:"4"`
	ProjectID      *string            `json:"project_id,omitempty"`
	AgentSessionID *string            `json:"agent_session_id,omitempty"`
	AgentSummary   *string            `json:"agent_summary,omitempty"`
	Hypothesis     *domain.Hypothesis `json:"hypothesis,omitempty"`
}

type CreateRelationRequest struct {
	Type           string `json:"type" enum:"blocks,blocked_by,related,duplicate"`
	RelatedIssueID string `json:"related_issue_id"`
}

type CreateCommentRequest struct {
	Body       string  `json:"body"`
	AuthorName string  `json:"author_name"`
	AuthorType string  `json:"author_type" enum:"human,agent"`
	ParentID   *string `json:"parent_id,omitempty"`
}

type CreateLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"backlog,active,paused,completed"`
	Health      *string `json:"health,omitempty" enum:"on_track,at_risk,off_track"`
}

type CreateGoalRequest struct {
	ProjectID   *string  `json:"project_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Metric      string   `json:"metric,omitempty"`
	TargetValue *float64 `json:"target_value,omitempty"`
	Unit        string   `json:"unit,omitempty"`
}

type UpdateGoalRequest struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	Status       *string  `json:"status,omitempty" enum:"active,achieved,abandoned"`
}

type CreateTemplateRequest struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Conditions  string  `json:"conditions,omitempty"`
	Specificity *int    `json:"specificity,omitempty" minimum:"0" maximum:"100"`
	ProjectID   *string `json:"project_id,omitempty"`
}

type UpdateTemplateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Conditions  *string `json:"conditions,omitempty"`
	Specificity *int    `json:"specificity,omitempty" minimum:"0" maximum:"100"`
}

type CreateVersionRequest struct {
	Content    string `json:"content"`
	Changelog  string `json:"changelog,omitempty"`
	AuthorType string `json:"author_type" enum:"human,agent"`
	AuthorName string `json:"author_name"`
}

type CreateReviewRequest struct {
	VersionID    string `json:"version_id"`
	IssueID      string `json:"issue_id"`
	Clarity      int    `json:"clarity" minimum:"1" maximum:"5"`
	Completeness int    `json:"completeness" minimum:"1" maximum:"5"`
	Relevance    int    `json:"relevance" minimum:"1" maximum:"5"`
	Feedback     string `json:"feedback,omitempty"`
	AuthorType   string `json:"author_type,omitempty" enum:"human,agent"`
}

type IngestSignalRequest struct {
	Source    string         `json:"source"`
	SourceID  *string        `json:"source_id,omitempty"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity" enum:"critical,high,medium,low"`
	Summary   string         `json:"summary,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	ProjectID *string        `json:"project_id,omitempty"`
}

type DispatchRequest struct {
	ProjectID *string `json:"project_id,omitempty"`
}

// Response payloads

type DispatchResponse struct {
	Dispatched bool                   `json:"dispatched"`
	Result     *engine.DispatchResult `json:"result,omitempty"`
}

type QueueResponse struct {
	Entries []engine.QueueEntry `json:"entries"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

type SignalResponse struct {
	Signal domain.Signal `json:"signal"`
	Issue  domain.Issue  `json:"issue"`
}

type TemplateDetailResponse struct {
	Template domain.PromptTemplate  `json:"template"`
	Versions []domain.PromptVersion `json:"versions"`
}
