package domain

// Issue statuses form the lifecycle triage -> todo -> in_progress -> done,
// with canceled reachable from any non-terminal state.
const (
	IssueStatusTriage     = "triage"
	IssueStatusTodo       = "todo"
	IssueStatusInProgress = "in_progress"
	IssueStatusDone       = "done"
	IssueStatusCanceled   = "canceled"
)

const (
	IssueTypeSignal     = "signal"
	IssueTypeHypothesis = "hypothesis"
	IssueTypePlan       = "plan"
	IssueTypeTask       = "task"
	IssueTypeMonitor    = "monitor"
)

const (
	RelationBlocks    = "blocks"
	RelationBlockedBy = "blocked_by"
	RelationRelated   = "related"
	RelationDuplicate = "duplicate"
)

const (
	VersionStatusDraft   = "draft"
	VersionStatusActive  = "active"
	VersionStatusRetired = "retired"
)

type Issue struct {
	ID             string  `json:"id"`
	Number         int64   `json:"number"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Type           string  `json:"type" enum:"signal,hypothesis,plan,task,monitor"`
	Status         string  `json:"status" enum:"triage,todo,in_progress,done,canceled"`
	Priority       int     `json:"priority" minimum:"0" maximum:"4"`
	ParentID       *string `json:"parent_id,omitempty"`
	ProjectID      *string `json:"project_id,omitempty"`
	SignalSource   *string `json:"signal_source,omitempty"`
	SignalPayload  *string `json:"signal_payload,omitempty"`
	HypothesisJSON *string `json:"hypothesis_json,omitempty"`
	AgentSessionID *string `json:"agent_session_id,omitempty"`
	AgentSummary   *string `json:"agent_summary,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
	DeletedAt      *string `json:"deleted_at,omitempty" format:"date-time"`
}

// Hypothesis is the structured payload stored in Issue.HypothesisJSON.
type Hypothesis struct {
	Statement          string   `json:"statement"`
	Confidence         float64  `json:"confidence"`
	Evidence           []string `json:"evidence,omitempty"`
	ValidationCriteria []string `json:"validation_criteria,omitempty"`
	Prediction         string   `json:"prediction,omitempty"`
}

type IssueRelation struct {
	ID             string `json:"id"`
	Type           string `json:"type" enum:"blocks,blocked_by,related,duplicate"`
	IssueID        string `json:"issue_id"`
	RelatedIssueID string `json:"related_issue_id"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"backlog,active,paused,completed"`
	Health      string  `json:"health" enum:"on_track,at_risk,off_track"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
}

type Goal struct {
	ID           string   `json:"id"`
	ProjectID    *string  `json:"project_id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Metric       string   `json:"metric,omitempty"`
	TargetValue  *float64 `json:"target_value,omitempty"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	Status       string   `json:"status" enum:"active,achieved,abandoned"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
	DeletedAt    *string  `json:"deleted_at,omitempty" format:"date-time"`
}

type Label struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID         string  `json:"id"`
	IssueID    string  `json:"issue_id"`
	Body       string  `json:"body"`
	AuthorName string  `json:"author_name"`
	AuthorType string  `json:"author_type" enum:"human,agent"`
	ParentID   *string `json:"parent_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Signal struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	SourceID  *string `json:"source_id,omitempty"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity" enum:"critical,high,medium,low"`
	Payload   string  `json:"payload_json"`
	IssueID   string  `json:"issue_id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type PromptTemplate struct {
	ID              string  `json:"id"`
	Slug            string  `json:"slug"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	ConditionsJSON  string  `json:"conditions_json"`
	Specificity     int     `json:"specificity" minimum:"0" maximum:"100"`
	ProjectID       *string `json:"project_id,omitempty"`
	ActiveVersionID *string `json:"active_version_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	DeletedAt       *string `json:"deleted_at,omitempty" format:"date-time"`
}

// PromptVersion content is immutable once created; only status, counters
// and the smoothed review score change afterwards.
type PromptVersion struct {
	ID             string   `json:"id"`
	TemplateID     string   `json:"template_id"`
	Version        int      `json:"version"`
	Content        string   `json:"content"`
	Changelog      string   `json:"changelog,omitempty"`
	AuthorType     string   `json:"author_type" enum:"human,agent"`
	AuthorName     string   `json:"author_name"`
	Status         string   `json:"status" enum:"draft,active,retired"`
	UsageCount     int64    `json:"usage_count"`
	CompletionRate *float64 `json:"completion_rate,omitempty"`
	AvgDurationMs  *float64 `json:"avg_duration_ms,omitempty"`
	ReviewScore    *float64 `json:"review_score,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type PromptReview struct {
	ID           string `json:"id"`
	VersionID    string `json:"version_id"`
	IssueID      string `json:"issue_id"`
	Clarity      int    `json:"clarity" minimum:"1" maximum:"5"`
	Completeness int    `json:"completeness" minimum:"1" maximum:"5"`
	Relevance    int    `json:"relevance" minimum:"1" maximum:"5"`
	Feedback     string `json:"feedback,omitempty"`
	AuthorType   string `json:"author_type" enum:"human,agent"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// TerminalIssueStatus reports whether a status no longer blocks dependents.
func TerminalIssueStatus(status string) bool {
	return status == IssueStatusDone || status == IssueStatusCanceled
}

func ValidIssueType(t string) bool {
	switch t {
	case IssueTypeSignal, IssueTypeHypothesis, IssueTypePlan, IssueTypeTask, IssueTypeMonitor:
		return true
	}
	return false
}

func ValidIssueStatus(s string) bool {
	switch s {
	case IssueStatusTriage, IssueStatusTodo, IssueStatusInProgress, IssueStatusDone, IssueStatusCanceled:
		return true
	}
	return false
}

func ValidRelationType(t string) bool {
	switch t {
	case RelationBlocks, RelationBlockedBy, RelationRelated, RelationDuplicate:
		return true
	}
	return false
}
