package feedloopsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Feedloop HTTP API client for agent workers. BaseURL
// includes the API base path, e.g. http://127.0.0.1:7171/api.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	ProjectID   string `json:"project_id,omitempty"`
}

// PromptMeta identifies which prompt version a dispatch rendered.
type PromptMeta struct {
	TemplateID    string `json:"template_id"`
	TemplateSlug  string `json:"template_slug"`
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	ReviewURL     string `json:"review_url"`
}

// DispatchResult is a claimed issue plus its rendered prompt, if any.
type DispatchResult struct {
	Issue  Issue       `json:"issue"`
	Prompt *string     `json:"prompt,omitempty"`
	Meta   *PromptMeta `json:"meta,omitempty"`
}

// QueueEntry is one eligible issue with its dispatch score.
type QueueEntry struct {
	Issue Issue `json:"issue"`
	Score struct {
		PriorityWeight     int `json:"priority_weight"`
		TypeBonus          int `json:"type_bonus"`
		GoalAlignmentBonus int `json:"goal_alignment_bonus"`
		AgeBonus           int `json:"age_bonus"`
		Total              int `json:"total"`
	} `json:"score"`
}

// ReviewOutcome reports the submitted review and the version's quality state.
type ReviewOutcome struct {
	Score              float64 `json:"score"`
	ReviewCount        int     `json:"review_count"`
	RemediationIssueID *string `json:"remediation_issue_id,omitempty"`
	RemediationCreated bool    `json:"remediation_created"`
}

// Signal represents an ingested observation.
type Signal struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	IssueID  string `json:"issue_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DispatchNext claims the highest-scored issue and returns it with its
// rendered prompt. A nil result means the pool is empty.
func (c *Client) DispatchNext(ctx context.Context, projectID string) (*DispatchResult, error) {
	body := map[string]any{}
	if projectID != "" {
		body["project_id"] = projectID
	}
	var resp struct {
		Dispatched bool            `json:"dispatched"`
		Result     *DispatchResult `json:"result,omitempty"`
	}
	if err := c.do(ctx, http.MethodPost, "dispatch/next", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Dispatched {
		return nil, nil
	}
	return resp.Result, nil
}

// DispatchQueue previews the claim queue without claiming anything.
func (c *Client) DispatchQueue(ctx context.Context, projectID string, limit int) ([]QueueEntry, int, error) {
	endpoint := "dispatch/queue"
	params := url.Values{}
	if projectID != "" {
		params.Set("project_id", projectID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Entries []QueueEntry `json:"entries"`
		Total   int          `json:"total"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, resp.Total, err
}

// CreateIssue creates an issue in triage.
func (c *Client) CreateIssue(ctx context.Context, title, issueType string, priority int) (Issue, error) {
	body := map[string]any{
		"title": title,
		"type":  issueType,
	}
	if priority > 0 {
		body["priority"] = priority
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "issues", body, &resp)
	return resp, err
}

// UpdateIssueStatus moves an issue through its workflow.
func (c *Client) UpdateIssueStatus(ctx context.Context, issueID, status string) (Issue, error) {
	body := map[string]any{"status": status}
	var resp Issue
	endpoint := fmt.Sprintf("issues/%s", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// CompleteIssue marks an issue done with the agent's summary.
func (c *Client) CompleteIssue(ctx context.Context, issueID, summary string) (Issue, error) {
	body := map[string]any{
		"status":        "done",
		"agent_summary": summary,
	}
	var resp Issue
	endpoint := fmt.Sprintf("issues/%s", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueID, body, authorName string) error {
	payload := map[string]any{
		"body":        body,
		"author_name": authorName,
		"author_type": "agent",
	}
	endpoint := fmt.Sprintf("issues/%s/comments", url.PathEscape(issueID))
	return c.do(ctx, http.MethodPost, endpoint, payload, nil)
}

// SubmitReview rates the prompt version used for an issue. Scores run 1-5.
func (c *Client) SubmitReview(ctx context.Context, versionID, issueID string, clarity, completeness, relevance int, feedback string) (ReviewOutcome, error) {
	body := map[string]any{
		"version_id":   versionID,
		"issue_id":     issueID,
		"clarity":      clarity,
		"completeness": completeness,
		"relevance":    relevance,
		"feedback":     feedback,
		"author_type":  "agent",
	}
	var resp ReviewOutcome
	err := c.do(ctx, http.MethodPost, "prompt-reviews", body, &resp)
	return resp, err
}

// IngestSignal records an observation and returns the signal plus the triage
// issue it opened.
func (c *Client) IngestSignal(ctx context.Context, source, sigType, severity, summary string, payload map[string]any) (Signal, Issue, error) {
	body := map[string]any{
		"source":   source,
		"type":     sigType,
		"severity": severity,
		"summary":  summary,
	}
	if payload != nil {
		body["payload"] = payload
	}
	var resp struct {
		Signal Signal `json:"signal"`
		Issue  Issue  `json:"issue"`
	}
	err := c.do(ctx, http.MethodPost, "signals", body, &resp)
	return resp.Signal, resp.Issue, err
}

// DashboardStats is the aggregate health read.
type DashboardStats struct {
	Issues struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
		ByType   map[string]int `json:"by_type"`
	} `json:"issues"`
	Goals struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Achieved int `json:"achieved"`
	} `json:"goals"`
	Dispatch struct {
		QueueDepth       int `json:"queue_depth"`
		ActiveCount      int `json:"active_count"`
		CompletedLast24h int `json:"completed_last_24h"`
	} `json:"dispatch"`
}

// GetDashboardStats fetches issue, goal and dispatch counts.
func (c *Client) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	var resp DashboardStats
	err := c.do(ctx, http.MethodGet, "dashboard/stats", nil, &resp)
	return resp, err
}

// PreviewPrompt renders an issue's prompt without claiming it. Returns nil
// when no template matches.
func (c *Client) PreviewPrompt(ctx context.Context, issueID string) (*string, error) {
	var resp struct {
		Prompt *string `json:"prompt,omitempty"`
	}
	endpoint := fmt.Sprintf("issues/%s/prompt-preview", url.PathEscape(issueID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Prompt, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
