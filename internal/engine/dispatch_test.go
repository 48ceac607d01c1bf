package engine_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"feedloop/internal/domain"
	"feedloop/internal/engine"
	"feedloop/internal/repo"
)

func activateTemplate(t *testing.T, env testEnv, slug, conditions, content string, specificity int) (domain.PromptTemplate, domain.PromptVersion) {
	t.Helper()
	tmpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Slug:        slug,
		Name:        slug,
		Conditions:  conditions,
		Specificity: &specificity,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create template %s: %v", slug, err)
	}
	version, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		TemplateID: tmpl.ID,
		Content:    content,
		AuthorType: "human",
		AuthorName: "tester",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create version for %s: %v", slug, err)
	}
	return tmpl, version
}

func TestClaimOrdersByScore(t *testing.T) {
	env := newTestEnv(t)
	low := seedTodo(t, env, engine.IssueCreateOptions{Title: "low", Type: "task", Priority: 4})
	urgent := seedTodo(t, env, engine.IssueCreateOptions{Title: "urgent", Type: "signal", Priority: 1})

	first, err := env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first == nil || first.ID != urgent.ID {
		t.Fatalf("first claim = %+v, want urgent signal", first)
	}
	if first.Status != domain.IssueStatusInProgress {
		t.Fatalf("claimed status = %s", first.Status)
	}

	second, err := env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second == nil || second.ID != low.ID {
		t.Fatalf("second claim = %+v, want low task", second)
	}

	third, err := env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if third != nil {
		t.Fatalf("pool should be empty, got %+v", third)
	}
}

func TestClaimSkipsBlockedIssues(t *testing.T) {
	env := newTestEnv(t)
	blocked := seedTodo(t, env, engine.IssueCreateOptions{Title: "blocked", Priority: 1})
	blocker, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "blocker", Priority: 4, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddRelation(env.Ctx, blocked.ID, domain.RelationBlockedBy, blocker.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	// The blocker is still in triage, so nothing is claimable and the
	// queue preview is empty too.
	got, err := env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed %q while blocked by an open issue", got.Title)
	}
	entries, total, err := env.Engine.DispatchQueue(env.Ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 0 || total != 0 {
		t.Fatalf("queue = %d entries, total %d, want empty while blocked", len(entries), total)
	}

	done := domain.IssueStatusDone
	if _, err := env.Engine.UpdateIssue(env.Ctx, blocker.ID, engine.IssueUpdateOptions{Status: &done, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	entries, total, err = env.Engine.DispatchQueue(env.Ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("queue after unblock: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].Issue.ID != blocked.ID {
		t.Fatalf("queue after unblock = %+v (total %d)", entries, total)
	}
	got, err = env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim after unblock: %v", err)
	}
	if got == nil || got.ID != blocked.ID {
		t.Fatalf("claim after unblock = %+v", got)
	}
}

func TestClaimScopedToProject(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "checkout", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	seedTodo(t, env, engine.IssueCreateOptions{Title: "elsewhere", Priority: 1})
	scoped := seedTodo(t, env, engine.IssueCreateOptions{Title: "scoped", Priority: 4, ProjectID: proj.ID})

	got, err := env.Engine.ClaimNext(env.Ctx, proj.ID, "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got == nil || got.ID != scoped.ID {
		t.Fatalf("project claim = %+v", got)
	}
}

func TestConcurrentClaimsNeverDoubleAssign(t *testing.T) {
	env := newTestEnv(t)
	const pool = 5
	for i := 0; i < pool; i++ {
		seedTodo(t, env, engine.IssueCreateOptions{Title: "work", Priority: 3})
	}

	var mu sync.Mutex
	claimed := map[string]int{}
	var misses int
	var wg sync.WaitGroup
	for i := 0; i < pool+3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issue, err := env.Engine.ClaimNext(env.Ctx, "", "agent")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if issue == nil {
				misses++
				return
			}
			claimed[issue.ID]++
		}()
	}
	wg.Wait()

	if len(claimed) != pool {
		t.Fatalf("claimed %d distinct issues, want %d", len(claimed), pool)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Fatalf("issue %s claimed %d times", id, n)
		}
	}
	if misses != 3 {
		t.Fatalf("misses = %d, want 3", misses)
	}
}

func TestDispatchNextRendersPrompt(t *testing.T) {
	env := newTestEnv(t)
	_, version := activateTemplate(t, env, "task-default", `{"type":"task"}`, "Work on {{issue.title}} (priority {{priority_label issue.priority}}).", 10)
	issue := seedTodo(t, env, engine.IssueCreateOptions{Title: "Fix flaky retry", Priority: 2})

	res, err := env.Engine.DispatchNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res == nil || res.Issue.ID != issue.ID {
		t.Fatalf("dispatch = %+v", res)
	}
	if res.Prompt == nil || !strings.Contains(*res.Prompt, "Work on Fix flaky retry") {
		t.Fatalf("prompt = %v", res.Prompt)
	}
	if !strings.Contains(*res.Prompt, "priority high") {
		t.Fatalf("priority label missing: %q", *res.Prompt)
	}
	if res.Meta == nil || res.Meta.TemplateSlug != "task-default" || res.Meta.VersionNumber != 1 {
		t.Fatalf("meta = %+v", res.Meta)
	}

	reloaded, err := env.Engine.Repo.GetVersion(env.Ctx, version.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", reloaded.UsageCount)
	}
}

func TestDispatchNextWithoutTemplateStillClaims(t *testing.T) {
	env := newTestEnv(t)
	issue := seedTodo(t, env, engine.IssueCreateOptions{Title: "untemplated", Priority: 3})

	res, err := env.Engine.DispatchNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res == nil || res.Issue.ID != issue.ID {
		t.Fatalf("dispatch = %+v", res)
	}
	if res.Prompt != nil || res.Meta != nil {
		t.Fatalf("expected bare claim, got prompt %v meta %v", res.Prompt, res.Meta)
	}
	if res.Issue.Status != domain.IssueStatusInProgress {
		t.Fatalf("status = %s", res.Issue.Status)
	}
}

func TestDispatchNextEmptyPool(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.DispatchNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
}

func TestTemplateFallbackToTypeDefault(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "other", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	// High-specificity template whose conditions name a project the issue
	// does not belong to.
	activateTemplate(t, env, "scoped", `{"type":"task","project_id":"`+proj.ID+`"}`, "scoped body", 80)
	activateTemplate(t, env, "task-default", `{"type":"task"}`, "default body for {{issue.title}}", 10)

	seedTodo(t, env, engine.IssueCreateOptions{Title: "plain task", Priority: 3})
	res, err := env.Engine.DispatchNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res == nil || res.Meta == nil || res.Meta.TemplateSlug != "task-default" {
		t.Fatalf("expected type default template, got %+v", res)
	}
}

func TestPreviewDoesNotClaim(t *testing.T) {
	env := newTestEnv(t)
	activateTemplate(t, env, "task-default", `{"type":"task"}`, "Preview of {{issue.title}}", 10)
	issue := seedTodo(t, env, engine.IssueCreateOptions{Title: "previewed", Priority: 3})

	prev, err := env.Engine.PreviewIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if prev.Prompt == nil || !strings.Contains(*prev.Prompt, "Preview of previewed") {
		t.Fatalf("prompt = %v", prev.Prompt)
	}

	reloaded, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != domain.IssueStatusTodo {
		t.Fatalf("preview changed status to %s", reloaded.Status)
	}

	if _, err := env.Engine.PreviewIssue(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("preview of missing issue: %v", err)
	}
}

func TestDispatchQueue(t *testing.T) {
	env := newTestEnv(t)
	seedTodo(t, env, engine.IssueCreateOptions{Title: "low", Type: "task", Priority: 4})
	seedTodo(t, env, engine.IssueCreateOptions{Title: "mid", Type: "task", Priority: 3})
	seedTodo(t, env, engine.IssueCreateOptions{Title: "high", Type: "signal", Priority: 1})

	entries, total, err := env.Engine.DispatchQueue(env.Ctx, "", 2, 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(entries) != 2 {
		t.Fatalf("page size = %d, want 2", len(entries))
	}
	if entries[0].Issue.Title != "high" || entries[1].Issue.Title != "mid" {
		t.Fatalf("order = %q, %q", entries[0].Issue.Title, entries[1].Issue.Title)
	}
	if entries[0].Score.Total != 100+50 {
		t.Fatalf("top score = %+v", entries[0].Score)
	}

	rest, _, err := env.Engine.DispatchQueue(env.Ctx, "", 2, 2)
	if err != nil {
		t.Fatalf("queue page 2: %v", err)
	}
	if len(rest) != 1 || rest[0].Issue.Title != "low" {
		t.Fatalf("page 2 = %+v", rest)
	}
}

func TestDispatchQueueGoalBonus(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, "goalled", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{ProjectID: proj.ID, Title: "p95 under 200ms", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	seedTodo(t, env, engine.IssueCreateOptions{Title: "aligned", Type: "task", Priority: 3, ProjectID: proj.ID})
	seedTodo(t, env, engine.IssueCreateOptions{Title: "loose", Type: "task", Priority: 3})

	entries, _, err := env.Engine.DispatchQueue(env.Ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if entries[0].Issue.Title != "aligned" {
		t.Fatalf("order = %q first", entries[0].Issue.Title)
	}
	if entries[0].Score.GoalAlignmentBonus != 20 || entries[1].Score.GoalAlignmentBonus != 0 {
		t.Fatalf("goal bonuses = %d, %d", entries[0].Score.GoalAlignmentBonus, entries[1].Score.GoalAlignmentBonus)
	}
}

func TestClaimAgeBonusBreaksTies(t *testing.T) {
	env := newTestEnv(t)
	seedTodo(t, env, engine.IssueCreateOptions{Title: "fresh", Priority: 3})
	old := seedTodo(t, env, engine.IssueCreateOptions{Title: "old", Priority: 3})
	// Backdate the second issue by four days so only its age bonus can beat
	// the first issue's lower number.
	created := time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if _, err := env.Engine.DB.Exec(`UPDATE issues SET created_at = ? WHERE id = ?`, created, old.ID); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ClaimNext(env.Ctx, "", "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got == nil || got.ID != old.ID {
		t.Fatalf("claim = %+v, want the older issue", got)
	}
}
