package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"feedloop/internal/config"
	"feedloop/internal/db"
	"feedloop/internal/domain"
	"feedloop/internal/engine"
	"feedloop/internal/migrate"
	"feedloop/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seedTodo creates an issue and moves it into the claim pool.
func seedTodo(t *testing.T, env testEnv, opts engine.IssueCreateOptions) domain.Issue {
	t.Helper()
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	todo := domain.IssueStatusTodo
	issue, err = env.Engine.UpdateIssue(env.Ctx, issue.ID, engine.IssueUpdateOptions{Status: &todo, ActorID: "tester"})
	if err != nil {
		t.Fatalf("move to todo: %v", err)
	}
	return issue
}

func TestIssueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "Investigate error spike", Type: "signal", Priority: 2, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue.Status != domain.IssueStatusTriage {
		t.Fatalf("status = %s, want triage", issue.Status)
	}
	if issue.Number != 1 {
		t.Fatalf("number = %d, want 1", issue.Number)
	}

	second, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "Another", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Number != 2 {
		t.Fatalf("number = %d, want 2", second.Number)
	}
	if second.Type != domain.IssueTypeTask {
		t.Fatalf("default type = %s, want task", second.Type)
	}

	done := domain.IssueStatusDone
	issue, err = env.Engine.UpdateIssue(env.Ctx, issue.ID, engine.IssueUpdateOptions{Status: &done, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if issue.CompletedAt == nil {
		t.Fatal("done issue should carry completed_at")
	}

	if err := env.Engine.DeleteIssue(env.Ctx, issue.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID); err != repo.ErrNotFound {
		t.Fatalf("deleted issue still readable: %v", err)
	}
}

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "", ActorID: "tester"}); err == nil {
		t.Fatal("expected missing title error")
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "x", Type: "chore", ActorID: "tester"}); err == nil {
		t.Fatal("expected invalid type error")
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "x", Priority: 7, ActorID: "tester"}); err == nil {
		t.Fatal("expected invalid priority error")
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "x", ParentID: "missing", ActorID: "tester"}); err == nil {
		t.Fatal("expected missing parent error")
	}
	badHyp := &domain.Hypothesis{Statement: "s", Confidence: 1.5}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "x", Type: "hypothesis", Hypothesis: badHyp, ActorID: "tester"}); err == nil {
		t.Fatal("expected confidence range error on create")
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "x", Type: "hypothesis", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, issue.ID, engine.IssueUpdateOptions{Hypothesis: badHyp, ActorID: "tester"}); err == nil {
		t.Fatal("expected confidence range error on update")
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, issue.ID, engine.IssueUpdateOptions{Hypothesis: &domain.Hypothesis{Statement: "s", Confidence: 0.6}, ActorID: "tester"}); err != nil {
		t.Fatalf("valid hypothesis update: %v", err)
	}
}

func TestIssueNestingLimitedToOneLevel(t *testing.T) {
	env := newTestEnv(t)
	root, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "plan", Type: "plan", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "step", ParentID: root.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("one level of nesting should work: %v", err)
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "substep", ParentID: child.ID, ActorID: "tester"})
	if err == nil || !strings.Contains(err.Error(), "one level") {
		t.Fatalf("expected nesting rejection, got %v", err)
	}
}

func TestRelations(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "a", ActorID: "tester"})
	b, _ := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "b", ActorID: "tester"})

	rel, err := env.Engine.AddRelation(env.Ctx, a.ID, domain.RelationBlockedBy, b.ID, "tester")
	if err != nil {
		t.Fatalf("add relation: %v", err)
	}
	if rel.Type != domain.RelationBlockedBy {
		t.Fatalf("type = %s", rel.Type)
	}
	if _, err := env.Engine.AddRelation(env.Ctx, a.ID, "follows", b.ID, "tester"); err == nil {
		t.Fatal("expected invalid relation type error")
	}
	if _, err := env.Engine.AddRelation(env.Ctx, a.ID, domain.RelationRelated, a.ID, "tester"); err == nil {
		t.Fatal("expected self relation error")
	}
	if _, err := env.Engine.AddRelation(env.Ctx, a.ID, domain.RelationBlocks, "missing", "tester"); err == nil {
		t.Fatal("expected missing related issue error")
	}
}

func TestIngestSignal(t *testing.T) {
	env := newTestEnv(t)
	signal, issue, err := env.Engine.IngestSignal(env.Ctx, engine.SignalOptions{
		Source:   "sentry",
		Type:     "error",
		Severity: "critical",
		Summary:  "TypeError in checkout",
		Payload:  map[string]any{"culprit": "cart.ts"},
		ActorID:  "webhook",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if issue.Title != "[sentry] error: TypeError in checkout" {
		t.Fatalf("title = %q", issue.Title)
	}
	if issue.Priority != 1 {
		t.Fatalf("priority = %d, want 1 for critical", issue.Priority)
	}
	if issue.Type != domain.IssueTypeSignal || issue.Status != domain.IssueStatusTriage {
		t.Fatalf("issue = %s/%s", issue.Type, issue.Status)
	}
	if signal.IssueID != issue.ID {
		t.Fatal("signal not linked to issue")
	}
	stored, err := env.Engine.Repo.GetSignal(env.Ctx, signal.ID)
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if !strings.Contains(stored.Payload, "cart.ts") {
		t.Fatalf("payload = %q", stored.Payload)
	}

	if _, _, err := env.Engine.IngestSignal(env.Ctx, engine.SignalOptions{Source: "sentry", Type: "error", Severity: "catastrophic", ActorID: "webhook"}); err == nil {
		t.Fatal("expected invalid severity error")
	}
}

func TestLabelsAndComments(t *testing.T) {
	env := newTestEnv(t)
	issue, _ := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "labelled", ActorID: "tester"})
	if _, err := env.Engine.CreateLabel(env.Ctx, "bug", "#ff0000"); err != nil {
		t.Fatalf("create label: %v", err)
	}
	if err := env.Engine.AttachLabel(env.Ctx, issue.ID, "bug", "tester"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	labels, err := env.Engine.Repo.ListIssueLabels(env.Ctx, issue.ID)
	if err != nil || len(labels) != 1 || labels[0].Name != "bug" {
		t.Fatalf("labels = %+v, %v", labels, err)
	}
	if err := env.Engine.AttachLabel(env.Ctx, issue.ID, "nope", "tester"); err == nil {
		t.Fatal("expected unknown label error")
	}

	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "looks related to the cart refactor", "alex", "human", "", "tester"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "", "alex", "human", "", "tester"); err == nil {
		t.Fatal("expected empty body error")
	}

	detail, err := env.Engine.GetIssueDetail(env.Ctx, issue.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Labels) != 1 || len(detail.Comments) != 1 {
		t.Fatalf("detail = %d labels, %d comments", len(detail.Labels), len(detail.Comments))
	}
}
