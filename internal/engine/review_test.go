package engine_test

import (
	"math"
	"strings"
	"testing"

	"feedloop/internal/domain"
	"feedloop/internal/engine"
)

func reviewFixture(t *testing.T, env testEnv) (domain.PromptVersion, domain.Issue) {
	t.Helper()
	_, version := activateTemplate(t, env, "task-default", `{"type":"task"}`, "Do {{issue.title}}", 10)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "reviewed work", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	return version, issue
}

func submit(t *testing.T, env testEnv, versionID, issueID string, score int) engine.ReviewOutcome {
	t.Helper()
	out, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{
		VersionID:    versionID,
		IssueID:      issueID,
		Clarity:      score,
		Completeness: score,
		Relevance:    score,
		AuthorType:   "agent",
		ActorID:      "agent-1",
	})
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	return out
}

func TestFirstReviewSetsScoreDirectly(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	out, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{
		VersionID: version.ID, IssueID: issue.ID,
		Clarity: 4, Completeness: 3, Relevance: 2,
		AuthorType: "human", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if math.Abs(out.Score-3.0) > 1e-9 {
		t.Fatalf("score = %f, want 3.0", out.Score)
	}
	if out.ReviewCount != 1 {
		t.Fatalf("count = %d", out.ReviewCount)
	}
	reloaded, err := env.Engine.Repo.GetVersion(env.Ctx, version.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ReviewScore == nil || math.Abs(*reloaded.ReviewScore-3.0) > 1e-9 {
		t.Fatalf("stored score = %v", reloaded.ReviewScore)
	}
}

func TestReviewScoreSmoothing(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	submit(t, env, version.ID, issue.ID, 3)
	out := submit(t, env, version.ID, issue.ID, 5)
	// 0.3*5 + 0.7*3
	if math.Abs(out.Score-3.6) > 1e-9 {
		t.Fatalf("smoothed score = %f, want 3.6", out.Score)
	}
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{VersionID: version.ID, IssueID: issue.ID, Clarity: 0, Completeness: 3, Relevance: 3}); err == nil {
		t.Fatal("expected clarity range error")
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{VersionID: version.ID, IssueID: issue.ID, Clarity: 3, Completeness: 6, Relevance: 3}); err == nil {
		t.Fatal("expected completeness range error")
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{VersionID: version.ID, IssueID: "missing", Clarity: 3, Completeness: 3, Relevance: 3}); err == nil {
		t.Fatal("expected missing issue error")
	}
	if _, err := env.Engine.SubmitReview(env.Ctx, engine.ReviewOptions{VersionID: "missing", IssueID: issue.ID, Clarity: 3, Completeness: 3, Relevance: 3}); err == nil {
		t.Fatal("expected missing version error")
	}
}

func TestRemediationNeedsMinimumSample(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	for i := 0; i < 2; i++ {
		out := submit(t, env, version.ID, issue.ID, 1)
		if out.RemediationIssueID != nil {
			t.Fatalf("remediation opened after %d reviews", i+1)
		}
	}
	out := submit(t, env, version.ID, issue.ID, 1)
	if out.RemediationIssueID == nil || !out.RemediationCreated {
		t.Fatalf("third low review should open remediation, got %+v", out)
	}

	remediation, err := env.Engine.Repo.GetIssue(env.Ctx, *out.RemediationIssueID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(remediation.Title, "Prompt quality degraded: ") {
		t.Fatalf("title = %q", remediation.Title)
	}
	if remediation.Status != domain.IssueStatusTodo || remediation.Type != domain.IssueTypeTask {
		t.Fatalf("remediation = %s/%s", remediation.Type, remediation.Status)
	}
	labels, err := env.Engine.Repo.ListIssueLabels(env.Ctx, remediation.ID)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, l := range labels {
		names[l.Name] = true
	}
	if !names["prompt-quality"] || !names["automated"] {
		t.Fatalf("labels = %+v", labels)
	}
}

func TestRemediationIsIdempotentWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	var firstID string
	for i := 0; i < 3; i++ {
		out := submit(t, env, version.ID, issue.ID, 1)
		if out.RemediationIssueID != nil {
			firstID = *out.RemediationIssueID
		}
	}
	out := submit(t, env, version.ID, issue.ID, 1)
	if out.RemediationCreated {
		t.Fatal("fourth low review should reuse the open remediation issue")
	}
	if out.RemediationIssueID == nil || *out.RemediationIssueID != firstID {
		t.Fatalf("remediation id = %v, want %s", out.RemediationIssueID, firstID)
	}

	// Close it and degrade again: a fresh remediation issue opens.
	done := domain.IssueStatusDone
	if _, err := env.Engine.UpdateIssue(env.Ctx, firstID, engine.IssueUpdateOptions{Status: &done, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	out = submit(t, env, version.ID, issue.ID, 1)
	if !out.RemediationCreated || out.RemediationIssueID == nil || *out.RemediationIssueID == firstID {
		t.Fatalf("expected new remediation after close, got %+v", out)
	}
}

func TestRemediationAtStabilityCeiling(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	for i := 0; i < 14; i++ {
		out := submit(t, env, version.ID, issue.ID, 5)
		if out.RemediationIssueID != nil {
			t.Fatalf("review %d should not trigger at high score", i+1)
		}
	}
	out := submit(t, env, version.ID, issue.ID, 5)
	if out.ReviewCount != 15 {
		t.Fatalf("count = %d", out.ReviewCount)
	}
	if out.RemediationIssueID == nil || !out.RemediationCreated {
		t.Fatal("fifteenth review should flag the version for revision regardless of score")
	}
}

func TestHighScoresNeverTriggerEarly(t *testing.T) {
	env := newTestEnv(t)
	version, issue := reviewFixture(t, env)

	for i := 0; i < 10; i++ {
		out := submit(t, env, version.ID, issue.ID, 4)
		if out.RemediationIssueID != nil {
			t.Fatalf("review %d triggered remediation at score %f", i+1, out.Score)
		}
	}
}
