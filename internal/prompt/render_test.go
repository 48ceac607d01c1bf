package prompt

import (
	"strings"
	"testing"
)

func TestRenderInterpolation(t *testing.T) {
	r := NewRenderer()
	ctx := map[string]any{
		"issue": map[string]any{
			"title":    "Fix login",
			"number":   float64(42),
			"priority": float64(2),
			"hypothesis": map[string]any{
				"statement":  "rate limit too low",
				"confidence": 0.75,
			},
		},
	}
	out, err := r.Render("v1", "## #{{issue.number}} {{issue.title}} ({{priority_label issue.priority}})\n{{issue.hypothesis.statement}} @ {{issue.hypothesis.confidence}}", ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "## #42 Fix login (high)\nrate limit too low @ 0.75"
	if out != want {
		t.Fatalf("Render = %q, want %q", out, want)
	}
}

func TestRenderMissingFieldsAreEmpty(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("v1", "a{{issue.nope}}b{{parent.title}}c", map[string]any{"issue": map[string]any{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "abc" {
		t.Fatalf("Render = %q, want %q", out, "abc")
	}
}

func TestRenderConditionalsAndLoops(t *testing.T) {
	r := NewRenderer()
	tmpl := "{{#if parent}}has parent{{/if}}{{#if labels.length}}\nlabels:{{#each labels}} {{this.name}}{{/each}}{{/if}}"

	out, err := r.Render("v1", tmpl, map[string]any{
		"labels": []any{
			map[string]any{"name": "bug"},
			map[string]any{"name": "backend"},
		},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "\nlabels: bug backend" {
		t.Fatalf("Render = %q", out)
	}

	out, err = r.Render("v2", tmpl, map[string]any{"parent": map[string]any{"id": "x"}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "has parent" {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderElseBranches(t *testing.T) {
	r := NewRenderer()
	tmpl := "{{#if issue.done}}DONE{{else}}PENDING{{/if}}"

	out, err := r.Render("v1", tmpl, map[string]any{"issue": map[string]any{"done": true}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "DONE" {
		t.Fatalf("Render = %q, want DONE", out)
	}

	out, err = r.Render("v2", tmpl, map[string]any{"issue": map[string]any{"done": false}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "PENDING" {
		t.Fatalf("Render = %q, want PENDING", out)
	}

	out, err = r.Render("v3", "{{#each labels}}{{this.name}} {{else}}no labels{{/each}}", map[string]any{"labels": []any{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "no labels" {
		t.Fatalf("Render = %q, want %q", out, "no labels")
	}

	out, err = r.Render("v4", "{{#each labels}}{{this.name}} {{else}}no labels{{/each}}", map[string]any{
		"labels": []any{map[string]any{"name": "bug"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "bug " {
		t.Fatalf("Render = %q, want %q", out, "bug ")
	}
}

func TestRenderJSONHelper(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("v1", "{{json issue.payload}}", map[string]any{
		"issue": map[string]any{"payload": map[string]any{"level": "error"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `"level": "error"`) {
		t.Fatalf("Render = %q", out)
	}

	out, err = r.Render("v2", "{{json issue.missing}}", map[string]any{"issue": map[string]any{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "null" {
		t.Fatalf("Render = %q, want null", out)
	}
}

func TestRenderPartials(t *testing.T) {
	r := NewRenderer()
	ctx := map[string]any{
		"api_url":   "http://localhost:7171",
		"api_token": "secret",
		"issue":     map[string]any{"id": "iss-1"},
		"parent": map[string]any{
			"number": float64(7),
			"type":   "plan",
			"title":  "Q3 rollout",
		},
		"siblings": []any{
			map[string]any{"number": float64(8), "status": "done", "title": "step one"},
		},
		"meta": map[string]any{"version_id": "ver-1"},
	}
	out, err := r.Render("v1", "{{> parent_context}}\n{{> sibling_context}}\n{{> review_instructions}}", ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"#7 [plan]: Q3 rollout", "#8 [done]: step one", `"version_id": "ver-1"`, "http://localhost:7171/prompt-reviews"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderCacheIsKeyedByVersion(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("ver-1", "first", nil)
	if err != nil || out != "first" {
		t.Fatalf("Render = %q, %v", out, err)
	}
	// Same id with different content serves the cached compilation.
	out, err = r.Render("ver-1", "second", nil)
	if err != nil || out != "first" {
		t.Fatalf("Render = %q, %v; cache should win for a known version id", out, err)
	}
	out, err = r.Render("ver-2", "second", nil)
	if err != nil || out != "second" {
		t.Fatalf("Render = %q, %v", out, err)
	}
}

func TestCompileErrors(t *testing.T) {
	r := NewRenderer()
	for _, tmpl := range []string{
		"{{#if x}}unclosed",
		"{{#each x}}{{/if}}",
		"{{> no_such_partial}}",
		"{{bogus helper usage}}",
		"{{unterminated",
		"stray {{else}} outside any block",
		"{{#if x}}a{{else}}b{{else}}c{{/if}}",
	} {
		if err := r.Compile(tmpl); err == nil {
			t.Fatalf("Compile(%q) succeeded, want error", tmpl)
		}
	}
	if err := r.Compile("plain text with {single} braces"); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}
