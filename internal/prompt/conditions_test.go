package prompt

import "testing"

func str(s string) *string    { return &s }
func num(f float64) *float64  { return &f }
func boolean(b bool) *bool    { return &b }

func TestMatches(t *testing.T) {
	ctx := IssueContext{
		Type:                 "signal",
		SignalSource:         str("sentry"),
		Labels:               []string{"bug", "backend"},
		ProjectID:            str("proj-1"),
		HasFailedSessions:    false,
		HypothesisConfidence: num(0.8),
	}

	cases := []struct {
		name string
		c    Conditions
		ctx  IssueContext
		want bool
	}{
		{name: "empty conditions match everything", c: Conditions{}, ctx: ctx, want: true},
		{name: "matching type", c: Conditions{Type: str("signal")}, ctx: ctx, want: true},
		{name: "wrong type", c: Conditions{Type: str("task")}, ctx: ctx, want: false},
		{name: "matching source", c: Conditions{SignalSource: str("sentry")}, ctx: ctx, want: true},
		{name: "source condition against nil source", c: Conditions{SignalSource: str("sentry")}, ctx: IssueContext{Type: "signal"}, want: false},
		{name: "labels subset", c: Conditions{Labels: []string{"bug"}}, ctx: ctx, want: true},
		{name: "labels not subset", c: Conditions{Labels: []string{"bug", "frontend"}}, ctx: ctx, want: false},
		{name: "empty label list matches", c: Conditions{Labels: []string{}}, ctx: IssueContext{Type: "task"}, want: true},
		{name: "project match", c: Conditions{ProjectID: str("proj-1")}, ctx: ctx, want: true},
		{name: "project mismatch", c: Conditions{ProjectID: str("proj-2")}, ctx: ctx, want: false},
		{name: "failed sessions mismatch", c: Conditions{HasFailedSessions: boolean(true)}, ctx: ctx, want: false},
		{name: "confidence at threshold", c: Conditions{HypothesisConfidence: num(0.8)}, ctx: ctx, want: true},
		{name: "confidence above threshold", c: Conditions{HypothesisConfidence: num(0.5)}, ctx: ctx, want: true},
		{name: "confidence below threshold", c: Conditions{HypothesisConfidence: num(0.9)}, ctx: ctx, want: false},
		{name: "confidence condition against nil", c: Conditions{HypothesisConfidence: num(0.1)}, ctx: IssueContext{Type: "hypothesis"}, want: false},
		{
			name: "all conditions together",
			c: Conditions{
				Type:         str("signal"),
				SignalSource: str("sentry"),
				Labels:       []string{"backend"},
				ProjectID:    str("proj-1"),
			},
			ctx: ctx, want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.c, tc.ctx); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseConditions(t *testing.T) {
	c, err := ParseConditions(`{"type":"signal","hypothesis_confidence":0.7}`)
	if err != nil {
		t.Fatalf("ParseConditions: %v", err)
	}
	if c.Type == nil || *c.Type != "signal" {
		t.Fatalf("type not parsed: %+v", c)
	}
	if c.HypothesisConfidence == nil || *c.HypothesisConfidence != 0.7 {
		t.Fatalf("confidence not parsed: %+v", c)
	}

	if _, err := ParseConditions(`{"issueType":"signal"}`); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if _, err := ParseConditions(`{"type":"chore"}`); err == nil {
		t.Fatal("expected unknown issue type to be rejected")
	}
	if _, err := ParseConditions(`{"hypothesis_confidence":1.5}`); err == nil {
		t.Fatal("expected out-of-range confidence to be rejected")
	}
	if _, err := ParseConditions(""); err != nil {
		t.Fatalf("empty conditions: %v", err)
	}
}

func TestSelect(t *testing.T) {
	ctx := IssueContext{Type: "task", ProjectID: str("proj-1"), Labels: []string{"bug"}}

	global := Candidate{ID: "t1", Slug: "generic-task", Conditions: Conditions{Type: str("task")}, Specificity: 10, ActiveVersionID: str("v1")}
	scoped := Candidate{ID: "t2", Slug: "proj-task", Conditions: Conditions{Type: str("task")}, Specificity: 5, ProjectID: str("proj-1"), ActiveVersionID: str("v2")}
	specific := Candidate{ID: "t3", Slug: "bug-task", Conditions: Conditions{Type: str("task"), Labels: []string{"bug"}}, Specificity: 50, ActiveVersionID: str("v3")}
	noVersion := Candidate{ID: "t4", Slug: "inactive", Conditions: Conditions{}, Specificity: 100}
	otherType := Candidate{ID: "t5", Slug: "signals", Conditions: Conditions{Type: str("signal")}, Specificity: 90, ActiveVersionID: str("v5")}

	t.Run("project scoped beats higher specificity", func(t *testing.T) {
		got := Select([]Candidate{global, specific, scoped}, ctx)
		if got == nil || got.ID != "t2" {
			t.Fatalf("Select() = %+v, want t2", got)
		}
	})

	t.Run("specificity breaks ties among globals", func(t *testing.T) {
		got := Select([]Candidate{global, specific}, ctx)
		if got == nil || got.ID != "t3" {
			t.Fatalf("Select() = %+v, want t3", got)
		}
	})

	t.Run("no active version disqualifies", func(t *testing.T) {
		got := Select([]Candidate{noVersion}, ctx)
		if got != nil {
			t.Fatalf("Select() = %+v, want nil", got)
		}
	})

	t.Run("nothing matches", func(t *testing.T) {
		got := Select([]Candidate{otherType}, ctx)
		if got != nil {
			t.Fatalf("Select() = %+v, want nil", got)
		}
	})

	t.Run("foreign project scope does not win", func(t *testing.T) {
		foreign := scoped
		foreign.ProjectID = str("proj-2")
		got := Select([]Candidate{global, foreign}, IssueContext{Type: "task", ProjectID: str("proj-1")})
		if got == nil || got.ID != "t1" {
			t.Fatalf("Select() = %+v, want t1", got)
		}
	})
}

func TestSelectDefault(t *testing.T) {
	typeOnly := Candidate{ID: "d1", Slug: "task-default", Conditions: Conditions{Type: str("task")}, Specificity: 10, ActiveVersionID: str("v1")}
	richer := Candidate{ID: "d2", Slug: "task-bug", Conditions: Conditions{Type: str("task"), Labels: []string{"bug"}}, Specificity: 80, ActiveVersionID: str("v2")}
	universal := Candidate{ID: "d3", Slug: "anything", Conditions: Conditions{}, Specificity: 90, ActiveVersionID: str("v3")}

	got := SelectDefault([]Candidate{richer, universal, typeOnly}, "task")
	if got == nil || got.ID != "d1" {
		t.Fatalf("SelectDefault() = %+v, want d1", got)
	}
	if got := SelectDefault([]Candidate{richer, universal}, "task"); got != nil {
		t.Fatalf("SelectDefault() = %+v, want nil", got)
	}
}
