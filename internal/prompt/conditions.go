// Package prompt implements template selection and rendering for dispatch
// instructions. Selection matches sparse template conditions against an
// issue context; rendering hydrates the chosen version's content with a
// small text template dialect shared with a set of builtin partials.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"feedloop/internal/domain"
)

// Conditions is the sparse matching predicate stored on a template. Every
// present field must hold for the template to match; an empty value matches
// every issue.
type Conditions struct {
	Type                 *string  `json:"type,omitempty"`
	SignalSource         *string  `json:"signal_source,omitempty"`
	Labels               []string `json:"labels,omitempty"`
	ProjectID            *string  `json:"project_id,omitempty"`
	HasFailedSessions    *bool    `json:"has_failed_sessions,omitempty"`
	HypothesisConfidence *float64 `json:"hypothesis_confidence,omitempty"`
}

// IssueContext is the slice of issue state that conditions are evaluated
// against.
type IssueContext struct {
	Type                 string
	SignalSource         *string
	Labels               []string
	ProjectID            *string
	HasFailedSessions    bool
	HypothesisConfidence *float64
}

// ParseConditions decodes and validates a conditions document. Unknown keys
// are rejected so that typos in authored templates surface at write time
// instead of silently never matching.
func ParseConditions(raw string) (Conditions, error) {
	var c Conditions
	if raw == "" {
		return c, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Conditions{}, fmt.Errorf("parse conditions: %w", err)
	}
	if c.Type != nil && !domain.ValidIssueType(*c.Type) {
		return Conditions{}, fmt.Errorf("conditions: unknown issue type %q", *c.Type)
	}
	if c.HypothesisConfidence != nil && (*c.HypothesisConfidence < 0 || *c.HypothesisConfidence > 1) {
		return Conditions{}, fmt.Errorf("conditions: hypothesis_confidence must be within [0,1]")
	}
	return c, nil
}

// Matches reports whether every present condition holds for the context.
func Matches(c Conditions, ctx IssueContext) bool {
	if c.Type != nil && *c.Type != ctx.Type {
		return false
	}
	if c.SignalSource != nil {
		if ctx.SignalSource == nil || *c.SignalSource != *ctx.SignalSource {
			return false
		}
	}
	if c.Labels != nil {
		for _, want := range c.Labels {
			if !containsString(ctx.Labels, want) {
				return false
			}
		}
	}
	if c.ProjectID != nil {
		if ctx.ProjectID == nil || *c.ProjectID != *ctx.ProjectID {
			return false
		}
	}
	if c.HasFailedSessions != nil && *c.HasFailedSessions != ctx.HasFailedSessions {
		return false
	}
	if c.HypothesisConfidence != nil {
		if ctx.HypothesisConfidence == nil || *ctx.HypothesisConfidence < *c.HypothesisConfidence {
			return false
		}
	}
	return true
}

// Candidate is the selection view of a template.
type Candidate struct {
	ID              string
	Slug            string
	Conditions      Conditions
	Specificity     int
	ProjectID       *string
	ActiveVersionID *string
}

// Select picks the best template for the context: candidates without an
// active version or with non-matching conditions are dropped, then
// project-scoped templates for the issue's project win over global ones,
// then higher specificity wins. Returns nil when nothing matches.
func Select(candidates []Candidate, ctx IssueContext) *Candidate {
	matching := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ActiveVersionID == nil {
			continue
		}
		if !Matches(c.Conditions, ctx) {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return nil
	}
	sort.SliceStable(matching, func(i, j int) bool {
		pi, pj := projectScoped(matching[i], ctx), projectScoped(matching[j], ctx)
		if pi != pj {
			return pi
		}
		return matching[i].Specificity > matching[j].Specificity
	})
	best := matching[0]
	return &best
}

// SelectDefault is the fallback tier used when Select finds nothing: only
// templates whose sole condition is the issue's type qualify, ranked by
// specificity alone.
func SelectDefault(candidates []Candidate, issueType string) *Candidate {
	matching := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ActiveVersionID == nil {
			continue
		}
		if !typeOnlyCondition(c.Conditions, issueType) {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return nil
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Specificity > matching[j].Specificity
	})
	best := matching[0]
	return &best
}

func typeOnlyCondition(c Conditions, issueType string) bool {
	if c.Type == nil || *c.Type != issueType {
		return false
	}
	return c.SignalSource == nil && c.Labels == nil && c.ProjectID == nil &&
		c.HasFailedSessions == nil && c.HypothesisConfidence == nil
}

func projectScoped(c Candidate, ctx IssueContext) bool {
	return c.ProjectID != nil && ctx.ProjectID != nil && *c.ProjectID == *ctx.ProjectID
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
