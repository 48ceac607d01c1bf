package prompt

// Partials are shared template fragments available to every prompt version
// via {{> name}}.
var Partials = map[string]string{
	"api_reference": `## Feedloop API Reference

Base URL: {{api_url}}
Auth: ` + "`" + `Authorization: Bearer {{api_token}}` + "`" + `

### Create Issue
` + "```" + `
curl -X POST {{api_url}}/issues \
  -H "Authorization: Bearer {{api_token}}" \
  -H "Content-Type: application/json" \
  -d '{"title": "...", "type": "task", "parent_id": "{{issue.parent_id}}"}'
` + "```" + `

### Update Issue Status
` + "```" + `
curl -X PATCH {{api_url}}/issues/{{issue.id}} \
  -H "Authorization: Bearer {{api_token}}" \
  -H "Content-Type: application/json" \
  -d '{"status": "done", "agent_summary": "..."}'
` + "```" + `

### Add Comment
` + "```" + `
curl -X POST {{api_url}}/issues/{{issue.id}}/comments \
  -H "Authorization: Bearer {{api_token}}" \
  -H "Content-Type: application/json" \
  -d '{"body": "...", "author_name": "Agent", "author_type": "agent"}'
` + "```" + `

### Create Relation
` + "```" + `
curl -X POST {{api_url}}/issues/{{issue.id}}/relations \
  -H "Authorization: Bearer {{api_token}}" \
  -H "Content-Type: application/json" \
  -d '{"type": "blocks", "related_issue_id": "..."}'
` + "```",

	"review_instructions": `## After Completion

Rate the quality of these instructions:

` + "```" + `
curl -X POST {{api_url}}/prompt-reviews \
  -H "Authorization: Bearer {{api_token}}" \
  -H "Content-Type: application/json" \
  -d '{
    "version_id": "{{meta.version_id}}",
    "issue_id": "{{issue.id}}",
    "clarity": <1-5>,
    "completeness": <1-5>,
    "relevance": <1-5>,
    "feedback": "<what was missing, confusing, or unnecessary>"
  }'
` + "```",

	"parent_context": `{{#if parent}}
## Parent Issue
#{{parent.number}} [{{parent.type}}]: {{parent.title}}
{{#if parent.description}}
{{parent.description}}
{{/if}}
{{#if parent.hypothesis}}
Hypothesis: {{parent.hypothesis.statement}} (confidence: {{parent.hypothesis.confidence}})
Validation: {{json parent.hypothesis.validation_criteria}}
{{/if}}
{{/if}}`,

	"sibling_context": `{{#if siblings.length}}
## Sibling Issues
{{#each siblings}}
- #{{this.number}} [{{this.status}}]: {{this.title}}
{{/each}}
{{/if}}`,

	"project_and_goal_context": `{{#if project}}
## Project
{{project.name}}
{{#if project.description}}
{{project.description}}
{{/if}}
{{#if goal}}
### Goal
{{goal.title}}
Progress: {{goal.current_value}}{{goal.unit}} / {{goal.target_value}}{{goal.unit}}
Status: {{goal.status}}
{{/if}}
{{/if}}`,
}
