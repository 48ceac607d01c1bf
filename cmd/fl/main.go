package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedloop/internal/config"
	"feedloop/internal/db"
	"feedloop/internal/engine"
	"feedloop/internal/logging"
	"feedloop/internal/migrate"
	"feedloop/internal/repo"
	"feedloop/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Feedloop CLI",
	Long: `Feedloop dispatches issue work to agents with versioned prompts and a
quality feedback loop.
- Workspace: the .feedloop directory holding the database; config lives in feedloop.yml.
- Issues: signals, hypotheses, plans, tasks and monitors; triage -> todo -> in_progress -> done.
- Signals: raw observations from monitoring sources; each one opens a triage issue.
- Dispatch: 'fl dispatch next' claims the highest-scored todo issue and renders its prompt.
- Templates: versioned prompt templates matched to issues by conditions; promote to roll out.
- Reviews: agents rate the prompts they worked from; degraded templates get a remediation issue.
- Event log: diary of changes, view with 'fl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FEEDLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Manage issues",
		Long:  "Issues are the units of work: signals, hypotheses, plans, tasks and monitors. They flow triage -> todo -> in_progress -> done, nest one level deep, and can block each other.",
	}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueUpdateCmd())
	issue.AddCommand(issueDeleteCmd())
	issue.AddCommand(issueCommentCmd())
	issue.AddCommand(issueLabelCmd())
	issue.AddCommand(issueRelateCmd())
	issue.AddCommand(issuePreviewCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var title, description, issueType, parentID string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
					Title:       title,
					Description: description,
					Type:        issueType,
					Priority:    priority,
					ParentID:    parentID,
					ProjectID:   viper.GetString("project"),
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&issueType, "type", "task", "issue type (signal, hypothesis, plan, task, monitor)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1-4 (0 none)")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent issue id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, issueType, label string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIssues(ctx, repo.IssueFilters{
					Status:  status,
					Type:    issueType,
					Label:   label,
					Project: viper.GetString("project"),
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Title", "Type", "Status", "Priority"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.Number, i.Title, i.Type, i.Status, i.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&issueType, "type", "", "type filter")
	cmd.Flags().StringVar(&label, "label", "", "label filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func issueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue with relations, labels and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetIssueDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func issueUpdateCmd() *cobra.Command {
	var status, title, description, sessionID, summary string
	var priority int
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Update an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.IssueUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("session") {
				opts.AgentSessionID = &sessionID
			}
			if cmd.Flags().Changed("summary") {
				opts.AgentSummary = &summary
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issue, err := e.UpdateIssue(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (triage, todo, in_progress, done, canceled)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1-4")
	cmd.Flags().StringVar(&sessionID, "session", "", "agent session id")
	cmd.Flags().StringVar(&summary, "summary", "", "agent summary")
	return cmd
}

func issueDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <issue-id>",
		Short: "Delete an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteIssue(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func issueCommentCmd() *cobra.Command {
	var body, author string
	cmd := &cobra.Command{
		Use:   "comment <issue-id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], body, author, "human", "", viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment body")
	cmd.Flags().StringVar(&author, "author", "local-user", "author name")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func issueLabelCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "label <issue-id> <label-name>",
		Short: "Attach or detach a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if detach {
					return e.DetachLabel(ctx, args[0], args[1])
				}
				return e.AttachLabel(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "detach instead of attach")
	return cmd
}

func issueRelateCmd() *cobra.Command {
	var relType string
	cmd := &cobra.Command{
		Use:   "relate <issue-id> <related-issue-id>",
		Short: "Relate two issues",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rel, err := e.AddRelation(ctx, args[0], relType, args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rel)
			})
		},
	}
	cmd.Flags().StringVar(&relType, "type", "related", "relation type (blocks, blocked_by, related, duplicate)")
	return cmd
}

func issuePreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <issue-id>",
		Short: "Render the issue's prompt without claiming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.PreviewIssue(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Prompt == nil {
					fmt.Println("no template matches this issue")
					return nil
				}
				fmt.Println(*res.Prompt)
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description, status, health string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("health") {
				opts.Health = &health
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (backlog, active, paused, completed)")
	cmd.Flags().StringVar(&health, "health", "", "health (on_track, at_risk, off_track)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long:  "Goals give projects a measurable target. Issues in a project with an active goal score higher at dispatch.",
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalUpdateCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var title, description, metric, unit string
	var target float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GoalCreateOptions{
				ProjectID:   viper.GetString("project"),
				Title:       title,
				Description: description,
				Metric:      metric,
				Unit:        unit,
				ActorID:     viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("target") {
				opts.TargetValue = &target
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().StringVar(&unit, "unit", "", "metric unit")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func goalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListGoals(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func goalUpdateCmd() *cobra.Command {
	var title, description, status string
	var current float64
	cmd := &cobra.Command{
		Use:   "update <goal-id>",
		Short: "Update a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GoalUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("current") {
				opts.CurrentValue = &current
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateGoal(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (active, achieved, abandoned)")
	cmd.Flags().Float64Var(&current, "current", 0, "current value")
	return cmd
}

func labelCmd() *cobra.Command {
	label := &cobra.Command{Use: "label", Short: "Manage labels"}
	label.AddCommand(labelCreateCmd())
	label.AddCommand(labelListCmd())
	return label
}

func labelCreateCmd() *cobra.Command {
	var name, color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a label",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLabel(ctx, name, color)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label name")
	cmd.Flags().StringVar(&color, "color", "", "hex color")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func labelListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLabels(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage prompt templates",
		Long:  "Prompt templates hold the instructions dispatched to agents. Conditions pick the template per issue; versions are immutable and promoted explicitly.",
	}
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateDeleteCmd())
	tpl.AddCommand(templateVersionCmd())
	tpl.AddCommand(templatePromoteCmd())
	return tpl
}

func templateCreateCmd() *cobra.Command {
	var slug, name, description, conditions string
	var specificity int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a prompt template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TemplateCreateOptions{
				Slug:        slug,
				Name:        name,
				Description: description,
				Conditions:  conditions,
				ProjectID:   viper.GetString("project"),
				ActorID:     viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("specificity") {
				opts.Specificity = &specificity
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "kebab-case slug")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&conditions, "conditions", "", `conditions JSON, e.g. {"type":"task"}`)
	cmd.Flags().IntVar(&specificity, "specificity", 10, "selection specificity 0-100")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Slug", "Name", "Specificity", "Active"})
				for _, t := range items {
					active := "-"
					if t.ActiveVersionID != nil {
						active = "yes"
					}
					tw.AppendRow(table.Row{t.Slug, t.Name, t.Specificity, active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a template and its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTemplateBySlug(ctx, args[0])
				if err != nil {
					return err
				}
				versions, err := r.ListVersions(ctx, t.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"template": t, "versions": versions})
			})
		},
	}
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTemplate(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func templateVersionCmd() *cobra.Command {
	var contentFile, changelog, author string
	cmd := &cobra.Command{
		Use:   "version <template-id>",
		Short: "Add a version from a content file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(contentFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CreateVersion(ctx, engine.VersionCreateOptions{
					TemplateID: args[0],
					Content:    string(data),
					Changelog:  changelog,
					AuthorType: "human",
					AuthorName: author,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&contentFile, "file", "", "path to prompt content")
	cmd.Flags().StringVar(&changelog, "changelog", "", "what changed")
	cmd.Flags().StringVar(&author, "author", "local-user", "author name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func templatePromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote <version-id>",
		Short: "Promote a version to active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.PromoteVersion(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func dispatchCmd() *cobra.Command {
	dispatch := &cobra.Command{
		Use:   "dispatch",
		Short: "Claim and preview dispatchable work",
	}
	dispatch.AddCommand(dispatchNextCmd())
	dispatch.AddCommand(dispatchQueueCmd())
	return dispatch
}

func dispatchNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the next issue and print its prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DispatchNext(ctx, viper.GetString("project"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if res == nil {
					fmt.Println("nothing to dispatch")
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Claimed #%d: %s\n", res.Issue.Number, res.Issue.Title)
				if res.Prompt != nil {
					fmt.Println()
					fmt.Println(*res.Prompt)
				}
				return nil
			})
		},
	}
	return cmd
}

func dispatchQueueCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Preview the claim queue in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, total, err := e.DispatchQueue(ctx, viper.GetString("project"), limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"entries": entries, "total": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Title", "Type", "Priority", "Score"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.Issue.Number, entry.Issue.Title, entry.Issue.Type, entry.Issue.Priority, entry.Score.Total})
				}
				tw.Render()
				fmt.Printf("%d eligible in total\n", total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	return cmd
}

func signalCmd() *cobra.Command {
	signal := &cobra.Command{
		Use:   "signal",
		Short: "Ingest and inspect signals",
	}
	signal.AddCommand(signalIngestCmd())
	signal.AddCommand(signalListCmd())
	return signal
}

func signalIngestCmd() *cobra.Command {
	var source, sigType, severity, summary, payload string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a signal and open its triage issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var payloadMap map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &payloadMap); err != nil {
					return fmt.Errorf("invalid payload JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				signal, issue, err := e.IngestSignal(ctx, engine.SignalOptions{
					Source:    source,
					Type:      sigType,
					Severity:  severity,
					Summary:   summary,
					Payload:   payloadMap,
					ProjectID: viper.GetString("project"),
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"signal": signal, "issue": issue})
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "signal source (sentry, datadog, ...)")
	cmd.Flags().StringVar(&sigType, "type", "", "signal type (error, metric, ...)")
	cmd.Flags().StringVar(&severity, "severity", "medium", "severity (critical, high, medium, low)")
	cmd.Flags().StringVar(&summary, "summary", "", "one-line summary")
	cmd.Flags().StringVar(&payload, "payload", "", "payload JSON")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func signalListCmd() *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSignals(ctx, source, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{
		Use:   "review",
		Short: "Prompt quality reviews",
	}
	review.AddCommand(reviewSubmitCmd())
	review.AddCommand(reviewListCmd())
	return review
}

func reviewSubmitCmd() *cobra.Command {
	var versionID, issueID, feedback string
	var clarity, completeness, relevance int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a prompt review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.SubmitReview(ctx, engine.ReviewOptions{
					VersionID:    versionID,
					IssueID:      issueID,
					Clarity:      clarity,
					Completeness: completeness,
					Relevance:    relevance,
					Feedback:     feedback,
					AuthorType:   "human",
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "prompt version id")
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id the prompt was used for")
	cmd.Flags().IntVar(&clarity, "clarity", 0, "clarity 1-5")
	cmd.Flags().IntVar(&completeness, "completeness", 0, "completeness 1-5")
	cmd.Flags().IntVar(&relevance, "relevance", 0, "relevance 1-5")
	cmd.Flags().StringVar(&feedback, "feedback", "", "free-form feedback")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func reviewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <version-id>",
		Short: "List reviews of a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReviews(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var prompts bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Workspace health overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if prompts {
					health, err := e.GetTemplateHealth(ctx)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(health)
					}
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Slug", "Active", "Reviews", "Score", "Attention"})
					for _, h := range health {
						active, score := "-", "-"
						if h.ActiveVersion != nil {
							active = fmt.Sprintf("v%d", h.ActiveVersion.Version)
							if h.ActiveVersion.ReviewScore != nil {
								score = fmt.Sprintf("%.2f", *h.ActiveVersion.ReviewScore)
							}
						}
						attention := ""
						if h.NeedsAttention {
							attention = "yes"
						}
						tw.AppendRow(table.Row{h.Template.Slug, active, h.ReviewSummary.TotalReviews, score, attention})
					}
					tw.Render()
					return nil
				}
				stats, err := e.GetDashboardStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Issues: %d total\n", stats.Issues.Total)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, status := range []string{"triage", "todo", "in_progress", "done", "canceled"} {
					if n := stats.Issues.ByStatus[status]; n > 0 {
						tw.AppendRow(table.Row{status, n})
					}
				}
				tw.Render()
				fmt.Printf("Goals: %d total, %d active, %d achieved\n", stats.Goals.Total, stats.Goals.Active, stats.Goals.Achieved)
				fmt.Printf("Dispatch: queue depth %d, %d in progress, %d completed in the last 24h\n",
					stats.Dispatch.QueueDepth, stats.Dispatch.ActiveCount, stats.Dispatch.CompletedLast24h)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&prompts, "prompts", false, "show per-template prompt quality instead")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: issue changes, claims, promotions, reviews, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				APIToken:  cfg.Auth.APIToken,
				JWTSecret: cfg.Auth.JWTSecret,
			}
			if token := os.Getenv("FEEDLOOP_API_TOKEN"); token != "" {
				authCfg.APIToken = token
			}
			if secret := os.Getenv("FEEDLOOP_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logging.Infof("serving Feedloop API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
