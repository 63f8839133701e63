package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/decision"
	"agencyops/internal/domain"
	"agencyops/internal/engine"
	"agencyops/internal/workflow"
)

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Inspect and move workflows"}
	cmd.AddCommand(workflowListCmd())
	cmd.AddCommand(workflowShowCmd())
	cmd.AddCommand(workflowStepCmd())
	cmd.AddCommand(workflowTransitionCmd("start", "Start a not-started workflow on its first step", func(e engine.Engine) func(context.Context, string, string) (domain.Workflow, error) {
		return e.Start
	}))
	cmd.AddCommand(workflowTransitionCmd("advance", "Complete the current step", func(e engine.Engine) func(context.Context, string, string) (domain.Workflow, error) {
		return e.Advance
	}))
	cmd.AddCommand(workflowTransitionCmd("skip", "Skip the current step", func(e engine.Engine) func(context.Context, string, string) (domain.Workflow, error) {
		return e.Skip
	}))
	return cmd
}

func workflowListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wfs, err := e.ListWorkflows(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wfs)
				}
				renderWorkflows(wfs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := e.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				printWorkflow(e, wf)
				return nil
			})
		},
	}
}

func workflowStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step <workflow-id> [step-id]",
		Short: "Show one step; defaults to the current step",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stepID := ""
			if len(args) == 2 {
				stepID = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.SelectStep(ctx, args[0], stepID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				printStep(e, view)
				return nil
			})
		},
	}
}

func workflowTransitionCmd(use, short string, op func(engine.Engine) func(context.Context, string, string) (domain.Workflow, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <workflow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wf, err := op(e)(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				printWorkflow(e, wf)
				return nil
			})
		},
	}
}

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Make a decision on the current step of a workflow",
		Long: `Decisions apply to the current step. The step id is optional and defaults to it.
  approve   complete the step and move to the next one
  changes   record feedback; the step stays current
  consult   ask an agent who worked on an earlier step`,
	}

	approve := &cobra.Command{
		Use:   "approve <workflow-id> [step-id]",
		Short: "Approve the current step",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(cmd.Context(), args, decision.Decision{Action: decision.ActionApprove})
		},
	}

	var feedback string
	changes := &cobra.Command{
		Use:   "changes <workflow-id> [step-id]",
		Short: "Request changes on the current step",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(cmd.Context(), args, decision.Decision{Action: decision.ActionRequestChanges, Feedback: feedback})
		},
	}
	changes.Flags().StringVarP(&feedback, "feedback", "m", "", "feedback for the step")
	_ = changes.MarkFlagRequired("feedback")

	var agentID, question string
	consult := &cobra.Command{
		Use:   "consult <workflow-id> [step-id]",
		Short: "Consult an agent from a completed step",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return listConsultable(cmd.Context(), args)
			}
			return runDecision(cmd.Context(), args, decision.Decision{Action: decision.ActionConsult, AgentID: agentID, Question: question})
		},
	}
	consult.Flags().StringVar(&agentID, "agent", "", "agent id (omit to list consultable agents)")
	consult.Flags().StringVarP(&question, "question", "q", "", "question for the agent")

	cmd.AddCommand(approve, changes, consult)
	return cmd
}

// resolveStep returns the explicit step id or the workflow's current step.
func resolveStep(ctx context.Context, e engine.Engine, args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}
	view, err := e.SelectStep(ctx, args[0], "")
	if err != nil {
		return "", err
	}
	return view.Step.ID, nil
}

func runDecision(ctx context.Context, args []string, d decision.Decision) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		stepID, err := resolveStep(ctx, e, args)
		if err != nil {
			return err
		}
		d.Author = actorID()
		res, err := e.Decide(ctx, args[0], stepID, actorID(), d)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(res)
		}
		switch d.Action {
		case decision.ActionApprove:
			fmt.Printf("Approved %s.\n", stepID)
		case decision.ActionRequestChanges:
			fmt.Printf("Feedback recorded on %s.\n", stepID)
		case decision.ActionConsult:
			fmt.Println(res.Reply)
			return nil
		}
		if len(res.Archived) > 0 {
			fmt.Printf("Archived docket items: %s\n", strings.Join(res.Archived, ", "))
		}
		printWorkflow(e, res.Workflow)
		return nil
	})
}

func listConsultable(ctx context.Context, args []string) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		stepID, err := resolveStep(ctx, e, args)
		if err != nil {
			return err
		}
		agents, err := e.ConsultableAgents(ctx, args[0], stepID)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(agents)
		}
		if len(agents) == 0 {
			fmt.Println("No completed steps yet, nobody to consult.")
			return nil
		}
		t := newTable("ID", "Name", "Role")
		for _, a := range agents {
			t.AppendRow(table.Row{a.ID, a.Name, a.Role})
		}
		t.Render()
		return nil
	})
}

func printWorkflow(e engine.Engine, wf domain.Workflow) {
	p := workflow.ProgressOf(wf)
	fmt.Printf("%s [%s] %d of %d steps complete (%d%%)\n", wf.Name, wf.Status, p.Complete, p.Total, p.Percent)
	t := newTable("#", "Step", "Status", "Agents", "Assignee", "Completed")
	for i, s := range wf.Steps {
		status := string(s.Status)
		if s.Skipped {
			status += " (skipped)"
		}
		completed := ""
		if s.CompletedAt != nil {
			completed = ago(*s.CompletedAt)
		}
		t.AppendRow(table.Row{i + 1, s.Name, status, agentNames(e, s.Agents), deref(s.Assignee), completed})
	}
	t.Render()
}

func printStep(e engine.Engine, view engine.StepView) {
	s := view.Step
	fmt.Printf("%s step: %s [%s]\n", humanize.Ordinal(view.Position), s.Name, s.Status)
	switch view.Panel {
	case workflow.PanelCompletedSummary:
		fmt.Printf("Completed %s by %s\n", ago(deref(s.CompletedAt)), agentNames(e, s.Agents))
		if s.Skipped {
			fmt.Println("This step was skipped.")
		}
	case workflow.PanelInProgress:
		fmt.Printf("In progress since %s\n", ago(deref(s.StartedAt)))
		if s.DecisionPoint() {
			fmt.Printf("Waiting on a decision from %s\n", *s.Assignee)
		}
		fmt.Printf("Agents: %s\n", agentNames(e, s.Agents))
	case workflow.PanelUpcomingPreview:
		fmt.Printf("Up next with %s\n", agentNames(e, s.Agents))
	}
	for _, doc := range s.Documents {
		fmt.Printf("  doc: %s\n", doc)
	}
	for _, n := range s.Notes {
		fmt.Printf("  %s (%s, %s): %s\n", n.Kind, n.Author, ago(n.CreatedAt), n.Body)
	}
}

func agentNames(e engine.Engine, ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	if e.Catalog == nil {
		return strings.Join(ids, ", ")
	}
	names := make([]string, 0, len(ids))
	for _, a := range e.Catalog.AgentsFor(ids) {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}
