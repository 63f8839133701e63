package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize/english"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/app"
	"agencyops/internal/domain"
	"agencyops/internal/workflow"
)

func agencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agency",
		Short: "Show the agency overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				summary, err := s.Engine.Summary(ctx, "")
				if err != nil {
					return err
				}
				out := map[string]any{
					"name":     s.Catalog.Agency(),
					"clients":  len(s.Catalog.Clients()),
					"projects": len(s.Catalog.Projects()),
					"agents":   len(s.Catalog.Agents()),
					"docket":   summary,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println(s.Catalog.Agency())
				fmt.Printf("%d clients, %d projects, %d agents\n", len(s.Catalog.Clients()), len(s.Catalog.Projects()), len(s.Catalog.Agents()))
				fmt.Printf("Docket: %d open, %d urgent\n", summary.Total, summary.Urgent)
				fmt.Println(summary.Brief)
				return nil
			})
		},
	}
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Browse clients"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				clients := s.Catalog.Clients()
				if viper.GetBool("json") {
					return printJSON(clients)
				}
				t := newTable("ID", "Name", "Industry", "Projects")
				for _, c := range clients {
					t.AppendRow(table.Row{c.ID, c.Name, c.Industry, len(s.Catalog.ProjectsByClient(c.ID))})
				}
				t.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <client-id>",
		Short: "Show a client and its projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				c, ok := s.Catalog.Client(args[0])
				if !ok {
					return fmt.Errorf("client %s: %w", args[0], domain.ErrNotFound)
				}
				projects := s.Catalog.ProjectsByClient(c.ID)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"client": c, "projects": projects})
				}
				fmt.Printf("%s (%s)\n", c.Name, c.Industry)
				if c.Contact != "" {
					fmt.Printf("Contact: %s\n", c.Contact)
				}
				renderProjects(projects)
				return nil
			})
		},
	})
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Browse projects"}
	var clientID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				projects := s.Catalog.Projects()
				if clientID != "" {
					projects = s.Catalog.ProjectsByClient(clientID)
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				renderProjects(projects)
				return nil
			})
		},
	}
	list.Flags().StringVar(&clientID, "client", "", "client id filter")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its workflows and calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, ok := s.Catalog.Project(args[0])
				if !ok {
					return fmt.Errorf("project %s: %w", args[0], domain.ErrNotFound)
				}
				wfs, err := s.Engine.ListWorkflows(ctx, p.ID)
				if err != nil {
					return err
				}
				cal := s.Catalog.CalendarEventsByProject(p.ID)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "workflows": wfs, "calendar": cal})
				}
				client, _ := s.Catalog.Client(p.ClientID)
				fmt.Printf("%s for %s [%s]\n", p.Name, client.Name, p.Status)
				if p.DaysUntilLaunch != nil {
					fmt.Printf("Launch in %s\n", english.Plural(*p.DaysUntilLaunch, "day", "days"))
				}
				if p.Description != "" {
					fmt.Println(p.Description)
				}
				renderWorkflows(wfs)
				if len(cal) > 0 {
					renderCalendar(cal)
				}
				return nil
			})
		},
	})
	return cmd
}

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				agents := s.Catalog.Agents()
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				t := newTable("ID", "Name", "Role")
				for _, a := range agents {
					t.AppendRow(table.Row{a.ID, a.Name, a.Role})
				}
				t.Render()
				return nil
			})
		},
	}
}

func calendarCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List calendar events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				events := s.Catalog.CalendarEvents()
				if projectID != "" {
					events = s.Catalog.CalendarEventsByProject(projectID)
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				renderCalendar(events)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	return cmd
}

func renderProjects(projects []domain.Project) {
	t := newTable("ID", "Name", "Status", "Launch")
	for _, p := range projects {
		launch := ""
		if p.DaysUntilLaunch != nil {
			launch = english.Plural(*p.DaysUntilLaunch, "day", "days")
		}
		t.AppendRow(table.Row{p.ID, p.Name, p.Status, launch})
	}
	t.Render()
}

func renderWorkflows(wfs []domain.Workflow) {
	t := newTable("ID", "Name", "Status", "Step", "Progress")
	for _, wf := range wfs {
		step := "-"
		if cur, err := workflow.CurrentStep(wf); err == nil && wf.Status == domain.WorkflowInProgress {
			step = cur.Name
		}
		p := workflow.ProgressOf(wf)
		t.AppendRow(table.Row{wf.ID, wf.Name, wf.Status, step, fmt.Sprintf("%d/%d (%d%%)", p.Complete, p.Total, p.Percent)})
	}
	t.Render()
}

func renderCalendar(events []domain.CalendarEvent) {
	t := newTable("When", "Title", "Kind", "Project")
	for _, ev := range events {
		t.AppendRow(table.Row{ago(ev.StartsAt), ev.Title, ev.Kind, ev.ProjectID})
	}
	t.Render()
}
