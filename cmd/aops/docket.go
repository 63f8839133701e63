package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/domain"
	"agencyops/internal/engine"
)

func docketCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{Use: "docket", Short: "Open work ranked by type"}
	cmd.PersistentFlags().StringVar(&projectID, "project", "", "project id filter")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open docket items in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Docket(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "Type", "Priority", "Title", "Project", "Agents", "Raised")
				for _, it := range items {
					t.AppendRow(table.Row{it.ID, it.Type, it.Priority, it.Title, projectLabel(e, it.ProjectID), agentNames(e, it.Agents), ago(it.CreatedAt)})
				}
				t.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "top",
		Short: "Show the top recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.TopRecommendation(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				printItem(e, it)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one docket item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.DocketItem(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				printItem(e, it)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "brief",
		Short: "Summarize the docket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.Summary(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Println(summary.Brief)
				t := newTable("Type", "Open")
				for _, typ := range []domain.DocketType{domain.DocketOperational, domain.DocketReview, domain.DocketDiscovery, domain.DocketCreative, domain.DocketCalendar} {
					t.AppendRow(table.Row{typ, summary.ByType[typ]})
				}
				t.AppendFooter(table.Row{"urgent", summary.Urgent})
				t.Render()
				return nil
			})
		},
	})
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask the docket assistant; without a message, read questions from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) > 0 {
					return ask(ctx, e, strings.Join(args, " "))
				}
				scanner := bufio.NewScanner(os.Stdin)
				fmt.Print("> ")
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "exit" || line == "quit" {
						return nil
					}
					if line != "" {
						if err := ask(ctx, e, line); err != nil {
							return err
						}
					}
					fmt.Print("> ")
				}
				return scanner.Err()
			})
		},
	}
}

func ask(ctx context.Context, e engine.Engine, message string) error {
	reply, err := e.Chat(ctx, actorID(), message)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(reply)
	}
	fmt.Printf("%s: %s\n", reply.Author, reply.Body)
	return nil
}

func printItem(e engine.Engine, it domain.DocketItem) {
	fmt.Printf("%s [%s, %s]\n", it.Title, it.Type, it.Priority)
	fmt.Printf("Project: %s\n", projectLabel(e, it.ProjectID))
	if it.Summary != "" {
		fmt.Println(it.Summary)
	}
	if it.WorkflowID != "" {
		fmt.Printf("Workflow: %s / step %s\n", it.WorkflowID, it.StepID)
	}
	fmt.Printf("Agents: %s\n", agentNames(e, it.Agents))
	fmt.Printf("Raised %s\n", ago(it.CreatedAt))
}

func projectLabel(e engine.Engine, id string) string {
	if e.Catalog == nil {
		return id
	}
	if p, ok := e.Catalog.Project(id); ok {
		return p.Name
	}
	return id
}
