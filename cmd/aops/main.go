package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyops/internal/app"
	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/engine"
	"agencyops/internal/logging"
	"agencyops/internal/repo"
	"agencyops/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "aops",
	Short: "Agency ops docket",
	Long: `aops runs the day-to-day docket of a creative agency.
- Catalog: clients, projects, agents and calendar come from a YAML dataset (embedded by default).
- Workflows: ordered steps that move upcoming -> current -> complete.
- Decisions: approve a step, request changes with feedback, or consult an agent who worked on an earlier step.
- Docket: open items ranked operational, review, discovery, creative, calendar.
- Event log: every change is recorded, view with 'aops log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		level := viper.GetString("log-level")
		if level == "" {
			level = cfg.Log.Level
		}
		if level == "" {
			level = "warn"
		}
		logging.SetupWriter(os.Stderr, level, cfg.Log.Format == "json")
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("dataset", "", "dataset YAML (overrides config and the embedded catalog)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "dataset", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(agencyCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(docketCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var agency string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create agencyops.yml and seed the session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(agency)), 0o644); err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				n, err := s.Engine.Repo.CountWorkflows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"config": path, "workflows": n})
				}
				fmt.Printf("Wrote %s\n", path)
				fmt.Printf("Session store %s holds %d workflows\n", db.Path(workspace), n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agency, "agency", "Northlight Studio", "agency name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				t := newTable("ID", "When", "Type", "Entity", "Actor")
				for _, evt := range evts {
					t.AppendRow(table.Row{evt.ID, ago(evt.TS), evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" && !allowLegacy {
				return fmt.Errorf("AOPS_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor)")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				handler, err := server.New(server.Config{
					Engine:   s.Engine,
					BasePath: basePath,
					Context:  ctx,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: allowLegacy,
						DevLogin:               devLogin,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logging.WithModule("serve").Info("listening", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving %s API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
					s.Catalog.Agency(), addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env AOPS_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor", false, "accept X-Actor-Id without a token")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Dataset:   viper.GetString("dataset"),
		ActorID:   viper.GetString("actor-id"),
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		return fn(ctx, s.Engine)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func newTable(header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ago renders an RFC 3339 timestamp relative to now; unparsable values pass through.
func ago(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
