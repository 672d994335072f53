// Command provisionctl drives the provisioning pipeline from a terminal with
// a personal access token taken from GITHUB_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"workflow-provisioner/internal/auth"
	"workflow-provisioner/internal/config"
	"workflow-provisioner/internal/gateway"
	"workflow-provisioner/internal/logging"
	"workflow-provisioner/internal/repository"
	"workflow-provisioner/internal/services"
	"workflow-provisioner/internal/templates"
	"workflow-provisioner/pkg/models"
)

const tokenEnv = "GITHUB_TOKEN"

type app struct {
	envFile string
	actor   string
	verbose bool

	svc     *services.ProvisioningService
	cleanup func()
}

func main() {
	a := &app{}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "provisionctl",
		Short:         "Provision GitHub Actions workflows from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.cleanup != nil {
				a.cleanup()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", "", "Path to .env file")
	root.PersistentFlags().StringVar(&a.actor, "actor", "cli", "Actor recorded in the audit log")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log pipeline steps")

	root.AddCommand(a.cronCmd(), a.workflowCmd(), a.templatesCmd(), a.runsCmd())
	return root
}

// setup builds the pipeline the way the server does, with logs kept quiet
// unless --verbose is set.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.LoadConfig(a.envFile)
	if err != nil {
		return err
	}
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	var sink repository.Sink = repository.NoopSink{}
	if cfg.DB.Enabled {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		sink = repository.NewPostgresStore(pool)
		a.cleanup = func() {
			a.svc.Drain()
			pool.Close()
		}
	}

	registry, err := templates.Default()
	if err != nil {
		return err
	}
	a.svc = services.NewProvisioningService(gateway.NewGitHubFactory(cfg.GitHub.BaseURL), registry, sink, logger, services.Options{
		Branch:       cfg.GitHub.DefaultBranch,
		WebURL:       cfg.GitHub.WebURL,
		SettleDelay:  cfg.GitHub.SettleDelay,
		RunPageSize:  cfg.GitHub.RunPageSize,
		RepoPageSize: cfg.GitHub.RepoPageSize,
	})
	if a.cleanup == nil {
		a.cleanup = a.svc.Drain
	}
	return nil
}

func (a *app) principal() auth.Principal {
	p := auth.Principal{Actor: a.actor}
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		p.Token = &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	}
	return p
}

func (a *app) run(fn func(ctx context.Context) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := a.setup(ctx); err != nil {
			return err
		}
		out, err := fn(ctx)
		if err != nil {
			return describe(err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

func (a *app) cronCmd() *cobra.Command {
	cron := &cobra.Command{Use: "cron", Short: "Manage scheduled jobs"}

	var spec models.ScheduledJobSpec
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or overwrite a scheduled job",
		RunE: a.run(func(ctx context.Context) (any, error) {
			return a.svc.CreateScheduledJob(ctx, a.principal(), spec)
		}),
	}
	create.Flags().StringVar(&spec.Owner, "owner", "", "Repository owner")
	create.Flags().StringVar(&spec.Repo, "repo", "", "Repository name")
	create.Flags().StringVar(&spec.Name, "name", "", "Job name")
	create.Flags().StringVar(&spec.Schedule, "schedule", "", "Cron expression, e.g. '0 0 * * *'")
	create.Flags().StringVar(&spec.Command, "command", "", "Command to run")

	var listOwner, listRepo string
	list := &cobra.Command{
		Use:   "list",
		Short: "List workflow files in a repository",
		RunE: a.run(func(ctx context.Context) (any, error) {
			return a.svc.ListScheduledJobs(ctx, a.principal(), listOwner, listRepo)
		}),
	}
	list.Flags().StringVar(&listOwner, "owner", "", "Repository owner")
	list.Flags().StringVar(&listRepo, "repo", "", "Repository name")

	var delOwner, delRepo, delPath string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a workflow file",
		RunE: a.run(func(ctx context.Context) (any, error) {
			if err := a.svc.DeleteScheduledJob(ctx, a.principal(), delOwner, delRepo, delPath); err != nil {
				return nil, err
			}
			return map[string]string{"deleted": delPath}, nil
		}),
	}
	del.Flags().StringVar(&delOwner, "owner", "", "Repository owner")
	del.Flags().StringVar(&delRepo, "repo", "", "Repository name")
	del.Flags().StringVar(&delPath, "path", "", "Workflow path")

	cron.AddCommand(create, list, del)
	return cron
}

func (a *app) workflowCmd() *cobra.Command {
	workflow := &cobra.Command{Use: "workflow", Short: "Provision catalog templates"}

	var templateID, repoName string
	var vars []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Render a template into a repository",
		RunE: a.run(func(ctx context.Context) (any, error) {
			variables, err := parseVars(vars)
			if err != nil {
				return nil, err
			}
			return a.svc.CreateFromTemplate(ctx, a.principal(), models.TemplateWorkflowSpec{
				TemplateID: templateID,
				Variables:  variables,
				RepoName:   repoName,
			})
		}),
	}
	create.Flags().StringVar(&templateID, "template", "", "Template id")
	create.Flags().StringVar(&repoName, "repo", "", "Target repository as owner/repo")
	create.Flags().StringArrayVar(&vars, "var", nil, "Template variable as name=value (repeatable)")

	workflow.AddCommand(create)
	return workflow
}

func (a *app) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the template catalog",
		RunE: a.run(func(ctx context.Context) (any, error) {
			return a.svc.ListTemplates(), nil
		}),
	}
}

func (a *app) runsCmd() *cobra.Command {
	var owner, repo string
	runs := &cobra.Command{
		Use:   "runs",
		Short: "List recent workflow runs",
		RunE: a.run(func(ctx context.Context) (any, error) {
			return a.svc.ListWorkflowRuns(ctx, a.principal(), owner, repo)
		}),
	}
	runs.Flags().StringVar(&owner, "owner", "", "Repository owner")
	runs.Flags().StringVar(&repo, "repo", "", "Repository name")
	return runs
}

// parseVars turns name=value pairs into template variables. Values stay
// strings; the pipeline coerces them to each variable's declared kind.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", pair)
		}
		vars[name] = value
	}
	return vars, nil
}

func describe(err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		if svcErr.Kind == services.KindNoCredential {
			return fmt.Errorf("%s is not set", tokenEnv)
		}
		return fmt.Errorf("%s: %w", svcErr.Kind, err)
	}
	return err
}
