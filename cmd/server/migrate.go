package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"workflow-provisioner/internal/repository"
	"workflow-provisioner/internal/templates"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the audit store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if !cfg.DB.Enabled {
				return errors.New("database is disabled (db.enabled=false)")
			}
			if err := repository.Migrate(cfg.DatabaseURL()); err != nil {
				return err
			}
			logger.Info("Migrations applied", "database", cfg.DB.Name)
			return nil
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "Validate and list the embedded template catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := templates.Default()
			if err != nil {
				return fmt.Errorf("template catalog is invalid: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVARIABLES")
			for _, t := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", t.ID, t.Name, len(t.Variables))
			}
			return w.Flush()
		},
	}
}
