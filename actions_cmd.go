package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-agent/pkg/database"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect pending actions",
	}
	cmd.AddCommand(newActionsListCmd())
	return cmd
}

func newActionsListCmd() *cobra.Command {
	var (
		projectFlag string
		status      string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectID, err := uuid.Parse(projectFlag)
			if err != nil {
				return fmt.Errorf("--project must be a UUID: %w", err)
			}

			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cleanup, err := database.NewTenantScopeProvider(db).WithTenantScope(cmd.Context(), projectID)
			if err != nil {
				return fmt.Errorf("failed to acquire connection: %w", err)
			}
			defer cleanup()

			actions, err := services.NewActionService(repositories.NewPendingActionRepository()).List(ctx, projectID, status, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(actions)
			}
			renderActions(cmd.OutOrStdout(), actions)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "project id")
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, executing, executed, failed)")
	cmd.Flags().IntVar(&limit, "limit", services.DefaultActionListLimit, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func renderActions(w io.Writer, actions []*models.PendingAction) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Type", "Status", "User", "Created", "Error"})
	for _, a := range actions {
		errText := ""
		if a.Error != nil {
			errText = *a.Error
		}
		tw.AppendRow(table.Row{a.ID, a.Kind, a.Status, a.UserID, a.CreatedAt.UTC().Format(time.RFC3339), errText})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(actions)})
	tw.Render()
}
