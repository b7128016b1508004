package main

import (
	"fmt"

	"taskboard-backend/pkg/access"
	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/models"
	"taskboard-backend/pkg/server"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "check [user-id] [org-id] [permission]",
		Short: "Resolve a permission against the configured store",
		Long: `Resolve a permission and print which layer decided it.

Examples:
  taskboard check u-123 org-1 EDIT_TASK
  taskboard check u-123 org-1 MANAGE_PROJECT --project proj-9`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm := models.Permission(args[2])
			if err := access.ValidatePermissions(models.PermissionSet{perm}); err != nil {
				return err
			}

			cfg := config.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			roles, _, err := server.LoadCatalogs(cfg.CatalogFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := database.NewDatabase(ctx, cfg.Database())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			var scope *access.Scope
			if project != "" {
				scope = &access.Scope{ProjectID: project}
			}
			out, err := access.NewResolver(db, roles, access.Options{}).Decide(ctx, args[0], args[1], perm, scope)
			if err != nil {
				return err
			}

			verdict := "denied"
			if out.Allowed {
				verdict = "allowed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (decided by %s)\n", perm, verdict, out.Layer)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project scope")

	return cmd
}
