package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/engram-sh/engram/internal/app"
)

func newRegisterWebhookCmd() *cobra.Command {
	var eventType string

	cmd := &cobra.Command{
		Use:   "register-webhook <url>",
		Short: "Register an HTTP endpoint for event notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.RegisterWebhook(ctx, args[0], eventType)
			})
		},
	}

	cmd.Flags().StringVar(&eventType, "event-type", "*", "event to subscribe to, or * for all")
	return cmd
}

func newListWebhooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-webhooks",
		Short: "List registered webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.ListWebhooks(ctx)
			})
		},
	}
}

func newRemoveWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-webhook <id>",
		Short: "Delete a webhook registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.RemoveWebhook(ctx, args[0]); err != nil {
					return nil, err
				}
				return okResult("webhook removed"), nil
			})
		},
	}
}

func newSyncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Queue every unsynced episode for remote replication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				scheduled, err := a.Service.SyncAllToTurso(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"success": true, "scheduled": scheduled}, nil
			})
		},
	}
}

func newTursoStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "turso-status",
		Short: "Show replication state and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.TursoStatus(ctx)
			})
		},
	}
}

func newBackupCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database to a verified backup file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.BackupDatabase(path)
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "destination file (default: timestamped file in the backup dir)")
	return cmd
}

func newRestoreDatabaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-database <backup-file>",
		Short: "Replace the database with a verified backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.RestoreDatabase(args[0]); err != nil {
					return nil, err
				}
				return okResult("database restored"), nil
			})
		},
	}
}

func newListBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-backups",
		Short: "List backup files, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.ListBackups()
			})
		},
	}
}

func newStatisticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statistics",
		Short: "Show store-wide counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.GetStatistics(ctx)
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.GetLogs(limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop the search result cache and cached embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.ClearCache(ctx)
			})
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Vacuum and analyze the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				if err := a.Service.OptimizeDatabase(ctx); err != nil {
					return nil, err
				}
				return okResult("database optimized"), nil
			})
		},
	}
}

func newCheckIntegrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-integrity",
		Short: "Report dangling relations and orphaned version rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.CheckIntegrity(ctx)
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service version, uptime, and replication summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.GetStatus(ctx)
			})
		},
	}
}
