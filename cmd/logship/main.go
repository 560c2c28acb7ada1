// cmd/logship/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/semmidev/logship/internal/app"
	"github.com/semmidev/logship/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "logship",
		Short: "Continuously restore SQL Server log backups to a standby server",
		Long: `logship polls a backup location for transaction log backups and restores
them in LSN order to databases left in RESTORING or STANDBY state.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the log restore service (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list source and destination databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Check(ctx, cmd.OutOrStdout())
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "inspect <database>",
		Short: "Show pending log backups for a database without restoring them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Inspect(ctx, args[0], cmd.OutOrStdout())
			})
		},
	})

	return root
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "configs/config.yaml" {
		// environment only
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func withApp(parent context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return fn(ctx, application)
}

func run() error {
	return withApp(context.Background(), func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}
