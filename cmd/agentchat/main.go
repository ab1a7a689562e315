// Command agentchat runs the chat backend and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/agentchat/internal/app/runtime"
	"github.com/R3E-Network/agentchat/internal/config"
	"github.com/R3E-Network/agentchat/internal/platform/database"
	"github.com/R3E-Network/agentchat/internal/platform/migrations"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentchat",
		Short:         "Chat backend with streamed model replies and a market snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $AGENTCHAT_CONFIG)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedMarketCmd(), newVersionCmd())
	return root
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := runtime.NewApplication(ctx, cfg, log)
			if err != nil {
				return err
			}
			log.WithField("version", version).
				WithField("driver", cfg.Database.Driver).
				WithField("provider", cfg.Inference.Provider).
				Info("agentchat starting")
			return application.Run(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := migrations.Apply(ctx, db.DB, cfg.Database.Driver); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			log.WithField("driver", cfg.Database.Driver).Info("migrations applied")
			return nil
		},
	}
}

func newSeedMarketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-market",
		Short: "Store a default market snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := runtime.SeedMarket(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("seed market: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d quotes\n", n)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
