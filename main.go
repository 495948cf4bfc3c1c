package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/logger"
	"storefront/internal/repositories"
	"storefront/internal/services"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront order and payment API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.AppEnv, cfg.LogLevel)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !skipMigrate {
				if err := database.Migrate(rt.DB); err != nil {
					return err
				}
			}
			if err := rt.StartBackground(ctx); err != nil {
				return err
			}

			server := rt.App()
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("starting server", "port", cfg.AppPort)
				serverErr <- server.Listen(cfg.AppPort)
			}()

			// Wait for interrupt signal to gracefully shut down the server
			select {
			case err := <-serverErr:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			slog.Info("shutting down server")
			if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
				slog.Error("error during server shutdown", "error", err)
			}
			slog.Info("server gracefully stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not run database migrations on startup")
	return cmd
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			slog.Info("migrations applied", "driver", cfg.DBDriver)
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-dead-letters",
		Short: "Retry webhook events whose order update failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RabbitMQURL == "" {
				return errors.New("RABBITMQ_URL is required to replay dead letters")
			}

			rt, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.ReplayDeadLetters(cmd.Context())
			slog.Info("dead-letter replay finished", "processed", n)
			return err
		},
	}
}

func createAdminCmd() *cobra.Command {
	var in services.RegisterInput

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Email == "" || len(in.Password) < 6 {
				return errors.New("--email and a --password of at least 6 characters are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			auth := services.NewAuthService(repositories.NewGORMUserRepository(db), cfg.JWTSecret, cfg.JWTExpiresIn)
			user, err := auth.CreateAdmin(cmd.Context(), in)
			if err != nil {
				return err
			}
			slog.Info("admin ready", "user_id", user.ID, "email", user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "admin email")
	cmd.Flags().StringVar(&in.Password, "password", "", "admin password")
	return cmd
}
