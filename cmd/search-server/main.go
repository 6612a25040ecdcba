package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinsearch/clinsearch/internal/config"
	"github.com/clinsearch/clinsearch/internal/domain/resource"
	"github.com/clinsearch/clinsearch/internal/platform/auth"
	"github.com/clinsearch/clinsearch/internal/platform/backend/opensearch"
	"github.com/clinsearch/clinsearch/internal/platform/backend/postgres"
	"github.com/clinsearch/clinsearch/internal/platform/db"
	"github.com/clinsearch/clinsearch/internal/platform/middleware"
	"github.com/clinsearch/clinsearch/internal/platform/search"
	"github.com/clinsearch/clinsearch/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "search-server",
		Short: "Clinical resource search API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Full-text engine
	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:   cfg.OpenSearchAddresses(),
		Username:    cfg.OpenSearchUser,
		Password:    cfg.OpenSearchPassword,
		IndexPrefix: cfg.IndexPrefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create full-text client")
	}
	engine := opensearch.NewEngine(osClient, cfg.IndexPrefix, logger)
	store := postgres.NewStore(pool, logger)

	// Search core
	registry := search.DefaultRegistry()
	validator := search.NewValidator(registry, logger)
	resolver := search.NewChainResolver(registry, logger)
	planner := search.NewPlanBuilder(registry, resolver, logger)
	executor := search.NewExecutor(engine, store, logger)

	manager := search.NewStateManager(cfg.StateTTL, cfg.SweepInterval, logger)
	manager.Start()
	defer manager.Stop()

	cache := search.NewPaginationCache(manager, store, logger)

	svc := resource.NewService(resource.ServiceConfig{
		Registry:        registry,
		Validator:       validator,
		Planner:         planner,
		Executor:        executor,
		FullText:        engine,
		Documents:       store,
		Manager:         manager,
		Cache:           cache,
		KeyCap:          cfg.KeyCap,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		Log:             logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	metrics := telemetry.NewProvider()
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(auth.Tenant(cfg.AuthSecret, cfg.DefaultTenant, logger))
	e.Use(middleware.Logger(logger))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// FHIR search API
	fhirGroup := e.Group("/fhir")
	handler := resource.NewHandler(svc, cfg.DefaultTenant, logger)
	handler.RegisterRoutes(fhirGroup)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
