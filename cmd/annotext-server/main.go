package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/annotext/annotext/internal/config"
	"github.com/annotext/annotext/internal/domain/annotation"
	"github.com/annotext/annotext/internal/domain/extract"
	"github.com/annotext/annotext/internal/domain/refindex"
	"github.com/annotext/annotext/internal/domain/unify"
	"github.com/annotext/annotext/internal/platform/auth"
	"github.com/annotext/annotext/internal/platform/db"
	"github.com/annotext/annotext/internal/platform/llm"
	"github.com/annotext/annotext/internal/platform/middleware"
	"github.com/annotext/annotext/internal/platform/session"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "annotext-server",
		Short: "ICD-O-3 annotation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(indexCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation API server",
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
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

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the reference table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Load the reference CSV and print index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ix, err := refindex.Load(cfg.ReferenceCSVPath, zerolog.Nop())
			if err != nil {
				return err
			}
			fmt.Printf("Reference table: %s\n", cfg.ReferenceCSVPath)
			fmt.Printf("  entries:      %d\n", ix.Len())
			fmt.Printf("  morphologies: %d\n", ix.MorphologyCount())
			fmt.Printf("  topographies: %d\n", ix.TopographyCount())
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
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

	// Reference index. A load failure is survivable: extraction degrades to
	// direct code detection and lookup/combine endpoints answer 503.
	index, err := refindex.Load(cfg.ReferenceCSVPath, logger)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.ReferenceCSVPath).
			Msg("reference table failed to load, running degraded")
		index = nil
	}

	// Session store: PostgreSQL when configured, in-memory otherwise.
	ctx := context.Background()
	var store session.Store
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		store = session.NewPG(pool)
		logger.Info().Msg("using postgres session store")
	} else {
		store = session.NewMemory()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory session store")
	}

	// LLM client
	var completions llm.CompletionClient
	if cfg.LLMEndpoint != "" {
		completions = llm.NewClient(llm.Config{
			Endpoint:  cfg.LLMEndpoint,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   cfg.LLMTimeout(),
		}, logger)
		logger.Info().Str("endpoint", cfg.LLMEndpoint).Str("model", cfg.LLMModel).Msg("llm extraction enabled")
	} else {
		logger.Warn().Msg("LLM_ENDPOINT not set, llm extraction disabled")
	}

	// Optional term lookup table
	var lookup *extract.LookupTable
	if cfg.LookupTablePath != "" {
		lookup, err = extract.LoadLookupTable(cfg.LookupTablePath, logger)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.LookupTablePath).
				Msg("lookup table failed to load, pattern fallback disabled")
			lookup = nil
		}
	}

	// Services
	annots := annotation.NewService(store, logger)
	extractor := extract.NewExtractor(index, completions, lookup, logger)
	unifier := unify.NewService(index, store, annots, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "5M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))
	e.Use(auth.Middleware(cfg.AuthSecret, cfg.IsDev()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		status := map[string]interface{}{
			"status":       "ok",
			"version":      version,
			"index_loaded": index != nil,
		}
		if index != nil {
			status["index_entries"] = index.Len()
		}
		return c.JSON(http.StatusOK, status)
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	annotation.NewHandler(annots).RegisterRoutes(apiV1)
	extract.NewHandler(extractor, annots).RegisterRoutes(apiV1)
	unify.NewHandler(unifier).RegisterRoutes(apiV1)

	// Start server
	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
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
