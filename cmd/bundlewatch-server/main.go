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
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bundlewatch/bundlewatch/internal/config"
	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/compliance"
	"github.com/bundlewatch/bundlewatch/internal/domain/deviation"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
	"github.com/bundlewatch/bundlewatch/internal/engine"
	"github.com/bundlewatch/bundlewatch/internal/platform/auth"
	"github.com/bundlewatch/bundlewatch/internal/platform/db"
	"github.com/bundlewatch/bundlewatch/internal/platform/middleware"
	"github.com/bundlewatch/bundlewatch/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bundlewatch-server",
		Short: "Guideline bundle adherence server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the adherence API server and evaluation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run a single evaluation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneCycle()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
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

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Apply a reverse migration by hand or restore from a backup instead.")
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

// newEvidenceSource selects the evidence backend. Without a configured
// evidence server (development only) an empty in-memory source is used,
// so every element simply stays pending until its window expires.
func newEvidenceSource(cfg *config.Config, logger zerolog.Logger) evidence.Source {
	if cfg.EvidenceBaseURL == "" {
		logger.Warn().Msg("EVIDENCE_BASE_URL not set, using empty in-memory evidence source")
		return evidence.NewMockSource()
	}
	return evidence.NewFHIRClient(evidence.FHIRConfig{
		BaseURL:    cfg.EvidenceBaseURL,
		Token:      cfg.EvidenceToken,
		Timeout:    cfg.EvidenceTimeout(),
		RetryCount: cfg.EvidenceRetryCount,
	}, logger)
}

// newAlertSink selects the alert backend. Without an alerting service
// deviations still land in the marker table and the log.
func newAlertSink(cfg *config.Config, logger zerolog.Logger) deviation.AlertSink {
	if cfg.AlertBaseURL == "" {
		return deviation.NewLogSink(logger)
	}
	return deviation.NewRESTSink(deviation.RESTSinkConfig{
		BaseURL: cfg.AlertBaseURL,
		Token:   cfg.AlertToken,
		Timeout: 10 * time.Second,
	}, logger)
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName: "bundlewatch",
		Environment: cfg.Env,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.Sanitize())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(tp.MetricsMiddleware())

	// Auth middleware
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, all requests run as admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health and metrics endpoints
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "bundlewatch",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	// Bundle catalog
	catalog := bundle.DefaultCatalog()
	bundleHandler := bundle.NewHandler(catalog)
	bundleHandler.RegisterRoutes(apiV1)

	// Episode domain
	episodeRepo := episode.NewEpisodeRepoPG(pool)
	resultRepo := episode.NewElementResultRepoPG(pool)
	episodeSvc := episode.NewService(episodeRepo, resultRepo, catalog, pool, logger)
	episodeHandler := episode.NewHandler(episodeSvc)
	episodeHandler.RegisterRoutes(apiV1)

	// Deviation domain
	markerRepo := deviation.NewMarkerRepoPG(pool)
	ledger := deviation.NewLedger(markerRepo, newAlertSink(cfg, logger), logger)
	deviationSvc := deviation.NewService(markerRepo)
	deviationHandler := deviation.NewHandler(deviationSvc)
	deviationHandler.RegisterRoutes(apiV1)

	// Compliance reporting
	complianceSvc := compliance.NewService(episodeRepo, catalog, logger)
	complianceHandler := compliance.NewHandler(complianceSvc)
	complianceHandler.RegisterRoutes(apiV1)

	// Evaluation engine - periodic loop plus the manual trigger endpoint
	source := newEvidenceSource(cfg, logger)
	evaluator := engine.NewEvaluator(episodeRepo, resultRepo, catalog, source, ledger, tp, logger)
	runner := engine.NewRunner(evaluator, tp.HealthMetrics(), logger)
	runner.Interval = cfg.EvalInterval()
	engineHandler := engine.NewHandler(runner)
	engineHandler.RegisterRoutes(apiV1)

	evalCtx, evalCancel := context.WithCancel(ctx)
	defer evalCancel()
	go runner.Start(evalCtx)

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

// runOneCycle evaluates every active episode once and prints the cycle
// stats. Intended for cron-style deployments that do not keep the server
// process running.
func runOneCycle() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	catalog := bundle.DefaultCatalog()
	episodeRepo := episode.NewEpisodeRepoPG(pool)
	resultRepo := episode.NewElementResultRepoPG(pool)
	markerRepo := deviation.NewMarkerRepoPG(pool)
	ledger := deviation.NewLedger(markerRepo, newAlertSink(cfg, logger), logger)
	source := newEvidenceSource(cfg, logger)

	evaluator := engine.NewEvaluator(episodeRepo, resultRepo, catalog, source, ledger, nil, logger)
	stats, err := evaluator.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("evaluation cycle failed: %w", err)
	}

	fmt.Printf("Evaluated %d episode(s): %d completed, %d still active, %d deviation(s), %d error(s).\n",
		stats.Episodes, stats.Completed, stats.StillActive, stats.Deviations, stats.Errors)
	return nil
}
