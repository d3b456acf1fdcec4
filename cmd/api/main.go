package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"printgate/docs"
	"printgate/internal/clock"
	"printgate/internal/config"
	"printgate/internal/convert"
	"printgate/internal/database"
	"printgate/internal/database/migration"
	"printgate/internal/enhance"
	handlers "printgate/internal/http/handler"
	"printgate/internal/http/middleware"
	"printgate/internal/logger"
	tracing "printgate/internal/otel"
	"printgate/internal/repository/postgres"
	"printgate/internal/service"
	"printgate/internal/storage"
	"printgate/internal/watermark"
)

// @title Printgate API
// @version 1.0
// @description Quota-limited, watermarked document printing.
// @BasePath /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var runMigrations bool

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()
		return runServer(cmd.Context(), cfg, log, runMigrations)
	}

	rootCmd := &cobra.Command{
		Use:          "api",
		Short:        "printgate secure print service",
		SilenceUsage: true,
		RunE:         serve,
	}
	rootCmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply schema migrations before serving")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE:  serve,
	}
	serveCmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply schema migrations before serving")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.NewPostgres(cmd.Context(), cfg.Database, log)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			return migration.EnsureMigrated(cmd.Context(), db, log, cfg.Database.Host)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	return rootCmd
}

// bootstrap loads configuration from environment variables (.env auto-loaded
// if present) and builds the process logger.
func bootstrap() (*config.AppConfig, *zap.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log), nil
}

func runServer(parent context.Context, cfg *config.AppConfig, log *zap.Logger, runMigrations bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if runMigrations {
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Read-only S3-compatible object storage client (MinIO or AWS SDK)
	objStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	// One traced outbound client for the conversion and enhancement delegates;
	// per-call deadlines come from each component's timeout.
	httpClient := tracing.NewHTTPClient(0)
	defer httpClient.CloseIdleConnections()

	converter, closeConverter := newConverter(cfg.Normalizer, httpClient, log)
	defer closeConverter()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	printSvc := service.NewPrintService(service.Dependencies{
		Grants:           postgres.NewGrantPostgres(db),
		PrintLogs:        postgres.NewPrintLogPostgres(db),
		Store:            objStore,
		Normalizer:       convert.NewNormalizer(converter, log).WithTimeout(cfg.Normalizer.Timeout),
		Enhancer:         enhance.NewProxy(cfg.Enhancer, httpClient, log),
		Stamper:          watermark.NewCompositor(log),
		Clock:            clock.System{},
		Metrics:          metrics,
		Logger:           log,
		DefaultWatermark: cfg.Watermark.DefaultText,
		MaxObjectBytes:   cfg.Storage.MaxObjectBytes,
		StorageTimeout:   cfg.Storage.Timeout,
		LedgerTimeout:    cfg.Database.QueryTimeout,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// Structured request logs through zap
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())
	app.Use(middleware.CORS(cfg.CORSOrigins))

	handlers.RegisterRoutes(app, db, printSvc, middleware.Authenticate(cfg.Auth.JWTSecret))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr), zap.String("normalizer", cfg.Normalizer.Driver),
			zap.String("storage", cfg.Storage.Driver), zap.Bool("enhancer_enabled", cfg.Enhancer.Enabled))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error("tracer shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// newConverter picks the SVG conversion delegate. The returned func releases
// any browser connection.
func newConverter(cfg config.NormalizerConfig, client *http.Client, log *zap.Logger) (convert.Converter, func()) {
	if cfg.Driver == "chromium" {
		c := convert.NewChromium(cfg.ChromeURL, log)
		return c, func() { _ = c.Close() }
	}
	return convert.NewGotenberg(cfg.Endpoint, client), func() {}
}
