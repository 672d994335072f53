package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"workflow-provisioner/internal/api"
	"workflow-provisioner/internal/auth"
	"workflow-provisioner/internal/config"
	"workflow-provisioner/internal/gateway"
	"workflow-provisioner/internal/logging"
	"workflow-provisioner/internal/mcp"
	"workflow-provisioner/internal/repository"
	"workflow-provisioner/internal/services"
	"workflow-provisioner/internal/telemetry"
	"workflow-provisioner/internal/templates"
	"workflow-provisioner/internal/tls"
)

func newServeCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply database migrations before serving")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, autoMigrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("Starting Workflow Provisioner",
		"version", version,
		"environment", cfg.Environment,
		"github_base_url", cfg.GitHub.BaseURL,
		"db_enabled", cfg.DB.Enabled,
	)
	if cfg.IsDev() && cfg.DevModeBypass {
		logger.Warn("Auth bypass is enabled; every request acts as the dev principal")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()
	if cfg.Telemetry.Enabled {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	var sink repository.Sink = repository.NoopSink{}
	if cfg.DB.Enabled {
		if autoMigrate {
			if err := repository.Migrate(cfg.DatabaseURL()); err != nil {
				return err
			}
			logger.Info("Migrations applied")
		}
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer dbPool.Close()
		sink = repository.NewPostgresStore(dbPool)
		logger.Info("Database connected")
	} else {
		logger.Info("Database disabled, audit records are discarded")
	}

	registry, err := templates.Default()
	if err != nil {
		return fmt.Errorf("template catalog is invalid: %w", err)
	}

	svc := services.NewProvisioningService(
		gateway.NewGitHubFactory(cfg.GitHub.BaseURL),
		registry,
		sink,
		logger.With("component", "provisioning"),
		services.Options{
			Branch:       cfg.GitHub.DefaultBranch,
			WebURL:       cfg.GitHub.WebURL,
			SettleDelay:  cfg.GitHub.SettleDelay,
			RunPageSize:  cfg.GitHub.RunPageSize,
			RepoPageSize: cfg.GitHub.RepoPageSize,
		},
	)
	logger.Info("Service layer initialized", "templates", registry.Len())

	authz := auth.New(cfg, logger.With("component", "auth"))

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("workflow-provisioner"))
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{Output: logger.Writer()}))

	e.GET("/health", api.NewHandler(sink, version).HandleHealth)
	e.GET("/openapi.yaml", api.SpecHandler)
	e.GET("/docs", api.SwaggerHandler("/openapi.yaml"))

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1", authz.Middleware())
	api.NewServer(svc, logger).Register(apiGroup)
	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(svc, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer(), authz.HTTPContext)
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.TLS.Enable {
		generated, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("tls setup failed: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
	}

	// Let in-flight audit writes finish before the pool closes.
	svc.Drain()
	logger.Info("Server stopped gracefully")
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "name", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
