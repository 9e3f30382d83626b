package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"caseflow/backend/internal/api"
	"caseflow/backend/internal/auth"
	"caseflow/backend/internal/config"
	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/mcp"
	"caseflow/backend/internal/projection"
	"caseflow/backend/internal/repository"
	"caseflow/backend/internal/seed"
	"caseflow/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting Case Workflow Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	store := repository.NewPostgresStore(dbPool)

	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to run migrations: %v", err)
		log.Fatalf("Migration failed: %v", err)
	}

	// Seed the workflow template at boot, not lazily in request handlers.
	if _, err := seed.EnsureDefaultTemplate(ctx, store, logger); err != nil {
		logger.Error("Failed to seed workflow template: %v", err)
		log.Fatalf("Template seeding failed: %v", err)
	}

	// Initialize the workflow engine and its read projections
	eng := engine.New(store, logger, cfg.Workflow.ProgramKey,
		engine.WithMaxOverrides(cfg.Workflow.MaxOverrides),
		engine.WithMilestones(seed.Milestones()),
	)
	projector := projection.NewProjector(store, eng, logger, cfg.Workflow.ProgramKey)

	logger.Info("Workflow engine initialized program=%s cap=%d", cfg.Workflow.ProgramKey, cfg.Workflow.MaxOverrides)

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("caseflow"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth: %v", err)
		log.Fatalf("auth initialization failed: %v", err)
	}

	e.GET("/login", authz.LoginHandler)
	e.GET("/auth/callback", authz.CallbackHandler)

	// Mount REST API handlers
	apiServer := api.NewServer(store, eng, projector, logger, cfg.Workflow.DefaultSLADays)
	e.GET("/health", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.Middleware())
	apiServer.Register(apiGroup, auth.RequireRoles("admin", "audit_steward"))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(eng, projector, cfg.Workflow.DefaultSLADays)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := cfg.Server.Addr
	if cfg.TLS.Enable {
		addr = cfg.Server.TLSAddr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting address=%s tls=%v", addr, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
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
