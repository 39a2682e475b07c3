package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource/mssql"    // register mssql dialect
	_ "github.com/ekaya-inc/ekaya-agent/pkg/adapters/datasource/postgres" // register postgres dialect
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/repository"
	"github.com/ekaya-inc/ekaya-agent/pkg/adapters/websearch"
	"github.com/ekaya-inc/ekaya-agent/pkg/audit"
	"github.com/ekaya-inc/ekaya-agent/pkg/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/cache"
	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/crypto"
	"github.com/ekaya-inc/ekaya-agent/pkg/database"
	"github.com/ekaya-inc/ekaya-agent/pkg/handlers"
	"github.com/ekaya-inc/ekaya-agent/pkg/llm"
	"github.com/ekaya-inc/ekaya-agent/pkg/logging"
	"github.com/ekaya-inc/ekaya-agent/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-agent/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-agent/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-agent/pkg/middleware"
	"github.com/ekaya-inc/ekaya-agent/pkg/repositories"
	"github.com/ekaya-inc/ekaya-agent/pkg/services"
)

const (
	shutdownTimeout   = 30 * time.Second
	limiterPruneEvery = 5 * time.Minute
)

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("web_search", cfg.WebSearch.IsAvailable()))

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.StdDB(), logger); err != nil {
		return err
	}

	readCache, closeCache, err := openReadCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.ProjectCredentialsKey)
	if err != nil {
		return fmt.Errorf("invalid credentials key: %w", err)
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTL:                cfg.Datasource.ConnectionTTL,
		MaxPoolsPerProject: cfg.Datasource.MaxPoolsPerProject,
		PoolMaxConns:       cfg.Datasource.PoolMaxConns,
		PoolMinConns:       cfg.Datasource.PoolMinConns,
	}, logger.Named("connections"))
	defer func() {
		if err := connMgr.Close(); err != nil {
			logger.Warn("Failed to close target connections", zap.Error(err))
		}
	}()

	app, err := buildServices(ctx, cfg, readCache, encryptor, connMgr, logger)
	if err != nil {
		return err
	}

	sweepInterrupted(ctx, db, app.engine, logger)

	jwks, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWKS: %w", err)
	}
	defer jwks.Close()
	authService := auth.NewAuthService(jwks, logger)

	limiter := middleware.NewRateLimiter(cfg.Agent.TurnsPerMinute, cfg.Agent.TurnBurst, logger.Named("ratelimit"))
	mux := registerRoutes(cfg, db, app, authService, limiter, connMgr, logger)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ekaya-agent", zap.String("addr", server.Addr), zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Prune(); n > 0 {
					logger.Debug("Pruned idle rate limiters", zap.Int("count", n))
				}
			}
		}
	})

	return g.Wait()
}

// application holds the services the HTTP and MCP surfaces are built on.
type application struct {
	projects     services.ProjectService
	settings     services.UserSettingsService
	memory       services.MemoryService
	actions      services.ActionService
	chat         services.AgentChatService
	engine       services.ExecutionEngine
	capabilities services.CapabilityService
	webSearch    bool
}

func buildServices(
	ctx context.Context,
	cfg *config.Config,
	readCache cache.ReadCache,
	encryptor *crypto.CredentialEncryptor,
	connMgr *datasource.ConnectionManager,
	logger *zap.Logger,
) (*application, error) {
	projectRepo := repositories.NewProjectRepository()
	settingsRepo := repositories.NewUserSettingsRepository()
	chatRepo := repositories.NewChatTurnRepository()
	pendingRepo := repositories.NewPendingActionRepository()
	invocationRepo := repositories.NewToolInvocationRepository()
	memoryRepo := repositories.NewMemoryRepository()

	auditor := audit.NewSecurityAuditor(logger)
	vault := services.NewCredentialVault(encryptor, projectRepo, settingsRepo, auditor, logger)
	llmFactory := llm.NewClientFactory(&cfg.LLM, vault, logger.Named("llm"))
	opener := datasource.NewOpener(connMgr)

	httpClient := &http.Client{Timeout: cfg.Agent.AdapterTimeout}
	host, err := repository.NewGitHubHost(cfg.GitHub.BaseURL, httpClient, logger)
	if err != nil {
		return nil, err
	}

	var searcher websearch.Searcher
	if cfg.WebSearch.IsAvailable() {
		gemini, err := websearch.NewGeminiSearcher(ctx, &cfg.WebSearch, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize web search: %w", err)
		}
		searcher = gemini
	}

	branch := cfg.GitHub.DefaultBranch
	capabilities := services.NewCapabilityService(services.CapabilityDeps{
		Vault:       vault,
		Host:        host,
		Opener:      opener,
		Searcher:    searcher,
		Cache:       readCache,
		MemoryRepo:  memoryRepo,
		Invocations: invocationRepo,
	}, &cfg.Agent, branch, logger)
	synthesizer := services.NewResponseSynthesizer(llmFactory, cfg.Agent.SynthesisTimeout, logger)

	return &application{
		projects: services.NewProjectService(projectRepo, vault, readCache, connMgr, logger),
		settings: services.NewUserSettingsService(settingsRepo, vault, logger),
		memory:   services.NewMemoryService(memoryRepo),
		actions:  services.NewActionService(pendingRepo),
		chat: services.NewAgentChatService(services.AgentChatDeps{
			ProjectRepo:  projectRepo,
			ChatRepo:     chatRepo,
			MemoryRepo:   memoryRepo,
			Router:       services.NewIntentRouter(llmFactory, invocationRepo, cfg.Agent.RouterTimeout, logger),
			Capabilities: capabilities,
			Proposals:    services.NewActionProposalBuilder(pendingRepo, invocationRepo, llmFactory, readCache, auditor, cfg.Agent.ProposalTimeout, branch, logger),
			Synthesizer:  synthesizer,
		}, cfg.LLM.MaxHistoryTurns, cfg.Agent.MaxMemoryEntries, logger),
		engine: services.NewExecutionEngine(services.ExecutionDeps{
			PendingRepo: pendingRepo,
			ChatRepo:    chatRepo,
			MemoryRepo:  memoryRepo,
			Invocations: invocationRepo,
			Vault:       vault,
			Opener:      opener,
			Host:        host,
			LLMFactory:  llmFactory,
			Synthesizer: synthesizer,
			Cache:       readCache,
			Auditor:     auditor,
		}, &cfg.Agent, branch, logger),
		capabilities: capabilities,
		webSearch:    searcher != nil,
	}, nil
}

// openReadCache connects the Redis read cache, or returns a no-op cache when
// Redis is not configured.
func openReadCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.ReadCache, func(), error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		logger.Info("Redis not configured, read cache disabled")
		return cache.NoopCache{}, func() {}, nil
	}
	return cache.NewRedisCache(client, cfg.Redis.TTL, logger), func() { _ = client.Close() }, nil
}

// sweepInterrupted fails actions a previous process left executing.
func sweepInterrupted(ctx context.Context, db *database.DB, engine services.ExecutionEngine, logger *zap.Logger) {
	sweepCtx, cleanup, err := database.NewTenantScopeProvider(db).WithoutTenantScope(ctx)
	if err != nil {
		logger.Error("Failed to acquire connection for interrupted action sweep", zap.Error(err))
		return
	}
	defer cleanup()

	n, err := engine.SweepInterrupted(sweepCtx)
	if err != nil {
		logger.Error("Interrupted action sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Warn("Marked interrupted actions as failed", zap.Int64("count", n))
	}
}

func registerRoutes(
	cfg *config.Config,
	db *database.DB,
	app *application,
	authService auth.AuthService,
	limiter *middleware.RateLimiter,
	connMgr *datasource.ConnectionManager,
	logger *zap.Logger,
) *http.ServeMux {
	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(authService, logger)
	projectScope := handlers.TenantMiddleware(database.WithProjectScope(db, "pid", logger))
	userScope := handlers.TenantMiddleware(database.WithUserScope(db, logger))
	throttle := handlers.TenantMiddleware(limiter.Middleware)

	handlers.NewHealthHandler(cfg, connMgr, logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(app.projects, logger).RegisterRoutes(mux, authMiddleware, userScope, projectScope)
	handlers.NewSettingsHandler(app.settings, logger).RegisterRoutes(mux, authMiddleware, userScope)
	handlers.NewMemoryHandler(app.memory, logger).RegisterRoutes(mux, authMiddleware, projectScope)
	handlers.NewAgentChatHandler(app.chat, logger).RegisterRoutes(mux, authMiddleware, projectScope, throttle)
	handlers.NewActionsHandler(app.actions, app.engine, logger).RegisterRoutes(mux, authMiddleware, projectScope)

	mcpServer := mcp.NewServer("ekaya-agent", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	tools.RegisterCapabilityTools(mcpServer.MCP(), &tools.CapabilityToolDeps{
		Capabilities:     app.capabilities,
		WebSearchEnabled: app.webSearch,
		Logger:           logger.Named("mcp-tools"),
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger), projectScope)

	return mux
}
