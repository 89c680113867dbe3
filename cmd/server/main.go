// Arena chat server: multi-model chat front-end over warehouse AI functions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hjgyhfyh/site/internal/api"
	"github.com/Hjgyhfyh/site/internal/catalog"
	"github.com/Hjgyhfyh/site/internal/completion"
	"github.com/Hjgyhfyh/site/internal/config"
	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/Hjgyhfyh/site/internal/metrics"
	"github.com/Hjgyhfyh/site/internal/middleware"
	"github.com/Hjgyhfyh/site/internal/presence"
	"github.com/Hjgyhfyh/site/internal/session"
	"github.com/Hjgyhfyh/site/internal/statement"
	"github.com/Hjgyhfyh/site/internal/store"
	"github.com/Hjgyhfyh/site/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	metrics.Init()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", cfg.AppVersion, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	if n, err := repo.CountUsers(ctx); err == nil {
		slog.Info("Store ready", "users", n)
	}

	models := catalog.New(catalog.Config{
		ModelFiles:          cfg.Catalog.ModelFiles,
		DefaultModels:       cfg.Catalog.DefaultModels,
		AgentsFile:          cfg.Catalog.AgentsFile,
		PromptsDir:          cfg.Catalog.PromptsDir,
		MaxAgentPromptChars: cfg.Prompt.MaxAgentPromptChars,
	}, logger)

	secret := session.LoadSecret(cfg.Auth.Secret, cfg.Auth.SecretFile, logger)
	sessions, err := session.NewStore(ctx, repo, session.Config{Secret: secret, TTL: cfg.Auth.SessionTTL}, logger)
	if err != nil {
		slog.Error("Failed to load sessions", "error", err)
		os.Exit(1)
	}

	tracker := presence.NewTracker(cfg.Presence.Window, logger)
	tracker.SetLiveSet(sessions)
	sessions.OnRemove(tracker.Forget)

	if !cfg.HasSnowflakeCredentials() {
		slog.Error("Snowflake credentials missing; chat requests will fail",
			"need", "SNOWFLAKE_ACCOUNT_IDENTIFIER and SNOWFLAKE_PAT")
	}
	stmtCfg := statement.DefaultConfig()
	stmtCfg.Host = cfg.SnowflakeHost()
	stmtCfg.Token = cfg.Snowflake.PAT
	stmtCfg.Role = cfg.Snowflake.Role
	stmtCfg.Warehouse = cfg.Snowflake.Warehouse
	stmtCfg.StatementTimeout = cfg.Snowflake.StatementTimeout
	stmtCfg.PollInterval = cfg.Snowflake.PollInterval
	stmtCfg.PollSlack = cfg.Snowflake.PollSlack
	stmtCfg.HTTPTimeout = cfg.Snowflake.HTTPTimeout
	executor := statement.NewClient(stmtCfg, nil, logger)

	router := completion.NewRouter(executor, models, completion.Config{
		MaxPromptTokens:            cfg.Prompt.MaxPromptTokens,
		MaxCustomInstructionsChars: cfg.Prompt.MaxCustomInstructionsChars,
		OperationTimeout:           cfg.Snowflake.OperationTimeout,
	}, logger)

	auth := identity.NewAuthenticator(sessions, repo, tracker, cfg.Auth.SessionTTL, cfg.IsDevelopment())
	chatLimiter := middleware.NewRateLimiter(cfg.RateLimit.ChatRPS, cfg.RateLimit.ChatBurst, identity.ClientKey)
	authLimiter := middleware.NewRateLimiter(cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst, identity.ClientKey)

	handler := api.NewHandler(api.Deps{
		Users:          repo,
		Chats:          repo,
		Storage:        repo,
		Sessions:       sessions,
		Auth:           auth,
		Presence:       tracker,
		Catalog:        models,
		Router:         router,
		AuthLimit:      authLimiter.Middleware,
		ChatLimit:      chatLimiter.Middleware,
		AdminUser:      cfg.Presence.AdminUser,
		Keepalive:      cfg.Presence.Keepalive,
		AppVersion:     cfg.AppVersion,
		StartedAt:      time.Now(),
		AllowedOrigins: cfg.CORSOrigins,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.NoStore)

	r.Handle("/metrics", metrics.Handler())
	handler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Model calls may legitimately run for the whole operation budget, and the
	// online-count stream never ends, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sessions.Run(gctx, cfg.Auth.SweepInterval)
	})
	g.Go(func() error {
		return tracker.Run(gctx, cfg.Auth.SweepInterval, sessions)
	})
	g.Go(func() error {
		if err := models.Watch(gctx); err != nil {
			slog.Warn("Catalog watcher disabled", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// openStore returns the configured persistence backend.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Repository, error) {
	if cfg.StoreDriver == "sqlite" {
		return store.NewSQLite(cfg.DBPath, cfg.Catalog.LegacyChats)
	}
	return store.NewJSON(cfg.DataDir, cfg.Catalog.LegacyChats, logger)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
