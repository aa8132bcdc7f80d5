package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inkwell/api/internal/app"
	"inkwell/api/internal/assistant"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/logging"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := logging.New(logging.Config{JSON: cfg.LogJSON})

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.GitRoot, 0o755); err != nil {
		log.Fatalf("failed to create git root: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.GitRoot)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	go searchService.ReindexAllFromPG(ctx)

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailService.IsConfigured() {
		logger.Warn("smtp not configured, verification and reset tokens are returned in API responses")
	}

	deps := app.Deps{
		Store:  dataStore,
		Auth:   authpw.NewService(dataStore, cfg.StartingCredits),
		Git:    gitService,
		Search: searchService,
		Mail:   mailService,
		Logger: logger,
	}

	// Refresh sessions live in Redis; an unreachable Redis falls back to
	// the sessions table so a cache outage never blocks sign-in.
	if redisStore, err := session.NewRedisStore(cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, storing refresh sessions in postgres", "error", err)
		deps.Sessions = dataStore
	} else {
		defer redisStore.Close()
		deps.Sessions = redisStore
	}

	if cfg.MinioEndpoint != "" {
		objects, err := storage.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		deps.Objects = objects
	} else {
		logger.Info("object storage not configured, background uploads disabled")
	}

	if cfg.AssistantConfigured() {
		client := assistant.NewClient(cfg.AssistantBaseURL(), cfg.AIAPIKey, cfg.ChatModel, cfg.EmbedModel)
		deps.Assistant = assistant.NewService(dataStore, client, logger, assistant.Options{
			Budget: assistant.TokenBudget{
				MaxContext:     cfg.MaxContextTokens,
				ReservedOutput: cfg.ReservedOutputTokens,
			},
			TopK:        cfg.RetrieveTopK,
			ChunkTokens: cfg.ChunkTokenLimit,
		})
	} else {
		logger.Info("no AI endpoint or API key, assistant disabled")
	}

	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service)
	// No WriteTimeout here: the 30s write budget is a per-request
	// deadline in the HTTP middleware, which exempts export renders.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("inkwell api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
