package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"parley/config"
	"parley/internal/api"
	"parley/internal/cache"
	"parley/internal/chat"
	"parley/internal/database"
	"parley/internal/indexer"
	"parley/internal/presence"
	"parley/internal/realtime"
	"parley/internal/search"
	"parley/internal/user"
	"parley/pkg/jwt"
)

const queueName = "message-embedding"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		slog.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		slog.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	tokens := jwt.NewJWT(cfg.JWTSecret, cfg.JWTExpiry)
	users := user.NewService(db, tokens)

	chatRepo := chat.NewRepository(db)
	chats := chat.NewService(chatRepo)

	directory := presence.NewDirectory()
	hub := realtime.NewHub(users, chats, directory, cfg.HandshakeWindow)

	embedder, err := indexer.NewEmbeddingService(&indexer.EmbeddingConfig{
		APIKey:  cfg.EmbeddingAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
	}, redisCache)
	if err != nil {
		slog.Error("failed to create embedding service", "err", err)
		os.Exit(1)
	}

	index := search.NewIndex(db)
	searchGW := search.NewGateway(embedder, index, chats)

	queue := indexer.NewQueue(redisCache.Client, queueName, cfg.QueueAttempts, cfg.QueueBackoff)
	relay := indexer.NewRelay(db, queue, cfg.RelayInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Requeue jobs a previous process claimed but never acknowledged.
	if requeued, err := queue.Recover(ctx); err != nil {
		slog.Error("failed to recover stalled jobs", "err", err)
	} else if requeued > 0 {
		slog.Info("requeued stalled jobs", "count", requeued)
	}

	go relay.Run(ctx)
	for i := 0; i < cfg.IndexWorkers; i++ {
		worker := indexer.NewWorker(queue, chatRepo, embedder, index)
		go worker.Run(ctx)
	}

	server := api.NewServer(users, chats, searchGW, hub)
	slog.Info("server starting", "port", cfg.Port)
	if err := server.Run(":" + cfg.Port); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}
