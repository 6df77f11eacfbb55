// Command server is the AgeGate HTTP API. It validates submissions, queues
// them for the worker and reports run status and progress.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/api"
	"github.com/dharsanguruparan/AgeGate/internal/auth"
	"github.com/dharsanguruparan/AgeGate/internal/config"
	"github.com/dharsanguruparan/AgeGate/internal/database"
	"github.com/dharsanguruparan/AgeGate/internal/events"
	"github.com/dharsanguruparan/AgeGate/internal/logger"
	"github.com/dharsanguruparan/AgeGate/internal/queue"
	"github.com/dharsanguruparan/AgeGate/internal/repository"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
	"github.com/dharsanguruparan/AgeGate/internal/s3storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGEGATE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	repo := repository.NewVerifiedDocumentRepository(pool, log)

	store, err := s3storage.New(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	runStore := runs.NewRedisStore(rdb, cfg.Runs.TTL)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	// A run may spend its full OCR and upload budgets plus the record write.
	dispatcher := queue.NewClient(queueClient, inspector, cfg.OCR.Timeout+cfg.Upload.Timeout+time.Minute)

	bus, err := events.NewNATSBus(cfg.NATS.URL, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	srv := api.New(api.Options{
		Address:         cfg.Server.Address,
		MaxFileBytes:    cfg.Server.MaxFileBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		SignedURLTTL:    cfg.SignedURLTTL,
	}, dispatcher, runStore, bus, repo, store, tokens, log)

	log.Info("starting api", zap.String("address", cfg.Server.Address))
	return srv.Run(ctx)
}
