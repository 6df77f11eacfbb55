// Command worker executes queued verification runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/AgeGate/internal/config"
	"github.com/dharsanguruparan/AgeGate/internal/database"
	"github.com/dharsanguruparan/AgeGate/internal/events"
	"github.com/dharsanguruparan/AgeGate/internal/logger"
	"github.com/dharsanguruparan/AgeGate/internal/metrics"
	"github.com/dharsanguruparan/AgeGate/internal/ocr"
	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
	"github.com/dharsanguruparan/AgeGate/internal/repository"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
	"github.com/dharsanguruparan/AgeGate/internal/s3storage"
	"github.com/dharsanguruparan/AgeGate/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGEGATE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
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
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	runStore := runs.NewRedisStore(rdb, cfg.Runs.TTL)

	bus, err := events.NewNATSBus(cfg.NATS.URL, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	processor := worker.NewProcessor(runStore, bus, log)
	orch := pipeline.New(
		ocr.NewAdapter(ocr.NewTesseract(cfg.Worker.Concurrency), log),
		store,
		pipeline.NewRecorder(repo, time.Now, log),
		pipeline.Options{
			Language:       cfg.OCR.Language,
			ExtractTimeout: cfg.OCR.Timeout,
			UploadTimeout:  cfg.Upload.Timeout,
			Observer:       processor,
			Metrics:        m,
		},
		log,
	)
	processor.Bind(orch)

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      log.Sugar(),
	})

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(processor.Handler()); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}
		log.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		log.Info("metrics listening", zap.String("address", cfg.Worker.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
