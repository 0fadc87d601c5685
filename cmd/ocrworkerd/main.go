package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fieldline/crm-ocr/internal/common"
	"github.com/fieldline/crm-ocr/internal/logging"
	"github.com/fieldline/crm-ocr/internal/metrics"
	"github.com/fieldline/crm-ocr/internal/ocr"
	"github.com/fieldline/crm-ocr/internal/orchestrator"
	"github.com/fieldline/crm-ocr/internal/parse"
	"github.com/fieldline/crm-ocr/internal/preprocess"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
	"github.com/fieldline/crm-ocr/internal/sweep"
	"github.com/fieldline/crm-ocr/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	jobStore := store.NewJobStore(db, logger)

	var q queue.Queue
	switch cfg.Queue.Backend {
	case "rabbitmq":
		q, err = queue.NewRabbit(queue.RabbitConfig{
			URL:           cfg.Queue.AMQPURL,
			QueueName:     cfg.Queue.QueueName,
			PrefetchCount: cfg.Worker.Concurrency * 2,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to queue", "error", err)
			os.Exit(1)
		}
	default:
		q = queue.NewMemory(cfg.Queue.Size, logger)
	}
	defer q.Close()

	engine := ocr.NewTesseractEngine(ocr.Config{
		Tesseract:     cfg.OCR.Tesseract,
		Languages:     cfg.OCR.Languages,
		TessdataDir:   cfg.OCR.TessdataDir,
		PSM:           cfg.OCR.PSM,
		OEM:           cfg.OCR.OEM,
		MinTextLength: cfg.OCR.MinTextLength,
	}, logger)

	orch := orchestrator.New(
		orchestrator.Config{
			Concurrency:  cfg.Worker.Concurrency,
			JobTimeout:   cfg.Worker.JobTimeout,
			RetryBackoff: cfg.Worker.RetryBackoff,
			BatchSize:    cfg.Worker.BatchSize,
		},
		jobStore, q,
		validate.Limits{
			MaxFileBytes: cfg.Validation.MaxFileBytes,
			MinDimension: cfg.Validation.MinDimension,
			MaxDimension: cfg.Validation.MaxDimension,
		},
		preprocess.New(preprocess.Config{}, logger),
		engine,
		parse.NewExtractor(logger),
		logger,
	)

	var lock *sweep.LeaderLock
	if cfg.Sweep.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Sweep.RedisAddr,
			Password: cfg.Sweep.RedisPassword,
		})
		defer rdb.Close()
		lock, err = sweep.NewLeaderLock(rdb, "ocr:lock:sweep", cfg.Sweep.LockTTL)
		if err != nil {
			logger.Error("failed to build sweep lock", "error", err)
			os.Exit(1)
		}
	}
	sweeper := sweep.New(sweep.Config{
		Interval:     cfg.Sweep.Interval,
		StaleAfter:   cfg.Sweep.StaleAfter,
		PendingAfter: cfg.Sweep.PendingAfter,
		Retention:    cfg.Sweep.FileRetention,
		RemoveFiles:  cfg.Sweep.RemoveFiles,
	}, jobStore, q, lock, logger)

	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, logger)
	go metricsSrv.Start()

	if err := orch.Start(ctx); err != nil {
		logger.Error("orchestrator start failed", "error", err)
		os.Exit(1)
	}
	go sweeper.Run(ctx)

	logger.Info("worker daemon up",
		"concurrency", cfg.Worker.Concurrency,
		"queue_backend", cfg.Queue.Backend,
		"metrics_addr", cfg.Metrics.Addr,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown failed", "error", err)
	}
	logger.Info("bye")
}
