package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/searchable-pdf/config"
	"github.com/feichai0017/searchable-pdf/internal/pipeline"
	"github.com/feichai0017/searchable-pdf/internal/service/job"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
	"github.com/feichai0017/searchable-pdf/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.NewLogger(logger.WithConfig(cfg.Logger))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.EnsureDirs(); err != nil {
		log.Error("Failed to create directories", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, cleanup, err := pipeline.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build pipeline", logger.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	q := queue.NewAsynqQueue(&queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		MaxRetry:      cfg.Queue.MaxRetry,
		Timeout:       cfg.Queue.Timeout,
		Retention:     cfg.Queue.Retention,
	}, queue.NewRedisStatusStore(rdb, cfg.Queue.StatusTTL), log)
	defer q.Close()

	jobs := job.NewService(q, runner, nil, nil, nil, job.Config{InputDir: cfg.Layout.InputDir}, log)

	pipelineWorker := worker.NewPipelineWorker(&worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Queue.Concurrency,
		Queues:        queue.Queues,
	}, jobs, log)

	if err := pipelineWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", cfg.Queue.Concurrency))

	if cfg.Publish.Retention > 0 {
		go prunePublished(ctx, runner, cfg.Publish.Retention, log)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	pipelineWorker.Stop()
	log.Info("Worker stopped")
}

// prunePublished drops expired published documents at startup and then hourly.
func prunePublished(ctx context.Context, runner *pipeline.Runner, retention time.Duration, log logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := runner.Prune(ctx, retention); err != nil {
			log.Warn("Failed to prune published documents", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
