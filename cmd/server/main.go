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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/searchable-pdf/api/handlers"
	"github.com/feichai0017/searchable-pdf/api/routes"
	"github.com/feichai0017/searchable-pdf/config"
	"github.com/feichai0017/searchable-pdf/internal/service/job"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/queue"
	"github.com/feichai0017/searchable-pdf/pkg/storage/local"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}

	// init logger
	log, err := logger.NewLogger(logger.WithConfig(cfg.Logger))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal("Failed to create directories", logger.Error(err))
	}

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

	inbox, err := local.NewLocalStorage(cfg.Layout.InputDir, log)
	if err != nil {
		log.Fatal("Failed to open input directory", logger.Error(err))
	}
	results, err := local.NewLocalStorage(cfg.Layout.FinalDir, log)
	if err != nil {
		log.Fatal("Failed to open final directory", logger.Error(err))
	}
	v := validator.NewDocumentValidator(log, &validator.ValidatorConfig{
		MaxFileSize:  cfg.Validator.MaxFileSize,
		AllowedTypes: validator.DefaultConfig().AllowedTypes,
		DeepCheck:    cfg.Validator.DeepCheck,
	})
	jobs := job.NewService(q, nil, inbox, results, v, job.Config{
		InputDir:      cfg.Layout.InputDir,
		DefaultLevels: cfg.Levels.Adjustment(),
		Priority:      2,
	}, log)

	// init handlers
	h := handlers.NewHandlers(jobs, cfg.Server.MaxUploadSize, log)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
