package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"scangate/internal/api"
	"scangate/internal/config"
	"scangate/internal/database"
	"scangate/internal/logging"
	"scangate/internal/poller"
	pgrepo "scangate/internal/repository/postgres"
	"scangate/internal/scanner"
	"scangate/internal/service"
	"scangate/internal/storage"
	"scangate/internal/storage/local"
	"scangate/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New()
	logger.Info("配置加载完成，开始启动服务")

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Error("连接数据库失败", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	repo := pgrepo.NewUploadRepository(db)

	var public storage.Storage
	switch cfg.StorageDriver {
	case "s3":
		public, err = s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
			BaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			logger.Error("初始化 S3 存储失败", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		public = local.New(cfg.StorageDir, cfg.PublicBaseURL)
	}

	// 隔离区永远在本地：提交后、发布前的字节不进公共存储
	staging := local.New(cfg.StagingDir, "")

	scanClient := scanner.NewHTTPClient(cfg.ScannerBaseURL, cfg.ScannerAPIKey)

	quota := &service.RepoQuota{Repo: repo, MaxBytes: cfg.DefaultQuotaBytes}
	uploads := service.NewUploads(repo, scanClient, public, staging, quota, cfg.PublicBaseURL, logger)

	pool := poller.New(poller.Config{
		Interval:    cfg.ScanPollInterval,
		MaxAttempts: cfg.ScanPollMaxAttempts,
		Workers:     cfg.ScanPollWorkers,
	}, scanClient, uploads, logger)
	pool.Start()

	// 启动恢复：给上次进程退出时仍在等待判定的记录重新挂上轮询
	if count, err := pool.Recover(ctx, repo); err != nil {
		logger.Error("启动恢复失败", slog.String("error", err.Error()))
	} else if count > 0 {
		logger.Info("启动恢复完成", slog.Int("recovered", count))
	}

	handler := api.NewUploadHandler(uploads, pool, cfg.MaxFileSizeBytes)
	router := api.NewRouter(cfg, handler)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Info("服务监听端口", slog.String("port", cfg.HTTPPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监听失败", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅关闭失败", slog.String("error", err.Error()))
	}

	// HTTP 停止后再停轮询池，在飞的扫描留待下次启动恢复
	pool.Shutdown()

	logger.Info("服务已停止")
}
