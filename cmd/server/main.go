package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-matchmaking/internal"
	"github.com/koopa0/system-design/14-matchmaking/internal/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔路徑")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config.Log.Level, config.Log.Format)

	if err := run(config, logger); err != nil {
		logger.Error("服務器異常退出", "error", err)
		os.Exit(1)
	}
}

func run(config *internal.Config, logger *slog.Logger) error {
	ctx := context.Background()
	dsn := config.PostgresDSN()

	// 資料庫遷移
	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		return fmt.Errorf("建立遷移管理器失敗: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("執行遷移失敗: %w", err)
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("關閉遷移管理器失敗", "error", err)
	}

	// PostgreSQL 連接池
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("解析資料庫配置失敗: %w", err)
	}
	poolConfig.MaxConns = config.Postgres.MaxConns
	poolConfig.MinConns = config.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("建立連接池失敗: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("連接資料庫失敗: %w", err)
	}

	// Redis（token 快取）
	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis 不可用時使用者查詢退化為直接查資料庫
		logger.Warn("Redis 連接失敗，token 快取停用", "error", err)
		redisClient = nil
	}

	// NATS 事件發佈（可選）
	var events *internal.EventPublisher
	if config.NATS.URL != "" {
		events, err = internal.NewEventPublisher(config.NATS.URL)
		if err != nil {
			return fmt.Errorf("連接 NATS 失敗: %w", err)
		}
		defer events.Close()
	}

	users := internal.NewUserDirectory(pool, redisClient, logger)
	coordinator := internal.NewRoomCoordinator(pool, users, events, logger)
	handler := internal.NewHandler(coordinator, users, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("配對服務器啟動",
			"port", config.Server.Port,
			"events_enabled", events != nil)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中斷信號
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("服務器啟動失敗: %w", err)
	case <-sigCh:
	}

	logger.Info("收到關閉信號，開始優雅關閉...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服務器關閉失敗: %w", err)
	}

	logger.Info("服務器已關閉")
	return nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
