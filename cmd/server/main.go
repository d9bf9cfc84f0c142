package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"pharmapro/backend/internal/cache"
	"pharmapro/backend/internal/config"
	"pharmapro/backend/internal/httpapi"
	"pharmapro/backend/internal/report"
	"pharmapro/backend/internal/service"
	"pharmapro/backend/internal/store"
	"pharmapro/backend/internal/store/memory"
	pgstore "pharmapro/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	cacheStore := cache.MetricsCache(cache.NoopMetricsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMetricsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warnf("redis unavailable (%v), using noop cache", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	reports := report.NewEngine(repo, cacheStore, time.Duration(cfg.MetricsTTLSeconds)*time.Second, cfg.ExpiryWindowDays)
	svc := service.New(repo, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, reports, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("pharmacy backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
