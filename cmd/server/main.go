package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"novel-engine/internal/authutils"
	"novel-engine/internal/bootstrap"
	"novel-engine/internal/config"
	"novel-engine/internal/handler"
	"novel-engine/internal/logger"
	"novel-engine/internal/middleware"
	"novel-engine/internal/service"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(true)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err) // zap еще нет
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, Service: "novel-engine"})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger.Info("Starting novel engine", cfg.LogFields()...)

	ctx := context.Background()

	storage, err := bootstrap.OpenStorage(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() { _ = storage.Close() }()

	storyCache, closeCache, err := bootstrap.OpenStoryCache(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect story cache", zap.Error(err))
	}
	defer closeCache()

	publisher, closePublisher, err := bootstrap.OpenPublisher(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to set up event publisher", zap.Error(err))
	}
	defer closePublisher()

	stories := service.NewStoryProvider(storage.Store.Content(), storyCache, cfg.StoryCacheTTL, zapLogger)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := stories.Watch(watchCtx); err != nil {
			zapLogger.Warn("Story invalidation watch stopped, relying on cache TTL", zap.Error(err))
		}
	}()
	progression, err := service.NewProgressionService(storage.Store, stories, publisher, bootstrap.ServiceOptions(cfg), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create progression service", zap.Error(err))
	}

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create JWT verifier", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.EchoZapLogger(zapLogger))
	e.Use(echoMiddleware.Recover())

	h := handler.NewProgressionHandler(progression, storage.Store, verifier.VerifyToken, cfg.DevEndpointsEnabled, cfg.DefaultLanguage, zapLogger)
	h.RegisterRoutes(e)

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received")
	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Novel engine stopped")
}
