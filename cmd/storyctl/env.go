package main

import (
	"context"
	"fmt"

	"novel-engine/internal/bootstrap"
	"novel-engine/internal/config"
	"novel-engine/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// env - конфигурация, логгер и хранилище одной команды.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	storage *bootstrap.Storage
}

func openEnv(ctx context.Context) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(false)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: "console", OutputPath: "stderr"})
	if err != nil {
		return nil, err
	}
	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return &env{cfg: cfg, logger: log, storage: storage}, nil
}

func (e *env) Close() {
	_ = e.storage.Close()
	_ = e.logger.Sync()
}
