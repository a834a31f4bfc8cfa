// Package bootstrap собирает зависимости движка по конфигурации. Общий для сервера и storyctl.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"novel-engine/internal/config"
	"novel-engine/internal/database"
	"novel-engine/internal/database/sqlite"
	"novel-engine/internal/interfaces"
	"novel-engine/internal/messaging"
	"novel-engine/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Storage - открытое хранилище. Pool заполнен только для PostgreSQL.
type Storage struct {
	Store interfaces.Store
	Pool  *pgxpool.Pool
}

// OpenStorage открывает хранилище выбранного драйвера.
// Для PostgreSQL миграции применяются только при AUTO_MIGRATE, SQLite мигрирует при открытии.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite storage opened", zap.String("path", cfg.SQLitePath))
		return &Storage{Store: store}, nil

	case config.DriverPostgres:
		pool, err := database.NewPgPool(ctx, database.PoolConfig{
			DSN:         cfg.GetDSN(),
			MaxConns:    int32(cfg.DBMaxConns),
			MaxIdleTime: cfg.DBIdleTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := database.NewMigrator(pool, logger).Up(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		return &Storage{Store: database.NewPgStore(pool, logger), Pool: pool}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// Close закрывает хранилище.
func (s *Storage) Close() error {
	return s.Store.Close()
}

// ServiceOptions переводит конфигурацию в параметры движка.
func ServiceOptions(cfg *config.Config) service.Options {
	opts := service.DefaultOptions()
	opts.Policy = cfg.EnergyPolicy()
	opts.Retry = service.RetryPolicy{
		MaxAttempts:    cfg.TxMaxAttempts,
		BaseDelay:      cfg.TxRetryDelay,
		AttemptTimeout: cfg.TxTimeout,
	}
	opts.DefaultLanguage = cfg.DefaultLanguage
	return opts
}

// OpenStoryCache подключает Redis, если задан REDIS_URL. Возвращает nil-кэш без Redis.
func OpenStoryCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.StoryCache, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis story cache connected", zap.String("addr", opts.Addr))
	return database.NewRedisStoryCache(client, cfg.StoryCacheTTL, logger), func() { _ = client.Close() }, nil
}

// OpenPublisher подключает RabbitMQ, если задан RABBITMQ_URL, иначе возвращает noop-публикатор.
func OpenPublisher(cfg *config.Config, logger *zap.Logger) (interfaces.EventPublisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL is empty, progress events are disabled")
		return messaging.NewNoopPublisher(), func() {}, nil
	}
	conn, err := messaging.Connect(cfg.RabbitMQURL, 5, 5*time.Second, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	publisher, err := messaging.NewRabbitMQEventPublisher(ch, cfg.ProgressEventsQueue, logger)
	if err != nil {
		closeAMQP(ch, conn)
		return nil, nil, err
	}
	return publisher, func() { closeAMQP(ch, conn) }, nil
}

func closeAMQP(ch *amqp.Channel, conn *amqp.Connection) {
	_ = ch.Close()
	_ = conn.Close()
}
