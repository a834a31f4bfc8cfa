package database

import (
	"context"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ interfaces.Store = (*PgStore)(nil)

// PgStore - хранилище на пуле соединений PostgreSQL.
type PgStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	content interfaces.ContentRepository
	players interfaces.PlayerRepository
}

// PoolConfig - параметры пула соединений.
type PoolConfig struct {
	DSN         string
	MaxConns    int32
	MaxIdleTime time.Duration
}

// NewPgPool создает пул и проверяет соединение.
func NewPgPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	}
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула соединений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка проверки соединения с БД: %w", err)
	}
	logger.Info("Database connection pool ready", zap.Int32("maxConns", poolConfig.MaxConns))
	return pool, nil
}

// NewPgStore создает хранилище поверх готового пула.
func NewPgStore(pool *pgxpool.Pool, logger *zap.Logger) *PgStore {
	return &PgStore{
		pool:    pool,
		logger:  logger.Named("PgStore"),
		content: NewPgContentRepository(pool, logger),
		players: NewPgPlayerRepository(pool, logger),
	}
}

func (s *PgStore) Content() interfaces.ContentRepository { return s.content }
func (s *PgStore) Players() interfaces.PlayerRepository { return s.players }

// InTx выполняет fn в транзакции READ COMMITTED.
// Сериализация переходов игрока обеспечивается блокировкой строки кошелька.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", classifyError(err))
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.Background())
			panic(r)
		}
	}()

	if err := fn(ctx, newPgTx(tx, s.logger)); err != nil {
		_ = tx.Rollback(context.Background())
		return classifyError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", classifyError(err))
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return classifyError(s.pool.Ping(ctx))
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	players  interfaces.PlayerRepository
	wallets  interfaces.WalletRepository
	progress interfaces.ProgressRepository
	unlocks  interfaces.UnlockRepository
	consents interfaces.AgeConsentRepository
}

func newPgTx(tx pgx.Tx, logger *zap.Logger) *pgTx {
	return &pgTx{
		players:  NewPgPlayerRepository(tx, logger),
		wallets:  NewPgWalletRepository(tx, logger),
		progress: NewPgProgressRepository(tx, logger),
		unlocks:  NewPgUnlockRepository(tx, logger),
		consents: NewPgAgeConsentRepository(tx, logger),
	}
}

func (t *pgTx) Players() interfaces.PlayerRepository { return t.players }
func (t *pgTx) Wallets() interfaces.WalletRepository { return t.wallets }
func (t *pgTx) Progress() interfaces.ProgressRepository { return t.progress }
func (t *pgTx) Unlocks() interfaces.UnlockRepository { return t.unlocks }
func (t *pgTx) Consents() interfaces.AgeConsentRepository { return t.consents }
