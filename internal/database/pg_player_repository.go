package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.PlayerRepository = (*pgPlayerRepository)(nil)

type pgPlayerRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgPlayerRepository создает репозиторий игроков.
func NewPgPlayerRepository(db DBTX, logger *zap.Logger) interfaces.PlayerRepository {
	return &pgPlayerRepository{
		db:     db,
		logger: logger.Named("PgPlayerRepo"),
	}
}

const (
	insertPlayerQuery = `
INSERT INTO players (id, external_key, language, is_premium, created_at)
VALUES ($1, $2, $3, FALSE, $4)
ON CONFLICT (external_key) DO NOTHING`

	insertWalletQuery = `
INSERT INTO wallets (player_id, energy, gems, premium_until, last_regen_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (player_id) DO NOTHING`

	getPlayerByKeyQuery = `
SELECT id, external_key, language, is_premium, created_at
FROM players WHERE external_key = $1`

	getPlayerByIDQuery = `
SELECT id, external_key, language, is_premium, created_at
FROM players WHERE id = $1`

	setPlayerPremiumQuery = `UPDATE players SET is_premium = $2 WHERE id = $1`
)

func (r *pgPlayerRepository) GetOrCreate(ctx context.Context, externalKey, language string, wallet func(uuid.UUID) *ledger.Wallet) (*models.Player, error) {
	logFields := []zap.Field{zap.String("externalKey", externalKey)}

	player := &models.Player{}
	err := pgxscan.Get(ctx, r.db, player, getPlayerByKeyQuery, externalKey)
	if err == nil {
		return player, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to get player by key", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка получения игрока: %w", classifyError(err))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции создания игрока: %w", classifyError(err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	now := time.Now().UTC()
	newID := uuid.New()
	tag, err := tx.Exec(ctx, insertPlayerQuery, newID, externalKey, language, now)
	if err != nil {
		r.logger.Error("Failed to insert player", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка создания игрока: %w", classifyError(err))
	}
	if tag.RowsAffected() == 1 {
		w := wallet(newID)
		if _, err := tx.Exec(ctx, insertWalletQuery, w.PlayerID, w.Energy, w.Gems, w.PremiumUntil, w.LastRegenAt, now); err != nil {
			r.logger.Error("Failed to insert wallet", append(logFields, zap.Error(err))...)
			return nil, fmt.Errorf("ошибка создания кошелька: %w", classifyError(err))
		}
		r.logger.Info("Player registered", append(logFields, zap.Stringer("playerID", newID))...)
	}

	if err := pgxscan.Get(ctx, tx, player, getPlayerByKeyQuery, externalKey); err != nil {
		return nil, fmt.Errorf("ошибка чтения созданного игрока: %w", classifyError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации создания игрока: %w", classifyError(err))
	}
	return player, nil
}

func (r *pgPlayerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	player := &models.Player{}
	if err := pgxscan.Get(ctx, r.db, player, getPlayerByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPlayerNotFound
		}
		r.logger.Error("Failed to get player by id", zap.Stringer("playerID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения игрока %s: %w", id, classifyError(err))
	}
	return player, nil
}

func (r *pgPlayerRepository) SetPremium(ctx context.Context, id uuid.UUID, premium bool) error {
	tag, err := r.db.Exec(ctx, setPlayerPremiumQuery, id, premium)
	if err != nil {
		r.logger.Error("Failed to set premium flag", zap.Stringer("playerID", id), zap.Error(err))
		return fmt.Errorf("ошибка обновления премиум-флага: %w", classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrPlayerNotFound
	}
	return nil
}
