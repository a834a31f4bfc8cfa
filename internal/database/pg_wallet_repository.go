package database

import (
	"context"
	"errors"
	"fmt"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.WalletRepository = (*pgWalletRepository)(nil)

type pgWalletRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewPgWalletRepository(db DBTX, logger *zap.Logger) interfaces.WalletRepository {
	return &pgWalletRepository{
		db:     db,
		logger: logger.Named("PgWalletRepo"),
	}
}

const (
	getWalletForUpdateQuery = `
SELECT player_id, energy, gems, premium_until, last_regen_at, updated_at
FROM wallets
WHERE player_id = $1
FOR UPDATE`

	updateWalletQuery = `
UPDATE wallets
SET energy = $2, gems = $3, premium_until = $4, last_regen_at = $5, updated_at = $6
WHERE player_id = $1`
)

func (r *pgWalletRepository) GetForUpdate(ctx context.Context, playerID uuid.UUID) (*ledger.Wallet, error) {
	w := &ledger.Wallet{}
	if err := pgxscan.Get(ctx, r.db, w, getWalletForUpdateQuery, playerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet for player %s: %w", playerID, models.ErrNotFound)
		}
		r.logger.Error("Failed to lock wallet", zap.Stringer("playerID", playerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка блокировки кошелька: %w", classifyError(err))
	}
	return w, nil
}

func (r *pgWalletRepository) Save(ctx context.Context, w *ledger.Wallet) error {
	w.UpdatedAt = stampOrNow(w.UpdatedAt)
	tag, err := r.db.Exec(ctx, updateWalletQuery, w.PlayerID, w.Energy, w.Gems, w.PremiumUntil, w.LastRegenAt, w.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to save wallet", zap.Stringer("playerID", w.PlayerID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения кошелька: %w", classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet for player %s: %w", w.PlayerID, models.ErrNotFound)
	}
	return nil
}
