package database

import (
	"context"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.AgeConsentRepository = (*pgAgeConsentRepository)(nil)

type pgAgeConsentRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewPgAgeConsentRepository(db DBTX, logger *zap.Logger) interfaces.AgeConsentRepository {
	return &pgAgeConsentRepository{
		db:     db,
		logger: logger.Named("PgAgeConsentRepo"),
	}
}

const (
	hasConsentQuery     = `SELECT EXISTS (SELECT 1 FROM age_consents WHERE player_id = $1)`
	confirmConsentQuery = `
INSERT INTO age_consents (player_id, confirmed_at) VALUES ($1, $2)
ON CONFLICT (player_id) DO NOTHING`
	revokeConsentQuery = `DELETE FROM age_consents WHERE player_id = $1`
)

func (r *pgAgeConsentRepository) Has(ctx context.Context, playerID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, hasConsentQuery, playerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки согласия: %w", classifyError(err))
	}
	return exists, nil
}

func (r *pgAgeConsentRepository) Confirm(ctx context.Context, playerID uuid.UUID, at time.Time) error {
	if _, err := r.db.Exec(ctx, confirmConsentQuery, playerID, at.UTC()); err != nil {
		r.logger.Error("Failed to confirm age", zap.Stringer("playerID", playerID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения согласия: %w", classifyError(err))
	}
	return nil
}

func (r *pgAgeConsentRepository) Revoke(ctx context.Context, playerID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, revokeConsentQuery, playerID); err != nil {
		r.logger.Error("Failed to revoke age consent", zap.Stringer("playerID", playerID), zap.Error(err))
		return fmt.Errorf("ошибка отзыва согласия: %w", classifyError(err))
	}
	return nil
}
