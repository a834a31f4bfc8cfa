package database

import (
	"context"
	"errors"
	"fmt"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.ProgressRepository = (*pgProgressRepository)(nil)

type pgProgressRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewPgProgressRepository(db DBTX, logger *zap.Logger) interfaces.ProgressRepository {
	return &pgProgressRepository{
		db:     db,
		logger: logger.Named("PgProgressRepo"),
	}
}

const (
	getProgressQuery = `
SELECT player_id, story_id, scene_code, heat_score, updated_at
FROM progress
WHERE player_id = $1 AND story_id = $2`

	insertProgressQuery = `
INSERT INTO progress (player_id, story_id, scene_code, heat_score, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (player_id, story_id) DO NOTHING`

	updateProgressQuery = `
UPDATE progress
SET scene_code = $3, heat_score = $4, updated_at = $5
WHERE player_id = $1 AND story_id = $2`
)

func (r *pgProgressRepository) Get(ctx context.Context, playerID, storyID uuid.UUID) (*models.Progress, error) {
	p := &models.Progress{}
	if err := pgxscan.Get(ctx, r.db, p, getProgressQuery, playerID, storyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get progress", zap.Stringer("playerID", playerID), zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения прогресса: %w", classifyError(err))
	}
	return p, nil
}

func (r *pgProgressRepository) Create(ctx context.Context, p *models.Progress) (*models.Progress, error) {
	p.UpdatedAt = stampOrNow(p.UpdatedAt)
	if _, err := r.db.Exec(ctx, insertProgressQuery, p.PlayerID, p.StoryID, p.SceneCode, p.HeatScore, p.UpdatedAt); err != nil {
		r.logger.Error("Failed to create progress", zap.Stringer("playerID", p.PlayerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка создания прогресса: %w", classifyError(err))
	}
	return r.Get(ctx, p.PlayerID, p.StoryID)
}

func (r *pgProgressRepository) Save(ctx context.Context, p *models.Progress) error {
	p.UpdatedAt = stampOrNow(p.UpdatedAt)
	tag, err := r.db.Exec(ctx, updateProgressQuery, p.PlayerID, p.StoryID, p.SceneCode, p.HeatScore, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to save progress", zap.Stringer("playerID", p.PlayerID), zap.Error(err))
		return fmt.Errorf("ошибка сохранения прогресса: %w", classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
