package database

import (
	"context"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.UnlockRepository = (*pgUnlockRepository)(nil)

type pgUnlockRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewPgUnlockRepository(db DBTX, logger *zap.Logger) interfaces.UnlockRepository {
	return &pgUnlockRepository{
		db:     db,
		logger: logger.Named("PgUnlockRepo"),
	}
}

const (
	hasGemUnlockQuery = `
SELECT EXISTS (SELECT 1 FROM gem_unlocks WHERE player_id = $1 AND story_id = $2 AND scene_code = $3)`

	insertGemUnlockQuery = `
INSERT INTO gem_unlocks (player_id, story_id, scene_code, gems_spent, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (player_id, story_id, scene_code) DO NOTHING`

	clearGemUnlocksQuery = `DELETE FROM gem_unlocks WHERE player_id = $1 AND story_id = $2`

	hasItemQuery = `
SELECT EXISTS (SELECT 1 FROM owned_items WHERE player_id = $1 AND story_id = $2 AND item_code = $3)`

	insertItemQuery = `
INSERT INTO owned_items (player_id, story_id, item_code, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (player_id, story_id, item_code) DO NOTHING`

	listItemsQuery = `
SELECT item_code FROM owned_items
WHERE player_id = $1 AND story_id = $2
ORDER BY created_at, item_code`
)

func (r *pgUnlockRepository) HasGemUnlock(ctx context.Context, playerID, storyID uuid.UUID, sceneCode string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, hasGemUnlockQuery, playerID, storyID, sceneCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки разблокировки: %w", classifyError(err))
	}
	return exists, nil
}

func (r *pgUnlockRepository) RecordGemUnlock(ctx context.Context, u *models.GemUnlock) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, insertGemUnlockQuery, u.PlayerID, u.StoryID, u.SceneCode, u.GemsSpent, u.CreatedAt); err != nil {
		r.logger.Error("Failed to record gem unlock",
			zap.Stringer("playerID", u.PlayerID), zap.String("sceneCode", u.SceneCode), zap.Error(err))
		return fmt.Errorf("ошибка записи разблокировки: %w", classifyError(err))
	}
	return nil
}

func (r *pgUnlockRepository) ClearGemUnlocks(ctx context.Context, playerID, storyID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, clearGemUnlocksQuery, playerID, storyID)
	if err != nil {
		return fmt.Errorf("ошибка очистки разблокировок: %w", classifyError(err))
	}
	r.logger.Debug("Gem unlocks cleared", zap.Stringer("playerID", playerID), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func (r *pgUnlockRepository) HasItem(ctx context.Context, playerID, storyID uuid.UUID, itemCode string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, hasItemQuery, playerID, storyID, itemCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки предмета: %w", classifyError(err))
	}
	return exists, nil
}

func (r *pgUnlockRepository) GrantItem(ctx context.Context, item *models.OwnedItem) (bool, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	tag, err := r.db.Exec(ctx, insertItemQuery, item.PlayerID, item.StoryID, item.ItemCode, item.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to grant item",
			zap.Stringer("playerID", item.PlayerID), zap.String("itemCode", item.ItemCode), zap.Error(err))
		return false, fmt.Errorf("ошибка выдачи предмета: %w", classifyError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgUnlockRepository) ListItems(ctx context.Context, playerID, storyID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, listItemsQuery, playerID, storyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предметов: %w", classifyError(err))
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("ошибка сканирования предмета: %w", err)
		}
		items = append(items, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации предметов: %w", classifyError(err))
	}
	return items, nil
}
