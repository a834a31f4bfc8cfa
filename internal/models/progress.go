package models

import (
	"time"

	"github.com/google/uuid"
)

// Progress хранит позицию игрока в истории и накопленную симпатию.
// Для пары (игрок, история) существует не более одной записи.
type Progress struct {
	PlayerID  uuid.UUID `db:"player_id" json:"playerId"`
	StoryID   uuid.UUID `db:"story_id" json:"storyId"`
	SceneCode string    `db:"scene_code" json:"sceneCode"`
	HeatScore int       `db:"heat_score" json:"heatScore"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// GemUnlock - квитанция об одноразовой оплате выбора в сцене.
// Уникальна по (игрок, история, сцена).
type GemUnlock struct {
	PlayerID  uuid.UUID `db:"player_id" json:"playerId"`
	StoryID   uuid.UUID `db:"story_id" json:"storyId"`
	SceneCode string    `db:"scene_code" json:"sceneCode"`
	GemsSpent int       `db:"gems_spent" json:"gemsSpent"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// OwnedItem - предмет в инвентаре игрока в рамках истории.
type OwnedItem struct {
	PlayerID  uuid.UUID `db:"player_id" json:"playerId"`
	StoryID   uuid.UUID `db:"story_id" json:"storyId"`
	ItemCode  string    `db:"item_code" json:"itemCode"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// GrantRequest описывает начисление ресурсов оператором.
// Отрицательные значения списывают, итог не опускается ниже нуля.
type GrantRequest struct {
	Energy      int  `json:"energy"`
	Gems        int  `json:"gems"`
	Premium     bool `json:"premium"`
	PremiumDays int  `json:"premium_days"`
}
