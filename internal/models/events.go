package models

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEventType - тип события прогрессии.
type ProgressEventType string

const (
	EventChoiceMade       ProgressEventType = "choice_made"
	EventEndingReached    ProgressEventType = "ending_reached"
	EventStoryRestarted   ProgressEventType = "story_restarted"
	EventItemPurchased    ProgressEventType = "item_purchased"
	EventResourcesGranted ProgressEventType = "resources_granted"
)

// ProgressEvent публикуется после фиксации транзакции.
type ProgressEvent struct {
	EventID     string            `json:"event_id"`
	Type        ProgressEventType `json:"type"`
	PlayerID    uuid.UUID         `json:"player_id"`
	StoryCode   string            `json:"story_code,omitempty"`
	SceneCode   string            `json:"scene_code,omitempty"`
	ChoiceCode  string            `json:"choice_code,omitempty"`
	ItemCode    string            `json:"item_code,omitempty"`
	GemsSpent   int               `json:"gems_spent,omitempty"`
	EnergySpent int               `json:"energy_spent,omitempty"`
	HeatScore   int               `json:"heat_score"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
