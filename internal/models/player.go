package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLanguage используется, когда игрок не указал язык.
const DefaultLanguage = "ru"

// Player - участник, идентифицируемый внешним ключом (subject токена).
type Player struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ExternalKey string    `db:"external_key" json:"externalKey"`
	Language    string    `db:"language" json:"language"`
	IsPremium   bool      `db:"is_premium" json:"isPremium"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// AgeConsent фиксирует подтверждение возраста игроком.
type AgeConsent struct {
	PlayerID    uuid.UUID `db:"player_id" json:"playerId"`
	ConfirmedAt time.Time `db:"confirmed_at" json:"confirmedAt"`
}
