package interfaces

import (
	"context"
	"time"

	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/google/uuid"
)

// PlayerRepository управляет реестром игроков.
type PlayerRepository interface {
	// GetOrCreate находит игрока по внешнему ключу или создает его вместе с кошельком.
	// Безопасен при конкурентном первом обращении.
	GetOrCreate(ctx context.Context, externalKey, language string, wallet func(playerID uuid.UUID) *ledger.Wallet) (*models.Player, error)

	// GetByID возвращает игрока. models.ErrPlayerNotFound, если не найден.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error)

	// SetPremium выставляет бессрочный премиум-флаг.
	SetPremium(ctx context.Context, id uuid.UUID, premium bool) error
}

// WalletRepository читает и сохраняет балансы игрока.
type WalletRepository interface {
	// GetForUpdate читает кошелек и блокирует его до конца транзакции.
	// Все переходы игрока сериализуются через эту блокировку.
	GetForUpdate(ctx context.Context, playerID uuid.UUID) (*ledger.Wallet, error)

	Save(ctx context.Context, w *ledger.Wallet) error
}

// ProgressRepository хранит курсор игрока в истории.
type ProgressRepository interface {
	// Get возвращает прогресс. models.ErrNotFound, если записи нет.
	Get(ctx context.Context, playerID, storyID uuid.UUID) (*models.Progress, error)

	// Create вставляет прогресс, если его еще нет, и возвращает актуальную запись.
	Create(ctx context.Context, p *models.Progress) (*models.Progress, error)

	Save(ctx context.Context, p *models.Progress) error
}

// UnlockRepository - реестр одноразовых разблокировок и предметов.
type UnlockRepository interface {
	HasGemUnlock(ctx context.Context, playerID, storyID uuid.UUID, sceneCode string) (bool, error)

	// RecordGemUnlock сохраняет квитанцию. Повторная запись для той же сцены игнорируется.
	RecordGemUnlock(ctx context.Context, u *models.GemUnlock) error

	// ClearGemUnlocks удаляет все квитанции игрока в истории. Предметы не затрагиваются.
	ClearGemUnlocks(ctx context.Context, playerID, storyID uuid.UUID) error

	HasItem(ctx context.Context, playerID, storyID uuid.UUID, itemCode string) (bool, error)

	// GrantItem добавляет предмет. Возвращает false, если предмет уже был.
	GrantItem(ctx context.Context, item *models.OwnedItem) (bool, error)

	// ListItems возвращает коды предметов в порядке получения.
	ListItems(ctx context.Context, playerID, storyID uuid.UUID) ([]string, error)
}

// AgeConsentRepository хранит подтверждения возраста.
type AgeConsentRepository interface {
	Has(ctx context.Context, playerID uuid.UUID) (bool, error)
	Confirm(ctx context.Context, playerID uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, playerID uuid.UUID) error
}
