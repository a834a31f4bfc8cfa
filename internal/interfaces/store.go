package interfaces

import (
	"context"

	"novel-engine/internal/story"
)

// StorySummary - краткие сведения об импортированной истории.
type StorySummary struct {
	Code       string
	StartScene string
	Scenes     int
}

// ContentRepository хранит графы историй.
type ContentRepository interface {
	// LoadStory возвращает граф по коду. models.ErrStoryNotFound, если нет.
	LoadStory(ctx context.Context, code string) (*story.Graph, error)

	// SaveStory атомарно заменяет историю с тем же кодом. Прогресс игроков не удаляется,
	// ID существующей истории сохраняется. Возвращает сохраненный ID в g.ID.
	SaveStory(ctx context.Context, g *story.Graph) error

	ListStories(ctx context.Context) ([]StorySummary, error)
}

// Tx - набор репозиториев, привязанных к одной транзакции.
type Tx interface {
	Players() PlayerRepository
	Wallets() WalletRepository
	Progress() ProgressRepository
	Unlocks() UnlockRepository
	Consents() AgeConsentRepository
}

// Store - точка входа в хранилище.
type Store interface {
	Content() ContentRepository
	Players() PlayerRepository

	// InTx выполняет fn в транзакции. Ошибка fn или паника откатывает транзакцию.
	// Конфликты сериализации возвращаются как models.ErrTxConflict.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
