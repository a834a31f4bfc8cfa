package interfaces

import (
	"context"

	"novel-engine/internal/models"
	"novel-engine/internal/story"
)

// StoryCache - разделяемый между процессами кэш графов.
// Get возвращает (nil, nil) при промахе.
type StoryCache interface {
	Get(ctx context.Context, code string) (*story.Graph, error)
	Set(ctx context.Context, g *story.Graph) error
	// Delete удаляет граф и оповещает подписчиков других процессов.
	Delete(ctx context.Context, code string) error
	// Subscribe вызывает onInvalidate для каждого удаленного графа, пока ctx не отменен.
	Subscribe(ctx context.Context, onInvalidate func(code string)) error
}

// EventPublisher публикует события прогрессии после фиксации транзакции.
type EventPublisher interface {
	PublishProgressEvent(ctx context.Context, event models.ProgressEvent) error
}
