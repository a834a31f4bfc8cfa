package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStoryLoadTimeout ограничивает общую загрузку графа, не привязанную к запросу.
const DefaultStoryLoadTimeout = 10 * time.Second

// StoryProvider отдает графы историй из памяти процесса, разделяемого кэша или хранилища.
type StoryProvider interface {
	Story(ctx context.Context, code string) (*story.Graph, error)
	// Invalidate сбрасывает граф во всех уровнях кэша. Вызывается после импорта.
	Invalidate(ctx context.Context, code string)
	// Watch сбрасывает локальные графы по оповещениям разделяемого кэша, пока ctx не отменен.
	// Без разделяемого кэша сразу возвращает nil.
	Watch(ctx context.Context) error
}

type cachedGraph struct {
	graph     *story.Graph
	expiresAt time.Time
}

type storyProvider struct {
	content interfaces.ContentRepository
	shared  interfaces.StoryCache
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.RWMutex
	local map[string]cachedGraph
	group singleflight.Group
}

// NewStoryProvider создает провайдер. shared может быть nil, ttl <= 0 отключает локальный кэш.
func NewStoryProvider(content interfaces.ContentRepository, shared interfaces.StoryCache, ttl time.Duration, logger *zap.Logger) StoryProvider {
	return &storyProvider{
		content: content,
		shared:  shared,
		ttl:     ttl,
		timeout: DefaultStoryLoadTimeout,
		now:     time.Now,
		logger:  logger.Named("StoryProvider"),
		local:   make(map[string]cachedGraph),
	}
}

func (p *storyProvider) Story(ctx context.Context, code string) (*story.Graph, error) {
	if g, ok := p.fromLocal(code); ok {
		storyCacheTotal.WithLabelValues("local", "hit").Inc()
		return g, nil
	}
	storyCacheTotal.WithLabelValues("local", "miss").Inc()

	// Загрузка общая для всех ожидающих, поэтому отмена одного запроса ее не прерывает.
	ch := p.group.DoChan(code, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.load(loadCtx, code)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for story %q: %v", models.ErrStorageUnavailable, code, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.DeadlineExceeded) && !errors.Is(res.Err, models.ErrStorageUnavailable) {
				return nil, fmt.Errorf("%w: loading story %q: %v", models.ErrStorageUnavailable, code, res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(*story.Graph), nil
	}
}

func (p *storyProvider) load(ctx context.Context, code string) (*story.Graph, error) {
	log := p.logger.With(zap.String("story", code))

	if p.shared != nil {
		g, err := p.shared.Get(ctx, code)
		switch {
		case err != nil:
			log.Warn("Shared story cache read failed, falling back to storage", zap.Error(err))
		case g != nil:
			storyCacheTotal.WithLabelValues("shared", "hit").Inc()
			p.remember(g)
			return g, nil
		default:
			storyCacheTotal.WithLabelValues("shared", "miss").Inc()
		}
	}

	g, err := p.content.LoadStory(ctx, code)
	if err != nil {
		return nil, err
	}
	log.Debug("Story loaded from storage", zap.Int("scenes", len(g.Scenes())))

	if p.shared != nil {
		if err := p.shared.Set(ctx, g); err != nil {
			log.Warn("Failed to populate shared story cache", zap.Error(err))
		}
	}
	p.remember(g)
	return g, nil
}

func (p *storyProvider) fromLocal(code string) (*story.Graph, bool) {
	if p.ttl <= 0 {
		return nil, false
	}
	p.mu.RLock()
	entry, ok := p.local[code]
	p.mu.RUnlock()
	if !ok || !p.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.graph, true
}

func (p *storyProvider) remember(g *story.Graph) {
	if p.ttl <= 0 {
		return
	}
	p.mu.Lock()
	p.local[g.Code] = cachedGraph{graph: g, expiresAt: p.now().Add(p.ttl)}
	p.mu.Unlock()
}

func (p *storyProvider) Invalidate(ctx context.Context, code string) {
	p.forget(code)

	if p.shared != nil {
		if err := p.shared.Delete(ctx, code); err != nil {
			p.logger.Warn("Failed to invalidate shared story cache", zap.String("story", code), zap.Error(err))
		}
	}
}

func (p *storyProvider) Watch(ctx context.Context) error {
	if p.shared == nil {
		return nil
	}
	return p.shared.Subscribe(ctx, func(code string) {
		p.forget(code)
		p.logger.Info("Local story graph dropped", zap.String("story", code))
	})
}

func (p *storyProvider) forget(code string) {
	p.mu.Lock()
	delete(p.local, code)
	p.mu.Unlock()
	p.group.Forget(code)
}
