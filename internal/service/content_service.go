package service

import (
	"context"
	"fmt"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"go.uber.org/zap"
)

// ContentService - граница импорта историй.
type ContentService interface {
	// Import проверяет граф и атомарно заменяет историю с тем же кодом.
	// При ошибках проверки ничего не сохраняется, отчет возвращается всегда.
	Import(ctx context.Context, g *story.Graph) (*story.Report, error)
	Validate(g *story.Graph) *story.Report
	List(ctx context.Context) ([]interfaces.StorySummary, error)
}

type contentServiceImpl struct {
	content interfaces.ContentRepository
	stories StoryProvider
	logger  *zap.Logger
}

// NewContentService создает сервис импорта. stories может быть nil (storyctl без кэша).
func NewContentService(content interfaces.ContentRepository, stories StoryProvider, logger *zap.Logger) ContentService {
	return &contentServiceImpl{content: content, stories: stories, logger: logger.Named("ContentService")}
}

func (s *contentServiceImpl) Validate(g *story.Graph) *story.Report {
	return story.Validate(g)
}

func (s *contentServiceImpl) Import(ctx context.Context, g *story.Graph) (*story.Report, error) {
	log := s.logger.With(zap.String("story", g.Code))

	report := story.Validate(g)
	for _, w := range report.Warnings() {
		log.Warn("Story validation warning", zap.String("code", w.Code), zap.String("scene", w.Scene), zap.String("message", w.Message))
	}
	if report.HasErrors() {
		log.Error("Story rejected by validation", zap.Int("errors", len(report.Errors())))
		return report, fmt.Errorf("%w: %v", models.ErrInvalidInput, report)
	}

	if err := s.content.SaveStory(ctx, g); err != nil {
		log.Error("Failed to save story", zap.Error(err))
		return report, err
	}
	if s.stories != nil {
		s.stories.Invalidate(ctx, g.Code)
	}
	log.Info("Story imported", zap.Stringer("storyID", g.ID), zap.Int("scenes", len(g.Scenes())))
	return report, nil
}

func (s *contentServiceImpl) List(ctx context.Context) ([]interfaces.StorySummary, error) {
	return s.content.ListStories(ctx)
}
