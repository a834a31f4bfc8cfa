package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.ContentRepository = (*pgContentRepository)(nil)

type pgContentRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgContentRepository создает репозиторий графов историй.
func NewPgContentRepository(db DBTX, logger *zap.Logger) interfaces.ContentRepository {
	return &pgContentRepository{
		db:     db,
		logger: logger.Named("PgContentRepo"),
	}
}

type storyRow struct {
	ID              uuid.UUID         `db:"id"`
	Code            string            `db:"code"`
	Title           map[string]string `db:"title"`
	StartScene      string            `db:"start_scene"`
	DefaultLanguage string            `db:"default_language"`
	EndingSoft      string            `db:"ending_soft"`
	EndingHot       string            `db:"ending_hot"`
	EndingMax       string            `db:"ending_max"`
	SoftMaxHeat     int               `db:"soft_max_heat"`
	HotMaxHeat      int               `db:"hot_max_heat"`
}

type sceneRow struct {
	Code       string            `db:"code"`
	ImageURL   string            `db:"image_url"`
	IsPremium  bool              `db:"is_premium"`
	EnergyCost int               `db:"energy_cost"`
	Texts      map[string]string `db:"texts"`
}

type choiceRow struct {
	SceneCode    string            `db:"scene_code"`
	Code         string            `db:"code"`
	LeadsTo      string            `db:"leads_to"`
	IsPremium    bool              `db:"is_premium"`
	GemCost      int               `db:"gem_cost"`
	HeatPoints   int               `db:"heat_points"`
	RequiresItem string            `db:"requires_item"`
	GrantsItem   string            `db:"grants_item"`
	Labels       map[string]string `db:"labels"`
}

type catalogRow struct {
	Code      string `db:"code"`
	PriceGems int    `db:"price_gems"`
}

const (
	getStoryByCodeQuery = `
SELECT id, code, title, start_scene, default_language,
       ending_soft, ending_hot, ending_max, soft_max_heat, hot_max_heat
FROM stories WHERE code = $1`

	listScenesQuery = `
SELECT code, image_url, is_premium, energy_cost, texts
FROM scenes WHERE story_id = $1
ORDER BY position`

	listChoicesQuery = `
SELECT c.scene_code, c.code, c.leads_to, c.is_premium, c.gem_cost, c.heat_points,
       c.requires_item, c.grants_item, c.labels
FROM choices c
JOIN scenes s ON s.story_id = c.story_id AND s.code = c.scene_code
WHERE c.story_id = $1
ORDER BY s.position, c.position`

	listCatalogQuery = `
SELECT code, price_gems FROM catalog_items WHERE story_id = $1 ORDER BY position`

	upsertStoryQuery = `
INSERT INTO stories (id, code, title, start_scene, default_language,
                     ending_soft, ending_hot, ending_max, soft_max_heat, hot_max_heat, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
ON CONFLICT (code) DO UPDATE SET
    title = EXCLUDED.title,
    start_scene = EXCLUDED.start_scene,
    default_language = EXCLUDED.default_language,
    ending_soft = EXCLUDED.ending_soft,
    ending_hot = EXCLUDED.ending_hot,
    ending_max = EXCLUDED.ending_max,
    soft_max_heat = EXCLUDED.soft_max_heat,
    hot_max_heat = EXCLUDED.hot_max_heat,
    updated_at = EXCLUDED.updated_at
RETURNING id`

	deleteScenesQuery  = `DELETE FROM scenes WHERE story_id = $1`
	deleteCatalogQuery = `DELETE FROM catalog_items WHERE story_id = $1`

	insertSceneQuery = `
INSERT INTO scenes (story_id, code, position, image_url, is_premium, energy_cost, texts)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertChoiceQuery = `
INSERT INTO choices (story_id, scene_code, code, position, leads_to, is_premium, gem_cost,
                     heat_points, requires_item, grants_item, labels)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertCatalogItemQuery = `
INSERT INTO catalog_items (story_id, code, position, price_gems) VALUES ($1, $2, $3, $4)`

	listStoriesQuery = `
SELECT st.code, st.start_scene, COUNT(sc.code) AS scenes
FROM stories st
LEFT JOIN scenes sc ON sc.story_id = st.id
GROUP BY st.id, st.code, st.start_scene
ORDER BY st.code`
)

func (r *pgContentRepository) LoadStory(ctx context.Context, code string) (*story.Graph, error) {
	logFields := []zap.Field{zap.String("storyCode", code)}

	var st storyRow
	if err := pgxscan.Get(ctx, r.db, &st, getStoryByCodeQuery, code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to load story", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка загрузки истории %s: %w", code, classifyError(err))
	}

	var scenes []sceneRow
	if err := pgxscan.Select(ctx, r.db, &scenes, listScenesQuery, st.ID); err != nil {
		r.logger.Error("Failed to load scenes", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка загрузки сцен %s: %w", code, classifyError(err))
	}
	var choices []choiceRow
	if err := pgxscan.Select(ctx, r.db, &choices, listChoicesQuery, st.ID); err != nil {
		r.logger.Error("Failed to load choices", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка загрузки выборов %s: %w", code, classifyError(err))
	}
	var catalog []catalogRow
	if err := pgxscan.Select(ctx, r.db, &catalog, listCatalogQuery, st.ID); err != nil {
		r.logger.Error("Failed to load catalog", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка загрузки каталога %s: %w", code, classifyError(err))
	}

	g := assembleGraph(st, scenes, choices, catalog)
	r.logger.Debug("Story loaded", append(logFields, zap.Int("scenes", len(scenes)), zap.Int("choices", len(choices)))...)
	return g, nil
}

func assembleGraph(st storyRow, scenes []sceneRow, choices []choiceRow, catalog []catalogRow) *story.Graph {
	byCode := make(map[string]*story.Scene, len(scenes))
	list := make([]*story.Scene, 0, len(scenes))
	for _, sr := range scenes {
		s := &story.Scene{
			Code:       sr.Code,
			ImageURL:   sr.ImageURL,
			IsPremium:  sr.IsPremium,
			EnergyCost: sr.EnergyCost,
			Texts:      story.Localized(sr.Texts),
			Choices:    make([]*story.Choice, 0),
		}
		byCode[s.Code] = s
		list = append(list, s)
	}
	for _, cr := range choices {
		s, ok := byCode[cr.SceneCode]
		if !ok {
			continue
		}
		s.Choices = append(s.Choices, &story.Choice{
			Code:         cr.Code,
			LeadsTo:      cr.LeadsTo,
			IsPremium:    cr.IsPremium,
			GemCost:      cr.GemCost,
			HeatPoints:   cr.HeatPoints,
			RequiresItem: cr.RequiresItem,
			GrantsItem:   cr.GrantsItem,
			Labels:       story.Localized(cr.Labels),
		})
	}

	g := story.NewGraph(st.ID, st.Code, st.StartScene, list)
	g.Title = story.Localized(st.Title)
	g.DefaultLanguage = st.DefaultLanguage
	g.Routing = story.Routing{
		Soft:        st.EndingSoft,
		Hot:         st.EndingHot,
		Max:         st.EndingMax,
		SoftMaxHeat: st.SoftMaxHeat,
		HotMaxHeat:  st.HotMaxHeat,
	}
	for _, it := range catalog {
		g.Catalog = append(g.Catalog, story.CatalogItem{Code: it.Code, PriceGems: it.PriceGems})
	}
	return g
}

func (r *pgContentRepository) SaveStory(ctx context.Context, g *story.Graph) error {
	logFields := []zap.Field{zap.String("storyCode", g.Code)}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции импорта: %w", classifyError(err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	id := g.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	title := map[string]string(g.Title)
	if title == nil {
		title = map[string]string{}
	}
	var storedID uuid.UUID
	err = tx.QueryRow(ctx, upsertStoryQuery, id, g.Code, title, g.StartScene, g.DefaultLanguage,
		g.Routing.Soft, g.Routing.Hot, g.Routing.Max, g.Routing.SoftMaxHeat, g.Routing.HotMaxHeat,
		time.Now().UTC()).Scan(&storedID)
	if err != nil {
		r.logger.Error("Failed to upsert story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка сохранения истории: %w", classifyError(err))
	}

	if _, err := tx.Exec(ctx, deleteScenesQuery, storedID); err != nil {
		return fmt.Errorf("ошибка удаления старых сцен: %w", classifyError(err))
	}
	if _, err := tx.Exec(ctx, deleteCatalogQuery, storedID); err != nil {
		return fmt.Errorf("ошибка удаления старого каталога: %w", classifyError(err))
	}

	batch := &pgx.Batch{}
	for i, s := range g.Scenes() {
		texts := map[string]string(s.Texts)
		if texts == nil {
			texts = map[string]string{}
		}
		batch.Queue(insertSceneQuery, storedID, s.Code, i, s.ImageURL, s.IsPremium, s.EnergyCost, texts)
	}
	for _, s := range g.Scenes() {
		for j, c := range s.Choices {
			labels := map[string]string(c.Labels)
			if labels == nil {
				labels = map[string]string{}
			}
			batch.Queue(insertChoiceQuery, storedID, s.Code, c.Code, j, c.LeadsTo, c.IsPremium, c.GemCost,
				c.HeatPoints, c.RequiresItem, c.GrantsItem, labels)
		}
	}
	for i, it := range g.Catalog {
		batch.Queue(insertCatalogItemQuery, storedID, it.Code, i, it.PriceGems)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			r.logger.Error("Failed to insert story content", append(logFields, zap.Int("statement", i), zap.Error(err))...)
			return fmt.Errorf("ошибка сохранения содержимого истории: %w", classifyError(err))
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("ошибка завершения пакета: %w", classifyError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации импорта: %w", classifyError(err))
	}
	g.ID = storedID
	r.logger.Info("Story saved", append(logFields, zap.Stringer("storyID", storedID), zap.Int("scenes", len(g.Scenes())))...)
	return nil
}

func (r *pgContentRepository) ListStories(ctx context.Context) ([]interfaces.StorySummary, error) {
	rows, err := r.db.Query(ctx, listStoriesQuery)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка историй: %w", classifyError(err))
	}
	defer rows.Close()

	out := make([]interfaces.StorySummary, 0)
	for rows.Next() {
		var s interfaces.StorySummary
		var scenes int64
		if err := rows.Scan(&s.Code, &s.StartScene, &scenes); err != nil {
			return nil, fmt.Errorf("ошибка сканирования истории: %w", err)
		}
		s.Scenes = int(scenes)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации историй: %w", classifyError(err))
	}
	return out, nil
}
