package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.ContentRepository = (*contentRepository)(nil)

type contentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func newContentRepository(db *sql.DB, logger *zap.Logger) *contentRepository {
	return &contentRepository{db: db, logger: logger.Named("SQLiteContentRepo")}
}

func (r *contentRepository) LoadStory(ctx context.Context, code string) (*story.Graph, error) {
	var (
		id                      uuid.UUID
		title, start, lang      string
		softEnd, hotEnd, maxEnd string
		softHeat, hotHeat       int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, start_scene, default_language, ending_soft, ending_hot, ending_max, soft_max_heat, hot_max_heat
		FROM stories WHERE code = ?`, code).
		Scan(&id, &title, &start, &lang, &softEnd, &hotEnd, &maxEnd, &softHeat, &hotHeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("loading story %s: %w", code, classifyError(err))
	}

	scenes, err := r.loadScenes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading scenes of %s: %w", code, err)
	}
	catalog, err := r.loadCatalog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading catalog of %s: %w", code, err)
	}

	g := story.NewGraph(id, code, start, scenes)
	g.Title = decodeLocalized(title)
	g.DefaultLanguage = lang
	g.Routing = story.Routing{Soft: softEnd, Hot: hotEnd, Max: maxEnd, SoftMaxHeat: softHeat, HotMaxHeat: hotHeat}
	g.Catalog = catalog
	return g, nil
}

func (r *contentRepository) loadScenes(ctx context.Context, storyID uuid.UUID) ([]*story.Scene, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, image_url, is_premium, energy_cost, texts
		FROM scenes WHERE story_id = ? ORDER BY position`, storyID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var scenes []*story.Scene
	byCode := map[string]*story.Scene{}
	for rows.Next() {
		var (
			s       story.Scene
			premium int
			texts   string
		)
		if err := rows.Scan(&s.Code, &s.ImageURL, &premium, &s.EnergyCost, &texts); err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		s.IsPremium = premium != 0
		s.Texts = decodeLocalized(texts)
		s.Choices = make([]*story.Choice, 0)
		scenes = append(scenes, &s)
		byCode[s.Code] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	crows, err := r.db.QueryContext(ctx, `
		SELECT c.scene_code, c.code, c.leads_to, c.is_premium, c.gem_cost, c.heat_points,
		       c.requires_item, c.grants_item, c.labels
		FROM choices c
		JOIN scenes s ON s.story_id = c.story_id AND s.code = c.scene_code
		WHERE c.story_id = ?
		ORDER BY s.position, c.position`, storyID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer crows.Close()

	for crows.Next() {
		var (
			sceneCode string
			c         story.Choice
			premium   int
			labels    string
		)
		if err := crows.Scan(&sceneCode, &c.Code, &c.LeadsTo, &premium, &c.GemCost, &c.HeatPoints,
			&c.RequiresItem, &c.GrantsItem, &labels); err != nil {
			return nil, fmt.Errorf("scanning choice: %w", err)
		}
		c.IsPremium = premium != 0
		c.Labels = decodeLocalized(labels)
		if s, ok := byCode[sceneCode]; ok {
			s.Choices = append(s.Choices, &c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return scenes, nil
}

func (r *contentRepository) loadCatalog(ctx context.Context, storyID uuid.UUID) ([]story.CatalogItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, price_gems FROM catalog_items WHERE story_id = ? ORDER BY position`, storyID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []story.CatalogItem
	for rows.Next() {
		var it story.CatalogItem
		if err := rows.Scan(&it.Code, &it.PriceGems); err != nil {
			return nil, fmt.Errorf("scanning catalog item: %w", err)
		}
		out = append(out, it)
	}
	return out, classifyError(rows.Err())
}

func (r *contentRepository) SaveStory(ctx context.Context, g *story.Graph) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", classifyError(err))
	}
	defer func() { _ = tx.Rollback() }()

	var storedID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM stories WHERE code = ?`, g.Code).Scan(&storedID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		storedID = g.ID
		if storedID == uuid.Nil {
			storedID = uuid.New()
		}
	case err != nil:
		return fmt.Errorf("looking up story %s: %w", g.Code, classifyError(err))
	}

	now := time.Now().UTC().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stories (id, code, title, start_scene, default_language, ending_soft, ending_hot, ending_max,
		                     soft_max_heat, hot_max_heat, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			title = excluded.title,
			start_scene = excluded.start_scene,
			default_language = excluded.default_language,
			ending_soft = excluded.ending_soft,
			ending_hot = excluded.ending_hot,
			ending_max = excluded.ending_max,
			soft_max_heat = excluded.soft_max_heat,
			hot_max_heat = excluded.hot_max_heat,
			updated_at = excluded.updated_at`,
		storedID, g.Code, encodeLocalized(g.Title), g.StartScene, g.DefaultLanguage,
		g.Routing.Soft, g.Routing.Hot, g.Routing.Max, g.Routing.SoftMaxHeat, g.Routing.HotMaxHeat, now); err != nil {
		return fmt.Errorf("upserting story: %w", classifyError(err))
	}

	for _, stmt := range []string{
		`DELETE FROM choices WHERE story_id = ?`,
		`DELETE FROM scenes WHERE story_id = ?`,
		`DELETE FROM catalog_items WHERE story_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, storedID); err != nil {
			return fmt.Errorf("clearing previous content: %w", classifyError(err))
		}
	}

	for i, s := range g.Scenes() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scenes (story_id, code, position, image_url, is_premium, energy_cost, texts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			storedID, s.Code, i, s.ImageURL, boolInt(s.IsPremium), s.EnergyCost, encodeLocalized(s.Texts)); err != nil {
			return fmt.Errorf("inserting scene %s: %w", s.Code, classifyError(err))
		}
		for j, c := range s.Choices {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO choices (story_id, scene_code, code, position, leads_to, is_premium, gem_cost,
				                     heat_points, requires_item, grants_item, labels)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				storedID, s.Code, c.Code, j, c.LeadsTo, boolInt(c.IsPremium), c.GemCost,
				c.HeatPoints, c.RequiresItem, c.GrantsItem, encodeLocalized(c.Labels)); err != nil {
				return fmt.Errorf("inserting choice %s/%s: %w", s.Code, c.Code, classifyError(err))
			}
		}
	}
	for i, it := range g.Catalog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_items (story_id, code, position, price_gems) VALUES (?, ?, ?, ?)`,
			storedID, it.Code, i, it.PriceGems); err != nil {
			return fmt.Errorf("inserting catalog item %s: %w", it.Code, classifyError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", classifyError(err))
	}
	g.ID = storedID
	r.logger.Info("Story saved", zap.String("storyCode", g.Code), zap.Stringer("storyID", storedID))
	return nil
}

func (r *contentRepository) ListStories(ctx context.Context) ([]interfaces.StorySummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT st.code, st.start_scene, COUNT(sc.code)
		FROM stories st LEFT JOIN scenes sc ON sc.story_id = st.id
		GROUP BY st.id ORDER BY st.code`)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", classifyError(err))
	}
	defer rows.Close()

	out := make([]interfaces.StorySummary, 0)
	for rows.Next() {
		var s interfaces.StorySummary
		if err := rows.Scan(&s.Code, &s.StartScene, &s.Scenes); err != nil {
			return nil, fmt.Errorf("scanning story summary: %w", err)
		}
		out = append(out, s)
	}
	return out, classifyError(rows.Err())
}

func encodeLocalized(l story.Localized) string {
	if len(l) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeLocalized(raw string) story.Localized {
	var l story.Localized
	if raw == "" {
		return l
	}
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return nil
	}
	return l
}
