package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	_ interfaces.PlayerRepository     = (*playerRepository)(nil)
	_ interfaces.WalletRepository     = (*walletRepository)(nil)
	_ interfaces.ProgressRepository   = (*progressRepository)(nil)
	_ interfaces.UnlockRepository     = (*unlockRepository)(nil)
	_ interfaces.AgeConsentRepository = (*consentRepository)(nil)
)

type playerRepository struct {
	q      querier
	logger *zap.Logger
}

func newPlayerRepository(q querier, logger *zap.Logger) *playerRepository {
	return &playerRepository{q: q, logger: logger.Named("SQLitePlayerRepo")}
}

const selectPlayerColumns = `SELECT id, external_key, language, is_premium, created_at FROM players`

func scanPlayer(row *sql.Row) (*models.Player, error) {
	var (
		p         models.Player
		premium   int
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.ExternalKey, &p.Language, &premium, &createdAt); err != nil {
		return nil, err
	}
	p.IsPremium = premium != 0
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return &p, nil
}

// GetOrCreate вставляет игрока и кошелек через INSERT OR IGNORE: обе вставки идемпотентны,
// поэтому повторный вызов достраивает запись, прерванную между ними.
func (r *playerRepository) GetOrCreate(ctx context.Context, externalKey, language string, wallet func(uuid.UUID) *ledger.Wallet) (*models.Player, error) {
	now := time.Now().UTC()
	if _, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO players (id, external_key, language, is_premium, created_at) VALUES (?, ?, ?, 0, ?)`,
		uuid.New(), externalKey, language, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("inserting player: %w", classifyError(err))
	}

	p, err := scanPlayer(r.q.QueryRowContext(ctx, selectPlayerColumns+` WHERE external_key = ?`, externalKey))
	if err != nil {
		return nil, fmt.Errorf("reading player: %w", classifyError(err))
	}

	w := wallet(p.ID)
	res, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (player_id, energy, gems, premium_until, last_regen_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, w.Energy, w.Gems, nanos(w.PremiumUntil), nanos(w.LastRegenAt), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("inserting wallet: %w", classifyError(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.logger.Info("Player registered", zap.String("externalKey", externalKey), zap.Stringer("playerID", p.ID))
	}
	return p, nil
}

func (r *playerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	p, err := scanPlayer(r.q.QueryRowContext(ctx, selectPlayerColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("reading player %s: %w", id, classifyError(err))
	}
	return p, nil
}

func (r *playerRepository) SetPremium(ctx context.Context, id uuid.UUID, premium bool) error {
	res, err := r.q.ExecContext(ctx, `UPDATE players SET is_premium = ? WHERE id = ?`, boolInt(premium), id)
	if err != nil {
		return fmt.Errorf("updating premium flag: %w", classifyError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPlayerNotFound
	}
	return nil
}

type walletRepository struct {
	q querier
}

// GetForUpdate не берет блокировку строки: единственное соединение уже сериализует транзакции.
func (r *walletRepository) GetForUpdate(ctx context.Context, playerID uuid.UUID) (*ledger.Wallet, error) {
	var (
		w                   ledger.Wallet
		premiumUntil, regen sql.NullInt64
		updatedAt           int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT player_id, energy, gems, premium_until, last_regen_at, updated_at FROM wallets WHERE player_id = ?`,
		playerID).Scan(&w.PlayerID, &w.Energy, &w.Gems, &premiumUntil, &regen, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet for player %s: %w", playerID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("reading wallet: %w", classifyError(err))
	}
	w.PremiumUntil = fromNanos(premiumUntil)
	w.LastRegenAt = fromNanos(regen)
	w.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &w, nil
}

func (r *walletRepository) Save(ctx context.Context, w *ledger.Wallet) error {
	w.UpdatedAt = stampOrNow(w.UpdatedAt)
	res, err := r.q.ExecContext(ctx,
		`UPDATE wallets SET energy = ?, gems = ?, premium_until = ?, last_regen_at = ?, updated_at = ? WHERE player_id = ?`,
		w.Energy, w.Gems, nanos(w.PremiumUntil), nanos(w.LastRegenAt), w.UpdatedAt.UnixNano(), w.PlayerID)
	if err != nil {
		return fmt.Errorf("saving wallet: %w", classifyError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wallet for player %s: %w", w.PlayerID, models.ErrNotFound)
	}
	return nil
}

type progressRepository struct {
	q querier
}

func (r *progressRepository) Get(ctx context.Context, playerID, storyID uuid.UUID) (*models.Progress, error) {
	var (
		p         models.Progress
		updatedAt int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT player_id, story_id, scene_code, heat_score, updated_at FROM progress WHERE player_id = ? AND story_id = ?`,
		playerID, storyID).Scan(&p.PlayerID, &p.StoryID, &p.SceneCode, &p.HeatScore, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("reading progress: %w", classifyError(err))
	}
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}

func (r *progressRepository) Create(ctx context.Context, p *models.Progress) (*models.Progress, error) {
	p.UpdatedAt = stampOrNow(p.UpdatedAt)
	if _, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO progress (player_id, story_id, scene_code, heat_score, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.PlayerID, p.StoryID, p.SceneCode, p.HeatScore, p.UpdatedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("creating progress: %w", classifyError(err))
	}
	return r.Get(ctx, p.PlayerID, p.StoryID)
}

func (r *progressRepository) Save(ctx context.Context, p *models.Progress) error {
	p.UpdatedAt = stampOrNow(p.UpdatedAt)
	res, err := r.q.ExecContext(ctx,
		`UPDATE progress SET scene_code = ?, heat_score = ?, updated_at = ? WHERE player_id = ? AND story_id = ?`,
		p.SceneCode, p.HeatScore, p.UpdatedAt.UnixNano(), p.PlayerID, p.StoryID)
	if err != nil {
		return fmt.Errorf("saving progress: %w", classifyError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type unlockRepository struct {
	q querier
}

func (r *unlockRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, classifyError(err)
	}
	return n > 0, nil
}

func (r *unlockRepository) HasGemUnlock(ctx context.Context, playerID, storyID uuid.UUID, sceneCode string) (bool, error) {
	ok, err := r.exists(ctx,
		`SELECT COUNT(1) FROM gem_unlocks WHERE player_id = ? AND story_id = ? AND scene_code = ?`,
		playerID, storyID, sceneCode)
	if err != nil {
		return false, fmt.Errorf("checking gem unlock: %w", err)
	}
	return ok, nil
}

func (r *unlockRepository) RecordGemUnlock(ctx context.Context, u *models.GemUnlock) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if _, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO gem_unlocks (player_id, story_id, scene_code, gems_spent, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.PlayerID, u.StoryID, u.SceneCode, u.GemsSpent, u.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("recording gem unlock: %w", classifyError(err))
	}
	return nil
}

func (r *unlockRepository) ClearGemUnlocks(ctx context.Context, playerID, storyID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM gem_unlocks WHERE player_id = ? AND story_id = ?`, playerID, storyID); err != nil {
		return fmt.Errorf("clearing gem unlocks: %w", classifyError(err))
	}
	return nil
}

func (r *unlockRepository) HasItem(ctx context.Context, playerID, storyID uuid.UUID, itemCode string) (bool, error) {
	ok, err := r.exists(ctx,
		`SELECT COUNT(1) FROM owned_items WHERE player_id = ? AND story_id = ? AND item_code = ?`,
		playerID, storyID, itemCode)
	if err != nil {
		return false, fmt.Errorf("checking item: %w", err)
	}
	return ok, nil
}

func (r *unlockRepository) GrantItem(ctx context.Context, item *models.OwnedItem) (bool, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO owned_items (player_id, story_id, item_code, seq, created_at)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM owned_items WHERE player_id = ? AND story_id = ?), ?)`,
		item.PlayerID, item.StoryID, item.ItemCode, item.PlayerID, item.StoryID, item.CreatedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("granting item: %w", classifyError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *unlockRepository) ListItems(ctx context.Context, playerID, storyID uuid.UUID) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT item_code FROM owned_items WHERE player_id = ? AND story_id = ? ORDER BY seq`, playerID, storyID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", classifyError(err))
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", classifyError(err))
	}
	return items, nil
}

type consentRepository struct {
	q querier
}

func (r *consentRepository) Has(ctx context.Context, playerID uuid.UUID) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM age_consents WHERE player_id = ?`, playerID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking age consent: %w", classifyError(err))
	}
	return n > 0, nil
}

func (r *consentRepository) Confirm(ctx context.Context, playerID uuid.UUID, at time.Time) error {
	if _, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO age_consents (player_id, confirmed_at) VALUES (?, ?)`, playerID, at.UTC().UnixNano()); err != nil {
		return fmt.Errorf("confirming age: %w", classifyError(err))
	}
	return nil
}

func (r *consentRepository) Revoke(ctx context.Context, playerID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM age_consents WHERE player_id = ?`, playerID); err != nil {
		return fmt.Errorf("revoking age consent: %w", classifyError(err))
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
