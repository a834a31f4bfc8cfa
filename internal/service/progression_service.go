package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/models"
	"novel-engine/internal/story"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressionService - внешний контракт движка прогрессии.
// Каждая операция выполняется одной транзакцией и возвращает снимок состояния после нее.
type ProgressionService interface {
	GetState(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error)
	Choose(ctx context.Context, playerKey, storyCode, choiceCode, lang string) (*models.StateView, error)
	Restart(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error)
	BuyItem(ctx context.Context, playerKey, storyCode, itemCode string, priceGems int, lang string) (*models.StateView, error)

	// GrantResources начисляет ресурсы оператором (dev-эндпоинт и storyctl grant).
	GrantResources(ctx context.Context, playerKey string, req models.GrantRequest) (*ledger.Wallet, error)
	// SetAgeConsent подтверждает или отзывает подтверждение возраста.
	SetAgeConsent(ctx context.Context, playerKey string, agree bool) error
}

// Options - параметры движка.
type Options struct {
	Policy          ledger.Policy
	Retry           RetryPolicy
	DefaultLanguage string
	// Now подменяется в тестах.
	Now func() time.Time
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		Policy:          ledger.DefaultPolicy(),
		Retry:           DefaultRetryPolicy(),
		DefaultLanguage: models.DefaultLanguage,
		Now:             time.Now,
	}
}

type progressionServiceImpl struct {
	store     interfaces.Store
	stories   StoryProvider
	publisher interfaces.EventPublisher
	opts      Options
	logger    *zap.Logger
}

// NewProgressionService создает сервис. publisher может быть nil.
func NewProgressionService(store interfaces.Store, stories StoryProvider, publisher interfaces.EventPublisher, opts Options, logger *zap.Logger) (ProgressionService, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = models.DefaultLanguage
	}
	return &progressionServiceImpl{
		store:     store,
		stories:   stories,
		publisher: publisher,
		opts:      opts,
		logger:    logger.Named("ProgressionService"),
	}, nil
}

// session - состояние игрока в истории, заблокированное в текущей транзакции.
type session struct {
	tx       interfaces.Tx
	graph    *story.Graph
	player   *models.Player
	wallet   *ledger.Wallet
	progress *models.Progress
	now      time.Time
}

func (s *session) premiumActive() bool {
	return s.wallet.PremiumActive(s.player.IsPremium, s.now)
}

func (s *progressionServiceImpl) GetState(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error) {
	var view *models.StateView
	err := s.withSession(ctx, playerKey, storyCode, func(ctx context.Context, sess *session) error {
		var err error
		view, err = s.project(ctx, sess, lang)
		return err
	})
	s.observe("get_state", err)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *progressionServiceImpl) Choose(ctx context.Context, playerKey, storyCode, choiceCode, lang string) (*models.StateView, error) {
	var (
		view  *models.StateView
		event models.ProgressEvent
	)
	err := s.withSession(ctx, playerKey, storyCode, func(ctx context.Context, sess *session) error {
		var err error
		event, err = s.transition(ctx, sess, choiceCode)
		if err != nil {
			return err
		}
		view, err = s.project(ctx, sess, lang)
		return err
	})
	s.observe("choose", err)
	if err != nil {
		s.logger.Debug("Choice rejected",
			zap.String("player", playerKey), zap.String("story", storyCode),
			zap.String("choice", choiceCode), zap.Error(err))
		return nil, err
	}
	s.publish(ctx, event)
	if view.Scene.IsEnding {
		ending := event
		ending.EventID = uuid.NewString()
		ending.Type = models.EventEndingReached
		ending.ChoiceCode = ""
		ending.GemsSpent, ending.EnergySpent = 0, 0
		s.publish(ctx, ending)
	}
	return view, nil
}

// transition выполняет шаги перехода по выбору. Регенерация уже выполнена в loadSession.
// Любая ошибка откатывает транзакцию целиком, поэтому промежуточные изменения кошелька не сохраняются.
func (s *progressionServiceImpl) transition(ctx context.Context, sess *session, choiceCode string) (models.ProgressEvent, error) {
	g := sess.graph
	current, ok := g.Scene(sess.progress.SceneCode)
	if !ok {
		return models.ProgressEvent{}, fmt.Errorf("%w: current scene %q of story %q", models.ErrSceneNotFound, sess.progress.SceneCode, g.Code)
	}
	choice, ok := current.Choice(choiceCode)
	if !ok {
		return models.ProgressEvent{}, fmt.Errorf("%w: %q is not available in scene %q", models.ErrInvalidChoice, choiceCode, current.Code)
	}

	unlocks := sess.tx.Unlocks()

	// Предмет
	if choice.RequiresItem != "" {
		owned, err := unlocks.HasItem(ctx, sess.player.ID, g.ID, choice.RequiresItem)
		if err != nil {
			return models.ProgressEvent{}, err
		}
		if !owned {
			price, _ := g.CatalogPrice(choice.RequiresItem)
			gate := models.NewGateError(models.ErrItemRequired, nil)
			gate.ItemCode = choice.RequiresItem
			gate.PriceGems = price
			gateRejectionsTotal.WithLabelValues("item").Inc()
			return models.ProgressEvent{}, gate
		}
	}

	// Премиум выбора
	if choice.IsPremium && !sess.premiumActive() {
		gateRejectionsTotal.WithLabelValues("premium_choice").Inc()
		return models.ProgressEvent{}, models.NewGateError(models.ErrPremiumRequired, nil)
	}

	// Одноразовая оплата сцены
	gemsSpent := 0
	if choice.GemCost > 0 {
		unlocked, err := unlocks.HasGemUnlock(ctx, sess.player.ID, g.ID, current.Code)
		if err != nil {
			return models.ProgressEvent{}, err
		}
		if !unlocked {
			if err := sess.wallet.SpendGems(choice.GemCost); err != nil {
				gate := models.NewGateError(models.ErrGemsRequired, err)
				gate.Required = choice.GemCost
				gate.Available = sess.wallet.Gems
				gateRejectionsTotal.WithLabelValues("gems").Inc()
				return models.ProgressEvent{}, gate
			}
			err = unlocks.RecordGemUnlock(ctx, &models.GemUnlock{
				PlayerID:  sess.player.ID,
				StoryID:   g.ID,
				SceneCode: current.Code,
				GemsSpent: choice.GemCost,
				CreatedAt: sess.now,
			})
			if err != nil {
				return models.ProgressEvent{}, err
			}
			gemsSpent = choice.GemCost
		}
	}

	destCode := g.Destination(choice, sess.progress.HeatScore)
	dest, ok := g.Scene(destCode)
	if !ok {
		return models.ProgressEvent{}, fmt.Errorf("%w: destination %q of choice %q", models.ErrSceneNotFound, destCode, choice.Code)
	}

	// Премиум сцены назначения
	if dest.IsPremium && !sess.premiumActive() {
		gateRejectionsTotal.WithLabelValues("premium_scene").Inc()
		return models.ProgressEvent{}, models.NewGateError(models.ErrPremiumRequired, nil)
	}

	if dest.EnergyCost > 0 {
		if err := sess.wallet.SpendEnergy(dest.EnergyCost); err != nil {
			gate := models.NewGateError(models.ErrEnergyRequired, err)
			gate.Required = dest.EnergyCost
			gate.Available = sess.wallet.Energy
			gateRejectionsTotal.WithLabelValues("energy").Inc()
			return models.ProgressEvent{}, gate
		}
	}

	if choice.HeatPoints > 0 {
		sess.progress.HeatScore += choice.HeatPoints
	}

	if choice.GrantsItem != "" {
		if _, err := unlocks.GrantItem(ctx, &models.OwnedItem{
			PlayerID:  sess.player.ID,
			StoryID:   g.ID,
			ItemCode:  choice.GrantsItem,
			CreatedAt: sess.now,
		}); err != nil {
			return models.ProgressEvent{}, err
		}
	}

	sess.progress.SceneCode = dest.Code
	sess.progress.UpdatedAt = sess.now
	if err := sess.tx.Progress().Save(ctx, sess.progress); err != nil {
		return models.ProgressEvent{}, err
	}
	if err := s.saveWallet(ctx, sess); err != nil {
		return models.ProgressEvent{}, err
	}

	return models.ProgressEvent{
		EventID:     uuid.NewString(),
		Type:        models.EventChoiceMade,
		PlayerID:    sess.player.ID,
		StoryCode:   g.Code,
		SceneCode:   dest.Code,
		ChoiceCode:  choice.Code,
		GemsSpent:   gemsSpent,
		EnergySpent: dest.EnergyCost,
		HeatScore:   sess.progress.HeatScore,
		OccurredAt:  sess.now,
	}, nil
}

func (s *progressionServiceImpl) Restart(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error) {
	var (
		view     *models.StateView
		playerID uuid.UUID
	)
	err := s.withSession(ctx, playerKey, storyCode, func(ctx context.Context, sess *session) error {
		if _, ok := sess.graph.Scene(sess.graph.StartScene); !ok {
			return fmt.Errorf("%w: start scene %q of story %q", models.ErrSceneNotFound, sess.graph.StartScene, sess.graph.Code)
		}
		if err := sess.tx.Unlocks().ClearGemUnlocks(ctx, sess.player.ID, sess.graph.ID); err != nil {
			return err
		}
		sess.progress.SceneCode = sess.graph.StartScene
		sess.progress.HeatScore = 0
		sess.progress.UpdatedAt = sess.now
		if err := sess.tx.Progress().Save(ctx, sess.progress); err != nil {
			return err
		}
		playerID = sess.player.ID

		var err error
		view, err = s.project(ctx, sess, lang)
		return err
	})
	s.observe("restart", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.ProgressEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventStoryRestarted,
		PlayerID:   playerID,
		StoryCode:  view.StoryCode,
		SceneCode:  view.Scene.Code,
		OccurredAt: s.opts.Now().UTC(),
	})
	return view, nil
}

func (s *progressionServiceImpl) BuyItem(ctx context.Context, playerKey, storyCode, itemCode string, priceGems int, lang string) (*models.StateView, error) {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" {
		return nil, fmt.Errorf("%w: item code is required", models.ErrInvalidInput)
	}

	var (
		view      *models.StateView
		event     models.ProgressEvent
		purchased bool
	)
	err := s.withSession(ctx, playerKey, storyCode, func(ctx context.Context, sess *session) error {
		purchased = false
		unlocks := sess.tx.Unlocks()
		owned, err := unlocks.HasItem(ctx, sess.player.ID, sess.graph.ID, itemCode)
		if err != nil {
			return err
		}
		// Для предмета, который уже есть, цена не проверяется.
		if !owned {
			cost := max(0, priceGems)
			if catalogPrice, ok := sess.graph.CatalogPrice(itemCode); ok {
				if catalogPrice != priceGems {
					return fmt.Errorf("%w: %q costs %d, got %d", models.ErrPriceMismatch, itemCode, catalogPrice, priceGems)
				}
				cost = catalogPrice
			}
			if err := sess.wallet.SpendGems(cost); err != nil {
				gate := models.NewGateError(models.ErrGemsRequired, err)
				gate.Required = cost
				gate.Available = sess.wallet.Gems
				gateRejectionsTotal.WithLabelValues("gems").Inc()
				return gate
			}
			if _, err := unlocks.GrantItem(ctx, &models.OwnedItem{
				PlayerID:  sess.player.ID,
				StoryID:   sess.graph.ID,
				ItemCode:  itemCode,
				CreatedAt: sess.now,
			}); err != nil {
				return err
			}
			if err := s.saveWallet(ctx, sess); err != nil {
				return err
			}
			purchased = true
			event = models.ProgressEvent{
				EventID:    uuid.NewString(),
				Type:       models.EventItemPurchased,
				PlayerID:   sess.player.ID,
				StoryCode:  sess.graph.Code,
				SceneCode:  sess.progress.SceneCode,
				ItemCode:   itemCode,
				GemsSpent:  cost,
				HeatScore:  sess.progress.HeatScore,
				OccurredAt: sess.now,
			}
		}

		view, err = s.project(ctx, sess, lang)
		return err
	})
	s.observe("buy_item", err)
	if err != nil {
		return nil, err
	}
	if purchased {
		s.publish(ctx, event)
	}
	return view, nil
}

func (s *progressionServiceImpl) GrantResources(ctx context.Context, playerKey string, req models.GrantRequest) (*ledger.Wallet, error) {
	if req.PremiumDays < 0 {
		return nil, fmt.Errorf("%w: premium days must not be negative", models.ErrInvalidInput)
	}
	player, err := s.resolvePlayer(ctx, playerKey)
	if err != nil {
		return nil, err
	}

	var wallet *ledger.Wallet
	err = runInTx(ctx, s.store, s.opts.Retry, s.logger, func(ctx context.Context, tx interfaces.Tx) error {
		now := s.opts.Now().UTC()
		w, err := tx.Wallets().GetForUpdate(ctx, player.ID)
		if err != nil {
			return err
		}
		s.regenerate(w, now)
		w.AddEnergy(req.Energy)
		w.AddGems(req.Gems)
		w.ExtendPremium(req.PremiumDays, now)
		w.UpdatedAt = now
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return err
		}
		if req.Premium {
			if err := tx.Players().SetPremium(ctx, player.ID, true); err != nil {
				return err
			}
		}
		wallet = w
		return nil
	})
	s.observe("grant", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resources granted",
		zap.String("player", playerKey), zap.Int("energy", req.Energy), zap.Int("gems", req.Gems),
		zap.Bool("premium", req.Premium), zap.Int("premiumDays", req.PremiumDays))
	s.publish(ctx, models.ProgressEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventResourcesGranted,
		PlayerID:   player.ID,
		OccurredAt: s.opts.Now().UTC(),
	})
	return wallet, nil
}

func (s *progressionServiceImpl) SetAgeConsent(ctx context.Context, playerKey string, agree bool) error {
	player, err := s.resolvePlayer(ctx, playerKey)
	if err != nil {
		return err
	}
	err = runInTx(ctx, s.store, s.opts.Retry, s.logger, func(ctx context.Context, tx interfaces.Tx) error {
		if agree {
			return tx.Consents().Confirm(ctx, player.ID, s.opts.Now().UTC())
		}
		return tx.Consents().Revoke(ctx, player.ID)
	})
	s.observe("age_consent", err)
	return err
}

// withSession загружает граф вне транзакции, затем выполняет fn над заблокированным состоянием игрока.
func (s *progressionServiceImpl) withSession(ctx context.Context, playerKey, storyCode string, fn func(ctx context.Context, sess *session) error) error {
	storyCode = strings.TrimSpace(storyCode)
	if storyCode == "" {
		return fmt.Errorf("%w: story code is required", models.ErrInvalidInput)
	}
	graph, err := s.stories.Story(ctx, storyCode)
	if err != nil {
		return err
	}
	player, err := s.resolvePlayer(ctx, playerKey)
	if err != nil {
		return err
	}

	return runInTx(ctx, s.store, s.opts.Retry, s.logger, func(ctx context.Context, tx interfaces.Tx) error {
		sess, err := s.loadSession(ctx, tx, graph, player.ID)
		if err != nil {
			return err
		}
		return fn(ctx, sess)
	})
}

func (s *progressionServiceImpl) loadSession(ctx context.Context, tx interfaces.Tx, graph *story.Graph, playerID uuid.UUID) (*session, error) {
	now := s.opts.Now().UTC()

	// Блокировка кошелька сериализует все операции игрока.
	wallet, err := tx.Wallets().GetForUpdate(ctx, playerID)
	if err != nil {
		return nil, err
	}
	player, err := tx.Players().GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}

	energyBefore, stampBefore := wallet.Energy, wallet.LastRegenAt
	s.regenerate(wallet, now)
	if wallet.Energy != energyBefore || stampBefore == nil {
		wallet.UpdatedAt = now
		if err := tx.Wallets().Save(ctx, wallet); err != nil {
			return nil, err
		}
	}

	progress, err := tx.Progress().Get(ctx, playerID, graph.ID)
	if errors.Is(err, models.ErrNotFound) {
		progress, err = tx.Progress().Create(ctx, &models.Progress{
			PlayerID:  playerID,
			StoryID:   graph.ID,
			SceneCode: graph.StartScene,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return nil, err
	}

	return &session{tx: tx, graph: graph, player: player, wallet: wallet, progress: progress, now: now}, nil
}

func (s *progressionServiceImpl) regenerate(w *ledger.Wallet, now time.Time) {
	before := w.Energy
	s.opts.Policy.Regenerate(w, now)
	if gained := w.Energy - before; gained > 0 {
		energyRegeneratedTotal.Add(float64(gained))
	}
}

func (s *progressionServiceImpl) saveWallet(ctx context.Context, sess *session) error {
	sess.wallet.UpdatedAt = sess.now
	return sess.tx.Wallets().Save(ctx, sess.wallet)
}

func (s *progressionServiceImpl) project(ctx context.Context, sess *session, lang string) (*models.StateView, error) {
	scene, ok := sess.graph.Scene(sess.progress.SceneCode)
	if !ok {
		return nil, fmt.Errorf("%w: current scene %q of story %q", models.ErrSceneNotFound, sess.progress.SceneCode, sess.graph.Code)
	}
	items, err := sess.tx.Unlocks().ListItems(ctx, sess.player.ID, sess.graph.ID)
	if err != nil {
		return nil, err
	}
	confirmed, err := sess.tx.Consents().Has(ctx, sess.player.ID)
	if err != nil {
		return nil, err
	}

	fallback := sess.graph.DefaultLanguage
	if fallback == "" {
		fallback = s.opts.DefaultLanguage
	}
	if lang == "" {
		lang = sess.player.Language
	}

	return project(snapshot{
		graph:        sess.graph,
		scene:        scene,
		player:       sess.player,
		wallet:       sess.wallet,
		progress:     sess.progress,
		items:        items,
		ageConfirmed: confirmed,
		lang:         story.NormalizeLanguage(lang, fallback),
	}, s.opts.Policy, sess.now), nil
}

func (s *progressionServiceImpl) resolvePlayer(ctx context.Context, playerKey string) (*models.Player, error) {
	playerKey = strings.TrimSpace(playerKey)
	if playerKey == "" {
		return nil, fmt.Errorf("%w: player key is required", models.ErrUnauthorized)
	}
	return s.store.Players().GetOrCreate(ctx, playerKey, s.opts.DefaultLanguage, func(id uuid.UUID) *ledger.Wallet {
		return s.opts.Policy.NewWallet(id, s.opts.Now())
	})
}

// publish отправляет событие после фиксации. Ошибки только логируются: состояние уже сохранено.
func (s *progressionServiceImpl) publish(ctx context.Context, event models.ProgressEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProgressEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish progress event",
			zap.String("eventID", event.EventID), zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (s *progressionServiceImpl) observe(operation string, err error) {
	result := "ok"
	var gate *models.GateError
	switch {
	case err == nil:
	case errors.As(err, &gate):
		result = "gated"
	case errors.Is(err, models.ErrTxConflict), errors.Is(err, models.ErrStorageUnavailable):
		result = "unavailable"
	default:
		result = "rejected"
	}
	transitionsTotal.WithLabelValues(operation, result).Inc()
}
