package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"novel-engine/internal/database/sqlite"
	"novel-engine/internal/interfaces"
	"novel-engine/internal/ledger"
	"novel-engine/internal/messaging/mocks"
	"novel-engine/internal/models"
	"novel-engine/internal/service"
	"novel-engine/internal/story"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const player = "player-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   service.ProgressionService
	store *sqlite.Store
	clock *testClock
}

func setup(t *testing.T, publisher *mocks.EventPublisher) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "engine.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, file := range []string{"testdata/office_flirt.yaml", "testdata/loop_story.yaml"} {
		g, err := story.LoadFile(file)
		require.NoError(t, err)
		require.NoError(t, store.Content().SaveStory(ctx, g))
	}

	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := service.DefaultOptions()
	opts.Now = clock.Now
	opts.Retry.BaseDelay = time.Millisecond

	if publisher == nil {
		publisher = new(mocks.EventPublisher)
		publisher.On("PublishProgressEvent", mock.Anything, mock.Anything).Return(nil)
	}

	stories := service.NewStoryProvider(store.Content(), nil, time.Minute, logger)
	svc, err := service.NewProgressionService(store, stories, publisher, opts, logger)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) grant(t *testing.T, req models.GrantRequest) {
	t.Helper()
	_, err := f.svc.GrantResources(context.Background(), player, req)
	require.NoError(t, err)
}

func (f *fixture) choose(t *testing.T, storyCode, choice string) *models.StateView {
	t.Helper()
	view, err := f.svc.Choose(context.Background(), player, storyCode, choice, "en")
	require.NoError(t, err)
	return view
}

func TestGetState_NewPlayer(t *testing.T) {
	f := setup(t, nil)

	view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)

	assert.Equal(t, "office_flirt", view.StoryCode)
	assert.Equal(t, "intro", view.Scene.Code)
	assert.Equal(t, "Monday. A new colleague smiles at you across the desk.", view.Scene.Text)
	assert.Equal(t, 0, view.HeatScore)
	assert.Equal(t, 7, view.Player.Energy)
	assert.Equal(t, 7, view.Player.EnergyCap)
	assert.Equal(t, 0, view.Player.SecondsToNextEnergy)
	assert.False(t, view.Player.AgeConfirmed)
	assert.Empty(t, view.Player.Items)
	require.Len(t, view.Scene.Choices, 2)
	assert.Equal(t, "Smile back", view.Scene.Choices[0].Label)
	require.Len(t, view.Shop, 3)
	assert.Equal(t, models.ShopItemView{Code: "tshirt_your", PriceGems: 10}, view.Shop[0])

	t.Run("Localized to russian by default", func(t *testing.T) {
		view, err := f.svc.GetState(context.Background(), player, "office_flirt", "")
		require.NoError(t, err)
		assert.Equal(t, "ru", view.Language)
		assert.Equal(t, "Улыбнуться в ответ", view.Scene.Choices[0].Label)
	})

	t.Run("Unknown story", func(t *testing.T) {
		_, err := f.svc.GetState(context.Background(), player, "missing", "en")
		assert.ErrorIs(t, err, models.ErrStoryNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Empty player key", func(t *testing.T) {
		_, err := f.svc.GetState(context.Background(), " ", "office_flirt", "en")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestChoose_EnergyRegeneration(t *testing.T) {
	f := setup(t, nil)

	view := f.choose(t, "office_flirt", "smile_back")
	assert.Equal(t, "coffee", view.Scene.Code)
	assert.Equal(t, 1, view.HeatScore)
	assert.Equal(t, 6, view.Player.Energy)
	assert.Equal(t, 1800, view.Player.SecondsToNextEnergy)

	f.clock.Advance(10 * time.Minute)
	view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	assert.Equal(t, 6, view.Player.Energy)
	assert.Equal(t, 1200, view.Player.SecondsToNextEnergy)

	f.clock.Advance(20 * time.Minute)
	view, err = f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	assert.Equal(t, 7, view.Player.Energy)
	assert.Equal(t, 0, view.Player.SecondsToNextEnergy)
}

func TestChoose_PersistsServiceClock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.clock.Advance(90 * time.Minute)
	f.choose(t, "loop_story", "free")

	g, err := f.store.Content().LoadStory(ctx, "loop_story")
	require.NoError(t, err)
	p, err := f.store.Players().GetOrCreate(ctx, player, "en", func(id uuid.UUID) *ledger.Wallet {
		return ledger.DefaultPolicy().NewWallet(id, f.clock.Now())
	})
	require.NoError(t, err)

	err = f.store.InTx(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		progress, err := tx.Progress().Get(ctx, p.ID, g.ID)
		if err != nil {
			return err
		}
		wallet, err := tx.Wallets().GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		assert.True(t, f.clock.Now().Equal(progress.UpdatedAt), "progress stamp %s", progress.UpdatedAt)
		assert.True(t, f.clock.Now().Equal(wallet.UpdatedAt), "wallet stamp %s", wallet.UpdatedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestChoose_InvalidChoice(t *testing.T) {
	f := setup(t, nil)

	_, err := f.svc.Choose(context.Background(), player, "office_flirt", "invite_dinner", "en")
	assert.ErrorIs(t, err, models.ErrInvalidChoice)

	view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	assert.Equal(t, "intro", view.Scene.Code)
}

func TestChoose_GemsRequiredLeavesStateUnchanged(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "office_flirt", "smile_back")
	f.grant(t, models.GrantRequest{Gems: 2})

	_, err := f.svc.Choose(context.Background(), player, "office_flirt", "invite_dinner", "en")
	require.ErrorIs(t, err, models.ErrGemsRequired)
	assert.ErrorIs(t, err, models.ErrInsufficientResource)

	var gate *models.GateError
	require.True(t, errors.As(err, &gate))
	assert.Equal(t, 3, gate.Required)
	assert.Equal(t, 2, gate.Available)

	view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	assert.Equal(t, "coffee", view.Scene.Code)
	assert.Equal(t, 1, view.HeatScore)
	assert.Equal(t, 2, view.Player.Gems)
	assert.Equal(t, 6, view.Player.Energy)
}

func TestChoose_GemUnlockChargedOnce(t *testing.T) {
	f := setup(t, nil)
	f.grant(t, models.GrantRequest{Gems: 5})

	view := f.choose(t, "loop_story", "pay")
	assert.Equal(t, "room", view.Scene.Code)
	assert.Equal(t, 3, view.Player.Gems)

	f.choose(t, "loop_story", "back")
	view = f.choose(t, "loop_story", "pay")
	assert.Equal(t, 3, view.Player.Gems, "second entry must not charge again")

	t.Run("Restart clears unlocks", func(t *testing.T) {
		view, err := f.svc.Restart(context.Background(), player, "loop_story", "en")
		require.NoError(t, err)
		assert.Equal(t, "hub", view.Scene.Code)

		view = f.choose(t, "loop_story", "pay")
		assert.Equal(t, 1, view.Player.Gems)
	})
}

func TestChoose_EnergyRequiredOnEmptyWallet(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "loop_story", "free")
	f.grant(t, models.GrantRequest{Energy: -6})

	_, err := f.svc.Choose(context.Background(), player, "loop_story", "again", "en")
	require.ErrorIs(t, err, models.ErrEnergyRequired)

	view, err := f.svc.GetState(context.Background(), player, "loop_story", "en")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Player.Energy)
	assert.Equal(t, 0, view.HeatScore)
	assert.Equal(t, 1800, view.Player.SecondsToNextEnergy)
}

func TestChoose_ConcurrentSpendIsSerialized(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "loop_story", "free")
	f.grant(t, models.GrantRequest{Energy: -5})

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Choose(context.Background(), player, "loop_story", "again", "en")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, gated := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrEnergyRequired):
			gated++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, gated)

	view, err := f.svc.GetState(context.Background(), player, "loop_story", "en")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Player.Energy)
	assert.Equal(t, 1, view.HeatScore)
}

func TestChoose_ItemGate(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "office_flirt", "smile_back")
	f.choose(t, "office_flirt", "small_talk")

	_, err := f.svc.Choose(context.Background(), player, "office_flirt", "wear_shirt", "en")
	require.ErrorIs(t, err, models.ErrItemRequired)
	var gate *models.GateError
	require.True(t, errors.As(err, &gate))
	assert.Equal(t, "tshirt_your", gate.ItemCode)
	assert.Equal(t, 10, gate.PriceGems)

	view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	for _, c := range view.Scene.Choices {
		switch c.Code {
		case "wear_shirt", "vip_lounge":
			assert.True(t, c.Locked, c.Code)
		default:
			assert.False(t, c.Locked, c.Code)
		}
	}

	t.Run("Purchase unlocks the choice", func(t *testing.T) {
		f.grant(t, models.GrantRequest{Gems: 12})
		view, err := f.svc.BuyItem(context.Background(), player, "office_flirt", "tshirt_your", 10, "en")
		require.NoError(t, err)
		assert.Equal(t, 2, view.Player.Gems)
		assert.Equal(t, []string{"tshirt_your"}, view.Player.Items)

		view = f.choose(t, "office_flirt", "wear_shirt")
		// Маршрут выбирается по симпатии до начисления очков выбора.
		assert.Equal(t, "ending_hot", view.Scene.Code)
		assert.True(t, view.Scene.IsEnding)
		assert.Equal(t, 3, view.HeatScore)
	})
}

func TestChoose_GrantsItem(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "office_flirt", "ignore")

	view := f.choose(t, "office_flirt", "give_tshirt_your")
	assert.Equal(t, "dinner", view.Scene.Code)
	assert.Equal(t, []string{"tshirt_your"}, view.Player.Items)
	for _, it := range view.Shop {
		assert.Equal(t, it.Code == "tshirt_your", it.Owned, it.Code)
	}
}

func TestChoose_PremiumGates(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "office_flirt", "ignore")
	f.choose(t, "office_flirt", "small_talk")

	_, err := f.svc.Choose(context.Background(), player, "office_flirt", "vip_lounge", "en")
	require.ErrorIs(t, err, models.ErrPremiumRequired)

	t.Run("Subscription opens premium content", func(t *testing.T) {
		f.grant(t, models.GrantRequest{PremiumDays: 1})
		view := f.choose(t, "office_flirt", "vip_lounge")
		assert.Equal(t, "vip", view.Scene.Code)
		assert.True(t, view.Player.IsPremium)
	})

	t.Run("Expired subscription", func(t *testing.T) {
		f.clock.Advance(25 * time.Hour)
		view, err := f.svc.GetState(context.Background(), player, "office_flirt", "en")
		require.NoError(t, err)
		assert.False(t, view.Player.IsPremium)
	})
}

func TestChoose_DestinationPremiumGate(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	g, err := story.LoadFile("testdata/office_flirt.yaml")
	require.NoError(t, err)
	g.Code = "premium_route"
	dinner, _ := g.Scene("dinner")
	vip, _ := dinner.Choice("vip_lounge")
	vip.IsPremium = false
	require.NoError(t, f.store.Content().SaveStory(ctx, g))

	_, err = f.svc.Choose(ctx, player, "premium_route", "ignore", "en")
	require.NoError(t, err)
	_, err = f.svc.Choose(ctx, player, "premium_route", "small_talk", "en")
	require.NoError(t, err)

	_, err = f.svc.Choose(ctx, player, "premium_route", "vip_lounge", "en")
	assert.ErrorIs(t, err, models.ErrPremiumRequired)
}

func TestChoose_AffinityRouting(t *testing.T) {
	cases := []struct {
		name    string
		path    []string
		gems    int
		heat    int
		ending  string
		premium bool
	}{
		{name: "Heat 0 routes soft", path: []string{"ignore", "small_talk", "say_goodnight"}, heat: 0, ending: "ending_soft"},
		{name: "Heat 2 routes hot", path: []string{"ignore", "invite_dinner", "say_goodnight"}, gems: 3, heat: 2, ending: "ending_hot"},
		{name: "Heat 3 routes max", path: []string{"smile_back", "invite_dinner", "say_goodnight"}, gems: 3, heat: 3, ending: "ending_max"},
		{name: "Heat accrued on the routing choice is not counted", path: []string{"ignore", "small_talk", "vip_lounge", "stay"}, premium: true, heat: 3, ending: "ending_soft"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, nil)
			f.grant(t, models.GrantRequest{Gems: tc.gems, Premium: tc.premium})

			var view *models.StateView
			for _, c := range tc.path {
				view = f.choose(t, "office_flirt", c)
			}
			assert.Equal(t, tc.ending, view.Scene.Code)
			assert.Equal(t, tc.heat, view.HeatScore)
			assert.Empty(t, view.Scene.Choices)
		})
	}
}

func TestRestart_KeepsItems(t *testing.T) {
	f := setup(t, nil)
	f.choose(t, "office_flirt", "smile_back")
	f.choose(t, "office_flirt", "give_tshirt_your")

	view, err := f.svc.Restart(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)
	assert.Equal(t, "intro", view.Scene.Code)
	assert.Equal(t, 0, view.HeatScore)
	assert.Equal(t, []string{"tshirt_your"}, view.Player.Items)
}

func TestBuyItem(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.grant(t, models.GrantRequest{Gems: 20})

	view, err := f.svc.BuyItem(ctx, player, "office_flirt", "whip", 15, "en")
	require.NoError(t, err)
	assert.Equal(t, 5, view.Player.Gems)

	t.Run("Owned item is a no-op", func(t *testing.T) {
		view, err := f.svc.BuyItem(ctx, player, "office_flirt", "whip", 15, "en")
		require.NoError(t, err)
		assert.Equal(t, 5, view.Player.Gems)
		assert.Equal(t, []string{"whip"}, view.Player.Items)
	})

	t.Run("Owned item with a different price is a no-op", func(t *testing.T) {
		view, err := f.svc.BuyItem(ctx, player, "office_flirt", "whip", 0, "en")
		require.NoError(t, err)
		assert.Equal(t, 5, view.Player.Gems)
		assert.Equal(t, []string{"whip"}, view.Player.Items)
	})

	t.Run("Price mismatch", func(t *testing.T) {
		_, err := f.svc.BuyItem(ctx, player, "office_flirt", "sport_top_red", 1, "en")
		assert.ErrorIs(t, err, models.ErrPriceMismatch)
	})

	t.Run("Not enough gems", func(t *testing.T) {
		_, err := f.svc.BuyItem(ctx, player, "office_flirt", "tshirt_your", 10, "en")
		assert.ErrorIs(t, err, models.ErrGemsRequired)

		view, err := f.svc.GetState(ctx, player, "office_flirt", "en")
		require.NoError(t, err)
		assert.Equal(t, 5, view.Player.Gems)
		assert.Equal(t, []string{"whip"}, view.Player.Items)
	})

	t.Run("Off-catalog item uses the requested price", func(t *testing.T) {
		view, err := f.svc.BuyItem(ctx, player, "office_flirt", "promo_badge", 2, "en")
		require.NoError(t, err)
		assert.Equal(t, 3, view.Player.Gems)
		assert.Equal(t, []string{"whip", "promo_badge"}, view.Player.Items)
	})

	t.Run("Empty item code", func(t *testing.T) {
		_, err := f.svc.BuyItem(ctx, player, "office_flirt", "", 2, "en")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestSetAgeConsent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.SetAgeConsent(ctx, player, true))
	view, err := f.svc.GetState(ctx, player, "office_flirt", "en")
	require.NoError(t, err)
	assert.True(t, view.Player.AgeConfirmed)

	require.NoError(t, f.svc.SetAgeConsent(ctx, player, false))
	view, err = f.svc.GetState(ctx, player, "office_flirt", "en")
	require.NoError(t, err)
	assert.False(t, view.Player.AgeConfirmed)
}

func TestGrantResources(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	w, err := f.svc.GrantResources(ctx, player, models.GrantRequest{Energy: 5, Gems: 10})
	require.NoError(t, err)
	assert.Equal(t, 12, w.Energy, "grants may exceed the regeneration cap")
	assert.Equal(t, 10, w.Gems)

	w, err = f.svc.GrantResources(ctx, player, models.GrantRequest{Gems: -50})
	require.NoError(t, err)
	assert.Equal(t, 0, w.Gems)

	_, err = f.svc.GrantResources(ctx, player, models.GrantRequest{PremiumDays: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestChoose_PublishesEvents(t *testing.T) {
	publisher := new(mocks.EventPublisher)
	publisher.On("PublishProgressEvent", mock.Anything, mock.MatchedBy(func(e models.ProgressEvent) bool {
		return e.Type == models.EventChoiceMade
	})).Return(nil).Times(3)
	publisher.On("PublishProgressEvent", mock.Anything, mock.MatchedBy(func(e models.ProgressEvent) bool {
		return e.Type == models.EventEndingReached && e.SceneCode == "ending_soft"
	})).Return(nil).Once()
	publisher.On("PublishProgressEvent", mock.Anything, mock.MatchedBy(func(e models.ProgressEvent) bool {
		return e.Type == models.EventStoryRestarted
	})).Return(errors.New("broker down")).Once()

	f := setup(t, publisher)
	f.choose(t, "office_flirt", "ignore")
	f.choose(t, "office_flirt", "small_talk")
	f.choose(t, "office_flirt", "say_goodnight")

	// Ошибка публикации не влияет на результат операции.
	_, err := f.svc.Restart(context.Background(), player, "office_flirt", "en")
	require.NoError(t, err)

	publisher.AssertExpectations(t)
}
