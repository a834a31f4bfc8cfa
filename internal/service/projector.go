package service

import (
	"time"

	"novel-engine/internal/ledger"
	"novel-engine/internal/models"
	"novel-engine/internal/story"
)

// snapshot - все, что нужно для построения StateView, прочитанное в одной транзакции.
type snapshot struct {
	graph        *story.Graph
	scene        *story.Scene
	player       *models.Player
	wallet       *ledger.Wallet
	progress     *models.Progress
	items        []string
	ageConfirmed bool
	lang         string
}

// project строит снимок состояния. Функция не меняет кошелек:
// восстановление на момент now выполняется на копии.
func project(s snapshot, policy ledger.Policy, now time.Time) *models.StateView {
	walletCopy := *s.wallet
	seconds := policy.Regenerate(&walletCopy, now)
	premium := s.wallet.PremiumActive(s.player.IsPremium, now)

	owned := make(map[string]struct{}, len(s.items))
	for _, code := range s.items {
		owned[code] = struct{}{}
	}

	items := make([]string, len(s.items))
	copy(items, s.items)

	view := &models.StateView{
		StoryCode: s.graph.Code,
		Language:  s.lang,
		HeatScore: s.progress.HeatScore,
		Scene: models.SceneView{
			Code:       s.scene.Code,
			Text:       s.graph.SceneText(s.scene, s.lang),
			ImageURL:   s.scene.ImageURL,
			IsPremium:  s.scene.IsPremium,
			EnergyCost: s.scene.EnergyCost,
			IsEnding:   s.scene.IsEnding(),
			Choices:    make([]models.ChoiceView, 0, len(s.scene.Choices)),
		},
		Player: models.PlayerView{
			Energy:              walletCopy.Energy,
			EnergyCap:           policy.Cap,
			Gems:                walletCopy.Gems,
			IsPremium:           premium,
			SecondsToNextEnergy: seconds,
			AgeConfirmed:        s.ageConfirmed,
			Items:               items,
		},
		Shop: make([]models.ShopItemView, 0, len(s.graph.Catalog)),
	}

	for _, c := range s.scene.Choices {
		_, hasItem := owned[c.RequiresItem]
		locked := (c.RequiresItem != "" && !hasItem) || (c.IsPremium && !premium)
		view.Scene.Choices = append(view.Scene.Choices, models.ChoiceView{
			Code:         c.Code,
			Label:        s.graph.ChoiceLabel(c, s.lang),
			IsPremium:    c.IsPremium,
			GemCost:      c.GemCost,
			RequiresItem: c.RequiresItem,
			Locked:       locked,
		})
	}

	for _, it := range s.graph.Catalog {
		_, has := owned[it.Code]
		view.Shop = append(view.Shop, models.ShopItemView{Code: it.Code, PriceGems: it.PriceGems, Owned: has})
	}
	return view
}
