package mocks

import (
	"context"

	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/stretchr/testify/mock"
)

// ProgressionService - мок service.ProgressionService.
type ProgressionService struct {
	mock.Mock
}

func (m *ProgressionService) view(args mock.Arguments) (*models.StateView, error) {
	var view *models.StateView
	if v := args.Get(0); v != nil {
		view = v.(*models.StateView)
	}
	return view, args.Error(1)
}

func (m *ProgressionService) GetState(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error) {
	return m.view(m.Called(ctx, playerKey, storyCode, lang))
}

func (m *ProgressionService) Choose(ctx context.Context, playerKey, storyCode, choiceCode, lang string) (*models.StateView, error) {
	return m.view(m.Called(ctx, playerKey, storyCode, choiceCode, lang))
}

func (m *ProgressionService) Restart(ctx context.Context, playerKey, storyCode, lang string) (*models.StateView, error) {
	return m.view(m.Called(ctx, playerKey, storyCode, lang))
}

func (m *ProgressionService) BuyItem(ctx context.Context, playerKey, storyCode, itemCode string, priceGems int, lang string) (*models.StateView, error) {
	return m.view(m.Called(ctx, playerKey, storyCode, itemCode, priceGems, lang))
}

func (m *ProgressionService) GrantResources(ctx context.Context, playerKey string, req models.GrantRequest) (*ledger.Wallet, error) {
	args := m.Called(ctx, playerKey, req)
	var w *ledger.Wallet
	if v := args.Get(0); v != nil {
		w = v.(*ledger.Wallet)
	}
	return w, args.Error(1)
}

func (m *ProgressionService) SetAgeConsent(ctx context.Context, playerKey string, agree bool) error {
	args := m.Called(ctx, playerKey, agree)
	return args.Error(0)
}
