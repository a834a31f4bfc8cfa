package ledger_test

import (
	"testing"
	"time"

	"novel-engine/internal/ledger"
	"novel-engine/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func walletAt(energy int, last *time.Time) *ledger.Wallet {
	return &ledger.Wallet{PlayerID: uuid.New(), Energy: energy, LastRegenAt: last}
}

func ptr(t time.Time) *time.Time { return &t }

func TestRegenerate(t *testing.T) {
	p := ledger.DefaultPolicy()
	step := int(p.Step / time.Second)

	t.Run("Full energy stamps now and reports zero", func(t *testing.T) {
		w := walletAt(7, ptr(t0.Add(-5*time.Hour)))
		secs := p.Regenerate(w, t0)
		assert.Equal(t, 0, secs)
		assert.Equal(t, 7, w.Energy)
		assert.Equal(t, t0, *w.LastRegenAt)
	})

	t.Run("First observation stamps now and reports full step", func(t *testing.T) {
		w := walletAt(3, nil)
		secs := p.Regenerate(w, t0)
		assert.Equal(t, step, secs)
		assert.Equal(t, 3, w.Energy)
		require.NotNil(t, w.LastRegenAt)
		assert.Equal(t, t0, *w.LastRegenAt)
	})

	t.Run("Partial step keeps stamp", func(t *testing.T) {
		w := walletAt(3, ptr(t0))
		secs := p.Regenerate(w, t0.Add(10*time.Minute))
		assert.Equal(t, 3, w.Energy)
		assert.Equal(t, t0, *w.LastRegenAt)
		assert.Equal(t, 20*60, secs)
	})

	t.Run("Whole steps advance stamp by whole steps only", func(t *testing.T) {
		w := walletAt(2, ptr(t0))
		now := t0.Add(65 * time.Minute)
		secs := p.Regenerate(w, now)
		assert.Equal(t, 4, w.Energy)
		assert.Equal(t, t0.Add(60*time.Minute), *w.LastRegenAt)
		assert.Equal(t, 25*60, secs)
	})

	t.Run("Reaching cap clamps and reports zero", func(t *testing.T) {
		w := walletAt(5, ptr(t0))
		secs := p.Regenerate(w, t0.Add(10*time.Hour))
		assert.Equal(t, 7, w.Energy)
		assert.Equal(t, 0, secs)
	})

	t.Run("Exact boundary reports full step, never zero below cap", func(t *testing.T) {
		w := walletAt(1, ptr(t0))
		secs := p.Regenerate(w, t0.Add(30*time.Minute))
		assert.Equal(t, 2, w.Energy)
		assert.Equal(t, step, secs)

		w = walletAt(1, ptr(t0))
		secs = p.Regenerate(w, t0.Add(30*time.Minute-time.Second))
		assert.Equal(t, 1, w.Energy)
		assert.Equal(t, 1, secs)
	})

	t.Run("Clock skew does not change balances", func(t *testing.T) {
		w := walletAt(2, ptr(t0))
		secs := p.Regenerate(w, t0.Add(-time.Hour))
		assert.Equal(t, 2, w.Energy)
		assert.Equal(t, t0, *w.LastRegenAt)
		assert.Equal(t, step, secs)
	})

	t.Run("Overfilled energy is not reduced", func(t *testing.T) {
		w := walletAt(12, ptr(t0))
		secs := p.Regenerate(w, t0.Add(2*time.Hour))
		assert.Equal(t, 12, w.Energy)
		assert.Equal(t, 0, secs)
	})

	t.Run("Repeated calls are consistent with a single call", func(t *testing.T) {
		a := walletAt(0, ptr(t0))
		b := walletAt(0, ptr(t0))
		for m := 0; m <= 150; m += 7 {
			p.Regenerate(a, t0.Add(time.Duration(m)*time.Minute))
		}
		end := t0.Add(150 * time.Minute)
		p.Regenerate(a, end)
		p.Regenerate(b, end)
		assert.Equal(t, b.Energy, a.Energy)
		assert.Equal(t, *b.LastRegenAt, *a.LastRegenAt)
		assert.LessOrEqual(t, a.Energy, p.Cap)
	})
}

func TestSpend(t *testing.T) {
	t.Run("Energy insufficient leaves wallet unchanged", func(t *testing.T) {
		w := walletAt(1, nil)
		err := w.SpendEnergy(2)
		assert.ErrorIs(t, err, models.ErrInsufficientResource)
		assert.Equal(t, 1, w.Energy)
	})

	t.Run("Gems debit", func(t *testing.T) {
		w := &ledger.Wallet{Gems: 10}
		require.NoError(t, w.SpendGems(10))
		assert.Equal(t, 0, w.Gems)
		assert.ErrorIs(t, w.SpendGems(1), models.ErrInsufficientResource)
		assert.ErrorIs(t, w.SpendGems(-1), models.ErrInvalidInput)
	})

	t.Run("Grants clamp at zero", func(t *testing.T) {
		w := &ledger.Wallet{Gems: 3, Energy: 2}
		w.AddGems(-10)
		w.AddEnergy(-10)
		assert.Equal(t, 0, w.Gems)
		assert.Equal(t, 0, w.Energy)
		w.AddEnergy(20)
		assert.Equal(t, 20, w.Energy)
	})
}

func TestPremium(t *testing.T) {
	w := &ledger.Wallet{}
	assert.False(t, w.PremiumActive(false, t0))
	assert.True(t, w.PremiumActive(true, t0))

	w.ExtendPremium(2, t0)
	require.NotNil(t, w.PremiumUntil)
	assert.Equal(t, t0.Add(48*time.Hour), *w.PremiumUntil)
	assert.True(t, w.PremiumActive(false, t0.Add(47*time.Hour)))
	assert.False(t, w.PremiumActive(false, t0.Add(48*time.Hour)))

	w.ExtendPremium(1, t0.Add(time.Hour))
	assert.Equal(t, t0.Add(72*time.Hour), *w.PremiumUntil)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, ledger.DefaultPolicy().Validate())
	assert.ErrorIs(t, ledger.Policy{Cap: 0, Step: time.Minute}.Validate(), models.ErrInvalidInput)
	assert.ErrorIs(t, ledger.Policy{Cap: 3, Step: time.Millisecond}.Validate(), models.ErrInvalidInput)
}
