// Package ledger хранит балансы игрока и правила ленивого восстановления энергии.
package ledger

import (
	"fmt"
	"time"

	"novel-engine/internal/models"

	"github.com/google/uuid"
)

const (
	// DefaultEnergyCap - максимум энергии, до которого работает восстановление.
	DefaultEnergyCap = 7
	// DefaultRegenStep - интервал восстановления одной единицы энергии.
	DefaultRegenStep = 30 * time.Minute
)

// Wallet - балансы одного игрока.
type Wallet struct {
	PlayerID     uuid.UUID  `db:"player_id" json:"playerId"`
	Energy       int        `db:"energy" json:"energy"`
	Gems         int        `db:"gems" json:"gems"`
	PremiumUntil *time.Time `db:"premium_until" json:"premiumUntil,omitempty"`
	LastRegenAt  *time.Time `db:"last_regen_at" json:"lastRegenAt,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// Policy задает потолок и шаг восстановления энергии.
type Policy struct {
	Cap  int
	Step time.Duration
}

// DefaultPolicy возвращает политику 7 единиц / 30 минут.
func DefaultPolicy() Policy {
	return Policy{Cap: DefaultEnergyCap, Step: DefaultRegenStep}
}

// Validate проверяет параметры политики.
func (p Policy) Validate() error {
	if p.Cap <= 0 {
		return fmt.Errorf("%w: energy cap must be positive, got %d", models.ErrInvalidInput, p.Cap)
	}
	if p.Step < time.Second {
		return fmt.Errorf("%w: regen step must be at least 1s, got %v", models.ErrInvalidInput, p.Step)
	}
	return nil
}

// NewWallet создает кошелек нового игрока с полной энергией.
func (p Policy) NewWallet(playerID uuid.UUID, now time.Time) *Wallet {
	stamp := now.UTC()
	return &Wallet{
		PlayerID:    playerID,
		Energy:      p.Cap,
		LastRegenAt: &stamp,
		UpdatedAt:   stamp,
	}
}

// Regenerate начисляет энергию за целые прошедшие шаги и возвращает
// количество секунд до следующей единицы (0, если энергия на потолке).
//
// Метка последнего восстановления сдвигается ровно на gained*Step,
// остаток прошедшего времени переносится на следующий вызов.
func (p Policy) Regenerate(w *Wallet, now time.Time) int {
	step := int64(p.Step / time.Second)
	nowUTC := now.UTC()

	if w.Energy >= p.Cap {
		w.LastRegenAt = &nowUTC
		return 0
	}
	if w.LastRegenAt == nil {
		w.LastRegenAt = &nowUTC
		return int(step)
	}

	last := *w.LastRegenAt
	elapsed := int64(nowUTC.Sub(last) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	gained := elapsed / step
	if gained > 0 {
		w.Energy = min(p.Cap, w.Energy+int(gained))
		last = last.Add(time.Duration(gained*step) * time.Second)
		w.LastRegenAt = &last
	}
	if w.Energy >= p.Cap {
		return 0
	}

	sinceLast := int64(nowUTC.Sub(last) / time.Second)
	if sinceLast < 0 {
		sinceLast = 0
	}
	return int(max(1, step-sinceLast))
}

// SpendEnergy списывает энергию. При нехватке кошелек не меняется.
func (w *Wallet) SpendEnergy(amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative energy amount %d", models.ErrInvalidInput, amount)
	}
	if w.Energy < amount {
		return fmt.Errorf("%w: energy %d < %d", models.ErrInsufficientResource, w.Energy, amount)
	}
	w.Energy -= amount
	return nil
}

// SpendGems списывает гемы. При нехватке кошелек не меняется.
func (w *Wallet) SpendGems(amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative gem amount %d", models.ErrInvalidInput, amount)
	}
	if w.Gems < amount {
		return fmt.Errorf("%w: gems %d < %d", models.ErrInsufficientResource, w.Gems, amount)
	}
	w.Gems -= amount
	return nil
}

// AddGems начисляет (или списывает при отрицательном delta) гемы, не опуская баланс ниже нуля.
func (w *Wallet) AddGems(delta int) {
	w.Gems = max(0, w.Gems+delta)
}

// AddEnergy начисляет энергию без ограничения потолком.
// Восстановление не уменьшает энергию выше потолка, оно лишь перестает начислять.
func (w *Wallet) AddEnergy(delta int) {
	w.Energy = max(0, w.Energy+delta)
}

// ExtendPremium продлевает подписку на days дней от max(now, текущий срок).
func (w *Wallet) ExtendPremium(days int, now time.Time) {
	if days <= 0 {
		return
	}
	base := now.UTC()
	if w.PremiumUntil != nil && w.PremiumUntil.After(base) {
		base = *w.PremiumUntil
	}
	until := base.Add(time.Duration(days) * 24 * time.Hour)
	w.PremiumUntil = &until
}

// PremiumActive сообщает, действует ли подписка на момент now.
// flag - бессрочный премиум-флаг игрока.
func (w *Wallet) PremiumActive(flag bool, now time.Time) bool {
	if flag {
		return true
	}
	return w.PremiumUntil != nil && w.PremiumUntil.After(now)
}
