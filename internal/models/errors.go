package models

import (
	"errors"
	"fmt"
)

// Стандартные ошибки движка прогрессии.
var (
	// Ресурсы и хранилище
	ErrNotFound           = errors.New("resource not found")
	ErrStoryNotFound      = fmt.Errorf("story not found: %w", ErrNotFound)
	ErrSceneNotFound      = fmt.Errorf("scene not found: %w", ErrNotFound)
	ErrPlayerNotFound     = fmt.Errorf("player not found: %w", ErrNotFound)
	ErrTxConflict         = errors.New("transaction conflict, retry later")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Переходы по графу
	ErrInvalidChoice   = errors.New("invalid choice")
	ErrItemRequired    = errors.New("item required")
	ErrGemsRequired    = errors.New("gems required")
	ErrEnergyRequired  = errors.New("energy required")
	ErrPremiumRequired = errors.New("premium required")

	// Кошелек
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrPriceMismatch        = errors.New("price does not match catalog")

	// Запросы и аутентификация
	ErrInvalidInput   = errors.New("invalid input data")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
)

// GateError описывает отказ в переходе с деталями для клиента.
// Kind всегда один из ErrItemRequired, ErrGemsRequired, ErrEnergyRequired, ErrPremiumRequired.
type GateError struct {
	Kind      error
	ItemCode  string
	PriceGems int
	Required  int
	Available int
	cause     error
}

// NewGateError создает ошибку гейта. cause может быть nil.
func NewGateError(kind error, cause error) *GateError {
	return &GateError{Kind: kind, cause: cause}
}

func (e *GateError) Error() string {
	switch {
	case e.ItemCode != "":
		return fmt.Sprintf("%v: %s (price %d gems)", e.Kind, e.ItemCode, e.PriceGems)
	case e.Required > 0:
		return fmt.Sprintf("%v: need %d, have %d", e.Kind, e.Required, e.Available)
	default:
		return e.Kind.Error()
	}
}

func (e *GateError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}
