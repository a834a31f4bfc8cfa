package handler

// ChooseRequest - тело POST /api/choose.
type ChooseRequest struct {
	Story  string `json:"story" validate:"required,max=128"`
	Choice string `json:"choice" validate:"required,max=128"`
	Lang   string `json:"lang" validate:"omitempty,max=35"`
}

// RestartRequest - тело POST /api/restart.
type RestartRequest struct {
	Story string `json:"story" validate:"required,max=128"`
	Lang  string `json:"lang" validate:"omitempty,max=35"`
}

// BuyItemRequest - тело POST /api/item/buy.
type BuyItemRequest struct {
	Story     string `json:"story" validate:"required,max=128"`
	ItemCode  string `json:"item_code" validate:"required,max=128"`
	PriceGems int    `json:"price_gems" validate:"gte=0"`
	Lang      string `json:"lang" validate:"omitempty,max=35"`
}

// AgeConfirmRequest - тело POST /api/age/confirm.
type AgeConfirmRequest struct {
	Agree *bool `json:"agree" validate:"required"`
}

// GrantRequestDTO - тело POST /api/dev/grant.
type GrantRequestDTO struct {
	Energy      int  `json:"energy"`
	Gems        int  `json:"gems"`
	Premium     bool `json:"premium"`
	PremiumDays int  `json:"premium_days" validate:"gte=0,lte=3650"`
}

// WalletResponse - ответ POST /api/dev/grant.
type WalletResponse struct {
	Energy       int    `json:"energy"`
	Gems         int    `json:"gems"`
	PremiumUntil string `json:"premium_until,omitempty"`
}

// APIError - стандартный ответ об ошибке.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ItemCode  string `json:"item_code,omitempty"`
	PriceGems *int   `json:"price_gems,omitempty"`
	Required  int    `json:"required,omitempty"`
	Available *int   `json:"available,omitempty"`
}
