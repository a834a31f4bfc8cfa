package models

// ChoiceView - выбор текущей сцены в снимке состояния.
type ChoiceView struct {
	Code         string `json:"code"`
	Label        string `json:"label"`
	IsPremium    bool   `json:"is_premium"`
	GemCost      int    `json:"gem_cost"`
	RequiresItem string `json:"requires_item,omitempty"`
	Locked       bool   `json:"locked"`
}

// SceneView - текущая сцена на языке запроса.
type SceneView struct {
	Code       string       `json:"code"`
	Text       string       `json:"text"`
	ImageURL   string       `json:"image_url,omitempty"`
	IsPremium  bool         `json:"is_premium"`
	EnergyCost int          `json:"energy_cost"`
	IsEnding   bool         `json:"is_ending"`
	Choices    []ChoiceView `json:"choices"`
}

// ShopItemView - позиция каталога истории.
type ShopItemView struct {
	Code      string `json:"code"`
	PriceGems int    `json:"price_gems"`
	Owned     bool   `json:"owned"`
}

// PlayerView - ресурсы игрока на момент снимка.
type PlayerView struct {
	Energy              int      `json:"energy"`
	EnergyCap           int      `json:"energy_cap"`
	Gems                int      `json:"gems"`
	IsPremium           bool     `json:"is_premium"`
	SecondsToNextEnergy int      `json:"seconds_to_next_energy"`
	AgeConfirmed        bool     `json:"age_confirmed"`
	Items               []string `json:"items"`
}

// StateView - снимок состояния, возвращаемый после каждой операции.
type StateView struct {
	StoryCode string         `json:"story_code"`
	Language  string         `json:"language"`
	HeatScore int            `json:"heat_score"`
	Scene     SceneView      `json:"scene"`
	Player    PlayerView     `json:"player"`
	Shop      []ShopItemView `json:"shop"`
}
