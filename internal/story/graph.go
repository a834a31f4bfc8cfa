// Package story описывает неизменяемый граф сцен и выборов интерактивной истории.
package story

import (
	"sort"

	"github.com/google/uuid"
)

// Scene - узел графа истории.
type Scene struct {
	Code       string
	ImageURL   string
	IsPremium  bool
	EnergyCost int
	Texts      Localized
	Choices    []*Choice
}

// IsEnding сообщает, что у сцены нет исходящих выборов.
func (s *Scene) IsEnding() bool {
	return len(s.Choices) == 0
}

// Choice возвращает выбор сцены по коду.
func (s *Scene) Choice(code string) (*Choice, bool) {
	for _, c := range s.Choices {
		if c.Code == code {
			return c, true
		}
	}
	return nil, false
}

// Choice - ребро графа. Пустой LeadsTo означает маршрутизацию по симпатии.
type Choice struct {
	Code         string
	LeadsTo      string
	IsPremium    bool
	GemCost      int
	HeatPoints   int
	RequiresItem string
	GrantsItem   string
	Labels       Localized
}

// CatalogItem - предмет, продаваемый в рамках истории.
type CatalogItem struct {
	Code      string
	PriceGems int
}

// Graph - неизменяемая после загрузки история.
type Graph struct {
	ID              uuid.UUID
	Code            string
	Title           Localized
	StartScene      string
	DefaultLanguage string
	Routing         Routing
	Catalog         []CatalogItem

	scenes     map[string]*Scene
	order      []string
	duplicates []string
}

// NewGraph собирает граф из сцен. Порядок сцен сохраняется для детерминированного обхода.
// При повторе кода сцены остается первое определение, Validate сообщает о дубликате.
func NewGraph(id uuid.UUID, code, startScene string, scenes []*Scene) *Graph {
	g := &Graph{
		ID:              id,
		Code:            code,
		StartScene:      startScene,
		DefaultLanguage: DefaultLanguage,
		Routing:         DefaultRouting(),
		scenes:          make(map[string]*Scene, len(scenes)),
		order:           make([]string, 0, len(scenes)),
	}
	for _, s := range scenes {
		if _, dup := g.scenes[s.Code]; dup {
			g.duplicates = append(g.duplicates, s.Code)
			continue
		}
		g.order = append(g.order, s.Code)
		g.scenes[s.Code] = s
	}
	return g
}

// Scene возвращает сцену по коду.
func (g *Graph) Scene(code string) (*Scene, bool) {
	s, ok := g.scenes[code]
	return s, ok
}

// Scenes возвращает сцены в порядке добавления.
func (g *Graph) Scenes() []*Scene {
	out := make([]*Scene, 0, len(g.order))
	for _, code := range g.order {
		out = append(out, g.scenes[code])
	}
	return out
}

// CatalogPrice возвращает цену предмета в каталоге истории.
func (g *Graph) CatalogPrice(itemCode string) (int, bool) {
	for _, it := range g.Catalog {
		if it.Code == itemCode {
			return it.PriceGems, true
		}
	}
	return 0, false
}

// Destination вычисляет сцену назначения выбора с учетом текущей симпатии.
func (g *Graph) Destination(c *Choice, heat int) string {
	if c.LeadsTo != "" {
		return c.LeadsTo
	}
	return g.Routing.Route(heat)
}

// SceneText возвращает текст сцены на языке lang с откатом на язык истории.
func (g *Graph) SceneText(s *Scene, lang string) string {
	text, _ := s.Texts.Resolve(lang, g.DefaultLanguage)
	return text
}

// ChoiceLabel возвращает подпись выбора, при отсутствии переводов - его код.
func (g *Graph) ChoiceLabel(c *Choice, lang string) string {
	if label, ok := c.Labels.Resolve(lang, g.DefaultLanguage); ok && label != "" {
		return label
	}
	return c.Code
}

// Languages возвращает отсортированный список языков, встречающихся в тексте истории.
func (g *Graph) Languages() []string {
	seen := map[string]struct{}{}
	for _, s := range g.scenes {
		for lang := range s.Texts {
			seen[lang] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
