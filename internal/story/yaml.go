package story

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"novel-engine/internal/models"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// legacyGrantPrefix - старый формат контента, где выдача предмета кодировалась в коде выбора.
const legacyGrantPrefix = "give_"

// Document - YAML-представление истории.
type Document struct {
	Code            string            `yaml:"code"`
	Title           map[string]string `yaml:"title,omitempty"`
	StartScene      string            `yaml:"start_scene"`
	DefaultLanguage string            `yaml:"default_language,omitempty"`
	Endings         *EndingsDocument  `yaml:"endings,omitempty"`
	Items           []ItemDocument    `yaml:"items,omitempty"`
	Scenes          []SceneDocument   `yaml:"scenes"`
}

// EndingsDocument задает финалы маршрутизации по симпатии.
type EndingsDocument struct {
	Soft        string `yaml:"soft"`
	Hot         string `yaml:"hot"`
	Max         string `yaml:"max"`
	SoftMaxHeat *int   `yaml:"soft_max_heat,omitempty"`
	HotMaxHeat  *int   `yaml:"hot_max_heat,omitempty"`
}

type ItemDocument struct {
	Code      string `yaml:"code"`
	PriceGems int    `yaml:"price_gems"`
}

type SceneDocument struct {
	Code       string            `yaml:"code"`
	ImageURL   string            `yaml:"image_url,omitempty"`
	IsPremium  bool              `yaml:"is_premium,omitempty"`
	EnergyCost int               `yaml:"energy_cost,omitempty"`
	Text       map[string]string `yaml:"text"`
	Choices    []ChoiceDocument  `yaml:"choices,omitempty"`
}

type ChoiceDocument struct {
	Code         string            `yaml:"code"`
	LeadsTo      string            `yaml:"leads_to,omitempty"`
	IsPremium    bool              `yaml:"is_premium,omitempty"`
	GemCost      int               `yaml:"gem_cost,omitempty"`
	HeatPoints   int               `yaml:"heat_points,omitempty"`
	RequiresItem string            `yaml:"requires_item,omitempty"`
	GrantsItem   string            `yaml:"grants_item,omitempty"`
	Label        map[string]string `yaml:"label,omitempty"`
}

// LoadFile читает историю из YAML-файла.
func LoadFile(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story file %s: %w", path, err)
	}
	return Parse(bytes.NewReader(raw))
}

// Parse декодирует YAML-документ истории в граф. Неизвестные поля считаются ошибкой.
func Parse(r io.Reader) (*Graph, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty story document", models.ErrInvalidInput)
		}
		return nil, fmt.Errorf("%w: decode story yaml: %v", models.ErrInvalidInput, err)
	}
	return doc.Graph()
}

// Graph строит граф из документа. ID истории назначается хранилищем при импорте.
func (d *Document) Graph() (*Graph, error) {
	code := strings.TrimSpace(d.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: story code is required", models.ErrInvalidInput)
	}

	scenes := make([]*Scene, 0, len(d.Scenes))
	for _, sd := range d.Scenes {
		scene := &Scene{
			Code:       strings.TrimSpace(sd.Code),
			ImageURL:   sd.ImageURL,
			IsPremium:  sd.IsPremium,
			EnergyCost: sd.EnergyCost,
			Texts:      Localized(sd.Text),
			Choices:    make([]*Choice, 0, len(sd.Choices)),
		}
		for _, cd := range sd.Choices {
			scene.Choices = append(scene.Choices, cd.choice())
		}
		scenes = append(scenes, scene)
	}

	g := NewGraph(uuid.Nil, code, strings.TrimSpace(d.StartScene), scenes)
	g.Title = Localized(d.Title)
	if d.DefaultLanguage != "" {
		g.DefaultLanguage = d.DefaultLanguage
	}
	if d.Endings != nil {
		r := DefaultRouting()
		if d.Endings.Soft != "" {
			r.Soft = d.Endings.Soft
		}
		if d.Endings.Hot != "" {
			r.Hot = d.Endings.Hot
		}
		if d.Endings.Max != "" {
			r.Max = d.Endings.Max
		}
		if d.Endings.SoftMaxHeat != nil {
			r.SoftMaxHeat = *d.Endings.SoftMaxHeat
		}
		if d.Endings.HotMaxHeat != nil {
			r.HotMaxHeat = *d.Endings.HotMaxHeat
		}
		g.Routing = r
	}
	for _, it := range d.Items {
		g.Catalog = append(g.Catalog, CatalogItem{Code: strings.TrimSpace(it.Code), PriceGems: it.PriceGems})
	}
	return g, nil
}

func (cd ChoiceDocument) choice() *Choice {
	c := &Choice{
		Code:         strings.TrimSpace(cd.Code),
		LeadsTo:      strings.TrimSpace(cd.LeadsTo),
		IsPremium:    cd.IsPremium,
		GemCost:      cd.GemCost,
		HeatPoints:   cd.HeatPoints,
		RequiresItem: strings.TrimSpace(cd.RequiresItem),
		GrantsItem:   strings.TrimSpace(cd.GrantsItem),
		Labels:       Localized(cd.Label),
	}
	if c.GrantsItem == "" && strings.HasPrefix(c.Code, legacyGrantPrefix) {
		c.GrantsItem = strings.TrimPrefix(c.Code, legacyGrantPrefix)
	}
	return c
}

// Document возвращает YAML-представление графа. Используется для экспорта.
func (g *Graph) Document() *Document {
	d := &Document{
		Code:            g.Code,
		Title:           g.Title,
		StartScene:      g.StartScene,
		DefaultLanguage: g.DefaultLanguage,
	}
	if g.Routing != DefaultRouting() {
		soft, hot := g.Routing.SoftMaxHeat, g.Routing.HotMaxHeat
		d.Endings = &EndingsDocument{
			Soft:        g.Routing.Soft,
			Hot:         g.Routing.Hot,
			Max:         g.Routing.Max,
			SoftMaxHeat: &soft,
			HotMaxHeat:  &hot,
		}
	}
	for _, it := range g.Catalog {
		d.Items = append(d.Items, ItemDocument{Code: it.Code, PriceGems: it.PriceGems})
	}
	for _, s := range g.Scenes() {
		sd := SceneDocument{
			Code:       s.Code,
			ImageURL:   s.ImageURL,
			IsPremium:  s.IsPremium,
			EnergyCost: s.EnergyCost,
			Text:       s.Texts,
		}
		for _, c := range s.Choices {
			sd.Choices = append(sd.Choices, ChoiceDocument{
				Code:         c.Code,
				LeadsTo:      c.LeadsTo,
				IsPremium:    c.IsPremium,
				GemCost:      c.GemCost,
				HeatPoints:   c.HeatPoints,
				RequiresItem: c.RequiresItem,
				GrantsItem:   c.GrantsItem,
				Label:        c.Labels,
			})
		}
		d.Scenes = append(d.Scenes, sd)
	}
	return d
}

// EncodeYAML сериализует граф в YAML-документ.
func (g *Graph) EncodeYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(g.Document()); err != nil {
		return nil, fmt.Errorf("encode story yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode story yaml: %w", err)
	}
	return buf.Bytes(), nil
}
