package story

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage - язык по умолчанию для контента и игроков.
const DefaultLanguage = "ru"

// Localized - переводы текста по коду языка.
type Localized map[string]string

// Resolve возвращает перевод для lang по цепочке:
// точное совпадение, базовый язык (en-US -> en), fallback, первый язык по алфавиту.
// ok=false, если переводов нет вовсе.
func (l Localized) Resolve(lang, fallback string) (string, bool) {
	if len(l) == 0 {
		return "", false
	}
	if text, ok := l[lang]; ok {
		return text, true
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if base := BaseLanguage(lang); base != "" {
		if text, ok := l[base]; ok {
			return text, true
		}
		for _, key := range keys {
			if BaseLanguage(key) == base {
				return l[key], true
			}
		}
	}
	if text, ok := l[fallback]; ok {
		return text, true
	}
	return l[keys[0]], true
}

// BaseLanguage возвращает базовый подтег языка ("pt-BR" -> "pt").
// Для непарсируемых значений возвращает пустую строку.
func BaseLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// NormalizeLanguage приводит код языка к каноничной форме BCP 47.
// Пустое или некорректное значение заменяется на fallback.
func NormalizeLanguage(lang, fallback string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return fallback
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return fallback
	}
	return tag.String()
}
