package story

import (
	"fmt"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeMissingStart      = "missing_start_scene"
	codeDanglingLeadsTo   = "dangling_leads_to"
	codeMissingEnding     = "missing_ending_scene"
	codeDuplicateScene    = "duplicate_scene"
	codeDuplicateChoice   = "duplicate_choice"
	codeDuplicateItem     = "duplicate_item"
	codeNegativeCost      = "negative_cost"
	codeEmptyCode         = "empty_code"
	codeInvalidThresholds = "invalid_heat_thresholds"
	codeUnreachableScene  = "unreachable_scene"
	codeUnobtainableItem  = "unobtainable_item"
	codeMissingText       = "missing_text"
)

type Issue struct {
	Severity Severity
	Code     string
	Message  string
	Scene    string
	Choice   string
}

type Report struct {
	Issues []Issue
}

// HasErrors сообщает, есть ли в отчете ошибки (предупреждения не учитываются).
func (r *Report) HasErrors() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors возвращает только ошибки.
func (r *Report) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings возвращает только предупреждения.
func (r *Report) Warnings() []Issue {
	return r.filter(SeverityWarn)
}

func (r *Report) filter(sev Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// Error сводит ошибки отчета в одну строку.
func (r *Report) Error() string {
	errs := r.Errors()
	parts := make([]string, 0, len(errs))
	for _, is := range errs {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Code, is.Message))
	}
	return strings.Join(parts, "; ")
}

// Validate проверяет целостность графа перед импортом.
func Validate(g *Graph) *Report {
	issues := make([]Issue, 0)

	for _, code := range g.duplicates {
		issues = append(issues, Issue{Severity: SeverityError, Code: codeDuplicateScene, Scene: code,
			Message: fmt.Sprintf("scene %q is defined more than once", code)})
	}
	if _, ok := g.Scene(g.StartScene); !ok {
		issues = append(issues, Issue{Severity: SeverityError, Code: codeMissingStart, Scene: g.StartScene,
			Message: fmt.Sprintf("start scene %q does not exist", g.StartScene)})
	}
	if g.Routing.SoftMaxHeat > g.Routing.HotMaxHeat {
		issues = append(issues, Issue{Severity: SeverityError, Code: codeInvalidThresholds,
			Message: fmt.Sprintf("soft threshold %d is above hot threshold %d", g.Routing.SoftMaxHeat, g.Routing.HotMaxHeat)})
	}

	sellable := map[string]bool{}
	for _, it := range g.Catalog {
		if it.Code == "" {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeEmptyCode, Message: "catalog item without code"})
			continue
		}
		if sellable[it.Code] {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeDuplicateItem,
				Message: fmt.Sprintf("catalog item %q is listed more than once", it.Code)})
		}
		if it.PriceGems < 0 {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeNegativeCost,
				Message: fmt.Sprintf("catalog item %q has negative price %d", it.Code, it.PriceGems)})
		}
		sellable[it.Code] = true
	}

	granted := map[string]bool{}
	required := map[string][]string{}
	implicitRouting := false

	for _, s := range g.Scenes() {
		if s.Code == "" {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeEmptyCode, Message: "scene without code"})
		}
		if s.EnergyCost < 0 {
			issues = append(issues, Issue{Severity: SeverityError, Code: codeNegativeCost, Scene: s.Code,
				Message: fmt.Sprintf("scene %q has negative energy cost %d", s.Code, s.EnergyCost)})
		}
		if len(s.Texts) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeMissingText, Scene: s.Code,
				Message: fmt.Sprintf("scene %q has no text", s.Code)})
		}

		seen := map[string]bool{}
		for _, c := range s.Choices {
			if c.Code == "" {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeEmptyCode, Scene: s.Code,
					Message: fmt.Sprintf("choice without code in scene %q", s.Code)})
				continue
			}
			if seen[c.Code] {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeDuplicateChoice, Scene: s.Code, Choice: c.Code,
					Message: fmt.Sprintf("choice %q is defined more than once in scene %q", c.Code, s.Code)})
			}
			seen[c.Code] = true

			if c.GemCost < 0 {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeNegativeCost, Scene: s.Code, Choice: c.Code,
					Message: fmt.Sprintf("choice %q has negative gem cost %d", c.Code, c.GemCost)})
			}
			if c.LeadsTo == "" {
				implicitRouting = true
			} else if _, ok := g.Scene(c.LeadsTo); !ok {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeDanglingLeadsTo, Scene: s.Code, Choice: c.Code,
					Message: fmt.Sprintf("choice %q leads to unknown scene %q", c.Code, c.LeadsTo)})
			}
			if c.GrantsItem != "" {
				granted[c.GrantsItem] = true
			}
			if c.RequiresItem != "" {
				required[c.RequiresItem] = append(required[c.RequiresItem], s.Code+"/"+c.Code)
			}
		}
	}

	if implicitRouting {
		for _, ending := range g.Routing.Targets() {
			if _, ok := g.Scene(ending); !ok {
				issues = append(issues, Issue{Severity: SeverityError, Code: codeMissingEnding, Scene: ending,
					Message: fmt.Sprintf("heat routing targets missing scene %q", ending)})
			}
		}
	}

	items := make([]string, 0, len(required))
	for item := range required {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		if !granted[item] && !sellable[item] {
			issues = append(issues, Issue{Severity: SeverityWarn, Code: codeUnobtainableItem,
				Message: fmt.Sprintf("item %q is required by %s but never granted or sold", item, strings.Join(required[item], ", "))})
		}
	}

	for _, code := range unreachable(g) {
		issues = append(issues, Issue{Severity: SeverityWarn, Code: codeUnreachableScene, Scene: code,
			Message: fmt.Sprintf("scene %q is not reachable from %q", code, g.StartScene)})
	}

	return &Report{Issues: issues}
}

func unreachable(g *Graph) []string {
	if _, ok := g.Scene(g.StartScene); !ok {
		return nil
	}
	visited := map[string]bool{g.StartScene: true}
	queue := []string{g.StartScene}
	for len(queue) > 0 {
		code := queue[0]
		queue = queue[1:]
		s, _ := g.Scene(code)
		for _, c := range s.Choices {
			targets := []string{c.LeadsTo}
			if c.LeadsTo == "" {
				targets = g.Routing.Targets()
			}
			for _, next := range targets {
				if _, ok := g.Scene(next); ok && !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}

	var out []string
	for _, s := range g.Scenes() {
		if !visited[s.Code] {
			out = append(out, s.Code)
		}
	}
	return out
}
