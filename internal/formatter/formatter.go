// Package formatter builds deterministic, keyword-driven answers from
// retrieved passages when no generation backend can answer.
package formatter

import (
	"strings"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// NotFoundMessage is returned when there are no passages to answer from.
const NotFoundMessage = "I couldn't find specific information about that. Could you try rephrasing your question?"

const (
	contextPassages = 3
	maxDefaultLen   = 400
	sourcePrefix    = "Source: http"
)

// Intent is the closed set of question intents the formatter recognises.
type Intent int

const (
	IntentDefault Intent = iota
	IntentProducts
	IntentIndustries
	IntentPlatforms
	IntentPricing
	IntentFeatures
)

func (i Intent) String() string {
	switch i {
	case IntentProducts:
		return "products"
	case IntentIndustries:
		return "industries"
	case IntentPlatforms:
		return "platforms"
	case IntentPricing:
		return "pricing"
	case IntentFeatures:
		return "features"
	default:
		return "default"
	}
}

// Trigger emits Bullet when any of Keywords occurs in the passage text.
type Trigger struct {
	Category domain.Category
	Keywords []string
	Bullet   string
}

// Rule maps an intent to its ordered triggers. A rule with Fixed text
// answers with it directly and has no triggers.
type Rule struct {
	Intent   Intent
	Keywords []string
	Header   string
	Triggers []Trigger
	Fixed    string
}

// Formatter evaluates rules first-match-wins on the question intent.
type Formatter struct {
	rules []Rule
}

// New returns a Formatter over the default rule table.
func New() *Formatter {
	return &Formatter{rules: DefaultRules()}
}

// NewWithRules returns a Formatter over rules, evaluated in order.
func NewWithRules(rules []Rule) *Formatter {
	return &Formatter{rules: rules}
}

// Classify returns the first rule whose intent keywords occur in query.
func (f *Formatter) Classify(query string) (Rule, bool) {
	q := strings.ToLower(query)
	for _, r := range f.rules {
		if containsAny(q, r.Keywords) {
			return r, true
		}
	}
	return Rule{}, false
}

// Format answers query from passages. It is a pure function of its inputs.
func (f *Formatter) Format(passages []domain.Passage, query string) string {
	if len(passages) == 0 {
		return NotFoundMessage
	}

	if rule, ok := f.Classify(query); ok {
		if rule.Fixed != "" {
			return rule.Fixed
		}
		if bullets := matchTriggers(rule.Triggers, contextText(passages)); len(bullets) > 0 {
			return rule.Header + "\n\n" + strings.Join(bullets, "\n")
		}
	}

	return excerpt(passages[0].Content)
}

// Categories returns the categories whose triggers fire for the query's
// intent, in rule order.
func (f *Formatter) Categories(passages []domain.Passage, query string) []domain.Category {
	rule, ok := f.Classify(query)
	if !ok || len(passages) == 0 {
		return nil
	}
	text := contextText(passages)
	var out []domain.Category
	for _, t := range rule.Triggers {
		if containsAny(text, t.Keywords) && t.Category != domain.CategoryNone {
			out = append(out, t.Category)
		}
	}
	return out
}

func matchTriggers(triggers []Trigger, text string) []string {
	var bullets []string
	for _, t := range triggers {
		if containsAny(text, t.Keywords) {
			bullets = append(bullets, t.Bullet)
		}
	}
	return bullets
}

func contextText(passages []domain.Passage) string {
	n := min(len(passages), contextPassages)
	parts := make([]string, 0, n)
	for _, p := range passages[:n] {
		parts = append(parts, p.Content)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// excerpt drops a leading "Source: http..." line and caps the text.
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, sourcePrefix) {
		if _, rest, found := strings.Cut(content, "\n"); found {
			content = strings.TrimSpace(rest)
		}
	}
	runes := []rune(content)
	if len(runes) > maxDefaultLen {
		return string(runes[:maxDefaultLen]) + "..."
	}
	return content
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
