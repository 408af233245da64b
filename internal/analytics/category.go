package analytics

import (
	"strings"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

type categoryRule struct {
	category domain.Category
	keywords []string
}

// categoryRules is checked in order; agent types win over industries.
var categoryRules = []categoryRule{
	{domain.CategoryWebsiteAgent, []string{"website agent"}},
	{domain.CategorySocialMediaAgent, []string{"social media agent"}},
	{domain.CategoryMessengerAgent, []string{"messenger agent"}},
	{domain.CategoryCallAgent, []string{"call agent"}},
	{domain.CategoryGPTStore, []string{"gpt store", "chatgpt"}},
	{domain.CategoryElectronics, []string{"electronics", "tech"}},
	{domain.CategoryFashion, []string{"fashion", "apparel"}},
	{domain.CategoryHomeGarden, []string{"home", "garden"}},
	{domain.CategoryAgencies, []string{"agency", "partner"}},
}

// DetectCategory returns the first category mentioned in answer.
func DetectCategory(answer string) (domain.Category, bool) {
	text := strings.ToLower(answer)
	for _, r := range categoryRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category, true
			}
		}
	}
	return domain.CategoryNone, false
}
