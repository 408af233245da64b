package domain

// Category is the closed set of product and industry categories the chatbot
// recognises in questions, passages and answers.
type Category int

const (
	CategoryNone Category = iota
	CategoryWebsiteAgent
	CategorySocialMediaAgent
	CategoryMessengerAgent
	CategoryCallAgent
	CategoryGPTStore
	CategoryElectronics
	CategoryFashion
	CategoryHomeGarden
	CategoryAgencies
)

var categoryLabels = map[Category]string{
	CategoryWebsiteAgent:     "Website Agent",
	CategorySocialMediaAgent: "Social Media Agent",
	CategoryMessengerAgent:   "Messenger Agent",
	CategoryCallAgent:        "Call Agent",
	CategoryGPTStore:         "GPT Store",
	CategoryElectronics:      "Electronics & Tech",
	CategoryFashion:          "Fashion & Apparel",
	CategoryHomeGarden:       "Home & Garden",
	CategoryAgencies:         "Agencies & Partners",
}

// String returns the display label, or "" for CategoryNone.
func (c Category) String() string {
	return categoryLabels[c]
}

// AgentCategories lists the AI Sales Agent categories in priority order.
func AgentCategories() []Category {
	return []Category{
		CategoryWebsiteAgent,
		CategorySocialMediaAgent,
		CategoryMessengerAgent,
		CategoryCallAgent,
		CategoryGPTStore,
	}
}

// IndustryCategories lists the industry verticals in priority order.
func IndustryCategories() []Category {
	return []Category{
		CategoryElectronics,
		CategoryFashion,
		CategoryHomeGarden,
		CategoryAgencies,
	}
}
