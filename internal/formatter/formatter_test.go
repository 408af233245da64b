package formatter

import (
	"strings"
	"testing"

	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(contents ...string) []domain.Passage {
	out := make([]domain.Passage, len(contents))
	for i, c := range contents {
		out[i] = domain.Passage{Content: c, Source: "test"}
	}
	return out
}

func TestFormatEmptyPassages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NotFoundMessage, New().Format(nil, "what do you offer"))
}

func TestFormatSingleProductBullet(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Our social media agent engages shoppers on Instagram and TikTok."), "what do you offer")

	assert.Equal(t, "Shopilots offers the following AI Sales Agents:\n\n"+
		"• Social Media Agent - Engage on social platforms with AI-powered shopping assistance.", got)
	assert.NotContains(t, got, "Website Agent")
	assert.NotContains(t, got, "Call Agent")
}

func TestFormatBulletsFollowFixedOrder(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Start with the call agent for phone orders, then add a website agent."), "Which products do you have?")

	web := strings.Index(got, "• Website Agent")
	call := strings.Index(got, "• Call Agent")
	require.NotEqual(t, -1, web)
	require.NotEqual(t, -1, call)
	assert.Less(t, web, call)
}

func TestFormatOnlyScansFirstThreePassages(t *testing.T) {
	t.Parallel()

	got := New().Format(docs(
		"Shopilots builds AI sales agents for online stores of every size.",
		"Merchants use it to answer shopper questions instantly.",
		"It integrates with existing catalogues.",
		"The gpt store listing launches your assistant inside ChatGPT.",
	), "what services are available")

	assert.NotContains(t, got, "GPT Store")
	assert.Equal(t, "Shopilots builds AI sales agents for online stores of every size.", got)
}

func TestFormatPlatforms(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Install on Shopify or Magento in minutes, and reach buyers on WhatsApp."), "Which platforms are supported?")

	assert.Equal(t, "Shopilots integrates with:\n\n• Shopify\n• Magento\n• WhatsApp & Messenger", got)
}

func TestFormatPricingIsFixed(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Unrelated passage about onboarding steps and setup."), "How much does it cost?")

	assert.Equal(t, pricingText, got)
}

func TestFormatIndustries(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Fashion brands and electronics retailers both see higher conversion."), "what industries do you serve")

	assert.Equal(t, "Shopilots provides solutions for:\n\n"+
		"• Electronics & Tech - Guide shoppers through specs and comparisons to the right device.\n"+
		"• Fashion & Apparel - Recommend sizes, styles and outfits that convert browsers into buyers.", got)
}

func TestFormatIntentPriority(t *testing.T) {
	t.Parallel()

	f := New()
	rule, ok := f.Classify("What product pricing plan should I pick?")
	require.True(t, ok)
	assert.Equal(t, IntentProducts, rule.Intent)

	rule, ok = f.Classify("Do you integrate with Shopify, and what does the plan cost?")
	require.True(t, ok)
	assert.Equal(t, IntentPlatforms, rule.Intent)

	_, ok = f.Classify("hello there")
	assert.False(t, ok)
}

func TestFormatMatchedIntentWithoutTriggersUsesDefault(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Source: https://shopilots.com/about\nShopilots was founded to help merchants sell."), "what do you offer")

	assert.Equal(t, "Shopilots was founded to help merchants sell.", got)
}

func TestFormatDefaultTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 450)
	got := New().Format(docs(long), "tell me something")

	assert.Equal(t, strings.Repeat("é", 400)+"...", got)
}

func TestFormatDefaultKeepsSourceLineWithoutBody(t *testing.T) {
	t.Parallel()

	got := New().Format(docs("Source: https://shopilots.com"), "hi")

	assert.Equal(t, "Source: https://shopilots.com", got)
}

func TestCategories(t *testing.T) {
	t.Parallel()

	got := New().Categories(docs("website agent and gpt store"), "what do you offer")

	assert.Equal(t, []domain.Category{domain.CategoryWebsiteAgent, domain.CategoryGPTStore}, got)
}
