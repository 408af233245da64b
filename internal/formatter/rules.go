package formatter

import "github.com/ashureev/shopilots-chat/internal/domain"

const pricingText = "Shopilots offers:\n\n" +
	"• Performance Plan - Free to start (up to 500 conversations/month)\n" +
	"• Business Plan - $299/month (up to 5,000 conversations/month)\n" +
	"• Enterprise Plan - Custom pricing (unlimited conversations, dedicated support)"

// DefaultRules returns the rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:   IntentProducts,
			Keywords: []string{"product", "offer", "provide", "what do you", "services"},
			Header:   "Shopilots offers the following AI Sales Agents:",
			Triggers: []Trigger{
				{domain.CategoryWebsiteAgent, []string{"website agent"}, "• Website Agent - Embed on your e-commerce site. Deploy conversational salesforce that sell, not just chat."},
				{domain.CategorySocialMediaAgent, []string{"social media agent"}, "• Social Media Agent - Engage on social platforms with AI-powered shopping assistance."},
				{domain.CategoryMessengerAgent, []string{"messenger agent"}, "• Messenger Agent - Chat on WhatsApp & Messenger. Handle customer inquiries and drive sales through messaging platforms."},
				{domain.CategoryCallAgent, []string{"call agent"}, "• Call Agent - Handle customer phone calls with AI voice capabilities."},
				{domain.CategoryGPTStore, []string{"gpt store"}, "• GPT Store - Launch in ChatGPT & GPT Store. Create a custom GPT shopping assistant."},
			},
		},
		{
			Intent:   IntentIndustries,
			Keywords: []string{"industry", "industries", "solution", "vertical", "niche", "sector"},
			Header:   "Shopilots provides solutions for:",
			Triggers: []Trigger{
				{domain.CategoryElectronics, []string{"electronics", "tech"}, "• Electronics & Tech - Guide shoppers through specs and comparisons to the right device."},
				{domain.CategoryFashion, []string{"fashion", "apparel"}, "• Fashion & Apparel - Recommend sizes, styles and outfits that convert browsers into buyers."},
				{domain.CategoryHomeGarden, []string{"home", "garden"}, "• Home & Garden - Help customers find furniture, decor and garden products for their space."},
				{domain.CategoryAgencies, []string{"agency", "agencies", "partner"}, "• Agencies & Partners - Resell and deploy AI Sales Agents for your clients."},
			},
		},
		{
			Intent:   IntentPlatforms,
			Keywords: []string{"platform", "integrate", "shopify", "woocommerce", "supported"},
			Header:   "Shopilots integrates with:",
			Triggers: []Trigger{
				{Keywords: []string{"shopify"}, Bullet: "• Shopify"},
				{Keywords: []string{"woocommerce"}, Bullet: "• WooCommerce"},
				{Keywords: []string{"magento"}, Bullet: "• Magento"},
				{Keywords: []string{"whatsapp", "messenger"}, Bullet: "• WhatsApp & Messenger"},
			},
		},
		{
			Intent:   IntentPricing,
			Keywords: []string{"price", "pricing", "plan", "cost"},
			Fixed:    pricingText,
		},
		{
			Intent:   IntentFeatures,
			Keywords: []string{"feature", "capabilit", "benefit", "how does", "what can"},
			Header:   "Key Shopilots features:",
			Triggers: []Trigger{
				{Keywords: []string{"conversion"}, Bullet: "• Higher conversion rates through guided, conversational selling"},
				{Keywords: []string{"aov", "average order value"}, Bullet: "• Larger average order value with personalised upsells and bundles"},
				{Keywords: []string{"24/7", "around the clock"}, Bullet: "• 24/7 availability across every channel"},
				{Keywords: []string{"multilingual", "languages"}, Bullet: "• Multilingual conversations with shoppers worldwide"},
				{Keywords: []string{"analytics", "insight"}, Bullet: "• Built-in analytics on conversations and sales"},
			},
		},
	}
}
