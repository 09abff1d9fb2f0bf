package analysis

import "strings"

// keywordRule maps a keyword set to a value. Tables of rules are scanned in
// order and the first match wins, so ties resolve by position.
type keywordRule struct {
	value    string
	keywords []string
}

func (r keywordRule) matches(haystack string) bool {
	return containsAny(haystack, r.keywords)
}

func containsAny(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(haystack, k) {
			return true
		}
	}
	return false
}

var topicTable = []keywordRule{
	{value: "pricing", keywords: []string{"pricing", "price", "plan", "cost", "buy", "purchase", "checkout"}},
	{value: "calculator", keywords: []string{"calculator", "calc", "roi", "savings"}},
	{value: "features", keywords: []string{"feature", "demo", "how it works", "solution", "workflow"}},
	{value: "testimonials", keywords: []string{"testimonial", "review", "referral", "case study", "story"}},
	{value: "support", keywords: []string{"support", "help", "faq", "contact"}},
	{value: "security", keywords: []string{"security", "privacy", "gdpr", "backup"}},
	{value: "value", keywords: []string{"value", "benefit", "why"}},
}

var (
	pricingKeywords     = []string{"pricing", "price", "plan", "cost", "buy", "purchase", "checkout", "download", "trial"}
	downloadKeywords    = []string{"download", "install", "get app"}
	ctaKeywords         = []string{"cta", "download", "buy", "trial", "signup", "sign up", "get started", "purchase", "checkout"}
	featureKeywords     = []string{"feature", "demo", "how it works", "solution", "workflow"}
	testimonialKeywords = []string{"testimonial", "review", "referral", "case study"}
	valueKeywords       = []string{"calculator", "calc", "roi", "feature", "demo", "testimonial", "review", "referral", "value", "benefit"}
)

// Section categories drive openers and interpretation.
const (
	sectionCalculator   = "calculator"
	sectionPricing      = "pricing"
	sectionFeatures     = "features"
	sectionProblem      = "problem"
	sectionTestimonials = "testimonials"
	sectionValue        = "value"
	sectionHero         = "hero"
	sectionOther        = "other"
)

var sectionCategoryTable = []keywordRule{
	{value: sectionCalculator, keywords: []string{"calculator", "calc", "roi"}},
	{value: sectionPricing, keywords: []string{"pricing", "price", "plan", "download", "trial"}},
	{value: sectionFeatures, keywords: []string{"feature", "solution", "how it works", "how-it-works", "workflow"}},
	{value: sectionProblem, keywords: []string{"problem", "pain"}},
	{value: sectionTestimonials, keywords: []string{"testimonial", "review", "referral"}},
	{value: sectionValue, keywords: []string{"value", "benefit"}},
	{value: sectionHero, keywords: []string{"hero", "intro", "header"}},
}

var sectionTopicTable = []keywordRule{
	{value: "ROI calculation and cost savings", keywords: []string{"calculator", "calc", "roi"}},
	{value: "pricing and plans", keywords: []string{"pricing", "price", "plan"}},
	{value: "getting started with the free trial", keywords: []string{"download", "trial"}},
	{value: "how the editing workflow works", keywords: []string{"feature", "solution", "how it works", "how-it-works", "workflow"}},
	{value: "the time editing takes away", keywords: []string{"problem", "pain"}},
	{value: "results other photographers have seen", keywords: []string{"testimonial", "review"}},
	{value: "the referral program", keywords: []string{"referral"}},
	{value: "what you get for the money", keywords: []string{"value", "benefit"}},
	{value: "the headline offer", keywords: []string{"hero", "intro", "header"}},
	{value: "common questions", keywords: []string{"faq"}},
}

var sectionOpeners = map[string][]string{
	sectionCalculator: {
		"I noticed you spent %[1]s with the savings calculator. Want me to walk through what those numbers mean for your year?",
		"You gave the calculator a good %[1]s. Did the result surprise you?",
		"Looks like you ran the numbers for %[1]s. Should we look at what that time is worth?",
	},
	sectionPricing: {
		"You spent %[1]s looking at pricing. Want help figuring out which option fits your volume?",
		"I saw you checked out pricing for %[1]s. Anything I can clear up?",
	},
	sectionFeatures: {
		"You spent %[1]s exploring how it works. Which part caught your eye?",
		"The features held your attention for %[1]s. Want a quick rundown of the editing workflow?",
	},
	sectionProblem: {
		"You spent %[1]s on the part about editing time. Does that sound like your week?",
		"That section about late-night editing kept you for %[1]s. Is it hitting close to home?",
	},
	sectionTestimonials: {
		"You read what other photographers said for %[1]s. Want to hear how someone with a similar workload uses it?",
		"I noticed %[1]s on the success stories. Curious whether it would work the same for you?",
	},
	sectionValue: {
		"You spent %[1]s on what's included. Want me to break down what you'd actually get?",
		"Looks like you were weighing the value for %[1]s. What matters most to you?",
	},
	sectionHero: {
		"You've been here about %[1]s. What brought you by today?",
		"You spent %[1]s on the intro. Want the quick version of how this works?",
	},
	sectionOther: {
		"I noticed you spent %[1]s on %[2]s. Anything there I can help with?",
		"You've been reading about %[2]s for %[1]s. What questions do you have?",
	},
}

var sectionInterpretations = map[string]string{
	sectionCalculator:   "Calculator focus points to an analytical, ROI-evaluating buyer who wants numbers before deciding.",
	sectionPricing:      "Pricing focus points to a buyer close to a decision who is checking affordability and fit.",
	sectionFeatures:     "Feature focus points to a buyer validating that the product fits their workflow.",
	sectionProblem:      "Problem focus points to a buyer who feels the pain but has not committed to a solution.",
	sectionTestimonials: "Social-proof focus points to a buyer looking for reassurance that it works for people like them.",
	sectionValue:        "Value focus points to a buyer weighing cost against what they get.",
	sectionHero:         "Headline focus points to an early-stage visitor who is still orienting.",
	sectionOther:        "No dominant interest yet; the visitor is still exploring.",
}

func matchRule(table []keywordRule, haystack string) (string, bool) {
	for _, r := range table {
		if r.matches(haystack) {
			return r.value, true
		}
	}
	return "", false
}
