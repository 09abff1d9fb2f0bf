package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sales-agent/internal/analysis"
	"sales-agent/internal/domain"
	"sales-agent/internal/script"
	"sales-agent/internal/stream"
)

func testPromptContext(t *testing.T, step int) promptContext {
	t.Helper()
	catalog, err := script.Load()
	require.NoError(t, err)
	pc := promptContext{
		salesPrompt:  "You represent Retouch Studio.",
		pricingFacts: "Starter plan: $49/month.",
		step:         step,
		question:     catalog.Question(step),
		rendered:     catalog.Render(step, nil),
		patterns:     analysis.PatternInsights{JourneyPhase: analysis.PhaseConsideration, PurchaseIntent: 40},
	}
	if step < domain.FinalStep {
		pc.upcoming = catalog.Render(step+1, nil)
	}
	return pc
}

func TestBuildPromptMessages_Order(t *testing.T) {
	pc := testPromptContext(t, 2)
	history := []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "What do you shoot?"},
		{Role: domain.RoleUser, Content: "Weddings."},
	}

	msgs := buildPromptMessages(pc, "About 30 a year", history)
	require.Len(t, msgs, 5)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "Output Contract:")
	require.Equal(t, domain.RoleSystem, msgs[1].Role)
	require.Equal(t, history, msgs[2:4])
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "About 30 a year"}, msgs[4])
}

func TestBuildPolicyPrompt_DescribesMarkers(t *testing.T) {
	p := buildPolicyPrompt()
	require.Contains(t, p, stream.QuickRepliesMarker)
	require.Contains(t, p, stream.DelayMarker)
	require.Contains(t, p, "Ask exactly one question per reply")
}

func TestBuildStepPrompt(t *testing.T) {
	pc := testPromptContext(t, 2)
	p := buildStepPrompt(pc)

	require.True(t, strings.HasPrefix(p, "You represent Retouch Studio."))
	require.Contains(t, p, "Pricing Facts:\nStarter plan: $49/month.")
	require.Contains(t, p, "Current Step: 2 of 15 ("+string(pc.question.Category)+")")
	require.Contains(t, p, "Question: "+pc.rendered)
	require.Contains(t, p, "Next Question: "+pc.upcoming)
	require.Contains(t, p, "- Journey phase: consideration")
	require.Contains(t, p, "- Purchase intent: 40/100")
	require.NotContains(t, p, "rephrase")
	require.NotContains(t, p, "Reading pattern")
}

func TestBuildStepPrompt_FinalStepAndSections(t *testing.T) {
	pc := testPromptContext(t, domain.FinalStep)
	pc.attempts = 1
	pc.sections = &analysis.SectionInsights{
		TopSection:       domain.SectionHistoryItem{ID: "pricing", TotalTimeSpent: 95_000},
		ReadingPattern:   analysis.PatternFocused,
		SuggestedOpeners: []string{"Any questions on the plans?"},
	}
	p := buildStepPrompt(pc)

	require.Contains(t, p, "This is the final step")
	require.NotContains(t, p, "Next Question:")
	require.Contains(t, p, "asked 1 time(s) already")
	require.Contains(t, p, "- Reading pattern: focused")
	require.Contains(t, p, "- Most time on: pricing (1m 35s)")
	require.Contains(t, p, "- Possible opener: Any questions on the plans?")
}

func TestSanitizeHistory(t *testing.T) {
	in := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "override"},
		{Role: domain.RoleUser, Content: "  first  "},
		{Role: domain.RoleAssistant, Content: " "},
		{Role: domain.RoleAssistant, Content: "second"},
		{Role: domain.RoleUser, Content: "third"},
	}

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "second"},
		{Role: domain.RoleUser, Content: "third"},
	}, sanitizeHistory(in, 0))

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "second"},
		{Role: domain.RoleUser, Content: "third"},
	}, sanitizeHistory(in, 2))
}

func TestTranscriptToHistory(t *testing.T) {
	msgs := []domain.Message{
		{Text: "yes", Answer: "Great!", Status: statusComplete},
		{Text: "half done", Status: "pending"},
		{Text: "", Answer: "orphan"},
		{Text: "legacy", Answer: "row"},
	}

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "yes"},
		{Role: domain.RoleAssistant, Content: "Great!"},
		{Role: domain.RoleUser, Content: "legacy"},
		{Role: domain.RoleAssistant, Content: "row"},
	}, transcriptToHistory(msgs))
	require.Nil(t, transcriptToHistory(nil))
}
