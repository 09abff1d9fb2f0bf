package validator

import (
	"strings"
	"unicode"

	"sales-agent/internal/domain"
)

const (
	// RepetitionLimit is how many earlier askings of the same question force
	// the script forward.
	RepetitionLimit = 2
	// CircuitLookback bounds how many assistant turns are compared.
	CircuitLookback = 5
	// KeywordOverlapThreshold is the share of the question's keywords a
	// prior message must contain to count as a repeat.
	KeywordOverlapThreshold = 0.5
	// MinKeywordLength is the shortest token treated as a keyword.
	MinKeywordLength = 4
)

// Repetitions counts how many of the most recent assistant turns in history
// asked essentially the same question.
func Repetitions(question string, history []domain.ChatMessage) int {
	current := Keywords(question)
	if len(current) == 0 {
		return 0
	}
	count, seen := 0, 0
	for i := len(history) - 1; i >= 0 && seen < CircuitLookback; i-- {
		if history[i].Role != domain.RoleAssistant {
			continue
		}
		seen++
		if overlap(current, Keywords(history[i].Content)) >= KeywordOverlapThreshold {
			count++
		}
	}
	return count
}

// Keywords returns the lowercase non-stopword tokens of at least
// MinKeywordLength characters.
func Keywords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenize(text) {
		if len(tok) < MinKeywordLength {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func overlap(current, prior map[string]struct{}) float64 {
	shared := 0
	for k := range current {
		if _, ok := prior[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(current))
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

var stopwords = setOf(
	"a", "about", "after", "again", "all", "also", "am", "an", "and", "any", "are", "as", "at",
	"be", "been", "before", "being", "but", "by", "can", "could", "did", "do", "does", "doing",
	"for", "from", "get", "got", "had", "has", "have", "having", "he", "her", "here", "him", "his",
	"how", "i", "i'd", "i'll", "i'm", "i've", "if", "im", "in", "into", "is", "it", "it's", "its",
	"just", "like", "me", "more", "most", "my", "of", "on", "or", "our", "out", "really", "she",
	"should", "so", "some", "than", "that", "that's", "the", "their", "them", "then", "there",
	"these", "they", "this", "those", "to", "too", "up", "us", "very", "was", "we", "were", "what",
	"when", "where", "which", "while", "who", "why", "will", "with", "would", "you", "you're",
	"your", "yours",
)

func setOf(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
