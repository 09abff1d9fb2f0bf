package validator

import (
	"context"
	"strings"

	"sales-agent/internal/script"
)

// MinSubstantiveWords is how many content words an open answer needs before
// the heuristic accepts it without a model check.
const MinSubstantiveWords = 3

var (
	buyingSignals = []string{
		"sign me up", "ready to buy", "ready to start", "how do i buy", "how do i sign up",
		"send me the link", "send the link", "where do i pay", "take my money",
	}
	// consentPhrases agree to a yes/no question. They say nothing about buying.
	consentPhrases = []string{
		"let's do it", "lets do it", "i'm in", "im in", "count me in", "go ahead", "go for it",
		"sounds good",
	}
	fillerPhrases = []string{
		"i don't know", "i dont know", "don't know", "dont know", "not sure", "no idea",
		"i guess", "idk", "dunno", "maybe", "hmm", "hm", "eh", "um", "uh", "whatever", "unsure",
		"meh", "ok i guess", "lol", "haha",
	}
	fillerWords = singleWords(fillerPhrases)
	affirmatives = setOf(
		"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "absolutely", "definitely",
		"please", "fine", "certainly",
	)
	negatives = setOf("no", "nope", "nah", "never", "later")
	negators  = setOf("not", "don't", "dont", "isn't", "isnt")
	numberWords = setOf(
		"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten",
		"eleven", "twelve", "fifteen", "twenty", "thirty", "forty", "fifty", "hundred",
		"half", "couple", "few", "dozen",
	)
)

// HeuristicStage decides the obvious cases without a model call.
type HeuristicStage struct {
	catalog *script.Catalog
}

func NewHeuristicStage(catalog *script.Catalog) *HeuristicStage {
	return &HeuristicStage{catalog: catalog}
}

func (h *HeuristicStage) Evaluate(_ context.Context, in Input) (Result, bool) {
	current := in.CurrentStep
	reply := strings.ToLower(strings.TrimSpace(in.Reply))
	if reply == "" {
		return stay(current, "empty reply"), true
	}
	words := tokenize(reply)
	if len(words) == 0 {
		return stay(current, "reply has no words"), true
	}

	if current < AtomicCloseStep && containsPhrase(reply, buyingSignals) {
		return Result{Action: ActionJump, NextStep: AtomicCloseStep, Reasoning: "buying signal"}, true
	}

	if fillerOnly(reply) {
		return stay(current, "non-committal reply"), true
	}

	switch h.answerKind(current) {
	case script.AnswerYesNo:
		negative := hasAny(words, negatives) || hasAny(words, negators)
		if (affirmed(words) || containsPhrase(reply, consentPhrases)) && !negative {
			return Result{Action: ActionNext, NextStep: current + 1, Reasoning: "affirmative answer"}, true
		}
		if negative {
			return Result{}, false
		}
	case script.AnswerNumeric:
		if hasNumber(words) {
			return Result{Action: ActionNext, NextStep: current + 1, Reasoning: "numeric answer"}, true
		}
	}
	n := substantiveWords(words)
	switch {
	case n >= MinSubstantiveWords:
		return Result{Action: ActionNext, NextStep: current + 1, Reasoning: "substantive answer"}, true
	case n == 0 && !hasAny(words, affirmatives) && !hasAny(words, negatives):
		return stay(current, "reply has no content words"), true
	}
	return Result{}, false
}

func (h *HeuristicStage) answerKind(step int) script.AnswerKind {
	if step < 0 || step >= h.catalog.Len() {
		return script.AnswerOpen
	}
	return h.catalog.Question(step).Answer
}

func stay(current int, reason string) Result {
	return Result{Action: ActionStay, NextStep: current, Reasoning: reason}
}

func containsPhrase(reply string, phrases []string) bool {
	padded := " " + strings.Join(tokenize(reply), " ") + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// fillerOnly reports whether nothing but filler remains once every filler
// phrase is removed.
func fillerOnly(reply string) bool {
	rest := " " + strings.Join(tokenize(reply), " ") + " "
	matched := false
	for _, p := range fillerPhrases {
		needle := " " + p + " "
		for strings.Contains(rest, needle) {
			rest = strings.Replace(rest, needle, " ", 1)
			matched = true
		}
	}
	return matched && substantiveWords(strings.Fields(rest)) == 0
}

func substantiveWords(words []string) int {
	n := 0
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, yes := affirmatives[w]; yes {
			continue
		}
		if _, no := negatives[w]; no {
			continue
		}
		if _, filler := fillerWords[w]; filler {
			continue
		}
		n++
	}
	return n
}

func hasAny(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// affirmed reports an affirmative word that is not directly negated, so
// "not sure" does not read as "sure".
func affirmed(words []string) bool {
	for i, w := range words {
		if _, ok := affirmatives[w]; !ok {
			continue
		}
		if i > 0 {
			if _, neg := negators[words[i-1]]; neg {
				continue
			}
		}
		return true
	}
	return false
}

func singleWords(phrases []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range phrases {
		if !strings.Contains(p, " ") {
			out[p] = struct{}{}
		}
	}
	return out
}

func hasNumber(words []string) bool {
	for _, w := range words {
		if strings.ContainsAny(w, "0123456789") {
			return true
		}
		if _, ok := numberWords[w]; ok {
			return true
		}
	}
	return false
}
