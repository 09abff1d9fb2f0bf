package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sales-agent/internal/domain"
)

// JourneyPhase is a coarse position in the buying funnel.
type JourneyPhase string

const (
	PhaseAwareness     JourneyPhase = "awareness"
	PhaseConsideration JourneyPhase = "consideration"
	PhaseDecision      JourneyPhase = "decision"
	PhaseAbandonment   JourneyPhase = "abandonment"
)

// Scoring and hesitation thresholds.
const (
	maxTopics = 5

	calculatorPoints = 5
	calculatorCap    = 30
	pricingPoints    = 10
	pricingCap       = 30
	featurePoints    = 3
	featureCap       = 20
	socialPoints     = 5
	socialCap        = 20

	decisionIntent = 60

	scrollReversalWindow   = 2 * time.Second
	scrollReversalMin      = 4
	clickVolumeMin         = 10
	clickDiversityMax      = 5
	ctaHoverMin            = 3
	calculatorHesitateMin  = 4
	abandonmentSignalCount = 3
)

// RepeatedClick is a normalized target clicked more than once.
type RepeatedClick struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// CalculatorEngagement summarizes calculator_change events.
type CalculatorEngagement struct {
	Changes         int                `json:"changes"`
	FinalValues     map[string]float64 `json:"finalValues,omitempty"`
	DurationSeconds float64            `json:"durationSeconds"`
}

// PatternInsights is the behavioral read of one activity log.
type PatternInsights struct {
	RepeatedClicks       []RepeatedClick      `json:"repeatedClicks"`
	TopicsOfInterest     []string             `json:"topicsOfInterest"`
	HesitationSignals    []string             `json:"hesitationSignals"`
	PurchaseIntent       int                  `json:"purchaseIntent"`
	JourneyPhase         JourneyPhase         `json:"journeyPhase"`
	CalculatorEngagement CalculatorEngagement `json:"calculatorEngagement"`
	TimeToValue          float64              `json:"timeToValue"`
}

type event struct {
	domain.ActivityEvent
	key      string
	haystack string
}

func (e event) isView() bool {
	return e.Type == domain.EventPageView || e.Type == domain.EventHover || e.Type == domain.EventClick
}

// DetectPatterns normalizes raw events and derives PatternInsights from them.
func DetectPatterns(raw []domain.RawEvent) PatternInsights {
	return Detect(NormalizeEvents(raw))
}

// Detect derives PatternInsights from normalized, time-ordered events.
func Detect(activity []domain.ActivityEvent) PatternInsights {
	events := make([]event, len(activity))
	for i, a := range activity {
		key := NormalizeTarget(a.Target)
		events[i] = event{
			ActivityEvent: a,
			key:           key,
			haystack:      strings.ToLower(a.Target) + " " + key,
		}
	}

	var (
		clicks, downloadClicks, pricingClicks int
		ctaHovers, calcChanges, pricingViews  int
		featureViews, socialViews             int
	)
	distinct := map[string]struct{}{}
	for _, e := range events {
		switch e.Type {
		case domain.EventClick:
			clicks++
			distinct[e.key] = struct{}{}
			if containsAny(e.haystack, downloadKeywords) {
				downloadClicks++
			}
			if containsAny(e.haystack, pricingKeywords) {
				pricingClicks++
			}
		case domain.EventHover:
			if containsAny(e.haystack, ctaKeywords) {
				ctaHovers++
			}
		case domain.EventCalculatorChange:
			calcChanges++
		}
		if !e.isView() {
			continue
		}
		if containsAny(e.haystack, pricingKeywords) {
			pricingViews++
		}
		if containsAny(e.haystack, featureKeywords) {
			featureViews++
		}
		if containsAny(e.haystack, testimonialKeywords) {
			socialViews++
		}
	}

	var signals []string
	if n := maxScrollReversals(events); n >= scrollReversalMin {
		signals = append(signals, fmt.Sprintf("Rapid scrolling back and forth (%d direction changes within %s)", n, scrollReversalWindow))
	}
	if clicks > clickVolumeMin && len(distinct) < clickDiversityMax {
		signals = append(signals, fmt.Sprintf("Many clicks (%d) across few targets (%d)", clicks, len(distinct)))
	}
	if ctaHovers >= ctaHoverMin && downloadClicks == 0 {
		signals = append(signals, fmt.Sprintf("Hovered over call-to-action %d times without downloading", ctaHovers))
	}
	if calcChanges >= calculatorHesitateMin && downloadClicks == 0 {
		signals = append(signals, fmt.Sprintf("Adjusted the calculator %d times without downloading", calcChanges))
	}
	if pricingViews > 0 && downloadClicks == 0 {
		signals = append(signals, "Viewed pricing without downloading")
	}

	intent := min(calcChanges*calculatorPoints, calculatorCap) +
		min(pricingClicks*pricingPoints, pricingCap) +
		min(featureViews*featurePoints, featureCap) +
		min(socialViews*socialPoints, socialCap)
	intent = max(0, min(intent, 100))

	return PatternInsights{
		RepeatedClicks:       repeatedClicks(events),
		TopicsOfInterest:     topicsOfInterest(events),
		HesitationSignals:    nonNil(signals),
		PurchaseIntent:       intent,
		JourneyPhase:         journeyPhase(len(signals), intent, calcChanges > 0, pricingViews > 0),
		CalculatorEngagement: calculatorEngagement(events),
		TimeToValue:          timeToValue(events),
	}
}

func journeyPhase(signals, intent int, calculator, pricing bool) JourneyPhase {
	switch {
	case signals >= abandonmentSignalCount:
		return PhaseAbandonment
	case intent >= decisionIntent && calculator && pricing:
		return PhaseDecision
	case calculator || pricing:
		return PhaseConsideration
	default:
		return PhaseAwareness
	}
}

func repeatedClicks(events []event) []RepeatedClick {
	counts := map[string]int{}
	for _, e := range events {
		if e.Type == domain.EventClick && e.key != "" {
			counts[e.key]++
		}
	}
	out := []RepeatedClick{}
	for target, n := range counts {
		if n >= 2 {
			out = append(out, RepeatedClick{Target: target, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func topicsOfInterest(events []event) []string {
	counts := make([]int, len(topicTable))
	for _, e := range events {
		if e.key == "" {
			continue
		}
		for i, rule := range topicTable {
			if rule.matches(e.haystack) {
				counts[i]++
			}
		}
	}
	idx := make([]int, 0, len(topicTable))
	for i, n := range counts {
		if n > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return counts[idx[a]] > counts[idx[b]] })
	out := []string{}
	for _, i := range idx {
		if len(out) == maxTopics {
			break
		}
		out = append(out, topicTable[i].value)
	}
	return out
}

// maxScrollReversals returns the largest number of scroll direction changes
// that fall inside any single reversal window.
func maxScrollReversals(events []event) int {
	var (
		changes []time.Time
		prevDir string
		prevPos float64
		hasPos  bool
	)
	for _, e := range events {
		if e.Type != domain.EventScroll {
			continue
		}
		dir := ""
		if d, ok := e.Value["direction"].(string); ok {
			dir = strings.ToLower(d)
		} else if pos, ok := scrollPosition(e.Value); ok {
			if hasPos && pos != prevPos {
				dir = "down"
				if pos < prevPos {
					dir = "up"
				}
			}
			prevPos, hasPos = pos, true
		}
		if dir == "" {
			continue
		}
		if prevDir != "" && dir != prevDir {
			changes = append(changes, e.Timestamp)
		}
		prevDir = dir
	}

	best := 0
	for i, j := 0, 0; j < len(changes); j++ {
		for changes[j].Sub(changes[i]) > scrollReversalWindow {
			i++
		}
		best = max(best, j-i+1)
	}
	return best
}

func scrollPosition(v map[string]any) (float64, bool) {
	for _, k := range []string{"y", "scrollY", "position", "top"} {
		if n, ok := numberValue(v[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func calculatorEngagement(events []event) CalculatorEngagement {
	var (
		out         CalculatorEngagement
		first, last time.Time
	)
	for _, e := range events {
		if e.Type != domain.EventCalculatorChange {
			continue
		}
		if out.Changes == 0 {
			first = e.Timestamp
		}
		last = e.Timestamp
		out.Changes++
		mergeCalculatorValues(&out, e.Value)
	}
	if out.Changes > 0 {
		out.DurationSeconds = last.Sub(first).Seconds()
	}
	return out
}

// mergeCalculatorValues folds one event payload into the running snapshot.
// Payloads are either {"field": name, "value": n} or a map of fields.
func mergeCalculatorValues(out *CalculatorEngagement, v map[string]any) {
	if len(v) == 0 {
		return
	}
	if out.FinalValues == nil {
		out.FinalValues = map[string]float64{}
	}
	for _, k := range []string{"field", "name", "input"} {
		if field, ok := v[k].(string); ok && field != "" {
			if n, ok := numberValue(v["value"]); ok {
				out.FinalValues[field] = n
			}
			return
		}
	}
	for k, raw := range v {
		if n, ok := numberValue(raw); ok {
			out.FinalValues[k] = n
		}
	}
}

func timeToValue(events []event) float64 {
	if len(events) == 0 {
		return 0
	}
	start := events[0].Timestamp
	for _, e := range events {
		if e.Type == domain.EventCalculatorChange || containsAny(e.haystack, valueKeywords) {
			return e.Timestamp.Sub(start).Seconds()
		}
	}
	return events[len(events)-1].Timestamp.Sub(start).Seconds()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
