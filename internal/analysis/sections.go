package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"sales-agent/internal/domain"
)

// ReadingPattern classifies how a visitor consumed the page.
type ReadingPattern string

const (
	PatternDeepReader ReadingPattern = "deep_reader"
	PatternScanner    ReadingPattern = "scanner"
	PatternFocused    ReadingPattern = "focused"
	PatternExplorer   ReadingPattern = "explorer"
)

// InterestLevel is a section's dwell-time quartile bucket.
type InterestLevel string

const (
	InterestHigh   InterestLevel = "high"
	InterestMedium InterestLevel = "medium"
	InterestLow    InterestLevel = "low"
)

const (
	focusedShare    = 0.6
	// scannerSpread bounds the coefficient of variation (stddev / mean) of
	// dwell times. It is unitless, so the result does not depend on whether
	// sessions last seconds or minutes.
	scannerSpread = 0.15
	explorerMin     = 5
)

// SectionInterest is the derived interest in one section.
type SectionInterest struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Topic     string        `json:"topic"`
	Level     InterestLevel `json:"level"`
	TimeSpent int64         `json:"timeSpent"`
}

// SectionInsights is the reading-behavior read of a visit.
type SectionInsights struct {
	TopSection       domain.SectionHistoryItem `json:"topSection"`
	ReadingPattern   ReadingPattern            `json:"readingPattern"`
	SuggestedOpeners []string                  `json:"suggestedOpeners"`
	InterestMapping  []SectionInterest         `json:"interestMapping"`
	Interpretation   string                    `json:"interpretation"`
	TotalTimeSpent   int64                     `json:"totalTimeSpent"`
}

// AnalyzeSections classifies per-section dwell times. It returns nil when
// there is nothing to analyze.
func AnalyzeSections(items []domain.SectionHistoryItem) *SectionInsights {
	if len(items) == 0 {
		return nil
	}
	sections := make([]domain.SectionHistoryItem, len(items))
	copy(sections, items)
	for i := range sections {
		sections[i].TotalTimeSpent = max(sections[i].TotalTimeSpent, 0)
	}
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].TotalTimeSpent != sections[j].TotalTimeSpent {
			return sections[i].TotalTimeSpent > sections[j].TotalTimeSpent
		}
		return sections[i].ID < sections[j].ID
	})

	var total int64
	for _, s := range sections {
		total += s.TotalTimeSpent
	}
	top := sections[0]
	category := sectionCategory(top)

	return &SectionInsights{
		TopSection:       top,
		ReadingPattern:   readingPattern(sections, total),
		SuggestedOpeners: suggestedOpeners(category, top),
		InterestMapping:  interestMapping(sections),
		Interpretation:   sectionInterpretations[category],
		TotalTimeSpent:   total,
	}
}

func readingPattern(sorted []domain.SectionHistoryItem, total int64) ReadingPattern {
	if total > 0 && float64(sorted[0].TotalTimeSpent) > focusedShare*float64(total) {
		return PatternFocused
	}
	dwell := make([]float64, len(sorted))
	for i, s := range sorted {
		dwell[i] = float64(s.TotalTimeSpent)
	}
	mean, variance := stat.PopMeanVariance(dwell, nil)
	if mean > 0 && math.Sqrt(variance)/mean < scannerSpread {
		return PatternScanner
	}
	distinct := map[string]struct{}{}
	for _, s := range sorted {
		distinct[s.ID] = struct{}{}
	}
	if len(distinct) >= explorerMin {
		return PatternExplorer
	}
	return PatternDeepReader
}

func interestMapping(sorted []domain.SectionHistoryItem) []SectionInterest {
	asc := make([]float64, len(sorted))
	for i, s := range sorted {
		asc[len(sorted)-1-i] = float64(s.TotalTimeSpent)
	}
	q25 := stat.Quantile(0.25, stat.Empirical, asc, nil)
	q75 := stat.Quantile(0.75, stat.Empirical, asc, nil)

	out := make([]SectionInterest, 0, len(sorted))
	for _, s := range sorted {
		t := float64(s.TotalTimeSpent)
		level := InterestMedium
		switch {
		case t >= q75:
			level = InterestHigh
		case t <= q25:
			level = InterestLow
		}
		out = append(out, SectionInterest{
			ID:        s.ID,
			Title:     s.Title,
			Topic:     sectionTopic(s),
			Level:     level,
			TimeSpent: s.TotalTimeSpent,
		})
	}
	return out
}

func sectionHaystack(s domain.SectionHistoryItem) string {
	return strings.ToLower(s.ID + " " + s.Title)
}

func sectionTopic(s domain.SectionHistoryItem) string {
	if topic, ok := matchRule(sectionTopicTable, sectionHaystack(s)); ok {
		return topic
	}
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func sectionCategory(s domain.SectionHistoryItem) string {
	if c, ok := matchRule(sectionCategoryTable, strings.ToLower(s.ID)); ok {
		return c
	}
	return sectionOther
}

func suggestedOpeners(category string, top domain.SectionHistoryItem) []string {
	dwell := FormatDwell(top.TotalTimeSpent)
	topic := sectionTopic(top)
	templates := sectionOpeners[category]
	out := make([]string, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, fmt.Sprintf(tpl, dwell, topic))
	}
	return out
}

// FormatDwell renders a millisecond duration the way openers quote it.
func FormatDwell(ms int64) string {
	secs := int64(math.Round(float64(ms) / 1000))
	if secs < 60 {
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	m, s := secs/60, secs%60
	if s == 0 {
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}
