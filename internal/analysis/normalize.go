// Package analysis derives behavioral insights from page telemetry. Every
// function here is pure and safe for concurrent use.
package analysis

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sales-agent/internal/domain"
)

var (
	typeKeys      = []string{"type", "eventType", "event"}
	targetKeys    = []string{"target", "element", "elementId", "id", "section", "page", "path"}
	valueKeys     = []string{"value", "data"}
	timestampKeys = []string{"timestamp", "ts", "time"}

	typeAliases = map[string]string{
		"click":             domain.EventClick,
		"tap":               domain.EventClick,
		"hover":             domain.EventHover,
		"mouseover":         domain.EventHover,
		"mouseenter":        domain.EventHover,
		"scroll":            domain.EventScroll,
		"calculator_change": domain.EventCalculatorChange,
		"calculatorchange":  domain.EventCalculatorChange,
		"calc_change":       domain.EventCalculatorChange,
		"calculator_input":  domain.EventCalculatorChange,
		"page_view":         domain.EventPageView,
		"pageview":          domain.EventPageView,
		"view":              domain.EventPageView,
	}

	targetPrefixRe  = regexp.MustCompile(`^(?:button|btn|nav|link|cta)[-_]`)
	trailingDigitRe = regexp.MustCompile(`[-_\s]*\d+$`)
	separatorRe     = regexp.MustCompile(`[-_./\s]+`)
)

// epochSecondsCutoff separates epoch seconds from epoch milliseconds.
const epochSecondsCutoff = 1e12

// NormalizeEvents converts raw client events into ActivityEvents ordered by
// time. Events without a parsable timestamp are dropped.
func NormalizeEvents(raw []domain.RawEvent) []domain.ActivityEvent {
	out := make([]domain.ActivityEvent, 0, len(raw))
	for _, r := range raw {
		ts, ok := parseTimestamp(firstValue(r, timestampKeys))
		if !ok {
			continue
		}
		out = append(out, domain.ActivityEvent{
			Type:      normalizeType(stringValue(firstValue(r, typeKeys))),
			Target:    stringValue(firstValue(r, targetKeys)),
			Value:     valueMap(firstValue(r, valueKeys)),
			Timestamp: ts,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func firstValue(r domain.RawEvent, keys []string) any {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "-", "_")
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func valueMap(v any) map[string]any {
	switch m := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return m
	case domain.RawEvent:
		return m
	}
	return map[string]any{"value": v}
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case float64:
		return fromEpoch(t)
	case int64:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(t)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f < epochSecondsCutoff {
		return time.Unix(0, int64(f*float64(time.Second))).UTC(), true
	}
	return time.Unix(0, int64(f*float64(time.Millisecond))).UTC(), true
}

// NormalizeTarget reduces an element identifier to a comparable name:
// "button-pricing-2" and "nav_pricing" both become "pricing".
func NormalizeTarget(target string) string {
	s := strings.ToLower(strings.TrimSpace(target))
	s = strings.TrimLeft(s, "#.")
	for targetPrefixRe.MatchString(s) {
		s = targetPrefixRe.ReplaceAllString(s, "")
	}
	s = trailingDigitRe.ReplaceAllString(s, "")
	s = separatorRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
