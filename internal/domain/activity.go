package domain

import "time"

// Activity event types after normalization.
const (
	EventClick            = "click"
	EventHover            = "hover"
	EventScroll           = "scroll"
	EventCalculatorChange = "calculator_change"
	EventPageView         = "page_view"
)

// RawEvent is an activity record as posted by the browser. Shapes vary between
// client versions, so it is decoded loosely and normalized by the analyzers.
type RawEvent map[string]any

// ActivityEvent is the normalized interaction record.
type ActivityEvent struct {
	Type      string
	Target    string
	Value     map[string]any
	Timestamp time.Time
}

// CalculatorSnapshot is the state of the on-page savings calculator.
type CalculatorSnapshot struct {
	ShootsPerWeek       float64 `json:"shootsPerWeek"`
	HoursPerShoot       float64 `json:"hoursPerShoot"`
	BillableRate        float64 `json:"billableRate"`
	HasManuallyAdjusted bool    `json:"hasManuallyAdjusted"`
	HasClickedPreset    bool    `json:"hasClickedPreset"`
}

// Values exposes the numeric fields by their client-side names.
func (c *CalculatorSnapshot) Values() map[string]float64 {
	if c == nil {
		return nil
	}
	return map[string]float64{
		"shootsPerWeek": c.ShootsPerWeek,
		"hoursPerShoot": c.HoursPerShoot,
		"billableRate":  c.BillableRate,
	}
}

// SectionHistoryItem is the accumulated viewport dwell time for one page section.
type SectionHistoryItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	TotalTimeSpent int64  `json:"totalTimeSpent"`
}
