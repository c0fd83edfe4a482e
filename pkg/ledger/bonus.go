package ledger

import (
	"fmt"
	"time"
)

// BonusPolicy decides how many display laps an accepted detection is worth at a given time
type BonusPolicy interface {
	Increment(t time.Time) int
}

type noBonus struct{}

func (noBonus) Increment(time.Time) int { return 1 }

// NoBonus credits every lap 1:1
var NoBonus BonusPolicy = noBonus{}

// HourWindow credits Multiplier display laps for detections accepted within the clock
// hours [Start, End). The window may wrap past midnight (e.g. 22..2). Start == End disables it.
type HourWindow struct {
	Start      int
	End        int
	Multiplier int
}

func NewHourWindow(start, end, multiplier int) (*HourWindow, error) {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return nil, fmt.Errorf("bonus hours must be within 0..23, got %d..%d", start, end)
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("bonus multiplier must be >= 1, got %d", multiplier)
	}
	return &HourWindow{Start: start, End: end, Multiplier: multiplier}, nil
}

func (w *HourWindow) Active(t time.Time) bool {
	return InHourWindow(t.Hour(), w.Start, w.End)
}

func (w *HourWindow) Increment(t time.Time) int {
	if w.Active(t) {
		return w.Multiplier
	}
	return 1
}

// InHourWindow reports whether hour lies within [start, end), wrapping past midnight
// when start > end.
func InHourWindow(hour, start, end int) bool {
	if start <= end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}
