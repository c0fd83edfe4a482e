package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RunnerID is the normalized race number, e.g. "007"
type RunnerID string

// Num returns the numeric value of the id, -1 if the id is not numeric
func (r RunnerID) Num() int {
	n, err := strconv.Atoi(string(r))
	if err != nil {
		return -1
	}
	return n
}

// Less orders ids numerically, non numeric ids sort last by string value
func (r RunnerID) Less(o RunnerID) bool {
	a, b := r.Num(), o.Num()
	switch {
	case a >= 0 && b >= 0 && a != b:
		return a < b
	case a >= 0 && b < 0:
		return true
	case a < 0 && b >= 0:
		return false
	default:
		return r < o
	}
}

// LapRecord holds the credited (display) and the physical (actual) lap count of a runner.
// Display may exceed actual while a bonus window is active.
type LapRecord struct {
	DisplayLaps int `json:"displayLaps"`
	ActualLaps  int `json:"actualLaps"`
}

// DetectionEvent is produced for each accepted detection only.
type DetectionEvent struct {
	ID          uuid.UUID `json:"id"`
	Runner      RunnerID  `json:"runner"`
	Timestamp   time.Time `json:"timestamp"`
	DisplayLaps int       `json:"displayLaps"`
	ActualLaps  int       `json:"actualLaps"`
}

func NewDetectionEvent(runner RunnerID, ts time.Time, rec LapRecord) DetectionEvent {
	return DetectionEvent{
		ID:          uuid.New(),
		Runner:      runner,
		Timestamp:   ts,
		DisplayLaps: rec.DisplayLaps,
		ActualLaps:  rec.ActualLaps,
	}
}
