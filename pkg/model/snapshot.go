package model

import (
	"slices"
	"time"
)

type SnapshotEntry struct {
	Runner RunnerID `json:"runner"`
	LapRecord
}

// Snapshot is the complete ledger state, entries ordered by numeric runner id
type Snapshot struct {
	Entries   []SnapshotEntry `json:"entries"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s Snapshot) Records() map[RunnerID]LapRecord {
	ret := make(map[RunnerID]LapRecord, len(s.Entries))
	for _, e := range s.Entries {
		ret[e.Runner] = e.LapRecord
	}
	return ret
}

// DisplayCounts maps runner ids to display laps, the format the dashboard accepts
func (s Snapshot) DisplayCounts() map[string]int {
	ret := make(map[string]int, len(s.Entries))
	for _, e := range s.Entries {
		ret[string(e.Runner)] = e.DisplayLaps
	}
	return ret
}

// NewSnapshot orders records by numeric runner id
func NewSnapshot(records map[RunnerID]LapRecord, ts time.Time) Snapshot {
	ids := make([]RunnerID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b RunnerID) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	ret := Snapshot{Entries: make([]SnapshotEntry, 0, len(ids)), Timestamp: ts}
	for _, id := range ids {
		ret.Entries = append(ret.Entries, SnapshotEntry{Runner: id, LapRecord: records[id]})
	}
	return ret
}
