package model

import (
	"sort"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestRunnerID_Less(t *testing.T) {
	ids := []RunnerID{"010", "2", "001", "abc", "100", "002"}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	assert.DeepEqual(t, []RunnerID{"001", "002", "2", "010", "100", "abc"}, ids)
}

func TestRunnerID_Num(t *testing.T) {
	assert.Equal(t, 7, RunnerID("007").Num())
	assert.Equal(t, -1, RunnerID("x7").Num())
}

func TestNewDetectionEvent(t *testing.T) {
	ts := time.Date(2025, 5, 1, 2, 30, 0, 0, time.Local)
	e := NewDetectionEvent("042", ts, LapRecord{DisplayLaps: 4, ActualLaps: 3})
	assert.Check(t, is.Equal(RunnerID("042"), e.Runner))
	assert.Check(t, is.Equal(4, e.DisplayLaps))
	assert.Check(t, is.Equal(3, e.ActualLaps))
	assert.Check(t, e.ID.String() != "")
	assert.Check(t, e.Timestamp.Equal(ts))
}

func TestSnapshot_DisplayCounts(t *testing.T) {
	s := Snapshot{Entries: []SnapshotEntry{
		{Runner: "001", LapRecord: LapRecord{DisplayLaps: 3, ActualLaps: 2}},
		{Runner: "002", LapRecord: LapRecord{DisplayLaps: 1, ActualLaps: 1}},
	}}
	assert.DeepEqual(t, map[string]int{"001": 3, "002": 1}, s.DisplayCounts())
	assert.Equal(t, 2, s.Records()["001"].ActualLaps)
}

func TestNewSnapshot(t *testing.T) {
	ts := time.Date(2025, 5, 1, 2, 30, 0, 0, time.UTC)
	s := NewSnapshot(map[RunnerID]LapRecord{
		"010": {DisplayLaps: 1, ActualLaps: 1},
		"002": {DisplayLaps: 4, ActualLaps: 2},
	}, ts)
	assert.DeepEqual(t, Snapshot{Timestamp: ts, Entries: []SnapshotEntry{
		{Runner: "002", LapRecord: LapRecord{DisplayLaps: 4, ActualLaps: 2}},
		{Runner: "010", LapRecord: LapRecord{DisplayLaps: 1, ActualLaps: 1}},
	}}, s)
}
