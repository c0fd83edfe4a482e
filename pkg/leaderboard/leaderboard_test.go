package leaderboard

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

func snap(counts ...any) model.Snapshot {
	ret := model.Snapshot{}
	for i := 0; i < len(counts); i += 2 {
		laps := counts[i+1].(int)
		ret.Entries = append(ret.Entries, model.SnapshotEntry{
			Runner:    model.RunnerID(counts[i].(string)),
			LapRecord: model.LapRecord{DisplayLaps: laps, ActualLaps: laps},
		})
	}
	return ret
}

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		snap model.Snapshot
		want []Row
	}{
		{
			name: "empty",
			snap: model.Snapshot{},
			want: []Row{},
		},
		{
			name: "laps descending",
			snap: snap("001", 2, "002", 5, "003", 1),
			want: []Row{
				{Rank: 1, Runner: "002", DisplayLaps: 5, ActualLaps: 5},
				{Rank: 2, Runner: "001", DisplayLaps: 2, ActualLaps: 2},
				{Rank: 3, Runner: "003", DisplayLaps: 1, ActualLaps: 1},
			},
		},
		{
			name: "ties by numeric id share rank",
			snap: snap("010", 3, "002", 3, "009", 4, "001", 0),
			want: []Row{
				{Rank: 1, Runner: "009", DisplayLaps: 4, ActualLaps: 4},
				{Rank: 2, Runner: "002", DisplayLaps: 3, ActualLaps: 3},
				{Rank: 2, Runner: "010", DisplayLaps: 3, ActualLaps: 3},
				{Rank: 4, Runner: "001", DisplayLaps: 0, ActualLaps: 0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Rank(tt.snap)); diff != "" {
				t.Errorf("Rank() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTotalsAndDistance(t *testing.T) {
	s := model.Snapshot{Entries: []model.SnapshotEntry{
		{Runner: "001", LapRecord: model.LapRecord{DisplayLaps: 4, ActualLaps: 2}},
		{Runner: "002", LapRecord: model.LapRecord{DisplayLaps: 3, ActualLaps: 3}},
	}}
	assert.Equal(t, model.LapRecord{DisplayLaps: 7, ActualLaps: 5}, Totals(s))
	assert.Equal(t, "2", Distance(5, decimal.RequireFromString("0.4")).String())
	assert.Equal(t, "0", Distance(0, decimal.RequireFromString("0.4")).String())
}

func TestTracker(t *testing.T) {
	tr := NewTracker(3)
	tests := []struct {
		name string
		snap model.Snapshot
		want []model.RunnerID
	}{
		{"initial counts", snap("001", 1, "002", 0), []model.RunnerID{"001"}},
		{"no change", snap("001", 1, "002", 0), []model.RunnerID{"001"}},
		{"new lap moves to front", snap("001", 1, "002", 1), []model.RunnerID{"002", "001"}},
		{"repeat runner", snap("001", 2, "002", 1), []model.RunnerID{"001", "002", "001"}},
		{"capped", snap("001", 2, "002", 1, "003", 1), []model.RunnerID{"003", "001", "002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Observe(Rank(tt.snap)))
		})
	}
	assert.Equal(t, []model.RunnerID{"003", "001", "002"}, tr.Recent())
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(
		WithLapLength(decimal.RequireFromString("0.25")),
		WithRecent(2),
		WithNames(func(id model.RunnerID) string {
			if id == "002" {
				return "Ada"
			}
			return ""
		}),
	)
	board := b.Build(snap("001", 1, "002", 3))
	assert.Equal(t, 4, board.TotalLaps)
	assert.Equal(t, "1", board.DistanceKm.String())
	assert.Equal(t, "Ada", board.Rows[0].Name)
	assert.Equal(t, []model.RunnerID{"001", "002"}, board.Recent)
}
