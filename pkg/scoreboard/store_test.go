package scoreboard

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

const testFile = "/race/lap_counts.csv"

var t0 = time.Date(2025, 4, 26, 13, 0, 0, 0, time.UTC)

func newTestStore(numRunners int) (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewStore(testFile, NewLayout(numRunners), WithFs(fs), WithLocation(time.UTC)), fs
}

func snapshot(recs ...model.LapRecord) model.Snapshot {
	ret := model.Snapshot{}
	for i, r := range recs {
		ret.Entries = append(ret.Entries, model.SnapshotEntry{
			Runner:    model.RunnerID(fmt.Sprintf("%03d", i+1)),
			LapRecord: r,
		})
	}
	return ret
}

func event(id model.RunnerID, display, sec int) model.DetectionEvent {
	return model.DetectionEvent{
		Runner:      id,
		DisplayLaps: display,
		ActualLaps:  display,
		Timestamp:   t0.Add(time.Duration(sec) * time.Second),
	}
}

func readFile(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fs, testFile)
	require.NoError(t, err)
	return string(data)
}

func TestStore_FileFormat(t *testing.T) {
	s, fs := newTestStore(2)
	require.NoError(t, s.PersistSnapshot(snapshot(
		model.LapRecord{DisplayLaps: 1, ActualLaps: 1},
		model.LapRecord{})))
	require.NoError(t, s.AppendLogEntry(event("001", 1, 0)))
	require.NoError(t, s.PersistSnapshot(snapshot(
		model.LapRecord{DisplayLaps: 1, ActualLaps: 1},
		model.LapRecord{DisplayLaps: 2, ActualLaps: 1})))
	require.NoError(t, s.AppendLogEntry(event("002", 2, 5)))

	want := strings.Join([]string{
		"Race Number,Lap Count,Actual Laps",
		"001,1,1",
		"002,2,1",
		"", "", "", "", "",
		"Race Number,Lap Count,Timestamp",
		"001,1,2025-04-26 13:00:00",
		"002,2,2025-04-26 13:00:05",
	}, "\n") + "\n"
	if diff := cmp.Diff(want, readFile(t, fs)); diff != "" {
		t.Errorf("file content mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := range 20 {
		t.Run(fmt.Sprintf("state %d", run), func(t *testing.T) {
			s, _ := newTestStore(5)
			recs := make([]model.LapRecord, 5)
			for i := range recs {
				actual := rng.Intn(50)
				recs[i] = model.LapRecord{ActualLaps: actual, DisplayLaps: actual + rng.Intn(5)}
			}
			snap := snapshot(recs...)
			require.NoError(t, s.PersistSnapshot(snap))
			got, err := s.Load()
			require.NoError(t, err)
			if diff := cmp.Diff(snap.Records(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_LogAppendIsOrderPreserving(t *testing.T) {
	s, _ := newTestStore(3)
	ids := []model.RunnerID{"001", "002", "003"}
	counts := map[model.RunnerID]int{}
	var want []LogEntry
	for i := range 30 {
		id := ids[i%len(ids)]
		counts[id]++
		if i%4 == 0 {
			require.NoError(t, s.PersistSnapshot(snapshot(
				model.LapRecord{DisplayLaps: counts["001"], ActualLaps: counts["001"]},
				model.LapRecord{DisplayLaps: counts["002"], ActualLaps: counts["002"]},
				model.LapRecord{DisplayLaps: counts["003"], ActualLaps: counts["003"]})))
		}
		ev := event(id, counts[id], i*10)
		require.NoError(t, s.AppendLogEntry(ev))
		want = append(want, LogEntry{Runner: id, DisplayLaps: counts[id], Timestamp: ev.Timestamp})
	}
	doc, err := s.ReadDocument()
	require.NoError(t, err)
	assert.Equal(t, want, doc.Log())
}

func TestStore_AppendWithoutTotals(t *testing.T) {
	s, fs := newTestStore(1)
	require.NoError(t, s.AppendLogEntry(event("001", 1, 0)))
	require.NoError(t, s.AppendLogEntry(event("001", 2, 60)))

	lines := strings.Split(strings.TrimSuffix(readFile(t, fs), "\n"), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "Race Number,Lap Count,Timestamp", lines[7])
	assert.Equal(t, "001,2,2025-04-26 13:01:00", lines[9])

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[model.RunnerID]model.LapRecord{"001": {DisplayLaps: 2, ActualLaps: 2}}, got)
}

func TestStore_AppendRepairsMisplacedHeader(t *testing.T) {
	s, fs := newTestStore(2)
	content := strings.Join([]string{
		"Race Number,Lap Count",
		"001,3",
		"002,1",
		"",
		"Race Number,Lap Count,Timestamp",
		"001,3,2025-04-26 12:00:00",
		"something,else",
		"x", "y", "z",
	}, "\n") + "\n"
	require.NoError(t, afero.WriteFile(fs, testFile, []byte(content), 0o644))

	require.NoError(t, s.AppendLogEntry(event("002", 2, 0)))
	lines := strings.Split(strings.TrimSuffix(readFile(t, fs), "\n"), "\n")
	assert.Equal(t, "Race Number,Lap Count", lines[0])
	assert.Equal(t, "002,1", lines[2])
	assert.Equal(t, "Race Number,Lap Count,Timestamp", lines[8])
	assert.Equal(t, "001,3,2025-04-26 12:00:00", lines[9])
	assert.Equal(t, "002,2,2025-04-26 13:00:00", lines[len(lines)-1])

	doc, err := s.ReadDocument()
	require.NoError(t, err)
	assert.Len(t, doc.Log(), 2)
}

func TestStore_AppendMovesHeaderOfSmallerRace(t *testing.T) {
	// written for one runner, now opened for three
	s, fs := newTestStore(3)
	content := strings.Join([]string{
		"Race Number,Lap Count,Actual Laps",
		"001,1,1",
		"", "", "", "", "",
		"Race Number,Lap Count,Timestamp",
		"001,1,2025-04-26 12:00:00",
	}, "\n") + "\n"
	require.NoError(t, afero.WriteFile(fs, testFile, []byte(content), 0o644))

	require.NoError(t, s.AppendLogEntry(event("002", 1, 0)))
	got := readFile(t, fs)
	assert.Equal(t, 1, strings.Count(got, "Race Number,Lap Count,Timestamp"))
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	assert.Equal(t, "Race Number,Lap Count,Timestamp", lines[NewLayout(3).LogHeaderIndex()])

	doc, err := s.ReadDocument()
	require.NoError(t, err)
	assert.Len(t, doc.Log(), 2)
	assert.Zero(t, doc.Skipped())

	require.NoError(t, s.PersistSnapshot(snapshot(
		model.LapRecord{DisplayLaps: 1, ActualLaps: 1},
		model.LapRecord{DisplayLaps: 1, ActualLaps: 1},
		model.LapRecord{})))
	assert.Equal(t, 1, strings.Count(readFile(t, fs), "Race Number,Lap Count,Timestamp"))
	doc, err = s.ReadDocument()
	require.NoError(t, err)
	assert.Zero(t, doc.Skipped())
	assert.Empty(t, doc.Verify())
}

func TestStore_PersistPreservesLogLines(t *testing.T) {
	s, fs := newTestStore(1)
	content := strings.Join([]string{
		"Race Number,Lap Count",
		"001,2",
		"", "", "", "", "",
		"Race Number,Lap Count,Timestamp",
		"001,1,2025-04-26 12:00:00",
		"garbage row kept as is",
		"001,2,2025-04-26 12:05:00",
	}, "\r\n") + "\r\n"
	require.NoError(t, afero.WriteFile(fs, testFile, []byte(content), 0o644))

	require.NoError(t, s.PersistSnapshot(snapshot(model.LapRecord{DisplayLaps: 3, ActualLaps: 3})))
	got := readFile(t, fs)
	assert.True(t, strings.HasPrefix(got, "Race Number,Lap Count,Actual Laps\n001,3,3\n"))
	assert.True(t, strings.HasSuffix(got,
		"001,1,2025-04-26 12:00:00\ngarbage row kept as is\n001,2,2025-04-26 12:05:00\n"))
}

func TestStore_LoadMissingFile(t *testing.T) {
	s, _ := newTestStore(3)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_LoadDegradesGracefully(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[model.RunnerID]model.LapRecord
	}{
		{
			name: "two column totals",
			content: "Race Number,Lap Count\n001,4\n002,x\n003\n004,-2\n005,1\n",
			want: map[model.RunnerID]model.LapRecord{
				"001": {DisplayLaps: 4, ActualLaps: 4},
				"005": {DisplayLaps: 1, ActualLaps: 1},
			},
		},
		{
			name:    "legacy runner id header",
			content: "RunnerId,Lap Count,Actual Laps\n001,6,3\n",
			want:    map[model.RunnerID]model.LapRecord{"001": {DisplayLaps: 6, ActualLaps: 3}},
		},
		{
			name: "no totals header, log replay",
			content: strings.Join([]string{
				"garbage",
				"",
				"Race Number,Lap Count,Timestamp",
				"001,1,2025-04-26 12:00:00",
				"002,1,2025-04-26 12:00:10",
				"001,bad,2025-04-26 12:00:20",
				"001,3,2025-04-26 12:01:00",
				"002,1,not a time",
			}, "\n"),
			want: map[model.RunnerID]model.LapRecord{
				"001": {DisplayLaps: 3, ActualLaps: 2},
				"002": {DisplayLaps: 1, ActualLaps: 1},
			},
		},
		{
			name:    "empty totals falls back to log",
			content: "Race Number,Lap Count\n\nRace Number,Lap Count,Timestamp\n007,1,2025-04-26 12:00:00\n",
			want:    map[model.RunnerID]model.LapRecord{"007": {DisplayLaps: 1, ActualLaps: 1}},
		},
		{
			name:    "nothing usable",
			content: "a;b;c\n\n\n",
			want:    map[model.RunnerID]model.LapRecord{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs := newTestStore(5)
			require.NoError(t, afero.WriteFile(fs, testFile, []byte(tt.content), 0o644))
			got, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_LastSeen(t *testing.T) {
	s, _ := newTestStore(2)
	require.NoError(t, s.AppendLogEntry(event("001", 1, 0)))
	require.NoError(t, s.AppendLogEntry(event("002", 1, 10)))
	require.NoError(t, s.AppendLogEntry(event("001", 2, 50)))
	got, err := s.LastSeen()
	require.NoError(t, err)
	assert.True(t, got["001"].Equal(t0.Add(50*time.Second)))
	assert.True(t, got["002"].Equal(t0.Add(10*time.Second)))
}

func TestDocument_Verify(t *testing.T) {
	content := strings.Join([]string{
		"Race Number,Lap Count,Actual Laps",
		"001,3,2",
		"002,1,1",
		"003,0,0",
		"", "", "", "", "",
		"Race Number,Lap Count,Timestamp",
		"001,2,2025-04-26 02:10:00",
		"001,3,2025-04-26 02:50:00",
		"002,1,2025-04-26 03:00:00",
		"004,1,2025-04-26 03:10:00",
	}, "\n")
	doc := ParseDocument([]byte(content), time.UTC)
	got := doc.Verify()
	assert.Equal(t, []Mismatch{
		{Runner: "004", Replayed: model.LapRecord{DisplayLaps: 1, ActualLaps: 1}},
	}, got)
}
