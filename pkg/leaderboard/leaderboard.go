package leaderboard

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

// DefaultRecent is the number of runners shown as most recent
const DefaultRecent = 5

type Row struct {
	Rank        int            `json:"rank"`
	Runner      model.RunnerID `json:"runner"`
	Name        string         `json:"name,omitempty"`
	DisplayLaps int            `json:"laps"`
	ActualLaps  int            `json:"actualLaps"`
}

type Board struct {
	Rows        []Row            `json:"rows"`
	TotalLaps   int              `json:"totalLaps"`
	TotalActual int              `json:"totalActualLaps"`
	DistanceKm  decimal.Decimal  `json:"distanceKm"`
	Recent      []model.RunnerID `json:"recent"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Rank orders the snapshot by display laps descending, ties by runner id.
// Equal lap counts share a rank.
func Rank(snap model.Snapshot) []Row {
	rows := lo.Map(snap.Entries, func(e model.SnapshotEntry, _ int) Row {
		return Row{Runner: e.Runner, DisplayLaps: e.DisplayLaps, ActualLaps: e.ActualLaps}
	})
	slices.SortStableFunc(rows, func(a, b Row) int {
		switch {
		case a.DisplayLaps != b.DisplayLaps:
			return b.DisplayLaps - a.DisplayLaps
		case a.Runner.Less(b.Runner):
			return -1
		case b.Runner.Less(a.Runner):
			return 1
		}
		return 0
	})
	for i := range rows {
		if i > 0 && rows[i].DisplayLaps == rows[i-1].DisplayLaps {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = i + 1
		}
	}
	return rows
}

// Totals sums display and actual laps
func Totals(snap model.Snapshot) model.LapRecord {
	return model.LapRecord{
		DisplayLaps: lo.SumBy(snap.Entries, func(e model.SnapshotEntry) int { return e.DisplayLaps }),
		ActualLaps:  lo.SumBy(snap.Entries, func(e model.SnapshotEntry) int { return e.ActualLaps }),
	}
}

// Distance is the covered distance in km for the given number of laps
func Distance(laps int, lapLengthKm decimal.Decimal) decimal.Decimal {
	return lapLengthKm.Mul(decimal.NewFromInt(int64(laps)))
}

// Tracker remembers the runners who completed a lap most recently.
// New laps are detected by comparing consecutive snapshots.
type Tracker struct {
	mutex    sync.Mutex
	capacity int
	previous map[model.RunnerID]int
	recent   []model.RunnerID
}

func NewTracker(capacity int) *Tracker {
	return &Tracker{capacity: max(capacity, 1), previous: map[model.RunnerID]int{}}
}

// Observe compares rows with the previous call. Each runner with more laps is moved
// to the front of the recent list, which is capped at the tracker capacity.
func (t *Tracker) Observe(rows []Row) []model.RunnerID {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, r := range rows {
		if r.DisplayLaps > t.previous[r.Runner] {
			t.recent = slices.Insert(t.recent, 0, r.Runner)
			if len(t.recent) > t.capacity {
				t.recent = t.recent[:t.capacity]
			}
		}
		t.previous[r.Runner] = r.DisplayLaps
	}
	return slices.Clone(t.recent)
}

func (t *Tracker) Recent() []model.RunnerID {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return slices.Clone(t.recent)
}

// Builder creates boards from snapshots and keeps the recent runner history
type Builder struct {
	tracker   *Tracker
	lapLength decimal.Decimal
	names     func(model.RunnerID) string
}

type Option func(b *Builder)

func WithLapLength(km decimal.Decimal) Option {
	return func(b *Builder) {
		b.lapLength = km
	}
}

// WithNames resolves display names, e.g. from a roster
func WithNames(f func(model.RunnerID) string) Option {
	return func(b *Builder) {
		b.names = f
	}
}

func WithRecent(n int) Option {
	return func(b *Builder) {
		b.tracker = NewTracker(n)
	}
}

func NewBuilder(opts ...Option) *Builder {
	ret := &Builder{
		tracker:   NewTracker(DefaultRecent),
		lapLength: decimal.NewFromInt(1),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (b *Builder) Build(snap model.Snapshot) Board {
	rows := Rank(snap)
	if b.names != nil {
		for i := range rows {
			rows[i].Name = b.names(rows[i].Runner)
		}
	}
	totals := Totals(snap)
	return Board{
		Rows:        rows,
		TotalLaps:   totals.DisplayLaps,
		TotalActual: totals.ActualLaps,
		DistanceKm:  Distance(totals.ActualLaps, b.lapLength),
		Recent:      b.tracker.Observe(rows),
		UpdatedAt:   snap.Timestamp,
	}
}
